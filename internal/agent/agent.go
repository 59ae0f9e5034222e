// Package agent runs chat turns: it loads the session, drives the booking
// state machine and carries out the side effects a step asks for.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bookingagent/internal/booking"
	"bookingagent/internal/catalog"
	"bookingagent/internal/database"
	"bookingagent/internal/events"
	"bookingagent/internal/extract"
	"bookingagent/internal/knowledge"
	"bookingagent/internal/metrics"
	"bookingagent/internal/otp"
	"bookingagent/internal/session"
	"bookingagent/internal/validate"
)

var (
	// ErrInvalidRequest is returned for empty or oversized messages and
	// unsupported languages.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrCollaborator is a retryable failure of OTP delivery or booking
	// persistence. The session is left where the retry can pick it up.
	ErrCollaborator = errors.New("collaborator unavailable")
)

// Reply actions.
const (
	ActionContinue         = "continue"
	ActionSendOTP          = "send_otp"
	ActionBookingConfirmed = "booking_confirmed"
)

// Reply modes.
const (
	ModeTask     = "task"
	ModeFallback = "fallback"
)

// TurnRequest is one inbound message.
type TurnRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Language  string `json:"language"`
}

// Reply is the envelope returned for a turn.
type Reply struct {
	Reply         string            `json:"reply"`
	SessionID     string            `json:"session_id"`
	Stage         booking.State     `json:"stage"`
	Action        string            `json:"action"`
	Mode          string            `json:"mode"`
	MissingFields []booking.Field   `json:"missing_fields"`
	CollectedInfo map[string]string `json:"collected_info"`
	BookingID     string            `json:"booking_id,omitempty"`
	OffTrackCount int               `json:"off_track_count"`
}

// BookingSaver persists a confirmed booking and returns its ID. Saving the
// same verified code again must return the existing ID with created false.
type BookingSaver interface {
	SaveBooking(ctx context.Context, s booking.Session, source string) (id string, created bool, err error)
}

// Publisher publishes domain events.
type Publisher interface {
	Publish(events.Event) error
}

// Deps are the collaborators of an Orchestrator. Knowledge and Events may be nil.
type Deps struct {
	Store      session.Store
	Locker     session.Locker
	Catalog    catalog.Source
	Dispatcher otp.Dispatcher
	Saver      BookingSaver
	Knowledge  knowledge.Answerer
	Events     Publisher
	Logger     *zerolog.Logger
}

// Orchestrator handles chat turns.
type Orchestrator struct {
	store      session.Store
	locker     session.Locker
	catalog    catalog.Source
	fsm        *booking.FSM
	render     *booking.Renderer
	extract    *extract.Set
	issuer     *otp.Issuer
	dispatcher otp.Dispatcher
	saver      BookingSaver
	kb         knowledge.Answerer
	bus        Publisher
	logger     *zerolog.Logger

	now          func() time.Time
	timeout      time.Duration
	lockWait     time.Duration
	ttl          time.Duration
	historyLimit int
	maxLen       int
	threshold    int
	otpExpiry    time.Duration
	otpAttempts  int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithTimeout bounds each collaborator call. Values under 3s are raised to 3s.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithLockWait bounds how long a turn waits for another turn on the same
// session to finish.
func WithLockWait(d time.Duration) Option {
	return func(o *Orchestrator) { o.lockWait = d }
}

// WithSessionTTL sets the idle time after which a session counts as new.
func WithSessionTTL(d time.Duration) Option {
	return func(o *Orchestrator) { o.ttl = d }
}

// WithHistoryLimit sets how many messages a session remembers.
func WithHistoryLimit(n int) Option {
	return func(o *Orchestrator) { o.historyLimit = n }
}

// WithMaxMessageLength sets the longest accepted message in characters.
func WithMaxMessageLength(n int) Option {
	return func(o *Orchestrator) { o.maxLen = n }
}

// WithOffTrackThreshold sets how many non-progress turns switch replies to fallback mode.
func WithOffTrackThreshold(n int) Option {
	return func(o *Orchestrator) { o.threshold = n }
}

// WithOTP sets code lifetime and attempts.
func WithOTP(expiry time.Duration, maxAttempts int) Option {
	return func(o *Orchestrator) {
		o.otpExpiry = expiry
		o.otpAttempts = maxAttempts
	}
}

// New creates an Orchestrator.
func New(d Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:        d.Store,
		locker:       d.Locker,
		catalog:      d.Catalog,
		dispatcher:   d.Dispatcher,
		saver:        d.Saver,
		kb:           d.Knowledge,
		bus:          d.Events,
		logger:       d.Logger,
		extract:      extract.NewSet(),
		render:       booking.NewRenderer(d.Catalog),
		now:          time.Now,
		timeout:      10 * time.Second,
		lockWait:     15 * time.Second,
		ttl:          session.DefaultTTL,
		historyLimit: 20,
		maxLen:       1000,
		threshold:    6,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.timeout < 3*time.Second {
		o.timeout = 3 * time.Second
	}
	if o.locker == nil {
		o.locker = session.NewKeyedMutex()
	}
	if o.logger == nil {
		nop := zerolog.Nop()
		o.logger = &nop
	}
	o.fsm = booking.NewFSM(d.Catalog, validate.NewSet(d.Catalog), o.threshold)
	o.issuer = otp.NewIssuer(o.otpExpiry, o.otpAttempts)
	return o
}

// HandleTurn processes one message.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) (Reply, error) {
	start := o.now()
	defer func() { metrics.ObserveTurn(o.now().Sub(start)) }()

	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return Reply{}, fmt.Errorf("%w: message is empty", ErrInvalidRequest)
	}
	if utf8.RuneCountInString(msg) > o.maxLen {
		return Reply{}, fmt.Errorf("%w: message longer than %d characters", ErrInvalidRequest, o.maxLen)
	}
	lang, ok := booking.ParseLanguage(req.Language)
	if !ok {
		return Reply{}, fmt.Errorf("%w: unsupported language %q", ErrInvalidRequest, req.Language)
	}

	lockID := req.SessionID
	if lockID == "" {
		lockID = uuid.NewString()
	}
	lockCtx, cancelLock := context.WithTimeout(ctx, o.lockWait)
	unlock, err := o.locker.Lock(lockCtx, lockID)
	cancelLock()
	if err != nil {
		return Reply{}, fmt.Errorf("lock session: %w", err)
	}
	defer unlock()

	s, err := o.load(ctx, req.SessionID, lang, start)
	if err != nil {
		return Reply{}, err
	}
	s.Language = lang

	t := &turnState{msg: msg, now: start, prev: s.Clone()}
	in := o.extract.Input(msg, extract.Context{Asked: s.LastAsked, Catalog: o.catalog.Catalog()}, start)
	out := o.fsm.Step(s, in)
	t.out = out
	t.next = out.Session
	t.text = o.render.Render(out.Directive, t.next)
	t.action = ActionContinue
	t.mode = ModeTask
	t.stage = t.next.State

	o.recordDirective(out.Directive)

	switch out.Effect {
	case booking.EffectSendOTP:
		if err := o.sendOTP(ctx, t); err != nil {
			return o.fail(ctx, t, "send_failed", err)
		}
	case booking.EffectCommitBooking:
		if err := o.commit(ctx, t); err != nil {
			return o.fail(ctx, t, "save_failed", err)
		}
	}

	if !out.Progress {
		o.offTrack(ctx, t)
	}

	return o.finish(ctx, t)
}

// turnState carries one turn through its side effects.
type turnState struct {
	msg       string
	now       time.Time
	prev      booking.Session
	next      booking.Session
	out       booking.Outcome
	text      string
	action    string
	mode      string
	stage     booking.State
	bookingID string
}

// load returns the session for id, or a fresh one when id is empty, unknown
// or idle past the TTL.
func (o *Orchestrator) load(ctx context.Context, id string, lang booking.Language, now time.Time) (booking.Session, error) {
	if id != "" {
		s, err := o.store.Get(ctx, id)
		switch {
		case err == nil && !s.IsExpired(o.ttl, now):
			return s, nil
		case err == nil, errors.Is(err, session.ErrNotFound):
		default:
			return booking.Session{}, fmt.Errorf("load session: %w", err)
		}
	}

	s, err := session.Create(ctx, o.store, lang, now)
	if err != nil {
		return booking.Session{}, fmt.Errorf("create session: %w", err)
	}
	o.publish(events.TypeSessionCreated, events.SessionCreated{SessionID: s.ID, Language: string(lang)})
	o.logger.Info().Str("session_id", s.ID).Str("lang", string(lang)).Msg("Session created")
	return s, nil
}

func (o *Orchestrator) sendOTP(ctx context.Context, t *turnState) error {
	phone := t.next.Intent.Get(booking.FieldPhone)
	pending, err := o.issuer.Issue(phone, t.now)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	if err := o.dispatcher.Dispatch(cctx, phone, pending.Code, string(t.next.Language)); err != nil {
		metrics.IncOTP("send_failed")
		return fmt.Errorf("dispatch otp: %w", err)
	}

	resend := t.prev.State == booking.StateOTPSent
	t.next.Pending = pending
	t.action = ActionSendOTP
	metrics.IncOTP("sent")
	o.publish(events.TypeOTPDispatched, events.OTPDispatched{
		SessionID: t.next.ID,
		Phone:     booking.MaskPhone(phone),
		Resend:    resend,
	})
	return nil
}

func (o *Orchestrator) commit(ctx context.Context, t *turnState) error {
	cctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	id, created, err := o.saver.SaveBooking(cctx, t.next, database.SourceAgentChat)
	if err != nil {
		metrics.IncBooking("failed")
		return fmt.Errorf("save booking: %w", err)
	}

	if created {
		metrics.IncBooking("confirmed")
		o.publish(events.TypeBookingConfirmed, events.BookingConfirmed{
			SessionID: t.next.ID,
			BookingID: id,
			Service:   t.next.Intent.Get(booking.FieldService),
			Package:   t.next.Intent.Get(booking.FieldPackage),
		})
		o.logger.Info().Str("session_id", t.next.ID).Str("booking_id", id).Msg("Booking confirmed")
	} else {
		o.logger.Info().Str("session_id", t.next.ID).Str("booking_id", id).Msg("Booking already stored for this code")
	}

	t.bookingID = id
	t.text = o.render.BookingConfirmed(t.next.Language, id)
	t.action = ActionBookingConfirmed
	t.stage = booking.StateCompleted
	t.next.Reset()
	return nil
}

// fail keeps the session as it was before the turn, records the message and
// returns the retry prompt together with ErrCollaborator.
func (o *Orchestrator) fail(ctx context.Context, t *turnState, key string, cause error) (Reply, error) {
	o.logger.Error().Err(cause).Str("session_id", t.prev.ID).Str("stage", string(t.prev.State)).Msg("Collaborator failed")

	t.next = t.prev
	t.text = o.render.Text(t.prev.Language, key)
	t.action = ActionContinue
	t.mode = ModeTask
	t.stage = t.prev.State
	t.bookingID = ""
	reply, err := o.finish(ctx, t)
	if err != nil {
		return reply, err
	}
	return reply, fmt.Errorf("%w: %v", ErrCollaborator, cause)
}

// offTrack handles a turn that made no progress. A digression gets a
// knowledge base answer ahead of the pending prompt, a rejection keeps its
// reprompt. Once the counter reaches the threshold the answer replaces the
// prompt for both.
func (o *Orchestrator) offTrack(ctx context.Context, t *turnState) {
	fallback := o.fsm.Fallback(t.next)
	switch {
	case fallback:
		t.mode = ModeFallback
		t.text = o.answer(ctx, t)
	case t.out.Digression:
		t.text = o.answer(ctx, t) + "\n\n" + t.text
	}
	if t.next.OffTrack == o.fsm.Threshold() {
		o.publish(events.TypeTurnOffTrack, events.TurnOffTrack{
			SessionID: t.next.ID,
			Stage:     string(t.next.State),
			Count:     t.next.OffTrack,
		})
	}
}

func (o *Orchestrator) answer(ctx context.Context, t *turnState) string {
	fallback := o.render.Text(t.next.Language, "fallback_answer")
	if o.kb == nil {
		metrics.IncKnowledge("disabled")
		return fallback
	}

	cctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	answer, err := o.kb.Answer(cctx, knowledge.Query{
		Question: t.msg,
		Language: t.next.Language,
		Stage:    string(t.next.State),
		History:  t.prev.History,
	})
	switch {
	case errors.Is(err, knowledge.ErrNoAnswer):
		metrics.IncKnowledge("no_answer")
		return fallback
	case err != nil:
		metrics.IncKnowledge("failed")
		o.logger.Warn().Err(err).Str("session_id", t.next.ID).Msg("Knowledge base unavailable")
		return fallback
	}
	metrics.IncKnowledge("answered")
	return answer
}

// finish records the exchange, saves the session and builds the reply.
func (o *Orchestrator) finish(ctx context.Context, t *turnState) (Reply, error) {
	s := t.next
	s.UpdatedAt = t.now
	s.Remember(booking.RoleUser, t.msg, t.now, o.historyLimit)
	s.Remember(booking.RoleAgent, t.text, t.now, o.historyLimit)
	if err := o.store.Save(ctx, s); err != nil {
		return Reply{}, fmt.Errorf("save session: %w", err)
	}

	metrics.IncTurn(string(t.stage))
	o.logger.Debug().
		Str("session_id", s.ID).
		Str("stage", string(t.stage)).
		Str("action", t.action).
		Int("off_track", s.OffTrack).
		Msg("Turn handled")

	missing := s.Intent.Missing()
	if missing == nil {
		missing = []booking.Field{}
	}
	return Reply{
		Reply:         t.text,
		SessionID:     s.ID,
		Stage:         t.stage,
		Action:        t.action,
		Mode:          t.mode,
		MissingFields: missing,
		CollectedInfo: s.Intent.Collected(),
		BookingID:     t.bookingID,
		OffTrackCount: s.OffTrack,
	}, nil
}

func (o *Orchestrator) recordDirective(d booking.Directive) {
	switch d.Kind {
	case booking.PromptOTPMismatch:
		metrics.IncOTP("mismatch")
	case booking.PromptOTPExhausted:
		metrics.IncOTP("exhausted")
	case booking.PromptOTPExpired:
		metrics.IncOTP("expired")
	case booking.PromptCompleted:
		metrics.IncOTP("match")
	}
}

func (o *Orchestrator) publish(eventType string, payload any) {
	if o.bus == nil {
		return
	}
	e, err := events.New(eventType, payload)
	if err == nil {
		err = o.bus.Publish(e)
	}
	if err != nil {
		o.logger.Warn().Err(err).Str("event", eventType).Msg("Event publish failed")
	}
}
