package booking

import (
	"sort"

	"bookingagent/internal/catalog"
	"bookingagent/internal/otp"
)

// FieldOTP is used in rejections about confirmation codes.
const FieldOTP Field = "otp"

// PromptKind selects the reply template.
type PromptKind string

const (
	PromptWelcome      PromptKind = "welcome"
	PromptServiceMenu  PromptKind = "service_menu"
	PromptPackageMenu  PromptKind = "package_menu"
	PromptAskField     PromptKind = "ask_field"
	PromptReprompt     PromptKind = "reprompt"
	PromptSummary      PromptKind = "summary"
	PromptAskChange    PromptKind = "ask_change"
	PromptOTPSent      PromptKind = "otp_sent"
	PromptOTPResent    PromptKind = "otp_resent"
	PromptOTPWaiting   PromptKind = "otp_waiting"
	PromptOTPMismatch  PromptKind = "otp_mismatch"
	PromptOTPExhausted PromptKind = "otp_exhausted"
	PromptOTPExpired   PromptKind = "otp_expired"
	PromptCancelled    PromptKind = "cancelled"
	PromptCompleted    PromptKind = "completed"
)

// Directive tells the renderer what to say next.
type Directive struct {
	Kind   PromptKind
	Field  Field
	Reason string
}

// Effect is a side effect the orchestrator must carry out after a step.
type Effect int

const (
	EffectNone Effect = iota
	EffectSendOTP
	EffectCommitBooking
)

// Outcome is the result of one step.
type Outcome struct {
	Session    Session
	Directive  Directive
	Effect     Effect
	Progress   bool
	Digression bool
	Rejections []Rejection
}

// FSM advances booking sessions. Step is a pure function of the session and
// the input; it never performs I/O.
type FSM struct {
	catalog   catalog.Source
	checker   Checker
	threshold int
}

// NewFSM creates a state machine. threshold is the number of consecutive
// non-progress turns after which replies switch to fallback mode.
func NewFSM(src catalog.Source, checker Checker, threshold int) *FSM {
	if threshold <= 0 {
		threshold = 6
	}
	return &FSM{catalog: src, checker: checker, threshold: threshold}
}

// Threshold returns the off-track limit.
func (f *FSM) Threshold() int {
	return f.threshold
}

// Fallback reports whether replies for s are in fallback-primary mode.
func (f *FSM) Fallback(s Session) bool {
	return s.OffTrack >= f.threshold
}

// Prompt returns the directive that re-asks whatever s is waiting for.
func (f *FSM) Prompt(s Session) Directive {
	switch s.State {
	case StateSelectingService:
		return Directive{Kind: PromptServiceMenu}
	case StateSelectingPackage:
		return Directive{Kind: PromptPackageMenu}
	case StateCollectingDetails:
		if missing := s.Intent.Missing(); len(missing) > 0 {
			return Directive{Kind: PromptAskField, Field: missing[0]}
		}
		if s.LastAsked != "" {
			return Directive{Kind: PromptAskField, Field: s.LastAsked}
		}
		return Directive{Kind: PromptAskChange}
	case StateConfirming:
		return Directive{Kind: PromptSummary}
	case StateOTPSent:
		return Directive{Kind: PromptOTPWaiting}
	default:
		return Directive{Kind: PromptWelcome}
	}
}

// Step processes one message.
func (f *FSM) Step(s Session, in Input) Outcome {
	t := &turn{
		fsm: f,
		cat: f.catalog.Catalog(),
		s:   s.Clone(),
		in:  in,
	}
	if t.s.Intent == nil {
		t.s.Intent = Intent{}
	}

	switch {
	case in.Signals.Cancel:
		t.s.Reset()
		t.advance(Directive{Kind: PromptCancelled})
	case in.Signals.Restart:
		t.s.Reset()
		t.s.State = StateSelectingService
		t.advance(Directive{Kind: PromptServiceMenu})
	default:
		t.run()
	}
	return t.outcome()
}

type turn struct {
	fsm *FSM
	cat *catalog.Catalog
	s   Session
	in  Input

	directive    Directive
	effect       Effect
	progress     bool
	rejections   []Rejection
	selectionUse bool
}

// cascades lists the states a single message may fall through in one turn.
var cascades = map[State]bool{
	StateGreeting:          true,
	StateSelectingService:  true,
	StateSelectingPackage:  true,
	StateCollectingDetails: false,
}

func (t *turn) run() {
	for {
		from := t.s.State
		switch from {
		case StateGreeting:
			t.greeting()
		case StateSelectingService:
			t.selectService()
		case StateSelectingPackage:
			t.selectPackage()
		case StateCollectingDetails:
			t.collect()
		case StateConfirming:
			t.confirm()
		case StateOTPSent:
			t.verify()
		default:
			t.s.Reset()
			t.directive = Directive{Kind: PromptWelcome}
		}

		to := t.s.State
		if to == from || !cascades[from] || to == StateGreeting {
			return
		}
	}
}

func (t *turn) advance(d Directive) {
	t.directive = d
	t.progress = true
}

func (t *turn) reject(f Field, reason string) {
	for _, r := range t.rejections {
		if r.Field == f {
			return
		}
	}
	t.rejections = append(t.rejections, Rejection{Field: f, Reason: reason})
}

// takeSelection hands out the option number once per turn.
func (t *turn) takeSelection() int {
	if t.selectionUse || t.in.Selection <= 0 {
		return 0
	}
	t.selectionUse = true
	return t.in.Selection
}

// keywordsAllowed is false for pure questions ("how much is bridal?"), which
// go to the knowledge base instead of binding a choice.
func (t *turn) keywordsAllowed() bool {
	return !t.in.Signals.Question || t.in.Signals.BookingIntent
}

func (t *turn) greeting() {
	if t.keywordsAllowed() {
		if svc, ok := t.cat.MatchService(t.in.Text); ok {
			t.bindService(svc)
			return
		}
	}
	// No menu has been shown yet, so a bare option number only opens it.
	if t.in.Signals.BookingIntent || t.takeSelection() > 0 {
		t.s.State = StateSelectingService
		t.advance(Directive{Kind: PromptServiceMenu})
		return
	}
	if t.in.Signals.Greeting && !t.in.Signals.Question {
		t.advance(Directive{Kind: PromptWelcome})
		return
	}
	t.directive = Directive{Kind: PromptWelcome}
}

func (t *turn) selectService() {
	if n := t.takeSelection(); n > 0 {
		svc, ok := t.cat.Service(n)
		if !ok {
			t.reject(FieldService, ReasonOptionOutOfRange)
			t.directive = Directive{Kind: PromptReprompt, Field: FieldService, Reason: ReasonOptionOutOfRange}
			return
		}
		t.bindService(svc)
		return
	}
	if t.keywordsAllowed() {
		if svc, ok := t.cat.MatchService(t.in.Text); ok {
			t.bindService(svc)
			return
		}
	}
	t.directive = Directive{Kind: PromptServiceMenu}
}

func (t *turn) bindService(svc catalog.Service) {
	t.s.Intent[FieldService] = svc.Name
	delete(t.s.Intent, FieldPackage)
	t.s.State = StateSelectingPackage
	t.advance(Directive{Kind: PromptPackageMenu})
}

func (t *turn) selectPackage() {
	svc, ok := t.cat.ServiceByName(t.s.Intent.Get(FieldService))
	if !ok {
		delete(t.s.Intent, FieldService)
		t.s.State = StateSelectingService
		t.directive = Directive{Kind: PromptServiceMenu}
		return
	}

	if n := t.takeSelection(); n > 0 {
		p, ok := svc.Package(n)
		if !ok {
			t.reject(FieldPackage, ReasonOptionOutOfRange)
			t.directive = Directive{Kind: PromptReprompt, Field: FieldPackage, Reason: ReasonOptionOutOfRange}
			return
		}
		t.bindPackage(p)
		return
	}
	if t.keywordsAllowed() {
		if p, ok := svc.MatchPackage(t.in.Text); ok {
			t.bindPackage(p)
			return
		}
		if other, ok := t.cat.MatchService(t.in.Text); ok && other.Name != svc.Name {
			t.bindService(other)
			return
		}
	}
	t.directive = Directive{Kind: PromptPackageMenu}
}

func (t *turn) bindPackage(p catalog.Package) {
	t.s.Intent[FieldPackage] = p.Name
	t.s.State = StateCollectingDetails
	t.s.LastAsked = ""
	t.progress = true
}

func (t *turn) collect() {
	accepted := t.applyCandidates()
	if accepted > 0 {
		t.progress = true
	}

	if accepted == 0 && t.in.Change != "" {
		t.s.LastAsked = t.in.Change
		t.advance(Directive{Kind: PromptAskField, Field: t.in.Change})
		return
	}

	t.askNext()
}

// askNext reprompts the first rejected field, else asks for the next missing
// one, else moves to confirmation.
func (t *turn) askNext() {
	if len(t.rejections) > 0 {
		r := t.rejections[0]
		t.s.LastAsked = r.Field
		t.directive = Directive{Kind: PromptReprompt, Field: r.Field, Reason: r.Reason}
		return
	}

	missing := t.s.Intent.Missing()
	if len(missing) == 0 {
		t.s.State = StateConfirming
		t.s.LastAsked = ""
		t.directive = Directive{Kind: PromptSummary}
		return
	}
	t.s.LastAsked = missing[0]
	t.directive = Directive{Kind: PromptAskField, Field: missing[0]}
}

func (t *turn) confirm() {
	if !t.s.Intent.Complete() {
		t.s.State = StateCollectingDetails
		t.collect()
		return
	}

	accepted := t.applyCandidates()
	if !t.s.Intent.Complete() {
		t.s.State = StateCollectingDetails
		t.progress = accepted > 0
		t.askNext()
		return
	}
	if accepted > 0 {
		t.advance(Directive{Kind: PromptSummary})
		return
	}
	if len(t.rejections) > 0 {
		r := t.rejections[0]
		t.directive = Directive{Kind: PromptReprompt, Field: r.Field, Reason: r.Reason}
		return
	}

	switch {
	case t.in.Change != "":
		t.s.State = StateCollectingDetails
		t.s.LastAsked = t.in.Change
		t.advance(Directive{Kind: PromptAskField, Field: t.in.Change})
	case t.in.Signals.Reject:
		t.s.State = StateCollectingDetails
		t.s.LastAsked = ""
		t.advance(Directive{Kind: PromptAskChange})
	case t.in.Signals.Confirm && !t.in.Signals.Question:
		t.s.State = StateOTPSent
		t.effect = EffectSendOTP
		t.advance(Directive{Kind: PromptOTPSent})
	case t.in.Code != "":
		t.reject(FieldOTP, ReasonNoActiveCode)
		t.directive = Directive{Kind: PromptReprompt, Field: FieldOTP, Reason: ReasonNoActiveCode}
	default:
		t.directive = Directive{Kind: PromptSummary}
	}
}

func (t *turn) verify() {
	if t.s.Pending == nil {
		t.s.State = StateConfirming
		t.directive = Directive{Kind: PromptSummary}
		return
	}

	if t.in.Signals.Resend {
		t.effect = EffectSendOTP
		t.advance(Directive{Kind: PromptOTPResent})
		return
	}
	if t.in.Code == "" {
		t.directive = Directive{Kind: PromptOTPWaiting}
		return
	}

	switch t.s.Pending.Verify(t.in.Code, t.in.Now) {
	case otp.ResultMatch:
		t.s.State = StateCompleted
		t.effect = EffectCommitBooking
		t.advance(Directive{Kind: PromptCompleted})
	case otp.ResultMismatch:
		t.advance(Directive{Kind: PromptOTPMismatch})
	case otp.ResultExhausted:
		t.s.Pending = nil
		t.s.State = StateConfirming
		t.advance(Directive{Kind: PromptOTPExhausted})
	case otp.ResultExpired:
		t.s.Pending = nil
		t.s.State = StateConfirming
		t.advance(Directive{Kind: PromptOTPExpired})
	}
}

// applyOrder validates country and phone before pincode so a pincode sent in
// the same message as its country is checked against that country.
var applyOrder = map[Field]int{
	FieldServiceCountry: 0,
	FieldPhone:          1,
	FieldPincode:        3,
}

func rank(f Field) int {
	if r, ok := applyOrder[f]; ok {
		return r
	}
	return 2
}

// applyCandidates validates and stores admissible candidates and returns
// how many were accepted.
func (t *turn) applyCandidates() int {
	candidates := append([]Candidate(nil), t.in.Candidates...)
	sort.SliceStable(candidates, func(i, j int) bool {
		return rank(candidates[i].Field) < rank(candidates[j].Field)
	})

	seen := make(map[Field]bool)
	stored := make(map[Field]bool)
	for _, c := range candidates {
		if seen[c.Field] || !t.admissible(c) {
			continue
		}
		seen[c.Field] = true

		v := t.fsm.checker.Check(c, t.s.Intent, t.in.Now)
		if !v.OK {
			t.reject(c.Field, v.Reason)
			continue
		}
		t.s.Intent[c.Field] = v.Value
		for k, d := range v.Derived {
			t.s.Intent[k] = d
		}
		stored[c.Field] = true
	}

	if stored[FieldServiceCountry] && !stored[FieldPincode] {
		t.recheckPincode()
	}
	return len(stored)
}

// recheckPincode drops a stored pincode that does not fit a newly accepted
// service country.
func (t *turn) recheckPincode() {
	code := t.s.Intent.Get(FieldPincode)
	if code == "" {
		return
	}
	v := t.fsm.checker.Check(Candidate{Field: FieldPincode, Value: code, Confidence: ConfidenceHigh}, t.s.Intent, t.in.Now)
	if v.OK {
		return
	}
	delete(t.s.Intent, FieldPincode)
	t.reject(FieldPincode, v.Reason)
}

// admissible applies the overwrite policy: an accepted field is replaced
// only by a high-confidence value or by the answer to a question that asked
// for that field; low-confidence text only fills the field being asked.
func (t *turn) admissible(c Candidate) bool {
	switch c.Field {
	case FieldService, FieldPackage, FieldPhoneCountry:
		return false
	}
	asked := c.Field == t.s.LastAsked
	if c.Confidence == ConfidenceLow && t.in.Signals.Question {
		return false
	}
	switch {
	case c.Confidence >= ConfidenceHigh:
		return true
	case asked:
		return true
	case t.s.Intent.Has(c.Field):
		return false
	case c.Confidence == ConfidenceLow:
		return false
	default:
		return true
	}
}

func (t *turn) outcome() Outcome {
	if t.progress {
		t.s.OffTrack = 0
	} else {
		t.s.OffTrack++
	}
	return Outcome{
		Session:    t.s,
		Directive:  t.directive,
		Effect:     t.effect,
		Progress:   t.progress,
		Digression: !t.progress && len(t.rejections) == 0,
		Rejections: t.rejections,
	}
}
