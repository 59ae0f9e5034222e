package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bookingagent/internal/booking"
	"bookingagent/internal/catalog"
	"bookingagent/internal/database"
	"bookingagent/internal/events"
	"bookingagent/internal/knowledge"
	"bookingagent/internal/session"
)

type fakeDispatcher struct {
	mu    sync.Mutex
	codes []string
	err   error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, phone, code, lang string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.codes = append(d.codes, code)
	return nil
}

func (d *fakeDispatcher) last() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.codes) == 0 {
		return ""
	}
	return d.codes[len(d.codes)-1]
}

type mockSaver struct {
	mock.Mock
}

func (m *mockSaver) SaveBooking(ctx context.Context, s booking.Session, source string) (string, bool, error) {
	args := m.Called(ctx, s, source)
	return args.String(0), args.Bool(1), args.Error(2)
}

type answerFunc func(ctx context.Context, q knowledge.Query) (string, error)

func (f answerFunc) Answer(ctx context.Context, q knowledge.Query) (string, error) {
	return f(ctx, q)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	t          *testing.T
	orch       *Orchestrator
	store      *session.MemoryStore
	dispatcher *fakeDispatcher
	saver      *mockSaver
	clock      *clock
	bus        *events.EventBus
	kb         knowledge.Answerer
	mu         sync.Mutex
	published  []string
	sessionID  string
}

const instagramAnswer = "Follow us on Instagram at @chiragsharma_makeup."

func newHarness(t *testing.T) *harness {
	h := &harness{
		t:          t,
		dispatcher: &fakeDispatcher{},
		saver:      &mockSaver{},
		clock:      &clock{t: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)},
	}
	h.store = session.NewMemoryStore(2*time.Hour, session.WithClock(h.clock.now))

	h.bus = events.NewEventBus()
	h.bus.SubscribeAll(func(e events.Event) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.published = append(h.published, e.Type)
		return nil
	})

	h.kb = answerFunc(func(_ context.Context, q knowledge.Query) (string, error) {
		if strings.Contains(strings.ToLower(q.Question), "instagram") {
			return instagramAnswer, nil
		}
		return "", knowledge.ErrNoAnswer
	})

	h.build(h.store, h.saver)
	return h
}

// build wires the orchestrator over store and saver.
func (h *harness) build(store session.Store, saver BookingSaver) {
	h.orch = New(Deps{
		Store:      store,
		Locker:     session.NewKeyedMutex(),
		Catalog:    catalog.NewStore(catalog.Default()),
		Dispatcher: h.dispatcher,
		Saver:      saver,
		Knowledge:  h.kb,
		Events:     h.bus,
	}, WithClock(h.clock.now))
}

func (h *harness) count(eventType string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.published {
		if e == eventType {
			n++
		}
	}
	return n
}

func (h *harness) send(text string) (Reply, error) {
	h.t.Helper()
	r, err := h.orch.HandleTurn(context.Background(), TurnRequest{Message: text, SessionID: h.sessionID, Language: "en"})
	if r.SessionID != "" {
		h.sessionID = r.SessionID
	}
	return r, err
}

func (h *harness) mustSend(text string) Reply {
	h.t.Helper()
	r, err := h.send(text)
	require.NoError(h.t, err, text)
	return r
}

func (h *harness) stored() booking.Session {
	h.t.Helper()
	s, err := h.store.Get(context.Background(), h.sessionID)
	require.NoError(h.t, err)
	return s
}

func (h *harness) toConfirming() {
	h.t.Helper()
	for _, msg := range []string{
		"I want bridal makeup", "1", "Priya Sharma", "priya@example.com", "+977-9876543210",
		"Thamel, Kathmandu", "44600", "Nepal", "December 25, 2024",
	} {
		h.mustSend(msg)
	}
	require.Equal(h.t, booking.StateConfirming, h.stored().State)
}

// wrongCode returns a 6-digit code different from code.
func wrongCode(code string, i int) string {
	n, _ := strconv.Atoi(code)
	return fmt.Sprintf("%06d", (n+i)%1000000)
}

func TestBridalScenario(t *testing.T) {
	h := newHarness(t)
	h.saver.On("SaveBooking", mock.Anything, mock.Anything, database.SourceAgentChat).Return("BK-1A2B3C4D", true, nil).Once()

	r := h.mustSend("I want bridal makeup")
	assert.NotEmpty(t, r.SessionID)
	assert.Equal(t, booking.StateSelectingPackage, r.Stage)
	assert.Contains(t, r.Reply, "Chirag's Signature Bridal Makeup")

	r = h.mustSend("1")
	assert.Equal(t, booking.StateCollectingDetails, r.Stage)
	assert.Equal(t, "Chirag's Signature Bridal Makeup", r.CollectedInfo["package"])
	assert.Equal(t, booking.FieldName, r.MissingFields[0])

	for _, msg := range []string{"Priya Sharma", "priya@example.com", "+977-9876543210", "Thamel, Kathmandu", "44600", "Nepal"} {
		r = h.mustSend(msg)
		assert.Equal(t, booking.StateCollectingDetails, r.Stage, msg)
		assert.Zero(t, r.OffTrackCount, msg)
	}
	assert.Equal(t, []booking.Field{booking.FieldEventDate}, r.MissingFields)
	assert.Equal(t, "+977*******210", r.CollectedInfo["phone"])

	r = h.mustSend("December 25, 2024")
	assert.Equal(t, booking.StateConfirming, r.Stage)
	assert.Empty(t, r.MissingFields)
	assert.Contains(t, r.Reply, "2024-12-25")

	r = h.mustSend("yes")
	assert.Equal(t, booking.StateOTPSent, r.Stage)
	assert.Equal(t, ActionSendOTP, r.Action)
	code := h.dispatcher.last()
	require.Len(t, code, 6)
	assert.NotContains(t, r.Reply, code)

	r = h.mustSend(code)
	assert.Equal(t, booking.StateCompleted, r.Stage)
	assert.Equal(t, ActionBookingConfirmed, r.Action)
	assert.Equal(t, "BK-1A2B3C4D", r.BookingID)
	assert.Contains(t, r.Reply, "BK-1A2B3C4D")
	assert.Empty(t, r.CollectedInfo)

	s := h.stored()
	assert.Equal(t, booking.StateGreeting, s.State)
	assert.Empty(t, s.Intent)
	assert.Nil(t, s.Pending)

	h.saver.AssertExpectations(t)
	saved := h.saver.Calls[0].Arguments.Get(1).(booking.Session)
	assert.Equal(t, "Priya Sharma", saved.Intent.Get(booking.FieldName))
	assert.Equal(t, "2024-12-25", saved.Intent.Get(booking.FieldEventDate))

	assert.Equal(t, []string{events.TypeSessionCreated, events.TypeOTPDispatched, events.TypeBookingConfirmed}, h.published)
}

func TestDigressionKeepsMissingFields(t *testing.T) {
	h := newHarness(t)
	h.mustSend("I want bridal makeup")
	h.mustSend("1")
	before := h.mustSend("Priya Sharma")

	r := h.mustSend("What is your Instagram?")
	assert.Equal(t, before.MissingFields, r.MissingFields)
	assert.Equal(t, before.CollectedInfo, r.CollectedInfo)
	assert.Equal(t, booking.StateCollectingDetails, r.Stage)
	assert.Equal(t, 1, r.OffTrackCount)
	assert.Equal(t, ModeTask, r.Mode)
	assert.True(t, strings.HasPrefix(r.Reply, instagramAnswer))
	assert.Contains(t, r.Reply, "email")
}

func TestUnansweredDigressionUsesFallbackPhrase(t *testing.T) {
	h := newHarness(t)
	h.mustSend("I want bridal makeup")
	h.mustSend("1")

	r := h.mustSend("Do you like cats?")
	assert.Equal(t, 1, r.OffTrackCount)
	assert.Contains(t, r.Reply, "can't answer that")
}

func TestOffTrackSwitchesToFallbackMode(t *testing.T) {
	h := newHarness(t)
	h.mustSend("I want bridal makeup")
	h.mustSend("1")
	h.mustSend("Priya Sharma")

	var r Reply
	for i := 1; i <= 6; i++ {
		r = h.mustSend("What is your Instagram?")
		assert.Equal(t, i, r.OffTrackCount)
	}
	assert.Equal(t, ModeFallback, r.Mode)
	assert.Equal(t, instagramAnswer, r.Reply)
	assert.Equal(t, "Priya Sharma", r.CollectedInfo["name"])
	assert.Contains(t, h.published, events.TypeTurnOffTrack)

	r = h.mustSend("priya@example.com")
	assert.Equal(t, ModeTask, r.Mode)
	assert.Zero(t, r.OffTrackCount)
	assert.Equal(t, "Priya Sharma", r.CollectedInfo["name"])
	assert.Equal(t, "priya@example.com", r.CollectedInfo["email"])
}

func TestRejectedValueRepromptsIdentically(t *testing.T) {
	h := newHarness(t)
	h.mustSend("I want bridal makeup")
	h.mustSend("1")
	h.mustSend("Priya Sharma")
	h.mustSend("priya@example.com")

	first := h.mustSend("9876543210")
	second := h.mustSend("9876543210")
	assert.Equal(t, first.Reply, second.Reply)
	assert.Equal(t, first.MissingFields, second.MissingFields)
	assert.Equal(t, first.CollectedInfo, second.CollectedInfo)
	assert.Equal(t, booking.StateCollectingDetails, second.Stage)
	assert.NotContains(t, second.CollectedInfo, "phone")
}

func TestRepeatedRejectionsSwitchToFallbackMode(t *testing.T) {
	h := newHarness(t)
	h.mustSend("I want bridal makeup")
	h.mustSend("1")
	h.mustSend("Priya Sharma")
	h.mustSend("priya@example.com")

	var r Reply
	for i := 1; i <= 5; i++ {
		r = h.mustSend("9876543210")
		assert.Equal(t, i, r.OffTrackCount)
		assert.Equal(t, ModeTask, r.Mode)
	}
	reprompt := r.Reply
	assert.Zero(t, h.count(events.TypeTurnOffTrack))

	r = h.mustSend("9876543210")
	assert.Equal(t, 6, r.OffTrackCount)
	assert.Equal(t, ModeFallback, r.Mode)
	assert.Contains(t, r.Reply, "can't answer that")
	assert.NotEqual(t, reprompt, r.Reply)
	assert.Equal(t, []booking.Field{booking.FieldPhone, booking.FieldAddress, booking.FieldPincode, booking.FieldServiceCountry, booking.FieldEventDate}, r.MissingFields)
	assert.Equal(t, 1, h.count(events.TypeTurnOffTrack))

	r = h.mustSend("9876543210")
	assert.Equal(t, 7, r.OffTrackCount)
	assert.Equal(t, ModeFallback, r.Mode)
	assert.Equal(t, 1, h.count(events.TypeTurnOffTrack))

	r = h.mustSend("+977-9876543210")
	assert.Equal(t, ModeTask, r.Mode)
	assert.Zero(t, r.OffTrackCount)
	assert.Equal(t, "Priya Sharma", r.CollectedInfo["name"])
	assert.NotEmpty(t, r.CollectedInfo["phone"])
}

func TestOTPExhaustionRequiresNewDispatch(t *testing.T) {
	h := newHarness(t)
	h.toConfirming()
	h.mustSend("yes")
	code := h.dispatcher.last()

	for i := 1; i <= 3; i++ {
		h.mustSend(wrongCode(code, i))
	}
	assert.Equal(t, booking.StateConfirming, h.stored().State)
	assert.Nil(t, h.stored().Pending)

	r := h.mustSend(code)
	assert.Equal(t, booking.StateConfirming, r.Stage)
	assert.Empty(t, r.BookingID)
	h.saver.AssertNotCalled(t, "SaveBooking", mock.Anything, mock.Anything, mock.Anything)

	r = h.mustSend("yes")
	assert.Equal(t, ActionSendOTP, r.Action)
	assert.Len(t, h.dispatcher.codes, 2)
}

func TestOTPDispatchFailureIsRetryable(t *testing.T) {
	h := newHarness(t)
	h.toConfirming()

	h.dispatcher.err = errors.New("gateway down")
	r, err := h.send("yes")
	assert.ErrorIs(t, err, ErrCollaborator)
	assert.Equal(t, booking.StateConfirming, r.Stage)
	assert.Equal(t, ActionContinue, r.Action)
	assert.Equal(t, booking.StateConfirming, h.stored().State)
	assert.Nil(t, h.stored().Pending)
	assert.True(t, h.stored().Intent.Complete())

	h.dispatcher.err = nil
	r = h.mustSend("yes")
	assert.Equal(t, booking.StateOTPSent, r.Stage)
	assert.NotNil(t, h.stored().Pending)
}

func TestBookingSaveFailureKeepsPendingCode(t *testing.T) {
	h := newHarness(t)
	h.saver.On("SaveBooking", mock.Anything, mock.Anything, database.SourceAgentChat).Return("", false, errors.New("database is locked")).Once()
	h.saver.On("SaveBooking", mock.Anything, mock.Anything, database.SourceAgentChat).Return("BK-00000001", true, nil).Once()

	h.toConfirming()
	h.mustSend("yes")
	code := h.dispatcher.last()

	r, err := h.send(code)
	assert.ErrorIs(t, err, ErrCollaborator)
	assert.Equal(t, booking.StateOTPSent, r.Stage)
	s := h.stored()
	assert.Equal(t, booking.StateOTPSent, s.State)
	require.NotNil(t, s.Pending)
	assert.Equal(t, code, s.Pending.Code)

	r = h.mustSend(code)
	assert.Equal(t, booking.StateCompleted, r.Stage)
	assert.Equal(t, "BK-00000001", r.BookingID)
	h.saver.AssertNumberOfCalls(t, "SaveBooking", 2)
}

// flakyStore fails the next Save after failNext is set.
type flakyStore struct {
	session.Store
	mu       sync.Mutex
	failNext bool
}

func (f *flakyStore) Save(ctx context.Context, s booking.Session) error {
	f.mu.Lock()
	fail := f.failNext
	f.failNext = false
	f.mu.Unlock()
	if fail {
		return errors.New("store down")
	}
	return f.Store.Save(ctx, s)
}

func TestSessionSaveFailureAfterCommitDoesNotBookTwice(t *testing.T) {
	h := newHarness(t)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := &flakyStore{Store: h.store}
	h.build(store, db)

	h.toConfirming()
	h.mustSend("yes")
	code := h.dispatcher.last()

	store.mu.Lock()
	store.failNext = true
	store.mu.Unlock()
	_, err = h.send(code)
	require.Error(t, err)
	assert.Equal(t, booking.StateOTPSent, h.stored().State)

	r := h.mustSend(code)
	assert.Equal(t, booking.StateCompleted, r.Stage)
	require.NotEmpty(t, r.BookingID)

	list, err := db.ListBookings(context.Background(), time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, r.BookingID, list[0].ID)
	assert.Equal(t, 1, h.count(events.TypeBookingConfirmed))
}

func TestExpiredSessionBehavesAsNew(t *testing.T) {
	h := newHarness(t)
	h.mustSend("I want bridal makeup")
	h.mustSend("1")
	h.mustSend("Priya Sharma")
	oldID := h.sessionID

	h.clock.advance(3 * time.Hour)
	expired := h.mustSend("Hi")

	fresh := newHarness(t)
	fresh.clock.advance(3 * time.Hour)
	want := fresh.mustSend("Hi")

	assert.NotEqual(t, oldID, expired.SessionID)
	assert.Equal(t, want.Stage, expired.Stage)
	assert.Equal(t, want.Reply, expired.Reply)
	assert.Equal(t, want.MissingFields, expired.MissingFields)
	assert.Empty(t, expired.CollectedInfo)
}

func TestUnknownSessionIDStartsFresh(t *testing.T) {
	h := newHarness(t)
	h.sessionID = "does-not-exist"
	r := h.mustSend("Hello")
	assert.NotEqual(t, "does-not-exist", r.SessionID)
	assert.Equal(t, booking.StateGreeting, r.Stage)
}

func TestInvalidRequests(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for name, req := range map[string]TurnRequest{
		"empty":    {Message: "   ", Language: "en"},
		"too long": {Message: strings.Repeat("a", 1001), Language: "en"},
		"language": {Message: "hi", Language: "fr"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := h.orch.HandleTurn(ctx, req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestSameSessionTurnsSerialize(t *testing.T) {
	h := newHarness(t)
	h.mustSend("I want bridal makeup")
	h.mustSend("1")
	id := h.sessionID

	const n = 5
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.HandleTurn(context.Background(), TurnRequest{Message: "What is your Instagram?", SessionID: id, Language: "en"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, n, h.stored().OffTrack)
}

func TestHistoryIsCapped(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 15; i++ {
		h.mustSend("Hello")
	}
	assert.Len(t, h.stored().History, 20)
}

func TestLanguageSwitch(t *testing.T) {
	h := newHarness(t)
	h.mustSend("Hello")
	r, err := h.orch.HandleTurn(context.Background(), TurnRequest{Message: "cancel", SessionID: h.sessionID, Language: "hi"})
	require.NoError(t, err)
	assert.Equal(t, booking.LangHindi, h.stored().Language)
	assert.NotEmpty(t, r.Reply)
}
