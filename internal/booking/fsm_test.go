package booking_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookingagent/internal/booking"
	"bookingagent/internal/catalog"
	"bookingagent/internal/extract"
	"bookingagent/internal/otp"
	"bookingagent/internal/validate"
)

const testCode = "123456"

type harness struct {
	t       *testing.T
	store   *catalog.Store
	fsm     *booking.FSM
	render  *booking.Renderer
	extract *extract.Set
	now     time.Time
	s       booking.Session
}

func newHarness(t *testing.T) *harness {
	store := catalog.NewStore(catalog.Default())
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	return &harness{
		t:       t,
		store:   store,
		fsm:     booking.NewFSM(store, validate.NewSet(store), 6),
		render:  booking.NewRenderer(store),
		extract: extract.NewSet(),
		now:     now,
		s:       booking.NewSession("s1", booking.LangEnglish, now),
	}
}

// send runs one message through the machine and performs the OTP issue
// effect the way the orchestrator does, with a fixed code.
func (h *harness) send(text string) booking.Outcome {
	h.t.Helper()
	in := h.extract.Input(text, extract.Context{Asked: h.s.LastAsked, Catalog: h.store.Catalog()}, h.now)
	out := h.fsm.Step(h.s, in)
	h.s = out.Session
	if out.Effect == booking.EffectSendOTP {
		h.s.Pending = &otp.Pending{
			Code:        testCode,
			Phone:       h.s.Intent.Get(booking.FieldPhone),
			IssuedAt:    h.now,
			ExpiresAt:   h.now.Add(5 * time.Minute),
			MaxAttempts: 3,
		}
	}
	return out
}

func (h *harness) toConfirming() {
	h.t.Helper()
	h.send("I want bridal makeup")
	h.send("2")
	h.send("My name is Priya Sharma, email priya@example.com, phone +977-9876543210")
	h.send("Thamel, Kathmandu")
	h.send("44600")
	h.send("Nepal")
	out := h.send("2024-12-25")
	require.Equal(h.t, booking.StateConfirming, h.s.State)
	require.Equal(h.t, booking.PromptSummary, out.Directive.Kind)
}

func TestBridalBookingEndToEnd(t *testing.T) {
	h := newHarness(t)

	out := h.send("Hi")
	assert.Equal(t, booking.StateGreeting, h.s.State)
	assert.Equal(t, booking.PromptWelcome, out.Directive.Kind)

	out = h.send("I want bridal makeup")
	assert.Equal(t, booking.StateSelectingPackage, h.s.State)
	assert.Equal(t, booking.PromptPackageMenu, out.Directive.Kind)
	assert.Equal(t, "Bridal Makeup Services", h.s.Intent.Get(booking.FieldService))

	out = h.send("2")
	assert.Equal(t, booking.StateCollectingDetails, h.s.State)
	assert.Equal(t, "Luxury Bridal Makeup (HD / Brush)", h.s.Intent.Get(booking.FieldPackage))
	assert.Equal(t, booking.Directive{Kind: booking.PromptAskField, Field: booking.FieldName}, out.Directive)

	out = h.send("My name is Priya Sharma, email priya@example.com, phone +977-9876543210")
	assert.Equal(t, "Priya Sharma", h.s.Intent.Get(booking.FieldName))
	assert.Equal(t, "priya@example.com", h.s.Intent.Get(booking.FieldEmail))
	assert.Equal(t, "+9779876543210", h.s.Intent.Get(booking.FieldPhone))
	assert.Equal(t, "Nepal", h.s.Intent.Get(booking.FieldPhoneCountry))
	assert.Equal(t, booking.FieldAddress, out.Directive.Field)

	out = h.send("Thamel, Kathmandu")
	assert.Equal(t, "Thamel, Kathmandu", h.s.Intent.Get(booking.FieldAddress))
	assert.Equal(t, booking.FieldPincode, out.Directive.Field)

	out = h.send("44600")
	assert.Equal(t, "44600", h.s.Intent.Get(booking.FieldPincode))
	assert.Equal(t, booking.FieldServiceCountry, out.Directive.Field)

	out = h.send("Nepal")
	assert.Equal(t, "Nepal", h.s.Intent.Get(booking.FieldServiceCountry))
	assert.Equal(t, booking.FieldEventDate, out.Directive.Field)

	out = h.send("2024-12-25")
	assert.Equal(t, booking.StateConfirming, h.s.State)
	assert.Equal(t, booking.PromptSummary, out.Directive.Kind)
	assert.True(t, h.s.Intent.Complete())

	out = h.send("yes")
	assert.Equal(t, booking.StateOTPSent, h.s.State)
	assert.Equal(t, booking.EffectSendOTP, out.Effect)

	out = h.send("111111")
	assert.Equal(t, booking.PromptOTPMismatch, out.Directive.Kind)
	assert.Equal(t, 2, h.s.Pending.Remaining())
	assert.Equal(t, booking.EffectNone, out.Effect)

	out = h.send(testCode)
	assert.Equal(t, booking.StateCompleted, h.s.State)
	assert.Equal(t, booking.EffectCommitBooking, out.Effect)
	assert.Equal(t, 0, h.s.OffTrack)
}

func TestCascadeMatchesStepwise(t *testing.T) {
	one := newHarness(t)
	one.send("I want the bridal luxury package")

	two := newHarness(t)
	two.send("bridal")
	two.send("luxury")

	assert.Equal(t, booking.StateCollectingDetails, one.s.State)
	assert.Equal(t, two.s.State, one.s.State)
	assert.Equal(t, two.s.Intent, one.s.Intent)
	assert.Equal(t, two.s.LastAsked, one.s.LastAsked)
}

func TestFieldOrderIndependence(t *testing.T) {
	a := newHarness(t)
	a.send("bridal")
	a.send("signature")
	a.send("email priya@example.com, my name is Priya Sharma")

	b := newHarness(t)
	b.send("bridal")
	b.send("signature")
	b.send("My name is Priya Sharma")
	b.send("priya@example.com")

	assert.Equal(t, b.s.Intent, a.s.Intent)
	assert.Equal(t, booking.FieldPhone, a.s.LastAsked)
	assert.Equal(t, booking.FieldPhone, b.s.LastAsked)
}

func TestRejectionLeavesIntentUnchanged(t *testing.T) {
	h := newHarness(t)
	h.send("bridal")
	h.send("1")
	h.send("My name is Priya Sharma, email priya@example.com")
	require.Equal(t, booking.FieldPhone, h.s.LastAsked)
	before := h.s.Intent.Clone()

	out := h.send("9876543210")
	assert.Equal(t, before, h.s.Intent)
	assert.Equal(t, booking.Directive{Kind: booking.PromptReprompt, Field: booking.FieldPhone, Reason: booking.ReasonMissingCountryCode}, out.Directive)
	assert.False(t, out.Digression)
	first := h.render.Render(out.Directive, h.s)

	out = h.send("9876543210")
	assert.Equal(t, first, h.render.Render(out.Directive, h.s))
	assert.Equal(t, 2, h.s.OffTrack)
}

func TestSelectionOutOfRange(t *testing.T) {
	h := newHarness(t)
	h.send("I want to book")
	require.Equal(t, booking.StateSelectingService, h.s.State)

	out := h.send("9")
	assert.Equal(t, booking.StateSelectingService, h.s.State)
	assert.Equal(t, booking.ReasonOptionOutOfRange, out.Directive.Reason)
	assert.Contains(t, h.render.Render(out.Directive, h.s), "1 to 4")

	out = h.send("4")
	assert.Equal(t, booking.StateSelectingPackage, h.s.State)
	assert.Equal(t, "Henna (Mehendi) Services", h.s.Intent.Get(booking.FieldService))
	assert.Equal(t, booking.PromptPackageMenu, out.Directive.Kind)
}

func TestQuestionDoesNotBindService(t *testing.T) {
	h := newHarness(t)
	out := h.send("How much is bridal makeup?")
	assert.Equal(t, booking.StateGreeting, h.s.State)
	assert.False(t, h.s.Intent.Has(booking.FieldService))
	assert.True(t, out.Digression)
}

func TestOffTrackFallbackAndReset(t *testing.T) {
	h := newHarness(t)
	h.send("bridal")
	h.send("1")

	for i := 1; i <= 6; i++ {
		out := h.send("Do you have an Instagram page?")
		assert.True(t, out.Digression)
		assert.Equal(t, i, h.s.OffTrack)
	}
	assert.True(t, h.fsm.Fallback(h.s))

	out := h.send("My name is Priya Sharma")
	assert.True(t, out.Progress)
	assert.Equal(t, 0, h.s.OffTrack)
	assert.False(t, h.fsm.Fallback(h.s))
}

func TestOTPExhaustion(t *testing.T) {
	h := newHarness(t)
	h.toConfirming()
	h.send("yes")

	assert.Equal(t, booking.PromptOTPMismatch, h.send("111111").Directive.Kind)
	assert.Equal(t, booking.PromptOTPMismatch, h.send("222222").Directive.Kind)
	out := h.send("333333")
	assert.Equal(t, booking.PromptOTPExhausted, out.Directive.Kind)
	assert.Equal(t, booking.StateConfirming, h.s.State)
	assert.Nil(t, h.s.Pending)

	out = h.send(testCode)
	assert.Equal(t, booking.EffectNone, out.Effect)
	assert.Equal(t, booking.StateConfirming, h.s.State)
	assert.Equal(t, booking.ReasonNoActiveCode, out.Directive.Reason)

	out = h.send("yes")
	assert.Equal(t, booking.EffectSendOTP, out.Effect)
	assert.Equal(t, booking.StateOTPSent, h.s.State)
}

func TestOTPExpiry(t *testing.T) {
	h := newHarness(t)
	h.toConfirming()
	h.send("yes")

	h.now = h.now.Add(6 * time.Minute)
	out := h.send(testCode)
	assert.Equal(t, booking.PromptOTPExpired, out.Directive.Kind)
	assert.Equal(t, booking.StateConfirming, h.s.State)
	assert.Nil(t, h.s.Pending)
	assert.Equal(t, booking.EffectNone, out.Effect)
}

func TestOTPResendAndWaiting(t *testing.T) {
	h := newHarness(t)
	h.toConfirming()
	h.send("yes")

	out := h.send("hmm")
	assert.Equal(t, booking.PromptOTPWaiting, out.Directive.Kind)
	assert.True(t, out.Digression)

	out = h.send("please resend")
	assert.Equal(t, booking.PromptOTPResent, out.Directive.Kind)
	assert.Equal(t, booking.EffectSendOTP, out.Effect)
	assert.Equal(t, booking.StateOTPSent, h.s.State)
}

func TestConfirmingCorrections(t *testing.T) {
	h := newHarness(t)
	h.toConfirming()

	out := h.send("my email is new@example.com")
	assert.Equal(t, booking.PromptSummary, out.Directive.Kind)
	assert.Equal(t, "new@example.com", h.s.Intent.Get(booking.FieldEmail))
	assert.Equal(t, booking.StateConfirming, h.s.State)

	out = h.send("change my address")
	assert.Equal(t, booking.StateCollectingDetails, h.s.State)
	assert.Equal(t, booking.Directive{Kind: booking.PromptAskField, Field: booking.FieldAddress}, out.Directive)

	out = h.send("Lakeside, Pokhara")
	assert.Equal(t, "Lakeside, Pokhara", h.s.Intent.Get(booking.FieldAddress))
	assert.Equal(t, booking.StateConfirming, h.s.State)
	assert.Equal(t, booking.PromptSummary, out.Directive.Kind)

	out = h.send("no")
	assert.Equal(t, booking.PromptAskChange, out.Directive.Kind)
	assert.Equal(t, booking.StateCollectingDetails, h.s.State)
}

func TestConfirmWithNoChanges(t *testing.T) {
	h := newHarness(t)
	h.toConfirming()

	out := h.send("yes, no changes")
	assert.Equal(t, booking.StateOTPSent, h.s.State)
	assert.Equal(t, booking.EffectSendOTP, out.Effect)
}

func TestGreetingSelectionOpensServiceMenu(t *testing.T) {
	h := newHarness(t)

	out := h.send("1")
	assert.Equal(t, booking.StateSelectingService, h.s.State)
	assert.Equal(t, booking.PromptServiceMenu, out.Directive.Kind)
	assert.False(t, h.s.Intent.Has(booking.FieldService))
	assert.True(t, out.Progress)

	out = h.send("1")
	assert.Equal(t, booking.StateSelectingPackage, h.s.State)
	assert.Equal(t, "Bridal Makeup Services", h.s.Intent.Get(booking.FieldService))
}

func TestCancelAndRestart(t *testing.T) {
	h := newHarness(t)
	h.send("bridal")
	h.send("1")

	out := h.send("how do I cancel?")
	assert.Equal(t, booking.StateCollectingDetails, h.s.State)
	assert.True(t, out.Digression)

	out = h.send("cancel")
	assert.Equal(t, booking.PromptCancelled, out.Directive.Kind)
	assert.Equal(t, booking.StateGreeting, h.s.State)
	assert.Empty(t, h.s.Intent)

	h.send("party")
	out = h.send("start over")
	assert.Equal(t, booking.StateSelectingService, h.s.State)
	assert.Equal(t, booking.PromptServiceMenu, out.Directive.Kind)
	assert.Empty(t, h.s.Intent)
}

func TestPincodeCheckedAgainstCountryInSameMessage(t *testing.T) {
	h := newHarness(t)
	h.send("bridal")
	h.send("1")
	h.send("My name is Priya Sharma, email priya@example.com, phone +919876543210")

	out := h.send("address: MG Road, Pune, pincode 44600, country Nepal")
	assert.Equal(t, "Nepal", h.s.Intent.Get(booking.FieldServiceCountry))
	assert.Equal(t, "44600", h.s.Intent.Get(booking.FieldPincode))
	assert.Equal(t, booking.FieldEventDate, out.Directive.Field)
}

func TestPincodeBeforeCountryUsesGenericRule(t *testing.T) {
	h := newHarness(t)
	h.send("bridal")
	h.send("1")
	h.send("My name is Priya Sharma, email priya@example.com, phone +919876543210")
	h.send("Thamel, Kathmandu")

	out := h.send("44600")
	assert.Equal(t, "44600", h.s.Intent.Get(booking.FieldPincode))
	assert.Equal(t, booking.FieldServiceCountry, out.Directive.Field)

	h.send("Nepal")
	out = h.send("2024-12-25")
	assert.Equal(t, booking.StateConfirming, h.s.State)
	assert.Equal(t, "44600", h.s.Intent.Get(booking.FieldPincode))
}

func TestCountryDropsMismatchedPincode(t *testing.T) {
	h := newHarness(t)
	h.send("bridal")
	h.send("1")
	h.send("My name is Priya Sharma, email priya@example.com, phone +919876543210")
	h.send("MG Road, Pune")
	h.send("110001")
	require.Equal(t, "110001", h.s.Intent.Get(booking.FieldPincode))

	out := h.send("Nepal")
	assert.Equal(t, "Nepal", h.s.Intent.Get(booking.FieldServiceCountry))
	assert.False(t, h.s.Intent.Has(booking.FieldPincode))
	assert.Equal(t, booking.Directive{Kind: booking.PromptReprompt, Field: booking.FieldPincode, Reason: booking.ReasonInvalidFormat}, out.Directive)
	assert.True(t, out.Progress)

	out = h.send("44600")
	assert.Equal(t, "44600", h.s.Intent.Get(booking.FieldPincode))
	assert.Equal(t, booking.FieldEventDate, out.Directive.Field)
}

func TestRejectedPincodeDoesNotShieldStoredOne(t *testing.T) {
	h := newHarness(t)
	h.toConfirming()

	out := h.send("country is India, pincode 1234")
	assert.Equal(t, "India", h.s.Intent.Get(booking.FieldServiceCountry))
	assert.False(t, h.s.Intent.Has(booking.FieldPincode))
	assert.Equal(t, booking.FieldPincode, out.Directive.Field)
	assert.Equal(t, booking.StateCollectingDetails, h.s.State)
}

func TestCountryChangeAtConfirmationRechecksPincode(t *testing.T) {
	h := newHarness(t)
	h.toConfirming()

	out := h.send("country is India")
	assert.Equal(t, booking.StateCollectingDetails, h.s.State)
	assert.Equal(t, "India", h.s.Intent.Get(booking.FieldServiceCountry))
	assert.False(t, h.s.Intent.Has(booking.FieldPincode))
	assert.Equal(t, booking.FieldPincode, out.Directive.Field)
	assert.Equal(t, booking.PromptReprompt, out.Directive.Kind)

	out = h.send("110001")
	assert.Equal(t, booking.StateConfirming, h.s.State)
	assert.Equal(t, booking.PromptSummary, out.Directive.Kind)
}
