package booking

import "time"

// Confidence grades how explicit an extracted value was.
type Confidence int

const (
	// ConfidenceLow is bare free text; only trusted for the field being asked.
	ConfidenceLow Confidence = iota + 1
	// ConfidenceMedium is a typed value without a cue, e.g. a bare 6-digit number.
	ConfidenceMedium
	// ConfidenceHigh is a cued or strongly formatted value; it may replace an accepted one.
	ConfidenceHigh
)

// Candidate is a value proposed for a field by an extractor.
type Candidate struct {
	Field      Field
	Value      string
	Confidence Confidence
}

// Signals are the conversational cues found in a message.
type Signals struct {
	Greeting      bool
	BookingIntent bool
	Question      bool
	Confirm       bool
	Reject        bool
	Resend        bool
	Cancel        bool
	Restart       bool
}

// Input is everything the state machine needs to process one message.
type Input struct {
	Text       string
	Candidates []Candidate
	Selection  int    // 0 when the message is not a bare option number
	Code       string // a 6-digit code, if the message carries one
	Change     Field  // field the user asked to change without giving a value
	Signals    Signals
	Now        time.Time
}

// Rejection reasons. Validators and the state machine share these codes;
// prompts map them to text.
const (
	ReasonTooShort           = "too_short"
	ReasonTooLong            = "too_long"
	ReasonInvalidFormat      = "invalid_format"
	ReasonMissingCountryCode = "missing_country_code"
	ReasonUnknownCountryCode = "unknown_country_code"
	ReasonInvalidLength      = "invalid_length"
	ReasonInvalidPrefix      = "invalid_prefix"
	ReasonInvalidDate        = "invalid_date"
	ReasonPastDate           = "past_date"
	ReasonTooFar             = "too_far"
	ReasonUnknownCountry     = "unknown_country"
	ReasonOptionOutOfRange   = "option_out_of_range"
	ReasonNoActiveCode       = "no_active_code"
)

// Verdict is a validator's decision on a candidate.
type Verdict struct {
	OK      bool
	Value   string           // normalized value when OK
	Reason  string           // rejection code when not OK
	Derived map[Field]string // extra fields implied by the value, e.g. phone_country
}

// Checker validates a candidate against the intent collected so far.
type Checker interface {
	Check(c Candidate, intent Intent, now time.Time) Verdict
}

// Rejection is a soft failure: a candidate the validators turned down.
type Rejection struct {
	Field  Field
	Reason string
}
