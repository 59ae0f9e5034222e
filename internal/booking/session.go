// Package booking implements the conversational booking dialog: the session
// model, the state machine that advances it and the prompts it renders.
package booking

import (
	"time"

	"bookingagent/internal/otp"
)

// State represents the current stage of the booking dialog.
type State string

const (
	StateGreeting          State = "greeting"
	StateSelectingService  State = "selecting_service"
	StateSelectingPackage  State = "selecting_package"
	StateCollectingDetails State = "collecting_details"
	StateConfirming        State = "confirming"
	StateOTPSent           State = "otp_sent"
	StateCompleted         State = "completed"
)

// Field names a piece of booking data.
type Field string

const (
	FieldService        Field = "service"
	FieldPackage        Field = "package"
	FieldName           Field = "name"
	FieldEmail          Field = "email"
	FieldPhone          Field = "phone"
	FieldPhoneCountry   Field = "phone_country"
	FieldServiceCountry Field = "service_country"
	FieldAddress        Field = "address"
	FieldPincode        Field = "pincode"
	FieldEventDate      Field = "event_date"
	FieldMessage        Field = "message"
)

// DetailFields are the required contact fields in the order they are asked.
var DetailFields = []Field{
	FieldName,
	FieldEmail,
	FieldPhone,
	FieldAddress,
	FieldPincode,
	FieldServiceCountry,
	FieldEventDate,
}

// Language is a supported reply language.
type Language string

const (
	LangEnglish Language = "en"
	LangHindi   Language = "hi"
	LangNepali  Language = "ne"
	LangMarathi Language = "mr"
)

// ParseLanguage validates a language code. Empty means English.
func ParseLanguage(code string) (Language, bool) {
	switch Language(code) {
	case "":
		return LangEnglish, true
	case LangEnglish, LangHindi, LangNepali, LangMarathi:
		return Language(code), true
	}
	return "", false
}

// Intent is the booking data accepted so far.
type Intent map[Field]string

// Get returns the accepted value of f.
func (i Intent) Get(f Field) string {
	return i[f]
}

// Has reports whether f has an accepted value.
func (i Intent) Has(f Field) bool {
	return i[f] != ""
}

// Missing lists the detail fields still needed, in asking order.
func (i Intent) Missing() []Field {
	var missing []Field
	for _, f := range DetailFields {
		if !i.Has(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// Complete reports whether service, package and every detail field are set.
func (i Intent) Complete() bool {
	return i.Has(FieldService) && i.Has(FieldPackage) && len(i.Missing()) == 0
}

// Clone returns an independent copy.
func (i Intent) Clone() Intent {
	cp := make(Intent, len(i))
	for k, v := range i {
		cp[k] = v
	}
	return cp
}

// Collected returns accepted values for display with the phone masked.
func (i Intent) Collected() map[string]string {
	out := make(map[string]string, len(i))
	for k, v := range i {
		if v == "" {
			continue
		}
		if k == FieldPhone {
			v = MaskPhone(v)
		}
		out[string(k)] = v
	}
	return out
}

// MaskPhone keeps the dialing prefix and the last three digits.
func MaskPhone(phone string) string {
	if len(phone) < 8 {
		return phone
	}
	keep := 4
	masked := []byte(phone)
	for j := keep; j < len(masked)-3; j++ {
		masked[j] = '*'
	}
	return string(masked)
}

// Message is one entry of the conversation history.
type Message struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Session is the per-conversation state. Stores hand it out by value; the
// caller owns the copy it gets.
type Session struct {
	ID        string       `json:"id"`
	State     State        `json:"state"`
	Intent    Intent       `json:"intent"`
	Language  Language     `json:"language"`
	OffTrack  int          `json:"off_track"`
	Pending   *otp.Pending `json:"pending,omitempty"`
	LastAsked Field        `json:"last_asked,omitempty"`
	History   []Message    `json:"history,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// NewSession creates a session in the greeting state.
func NewSession(id string, lang Language, now time.Time) Session {
	return Session{
		ID:        id,
		State:     StateGreeting,
		Intent:    Intent{},
		Language:  lang,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	cp := s
	cp.Intent = s.Intent.Clone()
	cp.Pending = s.Pending.Clone()
	cp.History = append([]Message(nil), s.History...)
	return cp
}

// IsExpired reports whether the session has been idle longer than ttl.
func (s Session) IsExpired(ttl time.Duration, now time.Time) bool {
	return now.Sub(s.UpdatedAt) > ttl
}

// Remember appends a history entry, keeping at most limit entries.
func (s *Session) Remember(role, text string, at time.Time, limit int) {
	s.History = append(s.History, Message{Role: role, Text: text, At: at})
	if limit > 0 && len(s.History) > limit {
		s.History = append([]Message(nil), s.History[len(s.History)-limit:]...)
	}
}

// Reset clears the collected booking and returns the session to greeting.
// History is kept.
func (s *Session) Reset() {
	s.State = StateGreeting
	s.Intent = Intent{}
	s.Pending = nil
	s.OffTrack = 0
	s.LastAsked = ""
}
