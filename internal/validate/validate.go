// Package validate checks extracted field values and normalizes the ones it
// accepts.
package validate

import (
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"bookingagent/internal/booking"
	"bookingagent/internal/catalog"
)

// Context is what a validator may look at besides the value itself.
type Context struct {
	Catalog *catalog.Catalog
	Intent  booking.Intent
	Now     time.Time
}

// Validator checks one field.
type Validator interface {
	Validate(value string, ctx Context) booking.Verdict
}

// Func adapts a function to Validator.
type Func func(value string, ctx Context) booking.Verdict

func (f Func) Validate(value string, ctx Context) booking.Verdict {
	return f(value, ctx)
}

func accept(v string) booking.Verdict {
	return booking.Verdict{OK: true, Value: v}
}

func reject(reason string) booking.Verdict {
	return booking.Verdict{Reason: reason}
}

// Set dispatches candidates to the validator registered for their field.
type Set struct {
	catalog    catalog.Source
	validators map[booking.Field]Validator
}

// NewSet returns the standard validators.
func NewSet(src catalog.Source) *Set {
	return &Set{
		catalog: src,
		validators: map[booking.Field]Validator{
			booking.FieldName:           Func(Name),
			booking.FieldEmail:          Func(Email),
			booking.FieldPhone:          Func(Phone),
			booking.FieldPincode:        Func(Pincode),
			booking.FieldServiceCountry: Func(ServiceCountry),
			booking.FieldAddress:        Func(Address),
			booking.FieldEventDate:      Func(EventDate),
			booking.FieldMessage:        Func(Message),
		},
	}
}

// Check implements booking.Checker.
func (s *Set) Check(c booking.Candidate, intent booking.Intent, now time.Time) booking.Verdict {
	v, ok := s.validators[c.Field]
	if !ok {
		return reject(booking.ReasonInvalidFormat)
	}
	return v.Validate(strings.TrimSpace(c.Value), Context{
		Catalog: s.catalog.Catalog(),
		Intent:  intent,
		Now:     now,
	})
}

var (
	nameRE  = regexp.MustCompile(`^[\p{L}\p{M}][\p{L}\p{M}\s.'\-]*$`)
	emailRE = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}$`)
	digitRE = regexp.MustCompile(`\D`)
)

// Name accepts 2 to 60 characters of letters, spaces, dots, hyphens and
// apostrophes.
func Name(value string, _ Context) booking.Verdict {
	value = strings.Join(strings.Fields(value), " ")
	n := utf8.RuneCountInString(value)
	switch {
	case n < 2:
		return reject(booking.ReasonTooShort)
	case n > 60:
		return reject(booking.ReasonTooLong)
	case !nameRE.MatchString(value):
		return reject(booking.ReasonInvalidFormat)
	}
	return accept(titleCase(value))
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		if unicode.IsLower(r) {
			words[i] = string(unicode.ToUpper(r)) + w[size:]
		}
	}
	return strings.Join(words, " ")
}

// Email lowercases and checks the address shape.
func Email(value string, _ Context) booking.Verdict {
	value = strings.ToLower(value)
	if len(value) > 254 || !emailRE.MatchString(value) || strings.Contains(value, "..") {
		return reject(booking.ReasonInvalidFormat)
	}
	return accept(value)
}

// Phone requires a known country code and a valid local mobile number. It
// normalizes to +<code><local> and derives phone_country.
func Phone(value string, ctx Context) booking.Verdict {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "00") {
		value = "+" + value[2:]
	}
	if !strings.HasPrefix(value, "+") {
		return reject(booking.ReasonMissingCountryCode)
	}

	digits := digitRE.ReplaceAllString(value, "")
	if len(digits) < 10 || len(digits) > 15 {
		return reject(booking.ReasonInvalidLength)
	}

	country, ok := ctx.Catalog.CountryByDialCode(digits)
	if !ok {
		return reject(booking.ReasonUnknownCountryCode)
	}
	local := digits[len(country.DialCode):]
	if len(local) < country.PhoneMin || len(local) > country.PhoneMax {
		return reject(booking.ReasonInvalidLength)
	}
	if !country.ValidLocal(local) {
		return reject(booking.ReasonInvalidPrefix)
	}

	v := accept("+" + digits)
	v.Derived = map[booking.Field]string{booking.FieldPhoneCountry: country.Name}
	return v
}

// Pincode checks the code against the service country, or against the
// generic 4-6 digit rule while the country is still unknown.
func Pincode(value string, ctx Context) booking.Verdict {
	value = strings.ReplaceAll(value, " ", "")
	if country, ok := ctx.Catalog.CountryByName(ctx.Intent.Get(booking.FieldServiceCountry)); ok {
		if !country.MatchPincode(value) {
			return reject(booking.ReasonInvalidFormat)
		}
		return accept(value)
	}
	if !catalog.GenericPincode(value) {
		return reject(booking.ReasonInvalidFormat)
	}
	return accept(value)
}

// ServiceCountry accepts a served country by name or alias and returns its
// canonical name.
func ServiceCountry(value string, ctx Context) booking.Verdict {
	country, ok := ctx.Catalog.CountryByName(value)
	if !ok {
		return reject(booking.ReasonUnknownCountry)
	}
	return accept(country.Name)
}

// Address accepts 5 to 200 characters containing at least one letter.
func Address(value string, _ Context) booking.Verdict {
	value = strings.Join(strings.Fields(value), " ")
	n := utf8.RuneCountInString(value)
	switch {
	case n < 5:
		return reject(booking.ReasonTooShort)
	case n > 200:
		return reject(booking.ReasonTooLong)
	case strings.IndexFunc(value, unicode.IsLetter) < 0:
		return reject(booking.ReasonInvalidFormat)
	}
	return accept(value)
}

// maxAdvance is how far ahead an event may be booked.
const maxAdvance = 3

// EventDate expects YYYY-MM-DD, not before today and at most three years ahead.
func EventDate(value string, ctx Context) booking.Verdict {
	d, err := time.ParseInLocation("2006-01-02", value, ctx.Now.Location())
	if err != nil {
		return reject(booking.ReasonInvalidDate)
	}
	y, m, day := ctx.Now.Date()
	today := time.Date(y, m, day, 0, 0, 0, 0, ctx.Now.Location())
	if d.Before(today) {
		return reject(booking.ReasonPastDate)
	}
	if d.After(today.AddDate(maxAdvance, 0, 0)) {
		return reject(booking.ReasonTooFar)
	}
	return accept(d.Format("2006-01-02"))
}

// Message accepts free text up to 500 characters.
func Message(value string, _ Context) booking.Verdict {
	if utf8.RuneCountInString(value) > 500 {
		return reject(booking.ReasonTooLong)
	}
	if value == "" {
		return reject(booking.ReasonTooShort)
	}
	return accept(value)
}
