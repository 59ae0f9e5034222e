package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookingagent/internal/booking"
	"bookingagent/internal/catalog"
)

func byField(cs []booking.Candidate) map[booking.Field]booking.Candidate {
	out := make(map[booking.Field]booking.Candidate)
	for _, c := range cs {
		if _, ok := out[c.Field]; !ok {
			out[c.Field] = c
		}
	}
	return out
}

func extract(text string, asked booking.Field) map[booking.Field]booking.Candidate {
	return byField(NewSet().Extract(text, Context{Asked: asked, Catalog: catalog.Default()}))
}

func TestExtractMultipleFields(t *testing.T) {
	got := extract("My name is Priya Sharma, email priya@example.com, phone +977-9876543210", booking.FieldName)

	require.Len(t, got, 3)
	assert.Equal(t, "Priya Sharma", got[booking.FieldName].Value)
	assert.Equal(t, booking.ConfidenceHigh, got[booking.FieldName].Confidence)
	assert.Equal(t, "priya@example.com", got[booking.FieldEmail].Value)
	assert.Equal(t, "+977-9876543210", got[booking.FieldPhone].Value)
	assert.Equal(t, booking.ConfidenceHigh, got[booking.FieldPhone].Confidence)
}

func TestExtractDates(t *testing.T) {
	for _, text := range []string{
		"2024-12-25",
		"the wedding is on December 25, 2024",
		"25th December 2024",
		"25/12/2024",
	} {
		t.Run(text, func(t *testing.T) {
			got := extract(text, "")
			assert.Equal(t, "2024-12-25", got[booking.FieldEventDate].Value)
		})
	}
}

func TestExtractPhoneAndPincode(t *testing.T) {
	got := extract("9876543210", booking.FieldPhone)
	assert.Equal(t, booking.ConfidenceMedium, got[booking.FieldPhone].Confidence)
	_, hasPin := got[booking.FieldPincode]
	assert.False(t, hasPin)

	got = extract("pincode 44600", "")
	assert.Equal(t, "44600", got[booking.FieldPincode].Value)
	assert.Equal(t, booking.ConfidenceHigh, got[booking.FieldPincode].Confidence)

	got = extract("44600", booking.FieldPincode)
	assert.Equal(t, booking.ConfidenceMedium, got[booking.FieldPincode].Confidence)
}

func TestExtractCountryAndAddress(t *testing.T) {
	got := extract("I live in Kathmandu, Nepal", "")
	assert.Equal(t, "Nepal", got[booking.FieldServiceCountry].Value)
	assert.Equal(t, booking.ConfidenceHigh, got[booking.FieldServiceCountry].Confidence)
	assert.Equal(t, "Kathmandu", got[booking.FieldAddress].Value)

	got = extract("Pokhara", booking.FieldServiceCountry)
	require.Len(t, got, 1)
	assert.Equal(t, "Nepal", got[booking.FieldServiceCountry].Value)
	assert.Equal(t, booking.ConfidenceLow, got[booking.FieldServiceCountry].Confidence)
}

func TestBareTextOnlyForAskedField(t *testing.T) {
	got := extract("Priya Sharma", booking.FieldName)
	assert.Equal(t, "Priya Sharma", got[booking.FieldName].Value)
	assert.Equal(t, booking.ConfidenceLow, got[booking.FieldName].Confidence)

	assert.Empty(t, extract("Priya Sharma", booking.FieldEmail))
	assert.Empty(t, extract("ok", booking.FieldName))
}

func TestDetect(t *testing.T) {
	s := Detect("Hi, I want to book bridal makeup")
	assert.True(t, s.Greeting)
	assert.True(t, s.BookingIntent)
	assert.False(t, s.Question)

	s = Detect("Do you have an Instagram page?")
	assert.True(t, s.Question)

	s = Detect("how do I cancel?")
	assert.True(t, s.Question)
	assert.False(t, s.Cancel)

	assert.True(t, Detect("cancel").Cancel)
	assert.True(t, Detect("please start over").Restart)
	assert.True(t, Detect("Yes, confirm").Confirm)
	assert.True(t, Detect("I didn't get the code, please resend").Resend)
	assert.True(t, Detect("no").Reject)

	s = Detect("yes, no changes")
	assert.True(t, s.Confirm)
	assert.False(t, s.Reject)

	s = Detect("no, the date is wrong")
	assert.True(t, s.Reject)
	assert.False(t, s.Confirm)
}

func TestSelection(t *testing.T) {
	tests := map[string]int{
		"2":        2,
		"option 3": 3,
		"#1":       1,
		" 2. ":     2,
		"2 people": 0,
		"bridal":   0,
	}
	for in, want := range tests {
		assert.Equal(t, want, Selection(in), in)
	}
}

func TestCode(t *testing.T) {
	assert.Equal(t, "123456", Code("my code is 123456"))
	assert.Equal(t, "", Code("123456 and 654321"))
	assert.Equal(t, "", Code("12345"))
}

func TestChangeRequest(t *testing.T) {
	assert.Equal(t, booking.FieldEmail, ChangeRequest("change my email"))
	assert.Equal(t, booking.FieldPhone, ChangeRequest("Wrong phone number"))
	assert.Equal(t, booking.FieldEmail, ChangeRequest("email"))
	assert.Equal(t, booking.Field(""), ChangeRequest("my email is a@b.co"))
}

func TestInput(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	in := NewSet().Input("2", Context{Catalog: catalog.Default()}, now)
	assert.Equal(t, 2, in.Selection)
	assert.Equal(t, now, in.Now)
	assert.Empty(t, in.Code)
}
