package extract

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"bookingagent/internal/booking"
	"bookingagent/internal/catalog"
)

var (
	selectionRE = regexp.MustCompile(`(?i)^\s*(?:option|choice|number|no\.?|#)?\s*(\d{1,2})\s*[.)]?\s*$`)
	codeRE      = regexp.MustCompile(`\b\d{6}\b`)
)

var (
	greetingWords = []string{"hi", "hii", "hello", "hey", "namaste", "namaskar", "नमस्ते", "नमस्कार", "good morning", "good evening"}
	intentWords   = []string{"book", "booking", "appointment", "reserve", "schedule", "want", "need", "interested", "बुक", "बुकिंग"}
	questionWords = []string{
		"what", "how", "why", "when", "where", "who", "which",
		"can", "do", "does", "is", "are", "will", "could", "would", "should", "tell",
		"kya", "kaise", "kitna", "क्या", "कैसे", "कितना", "के", "कति", "कसरी", "काय", "कसे", "किती",
	}
	socialWords  = []string{"instagram", "facebook", "youtube", "website", "portfolio", "reviews"}
	confirmWords = []string{"yes", "y", "yeah", "yep", "sure", "ok", "okay", "confirm", "confirmed", "correct", "proceed", "go ahead", "looks good", "हां", "हाँ", "हो", "होय", "ठीक"}
	rejectWords  = []string{"no", "nope", "wrong", "incorrect", "change", "edit", "नहीं", "होइन", "नाही"}
	cancelWords  = []string{"cancel", "exit", "quit", "stop", "रद्द"}
	restartWords = []string{"restart", "start over", "start again", "new booking", "reset"}
	resendWords  = []string{"resend", "send again", "new code", "another code", "didn't get", "didnt get", "not received"}
)

// changeWords maps the words users use for a field to the field.
var changeWords = []struct {
	word  string
	field booking.Field
}{
	{"email", booking.FieldEmail},
	{"e-mail", booking.FieldEmail},
	{"phone", booking.FieldPhone},
	{"number", booking.FieldPhone},
	{"mobile", booking.FieldPhone},
	{"whatsapp", booking.FieldPhone},
	{"name", booking.FieldName},
	{"address", booking.FieldAddress},
	{"venue", booking.FieldAddress},
	{"pincode", booking.FieldPincode},
	{"pin code", booking.FieldPincode},
	{"postal code", booking.FieldPincode},
	{"zip", booking.FieldPincode},
	{"country", booking.FieldServiceCountry},
	{"date", booking.FieldEventDate},
	{"note", booking.FieldMessage},
	{"message", booking.FieldMessage},
}

var changeVerbs = []string{"change", "update", "edit", "correct", "fix", "wrong", "modify"}

// approvalPhrases approve a summary although they contain a reject word.
var approvalPhrases = []string{"no changes", "no change", "nothing to change", "no corrections", "all good"}

// Detect reads the conversational signals in text.
func Detect(text string) booking.Signals {
	lower := strings.ToLower(strings.TrimSpace(text))
	question := isQuestion(lower)

	approved := containsAny(lower, approvalPhrases)
	rest := lower
	if approved {
		for _, p := range approvalPhrases {
			rest = strings.ReplaceAll(rest, p, " ")
		}
	}

	return booking.Signals{
		Greeting:      containsAny(lower, greetingWords),
		BookingIntent: containsAny(lower, intentWords),
		Question:      question,
		Confirm:       approved || containsAny(lower, confirmWords),
		Reject:        containsAny(rest, rejectWords),
		Resend:        containsAny(lower, resendWords),
		Cancel:        !question && containsAny(lower, cancelWords),
		Restart:       !question && containsAny(lower, restartWords),
	}
}

func isQuestion(lower string) bool {
	if strings.ContainsAny(lower, "?？") {
		return true
	}
	if containsAny(lower, socialWords) {
		return true
	}
	first := strings.FieldsFunc(lower, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	if len(first) == 0 {
		return false
	}
	for _, w := range questionWords {
		if first[0] == w {
			return true
		}
	}
	return false
}

func containsAny(lower string, words []string) bool {
	for _, w := range words {
		if catalog.ContainsWord(lower, w) {
			return true
		}
	}
	return false
}

// Selection returns the option number when text is nothing but an option
// reference such as "2", "#3" or "option 1.", and 0 otherwise.
func Selection(text string) int {
	m := selectionRE.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// Code returns the confirmation code in text when it carries exactly one
// 6-digit number.
func Code(text string) string {
	codes := codeRE.FindAllString(text, 2)
	if len(codes) != 1 {
		return ""
	}
	return codes[0]
}

// ChangeRequest returns the field a user wants to change, as in "change my
// email" or "wrong phone". A bare field word ("email") counts too.
func ChangeRequest(text string) booking.Field {
	lower := strings.ToLower(strings.Trim(strings.TrimSpace(text), ".!"))
	verb := containsAny(lower, changeVerbs)
	for _, cw := range changeWords {
		if !catalog.ContainsWord(lower, cw.word) {
			continue
		}
		if verb || lower == cw.word || lower == "my "+cw.word {
			return cw.field
		}
	}
	return ""
}
