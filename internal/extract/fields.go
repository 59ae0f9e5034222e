package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"bookingagent/internal/booking"
	"bookingagent/internal/catalog"
)

var (
	emailRE = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phoneRE = regexp.MustCompile(`(?:\+|\b00|\b)\d[\d\s\-().]{6,}\d`)

	isoDateRE  = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	dmyDateRE  = regexp.MustCompile(`\b(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{4})\b`)
	monthNames = `(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)`
	mdyDateRE  = regexp.MustCompile(`(?i)\b` + monthNames + `\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)
	dmyNameRE  = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?` + monthNames + `\.?,?\s+(\d{4})\b`)
	pinCueRE   = regexp.MustCompile(`(?i)\b(?:pin\s*code|pincode|pin|postal\s*code|postcode|zip(?:\s*code)?)\s*(?:is|:|-|=)?\s*(\d{3,8})\b`)
	pinBareRE  = regexp.MustCompile(`\b\d{4,6}\b`)
	noteCueRE  = regexp.MustCompile(`(?i)\b(?:note|message|special request|request)\s*[:\-]\s*(.+)$`)
	countryCue = regexp.MustCompile(`(?i)\bcountry\s*(?:is|:|-)?\s*(\p{L}+)`)
	addrCueRE  = regexp.MustCompile(`(?i)(?:\b(?:address|venue|location)\s*(?:is|:|-)?|\bi live (?:at|in)|\blocated at|\bchange (?:my |the )?address to)\s+(.+)$`)
	addrStopRE = regexp.MustCompile(`(?i)\b(?:pin\s*code|pincode|pin|postal|zip|email|phone|whatsapp|mobile|date|name|country)\b`)
	segmentSep = regexp.MustCompile(`[,;\n]+`)
	nameWord   = `[\p{L}][\p{L}\p{M}'.\-]*`
	namePhrase = nameWord + `(?:\s+` + nameWord + `){0,3}`
	nameCueREs = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bmy name is\s+(` + namePhrase + `)`),
		regexp.MustCompile(`(?i)\bname\s*(?:is|:|-)\s*(` + namePhrase + `)`),
		regexp.MustCompile(`(?i)\bchange (?:my |the )?name to\s+(` + namePhrase + `)`),
		regexp.MustCompile(`(?i)\bcall me\s+(` + namePhrase + `)`),
		regexp.MustCompile(`(?i)\bthis is\s+(` + namePhrase + `)`),
		regexp.MustCompile(`(?i)\bi'?m\s+(` + namePhrase + `)`),
		regexp.MustCompile(`(?i)\bi am\s+(` + namePhrase + `)`),
		regexp.MustCompile(`(?:मेरा नाम|मेरो नाम|माझे नाव)\s+(` + namePhrase + `)`),
	}
)

var monthIndex = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

func month(name string) int {
	name = strings.ToLower(name)
	if len(name) > 3 {
		name = name[:3]
	}
	return monthIndex[name]
}

func isoDate(y, m, d int) string {
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

type emailExtractor struct{}

func (emailExtractor) Field() booking.Field { return booking.FieldEmail }

func (emailExtractor) Extract(text string, _ Context) []Match {
	loc := emailRE.FindStringIndex(text)
	if loc == nil {
		return nil
	}
	return []Match{candidate(booking.FieldEmail, text[loc[0]:loc[1]], booking.ConfidenceHigh, loc[0], loc[1])}
}

// dateExtractor reads explicit calendar dates. Impossible dates such as
// 31 February are passed through so the validator can reject them.
type dateExtractor struct{}

func (dateExtractor) Field() booking.Field { return booking.FieldEventDate }

func (dateExtractor) Extract(text string, _ Context) []Match {
	if m := isoDateRE.FindStringSubmatchIndex(text); m != nil {
		v := isoDate(atoi(text[m[2]:m[3]]), atoi(text[m[4]:m[5]]), atoi(text[m[6]:m[7]]))
		return []Match{candidate(booking.FieldEventDate, v, booking.ConfidenceHigh, m[0], m[1])}
	}
	if m := mdyDateRE.FindStringSubmatchIndex(text); m != nil {
		v := isoDate(atoi(text[m[6]:m[7]]), month(text[m[2]:m[3]]), atoi(text[m[4]:m[5]]))
		return []Match{candidate(booking.FieldEventDate, v, booking.ConfidenceHigh, m[0], m[1])}
	}
	if m := dmyNameRE.FindStringSubmatchIndex(text); m != nil {
		v := isoDate(atoi(text[m[6]:m[7]]), month(text[m[4]:m[5]]), atoi(text[m[2]:m[3]]))
		return []Match{candidate(booking.FieldEventDate, v, booking.ConfidenceHigh, m[0], m[1])}
	}
	if m := dmyDateRE.FindStringSubmatchIndex(text); m != nil {
		v := isoDate(atoi(text[m[6]:m[7]]), atoi(text[m[4]:m[5]]), atoi(text[m[2]:m[3]]))
		return []Match{candidate(booking.FieldEventDate, v, booking.ConfidenceHigh, m[0], m[1])}
	}
	return nil
}

// phoneExtractor finds digit runs long enough to be phone numbers. A
// leading "+" or "00" makes the number explicit; a bare run is passed on at
// medium confidence so the validator can ask for the country code.
type phoneExtractor struct{}

func (phoneExtractor) Field() booking.Field { return booking.FieldPhone }

func (phoneExtractor) Extract(text string, _ Context) []Match {
	for _, loc := range phoneRE.FindAllStringIndex(text, -1) {
		raw := strings.TrimSpace(text[loc[0]:loc[1]])
		digits := strings.Map(func(r rune) rune {
			if unicode.IsDigit(r) {
				return r
			}
			return -1
		}, raw)

		explicit := strings.HasPrefix(raw, "+") || strings.HasPrefix(raw, "00")
		switch {
		case explicit && len(digits) >= 7 && len(digits) <= 16:
			return []Match{candidate(booking.FieldPhone, raw, booking.ConfidenceHigh, loc[0], loc[1])}
		case !explicit && len(digits) >= 9 && len(digits) <= 15:
			return []Match{candidate(booking.FieldPhone, raw, booking.ConfidenceMedium, loc[0], loc[1])}
		}
	}
	return nil
}

type pincodeExtractor struct{}

func (pincodeExtractor) Field() booking.Field { return booking.FieldPincode }

func (pincodeExtractor) Extract(text string, _ Context) []Match {
	if m := pinCueRE.FindStringSubmatchIndex(text); m != nil {
		return []Match{candidate(booking.FieldPincode, text[m[2]:m[3]], booking.ConfidenceHigh, m[0], m[1])}
	}
	if loc := pinBareRE.FindStringIndex(text); loc != nil {
		return []Match{candidate(booking.FieldPincode, text[loc[0]:loc[1]], booking.ConfidenceMedium, loc[0], loc[1])}
	}
	return nil
}

type messageExtractor struct{}

func (messageExtractor) Field() booking.Field { return booking.FieldMessage }

func (messageExtractor) Extract(text string, _ Context) []Match {
	m := noteCueRE.FindStringSubmatchIndex(text)
	if m == nil {
		return nil
	}
	return []Match{candidate(booking.FieldMessage, strings.TrimSpace(text[m[2]:m[3]]), booking.ConfidenceHigh, m[0], m[1])}
}

// countryExtractor recognizes a served country by name or alias, or infers
// it from a known city. City inference is low confidence and leaves the
// text in place for the address.
type countryExtractor struct{}

func (countryExtractor) Field() booking.Field { return booking.FieldServiceCountry }

func (countryExtractor) Extract(text string, ctx Context) []Match {
	if ctx.Catalog == nil {
		return nil
	}
	if country, ok := ctx.Catalog.MentionedCountry(text); ok {
		start, end := findWord(text, country)
		return []Match{candidate(booking.FieldServiceCountry, country.Name, booking.ConfidenceHigh, start, end)}
	}
	if m := countryCue.FindStringSubmatchIndex(text); m != nil {
		value := strings.TrimSpace(text[m[2]:m[3]])
		return []Match{candidate(booking.FieldServiceCountry, value, booking.ConfidenceHigh, m[0], m[1])}
	}
	if ctx.Asked == booking.FieldServiceCountry {
		if country, ok := ctx.Catalog.CountryByCity(text); ok {
			return []Match{candidate(booking.FieldServiceCountry, country.Name, booking.ConfidenceLow, 0, 0)}
		}
		if value := trimSegment(text); value != "" {
			return []Match{candidate(booking.FieldServiceCountry, value, booking.ConfidenceLow, 0, 0)}
		}
	}
	return nil
}

// findWord locates the name or alias of country in text for blanking.
func findWord(text string, country catalog.Country) (int, int) {
	lower := strings.ToLower(text)
	for _, term := range append([]string{country.Name}, country.Aliases...) {
		term = strings.ToLower(term)
		if i := strings.Index(lower, term); i >= 0 && len(lower) == len(text) {
			return i, i + len(term)
		}
	}
	return 0, 0
}

// stopwords never appear in a person's name; a cue match is cut at the
// first one ("I am Priya from Pokhara" gives "Priya").
var stopwords = map[string]bool{
	"a": true, "am": true, "an": true, "and": true, "are": true, "at": true, "available": true,
	"book": true, "booking": true, "bridal": true, "bride": true, "but": true, "by": true,
	"can": true, "code": true, "country": true, "date": true, "do": true, "done": true,
	"email": true, "engagement": true, "event": true, "fine": true, "for": true, "from": true,
	"getting": true, "going": true, "good": true, "great": true, "hello": true, "henna": true,
	"here": true, "hey": true, "hi": true, "how": true, "i": true, "in": true, "interested": true,
	"is": true, "it": true, "just": true, "looking": true, "makeup": true, "me": true,
	"mehendi": true, "mehndi": true, "my": true, "name": true, "need": true, "no": true,
	"not": true, "number": true, "of": true, "ok": true, "okay": true, "on": true, "party": true,
	"phone": true, "pin": true, "pincode": true, "planning": true, "please": true, "price": true,
	"ready": true, "so": true, "sure": true, "thanks": true, "thank": true, "the": true,
	"this": true, "to": true, "very": true, "want": true, "wedding": true, "what": true,
	"whatsapp": true, "when": true, "where": true, "with": true, "yes": true, "you": true,
	"address": true, "package": true, "service": true, "option": true,
	"excited": true, "happy": true, "married": true, "new": true, "sorry": true, "confused": true,
	"है": true, "हूँ": true, "हूं": true, "हो": true, "छ": true, "हुँ": true, "आहे": true,
}

// cleanName keeps the leading run of non-stopword words.
func cleanName(phrase string) string {
	var kept []string
	for _, w := range strings.Fields(phrase) {
		w = strings.Trim(w, ".'-")
		if w == "" || stopwords[strings.ToLower(w)] {
			break
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

var bareNameRE = regexp.MustCompile(`^` + namePhrase + `$`)

type nameExtractor struct{}

func (nameExtractor) Field() booking.Field { return booking.FieldName }

func (nameExtractor) Extract(text string, ctx Context) []Match {
	question := strings.Contains(text, "?")
	for _, re := range nameCueREs {
		if question {
			break
		}
		m := re.FindStringSubmatchIndex(text)
		if m == nil {
			continue
		}
		if name := cleanName(text[m[2]:m[3]]); name != "" {
			return []Match{candidate(booking.FieldName, name, booking.ConfidenceHigh, m[0], m[1])}
		}
	}

	if ctx.Asked != booking.FieldName {
		return nil
	}
	for _, seg := range segmentSep.Split(text, -1) {
		trimmed := strings.TrimSpace(strings.Trim(seg, " .!"))
		if trimmed == "" || !bareNameRE.MatchString(trimmed) {
			continue
		}
		if cleanName(trimmed) != trimmed {
			continue
		}
		i := strings.Index(text, trimmed)
		if i < 0 {
			continue
		}
		return []Match{candidate(booking.FieldName, trimmed, booking.ConfidenceLow, i, i+len(trimmed))}
	}
	return nil
}

type addressExtractor struct{}

func (addressExtractor) Field() booking.Field { return booking.FieldAddress }

func (addressExtractor) Extract(text string, ctx Context) []Match {
	if strings.Contains(text, "?") {
		return nil
	}
	if m := addrCueRE.FindStringSubmatchIndex(text); m != nil {
		value := text[m[2]:m[3]]
		if stop := addrStopRE.FindStringIndex(value); stop != nil {
			value = value[:stop[0]]
		}
		if value = trimSegment(value); value != "" {
			return []Match{candidate(booking.FieldAddress, value, booking.ConfidenceHigh, m[0], m[2]+len(value))}
		}
	}

	if ctx.Asked != booking.FieldAddress {
		return nil
	}
	if value := trimSegment(text); value != "" && hasContentWord(value) {
		return []Match{candidate(booking.FieldAddress, value, booking.ConfidenceLow, 0, 0)}
	}
	return nil
}

func hasContentWord(s string) bool {
	for _, w := range strings.Fields(s) {
		w = strings.ToLower(strings.Trim(w, ".,'-!"))
		if w != "" && !stopwords[w] {
			return true
		}
	}
	return false
}

// trimSegment collapses whitespace left by blanking and strips separators
// from both ends.
func trimSegment(s string) string {
	parts := segmentSep.Split(s, -1)
	var kept []string
	for _, p := range parts {
		p = strings.Join(strings.Fields(p), " ")
		if p != "" {
			kept = append(kept, p)
		}
	}
	out := strings.Join(kept, ", ")
	return strings.Trim(out, " ,.-")
}
