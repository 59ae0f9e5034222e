package booking

import (
	"fmt"
	"strings"

	"bookingagent/internal/catalog"
)

// messages holds reply templates per language. Missing keys fall back to English.
var messages = map[Language]map[string]string{
	LangEnglish: {
		"welcome":      "Hello! I can help you book bridal, party, engagement or henna services with Chirag Sharma's studio. Tell me what you are looking for, or ask me anything.",
		"service_menu": "Which service would you like?",
		"package_menu": "Great choice: %s. Please pick a package:",
		"menu_hint":    "Reply with a number or the name.",

		"ask.name":            "May I have your full name?",
		"ask.email":           "What is your email address?",
		"ask.phone":           "Please share your WhatsApp number with the country code (e.g. +919876543210).",
		"ask.address":         "What is the address of the event venue?",
		"ask.pincode":         "What is the PIN / postal code?",
		"ask.service_country": "In which country do you need the service? (India, Nepal, Pakistan, Bangladesh or Dubai)",
		"ask.event_date":      "What is the date of the event? (e.g. 2025-12-25 or December 25, 2025)",
		"ask.message":         "Anything else we should know?",

		"invalid":                                 "That %s doesn't look right.",
		"invalid.name.too_short":                  "The name looks too short.",
		"invalid.name.invalid_format":             "A name can only contain letters, spaces, dots, hyphens and apostrophes.",
		"invalid.email.invalid_format":            "That email address doesn't look valid.",
		"invalid.phone.missing_country_code":      "Please include the country code, for example +91 or +977.",
		"invalid.phone.unknown_country_code":      "We only serve India (+91), Nepal (+977), Pakistan (+92), Bangladesh (+880) and Dubai (+971).",
		"invalid.phone.invalid_length":            "That number has the wrong number of digits for its country.",
		"invalid.phone.invalid_prefix":            "That doesn't look like a mobile number for its country.",
		"invalid.pincode.invalid_format":          "That PIN / postal code doesn't match the country's format.",
		"invalid.service_country.unknown_country": "We currently serve India, Nepal, Pakistan, Bangladesh and Dubai.",
		"invalid.event_date.invalid_date":         "I couldn't read that date.",
		"invalid.event_date.past_date":            "The event date can't be in the past.",
		"invalid.event_date.too_far":              "We take bookings up to three years ahead.",
		"invalid.address.too_short":               "The address looks too short.",
		"reason.option_out_of_range":              "Please reply with a number from 1 to %d.",
		"reason.no_active_code":                   "That code is no longer active. Reply 'yes' to receive a new one.",

		"summary.header": "Please confirm your booking:",
		"summary.footer": "Reply 'yes' to confirm or 'no' to change something.",
		"ask_change":     "No problem. What would you like to change? Send the new value, e.g. 'email is new@example.com'.",
		"otp_sent":       "We've sent a 6-digit code on WhatsApp to %s. Please enter it here to confirm your booking.",
		"otp_resent":     "A new code has been sent to %s.",
		"otp_waiting":    "Please enter the 6-digit code sent to %s, or type 'resend' for a new one.",
		"otp_mismatch":   "That code is incorrect. %d attempt(s) left.",
		"otp_exhausted":  "Too many incorrect attempts. Reply 'yes' to receive a new code.",
		"otp_expired":    "That code has expired. Reply 'yes' to receive a new code.",
		"cancelled":      "Your booking has been cancelled. Say hi whenever you'd like to start again.",
		"completed":      "Your booking is confirmed! Booking ID: %s. Our team will contact you on WhatsApp shortly.",
		"send_failed":    "We couldn't send the confirmation code right now. Please reply 'yes' to try again.",
		"save_failed":    "Your code is correct but we couldn't save the booking. Please send the same code again in a moment.",

		"fallback_answer": "Sorry, I can't answer that right now. Our team will be happy to help on WhatsApp.",

		"field.service":         "Service",
		"field.package":         "Package",
		"field.name":            "Name",
		"field.email":           "Email",
		"field.phone":           "Phone",
		"field.phone_country":   "Phone country",
		"field.service_country": "Country",
		"field.address":         "Address",
		"field.pincode":         "PIN code",
		"field.event_date":      "Event date",
		"field.message":         "Message",
		"field.otp":             "code",
	},
	LangHindi: {
		"welcome":      "नमस्ते! मैं ब्राइडल, पार्टी, एंगेजमेंट या मेहंदी सेवाओं की बुकिंग में आपकी मदद कर सकता हूँ। बताइए आप क्या चाहते हैं, या कोई भी सवाल पूछिए।",
		"service_menu": "आप कौन सी सेवा चाहते हैं?",
		"package_menu": "बढ़िया: %s। कृपया पैकेज चुनें:",
		"menu_hint":    "नंबर या नाम लिखकर जवाब दें।",

		"ask.name":            "कृपया अपना पूरा नाम बताइए।",
		"ask.email":           "कृपया अपना ईमेल पता बताइए।",
		"ask.phone":           "कृपया देश कोड के साथ अपना व्हाट्सएप नंबर बताइए (जैसे +919876543210)।",
		"ask.address":         "कृपया कार्यक्रम का पता बताइए।",
		"ask.pincode":         "कृपया पिन कोड बताइए।",
		"ask.service_country": "सेवा किस देश में चाहिए? (India, Nepal, Pakistan, Bangladesh या Dubai)",
		"ask.event_date":      "कार्यक्रम की तारीख क्या है? (जैसे 2025-12-25)",

		"invalid": "यह %s सही नहीं लग रहा।",

		"summary.header": "कृपया अपनी बुकिंग की पुष्टि करें:",
		"summary.footer": "पुष्टि के लिए 'हां' लिखें या बदलाव के लिए 'नहीं'।",
		"otp_sent":       "हमने %s पर व्हाट्सएप पर 6 अंकों का कोड भेजा है। पुष्टि के लिए कोड यहाँ लिखें।",
		"otp_waiting":    "कृपया %s पर भेजा गया 6 अंकों का कोड लिखें, या नया कोड पाने के लिए 'resend' लिखें।",
		"otp_mismatch":   "कोड गलत है। %d प्रयास बाकी हैं।",
		"otp_exhausted":  "बहुत सारे गलत प्रयास। नया कोड पाने के लिए 'हां' लिखें।",
		"otp_expired":    "कोड की समय सीमा समाप्त हो गई। नया कोड पाने के लिए 'हां' लिखें।",
		"cancelled":      "आपकी बुकिंग रद्द कर दी गई है।",
		"completed":      "आपकी बुकिंग पक्की हो गई है! बुकिंग आईडी: %s",

		"fallback_answer": "माफ़ कीजिए, अभी मैं इसका जवाब नहीं दे पा रहा हूँ।",

		"field.service":         "सेवा",
		"field.package":         "पैकेज",
		"field.name":            "नाम",
		"field.email":           "ईमेल",
		"field.phone":           "फ़ोन",
		"field.service_country": "देश",
		"field.address":         "पता",
		"field.pincode":         "पिन कोड",
		"field.event_date":      "कार्यक्रम की तारीख",
		"field.message":         "संदेश",
	},
	LangNepali: {
		"welcome":      "नमस्ते! म तपाईंलाई ब्राइडल, पार्टी, इन्गेजमेन्ट वा मेहेन्दी सेवा बुक गर्न मद्दत गर्न सक्छु। के चाहिन्छ भन्नुहोस्, वा कुनै पनि प्रश्न सोध्नुहोस्।",
		"service_menu": "तपाईं कुन सेवा चाहनुहुन्छ?",
		"package_menu": "राम्रो छनोट: %s। कृपया प्याकेज छान्नुहोस्:",
		"menu_hint":    "नम्बर वा नाम लेखेर जवाफ दिनुहोस्।",

		"ask.name":            "कृपया आफ्नो पूरा नाम बताउनुहोस्।",
		"ask.email":           "कृपया आफ्नो इमेल ठेगाना बताउनुहोस्।",
		"ask.phone":           "कृपया देश कोड सहित आफ्नो व्हाट्सएप नम्बर दिनुहोस् (जस्तै +9779876543210)।",
		"ask.address":         "कृपया कार्यक्रमको ठेगाना बताउनुहोस्।",
		"ask.pincode":         "कृपया पिन कोड बताउनुहोस्।",
		"ask.service_country": "सेवा कुन देशमा चाहिन्छ? (India, Nepal, Pakistan, Bangladesh वा Dubai)",
		"ask.event_date":      "कार्यक्रमको मिति के हो? (जस्तै 2025-12-25)",

		"invalid": "यो %s मिलेन।",

		"summary.header": "कृपया आफ्नो बुकिङ पुष्टि गर्नुहोस्:",
		"summary.footer": "पुष्टि गर्न 'हो' लेख्नुहोस् वा परिवर्तन गर्न 'होइन' लेख्नुहोस्।",
		"otp_sent":       "हामीले %s मा व्हाट्सएपमार्फत ६ अंकको कोड पठाएका छौं। पुष्टि गर्न कोड यहाँ लेख्नुहोस्।",
		"otp_waiting":    "कृपया %s मा पठाइएको ६ अंकको कोड लेख्नुहोस्, वा नयाँ कोडको लागि 'resend' लेख्नुहोस्।",
		"otp_mismatch":   "कोड गलत छ। %d प्रयास बाँकी छन्।",
		"cancelled":      "तपाईंको बुकिङ रद्द गरिएको छ।",
		"completed":      "तपाईंको बुकिङ पक्का भयो! बुकिङ आईडी: %s",

		"fallback_answer": "माफ गर्नुहोस्, अहिले म यसको जवाफ दिन सक्दिन।",

		"field.service":         "सेवा",
		"field.package":         "प्याकेज",
		"field.name":            "नाम",
		"field.email":           "इमेल",
		"field.phone":           "फोन",
		"field.service_country": "देश",
		"field.address":         "ठेगाना",
		"field.pincode":         "पिन कोड",
		"field.event_date":      "कार्यक्रमको मिति",
		"field.message":         "सन्देश",
	},
	LangMarathi: {
		"welcome":      "नमस्कार! मी तुम्हाला ब्रायडल, पार्टी, एंगेजमेंट किंवा मेहंदी सेवा बुक करण्यात मदत करू शकतो. तुम्हाला काय हवे ते सांगा किंवा कोणताही प्रश्न विचारा.",
		"service_menu": "तुम्हाला कोणती सेवा हवी आहे?",
		"package_menu": "छान निवड: %s. कृपया पॅकेज निवडा:",
		"menu_hint":    "क्रमांक किंवा नाव लिहून उत्तर द्या.",

		"ask.name":            "कृपया तुमचे पूर्ण नाव सांगा.",
		"ask.email":           "कृपया तुमचा ईमेल पत्ता सांगा.",
		"ask.phone":           "कृपया देश कोडसह तुमचा व्हॉट्सअॅप नंबर द्या (उदा. +919876543210).",
		"ask.address":         "कृपया कार्यक्रमाचा पत्ता सांगा.",
		"ask.pincode":         "कृपया पिन कोड सांगा.",
		"ask.service_country": "सेवा कोणत्या देशात हवी आहे? (India, Nepal, Pakistan, Bangladesh किंवा Dubai)",
		"ask.event_date":      "कार्यक्रमाची तारीख काय आहे? (उदा. 2025-12-25)",

		"invalid": "हे %s बरोबर वाटत नाही.",

		"summary.header": "कृपया तुमच्या बुकिंगची पुष्टी करा:",
		"summary.footer": "पुष्टीसाठी 'हो' लिहा किंवा बदलासाठी 'नाही' लिहा.",
		"otp_sent":       "आम्ही %s वर व्हॉट्सअॅपवर ६ अंकी कोड पाठवला आहे. पुष्टीसाठी तो कोड येथे लिहा.",
		"otp_waiting":    "कृपया %s वर पाठवलेला ६ अंकी कोड लिहा, किंवा नवीन कोडसाठी 'resend' लिहा.",
		"otp_mismatch":   "कोड चुकीचा आहे. %d प्रयत्न शिल्लक आहेत.",
		"cancelled":      "तुमचे बुकिंग रद्द केले आहे.",
		"completed":      "तुमचे बुकिंग निश्चित झाले! बुकिंग आयडी: %s",

		"fallback_answer": "माफ करा, सध्या मी याचे उत्तर देऊ शकत नाही.",

		"field.service":         "सेवा",
		"field.package":         "पॅकेज",
		"field.name":            "नाव",
		"field.email":           "ईमेल",
		"field.phone":           "फोन",
		"field.service_country": "देश",
		"field.address":         "पत्ता",
		"field.pincode":         "पिन कोड",
		"field.event_date":      "कार्यक्रमाची तारीख",
		"field.message":         "संदेश",
	},
}

// summaryFields is the display order of the confirmation summary.
var summaryFields = []Field{
	FieldService,
	FieldPackage,
	FieldName,
	FieldEmail,
	FieldPhone,
	FieldServiceCountry,
	FieldAddress,
	FieldPincode,
	FieldEventDate,
	FieldMessage,
}

// Renderer turns directives into reply text.
type Renderer struct {
	catalog catalog.Source
}

// NewRenderer creates a renderer that lists options from src.
func NewRenderer(src catalog.Source) *Renderer {
	return &Renderer{catalog: src}
}

// Text returns the template key in lang, formatted with args.
func (r *Renderer) Text(lang Language, key string, args ...any) string {
	tmpl, ok := messages[lang][key]
	if !ok {
		tmpl, ok = messages[LangEnglish][key]
	}
	if !ok {
		return key
	}
	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}

func (r *Renderer) has(lang Language, key string) bool {
	if _, ok := messages[lang][key]; ok {
		return true
	}
	_, ok := messages[LangEnglish][key]
	return ok
}

// FieldLabel is the display name of f.
func (r *Renderer) FieldLabel(lang Language, f Field) string {
	return r.Text(lang, "field."+string(f))
}

// Render produces the reply text for d. The output depends only on the
// directive and the session, never on the raw message.
func (r *Renderer) Render(d Directive, s Session) string {
	lang := s.Language
	switch d.Kind {
	case PromptWelcome:
		return r.Text(lang, "welcome")
	case PromptServiceMenu:
		return r.serviceMenu(lang)
	case PromptPackageMenu:
		return r.packageMenu(lang, s.Intent.Get(FieldService))
	case PromptAskField:
		return r.ask(lang, d.Field)
	case PromptReprompt:
		return r.reprompt(lang, d, s)
	case PromptSummary:
		return r.summary(s)
	case PromptAskChange:
		return r.Text(lang, "ask_change")
	case PromptOTPSent:
		return r.Text(lang, "otp_sent", MaskPhone(s.Intent.Get(FieldPhone)))
	case PromptOTPResent:
		return r.Text(lang, "otp_resent", MaskPhone(s.Intent.Get(FieldPhone)))
	case PromptOTPWaiting:
		return r.Text(lang, "otp_waiting", MaskPhone(s.Intent.Get(FieldPhone)))
	case PromptOTPMismatch:
		remaining := 0
		if s.Pending != nil {
			remaining = s.Pending.Remaining()
		}
		return r.Text(lang, "otp_mismatch", remaining)
	case PromptOTPExhausted:
		return r.Text(lang, "otp_exhausted")
	case PromptOTPExpired:
		return r.Text(lang, "otp_expired")
	case PromptCancelled:
		return r.Text(lang, "cancelled")
	case PromptCompleted:
		return r.Text(lang, "completed", "")
	}
	return r.Text(lang, "welcome")
}

// BookingConfirmed is the reply for a committed booking.
func (r *Renderer) BookingConfirmed(lang Language, bookingID string) string {
	return r.Text(lang, "completed", bookingID)
}

func (r *Renderer) ask(lang Language, f Field) string {
	if r.has(lang, "ask."+string(f)) {
		return r.Text(lang, "ask."+string(f))
	}
	return r.Text(lang, "ask.message")
}

func (r *Renderer) serviceMenu(lang Language) string {
	var b strings.Builder
	b.WriteString(r.Text(lang, "service_menu"))
	for i, svc := range r.catalog.Catalog().Services {
		fmt.Fprintf(&b, "\n%d. %s", i+1, svc.Name)
	}
	b.WriteString("\n")
	b.WriteString(r.Text(lang, "menu_hint"))
	return b.String()
}

func (r *Renderer) packageMenu(lang Language, service string) string {
	svc, ok := r.catalog.Catalog().ServiceByName(service)
	if !ok {
		return r.serviceMenu(lang)
	}
	var b strings.Builder
	b.WriteString(r.Text(lang, "package_menu", svc.Name))
	for i, p := range svc.Packages {
		fmt.Fprintf(&b, "\n%d. %s - %s", i+1, p.Name, p.Price)
	}
	b.WriteString("\n")
	b.WriteString(r.Text(lang, "menu_hint"))
	return b.String()
}

func (r *Renderer) reprompt(lang Language, d Directive, s Session) string {
	switch d.Field {
	case FieldService:
		n := len(r.catalog.Catalog().Services)
		return r.Text(lang, "reason."+d.Reason, n) + "\n" + r.serviceMenu(lang)
	case FieldPackage:
		n := 0
		if svc, ok := r.catalog.Catalog().ServiceByName(s.Intent.Get(FieldService)); ok {
			n = len(svc.Packages)
		}
		return r.Text(lang, "reason."+d.Reason, n) + "\n" + r.packageMenu(lang, s.Intent.Get(FieldService))
	case FieldOTP:
		return r.Text(lang, "reason."+d.Reason)
	}

	key := "invalid." + string(d.Field) + "." + d.Reason
	var msg string
	if r.has(lang, key) {
		msg = r.Text(lang, key)
	} else {
		msg = r.Text(lang, "invalid", strings.ToLower(r.FieldLabel(lang, d.Field)))
	}
	return msg + " " + r.ask(lang, d.Field)
}

func (r *Renderer) summary(s Session) string {
	lang := s.Language
	var b strings.Builder
	b.WriteString(r.Text(lang, "summary.header"))
	for _, f := range summaryFields {
		if !s.Intent.Has(f) {
			continue
		}
		fmt.Fprintf(&b, "\n%s: %s", r.FieldLabel(lang, f), s.Intent.Get(f))
	}
	b.WriteString("\n")
	b.WriteString(r.Text(lang, "summary.footer"))
	return b.String()
}
