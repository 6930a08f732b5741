package flow

// Script holds every user-facing string the engine emits. Deployments can
// rebrand or localize the dialogue without touching transition logic.
type Script struct {
	Greeting            []string
	GreetingSuggestions []string

	OptionQualify string
	OptionSales   string
	OptionInfo    string
	OptionDecline string

	AskName     string
	AskEmail    string
	AskPhone    string
	AskCompany  string
	AskWebsite  string
	AskBudget   string
	AskTimeline string

	BudgetSuggestions   []string
	TimelineSuggestions []string

	// OTPInline embeds the code directly in the reply and is only used when
	// delivery is explicitly configured for demo mode.
	OTPInline          string // fmt verb for the code
	OTPEmailSent       string // fmt verb for the recipient address
	OTPDeliveryFailed  string
	OTPIncorrect       string
	OTPExpired         string
	OTPVerified        string
	OTPAttemptsReached string

	ScoredOffer       string
	ScoredSuggestions []string

	SalesAskName        string
	SalesAck            []string
	SalesAckSuggestions []string

	Fallback            string
	FallbackSuggestions []string

	// InfoReplies maps a lowercase keyword to the static reply returned when
	// the keyword appears anywhere in an utterance, at any stage.
	InfoReplies     map[string][]string
	InfoSuggestions []string

	RestartKeywords []string
	ResendKeyword   string
}

// DefaultScript returns the stock LeadSense dialogue.
func DefaultScript() *Script {
	companyInfo := []string{
		"🏢 *LeadSense AI*",
		"We provide automated lead qualification, scoring, and CRM integration.",
	}

	return &Script{
		Greeting: []string{
			"👋 Hi! I'm **LeadSense AI**, your smart lead qualification assistant.",
			"How can I help you today?",
		},
		GreetingSuggestions: []string{"Qualify Me", "Talk to Sales Team", "Company Info"},

		OptionQualify: "Qualify Me",
		OptionSales:   "Talk to Sales Team",
		OptionInfo:    "Company Info",
		OptionDecline: "No Thanks",

		AskName:     "Great! Let's qualify you. ✨\n\nWhat's your full name?",
		AskEmail:    "Nice! 😊\n\nWhat's your email address?",
		AskPhone:    "Enter your mobile number:",
		AskCompany:  "What's your company name?",
		AskWebsite:  "Your company website URL?",
		AskBudget:   "Approximate budget range?",
		AskTimeline: "Expected timeline?",

		BudgetSuggestions:   []string{"Below ₹50K", "₹50K–₹2L", "₹2L–₹5L", "Above ₹5L"},
		TimelineSuggestions: []string{"ASAP", "1–3 months", "3–6 months", "Flexible"},

		OTPInline:          "🔐 OTP sent! (Demo OTP: **%s**)\nPlease enter the OTP:",
		OTPEmailSent:       "🔐 We've emailed a 6-digit code to %s.\nPlease enter the OTP:",
		OTPDeliveryFailed:  "⚠️ We couldn't send your verification code. Reply \"resend\" to try again.",
		OTPIncorrect:       "❌ Incorrect OTP. Try again:",
		OTPExpired:         "That code has expired. Type \"resend\" to get a new one.",
		OTPVerified:        "✅ OTP Verified!",
		OTPAttemptsReached: "Too many incorrect codes. Let's start over.",

		ScoredOffer:       "Would you like to talk to our sales team now?",
		ScoredSuggestions: []string{"Talk to Sales Team", "No Thanks"},

		SalesAskName: "Sure! What's your name?",
		SalesAck: []string{
			"📨 Your details have been sent to our Sales Team.",
			"They will reach you shortly. 🙌",
		},
		SalesAckSuggestions: []string{"Qualify Me", "Company Info"},

		Fallback:            "I didn't understand that. Please choose an option.",
		FallbackSuggestions: []string{"Qualify Me", "Talk to Sales Team"},

		InfoReplies: map[string][]string{
			"terms":   {"📄 Our terms of service are available at https://leadsense.ai/terms."},
			"privacy": {"🔒 We only use your details to qualify your enquiry. Full policy: https://leadsense.ai/privacy."},
			"company": companyInfo,
			"about":   companyInfo,
		},
		InfoSuggestions: []string{"Qualify Me", "Talk to Sales Team"},

		RestartKeywords: []string{"restart", "start over"},
		ResendKeyword:   "resend",
	}
}
