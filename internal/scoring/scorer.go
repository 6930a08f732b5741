package scoring

import (
	"strings"

	"github.com/leadsense-ai/platform/internal/session"
)

// Weights is the declarative rule table for lead scoring. Every rule is
// additive and order-independent; missing answer fields contribute zero.
type Weights struct {
	BusinessEmail  int            // email does not contain the free-mail marker
	WebsitePresent int            // website answer is non-empty
	Budget         map[string]int // per budget band
	Timeline       map[string]int // per timeline band
	OTPVerified    int            // fixed bonus; scoring only runs post-verification
}

// FreeMailMarker is the substring that disqualifies an email from the
// business-email bonus.
const FreeMailMarker = "@gmail"

// DefaultWeights returns the production rule table. Maximum attainable score
// is 140.
func DefaultWeights() Weights {
	return Weights{
		BusinessEmail:  20,
		WebsitePresent: 30,
		Budget: map[string]int{
			"Above ₹5L": 40,
			"₹2L–₹5L":   30,
			"₹50K–₹2L":  20,
		},
		Timeline: map[string]int{
			"ASAP":       20,
			"1–3 months": 10,
		},
		OTPVerified: 30,
	}
}

// Max returns the highest score the table can produce.
func (w Weights) Max() int {
	total := w.BusinessEmail + w.WebsitePresent + w.OTPVerified
	best := 0
	for _, v := range w.Budget {
		if v > best {
			best = v
		}
	}
	total += best
	best = 0
	for _, v := range w.Timeline {
		if v > best {
			best = v
		}
	}
	return total + best
}

// Score computes the qualification score for the collected answers. It is
// deterministic, has no side effects, and tolerates any answers mapping
// including nil.
func (w Weights) Score(answers map[string]string) int {
	score := 0

	email := strings.TrimSpace(answers[session.FieldEmail])
	if email != "" && !strings.Contains(strings.ToLower(email), FreeMailMarker) {
		score += w.BusinessEmail
	}

	if strings.TrimSpace(answers[session.FieldWebsite]) != "" {
		score += w.WebsitePresent
	}

	score += lookupBand(w.Budget, answers[session.FieldBudget])
	score += lookupBand(w.Timeline, answers[session.FieldTimeline])

	score += w.OTPVerified
	return score
}

func lookupBand(table map[string]int, answer string) int {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return 0
	}
	for band, points := range table {
		if strings.EqualFold(band, answer) {
			return points
		}
	}
	return 0
}
