package leads

import (
	"strings"
	"time"
)

// Kind distinguishes fully qualified leads from sales-contact requests that
// skipped the scoring flow.
const (
	KindQualified    = "qualified"
	KindSalesContact = "sales_contact"
)

// Lead is a finalized record produced by the conversation flow.
type Lead struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone"`
	Company     string    `json:"company,omitempty"`
	Website     string    `json:"website,omitempty"`
	Budget      string    `json:"budget,omitempty"`
	Timeline    string    `json:"timeline,omitempty"`
	Description string    `json:"description,omitempty"`
	Score       int       `json:"score"`
	Source      string    `json:"source"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks the minimum fields a lead record needs before persistence.
func (l *Lead) Validate() error {
	if strings.TrimSpace(l.Name) == "" {
		return ErrInvalidName
	}
	if strings.TrimSpace(l.Email) == "" && strings.TrimSpace(l.Phone) == "" {
		return ErrMissingContact
	}
	if l.Kind != KindQualified && l.Kind != KindSalesContact {
		return ErrInvalidKind
	}
	return nil
}
