package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/leadsense-ai/platform/internal/leads"
	"github.com/leadsense-ai/platform/pkg/logging"
)

// Service sends conversational side-channel email: one-time codes to visitors
// and lead notices to the sales queue.
type Service struct {
	email      EmailSender
	salesQueue []string
	logger     *logging.Logger
}

// NewService creates a notification service. salesQueue lists the addresses
// that receive lead and handoff notices.
func NewService(email EmailSender, salesQueue []string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		email:      email,
		salesQueue: salesQueue,
		logger:     logger,
	}
}

// SendOTP delivers a one-time verification code to the visitor's email.
func (s *Service) SendOTP(ctx context.Context, to, code string) error {
	if s.email == nil {
		return fmt.Errorf("notify: no email sender configured")
	}
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("notify: OTP destination required")
	}

	msg := EmailMessage{
		To:      to,
		Subject: "Your LeadSense verification code",
		Body: fmt.Sprintf(`Your verification code is: %s

Enter this code in the chat window to continue.

— LeadSense AI`, code),
	}
	if err := s.email.Send(ctx, msg); err != nil {
		s.logger.Error("notify: failed to send OTP", "error", err, "to", to)
		return fmt.Errorf("notify: send OTP: %w", err)
	}
	s.logger.Info("notify: OTP sent", "to", to)
	return nil
}

// NotifyLead informs the sales queue about a finalized lead record. Qualified
// leads carry their score; sales-contact requests ask for a callback.
func (s *Service) NotifyLead(ctx context.Context, lead *leads.Lead) error {
	if s.email == nil || len(s.salesQueue) == 0 {
		s.logger.Debug("notify: sales queue not configured, skipping lead notice")
		return nil
	}

	var subject, body string
	switch lead.Kind {
	case leads.KindSalesContact:
		subject = fmt.Sprintf("Sales callback requested - %s", lead.Name)
		body = fmt.Sprintf(`%s asked to talk to the sales team.

Name: %s
Email: %s
Phone: %s

Please reach out shortly.

— LeadSense AI`, lead.Name, lead.Name, lead.Email, lead.Phone)
	default:
		subject = fmt.Sprintf("Qualified lead - %s (score %d)", lead.Name, lead.Score)
		body = fmt.Sprintf(`A new lead finished qualification.

Name: %s
Email: %s
Phone: %s
Company: %s
Website: %s
Budget: %s
Timeline: %s
Score: %d/140

— LeadSense AI`, lead.Name, lead.Email, lead.Phone, lead.Company, lead.Website,
			lead.Budget, lead.Timeline, lead.Score)
	}

	var errs []error
	for _, recipient := range s.salesQueue {
		msg := EmailMessage{
			To:      recipient,
			Subject: subject,
			Body:    body,
		}
		if err := s.email.Send(ctx, msg); err != nil {
			s.logger.Error("notify: failed to send lead notice", "error", err, "to", recipient)
			errs = append(errs, err)
		} else {
			s.logger.Info("notify: lead notice sent", "to", recipient, "lead_id", lead.ID, "kind", lead.Kind)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d notification(s) failed", len(errs))
	}
	return nil
}
