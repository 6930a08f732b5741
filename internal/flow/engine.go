package flow

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/leadsense-ai/platform/internal/leads"
	"github.com/leadsense-ai/platform/internal/scoring"
	"github.com/leadsense-ai/platform/internal/session"
	"github.com/leadsense-ai/platform/pkg/logging"
)

// EventKind distinguishes widget-initiated triggers from visitor messages.
type EventKind string

const (
	EventMessage EventKind = "message"
	EventTrigger EventKind = "trigger"
)

// OTP delivery channels. Inline delivery embeds the code in the chat reply
// and must be an explicit configuration choice.
const (
	OTPDeliveryEmail  = "email"
	OTPDeliveryInline = "inline"
)

// Reply is the channel-agnostic outcome of one engine step.
type Reply struct {
	Messages    []string
	Suggestions []string
}

// OTPSender delivers a one-time code out-of-band.
type OTPSender interface {
	SendOTP(ctx context.Context, to, code string) error
}

// LeadPublisher enqueues finished leads for asynchronous CRM sync and
// sales-queue notification.
type LeadPublisher interface {
	EnqueueLeadUpsert(ctx context.Context, lead leads.Lead) error
	EnqueueSalesHandoff(ctx context.Context, lead leads.Lead) error
}

// Recorder receives conversation progress counters. Implementations must be
// safe for concurrent use.
type Recorder interface {
	RecordOTPVerification(verified bool)
	RecordLeadScored()
	RecordGatewayFailure(gateway string)
}

// Config tunes engine policy.
type Config struct {
	// OTPDelivery selects "email" or "inline".
	OTPDelivery string
	// OTPMaxAttempts bounds consecutive failed verifications; 0 means
	// unlimited. Exceeding the bound resets the conversation to the menu.
	OTPMaxAttempts int
	// OTPExpiry invalidates a pending code after this duration; 0 means
	// codes never expire. An expired code requires a resend.
	OTPExpiry time.Duration
	// Weights is the scoring rule table.
	Weights scoring.Weights
	// LeadSource labels leads produced by this deployment.
	LeadSource string
}

// Engine drives the scripted qualification dialogue. Advance mutates the
// session it is given; callers persist the session afterwards and serialize
// calls per conversation id.
type Engine struct {
	cfg       Config
	script    *Script
	otp       OTPSender
	publisher LeadPublisher
	recorder  Recorder
	logger    *logging.Logger
}

// NewEngine creates a conversation engine. otp, publisher, and recorder may
// be nil when the corresponding integration is not configured.
func NewEngine(cfg Config, script *Script, otp OTPSender, publisher LeadPublisher, recorder Recorder, logger *logging.Logger) *Engine {
	if script == nil {
		script = DefaultScript()
	}
	if cfg.OTPDelivery == "" {
		cfg.OTPDelivery = OTPDeliveryEmail
	}
	if cfg.Weights.Max() == 0 {
		cfg.Weights = scoring.DefaultWeights()
	}
	if cfg.LeadSource == "" {
		cfg.LeadSource = "salesiq"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		cfg:       cfg,
		script:    script,
		otp:       otp,
		publisher: publisher,
		recorder:  recorder,
		logger:    logger,
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func optionMatches(utterance, option string) bool {
	return normalize(utterance) == normalize(option)
}

// Advance applies one inbound event to the session and returns the reply.
// Every input yields a well-formed reply; the error return is reserved for
// context cancellation and never reflects user input.
func (e *Engine) Advance(ctx context.Context, s *session.Session, utterance string, kind EventKind) (Reply, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}

	utterance = strings.TrimSpace(utterance)

	if kind == EventTrigger || s.Stage == session.StageStart {
		return e.greet(s), nil
	}

	if e.isRestart(utterance) {
		s.ClearQualification()
		s.Stage = session.StageMainMenu
		return e.menu(), nil
	}

	if reply, ok := e.infoReply(utterance); ok {
		return reply, nil
	}

	switch s.Stage {
	case session.StageMainMenu:
		return e.stepMainMenu(s, utterance), nil
	case session.StageQualifyName:
		s.SetAnswer(session.FieldName, utterance)
		s.Stage = session.StageQualifyEmail
		return Reply{Messages: []string{e.script.AskEmail}}, nil
	case session.StageQualifyEmail:
		s.SetAnswer(session.FieldEmail, utterance)
		s.Stage = session.StageQualifyPhone
		return Reply{Messages: []string{e.script.AskPhone}}, nil
	case session.StageQualifyPhone:
		s.SetAnswer(session.FieldPhone, utterance)
		return e.beginOTP(ctx, s), nil
	case session.StageAwaitingOTP:
		return e.stepOTP(ctx, s, utterance), nil
	case session.StageQualifyCompany:
		s.SetAnswer(session.FieldCompany, utterance)
		s.Stage = session.StageQualifyWebsite
		return Reply{Messages: []string{e.script.AskWebsite}}, nil
	case session.StageQualifyWebsite:
		s.SetAnswer(session.FieldWebsite, utterance)
		s.Stage = session.StageQualifyBudget
		return Reply{Messages: []string{e.script.AskBudget}, Suggestions: e.script.BudgetSuggestions}, nil
	case session.StageQualifyBudget:
		s.SetAnswer(session.FieldBudget, utterance)
		s.Stage = session.StageQualifyTimeline
		return Reply{Messages: []string{e.script.AskTimeline}, Suggestions: e.script.TimelineSuggestions}, nil
	case session.StageQualifyTimeline:
		s.SetAnswer(session.FieldTimeline, utterance)
		return e.finishQualification(ctx, s), nil
	case session.StageScored:
		return e.stepScored(s, utterance), nil
	case session.StageSalesName:
		s.SetAnswer(session.FieldSalesName, utterance)
		s.Stage = session.StageSalesEmail
		return Reply{Messages: []string{"Your email address?"}}, nil
	case session.StageSalesEmail:
		s.SetAnswer(session.FieldSalesEmail, utterance)
		s.Stage = session.StageSalesPhone
		return Reply{Messages: []string{"Your contact number?"}}, nil
	case session.StageSalesPhone:
		s.SetAnswer(session.FieldSalesPhone, utterance)
		return e.finishSales(ctx, s), nil
	case session.StageSalesDone:
		// The acknowledgment offers menu suggestions, so the next message
		// is already a menu selection.
		s.Stage = session.StageMainMenu
		return e.stepMainMenu(s, utterance), nil
	default:
		// Unknown stage in a stored session. Recover to the menu rather
		// than fail the webhook.
		e.logger.Warn("recovering session from unknown stage", "session_id", s.ID, "stage", s.Stage)
		s.Stage = session.StageMainMenu
		return e.menu(), nil
	}
}

func (e *Engine) greet(s *session.Session) Reply {
	s.Stage = session.StageMainMenu
	return Reply{Messages: e.script.Greeting, Suggestions: e.script.GreetingSuggestions}
}

func (e *Engine) menu() Reply {
	return Reply{Messages: e.script.Greeting, Suggestions: e.script.GreetingSuggestions}
}

func (e *Engine) fallback() Reply {
	return Reply{Messages: []string{e.script.Fallback}, Suggestions: e.script.FallbackSuggestions}
}

func (e *Engine) isRestart(utterance string) bool {
	n := normalize(utterance)
	for _, kw := range e.script.RestartKeywords {
		if n == normalize(kw) {
			return true
		}
	}
	return false
}

func (e *Engine) infoReply(utterance string) (Reply, bool) {
	n := normalize(utterance)
	if n == "" {
		return Reply{}, false
	}
	for keyword, messages := range e.script.InfoReplies {
		if strings.Contains(n, keyword) {
			return Reply{Messages: messages, Suggestions: e.script.InfoSuggestions}, true
		}
	}
	return Reply{}, false
}

func (e *Engine) stepMainMenu(s *session.Session, utterance string) Reply {
	switch {
	case optionMatches(utterance, e.script.OptionQualify):
		// A fresh pass; answers are write-once within a pass.
		s.ClearQualification()
		s.Stage = session.StageQualifyName
		return Reply{Messages: []string{e.script.AskName}}
	case optionMatches(utterance, e.script.OptionSales):
		s.ClearQualification()
		s.Stage = session.StageSalesName
		return Reply{Messages: []string{e.script.SalesAskName}}
	case optionMatches(utterance, e.script.OptionInfo):
		return Reply{Messages: e.script.InfoReplies["company"], Suggestions: e.script.InfoSuggestions}
	default:
		return e.fallback()
	}
}

// beginOTP generates the code, moves the session to the verification stage,
// and attempts delivery. A failed delivery keeps the code so the visitor can
// ask for a resend.
func (e *Engine) beginOTP(ctx context.Context, s *session.Session) Reply {
	s.PendingOTP = generateOTP()
	s.OTPIssuedAt = time.Now().UTC()
	s.OTPAttempts = 0
	s.Stage = session.StageAwaitingOTP
	return e.deliverOTP(ctx, s)
}

func (e *Engine) deliverOTP(ctx context.Context, s *session.Session) Reply {
	// Inline delivery is an explicit configuration choice. Out-of-band
	// delivery never degrades to echoing the code into the chat.
	if e.cfg.OTPDelivery == OTPDeliveryInline {
		return Reply{Messages: []string{fmt.Sprintf(e.script.OTPInline, s.PendingOTP)}}
	}

	if e.otp == nil {
		e.logger.Error("otp delivery impossible: no sender configured", "session_id", s.ID)
		if e.recorder != nil {
			e.recorder.RecordGatewayFailure("otp_email")
		}
		return Reply{Messages: []string{e.script.OTPDeliveryFailed}}
	}

	email := s.Answer(session.FieldEmail)
	if err := e.otp.SendOTP(ctx, email, s.PendingOTP); err != nil {
		e.logger.Error("otp delivery failed", "error", err, "session_id", s.ID)
		if e.recorder != nil {
			e.recorder.RecordGatewayFailure("otp_email")
		}
		return Reply{Messages: []string{e.script.OTPDeliveryFailed}}
	}
	return Reply{Messages: []string{fmt.Sprintf(e.script.OTPEmailSent, email)}}
}

func (e *Engine) stepOTP(ctx context.Context, s *session.Session, utterance string) Reply {
	if normalize(utterance) == normalize(e.script.ResendKeyword) {
		s.PendingOTP = generateOTP()
		s.OTPIssuedAt = time.Now().UTC()
		return e.deliverOTP(ctx, s)
	}

	if e.otpExpired(s) {
		return Reply{Messages: []string{e.script.OTPExpired}}
	}

	if utterance == s.PendingOTP && s.PendingOTP != "" {
		s.PendingOTP = ""
		s.OTPIssuedAt = time.Time{}
		s.OTPAttempts = 0
		s.Stage = session.StageQualifyCompany
		if e.recorder != nil {
			e.recorder.RecordOTPVerification(true)
		}
		return Reply{Messages: []string{e.script.OTPVerified + "\n\n" + e.script.AskCompany}}
	}

	if e.recorder != nil {
		e.recorder.RecordOTPVerification(false)
	}
	s.OTPAttempts++
	if e.cfg.OTPMaxAttempts > 0 && s.OTPAttempts >= e.cfg.OTPMaxAttempts {
		s.ClearQualification()
		s.Stage = session.StageMainMenu
		reply := e.menu()
		reply.Messages = append([]string{e.script.OTPAttemptsReached}, reply.Messages...)
		return reply
	}
	return Reply{Messages: []string{e.script.OTPIncorrect}}
}

func (e *Engine) otpExpired(s *session.Session) bool {
	if e.cfg.OTPExpiry <= 0 || s.OTPIssuedAt.IsZero() {
		return false
	}
	return time.Since(s.OTPIssuedAt) > e.cfg.OTPExpiry
}

func (e *Engine) finishQualification(ctx context.Context, s *session.Session) Reply {
	score := e.cfg.Weights.Score(s.Answers)
	s.SetScore(score)
	s.Stage = session.StageScored
	if e.recorder != nil {
		e.recorder.RecordLeadScored()
	}

	lead := leads.Lead{
		Kind:     leads.KindQualified,
		Name:     s.Answer(session.FieldName),
		Email:    s.Answer(session.FieldEmail),
		Phone:    s.Answer(session.FieldPhone),
		Company:  s.Answer(session.FieldCompany),
		Website:  s.Answer(session.FieldWebsite),
		Budget:   s.Answer(session.FieldBudget),
		Timeline: s.Answer(session.FieldTimeline),
		Score:    score,
		Source:   e.cfg.LeadSource,
	}

	// CRM sync must never block or fail the summary.
	if e.publisher != nil {
		if err := e.publisher.EnqueueLeadUpsert(ctx, lead); err != nil {
			e.logger.Error("failed to enqueue lead upsert", "error", err, "session_id", s.ID)
			if e.recorder != nil {
				e.recorder.RecordGatewayFailure("lead_queue")
			}
		}
	}

	return Reply{
		Messages:    []string{e.summary(s, score), e.script.ScoredOffer},
		Suggestions: e.script.ScoredSuggestions,
	}
}

func (e *Engine) summary(s *session.Session, score int) string {
	return fmt.Sprintf("🧾 *Lead Summary*\n\n"+
		"👤 Name: %s\n"+
		"📧 Email: %s\n"+
		"📞 Phone: %s\n"+
		"🏢 Company: %s\n"+
		"🌐 Website: %s\n"+
		"💰 Budget: %s\n"+
		"⏱ Timeline: %s\n\n"+
		"⭐ *Lead Score: %d/%d*",
		s.Answer(session.FieldName),
		s.Answer(session.FieldEmail),
		s.Answer(session.FieldPhone),
		s.Answer(session.FieldCompany),
		s.Answer(session.FieldWebsite),
		s.Answer(session.FieldBudget),
		s.Answer(session.FieldTimeline),
		score, e.cfg.Weights.Max())
}

func (e *Engine) stepScored(s *session.Session, utterance string) Reply {
	switch {
	case optionMatches(utterance, e.script.OptionSales):
		s.Stage = session.StageSalesName
		return Reply{Messages: []string{e.script.SalesAskName}}
	case optionMatches(utterance, e.script.OptionDecline):
		s.Stage = session.StageMainMenu
		return e.menu()
	default:
		s.Stage = session.StageMainMenu
		return e.fallback()
	}
}

func (e *Engine) finishSales(ctx context.Context, s *session.Session) Reply {
	s.Stage = session.StageSalesDone

	lead := leads.Lead{
		Kind:   leads.KindSalesContact,
		Name:   s.Answer(session.FieldSalesName),
		Email:  s.Answer(session.FieldSalesEmail),
		Phone:  s.Answer(session.FieldSalesPhone),
		Source: e.cfg.LeadSource,
	}

	if e.publisher != nil {
		if err := e.publisher.EnqueueSalesHandoff(ctx, lead); err != nil {
			e.logger.Error("failed to enqueue sales handoff", "error", err, "session_id", s.ID)
			if e.recorder != nil {
				e.recorder.RecordGatewayFailure("lead_queue")
			}
		}
	}

	return Reply{Messages: e.script.SalesAck, Suggestions: e.script.SalesAckSuggestions}
}

// generateOTP returns a uniformly random 6-digit code.
func generateOTP() string {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		// crypto/rand only fails when the platform entropy source is
		// broken; there is no weaker fallback worth having.
		panic(fmt.Sprintf("flow: otp generation failed: %v", err))
	}
	return fmt.Sprintf("%06d", n.Int64()+100000)
}
