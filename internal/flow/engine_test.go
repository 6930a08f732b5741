package flow

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leadsense-ai/platform/internal/leads"
	"github.com/leadsense-ai/platform/internal/session"
	"github.com/leadsense-ai/platform/pkg/logging"
)

var otpPattern = regexp.MustCompile(`\d{6}`)

type stubOTPSender struct {
	mu    sync.Mutex
	codes []string
	to    []string
	err   error
}

func (s *stubOTPSender) SendOTP(ctx context.Context, to, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.to = append(s.to, to)
	s.codes = append(s.codes, code)
	return nil
}

func (s *stubOTPSender) lastCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.codes) == 0 {
		return ""
	}
	return s.codes[len(s.codes)-1]
}

type stubPublisher struct {
	upserts  []leads.Lead
	handoffs []leads.Lead
	err      error
}

func (p *stubPublisher) EnqueueLeadUpsert(ctx context.Context, lead leads.Lead) error {
	if p.err != nil {
		return p.err
	}
	p.upserts = append(p.upserts, lead)
	return nil
}

func (p *stubPublisher) EnqueueSalesHandoff(ctx context.Context, lead leads.Lead) error {
	if p.err != nil {
		return p.err
	}
	p.handoffs = append(p.handoffs, lead)
	return nil
}

type stubRecorder struct {
	verified int
	failed   int
	scored   int
	gateway  []string
}

func (r *stubRecorder) RecordOTPVerification(ok bool) {
	if ok {
		r.verified++
	} else {
		r.failed++
	}
}
func (r *stubRecorder) RecordLeadScored() { r.scored++ }

func (r *stubRecorder) RecordGatewayFailure(name string) {
	r.gateway = append(r.gateway, name)
}

func newTestEngine(cfg Config, otp OTPSender, pub LeadPublisher, rec Recorder) *Engine {
	return NewEngine(cfg, DefaultScript(), otp, pub, rec, logging.Default())
}

func advance(t *testing.T, e *Engine, s *session.Session, text string) Reply {
	t.Helper()
	reply, err := e.Advance(context.Background(), s, text, EventMessage)
	if err != nil {
		t.Fatalf("advance(%q): %v", text, err)
	}
	if len(reply.Messages) == 0 {
		t.Fatalf("advance(%q): empty reply", text)
	}
	if !s.Stage.Known() {
		t.Fatalf("advance(%q): unknown stage %q", text, s.Stage)
	}
	return reply
}

func TestTriggerGreetsAndEntersMenu(t *testing.T) {
	engine := newTestEngine(Config{OTPDelivery: OTPDeliveryInline}, nil, nil, nil)
	s := session.New("v1")

	reply, err := engine.Advance(context.Background(), s, "", EventTrigger)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if s.Stage != session.StageMainMenu {
		t.Fatalf("expected main menu, got %s", s.Stage)
	}
	if len(reply.Suggestions) != 3 {
		t.Fatalf("expected 3 menu options, got %v", reply.Suggestions)
	}
}

func TestStartStageGreetsRegardlessOfText(t *testing.T) {
	engine := newTestEngine(Config{OTPDelivery: OTPDeliveryInline}, nil, nil, nil)
	s := session.New("v1")

	advance(t, engine, s, "hello there")
	if s.Stage != session.StageMainMenu {
		t.Fatalf("expected main menu, got %s", s.Stage)
	}
}

func TestMenuFallbackIsIdempotent(t *testing.T) {
	engine := newTestEngine(Config{OTPDelivery: OTPDeliveryInline}, nil, nil, nil)
	s := session.New("v1")
	s.Stage = session.StageMainMenu

	first := advance(t, engine, s, "whargarbl")
	if s.Stage != session.StageMainMenu {
		t.Fatalf("expected menu to hold, got %s", s.Stage)
	}
	second := advance(t, engine, s, "whargarbl")
	if s.Stage != session.StageMainMenu {
		t.Fatalf("expected menu to hold, got %s", s.Stage)
	}
	if first.Messages[0] != second.Messages[0] {
		t.Fatal("expected identical fallback replies")
	}
}

func TestMenuOptionMatchingIsNormalized(t *testing.T) {
	engine := newTestEngine(Config{OTPDelivery: OTPDeliveryInline}, nil, nil, nil)
	s := session.New("v1")
	s.Stage = session.StageMainMenu

	advance(t, engine, s, "  qualify me  ")
	if s.Stage != session.StageQualifyName {
		t.Fatalf("expected qualify_name after case-folded match, got %s", s.Stage)
	}
}

// runQualification walks a session from the menu to the scored summary using
// inline OTP delivery and returns the final reply.
func runQualification(t *testing.T, engine *Engine, s *session.Session, email, website, budget, timeline string) Reply {
	t.Helper()
	s.Stage = session.StageMainMenu
	advance(t, engine, s, "Qualify Me")
	advance(t, engine, s, "Asha Rao")
	advance(t, engine, s, email)
	otpReply := advance(t, engine, s, "+911234567890")
	code := otpPattern.FindString(otpReply.Messages[0])
	if code == "" {
		t.Fatalf("expected inline OTP in reply %q", otpReply.Messages[0])
	}
	advance(t, engine, s, code)
	advance(t, engine, s, "Acme")
	advance(t, engine, s, website)
	advance(t, engine, s, budget)
	return advance(t, engine, s, timeline)
}

func TestFullQualificationScores140(t *testing.T) {
	pub := &stubPublisher{}
	rec := &stubRecorder{}
	engine := newTestEngine(Config{OTPDelivery: OTPDeliveryInline}, nil, pub, rec)
	s := session.New("v1")

	reply := runQualification(t, engine, s, "a@biz.com", "http://x.com", "Above ₹5L", "ASAP")

	if s.Stage != session.StageScored {
		t.Fatalf("expected scored stage, got %s", s.Stage)
	}
	if s.Score == nil || *s.Score != 140 {
		t.Fatalf("expected score 140, got %v", s.Score)
	}
	if !strings.Contains(reply.Messages[0], "140/140") {
		t.Fatalf("expected summary to document the score, got %q", reply.Messages[0])
	}
	if len(pub.upserts) != 1 || pub.upserts[0].Score != 140 {
		t.Fatalf("expected one lead upsert with score, got %#v", pub.upserts)
	}
	if pub.upserts[0].Kind != leads.KindQualified {
		t.Fatalf("expected qualified lead kind, got %s", pub.upserts[0].Kind)
	}
	if rec.scored != 1 {
		t.Fatalf("expected one scored recording, got %d", rec.scored)
	}
}

func TestLowSignalQualificationScores30(t *testing.T) {
	engine := newTestEngine(Config{OTPDelivery: OTPDeliveryInline}, nil, nil, nil)
	s := session.New("v1")

	runQualification(t, engine, s, "a@gmail.com", "", "Below ₹50K", "Flexible")

	if s.Score == nil || *s.Score != 30 {
		t.Fatalf("expected score 30, got %v", s.Score)
	}
}

func TestWrongThenCorrectOTP(t *testing.T) {
	rec := &stubRecorder{}
	engine := newTestEngine(Config{OTPDelivery: OTPDeliveryInline}, nil, nil, rec)
	s := session.New("v1")
	s.Stage = session.StageMainMenu

	advance(t, engine, s, "Qualify Me")
	advance(t, engine, s, "Asha")
	advance(t, engine, s, "a@biz.com")
	otpReply := advance(t, engine, s, "+911234")
	code := otpPattern.FindString(otpReply.Messages[0])

	wrong := advance(t, engine, s, "000000")
	if s.Stage != session.StageAwaitingOTP {
		t.Fatalf("expected to stay awaiting otp, got %s", s.Stage)
	}
	if !strings.Contains(wrong.Messages[0], "Incorrect") {
		t.Fatalf("expected failure notice, got %q", wrong.Messages[0])
	}

	advance(t, engine, s, code)
	if s.Stage != session.StageQualifyCompany {
		t.Fatalf("expected qualify_company after verification, got %s", s.Stage)
	}
	if s.PendingOTP != "" {
		t.Fatal("expected pending OTP cleared")
	}
	if rec.failed != 1 || rec.verified != 1 {
		t.Fatalf("expected one failed and one verified recording, got %d/%d", rec.failed, rec.verified)
	}
}

func TestOTPAttemptCapResetsToMenu(t *testing.T) {
	engine := newTestEngine(Config{OTPDelivery: OTPDeliveryInline, OTPMaxAttempts: 2}, nil, nil, nil)
	s := session.New("v1")
	s.Stage = session.StageMainMenu

	advance(t, engine, s, "Qualify Me")
	advance(t, engine, s, "Asha")
	advance(t, engine, s, "a@biz.com")
	advance(t, engine, s, "+911234")

	advance(t, engine, s, "111111")
	if s.Stage != session.StageAwaitingOTP {
		t.Fatalf("expected first miss to re-prompt, got %s", s.Stage)
	}
	reply := advance(t, engine, s, "222222")
	if s.Stage != session.StageMainMenu {
		t.Fatalf("expected reset to menu after cap, got %s", s.Stage)
	}
	if s.PendingOTP != "" || len(s.Answers) != 0 {
		t.Fatal("expected qualification state cleared after cap")
	}
	if !strings.Contains(reply.Messages[0], "start over") {
		t.Fatalf("expected cap notice, got %q", reply.Messages[0])
	}
}

func TestOTPEmailDelivery(t *testing.T) {
	sender := &stubOTPSender{}
	engine := newTestEngine(Config{OTPDelivery: OTPDeliveryEmail}, sender, nil, nil)
	s := session.New("v1")
	s.Stage = session.StageMainMenu

	advance(t, engine, s, "Qualify Me")
	advance(t, engine, s, "Asha")
	advance(t, engine, s, "a@biz.com")
	reply := advance(t, engine, s, "+911234")

	if sender.lastCode() == "" {
		t.Fatal("expected code sent by email")
	}
	if strings.Contains(reply.Messages[0], sender.lastCode()) {
		t.Fatal("email delivery must not leak the code inline")
	}
	if sender.to[0] != "a@biz.com" {
		t.Fatalf("expected code sent to collected email, got %s", sender.to[0])
	}

	advance(t, engine, s, sender.lastCode())
	if s.Stage != session.StageQualifyCompany {
		t.Fatalf("expected verification via emailed code, got %s", s.Stage)
	}
}

func TestOTPDeliveryFailureKeepsCodeAndStage(t *testing.T) {
	sender := &stubOTPSender{err: errors.New("smtp down")}
	rec := &stubRecorder{}
	engine := newTestEngine(Config{OTPDelivery: OTPDeliveryEmail}, sender, nil, rec)
	s := session.New("v1")
	s.Stage = session.StageMainMenu

	advance(t, engine, s, "Qualify Me")
	advance(t, engine, s, "Asha")
	advance(t, engine, s, "a@biz.com")
	reply := advance(t, engine, s, "+911234")

	if s.Stage != session.StageAwaitingOTP {
		t.Fatalf("expected awaiting otp despite failure, got %s", s.Stage)
	}
	if s.PendingOTP == "" {
		t.Fatal("expected code kept for resend")
	}
	if !strings.Contains(reply.Messages[0], "resend") {
		t.Fatalf("expected resend hint, got %q", reply.Messages[0])
	}
	if len(rec.gateway) != 1 || rec.gateway[0] != "otp_email" {
		t.Fatalf("expected gateway failure recorded, got %v", rec.gateway)
	}

	// recovery: sender comes back and the visitor asks for a resend
	sender.err = nil
	advance(t, engine, s, "resend")
	if sender.lastCode() != s.PendingOTP {
		t.Fatal("expected resent code to match the session")
	}
}

func TestResendRegeneratesCode(t *testing.T) {
	sender := &stubOTPSender{}
	engine := newTestEngine(Config{OTPDelivery: OTPDeliveryEmail}, sender, nil, nil)
	s := session.New("v1")
	s.Stage = session.StageMainMenu

	advance(t, engine, s, "Qualify Me")
	advance(t, engine, s, "Asha")
	advance(t, engine, s, "a@biz.com")
	advance(t, engine, s, "+911234")
	first := s.PendingOTP

	advance(t, engine, s, "RESEND")
	if s.Stage != session.StageAwaitingOTP {
		t.Fatalf("expected to stay awaiting otp, got %s", s.Stage)
	}
	if len(sender.codes) != 2 {
		t.Fatalf("expected two deliveries, got %d", len(sender.codes))
	}
	if sender.lastCode() != s.PendingOTP {
		t.Fatal("expected latest code stored on the session")
	}
	_ = first // regeneration may rarely produce the same code; only delivery count is asserted
}

func TestKeywordOverrideLeavesStageUnchanged(t *testing.T) {
	engine := newTestEngine(Config{OTPDelivery: OTPDeliveryInline}, nil, nil, nil)
	s := session.New("v1")
	s.Stage = session.StageQualifyEmail

	reply := advance(t, engine, s, "show me your terms")
	if s.Stage != session.StageQualifyEmail {
		t.Fatalf("expected stage unchanged, got %s", s.Stage)
	}
	if !strings.Contains(reply.Messages[0], "terms") {
		t.Fatalf("expected terms reply, got %q", reply.Messages[0])
	}
	if s.Answer(session.FieldEmail) != "" {
		t.Fatal("override must not store the utterance as an answer")
	}
}

func TestRestartClearsSessionMidFlow(t *testing.T) {
	engine := newTestEngine(Config{OTPDelivery: OTPDeliveryInline}, nil, nil, nil)
	s := session.New("v1")
	s.Stage = session.StageMainMenu

	advance(t, engine, s, "Qualify Me")
	advance(t, engine, s, "Asha")
	advance(t, engine, s, "a@biz.com")
	advance(t, engine, s, "+911234")

	advance(t, engine, s, "start over")
	if s.Stage != session.StageMainMenu {
		t.Fatalf("expected menu after restart, got %s", s.Stage)
	}
	if len(s.Answers) != 0 || s.PendingOTP != "" || s.Score != nil {
		t.Fatal("expected restart to clear qualification state")
	}
}

func TestScoredBranchToSales(t *testing.T) {
	pub := &stubPublisher{}
	engine := newTestEngine(Config{OTPDelivery: OTPDeliveryInline}, nil, pub, nil)
	s := session.New("v1")

	runQualification(t, engine, s, "a@biz.com", "http://x.com", "Above ₹5L", "ASAP")

	advance(t, engine, s, "Talk to Sales Team")
	if s.Stage != session.StageSalesName {
		t.Fatalf("expected sales_name, got %s", s.Stage)
	}

	advance(t, engine, s, "Asha")
	advance(t, engine, s, "asha@biz.com")
	reply := advance(t, engine, s, "+911234")
	if s.Stage != session.StageSalesDone {
		t.Fatalf("expected sales_done, got %s", s.Stage)
	}
	if !strings.Contains(reply.Messages[0], "Sales Team") {
		t.Fatalf("expected acknowledgment, got %q", reply.Messages[0])
	}
	if len(pub.handoffs) != 1 || pub.handoffs[0].Kind != leads.KindSalesContact {
		t.Fatalf("expected sales handoff enqueued, got %#v", pub.handoffs)
	}

	// terminal stage falls back to the menu
	advance(t, engine, s, "hello?")
	if s.Stage != session.StageMainMenu {
		t.Fatalf("expected menu after sales_done, got %s", s.Stage)
	}
}

func TestScoredDeclineReturnsToMenu(t *testing.T) {
	engine := newTestEngine(Config{OTPDelivery: OTPDeliveryInline}, nil, nil, nil)
	s := session.New("v1")

	runQualification(t, engine, s, "a@biz.com", "x.com", "Above ₹5L", "ASAP")

	advance(t, engine, s, "No Thanks")
	if s.Stage != session.StageMainMenu {
		t.Fatalf("expected menu after decline, got %s", s.Stage)
	}
}

func TestPublisherFailureNeverBlocksSummary(t *testing.T) {
	pub := &stubPublisher{err: errors.New("queue down")}
	rec := &stubRecorder{}
	engine := newTestEngine(Config{OTPDelivery: OTPDeliveryInline}, nil, pub, rec)
	s := session.New("v1")

	reply := runQualification(t, engine, s, "a@biz.com", "x.com", "Above ₹5L", "ASAP")

	if s.Stage != session.StageScored {
		t.Fatalf("expected scored stage despite queue failure, got %s", s.Stage)
	}
	if !strings.Contains(reply.Messages[0], "Lead Summary") {
		t.Fatalf("expected summary, got %q", reply.Messages[0])
	}
	if len(rec.gateway) != 1 || rec.gateway[0] != "lead_queue" {
		t.Fatalf("expected gateway failure recorded, got %v", rec.gateway)
	}
}

func TestUnknownStoredStageRecoversToMenu(t *testing.T) {
	engine := newTestEngine(Config{OTPDelivery: OTPDeliveryInline}, nil, nil, nil)
	s := session.New("v1")
	s.Stage = session.Stage("legacy_stage")

	advance(t, engine, s, "anything")
	if s.Stage != session.StageMainMenu {
		t.Fatalf("expected recovery to menu, got %s", s.Stage)
	}
}

func TestEmptyUtteranceStoredVerbatim(t *testing.T) {
	engine := newTestEngine(Config{OTPDelivery: OTPDeliveryInline}, nil, nil, nil)
	s := session.New("v1")
	s.Stage = session.StageQualifyName

	advance(t, engine, s, "   ")
	if s.Stage != session.StageQualifyEmail {
		t.Fatalf("expected linear advance on empty input, got %s", s.Stage)
	}
	if s.Answer(session.FieldName) != "" {
		t.Fatalf("expected empty answer stored, got %q", s.Answer(session.FieldName))
	}
}

func TestGenerateOTPRange(t *testing.T) {
	for i := 0; i < 200; i++ {
		code := generateOTP()
		if len(code) != 6 {
			t.Fatalf("expected 6 digits, got %q", code)
		}
		if code[0] == '0' {
			t.Fatalf("expected code in [100000,999999], got %q", code)
		}
	}
}

func TestExpiredOTPRequiresResend(t *testing.T) {
	e := newTestEngine(Config{OTPDelivery: OTPDeliveryInline, OTPExpiry: 5 * time.Minute}, nil, nil, nil)
	s := session.New("v-expiry")

	advance(t, e, s, "")
	advance(t, e, s, "Qualify Me")
	advance(t, e, s, "Priya")
	advance(t, e, s, "priya@acme.io")
	reply := advance(t, e, s, "9876543210")
	code := otpPattern.FindString(strings.Join(reply.Messages, "\n"))

	s.OTPIssuedAt = time.Now().UTC().Add(-10 * time.Minute)

	reply = advance(t, e, s, code)
	if s.Stage != session.StageAwaitingOTP {
		t.Fatalf("expired code must not advance, stage %q", s.Stage)
	}
	if !strings.Contains(reply.Messages[0], "resend") {
		t.Fatalf("expected expiry message to mention resend, got %q", reply.Messages[0])
	}

	reply = advance(t, e, s, "resend")
	fresh := otpPattern.FindString(strings.Join(reply.Messages, "\n"))
	if fresh == "" {
		t.Fatalf("expected a fresh code after resend")
	}
	advance(t, e, s, fresh)
	if s.Stage != session.StageQualifyCompany {
		t.Fatalf("fresh code must verify, stage %q", s.Stage)
	}
	if !s.OTPIssuedAt.IsZero() {
		t.Fatalf("issue timestamp must clear after verification")
	}
}

func TestEmailDeliveryWithoutSenderNeverInlinesCode(t *testing.T) {
	rec := &stubRecorder{}
	e := newTestEngine(Config{OTPDelivery: OTPDeliveryEmail}, nil, nil, rec)
	s := session.New("v-no-sender")

	advance(t, e, s, "")
	advance(t, e, s, "Qualify Me")
	advance(t, e, s, "Ravi")
	advance(t, e, s, "ravi@acme.io")
	reply := advance(t, e, s, "9000090000")

	if s.Stage != session.StageAwaitingOTP {
		t.Fatalf("stage = %q, want awaiting_otp", s.Stage)
	}
	if s.PendingOTP == "" {
		t.Fatalf("expected a pending code despite the failed delivery")
	}
	joined := strings.Join(reply.Messages, "\n")
	if strings.Contains(joined, s.PendingOTP) {
		t.Fatalf("code leaked into the reply: %q", joined)
	}
	if !strings.Contains(joined, "resend") {
		t.Fatalf("expected delivery-failure message, got %q", joined)
	}
	if len(rec.gateway) != 1 || rec.gateway[0] != "otp_email" {
		t.Fatalf("gateway failures = %v", rec.gateway)
	}

	// A resend without a sender fails the same way and still never leaks.
	reply = advance(t, e, s, "resend")
	if strings.Contains(strings.Join(reply.Messages, "\n"), s.PendingOTP) {
		t.Fatalf("code leaked on resend: %q", reply.Messages)
	}
}

func TestSalesDoneFirstTapDispatchesAsMenuSelection(t *testing.T) {
	e := newTestEngine(Config{OTPDelivery: OTPDeliveryInline}, nil, nil, nil)
	s := session.New("v-sales-tap")

	advance(t, e, s, "")
	advance(t, e, s, "Talk to Sales Team")
	advance(t, e, s, "Meera")
	advance(t, e, s, "meera@acme.io")
	reply := advance(t, e, s, "9123456789")
	if s.Stage != session.StageSalesDone {
		t.Fatalf("expected sales_done, got %s", s.Stage)
	}
	if len(reply.Suggestions) == 0 {
		t.Fatalf("acknowledgment should carry suggestions")
	}

	// Tapping a suggested option right after the acknowledgment acts on it
	// instead of replaying the menu first.
	advance(t, e, s, "Qualify Me")
	if s.Stage != session.StageQualifyName {
		t.Fatalf("expected qualify_name after tapping Qualify Me, got %s", s.Stage)
	}
}
