package session

import "time"

// Stage names a point in the scripted dialogue. Transitions between stages are
// owned by the flow engine; the session only records the current position.
type Stage string

const (
	StageStart           Stage = "start"
	StageMainMenu        Stage = "main_menu"
	StageQualifyName     Stage = "qualify_name"
	StageQualifyEmail    Stage = "qualify_email"
	StageQualifyPhone    Stage = "qualify_phone"
	StageAwaitingOTP     Stage = "awaiting_otp"
	StageQualifyCompany  Stage = "qualify_company"
	StageQualifyWebsite  Stage = "qualify_website"
	StageQualifyBudget   Stage = "qualify_budget"
	StageQualifyTimeline Stage = "qualify_timeline"
	StageScored          Stage = "scored"
	StageSalesName       Stage = "sales_name"
	StageSalesEmail      Stage = "sales_email"
	StageSalesPhone      Stage = "sales_phone"
	StageSalesDone       Stage = "sales_done"
)

// Known returns true when s is one of the enumerated stages.
func (s Stage) Known() bool {
	switch s {
	case StageStart, StageMainMenu,
		StageQualifyName, StageQualifyEmail, StageQualifyPhone, StageAwaitingOTP,
		StageQualifyCompany, StageQualifyWebsite, StageQualifyBudget, StageQualifyTimeline,
		StageScored, StageSalesName, StageSalesEmail, StageSalesPhone, StageSalesDone:
		return true
	}
	return false
}

// Answer field keys. Values are stored verbatim as typed by the visitor.
const (
	FieldName       = "name"
	FieldEmail      = "email"
	FieldPhone      = "phone"
	FieldCompany    = "company"
	FieldWebsite    = "website"
	FieldBudget     = "budget"
	FieldTimeline   = "timeline"
	FieldSalesName  = "sales_name"
	FieldSalesEmail = "sales_email"
	FieldSalesPhone = "sales_phone"
)

// Session is the mutable conversation record for one visitor.
type Session struct {
	ID          string            `json:"id"`
	Stage       Stage             `json:"stage"`
	Answers     map[string]string `json:"answers"`
	PendingOTP  string            `json:"pending_otp,omitempty"`
	OTPIssuedAt time.Time         `json:"otp_issued_at,omitzero"`
	OTPAttempts int               `json:"otp_attempts,omitempty"`
	Score       *int              `json:"score,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// New creates a session in the initial stage.
func New(id string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        id,
		Stage:     StageStart,
		Answers:   make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SetAnswer records a collected field value.
func (s *Session) SetAnswer(field, value string) {
	if s.Answers == nil {
		s.Answers = make(map[string]string)
	}
	s.Answers[field] = value
}

// Answer returns the collected value for field, or "" when absent.
func (s *Session) Answer(field string) string {
	if s.Answers == nil {
		return ""
	}
	return s.Answers[field]
}

// ClearQualification drops the answers, OTP state and score collected during a
// qualifying pass so a new pass starts clean.
func (s *Session) ClearQualification() {
	s.Answers = make(map[string]string)
	s.PendingOTP = ""
	s.OTPIssuedAt = time.Time{}
	s.OTPAttempts = 0
	s.Score = nil
}

// SetScore stores the computed qualification score.
func (s *Session) SetScore(score int) {
	s.Score = &score
}

// Touch bumps the activity timestamp used for TTL eviction.
func (s *Session) Touch() {
	s.UpdatedAt = time.Now().UTC()
}
