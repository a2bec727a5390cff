package model

import "time"

// Flow names a multi-step conversation.
type Flow string

const (
	FlowOnboarding Flow = "onboarding"
	FlowTopUp      Flow = "topup"
)

// Step is a position inside a flow.
type Step string

const (
	StepAwaitPhone    Step = "await_phone"
	StepAwaitCode     Step = "await_code"
	StepAwaitPassword Step = "await_password"
	StepAwaitUserID   Step = "await_user_id"
	StepAwaitAmount   Step = "await_amount"
)

// Conversation is the active state of one user's flow.
type Conversation struct {
	UserID    int64     `json:"user_id"`
	Flow      Flow      `json:"flow"`
	Step      Step      `json:"step"`
	Phone     string    `json:"phone,omitempty"`
	Code      string    `json:"code,omitempty"`
	TargetID  int64     `json:"target_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
