package domain

import "time"

type ConversationState string

const (
	StateIdle                 ConversationState = "IDLE"
	StateCollectingInfo       ConversationState = "COLLECTING_INFO"
	StateAwaitingConfirmation ConversationState = "AWAITING_CONFIRMATION"
	StateProcessing           ConversationState = "PROCESSING"
	StateDone                 ConversationState = "DONE"
)

type Intent string

const (
	IntentEarningsQuery  Intent = "earnings_query"
	IntentDisputeHelp    Intent = "dispute_help"
	IntentInsuranceQuery Intent = "insurance_query"
	IntentSchemeQuery    Intent = "scheme_query"
	IntentLoanQuery      Intent = "loan_query"
	IntentGreeting       Intent = "greeting"
	IntentUnknown        Intent = "unknown"
)

// Platforms lists the gig platforms the assistant knows about. Sent to the
// classifier as candidate values for the platform entity.
var Platforms = []string{"Zomato", "Swiggy", "Blinkit", "Rapido", "Urban Company"}

// ConversationContext is the per-user record coordinating multi-turn entity
// collection. Exactly one context exists per user id at a time; a context
// with no activity past the store TTL is treated as absent on the next read.
type ConversationContext struct {
	UserID         string            `json:"user_id"`
	State          ConversationState `json:"state"`
	Intent         Intent            `json:"intent,omitempty"`
	Entities       map[string]string `json:"entities,omitempty"`
	CollectedData  map[string]string `json:"collected_data,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
}

// Classification is the intent classifier's verdict for one message.
type Classification struct {
	Intent     Intent            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Entities   map[string]string `json:"entities"`
}
