package agent

import (
	"context"

	"github.com/saathi/saathi-core/internal/domain"
)

// Reply is what a responder wants sent back to the user. Exactly the
// outbound shapes the gateway supports: text, voice, document, button list.
type Reply struct {
	Text string `json:"text,omitempty"`

	VoiceRef   string `json:"voice_ref,omitempty"`
	PushToTalk bool   `json:"push_to_talk,omitempty"`

	DocumentRef  string `json:"document_ref,omitempty"`
	DocumentName string `json:"document_name,omitempty"`

	ButtonTitle   string   `json:"button_title,omitempty"`
	ButtonOptions []string `json:"button_options,omitempty"`
}

// Responder executes the action behind a conversation that has reached
// PROCESSING. The real work (earnings lookups, complaint drafting) lives in
// external agent services; this is only the hand-off boundary.
type Responder interface {
	Respond(ctx context.Context, conversation *domain.ConversationContext, message domain.Message) (Reply, error)
}

// Canned fallback replies from the assistant, used when no agent service is
// configured. Kept in the assistant's Hinglish voice.
var fallbackReplies = map[domain.Intent]string{
	domain.IntentGreeting:       "Namaste! Main Saathi hoon. Earnings, dispute ya insurance — kya dekhna hai?",
	domain.IntentEarningsQuery:  "Income dekhne mein problem aa rahi hai. UPI screenshot bhejo.",
	domain.IntentDisputeHelp:    "Complaint taiyar ho rahi hai. Platform ka naam aur kya hua — detail mein batao.",
	domain.IntentInsuranceQuery: "Insurance ke baare mein thodi der mein batata hoon.",
	domain.IntentSchemeQuery:    "Sarkari scheme ki jaankari thodi der mein bhejta hoon.",
	domain.IntentLoanQuery:      "Loan options ke liye thodi der mein wapas aata hoon.",
	domain.IntentUnknown:        "Thoda aur detail mein batao — income, account ya koi aur cheez?",
}

// StaticResponder answers every intent with its canned reply. It is the
// development fallback and the failure-path reply source.
type StaticResponder struct{}

func NewStaticResponder() *StaticResponder { return &StaticResponder{} }

func (r *StaticResponder) Respond(_ context.Context, conversation *domain.ConversationContext, _ domain.Message) (Reply, error) {
	return Reply{Text: FallbackText(conversation.Intent)}, nil
}

// FallbackText returns the canned reply for an intent.
func FallbackText(intent domain.Intent) string {
	if text, ok := fallbackReplies[intent]; ok {
		return text
	}
	return fallbackReplies[domain.IntentUnknown]
}
