package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/saathi/saathi-core/internal/domain"
)

// requiredEntities lists, per intent, the entities that must be collected
// before the pending action may execute.
var requiredEntities = map[domain.Intent][]string{
	domain.IntentDisputeHelp: {"platform", "issue_type"},
}

// ConfirmPolicy decides whether a message received in AWAITING_CONFIRMATION
// confirms the pending action. The default treats any message as implicit
// confirmation, matching the observed assistant; callers may override it to
// add an explicit rejection path.
type ConfirmPolicy func(conversation *domain.ConversationContext, message domain.Message) bool

func ConfirmOnAnyMessage(*domain.ConversationContext, domain.Message) bool { return true }

// Tracker is the per-user finite-state machine coordinating multi-turn
// entity collection. All mutation goes through the store as a
// read-modify-write cycle against the single keyed record; concurrent
// messages from one user race, and the last completed update wins.
type Tracker struct {
	store   Store
	confirm ConfirmPolicy
	logger  *zap.Logger

	now func() time.Time
}

func NewTracker(store Store, confirm ConfirmPolicy, logger *zap.Logger) *Tracker {
	if confirm == nil {
		confirm = ConfirmOnAnyMessage
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, confirm: confirm, logger: logger, now: time.Now}
}

// Process applies one classified message to the user's conversation and
// saves the resulting context, refreshing its TTL.
func (t *Tracker) Process(ctx context.Context, userID string, message domain.Message, classified domain.Classification) (*domain.ConversationContext, error) {
	conversation, err := t.store.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		conversation = t.newContext(userID)
	} else if err != nil {
		return nil, fmt.Errorf("process message for %s: %w", userID, err)
	}

	previous := conversation.State
	t.transition(conversation, message, classified)
	conversation.LastActivityAt = t.now().UTC()

	if err := t.store.Save(ctx, conversation); err != nil {
		return nil, fmt.Errorf("process message for %s: %w", userID, err)
	}

	if conversation.State != previous {
		t.logger.Debug("conversation transition",
			zap.String("user_id", userID),
			zap.String("from", string(previous)),
			zap.String("to", string(conversation.State)),
			zap.String("intent", string(conversation.Intent)))
	}
	return conversation, nil
}

func (t *Tracker) transition(conversation *domain.ConversationContext, message domain.Message, classified domain.Classification) {
	switch conversation.State {
	case domain.StateCollectingInfo:
		t.collect(conversation, message, classified)
		return
	case domain.StateAwaitingConfirmation:
		if t.confirm(conversation, message) {
			conversation.State = domain.StateProcessing
			return
		}
		t.reset(conversation)
		return
	}

	// IDLE, and the transient PROCESSING/DONE states, take a fresh intent.
	switch classified.Intent {
	case domain.IntentGreeting:
		t.reset(conversation)
	case domain.IntentEarningsQuery:
		conversation.State = domain.StateProcessing
		conversation.Intent = classified.Intent
		conversation.Entities = mergeEntities(nil, classified.Entities)
		conversation.CollectedData = map[string]string{}
	case domain.IntentDisputeHelp:
		conversation.Intent = classified.Intent
		conversation.Entities = mergeEntities(nil, classified.Entities)
		conversation.CollectedData = map[string]string{}
		if satisfied(conversation) {
			conversation.State = domain.StateProcessing
		} else {
			conversation.State = domain.StateCollectingInfo
		}
	default:
		t.reset(conversation)
	}
}

// collect merges the turn's classifier entities and the heuristic date and
// amount extractions into the collected data, then checks whether the
// intent's required set is complete.
func (t *Tracker) collect(conversation *domain.ConversationContext, message domain.Message, classified domain.Classification) {
	conversation.CollectedData = mergeEntities(conversation.CollectedData, classified.Entities)
	conversation.CollectedData = mergeEntities(conversation.CollectedData, ExtractEntities(message.Text))

	if satisfied(conversation) {
		conversation.State = domain.StateAwaitingConfirmation
	}
}

// Complete marks the user's pending action as executed. DONE is transient:
// the next message re-initializes the context.
func (t *Tracker) Complete(ctx context.Context, userID string) error {
	conversation, err := t.store.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("complete conversation %s: %w", userID, err)
	}

	conversation.State = domain.StateDone
	conversation.LastActivityAt = t.now().UTC()
	if err := t.store.Save(ctx, conversation); err != nil {
		return fmt.Errorf("complete conversation %s: %w", userID, err)
	}
	return nil
}

func (t *Tracker) newContext(userID string) *domain.ConversationContext {
	now := t.now().UTC()
	return &domain.ConversationContext{
		UserID:         userID,
		State:          domain.StateIdle,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

func (t *Tracker) reset(conversation *domain.ConversationContext) {
	conversation.State = domain.StateIdle
	conversation.Intent = ""
	conversation.Entities = nil
	conversation.CollectedData = nil
}

// MissingEntities reports which required entities are still absent from the
// union of the seeded entities and the collected data.
func MissingEntities(conversation *domain.ConversationContext) []string {
	var missing []string
	for _, name := range requiredEntities[conversation.Intent] {
		if conversation.Entities[name] == "" && conversation.CollectedData[name] == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

func satisfied(conversation *domain.ConversationContext) bool {
	return len(MissingEntities(conversation)) == 0
}

func mergeEntities(target map[string]string, source map[string]string) map[string]string {
	if target == nil {
		target = make(map[string]string, len(source))
	}
	for key, value := range source {
		if value != "" {
			target[key] = value
		}
	}
	return target
}
