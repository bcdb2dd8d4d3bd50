package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saathi/saathi-core/internal/agent"
	"github.com/saathi/saathi-core/internal/conversation"
	"github.com/saathi/saathi-core/internal/domain"
	"github.com/saathi/saathi-core/internal/queue"
	"github.com/saathi/saathi-core/internal/ratelimit"
	"github.com/saathi/saathi-core/internal/repository"
)

type sentItem struct {
	kind    string
	to      string
	text    string
	title   string
	options []string
}

type fakeSender struct {
	mu    sync.Mutex
	items []sentItem
	fail  error
}

func (s *fakeSender) record(item sentItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.items = append(s.items, item)
	return nil
}

func (s *fakeSender) SendText(to, text string) error {
	return s.record(sentItem{kind: "text", to: to, text: text})
}

func (s *fakeSender) SendVoice(to, audioRef string, pushToTalk bool) error {
	return s.record(sentItem{kind: "voice", to: to, text: audioRef})
}

func (s *fakeSender) SendDocument(to, docRef, filename string) error {
	return s.record(sentItem{kind: "document", to: to, text: docRef, title: filename})
}

func (s *fakeSender) SendButtons(to, title string, options []string) error {
	return s.record(sentItem{kind: "buttons", to: to, title: title, options: options})
}

func (s *fakeSender) sent() []sentItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentItem(nil), s.items...)
}

type scriptedClassifier struct {
	mu      sync.Mutex
	replies []domain.Classification
	err     error
	calls   int
}

func (c *scriptedClassifier) Classify(context.Context, string, string) (domain.Classification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return domain.Classification{Intent: domain.IntentUnknown, Confidence: 0.5}, c.err
	}
	if len(c.replies) == 0 {
		return domain.Classification{Intent: domain.IntentUnknown, Confidence: 0.5}, nil
	}
	reply := c.replies[0]
	if len(c.replies) > 1 {
		c.replies = c.replies[1:]
	}
	return reply, nil
}

type recordingResponder struct {
	mu    sync.Mutex
	calls int
	reply agent.Reply
	err   error
}

func (r *recordingResponder) Respond(context.Context, *domain.ConversationContext, domain.Message) (agent.Reply, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return agent.Reply{}, r.err
	}
	return r.reply, nil
}

type pipelineFixture struct {
	pipeline   *Pipeline
	queue      *queue.LocalQueue
	sender     *fakeSender
	classifier *scriptedClassifier
	responder  *recordingResponder
	archive    *repository.MemoryArchive
}

func newFixture(t *testing.T, maxRequests int) *pipelineFixture {
	t.Helper()

	jobQueue := queue.NewLocalQueue(queue.Config{MaxAttempts: 3, BackoffBase: time.Millisecond}, zap.NewNop())
	limiter := ratelimit.New(ratelimit.NewMemoryStore(),
		ratelimit.Config{Window: time.Minute, MaxRequests: maxRequests}, zap.NewNop())
	tracker := conversation.NewTracker(conversation.NewMemoryStore(30*time.Minute), nil, zap.NewNop())
	sender := &fakeSender{}
	classifier := &scriptedClassifier{}
	responder := &recordingResponder{reply: agent.Reply{Text: "done"}}
	archive := repository.NewMemoryArchive()

	pipeline := NewPipeline(jobQueue, limiter, tracker, classifier, responder, sender, archive,
		Config{Concurrency: 1, PollInterval: time.Millisecond}, zap.NewNop())

	return &pipelineFixture{
		pipeline:   pipeline,
		queue:      jobQueue,
		sender:     sender,
		classifier: classifier,
		responder:  responder,
		archive:    archive,
	}
}

func inbound(id, text string) domain.Message {
	return domain.Message{
		ID:         id,
		SenderID:   "918800112233",
		Kind:       domain.MessageKindText,
		Text:       text,
		ReceivedAt: time.Now().UTC(),
	}
}

func (f *pipelineFixture) deliver(t *testing.T, message domain.Message) {
	t.Helper()
	ctx := context.Background()
	f.pipeline.HandleInbound(ctx, message)
	processed, err := f.pipeline.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)
}

func TestGreetingGetsRepliedAndArchived(t *testing.T) {
	fixture := newFixture(t, 60)
	fixture.classifier.replies = []domain.Classification{
		{Intent: domain.IntentGreeting, Confidence: 0.99},
	}

	fixture.deliver(t, inbound("evt-1", "namaste"))

	sent := fixture.sender.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "text", sent[0].kind)
	assert.Equal(t, "918800112233", sent[0].to)

	record, err := fixture.archive.Get(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateDone, record.State)
}

func TestDuplicateInboundIsProcessedOnce(t *testing.T) {
	fixture := newFixture(t, 60)
	fixture.classifier.replies = []domain.Classification{
		{Intent: domain.IntentGreeting, Confidence: 0.99},
	}
	ctx := context.Background()

	fixture.pipeline.HandleInbound(ctx, inbound("evt-1", "namaste"))
	fixture.pipeline.HandleInbound(ctx, inbound("evt-1", "namaste"))

	processed, err := fixture.pipeline.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	processed, err = fixture.pipeline.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, processed, "second delivery of the same event id must not become a second job")
	assert.Equal(t, 1, fixture.classifier.calls)
}

func TestDisputeFlowReachesAgentAfterConfirmation(t *testing.T) {
	fixture := newFixture(t, 60)
	fixture.classifier.replies = []domain.Classification{
		{Intent: domain.IntentDisputeHelp, Confidence: 0.9},
		{Intent: domain.IntentDisputeHelp, Confidence: 0.9, Entities: map[string]string{
			"platform":   "Zomato",
			"issue_type": "late_payment",
		}},
		{Intent: domain.IntentUnknown, Confidence: 0.5},
	}

	fixture.deliver(t, inbound("evt-1", "payment dispute hai"))
	sent := fixture.sender.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "buttons", sent[0].kind, "missing platform is asked via button list")
	assert.Equal(t, domain.Platforms, sent[0].options)

	fixture.deliver(t, inbound("evt-2", "Zomato late payment"))
	sent = fixture.sender.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "text", sent[1].kind)
	assert.Zero(t, fixture.responder.calls, "agent must not run before confirmation")

	fixture.deliver(t, inbound("evt-3", "haan"))
	assert.Equal(t, 1, fixture.responder.calls)
	sent = fixture.sender.sent()
	require.Len(t, sent, 3)
	assert.Equal(t, "done", sent[2].text)
}

func TestRateLimitedJobCompletesWithNotice(t *testing.T) {
	fixture := newFixture(t, 1)
	fixture.classifier.replies = []domain.Classification{
		{Intent: domain.IntentGreeting, Confidence: 0.99},
	}

	fixture.deliver(t, inbound("evt-1", "namaste"))
	fixture.deliver(t, inbound("evt-2", "namaste phir se"))

	assert.Equal(t, 1, fixture.classifier.calls, "rejected message must not reach the classifier")

	record, err := fixture.archive.Get(context.Background(), "evt-2")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateDone, record.State, "over-quota turns complete, they are not retried")

	sent := fixture.sender.sent()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[1].text, "try karo")
}

func TestClassifierFailureRetriesThenDeadLetters(t *testing.T) {
	fixture := newFixture(t, 60)
	fixture.classifier.err = errors.New("classifier unreachable")
	ctx := context.Background()

	fixture.pipeline.HandleInbound(ctx, inbound("evt-1", "namaste"))

	// MaxAttempts 3 means four processing attempts before the job dies.
	for attempt := 0; attempt < 4; attempt++ {
		require.Eventually(t, func() bool {
			processed, _ := fixture.pipeline.RunOnce(ctx)
			return processed
		}, time.Second, time.Millisecond, "attempt %d should become eligible", attempt)
	}

	record, err := fixture.archive.Get(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStateDead, record.State)
	assert.Equal(t, 4, record.Attempts)
	assert.Contains(t, record.LastError, "classifier unreachable")

	processed, err := fixture.pipeline.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, processed, "dead jobs are never redelivered")
}

func TestAgentFailureIsAJobFailure(t *testing.T) {
	fixture := newFixture(t, 60)
	fixture.classifier.replies = []domain.Classification{
		{Intent: domain.IntentEarningsQuery, Confidence: 0.9},
	}
	fixture.responder.err = errors.New("agent down")
	ctx := context.Background()

	fixture.pipeline.HandleInbound(ctx, inbound("evt-1", "kitna kamaya"))
	processed, err := fixture.pipeline.RunOnce(ctx)
	require.True(t, processed)
	require.Error(t, err)

	job, ok := fixture.queue.Snapshot("evt-1")
	require.True(t, ok)
	assert.Equal(t, domain.JobStatePending, job.State)
	assert.Equal(t, 1, job.Attempts)
}
