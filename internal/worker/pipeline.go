package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/saathi/saathi-core/internal/agent"
	"github.com/saathi/saathi-core/internal/conversation"
	"github.com/saathi/saathi-core/internal/domain"
	"github.com/saathi/saathi-core/internal/queue"
	"github.com/saathi/saathi-core/internal/ratelimit"
	"github.com/saathi/saathi-core/internal/repository"
)

// Sender is the outbound half of the gateway connection.
type Sender interface {
	SendText(to string, text string) error
	SendVoice(to string, audioRef string, pushToTalk bool) error
	SendDocument(to string, docRef string, filename string) error
	SendButtons(to string, title string, options []string) error
}

// Classifier is the external intent classification boundary.
type Classifier interface {
	Classify(ctx context.Context, message string, language string) (domain.Classification, error)
}

type Config struct {
	Concurrency  int
	PollInterval time.Duration
	Language     string
}

// Pipeline composes the core: the gateway hands it inbound messages, it
// enqueues them, and its workers drain the queue through rate limiting,
// conversation tracking, classification and the agent hand-off.
type Pipeline struct {
	queue      queue.Queue
	limiter    *ratelimit.Limiter
	tracker    *conversation.Tracker
	classifier Classifier
	responder  agent.Responder
	sender     Sender
	archive    repository.Archive
	logger     *zap.Logger

	concurrency  int
	pollInterval time.Duration
	language     string
}

func NewPipeline(
	jobQueue queue.Queue,
	limiter *ratelimit.Limiter,
	tracker *conversation.Tracker,
	classifier Classifier,
	responder agent.Responder,
	sender Sender,
	archive repository.Archive,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.Language == "" {
		cfg.Language = "hi"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if sender == nil {
		sender = discardSender{}
	}
	return &Pipeline{
		queue:        jobQueue,
		limiter:      limiter,
		tracker:      tracker,
		classifier:   classifier,
		responder:    responder,
		sender:       sender,
		archive:      archive,
		logger:       logger,
		concurrency:  cfg.Concurrency,
		pollInterval: cfg.PollInterval,
		language:     cfg.Language,
	}
}

// discardSender stands in until a gateway connection is wired, so a half
// configured deployment degrades to dropped replies instead of panics.
type discardSender struct{}

func (discardSender) SendText(string, string) error              { return nil }
func (discardSender) SendVoice(string, string, bool) error       { return nil }
func (discardSender) SendDocument(string, string, string) error  { return nil }
func (discardSender) SendButtons(string, string, []string) error { return nil }

// SetSender swaps the delivery side in after construction. The gateway
// connection needs the pipeline's handler to be built, so the two are wired
// in that order at startup.
func (p *Pipeline) SetSender(sender Sender) {
	if sender != nil {
		p.sender = sender
	}
}

// HandleInbound is the gateway handler: every normalized message becomes a
// durable job keyed by its event id.
func (p *Pipeline) HandleInbound(ctx context.Context, message domain.Message) {
	_, admitted, err := p.queue.Enqueue(ctx, message)
	if err != nil {
		p.logger.Error("enqueue inbound message failed",
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}
	if !admitted {
		p.logger.Debug("duplicate inbound message not re-admitted",
			zap.String("message_id", message.ID))
	}
}

// Start launches the worker pool. Concurrency is bounded to cap downstream
// load on the rate limiter and the external classifier.
func (p *Pipeline) Start(ctx context.Context) {
	for i := 0; i < p.concurrency; i++ {
		go p.runLoop(ctx, i)
	}
	p.logger.Info("pipeline workers started", zap.Int("concurrency", p.concurrency))
}

func (p *Pipeline) runLoop(ctx context.Context, worker int) {
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := p.RunOnce(ctx)
		if err != nil {
			p.logger.Warn("worker iteration failed",
				zap.Int("worker", worker),
				zap.Error(err))
		}
		if processed {
			continue
		}

		timer := time.NewTimer(p.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// RunOnce claims and processes at most one job. It reports whether a job
// was claimed, so callers can idle when the queue is drained.
func (p *Pipeline) RunOnce(ctx context.Context) (bool, error) {
	job, err := p.queue.Dequeue(ctx)
	if errors.Is(err, queue.ErrEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if processErr := p.process(ctx, job); processErr != nil {
		failed, reportErr := p.queue.ReportFailure(ctx, job.ID, processErr)
		if reportErr != nil {
			return true, fmt.Errorf("report failure: %w", reportErr)
		}
		if failed.State == domain.JobStateDead {
			p.archiveJob(ctx, failed)
		}
		return true, processErr
	}

	if err := p.queue.ReportSuccess(ctx, job.ID); err != nil {
		return true, fmt.Errorf("report success: %w", err)
	}
	job.State = domain.JobStateDone
	p.archiveJob(ctx, job)
	return true, nil
}

// process runs one job through the core data flow. Errors returned here are
// job failures: the queue retries them with backoff, never this function.
func (p *Pipeline) process(ctx context.Context, job *domain.Job) error {
	message := job.Payload

	decision := p.limiter.Check(ctx, message.SenderID)
	if !decision.Allowed {
		// Over quota is a terminal outcome for the job, not a failure.
		wait := time.Until(decision.ResetAt).Round(time.Second)
		if wait < time.Second {
			wait = time.Second
		}
		if err := p.sender.SendText(message.SenderID,
			fmt.Sprintf("Bahut saare messages aa gaye! %s baad phir try karo.", wait)); err != nil {
			p.logger.Warn("rate limit notice not delivered",
				zap.String("user_id", message.SenderID),
				zap.Error(err))
		}
		return nil
	}

	classification, err := p.classifier.Classify(ctx, message.Text, p.language)
	if err != nil {
		return fmt.Errorf("classify message %s: %w", message.ID, err)
	}

	conv, err := p.tracker.Process(ctx, message.SenderID, message, classification)
	if err != nil {
		return fmt.Errorf("track conversation for %s: %w", message.SenderID, err)
	}

	switch conv.State {
	case domain.StateCollectingInfo:
		return p.askForMissing(message.SenderID, conv)
	case domain.StateAwaitingConfirmation:
		return p.askForConfirmation(message.SenderID)
	case domain.StateProcessing:
		return p.execute(ctx, conv, message)
	default:
		// IDLE: greet or nudge, depending on what the classifier saw.
		return p.sender.SendText(message.SenderID, agent.FallbackText(classification.Intent))
	}
}

func (p *Pipeline) askForMissing(to string, conv *domain.ConversationContext) error {
	missing := conversation.MissingEntities(conv)
	if len(missing) == 0 {
		return nil
	}
	if missing[0] == "platform" {
		return p.sender.SendButtons(to, "Kaunsa platform hai?", domain.Platforms)
	}
	return p.sender.SendText(to, fmt.Sprintf("Thoda aur batao: %s", strings.Join(missing, ", ")))
}

func (p *Pipeline) askForConfirmation(to string) error {
	return p.sender.SendText(to, "Sab details mil gayi. Aage badhun? Kuch bhi reply karo confirm karne ke liye.")
}

// execute hands the completed conversation to the agent and delivers
// whatever reply shapes it produced. Send failures surface as job failures;
// the sends themselves are never retried inline.
func (p *Pipeline) execute(ctx context.Context, conv *domain.ConversationContext, message domain.Message) error {
	reply, err := p.responder.Respond(ctx, conv, message)
	if err != nil {
		return fmt.Errorf("agent respond for %s: %w", conv.UserID, err)
	}

	to := conv.UserID
	if reply.Text != "" {
		if err := p.sender.SendText(to, reply.Text); err != nil {
			return err
		}
	}
	if reply.VoiceRef != "" {
		if err := p.sender.SendVoice(to, reply.VoiceRef, reply.PushToTalk); err != nil {
			return err
		}
	}
	if reply.DocumentRef != "" {
		if err := p.sender.SendDocument(to, reply.DocumentRef, reply.DocumentName); err != nil {
			return err
		}
	}
	if len(reply.ButtonOptions) > 0 {
		if err := p.sender.SendButtons(to, reply.ButtonTitle, reply.ButtonOptions); err != nil {
			return err
		}
	}

	if err := p.tracker.Complete(ctx, conv.UserID); err != nil {
		p.logger.Warn("marking conversation done failed",
			zap.String("user_id", conv.UserID),
			zap.Error(err))
	}
	return nil
}

func (p *Pipeline) archiveJob(ctx context.Context, job *domain.Job) {
	if p.archive == nil {
		return
	}
	if err := p.archive.Record(ctx, job); err != nil {
		p.logger.Warn("archiving job outcome failed",
			zap.String("job_id", job.ID),
			zap.Error(err))
	}
}
