// Package relay runs the asynchronous delivery pipeline: conversation key
// resolution, remote conversation upsert, message append, run execution,
// and reply delivery, decoupled from the webhook request/response cycle.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/relaybot/chatrelay/internal/assistant"
	"github.com/relaybot/chatrelay/internal/gchat"
	"github.com/relaybot/chatrelay/internal/identity"
)

// ConversationService is the assistant-side surface the pipeline needs.
// Satisfied by *assistant.Client.
type ConversationService interface {
	EnsureConversation(ctx context.Context, key, displayName string) (assistant.ConversationHandle, error)
	AppendMessage(ctx context.Context, conversationID, text, senderName string) error
	ExecuteRun(ctx context.Context, conversationID string) (string, error)
}

// ReplyPoster delivers the generated reply back to the chat platform.
type ReplyPoster interface {
	PostReply(ctx context.Context, target gchat.ReplyTarget, text string) error
}

type task struct {
	ctx   context.Context
	event gchat.Event
}

// Pipeline processes classified events on a bounded worker pool. Enqueued
// work outlives the originating HTTP request; every failure after enqueue
// is terminal for that event and surfaced through logs only.
type Pipeline struct {
	conversations ConversationService
	replies       ReplyPoster
	logger        *slog.Logger

	queue   chan task
	workers int

	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a pipeline with the given worker count and queue size.
func New(log *slog.Logger, conversations ConversationService, replies ReplyPoster, workers, queueSize int) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Pipeline{
		conversations: conversations,
		replies:       replies,
		logger:        log.With(slog.String("component", "pipeline")),
		queue:         make(chan task, queueSize),
		workers:       workers,
	}
}

// Start launches the worker pool. Subsequent calls are no-ops.
func (p *Pipeline) Start(ctx context.Context) {
	p.once.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		p.ctx, p.cancel = context.WithCancel(ctx)
		for i := 0; i < p.workers; i++ {
			go p.runWorker(p.ctx)
		}
	})
}

// Stop stops the workers. Queued events that have not started are dropped;
// that loss is visible in logs only, matching the fire-and-forget contract.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

// Enqueue schedules an event for processing and returns immediately. The
// event's context is detached from the HTTP request so cancellation of the
// webhook call cannot abort the pipeline.
func (p *Pipeline) Enqueue(ctx context.Context, event gchat.Event) error {
	if p.ctx == nil {
		return errors.New("pipeline not started")
	}
	if p.ctx.Err() != nil {
		return errors.New("pipeline stopped")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	t := task{ctx: context.WithoutCancel(ctx), event: event}
	select {
	case p.queue <- t:
		return nil
	default:
		return errors.New("pipeline queue full")
	}
}

func (p *Pipeline) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-p.queue:
			p.process(t.ctx, t.event)
		}
	}
}

// process walks one event through the delivery states. Steps run strictly
// in order; the first error is terminal.
func (p *Pipeline) process(ctx context.Context, ev gchat.Event) {
	log := p.logger.With(
		slog.String("event_id", uuid.NewString()),
		slog.String("space", ev.Space),
		slog.String("thread", ev.Thread),
	)

	if ev.AckOnly {
		log.Info("membership event acknowledged", slog.String("kind", string(ev.Kind)))
		return
	}

	key := identity.ResolveKey(ev.Space, ev.Thread, ev.Sender, ev.Direct)
	log = log.With(slog.String("key", key.String()))
	log.Debug("key resolved")

	handle, err := p.conversations.EnsureConversation(ctx, key.String(), ev.Sender)
	if err != nil {
		log.Error("pipeline failed", slog.String("state", "conversation_ready"), slog.Any("error", err))
		return
	}
	log.Debug("conversation ready", slog.String("conversation_id", handle.ConversationID))

	if err := p.conversations.AppendMessage(ctx, handle.ConversationID, ev.Text, ev.Sender); err != nil {
		log.Error("pipeline failed", slog.String("state", "message_appended"), slog.Any("error", err))
		return
	}

	reply, err := p.conversations.ExecuteRun(ctx, handle.ConversationID)
	if err != nil {
		log.Error("pipeline failed", slog.String("state", "reply_generated"), slog.Any("error", err))
		return
	}

	if err := p.replies.PostReply(ctx, ev.ReplyTarget(), reply); err != nil {
		// The assistant side already persisted the exchange; only the
		// user-visible reply is lost.
		log.Error("pipeline failed", slog.String("state", "delivered"), slog.Any("error", err))
		return
	}

	log.Info("delivered")
}
