package relay

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/helixchat/helix/internal/cache"
	"github.com/helixchat/helix/internal/common/cnst"
	"github.com/helixchat/helix/internal/conversation"
	"github.com/helixchat/helix/internal/stream"
	"github.com/helixchat/helix/internal/upstream"
)

// touchInterval bounds how often a long-running relay refreshes its
// session registration.
const touchInterval = 30 * time.Second

// Observer receives stream lifecycle signals. Implemented by pkg/metrics.
type Observer interface {
	StreamStart()
	StreamDone(outcome string, since time.Time)
	UpstreamRetry()
}

// ChatRequest is one user turn to be relayed upstream.
type ChatRequest struct {
	Owner          string
	Message        string
	ConversationID string
	Provider       string
	UseRetrieval   bool
}

// Relay orchestrates a chat turn: it persists the user message, registers
// a stream session, opens the upstream stream and forwards its events to
// the caller over a channel, then persists the assistant reply and
// invalidates cached conversation reads.
type Relay struct {
	logger   *zap.Logger
	db       conversation.Database
	cache    *cache.Coordinator
	registry *stream.Registry
	client   *upstream.Client
	policy   upstream.RetryPolicy
	observer Observer

	model    string
	provider string
}

// New creates a relay. observer may be nil.
func New(
	logger *zap.Logger,
	db conversation.Database,
	coord *cache.Coordinator,
	registry *stream.Registry,
	client *upstream.Client,
	policy upstream.RetryPolicy,
	observer Observer,
	model, provider string,
) *Relay {
	return &Relay{
		logger:   logger.Named("relay"),
		db:       db,
		cache:    coord,
		registry: registry,
		client:   client,
		policy:   policy,
		observer: observer,
		model:    model,
		provider: provider,
	}
}

// ErrEmptyMessage is returned when a chat request carries no content.
var ErrEmptyMessage = errors.New("message must not be empty")

// Chat starts a relayed chat turn and returns the channel its events are
// delivered on. The channel is closed after the terminal event, or without
// one when ctx is cancelled. Errors past this point are reported in-band
// as an error event.
func (r *Relay) Chat(ctx context.Context, req *ChatRequest) (<-chan Event, error) {
	if req.Message == "" {
		return nil, ErrEmptyMessage
	}

	ch := make(chan Event, 16)
	go r.run(ctx, req, ch)
	return ch, nil
}

func (r *Relay) run(ctx context.Context, req *ChatRequest, ch chan<- Event) {
	defer close(ch)

	started := time.Now()
	if r.observer != nil {
		r.observer.StreamStart()
	}
	outcome := "error"
	if r.observer != nil {
		defer func() { r.observer.StreamDone(outcome, started) }()
	}

	conv, err := r.resolveConversation(ctx, req)
	if err != nil {
		r.fail(ctx, ch, "", err)
		return
	}

	userMsg := &conversation.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Role:           conversation.RoleUser,
		Content:        req.Message,
	}
	if err := r.db.SaveMessage(ctx, userMsg); err != nil {
		r.fail(ctx, ch, "", err)
		return
	}

	history, err := r.db.ListMessages(ctx, conv.ID)
	if err != nil {
		r.fail(ctx, ch, "", err)
		return
	}

	ureq := &upstream.Request{
		Messages:     make([]upstream.ChatMessage, 0, len(history)),
		Model:        r.model,
		Provider:     req.Provider,
		UseRetrieval: req.UseRetrieval,
	}
	if ureq.Provider == "" {
		ureq.Provider = r.provider
	}
	for _, msg := range history {
		ureq.Messages = append(ureq.Messages, upstream.ChatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	// A registry failure must not block the chat itself; the session just
	// will not show up in the active-stream listing.
	var sessionID string
	sess, err := r.registry.Register(ctx, req.Owner, conv.ID)
	if err != nil {
		r.logger.Warn("failed to register stream session",
			zap.String("conversation", conv.ID),
			zap.Error(err))
	} else {
		sessionID = sess.ID
		defer r.deregister(sessionID)
	}

	onRetry := func(attempt int, err error) {
		if r.observer != nil {
			r.observer.UpstreamRetry()
		}
		r.logger.Warn("retrying upstream call",
			zap.Int("attempt", attempt),
			zap.String("conversation", conv.ID),
			zap.Error(err))
	}

	us, err := r.client.StreamWithRetry(ctx, ureq, r.policy, onRetry)
	if err != nil {
		if upstream.IsCancellation(err) {
			outcome = "cancelled"
			return
		}
		r.fail(ctx, ch, conv.ID, err)
		return
	}
	defer us.Close()

	var reply []byte
	lastTouch := started
	for {
		ev, err := us.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if upstream.IsCancellation(err) {
				outcome = "cancelled"
				return
			}
			r.fail(ctx, ch, conv.ID, err)
			return
		}

		if sessionID != "" && time.Since(lastTouch) >= touchInterval {
			lastTouch = time.Now()
			if err := r.registry.Touch(ctx, sessionID); err != nil {
				r.logger.Warn("failed to touch stream session",
					zap.String("session", sessionID),
					zap.Error(err))
			}
		}

		switch ev.Type {
		case upstream.EventContent:
			reply = append(reply, ev.Content...)
			if !r.emit(ctx, ch, Event{Type: EventContent, Content: ev.Content}) {
				outcome = "cancelled"
				return
			}
		case upstream.EventSources:
			if !r.emit(ctx, ch, Event{Type: EventSources, Sources: ev.Sources}) {
				outcome = "cancelled"
				return
			}
		case upstream.EventError:
			r.fail(ctx, ch, conv.ID, errors.New(ev.Err))
			return
		default:
			r.logger.Debug("ignoring unknown upstream event",
				zap.String("type", ev.Type))
		}
	}

	// Natural completion: the assistant reply is persisted before the
	// terminal event so a done frame always implies a stored reply.
	assistantMsg := &conversation.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Role:           conversation.RoleAssistant,
		Content:        string(reply),
	}
	if err := r.db.SaveMessage(ctx, assistantMsg); err != nil {
		r.fail(ctx, ch, conv.ID, err)
		return
	}
	if err := r.db.TouchConversation(ctx, conv.ID); err != nil {
		r.logger.Warn("failed to touch conversation",
			zap.String("conversation", conv.ID),
			zap.Error(err))
	}
	r.cache.InvalidateConversation(ctx, conv.ID, req.Owner)

	if r.emit(ctx, ch, Event{Type: EventDone, ConversationID: conv.ID}) {
		outcome = "done"
	} else {
		outcome = "cancelled"
	}
}

// resolveConversation loads the target conversation or creates one with a
// title derived from the first message.
func (r *Relay) resolveConversation(ctx context.Context, req *ChatRequest) (*conversation.Conversation, error) {
	if req.ConversationID != "" {
		return r.db.GetConversation(ctx, req.ConversationID)
	}

	conv := &conversation.Conversation{
		ID:       uuid.New().String(),
		OwnerID:  req.Owner,
		Title:    conversation.TitleFromMessage(req.Message),
		Provider: req.Provider,
	}
	if conv.Provider == "" {
		conv.Provider = r.provider
	}
	if err := r.db.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	r.cache.Invalidate(ctx, cnst.ConversationListKey(req.Owner))
	return conv, nil
}

// emit delivers ev unless the caller has gone away. Returns false when the
// context ended before the event could be sent.
func (r *Relay) emit(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// fail emits the single terminal error event. A cancelled caller gets
// nothing: the channel just closes.
func (r *Relay) fail(ctx context.Context, ch chan<- Event, conversationID string, err error) {
	if ctx.Err() != nil {
		return
	}
	r.logger.Error("relay failed",
		zap.String("conversation", conversationID),
		zap.Error(err))
	r.emit(ctx, ch, Event{Type: EventError, ConversationID: conversationID, Err: err.Error()})
}

// deregister removes the stream session after the relay ends, even when
// the caller's context is already gone.
func (r *Relay) deregister(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.registry.Deregister(ctx, sessionID); err != nil {
		r.logger.Warn("failed to deregister stream session",
			zap.String("session", sessionID),
			zap.Error(err))
	}
}
