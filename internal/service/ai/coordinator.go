package ai

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftlab/driftchat/internal/hub"
	"github.com/driftlab/driftchat/internal/model/assistant"
	"github.com/driftlab/driftchat/internal/model/chat"
	"github.com/driftlab/driftchat/internal/registry"
	"github.com/driftlab/driftchat/internal/store"
)

// Coordinator owns the live response streams. Each mention becomes one
// stream: a start event, a chunk sequence, and either a completion that
// persists the full text as an AI message or an error event.
type Coordinator struct {
	generator  Generator
	assistants assistant.Store
	messages   store.MessageRepo
	hub        *hub.Hub
	log        *zap.Logger
	now        func() time.Time
	newID      func() string

	streams *registry.Bounded[string, *stream]
}

type stream struct {
	id      string
	roomID  string
	mention string
	cancel  context.CancelFunc

	mu       sync.Mutex
	lastSeen time.Time
}

func (st *stream) touch(at time.Time) {
	st.mu.Lock()
	st.lastSeen = at
	st.mu.Unlock()
}

func (st *stream) seen() time.Time {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastSeen
}

// NewCoordinator wires the streaming coordinator. maxStreams bounds the
// number of concurrent streams; starting one past the bound cancels the
// oldest.
func NewCoordinator(gen Generator, assistants assistant.Store, messages store.MessageRepo, h *hub.Hub, maxStreams int, log *zap.Logger) *Coordinator {
	return &Coordinator{
		generator:  gen,
		assistants: assistants,
		messages:   messages,
		hub:        h,
		log:        log,
		now:        time.Now,
		newID:      uuid.NewString,
		streams:    registry.NewBounded[string, *stream](maxStreams),
	}
}

// SetClock overrides the time source for tests.
func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }

// SetIDFunc overrides stream id generation for tests.
func (c *Coordinator) SetIDFunc(fn func() string) { c.newID = fn }

// Start begins streaming a response from the mentioned assistant into
// roomID. Unknown mentions are ignored; the message itself already went
// out. Implements the chat service's Streamer.
func (c *Coordinator) Start(ctx context.Context, roomID, userID, mention, query string) {
	profile, ok := c.assistants.FindByMention(mention)
	if !ok {
		c.log.Debug("unknown assistant mention", zap.String("mention", mention))
		return
	}

	streamCtx, cancel := context.WithCancel(ctx)
	st := &stream{
		id:      c.newID(),
		roomID:  roomID,
		mention: mention,
		cancel:  cancel,
	}
	st.touch(c.now())

	if _, evicted, wasEvicted := c.streams.Put(st.id, st); wasEvicted {
		c.log.Warn("stream capacity reached, cancelling oldest",
			zap.String("evictedSid", evicted.id), zap.String("roomId", evicted.roomID))
		evicted.cancel()
	}

	c.hub.Broadcast(ctx, roomID, chat.Event{
		Name:    chat.EventAIMessageStart,
		Payload: chat.AIStartPayload{StreamID: st.id, Model: mention, Timestamp: c.now()},
	})

	c.log.Info("ai stream started",
		zap.String("sid", st.id), zap.String("roomId", roomID),
		zap.String("mention", mention), zap.String("userId", userID))

	go c.run(streamCtx, st, profile, query)
}

func (c *Coordinator) run(ctx context.Context, st *stream, profile assistant.Profile, query string) {
	defer c.streams.Delete(st.id)
	defer st.cancel()

	src, err := c.generator.Stream(ctx, profile.SystemPrompt, query)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.log.Warn("ai stream open failed", zap.String("sid", st.id), zap.Error(err))
		c.fail(st)
		return
	}
	defer src.Close()

	var full strings.Builder
	for {
		chunk, err := src.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Cancelled streams (idle expiry, capacity eviction, shutdown)
			// end without a client event; only generator failures surface.
			if ctx.Err() != nil {
				c.log.Info("ai stream cancelled",
					zap.String("sid", st.id), zap.Int("received", full.Len()))
				return
			}
			c.log.Warn("ai stream receive failed",
				zap.String("sid", st.id), zap.Int("received", full.Len()), zap.Error(err))
			c.fail(st)
			return
		}
		if chunk == "" {
			continue
		}
		full.WriteString(chunk)
		st.touch(c.now())
		c.hub.Broadcast(ctx, st.roomID, chat.Event{
			Name:    chat.EventAIMessageChunk,
			Payload: chat.AIChunkPayload{StreamID: st.id, Chunk: chunk, FullContent: full.String()},
		})
	}

	c.complete(ctx, st, full.String())
}

// complete persists the full text and closes the stream on the wire. The
// completion is only announced once the message is durable.
func (c *Coordinator) complete(ctx context.Context, st *stream, content string) {
	msg := &chat.Message{
		ID:        c.newID(),
		RoomID:    st.roomID,
		Content:   content,
		Kind:      chat.KindAI,
		AIModel:   st.mention,
		CreatedAt: c.now(),
	}
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.messages.CreateMessage(persistCtx, msg); err != nil {
		c.log.Error("ai message persist failed", zap.String("sid", st.id), zap.Error(err))
		c.fail(st)
		return
	}

	payload := chat.MessagePayload{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		Content:   msg.Content,
		Kind:      msg.Kind,
		AIModel:   msg.AIModel,
		Timestamp: msg.CreatedAt,
		Readers:   []chat.Reader{},
		Reactions: map[string][]string{},
	}
	c.hub.Broadcast(context.WithoutCancel(ctx), st.roomID, chat.Event{
		Name:    chat.EventAIMessageComplete,
		Payload: chat.AICompletePayload{StreamID: st.id, Message: payload},
	})
	c.log.Info("ai stream completed", zap.String("sid", st.id), zap.Int("length", len(content)))
}

func (c *Coordinator) fail(st *stream) {
	c.hub.Broadcast(context.Background(), st.roomID, chat.Event{
		Name:    chat.EventAIMessageError,
		Payload: chat.AIErrorPayload{StreamID: st.id},
	})
}

// ExpireIdle cancels streams that have not produced a chunk within
// maxIdle. The janitor calls this; an expired stream goes away without
// a client event.
func (c *Coordinator) ExpireIdle(maxIdle time.Duration) int {
	cutoff := c.now().Add(-maxIdle)
	var expired []*stream
	c.streams.Range(func(_ string, st *stream) bool {
		if st.seen().Before(cutoff) {
			expired = append(expired, st)
		}
		return true
	})
	for _, st := range expired {
		c.log.Warn("expiring idle ai stream",
			zap.String("sid", st.id), zap.String("roomId", st.roomID))
		st.cancel()
	}
	return len(expired)
}

// CancelAll aborts every live stream. Shutdown calls this.
func (c *Coordinator) CancelAll() {
	c.streams.Range(func(_ string, st *stream) bool {
		st.cancel()
		return true
	})
}

// Len reports the number of live streams.
func (c *Coordinator) Len() int { return c.streams.Len() }
