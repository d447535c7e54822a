// Package relay accepts chat connections, binds them to riders, persists
// chat messages and fans them out to every live connection.
//
// Frames from one connection are handled in the order received. Across
// connections there is no total order: two riders' messages broadcast in
// whichever order their writes complete. Delivery is best effort; a rider who
// was offline recovers history from the message store, not from the relay.
package relay

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"moto-chat/internal/assistant"
	"moto-chat/internal/chat"
	"moto-chat/internal/protocol"
)

// Gateway is the write side of the message store.
type Gateway interface {
	CreateMessage(ctx context.Context, roomID, userID int, content string) (*chat.StoredMessage, error)
}

type Options struct {
	Verifier IdentityVerifier
	// Bus is optional. Without it broadcasts stay in this process.
	Bus Bus
	// Assistant answers ai_chat frames. Optional.
	Assistant assistant.Generator

	PersistTimeout  time.Duration
	GenerateTimeout time.Duration
	Logger          *zap.Logger
}

type Relay struct {
	registry  *Registry
	gateway   Gateway
	verifier  IdentityVerifier
	bus       Bus
	assistant assistant.Generator

	persistTimeout  time.Duration
	generateTimeout time.Duration
	log             *zap.Logger
	now             func() time.Time
	newID           func() string

	// subscribed is set while Run holds a live bus subscription. Broadcasts
	// are delivered locally whenever it is not.
	subscribed       atomic.Bool
	resubscribeDelay time.Duration
}

func New(registry *Registry, gateway Gateway, opts Options) *Relay {
	r := &Relay{
		registry:        registry,
		gateway:         gateway,
		verifier:        opts.Verifier,
		bus:             opts.Bus,
		assistant:       opts.Assistant,
		persistTimeout:  opts.PersistTimeout,
		generateTimeout: opts.GenerateTimeout,
		log:             opts.Logger,
		now:             time.Now,
		newID:           uuid.NewString,

		resubscribeDelay: time.Second,
	}
	if r.persistTimeout <= 0 {
		r.persistTimeout = 5 * time.Second
	}
	if r.generateTimeout <= 0 {
		r.generateTimeout = 30 * time.Second
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	return r
}

func (r *Relay) Registry() *Registry {
	return r.registry
}

// Accept registers a new connection as unbound and greets it with a
// connected frame before any other traffic.
func (r *Relay) Accept(p Peer) {
	r.registry.Register(p)
	r.send(p, protocol.Connected{Timestamp: r.now().UTC()})
	r.log.Debug("connection accepted", zap.String("conn", p.ID()))
}

func (r *Relay) Disconnect(p Peer) {
	if r.registry.Unregister(p) {
		r.log.Debug("connection closed", zap.String("conn", p.ID()))
	}
}

// HandleFrame processes one inbound frame. Bad frames are logged and dropped;
// they never close the connection.
func (r *Relay) HandleFrame(ctx context.Context, p Peer, data []byte) {
	frame, err := protocol.DecodeClient(data)
	if err != nil {
		r.log.Warn("dropping frame", zap.String("conn", p.ID()), zap.Error(err))
		return
	}

	switch f := frame.(type) {
	case protocol.Auth:
		r.handleAuth(ctx, p, f)
	case protocol.Chat:
		r.handleChat(ctx, p, f)
	case protocol.AIChat:
		r.handleAIChat(ctx, p, f)
	}
}

func (r *Relay) handleAuth(ctx context.Context, p Peer, f protocol.Auth) {
	if r.verifier == nil {
		r.log.Error("auth frame received but no verifier configured", zap.String("conn", p.ID()))
		r.send(p, protocol.Error{Code: protocol.CodeAuthFailed, Message: "authentication unavailable"})
		return
	}

	id, err := r.verifier.Verify(ctx, f)
	if err != nil {
		r.log.Info("auth rejected", zap.String("conn", p.ID()), zap.Error(err))
		r.send(p, protocol.Error{Code: protocol.CodeAuthFailed, Message: "authentication failed"})
		return
	}

	if !r.registry.Bind(p, id.UserID, id.Username) {
		// Raced with close.
		return
	}
	r.log.Debug("connection bound",
		zap.String("conn", p.ID()), zap.Int("user_id", id.UserID), zap.String("username", id.Username))
}

func (r *Relay) handleChat(ctx context.Context, p Peer, f protocol.Chat) {
	b, ok := r.registry.Lookup(p)
	if !ok || !b.Bound {
		r.log.Debug("dropping chat from unbound connection", zap.String("conn", p.ID()))
		return
	}

	pctx, cancel := context.WithTimeout(ctx, r.persistTimeout)
	msg, err := r.gateway.CreateMessage(pctx, f.RoomID, b.UserID, f.Content)
	cancel()
	if err != nil {
		r.log.Error("persist chat message failed",
			zap.String("conn", p.ID()), zap.Int("user_id", b.UserID), zap.Int("room_id", f.RoomID), zap.Error(err))
		r.send(p, protocol.Error{
			Code:          protocol.CodePersistFailed,
			Message:       "message was not saved",
			CorrelationID: f.CorrelationID,
		})
		return
	}

	data, err := json.Marshal(protocol.ChatBroadcast{
		RoomID:        msg.RoomID,
		MessageID:     msg.ID,
		UserID:        b.UserID,
		Username:      b.Username,
		Content:       msg.Content,
		Timestamp:     msg.SentAt,
		CorrelationID: f.CorrelationID,
	})
	if err != nil {
		r.log.Error("encode broadcast failed", zap.Error(err))
		return
	}
	r.broadcast(ctx, data)
}

func (r *Relay) handleAIChat(ctx context.Context, p Peer, f protocol.AIChat) {
	if r.assistant == nil {
		r.send(p, protocol.Error{
			Code:          protocol.CodeGenerateFailed,
			Message:       "assistant unavailable",
			CorrelationID: f.CorrelationID,
		})
		return
	}

	gctx, cancel := context.WithTimeout(ctx, r.generateTimeout)
	reply, err := r.assistant.Reply(gctx, f.Content, nil)
	cancel()
	if err != nil {
		r.log.Error("assistant reply failed", zap.String("conn", p.ID()), zap.Error(err))
		r.send(p, protocol.Error{
			Code:          protocol.CodeGenerateFailed,
			Message:       "assistant unavailable",
			CorrelationID: f.CorrelationID,
		})
		return
	}

	r.send(p, protocol.AIChatReply{
		MessageID:     r.newID(),
		Content:       reply,
		Timestamp:     r.now().UTC(),
		CorrelationID: f.CorrelationID,
	})
}

func (r *Relay) broadcast(ctx context.Context, data []byte) {
	if r.bus != nil && r.subscribed.Load() {
		err := r.bus.Publish(ctx, data)
		if err == nil {
			return
		}
		r.log.Error("bus publish failed, delivering locally", zap.Error(err))
	}
	r.deliver(data)
}

// deliver sends a frame to every connection registered right now, regardless
// of its binding or the frame's room.
func (r *Relay) deliver(data []byte) {
	for _, p := range r.registry.Snapshot() {
		if !p.Send(data) {
			r.log.Debug("skipping connection", zap.String("conn", p.ID()))
		}
	}
}

func (r *Relay) send(p Peer, frame protocol.ServerFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		r.log.Error("encode frame failed", zap.Error(err))
		return
	}
	p.Send(data)
}

// Run delivers frames arriving on the bus until ctx is done, then closes
// every connection. A subscription that fails or ends is retried after
// resubscribeDelay; until then broadcasts go straight to local connections.
// Without a bus it only waits for shutdown.
func (r *Relay) Run(ctx context.Context) error {
	defer r.closeAll()

	if r.bus == nil {
		<-ctx.Done()
		return nil
	}

	for {
		frames, err := r.bus.Subscribe(ctx)
		if err != nil {
			r.log.Error("bus subscribe failed, delivering locally", zap.Error(err))
		} else {
			r.subscribed.Store(true)
			r.consume(ctx, frames)
			r.subscribed.Store(false)
		}
		if ctx.Err() != nil {
			return nil
		}

		r.log.Warn("bus subscription lost, retrying", zap.Duration("in", r.resubscribeDelay))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.resubscribeDelay):
		}
	}
}

func (r *Relay) consume(ctx context.Context, frames <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-frames:
			if !ok {
				return
			}
			r.deliver(data)
		}
	}
}

func (r *Relay) closeAll() {
	for _, p := range r.registry.Snapshot() {
		p.Close()
	}
}
