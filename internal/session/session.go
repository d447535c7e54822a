// Package session is the client-side view of a conversation: an ordered,
// append-only message history fed by the live relay connection when it is
// open and by a request/reply HTTP call when it is not.
package session

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"moto-chat/internal/assistant"
	"moto-chat/internal/protocol"
	"moto-chat/internal/transport"
)

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrNotOpen      = errors.New("no live connection and no fallback")
	ErrReplyTimeout = errors.New("no reply from relay")
	ErrTooLong      = errors.Errorf("message is longer than %d bytes", protocol.MaxContentLength)
)

type MessageType string

const (
	TypeUser MessageType = "user"
	TypeAI   MessageType = "ai"
	// TypePeer marks room messages from other riders.
	TypePeer MessageType = "peer"
)

type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	Username  string      `json:"username,omitempty"`
	// Fallback marks replies that came over the HTTP fallback.
	Fallback  bool        `json:"fallback,omitempty"`
}

type Identity struct {
	Token    string
	UserID   int
	Username string
}

// Transport is the live connection. *transport.Client satisfies it.
type Transport interface {
	Status() transport.Status
	Send(frame []byte) bool
	Inbox() *transport.Inbox
}

// Fallback answers a message synchronously when the transport is down.
type Fallback interface {
	Chat(ctx context.Context, message string, history []assistant.Turn) (*assistant.ChatResponse, error)
}

type Options struct {
	// RoomID selects room chat. Zero means an assistant conversation.
	RoomID int
	// ReplyTimeout clears a live-path request nobody answered.
	ReplyTimeout time.Duration
	Logger       *zap.Logger
}

type Session struct {
	transport Transport
	fallback  Fallback
	roomID    int
	timeout   time.Duration
	log       *zap.Logger
	now       func() time.Time
	newID     func() string

	mu       sync.Mutex
	history  []Message
	pending  map[string]*time.Timer
	// sent holds correlation ids of room messages whose echo has not
	// arrived yet. It outlives ReplyTimeout so a late echo is still ours.
	sent     map[string]struct{}
	inflight int
	identity *Identity
	lastErr  error
}

func New(t Transport, fb Fallback, opts Options) *Session {
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Session{
		transport: t,
		fallback:  fb,
		roomID:    opts.RoomID,
		timeout:   opts.ReplyTimeout,
		log:       opts.Logger,
		now:       time.Now,
		newID:     uuid.NewString,
		pending:   make(map[string]*time.Timer),
		sent:      make(map[string]struct{}),
	}
}

// SendMessage appends text to the history right away and delivers it over
// the live connection, or over the fallback when the connection is not open.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if len(text) > protocol.MaxContentLength {
		return ErrTooLong
	}

	if s.live() {
		corr := s.newID()
		data, err := s.encodeOutgoing(text, corr)
		if err != nil {
			return err
		}

		id := s.newID()
		s.mu.Lock()
		s.appendLocked(Message{ID: id, Type: TypeUser, Content: text, Timestamp: s.now().UTC()})
		s.trackLocked(corr)
		s.mu.Unlock()

		if s.transport.Send(data) {
			return nil
		}

		// Connection dropped between the status check and the write.
		s.mu.Lock()
		s.settleLocked(corr)
		delete(s.sent, corr)
		if !s.canFallback() {
			s.removeLocked(id)
			s.mu.Unlock()
			return ErrNotOpen
		}
		s.mu.Unlock()
		return s.viaFallback(ctx, text, false)
	}

	return s.viaFallback(ctx, text, true)
}

func (s *Session) viaFallback(ctx context.Context, text string, appendUser bool) error {
	if !s.canFallback() {
		return ErrNotOpen
	}

	s.mu.Lock()
	history := s.contextLocked(!appendUser)
	if appendUser {
		s.appendLocked(Message{ID: s.newID(), Type: TypeUser, Content: text, Timestamp: s.now().UTC()})
	}
	s.inflight++
	s.mu.Unlock()

	resp, err := s.fallback.Chat(ctx, text, history)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if err != nil {
		s.lastErr = err
		s.log.Warn("fallback chat failed", zap.Error(err))
		return errors.Wrap(err, "assistant fallback")
	}
	s.appendLocked(Message{ID: s.newID(), Type: TypeAI, Content: resp.Message, Timestamp: resp.Timestamp, Fallback: true})
	return nil
}

// canFallback reports whether sends can go over the HTTP fallback. Room chat
// has no request/reply path.
func (s *Session) canFallback() bool {
	return s.fallback != nil && s.roomID == 0
}

// contextLocked returns up to the last MaxHistory user/assistant turns.
// skipLast leaves out the newest entry, the message being sent.
func (s *Session) contextLocked(skipLast bool) []assistant.Turn {
	msgs := s.history
	if skipLast && len(msgs) > 0 {
		msgs = msgs[:len(msgs)-1]
	}

	turns := make([]assistant.Turn, 0, len(msgs))
	for _, m := range msgs {
		switch m.Type {
		case TypeUser:
			turns = append(turns, assistant.Turn{Role: assistant.RoleUser, Content: m.Content})
		case TypeAI:
			turns = append(turns, assistant.Turn{Role: assistant.RoleAssistant, Content: m.Content})
		}
	}
	if len(turns) > assistant.MaxHistory {
		turns = turns[len(turns)-assistant.MaxHistory:]
	}
	return turns
}

func (s *Session) encodeOutgoing(text, corr string) ([]byte, error) {
	var f protocol.ClientFrame
	if s.roomID != 0 {
		f = protocol.Chat{RoomID: s.roomID, Content: text, CorrelationID: corr}
	} else {
		f = protocol.AIChat{Content: text, CorrelationID: corr}
	}
	data, err := json.Marshal(f)
	return data, errors.Wrap(err, "encode frame")
}

// SetIdentity records who this session speaks for and authenticates the
// live connection. The auth frame is re-sent after every reconnect.
func (s *Session) SetIdentity(id Identity) {
	s.mu.Lock()
	s.identity = &id
	s.mu.Unlock()

	if s.live() {
		s.authenticate()
	}
}

func (s *Session) authenticate() {
	s.mu.Lock()
	id := s.identity
	s.mu.Unlock()
	if id == nil {
		return
	}

	data, err := json.Marshal(protocol.Auth{Token: id.Token, UserID: id.UserID, Username: id.Username})
	if err != nil {
		return
	}
	if !s.transport.Send(data) {
		s.log.Debug("auth not sent, connection not open")
	}
}

// Run applies inbound frames to the history until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	if s.transport == nil {
		<-ctx.Done()
		return ctx.Err()
	}

	inbox := s.transport.Inbox()
	seen := 0
	for {
		frames, err := inbox.Wait(ctx, seen)
		if err != nil {
			return err
		}
		seen += len(frames)
		for _, raw := range frames {
			s.handleFrame(raw)
		}
	}
}

func (s *Session) handleFrame(raw []byte) {
	frame, err := protocol.DecodeServer(raw)
	if err != nil {
		s.log.Debug("ignoring frame", zap.Error(err))
		return
	}

	switch f := frame.(type) {
	case protocol.Connected:
		s.authenticate()

	case protocol.ChatBroadcast:
		if s.roomID == 0 || f.RoomID != s.roomID {
			return
		}
		s.mu.Lock()
		if _, ok := s.sent[f.CorrelationID]; ok && f.CorrelationID != "" {
			// Our own message, already in the history.
			delete(s.sent, f.CorrelationID)
			s.settleLocked(f.CorrelationID)
			s.mu.Unlock()
			return
		}
		typ := TypePeer
		if s.identity != nil && s.identity.UserID == f.UserID {
			typ = TypeUser
		}
		s.appendLocked(Message{
			ID:        strconv.Itoa(f.MessageID),
			Type:      typ,
			Content:   f.Content,
			Timestamp: f.Timestamp,
			Username:  f.Username,
		})
		s.mu.Unlock()

	case protocol.AIChatReply:
		s.mu.Lock()
		s.settleLocked(f.CorrelationID)
		s.appendLocked(Message{ID: f.MessageID, Type: TypeAI, Content: f.Content, Timestamp: f.Timestamp})
		s.mu.Unlock()

	case protocol.Error:
		s.mu.Lock()
		s.settleLocked(f.CorrelationID)
		delete(s.sent, f.CorrelationID)
		s.lastErr = errors.Errorf("relay error %s: %s", f.Code, f.Message)
		s.mu.Unlock()
	}
}

func (s *Session) trackLocked(corr string) {
	if s.roomID != 0 {
		s.sent[corr] = struct{}{}
	}
	s.pending[corr] = time.AfterFunc(s.timeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.pending[corr]; ok {
			delete(s.pending, corr)
			s.lastErr = ErrReplyTimeout
		}
	})
}

// settleLocked clears a pending request. It reports whether corr was pending.
func (s *Session) settleLocked(corr string) bool {
	if corr == "" {
		return false
	}
	t, ok := s.pending[corr]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.pending, corr)
	return true
}

func (s *Session) appendLocked(m Message) {
	s.history = append(s.history, m)
}

func (s *Session) removeLocked(id string) {
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].ID == id {
			s.history = append(s.history[:i], s.history[i+1:]...)
			return
		}
	}
}

func (s *Session) live() bool {
	return s.transport != nil && s.transport.Status() == transport.StatusOpen
}

// FallbackMode reports whether sends currently bypass the live connection.
func (s *Session) FallbackMode() bool {
	return !s.live()
}

// Awaiting reports whether any reply is outstanding.
func (s *Session) Awaiting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0 || s.inflight > 0
}

func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// ClearMessages empties the history. The connection is left alone.
func (s *Session) ClearMessages() {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
}

func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
