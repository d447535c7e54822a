// Package protocol defines the JSON text frames exchanged between the chat
// relay and its clients. Every frame carries a "type" discriminator; each
// direction decodes into a closed set of Go types.
package protocol

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type Type string

const (
	TypeConnected Type = "connected"
	TypeAuth      Type = "auth"
	TypeChat      Type = "chat"
	TypeAIChat    Type = "ai_chat"
	TypeError     Type = "error"
)

// Error codes carried by Error frames.
const (
	CodeAuthFailed     = "auth_failed"
	CodePersistFailed  = "persist_failed"
	CodeGenerateFailed = "generate_failed"
)

// MaxContentLength caps chat and ai_chat content, in bytes. Longer content
// is rejected as malformed.
const MaxContentLength = 4000

var (
	ErrMalformed   = errors.New("malformed frame")
	ErrUnknownType = errors.New("unknown frame type")
)

// ClientFrame is a frame sent from a client to the relay.
type ClientFrame interface {
	clientFrame()
}

// ServerFrame is a frame sent from the relay to a client.
type ServerFrame interface {
	serverFrame()
}

// Auth binds the connection to a rider. Token is verified by the relay;
// UserID and Username are only honored by a relay configured to trust them.
type Auth struct {
	Token    string `json:"token,omitempty"`
	UserID   int    `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
}

type Chat struct {
	RoomID        int    `json:"roomId"`
	Content       string `json:"content"`
	CorrelationID string `json:"correlationId,omitempty"`
}

type AIChat struct {
	Content       string `json:"content"`
	CorrelationID string `json:"correlationId,omitempty"`
}

type Connected struct {
	Timestamp time.Time `json:"timestamp"`
}

// ChatBroadcast is a persisted chat message fanned out to every connection.
type ChatBroadcast struct {
	RoomID        int       `json:"roomId"`
	MessageID     int       `json:"messageId"`
	UserID        int       `json:"userId"`
	Username      string    `json:"username"`
	Content       string    `json:"content"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

type AIChatReply struct {
	MessageID     string    `json:"messageId"`
	Content       string    `json:"content"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

type Error struct {
	Code          string `json:"code"`
	Message       string `json:"message,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (Auth) clientFrame()   {}
func (Chat) clientFrame()   {}
func (AIChat) clientFrame() {}

func (Connected) serverFrame()     {}
func (ChatBroadcast) serverFrame() {}
func (AIChatReply) serverFrame()   {}
func (Error) serverFrame()         {}

func (f Auth) MarshalJSON() ([]byte, error) {
	type alias Auth
	return json.Marshal(struct {
		Type Type `json:"type"`
		alias
	}{TypeAuth, alias(f)})
}

func (f Chat) MarshalJSON() ([]byte, error) {
	type alias Chat
	return json.Marshal(struct {
		Type Type `json:"type"`
		alias
	}{TypeChat, alias(f)})
}

func (f AIChat) MarshalJSON() ([]byte, error) {
	type alias AIChat
	return json.Marshal(struct {
		Type Type `json:"type"`
		alias
	}{TypeAIChat, alias(f)})
}

func (f Connected) MarshalJSON() ([]byte, error) {
	type alias Connected
	return json.Marshal(struct {
		Type Type `json:"type"`
		alias
	}{TypeConnected, alias(f)})
}

func (f ChatBroadcast) MarshalJSON() ([]byte, error) {
	type alias ChatBroadcast
	return json.Marshal(struct {
		Type Type `json:"type"`
		alias
	}{TypeChat, alias(f)})
}

func (f AIChatReply) MarshalJSON() ([]byte, error) {
	type alias AIChatReply
	return json.Marshal(struct {
		Type Type `json:"type"`
		alias
	}{TypeAIChat, alias(f)})
}

func (f Error) MarshalJSON() ([]byte, error) {
	type alias Error
	return json.Marshal(struct {
		Type Type `json:"type"`
		alias
	}{TypeError, alias(f)})
}

type envelope struct {
	Type Type `json:"type"`
}

func peekType(data []byte) (Type, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", errors.Wrap(ErrMalformed, err.Error())
	}
	if env.Type == "" {
		return "", errors.Wrap(ErrMalformed, "missing type")
	}
	return env.Type, nil
}

// DecodeClient parses a frame received by the relay.
func DecodeClient(data []byte) (ClientFrame, error) {
	t, err := peekType(data)
	if err != nil {
		return nil, err
	}

	switch t {
	case TypeAuth:
		var f Auth
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, errors.Wrap(ErrMalformed, err.Error())
		}
		return f, nil
	case TypeChat:
		var f Chat
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, errors.Wrap(ErrMalformed, err.Error())
		}
		if f.RoomID <= 0 || strings.TrimSpace(f.Content) == "" {
			return nil, errors.Wrap(ErrMalformed, "chat needs roomId and content")
		}
		if len(f.Content) > MaxContentLength {
			return nil, errors.Wrap(ErrMalformed, "chat content too long")
		}
		return f, nil
	case TypeAIChat:
		var f AIChat
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, errors.Wrap(ErrMalformed, err.Error())
		}
		if strings.TrimSpace(f.Content) == "" {
			return nil, errors.Wrap(ErrMalformed, "ai_chat needs content")
		}
		if len(f.Content) > MaxContentLength {
			return nil, errors.Wrap(ErrMalformed, "ai_chat content too long")
		}
		return f, nil
	default:
		return nil, errors.Wrapf(ErrUnknownType, "%q", t)
	}
}

// DecodeServer parses a frame received by a client.
func DecodeServer(data []byte) (ServerFrame, error) {
	t, err := peekType(data)
	if err != nil {
		return nil, err
	}

	var f ServerFrame
	switch t {
	case TypeConnected:
		var v Connected
		err = json.Unmarshal(data, &v)
		f = v
	case TypeChat:
		var v ChatBroadcast
		err = json.Unmarshal(data, &v)
		f = v
	case TypeAIChat:
		var v AIChatReply
		err = json.Unmarshal(data, &v)
		f = v
	case TypeError:
		var v Error
		err = json.Unmarshal(data, &v)
		f = v
	default:
		return nil, errors.Wrapf(ErrUnknownType, "%q", t)
	}
	if err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	return f, nil
}
