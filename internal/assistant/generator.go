// Package assistant produces the replies of the site's riding assistant.
package assistant

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"

	// MaxHistory is how many prior turns accompany an utterance.
	MaxHistory = 10
)

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrNoGenerator  = errors.New("no generator configured")
)

type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator returns reply text for an utterance given recent history.
type Generator interface {
	Reply(ctx context.Context, utterance string, history []Turn) (string, error)
}

// Chain tries each generator in order and returns the first reply.
type Chain []Generator

func (c Chain) Reply(ctx context.Context, utterance string, history []Turn) (string, error) {
	if len(c) == 0 {
		return "", ErrNoGenerator
	}
	var lastErr error
	for _, g := range c {
		reply, err := g.Reply(ctx, utterance, history)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return "", errors.Wrap(lastErr, "all generators failed")
}

// TrimHistory keeps the last MaxHistory turns, dropping blank ones.
func TrimHistory(history []Turn) []Turn {
	out := make([]Turn, 0, len(history))
	for _, t := range history {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		out = append(out, t)
	}
	if len(out) > MaxHistory {
		out = out[len(out)-MaxHistory:]
	}
	return out
}
