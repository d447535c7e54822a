package session

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"moto-chat/internal/assistant"
)

// HTTPFallback posts messages to the server's assistant endpoint.
type HTTPFallback struct {
	URL    string
	Token  string
	Client *http.Client
}

func NewHTTPFallback(baseURL, token string, timeout time.Duration) *HTTPFallback {
	return &HTTPFallback{
		URL:    strings.TrimRight(baseURL, "/") + "/api/ai/chat",
		Token:  token,
		Client: &http.Client{Timeout: timeout},
	}
}

func (f *HTTPFallback) Chat(ctx context.Context, message string, history []assistant.Turn) (*assistant.ChatResponse, error) {
	if len(history) > assistant.MaxHistory {
		history = history[len(history)-assistant.MaxHistory:]
	}
	body, err := json.Marshal(assistant.ChatRequest{Message: message, ConversationHistory: history})
	if err != nil {
		return nil, errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.URL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if f.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.Token)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errors.Errorf("assistant status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var out assistant.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	return &out, nil
}
