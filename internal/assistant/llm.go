package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const persona = `You are the riding assistant for a motorcycle enthusiast community.
Answer questions about bikes, maintenance, gear, group rides and routes.
Keep replies short, friendly and practical. Put safety first.`

type completionRequest struct {
	Model       string  `json:"model"`
	Messages    []Turn  `json:"messages"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// LLM calls an OpenAI-compatible chat completions endpoint.
type LLM struct {
	URL    string
	APIKey string
	Model  string
	Client *http.Client
}

func NewLLM(url, apiKey, model string, timeout time.Duration) *LLM {
	return &LLM{
		URL:    url,
		APIKey: apiKey,
		Model:  model,
		Client: &http.Client{Timeout: timeout},
	}
}

func (l *LLM) Reply(ctx context.Context, utterance string, history []Turn) (string, error) {
	if l.APIKey == "" {
		return "", errors.New("assistant API key not set")
	}

	msgs := make([]Turn, 0, len(history)+2)
	msgs = append(msgs, Turn{Role: RoleSystem, Content: persona})
	msgs = append(msgs, TrimHistory(history)...)
	msgs = append(msgs, Turn{Role: RoleUser, Content: utterance})

	body, err := json.Marshal(completionRequest{
		Model:       l.Model,
		Messages:    msgs,
		Temperature: 0.7,
		MaxTokens:   500,
	})
	if err != nil {
		return "", errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.URL, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", l.APIKey))

	resp, err := l.Client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", errors.Errorf("completion API status %d: %s", resp.StatusCode, b)
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Wrap(err, "decode response")
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", errors.New("no choices in response")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
