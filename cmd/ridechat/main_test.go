package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"moto-chat/internal/session"
)

func TestWsURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/ws", wsURL("http://localhost:8080/"))
	assert.Equal(t, "wss://chat.example.com/ws", wsURL("https://chat.example.com"))
}

func TestFormat(t *testing.T) {
	ts := time.Now()
	assert.Contains(t, format(session.Message{Type: session.TypeAI, Content: "hi", Timestamp: ts, Fallback: true}), "assistant: hi [fallback]")
	assert.NotContains(t, format(session.Message{Type: session.TypeAI, Content: "live", Timestamp: ts}), "[fallback]",
		"a live reply stays unmarked whatever the connection state is when printed")
	assert.Contains(t, format(session.Message{Type: session.TypePeer, Username: "bob", Content: "yo", Timestamp: ts}), "bob: yo")
	assert.NotContains(t, format(session.Message{Type: session.TypeUser, Content: "x", Timestamp: ts}), "[fallback]")
}
