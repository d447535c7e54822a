package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"moto-chat/internal/protocol"
)

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) protocol.ServerFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	f, err := protocol.DecodeServer(data)
	require.NoError(t, err)
	return f
}

func TestServeWs_EndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := &fakeGateway{}
	r := newTestRelay(gw, Options{})
	h := NewHandler(ctx, r, nil, zap.NewNop())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeWs)
	mux.HandleFunc("/healthz", h.Health)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	alice := dialWS(t, srv)
	bob := dialWS(t, srv)

	assert.IsType(t, protocol.Connected{}, readFrame(t, alice))
	assert.IsType(t, protocol.Connected{}, readFrame(t, bob))
	require.Eventually(t, func() bool { return r.Registry().Len() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, alice.WriteJSON(protocol.Auth{Token: "tok-alice"}))
	require.NoError(t, alice.WriteJSON(protocol.Chat{RoomID: 7, Content: "hi", CorrelationID: "c1"}))

	for _, conn := range []*websocket.Conn{alice, bob} {
		f := readFrame(t, conn)
		bc, ok := f.(protocol.ChatBroadcast)
		require.True(t, ok, "got %T", f)
		assert.Equal(t, "alice", bc.Username)
		assert.Equal(t, 7, bc.RoomID)
		assert.Equal(t, "hi", bc.Content)
		assert.Equal(t, "c1", bc.CorrelationID)
	}

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Contains(t, rec.Body.String(), `"connections":2`)

	bob.Close()
	assert.Eventually(t, func() bool { return r.Registry().Len() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestServeWs_ShutdownClosesConnections(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	r := newTestRelay(&fakeGateway{}, Options{})
	h := NewHandler(ctx, r, nil, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWs))
	defer srv.Close()

	conn := dialWS(t, srv)
	readFrame(t, conn)

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestServeWs_OversizedContentKeepsConnection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := &fakeGateway{}
	r := newTestRelay(gw, Options{})
	h := NewHandler(ctx, r, nil, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWs))
	defer srv.Close()

	conn := dialWS(t, srv)
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(protocol.Auth{Token: "tok-alice"}))
	require.NoError(t, conn.WriteJSON(protocol.Chat{RoomID: 7, Content: strings.Repeat("x", 16<<10)}))
	require.NoError(t, conn.WriteJSON(protocol.Chat{RoomID: 7, Content: "after"}))

	f := readFrame(t, conn)
	bc, ok := f.(protocol.ChatBroadcast)
	require.True(t, ok, "got %T", f)
	assert.Equal(t, "after", bc.Content)
	assert.Equal(t, 1, gw.callCount())
}
