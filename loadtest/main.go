package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"moto-chat/internal/protocol"
	"moto-chat/internal/user"
)

var (
	baseURL   = flag.String("base", "http://localhost:8080", "server base URL")
	riders    = flag.Int("riders", 100, "concurrent riders")
	msgCount  = flag.Int("messages", 20, "messages per rider")
	roomCount = flag.Int("rooms", 10, "rooms the riders spread over")
)

var (
	sent     atomic.Int64
	received atomic.Int64
	failed   atomic.Int64
)

func main() {
	flag.Parse()
	log.Printf("starting load test: %d riders, %d messages each, %d rooms", *riders, *msgCount, *roomCount)
	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < *riders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			runRider(n)
		}(i)
	}
	wg.Wait()

	log.Printf("load test complete in %s: sent=%d received=%d failed=%d",
		time.Since(start).Round(time.Millisecond), sent.Load(), received.Load(), failed.Load())
}

func runRider(n int) {
	name := fmt.Sprintf("lt_rider_%d", n)
	token := authenticate(name, "password123")
	if token == "" {
		failed.Add(1)
		return
	}
	spamChat(token, n%*roomCount+1, name)
}

// authenticate registers (ignores error if exists) and logs in.
func authenticate(username, password string) string {
	creds := user.Credentials{Username: username, Password: password}
	if resp, err := postJSON("/register", creds); err == nil {
		resp.Body.Close()
	}

	resp, err := postJSON("/login", creds)
	if err != nil {
		log.Printf("login failed [%s]: %v", username, err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("login failed [%s]: status %d", username, resp.StatusCode)
		return ""
	}

	var data user.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return ""
	}
	return data.AccessToken
}

func spamChat(token string, roomID int, name string) {
	wsURL := "ws" + strings.TrimPrefix(*baseURL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Printf("ws connect failed [%s]: %v", name, err)
		failed.Add(1)
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if f, err := protocol.DecodeServer(data); err == nil {
				if _, ok := f.(protocol.ChatBroadcast); ok {
					received.Add(1)
				}
			}
		}
	}()

	if err := conn.WriteJSON(protocol.Auth{Token: token}); err != nil {
		failed.Add(1)
		return
	}

	for i := 0; i < *msgCount; i++ {
		msg := protocol.Chat{RoomID: roomID, Content: fmt.Sprintf("load test msg %d from %s", i, name)}
		if err := conn.WriteJSON(msg); err != nil {
			log.Printf("send failed [%s]: %v", name, err)
			failed.Add(1)
			break
		}
		sent.Add(1)
		// Small sleep to avoid an instant localhost bottleneck.
		time.Sleep(10 * time.Millisecond)
	}

	// Give the last broadcasts time to arrive.
	time.Sleep(time.Second)
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
}

func postJSON(endpoint string, data any) (*http.Response, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return http.Post(*baseURL+endpoint, "application/json", bytes.NewReader(body))
}
