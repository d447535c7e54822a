// Command ridechat is a terminal chat client. With -room it joins room chat
// with other riders; without it, it talks to the ride assistant and falls
// back to HTTP whenever the relay connection is down.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"moto-chat/internal/logger"
	"moto-chat/internal/session"
	"moto-chat/internal/transport"
	"moto-chat/internal/user"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "ridechat:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("ridechat", flag.ContinueOnError)
	server := fs.String("server", "http://localhost:8080", "server base URL")
	token := fs.String("token", os.Getenv("RIDECHAT_TOKEN"), "access token")
	username := fs.String("user", "", "log in as this rider, with -password")
	password := fs.String("password", "", "password for -user")
	room := fs.Int("room", 0, "room to join; 0 talks to the assistant")
	attempts := fs.Int("reconnect-attempts", transport.Unlimited, "reconnect attempts, -1 for unlimited")
	verbose := fs.Bool("v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	log, err := logger.New(level, true)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id := session.Identity{Token: *token}
	if *username != "" {
		res, err := login(ctx, *server, *username, *password)
		if err != nil {
			return err
		}
		id = session.Identity{Token: res.AccessToken, UserID: res.ID, Username: res.Username}
	}

	conn := transport.Dial(transport.Options{
		URL:               wsURL(*server),
		ReconnectAttempts: *attempts,
		Logger:            log,
	})
	defer conn.Close()

	s := session.New(conn, session.NewHTTPFallback(*server, id.Token, 30*time.Second), session.Options{
		RoomID: *room,
		Logger: log,
	})
	if id.Token != "" {
		s.SetIdentity(id)
	}
	go s.Run(ctx)
	go printLoop(ctx, s)

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch strings.TrimSpace(line) {
			case "/quit":
				return nil
			case "/clear":
				s.ClearMessages()
				continue
			case "/reconnect":
				conn.Reconnect()
				continue
			}
			if err := s.SendMessage(ctx, line); err != nil && !errors.Is(err, session.ErrEmptyMessage) {
				log.Warn("send failed", zap.Error(err))
				fmt.Fprintln(os.Stderr, "!", err)
			}
		}
	}
}

// printLoop prints new history entries as they arrive.
func printLoop(ctx context.Context, s *session.Session) {
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	printed := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}

		msgs := s.Messages()
		if len(msgs) < printed {
			printed = 0
		}
		for _, m := range msgs[printed:] {
			fmt.Println(format(m))
		}
		printed = len(msgs)
	}
}

func format(m session.Message) string {
	who := "you"
	switch m.Type {
	case session.TypeAI:
		who = "assistant"
	case session.TypePeer:
		who = m.Username
	}
	line := fmt.Sprintf("[%s] %s: %s", m.Timestamp.Local().Format("15:04"), who, m.Content)
	if m.Fallback {
		line += " [fallback]"
	}
	return line
}

func login(ctx context.Context, server, username, password string) (*user.LoginResponse, error) {
	body, err := json.Marshal(user.Credentials{Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(server, "/")+"/login", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "login")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("login: status %d", resp.StatusCode)
	}

	var out user.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Wrap(err, "decode login response")
	}
	return &out, nil
}

// wsURL maps http(s)://host to ws(s)://host/ws.
func wsURL(server string) string {
	u := strings.TrimRight(server, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}
