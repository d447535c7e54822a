package transport

import (
	"context"
	"sync"
)

// Inbox is the append-only log of raw inbound frames. Nothing is dropped or
// parsed here; consumers track how far they have read.
type Inbox struct {
	mu      sync.Mutex
	frames  [][]byte
	changed chan struct{}
}

func NewInbox() *Inbox {
	return &Inbox{changed: make(chan struct{})}
}

func (in *Inbox) Append(frame []byte) {
	in.mu.Lock()
	in.frames = append(in.frames, frame)
	close(in.changed)
	in.changed = make(chan struct{})
	in.mu.Unlock()
}

func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.frames)
}

// Since returns the frames after the first n.
func (in *Inbox) Since(n int) [][]byte {
	in.mu.Lock()
	defer in.mu.Unlock()
	if n >= len(in.frames) {
		return nil
	}
	if n < 0 {
		n = 0
	}
	out := make([][]byte, len(in.frames)-n)
	copy(out, in.frames[n:])
	return out
}

// Wait blocks until the log holds more than n frames and returns the new ones.
func (in *Inbox) Wait(ctx context.Context, n int) ([][]byte, error) {
	if n < 0 {
		n = 0
	}
	for {
		in.mu.Lock()
		if len(in.frames) > n {
			out := make([][]byte, len(in.frames)-n)
			copy(out, in.frames[n:])
			in.mu.Unlock()
			return out, nil
		}
		changed := in.changed
		in.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		}
	}
}
