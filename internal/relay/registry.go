package relay

import "sync"

// Peer is one live connection as the relay sees it.
type Peer interface {
	ID() string
	// Send queues a frame without blocking. It reports false when the frame
	// could not be queued (connection closed or too slow).
	Send(frame []byte) bool
	Close()
}

// Binding is the identity attached to a connection. The zero value is unbound.
type Binding struct {
	UserID   int
	Username string
	Bound    bool
}

// Registry tracks live connections and their bindings. Each connection's
// read loop runs on its own goroutine, so access is guarded by a RWMutex.
type Registry struct {
	mu      sync.RWMutex
	entries map[Peer]Binding
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[Peer]Binding)}
}

// Register adds p as unbound. Registering again resets the entry.
func (r *Registry) Register(p Peer) {
	r.mu.Lock()
	r.entries[p] = Binding{}
	r.mu.Unlock()
}

// Bind attaches an identity to a registered connection, overwriting any
// previous binding. It is a no-op returning false when p is not registered.
func (r *Registry) Bind(p Peer, userID int, username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[p]; !ok {
		return false
	}
	r.entries[p] = Binding{UserID: userID, Username: username, Bound: true}
	return true
}

// Unregister removes p. Removing an unknown connection is a no-op.
func (r *Registry) Unregister(p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[p]; !ok {
		return false
	}
	delete(r.entries, p)
	return true
}

func (r *Registry) Lookup(p Peer) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.entries[p]
	return b, ok
}

// Snapshot returns the connections registered right now. The slice is a
// copy; connections removed afterwards simply fail their next Send.
func (r *Registry) Snapshot() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]Peer, 0, len(r.entries))
	for p := range r.entries {
		peers = append(peers, p)
	}
	return peers
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
