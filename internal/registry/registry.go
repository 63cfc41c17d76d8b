package registry

import (
	"sync"

	"github.com/leninjo/pairrelay/internal/protocol"
)

// Handle is a send-capable reference to one live connection. Handles are
// compared by SessionID, never by identity of the value.
type Handle interface {
	SessionID() string
	Send(text []byte) error
}

// PairingRecord holds the reachable handles of one identity. A nil slot means
// that role is not connected to this process.
type PairingRecord struct {
	Identity string
	Web      Handle
	App      Handle
}

// Slot returns the handle stored for role.
func (p PairingRecord) Slot(role protocol.Role) Handle {
	if role == protocol.RoleWeb {
		return p.Web
	}
	return p.App
}

func (p *PairingRecord) set(role protocol.Role, h Handle) {
	if role == protocol.RoleWeb {
		p.Web = h
		return
	}
	p.App = h
}

func (p PairingRecord) empty() bool {
	return p.Web == nil && p.App == nil
}

// Registry maps identities to pairing records for connections on this process.
// All operations are atomic with respect to each other.
type Registry struct {
	mu       sync.RWMutex
	pairings map[string]*PairingRecord
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		pairings: make(map[string]*PairingRecord),
	}
}

// Register stores h in the role slot of identity, replacing any previous handle.
// The displaced connection is not notified.
func (r *Registry) Register(identity string, role protocol.Role, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.pairings[identity]
	if !ok {
		rec = &PairingRecord{Identity: identity}
		r.pairings[identity] = rec
	}
	rec.set(role, h)
}

// Lookup returns the handle currently stored for (identity, role).
func (r *Registry) Lookup(identity string, role protocol.Role) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.pairings[identity]
	if !ok {
		return nil, false
	}
	h := rec.Slot(role)
	return h, h != nil
}

// Release clears the role slot of identity only if it still holds sessionID, and
// drops the record once both slots are empty. It reports whether a slot was cleared.
func (r *Registry) Release(identity string, role protocol.Role, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.pairings[identity]
	if !ok {
		return false
	}
	current := rec.Slot(role)
	if current == nil || current.SessionID() != sessionID {
		return false
	}
	rec.set(role, nil)
	if rec.empty() {
		delete(r.pairings, identity)
	}
	return true
}

// Get returns a copy of the pairing record for identity.
func (r *Registry) Get(identity string) (PairingRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.pairings[identity]
	if !ok {
		return PairingRecord{}, false
	}
	return *rec, true
}

// Len returns the number of identities with at least one reachable handle.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pairings)
}
