package x402

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
)

// DeriveSessionID computes the stable session identifier for an upto scheme
// session (spec §3): SHA-256 over the canonical JSON encoding of the fields
// that uniquely identify a signed spending cap. Map keys are sorted before
// marshaling so the result is independent of caller iteration order.
// Callers are responsible for normalizing any signature field to a single
// canonical form first (see mechanisms/evm/upto's low-s normalization) so
// that two wire-distinct but cryptographically-equivalent signatures over
// the same authorization collapse to the same session.
func DeriveSessionID(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]struct {
		K string `json:"k"`
		V string `json:"v"`
	}, len(keys))
	for i, k := range keys {
		ordered[i].K = k
		ordered[i].V = fields[k]
	}
	canonical, _ := json.Marshal(ordered)
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// InMemorySessionStore is a process-local SessionStore, suitable for a
// single facilitator instance. A multi-instance deployment should back
// SessionStore with a shared store instead (spec §4.D note); the interface
// boundary is exactly the seam for that.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[string]*Session)}
}

func (s *InMemorySessionStore) Get(_ context.Context, id string) (*Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, false, nil
	}
	clone := *session
	return &clone, true, nil
}

func (s *InMemorySessionStore) Set(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *session
	s.sessions[session.ID] = &clone
	return nil
}

func (s *InMemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *InMemorySessionStore) Entries(_ context.Context) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		clone := *session
		out = append(out, &clone)
	}
	return out, nil
}
