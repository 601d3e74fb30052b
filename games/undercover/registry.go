/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package undercover

import "sync"

// Registry maps a game id to its single live session. It only guards the
// map itself; callers serialize the sessions they retrieve.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Create inserts a fresh session for the id. At most one session per id may
// exist at a time.
func (r *Registry) Create(id, creatorID string, words WordList) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		return nil, ErrDuplicateAction
	}

	session := NewSession(id, creatorID, words)
	r.sessions[id] = session

	return session, nil
}

// Get retrieves the session for the id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]

	return session, ok
}

// Delete removes the session for the id, on termination or win resolution.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, id)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// GuessRegistry tracks which session each participant owes a pending
// Mr. White guess to. Guesses arrive asynchronously, keyed by participant
// rather than by game, so this mapping lives outside any one session.
type GuessRegistry struct {
	mu      sync.Mutex
	pending map[string]string // participant id -> session id
}

func NewGuessRegistry() *GuessRegistry {
	return &GuessRegistry{
		pending: make(map[string]string),
	}
}

// Register records that a participant owes a guess. A participant can owe
// at most one guess at a time.
func (g *GuessRegistry) Register(participantID, sessionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.pending[participantID]; ok {
		return ErrDuplicateAction
	}

	g.pending[participantID] = sessionID

	return nil
}

// Lookup returns the session a participant owes a guess to, without
// consuming the entry.
func (g *GuessRegistry) Lookup(participantID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	sessionID, ok := g.pending[participantID]

	return sessionID, ok
}

// Resolve consumes a pending guess, returning the session it belonged to.
// Each entry is removed exactly once.
func (g *GuessRegistry) Resolve(participantID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	sessionID, ok := g.pending[participantID]
	if !ok {
		return "", ErrNotFound
	}

	delete(g.pending, participantID)

	return sessionID, nil
}

// DropSession invalidates every pending guess owed to a session, for use
// when the session is terminated mid-guess.
func (g *GuessRegistry) DropSession(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for pid, sid := range g.pending {
		if sid == sessionID {
			delete(g.pending, pid)
		}
	}
}
