// Package session keeps short-term conversation context per channel.
//
// Each channel (or thread) gets a bounded window of the most recent
// turns, enough to keep the model coherent across a short exchange.
// State is in-memory only and lives exactly as long as the process:
// a restart forgets every conversation by design.
package session

import (
	"slices"
	"sync"
)

// DefaultWindow is the number of turns retained per channel.
const DefaultWindow = 3

// Role identifies the author of a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is a single utterance in a conversation.
type Turn struct {
	Role Role
	Text string
}

// Store maps channel identifiers to bounded conversation windows.
// Store is safe for concurrent use; discordgo dispatches events from
// multiple goroutines.
type Store struct {
	window int

	mu       sync.Mutex
	sessions map[string][]Turn
}

// NewStore creates a Store retaining window turns per channel.
// Non-positive window falls back to DefaultWindow.
func NewStore(window int) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Store{
		window:   window,
		sessions: make(map[string][]Turn),
	}
}

// Append records a turn for channelID, creating the session lazily and
// evicting the oldest turn once the window is exceeded.
func (s *Store) Append(channelID string, role Role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.sessions[channelID], Turn{Role: role, Text: text})
	if len(turns) > s.window {
		turns = turns[len(turns)-s.window:]
	}
	s.sessions[channelID] = turns
}

// History returns a copy of the turns recorded for channelID, oldest
// first. A channel with no history returns nil.
func (s *Store) History(channelID string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.sessions[channelID])
}

// Forget drops the session for channelID, if any. Used when a thread is
// archived or deleted.
func (s *Store) Forget(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, channelID)
}

// Len returns the number of active sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}
