package state

import (
	"sync"
	"time"
)

type seenText struct {
	text string
	at   time.Time
}

// Store owns every per-conversation map the dialog engine mutates. Instances
// are independent, so several engines can run side by side in tests.
type Store struct {
	mu      sync.Mutex
	states  map[string]State
	history map[string][]seenText
	locks   *keyedMutex

	window     time.Duration
	maxHistory int
}

// NewStore creates a store whose duplicate-text filter remembers at most
// maxHistory texts per conversation, each for window.
func NewStore(window time.Duration, maxHistory int) *Store {
	if maxHistory < 1 {
		maxHistory = 1
	}
	return &Store{
		states:     make(map[string]State),
		history:    make(map[string][]seenText),
		locks:      newKeyedMutex(),
		window:     window,
		maxHistory: maxHistory,
	}
}

// Lock serializes every read-modify-write of one conversation: the dialog
// engine per inbound message and the operator commands of the queue. The
// returned func releases it. Not reentrant.
func (s *Store) Lock(conversationID string) (unlock func()) {
	return s.locks.Lock(conversationID)
}

// Locked returns how many conversations are currently locked or waited on.
func (s *Store) Locked() int {
	return s.locks.Len()
}

// Get returns the state of a conversation; ok is false for AwaitingRegistration.
func (s *Store) Get(conversationID string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[conversationID]
	return st, ok
}

// Set stores st. Setting AwaitingRegistration removes the entry.
func (s *Store) Set(conversationID string, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.Kind == AwaitingRegistration {
		delete(s.states, conversationID)
		return
	}
	s.states[conversationID] = st
}

// Clear returns the conversation to AwaitingRegistration.
func (s *Store) Clear(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, conversationID)
}

// Forget drops both the state and the duplicate-text history.
func (s *Store) Forget(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, conversationID)
	delete(s.history, conversationID)
}

// Len returns the number of conversations with a tracked state.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

// SeenRecently reports whether text already arrived for the conversation
// inside the window, and records this arrival either way.
func (s *Store) SeenRecently(conversationID, text string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.history[conversationID][:0]
	seen := false
	for _, h := range s.history[conversationID] {
		if now.Sub(h.at) > s.window {
			continue
		}
		if h.text == text {
			seen = true
		}
		kept = append(kept, h)
	}
	kept = append(kept, seenText{text: text, at: now})
	if len(kept) > s.maxHistory {
		kept = kept[len(kept)-s.maxHistory:]
	}
	s.history[conversationID] = kept
	return seen
}
