// Package history keeps a bounded in-memory record of ended calls.
package history

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lexiqai/callbob/internal/transcript"
)

// DefaultLimit is used when a store is created with a non-positive limit
const DefaultLimit = 50

// Call is the record of one ended call
type Call struct {
	ID        string             `json:"id"`
	Language  string             `json:"language"`
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at"`
	Entries   []transcript.Entry `json:"entries"`
}

// Store holds the most recent calls, newest first.
// It is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	calls []Call
	limit int
}

// NewStore creates a store holding at most limit calls
func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{limit: limit}
}

// Add records a call, assigning an ID when it has none, and evicts the
// oldest record once the store is full
func (s *Store) Add(call Call) Call {
	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	call.Entries = append([]transcript.Entry(nil), call.Entries...)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append([]Call{call}, s.calls...)
	if len(s.calls) > s.limit {
		s.calls = s.calls[:s.limit]
	}
	return call
}

// List returns the stored calls, newest first
func (s *Store) List() []Call {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Get returns the call with the given ID
func (s *Store) Get(id string) (Call, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.calls {
		if c.ID == id {
			return c, true
		}
	}
	return Call{}, false
}

// Len returns the number of stored calls
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.calls)
}
