// ABOUTME: In-memory ordered message history for the active conversation
// ABOUTME: Merges fetched history with pushed messages, deduplicating by message ID

package messages

import (
	"cmp"
	"slices"
	"sync"

	"github.com/2389/coven-groups/internal/protocol"
)

// Store holds the message sequence of one conversation in insertion order.
// It never reorders entries; callers sort history before Replace.
type Store struct {
	mu       sync.RWMutex
	messages []protocol.Message
	ids      map[string]struct{}
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{ids: make(map[string]struct{})}
}

// Replace overwrites the store contents with list.
func (s *Store) Replace(list []protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = slices.Clone(list)
	s.ids = make(map[string]struct{}, len(list))
	for _, m := range list {
		if m.MessageID != "" {
			s.ids[m.MessageID] = struct{}{}
		}
	}
}

// Append adds m to the end of the sequence. A message whose ID is already
// present is dropped and Append returns false. Messages without an ID
// cannot be deduplicated and are always appended.
func (s *Store) Append(m protocol.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.MessageID != "" {
		if _, seen := s.ids[m.MessageID]; seen {
			return false
		}
		s.ids[m.MessageID] = struct{}{}
	}
	s.messages = append(s.messages, m)
	return true
}

// Current returns a copy of the ordered sequence.
func (s *Store) Current() []protocol.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages)
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Contains reports whether a message with the given ID is stored.
func (s *Store) Contains(messageID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[messageID]
	return ok
}

// SortByTimestamp returns a copy of list ordered by ascending timestamp.
// Messages with equal timestamps keep their relative order.
func SortByTimestamp(list []protocol.Message) []protocol.Message {
	sorted := slices.Clone(list)
	slices.SortStableFunc(sorted, func(a, b protocol.Message) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})
	return sorted
}
