// ABOUTME: Process-wide set of conversations with unseen inbound messages
// ABOUTME: Resolves unread IDs to group names and fans out changes to subscribers

package unread

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/coven-groups/internal/protocol"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 16

// Snapshot is the unread state delivered to subscribers after each change.
type Snapshot struct {
	Unread []string
}

// HasAny reports whether the snapshot contains any unread conversation.
func (s Snapshot) HasAny() bool { return len(s.Unread) > 0 }

// subscriber is one Subscribe registration. done is closed when the
// subscription ends so its context watcher can exit.
type subscriber struct {
	ch   chan Snapshot
	done chan struct{}
}

func (s *subscriber) end() {
	close(s.ch)
	close(s.done)
}

// Tracker records which conversations have unseen activity, independent of
// which conversation is active. The known-conversation registry only maps
// IDs to names for notification display and never affects the unread set.
type Tracker struct {
	mu          sync.RWMutex
	unread      map[string]struct{}
	known       []protocol.Conversation
	names       map[string]string
	subscribers map[string]*subscriber
	closed      bool
	logger      *slog.Logger
}

// NewTracker creates an empty tracker. Pass nil logger for default.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		unread:      make(map[string]struct{}),
		names:       make(map[string]string),
		subscribers: make(map[string]*subscriber),
		logger:      logger.With("component", "unread"),
	}
}

// Mark flags a conversation as unread. Returns false if it already was.
func (t *Tracker) Mark(groupID string) bool {
	if groupID == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.unread[groupID]; ok {
		return false
	}
	t.unread[groupID] = struct{}{}
	t.logger.Debug("conversation marked unread", "group_id", groupID)
	t.publishLocked()
	return true
}

// Clear removes a conversation from the unread set. Returns false if it was
// not unread.
func (t *Tracker) Clear(groupID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.unread[groupID]; !ok {
		return false
	}
	delete(t.unread, groupID)
	t.logger.Debug("conversation marked read", "group_id", groupID)
	t.publishLocked()
	return true
}

// IsUnread reports whether the conversation has unseen messages.
func (t *Tracker) IsUnread(groupID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.unread[groupID]
	return ok
}

// HasAny reports whether any conversation is unread.
func (t *Tracker) HasAny() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.unread) > 0
}

// Unread returns the unread conversation IDs in sorted order.
func (t *Tracker) Unread() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.unreadLocked()
}

func (t *Tracker) unreadLocked() []string {
	ids := make([]string, 0, len(t.unread))
	for id := range t.unread {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// SetKnownConversations replaces the registry used to resolve names.
func (t *Tracker) SetKnownConversations(list []protocol.Conversation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.known = slices.Clone(list)
	t.names = make(map[string]string, len(list))
	for _, c := range list {
		t.names[c.ID] = c.Name
	}
}

// Reset forgets every unread conversation and the known-conversation
// registry. Subscribers receive an empty snapshot.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	hadUnread := len(t.unread) > 0
	t.unread = make(map[string]struct{})
	t.known = nil
	t.names = make(map[string]string)
	t.logger.Debug("unread state reset")
	if hadUnread {
		t.publishLocked()
	}
}

// KnownConversations returns the registry contents.
func (t *Tracker) KnownConversations() []protocol.Conversation {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.known)
}

// Name returns the display name for a conversation, falling back to its ID.
func (t *Tracker) Name(groupID string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if name, ok := t.names[groupID]; ok && name != "" {
		return name
	}
	return groupID
}

// UnreadConversations returns unread conversations with their names resolved
// through the registry, sorted by ID.
func (t *Tracker) UnreadConversations() []protocol.Conversation {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := t.unreadLocked()
	out := make([]protocol.Conversation, 0, len(ids))
	for _, id := range ids {
		name := t.names[id]
		if name == "" {
			name = id
		}
		out = append(out, protocol.Conversation{ID: id, Name: name})
	}
	return out
}

// Subscribe registers for unread changes. The returned channel receives a
// snapshot after every change and is closed when ctx is cancelled, on
// Unsubscribe, or on Close.
func (t *Tracker) Subscribe(ctx context.Context) (<-chan Snapshot, string) {
	subID := uuid.New().String()
	sub := &subscriber{
		ch:   make(chan Snapshot, subscriberBufferSize),
		done: make(chan struct{}),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		sub.end()
		return sub.ch, subID
	}
	t.subscribers[subID] = sub
	t.mu.Unlock()

	t.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		select {
		case <-ctx.Done():
			t.Unsubscribe(subID)
		case <-sub.done:
		}
	}()

	return sub.ch, subID
}

// Unsubscribe removes a subscription and closes its channel.
func (t *Tracker) Unsubscribe(subID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sub, ok := t.subscribers[subID]
	if !ok {
		return
	}
	delete(t.subscribers, subID)
	sub.end()

	t.logger.Debug("subscriber removed", "sub_id", subID)
}

// publishLocked sends the current snapshot to every subscriber. Must be
// called with mu held. Sends never block; a full subscriber misses the
// snapshot and catches up on the next change.
func (t *Tracker) publishLocked() {
	if len(t.subscribers) == 0 {
		return
	}

	snap := Snapshot{Unread: t.unreadLocked()}
	for subID, sub := range t.subscribers {
		select {
		case sub.ch <- snap:
		default:
			t.logger.Debug("dropped snapshot for slow subscriber", "sub_id", subID)
		}
	}
}

// Close ends the tracker's lifetime and closes all subscriber channels.
// It is safe to call multiple times.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true

	for subID, sub := range t.subscribers {
		sub.end()
		delete(t.subscribers, subID)
	}
	t.logger.Debug("tracker closed")
}
