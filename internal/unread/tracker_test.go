// ABOUTME: Tests for the unread conversation tracker
// ABOUTME: Covers idempotent mark/clear, name resolution, and change subscriptions

package unread

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-groups/internal/protocol"
)

func TestTracker_MarkThenClear(t *testing.T) {
	tr := NewTracker(nil)
	defer tr.Close()

	tr.Mark("g-1")
	assert.True(t, tr.IsUnread("g-1"))
	assert.True(t, tr.HasAny())

	tr.Clear("g-1")
	assert.False(t, tr.IsUnread("g-1"))
	assert.False(t, tr.HasAny())
}

func TestTracker_MarkIsIdempotent(t *testing.T) {
	tr := NewTracker(nil)
	defer tr.Close()

	assert.True(t, tr.Mark("g-1"))
	assert.False(t, tr.Mark("g-1"))

	assert.Equal(t, []string{"g-1"}, tr.Unread())
}

func TestTracker_ClearAlreadyClearKeepsHasAny(t *testing.T) {
	tr := NewTracker(nil)
	defer tr.Close()

	assert.False(t, tr.Clear("g-1"))
	assert.False(t, tr.HasAny())

	tr.Mark("g-2")
	assert.False(t, tr.Clear("g-1"))
	assert.True(t, tr.HasAny())
}

func TestTracker_MarkEmptyIDIgnored(t *testing.T) {
	tr := NewTracker(nil)
	defer tr.Close()

	assert.False(t, tr.Mark(""))
	assert.False(t, tr.HasAny())
}

func TestTracker_UnreadSorted(t *testing.T) {
	tr := NewTracker(nil)
	defer tr.Close()

	tr.Mark("c")
	tr.Mark("a")
	tr.Mark("b")

	assert.Equal(t, []string{"a", "b", "c"}, tr.Unread())
}

func TestTracker_KnownConversationsResolveNames(t *testing.T) {
	tr := NewTracker(nil)
	defer tr.Close()

	tr.SetKnownConversations([]protocol.Conversation{
		{ID: "g-1", Name: "Biology"},
		{ID: "g-2", Name: "Chemistry"},
	})
	tr.Mark("g-2")
	tr.Mark("g-9")

	assert.Equal(t, "Biology", tr.Name("g-1"))
	assert.Equal(t, "g-9", tr.Name("g-9"))
	assert.Equal(t, []protocol.Conversation{
		{ID: "g-2", Name: "Chemistry"},
		{ID: "g-9", Name: "g-9"},
	}, tr.UnreadConversations())
}

func TestTracker_RegistryDoesNotAffectUnreadSet(t *testing.T) {
	tr := NewTracker(nil)
	defer tr.Close()

	tr.Mark("g-1")
	tr.SetKnownConversations(nil)

	assert.True(t, tr.IsUnread("g-1"))
	assert.Empty(t, tr.KnownConversations())
}

func TestTracker_ResetForgetsUnreadAndNames(t *testing.T) {
	tr := NewTracker(nil)
	defer tr.Close()

	tr.SetKnownConversations([]protocol.Conversation{{ID: "g-1", Name: "Book Club"}})
	tr.Mark("g-1")
	ch, _ := tr.Subscribe(t.Context())

	tr.Reset()

	assert.False(t, tr.HasAny())
	assert.Empty(t, tr.Unread())
	assert.Empty(t, tr.KnownConversations())
	assert.Equal(t, "g-1", tr.Name("g-1"))

	select {
	case snap := <-ch:
		assert.False(t, snap.HasAny())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}

	// The tracker keeps working after a reset
	tr.Mark("g-2")
	assert.Equal(t, []string{"g-2"}, tr.Unread())
}

func TestTracker_SubscribeReceivesChanges(t *testing.T) {
	tr := NewTracker(nil)
	defer tr.Close()

	ch, _ := tr.Subscribe(t.Context())

	tr.Mark("g-1")

	select {
	case snap := <-ch:
		assert.Equal(t, []string{"g-1"}, snap.Unread)
		assert.True(t, snap.HasAny())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}

	tr.Clear("g-1")

	select {
	case snap := <-ch:
		assert.Empty(t, snap.Unread)
		assert.False(t, snap.HasAny())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
}

func TestTracker_NoSnapshotWhenNothingChanges(t *testing.T) {
	tr := NewTracker(nil)
	defer tr.Close()

	ch, _ := tr.Subscribe(t.Context())

	tr.Clear("g-1")
	tr.Mark("g-2")
	tr.Mark("g-2")

	select {
	case snap := <-ch:
		assert.Equal(t, []string{"g-2"}, snap.Unread)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}

	select {
	case snap := <-ch:
		t.Fatalf("unexpected snapshot %v", snap)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTracker_ContextCancelUnsubscribes(t *testing.T) {
	tr := NewTracker(nil)
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := tr.Subscribe(ctx)

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestTracker_UnsubscribeTwiceIsSafe(t *testing.T) {
	tr := NewTracker(nil)
	defer tr.Close()

	_, subID := tr.Subscribe(t.Context())

	tr.Unsubscribe(subID)
	tr.Unsubscribe(subID)
}

func TestTracker_UnsubscribeReleasesWatcher(t *testing.T) {
	tr := NewTracker(nil)
	defer tr.Close()

	before := runtime.NumGoroutine()

	const n = 50
	subIDs := make([]string, 0, n)
	for range n {
		_, subID := tr.Subscribe(context.Background())
		subIDs = append(subIDs, subID)
	}
	for _, subID := range subIDs {
		tr.Unsubscribe(subID)
	}

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+5
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTracker_CloseClosesSubscribers(t *testing.T) {
	tr := NewTracker(nil)

	ch, _ := tr.Subscribe(t.Context())
	tr.Close()
	tr.Close()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := tr.Subscribe(t.Context())
	_, ok = <-late
	assert.False(t, ok, "subscribing after close yields a closed channel")
}

func TestTracker_SlowSubscriberDoesNotBlock(t *testing.T) {
	tr := NewTracker(nil)
	defer tr.Close()

	_, _ = tr.Subscribe(t.Context())

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize*4; i++ {
			tr.Mark(string(rune('a' + i%26)))
			tr.Clear(string(rune('a' + i%26)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publishing blocked on a slow subscriber")
	}
}

func TestTracker_ConcurrentAccess(t *testing.T) {
	tr := NewTracker(nil)
	defer tr.Close()

	ch, _ := tr.Subscribe(t.Context())
	go func() {
		for range ch {
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i%5))
			tr.Mark(id)
			_ = tr.IsUnread(id)
			_ = tr.UnreadConversations()
			tr.Clear(id)
		}(i)
	}
	wg.Wait()

	require.False(t, tr.HasAny())
}
