package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagesage/pagesage/internal/pubsub"
)

type fakeResetter struct {
	resets int
}

func (f *fakeResetter) Reset() { f.resets++ }

func TestStoreAppendAssignsStableIndices(t *testing.T) {
	t.Parallel()
	store := NewStore()
	t.Cleanup(store.Shutdown)

	first := store.Append(RoleUser, "What are tides?")
	second := store.Append(RoleAssistant, "The periodic rise and fall of the sea.")

	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)

	turns := store.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, RoleUser, turns[0].Role)
	assert.Equal(t, RoleAssistant, turns[1].Role)
	assert.NotEmpty(t, turns[0].ID)
	assert.NotEqual(t, turns[0].ID, turns[1].ID)
}

func TestStoreAttachFollowUps(t *testing.T) {
	t.Parallel()
	store := NewStore()
	t.Cleanup(store.Shutdown)

	idx := store.AppendAssistantTurn("Tides follow the moon.")
	prompts := []string{"What is a neap tide?"}
	store.AttachFollowUps(idx, prompts)

	// Mutating the caller's slice must not leak into the stored turn.
	prompts[0] = "mutated"
	assert.Equal(t, []string{"What is a neap tide?"}, store.Turns()[idx].SuggestedFollowUps)

	// Out-of-range indices are dropped, not panicked on.
	store.AttachFollowUps(99, []string{"ignored"})
	store.AttachFollowUps(-1, []string{"ignored"})
	assert.Equal(t, 1, store.Len())
}

func TestStoreReplaceTail(t *testing.T) {
	t.Parallel()
	store := NewStore()
	t.Cleanup(store.Shutdown)

	store.Append(RoleUser, "question one")
	store.Append(RoleAssistant, "draft answer")

	store.ReplaceTail(1, []Turn{
		{Role: RoleAssistant, Content: "authoritative answer"},
		{Role: RoleAssistant, Content: "appendix"},
	})

	turns := store.Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, "question one", turns[0].Content)
	assert.Equal(t, "authoritative answer", turns[1].Content)
	assert.Equal(t, 1, turns[1].Index)
	assert.Equal(t, "appendix", turns[2].Content)
	assert.Equal(t, 2, turns[2].Index)
	assert.NotEmpty(t, turns[1].ID)
	assert.False(t, turns[1].CreatedAt.IsZero())

	// An out-of-range start leaves the transcript untouched.
	store.ReplaceTail(7, []Turn{{Role: RoleUser, Content: "lost"}})
	assert.Equal(t, 3, store.Len())
}

func TestStoreClearResetsReferences(t *testing.T) {
	t.Parallel()
	store := NewStore()
	t.Cleanup(store.Shutdown)

	resetter := &fakeResetter{}
	store.SetReferenceResetter(resetter)

	store.Append(RoleUser, "hello")
	store.Clear()

	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 1, resetter.resets, "clearing the transcript must reset citation state")
}

func TestStorePublishesEvents(t *testing.T) {
	t.Parallel()
	store := NewStore()
	t.Cleanup(store.Shutdown)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := store.Subscribe(ctx)

	idx := store.Append(RoleUser, "hello")
	store.AttachFollowUps(idx, nil)
	store.Clear()

	expect := func(want pubsub.EventType) pubsub.Event[Turn] {
		select {
		case event := <-events:
			assert.Equal(t, want, event.Type)
			return event
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
			return pubsub.Event[Turn]{}
		}
	}

	created := expect(EventTurnCreated)
	assert.Equal(t, "hello", created.Payload.Content)

	// AttachFollowUps with a valid index publishes even when prompts are nil.
	expect(EventTurnUpdated)
	expect(EventConversationCleared)
}
