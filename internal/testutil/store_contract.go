package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hupe1980/convoflow/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunTrackerStoreContract exercises the behaviour every core.TrackerStore
// must provide. newStore is called once per sub test.
func RunTrackerStoreContract(t *testing.T, newStore func(slots []core.Slot) core.TrackerStore) {
	t.Helper()
	slots := []core.Slot{core.NewSlot("name", core.SlotTypeText)}
	ctx := context.Background()

	t.Run("retrieve unknown", func(t *testing.T) {
		store := newStore(slots)
		_, err := store.Retrieve(ctx, "nobody")
		assert.True(t, errors.Is(err, core.ErrTrackerNotFound))
	})

	t.Run("get or create returns empty tracker", func(t *testing.T) {
		store := newStore(slots)
		tr, err := store.GetOrCreateTracker(ctx, "fresh")
		require.NoError(t, err)
		assert.Equal(t, "fresh", tr.SenderID)
		assert.Equal(t, 0, tr.Len())
		_, ok := tr.Slot("name")
		assert.True(t, ok)
	})

	t.Run("save and retrieve round trip", func(t *testing.T) {
		store := newStore(slots)
		original := NewTrackerBuilder("s1").Slots(slots...).
			SessionStarted().Listen().User("hi Ada", "greet").Slot("name", "Ada").Action("utter_greet").
			Build()
		require.NoError(t, store.Save(ctx, original))

		restored, err := store.Retrieve(ctx, "s1")
		require.NoError(t, err)
		assert.True(t, core.EventsEqual(original.Events(), restored.Events()))
		if diff := cmp.Diff(original.CurrentSlotValues(), restored.CurrentSlotValues()); diff != "" {
			t.Fatalf("slots differ (-want +got):\n%s", diff)
		}
		want, _ := original.LatestSessionStart()
		got, ok := restored.LatestSessionStart()
		assert.True(t, ok)
		assert.True(t, want.Equal(got))
		assert.Equal(t, original.LatestMessageID(), restored.LatestMessageID())
	})

	t.Run("copies are isolated", func(t *testing.T) {
		store := newStore(slots)
		tr := NewTrackerBuilder("s1").Slots(slots...).Listen().Build()
		require.NoError(t, store.Save(ctx, tr))

		tr.Update(core.NewActionExecuted("not_saved"))
		fetched, err := store.GetOrCreateTracker(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 1, fetched.Len())

		fetched.Update(core.NewActionExecuted("also_not_saved"))
		again, err := store.Retrieve(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 1, again.Len())
	})

	t.Run("save overwrites and keys", func(t *testing.T) {
		store := newStore(slots)
		for _, id := range []string{"b", "a"} {
			require.NoError(t, store.Save(ctx, NewTrackerBuilder(id).Listen().Build()))
		}
		tr, err := store.Retrieve(ctx, "a")
		require.NoError(t, err)
		tr.Update(core.NewActionExecuted("utter_greet"))
		require.NoError(t, store.Save(ctx, tr))

		tr, err = store.Retrieve(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, 2, tr.Len())

		keys, err := store.Keys(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, keys)
	})

	t.Run("concurrent senders", func(t *testing.T) {
		store := newStore(slots)
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("sender-%d", i)
				assert.NoError(t, store.Save(ctx, NewTrackerBuilder(id).Listen().Build()))
			}(i)
		}
		wg.Wait()
		keys, err := store.Keys(ctx)
		require.NoError(t, err)
		assert.Len(t, keys, 8)
	})
}
