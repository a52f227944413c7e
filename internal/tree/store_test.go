package tree

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/repochat/internal/apperr"
	"github.com/capitalize-ai/repochat/internal/model"
)

func TestStore_RejectedLoadLeavesSnapshotUnchanged(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Load([]model.Message{
		msg("a", "", model.SenderUser, "q"),
		msg("b", "a", model.SenderAssistant, "r"),
	}))
	before := s.Snapshot()
	beforeMsgs := before.Messages()
	version := s.Version()

	err := s.Load([]model.Message{
		msg("x", "", model.SenderUser, ""),
		msg("x", "", model.SenderUser, ""),
	})
	require.ErrorIs(t, err, apperr.ErrMalformedHistory)

	assert.Same(t, before, s.Snapshot())
	assert.Equal(t, version, s.Version())
	if diff := cmp.Diff(beforeMsgs, s.Snapshot().Messages()); diff != "" {
		t.Errorf("snapshot changed (-before +after):\n%s", diff)
	}
}

func TestStore_LoadDiscardsOptimisticEntries(t *testing.T) {
	s := NewStore()
	_, err := s.AppendPair(model.Message{ID: "tmp-u", Content: "Hello"}, model.Message{ID: "tmp-a"})
	require.NoError(t, err)

	require.NoError(t, s.Load([]model.Message{
		msg("srv-u", "", model.SenderUser, "Hello"),
		msg("srv-a", "srv-u", model.SenderAssistant, model.EncodeReply("Hi")),
	}))

	_, ok := s.Get("tmp-u")
	assert.False(t, ok)
	assert.Equal(t, []string{"srv-u", "srv-a"}, ids(s.ActivePath()))
}

func TestStore_StreamScenario(t *testing.T) {
	s := NewStore()

	parent, err := s.AppendPair(model.Message{ID: "tmp-u", Content: "Hello"}, model.Message{ID: "tmp-a"})
	require.NoError(t, err)
	assert.Nil(t, parent)

	require.NoError(t, s.AppendDelta("tmp-a", "Hi"))
	require.NoError(t, s.AppendDelta("tmp-a", "there"))
	require.NoError(t, s.ReconcileID("tmp-a", "m-42"))
	require.NoError(t, s.SetStatus("m-42", model.StatusComplete))

	got, ok := s.Get("m-42")
	require.True(t, ok)
	assert.Equal(t, "Hithere", got.Content)
	assert.Equal(t, model.StatusComplete, got.Status)
	assert.Equal(t, "tmp-u", got.Parent())

	// Deltas for a message that no longer exists are tolerated as NOT_FOUND.
	assert.ErrorIs(t, s.AppendDelta("tmp-a", "late"), apperr.ErrNotFound)
}

func TestStore_ListenersSeeEveryCommitInOrder(t *testing.T) {
	s := NewStore()
	var seen []string
	s.Subscribe(func(tr *Tree) {
		if m, ok := tr.Get("a"); ok {
			seen = append(seen, m.Content)
		}
	})

	_, err := s.AppendPair(model.Message{ID: "u"}, model.Message{ID: "a"})
	require.NoError(t, err)
	require.NoError(t, s.AppendDelta("a", "x"))
	require.NoError(t, s.AppendDelta("a", "y"))
	assert.Error(t, s.AppendDelta("missing", "z"))

	assert.Equal(t, []string{"", "x", "xy"}, seen)
	assert.Equal(t, uint64(3), s.Version())
}

func TestStore_ConcurrentReadersSeeConsistentSnapshots(t *testing.T) {
	s := NewStore()
	_, err := s.AppendPair(model.Message{ID: "u"}, model.Message{ID: "tmp"})
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		_, err := s.AppendPair(model.Message{ID: "u" + string(rune('A'+i))}, model.Message{ID: "c" + string(rune('A'+i))})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				tr := s.Snapshot()
				for _, m := range tr.Messages() {
					if m.ParentID != nil && !tr.Has(*m.ParentID) {
						t.Errorf("dangling parent %q for %q", *m.ParentID, m.ID)
						return
					}
				}
			}
		}()
	}

	require.NoError(t, s.ReconcileID("tmp", "final"))
	require.NoError(t, s.ReconcileID("final", "final-2"))
	close(stop)
	wg.Wait()
}
