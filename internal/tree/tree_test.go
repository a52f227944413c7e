package tree

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/repochat/internal/apperr"
	"github.com/capitalize-ai/repochat/internal/model"
)

func msg(id, parent string, sender model.SenderType, content string) model.Message {
	return model.Message{
		ID:         id,
		ParentID:   model.StringPtr(parent),
		SenderType: sender,
		Content:    content,
		Status:     model.StatusComplete,
	}
}

func ids(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestBuild_RejectsMalformedHistory(t *testing.T) {
	tests := []struct {
		name string
		msgs []model.Message
	}{
		{"duplicate id", []model.Message{msg("a", "", model.SenderUser, ""), msg("a", "", model.SenderUser, "")}},
		{"dangling parent", []model.Message{msg("a", "", model.SenderUser, ""), msg("b", "missing", model.SenderAssistant, "")}},
		{"self parent", []model.Message{msg("a", "a", model.SenderUser, "")}},
		{"cycle", []model.Message{msg("r", "", model.SenderUser, ""), msg("a", "b", model.SenderUser, ""), msg("b", "a", model.SenderAssistant, "")}},
		{"empty id", []model.Message{msg("", "", model.SenderUser, "")}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr, err := Build(tc.msgs)
			require.ErrorIs(t, err, apperr.ErrMalformedHistory)
			assert.Nil(t, tr)
		})
	}
}

func TestBuild_DefaultsStatusToComplete(t *testing.T) {
	tr, err := Build([]model.Message{{ID: "a", SenderType: model.SenderUser, Content: "q"}})
	require.NoError(t, err)

	m, ok := tr.Get("a")
	require.True(t, ok)
	assert.Equal(t, model.StatusComplete, m.Status)
}

func TestActivePath_FollowsMostRecentChild(t *testing.T) {
	tr, err := Build([]model.Message{
		msg("A", "", model.SenderUser, "root"),
		msg("B", "A", model.SenderAssistant, "first"),
		msg("C", "A", model.SenderAssistant, "second"),
		msg("D", "C", model.SenderUser, "follow-up"),
		msg("E", "B", model.SenderUser, "old branch"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "C", "D"}, ids(tr.ActivePath()))

	leaf, ok := tr.Leaf()
	require.True(t, ok)
	assert.Equal(t, "D", leaf.ID)
}

func TestActivePath_ForestUsesLatestRoot(t *testing.T) {
	tr, err := Build([]model.Message{
		msg("r1", "", model.SenderUser, ""),
		msg("a1", "r1", model.SenderAssistant, ""),
		msg("r2", "", model.SenderUser, ""),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"r2"}, ids(tr.ActivePath()))
	assert.Equal(t, []string{"r1", "r2"}, ids(tr.Children("")))
}

func TestActivePath_Empty(t *testing.T) {
	assert.Empty(t, Empty().ActivePath())
	_, ok := Empty().Leaf()
	assert.False(t, ok)
}

func TestWithPair_OnEmptyTree(t *testing.T) {
	next, parent, err := Empty().WithPair(
		model.Message{ID: "u1", Content: "Hello"},
		model.Message{ID: "a1"},
	)
	require.NoError(t, err)
	assert.Nil(t, parent)

	want := []model.Message{
		{ID: "u1", SenderType: model.SenderUser, Content: "Hello", Status: model.StatusPending},
		{ID: "a1", ParentID: model.StringPtr("u1"), SenderType: model.SenderAssistant, Content: "", Status: model.StatusPending},
	}
	if diff := cmp.Diff(want, next.Messages()); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
}

func TestWithPair_AttachesToActiveLeaf(t *testing.T) {
	tr, err := Build([]model.Message{
		msg("u0", "", model.SenderUser, "q"),
		msg("a0", "u0", model.SenderAssistant, "a"),
	})
	require.NoError(t, err)

	next, parent, err := tr.WithPair(model.Message{ID: "u1"}, model.Message{ID: "a1"})
	require.NoError(t, err)
	require.NotNil(t, parent)
	assert.Equal(t, "a0", *parent)
	assert.Equal(t, []string{"u0", "a0", "u1", "a1"}, ids(next.ActivePath()))

	// The receiver is untouched.
	assert.Equal(t, 2, tr.Len())
	assert.Equal(t, []string{"u0", "a0"}, ids(tr.ActivePath()))
}

func TestWithPair_IDCollision(t *testing.T) {
	tr, err := Build([]model.Message{msg("x", "", model.SenderUser, "")})
	require.NoError(t, err)

	_, _, err = tr.WithPair(model.Message{ID: "x"}, model.Message{ID: "y"})
	assert.ErrorIs(t, err, apperr.ErrIDCollision)

	_, _, err = tr.WithPair(model.Message{ID: "y"}, model.Message{ID: "x"})
	assert.ErrorIs(t, err, apperr.ErrIDCollision)

	_, _, err = tr.WithPair(model.Message{ID: "z"}, model.Message{ID: "z"})
	assert.ErrorIs(t, err, apperr.ErrIDCollision)

	assert.Equal(t, 1, tr.Len())
}

func TestWithDelta_AccumulatesInOrder(t *testing.T) {
	tr, _, err := Empty().WithPair(model.Message{ID: "u"}, model.Message{ID: "a"})
	require.NoError(t, err)

	fragments := []string{"f1", " ", "f2", "", "🙂", "f3"}
	for _, f := range fragments {
		tr, err = tr.WithDelta("a", f)
		require.NoError(t, err)
	}

	m, _ := tr.Get("a")
	assert.Equal(t, "f1 f2🙂f3", m.Content)
	assert.Equal(t, model.StatusStreaming, m.Status)
}

func TestWithDelta_MissingAndFinalized(t *testing.T) {
	_, err := Empty().WithDelta("nope", "x")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	tr, err := Build([]model.Message{msg("done", "", model.SenderAssistant, "final")})
	require.NoError(t, err)
	_, err = tr.WithDelta("done", "more")
	assert.ErrorIs(t, err, apperr.ErrFinalized)
}

func TestWithReconciledID_RenamesNodeAndChildren(t *testing.T) {
	tr, err := Build([]model.Message{
		msg("u", "", model.SenderUser, "q"),
		{ID: "tmp-1", ParentID: model.StringPtr("u"), SenderType: model.SenderAssistant, Content: "answer", Status: model.StatusStreaming},
		msg("c1", "tmp-1", model.SenderUser, "child one"),
		msg("c2", "tmp-1", model.SenderUser, "child two"),
	})
	require.NoError(t, err)

	next, err := tr.WithReconciledID("tmp-1", "srv-9")
	require.NoError(t, err)

	assert.False(t, next.Has("tmp-1"))
	for _, m := range next.Messages() {
		assert.NotEqual(t, "tmp-1", m.Parent(), "message %s still points at the temporary id", m.ID)
	}

	renamed, ok := next.Get("srv-9")
	require.True(t, ok)
	assert.Equal(t, "answer", renamed.Content)
	assert.Equal(t, "u", renamed.Parent())
	assert.Equal(t, []string{"c1", "c2"}, ids(next.Children("srv-9")))
	assert.Equal(t, []string{"srv-9"}, ids(next.Children("u")))
	assert.Equal(t, []string{"u", "srv-9", "c2"}, ids(next.ActivePath()))

	// Insertion order is preserved across the rename.
	assert.Equal(t, []string{"u", "srv-9", "c1", "c2"}, ids(next.Messages()))

	// The previous snapshot still holds the old id.
	assert.True(t, tr.Has("tmp-1"))
	c1, _ := tr.Get("c1")
	assert.Equal(t, "tmp-1", c1.Parent())
}

func TestWithReconciledID_Root(t *testing.T) {
	tr, _, err := Empty().WithPair(model.Message{ID: "u-tmp"}, model.Message{ID: "a-tmp"})
	require.NoError(t, err)

	next, err := tr.WithReconciledID("u-tmp", "u-srv")
	require.NoError(t, err)
	assert.Equal(t, []string{"u-srv", "a-tmp"}, ids(next.ActivePath()))
	a, _ := next.Get("a-tmp")
	assert.Equal(t, "u-srv", a.Parent())
}

func TestWithReconciledID_Errors(t *testing.T) {
	tr, err := Build([]model.Message{
		{ID: "tmp", SenderType: model.SenderAssistant, Status: model.StatusStreaming},
		msg("taken", "", model.SenderUser, ""),
		msg("final", "", model.SenderAssistant, ""),
	})
	require.NoError(t, err)

	_, err = tr.WithReconciledID("missing", "x")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = tr.WithReconciledID("tmp", "taken")
	assert.ErrorIs(t, err, apperr.ErrIDCollision)

	_, err = tr.WithReconciledID("final", "other")
	assert.ErrorIs(t, err, apperr.ErrFinalized)

	same, err := tr.WithReconciledID("tmp", "tmp")
	require.NoError(t, err)
	assert.Same(t, tr, same)
}

func TestWithStatus(t *testing.T) {
	tr, _, err := Empty().WithPair(model.Message{ID: "u"}, model.Message{ID: "a"})
	require.NoError(t, err)

	tr, err = tr.WithStatus("a", model.StatusFailed)
	require.NoError(t, err)

	_, err = tr.WithStatus("a", model.StatusComplete)
	assert.ErrorIs(t, err, apperr.ErrFinalized)

	_, err = tr.WithStatus("ghost", model.StatusComplete)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGet_ReturnsDetachedCopy(t *testing.T) {
	tr, err := Build([]model.Message{
		msg("a", "", model.SenderUser, ""),
		msg("b", "a", model.SenderAssistant, ""),
	})
	require.NoError(t, err)

	b, _ := tr.Get("b")
	*b.ParentID = "mutated"

	again, _ := tr.Get("b")
	assert.Equal(t, "a", again.Parent())
}
