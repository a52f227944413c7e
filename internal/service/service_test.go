package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/repochat/internal/apperr"
	"github.com/capitalize-ai/repochat/internal/llm"
	"github.com/capitalize-ai/repochat/internal/model"
	"github.com/capitalize-ai/repochat/pkg/logger"
)

type failingLLM struct {
	*llm.EchoClient
	afterTokens int
}

func (f failingLLM) CompleteStream(ctx context.Context, req *llm.CompletionRequest, cb llm.StreamCallback) (*llm.CompletionResponse, error) {
	for i := 0; i < f.afterTokens; i++ {
		if err := cb("tok ", i); err != nil {
			return nil, err
		}
	}
	return nil, errors.New("upstream closed")
}

func newServices(t *testing.T, gen llm.Client) (*ConversationService, *QueryService) {
	t.Helper()
	catalog, err := ParseCatalog("r1=acme/widgets, r2=gadgets")
	require.NoError(t, err)

	store := NewMemoryStore()
	log := logger.NewNop()
	convs := NewConversationService(store, catalog, log)
	return convs, NewQueryService(convs, store, catalog, gen, log)
}

func ask(t *testing.T, q *QueryService, userID string, req *model.QueryRequest) (*Exchange, *model.Message, []string) {
	t.Helper()
	ex, err := q.Begin(context.Background(), userID, req)
	require.NoError(t, err)

	var deltas []string
	reply, err := ex.Answer(context.Background(), func(text string) error {
		deltas = append(deltas, text)
		return nil
	})
	require.NoError(t, err)
	return ex, reply, deltas
}

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog("r1=acme/widgets, r2=gadgets,")
	require.NoError(t, err)

	assert.Equal(t, []model.Repository{
		{ID: "r1", Owner: "acme", Name: "widgets"},
		{ID: "r2", Name: "gadgets"},
	}, c.List())

	_, err = c.Get("nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	for _, bad := range []string{"r1", "=x", "r1=a,r1=b"} {
		_, err := ParseCatalog(bad)
		assert.Error(t, err, bad)
	}
}

func TestQuery_StoresPairAndStreamsDeltas(t *testing.T) {
	convs, q := newServices(t, llm.NewEchoClient(0))

	ex, reply, deltas := ask(t, q, "u1", &model.QueryRequest{
		ConversationID: model.StringPtr("c1"),
		RepositoryID:   "r1",
		Message:        "Where is main?",
	})

	assert.Equal(t, "c1", ex.Conversation.ID)
	assert.Nil(t, ex.User.ParentID)
	assert.Equal(t, "You asked: Where is main?", strings.Join(deltas, ""))
	assert.Equal(t, ex.User.ID, reply.Parent())
	assert.Equal(t, "You asked: Where is main?", reply.DisplayText())

	history, err := convs.History(context.Background(), "u1", "c1")
	require.NoError(t, err)
	require.Len(t, history.Messages, 2)
	assert.Equal(t, model.SenderUser, history.Messages[0].SenderType)
	assert.Equal(t, reply.ID, history.Messages[1].ID)
	assert.Equal(t, model.EncodeReply("You asked: Where is main?"), history.Messages[1].Content)
}

func TestQuery_ParentResolution(t *testing.T) {
	_, q := newServices(t, llm.NewEchoClient(0))
	_, first, _ := ask(t, q, "u1", &model.QueryRequest{ConversationID: model.StringPtr("c1"), RepositoryID: "r1", Message: "one"})

	ex, _, _ := ask(t, q, "u1", &model.QueryRequest{
		ConversationID: model.StringPtr("c1"), RepositoryID: "r1", Message: "two", ParentID: model.StringPtr(first.ID),
	})
	require.NotNil(t, ex.User.ParentID)
	assert.Equal(t, first.ID, *ex.User.ParentID)
	assert.Len(t, ex.prompt, 3)
	assert.Contains(t, ex.prompt[0].Content, "acme/widgets")

	_, latest, _ := ask(t, q, "u1", &model.QueryRequest{
		ConversationID: model.StringPtr("c1"), RepositoryID: "r1", Message: "three", ParentID: model.StringPtr("tmp-never-seen"),
	})
	assert.NotEmpty(t, latest.ID)

	ex, err := q.Begin(context.Background(), "u1", &model.QueryRequest{
		ConversationID: model.StringPtr("c1"), RepositoryID: "r1", Message: "four", ParentID: model.StringPtr("tmp-never-seen"),
	})
	require.NoError(t, err)
	require.NotNil(t, ex.User.ParentID)
	assert.Equal(t, latest.ID, *ex.User.ParentID)
}

func TestQuery_RejectsUnknownRepositoryAndForeignConversation(t *testing.T) {
	_, q := newServices(t, llm.NewEchoClient(0))

	_, err := q.Begin(context.Background(), "u1", &model.QueryRequest{RepositoryID: "missing", Message: "hi"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	ask(t, q, "u1", &model.QueryRequest{ConversationID: model.StringPtr("c1"), RepositoryID: "r1", Message: "hi"})

	_, err = q.Begin(context.Background(), "u2", &model.QueryRequest{ConversationID: model.StringPtr("c1"), RepositoryID: "r1", Message: "hi"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = q.Begin(context.Background(), "u1", &model.QueryRequest{ConversationID: model.StringPtr("c1"), RepositoryID: "r2", Message: "hi"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestQuery_FailedAnswerKeepsUserMessageOnly(t *testing.T) {
	convs, q := newServices(t, failingLLM{EchoClient: llm.NewEchoClient(0), afterTokens: 2})

	ex, err := q.Begin(context.Background(), "u1", &model.QueryRequest{ConversationID: model.StringPtr("c1"), RepositoryID: "r1", Message: "hi"})
	require.NoError(t, err)

	var n int
	_, err = ex.Answer(context.Background(), func(string) error { n++; return nil })
	assert.Error(t, err)
	assert.Equal(t, 2, n)

	history, err := convs.History(context.Background(), "u1", "c1")
	require.NoError(t, err)
	assert.Len(t, history.Messages, 1)
}

func TestConversation_Summaries(t *testing.T) {
	convs, q := newServices(t, llm.NewEchoClient(0))
	ask(t, q, "u1", &model.QueryRequest{ConversationID: model.StringPtr("c-a"), RepositoryID: "r1", Message: "first"})
	ask(t, q, "u1", &model.QueryRequest{ConversationID: model.StringPtr("c-b"), RepositoryID: "r2", Message: "second"})
	ask(t, q, "u2", &model.QueryRequest{ConversationID: model.StringPtr("c-c"), RepositoryID: "r1", Message: "other user"})

	summaries, err := convs.Summaries(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	labels := []string{summaries[0].Label(), summaries[1].Label()}
	assert.ElementsMatch(t, []string{"widgets - first", "gadgets - second"}, labels)
	for _, s := range summaries {
		assert.Len(t, s.Messages, 1)
	}

	_, err = convs.History(context.Background(), "u2", "c-a")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestBuildPrompt_FollowsParentChain(t *testing.T) {
	history := []model.Message{
		{ID: "a", SenderType: model.SenderUser, Content: "q1"},
		{ID: "b", ParentID: model.StringPtr("a"), SenderType: model.SenderAssistant, Content: model.EncodeReply("r1")},
		{ID: "c", ParentID: model.StringPtr("a"), SenderType: model.SenderAssistant, Content: model.EncodeReply("sibling")},
	}

	prompt := buildPrompt(model.Repository{Name: "widgets"}, history, model.StringPtr("b"), "q2")

	require.Len(t, prompt, 3)
	assert.Equal(t, llm.RoleUser, prompt[0].Role)
	assert.True(t, strings.HasSuffix(prompt[0].Content, "q1"))
	assert.Contains(t, prompt[0].Content, "widgets")
	assert.Equal(t, llm.ChatMessage{Role: llm.RoleAssistant, Content: "r1"}, prompt[1])
	assert.Equal(t, llm.ChatMessage{Role: llm.RoleUser, Content: "q2"}, prompt[2])
}
