package handler

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/repochat/internal/apperr"
	"github.com/capitalize-ai/repochat/internal/client"
	"github.com/capitalize-ai/repochat/internal/llm"
	"github.com/capitalize-ai/repochat/internal/middleware"
	"github.com/capitalize-ai/repochat/internal/model"
	"github.com/capitalize-ai/repochat/internal/service"
	"github.com/capitalize-ai/repochat/internal/session"
	"github.com/capitalize-ai/repochat/internal/stream"
	"github.com/capitalize-ai/repochat/pkg/logger"
)

const testSecret = "handler-secret"

type brokenLLM struct{ *llm.EchoClient }

func (brokenLLM) CompleteStream(_ context.Context, _ *llm.CompletionRequest, cb llm.StreamCallback) (*llm.CompletionResponse, error) {
	if err := cb("partial ", 0); err != nil {
		return nil, err
	}
	return nil, errors.New("provider hung up")
}

type notReady struct{}

func (notReady) Ready(context.Context) error { return errors.New("NATS not connected") }

type backend struct {
	srv   *httptest.Server
	token string
}

func newBackend(t *testing.T, gen llm.Client) *backend {
	t.Helper()
	log := logger.NewNop()

	catalog, err := service.ParseCatalog("r1=acme/widgets")
	require.NoError(t, err)
	store := service.NewMemoryStore()
	convs := service.NewConversationService(store, catalog, log)
	queries := service.NewQueryService(convs, store, catalog, gen, log)

	srv := httptest.NewServer(NewRouter(RouterConfig{
		Logger:            log,
		JWTSecret:         testSecret,
		RateLimitRequests: 1000,
		RateLimitWindow:   time.Minute,
		Health:            NewHealthHandler(store),
		Queries:           NewQueryHandler(queries, log),
		History:           NewHistoryHandler(convs, log),
		Repositories:      NewRepositoryHandler(catalog),
	}))
	t.Cleanup(srv.Close)

	token, err := middleware.IssueToken(testSecret, "u-1", time.Hour)
	require.NoError(t, err)
	return &backend{srv: srv, token: token}
}

func (b *backend) client(token string) *client.Client {
	return client.New(client.Config{BaseURL: b.srv.URL, Token: token, Timeout: 5 * time.Second}, logger.NewNop())
}

func TestQuery_StreamsProtocolFrames(t *testing.T) {
	b := newBackend(t, llm.NewEchoClient(0))
	api := b.client(b.token)

	conv := uuid.NewString()
	body, err := api.Query(context.Background(), &model.QueryRequest{
		ConversationID: &conv,
		RepositoryID:   "r1",
		Message:        "where is main?",
	})
	require.NoError(t, err)
	defer body.Close()

	var events []stream.Event
	r := stream.NewReader(body)
	for {
		ev, err := r.Next()
		if err != nil {
			break
		}
		events = append(events, ev)
	}

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, stream.EventHistoryUpdated, last.Kind)

	var text strings.Builder
	for _, ev := range events[:len(events)-1] {
		assert.Equal(t, stream.EventDelta, ev.Kind)
		text.WriteString(ev.Text)
	}
	assert.Equal(t, "You asked: where is main?", text.String())

	history, err := api.History(context.Background(), conv)
	require.NoError(t, err)
	require.Len(t, history.Messages, 2)
	assert.Equal(t, last.ID, history.Messages[1].ID)
	assert.Equal(t, "You asked: where is main?", history.Messages[1].DisplayText())
}

func TestQuery_FramesAreDataLines(t *testing.T) {
	b := newBackend(t, llm.NewEchoClient(0))

	req, err := http.NewRequest(http.MethodPost, b.srv.URL+"/chat/query",
		strings.NewReader(`{"conversationId":null,"repositoryId":"r1","message":"hi","parentId":null}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+b.token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		assert.True(t, strings.HasPrefix(line, model.EventMarker+" "), line)
	}
	require.NoError(t, scanner.Err())
}

func TestQuery_RejectsBadRequests(t *testing.T) {
	b := newBackend(t, llm.NewEchoClient(0))

	_, err := b.client("").Query(context.Background(), &model.QueryRequest{RepositoryID: "r1", Message: "hi"})
	assert.ErrorIs(t, err, apperr.ErrNetworkFailure)
	assert.Contains(t, err.Error(), "401")

	_, err = b.client(b.token).Query(context.Background(), &model.QueryRequest{RepositoryID: "missing", Message: "hi"})
	assert.ErrorIs(t, err, apperr.ErrNetworkFailure)
	assert.Contains(t, err.Error(), "404")

	_, err = b.client(b.token).Query(context.Background(), &model.QueryRequest{RepositoryID: "r1", Message: " "})
	assert.Contains(t, err.Error(), "400")
}

func TestSession_EndToEnd(t *testing.T) {
	b := newBackend(t, llm.NewEchoClient(0))
	c := session.New(b.client(b.token), "r1", session.Options{
		IdleTimeout:    5 * time.Second,
		RefetchHistory: true,
	}, logger.NewNop())
	c.NewConversation()

	first, err := c.Send(context.Background(), "first question")
	require.NoError(t, err)
	assert.Equal(t, session.StateComplete, first.State)

	second, err := c.Send(context.Background(), "second question")
	require.NoError(t, err)
	require.NotNil(t, second.ParentID)
	assert.Equal(t, first.AssistantID, *second.ParentID)

	path := c.ActivePath()
	require.Len(t, path, 4)
	assert.Equal(t, "You asked: second question", path[3].DisplayText())
	assert.Equal(t, path[2].ID, path[3].Parent())
	assert.Equal(t, first.AssistantID, path[2].Parent())

	summaries, err := b.client(b.token).Summaries(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "widgets - first question", summaries[0].Label())
}

func TestSession_AbortedStreamFails(t *testing.T) {
	b := newBackend(t, brokenLLM{llm.NewEchoClient(0)})
	c := session.New(b.client(b.token), "r1", session.Options{IdleTimeout: 5 * time.Second}, logger.NewNop())
	c.NewConversation()

	res, err := c.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, session.StateFailed, res.State)

	m, ok := c.Store().Get(res.AssistantID)
	require.True(t, ok)
	assert.Equal(t, "partial ", m.Content)
	assert.Equal(t, model.StatusFailed, m.Status)
}

func TestHistory_UnknownConversation(t *testing.T) {
	b := newBackend(t, llm.NewEchoClient(0))

	_, err := b.client(b.token).History(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRepositories(t *testing.T) {
	b := newBackend(t, llm.NewEchoClient(0))
	api := b.client(b.token)

	repos, err := api.Repositories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.Repository{{ID: "r1", Owner: "acme", Name: "widgets"}}, repos)

	repo, err := api.Repository(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "widgets", repo.Name)

	_, err = api.Repository(context.Background(), "r9")
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	h := NewHealthHandler(notReady{})

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "NATS not connected")
}
