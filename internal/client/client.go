// Package client talks to the repository chat backend: the streaming query
// endpoint plus the history, summary and repository collaborator endpoints.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/repochat/internal/apperr"
	"github.com/capitalize-ai/repochat/internal/model"
	"github.com/capitalize-ai/repochat/pkg/logger"
)

// Config holds client connection options.
type Config struct {
	// BaseURL of the backend, e.g. http://localhost:8000.
	BaseURL string

	// Token is sent as a bearer credential when set.
	Token string

	// SessionCookie is sent verbatim in the Cookie header when set.
	SessionCookie string

	// Timeout bounds non-streaming requests. Query responses are bounded by
	// the caller's context instead.
	Timeout time.Duration
}

// Client is an HTTP client for the backend. It is safe for concurrent use.
type Client struct {
	cfg          Config
	httpClient   *http.Client
	streamClient *http.Client
	logger       *logger.Logger
}

// New creates a client.
func New(cfg Config, log *logger.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:          cfg,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		streamClient: &http.Client{},
		logger:       log,
	}
}

// Query posts a user turn and returns the streaming response body. The caller
// must close it. A non-2xx status is a NETWORK_FAILURE.
func (c *Client) Query(ctx context.Context, req *model.QueryRequest) (io.ReadCloser, error) {
	const op = "client.Query"

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/chat/query", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeNetworkFailure, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, statusError(op, resp)
	}

	return resp.Body, nil
}

// History fetches the full message list of a conversation. An unknown
// conversation is NOT_FOUND.
func (c *Client) History(ctx context.Context, conversationID string) (*model.ChatHistory, error) {
	var history model.ChatHistory
	if err := c.getJSON(ctx, "client.History", "/chat/"+url.PathEscape(conversationID)+"/history", &history); err != nil {
		return nil, err
	}
	return &history, nil
}

// Summaries fetches the conversation sidebar list.
func (c *Client) Summaries(ctx context.Context) ([]model.ChatSummary, error) {
	var summaries []model.ChatSummary
	if err := c.getJSON(ctx, "client.Summaries", "/chat/history", &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

// Repository fetches one processed repository.
func (c *Client) Repository(ctx context.Context, repositoryID string) (*model.Repository, error) {
	var repo model.Repository
	if err := c.getJSON(ctx, "client.Repository", "/api/processed-repos/"+url.PathEscape(repositoryID), &repo); err != nil {
		return nil, err
	}
	return &repo, nil
}

// Repositories lists processed repositories.
func (c *Client) Repositories(ctx context.Context) ([]model.Repository, error) {
	var repos []model.Repository
	if err := c.getJSON(ctx, "client.Repositories", "/api/processed-repos", &repos); err != nil {
		return nil, err
	}
	return repos, nil
}

// CloseIdleConnections closes keep-alive connections held by the client.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
	c.streamClient.CloseIdleConnections()
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.CodeNetworkFailure, op, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend request completed",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode == http.StatusNotFound {
		return apperr.New(apperr.CodeNotFound, op, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(apperr.CodeNetworkFailure, op, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if c.cfg.SessionCookie != "" {
		req.Header.Set("Cookie", c.cfg.SessionCookie)
	}
	return req, nil
}

func statusError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := fmt.Sprintf("unexpected status %d", resp.StatusCode)
	if s := strings.TrimSpace(string(snippet)); s != "" {
		msg += ": " + s
	}
	return apperr.New(apperr.CodeNetworkFailure, op, msg)
}
