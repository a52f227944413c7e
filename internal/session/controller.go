// Package session drives send/receive exchanges for one open conversation.
package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/capitalize-ai/repochat/internal/apperr"
	"github.com/capitalize-ai/repochat/internal/model"
	"github.com/capitalize-ai/repochat/internal/stream"
	"github.com/capitalize-ai/repochat/internal/tree"
	"github.com/capitalize-ai/repochat/pkg/logger"
	"github.com/capitalize-ai/repochat/pkg/metrics"
	"github.com/capitalize-ai/repochat/pkg/tracing"
)

// Backend is the subset of the API client used by the controller.
type Backend interface {
	Query(ctx context.Context, req *model.QueryRequest) (io.ReadCloser, error)
	History(ctx context.Context, conversationID string) (*model.ChatHistory, error)
}

// Options tunes a Controller.
type Options struct {
	// IdleTimeout fails an exchange when no bytes arrive for this long.
	// Zero disables the check.
	IdleTimeout time.Duration

	// RefetchHistory reloads canonical history after a stream ends.
	RefetchHistory bool

	// NewID synthesizes temporary message ids.
	NewID func() string
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		IdleTimeout:    60 * time.Second,
		RefetchHistory: true,
		NewID:          func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

// Result describes a finished exchange.
type Result struct {
	ConversationID string
	UserID         string
	AssistantID    string
	ParentID       *string
	State          State

	// Discarded is set when the view was replaced by Open, NewConversation
	// or Reload before the exchange finished; its remaining events were
	// dropped and State is StateIdle.
	Discarded bool
}

// Controller owns the tree store of the open conversation and runs at most
// one exchange per conversation at a time.
type Controller struct {
	backend      Backend
	repositoryID string
	opts         Options
	logger       *logger.Logger

	state atomic.Int32

	mu             sync.Mutex
	conversationID string
	generation     uint64
	store          *tree.Store
	input          string
	inFlight       map[string]*exchange
	listeners      []tree.Listener
}

// exchange is one send/receive cycle, tagged with the view it belongs to.
type exchange struct {
	conversationID string
	generation     uint64
	store          *tree.Store
	userID         string
	assistantID    string
	completed      bool
	cancel         context.CancelFunc
	started        time.Time
}

// New creates a controller for one repository. Call Open or NewConversation
// to select a conversation.
func New(backend Backend, repositoryID string, opts Options, log *logger.Logger) *Controller {
	if opts.NewID == nil {
		opts.NewID = DefaultOptions().NewID
	}
	return &Controller{
		backend:      backend,
		repositoryID: repositoryID,
		opts:         opts,
		logger:       log,
		store:        tree.NewStore(),
		inFlight:     make(map[string]*exchange),
	}
}

// State returns the state of the open conversation's exchange.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// ConversationID returns the open conversation id.
func (c *Controller) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// RepositoryID returns the repository this controller chats about.
func (c *Controller) RepositoryID() string {
	return c.repositoryID
}

// Store returns the tree store of the open conversation.
func (c *Controller) Store() *tree.Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store
}

// ActivePath returns the transcript of the open conversation.
func (c *Controller) ActivePath() []model.Message {
	return c.Store().ActivePath()
}

// Subscribe registers a listener on the current store and on every store
// created by later navigation. Listeners run with the controller locked and
// must only read the snapshot they are given; State is safe to call.
func (c *Controller) Subscribe(l tree.Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
	c.store.Subscribe(l)
}

// SetInput replaces the pending input.
func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = text
}

// Input returns the pending input.
func (c *Controller) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// Open switches the view to an existing conversation and loads its history.
// A conversation the backend does not know yet opens empty. On
// MALFORMED_HISTORY the view does not change.
func (c *Controller) Open(ctx context.Context, conversationID string) error {
	store, err := c.fetch(ctx, conversationID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.switchLocked(conversationID, store)

	c.logger.Info("conversation opened",
		zap.String("conversation_id", conversationID),
		zap.Int("messages", store.Snapshot().Len()),
	)
	return nil
}

// fetch loads the history of conversationID into a new store.
func (c *Controller) fetch(ctx context.Context, conversationID string) (*tree.Store, error) {
	var msgs []model.Message
	history, err := c.backend.History(ctx, conversationID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		msgs = history.Messages
	}

	store := tree.NewStore()
	if err := store.Load(msgs); err != nil {
		return nil, err
	}
	return store, nil
}

// NewConversation switches the view to a fresh, empty conversation and
// returns its id.
func (c *Controller) NewConversation() string {
	id := uuid.NewString()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.switchLocked(id, tree.NewStore())

	c.logger.Info("conversation started", zap.String("conversation_id", id))
	return id
}

// switchLocked installs a new view. Exchanges of the previous view become
// stale: they are cancelled and their remaining events are discarded.
func (c *Controller) switchLocked(conversationID string, store *tree.Store) {
	c.generation++
	c.conversationID = conversationID
	for _, l := range c.listeners {
		store.Subscribe(l)
	}
	c.store = store
	c.input = ""

	for id, ex := range c.inFlight {
		ex.cancel()
		delete(c.inFlight, id)
	}
	c.state.Store(int32(StateIdle))
}

// Reload re-fetches the open conversation's history and installs it as a
// new view of the same conversation. An exchange still in flight is
// cancelled and reported as discarded. Pending input is kept.
func (c *Controller) Reload(ctx context.Context) error {
	c.mu.Lock()
	conversationID, generation := c.conversationID, c.generation
	c.mu.Unlock()

	if conversationID == "" {
		return nil
	}
	store, err := c.fetch(ctx, conversationID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation {
		return nil
	}
	input := c.input
	c.switchLocked(conversationID, store)
	c.input = input
	return nil
}

// Send sets the pending input to text and submits it.
func (c *Controller) Send(ctx context.Context, text string) (*Result, error) {
	c.SetInput(text)
	return c.Submit(ctx)
}

// Submit runs one exchange for the pending input and blocks until it reaches
// a final state. The user message and assistant placeholder are in the tree
// before any network I/O starts. Empty input is EMPTY_INPUT; a second submit
// while an exchange is in flight for the conversation is BUSY.
func (c *Controller) Submit(ctx context.Context) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ex, parent, text, err := c.begin(cancel)
	if err != nil {
		return nil, err
	}

	ctx, span := tracing.Tracer("repochat/session").Start(ctx, "session.Submit")
	span.SetAttributes(
		attribute.String("conversation.id", ex.conversationID),
		attribute.String("repository.id", c.repositoryID),
	)
	defer span.End()

	log := c.logger.WithConversation(c.repositoryID, ex.conversationID)
	res := &Result{
		ConversationID: ex.conversationID,
		UserID:         ex.userID,
		AssistantID:    ex.assistantID,
		ParentID:       parent,
	}

	err = c.run(ctx, ex, &model.QueryRequest{
		ConversationID: model.StringPtr(ex.conversationID),
		RepositoryID:   c.repositoryID,
		Message:        text,
		ParentID:       parent,
	}, log)

	res.AssistantID = ex.assistantID
	res.Discarded = !c.isLive(ex)
	switch {
	case res.Discarded:
		res.State = StateIdle
		err = nil
		log.Debug("exchange discarded", zap.String("assistant_id", ex.assistantID))
	case err != nil:
		res.State = StateFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.CodeOf(err)))
		log.Warn("exchange failed", zap.String("assistant_id", ex.assistantID), zap.Error(err))
	default:
		res.State = StateComplete
	}

	c.finish(ex, res)
	return res, err
}

// begin validates input and performs the optimistic insert.
func (c *Controller) begin(cancel context.CancelFunc) (*exchange, *string, string, error) {
	const op = "session.Submit"

	c.mu.Lock()
	defer c.mu.Unlock()

	text := strings.TrimSpace(c.input)
	if text == "" {
		return nil, nil, "", apperr.New(apperr.CodeEmptyInput, op, "message is empty")
	}
	if _, busy := c.inFlight[c.conversationID]; busy {
		return nil, nil, "", apperr.New(apperr.CodeBusy, op, "an exchange is already in flight")
	}

	now := time.Now()
	ex := &exchange{
		conversationID: c.conversationID,
		generation:     c.generation,
		store:          c.store,
		userID:         c.opts.NewID(),
		assistantID:    c.opts.NewID(),
		cancel:         cancel,
		started:        now,
	}

	parent, err := ex.store.AppendPair(
		model.Message{ID: ex.userID, ConversationID: ex.conversationID, Content: text, CreatedAt: now},
		model.Message{ID: ex.assistantID, ConversationID: ex.conversationID, CreatedAt: now},
	)
	if err != nil {
		return nil, nil, "", err
	}

	c.input = ""
	c.inFlight[ex.conversationID] = ex
	c.state.Store(int32(StateSending))
	return ex, parent, text, nil
}

// run performs the request and drains the response.
func (c *Controller) run(ctx context.Context, ex *exchange, req *model.QueryRequest, log *logger.Logger) error {
	const op = "session.Submit"

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var watchdog *idleWatchdog
	if c.opts.IdleTimeout > 0 {
		watchdog = newIdleWatchdog(c.opts.IdleTimeout, cancel)
		defer watchdog.Stop()
	}

	body, err := c.backend.Query(ctx, req)
	if err != nil {
		return c.fail(ex, classify(op, err, watchdog))
	}
	defer body.Close()

	c.withLive(ex, func() {
		c.state.Store(int32(StateStreaming))
		if err := ex.store.SetStatus(ex.userID, model.StatusComplete); err != nil {
			log.Debug("user message status not updated", zap.Error(err))
		}
		if err := ex.store.SetStatus(ex.assistantID, model.StatusStreaming); err != nil {
			log.Debug("assistant message status not updated", zap.Error(err))
		}
	})

	var src io.Reader = body
	if watchdog != nil {
		src = watchdog.Wrap(body)
	}
	reader := stream.NewReader(src, stream.WithMalformedHandler(func(payload string, err error) {
		log.Debug("skipping malformed frame", zap.String("payload", payload), zap.Error(err))
	}))

	for {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ex.completed {
				log.Debug("stream closed after completion", zap.Error(err))
				break
			}
			return c.fail(ex, classify(op, err, watchdog))
		}
		if !c.apply(ex, ev, log) {
			return nil
		}
	}

	c.withLive(ex, func() {
		if !ex.completed {
			if err := ex.store.SetStatus(ex.assistantID, model.StatusComplete); err != nil {
				log.Debug("assistant message status not updated", zap.Error(err))
			}
			ex.completed = true
		}
		c.state.Store(int32(StateComplete))
	})

	if c.opts.RefetchHistory {
		c.refetch(ctx, ex, log)
	}
	return nil
}

// apply mutates the tree for one event. It returns false when the exchange
// is stale and draining should stop.
func (c *Controller) apply(ex *exchange, ev stream.Event, log *logger.Logger) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.liveLocked(ex) {
		metrics.RecordStaleEvent()
		log.Debug("discarding stale event", zap.Stringer("kind", ev.Kind))
		ex.cancel()
		return false
	}

	switch ev.Kind {
	case stream.EventDelta:
		if err := ex.store.AppendDelta(ex.assistantID, ev.Text); err != nil {
			log.Debug("delta not applied", zap.String("assistant_id", ex.assistantID), zap.Error(err))
		}
	case stream.EventHistoryUpdated:
		if err := ex.store.ReconcileID(ex.assistantID, ev.ID); err != nil {
			log.Warn("assistant id not reconciled",
				zap.String("assistant_id", ex.assistantID),
				zap.String("server_id", ev.ID),
				zap.Error(err),
			)
			return true
		}
		ex.assistantID = ev.ID
		if err := ex.store.SetStatus(ex.assistantID, model.StatusComplete); err != nil {
			log.Debug("assistant message status not updated", zap.Error(err))
		}
		ex.completed = true
	}
	return true
}

// refetch replaces the optimistic tree with canonical history when the
// conversation is still open.
func (c *Controller) refetch(ctx context.Context, ex *exchange, log *logger.Logger) {
	if ex.conversationID == "" || !c.isLive(ex) {
		return
	}

	history, err := c.backend.History(ctx, ex.conversationID)
	if err != nil {
		log.Warn("failed to refetch history", zap.Error(err))
		return
	}

	c.withLive(ex, func() {
		if err := ex.store.Load(history.Messages); err != nil {
			log.Warn("keeping optimistic history", zap.Error(err))
		}
	})
}

// fail marks the assistant message FAILED, keeping its partial content. A
// user message the backend never accepted is marked FAILED too.
func (c *Controller) fail(ex *exchange, err error) error {
	c.withLive(ex, func() {
		if m, ok := ex.store.Get(ex.userID); ok && m.Status == model.StatusPending {
			if serr := ex.store.SetStatus(ex.userID, model.StatusFailed); serr != nil {
				c.logger.Debug("user message status not updated", zap.Error(serr))
			}
		}
		if serr := ex.store.SetStatus(ex.assistantID, model.StatusFailed); serr != nil {
			c.logger.Debug("assistant message status not updated", zap.Error(serr))
		}
		c.state.Store(int32(StateFailed))
	})
	return err
}

// finish clears the in-flight flag and returns the view to IDLE.
func (c *Controller) finish(ex *exchange, res *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inFlight[ex.conversationID] == ex {
		delete(c.inFlight, ex.conversationID)
	}
	if c.liveLocked(ex) {
		c.state.Store(int32(StateIdle))
	}

	outcome := strings.ToLower(res.State.String())
	if res.Discarded {
		outcome = "discarded"
	}
	metrics.RecordExchange(outcome, time.Since(ex.started).Seconds())
}

func (c *Controller) withLive(ex *exchange, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.liveLocked(ex) {
		fn()
	}
}

func (c *Controller) isLive(ex *exchange) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(ex)
}

func (c *Controller) liveLocked(ex *exchange) bool {
	return ex.generation == c.generation && ex.conversationID == c.conversationID
}

// classify maps a transport error onto the exchange error taxonomy.
func classify(op string, err error, watchdog *idleWatchdog) error {
	switch {
	case watchdog != nil && watchdog.Fired():
		return apperr.Wrap(apperr.CodeTimeout, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Wrap(apperr.CodeTimeout, op, err)
	case apperr.CodeOf(err) != "":
		return err
	default:
		return apperr.Wrap(apperr.CodeNetworkFailure, op, err)
	}
}
