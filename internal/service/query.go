package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/repochat/internal/llm"
	"github.com/capitalize-ai/repochat/internal/model"
	"github.com/capitalize-ai/repochat/pkg/logger"
	"github.com/capitalize-ai/repochat/pkg/metrics"
)

// DeltaFunc receives each generated text fragment.
type DeltaFunc func(text string) error

// QueryService answers user turns.
type QueryService struct {
	conversations *ConversationService
	store         Store
	catalog       *Catalog
	llmClient     llm.Client
	logger        *logger.Logger
}

// NewQueryService creates a new query service.
func NewQueryService(
	conversations *ConversationService,
	store Store,
	catalog *Catalog,
	llmClient llm.Client,
	log *logger.Logger,
) *QueryService {
	return &QueryService{
		conversations: conversations,
		store:         store,
		catalog:       catalog,
		llmClient:     llmClient,
		logger:        log,
	}
}

// Exchange is an accepted user turn waiting for its answer.
type Exchange struct {
	Conversation *model.Conversation
	Repository   model.Repository
	User         model.Message

	prompt []llm.ChatMessage
	svc    *QueryService
}

// Begin validates a query and stores the user message. Errors returned here
// happen before any answer is streamed.
//
// An unknown parentId attaches the turn to the conversation's latest
// message; clients that kept a failed placeholder use ids the backend never
// saw.
func (s *QueryService) Begin(ctx context.Context, userID string, req *model.QueryRequest) (*Exchange, error) {
	repo, err := s.catalog.Get(req.RepositoryID)
	if err != nil {
		return nil, err
	}

	var conversationID string
	if req.ConversationID != nil {
		conversationID = *req.ConversationID
	}
	conv, err := s.conversations.Ensure(ctx, userID, req.RepositoryID, conversationID)
	if err != nil {
		return nil, err
	}

	history, err := s.store.Messages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	parent := resolveParent(history, req.ParentID)
	if req.ParentID != nil && (parent == nil || *parent != *req.ParentID) {
		s.logger.Warn("unknown parent, attaching to latest message",
			zap.String("conversation_id", conv.ID),
			zap.String("parent_id", *req.ParentID),
		)
	}

	user := model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ParentID:       parent,
		ConversationID: conv.ID,
		SenderType:     model.SenderUser,
		Content:        req.Message,
		CreatedAt:      time.Now(),
	}
	if err := s.store.AppendMessage(ctx, &user); err != nil {
		return nil, fmt.Errorf("failed to store user message: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues(string(model.SenderUser)).Inc()

	return &Exchange{
		Conversation: conv,
		Repository:   repo,
		User:         user,
		prompt:       buildPrompt(repo, history, parent, req.Message),
		svc:          s,
	}, nil
}

// Answer generates the assistant reply, calling onDelta per fragment, and
// stores it under the user message.
func (e *Exchange) Answer(ctx context.Context, onDelta DeltaFunc) (*model.Message, error) {
	s := e.svc
	start := time.Now()

	resp, err := s.llmClient.CompleteStream(ctx, &llm.CompletionRequest{
		Model:     s.llmClient.DefaultModel(),
		Messages:  e.prompt,
		MaxTokens: 4096,
	}, func(token string, _ int) error {
		return onDelta(token)
	})
	if err != nil {
		metrics.RecordLLMStream(s.llmClient.DefaultModel(), "error", time.Since(start).Seconds(), 0, 0)
		return nil, fmt.Errorf("answer generation failed: %w", err)
	}

	userID := e.User.ID
	assistant := model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ParentID:       &userID,
		ConversationID: e.Conversation.ID,
		SenderType:     model.SenderAssistant,
		Content:        model.EncodeReply(resp.Content),
		CreatedAt:      time.Now(),
	}
	if err := s.store.AppendMessage(ctx, &assistant); err != nil {
		return nil, fmt.Errorf("failed to store assistant message: %w", err)
	}
	if err := s.conversations.Touch(ctx, e.Conversation); err != nil {
		s.logger.Warn("failed to touch conversation", zap.String("conversation_id", e.Conversation.ID), zap.Error(err))
	}

	metrics.MessagesTotal.WithLabelValues(string(model.SenderAssistant)).Inc()
	metrics.RecordLLMStream(resp.Model, "success", float64(resp.LatencyMs)/1000.0, resp.TokensIn, resp.TokensOut)

	return &assistant, nil
}

// resolveParent returns requested when it names a stored message, else the
// latest stored message, else nil.
func resolveParent(history []model.Message, requested *string) *string {
	if len(history) == 0 {
		return nil
	}
	if requested != nil {
		for _, m := range history {
			if m.ID == *requested {
				id := m.ID
				return &id
			}
		}
	}
	id := history[len(history)-1].ID
	return &id
}

// buildPrompt returns the turns from the root down to parent, followed by the
// new question. The first turn names the repository.
func buildPrompt(repo model.Repository, history []model.Message, parent *string, question string) []llm.ChatMessage {
	byID := make(map[string]model.Message, len(history))
	for _, m := range history {
		byID[m.ID] = m
	}

	var chain []model.Message
	for id := parent; id != nil; {
		m, ok := byID[*id]
		if !ok || len(chain) > len(history) {
			break
		}
		chain = append(chain, m)
		id = m.ParentID
	}
	slices.Reverse(chain)

	prompt := make([]llm.ChatMessage, 0, len(chain)+1)
	for _, m := range chain {
		role := llm.RoleUser
		if m.SenderType == model.SenderAssistant {
			role = llm.RoleAssistant
		}
		prompt = append(prompt, llm.ChatMessage{Role: role, Content: m.DisplayText()})
	}
	prompt = append(prompt, llm.ChatMessage{Role: llm.RoleUser, Content: question})

	name := repo.Name
	if repo.Owner != "" {
		name = repo.Owner + "/" + repo.Name
	}
	prompt[0].Content = fmt.Sprintf("You are answering questions about the %s repository.\n\n%s", name, prompt[0].Content)

	return prompt
}
