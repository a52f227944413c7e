// Package service provides the business logic of the reference query backend.
package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/repochat/internal/apperr"
	"github.com/capitalize-ai/repochat/internal/model"
	"github.com/capitalize-ai/repochat/pkg/logger"
)

// ConversationService handles conversation records and history reads.
type ConversationService struct {
	store   Store
	catalog *Catalog
	logger  *logger.Logger
	now     func() time.Time
}

// NewConversationService creates a new conversation service.
func NewConversationService(store Store, catalog *Catalog, log *logger.Logger) *ConversationService {
	return &ConversationService{
		store:   store,
		catalog: catalog,
		logger:  log,
		now:     time.Now,
	}
}

// Ensure returns the conversation with the given id, creating it for userID
// when it does not exist. An empty id creates a conversation with a fresh id.
// A conversation owned by another user or about another repository is
// NOT_FOUND.
func (s *ConversationService) Ensure(ctx context.Context, userID, repositoryID, conversationID string) (*model.Conversation, error) {
	if _, err := s.catalog.Get(repositoryID); err != nil {
		return nil, err
	}

	if conversationID != "" {
		conv, err := s.store.Conversation(ctx, conversationID)
		switch {
		case err == nil:
			if conv.UserID != userID || conv.RepositoryID != repositoryID {
				return nil, notFound(conversationID)
			}
			return conv, nil
		case !errors.Is(err, apperr.ErrNotFound):
			return nil, err
		}
	} else {
		conversationID = uuid.NewString()
	}

	now := s.now()
	conv := &model.Conversation{
		ID:           conversationID,
		UserID:       userID,
		RepositoryID: repositoryID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.SaveConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to save conversation: %w", err)
	}

	s.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("repository_id", repositoryID),
		zap.String("user_id", userID),
	)
	return conv, nil
}

// Get retrieves a conversation owned by userID.
func (s *ConversationService) Get(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	conv, err := s.store.Conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, notFound(conversationID)
	}
	return conv, nil
}

// Touch bumps the conversation's update time.
func (s *ConversationService) Touch(ctx context.Context, conv *model.Conversation) error {
	conv.UpdatedAt = s.now()
	return s.store.SaveConversation(ctx, conv)
}

// History returns the full message list of a conversation owned by userID.
func (s *ConversationService) History(ctx context.Context, userID, conversationID string) (*model.ChatHistory, error) {
	conv, err := s.Get(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.store.Messages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}
	if msgs == nil {
		msgs = []model.Message{}
	}

	return &model.ChatHistory{
		ID:           conv.ID,
		RepositoryID: conv.RepositoryID,
		Messages:     msgs,
	}, nil
}

// Summaries lists userID's conversations, most recently updated first.
func (s *ConversationService) Summaries(ctx context.Context, userID string) ([]model.ChatSummary, error) {
	convs, err := s.store.Conversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	slices.SortFunc(convs, func(a, b model.Conversation) int {
		return cmp.Compare(b.UpdatedAt.UnixNano(), a.UpdatedAt.UnixNano())
	})

	summaries := make([]model.ChatSummary, 0, len(convs))
	for _, conv := range convs {
		msgs, err := s.store.Messages(ctx, conv.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read messages: %w", err)
		}

		// The sidebar only shows the opening message.
		if len(msgs) > 1 {
			msgs = msgs[:1]
		}

		repo, err := s.catalog.Get(conv.RepositoryID)
		if err != nil {
			repo = model.Repository{ID: conv.RepositoryID}
		}

		summaries = append(summaries, model.ChatSummary{
			ID:           conv.ID,
			RepositoryID: conv.RepositoryID,
			Repository:   repo,
			Messages:     msgs,
			UpdatedAt:    conv.UpdatedAt,
		})
	}
	return summaries, nil
}

func notFound(conversationID string) error {
	return apperr.New(apperr.CodeNotFound, "service.Conversation", fmt.Sprintf("conversation %q", conversationID))
}
