package service

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/capitalize-ai/repochat/internal/apperr"
	"github.com/capitalize-ai/repochat/internal/model"
)

// Store persists conversations and their messages.
type Store interface {
	SaveConversation(ctx context.Context, conv *model.Conversation) error
	// Conversation returns a NOT_FOUND error for an unknown id.
	Conversation(ctx context.Context, id string) (*model.Conversation, error)
	Conversations(ctx context.Context, userID string) ([]model.Conversation, error)
	AppendMessage(ctx context.Context, msg *model.Message) error
	// Messages returns a conversation's messages in append order.
	Messages(ctx context.Context, conversationID string) ([]model.Message, error)
	Ready(ctx context.Context) error
}

// MemoryStore is a Store that lives for the process lifetime.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]model.Conversation
	messages      map[string][]model.Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]model.Conversation),
		messages:      make(map[string][]model.Message),
	}
}

func (s *MemoryStore) SaveConversation(_ context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = *conv
	return nil
}

func (s *MemoryStore) Conversation(_ context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "service.Conversation", fmt.Sprintf("conversation %q", id))
	}
	return &conv, nil
}

func (s *MemoryStore) Conversations(_ context.Context, userID string) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var convs []model.Conversation
	for _, conv := range s.conversations {
		if conv.UserID == userID {
			convs = append(convs, conv)
		}
	}
	return convs, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], *msg)
	return nil
}

func (s *MemoryStore) Messages(_ context.Context, conversationID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages[conversationID]), nil
}

func (s *MemoryStore) Ready(context.Context) error {
	return nil
}
