package middleware

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/capitalize-ai/repochat/internal/model"
)

// MaxMessageBytes bounds the size of one user message.
const MaxMessageBytes = 100000

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("message cannot be empty")
	}
	if len(content) > MaxMessageBytes {
		return errors.New("message exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("message must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateRepositoryID validates a repository ID.
func ValidateRepositoryID(id string) error {
	if id == "" {
		return errors.New("repository ID cannot be empty")
	}
	if len(id) > 128 {
		return errors.New("repository ID exceeds maximum length")
	}
	return nil
}

// ValidateQuery validates the body of a streaming query.
func ValidateQuery(req *model.QueryRequest) error {
	if err := ValidateRepositoryID(req.RepositoryID); err != nil {
		return err
	}
	if err := ValidateMessageContent(req.Message); err != nil {
		return err
	}
	if req.ConversationID != nil {
		if err := ValidateConversationID(*req.ConversationID); err != nil {
			return err
		}
	}
	if req.ParentID != nil && *req.ParentID == "" {
		return errors.New("parent ID cannot be empty")
	}
	return nil
}
