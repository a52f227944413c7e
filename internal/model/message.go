package model

import (
	"encoding/json"
	"time"
)

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderUser      SenderType = "USER"
	SenderAssistant SenderType = "ASSISTANT"
)

// Status is the lifecycle state of a message.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusStreaming Status = "STREAMING"
	StatusComplete  Status = "COMPLETE"
	StatusFailed    Status = "FAILED"
)

// Final reports whether the status admits no further mutation.
func (s Status) Final() bool {
	return s == StatusComplete || s == StatusFailed
}

// Message is one node of a conversation tree.
type Message struct {
	ID             string     `json:"id"`
	ParentID       *string    `json:"parentId"`
	ConversationID string     `json:"conversationId,omitempty"`
	SenderType     SenderType `json:"senderType"`
	Content        string     `json:"content"`
	Status         Status     `json:"status,omitempty"`
	CreatedAt      time.Time  `json:"createdAt,omitempty"`
}

// Parent returns the parent id, or "" for a root.
func (m Message) Parent() string {
	if m.ParentID == nil {
		return ""
	}
	return *m.ParentID
}

// IsRoot reports whether the message has no parent.
func (m Message) IsRoot() bool {
	return m.ParentID == nil
}

// DisplayText returns the text to render. Stored assistant replies are a JSON
// document of the form {"value": "..."}; anything else is shown verbatim.
func (m Message) DisplayText() string {
	if m.SenderType != SenderAssistant {
		return m.Content
	}
	var stored StoredReply
	if err := json.Unmarshal([]byte(m.Content), &stored); err != nil || stored.Value == nil {
		return m.Content
	}
	return *stored.Value
}

// StoredReply is the persisted form of an assistant message body.
type StoredReply struct {
	Value *string `json:"value"`
}

// EncodeReply returns the persisted form of an assistant reply.
func EncodeReply(text string) string {
	data, _ := json.Marshal(StoredReply{Value: &text})
	return string(data)
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// QueryRequest is the body of a streaming query.
type QueryRequest struct {
	ConversationID *string `json:"conversationId"`
	RepositoryID   string  `json:"repositoryId"`
	Message        string  `json:"message"`
	ParentID       *string `json:"parentId"`
}
