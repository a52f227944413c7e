// Package model defines data structures shared by the chat client and the
// reference query backend.
package model

import (
	"time"
)

// Conversation is the backend record of one conversation.
type Conversation struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	RepositoryID string    `json:"repositoryId"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ChatHistory is the full message list of one conversation.
type ChatHistory struct {
	ID           string    `json:"id"`
	RepositoryID string    `json:"repositoryId"`
	Messages     []Message `json:"messages"`
}

// Repository is a processed repository a user can chat about.
type Repository struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChatSummary is one entry of the conversation sidebar.
type ChatSummary struct {
	ID           string     `json:"id"`
	RepositoryID string     `json:"repositoryId"`
	Repository   Repository `json:"repository"`
	Messages     []Message  `json:"messages"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Preview returns the first message text, or "" for an empty conversation.
func (s ChatSummary) Preview() string {
	if len(s.Messages) == 0 {
		return ""
	}
	return s.Messages[0].DisplayText()
}

// Label returns the sidebar label "<repository> - <preview>".
func (s ChatSummary) Label() string {
	name := s.Repository.Name
	if name == "" {
		name = s.RepositoryID
	}
	return name + " - " + s.Preview()
}
