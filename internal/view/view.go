// Package view assembles what the chat screen shows when it opens: the
// repository header, the conversation sidebar and the open conversation.
package view

import (
	"cmp"
	"context"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/repochat/internal/model"
	"github.com/capitalize-ai/repochat/internal/session"
	"github.com/capitalize-ai/repochat/pkg/logger"
)

// DefaultHeader is shown when the repository cannot be fetched.
const DefaultHeader = "Repository chat"

// API is the backend surface the chat screen needs.
type API interface {
	session.Backend
	Repository(ctx context.Context, repositoryID string) (*model.Repository, error)
	Summaries(ctx context.Context) ([]model.ChatSummary, error)
}

// SidebarEntry links to one past conversation.
type SidebarEntry struct {
	ConversationID string
	Label          string
}

// View is the assembled chat screen.
type View struct {
	Header     string
	Repository *model.Repository
	Sidebar    []SidebarEntry
	Controller *session.Controller
}

// Bootstrap loads the repository, the sidebar and the requested conversation
// concurrently. An empty conversationID starts a new conversation. Sidebar
// and header failures degrade; a history failure is returned.
func Bootstrap(ctx context.Context, api API, repositoryID, conversationID string, opts session.Options, log *logger.Logger) (*View, error) {
	v := &View{
		Header:     DefaultHeader,
		Controller: session.New(api, repositoryID, opts, log),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		repo, err := api.Repository(gctx, repositoryID)
		if err != nil {
			log.Warn("failed to fetch repository", zap.String("repository_id", repositoryID), zap.Error(err))
			return nil
		}
		v.Repository = repo
		v.Header = Header(repo)
		return nil
	})

	g.Go(func() error {
		summaries, err := api.Summaries(gctx)
		if err != nil {
			log.Warn("failed to fetch chat summaries", zap.Error(err))
			return nil
		}
		v.Sidebar = Sidebar(summaries)
		return nil
	})

	g.Go(func() error {
		if conversationID == "" {
			v.Controller.NewConversation()
			return nil
		}
		return v.Controller.Open(gctx, conversationID)
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return v, nil
}

// Header renders the repository header line.
func Header(repo *model.Repository) string {
	if repo == nil || repo.Name == "" {
		return DefaultHeader
	}
	if repo.Owner == "" {
		return repo.Name
	}
	return repo.Owner + "/" + repo.Name
}

// Sidebar turns summaries into entries, most recently updated first.
func Sidebar(summaries []model.ChatSummary) []SidebarEntry {
	sorted := slices.Clone(summaries)
	slices.SortStableFunc(sorted, func(a, b model.ChatSummary) int {
		return cmp.Compare(b.UpdatedAt.UnixNano(), a.UpdatedAt.UnixNano())
	})

	entries := make([]SidebarEntry, 0, len(sorted))
	for _, s := range sorted {
		entries = append(entries, SidebarEntry{ConversationID: s.ID, Label: s.Label()})
	}
	return entries
}
