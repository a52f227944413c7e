package service

import (
	"fmt"
	"strings"

	"github.com/capitalize-ai/repochat/internal/apperr"
	"github.com/capitalize-ai/repochat/internal/model"
)

// Catalog lists the processed repositories users can chat about.
type Catalog struct {
	repos []model.Repository
	byID  map[string]model.Repository
}

// ParseCatalog reads a comma separated list of "id=owner/name" or "id=name"
// entries.
func ParseCatalog(list string) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]model.Repository)}

	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		id, full, ok := strings.Cut(entry, "=")
		id, full = strings.TrimSpace(id), strings.TrimSpace(full)
		if !ok || id == "" || full == "" {
			return nil, fmt.Errorf("invalid repository entry %q", entry)
		}
		if _, dup := c.byID[id]; dup {
			return nil, fmt.Errorf("duplicate repository id %q", id)
		}

		repo := model.Repository{ID: id, Name: full}
		if owner, name, ok := strings.Cut(full, "/"); ok {
			repo.Owner, repo.Name = owner, name
		}
		c.repos = append(c.repos, repo)
		c.byID[id] = repo
	}

	return c, nil
}

// List returns every repository in declaration order.
func (c *Catalog) List() []model.Repository {
	out := make([]model.Repository, len(c.repos))
	copy(out, c.repos)
	return out
}

// Get returns the repository with the given id.
func (c *Catalog) Get(id string) (model.Repository, error) {
	repo, ok := c.byID[id]
	if !ok {
		return model.Repository{}, apperr.New(apperr.CodeNotFound, "service.Repository", fmt.Sprintf("repository %q", id))
	}
	return repo, nil
}
