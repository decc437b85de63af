// Package tools provides MCP tool handlers and registration.
package tools

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/mkarlsen/repochat/internal/api"
	"github.com/mkarlsen/repochat/internal/models"
	"github.com/mkarlsen/repochat/internal/store"
)

// Dependencies holds shared services for tool handlers.
// Passed to handler factories via closure capture.
type Dependencies struct {
	API    *api.Client
	Store  *store.Store
	Logger *slog.Logger
}

// resolveRepo turns a repository reference (ID, name, or GitHub URL) into
// a known repo. References the local registry has never seen still
// resolve when they look like URLs, because the server derives repository
// IDs deterministically from the URL. Store may be nil; then only URL
// references resolve.
func (d *Dependencies) resolveRepo(ctx context.Context, ref string) (models.Repo, error) {
	if d.Store != nil {
		repo, err := d.Store.Resolve(ctx, ref)
		if err == nil {
			return repo, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return models.Repo{}, err
		}
	}
	if strings.Contains(ref, "/") {
		return models.Repo{
			ID:        models.RepoIDFromURL(ref),
			GithubURL: ref,
			Name:      models.RepoNameFromURL(ref),
		}, nil
	}
	return models.Repo{}, store.ErrNotFound
}
