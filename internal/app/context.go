package app

import (
	"context"
	"errors"
	"fmt"

	"stageline/internal/repo"
)

// ResolveProject picks the active project for a CLI command: the explicit
// override wins, otherwise a single-project workspace supplies its one
// project. Anything else needs --project.
func ResolveProject(ctx context.Context, projectOverride string, r repo.Repo) (string, error) {
	if projectOverride != "" {
		if _, err := r.GetProject(ctx, projectOverride); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return "", fmt.Errorf("project %q not found", projectOverride)
			}
			return "", err
		}
		return projectOverride, nil
	}
	p, err := r.SingleProject(ctx)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", fmt.Errorf("project not specified; use --project")
		}
		return "", err
	}
	return p.ID, nil
}
