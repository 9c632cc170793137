package app

import (
	"context"
	"errors"
	"fmt"

	"strategist/internal/config"
	"strategist/internal/repo"
)

// ResolveUserAndConfig picks the active user and ensures a config exists in
// the DB, seeding defaults if missing. It prefers the override, then the
// workspace YAML, then a single-user DB.
func ResolveUserAndConfig(ctx context.Context, workspace, userOverride string, r repo.Repo) (string, *config.Config, error) {
	userID := userOverride
	fileCfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, err
	}
	if userID == "" && fileCfg != nil {
		userID = fileCfg.User.ID
	}
	if userID == "" {
		if id, err := r.SingleConfiguredUser(ctx); err == nil {
			userID = id
		} else if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
	}
	if userID == "" {
		return "", nil, fmt.Errorf("user not specified; use --user or set user.id in %s", config.Path(workspace))
	}

	cfg, err := r.GetUserConfig(ctx, userID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		seed := fileCfg
		if seed == nil || seed.User.ID != userID {
			seed = config.Default(userID)
		}
		if err := r.UpsertUserConfig(ctx, userID, seed); err != nil {
			return "", nil, fmt.Errorf("seed user config: %w", err)
		}
		cfg = seed
	}
	cfg.User.ID = userID
	return userID, cfg, nil
}
