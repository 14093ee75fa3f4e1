package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cogniledger/internal/config"
	"cogniledger/internal/domain"
	"cogniledger/internal/repo"
)

// ResolveScopeAndConfig picks the active scope and ensures a scope + config
// exist in DB, seeding defaults if missing. It prefers overrides, then
// single-scope DB. If the scope does not exist, it is created on the fly.
func ResolveScopeAndConfig(ctx context.Context, workspace, scopeOverride, actorID string, r repo.Repo) (string, *config.Config, error) {
	scopeID := scopeOverride
	if scopeID == "" {
		if s, err := r.SingleScope(ctx); err == nil {
			scopeID = s.ID
		} else {
			return "", nil, fmt.Errorf("scope not specified; use --scope")
		}
	}
	seedCfg := config.Default(scopeID)

	if _, err := r.GetScope(ctx, scopeID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createScope(ctx, r, scopeID, seedCfg, actorID); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetScopeConfig(ctx, scopeID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertScopeConfig(ctx, scopeID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed scope config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Scope.ID = scopeID
	return scopeID, cfg, nil
}

// createScope inserts a minimal scope footprint and grants the acting issuer
// the approver role.
func createScope(ctx context.Context, r repo.Repo, scopeID string, seedCfg *config.Config, actorID string) error {
	if seedCfg == nil {
		seedCfg = config.Default(scopeID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	s := domain.Scope{
		ID:        scopeID,
		Status:    "active",
		CreatedAt: now,
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO scopes(id,status,description,created_at) VALUES (?,?,?,?)`,
		s.ID, s.Status, s.Description, s.CreatedAt); err != nil {
		return fmt.Errorf("insert scope: %w", err)
	}
	if err := r.UpsertScopeConfigTx(ctx, tx, scopeID, seedCfg); err != nil {
		return fmt.Errorf("insert scope config: %w", err)
	}
	if actorID == "" {
		actorID = "local-user"
	}
	if err := r.GrantRoleTx(ctx, tx, scopeID, actorID, domain.RoleApprover, now); err != nil {
		return fmt.Errorf("grant approver: %w", err)
	}
	return tx.Commit()
}
