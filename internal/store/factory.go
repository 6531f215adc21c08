package store

import (
	"context"
	"fmt"
	"strings"

	"towerlords/internal/config"
)

const (
	ModeMemory   = "memory"
	ModeSQLite   = "sqlite"
	ModePostgres = "postgres"
)

func normalizeMode(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", ModeMemory, "mem":
		return ModeMemory
	case ModeSQLite, "local":
		return ModeSQLite
	case ModePostgres, "postgresql", "db":
		return ModePostgres
	default:
		return strings.ToLower(strings.TrimSpace(raw))
	}
}

// New builds the repository for the configured storage mode and returns
// the resolved mode so startup logs show what actually got wired.
func New(ctx context.Context, cfg config.StorageConfig) (Store, string, error) {
	mode := normalizeMode(cfg.Mode)

	switch mode {
	case ModeMemory:
		return NewMemory(), mode, nil
	case ModeSQLite:
		s, err := NewSQLite(cfg.Path)
		if err != nil {
			return nil, mode, err
		}
		return s, mode, nil
	case ModePostgres:
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, mode, fmt.Errorf("postgres storage needs a dsn (set [storage] dsn or DATABASE_URL)")
		}
		s, err := NewPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, mode, err
		}
		return s, mode, nil
	default:
		return nil, mode, fmt.Errorf("invalid storage mode %q (supported: %s, %s, %s)",
			mode, ModeMemory, ModeSQLite, ModePostgres)
	}
}
