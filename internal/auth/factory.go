package auth

import (
	"fmt"
	"os"
	"strings"
	"time"

	"towerlords/internal/config"
)

const (
	ModeMemory   = "memory"
	ModeSQLite   = "sqlite"
	ModePostgres = "postgres"
)

func modeFor(cfg config.StorageConfig) string {
	// AUTH_MODE lets auth diverge from match storage when needed.
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("AUTH_MODE")))
	if raw == "" {
		raw = strings.ToLower(strings.TrimSpace(cfg.Mode))
	}
	switch raw {
	case "", ModeMemory, "mem":
		return ModeMemory
	case ModeSQLite:
		return ModeSQLite
	case ModePostgres, "postgresql", "db":
		return ModePostgres
	default:
		return raw
	}
}

func sessionTTLFromEnv() time.Duration {
	raw := strings.TrimSpace(os.Getenv("AUTH_SESSION_TTL"))
	if raw == "" {
		return defaultSessionTTL
	}
	ttl, err := time.ParseDuration(raw)
	if err != nil || ttl <= 0 {
		return defaultSessionTTL
	}
	return ttl
}

// NewService builds the auth backend for the configured storage mode.
func NewService(cfg config.StorageConfig) (Service, string, error) {
	mode := modeFor(cfg)

	switch mode {
	case ModeMemory:
		return NewManager(), mode, nil
	case ModeSQLite:
		manager, err := NewSQLiteManager(cfg.Path, sessionTTLFromEnv())
		if err != nil {
			return nil, mode, err
		}
		return manager, mode, nil
	case ModePostgres:
		manager, err := NewPostgresManager(cfg.DSN, sessionTTLFromEnv())
		if err != nil {
			return nil, mode, err
		}
		return manager, mode, nil
	default:
		return nil, mode, fmt.Errorf("invalid auth mode %q (supported: %s, %s, %s)",
			mode, ModeMemory, ModeSQLite, ModePostgres)
	}
}
