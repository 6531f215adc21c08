package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"towerlords/cards"
	"towerlords/game"
	"towerlords/internal/auth"
	"towerlords/internal/chat"
	"towerlords/internal/config"
	"towerlords/internal/gateway"
	"towerlords/internal/lobby"
	"towerlords/internal/match"
	"towerlords/internal/matchmaking"
	"towerlords/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "config/towerlords.toml", "path to the TOML config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, storeMode, err := store.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer st.Close()

	authSvc, authMode, err := auth.NewService(cfg.Storage)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}
	defer authSvc.Close()

	persister := store.NewPersister(st, time.Duration(cfg.Match.PersistSoftMs)*time.Millisecond, log)
	hub := gateway.NewHub(log)
	chatSvc := chat.New(cfg.Chat, st, log)
	catalog := cards.Builtin()

	registry := match.NewRegistry(match.RegistryConfig{
		Rules:         cfg.Rules(),
		Catalog:       catalog,
		FinishedGrace: time.Duration(cfg.Match.FinishedGraceMs) * time.Millisecond,
		IdleTTL:       time.Duration(cfg.Match.IdleMatchMs) * time.Millisecond,
		OnEvict:       chatSvc.Drop,
	}, hub, persister, st, log)

	queue := matchmaking.New(matchmaking.Config{
		TTL:      time.Duration(cfg.Matchmaking.QueueTtlMs) * time.Millisecond,
		Capacity: cfg.Matchmaking.QueueCap,
	}, st, func(a, b game.PlayerSpec) error {
		_, err := registry.Create(a, b)
		return err
	}, log)

	lobbies := lobby.NewManager(hub, st, func(a, b game.PlayerSpec) (string, error) {
		r, err := registry.Create(a, b)
		if err != nil {
			return "", err
		}
		return r.ID, nil
	}, log)

	gw := gateway.NewServer(cfg.Gateway, cfg.Features, hub, gateway.Deps{
		Auth:     authSvc,
		Registry: registry,
		Queue:    queue,
		Lobbies:  lobbies,
		Chat:     chatSvc,
	}, log)

	// /me presence: point a reconnecting client back at its match or lobby.
	presence := func(userID uint64) auth.Presence {
		if r, ok := registry.FindByUser(userID); ok {
			return auth.Presence{MatchID: r.ID, MatchStatus: r.Phase()}
		}
		if info, ok := lobbies.FindByUser(userID); ok {
			return auth.Presence{Lobby: info}
		}
		return auth.Presence{}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.HandleWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	auth.NewHTTPHandler(authSvc, presence).RegisterRoutes(mux)
	store.NewHTTPHandler(st, catalog, log).RegisterRoutes(mux)
	lobby.NewHTTPHandler(lobbies, authSvc).RegisterRoutes(mux)

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	log.Info("server started",
		zap.String("addr", cfg.Server.Addr),
		zap.String("authMode", authMode),
		zap.String("storeMode", storeMode))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	}

	// Stop intake first, then sockets, then runners, then flush results.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	hub.CloseAll("server shutting down")
	queue.Close()
	registry.Close()
	persister.Wait()

	log.Info("server stopped")
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
