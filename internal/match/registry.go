package match

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"towerlords/cards"
	"towerlords/game"
	"towerlords/internal/store"
	"towerlords/internal/wire"
)

const (
	defaultFinishedGrace = time.Minute
	defaultIdleTTL       = 10 * time.Minute
	janitorInterval      = 5 * time.Second
	recordWriteTimeout   = 5 * time.Second
)

// RegistryConfig carries the knobs the registry cannot default sensibly
// on its own.
type RegistryConfig struct {
	Rules   game.Rules
	Catalog *cards.Catalog

	// FinishedGrace keeps a settled match around for reconnects before
	// the janitor drops it. IdleTTL times out matches nobody is playing.
	FinishedGrace time.Duration
	IdleTTL       time.Duration

	// OnEvict runs after a match leaves the registry, outside its lock.
	// The server tears down the match chat room here.
	OnEvict func(matchID string)
}

// Registry is the process-wide index of live matches.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]*Runner

	rules         game.Rules
	catalog       *cards.Catalog
	sender        Sender
	persister     *store.Persister
	records       store.Store
	log           *zap.Logger
	finishedGrace time.Duration
	idleTTL       time.Duration
	onEvict       func(matchID string)

	done     chan struct{}
	stopOnce sync.Once
}

func NewRegistry(cfg RegistryConfig, sender Sender, persister *store.Persister, records store.Store, log *zap.Logger) *Registry {
	if cfg.FinishedGrace <= 0 {
		cfg.FinishedGrace = defaultFinishedGrace
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = defaultIdleTTL
	}
	reg := &Registry{
		runners:       make(map[string]*Runner),
		rules:         cfg.Rules,
		catalog:       cfg.Catalog,
		sender:        sender,
		persister:     persister,
		records:       records,
		log:           log,
		finishedGrace: cfg.FinishedGrace,
		idleTTL:       cfg.IdleTTL,
		onEvict:       cfg.OnEvict,
		done:          make(chan struct{}),
	}
	go reg.janitor()
	return reg
}

// Create seats two players in a fresh match, announces it to both user
// rooms and pushes the opening snapshots. Joins after this point are
// readmission only.
func (reg *Registry) Create(a, b game.PlayerSpec) (*Runner, error) {
	matchID := uuid.NewString()
	m, err := game.NewMatch(matchID, reg.rules, reg.catalog, a, b)
	if err != nil {
		return nil, err
	}
	if err := m.Start(time.Now()); err != nil {
		return nil, err
	}
	r := newRunner(m, reg.sender, reg.persister, reg.log)

	reg.mu.Lock()
	reg.runners[matchID] = r
	reg.mu.Unlock()

	// Record the pairing for history listings. A down repository must not
	// block play, so this runs off to the side and only logs.
	rec := store.MatchRecord{
		MatchID:   matchID,
		Status:    store.MatchRunning,
		CreatedAt: m.CreatedAt().UnixMilli(),
		Players: []store.MatchPlayer{
			{UserID: a.UserID, Username: a.Username},
			{UserID: b.UserID, Username: b.Username},
		},
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordWriteTimeout)
		defer cancel()
		if err := reg.records.CreateMatch(ctx, rec); err != nil {
			reg.log.Warn("match record write failed",
				zap.String("matchId", matchID), zap.Error(err))
		}
	}()

	joined := wire.Marshal(wire.NewMatchJoined(matchID))
	for _, uid := range m.PlayerIDs() {
		reg.sender.ToUser(uid, joined)
	}
	r.broadcastState()

	reg.log.Info("match created",
		zap.String("matchId", matchID),
		zap.Uint64("userA", a.UserID),
		zap.Uint64("userB", b.UserID),
		zap.Int64("seed", m.Seed()))
	return r, nil
}

func (reg *Registry) Lookup(matchID string) (*Runner, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.runners[matchID]
	return r, ok
}

// FindByUser returns the match a player is seated in. During the grace
// window a player can appear in a settled match and a fresh one; the
// live one wins.
func (reg *Registry) FindByUser(userID uint64) (*Runner, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	var found *Runner
	for _, r := range reg.runners {
		if !r.HasPlayer(userID) {
			continue
		}
		if found == nil || (!r.Finished() && found.Finished()) {
			found = r
		}
	}
	return found, found != nil
}

func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.runners)
}

// Terminate stops a runner and drops it from the index.
func (reg *Registry) Terminate(matchID string) {
	reg.mu.Lock()
	r, ok := reg.runners[matchID]
	if ok {
		delete(reg.runners, matchID)
	}
	reg.mu.Unlock()
	if !ok {
		return
	}
	r.Stop()
	if reg.onEvict != nil {
		reg.onEvict(matchID)
	}
	reg.log.Info("match evicted", zap.String("matchId", matchID))
}

// Close stops the janitor and every runner. Shutdown path; eviction
// hooks do not fire.
func (reg *Registry) Close() {
	reg.stopOnce.Do(func() { close(reg.done) })
	reg.mu.Lock()
	runners := reg.runners
	reg.runners = make(map[string]*Runner)
	reg.mu.Unlock()
	for _, r := range runners {
		r.Stop()
	}
}

func (reg *Registry) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			reg.sweep(time.Now())
		case <-reg.done:
			return
		}
	}
}

// sweep evicts settled matches past their grace window and times out
// matches nobody has touched. Timeout goes through the actor like any
// other action, so it cannot race a live forfeit or deadline fire.
func (reg *Registry) sweep(now time.Time) {
	reg.mu.RLock()
	runners := make([]*Runner, 0, len(reg.runners))
	for _, r := range reg.runners {
		runners = append(runners, r)
	}
	reg.mu.RUnlock()

	for _, r := range runners {
		if r.Finished() {
			if now.Sub(r.FinishedAt()) >= reg.finishedGrace {
				reg.Terminate(r.ID)
			}
			continue
		}
		if r.IdleFor(reg.idleTTL, now) {
			reg.log.Info("timing out abandoned match", zap.String("matchId", r.ID))
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := r.Submit(ctx, Action{Type: actionTimeout}); err != nil {
				reg.log.Warn("match timeout failed", zap.String("matchId", r.ID), zap.Error(err))
			}
			cancel()
		}
	}
}
