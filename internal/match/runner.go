// Package match runs live matches. Each match gets one actor goroutine
// fed by a bounded command channel; a registry indexes the actors and a
// janitor sweeps out finished and abandoned ones.
package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"towerlords/game"
	"towerlords/internal/store"
	"towerlords/internal/wire"
	"towerlords/playback"
)

// Sender fans frames out to connected clients. The gateway hub satisfies
// it; tests plug in a recorder.
type Sender interface {
	Publish(room string, data []byte)
	ToUser(userID uint64, data []byte)
}

// ErrClosed means the actor already shut down; callers should treat the
// match as gone and re-resolve it through the registry.
var ErrClosed = errors.New("match: runner closed")

// ActionType enumerates everything a client can ask a live match to do.
type ActionType int

const (
	ActionJoin ActionType = iota
	ActionStateRequest
	ActionReadyConfirm
	ActionShopReroll
	ActionShopBuy
	ActionBoardPlace
	ActionBoardSell
	ActionTowerUpgrade
	ActionEndRound
	ActionForfeit
	ActionBattleDone

	// actionTimeout force-finishes an abandoned match. Only the janitor
	// submits it, through the same channel so it serializes with play.
	actionTimeout
)

// Action is one message to the match actor. Response carries the verdict
// back to the submitter and must be buffered so an abandoned wait does
// not wedge the actor.
type Action struct {
	Type       ActionType
	UserID     uint64
	CardID     string
	HandIndex  int
	BoardIndex int
	Round      int
	Response   chan error
}

const (
	commandBuffer = 256
	tickInterval  = 200 * time.Millisecond
)

// Runner owns one live match. The run goroutine is the only writer of
// match state; the mutex covers the bookkeeping fields read from outside
// (janitor, presence lookups).
type Runner struct {
	ID string

	mu           sync.RWMutex
	closed       bool
	lastActivity time.Time
	playbackAck  map[uint64]int

	game      *game.Match
	commands  chan Action
	done      chan struct{}
	stopOnce  sync.Once
	sender    Sender
	persister *store.Persister
	log       *zap.Logger
}

func newRunner(m *game.Match, sender Sender, persister *store.Persister, log *zap.Logger) *Runner {
	r := &Runner{
		ID:           m.ID,
		lastActivity: time.Now(),
		playbackAck:  make(map[uint64]int),
		game:         m,
		commands:     make(chan Action, commandBuffer),
		done:         make(chan struct{}),
		sender:       sender,
		persister:    persister,
		log:          log.With(zap.String("matchId", m.ID)),
	}
	go r.run()
	return r
}

// Submit routes one action through the actor and waits for its verdict.
// The context bounds the wait end to end; the gateway maps a deadline to
// a timeout error frame.
func (r *Runner) Submit(ctx context.Context, a Action) error {
	if a.Response == nil {
		a.Response = make(chan error, 1)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.isClosed() {
		return ErrClosed
	}
	select {
	case r.commands <- a:
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-a.Response:
		return err
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop halts the actor. Safe to call more than once.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.stopOnce.Do(func() { close(r.done) })
}

func (r *Runner) run() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case a := <-r.commands:
			err := r.handle(a)
			if a.Response != nil {
				a.Response <- err
			}
		case <-ticker.C:
			r.tick()
		case <-r.done:
			return
		}
	}
}

// tick fires the shop deadline. ResolveCombat rejects stale fires on its
// own, so racing a player's early end is harmless.
func (r *Runner) tick() {
	if r.isClosed() {
		return
	}
	now := time.Now()
	if r.game.Phase() == game.PhaseShop && r.game.DeadlineExpired(now) {
		r.resolveCombat(now)
	}
}

func (r *Runner) handle(a Action) error {
	if r.isClosed() {
		return ErrClosed
	}
	r.touch()
	switch a.Type {
	case ActionJoin, ActionStateRequest, ActionReadyConfirm:
		// Join after creation is readmission: reconnecting clients get a
		// fresh snapshot and nothing else changes.
		if !r.game.HasPlayer(a.UserID) {
			return game.ErrNotAPlayer
		}
		r.sendState(a.UserID)
		return nil

	case ActionShopReroll:
		if err := r.game.ShopReroll(a.UserID); err != nil {
			return err
		}
		r.broadcastState()
		return nil

	case ActionShopBuy:
		if err := r.game.ShopBuy(a.UserID, a.CardID); err != nil {
			return err
		}
		r.broadcastState()
		return nil

	case ActionBoardPlace:
		merge, err := r.game.BoardPlace(a.UserID, a.HandIndex, a.BoardIndex)
		if err != nil {
			return err
		}
		if merge != nil {
			// Boards are hidden until combat, so only the acting player
			// learns the merge layout.
			r.sender.ToUser(a.UserID, wire.Marshal(wire.NewBoardMerge(r.ID, *merge)))
		}
		r.broadcastState()
		return nil

	case ActionBoardSell:
		if err := r.game.BoardSell(a.UserID, a.BoardIndex); err != nil {
			return err
		}
		r.broadcastState()
		return nil

	case ActionTowerUpgrade:
		if err := r.game.TowerUpgrade(a.UserID); err != nil {
			return err
		}
		r.broadcastState()
		return nil

	case ActionEndRound:
		if err := r.game.EndRound(a.UserID, a.Round); err != nil {
			return err
		}
		// One player ending the round is enough; the shop closes for both.
		r.resolveCombat(time.Now())
		return nil

	case ActionForfeit:
		if err := r.game.Forfeit(a.UserID); err != nil {
			return err
		}
		r.sender.Publish(wire.MatchRoom(r.ID), wire.Marshal(wire.NewMatchForfeitInfo(r.ID, a.UserID)))
		r.broadcastState()
		r.finish()
		return nil

	case ActionBattleDone:
		if !r.game.HasPlayer(a.UserID) {
			return game.ErrNotAPlayer
		}
		r.markPlaybackAck(a.UserID, a.Round)
		return nil

	case actionTimeout:
		if err := r.game.Timeout(); err != nil {
			return err
		}
		r.broadcastState()
		r.finish()
		return nil

	default:
		return fmt.Errorf("unknown action type %d", a.Type)
	}
}

// resolveCombat runs the battle and walks the round boundary: the tape
// goes out first, then the round marker, then fresh per-player states.
func (r *Runner) resolveCombat(now time.Time) {
	out, err := r.game.ResolveCombat(now)
	if err != nil {
		// A forfeit can settle the match between the deadline check and
		// here; a stale fire is not an error.
		r.log.Debug("combat resolution skipped", zap.Error(err))
		return
	}
	update := wire.NewMatchBattleUpdate(r.ID, out.BattleVersion, out.Round,
		playback.FromBattle(out.Result),
		wire.PostHp{A: out.Result.ATowerHp, B: out.Result.BTowerHp})
	r.sender.Publish(wire.MatchRoom(r.ID), wire.Marshal(update))
	r.sender.Publish(wire.MatchRoom(r.ID), wire.Marshal(
		wire.NewMatchRoundEnd(r.ID, out.Round, r.game.Phase().String())))
	r.broadcastState()
	if out.Finished {
		r.finish()
	}
}

// finish hands the final artifact to the persister. The runner stays
// registered through the grace window so late reconnects still get the
// closing snapshot; the janitor evicts it afterwards.
func (r *Runner) finish() {
	res := r.buildResult()
	r.persister.Persist(res)
	r.log.Info("match finished",
		zap.Uint64("winnerId", res.WinnerID),
		zap.Int("rounds", len(res.Rounds)))
}

func (r *Runner) buildResult() *store.StoredMatchResult {
	history := r.game.History()
	rounds := make([]store.StoredRound, 0, len(history))
	for _, rec := range history {
		rounds = append(rounds, store.StoredRound{
			Round:   rec.Round,
			Summary: rec.Summary,
			State:   rec.State,
			Replay:  playback.FromBattle(rec.Battle),
		})
	}
	return &store.StoredMatchResult{
		MatchID:    r.ID,
		CreatedAt:  r.game.CreatedAt().UnixMilli(),
		FinishedAt: r.game.FinishedAt().UnixMilli(),
		WinnerID:   r.game.WinnerID(),
		Rounds:     rounds,
		Players:    r.game.PlayerResults(),
	}
}

// broadcastState sends each player their own redacted snapshot.
func (r *Runner) broadcastState() {
	for _, uid := range r.game.PlayerIDs() {
		r.sendState(uid)
	}
}

func (r *Runner) sendState(userID uint64) {
	r.sender.ToUser(userID, wire.Marshal(wire.NewMatchState(r.game.SnapshotFor(userID))))
}

func (r *Runner) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Runner) touch() {
	r.mu.Lock()
	r.lastActivity = time.Now()
	r.mu.Unlock()
}

func (r *Runner) markPlaybackAck(userID uint64, round int) {
	r.mu.Lock()
	if round > r.playbackAck[userID] {
		r.playbackAck[userID] = round
	}
	r.mu.Unlock()
}

// PlaybackAck reports the last round a player confirmed playing back.
func (r *Runner) PlaybackAck(userID uint64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.playbackAck[userID]
}

// IdleFor reports whether no player action arrived for at least ttl.
func (r *Runner) IdleFor(ttl time.Duration, now time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return now.Sub(r.lastActivity) >= ttl
}

func (r *Runner) HasPlayer(userID uint64) bool { return r.game.HasPlayer(userID) }
func (r *Runner) Finished() bool               { return r.game.Finished() }
func (r *Runner) FinishedAt() time.Time        { return r.game.FinishedAt() }
func (r *Runner) Phase() string                { return r.game.Phase().String() }
func (r *Runner) Round() int                   { return r.game.Round() }
