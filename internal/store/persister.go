package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	persistAttempts   = 10
	persistBackoff    = time.Second
	persistBackoffCap = 30 * time.Second
	persistRetryOp    = 10 * time.Second
)

// Persister writes finished matches without ever blocking the match
// loop on the repository. The synchronous attempt is bounded by a soft
// deadline; on failure the write moves to a retry goroutine with
// exponential backoff while the match keeps its in-memory copy.
type Persister struct {
	store Store
	log   *zap.Logger
	soft  time.Duration

	backoff    time.Duration
	maxBackoff time.Duration
	attempts   int

	wg sync.WaitGroup
}

func NewPersister(store Store, soft time.Duration, log *zap.Logger) *Persister {
	if soft <= 0 {
		soft = 500 * time.Millisecond
	}
	return &Persister{
		store:      store,
		log:        log,
		soft:       soft,
		backoff:    persistBackoff,
		maxBackoff: persistBackoffCap,
		attempts:   persistAttempts,
	}
}

// Persist marks the match record finished and writes the result blob.
// Both writes are idempotent upserts, so a retry after a partial
// failure is safe.
func (p *Persister) Persist(res *StoredMatchResult) {
	ctx, cancel := context.WithTimeout(context.Background(), p.soft)
	err := p.write(ctx, res)
	cancel()
	if err == nil {
		return
	}
	p.log.Warn("match result write failed, retrying in background",
		zap.String("matchId", res.MatchID), zap.Error(err))
	p.wg.Add(1)
	go p.retry(res)
}

func (p *Persister) write(ctx context.Context, res *StoredMatchResult) error {
	if err := p.store.FinishMatch(ctx, res.MatchID, res.FinishedAt, res.WinnerID); err != nil {
		return err
	}
	return p.store.SaveResult(ctx, res)
}

func (p *Persister) retry(res *StoredMatchResult) {
	defer p.wg.Done()
	delay := p.backoff
	for attempt := 1; attempt <= p.attempts; attempt++ {
		time.Sleep(delay)
		ctx, cancel := context.WithTimeout(context.Background(), persistRetryOp)
		err := p.write(ctx, res)
		cancel()
		if err == nil {
			p.log.Info("match result persisted after retry",
				zap.String("matchId", res.MatchID), zap.Int("attempt", attempt))
			return
		}
		p.log.Warn("match result write failed",
			zap.String("matchId", res.MatchID), zap.Int("attempt", attempt), zap.Error(err))
		delay *= 2
		if delay > p.maxBackoff {
			delay = p.maxBackoff
		}
	}
	p.log.Error("match result dropped after retries", zap.String("matchId", res.MatchID))
}

// Wait blocks until in-flight retries drain. Shutdown calls it so a
// finished match does not vanish with the process.
func (p *Persister) Wait() {
	p.wg.Wait()
}
