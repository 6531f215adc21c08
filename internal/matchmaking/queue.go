// Package matchmaking holds the FIFO pairing queue. A single worker
// goroutine owns the line; enqueue and cancel arrive over a bounded
// channel and a sweep expires entries whose connection never came back.
package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"towerlords/game"
	"towerlords/internal/store"
)

// Starter seats a popped pair. The match registry satisfies it through a
// one-line adapter, which keeps this package off the runner types.
type Starter func(a, b game.PlayerSpec) error

var (
	ErrQueueFull   = errors.New("matchmaking: queue full")
	ErrUnknownDeck = errors.New("matchmaking: unknown deck")
	ErrClosed      = errors.New("matchmaking: queue closed")
)

// DefaultDeckID is used when MATCHMAKING_START carries no deck.
const DefaultDeckID = "starter"

const (
	requestBuffer   = 64
	defaultTTL      = 10 * time.Second
	defaultCapacity = 256
	sweepInterval   = time.Second
)

type entry struct {
	spec       game.PlayerSpec
	enqueuedAt time.Time
	lastSeen   time.Time
	gone       bool
}

type reqKind int

const (
	reqEnqueue reqKind = iota
	reqCancel
)

type request struct {
	kind   reqKind
	entry  *entry
	userID uint64
	reply  chan error
}

type Config struct {
	// TTL is how long a disconnected player keeps their spot.
	TTL      time.Duration
	Capacity int
}

// Queue pairs waiting players strictly in arrival order. The worker is
// the only mutator; the mutex exists for presence reads from the outside.
type Queue struct {
	mu      sync.RWMutex
	waiting []*entry
	index   map[uint64]*entry

	requests chan request
	done     chan struct{}
	stopOnce sync.Once

	start    Starter
	decks    store.Store
	ttl      time.Duration
	capacity int
	log      *zap.Logger
}

func New(cfg Config, decks store.Store, start Starter, log *zap.Logger) *Queue {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultCapacity
	}
	q := &Queue{
		index:    make(map[uint64]*entry),
		requests: make(chan request, requestBuffer),
		done:     make(chan struct{}),
		start:    start,
		decks:    decks,
		ttl:      cfg.TTL,
		capacity: cfg.Capacity,
		log:      log,
	}
	go q.run()
	return q
}

// Enqueue puts a player in line. An empty deck id means the starter
// deck; an already-waiting player keeps their spot and only refreshes
// the deck choice.
func (q *Queue) Enqueue(ctx context.Context, userID uint64, username, deckID string) error {
	if deckID == "" {
		deckID = DefaultDeckID
	}
	deck, err := q.decks.DeckByID(ctx, deckID)
	if err != nil {
		return fmt.Errorf("resolve deck: %w", err)
	}
	if deck == nil {
		return fmt.Errorf("%w: %s", ErrUnknownDeck, deckID)
	}
	now := time.Now()
	e := &entry{
		spec: game.PlayerSpec{
			UserID:   userID,
			Username: username,
			DeckID:   deckID,
			Deck:     deck.Cards,
		},
		enqueuedAt: now,
		lastSeen:   now,
	}
	return q.submit(ctx, request{kind: reqEnqueue, entry: e})
}

// Cancel removes a player's entry. Cancelling a player who is not
// waiting is a no-op.
func (q *Queue) Cancel(ctx context.Context, userID uint64) error {
	return q.submit(ctx, request{kind: reqCancel, userID: userID})
}

func (q *Queue) submit(ctx context.Context, req request) error {
	req.reply = make(chan error, 1)
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.requests <- req:
	default:
		// The worker is not keeping up; shed load instead of queueing
		// unbounded goroutines behind it.
		return ErrQueueFull
	}
	select {
	case err := <-req.reply:
		return err
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MarkGone stamps a disconnect. The entry keeps its spot until the ttl
// sweep takes it.
func (q *Queue) MarkGone(userID uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.index[userID]; ok {
		e.gone = true
		e.lastSeen = time.Now()
	}
}

// MarkSeen clears a disconnect mark after a reconnect.
func (q *Queue) MarkSeen(userID uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.index[userID]; ok {
		e.gone = false
		e.lastSeen = time.Now()
	}
}

// Waiting reports whether a player currently holds a spot in line.
func (q *Queue) Waiting(userID uint64) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	_, ok := q.index[userID]
	return ok
}

func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.waiting)
}

func (q *Queue) Close() {
	q.stopOnce.Do(func() { close(q.done) })
}

func (q *Queue) run() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case req := <-q.requests:
			err := q.handle(req)
			// Pair before acking so a caller returning from Enqueue
			// observes any match their entry completed.
			q.pair()
			req.reply <- err
		case <-ticker.C:
			q.sweep(time.Now())
			q.pair()
		case <-q.done:
			return
		}
	}
}

func (q *Queue) handle(req request) error {
	switch req.kind {
	case reqEnqueue:
		return q.add(req.entry)
	case reqCancel:
		q.remove(req.userID)
		return nil
	default:
		return fmt.Errorf("unknown request kind %d", req.kind)
	}
}

func (q *Queue) add(e *entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if cur, ok := q.index[e.spec.UserID]; ok {
		cur.spec = e.spec
		cur.lastSeen = e.lastSeen
		cur.gone = false
		return nil
	}
	if len(q.waiting) >= q.capacity {
		return ErrQueueFull
	}
	q.waiting = append(q.waiting, e)
	q.index[e.spec.UserID] = e
	return nil
}

func (q *Queue) remove(userID uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.index[userID]; !ok {
		return
	}
	delete(q.index, userID)
	for i, e := range q.waiting {
		if e.spec.UserID == userID {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			break
		}
	}
}

// sweep drops entries whose connection stayed gone past the ttl. A
// reconnect inside the window keeps the original position.
func (q *Queue) sweep(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.waiting[:0]
	for _, e := range q.waiting {
		if e.gone && now.Sub(e.lastSeen) > q.ttl {
			delete(q.index, e.spec.UserID)
			q.log.Info("queue entry expired",
				zap.Uint64("userId", e.spec.UserID),
				zap.Duration("waited", now.Sub(e.enqueuedAt)))
			continue
		}
		kept = append(kept, e)
	}
	q.waiting = kept
}

// pair pops the first two connected entries and seats them. Disconnected
// entries are skipped, not jumped: they keep their place in line until
// the sweep takes them or their owner returns.
func (q *Queue) pair() {
	for {
		a, b, ok := q.popPair()
		if !ok {
			return
		}
		if err := q.start(a.spec, b.spec); err != nil {
			q.log.Error("match start failed, requeueing pair",
				zap.Uint64("userA", a.spec.UserID),
				zap.Uint64("userB", b.spec.UserID),
				zap.Error(err))
			q.pushFront(a, b)
			return
		}
		q.log.Info("pair matched",
			zap.Uint64("userA", a.spec.UserID),
			zap.Uint64("userB", b.spec.UserID),
			zap.Int("stillWaiting", q.Len()))
	}
}

func (q *Queue) popPair() (a, b *entry, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	live := make([]int, 0, 2)
	for i, e := range q.waiting {
		if e.gone {
			continue
		}
		live = append(live, i)
		if len(live) == 2 {
			break
		}
	}
	if len(live) < 2 {
		return nil, nil, false
	}
	a, b = q.waiting[live[0]], q.waiting[live[1]]
	// Drop the later index first so the earlier one stays valid.
	q.waiting = append(q.waiting[:live[1]], q.waiting[live[1]+1:]...)
	q.waiting = append(q.waiting[:live[0]], q.waiting[live[0]+1:]...)
	delete(q.index, a.spec.UserID)
	delete(q.index, b.spec.UserID)
	return a, b, true
}

func (q *Queue) pushFront(a, b *entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.waiting = append([]*entry{a, b}, q.waiting...)
	q.index[a.spec.UserID] = a
	q.index[b.spec.UserID] = b
}
