// Package lobby hosts private pre-match rooms: create, join by id with
// an optional code, pick decks, ready up, start. Memory is authoritative;
// the repository carries write-through snapshots for listings.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"towerlords/game"
	"towerlords/internal/store"
	"towerlords/internal/wire"
)

const maxSeats = 2

var (
	ErrNotFound     = errors.New("lobby: not found")
	ErrFull         = errors.New("lobby: full")
	ErrNotOpen      = errors.New("lobby: not open")
	ErrCodeRequired = errors.New("lobby: join code required")
	ErrNotReady     = errors.New("lobby: players not ready")
	ErrNotOwner     = errors.New("lobby: owner only")
	ErrNotMember    = errors.New("lobby: not a member")
	ErrUnknownDeck  = errors.New("lobby: unknown deck")
)

// ErrorCode maps manager errors onto protocol error codes for ERROR
// frames. HTTP handlers use statuses and plain messages instead.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrFull):
		return wire.CodeLobbyFull
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNotOpen):
		return wire.CodeLobbyNotOpen
	case errors.Is(err, ErrCodeRequired):
		return wire.CodeLobbyCodeRequired
	case errors.Is(err, ErrNotReady), errors.Is(err, ErrNotOwner):
		return wire.CodeNotReady
	case errors.Is(err, ErrNotMember):
		return wire.CodeNotAPlayer
	case errors.Is(err, ErrUnknownDeck):
		return wire.CodeBadFrame
	default:
		return wire.CodeInternal
	}
}

// Sender publishes lobby state frames. The gateway hub satisfies it.
type Sender interface {
	Publish(room string, data []byte)
}

// Starter seats both players and returns the new match id. The match
// registry satisfies it through a one-line adapter.
type Starter func(a, b game.PlayerSpec) (string, error)

type seat struct {
	userID   uint64
	username string
	deckID   string
	deck     []string
	ready    bool
}

type lobby struct {
	id        string
	ownerID   uint64
	code      string
	status    string
	seats     []*seat
	matchID   string
	createdAt time.Time
}

func (l *lobby) seatOf(userID uint64) *seat {
	for _, s := range l.seats {
		if s.userID == userID {
			return s
		}
	}
	return nil
}

func (l *lobby) info() *wire.LobbyInfo {
	players := make([]wire.LobbyPlayer, 0, len(l.seats))
	for _, s := range l.seats {
		players = append(players, wire.LobbyPlayer{
			UserID:   s.userID,
			Username: s.username,
			IsReady:  s.ready,
			DeckID:   s.deckID,
		})
	}
	return &wire.LobbyInfo{
		LobbyID:   l.id,
		Status:    l.status,
		OwnerID:   l.ownerID,
		HasCode:   l.code != "",
		Players:   players,
		MatchID:   l.matchID,
		CreatedAt: l.createdAt.UnixMilli(),
	}
}

// Manager owns every live lobby. Mutations broadcast LOBBY_STATE to the
// lobby room under the manager lock, which keeps frames in mutation
// order; repository writes happen after, off the lock.
type Manager struct {
	mu      sync.RWMutex
	lobbies map[string]*lobby

	sender Sender
	store  store.Store
	start  Starter
	log    *zap.Logger
}

func NewManager(sender Sender, st store.Store, start Starter, log *zap.Logger) *Manager {
	return &Manager{
		lobbies: make(map[string]*lobby),
		sender:  sender,
		store:   st,
		start:   start,
		log:     log,
	}
}

// Create opens a lobby with the caller as owner. A non-empty code makes
// it private: joins must present the same code.
func (m *Manager) Create(ctx context.Context, userID uint64, username, code string) (*wire.LobbyInfo, error) {
	l := &lobby{
		id:        uuid.NewString(),
		ownerID:   userID,
		code:      strings.TrimSpace(code),
		status:    wire.LobbyOpen,
		seats:     []*seat{{userID: userID, username: username}},
		createdAt: time.Now(),
	}
	m.mu.Lock()
	m.lobbies[l.id] = l
	info := l.info()
	m.mu.Unlock()

	m.save(ctx, info)
	m.log.Info("lobby created",
		zap.String("lobbyId", l.id),
		zap.Uint64("ownerId", userID),
		zap.Bool("hasCode", l.code != ""))
	return info, nil
}

func (m *Manager) Get(lobbyID string) (*wire.LobbyInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lobbies[lobbyID]
	if !ok {
		return nil, ErrNotFound
	}
	return l.info(), nil
}

// ListOpen returns joinable lobbies, newest first. Full and started
// lobbies are not joinable and stay out of the listing.
func (m *Manager) ListOpen() []wire.LobbyInfo {
	m.mu.RLock()
	out := make([]wire.LobbyInfo, 0, len(m.lobbies))
	for _, l := range m.lobbies {
		if l.status == wire.LobbyOpen {
			out = append(out, *l.info())
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out
}

// FindByUser powers /me presence: the newest lobby the user sits in.
func (m *Manager) FindByUser(userID uint64) (*wire.LobbyInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *lobby
	for _, l := range m.lobbies {
		if l.seatOf(userID) == nil {
			continue
		}
		if best == nil || l.createdAt.After(best.createdAt) {
			best = l
		}
	}
	if best == nil {
		return nil, false
	}
	return best.info(), true
}

// Member reports whether the user holds a seat; the gateway checks it
// before letting a connection subscribe to the lobby room.
func (m *Manager) Member(lobbyID string, userID uint64) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lobbies[lobbyID]
	if !ok {
		return ErrNotFound
	}
	if l.seatOf(userID) == nil {
		return ErrNotMember
	}
	return nil
}

// Join seats the caller. Rejoining an own seat is a no-op so reconnects
// are safe; the code check is server-side only.
func (m *Manager) Join(ctx context.Context, lobbyID string, userID uint64, username, code string) (*wire.LobbyInfo, error) {
	m.mu.Lock()
	l, ok := m.lobbies[lobbyID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if l.seatOf(userID) != nil {
		info := l.info()
		m.mu.Unlock()
		return info, nil
	}
	switch {
	case l.status == wire.LobbyFull:
		m.mu.Unlock()
		return nil, ErrFull
	case l.status != wire.LobbyOpen:
		m.mu.Unlock()
		return nil, ErrNotOpen
	case l.code != "" && code != l.code:
		m.mu.Unlock()
		return nil, ErrCodeRequired
	}
	l.seats = append(l.seats, &seat{userID: userID, username: username})
	if len(l.seats) == maxSeats {
		l.status = wire.LobbyFull
	}
	info := l.info()
	m.publish(lobbyID, info)
	m.mu.Unlock()

	m.save(ctx, info)
	m.log.Info("lobby joined", zap.String("lobbyId", lobbyID), zap.Uint64("userId", userID))
	return info, nil
}

// Leave vacates the caller's seat. The last player out deletes the
// lobby; an owner leaving hands the lobby to the remaining player.
func (m *Manager) Leave(ctx context.Context, lobbyID string, userID uint64) error {
	m.mu.Lock()
	l, ok := m.lobbies[lobbyID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if l.seatOf(userID) == nil {
		m.mu.Unlock()
		return ErrNotMember
	}
	for i, s := range l.seats {
		if s.userID == userID {
			l.seats = append(l.seats[:i], l.seats[i+1:]...)
			break
		}
	}
	if len(l.seats) == 0 {
		delete(m.lobbies, lobbyID)
		m.publish(lobbyID, nil)
		m.mu.Unlock()
		m.drop(ctx, lobbyID)
		m.log.Info("lobby deleted", zap.String("lobbyId", lobbyID))
		return nil
	}
	if l.ownerID == userID {
		l.ownerID = l.seats[0].userID
	}
	if l.status == wire.LobbyFull {
		l.status = wire.LobbyOpen
	}
	info := l.info()
	m.publish(lobbyID, info)
	m.mu.Unlock()

	m.save(ctx, info)
	return nil
}

// Close deletes the lobby. Owner only.
func (m *Manager) Close(ctx context.Context, lobbyID string, userID uint64) error {
	m.mu.Lock()
	l, ok := m.lobbies[lobbyID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if l.ownerID != userID {
		m.mu.Unlock()
		return ErrNotOwner
	}
	delete(m.lobbies, lobbyID)
	m.publish(lobbyID, nil)
	m.mu.Unlock()

	m.drop(ctx, lobbyID)
	m.log.Info("lobby closed", zap.String("lobbyId", lobbyID))
	return nil
}

// SetDeck picks the caller's deck. The deck must exist; its cards are
// resolved here so starting the match needs no second lookup.
func (m *Manager) SetDeck(ctx context.Context, lobbyID string, userID uint64, deckID string) (*wire.LobbyInfo, error) {
	deck, err := m.store.DeckByID(ctx, deckID)
	if err != nil {
		return nil, fmt.Errorf("resolve deck: %w", err)
	}
	if deck == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDeck, deckID)
	}

	m.mu.Lock()
	l, ok := m.lobbies[lobbyID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if l.status == wire.LobbyStarted {
		m.mu.Unlock()
		return nil, ErrNotOpen
	}
	s := l.seatOf(userID)
	if s == nil {
		m.mu.Unlock()
		return nil, ErrNotMember
	}
	s.deckID = deck.ID
	s.deck = deck.Cards
	info := l.info()
	m.publish(lobbyID, info)
	m.mu.Unlock()

	m.save(ctx, info)
	return info, nil
}

func (m *Manager) SetReady(ctx context.Context, lobbyID string, userID uint64, ready bool) (*wire.LobbyInfo, error) {
	m.mu.Lock()
	l, ok := m.lobbies[lobbyID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if l.status == wire.LobbyStarted {
		m.mu.Unlock()
		return nil, ErrNotOpen
	}
	s := l.seatOf(userID)
	if s == nil {
		m.mu.Unlock()
		return nil, ErrNotMember
	}
	s.ready = ready
	info := l.info()
	m.publish(lobbyID, info)
	m.mu.Unlock()

	m.save(ctx, info)
	return info, nil
}

// Start creates the match. Owner only; needs both seats taken, every
// player ready with a deck. The final LOBBY_STATE carries the match id,
// then the lobby is deleted — match presence takes over from here.
func (m *Manager) Start(ctx context.Context, lobbyID string, userID uint64) (*wire.LobbyInfo, error) {
	m.mu.Lock()
	l, ok := m.lobbies[lobbyID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if l.ownerID != userID {
		m.mu.Unlock()
		return nil, ErrNotOwner
	}
	if l.status == wire.LobbyStarted {
		m.mu.Unlock()
		return nil, ErrNotOpen
	}
	if len(l.seats) < maxSeats {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: waiting for an opponent", ErrNotReady)
	}
	specs := make([]game.PlayerSpec, 0, maxSeats)
	for _, s := range l.seats {
		if !s.ready || s.deckID == "" {
			m.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrNotReady, s.username)
		}
		specs = append(specs, game.PlayerSpec{
			UserID:   s.userID,
			Username: s.username,
			DeckID:   s.deckID,
			Deck:     s.deck,
		})
	}

	// Creation is in-memory work; holding the lock keeps a concurrent
	// leave or close from racing the start.
	matchID, err := m.start(specs[0], specs[1])
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("start match: %w", err)
	}
	l.status = wire.LobbyStarted
	l.matchID = matchID
	info := l.info()
	delete(m.lobbies, lobbyID)
	m.publish(lobbyID, info)
	m.mu.Unlock()

	m.drop(ctx, lobbyID)
	m.log.Info("lobby started",
		zap.String("lobbyId", lobbyID),
		zap.String("matchId", matchID))
	return info, nil
}

func (m *Manager) publish(lobbyID string, info *wire.LobbyInfo) {
	m.sender.Publish(wire.LobbyRoom(lobbyID), wire.Marshal(wire.NewLobbyState(info)))
}

// save mirrors the lobby into the repository. Memory stays
// authoritative; a failed write only logs.
func (m *Manager) save(ctx context.Context, info *wire.LobbyInfo) {
	if err := m.store.SaveLobby(ctx, *info); err != nil {
		m.log.Warn("lobby snapshot write failed",
			zap.String("lobbyId", info.LobbyID), zap.Error(err))
	}
}

func (m *Manager) drop(ctx context.Context, lobbyID string) {
	if err := m.store.DeleteLobby(ctx, lobbyID); err != nil {
		m.log.Warn("lobby snapshot delete failed",
			zap.String("lobbyId", lobbyID), zap.Error(err))
	}
}
