package store

import (
	"context"
	"sort"
	"sync"

	"towerlords/internal/wire"
)

// Memory keeps everything in process. It backs tests and local play
// where no database is configured.
type Memory struct {
	mu      sync.RWMutex
	decks   map[string]Deck
	lobbies map[string]wire.LobbyInfo
	matches map[string]MatchRecord
	results map[string]*StoredMatchResult
	chat    map[string][]wire.ChatMessage
}

func NewMemory() *Memory {
	m := &Memory{
		decks:   make(map[string]Deck),
		lobbies: make(map[string]wire.LobbyInfo),
		matches: make(map[string]MatchRecord),
		results: make(map[string]*StoredMatchResult),
		chat:    make(map[string][]wire.ChatMessage),
	}
	for _, d := range builtinDecks() {
		m.decks[d.ID] = d
	}
	return m
}

func (m *Memory) DeckByID(_ context.Context, deckID string) (*Deck, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.decks[deckID]
	if !ok {
		return nil, nil
	}
	out := d
	out.Cards = append([]string(nil), d.Cards...)
	return &out, nil
}

func (m *Memory) ListDecks(_ context.Context) ([]Deck, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Deck, 0, len(m.decks))
	for _, d := range m.decks {
		d.Cards = append([]string(nil), d.Cards...)
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveLobby(_ context.Context, lobby wire.LobbyInfo) error {
	lobby.Players = append([]wire.LobbyPlayer(nil), lobby.Players...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lobbies[lobby.LobbyID] = lobby
	return nil
}

func (m *Memory) DeleteLobby(_ context.Context, lobbyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lobbies, lobbyID)
	return nil
}

func (m *Memory) ListOpenLobbies(_ context.Context) ([]wire.LobbyInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]wire.LobbyInfo, 0)
	for _, l := range m.lobbies {
		if l.Status != wire.LobbyOpen {
			continue
		}
		l.Players = append([]wire.LobbyPlayer(nil), l.Players...)
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	return out, nil
}

func (m *Memory) CreateMatch(_ context.Context, rec MatchRecord) error {
	rec.Players = append([]MatchPlayer(nil), rec.Players...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matches[rec.MatchID] = rec
	return nil
}

func (m *Memory) FinishMatch(_ context.Context, matchID string, finishedAtMs int64, winnerID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.matches[matchID]
	if !ok {
		return nil
	}
	rec.Status = MatchFinished
	rec.FinishedAt = finishedAtMs
	rec.WinnerID = winnerID
	m.matches[matchID] = rec
	return nil
}

func (m *Memory) SaveResult(_ context.Context, res *StoredMatchResult) error {
	cp := cloneResult(res, true)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[cp.MatchID] = cp
	return nil
}

func (m *Memory) ResultByID(_ context.Context, matchID string, includeReplay bool) (*StoredMatchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.results[matchID]
	if !ok {
		return nil, nil
	}
	return cloneResult(res, includeReplay), nil
}

func (m *Memory) MatchesByPlayer(_ context.Context, userID uint64, limit int) ([]MatchRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]MatchRecord, 0)
	for _, rec := range m.matches {
		for _, p := range rec.Players {
			if p.UserID == userID {
				rec.Players = append([]MatchPlayer(nil), rec.Players...)
				out = append(out, rec)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) AppendChat(_ context.Context, matchID string, msg wire.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chat[matchID] = append(m.chat[matchID], msg)
	return nil
}

func (m *Memory) ChatHistory(_ context.Context, matchID string, limit int) ([]wire.ChatMessage, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.chat[matchID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]wire.ChatMessage(nil), msgs...), nil
}

func (m *Memory) Close() error { return nil }

// cloneResult copies a stored result deeply enough that callers cannot
// reach back into the store's copy. Replays are dropped when the caller
// asked for summaries only.
func cloneResult(res *StoredMatchResult, includeReplay bool) *StoredMatchResult {
	cp := *res
	cp.Rounds = make([]StoredRound, len(res.Rounds))
	copy(cp.Rounds, res.Rounds)
	if !includeReplay {
		for i := range cp.Rounds {
			cp.Rounds[i].Replay = nil
		}
	}
	return &cp
}
