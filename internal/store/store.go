// Package store is the repository layer: decks, lobby snapshots, match
// records, finished results and chat logs. Account storage lives in
// internal/auth, which carries its own backends; the postgres schema for
// both packages is owned by this package's migrations.
package store

import (
	"context"

	"towerlords/cards"
	"towerlords/game"
	"towerlords/internal/wire"
	"towerlords/playback"
)

// Match record statuses.
const (
	MatchRunning  = "running"
	MatchFinished = "finished"
)

// defaultListLimit bounds listing queries when the caller passes no
// explicit limit.
const defaultListLimit = 50

// Deck is a named draw pile a player can bring into a match.
type Deck struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Cards []string `json:"cards"`
}

// MatchPlayer identifies one seat in a match listing.
type MatchPlayer struct {
	UserID   uint64 `json:"userId"`
	Username string `json:"username"`
}

// MatchRecord is the lightweight row behind match listings. The heavy
// per-round payload lives in StoredMatchResult. Timestamps are unix ms.
type MatchRecord struct {
	MatchID    string        `json:"matchId"`
	Status     string        `json:"status"`
	Players    []MatchPlayer `json:"players"`
	CreatedAt  int64         `json:"createdAt"`
	FinishedAt int64         `json:"finishedAt,omitempty"`
	WinnerID   uint64        `json:"winnerId,omitempty"`
}

// StoredRound is one resolved combat inside a stored result. Replay is
// omitted when the caller asked for summaries only.
type StoredRound struct {
	Round   int                        `json:"round"`
	Summary [2]game.PlayerRoundSummary `json:"summary"`
	State   [2]game.PublicView         `json:"state"`
	Replay  *playback.Payload          `json:"replay,omitempty"`
}

// StoredMatchResult is the full artifact written when a match finishes.
type StoredMatchResult struct {
	MatchID    string               `json:"matchId"`
	CreatedAt  int64                `json:"createdAt"`
	FinishedAt int64                `json:"finishedAt"`
	WinnerID   uint64               `json:"winnerId"`
	Rounds     []StoredRound        `json:"rounds"`
	Players    [2]game.PlayerResult `json:"players"`
}

// Store is what the runtime persists through. Absent rows come back as
// (nil, nil); adapters keep SQL to themselves.
type Store interface {
	DeckByID(ctx context.Context, deckID string) (*Deck, error)
	ListDecks(ctx context.Context) ([]Deck, error)

	SaveLobby(ctx context.Context, lobby wire.LobbyInfo) error
	DeleteLobby(ctx context.Context, lobbyID string) error
	ListOpenLobbies(ctx context.Context) ([]wire.LobbyInfo, error)

	CreateMatch(ctx context.Context, rec MatchRecord) error
	FinishMatch(ctx context.Context, matchID string, finishedAtMs int64, winnerID uint64) error
	SaveResult(ctx context.Context, res *StoredMatchResult) error
	ResultByID(ctx context.Context, matchID string, includeReplay bool) (*StoredMatchResult, error)
	MatchesByPlayer(ctx context.Context, userID uint64, limit int) ([]MatchRecord, error)

	AppendChat(ctx context.Context, matchID string, msg wire.ChatMessage) error
	ChatHistory(ctx context.Context, matchID string, limit int) ([]wire.ChatMessage, error)

	Close() error
}

// builtinDecks are the stock decks every backend seeds so a fresh
// install can queue without deck-building.
func builtinDecks() []Deck {
	return []Deck{
		{ID: "starter", Name: "Starter", Cards: cards.StarterDeck()},
		{ID: "siege", Name: "Siege", Cards: []string{
			"goblin_raid", "goblin_raid",
			"skeleton_horde", "skeleton_horde",
			"orc_skirmishers", "orc_skirmishers",
			"knight_charge", "knight_charge",
			"ogre_warband",
			"war_horn",
			"battle_standard",
			"royal_tithe",
		}},
		{ID: "bulwark", Name: "Bulwark", Cards: []string{
			"reinforced_walls", "reinforced_walls",
			"stone_bastion", "stone_bastion",
			"watchtower_ballista", "watchtower_ballista",
			"arcane_turret",
			"goblin_raid", "goblin_raid",
			"skeleton_horde",
			"merchant_guild",
			"trade_caravan",
		}},
	}
}
