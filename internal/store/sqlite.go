package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"towerlords/internal/wire"
)

// SQLite persists through a single local file so a self-hosted server
// needs no database process. One writer at a time, same as the auth
// backend.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(dbPath string) (*SQLite, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("empty sqlite database path")
	}
	if dbPath != ":memory:" {
		parent := filepath.Dir(dbPath)
		if parent != "" && parent != "." {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return nil, err
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureSQLiteStoreSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLite{db: db}
	if err := s.seedDecks(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// opTimeout bounds a single repository call so a stuck disk cannot wedge
// the match loop behind it.
func opTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, 3*time.Second)
}

func (s *SQLite) DeckByID(ctx context.Context, deckID string) (*Deck, error) {
	ctx, cancel := opTimeout(ctx)
	defer cancel()

	var d Deck
	var cardsRaw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, cards FROM decks WHERE id = ?`, deckID,
	).Scan(&d.ID, &d.Name, &cardsRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(cardsRaw, &d.Cards); err != nil {
		return nil, fmt.Errorf("decode deck %s: %w", d.ID, err)
	}
	return &d, nil
}

func (s *SQLite) ListDecks(ctx context.Context) ([]Deck, error) {
	ctx, cancel := opTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, cards FROM decks ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Deck, 0)
	for rows.Next() {
		var d Deck
		var cardsRaw []byte
		if err := rows.Scan(&d.ID, &d.Name, &cardsRaw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(cardsRaw, &d.Cards); err != nil {
			return nil, fmt.Errorf("decode deck %s: %w", d.ID, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLite) SaveLobby(ctx context.Context, lobby wire.LobbyInfo) error {
	ctx, cancel := opTimeout(ctx)
	defer cancel()

	snapshot, err := json.Marshal(lobby)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO lobbies (lobby_id, status, snapshot, created_at_ms)
VALUES (?, ?, ?, ?)
ON CONFLICT(lobby_id) DO UPDATE SET status = excluded.status, snapshot = excluded.snapshot`,
		lobby.LobbyID, lobby.Status, string(snapshot), lobby.CreatedAt)
	return err
}

func (s *SQLite) DeleteLobby(ctx context.Context, lobbyID string) error {
	ctx, cancel := opTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `DELETE FROM lobbies WHERE lobby_id = ?`, lobbyID)
	return err
}

func (s *SQLite) ListOpenLobbies(ctx context.Context) ([]wire.LobbyInfo, error) {
	ctx, cancel := opTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT snapshot FROM lobbies WHERE status = ? ORDER BY created_at_ms DESC`, wire.LobbyOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]wire.LobbyInfo, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var l wire.LobbyInfo
		if err := json.Unmarshal(raw, &l); err != nil {
			return nil, fmt.Errorf("decode lobby snapshot: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *SQLite) CreateMatch(ctx context.Context, rec MatchRecord) error {
	ctx, cancel := opTimeout(ctx)
	defer cancel()

	playersRaw, err := json.Marshal(rec.Players)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO matches (match_id, status, players, created_at_ms)
VALUES (?, ?, ?, ?)
ON CONFLICT(match_id) DO NOTHING`,
		rec.MatchID, rec.Status, string(playersRaw), rec.CreatedAt); err != nil {
		return err
	}
	for _, p := range rec.Players {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO match_players (match_id, user_id)
VALUES (?, ?)
ON CONFLICT(match_id, user_id) DO NOTHING`,
			rec.MatchID, p.UserID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLite) FinishMatch(ctx context.Context, matchID string, finishedAtMs int64, winnerID uint64) error {
	ctx, cancel := opTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
UPDATE matches SET status = ?, finished_at_ms = ?, winner_id = ? WHERE match_id = ?`,
		MatchFinished, finishedAtMs, winnerID, matchID)
	return err
}

func (s *SQLite) SaveResult(ctx context.Context, res *StoredMatchResult) error {
	ctx, cancel := opTimeout(ctx)
	defer cancel()

	playersRaw, err := json.Marshal(res.Players)
	if err != nil {
		return err
	}
	roundsRaw, err := json.Marshal(res.Rounds)
	if err != nil {
		return err
	}
	// Upsert keeps the persister's retries idempotent.
	_, err = s.db.ExecContext(ctx, `
INSERT INTO match_results (match_id, created_at_ms, finished_at_ms, winner_id, players, rounds)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(match_id) DO UPDATE SET
    created_at_ms = excluded.created_at_ms,
    finished_at_ms = excluded.finished_at_ms,
    winner_id = excluded.winner_id,
    players = excluded.players,
    rounds = excluded.rounds`,
		res.MatchID, res.CreatedAt, res.FinishedAt, res.WinnerID, string(playersRaw), string(roundsRaw))
	return err
}

func (s *SQLite) ResultByID(ctx context.Context, matchID string, includeReplay bool) (*StoredMatchResult, error) {
	ctx, cancel := opTimeout(ctx)
	defer cancel()

	res := &StoredMatchResult{MatchID: matchID}
	var playersRaw, roundsRaw []byte
	err := s.db.QueryRowContext(ctx, `
SELECT created_at_ms, finished_at_ms, winner_id, players, rounds
FROM match_results WHERE match_id = ?`, matchID,
	).Scan(&res.CreatedAt, &res.FinishedAt, &res.WinnerID, &playersRaw, &roundsRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(playersRaw, &res.Players); err != nil {
		return nil, fmt.Errorf("decode result players %s: %w", matchID, err)
	}
	if err := json.Unmarshal(roundsRaw, &res.Rounds); err != nil {
		return nil, fmt.Errorf("decode result rounds %s: %w", matchID, err)
	}
	if !includeReplay {
		for i := range res.Rounds {
			res.Rounds[i].Replay = nil
		}
	}
	return res, nil
}

func (s *SQLite) MatchesByPlayer(ctx context.Context, userID uint64, limit int) ([]MatchRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	ctx, cancel := opTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
SELECT m.match_id, m.status, m.players, m.created_at_ms,
       COALESCE(m.finished_at_ms, 0), COALESCE(m.winner_id, 0)
FROM matches m
JOIN match_players mp ON mp.match_id = m.match_id
WHERE mp.user_id = ?
ORDER BY m.created_at_ms DESC
LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]MatchRecord, 0)
	for rows.Next() {
		var rec MatchRecord
		var playersRaw []byte
		if err := rows.Scan(&rec.MatchID, &rec.Status, &playersRaw, &rec.CreatedAt, &rec.FinishedAt, &rec.WinnerID); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(playersRaw, &rec.Players); err != nil {
			return nil, fmt.Errorf("decode match players %s: %w", rec.MatchID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLite) AppendChat(ctx context.Context, matchID string, msg wire.ChatMessage) error {
	ctx, cancel := opTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
INSERT INTO chat_messages (match_id, user_id, username, body, ts_ms)
VALUES (?, ?, ?, ?, ?)`,
		matchID, msg.UserID, msg.Username, msg.Text, msg.Ts)
	return err
}

func (s *SQLite) ChatHistory(ctx context.Context, matchID string, limit int) ([]wire.ChatMessage, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	ctx, cancel := opTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
SELECT user_id, username, body, ts_ms
FROM chat_messages WHERE match_id = ?
ORDER BY id DESC LIMIT ?`, matchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]wire.ChatMessage, 0, limit)
	for rows.Next() {
		var msg wire.ChatMessage
		if err := rows.Scan(&msg.UserID, &msg.Username, &msg.Text, &msg.Ts); err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Query walks newest-first for the LIMIT; callers want oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLite) seedDecks(ctx context.Context) error {
	for _, d := range builtinDecks() {
		raw, err := json.Marshal(d.Cards)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, `
INSERT INTO decks (id, name, cards) VALUES (?, ?, ?)
ON CONFLICT(id) DO NOTHING`, d.ID, d.Name, string(raw)); err != nil {
			return err
		}
	}
	return nil
}

func ensureSQLiteStoreSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`
CREATE TABLE IF NOT EXISTS decks (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    cards TEXT NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS lobbies (
    lobby_id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    snapshot TEXT NOT NULL,
    created_at_ms INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_lobbies_status ON lobbies(status, created_at_ms DESC)`,
		`
CREATE TABLE IF NOT EXISTS matches (
    match_id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    players TEXT NOT NULL,
    created_at_ms INTEGER NOT NULL,
    finished_at_ms INTEGER,
    winner_id INTEGER
)`,
		`
CREATE TABLE IF NOT EXISTS match_players (
    match_id TEXT NOT NULL,
    user_id INTEGER NOT NULL,
    PRIMARY KEY (match_id, user_id),
    FOREIGN KEY(match_id) REFERENCES matches(match_id) ON DELETE CASCADE
)`,
		`CREATE INDEX IF NOT EXISTS idx_match_players_user ON match_players(user_id)`,
		`
CREATE TABLE IF NOT EXISTS match_results (
    match_id TEXT PRIMARY KEY,
    created_at_ms INTEGER NOT NULL,
    finished_at_ms INTEGER NOT NULL,
    winner_id INTEGER NOT NULL,
    players TEXT NOT NULL,
    rounds TEXT NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS chat_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    match_id TEXT NOT NULL,
    user_id INTEGER NOT NULL,
    username TEXT NOT NULL,
    body TEXT NOT NULL,
    ts_ms INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_match ON chat_messages(match_id, id)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
