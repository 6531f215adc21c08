package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"towerlords/internal/wire"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Postgres persists through a pgx pool. The embedded goose migrations
// own the whole schema, including the account tables internal/auth
// queries.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = 20
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	p := &Postgres{pool: pool}
	if err := p.seedDecks(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("seed decks: %w", err)
	}
	return p, nil
}

// runMigrations applies all pending migrations through goose. Schema
// lives in SQL files, not in code, so a DBA can read it.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) DeckByID(ctx context.Context, deckID string) (*Deck, error) {
	var d Deck
	var cardsRaw []byte
	err := p.pool.QueryRow(ctx,
		`SELECT id, name, cards FROM decks WHERE id = $1`, deckID,
	).Scan(&d.ID, &d.Name, &cardsRaw)
	if errors.Is(err, pgx.ErrNoRows) {
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

func (p *Postgres) ListDecks(ctx context.Context) ([]Deck, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, name, cards FROM decks ORDER BY id`)
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

func (p *Postgres) SaveLobby(ctx context.Context, lobby wire.LobbyInfo) error {
	snapshot, err := json.Marshal(lobby)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO lobbies (lobby_id, status, snapshot, created_at_ms)
VALUES ($1, $2, $3::jsonb, $4)
ON CONFLICT (lobby_id) DO UPDATE SET status = excluded.status, snapshot = excluded.snapshot`,
		lobby.LobbyID, lobby.Status, string(snapshot), lobby.CreatedAt)
	return err
}

func (p *Postgres) DeleteLobby(ctx context.Context, lobbyID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM lobbies WHERE lobby_id = $1`, lobbyID)
	return err
}

func (p *Postgres) ListOpenLobbies(ctx context.Context) ([]wire.LobbyInfo, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT snapshot FROM lobbies WHERE status = $1 ORDER BY created_at_ms DESC`, wire.LobbyOpen)
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

func (p *Postgres) CreateMatch(ctx context.Context, rec MatchRecord) error {
	playersRaw, err := json.Marshal(rec.Players)
	if err != nil {
		return err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
INSERT INTO matches (match_id, status, players, created_at_ms)
VALUES ($1, $2, $3::jsonb, $4)
ON CONFLICT (match_id) DO NOTHING`,
		rec.MatchID, rec.Status, string(playersRaw), rec.CreatedAt); err != nil {
		return err
	}
	for _, player := range rec.Players {
		if _, err := tx.Exec(ctx, `
INSERT INTO match_players (match_id, user_id)
VALUES ($1, $2)
ON CONFLICT (match_id, user_id) DO NOTHING`,
			rec.MatchID, player.UserID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) FinishMatch(ctx context.Context, matchID string, finishedAtMs int64, winnerID uint64) error {
	_, err := p.pool.Exec(ctx, `
UPDATE matches SET status = $1, finished_at_ms = $2, winner_id = $3 WHERE match_id = $4`,
		MatchFinished, finishedAtMs, winnerID, matchID)
	return err
}

func (p *Postgres) SaveResult(ctx context.Context, res *StoredMatchResult) error {
	playersRaw, err := json.Marshal(res.Players)
	if err != nil {
		return err
	}
	roundsRaw, err := json.Marshal(res.Rounds)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO match_results (match_id, created_at_ms, finished_at_ms, winner_id, players, rounds)
VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb)
ON CONFLICT (match_id) DO UPDATE SET
    created_at_ms = excluded.created_at_ms,
    finished_at_ms = excluded.finished_at_ms,
    winner_id = excluded.winner_id,
    players = excluded.players,
    rounds = excluded.rounds`,
		res.MatchID, res.CreatedAt, res.FinishedAt, res.WinnerID, string(playersRaw), string(roundsRaw))
	return err
}

func (p *Postgres) ResultByID(ctx context.Context, matchID string, includeReplay bool) (*StoredMatchResult, error) {
	res := &StoredMatchResult{MatchID: matchID}
	var playersRaw, roundsRaw []byte
	err := p.pool.QueryRow(ctx, `
SELECT created_at_ms, finished_at_ms, winner_id, players, rounds
FROM match_results WHERE match_id = $1`, matchID,
	).Scan(&res.CreatedAt, &res.FinishedAt, &res.WinnerID, &playersRaw, &roundsRaw)
	if errors.Is(err, pgx.ErrNoRows) {
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

func (p *Postgres) MatchesByPlayer(ctx context.Context, userID uint64, limit int) ([]MatchRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := p.pool.Query(ctx, `
SELECT m.match_id, m.status, m.players, m.created_at_ms,
       COALESCE(m.finished_at_ms, 0), COALESCE(m.winner_id, 0)
FROM matches m
JOIN match_players mp ON mp.match_id = m.match_id
WHERE mp.user_id = $1
ORDER BY m.created_at_ms DESC
LIMIT $2`, userID, limit)
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

func (p *Postgres) AppendChat(ctx context.Context, matchID string, msg wire.ChatMessage) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO chat_messages (match_id, user_id, username, body, ts_ms)
VALUES ($1, $2, $3, $4, $5)`,
		matchID, msg.UserID, msg.Username, msg.Text, msg.Ts)
	return err
}

func (p *Postgres) ChatHistory(ctx context.Context, matchID string, limit int) ([]wire.ChatMessage, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := p.pool.Query(ctx, `
SELECT user_id, username, body, ts_ms
FROM chat_messages WHERE match_id = $1
ORDER BY id DESC LIMIT $2`, matchID, limit)
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
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (p *Postgres) seedDecks(ctx context.Context) error {
	for _, d := range builtinDecks() {
		raw, err := json.Marshal(d.Cards)
		if err != nil {
			return err
		}
		if _, err := p.pool.Exec(ctx, `
INSERT INTO decks (id, name, cards) VALUES ($1, $2, $3::jsonb)
ON CONFLICT (id) DO NOTHING`, d.ID, d.Name, string(raw)); err != nil {
			return err
		}
	}
	return nil
}
