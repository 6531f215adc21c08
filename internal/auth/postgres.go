package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

// PostgresManager runs against a database whose schema the store
// migrations already created (see internal/store/migrations).
type PostgresManager struct {
	db         *sql.DB
	sessionTTL time.Duration
}

func NewPostgresManager(dsn string, sessionTTL time.Duration) (*PostgresManager, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("empty postgres dsn")
	}
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	var schemaReady bool
	if err := db.QueryRowContext(ctx, `
SELECT EXISTS (
    SELECT 1
    FROM information_schema.tables
    WHERE table_schema = 'public'
      AND table_name = 'users'
)`).Scan(&schemaReady); err != nil {
		_ = db.Close()
		return nil, err
	}
	if !schemaReady {
		_ = db.Close()
		return nil, fmt.Errorf("auth schema not initialized: missing table users (run store migrations first)")
	}

	return &PostgresManager{db: db, sessionTTL: sessionTTL}, nil
}

func (m *PostgresManager) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.Close()
}

func (m *PostgresManager) Register(username, password string) (userID uint64, sessionToken string, err error) {
	if err = validateUsername(username); err != nil {
		return 0, "", err
	}
	if err = validatePassword(password); err != nil {
		return 0, "", err
	}

	normalized := normalizeUsername(username)
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, "", err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, "", err
	}
	defer tx.Rollback()

	nowMs := time.Now().UTC().UnixMilli()
	err = tx.QueryRowContext(ctx, `
INSERT INTO users (username, password_hash, created_at_ms, updated_at_ms, last_login_at_ms)
VALUES ($1, $2, $3, $4, $5)
RETURNING id
`, normalized, string(passwordHash), nowMs, nowMs, nowMs).Scan(&userID)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, "", ErrUsernameTaken
		}
		return 0, "", err
	}

	sessionToken, err = m.issueSessionTx(ctx, tx, userID, nowMs)
	if err != nil {
		return 0, "", err
	}
	if err := tx.Commit(); err != nil {
		return 0, "", err
	}
	return userID, sessionToken, nil
}

func (m *PostgresManager) Login(username, password string) (userID uint64, sessionToken string, err error) {
	normalized := normalizeUsername(username)
	if normalized == "" || password == "" {
		return 0, "", ErrInvalidCredentials
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var passwordHash string
	err = m.db.QueryRowContext(ctx, `
SELECT id, password_hash FROM users WHERE username = $1
`, normalized).Scan(&userID, &passwordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, "", ErrInvalidCredentials
		}
		return 0, "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)) != nil {
		return 0, "", ErrInvalidCredentials
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, "", err
	}
	defer tx.Rollback()

	nowMs := time.Now().UTC().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
UPDATE users SET last_login_at_ms = $1, updated_at_ms = $2 WHERE id = $3
`, nowMs, nowMs, userID); err != nil {
		return 0, "", err
	}

	sessionToken, err = m.issueSessionTx(ctx, tx, userID, nowMs)
	if err != nil {
		return 0, "", err
	}
	if err := tx.Commit(); err != nil {
		return 0, "", err
	}
	return userID, sessionToken, nil
}

func (m *PostgresManager) ResolveSession(token string) (userID uint64, username string, ok bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, "", false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	nowMs := time.Now().UTC().UnixMilli()
	expiresAtMs := nowMs + m.sessionTTL.Milliseconds()

	err := m.db.QueryRowContext(ctx, `
UPDATE auth_sessions AS s
SET last_seen_at_ms = $1, expires_at_ms = $2
FROM users AS u
WHERE s.token = $3
  AND s.revoked_at_ms IS NULL
  AND s.expires_at_ms > $1
  AND u.id = s.user_id
RETURNING s.user_id, u.username
`, nowMs, expiresAtMs, token).Scan(&userID, &username)
	if err != nil {
		return 0, "", false
	}
	return userID, username, true
}

func (m *PostgresManager) Logout(token string) {
	token = strings.TrimSpace(token)
	if token == "" {
		return
	}
	nowMs := time.Now().UTC().UnixMilli()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = m.db.ExecContext(ctx, `
UPDATE auth_sessions SET revoked_at_ms = $1 WHERE token = $2 AND revoked_at_ms IS NULL
`, nowMs, token)
}

func (m *PostgresManager) issueSessionTx(ctx context.Context, tx *sql.Tx, userID uint64, nowMs int64) (string, error) {
	expiresAtMs := nowMs + m.sessionTTL.Milliseconds()
	for i := 0; i < 5; i++ {
		token := mustToken()
		if _, err := tx.ExecContext(ctx, `
INSERT INTO auth_sessions (token, user_id, issued_at_ms, expires_at_ms, last_seen_at_ms)
VALUES ($1, $2, $3, $4, $5)
`, token, userID, nowMs, expiresAtMs, nowMs); err != nil {
			if isUniqueViolation(err) {
				continue
			}
			return "", err
		}
		return token, nil
	}
	return "", fmt.Errorf("failed to generate unique session token")
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
