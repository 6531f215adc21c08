// Package chat keeps a bounded per-match message history with a
// per-user sliding-window send limit. Fan-out stays in the gateway; the
// service owns storage and the limits.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"towerlords/internal/config"
	"towerlords/internal/wire"
)

// MaxTextLen caps one message; longer texts are cut, not rejected.
const MaxTextLen = 500

var (
	ErrEmptyText   = errors.New("empty chat text")
	ErrRateLimited = errors.New("chat rate limited")
)

// Appender persists chat lines out of band. A nil appender keeps chat
// memory-only.
type Appender interface {
	AppendChat(ctx context.Context, matchID string, msg wire.ChatMessage) error
}

type room struct {
	messages []wire.ChatMessage
	senders  map[uint64][]time.Time
}

type Service struct {
	mu    sync.Mutex
	rooms map[string]*room

	ring    int
	rateMax int
	window  time.Duration

	store Appender
	log   *zap.Logger
	now   func() time.Time
}

func New(cfg config.ChatConfig, store Appender, log *zap.Logger) *Service {
	return &Service{
		rooms:   make(map[string]*room),
		ring:    cfg.Ring,
		rateMax: cfg.RateMsgs,
		window:  time.Duration(cfg.RateWindowMs) * time.Millisecond,
		store:   store,
		log:     log,
		now:     time.Now,
	}
}

// Send validates, records and returns the message to broadcast. A rate
// limited or empty send changes nothing and the caller drops it.
func (s *Service) Send(matchID string, userID uint64, username, text string) (wire.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return wire.ChatMessage{}, ErrEmptyText
	}
	if runes := []rune(text); len(runes) > MaxTextLen {
		text = string(runes[:MaxTextLen])
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.rooms[matchID]
	if r == nil {
		r = &room{senders: make(map[uint64][]time.Time)}
		s.rooms[matchID] = r
	}

	now := s.now()
	cut := now.Add(-s.window)
	recent := r.senders[userID][:0]
	for _, t := range r.senders[userID] {
		if t.After(cut) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= s.rateMax {
		r.senders[userID] = recent
		return wire.ChatMessage{}, ErrRateLimited
	}
	r.senders[userID] = append(recent, now)

	msg := wire.ChatMessage{UserID: userID, Username: username, Text: text, Ts: now.UnixMilli()}
	r.messages = append(r.messages, msg)
	if len(r.messages) > s.ring {
		r.messages = append(r.messages[:0], r.messages[1:]...)
	}

	if s.store != nil {
		go s.appendAsync(matchID, msg)
	}
	return msg, nil
}

func (s *Service) appendAsync(matchID string, msg wire.ChatMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.AppendChat(ctx, matchID, msg); err != nil {
		s.log.Warn("chat append failed",
			zap.String("match", matchID),
			zap.Uint64("user", msg.UserID),
			zap.Error(err),
		)
	}
}

// History returns a copy of the retained messages, oldest first.
func (s *Service) History(matchID string) []wire.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.rooms[matchID]
	if r == nil {
		return nil
	}
	out := make([]wire.ChatMessage, len(r.messages))
	copy(out, r.messages)
	return out
}

// Drop forgets a match's chat; the registry calls it on eviction.
func (s *Service) Drop(matchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, matchID)
}
