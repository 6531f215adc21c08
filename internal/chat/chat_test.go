package chat

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"towerlords/internal/config"
	"towerlords/internal/wire"
)

func testService() *Service {
	return New(config.ChatConfig{Ring: 3, RateMsgs: 2, RateWindowMs: 10000}, nil, zap.NewNop())
}

func TestSend_RecordsAndReturnsTheMessage(t *testing.T) {
	s := testService()
	msg, err := s.Send("m1", 1, "ana", "  gl hf  ")
	require.NoError(t, err)
	require.Equal(t, "gl hf", msg.Text)
	require.Equal(t, uint64(1), msg.UserID)
	require.NotZero(t, msg.Ts)

	hist := s.History("m1")
	require.Len(t, hist, 1)
	require.Equal(t, msg, hist[0])
}

func TestSend_EmptyTextIsDropped(t *testing.T) {
	s := testService()
	_, err := s.Send("m1", 1, "ana", "   ")
	require.ErrorIs(t, err, ErrEmptyText)
	require.Empty(t, s.History("m1"))
}

func TestSend_LongTextIsCut(t *testing.T) {
	s := testService()
	msg, err := s.Send("m1", 1, "ana", strings.Repeat("x", MaxTextLen+50))
	require.NoError(t, err)
	require.Len(t, []rune(msg.Text), MaxTextLen)
}

func TestSend_RingKeepsTheNewest(t *testing.T) {
	s := testService()
	s.rateMax = 100
	for _, text := range []string{"one", "two", "three", "four", "five"} {
		_, err := s.Send("m1", 1, "ana", text)
		require.NoError(t, err)
	}
	hist := s.History("m1")
	require.Len(t, hist, 3)
	require.Equal(t, "three", hist[0].Text)
	require.Equal(t, "five", hist[2].Text)
}

func TestSend_SlidingWindowLimit(t *testing.T) {
	s := New(config.ChatConfig{Ring: 10, RateMsgs: 2, RateWindowMs: 10000}, nil, zap.NewNop())
	base := time.Now()
	s.now = func() time.Time { return base }

	_, err := s.Send("m1", 1, "ana", "one")
	require.NoError(t, err)
	_, err = s.Send("m1", 1, "ana", "two")
	require.NoError(t, err)
	_, err = s.Send("m1", 1, "ana", "three")
	require.ErrorIs(t, err, ErrRateLimited)

	// Another user in the same match is not affected.
	_, err = s.Send("m1", 2, "bo", "hi")
	require.NoError(t, err)

	// Once the window slides past the first send, one slot frees up.
	s.now = func() time.Time { return base.Add(s.window + time.Millisecond) }
	_, err = s.Send("m1", 1, "ana", "three again")
	require.NoError(t, err)

	require.Len(t, s.History("m1"), 4)
}

func TestHistory_ReturnsACopy(t *testing.T) {
	s := testService()
	_, err := s.Send("m1", 1, "ana", "original")
	require.NoError(t, err)

	hist := s.History("m1")
	hist[0].Text = "tampered"
	require.Equal(t, "original", s.History("m1")[0].Text)
}

func TestDrop_ForgetsTheMatch(t *testing.T) {
	s := testService()
	_, err := s.Send("m1", 1, "ana", "bye")
	require.NoError(t, err)
	s.Drop("m1")
	require.Empty(t, s.History("m1"))
}

type captureAppender struct {
	mu   sync.Mutex
	got  []wire.ChatMessage
	done chan struct{}
}

func (c *captureAppender) AppendChat(_ context.Context, _ string, msg wire.ChatMessage) error {
	c.mu.Lock()
	c.got = append(c.got, msg)
	c.mu.Unlock()
	close(c.done)
	return nil
}

func TestSend_AppendsToTheStoreAsync(t *testing.T) {
	app := &captureAppender{done: make(chan struct{})}
	s := New(config.ChatConfig{Ring: 3, RateMsgs: 2, RateWindowMs: 10000}, app, zap.NewNop())

	_, err := s.Send("m1", 1, "ana", "persist me")
	require.NoError(t, err)

	select {
	case <-app.done:
	case <-time.After(2 * time.Second):
		t.Fatal("store append never happened")
	}
	app.mu.Lock()
	defer app.mu.Unlock()
	require.Len(t, app.got, 1)
	require.Equal(t, "persist me", app.got[0].Text)
}
