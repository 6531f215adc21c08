package lobby

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"towerlords/game"
	"towerlords/internal/store"
	"towerlords/internal/wire"
)

type roomSender struct {
	mu     sync.Mutex
	frames map[string][][]byte
}

func newRoomSender() *roomSender {
	return &roomSender{frames: make(map[string][][]byte)}
}

func (s *roomSender) Publish(room string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames[room] = append(s.frames[room], data)
}

func (s *roomSender) last(t *testing.T, room string) []byte {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	frames := s.frames[room]
	require.NotEmpty(t, frames)
	return frames[len(frames)-1]
}

type fakeStarter struct {
	mu    sync.Mutex
	next  int
	pairs [][2]game.PlayerSpec
	err   error
}

func (f *fakeStarter) start(a, b game.PlayerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.next++
	f.pairs = append(f.pairs, [2]game.PlayerSpec{a, b})
	return fmt.Sprintf("m-%d", f.next), nil
}

func newTestManager(t *testing.T) (*Manager, *roomSender, *fakeStarter, *store.Memory) {
	t.Helper()
	sender := newRoomSender()
	starter := &fakeStarter{}
	mem := store.NewMemory()
	m := NewManager(sender, mem, starter.start, zap.NewNop())
	return m, sender, starter, mem
}

func decodeState(t *testing.T, data []byte) *wire.LobbyInfo {
	t.Helper()
	var frame struct {
		Type  string          `json:"type"`
		Lobby *wire.LobbyInfo `json:"lobby"`
	}
	require.NoError(t, json.Unmarshal(data, &frame))
	require.Equal(t, wire.TypeLobbyState, frame.Type)
	return frame.Lobby
}

func TestLobbyLifecycle(t *testing.T) {
	m, sender, starter, mem := newTestManager(t)
	ctx := context.Background()

	info, err := m.Create(ctx, 1, "ana", "")
	require.NoError(t, err)
	require.Equal(t, wire.LobbyOpen, info.Status)
	require.Equal(t, uint64(1), info.OwnerID)
	require.False(t, info.HasCode)

	open := m.ListOpen()
	require.Len(t, open, 1)
	require.Equal(t, info.LobbyID, open[0].LobbyID)

	joined, err := m.Join(ctx, info.LobbyID, 2, "bo", "")
	require.NoError(t, err)
	require.Equal(t, wire.LobbyFull, joined.Status)
	require.Len(t, joined.Players, 2)
	require.Empty(t, m.ListOpen(), "full lobbies are not joinable")

	_, err = m.SetDeck(ctx, info.LobbyID, 1, "starter")
	require.NoError(t, err)
	_, err = m.SetDeck(ctx, info.LobbyID, 2, "siege")
	require.NoError(t, err)
	_, err = m.SetReady(ctx, info.LobbyID, 1, true)
	require.NoError(t, err)
	_, err = m.SetReady(ctx, info.LobbyID, 2, true)
	require.NoError(t, err)

	started, err := m.Start(ctx, info.LobbyID, 1)
	require.NoError(t, err)
	require.Equal(t, wire.LobbyStarted, started.Status)
	require.Equal(t, "m-1", started.MatchID)

	require.Len(t, starter.pairs, 1)
	require.Equal(t, uint64(1), starter.pairs[0][0].UserID)
	require.Equal(t, "siege", starter.pairs[0][1].DeckID)
	require.NotEmpty(t, starter.pairs[0][1].Deck, "deck cards resolved at SetDeck")

	// The closing broadcast carries the match id; then the lobby is gone.
	last := decodeState(t, sender.last(t, wire.LobbyRoom(info.LobbyID)))
	require.NotNil(t, last)
	require.Equal(t, "m-1", last.MatchID)
	_, err = m.Get(info.LobbyID)
	require.ErrorIs(t, err, ErrNotFound)

	rows, err := mem.ListOpenLobbies(ctx)
	require.NoError(t, err)
	require.Empty(t, rows, "snapshot row dropped with the lobby")
}

func TestJoinGuards(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Join(ctx, "missing", 2, "bo", "")
	require.ErrorIs(t, err, ErrNotFound)

	info, err := m.Create(ctx, 1, "ana", "tower123")
	require.NoError(t, err)
	require.True(t, info.HasCode)

	_, err = m.Join(ctx, info.LobbyID, 2, "bo", "")
	require.ErrorIs(t, err, ErrCodeRequired)
	_, err = m.Join(ctx, info.LobbyID, 2, "bo", "wrong")
	require.ErrorIs(t, err, ErrCodeRequired)

	joined, err := m.Join(ctx, info.LobbyID, 2, "bo", "tower123")
	require.NoError(t, err)
	require.Equal(t, wire.LobbyFull, joined.Status)

	// A seated player rejoining is a no-op, not a denial.
	again, err := m.Join(ctx, info.LobbyID, 2, "bo", "")
	require.NoError(t, err)
	require.Len(t, again.Players, 2)

	_, err = m.Join(ctx, info.LobbyID, 3, "cy", "tower123")
	require.ErrorIs(t, err, ErrFull)
}

func TestStartGuards(t *testing.T) {
	m, _, starter, _ := newTestManager(t)
	ctx := context.Background()

	info, err := m.Create(ctx, 1, "ana", "")
	require.NoError(t, err)

	_, err = m.Start(ctx, info.LobbyID, 1)
	require.ErrorIs(t, err, ErrNotReady, "needs an opponent")

	_, err = m.Join(ctx, info.LobbyID, 2, "bo", "")
	require.NoError(t, err)

	_, err = m.Start(ctx, info.LobbyID, 2)
	require.ErrorIs(t, err, ErrNotOwner)

	_, err = m.Start(ctx, info.LobbyID, 1)
	require.ErrorIs(t, err, ErrNotReady, "nobody ready")

	_, err = m.SetReady(ctx, info.LobbyID, 1, true)
	require.NoError(t, err)
	_, err = m.SetReady(ctx, info.LobbyID, 2, true)
	require.NoError(t, err)
	_, err = m.Start(ctx, info.LobbyID, 1)
	require.ErrorIs(t, err, ErrNotReady, "ready without decks")

	_, err = m.SetDeck(ctx, info.LobbyID, 1, "starter")
	require.NoError(t, err)
	_, err = m.SetDeck(ctx, info.LobbyID, 2, "starter")
	require.NoError(t, err)
	_, err = m.Start(ctx, info.LobbyID, 1)
	require.NoError(t, err)
	require.Len(t, starter.pairs, 1)
}

func TestLeaveTransfersOwnershipThenDeletes(t *testing.T) {
	m, sender, _, mem := newTestManager(t)
	ctx := context.Background()

	info, err := m.Create(ctx, 1, "ana", "")
	require.NoError(t, err)
	_, err = m.Join(ctx, info.LobbyID, 2, "bo", "")
	require.NoError(t, err)

	require.NoError(t, m.Leave(ctx, info.LobbyID, 1))
	got, err := m.Get(info.LobbyID)
	require.NoError(t, err)
	require.Equal(t, uint64(2), got.OwnerID)
	require.Equal(t, wire.LobbyOpen, got.Status, "open again after a leave")

	require.ErrorIs(t, m.Leave(ctx, info.LobbyID, 1), ErrNotMember)

	require.NoError(t, m.Leave(ctx, info.LobbyID, 2))
	_, err = m.Get(info.LobbyID)
	require.ErrorIs(t, err, ErrNotFound)
	require.Nil(t, decodeState(t, sender.last(t, wire.LobbyRoom(info.LobbyID))),
		"deletion broadcast carries no lobby")

	rows, err := mem.ListOpenLobbies(ctx)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestCloseIsOwnerOnly(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	info, err := m.Create(ctx, 1, "ana", "")
	require.NoError(t, err)
	_, err = m.Join(ctx, info.LobbyID, 2, "bo", "")
	require.NoError(t, err)

	require.ErrorIs(t, m.Close(ctx, info.LobbyID, 2), ErrNotOwner)
	require.NoError(t, m.Close(ctx, info.LobbyID, 1))
	require.ErrorIs(t, m.Close(ctx, info.LobbyID, 1), ErrNotFound)
}

func TestSetDeckValidation(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	info, err := m.Create(ctx, 1, "ana", "")
	require.NoError(t, err)

	_, err = m.SetDeck(ctx, info.LobbyID, 1, "no_such_deck")
	require.ErrorIs(t, err, ErrUnknownDeck)
	_, err = m.SetDeck(ctx, info.LobbyID, 9, "starter")
	require.ErrorIs(t, err, ErrNotMember)
}

func TestPresenceAndMembership(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	ctx := context.Background()

	_, ok := m.FindByUser(1)
	require.False(t, ok)

	info, err := m.Create(ctx, 1, "ana", "")
	require.NoError(t, err)
	found, ok := m.FindByUser(1)
	require.True(t, ok)
	require.Equal(t, info.LobbyID, found.LobbyID)

	require.NoError(t, m.Member(info.LobbyID, 1))
	require.ErrorIs(t, m.Member(info.LobbyID, 2), ErrNotMember)
	require.ErrorIs(t, m.Member("missing", 1), ErrNotFound)
}

func TestErrorCodes(t *testing.T) {
	cases := map[error]string{
		ErrFull:         wire.CodeLobbyFull,
		ErrNotOpen:      wire.CodeLobbyNotOpen,
		ErrNotFound:     wire.CodeLobbyNotOpen,
		ErrCodeRequired: wire.CodeLobbyCodeRequired,
		ErrNotReady:     wire.CodeNotReady,
		ErrNotOwner:     wire.CodeNotReady,
		ErrNotMember:    wire.CodeNotAPlayer,
		ErrUnknownDeck:  wire.CodeBadFrame,
	}
	for err, want := range cases {
		require.Equal(t, want, ErrorCode(err), "code for %v", err)
	}
	require.Equal(t, wire.CodeInternal, ErrorCode(context.DeadlineExceeded))
}
