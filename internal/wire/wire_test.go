package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"towerlords/game"
)

func TestDecodeInbound_Action(t *testing.T) {
	in, err := DecodeInbound([]byte(`{"v":1,"type":"BOARD_PLACE","matchId":"m1","handIndex":0,"boardIndex":3}`))
	require.NoError(t, err)
	require.Equal(t, TypeBoardPlace, in.Type)
	require.Equal(t, "m1", in.MatchID)
	require.Equal(t, 0, in.HandIndex)
	require.Equal(t, 3, in.BoardIndex)
}

func TestDecodeInbound_BadFrames(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{"v":1,`},
		{"missing v", `{"type":"PING"}`},
		{"wrong v", `{"v":2,"type":"PING"}`},
		{"unknown type", `{"v":1,"type":"DANCE"}`},
		{"server-only type", `{"v":1,"type":"AUTH_OK"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeInbound([]byte(tc.raw))
			require.Error(t, err)
			var perr *ProtocolError
			require.ErrorAs(t, err, &perr)
			require.Equal(t, CodeBadFrame, perr.Code)
		})
	}
}

func TestDecodeInbound_AcceptsEveryClientType(t *testing.T) {
	for typ := range inboundTypes {
		raw, err := json.Marshal(map[string]any{"v": 1, "type": typ})
		require.NoError(t, err)
		in, err := DecodeInbound(raw)
		require.NoError(t, err, typ)
		require.Equal(t, typ, in.Type)
	}
}

func TestMatchState_VIsTheStateVersion(t *testing.T) {
	frame := NewMatchState(game.Snapshot{MatchID: "m1", V: 42, Phase: "shop", Round: 3})
	var got map[string]any
	require.NoError(t, json.Unmarshal(Marshal(frame), &got))
	require.Equal(t, "MATCH_STATE", got["type"])
	require.Equal(t, float64(42), got["v"])
	require.Equal(t, "m1", got["matchId"])
	require.Equal(t, "shop", got["phase"])
}

func TestMatchBattleUpdate_FlattensThePayload(t *testing.T) {
	frame := NewMatchBattleUpdate("m1", 7, 2, nil, PostHp{A: 900, B: 0})
	var got map[string]any
	require.NoError(t, json.Unmarshal(Marshal(frame), &got))
	require.Equal(t, "MATCH_BATTLE_UPDATE", got["type"])
	require.Equal(t, float64(7), got["v"])
	require.Equal(t, float64(2), got["round"])
	require.Contains(t, got, "events")
	require.Contains(t, got, "ticksToReach")
	require.Equal(t, map[string]any{"a": float64(900), "b": float64(0)}, got["postHp"])
}

func TestOutboundFrames_CarryTheEnvelope(t *testing.T) {
	frames := map[string]any{
		TypeHello:            NewHello("c1", 123),
		TypeAuthOK:           NewAuthOK(9),
		TypeAuthFail:         NewAuthFail(),
		TypeMatchJoined:      NewMatchJoined("m1"),
		TypeChatHistory:      NewChatHistory("m1", nil),
		TypeChatMsg:          NewChatMsg("m1", ChatMessage{UserID: 9, Text: "gg"}),
		TypeMatchRoundEnd:    NewMatchRoundEnd("m1", 2, "shop"),
		TypeMatchForfeitInfo: NewMatchForfeitInfo("m1", 9),
		TypeShopBuyDenied:    NewShopBuyDenied("m1", "goblin_raid", game.DenyNotEnoughGold),
		TypeBoardPlaceDenied: NewBoardPlaceDenied("m1", 1, 2, "war_horn", game.DenyWrongPhase),
		TypeBoardMerge:       NewBoardMerge("m1", game.MergeInfo{CardID: "goblin_raid", ClearedIndices: []int{1, 2}, NewMergeCount: 2}),
		TypeLobbyState:       NewLobbyState(&LobbyInfo{LobbyID: "l1", Status: "open"}),
		TypeError:            NewError(CodeTimeout, "match did not answer"),
	}
	for typ, frame := range frames {
		var got map[string]any
		require.NoError(t, json.Unmarshal(Marshal(frame), &got), typ)
		require.Equal(t, typ, got["type"])
		require.Equal(t, float64(Version), got["v"], typ)
	}
}

func TestChatHistory_EncodesEmptyAsArray(t *testing.T) {
	raw := Marshal(NewChatHistory("m1", nil))
	require.Contains(t, string(raw), `"messages":[]`)
}
