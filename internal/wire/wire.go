// Package wire is the JSON frame set spoken over the websocket. Frames
// are flat objects {"v":1,"type":"...",...}; decoding happens once at
// the gateway boundary into a closed set of types so every downstream
// switch is exhaustive.
package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"towerlords/game"
	"towerlords/playback"
)

// Version is the only protocol version the server speaks.
const Version = 1

// Room names for fan-out. Every connection sits in "lobby"; auth adds
// the user room; subscriptions add match and lobby rooms.
func MatchRoom(matchID string) string { return "match:" + matchID }
func LobbyRoom(lobbyID string) string { return "lobby:" + lobbyID }
func UserRoom(userID uint64) string   { return "user:" + strconv.FormatUint(userID, 10) }

func IsMatchRoom(room string) bool { return strings.HasPrefix(room, "match:") }
func IsLobbyRoom(room string) bool { return strings.HasPrefix(room, "lobby:") }

// Client to server frame types.
const (
	TypeAuth               = "AUTH"
	TypePing               = "PING"
	TypePong               = "PONG"
	TypeMatchJoin          = "MATCH_JOIN"
	TypeMatchStateRequest  = "MATCH_STATE_REQUEST"
	TypeMatchmakingStart   = "MATCHMAKING_START"
	TypeMatchmakingCancel  = "MATCHMAKING_CANCEL"
	TypeMatchReadyConfirm  = "MATCH_READY_CONFIRM"
	TypeLobbySubscribe     = "LOBBY_SUBSCRIBE"
	TypeLobbySetDeck       = "LOBBY_SET_DECK"
	TypeLobbySetReady      = "LOBBY_SET_READY"
	TypeChatSend           = "CHAT_SEND"
	TypeChatHistoryRequest = "CHAT_HISTORY_REQUEST"
	TypeShopReroll         = "SHOP_REROLL"
	TypeShopBuy            = "SHOP_BUY"
	TypeBoardPlace         = "BOARD_PLACE"
	TypeBoardSell          = "BOARD_SELL"
	TypeTowerUpgrade       = "TOWER_UPGRADE"
	TypeMatchEndRound      = "MATCH_END_ROUND"
	TypeMatchForfeit       = "MATCH_FORFEIT"
	TypeBattleDone         = "BATTLE_DONE"
)

// Server to client frame types.
const (
	TypeHello             = "HELLO"
	TypeAuthOK            = "AUTH_OK"
	TypeAuthFail          = "AUTH_FAIL"
	TypeMatchJoined       = "MATCH_JOINED"
	TypeChatHistory       = "CHAT_HISTORY"
	TypeChatMsg           = "CHAT_MSG"
	TypeMatchState        = "MATCH_STATE"
	TypeMatchRoundEnd     = "MATCH_ROUND_END"
	TypeMatchBattleUpdate = "MATCH_BATTLE_UPDATE"
	TypeMatchForfeitInfo  = "MATCH_FORFEIT_INFO"
	TypeShopBuyDenied     = "SHOP_BUY_DENIED"
	TypeBoardPlaceDenied  = "BOARD_PLACE_DENIED"
	TypeBoardMerge        = "BOARD_MERGE"
	TypeLobbyState        = "LOBBY_STATE"
	TypeError             = "ERROR"
)

// Error codes carried by ERROR frames. Rule denials reuse the game
// package's denial codes verbatim.
const (
	CodeBadFrame          = "BAD_FRAME"
	CodeUnauthenticated   = "UNAUTHENTICATED"
	CodeAuthFail          = "AUTH_FAIL"
	CodeOverflow          = "OVERFLOW"
	CodeNotAPlayer        = "NOT_A_PLAYER"
	CodeMatchNotAvailable = "MATCH_NOT_AVAILABLE"
	CodeMatchNotFound     = "MATCH_NOT_FOUND"
	CodeMatchNotRunning   = "MATCH_NOT_RUNNING"
	CodeLobbyFull         = "LOBBY_FULL"
	CodeLobbyNotOpen      = "LOBBY_NOT_OPEN"
	CodeLobbyCodeRequired = "LOBBY_CODE_REQUIRED"
	CodeNotReady          = "NOT_READY"
	CodeTimeout           = "TIMEOUT"
	CodeQueueFull         = "QUEUE_FULL"
	CodeInternal          = "INTERNAL"
)

var inboundTypes = map[string]bool{
	TypeAuth:               true,
	TypePing:               true,
	TypePong:               true,
	TypeMatchJoin:          true,
	TypeMatchStateRequest:  true,
	TypeMatchmakingStart:   true,
	TypeMatchmakingCancel:  true,
	TypeMatchReadyConfirm:  true,
	TypeLobbySubscribe:     true,
	TypeLobbySetDeck:       true,
	TypeLobbySetReady:      true,
	TypeChatSend:           true,
	TypeChatHistoryRequest: true,
	TypeShopReroll:         true,
	TypeShopBuy:            true,
	TypeBoardPlace:         true,
	TypeBoardSell:          true,
	TypeTowerUpgrade:       true,
	TypeMatchEndRound:      true,
	TypeMatchForfeit:       true,
	TypeBattleDone:         true,
}

// ProtocolError is a client-visible protocol violation; the gateway
// answers it with an ERROR frame instead of logging a server fault.
type ProtocolError struct {
	Code string
	Msg  string
}

func (e *ProtocolError) Error() string { return e.Code + ": " + e.Msg }

// Inbound is one decoded client frame. Only the fields of its Type are
// meaningful; handlers validate presence.
type Inbound struct {
	V    int    `json:"v"`
	Type string `json:"type"`

	Token      string `json:"token,omitempty"`
	MatchID    string `json:"matchId,omitempty"`
	LobbyID    string `json:"lobbyId,omitempty"`
	DeckID     string `json:"deckId,omitempty"`
	IsReady    bool   `json:"isReady,omitempty"`
	Text       string `json:"text,omitempty"`
	CardID     string `json:"cardId,omitempty"`
	HandIndex  int    `json:"handIndex"`
	BoardIndex int    `json:"boardIndex"`
	Round      int    `json:"round,omitempty"`
}

// DecodeInbound parses and gate-checks one client frame: well-formed
// JSON, the supported version, a known type.
func DecodeInbound(data []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, &ProtocolError{Code: CodeBadFrame, Msg: "malformed frame"}
	}
	if in.V != Version {
		return nil, &ProtocolError{Code: CodeBadFrame, Msg: fmt.Sprintf("unsupported version %d", in.V)}
	}
	if !inboundTypes[in.Type] {
		return nil, &ProtocolError{Code: CodeBadFrame, Msg: "unknown type " + in.Type}
	}
	return &in, nil
}

// Base carries the shared envelope of an outbound frame.
type Base struct {
	V    int    `json:"v"`
	Type string `json:"type"`
}

func base(typ string) Base { return Base{V: Version, Type: typ} }

// Marshal encodes an outbound frame. Frames are plain data; an encoding
// failure is a programming error.
func Marshal(frame any) []byte {
	data, err := json.Marshal(frame)
	if err != nil {
		panic(fmt.Sprintf("wire: marshal %T: %v", frame, err))
	}
	return data
}

type Hello struct {
	Base
	ConnID string `json:"connId"`
	Room   string `json:"room"`
	Ts     int64  `json:"ts"`
}

func NewHello(connID string, ts int64) *Hello {
	return &Hello{Base: base(TypeHello), ConnID: connID, Room: "lobby", Ts: ts}
}

type AuthOK struct {
	Base
	UserID uint64 `json:"userId"`
}

func NewAuthOK(userID uint64) *AuthOK {
	return &AuthOK{Base: base(TypeAuthOK), UserID: userID}
}

func NewAuthFail() *Base { b := base(TypeAuthFail); return &b }

func NewPing() *Base { b := base(TypePing); return &b }

func NewPong() *Base { b := base(TypePong); return &b }

type MatchJoined struct {
	Base
	MatchID string `json:"matchId"`
}

func NewMatchJoined(matchID string) *MatchJoined {
	return &MatchJoined{Base: base(TypeMatchJoined), MatchID: matchID}
}

// ChatMessage is one chat line, shared by CHAT_MSG and CHAT_HISTORY.
type ChatMessage struct {
	UserID   uint64 `json:"userId"`
	Username string `json:"username"`
	Text     string `json:"text"`
	Ts       int64  `json:"ts"`
}

type ChatHistory struct {
	Base
	MatchID  string        `json:"matchId"`
	Messages []ChatMessage `json:"messages"`
}

func NewChatHistory(matchID string, messages []ChatMessage) *ChatHistory {
	if messages == nil {
		messages = []ChatMessage{}
	}
	return &ChatHistory{Base: base(TypeChatHistory), MatchID: matchID, Messages: messages}
}

type ChatMsg struct {
	Base
	MatchID string `json:"matchId"`
	ChatMessage
}

func NewChatMsg(matchID string, msg ChatMessage) *ChatMsg {
	return &ChatMsg{Base: base(TypeChatMsg), MatchID: matchID, ChatMessage: msg}
}

// MatchState carries one per-user snapshot. Here v is the match state
// version, not the protocol version: clients keep the highest v they
// have seen and drop anything older.
type MatchState struct {
	Type string `json:"type"`
	game.Snapshot
}

func NewMatchState(snap game.Snapshot) *MatchState {
	return &MatchState{Type: TypeMatchState, Snapshot: snap}
}

type MatchRoundEnd struct {
	Base
	MatchID string `json:"matchId"`
	Round   int    `json:"round"`
	Phase   string `json:"phase"`
}

func NewMatchRoundEnd(matchID string, round int, phase string) *MatchRoundEnd {
	return &MatchRoundEnd{Base: base(TypeMatchRoundEnd), MatchID: matchID, Round: round, Phase: phase}
}

// PostHp is both towers' hit points once a battle settled.
type PostHp struct {
	A int `json:"a"`
	B int `json:"b"`
}

// MatchBattleUpdate is the full tape of one battle. As with MatchState,
// v is the state version stamped when combat resolved.
type MatchBattleUpdate struct {
	Type    string `json:"type"`
	MatchID string `json:"matchId"`
	V       uint64 `json:"v"`
	Round   int    `json:"round"`
	playback.Payload
	PostHp PostHp `json:"postHp"`
}

func NewMatchBattleUpdate(matchID string, v uint64, round int, payload *playback.Payload, postHp PostHp) *MatchBattleUpdate {
	upd := &MatchBattleUpdate{Type: TypeMatchBattleUpdate, MatchID: matchID, V: v, Round: round, PostHp: postHp}
	if payload != nil {
		upd.Payload = *payload
	}
	return upd
}

type MatchForfeitInfo struct {
	Base
	MatchID string `json:"matchId"`
	UserID  uint64 `json:"userId"`
}

func NewMatchForfeitInfo(matchID string, userID uint64) *MatchForfeitInfo {
	return &MatchForfeitInfo{Base: base(TypeMatchForfeitInfo), MatchID: matchID, UserID: userID}
}

type ShopBuyDenied struct {
	Base
	MatchID string `json:"matchId"`
	CardID  string `json:"cardId"`
	Reason  string `json:"reason"`
}

func NewShopBuyDenied(matchID, cardID, reason string) *ShopBuyDenied {
	return &ShopBuyDenied{Base: base(TypeShopBuyDenied), MatchID: matchID, CardID: cardID, Reason: reason}
}

type BoardPlaceDenied struct {
	Base
	MatchID    string `json:"matchId"`
	HandIndex  int    `json:"handIndex"`
	BoardIndex int    `json:"boardIndex"`
	CardID     string `json:"cardId,omitempty"`
	Reason     string `json:"reason"`
}

func NewBoardPlaceDenied(matchID string, handIndex, boardIndex int, cardID, reason string) *BoardPlaceDenied {
	return &BoardPlaceDenied{
		Base:    base(TypeBoardPlaceDenied),
		MatchID: matchID, HandIndex: handIndex, BoardIndex: boardIndex,
		CardID: cardID, Reason: reason,
	}
}

type BoardMerge struct {
	Base
	MatchID string `json:"matchId"`
	game.MergeInfo
}

func NewBoardMerge(matchID string, merge game.MergeInfo) *BoardMerge {
	return &BoardMerge{Base: base(TypeBoardMerge), MatchID: matchID, MergeInfo: merge}
}

// LobbyPlayer is the public seat line of a lobby.
type LobbyPlayer struct {
	UserID   uint64 `json:"userId"`
	Username string `json:"username"`
	IsReady  bool   `json:"isReady"`
	DeckID   string `json:"deckId,omitempty"`
}

// Lobby statuses carried in LobbyInfo.Status.
const (
	LobbyOpen    = "open"
	LobbyFull    = "full"
	LobbyStarted = "started"
)

// LobbyInfo is the public view of a code lobby. MatchID is set once the
// owner started it.
type LobbyInfo struct {
	LobbyID   string        `json:"lobbyId"`
	Status    string        `json:"status"`
	OwnerID   uint64        `json:"ownerId"`
	HasCode   bool          `json:"hasCode"`
	Players   []LobbyPlayer `json:"players"`
	MatchID   string        `json:"matchId,omitempty"`
	CreatedAt int64         `json:"createdAt"`
}

type LobbyState struct {
	Base
	Lobby *LobbyInfo `json:"lobby,omitempty"`
}

func NewLobbyState(lobby *LobbyInfo) *LobbyState {
	return &LobbyState{Base: base(TypeLobbyState), Lobby: lobby}
}

type ErrorFrame struct {
	Base
	Code   string   `json:"code"`
	Msg    string   `json:"msg,omitempty"`
	Issues []string `json:"issues,omitempty"`
}

func NewError(code, msg string) *ErrorFrame {
	return &ErrorFrame{Base: base(TypeError), Code: code, Msg: msg}
}
