package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"towerlords/game"
	"towerlords/internal/chat"
	"towerlords/internal/config"
	"towerlords/internal/lobby"
	"towerlords/internal/match"
	"towerlords/internal/matchmaking"
	"towerlords/internal/wire"
)

const (
	maxFrameBytes = 64 << 10
	writeTimeout  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // TODO: restrict to the known web origins before exposing this publicly
	},
}

// SessionResolver turns a bearer token into an identity. The auth
// service satisfies it.
type SessionResolver interface {
	ResolveSession(token string) (userID uint64, username string, ok bool)
}

// Deps are the services the router dispatches into.
type Deps struct {
	Auth     SessionResolver
	Registry *match.Registry
	Queue    *matchmaking.Queue
	Lobbies  *lobby.Manager
	Chat     *chat.Service
}

// Server accepts WebSocket clients, runs their pumps, and routes inbound
// frames to the match registry, matchmaking queue, lobbies and chat.
type Server struct {
	hub      *Hub
	auth     SessionResolver
	registry *match.Registry
	queue    *matchmaking.Queue
	lobbies  *lobby.Manager
	chat     *chat.Service
	log      *zap.Logger

	keepalive     time.Duration
	readTimeout   time.Duration
	authTimeout   time.Duration
	actionTimeout time.Duration
	sendQueue     int
	endRound      bool

	pingFrame []byte
	pongFrame []byte
}

func NewServer(cfg config.GatewayConfig, features config.FeaturesConfig, hub *Hub, deps Deps, log *zap.Logger) *Server {
	keepalive := time.Duration(cfg.KeepaliveMs) * time.Millisecond
	if keepalive <= 0 {
		keepalive = 15 * time.Second
	}
	miss := cfg.KeepaliveMiss
	if miss <= 0 {
		miss = 2
	}
	authTimeout := time.Duration(cfg.AuthTimeoutMs) * time.Millisecond
	if authTimeout <= 0 {
		authTimeout = 5 * time.Second
	}
	actionTimeout := time.Duration(cfg.ActionTimeoutMs) * time.Millisecond
	if actionTimeout <= 0 {
		actionTimeout = 2 * time.Second
	}
	sendQueue := cfg.SendQueue
	if sendQueue <= 0 {
		sendQueue = 64
	}
	return &Server{
		hub:      hub,
		auth:     deps.Auth,
		registry: deps.Registry,
		queue:    deps.Queue,
		lobbies:  deps.Lobbies,
		chat:     deps.Chat,
		log:      log,

		keepalive: keepalive,
		// A client that misses this many keepalives on top of the
		// interval itself is considered gone.
		readTimeout:   keepalive * time.Duration(miss+1),
		authTimeout:   authTimeout,
		actionTimeout: actionTimeout,
		sendQueue:     sendQueue,
		endRound:      features.EndRound,

		pingFrame: wire.Marshal(wire.NewPing()),
		pongFrame: wire.Marshal(wire.NewPong()),
	}
}

// HandleWS upgrades the request and hands the socket to the pumps. The
// client gets HELLO immediately and must AUTH within the auth window.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := s.hub.register(ws, s.sendQueue)
	c.enqueue(wire.Marshal(wire.NewHello(c.id, time.Now().UnixMilli())))

	// The close frame carries the code; an ERROR frame queued here could
	// race the teardown and never flush.
	c.mu.Lock()
	c.authTimer = time.AfterFunc(s.authTimeout, func() {
		if !c.authed() {
			c.shutdown(websocket.ClosePolicyViolation, wire.CodeUnauthenticated)
		}
	})
	c.mu.Unlock()

	s.log.Info("client connected",
		zap.String("connId", c.id),
		zap.String("remote", r.RemoteAddr),
		zap.Int("total", s.hub.ConnCount()))

	go s.writePump(c)
	go s.readPump(c)
}

func (s *Server) readPump(c *Conn) {
	defer s.disconnect(c)

	c.ws.SetReadLimit(maxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(s.readTimeout))
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Debug("read error", zap.String("connId", c.id), zap.Error(err))
			}
			return
		}
		// Any inbound frame proves liveness.
		_ = c.ws.SetReadDeadline(time.Now().Add(s.readTimeout))
		s.route(c, data)
	}
}

func (s *Server) writePump(c *Conn) {
	ticker := time.NewTicker(s.keepalive)
	defer func() {
		ticker.Stop()
		c.shutdown(websocket.CloseNormalClosure, "")
	}()
	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, s.pingFrame); err != nil {
				return
			}
		}
	}
}

func (s *Server) disconnect(c *Conn) {
	c.shutdown(websocket.CloseNormalClosure, "")
	s.hub.unregister(c)
	if uid, _ := c.user(); uid != 0 {
		// Keep their queue spot warm for a reconnect; the TTL sweep
		// reaps them if they stay away.
		s.queue.MarkGone(uid)
	}
	s.log.Info("client disconnected",
		zap.String("connId", c.id),
		zap.Int("total", s.hub.ConnCount()))
}

// route decodes one frame and dispatches it. A panicking handler loses
// the frame, not the process.
func (s *Server) route(c *Conn, data []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			uid, _ := c.user()
			s.log.Error("handler panic",
				zap.String("connId", c.id),
				zap.Uint64("userId", uid),
				zap.Any("panic", rec),
				zap.Stack("stack"))
			c.enqueue(wire.Marshal(wire.NewError(wire.CodeInternal, "internal error")))
		}
	}()

	in, err := wire.DecodeInbound(data)
	if err != nil {
		var perr *wire.ProtocolError
		if errors.As(err, &perr) {
			c.enqueue(wire.Marshal(wire.NewError(perr.Code, perr.Msg)))
		}
		return
	}

	switch in.Type {
	case wire.TypePing:
		c.enqueue(s.pongFrame)
		return
	case wire.TypePong:
		return
	case wire.TypeAuth:
		s.handleAuth(c, in)
		return
	}

	uid, username := c.user()
	if uid == 0 {
		c.enqueue(wire.Marshal(wire.NewError(wire.CodeUnauthenticated, "authenticate first")))
		return
	}

	switch in.Type {
	case wire.TypeMatchJoin:
		s.handleMatchJoin(c, uid, in)
	case wire.TypeMatchStateRequest:
		s.handleAction(c, uid, in, match.Action{Type: match.ActionStateRequest, UserID: uid})
	case wire.TypeMatchReadyConfirm:
		s.handleAction(c, uid, in, match.Action{Type: match.ActionReadyConfirm, UserID: uid})
	case wire.TypeMatchmakingStart:
		s.handleQueueStart(c, uid, username, in)
	case wire.TypeMatchmakingCancel:
		s.handleQueueCancel(c, uid)
	case wire.TypeLobbySubscribe:
		s.handleLobbySubscribe(c, uid, in)
	case wire.TypeLobbySetDeck:
		s.handleLobbySetDeck(c, uid, in)
	case wire.TypeLobbySetReady:
		s.handleLobbySetReady(c, uid, in)
	case wire.TypeChatSend:
		s.handleChatSend(c, uid, username, in)
	case wire.TypeChatHistoryRequest:
		s.handleChatHistory(c, uid)
	case wire.TypeShopReroll:
		s.handleAction(c, uid, in, match.Action{Type: match.ActionShopReroll, UserID: uid})
	case wire.TypeShopBuy:
		s.handleShopBuy(c, uid, in)
	case wire.TypeBoardPlace:
		s.handleBoardPlace(c, uid, in)
	case wire.TypeBoardSell:
		s.handleAction(c, uid, in, match.Action{Type: match.ActionBoardSell, UserID: uid, BoardIndex: in.BoardIndex})
	case wire.TypeTowerUpgrade:
		s.handleAction(c, uid, in, match.Action{Type: match.ActionTowerUpgrade, UserID: uid})
	case wire.TypeMatchEndRound:
		if !s.endRound {
			c.enqueue(wire.Marshal(wire.NewError(wire.CodeBadFrame, "end round is disabled")))
			return
		}
		s.handleAction(c, uid, in, match.Action{Type: match.ActionEndRound, UserID: uid, Round: in.Round})
	case wire.TypeMatchForfeit:
		s.handleAction(c, uid, in, match.Action{Type: match.ActionForfeit, UserID: uid})
	case wire.TypeBattleDone:
		s.handleAction(c, uid, in, match.Action{Type: match.ActionBattleDone, UserID: uid, Round: in.Round})
	default:
		// DecodeInbound only admits known types; keep the router honest.
		c.enqueue(wire.Marshal(wire.NewError(wire.CodeBadFrame, "unhandled type")))
	}
}

func (s *Server) handleAuth(c *Conn, in *wire.Inbound) {
	if c.authed() {
		c.enqueue(wire.Marshal(wire.NewError(wire.CodeBadFrame, "already authenticated")))
		return
	}
	userID, username, ok := s.auth.ResolveSession(in.Token)
	if !ok {
		c.enqueue(wire.Marshal(wire.NewAuthFail()))
		return
	}
	c.stopAuthTimer()
	s.hub.bindUser(c, userID, username)
	s.queue.MarkSeen(userID)
	c.enqueue(wire.Marshal(wire.NewAuthOK(userID)))
	s.log.Info("client authenticated",
		zap.String("connId", c.id),
		zap.Uint64("userId", userID),
		zap.String("username", username))
}

// resolveMatch finds the target runner: an explicit matchId wins,
// otherwise the match the user is seated in.
func (s *Server) resolveMatch(c *Conn, userID uint64, matchID string) (*match.Runner, bool) {
	if matchID != "" {
		r, ok := s.registry.Lookup(matchID)
		if !ok {
			c.enqueue(wire.Marshal(wire.NewError(wire.CodeMatchNotFound, "no such match")))
			return nil, false
		}
		return r, true
	}
	r, ok := s.registry.FindByUser(userID)
	if !ok {
		c.enqueue(wire.Marshal(wire.NewError(wire.CodeMatchNotAvailable, "you are not in a match")))
		return nil, false
	}
	return r, true
}

func (s *Server) submit(r *match.Runner, a match.Action) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.actionTimeout)
	defer cancel()
	return r.Submit(ctx, a)
}

// matchErrorFrame maps a runner error onto an ERROR frame. Rule denials
// keep their denial code.
func (s *Server) matchErrorFrame(err error) []byte {
	if d, ok := game.AsDenial(err); ok {
		return wire.Marshal(wire.NewError(d.Code, ""))
	}
	switch {
	case errors.Is(err, game.ErrMatchFinished):
		return wire.Marshal(wire.NewError(wire.CodeMatchNotRunning, "match is over"))
	case errors.Is(err, game.ErrNotAPlayer):
		return wire.Marshal(wire.NewError(wire.CodeNotAPlayer, ""))
	case errors.Is(err, match.ErrClosed):
		return wire.Marshal(wire.NewError(wire.CodeMatchNotAvailable, "match is gone"))
	case errors.Is(err, context.DeadlineExceeded):
		return wire.Marshal(wire.NewError(wire.CodeTimeout, ""))
	default:
		return wire.Marshal(wire.NewError(wire.CodeInternal, ""))
	}
}

func (s *Server) handleAction(c *Conn, uid uint64, in *wire.Inbound, a match.Action) {
	r, ok := s.resolveMatch(c, uid, in.MatchID)
	if !ok {
		return
	}
	if err := s.submit(r, a); err != nil {
		c.enqueue(s.matchErrorFrame(err))
	}
}

// handleMatchJoin seats the connection in the match room and replays
// the chat backlog. The runner pushes a fresh snapshot to the user room
// before Submit returns, so the client sees MATCH_STATE, then history.
func (s *Server) handleMatchJoin(c *Conn, uid uint64, in *wire.Inbound) {
	r, ok := s.resolveMatch(c, uid, in.MatchID)
	if !ok {
		return
	}
	if err := s.submit(r, match.Action{Type: match.ActionJoin, UserID: uid}); err != nil {
		c.enqueue(s.matchErrorFrame(err))
		return
	}
	// Joining a match supersedes the lobby it came from and any earlier
	// match; stale subscriptions would leak those rooms' frames here.
	room := wire.MatchRoom(r.ID)
	for _, old := range c.roomList() {
		if old != room && (wire.IsMatchRoom(old) || wire.IsLobbyRoom(old)) {
			s.hub.Unsubscribe(c, old)
		}
	}
	s.hub.Subscribe(c, room)
	c.enqueue(wire.Marshal(wire.NewChatHistory(r.ID, s.chat.History(r.ID))))
}

func (s *Server) handleShopBuy(c *Conn, uid uint64, in *wire.Inbound) {
	r, ok := s.resolveMatch(c, uid, in.MatchID)
	if !ok {
		return
	}
	err := s.submit(r, match.Action{Type: match.ActionShopBuy, UserID: uid, CardID: in.CardID})
	if err == nil {
		return
	}
	if d, denied := game.AsDenial(err); denied {
		c.enqueue(wire.Marshal(wire.NewShopBuyDenied(r.ID, in.CardID, d.Code)))
		return
	}
	c.enqueue(s.matchErrorFrame(err))
}

func (s *Server) handleBoardPlace(c *Conn, uid uint64, in *wire.Inbound) {
	r, ok := s.resolveMatch(c, uid, in.MatchID)
	if !ok {
		return
	}
	err := s.submit(r, match.Action{
		Type:       match.ActionBoardPlace,
		UserID:     uid,
		HandIndex:  in.HandIndex,
		BoardIndex: in.BoardIndex,
	})
	if err == nil {
		return
	}
	if d, denied := game.AsDenial(err); denied {
		c.enqueue(wire.Marshal(wire.NewBoardPlaceDenied(r.ID, in.HandIndex, in.BoardIndex, d.CardID, d.Code)))
		return
	}
	c.enqueue(s.matchErrorFrame(err))
}

func (s *Server) handleQueueStart(c *Conn, uid uint64, username string, in *wire.Inbound) {
	ctx, cancel := context.WithTimeout(context.Background(), s.actionTimeout)
	defer cancel()
	err := s.queue.Enqueue(ctx, uid, username, in.DeckID)
	switch {
	case err == nil:
	case errors.Is(err, matchmaking.ErrQueueFull):
		c.enqueue(wire.Marshal(wire.NewError(wire.CodeQueueFull, "matchmaking queue is full")))
	case errors.Is(err, matchmaking.ErrUnknownDeck):
		c.enqueue(wire.Marshal(wire.NewError(wire.CodeBadFrame, err.Error())))
	case errors.Is(err, context.DeadlineExceeded):
		c.enqueue(wire.Marshal(wire.NewError(wire.CodeTimeout, "")))
	default:
		s.log.Error("enqueue failed", zap.Uint64("userId", uid), zap.Error(err))
		c.enqueue(wire.Marshal(wire.NewError(wire.CodeInternal, "")))
	}
}

func (s *Server) handleQueueCancel(c *Conn, uid uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.actionTimeout)
	defer cancel()
	if err := s.queue.Cancel(ctx, uid); err != nil && !errors.Is(err, matchmaking.ErrClosed) {
		s.log.Warn("queue cancel failed", zap.Uint64("userId", uid), zap.Error(err))
	}
}

// handleLobbySubscribe joins the lobby room after a membership check and
// replays the current lobby state so the client has a baseline.
func (s *Server) handleLobbySubscribe(c *Conn, uid uint64, in *wire.Inbound) {
	if err := s.lobbies.Member(in.LobbyID, uid); err != nil {
		c.enqueue(wire.Marshal(wire.NewError(lobby.ErrorCode(err), err.Error())))
		return
	}
	s.hub.Subscribe(c, wire.LobbyRoom(in.LobbyID))
	if info, err := s.lobbies.Get(in.LobbyID); err == nil {
		c.enqueue(wire.Marshal(wire.NewLobbyState(info)))
	}
}

func (s *Server) handleLobbySetDeck(c *Conn, uid uint64, in *wire.Inbound) {
	ctx, cancel := context.WithTimeout(context.Background(), s.actionTimeout)
	defer cancel()
	if _, err := s.lobbies.SetDeck(ctx, in.LobbyID, uid, in.DeckID); err != nil {
		c.enqueue(wire.Marshal(wire.NewError(lobby.ErrorCode(err), err.Error())))
	}
}

func (s *Server) handleLobbySetReady(c *Conn, uid uint64, in *wire.Inbound) {
	ctx, cancel := context.WithTimeout(context.Background(), s.actionTimeout)
	defer cancel()
	if _, err := s.lobbies.SetReady(ctx, in.LobbyID, uid, in.IsReady); err != nil {
		c.enqueue(wire.Marshal(wire.NewError(lobby.ErrorCode(err), err.Error())))
	}
}

func (s *Server) handleChatSend(c *Conn, uid uint64, username string, in *wire.Inbound) {
	r, ok := s.registry.FindByUser(uid)
	if !ok {
		c.enqueue(wire.Marshal(wire.NewError(wire.CodeMatchNotAvailable, "you are not in a match")))
		return
	}
	msg, err := s.chat.Send(r.ID, uid, username, in.Text)
	if err != nil {
		// Rate-limited and empty sends drop silently; the sender can
		// tell because their message never echoes back.
		return
	}
	s.hub.Publish(wire.MatchRoom(r.ID), wire.Marshal(wire.NewChatMsg(r.ID, msg)))
}

func (s *Server) handleChatHistory(c *Conn, uid uint64) {
	r, ok := s.registry.FindByUser(uid)
	if !ok {
		c.enqueue(wire.Marshal(wire.NewError(wire.CodeMatchNotAvailable, "you are not in a match")))
		return
	}
	c.enqueue(wire.Marshal(wire.NewChatHistory(r.ID, s.chat.History(r.ID))))
}
