package lobby

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"towerlords/internal/wire"
)

// SessionResolver authenticates bearer tokens. auth.Service satisfies it.
type SessionResolver interface {
	ResolveSession(token string) (userID uint64, username string, ok bool)
}

// HTTPHandler exposes the lobby surface: POST/GET /lobbies, GET
// /lobbies/{id} and POST /lobbies/{id}/(join|leave|close|start). Deck
// and ready changes ride the socket, not HTTP.
type HTTPHandler struct {
	manager *Manager
	auth    SessionResolver
}

func NewHTTPHandler(manager *Manager, auth SessionResolver) *HTTPHandler {
	return &HTTPHandler{manager: manager, auth: auth}
}

func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/lobbies", h.handleCollection)
	mux.HandleFunc("/lobbies/", h.handleLobby)
}

type createRequest struct {
	Code string `json:"code"`
}

type joinRequest struct {
	Code string `json:"code"`
}

type lobbyResponse struct {
	OK    bool            `json:"ok"`
	Lobby *wire.LobbyInfo `json:"lobby"`
}

type lobbyListResponse struct {
	OK      bool             `json:"ok"`
	Lobbies []wire.LobbyInfo `json:"lobbies"`
}

type ackResponse struct {
	OK bool `json:"ok"`
}

func (h *HTTPHandler) handleCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeLobbyJSON(w, http.StatusOK, lobbyListResponse{OK: true, Lobbies: h.manager.ListOpen()})
	case http.MethodPost:
		userID, username, ok := h.user(r)
		if !ok {
			writeLobbyError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		var req createRequest
		if err := decodeBody(r, &req); err != nil {
			writeLobbyError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		info, err := h.manager.Create(r.Context(), userID, username, req.Code)
		if err != nil {
			h.writeManagerError(w, err)
			return
		}
		writeLobbyJSON(w, http.StatusCreated, lobbyResponse{OK: true, Lobby: info})
	default:
		writeLobbyError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *HTTPHandler) handleLobby(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/lobbies/")
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		if r.Method != http.MethodGet {
			writeLobbyError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		info, err := h.manager.Get(parts[0])
		if err != nil {
			h.writeManagerError(w, err)
			return
		}
		writeLobbyJSON(w, http.StatusOK, lobbyResponse{OK: true, Lobby: info})
	case len(parts) == 2 && parts[0] != "":
		if r.Method != http.MethodPost {
			writeLobbyError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleVerb(w, r, parts[0], parts[1])
	default:
		writeLobbyError(w, http.StatusNotFound, "not found")
	}
}

func (h *HTTPHandler) handleVerb(w http.ResponseWriter, r *http.Request, lobbyID, verb string) {
	userID, username, ok := h.user(r)
	if !ok {
		writeLobbyError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	switch verb {
	case "join":
		var req joinRequest
		if err := decodeBody(r, &req); err != nil {
			writeLobbyError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		info, err := h.manager.Join(r.Context(), lobbyID, userID, username, req.Code)
		if err != nil {
			h.writeManagerError(w, err)
			return
		}
		writeLobbyJSON(w, http.StatusOK, lobbyResponse{OK: true, Lobby: info})
	case "leave":
		if err := h.manager.Leave(r.Context(), lobbyID, userID); err != nil {
			h.writeManagerError(w, err)
			return
		}
		writeLobbyJSON(w, http.StatusOK, ackResponse{OK: true})
	case "close":
		if err := h.manager.Close(r.Context(), lobbyID, userID); err != nil {
			h.writeManagerError(w, err)
			return
		}
		writeLobbyJSON(w, http.StatusOK, ackResponse{OK: true})
	case "start":
		info, err := h.manager.Start(r.Context(), lobbyID, userID)
		if err != nil {
			h.writeManagerError(w, err)
			return
		}
		writeLobbyJSON(w, http.StatusOK, lobbyResponse{OK: true, Lobby: info})
	default:
		writeLobbyError(w, http.StatusNotFound, "not found")
	}
}

func (h *HTTPHandler) user(r *http.Request) (uint64, string, bool) {
	raw := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(raw, prefix) {
		return 0, "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(raw, prefix))
	if token == "" {
		return 0, "", false
	}
	return h.auth.ResolveSession(token)
}

func (h *HTTPHandler) writeManagerError(w http.ResponseWriter, err error) {
	writeLobbyError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotOwner), errors.Is(err, ErrNotMember), errors.Is(err, ErrCodeRequired):
		return http.StatusForbidden
	case errors.Is(err, ErrFull), errors.Is(err, ErrNotOpen), errors.Is(err, ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, ErrUnknownDeck):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(dst)
}

type lobbyError struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func writeLobbyError(w http.ResponseWriter, status int, msg string) {
	writeLobbyJSON(w, status, lobbyError{Error: msg})
}

func writeLobbyJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
