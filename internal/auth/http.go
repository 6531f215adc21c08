package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"towerlords/internal/wire"
)

// Presence reports where a user currently is so /me can point a
// reconnecting client back at its match or lobby.
type Presence struct {
	MatchID     string          `json:"matchId,omitempty"`
	MatchStatus string          `json:"matchStatus,omitempty"`
	Lobby       *wire.LobbyInfo `json:"lobby,omitempty"`
}

// PresenceFunc is wired by main; nil means /me reports the account only.
type PresenceFunc func(userID uint64) Presence

type HTTPHandler struct {
	service  Service
	presence PresenceFunc
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userPayload struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
}

type authResponse struct {
	OK    bool        `json:"ok"`
	User  userPayload `json:"user"`
	Token string      `json:"token"`
}

type meResponse struct {
	OK   bool        `json:"ok"`
	User userPayload `json:"user"`
	Presence
}

type errorResponse struct {
	OK     bool     `json:"ok"`
	Error  string   `json:"error"`
	Issues []string `json:"issues,omitempty"`
}

func NewHTTPHandler(service Service, presence PresenceFunc) *HTTPHandler {
	return &HTTPHandler{service: service, presence: presence}
}

func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/register", h.handleRegister)
	mux.HandleFunc("/login", h.handleLogin)
	mux.HandleFunc("/logout", h.handleLogout)
	mux.HandleFunc("/me", h.handleMe)
}

func (h *HTTPHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID, token, err := h.service.Register(req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidUsername), errors.Is(err, ErrInvalidPassword):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrUsernameTaken):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "register failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		OK:    true,
		User:  userPayload{ID: userID, Username: normalizeUsername(req.Username)},
		Token: token,
	})
}

func (h *HTTPHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID, token, err := h.service.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid username or password")
			return
		}
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		OK:    true,
		User:  userPayload{ID: userID, Username: normalizeUsername(req.Username)},
		Token: token,
	})
}

func (h *HTTPHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing session token")
		return
	}

	h.service.Logout(token)
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing session token")
		return
	}

	userID, username, ok := h.service.ResolveSession(token)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return
	}

	resp := meResponse{OK: true, User: userPayload{ID: userID, Username: username}}
	if h.presence != nil {
		resp.Presence = h.presence(userID)
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func bearerToken(raw string) string {
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
