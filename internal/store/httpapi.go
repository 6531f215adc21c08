package store

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"towerlords/cards"
)

const resultCacheSize = 256

// HTTPHandler serves the read side: finished matches, player history,
// the card catalog and the stock decks.
type HTTPHandler struct {
	store   Store
	catalog *cards.Catalog
	log     *zap.Logger

	// Results are immutable once written, so cached entries never need
	// invalidating.
	cache *lru.Cache[string, *StoredMatchResult]
}

func NewHTTPHandler(st Store, catalog *cards.Catalog, log *zap.Logger) *HTTPHandler {
	cache, _ := lru.New[string, *StoredMatchResult](resultCacheSize)
	return &HTTPHandler{store: st, catalog: catalog, log: log, cache: cache}
}

func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/matches/", h.handleMatch)
	mux.HandleFunc("/players/", h.handlePlayerMatches)
	mux.HandleFunc("/cards", h.handleCards)
	mux.HandleFunc("/decks", h.handleDecks)
}

type matchResponse struct {
	OK    bool               `json:"ok"`
	Match *StoredMatchResult `json:"match"`
}

type matchListResponse struct {
	OK      bool          `json:"ok"`
	Matches []MatchRecord `json:"matches"`
}

type cardsResponse struct {
	OK    bool               `json:"ok"`
	Cards []cards.Definition `json:"cards"`
}

type decksResponse struct {
	OK    bool   `json:"ok"`
	Decks []Deck `json:"decks"`
}

type apiError struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// GET /matches/{id}?includeEvents=1
func (h *HTTPHandler) handleMatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	matchID := strings.TrimPrefix(r.URL.Path, "/matches/")
	if matchID == "" || strings.Contains(matchID, "/") {
		writeAPIError(w, http.StatusNotFound, "match not found")
		return
	}
	includeEvents, _ := strconv.ParseBool(r.URL.Query().Get("includeEvents"))

	res, ok := h.cache.Get(matchID)
	if !ok {
		var err error
		res, err = h.store.ResultByID(r.Context(), matchID, true)
		if err != nil {
			h.log.Error("match lookup failed", zap.String("matchId", matchID), zap.Error(err))
			writeAPIError(w, http.StatusInternalServerError, "storage unavailable")
			return
		}
		if res == nil {
			writeAPIError(w, http.StatusNotFound, "match not found")
			return
		}
		h.cache.Add(matchID, res)
	}

	out := res
	if !includeEvents {
		out = cloneResult(res, false)
	}
	writeAPIJSON(w, http.StatusOK, matchResponse{OK: true, Match: out})
}

// GET /players/{id}/matches?limit=20
func (h *HTTPHandler) handlePlayerMatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/players/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "matches" {
		writeAPIError(w, http.StatusNotFound, "not found")
		return
	}
	userID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil || userID == 0 {
		writeAPIError(w, http.StatusBadRequest, "invalid player id")
		return
	}

	recs, err := h.store.MatchesByPlayer(r.Context(), userID, parseLimit(r.URL.Query().Get("limit")))
	if err != nil {
		h.log.Error("player matches lookup failed", zap.Uint64("userId", userID), zap.Error(err))
		writeAPIError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	writeAPIJSON(w, http.StatusOK, matchListResponse{OK: true, Matches: recs})
}

// GET /cards
func (h *HTTPHandler) handleCards(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeAPIJSON(w, http.StatusOK, cardsResponse{OK: true, Cards: h.catalog.List()})
}

// GET /decks
func (h *HTTPHandler) handleDecks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	decks, err := h.store.ListDecks(r.Context())
	if err != nil {
		h.log.Error("deck list failed", zap.Error(err))
		writeAPIError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	writeAPIJSON(w, http.StatusOK, decksResponse{OK: true, Decks: decks})
}

func parseLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 20
	}
	if n > 100 {
		return 100
	}
	return n
}

func writeAPIError(w http.ResponseWriter, status int, msg string) {
	writeAPIJSON(w, status, apiError{Error: msg})
}

func writeAPIJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
