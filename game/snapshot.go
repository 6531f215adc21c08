package game

import "sort"

// SelfView is the recipient's own full state. Deck identities are
// exposed sorted so the owner sees the pool without the draw order.
type SelfView struct {
	UserID                uint64   `json:"userId"`
	Username              string   `json:"username"`
	Seat                  int      `json:"seat"`
	TowerColor            string   `json:"towerColor"`
	TowerLevel            int      `json:"towerLevel"`
	TowerHp               int      `json:"towerHp"`
	TowerHpMax            int      `json:"towerHpMax"`
	TowerDps              int      `json:"towerDps"`
	Gold                  int      `json:"gold"`
	RerollCost            int      `json:"rerollCost"`
	TowerUpgradeCost      int      `json:"towerUpgradeCost"`
	Deck                  []string `json:"deck"`
	Hand                  []string `json:"hand"`
	Discard               []string `json:"discard"`
	Board                 []Slot   `json:"board"`
	Shop                  []string `json:"shop"`
	TotalDamageOut        int      `json:"totalDamageOut"`
	TotalDamageIn         int      `json:"totalDamageIn"`
	EliminationReason     string   `json:"eliminationReason,omitempty"`
	PendingMarryProposal  bool     `json:"pendingMarryProposal"`
	LastTowerUpgradeRound int      `json:"lastTowerUpgradeRound"`
	GoldIncome            int      `json:"goldIncome"`
}

// PublicView is what everyone sees of a player: tower facts only, no
// hand, deck or board.
type PublicView struct {
	UserID            uint64 `json:"userId"`
	Username          string `json:"username"`
	Seat              int    `json:"seat"`
	TowerColor        string `json:"towerColor"`
	TowerLevel        int    `json:"towerLevel"`
	TowerHp           int    `json:"towerHp"`
	TowerHpMax        int    `json:"towerHpMax"`
	EliminationReason string `json:"eliminationReason,omitempty"`
	IsWinner          bool   `json:"isWinner,omitempty"`
}

// Snapshot is one per-user view of the match, tagged with the monotonic
// version. Clients discard snapshots whose v is not newer than what they
// already hold.
type Snapshot struct {
	MatchID     string       `json:"matchId"`
	V           uint64       `json:"v"`
	Phase       string       `json:"phase"`
	Round       int          `json:"round"`
	RoundEndsAt int64        `json:"roundEndsAt,omitempty"`
	Self        *SelfView    `json:"self,omitempty"`
	Players     []PublicView `json:"players"`
}

// SnapshotFor builds the view for one user. Everything handed out is a
// copy; the caller can hold it across later mutations.
func (m *Match) SnapshotFor(userID uint64) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		MatchID: m.ID,
		V:       m.version,
		Phase:   m.phase.String(),
		Round:   m.round,
		Players: make([]PublicView, 0, len(m.players)),
	}
	if !m.deadline.IsZero() {
		snap.RoundEndsAt = m.deadline.UnixMilli()
	}
	for _, p := range m.players {
		snap.Players = append(snap.Players, m.publicViewLocked(p))
		if p.UserID == userID {
			snap.Self = m.selfViewLocked(p)
		}
	}
	return snap
}

func (m *Match) publicViewLocked(p *PlayerState) PublicView {
	return PublicView{
		UserID:            p.UserID,
		Username:          p.Username,
		Seat:              p.Seat,
		TowerColor:        p.TowerColor,
		TowerLevel:        p.TowerLevel,
		TowerHp:           p.TowerHp,
		TowerHpMax:        p.TowerHpMax,
		EliminationReason: p.EliminationReason,
		IsWinner:          m.phase == PhaseFinished && m.winnerID != 0 && p.UserID == m.winnerID,
	}
}

func (m *Match) selfViewLocked(p *PlayerState) *SelfView {
	deck := append([]string(nil), p.Deck...)
	sort.Strings(deck)
	board := append([]Slot(nil), p.Board...)
	return &SelfView{
		UserID:                p.UserID,
		Username:              p.Username,
		Seat:                  p.Seat,
		TowerColor:            p.TowerColor,
		TowerLevel:            p.TowerLevel,
		TowerHp:               p.TowerHp,
		TowerHpMax:            p.TowerHpMax,
		TowerDps:              p.TowerDps,
		Gold:                  p.Gold,
		RerollCost:            p.RerollCost,
		TowerUpgradeCost:      p.TowerUpgradeCost,
		Deck:                  deck,
		Hand:                  append([]string(nil), p.Hand...),
		Discard:               append([]string(nil), p.Discard...),
		Board:                 board,
		Shop:                  append([]string(nil), p.Shop...),
		TotalDamageOut:        p.TotalDamageOut,
		TotalDamageIn:         p.TotalDamageIn,
		EliminationReason:     p.EliminationReason,
		PendingMarryProposal:  p.PendingMarryProposal,
		LastTowerUpgradeRound: p.LastTowerUpgradeRound,
		GoldIncome:            p.GoldIncome,
	}
}
