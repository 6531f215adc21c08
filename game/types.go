package game

// Phase 对局阶段
type Phase byte

const (
	PhaseLobby    Phase = 0
	PhaseShop     Phase = 1
	PhaseCombat   Phase = 2
	PhaseFinished Phase = 3
)

var PhaseDictionary = map[Phase]string{
	PhaseLobby:    "lobby",
	PhaseShop:     "shop",
	PhaseCombat:   "combat",
	PhaseFinished: "finished",
}

func (p Phase) String() string { return PhaseDictionary[p] }

// Tower colors by seat.
const (
	TowerColorRed  = "red"
	TowerColorBlue = "blue"
)

// Elimination reasons recorded on a defeated player.
const (
	EliminationTowerDestroyed = "tower_destroyed"
	EliminationForfeit        = "forfeit"
	EliminationMarryRefusal   = "marry_refusal"
	EliminationTimeout        = "timeout"
)

// Slot is one board position. An empty slot has CardID == "" and
// StackCount == 0; a merged stack has StackCount == 2.
type Slot struct {
	CardID     string `json:"cardId,omitempty"`
	StackCount int    `json:"stackCount"`
}

// Empty reports whether the slot holds no card.
func (s Slot) Empty() bool { return s.CardID == "" }

// MaxStack is the largest stack a single slot can hold.
const MaxStack = 2

// MergeInfo describes a board merge so the owner can animate it.
type MergeInfo struct {
	CardID         string `json:"cardId"`
	ChosenIndex    int    `json:"chosenIndex"`
	ClearedIndices []int  `json:"clearedIndices"`
	NewMergeCount  int    `json:"newMergeCount"`
}
