package playback

import "towerlords/game"

// BattleSpec describes one battle to re-simulate offline: the two boards
// as they stood when the shop phase closed, tower stats included. It is
// the JSON shape clients and tools submit; Generate turns it into the
// same payload the live server stored.
type BattleSpec struct {
	Sides  [2]SideSpec `json:"sides"`
	Params *ParamSpec  `json:"params,omitempty"`
}

// SideSpec is one player's battle-relevant state.
type SideSpec struct {
	TowerHp  int        `json:"tower_hp"`
	TowerDps int        `json:"tower_dps"`
	Board    []SlotSpec `json:"board"`

	// Armed buff multipliers; zero means unarmed.
	NextAttackMult  float64 `json:"next_attack_mult,omitempty"`
	NextDefenseMult float64 `json:"next_defense_mult,omitempty"`
	AllAttacksMult  float64 `json:"all_attacks_mult,omitempty"`
}

// SlotSpec is one board slot. An empty CardID means an empty slot.
type SlotSpec struct {
	CardID     string `json:"card_id,omitempty"`
	StackCount int    `json:"stack_count,omitempty"`
}

// ParamSpec overrides the simulation knobs; nil fields keep defaults.
type ParamSpec struct {
	TicksToReach int `json:"ticks_to_reach,omitempty"`
	MaxTicks     int `json:"max_ticks,omitempty"`
	TickMs       int `json:"tick_ms,omitempty"`
}

// Payload is the stored replay shape: the full event tape plus the
// playback hints clients use to drive animation without re-deriving
// state from individual events.
type Payload struct {
	Events         []game.BattleEvent `json:"events"`
	TicksToReach   int                `json:"ticksToReach"`
	InitialUnits   []game.UnitSpawn   `json:"initialUnits"`
	ShotsPerTick   []game.TickShots   `json:"shotsPerTick"`
	PerTickSummary []game.TickSummary `json:"perTickSummary"`
}

// Outcome pairs a payload with the battle verdict for offline callers;
// the live server reads the verdict off the match instead.
type Outcome struct {
	Winner  string   `json:"winner"`
	TowerHp [2]int   `json:"towerHp"`
	Payload *Payload `json:"payload"`
	Ticks   int      `json:"ticks"`
}
