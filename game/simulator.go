package game

import (
	"math"
	"sort"

	"towerlords/cards"
)

// SimParams tunes one battle.
type SimParams struct {
	TicksToReach int
	MaxTicks     int
	TickMs       int
}

// Battle event types.
const (
	EventSpawn    = "spawn"
	EventMove     = "move"
	EventShot     = "shot"
	EventHit      = "hit"
	EventDamage   = "damage"
	EventUnitDied = "unit_died"
	EventTowerHit = "tower_hit"
	EventRoundEnd = "round_end"
)

// Battle winners. None means both towers still stand.
const (
	WinnerA    = "a"
	WinnerB    = "b"
	WinnerDraw = "draw"
	WinnerNone = "none"
)

// Each tower shot carries a fixed payload; DPS buys shot volume.
const shotDamage = 10

// BattleEvent is one entry of the ordered battle tape.
type BattleEvent struct {
	AtMs      int    `json:"atMs"`
	Type      string `json:"type"`
	Side      string `json:"side,omitempty"`
	UnitID    int    `json:"unitId,omitempty"`
	CardID    string `json:"cardId,omitempty"`
	EnemyType string `json:"enemyType,omitempty"`
	SlotIndex int    `json:"slotIndex"`
	Distance  int    `json:"distance"`
	Damage    int    `json:"damage"`
	Hp        int    `json:"hp"`
	Winner    string `json:"winner,omitempty"`
}

// UnitSpawn is the playback hint for one spawned unit.
type UnitSpawn struct {
	UnitID    int    `json:"unitId"`
	Side      string `json:"side"`
	CardID    string `json:"cardId"`
	EnemyType string `json:"enemyType"`
	Hp        int    `json:"hp"`
	Damage    int    `json:"damage"`
	SlotIndex int    `json:"slotIndex"`
}

// TickShots is the per-tick shot count hint, per tower.
type TickShots struct {
	Tick int `json:"tick"`
	A    int `json:"a"`
	B    int `json:"b"`
}

// TickSummary is the per-tick aggregate hint.
type TickSummary struct {
	Tick     int `json:"tick"`
	AtMs     int `json:"atMs"`
	AUnits   int `json:"aUnits"`
	BUnits   int `json:"bUnits"`
	ATowerHp int `json:"aTowerHp"`
	BTowerHp int `json:"bTowerHp"`
}

// BattleResult is everything one battle produced. The match applies the
// post HP; clients replay the tape.
type BattleResult struct {
	Winner         string        `json:"winner"`
	ATowerHp       int           `json:"aTowerHp"`
	BTowerHp       int           `json:"bTowerHp"`
	ADamageDealt   int           `json:"aDamageDealt"`
	BDamageDealt   int           `json:"bDamageDealt"`
	ASurvivors     int           `json:"aSurvivors"`
	BSurvivors     int           `json:"bSurvivors"`
	Events         []BattleEvent `json:"events"`
	InitialUnits   []UnitSpawn   `json:"initialUnits"`
	ShotsPerTick   []TickShots   `json:"shotsPerTick"`
	PerTickSummary []TickSummary `json:"perTickSummary"`
	TicksToReach   int           `json:"ticksToReach"`
	Ticks          int           `json:"ticks"`
}

type simUnit struct {
	id        int
	side      int // 0: marches on B's tower, 1: marches on A's tower
	cardID    string
	enemyType string
	hp        int
	damage    int
	distance  int
	slot      int
	alive     bool
}

type simTower struct {
	hp  int
	dps int
	acc float64
}

// Simulate runs one full battle between the two players' boards. It is a
// pure function of its inputs: it never mutates the player states and
// uses no randomness, so identical inputs produce an identical tape.
func Simulate(a, b *PlayerState, cat *cards.Catalog, p SimParams) BattleResult {
	res := BattleResult{
		Winner:       WinnerNone,
		TicksToReach: p.TicksToReach,
		Events:       []BattleEvent{},
		InitialUnits: []UnitSpawn{},
		ShotsPerTick: []TickShots{},
	}

	towers := [2]simTower{
		{hp: a.TowerHp, dps: effectiveDps(a)},
		{hp: b.TowerHp, dps: effectiveDps(b)},
	}

	var units []*simUnit
	nextID := 1
	for side, ps := range [2]*PlayerState{a, b} {
		units = append(units, spawnSide(ps, side, cat, p, &nextID, &res)...)
	}

	res.PerTickSummary = []TickSummary{summaryRow(0, 0, units, towers)}

	if len(units) == 0 {
		res.Events = append(res.Events, BattleEvent{Type: EventRoundEnd, Winner: WinnerNone})
		finishResult(&res, units, towers, WinnerNone, 0)
		return res
	}

	for t := 1; t <= p.MaxTicks; t++ {
		atMs := t * p.TickMs

		// March.
		for _, u := range units {
			if !u.alive || u.distance <= 0 {
				continue
			}
			u.distance--
			res.Events = append(res.Events, BattleEvent{
				AtMs: atMs, Type: EventMove, Side: sideName(u.side), UnitID: u.id, Distance: u.distance,
			})
		}

		// Towers fire. Tower 0 defends against side-1 units and vice versa.
		shots := TickShots{Tick: t}
		shots.A = fireTower(&towers[0], 0, units, atMs, &res)
		shots.B = fireTower(&towers[1], 1, units, atMs, &res)
		res.ShotsPerTick = append(res.ShotsPerTick, shots)

		// Arrivals strike and are spent.
		for _, u := range units {
			if !u.alive || u.distance > 0 {
				continue
			}
			def := 1 - u.side
			towers[def].hp -= u.damage
			if towers[def].hp < 0 {
				towers[def].hp = 0
			}
			if u.side == 0 {
				res.ADamageDealt += u.damage
			} else {
				res.BDamageDealt += u.damage
			}
			u.alive = false
			res.Events = append(res.Events,
				BattleEvent{AtMs: atMs, Type: EventTowerHit, Side: sideName(def), UnitID: u.id, Damage: u.damage},
				BattleEvent{AtMs: atMs, Type: EventDamage, Side: sideName(def), Damage: u.damage, Hp: towers[def].hp},
			)
		}

		res.PerTickSummary = append(res.PerTickSummary, summaryRow(t, atMs, units, towers))

		winner, done := battleOver(units, towers, t, p.MaxTicks)
		if done {
			res.Events = append(res.Events, BattleEvent{AtMs: atMs, Type: EventRoundEnd, Winner: winner})
			finishResult(&res, units, towers, winner, t)
			return res
		}
	}

	last := p.MaxTicks
	res.Events = append(res.Events, BattleEvent{AtMs: last * p.TickMs, Type: EventRoundEnd, Winner: WinnerNone})
	finishResult(&res, units, towers, WinnerNone, last)
	return res
}

// spawnSide turns a board's attack slots into marching units.
func spawnSide(ps *PlayerState, side int, cat *cards.Catalog, p SimParams, nextID *int, res *BattleResult) []*simUnit {
	firstAttack := -1
	for i, s := range ps.Board {
		if s.Empty() {
			continue
		}
		def, ok := cat.Get(s.CardID)
		if ok && def.Type == cards.TypeAttack && def.Attack != nil && def.Attack.Enemies > 0 {
			firstAttack = i
			break
		}
	}

	var units []*simUnit
	for i, s := range ps.Board {
		if s.Empty() {
			continue
		}
		def, ok := cat.Get(s.CardID)
		if !ok || def.Type != cards.TypeAttack || def.Attack == nil || def.Attack.Enemies <= 0 {
			continue
		}
		mult := 1.0
		if ps.AllAttacksMult > 0 {
			mult *= ps.AllAttacksMult
		}
		if i == firstAttack && ps.NextAttackMult > 0 {
			mult *= ps.NextAttackMult
		}
		dmg := int(math.Round(float64(def.Attack.DamagePerEnemy) * mult))
		hp := cards.UnitHP(def.Attack.EnemyType)
		count := def.Attack.Enemies * s.StackCount

		for n := 0; n < count; n++ {
			u := &simUnit{
				id:        *nextID,
				side:      side,
				cardID:    s.CardID,
				enemyType: def.Attack.EnemyType,
				hp:        hp,
				damage:    dmg,
				distance:  p.TicksToReach,
				slot:      i,
				alive:     true,
			}
			*nextID++
			units = append(units, u)
			res.Events = append(res.Events, BattleEvent{
				AtMs: 0, Type: EventSpawn, Side: sideName(side), UnitID: u.id,
				CardID: u.cardID, EnemyType: u.enemyType, SlotIndex: i, Distance: u.distance, Hp: u.hp,
			})
			res.InitialUnits = append(res.InitialUnits, UnitSpawn{
				UnitID: u.id, Side: sideName(side), CardID: u.cardID, EnemyType: u.enemyType,
				Hp: u.hp, Damage: u.damage, SlotIndex: i,
			})
		}
	}
	return units
}

// fireTower spends the tower's shot budget on the closest hostile units.
// Ties go to the lowest HP, then spawn order. Returns shots fired.
func fireTower(tw *simTower, towerSide int, units []*simUnit, atMs int, res *BattleResult) int {
	targets := hostiles(units, towerSide)
	if len(targets) == 0 {
		tw.acc = 0
		return 0
	}
	tw.acc += float64(tw.dps) / 10.0
	shots := int(tw.acc)
	tw.acc -= float64(shots)

	fired := 0
	for ; fired < shots; fired++ {
		targets = hostiles(units, towerSide)
		if len(targets) == 0 {
			break
		}
		sort.Slice(targets, func(i, j int) bool {
			if targets[i].distance != targets[j].distance {
				return targets[i].distance < targets[j].distance
			}
			if targets[i].hp != targets[j].hp {
				return targets[i].hp < targets[j].hp
			}
			return targets[i].id < targets[j].id
		})
		u := targets[0]
		u.hp -= shotDamage
		res.Events = append(res.Events,
			BattleEvent{AtMs: atMs, Type: EventShot, Side: sideName(towerSide), UnitID: u.id, Damage: shotDamage},
			BattleEvent{AtMs: atMs, Type: EventHit, UnitID: u.id, Damage: shotDamage, Hp: max(u.hp, 0)},
		)
		if u.hp <= 0 {
			u.alive = false
			res.Events = append(res.Events, BattleEvent{AtMs: atMs, Type: EventUnitDied, UnitID: u.id})
		}
	}
	return fired
}

// hostiles lists live units marching on the given tower.
func hostiles(units []*simUnit, towerSide int) []*simUnit {
	var out []*simUnit
	for _, u := range units {
		if u.alive && u.side != towerSide {
			out = append(out, u)
		}
	}
	return out
}

func battleOver(units []*simUnit, towers [2]simTower, tick, maxTicks int) (string, bool) {
	aDead := towers[0].hp <= 0
	bDead := towers[1].hp <= 0
	switch {
	case aDead && bDead:
		return WinnerDraw, true
	case aDead:
		return WinnerB, true
	case bDead:
		return WinnerA, true
	}
	for _, u := range units {
		if u.alive {
			if tick >= maxTicks {
				return WinnerNone, true
			}
			return "", false
		}
	}
	return WinnerNone, true
}

func finishResult(res *BattleResult, units []*simUnit, towers [2]simTower, winner string, ticks int) {
	res.Winner = winner
	res.ATowerHp = towers[0].hp
	res.BTowerHp = towers[1].hp
	res.Ticks = ticks
	for _, u := range units {
		if !u.alive {
			continue
		}
		if u.side == 0 {
			res.ASurvivors++
		} else {
			res.BSurvivors++
		}
	}
}

func summaryRow(tick, atMs int, units []*simUnit, towers [2]simTower) TickSummary {
	row := TickSummary{Tick: tick, AtMs: atMs, ATowerHp: towers[0].hp, BTowerHp: towers[1].hp}
	for _, u := range units {
		if !u.alive {
			continue
		}
		if u.side == 0 {
			row.AUnits++
		} else {
			row.BUnits++
		}
	}
	return row
}

func effectiveDps(p *PlayerState) int {
	if p.NextDefenseMult > 0 {
		return int(math.Round(float64(p.TowerDps) * p.NextDefenseMult))
	}
	return p.TowerDps
}

func sideName(side int) string {
	if side == 0 {
		return "a"
	}
	return "b"
}
