package playback

import (
	"towerlords/cards"
	"towerlords/game"
)

// FromBattle assembles the stored replay payload from a finished battle.
// Slices are shared with the result, which the simulator never reuses.
func FromBattle(res *game.BattleResult) *Payload {
	if res == nil {
		return nil
	}
	return &Payload{
		Events:         res.Events,
		TicksToReach:   res.TicksToReach,
		InitialUnits:   res.InitialUnits,
		ShotsPerTick:   res.ShotsPerTick,
		PerTickSummary: res.PerTickSummary,
	}
}

// Generate re-simulates a battle from a spec and returns the payload the
// live server would have stored for it. The simulation is deterministic,
// so a spec captured from a real round reproduces the original tape
// byte for byte.
func Generate(spec BattleSpec, cat *cards.Catalog) (*Outcome, error) {
	ns, err := normalizeSpec(spec, cat)
	if err != nil {
		return nil, err
	}

	res := game.Simulate(ns.sides[0], ns.sides[1], cat, ns.params)
	return &Outcome{
		Winner:  res.Winner,
		TowerHp: [2]int{res.ATowerHp, res.BTowerHp},
		Payload: FromBattle(&res),
		Ticks:   res.Ticks,
	}, nil
}
