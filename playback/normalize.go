package playback

import (
	"fmt"

	"towerlords/cards"
	"towerlords/game"
)

const defaultBoardSize = 7

type normalizedSpec struct {
	sides  [2]*game.PlayerState
	params game.SimParams
}

func normalizeSpec(spec BattleSpec, cat *cards.Catalog) (normalizedSpec, error) {
	var out normalizedSpec
	if cat == nil {
		return out, specErr("missing_catalog", "card catalog is required")
	}

	out.params = defaultParams()
	if p := spec.Params; p != nil {
		if p.TicksToReach > 0 {
			out.params.TicksToReach = p.TicksToReach
		}
		if p.MaxTicks > 0 {
			out.params.MaxTicks = p.MaxTicks
		}
		if p.TickMs > 0 {
			out.params.TickMs = p.TickMs
		}
	}
	if out.params.MaxTicks < out.params.TicksToReach {
		return out, specErr("invalid_params", "max_ticks must cover ticks_to_reach")
	}

	for side := range spec.Sides {
		ps, err := normalizeSide(side, spec.Sides[side], cat)
		if err != nil {
			return out, err
		}
		out.sides[side] = ps
	}
	return out, nil
}

func normalizeSide(side int, s SideSpec, cat *cards.Catalog) (*game.PlayerState, error) {
	if s.TowerHp < 0 {
		return nil, specErr("invalid_tower", fmt.Sprintf("side %d tower_hp must be >= 0", side))
	}
	if s.TowerDps < 0 {
		return nil, specErr("invalid_tower", fmt.Sprintf("side %d tower_dps must be >= 0", side))
	}
	if len(s.Board) > defaultBoardSize {
		return nil, specErr("invalid_board", fmt.Sprintf("side %d board has %d slots, max %d", side, len(s.Board), defaultBoardSize))
	}

	board := make([]game.Slot, defaultBoardSize)
	for i, slot := range s.Board {
		if slot.CardID == "" {
			if slot.StackCount != 0 {
				return nil, slotErr(side, i, "invalid_slot", "empty slot cannot carry a stack")
			}
			continue
		}
		def, ok := cat.Get(slot.CardID)
		if !ok {
			return nil, slotErr(side, i, "unknown_card", fmt.Sprintf("card %q is not in the catalog", slot.CardID))
		}
		if !def.Occupies() {
			return nil, slotErr(side, i, "invalid_slot", fmt.Sprintf("card %q does not occupy a board slot", slot.CardID))
		}
		if slot.StackCount < 1 || slot.StackCount > game.MaxStack {
			return nil, slotErr(side, i, "invalid_stack", fmt.Sprintf("stack_count %d out of range 1..%d", slot.StackCount, game.MaxStack))
		}
		board[i] = game.Slot{CardID: slot.CardID, StackCount: slot.StackCount}
	}

	for _, m := range []struct {
		name  string
		value float64
	}{
		{"next_attack_mult", s.NextAttackMult},
		{"next_defense_mult", s.NextDefenseMult},
		{"all_attacks_mult", s.AllAttacksMult},
	} {
		if m.value < 0 {
			return nil, specErr("invalid_buff", fmt.Sprintf("side %d %s must be >= 0", side, m.name))
		}
	}

	return &game.PlayerState{
		Seat:            side,
		TowerHp:         s.TowerHp,
		TowerDps:        s.TowerDps,
		Board:           board,
		NextAttackMult:  s.NextAttackMult,
		NextDefenseMult: s.NextDefenseMult,
		AllAttacksMult:  s.AllAttacksMult,
	}, nil
}

func defaultParams() game.SimParams {
	r := game.DefaultRules()
	return game.SimParams{
		TicksToReach: r.TicksToReach,
		MaxTicks:     r.MaxTicks,
		TickMs:       r.SimTickMs,
	}
}
