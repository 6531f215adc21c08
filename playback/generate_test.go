package playback

import (
	"reflect"
	"testing"

	"towerlords/cards"
	"towerlords/game"
)

func TestGenerate_IsDeterministic(t *testing.T) {
	cat := cards.Builtin()
	spec := baseBattleSpec()

	outA, err := Generate(spec, cat)
	if err != nil {
		t.Fatalf("Generate A failed: %v", err)
	}
	outB, err := Generate(spec, cat)
	if err != nil {
		t.Fatalf("Generate B failed: %v", err)
	}

	if !reflect.DeepEqual(outA, outB) {
		t.Fatalf("expected deterministic payload for the same BattleSpec")
	}
	if len(outA.Payload.Events) == 0 {
		t.Fatalf("expected non-empty event tape")
	}
}

func TestGenerate_GoblinRaidShotDown(t *testing.T) {
	cat := cards.Builtin()
	spec := baseBattleSpec()

	out, err := Generate(spec, cat)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	spawns := 0
	died := 0
	for _, e := range out.Payload.Events {
		switch e.Type {
		case game.EventSpawn:
			if e.AtMs != 0 {
				t.Fatalf("spawn event at atMs=%d, want 0", e.AtMs)
			}
			spawns++
		case game.EventUnitDied:
			died++
		case game.EventTowerHit:
			t.Fatalf("no unit should reach a tower in this battle")
		}
	}
	if spawns != 8 {
		t.Fatalf("spawned %d units, want 8", spawns)
	}
	if died != 8 {
		t.Fatalf("%d units died, want all 8", died)
	}
	if out.Winner != game.WinnerNone {
		t.Fatalf("winner = %q, want %q", out.Winner, game.WinnerNone)
	}
	if out.TowerHp[0] != 1000 || out.TowerHp[1] != 1000 {
		t.Fatalf("tower hp = %v, want both 1000", out.TowerHp)
	}
	if len(out.Payload.InitialUnits) != 8 {
		t.Fatalf("initialUnits = %d, want 8", len(out.Payload.InitialUnits))
	}
}

func TestGenerate_RejectsUnknownCard(t *testing.T) {
	cat := cards.Builtin()
	spec := baseBattleSpec()
	spec.Sides[0].Board[0].CardID = "no_such_card"

	_, err := Generate(spec, cat)
	if err == nil {
		t.Fatalf("expected generation to fail on unknown card")
	}
	replayErr, ok := err.(*ReplayError)
	if !ok {
		t.Fatalf("expected ReplayError type, got %T", err)
	}
	if replayErr.Reason != "unknown_card" {
		t.Fatalf("unexpected reason: %s", replayErr.Reason)
	}
	if replayErr.Side != 0 || replayErr.SlotIndex != 0 {
		t.Fatalf("error should pinpoint side 0 slot 0, got side=%d slot=%d", replayErr.Side, replayErr.SlotIndex)
	}
}

func TestGenerate_RejectsNonOccupyingCard(t *testing.T) {
	cat := cards.Builtin()
	spec := baseBattleSpec()
	spec.Sides[0].Board[0] = SlotSpec{CardID: "war_horn", StackCount: 1}

	_, err := Generate(spec, cat)
	if err == nil {
		t.Fatalf("expected generation to fail on a buff card in a slot")
	}
	replayErr, ok := err.(*ReplayError)
	if !ok {
		t.Fatalf("expected ReplayError type, got %T", err)
	}
	if replayErr.Reason != "invalid_slot" {
		t.Fatalf("unexpected reason: %s", replayErr.Reason)
	}
}

func TestFromBattle_Nil(t *testing.T) {
	if FromBattle(nil) != nil {
		t.Fatalf("FromBattle(nil) should be nil")
	}
}

func baseBattleSpec() BattleSpec {
	return BattleSpec{
		Sides: [2]SideSpec{
			{
				TowerHp:  1000,
				TowerDps: 10,
				Board:    []SlotSpec{{CardID: "goblin_raid", StackCount: 1}},
			},
			{
				TowerHp:  1000,
				TowerDps: 10,
				Board:    []SlotSpec{},
			},
		},
	}
}
