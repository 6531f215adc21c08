package cards

import "testing"

func TestBuiltinCatalog(t *testing.T) {
	c := Builtin()

	d, ok := c.Get("goblin_raid")
	if !ok {
		t.Fatalf("goblin_raid missing from builtin catalog")
	}
	if d.Type != TypeAttack || d.Cost != 2 {
		t.Fatalf("goblin_raid = %+v, want attack cost 2", d)
	}
	if d.Attack == nil || d.Attack.Enemies != 8 || d.Attack.EnemyType != "goblin" || d.Attack.DamagePerEnemy != 2 {
		t.Fatalf("goblin_raid attack config = %+v", d.Attack)
	}

	if _, ok := c.Get("no_such_card"); ok {
		t.Fatalf("unknown id resolved")
	}

	refusal, ok := c.Get(MarryRefusalID)
	if !ok {
		t.Fatalf("marry_refusal missing")
	}
	if refusal.Collectible {
		t.Fatalf("marry_refusal must not be collectible")
	}
	if refusal.Type != TypeDefense || refusal.Defense == nil || refusal.Defense.Kind != DefenseMarryRefusal {
		t.Fatalf("marry_refusal definition = %+v", refusal)
	}
}

func TestCatalogRejectsDuplicates(t *testing.T) {
	_, err := NewCatalog([]Definition{
		{ID: "twice", Type: TypeAttack},
		{ID: "twice", Type: TypeDefense},
	})
	if err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

func TestCollectiblePools(t *testing.T) {
	c := Builtin()
	for _, r := range Rarities {
		for _, id := range c.Collectible(r) {
			d, ok := c.Get(id)
			if !ok {
				t.Fatalf("pool %s lists unknown id %s", r, id)
			}
			if !d.Collectible {
				t.Fatalf("pool %s lists non-collectible %s", r, id)
			}
			if d.Rarity != r {
				t.Fatalf("pool %s lists %s with rarity %s", r, id, d.Rarity)
			}
		}
	}
	if len(c.Collectible(RarityCommon)) == 0 {
		t.Fatalf("common pool empty; shop rolls would starve")
	}
	for _, id := range c.Collectible(RarityLegendary) {
		if id == MarryRefusalID {
			t.Fatalf("granted-only card in shop pool")
		}
	}
}

func TestStarterDeckResolves(t *testing.T) {
	c := Builtin()
	for _, id := range StarterDeck() {
		if _, ok := c.Get(id); !ok {
			t.Fatalf("starter deck references unknown card %s", id)
		}
	}
}

func TestUnitHP(t *testing.T) {
	if got := UnitHP("goblin"); got != 10 {
		t.Fatalf("goblin hp = %d, want 10", got)
	}
	if got := UnitHP("ogre"); got != 30 {
		t.Fatalf("ogre hp = %d, want 30", got)
	}
	if got := UnitHP("slime"); got != defaultUnitHP {
		t.Fatalf("unknown type hp = %d, want default %d", got, defaultUnitHP)
	}
}
