package cards

import (
	"encoding/json"
	"fmt"
	"os"
)

// Catalog holds all card definitions. It is built once and read-only
// afterwards, so lookups need no locking.
type Catalog struct {
	byID    map[string]Definition
	ordered []string
}

// NewCatalog builds a catalog from the given definitions. Duplicate or
// unkeyed ids are rejected so a bad data file fails loudly at startup.
func NewCatalog(defs []Definition) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("card definition without id (name=%q)", d.Name)
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate card id %q", d.ID)
		}
		if d.Cost < 0 {
			return nil, fmt.Errorf("card %q: negative cost %d", d.ID, d.Cost)
		}
		c.byID[d.ID] = d
		c.ordered = append(c.ordered, d.ID)
	}
	return c, nil
}

// Builtin returns the catalog of shipped cards.
func Builtin() *Catalog {
	c, err := NewCatalog(builtinDefs)
	if err != nil {
		panic("cards: builtin catalog invalid: " + err.Error())
	}
	return c
}

// LoadFile builds a catalog from a JSON array of definitions.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read card file: %w", err)
	}
	var defs []Definition
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse card file: %w", err)
	}
	return NewCatalog(defs)
}

// Get returns the definition for id.
func (c *Catalog) Get(id string) (Definition, bool) {
	d, ok := c.byID[id]
	return d, ok
}

// List returns all definitions in registration order.
func (c *Catalog) List() []Definition {
	out := make([]Definition, 0, len(c.ordered))
	for _, id := range c.ordered {
		out = append(out, c.byID[id])
	}
	return out
}

// Collectible returns the ids of shop-eligible cards of the given rarity,
// in registration order.
func (c *Catalog) Collectible(r Rarity) []string {
	var out []string
	for _, id := range c.ordered {
		d := c.byID[id]
		if d.Collectible && d.Rarity == r {
			out = append(out, id)
		}
	}
	return out
}

// StarterDeck returns the default draw pile used when a player brings no
// deck of their own.
func StarterDeck() []string {
	return []string{
		"goblin_raid", "goblin_raid", "goblin_raid",
		"skeleton_horde", "skeleton_horde",
		"reinforced_walls", "reinforced_walls",
		"watchtower_ballista",
		"war_horn",
		"merchant_guild",
		"royal_tithe",
		"orc_skirmishers",
	}
}

var builtinDefs = []Definition{
	{
		ID: "goblin_raid", Name: "Goblin Raid", Type: TypeAttack, Rarity: RarityCommon,
		Cost: 2, Collectible: true, BaseDamage: 16,
		Attack: &AttackConfig{Enemies: 8, EnemyType: "goblin", DamagePerEnemy: 2},
	},
	{
		ID: "skeleton_horde", Name: "Skeleton Horde", Type: TypeAttack, Rarity: RarityCommon,
		Cost: 3, Collectible: true, BaseDamage: 18,
		Attack: &AttackConfig{Enemies: 6, EnemyType: "skeleton", DamagePerEnemy: 3},
	},
	{
		ID: "orc_skirmishers", Name: "Orc Skirmishers", Type: TypeAttack, Rarity: RarityUncommon,
		Cost: 4, Collectible: true, BaseDamage: 20,
		Attack: &AttackConfig{Enemies: 4, EnemyType: "orc", DamagePerEnemy: 5},
	},
	{
		ID: "knight_charge", Name: "Knight Charge", Type: TypeAttack, Rarity: RarityRare,
		Cost: 5, Collectible: true, BaseDamage: 24,
		Attack: &AttackConfig{Enemies: 3, EnemyType: "knight", DamagePerEnemy: 8},
	},
	{
		ID: "ogre_warband", Name: "Ogre Warband", Type: TypeAttack, Rarity: RarityEpic,
		Cost: 6, Collectible: true, BaseDamage: 24,
		Attack: &AttackConfig{Enemies: 2, EnemyType: "ogre", DamagePerEnemy: 12},
	},
	{
		ID: "dragon_flight", Name: "Dragon Flight", Type: TypeAttack, Rarity: RarityLegendary,
		Cost: 8, Collectible: true, BaseDamage: 30,
		Attack: &AttackConfig{Enemies: 1, EnemyType: "dragon", DamagePerEnemy: 30},
	},
	{
		ID: MarryProposalID, Name: "Marry Proposal", Type: TypeAttack, Rarity: RarityLegendary,
		Cost: 7, Collectible: true,
		Attack: &AttackConfig{MarryProposal: true},
	},
	{
		ID: "reinforced_walls", Name: "Reinforced Walls", Type: TypeDefense, Rarity: RarityCommon,
		Cost: 2, Collectible: true, BaseHpBonus: 100,
		Defense: &DefenseConfig{Kind: DefenseHpPermanent},
	},
	{
		ID: "stone_bastion", Name: "Stone Bastion", Type: TypeDefense, Rarity: RarityRare,
		Cost: 4, Collectible: true, BaseHpBonus: 250,
		Defense: &DefenseConfig{Kind: DefenseHpPermanent},
	},
	{
		ID: "watchtower_ballista", Name: "Watchtower Ballista", Type: TypeDefense, Rarity: RarityUncommon,
		Cost: 3, Collectible: true, BaseDpsBonus: 5,
		Defense: &DefenseConfig{Kind: DefenseDpsPermanent},
	},
	{
		ID: "arcane_turret", Name: "Arcane Turret", Type: TypeDefense, Rarity: RarityEpic,
		Cost: 5, Collectible: true, BaseDpsBonus: 12,
		Defense: &DefenseConfig{Kind: DefenseDpsPermanent},
	},
	{
		ID: MarryRefusalID, Name: "Marry Refusal", Type: TypeDefense, Rarity: RarityLegendary,
		Cost: 0, Collectible: false,
		Defense: &DefenseConfig{Kind: DefenseMarryRefusal},
	},
	{
		ID: "war_horn", Name: "War Horn", Type: TypeBuff, Rarity: RarityUncommon,
		Cost: 2, Collectible: true, BuffMultiplier: 2.0,
		Buff: &BuffConfig{Target: BuffNextAttack},
	},
	{
		ID: "stone_skin", Name: "Stone Skin", Type: TypeBuff, Rarity: RarityUncommon,
		Cost: 2, Collectible: true, BuffMultiplier: 1.5,
		Buff: &BuffConfig{Target: BuffNextDefense},
	},
	{
		ID: "battle_standard", Name: "Battle Standard", Type: TypeBuff, Rarity: RarityRare,
		Cost: 3, Collectible: true, BuffMultiplier: 1.5,
		Buff: &BuffConfig{Target: BuffAllAttacksNextRound},
	},
	{
		ID: "merchant_guild", Name: "Merchant Guild", Type: TypeEconomy, Rarity: RarityUncommon,
		Cost: 3, Collectible: true,
		Economy: &EconomyConfig{Kind: EconomyIncome, GoldPerRound: 1},
	},
	{
		ID: "trade_caravan", Name: "Trade Caravan", Type: TypeEconomy, Rarity: RarityRare,
		Cost: 5, Collectible: true,
		Economy: &EconomyConfig{Kind: EconomyIncome, GoldPerRound: 2},
	},
	{
		ID: "royal_tithe", Name: "Royal Tithe", Type: TypeEconomy, Rarity: RarityCommon,
		Cost: 1, Collectible: true,
		Economy: &EconomyConfig{Kind: EconomyWindfall, Gold: 3},
	},
}
