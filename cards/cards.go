package cards

// Type 卡牌类型
type Type string

const (
	TypeAttack  Type = "attack"
	TypeDefense Type = "defense"
	TypeBuff    Type = "buff"
	TypeEconomy Type = "economy"
)

// Rarity buckets, ordered from widest to rarest.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityUncommon  Rarity = "uncommon"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// Rarities lists all buckets in draw order.
var Rarities = []Rarity{RarityCommon, RarityUncommon, RarityRare, RarityEpic, RarityLegendary}

// Defense kinds.
const (
	DefenseHpPermanent  = "hp_permanent"
	DefenseDpsPermanent = "dps_permanent"
	DefenseMarryRefusal = "marry_refusal"
)

// Buff targets.
const (
	BuffNextAttack          = "next_attack"
	BuffNextDefense         = "next_defense"
	BuffAllAttacksNextRound = "all_attacks_next_round"
)

// Economy kinds.
const (
	EconomyIncome   = "income"
	EconomyWindfall = "windfall"
)

// Well-known card ids referenced by game rules.
const (
	MarryProposalID = "marry_proposal"
	MarryRefusalID  = "marry_refusal"
)

// AttackConfig describes the units an attack card sends at the enemy tower.
type AttackConfig struct {
	Enemies        int    `json:"enemies"`
	EnemyType      string `json:"enemyType"`
	DamagePerEnemy int    `json:"damagePerEnemy"`
	MarryProposal  bool   `json:"marryProposal,omitempty"`
}

// DefenseConfig describes a defense card's permanent effect.
type DefenseConfig struct {
	Kind string `json:"kind"`
}

// BuffConfig describes which multiplier a buff card arms.
type BuffConfig struct {
	Target string `json:"target"`
}

// EconomyConfig describes a gold effect.
type EconomyConfig struct {
	Kind         string `json:"kind"`
	Gold         int    `json:"gold,omitempty"`
	GoldPerRound int    `json:"goldPerRound,omitempty"`
}

// Definition is one immutable catalog entry.
type Definition struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Type           Type           `json:"type"`
	Rarity         Rarity         `json:"rarity"`
	Cost           int            `json:"cost"`
	Collectible    bool           `json:"collectible"`
	BaseDamage     int            `json:"baseDamage,omitempty"`
	BaseHpBonus    int            `json:"baseHpBonus,omitempty"`
	BaseDpsBonus   int            `json:"baseDpsBonus,omitempty"`
	BuffMultiplier float64        `json:"buffMultiplier,omitempty"`
	Attack         *AttackConfig  `json:"attack,omitempty"`
	Defense        *DefenseConfig `json:"defense,omitempty"`
	Buff           *BuffConfig    `json:"buff,omitempty"`
	Economy        *EconomyConfig `json:"economy,omitempty"`
}

// Occupies reports whether a placed card takes a board slot.
// Attack and defense cards occupy; buff and economy cards resolve and discard.
func (d Definition) Occupies() bool {
	return d.Type == TypeAttack || d.Type == TypeDefense
}

// unitHP maps enemy types to per-unit hit points. Types not listed
// fall back to defaultUnitHP.
var unitHP = map[string]int{
	"goblin":   10,
	"skeleton": 15,
	"orc":      20,
	"knight":   25,
	"ogre":     30,
	"dragon":   60,
}

const defaultUnitHP = 20

// UnitHP returns the hit points for one unit of the given enemy type.
func UnitHP(enemyType string) int {
	if hp, ok := unitHP[enemyType]; ok {
		return hp
	}
	return defaultUnitHP
}
