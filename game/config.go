package game

import "fmt"

// Tower progression. Levels are 1-based; towerUpgradeCost[n] is the gold
// price of reaching level n.
const (
	TowerBaseHp   = 1000
	TowerBaseDps  = 10
	TowerMaxLevel = 5

	towerHpPerLevel  = 250
	towerDpsPerLevel = 5
)

var towerUpgradeCost = [TowerMaxLevel + 1]int{0, 0, 10, 15, 20, 25}

// UpgradeCost returns the gold price of reaching the given level, or 0
// when the level is out of range.
func UpgradeCost(level int) int {
	if level < 2 || level > TowerMaxLevel {
		return 0
	}
	return towerUpgradeCost[level]
}

type Rules struct {
	// Hand / board
	HandMax   int
	BoardSize int

	// Shop
	ShopSizeByLevel []int
	RerollCostBase  int
	RerollIncrement int

	// Round economy
	RoundShopMs  int
	DrawPerRound int
	GoldPerRound int
	StartingGold int
	StartDraw    int

	// Simulation
	TicksToReach int
	SimTickMs    int
	MaxTicks     int

	// RNG seed (0 => time-based)
	Seed int64
}

// DefaultRules returns the shipped rule set.
func DefaultRules() Rules {
	return Rules{
		HandMax:         7,
		BoardSize:       7,
		ShopSizeByLevel: []int{3, 4, 4, 5, 5},
		RerollCostBase:  1,
		RerollIncrement: 1,
		RoundShopMs:     30000,
		DrawPerRound:    2,
		GoldPerRound:    5,
		StartingGold:    5,
		StartDraw:       4,
		TicksToReach:    10,
		SimTickMs:       100,
		MaxTicks:        200,
	}
}

func (r Rules) validate() error {
	if r.HandMax <= 0 {
		return fmt.Errorf("HandMax must be > 0")
	}
	if r.BoardSize <= 0 {
		return fmt.Errorf("BoardSize must be > 0")
	}
	if len(r.ShopSizeByLevel) != TowerMaxLevel {
		return fmt.Errorf("ShopSizeByLevel needs %d entries, got %d", TowerMaxLevel, len(r.ShopSizeByLevel))
	}
	for i, n := range r.ShopSizeByLevel {
		if n <= 0 {
			return fmt.Errorf("ShopSizeByLevel[%d] must be > 0", i)
		}
	}
	if r.RerollCostBase < 0 || r.RerollIncrement < 0 {
		return fmt.Errorf("reroll costs must be >= 0")
	}
	if r.RoundShopMs <= 0 {
		return fmt.Errorf("RoundShopMs must be > 0")
	}
	if r.DrawPerRound < 0 || r.GoldPerRound < 0 || r.StartingGold < 0 || r.StartDraw < 0 {
		return fmt.Errorf("round economy values must be >= 0")
	}
	if r.TicksToReach <= 0 || r.SimTickMs <= 0 || r.MaxTicks <= 0 {
		return fmt.Errorf("invalid sim params: reach=%d tick=%dms max=%d", r.TicksToReach, r.SimTickMs, r.MaxTicks)
	}
	if r.MaxTicks < r.TicksToReach {
		return fmt.Errorf("MaxTicks must be >= TicksToReach")
	}
	return nil
}

// ShopSize returns the shop row width for a tower level.
func (r Rules) ShopSize(level int) int {
	if level < 1 {
		level = 1
	}
	if level > len(r.ShopSizeByLevel) {
		level = len(r.ShopSizeByLevel)
	}
	return r.ShopSizeByLevel[level-1]
}
