package game

import (
	"math/rand"

	"towerlords/cards"
)

// rarityWeights[level-1] is the percentage split across
// {common, uncommon, rare, epic, legendary}. Higher tower levels widen
// the rarer buckets.
var rarityWeights = [TowerMaxLevel][5]int{
	{70, 25, 5, 0, 0},
	{55, 30, 13, 2, 0},
	{40, 32, 20, 7, 1},
	{30, 30, 25, 12, 3},
	{22, 28, 26, 17, 7},
}

// RNG is the per-match deterministic stream. All shop offers and shuffles
// for a match draw from the same seeded source, so replaying a seed with
// the same action sequence reproduces them exactly.
type RNG struct {
	r *rand.Rand
}

func NewRNG(seed int64) *RNG {
	return &RNG{r: rand.New(rand.NewSource(seed))}
}

func (g *RNG) Intn(n int) int { return g.r.Intn(n) }

func (g *RNG) Shuffle(n int, swap func(i, j int)) { g.r.Shuffle(n, swap) }

// Rarity draws a weighted rarity bucket for the given tower level.
func (g *RNG) Rarity(level int) cards.Rarity {
	if level < 1 {
		level = 1
	}
	if level > TowerMaxLevel {
		level = TowerMaxLevel
	}
	weights := rarityWeights[level-1]
	total := 0
	for _, w := range weights {
		total += w
	}
	roll := g.r.Intn(total)
	for i, w := range weights {
		if roll < w {
			return cards.Rarities[i]
		}
		roll -= w
	}
	return cards.RarityCommon
}

// PickCard draws one collectible card id of a rolled rarity. Empty rarity
// pools fall back toward common so small catalogs still fill a shop row.
func (g *RNG) PickCard(cat *cards.Catalog, level int) string {
	rarity := g.Rarity(level)
	for i := rarityIndex(rarity); i >= 0; i-- {
		pool := cat.Collectible(cards.Rarities[i])
		if len(pool) > 0 {
			return pool[g.r.Intn(len(pool))]
		}
	}
	return ""
}

func rarityIndex(r cards.Rarity) int {
	for i, v := range cards.Rarities {
		if v == r {
			return i
		}
	}
	return 0
}
