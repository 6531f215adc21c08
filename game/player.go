package game

// PlayerState is the authoritative per-seat state. It is owned by the
// match and mutated only through match methods on the scheduler task.
type PlayerState struct {
	UserID   uint64
	Username string
	Seat     int
	DeckID   string

	TowerColor       string
	TowerLevel       int
	TowerHp          int
	TowerHpMax       int
	TowerDps         int
	Gold             int
	RerollCost       int
	TowerUpgradeCost int

	Deck    []string
	Hand    []string
	Discard []string
	Board   []Slot
	Shop    []string

	TotalDamageOut int
	TotalDamageIn  int

	EliminationReason     string
	PendingMarryProposal  bool
	LastTowerUpgradeRound int

	// Economy and armed buffs. Multipliers are 0 when unarmed and are
	// consumed by the next battle.
	GoldIncome      int
	NextAttackMult  float64
	NextDefenseMult float64
	AllAttacksMult  float64
}

func newPlayerState(spec PlayerSpec, seat int, rules Rules, rng *RNG) *PlayerState {
	color := TowerColorRed
	if seat == 1 {
		color = TowerColorBlue
	}
	deck := make([]string, len(spec.Deck))
	copy(deck, spec.Deck)
	rng.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })

	return &PlayerState{
		UserID:           spec.UserID,
		Username:         spec.Username,
		Seat:             seat,
		DeckID:           spec.DeckID,
		TowerColor:       color,
		TowerLevel:       1,
		TowerHp:          TowerBaseHp,
		TowerHpMax:       TowerBaseHp,
		TowerDps:         TowerBaseDps,
		RerollCost:       rules.RerollCostBase,
		TowerUpgradeCost: UpgradeCost(2),
		Deck:             deck,
		Board:            make([]Slot, rules.BoardSize),
	}
}

// Eliminated reports whether this player is out of the match.
func (p *PlayerState) Eliminated() bool {
	return p.TowerHp <= 0 || p.EliminationReason != ""
}

// draw moves up to n cards from deck to hand, reshuffling the discard
// into the deck when it runs dry. Returns how many cards actually moved;
// extras stay in the deck when the hand cap is hit.
func (p *PlayerState) draw(n, handMax int, rng *RNG) int {
	drawn := 0
	for i := 0; i < n; i++ {
		if len(p.Hand) >= handMax {
			break
		}
		if len(p.Deck) == 0 {
			p.reshuffle(rng)
			if len(p.Deck) == 0 {
				break
			}
		}
		p.Hand = append(p.Hand, p.Deck[0])
		p.Deck = p.Deck[1:]
		drawn++
	}
	return drawn
}

// reshuffle moves the whole discard pile into the deck in rng order.
func (p *PlayerState) reshuffle(rng *RNG) {
	if len(p.Discard) == 0 {
		return
	}
	p.Deck = append(p.Deck, p.Discard...)
	p.Discard = p.Discard[:0]
	rng.Shuffle(len(p.Deck), func(i, j int) { p.Deck[i], p.Deck[j] = p.Deck[j], p.Deck[i] })
}

// grant puts a mid-match card into the hand, or on top of the deck when
// the hand is already full.
func (p *PlayerState) grant(cardID string, handMax int) {
	if len(p.Hand) < handMax {
		p.Hand = append(p.Hand, cardID)
		return
	}
	p.Deck = append([]string{cardID}, p.Deck...)
}

// removeHandAt pops the card at index i from the hand.
func (p *PlayerState) removeHandAt(i int) string {
	id := p.Hand[i]
	p.Hand = append(p.Hand[:i], p.Hand[i+1:]...)
	return id
}

// boardCopies counts total copies of a card across all slots.
func (p *PlayerState) boardCopies(cardID string) int {
	n := 0
	for _, s := range p.Board {
		if s.CardID == cardID {
			n += s.StackCount
		}
	}
	return n
}
