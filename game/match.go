package game

import (
	"fmt"
	"sync"
	"time"

	"towerlords/cards"
)

// PlayerSpec seats one player at match creation.
type PlayerSpec struct {
	UserID   uint64
	Username string
	DeckID   string
	Deck     []string
}

// PlayerRoundSummary is one player's cumulative line in a round record.
type PlayerRoundSummary struct {
	UserID      uint64 `json:"userId"`
	DamageDealt int    `json:"damageDealt"`
	TowerHp     int    `json:"towerHp"`
}

// RoundRecord captures one resolved combat for history and persistence.
type RoundRecord struct {
	Round   int
	Summary [2]PlayerRoundSummary
	State   [2]PublicView
	Battle  *BattleResult
}

// CombatOutcome is what ResolveCombat hands back to the scheduler.
type CombatOutcome struct {
	Round         int
	Result        *BattleResult
	BattleVersion uint64
	Finished      bool
	WinnerID      uint64
}

// Match owns the full authoritative state of one live match. All
// mutation happens through its methods; the scheduler task is the only
// writer, the mutex is a backstop for snapshot readers.
type Match struct {
	ID    string
	Rules Rules

	mu sync.Mutex

	phase    Phase
	round    int
	deadline time.Time
	players  [2]*PlayerState
	seed     int64
	rng      *RNG
	catalog  *cards.Catalog

	version    uint64
	winnerID   uint64
	createdAt  time.Time
	finishedAt time.Time

	history []RoundRecord
}

// NewMatch validates the rules, seeds the deterministic stream and seats
// both players. Seed 0 picks a time-based seed, which is then recorded.
func NewMatch(id string, rules Rules, cat *cards.Catalog, a, b PlayerSpec) (*Match, error) {
	if err := rules.validate(); err != nil {
		return nil, err
	}
	if cat == nil {
		return nil, fmt.Errorf("nil catalog")
	}
	if a.UserID == 0 || b.UserID == 0 || a.UserID == b.UserID {
		return nil, fmt.Errorf("invalid seat assignment: %d vs %d", a.UserID, b.UserID)
	}
	seed := rules.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	m := &Match{
		ID:        id,
		Rules:     rules,
		phase:     PhaseLobby,
		seed:      seed,
		rng:       NewRNG(seed),
		catalog:   cat,
		createdAt: time.Now(),
	}
	m.players[0] = newPlayerState(a, 0, rules, m.rng)
	m.players[1] = newPlayerState(b, 1, rules, m.rng)
	return m, nil
}

// Start moves the match from lobby into round 1 shopping.
func (m *Match) Start(now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseLobby {
		return ErrInvalidState(fmt.Sprintf("start in phase %s", m.phase))
	}
	m.round = 1
	for _, p := range m.players {
		p.Gold = m.Rules.StartingGold
		p.draw(m.Rules.StartDraw, m.Rules.HandMax, m.rng)
		m.rollShop(p)
	}
	m.phase = PhaseShop
	m.deadline = now.Add(time.Duration(m.Rules.RoundShopMs) * time.Millisecond)
	m.bump()
	return nil
}

func (m *Match) bump() { m.version++ }

// ShopBuy moves a shop card into the buyer's hand for its cost.
func (m *Match) ShopBuy(userID uint64, cardID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.playerLocked(userID)
	if err != nil {
		return err
	}
	if m.phase != PhaseShop {
		return &Denial{Code: DenyWrongPhase, CardID: cardID}
	}
	shopIdx := -1
	for i, id := range p.Shop {
		if id == cardID {
			shopIdx = i
			break
		}
	}
	if shopIdx < 0 {
		return &Denial{Code: DenyCardNotInShop, CardID: cardID}
	}
	def, ok := m.catalog.Get(cardID)
	if !ok {
		return &Denial{Code: DenyUnknownCard, CardID: cardID}
	}
	if p.Gold < def.Cost {
		return &Denial{Code: DenyNotEnoughGold, CardID: cardID}
	}
	if len(p.Hand) >= m.Rules.HandMax {
		return &Denial{Code: DenyHandFull, CardID: cardID}
	}

	p.Gold -= def.Cost
	p.Shop = append(p.Shop[:shopIdx], p.Shop[shopIdx+1:]...)
	p.Hand = append(p.Hand, cardID)
	m.bump()
	return nil
}

// ShopReroll replaces the whole shop row for the current reroll cost,
// which climbs by RerollIncrement per use until the round ends.
func (m *Match) ShopReroll(userID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.playerLocked(userID)
	if err != nil {
		return err
	}
	if m.phase != PhaseShop {
		return deny(DenyWrongPhase)
	}
	if p.Gold < p.RerollCost {
		return deny(DenyNotEnoughGold)
	}
	p.Gold -= p.RerollCost
	p.RerollCost += m.Rules.RerollIncrement
	m.rollShop(p)
	m.bump()
	return nil
}

// BoardPlace plays the hand card at handIndex. Attack and defense cards
// occupy boardIndex (stacking onto a matching card); buff and economy
// cards resolve their effect and go to the discard. Placing pays the
// card's cost again. A third copy across slots collapses into a merged
// stack and the returned MergeInfo describes the collapse.
func (m *Match) BoardPlace(userID uint64, handIndex, boardIndex int) (*MergeInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.playerLocked(userID)
	if err != nil {
		return nil, err
	}
	if m.phase != PhaseShop {
		return nil, &Denial{Code: DenyWrongPhase}
	}
	if handIndex < 0 || handIndex >= len(p.Hand) {
		return nil, &Denial{Code: DenyInvalidSlot}
	}
	cardID := p.Hand[handIndex]
	def, ok := m.catalog.Get(cardID)
	if !ok {
		return nil, &Denial{Code: DenyUnknownCard, CardID: cardID}
	}
	if p.Gold < def.Cost {
		return nil, &Denial{Code: DenyNotEnoughGold, CardID: cardID}
	}

	if !def.Occupies() {
		p.Gold -= def.Cost
		p.removeHandAt(handIndex)
		m.applyEffect(p, def)
		p.Discard = append(p.Discard, cardID)
		m.bump()
		return nil, nil
	}

	if boardIndex < 0 || boardIndex >= len(p.Board) {
		return nil, &Denial{Code: DenyInvalidSlot, CardID: cardID}
	}
	slot := &p.Board[boardIndex]
	switch {
	case slot.Empty():
	case slot.CardID != cardID:
		return nil, &Denial{Code: DenySlotOccupied, CardID: cardID}
	case slot.StackCount >= MaxStack:
		return nil, &Denial{Code: DenyStackFull, CardID: cardID}
	}

	p.Gold -= def.Cost
	p.removeHandAt(handIndex)
	if slot.Empty() {
		slot.CardID = cardID
		slot.StackCount = 1
	} else {
		slot.StackCount++
	}
	m.applyEffect(p, def)

	merge := m.mergeScan(p, cardID)
	if merge != nil && def.Type == cards.TypeDefense {
		// A merged stack fights as more than the sum of its copies.
		m.applyEffect(p, def)
	}
	m.bump()
	return merge, nil
}

// mergeScan collapses three copies spread across slots into one merged
// stack at the lowest index. Stacking a second copy directly onto its
// own slot is not a merge and emits nothing.
func (m *Match) mergeScan(p *PlayerState, cardID string) *MergeInfo {
	if p.boardCopies(cardID) < 3 {
		return nil
	}
	chosen := -1
	var cleared []int
	for i := range p.Board {
		if p.Board[i].CardID != cardID {
			continue
		}
		if chosen < 0 {
			chosen = i
			continue
		}
		cleared = append(cleared, i)
		p.Board[i] = Slot{}
	}
	p.Board[chosen].StackCount = MaxStack
	return &MergeInfo{CardID: cardID, ChosenIndex: chosen, ClearedIndices: cleared, NewMergeCount: MaxStack}
}

// applyEffect resolves a card's placement-time effect.
func (m *Match) applyEffect(p *PlayerState, def cards.Definition) {
	switch def.Type {
	case cards.TypeAttack:
		if def.Attack != nil && def.Attack.MarryProposal {
			opp := m.opponentOf(p)
			opp.PendingMarryProposal = true
			opp.grant(cards.MarryRefusalID, m.Rules.HandMax)
		}
	case cards.TypeDefense:
		if def.Defense == nil {
			return
		}
		switch def.Defense.Kind {
		case cards.DefenseHpPermanent:
			p.TowerHpMax += def.BaseHpBonus
			p.TowerHp += def.BaseHpBonus
		case cards.DefenseDpsPermanent:
			p.TowerDps += def.BaseDpsBonus
		case cards.DefenseMarryRefusal:
			p.PendingMarryProposal = false
		}
	case cards.TypeBuff:
		if def.Buff == nil {
			return
		}
		switch def.Buff.Target {
		case cards.BuffNextAttack:
			p.NextAttackMult = def.BuffMultiplier
		case cards.BuffNextDefense:
			p.NextDefenseMult = def.BuffMultiplier
		case cards.BuffAllAttacksNextRound:
			p.AllAttacksMult = def.BuffMultiplier
		}
	case cards.TypeEconomy:
		if def.Economy == nil {
			return
		}
		switch def.Economy.Kind {
		case cards.EconomyIncome:
			p.GoldIncome += def.Economy.GoldPerRound
		case cards.EconomyWindfall:
			p.Gold += def.Economy.Gold
		}
	}
}

// BoardSell clears a slot, refunding half cost per stacked copy and
// moving the copies to the discard.
func (m *Match) BoardSell(userID uint64, boardIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.playerLocked(userID)
	if err != nil {
		return err
	}
	if m.phase != PhaseShop {
		return &Denial{Code: DenyWrongPhase}
	}
	if boardIndex < 0 || boardIndex >= len(p.Board) {
		return &Denial{Code: DenyInvalidSlot}
	}
	slot := p.Board[boardIndex]
	if slot.Empty() {
		return &Denial{Code: DenyEmptySlot}
	}
	def, ok := m.catalog.Get(slot.CardID)
	if !ok {
		return &Denial{Code: DenyUnknownCard, CardID: slot.CardID}
	}
	p.Gold += (def.Cost / 2) * slot.StackCount
	for i := 0; i < slot.StackCount; i++ {
		p.Discard = append(p.Discard, slot.CardID)
	}
	p.Board[boardIndex] = Slot{}
	m.bump()
	return nil
}

// TowerUpgrade raises the tower one level: more max HP and DPS, a full
// heal, a wider shop row. One upgrade per round.
func (m *Match) TowerUpgrade(userID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.playerLocked(userID)
	if err != nil {
		return err
	}
	if m.phase != PhaseShop {
		return deny(DenyWrongPhase)
	}
	if p.TowerLevel >= TowerMaxLevel {
		return deny(DenyMaxLevel)
	}
	if p.LastTowerUpgradeRound >= m.round {
		return deny(DenyAlreadyUpgradedThisRound)
	}
	if p.Gold < p.TowerUpgradeCost {
		return deny(DenyNotEnoughGold)
	}

	p.Gold -= p.TowerUpgradeCost
	p.TowerLevel++
	p.TowerHpMax += towerHpPerLevel
	p.TowerDps += towerDpsPerLevel
	p.TowerHp = p.TowerHpMax
	p.TowerUpgradeCost = UpgradeCost(p.TowerLevel + 1)
	p.LastTowerUpgradeRound = m.round
	m.extendShop(p)
	m.bump()
	return nil
}

// EndRound validates an early round end. The scheduler performs the
// actual combat resolution. The caller names the round it intends to
// end; a frame queued behind a combat resolution would otherwise pass
// the phase check in the next round's fresh shop and close it too.
func (m *Match) EndRound(userID uint64, round int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.playerLocked(userID); err != nil {
		return err
	}
	if m.phase != PhaseShop || round != m.round {
		return deny(DenyWrongPhase)
	}
	return nil
}

// Forfeit ends the match immediately in the opponent's favor.
func (m *Match) Forfeit(userID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.playerLocked(userID)
	if err != nil {
		return err
	}
	if m.phase == PhaseFinished {
		return ErrMatchFinished
	}
	p.TowerHp = 0
	p.EliminationReason = EliminationForfeit
	m.finishLocked(m.opponentOf(p).UserID)
	m.bump()
	return nil
}

// Timeout force-finishes an abandoned match with no winner.
func (m *Match) Timeout() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase == PhaseFinished {
		return ErrMatchFinished
	}
	for _, p := range m.players {
		if !p.Eliminated() {
			p.TowerHp = 0
			p.EliminationReason = EliminationTimeout
		}
	}
	m.finishLocked(0)
	m.bump()
	return nil
}

// ResolveCombat runs the battle for the current round, applies its
// outcome and either finishes the match or opens the next shop phase.
func (m *Match) ResolveCombat(now time.Time) (*CombatOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseShop {
		return nil, ErrInvalidState(fmt.Sprintf("combat from phase %s", m.phase))
	}
	m.phase = PhaseCombat
	m.deadline = time.Time{}
	m.bump()

	a, b := m.players[0], m.players[1]
	result := Simulate(a, b, m.catalog, SimParams{
		TicksToReach: m.Rules.TicksToReach,
		MaxTicks:     m.Rules.MaxTicks,
		TickMs:       m.Rules.SimTickMs,
	})
	out := &CombatOutcome{Round: m.round, Result: &result, BattleVersion: m.version}

	a.TowerHp = result.ATowerHp
	b.TowerHp = result.BTowerHp
	a.TotalDamageOut += result.ADamageDealt
	b.TotalDamageOut += result.BDamageDealt
	a.TotalDamageIn += result.BDamageDealt
	b.TotalDamageIn += result.ADamageDealt

	// Buffs apply to exactly one battle.
	for _, p := range m.players {
		p.NextAttackMult = 0
		p.NextDefenseMult = 0
		p.AllAttacksMult = 0
	}

	// An unanswered proposal is fatal once the dust settles.
	for _, p := range m.players {
		if p.PendingMarryProposal && p.EliminationReason == "" {
			p.TowerHp = 0
			p.EliminationReason = EliminationMarryRefusal
		}
	}
	for _, p := range m.players {
		if p.TowerHp <= 0 && p.EliminationReason == "" {
			p.EliminationReason = EliminationTowerDestroyed
		}
	}

	m.history = append(m.history, RoundRecord{
		Round: m.round,
		Summary: [2]PlayerRoundSummary{
			{UserID: a.UserID, DamageDealt: a.TotalDamageOut, TowerHp: a.TowerHp},
			{UserID: b.UserID, DamageDealt: b.TotalDamageOut, TowerHp: b.TowerHp},
		},
		State:  [2]PublicView{m.publicViewLocked(a), m.publicViewLocked(b)},
		Battle: &result,
	})

	switch {
	case a.Eliminated() && b.Eliminated():
		m.finishLocked(m.tiebreakLocked(&result))
	case a.Eliminated():
		m.finishLocked(b.UserID)
	case b.Eliminated():
		m.finishLocked(a.UserID)
	default:
		m.nextRoundLocked(now)
	}
	m.bump()

	out.Finished = m.phase == PhaseFinished
	out.WinnerID = m.winnerID
	return out, nil
}

// tiebreakLocked picks a winner when both towers fell on the same tick:
// more surviving units wins, then seat 0.
func (m *Match) tiebreakLocked(r *BattleResult) uint64 {
	switch {
	case r.ASurvivors > r.BSurvivors:
		return m.players[0].UserID
	case r.BSurvivors > r.ASurvivors:
		return m.players[1].UserID
	default:
		return m.players[0].UserID
	}
}

func (m *Match) nextRoundLocked(now time.Time) {
	m.round++
	for _, p := range m.players {
		p.draw(m.Rules.DrawPerRound, m.Rules.HandMax, m.rng)
		p.Gold += m.Rules.GoldPerRound + p.GoldIncome
		p.RerollCost = m.Rules.RerollCostBase
		m.rollShop(p)
	}
	m.phase = PhaseShop
	m.deadline = now.Add(time.Duration(m.Rules.RoundShopMs) * time.Millisecond)
}

func (m *Match) finishLocked(winnerID uint64) {
	m.phase = PhaseFinished
	m.deadline = time.Time{}
	m.winnerID = winnerID
	m.finishedAt = time.Now()
}

// rollShop deals a fresh shop row sized for the player's tower level.
func (m *Match) rollShop(p *PlayerState) {
	size := m.Rules.ShopSize(p.TowerLevel)
	shop := make([]string, 0, size)
	for i := 0; i < size; i++ {
		if id := m.rng.PickCard(m.catalog, p.TowerLevel); id != "" {
			shop = append(shop, id)
		}
	}
	p.Shop = shop
}

// extendShop appends rolls after an upgrade without touching the offers
// already on display.
func (m *Match) extendShop(p *PlayerState) {
	size := m.Rules.ShopSize(p.TowerLevel)
	for len(p.Shop) < size {
		id := m.rng.PickCard(m.catalog, p.TowerLevel)
		if id == "" {
			return
		}
		p.Shop = append(p.Shop, id)
	}
}

func (m *Match) playerLocked(userID uint64) (*PlayerState, error) {
	for _, p := range m.players {
		if p.UserID == userID {
			return p, nil
		}
	}
	return nil, ErrNotAPlayer
}

func (m *Match) opponentOf(p *PlayerState) *PlayerState {
	if m.players[0] == p {
		return m.players[1]
	}
	return m.players[0]
}

// --- read-side accessors ---

func (m *Match) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Match) Round() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.round
}

func (m *Match) Version() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

func (m *Match) Seed() int64 { return m.seed }

func (m *Match) CreatedAt() time.Time { return m.createdAt }

func (m *Match) FinishedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finishedAt
}

func (m *Match) WinnerID() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.winnerID
}

func (m *Match) Finished() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase == PhaseFinished
}

// Deadline returns the current shop deadline, zero outside shop phase.
func (m *Match) Deadline() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deadline
}

// DeadlineExpired reports whether the shop timer has fired.
func (m *Match) DeadlineExpired(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase == PhaseShop && !m.deadline.IsZero() && !now.Before(m.deadline)
}

// PlayerIDs returns both seated user ids, seat order.
func (m *Match) PlayerIDs() [2]uint64 {
	return [2]uint64{m.players[0].UserID, m.players[1].UserID}
}

// HasPlayer reports whether userID is seated here.
func (m *Match) HasPlayer(userID uint64) bool {
	for _, p := range m.players {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// History returns a copy of the per-round records so far.
func (m *Match) History() []RoundRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RoundRecord, len(m.history))
	copy(out, m.history)
	return out
}

// PlayerResult is the per-player line of a finished match.
type PlayerResult struct {
	UserID            uint64 `json:"userId"`
	Username          string `json:"username"`
	Seat              int    `json:"seat"`
	TowerColor        string `json:"towerColor"`
	FinalRank         int    `json:"finalRank"`
	EliminationReason string `json:"eliminationReason,omitempty"`
}

// PlayerResults builds the final standings. Rank 1 for the winner, 2
// otherwise.
func (m *Match) PlayerResults() [2]PlayerResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [2]PlayerResult
	for i, p := range m.players {
		rank := 2
		if p.UserID == m.winnerID {
			rank = 1
		}
		out[i] = PlayerResult{
			UserID:            p.UserID,
			Username:          p.Username,
			Seat:              p.Seat,
			TowerColor:        p.TowerColor,
			FinalRank:         rank,
			EliminationReason: p.EliminationReason,
		}
	}
	return out
}
