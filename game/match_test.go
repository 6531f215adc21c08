package game

import (
	"testing"
	"time"

	"towerlords/cards"
)

func testRules() Rules {
	r := DefaultRules()
	r.Seed = 42
	return r
}

func newTestMatch(t *testing.T) *Match {
	t.Helper()
	m, err := NewMatch("m_test", testRules(), cards.Builtin(),
		PlayerSpec{UserID: 1, Username: "ana", Deck: cards.StarterDeck()},
		PlayerSpec{UserID: 2, Username: "bo", Deck: cards.StarterDeck()},
	)
	if err != nil {
		t.Fatalf("NewMatch err: %v", err)
	}
	if err := m.Start(time.Now()); err != nil {
		t.Fatalf("Start err: %v", err)
	}
	return m
}

func wantDenial(t *testing.T, err error, code string) *Denial {
	t.Helper()
	d, ok := AsDenial(err)
	if !ok {
		t.Fatalf("expected denial %s, got %v", code, err)
	}
	if d.Code != code {
		t.Fatalf("denial code = %s, want %s", d.Code, code)
	}
	return d
}

func TestStart_DealsOpeningState(t *testing.T) {
	m := newTestMatch(t)

	if m.Phase() != PhaseShop {
		t.Fatalf("phase = %v, want shop", m.Phase())
	}
	if m.Round() != 1 {
		t.Fatalf("round = %d, want 1", m.Round())
	}
	if m.Deadline().IsZero() {
		t.Fatalf("shop phase must carry a deadline")
	}
	for _, p := range m.players {
		if p.Gold != 5 {
			t.Fatalf("seat %d gold = %d, want 5", p.Seat, p.Gold)
		}
		if len(p.Hand) != 4 {
			t.Fatalf("seat %d hand = %d cards, want 4", p.Seat, len(p.Hand))
		}
		if len(p.Shop) != 3 {
			t.Fatalf("seat %d level-1 shop = %d offers, want 3", p.Seat, len(p.Shop))
		}
		if len(p.Board) != 7 {
			t.Fatalf("seat %d board = %d slots, want 7", p.Seat, len(p.Board))
		}
	}
	if m.players[0].TowerColor != TowerColorRed || m.players[1].TowerColor != TowerColorBlue {
		t.Fatalf("seat colors = %s/%s, want red/blue", m.players[0].TowerColor, m.players[1].TowerColor)
	}
}

func TestShopBuy_ExactGold(t *testing.T) {
	m := newTestMatch(t)
	p := m.players[0]
	p.Shop = []string{"goblin_raid"}
	p.Gold = 2
	p.Hand = nil

	if err := m.ShopBuy(1, "goblin_raid"); err != nil {
		t.Fatalf("ShopBuy err: %v", err)
	}
	if p.Gold != 0 {
		t.Fatalf("gold = %d, want 0", p.Gold)
	}
	if len(p.Hand) != 1 || p.Hand[0] != "goblin_raid" {
		t.Fatalf("hand = %v, want [goblin_raid]", p.Hand)
	}
	if len(p.Shop) != 0 {
		t.Fatalf("shop = %v, want empty", p.Shop)
	}
}

func TestShopBuy_Denials(t *testing.T) {
	m := newTestMatch(t)
	p := m.players[0]
	p.Shop = []string{"goblin_raid", "ogre_warband"}

	p.Gold = 1
	wantDenial(t, m.ShopBuy(1, "goblin_raid"), DenyNotEnoughGold)
	if p.Gold != 1 || len(p.Shop) != 2 {
		t.Fatalf("denial must not touch state: gold=%d shop=%v", p.Gold, p.Shop)
	}

	p.Gold = 10
	p.Hand = []string{"a", "b", "c", "d", "e", "f", "g"}
	d := wantDenial(t, m.ShopBuy(1, "goblin_raid"), DenyHandFull)
	if d.CardID != "goblin_raid" {
		t.Fatalf("denial cardId = %q, want goblin_raid", d.CardID)
	}

	p.Hand = nil
	wantDenial(t, m.ShopBuy(1, "dragon_flight"), DenyCardNotInShop)

	m.phase = PhaseCombat
	wantDenial(t, m.ShopBuy(1, "goblin_raid"), DenyWrongPhase)
}

func TestShopBuy_NotAPlayer(t *testing.T) {
	m := newTestMatch(t)
	if err := m.ShopBuy(99, "goblin_raid"); err != ErrNotAPlayer {
		t.Fatalf("expected ErrNotAPlayer, got %v", err)
	}
}

// 重掷价格曲线：本回合内 1,2,3… 递增，下一回合重置。
// 金币 4:第一次 -1 剩 3,第二次 -2 剩 1,第三次要 3 金币,拒绝。
func TestShopReroll_CostCurve(t *testing.T) {
	m := newTestMatch(t)
	p := m.players[0]
	p.Gold = 4

	if err := m.ShopReroll(1); err != nil {
		t.Fatalf("reroll 1 err: %v", err)
	}
	if p.Gold != 3 || p.RerollCost != 2 {
		t.Fatalf("after reroll 1: gold=%d cost=%d, want 3 and 2", p.Gold, p.RerollCost)
	}
	if err := m.ShopReroll(1); err != nil {
		t.Fatalf("reroll 2 err: %v", err)
	}
	if p.Gold != 1 || p.RerollCost != 3 {
		t.Fatalf("after reroll 2: gold=%d cost=%d, want 1 and 3", p.Gold, p.RerollCost)
	}
	wantDenial(t, m.ShopReroll(1), DenyNotEnoughGold)
	if p.Gold != 1 {
		t.Fatalf("denied reroll must not charge: gold=%d", p.Gold)
	}
}

func TestShopReroll_RefillsToLevelSize(t *testing.T) {
	m := newTestMatch(t)
	p := m.players[0]
	p.Gold = 10
	p.Shop = []string{"goblin_raid"}

	if err := m.ShopReroll(1); err != nil {
		t.Fatalf("reroll err: %v", err)
	}
	if len(p.Shop) != 3 {
		t.Fatalf("level-1 reroll dealt %d offers, want 3", len(p.Shop))
	}
}

func TestBoardPlace_OccupyAndStack(t *testing.T) {
	m := newTestMatch(t)
	p := m.players[0]
	p.Hand = []string{"goblin_raid", "goblin_raid", "skeleton_horde"}
	p.Gold = 20

	merge, err := m.BoardPlace(1, 0, 0)
	if err != nil {
		t.Fatalf("place 1 err: %v", err)
	}
	if merge != nil {
		t.Fatalf("single copy should not merge: %+v", merge)
	}
	if p.Board[0].CardID != "goblin_raid" || p.Board[0].StackCount != 1 {
		t.Fatalf("slot 0 = %+v, want goblin_raid x1", p.Board[0])
	}
	if p.Gold != 18 {
		t.Fatalf("gold = %d, want 18 (placement pays cost)", p.Gold)
	}

	// Second copy on the same slot stacks to 2 without a merge frame;
	// only the three-copies-across-slots collapse is a merge.
	merge, err = m.BoardPlace(1, 0, 0)
	if err != nil {
		t.Fatalf("place 2 err: %v", err)
	}
	if merge != nil {
		t.Fatalf("direct stack is not a merge: %+v", merge)
	}
	if p.Board[0].StackCount != 2 {
		t.Fatalf("slot 0 stack = %d, want 2", p.Board[0].StackCount)
	}

	// A different card cannot land on the occupied slot.
	_, err = m.BoardPlace(1, 0, 0)
	wantDenial(t, err, DenySlotOccupied)
}

// 跨槽位合并规则:同名卡第三张落下后,三张散在不同槽位的副本收拢成
// 一个 2 叠的堆,保留最小下标的槽位,其余清空。只有操作者收到
// BOARD_MERGE(棋盘是私有的)。
func TestBoardPlace_MergeAcrossSlots(t *testing.T) {
	m := newTestMatch(t)
	p := m.players[0]
	p.Hand = []string{"goblin_raid", "goblin_raid", "goblin_raid"}
	p.Gold = 6

	if _, err := m.BoardPlace(1, 0, 0); err != nil {
		t.Fatalf("place slot 0 err: %v", err)
	}
	if _, err := m.BoardPlace(1, 0, 1); err != nil {
		t.Fatalf("place slot 1 err: %v", err)
	}
	merge, err := m.BoardPlace(1, 0, 2)
	if err != nil {
		t.Fatalf("place slot 2 err: %v", err)
	}
	if merge == nil {
		t.Fatalf("third copy across slots must merge")
	}
	if merge.CardID != "goblin_raid" || merge.ChosenIndex != 0 || merge.NewMergeCount != 2 {
		t.Fatalf("merge = %+v, want goblin_raid at 0 count 2", merge)
	}
	if len(merge.ClearedIndices) != 2 || merge.ClearedIndices[0] != 1 || merge.ClearedIndices[1] != 2 {
		t.Fatalf("cleared = %v, want [1 2]", merge.ClearedIndices)
	}
	if p.Board[0].StackCount != 2 || !p.Board[1].Empty() || !p.Board[2].Empty() {
		t.Fatalf("board after merge = %+v", p.Board[:3])
	}
	// At most one slot per card id once the merge settles.
	if p.boardCopies("goblin_raid") != 2 {
		t.Fatalf("board copies = %d, want 2", p.boardCopies("goblin_raid"))
	}
}

func TestBoardPlace_StackFull(t *testing.T) {
	m := newTestMatch(t)
	p := m.players[0]
	p.Hand = []string{"goblin_raid"}
	p.Gold = 10
	p.Board[3] = Slot{CardID: "goblin_raid", StackCount: 2}

	_, err := m.BoardPlace(1, 0, 3)
	wantDenial(t, err, DenyStackFull)
	if len(p.Hand) != 1 || p.Gold != 10 {
		t.Fatalf("denied place must not consume the card or the gold")
	}
}

func TestBoardPlace_InvalidIndexes(t *testing.T) {
	m := newTestMatch(t)
	p := m.players[0]
	p.Hand = []string{"goblin_raid"}
	p.Gold = 10

	_, err := m.BoardPlace(1, 5, 0)
	wantDenial(t, err, DenyInvalidSlot)
	_, err = m.BoardPlace(1, 0, 7)
	wantDenial(t, err, DenyInvalidSlot)
	_, err = m.BoardPlace(1, 0, -1)
	wantDenial(t, err, DenyInvalidSlot)
}

func TestBoardPlace_DefenseAppliesAtPlacement(t *testing.T) {
	m := newTestMatch(t)
	p := m.players[0]
	p.Hand = []string{"reinforced_walls", "watchtower_ballista"}
	p.Gold = 10
	p.TowerHp = 900 // chip damage from an earlier round

	if _, err := m.BoardPlace(1, 0, 0); err != nil {
		t.Fatalf("place walls err: %v", err)
	}
	if p.TowerHpMax != 1100 || p.TowerHp != 1000 {
		t.Fatalf("hp after walls = %d/%d, want 1000/1100", p.TowerHp, p.TowerHpMax)
	}
	if _, err := m.BoardPlace(1, 0, 1); err != nil {
		t.Fatalf("place ballista err: %v", err)
	}
	if p.TowerDps != 15 {
		t.Fatalf("dps = %d, want 15", p.TowerDps)
	}
}

func TestBoardPlace_DefenseMergeAppliesBonusOnceMore(t *testing.T) {
	m := newTestMatch(t)
	p := m.players[0]
	p.Hand = []string{"watchtower_ballista", "watchtower_ballista", "watchtower_ballista"}
	p.Gold = 10

	if _, err := m.BoardPlace(1, 0, 0); err != nil {
		t.Fatalf("place 1 err: %v", err)
	}
	// Direct stack: no merge, no extra bonus.
	merge, err := m.BoardPlace(1, 0, 0)
	if err != nil {
		t.Fatalf("place 2 err: %v", err)
	}
	if merge != nil {
		t.Fatalf("direct stack is not a merge: %+v", merge)
	}
	if p.TowerDps != 20 {
		t.Fatalf("dps after stack = %d, want 20", p.TowerDps)
	}

	// The third copy lands elsewhere and collapses back into slot 0,
	// which pays the bonus once more.
	merge, err = m.BoardPlace(1, 0, 1)
	if err != nil {
		t.Fatalf("place 3 err: %v", err)
	}
	if merge == nil || merge.ChosenIndex != 0 {
		t.Fatalf("merge = %+v, want collapse into slot 0", merge)
	}
	if p.TowerDps != 30 {
		t.Fatalf("dps after merge = %d, want 30", p.TowerDps)
	}
}

func TestBoardPlace_BuffAndEconomyDiscard(t *testing.T) {
	m := newTestMatch(t)
	p := m.players[0]
	p.Hand = []string{"war_horn", "royal_tithe", "merchant_guild"}
	p.Gold = 6

	if _, err := m.BoardPlace(1, 0, 0); err != nil {
		t.Fatalf("place war_horn err: %v", err)
	}
	if p.NextAttackMult != 2.0 {
		t.Fatalf("NextAttackMult = %v, want 2.0", p.NextAttackMult)
	}
	if !p.Board[0].Empty() {
		t.Fatalf("buff cards never occupy a slot")
	}

	// royal_tithe: pay 1, gain 3.
	goldBefore := p.Gold
	if _, err := m.BoardPlace(1, 0, 0); err != nil {
		t.Fatalf("place royal_tithe err: %v", err)
	}
	if p.Gold != goldBefore-1+3 {
		t.Fatalf("gold = %d, want %d", p.Gold, goldBefore+2)
	}

	if _, err := m.BoardPlace(1, 0, 0); err != nil {
		t.Fatalf("place merchant_guild err: %v", err)
	}
	if p.GoldIncome != 1 {
		t.Fatalf("gold income = %d, want 1", p.GoldIncome)
	}
	if len(p.Discard) != 3 {
		t.Fatalf("discard = %v, want the three played cards", p.Discard)
	}
}

func TestBoardSell_RefundsHalfPerCopy(t *testing.T) {
	m := newTestMatch(t)
	p := m.players[0]
	p.Board[2] = Slot{CardID: "skeleton_horde", StackCount: 2} // cost 3
	p.Gold = 0
	p.Discard = nil

	if err := m.BoardSell(1, 2); err != nil {
		t.Fatalf("sell err: %v", err)
	}
	if p.Gold != 2 { // floor(3/2) x 2
		t.Fatalf("refund = %d, want 2", p.Gold)
	}
	if !p.Board[2].Empty() {
		t.Fatalf("slot must clear on sell")
	}
	if len(p.Discard) != 2 {
		t.Fatalf("discard = %v, want both copies", p.Discard)
	}

	wantDenial(t, m.BoardSell(1, 2), DenyEmptySlot)
	wantDenial(t, m.BoardSell(1, 9), DenyInvalidSlot)
}

func TestTowerUpgrade_Progression(t *testing.T) {
	m := newTestMatch(t)
	p := m.players[0]
	p.Gold = 10
	p.TowerHp = 700

	if err := m.TowerUpgrade(1); err != nil {
		t.Fatalf("upgrade err: %v", err)
	}
	if p.TowerLevel != 2 || p.TowerHpMax != 1250 || p.TowerHp != 1250 || p.TowerDps != 15 {
		t.Fatalf("after upgrade: lvl=%d hp=%d/%d dps=%d", p.TowerLevel, p.TowerHp, p.TowerHpMax, p.TowerDps)
	}
	if p.Gold != 0 {
		t.Fatalf("gold = %d, want 0", p.Gold)
	}
	if p.TowerUpgradeCost != 15 {
		t.Fatalf("next upgrade cost = %d, want 15", p.TowerUpgradeCost)
	}
	if len(p.Shop) != 4 {
		t.Fatalf("shop widened to %d, want 4 at level 2", len(p.Shop))
	}

	p.Gold = 100
	wantDenial(t, m.TowerUpgrade(1), DenyAlreadyUpgradedThisRound)

	p.TowerLevel = TowerMaxLevel
	p.LastTowerUpgradeRound = 0
	wantDenial(t, m.TowerUpgrade(1), DenyMaxLevel)
}

func TestTowerUpgrade_AllowedAgainNextRound(t *testing.T) {
	m := newTestMatch(t)
	p := m.players[0]
	p.Gold = 10
	if err := m.TowerUpgrade(1); err != nil {
		t.Fatalf("upgrade err: %v", err)
	}

	if _, err := m.ResolveCombat(time.Now()); err != nil {
		t.Fatalf("ResolveCombat err: %v", err)
	}
	if m.Phase() != PhaseShop || m.Round() != 2 {
		t.Fatalf("expected round 2 shop, got round %d phase %v", m.Round(), m.Phase())
	}

	p.Gold = 15
	if err := m.TowerUpgrade(1); err != nil {
		t.Fatalf("round-2 upgrade err: %v", err)
	}
	if p.TowerLevel != 3 {
		t.Fatalf("level = %d, want 3", p.TowerLevel)
	}
}

func TestResolveCombat_NextRoundEconomy(t *testing.T) {
	m := newTestMatch(t)
	p := m.players[0]
	p.GoldIncome = 2
	p.Gold = 1
	p.RerollCost = 3
	p.Hand = nil
	deckBefore := len(p.Deck)

	out, err := m.ResolveCombat(time.Now())
	if err != nil {
		t.Fatalf("ResolveCombat err: %v", err)
	}
	if out.Finished {
		t.Fatalf("empty boards should not finish the match")
	}
	if out.Round != 1 || m.Round() != 2 {
		t.Fatalf("outcome round = %d, match round = %d", out.Round, m.Round())
	}
	if p.Gold != 1+5+2 {
		t.Fatalf("gold = %d, want 8 (carry + round + income)", p.Gold)
	}
	if p.RerollCost != 1 {
		t.Fatalf("reroll cost = %d, want reset to 1", p.RerollCost)
	}
	if len(p.Hand) != 2 || len(p.Deck) != deckBefore-2 {
		t.Fatalf("draw = %d cards (deck %d->%d), want 2", len(p.Hand), deckBefore, len(p.Deck))
	}
	if m.Deadline().IsZero() {
		t.Fatalf("new shop phase must carry a deadline")
	}
}

func TestResolveCombat_ClearsBuffs(t *testing.T) {
	m := newTestMatch(t)
	p := m.players[0]
	p.NextAttackMult = 2.0
	p.NextDefenseMult = 1.5
	p.AllAttacksMult = 1.5

	if _, err := m.ResolveCombat(time.Now()); err != nil {
		t.Fatalf("ResolveCombat err: %v", err)
	}
	if p.NextAttackMult != 0 || p.NextDefenseMult != 0 || p.AllAttacksMult != 0 {
		t.Fatalf("buffs must clear after the battle: %v %v %v",
			p.NextAttackMult, p.NextDefenseMult, p.AllAttacksMult)
	}
}

func TestResolveCombat_TowerDestroyedFinishes(t *testing.T) {
	m := newTestMatch(t)
	a, b := m.players[0], m.players[1]
	a.Board[0] = Slot{CardID: "ogre_warband", StackCount: 2}
	b.TowerHp = 20
	b.TowerDps = 0

	out, err := m.ResolveCombat(time.Now())
	if err != nil {
		t.Fatalf("ResolveCombat err: %v", err)
	}
	if !out.Finished || out.WinnerID != 1 {
		t.Fatalf("outcome = %+v, want finished with winner 1", out)
	}
	if m.Phase() != PhaseFinished {
		t.Fatalf("phase = %v, want finished", m.Phase())
	}
	if b.EliminationReason != EliminationTowerDestroyed {
		t.Fatalf("reason = %q, want %q", b.EliminationReason, EliminationTowerDestroyed)
	}
	if a.TotalDamageOut == 0 || b.TotalDamageIn == 0 {
		t.Fatalf("damage totals not applied: out=%d in=%d", a.TotalDamageOut, b.TotalDamageIn)
	}

	results := m.PlayerResults()
	if results[0].FinalRank != 1 || results[1].FinalRank != 2 {
		t.Fatalf("ranks = %d/%d, want 1/2", results[0].FinalRank, results[1].FinalRank)
	}
}

func TestMarryProposal_RefusalSaves(t *testing.T) {
	m := newTestMatch(t)
	a, b := m.players[0], m.players[1]
	a.Hand = []string{cards.MarryProposalID}
	a.Gold = 7
	b.Hand = nil

	if _, err := m.BoardPlace(1, 0, 0); err != nil {
		t.Fatalf("place proposal err: %v", err)
	}
	if !b.PendingMarryProposal {
		t.Fatalf("opponent must be put on the spot")
	}
	if len(b.Hand) != 1 || b.Hand[0] != cards.MarryRefusalID {
		t.Fatalf("opponent hand = %v, want the granted refusal", b.Hand)
	}

	if _, err := m.BoardPlace(2, 0, 0); err != nil {
		t.Fatalf("place refusal err: %v", err)
	}
	if b.PendingMarryProposal {
		t.Fatalf("refusal placement must clear the proposal")
	}

	out, err := m.ResolveCombat(time.Now())
	if err != nil {
		t.Fatalf("ResolveCombat err: %v", err)
	}
	if out.Finished {
		t.Fatalf("answered proposal must not end the match")
	}
}

func TestMarryProposal_UnansweredEliminates(t *testing.T) {
	m := newTestMatch(t)
	a, b := m.players[0], m.players[1]
	a.Hand = []string{cards.MarryProposalID}
	a.Gold = 7

	if _, err := m.BoardPlace(1, 0, 0); err != nil {
		t.Fatalf("place proposal err: %v", err)
	}
	out, err := m.ResolveCombat(time.Now())
	if err != nil {
		t.Fatalf("ResolveCombat err: %v", err)
	}
	if !out.Finished || out.WinnerID != 1 {
		t.Fatalf("outcome = %+v, want finished with winner 1", out)
	}
	if b.EliminationReason != EliminationMarryRefusal || b.TowerHp != 0 {
		t.Fatalf("loser state = %q hp=%d, want marry_refusal at 0", b.EliminationReason, b.TowerHp)
	}
}

func TestMarryProposal_GrantWithFullHandGoesToDeck(t *testing.T) {
	m := newTestMatch(t)
	a, b := m.players[0], m.players[1]
	a.Hand = []string{cards.MarryProposalID}
	a.Gold = 7
	b.Hand = []string{"a", "b", "c", "d", "e", "f", "g"}

	if _, err := m.BoardPlace(1, 0, 0); err != nil {
		t.Fatalf("place proposal err: %v", err)
	}
	if len(b.Hand) != 7 {
		t.Fatalf("full hand must stay at the cap")
	}
	if len(b.Deck) == 0 || b.Deck[0] != cards.MarryRefusalID {
		t.Fatalf("refusal must land on top of the deck, deck head = %v", b.Deck[:1])
	}
}

func TestForfeit_OpponentWins(t *testing.T) {
	m := newTestMatch(t)

	if err := m.Forfeit(2); err != nil {
		t.Fatalf("forfeit err: %v", err)
	}
	if m.Phase() != PhaseFinished || m.WinnerID() != 1 {
		t.Fatalf("phase=%v winner=%d, want finished with winner 1", m.Phase(), m.WinnerID())
	}
	p := m.players[1]
	if p.TowerHp != 0 || p.EliminationReason != EliminationForfeit {
		t.Fatalf("forfeiter hp=%d reason=%q", p.TowerHp, p.EliminationReason)
	}
	if err := m.Forfeit(1); err != ErrMatchFinished {
		t.Fatalf("expected ErrMatchFinished, got %v", err)
	}
}

func TestTimeout_NoWinner(t *testing.T) {
	m := newTestMatch(t)

	if err := m.Timeout(); err != nil {
		t.Fatalf("timeout err: %v", err)
	}
	if m.Phase() != PhaseFinished || m.WinnerID() != 0 {
		t.Fatalf("phase=%v winner=%d, want finished with no winner", m.Phase(), m.WinnerID())
	}
	for _, p := range m.players {
		if p.EliminationReason != EliminationTimeout {
			t.Fatalf("seat %d reason = %q, want timeout", p.Seat, p.EliminationReason)
		}
	}
}

func TestActions_UnknownCatalogCardDenied(t *testing.T) {
	m := newTestMatch(t)
	p := m.players[0]
	p.Gold = 50

	p.Shop = []string{"phantom"}
	wantDenial(t, m.ShopBuy(1, "phantom"), DenyUnknownCard)

	p.Hand = []string{"phantom"}
	_, err := m.BoardPlace(1, 0, 0)
	wantDenial(t, err, DenyUnknownCard)

	p.Board[0] = Slot{CardID: "phantom", StackCount: 1}
	wantDenial(t, m.BoardSell(1, 0), DenyUnknownCard)
}

func TestEndRound_PhaseGate(t *testing.T) {
	m := newTestMatch(t)
	if err := m.EndRound(1, 1); err != nil {
		t.Fatalf("EndRound in shop err: %v", err)
	}
	// A frame minted during an earlier round is stale even if the phase
	// has cycled back to shop.
	wantDenial(t, m.EndRound(1, 2), DenyWrongPhase)
	m.phase = PhaseCombat
	wantDenial(t, m.EndRound(1, 1), DenyWrongPhase)
}

func TestVersion_MonotonicAcrossMutations(t *testing.T) {
	m := newTestMatch(t)
	p := m.players[0]
	p.Gold = 10
	p.Shop = []string{"goblin_raid"}

	v := m.Version()
	if err := m.ShopBuy(1, "goblin_raid"); err != nil {
		t.Fatalf("buy err: %v", err)
	}
	if m.Version() <= v {
		t.Fatalf("version did not advance: %d -> %d", v, m.Version())
	}
	v = m.Version()

	// A denial is not a mutation.
	wantDenial(t, m.ShopBuy(1, "goblin_raid"), DenyCardNotInShop)
	if m.Version() != v {
		t.Fatalf("denied action bumped version: %d -> %d", v, m.Version())
	}
}

func TestSnapshotFor_RedactsOpponent(t *testing.T) {
	m := newTestMatch(t)

	snap := m.SnapshotFor(1)
	if snap.Self == nil || snap.Self.UserID != 1 {
		t.Fatalf("self view missing or wrong: %+v", snap.Self)
	}
	if len(snap.Players) != 2 {
		t.Fatalf("players = %d, want 2 public views", len(snap.Players))
	}
	if snap.V != m.Version() {
		t.Fatalf("snapshot v = %d, want %d", snap.V, m.Version())
	}
	if snap.RoundEndsAt == 0 {
		t.Fatalf("shop snapshot must expose the deadline")
	}

	// A spectator gets the public views only.
	spect := m.SnapshotFor(99)
	if spect.Self != nil {
		t.Fatalf("spectator snapshot must not carry a self view")
	}

	// The snapshot is a copy: mutating it must not leak into the match.
	snap.Self.Hand[0] = "smuggled"
	if m.players[0].Hand[0] == "smuggled" {
		t.Fatalf("snapshot shares hand storage with the match")
	}
}

func TestSameSeedSameShops(t *testing.T) {
	mk := func() *Match {
		m, err := NewMatch("m_det", testRules(), cards.Builtin(),
			PlayerSpec{UserID: 1, Username: "ana", Deck: cards.StarterDeck()},
			PlayerSpec{UserID: 2, Username: "bo", Deck: cards.StarterDeck()},
		)
		if err != nil {
			t.Fatalf("NewMatch err: %v", err)
		}
		if err := m.Start(time.Now()); err != nil {
			t.Fatalf("Start err: %v", err)
		}
		return m
	}
	m1, m2 := mk(), mk()

	for seat := 0; seat < 2; seat++ {
		s1, s2 := m1.players[seat].Shop, m2.players[seat].Shop
		if len(s1) != len(s2) {
			t.Fatalf("seat %d shop sizes differ: %v vs %v", seat, s1, s2)
		}
		for i := range s1 {
			if s1[i] != s2[i] {
				t.Fatalf("seat %d shops diverge at %d: %v vs %v", seat, i, s1, s2)
			}
		}
		h1, h2 := m1.players[seat].Hand, m2.players[seat].Hand
		for i := range h1 {
			if h1[i] != h2[i] {
				t.Fatalf("seat %d opening hands diverge: %v vs %v", seat, h1, h2)
			}
		}
	}
}

func TestHistory_RecordsEveryRound(t *testing.T) {
	m := newTestMatch(t)

	if _, err := m.ResolveCombat(time.Now()); err != nil {
		t.Fatalf("round 1 combat err: %v", err)
	}
	if _, err := m.ResolveCombat(time.Now()); err != nil {
		t.Fatalf("round 2 combat err: %v", err)
	}

	hist := m.History()
	if len(hist) != 2 {
		t.Fatalf("history = %d records, want 2", len(hist))
	}
	if hist[0].Round != 1 || hist[1].Round != 2 {
		t.Fatalf("history rounds = %d,%d, want 1,2", hist[0].Round, hist[1].Round)
	}
	if hist[0].Battle == nil || len(hist[0].Summary) != 2 {
		t.Fatalf("history record incomplete: %+v", hist[0])
	}
	// Cumulative damage never decreases.
	for seat := 0; seat < 2; seat++ {
		if hist[1].Summary[seat].DamageDealt < hist[0].Summary[seat].DamageDealt {
			t.Fatalf("seat %d cumulative damage decreased", seat)
		}
	}
}

func TestDraw_ReshufflesDiscard(t *testing.T) {
	m := newTestMatch(t)
	p := m.players[0]
	p.Deck = nil
	p.Hand = nil
	p.Discard = []string{"goblin_raid", "war_horn"}

	n := p.draw(2, m.Rules.HandMax, m.rng)
	if n != 2 {
		t.Fatalf("drew %d cards, want 2 after reshuffle", n)
	}
	if len(p.Discard) != 0 {
		t.Fatalf("discard = %v, want empty after reshuffle", p.Discard)
	}
}
