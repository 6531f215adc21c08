package game

import "errors"

var (
	ErrMatchFinished = errors.New("match already finished")
	ErrNotAPlayer    = errors.New("user is not seated in this match")
)

type InvalidStateError string

func (e InvalidStateError) Error() string { return "invalid state: " + string(e) }

func ErrInvalidState(msg string) error { return InvalidStateError(msg) }

// Denial codes. A denial is a rule saying no, not a failure; state is
// untouched and the caller notifies the actor.
const (
	DenyNotEnoughGold            = "NOT_ENOUGH_GOLD"
	DenyHandFull                 = "HAND_FULL"
	DenyCardNotInShop            = "CARD_NOT_IN_SHOP"
	DenyInvalidSlot              = "INVALID_SLOT"
	DenySlotOccupied             = "SLOT_OCCUPIED"
	DenyStackFull                = "STACK_FULL"
	DenyEmptySlot                = "EMPTY_SLOT"
	DenyWrongPhase               = "WRONG_PHASE"
	DenyMaxLevel                 = "MAX_LEVEL"
	DenyAlreadyUpgradedThisRound = "ALREADY_UPGRADED_THIS_ROUND"
	DenyUnknownCard              = "UNKNOWN_CARD"
)

// Denial carries the code plus the card the rule tripped on, when one
// was resolved before the rule said no.
type Denial struct {
	Code   string
	CardID string
}

func (d *Denial) Error() string { return "denied: " + d.Code }

func deny(code string) *Denial { return &Denial{Code: code} }

// AsDenial unwraps a *Denial from err, if that is what it is.
func AsDenial(err error) (*Denial, bool) {
	var d *Denial
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}
