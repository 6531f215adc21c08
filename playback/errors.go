package playback

import "fmt"

// ReplayError reports why a battle spec cannot be simulated. Side and
// SlotIndex are -1 when the problem is not tied to one slot.
type ReplayError struct {
	Side      int    `json:"side"`
	SlotIndex int    `json:"slot_index"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
}

func (e *ReplayError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("playback error(side=%d slot=%d reason=%s): %s", e.Side, e.SlotIndex, e.Reason, e.Message)
}

func specErr(reason, message string) *ReplayError {
	return &ReplayError{Side: -1, SlotIndex: -1, Reason: reason, Message: message}
}

func slotErr(side, slot int, reason, message string) *ReplayError {
	return &ReplayError{Side: side, SlotIndex: slot, Reason: reason, Message: message}
}
