//go:build js && wasm

package main

import (
	"encoding/json"
	"errors"
	"syscall/js"

	"towerlords/cards"
	"towerlords/playback"
)

type initRequest struct {
	Spec playback.BattleSpec `json:"spec"`
}

type initResponse struct {
	OK      bool                  `json:"ok"`
	Outcome *playback.Outcome     `json:"outcome,omitempty"`
	Error   *playback.ReplayError `json:"error,omitempty"`
}

func main() {
	cat := cards.Builtin()

	js.Global().Set("__battleInit", js.FuncOf(func(this js.Value, args []js.Value) any {
		if len(args) < 1 {
			return mustJSON(initResponse{
				OK:    false,
				Error: &playback.ReplayError{Side: -1, SlotIndex: -1, Reason: "invalid_request", Message: "missing request payload"},
			})
		}
		raw := args[0].String()
		resp := handleInit(raw, cat)
		return mustJSON(resp)
	}))

	select {}
}

func handleInit(raw string, cat *cards.Catalog) initResponse {
	var req initRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return initResponse{
			OK:    false,
			Error: &playback.ReplayError{Side: -1, SlotIndex: -1, Reason: "invalid_json", Message: err.Error()},
		}
	}

	out, err := playback.Generate(req.Spec, cat)
	if err != nil {
		var replayErr *playback.ReplayError
		if errors.As(err, &replayErr) {
			return initResponse{OK: false, Error: replayErr}
		}
		return initResponse{
			OK:    false,
			Error: &playback.ReplayError{Side: -1, SlotIndex: -1, Reason: "generation_failed", Message: err.Error()},
		}
	}
	return initResponse{OK: true, Outcome: out}
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		fallback := initResponse{
			OK:    false,
			Error: &playback.ReplayError{Side: -1, SlotIndex: -1, Reason: "marshal_failed", Message: err.Error()},
		}
		b2, _ := json.Marshal(fallback)
		return string(b2)
	}
	return string(b)
}
