package app

import (
	"sort"

	abci "github.com/cometbft/cometbft/abci/types"
)

// okEvent wraps a successful result with one event. Attributes are sorted
// for deterministic ordering; handle-valued attributes are how clients
// discover handles from simulation output.
func okEvent(typ string, attrs map[string]string) *abci.ExecTxResult {
	return &abci.ExecTxResult{
		Code:   codeOK,
		Events: []abci.Event{event(typ, attrs)},
	}
}

func event(typ string, attrs map[string]string) abci.Event {
	ev := abci.Event{Type: typ}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ev.Attributes = append(ev.Attributes, abci.EventAttribute{Key: k, Value: attrs[k], Index: true})
	}
	return ev
}
