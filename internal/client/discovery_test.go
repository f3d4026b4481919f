package client

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"testing"

	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/stretchr/testify/require"

	"github.com/ayush99336/confidential-games/internal/codec"
	"github.com/ayush99336/confidential-games/internal/handle"
	"github.com/ayush99336/confidential-games/internal/state"
)

type fakeSubmitter struct {
	simRes    *abci.ExecTxResult
	simulated [][]byte
	delivered [][]byte
	delivRes  *abci.ExecTxResult
}

func (f *fakeSubmitter) Simulate(_ context.Context, tx []byte) (*abci.ExecTxResult, error) {
	f.simulated = append(f.simulated, tx)
	return f.simRes, nil
}

func (f *fakeSubmitter) Deliver(_ context.Context, tx []byte) (*abci.ExecTxResult, error) {
	f.delivered = append(f.delivered, tx)
	return f.delivRes, nil
}

func testClientIdentity(name string) Identity {
	seed := sha256.Sum256([]byte("client-test-" + name))
	return NewIdentity(name, ed25519.NewKeyFromSeed(seed[:]))
}

func eventWith(typ string, attrs ...string) abci.Event {
	ev := abci.Event{Type: typ}
	for i := 0; i+1 < len(attrs); i += 2 {
		ev.Attributes = append(ev.Attributes, abci.EventAttribute{Key: attrs[i], Value: attrs[i+1]})
	}
	return ev
}

func TestSubmit_DerivesAuxFromSimulation(t *testing.T) {
	h, err := handle.FromDecimal("123456")
	require.NoError(t, err)

	sub := &fakeSubmitter{
		simRes: &abci.ExecTxResult{Code: 0, Events: []abci.Event{
			eventWith("TicketBought", "owner", "alice", "guessHandle", h.String()),
		}},
		delivRes: &abci.ExecTxResult{Code: 0},
	}
	c := NewDiscoveryClient(sub)
	id := testClientIdentity("alice")

	_, err = c.Submit(context.Background(), id, "raffle/buy_ticket", map[string]any{"raffleId": 1}, "alice")
	require.NoError(t, err)
	require.Len(t, sub.simulated, 1)
	require.Len(t, sub.delivered, 1)

	var probe, final codec.TxEnvelope
	require.NoError(t, json.Unmarshal(sub.simulated[0], &probe))
	require.NoError(t, json.Unmarshal(sub.delivered[0], &final))

	// The resubmission is the probe envelope plus derived accounts.
	require.Empty(t, probe.Aux)
	require.Equal(t, []string{state.AllowanceAddress(h, "alice")}, final.Aux)
	require.Equal(t, probe.Nonce, final.Nonce)
	require.Equal(t, probe.Sig, final.Sig)
	require.Equal(t, probe.Value, final.Value)
}

func TestSubmit_NoHandlesFallsThrough(t *testing.T) {
	sub := &fakeSubmitter{
		simRes: &abci.ExecTxResult{Code: 0, Events: []abci.Event{
			eventWith("BankSent", "from", "a", "to", "b"),
		}},
		delivRes: &abci.ExecTxResult{Code: 0},
	}
	c := NewDiscoveryClient(sub)

	_, err := c.Submit(context.Background(), testClientIdentity("alice"), "bank/send", map[string]any{}, "alice")
	require.NoError(t, err)

	var final codec.TxEnvelope
	require.NoError(t, json.Unmarshal(sub.delivered[0], &final))
	require.Empty(t, final.Aux)
}

func TestSubmit_SimulationFailureAborts(t *testing.T) {
	sub := &fakeSubmitter{
		simRes: &abci.ExecTxResult{Code: 3, Log: "raffle is closed"},
	}
	c := NewDiscoveryClient(sub)

	res, err := c.Submit(context.Background(), testClientIdentity("alice"), "raffle/buy_ticket", map[string]any{}, "alice")
	require.Error(t, err)
	require.NotNil(t, res)
	require.Empty(t, sub.delivered)
}

func TestHandlesFromEvents(t *testing.T) {
	h1, err := handle.FromDecimal("42")
	require.NoError(t, err)

	events := []abci.Event{
		eventWith("A",
			"guessHandle", h1.String(),
			"winningNumberHandle", h1.String(), // duplicate, deduped
			"otherHandle", "not-a-number", // unparseable, skipped
			"zeroHandle", "0", // zero, skipped
			"owner", "alice", // no Handle suffix
		),
	}
	got := HandlesFromEvents(events)
	require.Equal(t, []handle.Handle{h1}, got)
}
