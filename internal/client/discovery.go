package client

import (
	"context"
	"fmt"
	"strings"

	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/sirupsen/logrus"

	"github.com/ayush99336/confidential-games/internal/codec"
	"github.com/ayush99336/confidential-games/internal/handle"
	"github.com/ayush99336/confidential-games/internal/state"
)

// DiscoveryClient drives the two-phase submission protocol for
// instructions that mint handles. The client cannot know a handle before
// the instruction runs, and the ledger only grants decryption rights
// through pre-derived allowance accounts. So: simulate the instruction,
// read the handles off the simulated events, derive the allowance
// address for each, and resubmit the identical envelope with those
// accounts attached.
type DiscoveryClient struct {
	sub Submitter
	log *logrus.Entry
}

func NewDiscoveryClient(sub Submitter) *DiscoveryClient {
	return &DiscoveryClient{
		sub: sub,
		log: logrus.WithField("component", "discovery-client"),
	}
}

// Submit runs the full discovery round-trip, granting every discovered
// handle to grantee. Instructions that mint no handles fall through to a
// plain single-phase delivery.
func (c *DiscoveryClient) Submit(ctx context.Context, id Identity, typ string, value any, grantee string) (*abci.ExecTxResult, error) {
	env, err := NewEnvelope(id, typ, value)
	if err != nil {
		return nil, err
	}
	return c.SubmitEnvelope(ctx, env, grantee)
}

func (c *DiscoveryClient) SubmitEnvelope(ctx context.Context, env codec.TxEnvelope, grantee string) (*abci.ExecTxResult, error) {
	probe, err := encodeEnvelope(env)
	if err != nil {
		return nil, err
	}
	simRes, err := c.sub.Simulate(ctx, probe)
	if err != nil {
		return nil, fmt.Errorf("simulate %s: %w", env.Type, err)
	}
	if simRes.Code != 0 {
		return simRes, fmt.Errorf("simulate %s: code=%d log=%q", env.Type, simRes.Code, simRes.Log)
	}

	discovered := HandlesFromEvents(simRes.Events)
	if len(discovered) > 0 {
		env.Aux = make([]string, 0, len(discovered))
		for _, h := range discovered {
			env.Aux = append(env.Aux, state.AllowanceAddress(h, grantee))
		}
		c.log.WithFields(logrus.Fields{
			"type":    env.Type,
			"handles": len(discovered),
			"grantee": grantee,
		}).Debug("derived allowance accounts from simulation")
	}

	final, err := encodeEnvelope(env)
	if err != nil {
		return nil, err
	}
	res, err := c.sub.Deliver(ctx, final)
	if err != nil {
		return nil, fmt.Errorf("deliver %s: %w", env.Type, err)
	}
	if res.Code != 0 {
		return res, fmt.Errorf("deliver %s: code=%d log=%q", env.Type, res.Code, res.Log)
	}
	return res, nil
}

// HandlesFromEvents extracts minted handles from instruction events.
// By convention every handle-valued attribute key carries the "Handle"
// suffix; zero and unparseable values are skipped.
func HandlesFromEvents(events []abci.Event) []handle.Handle {
	var out []handle.Handle
	seen := map[handle.Handle]bool{}
	for _, ev := range events {
		for _, attr := range ev.Attributes {
			if !strings.HasSuffix(attr.Key, "Handle") {
				continue
			}
			h, err := handle.FromDecimal(attr.Value)
			if err != nil || h.IsZero() || seen[h] {
				continue
			}
			seen[h] = true
			out = append(out, h)
		}
	}
	return out
}
