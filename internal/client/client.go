package client

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"

	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/google/uuid"

	"github.com/ayush99336/confidential-games/internal/app"
	"github.com/ayush99336/confidential-games/internal/codec"
)

// Submitter abstracts the ledger connection: a simulation lane that
// executes without committing, and a delivery lane that commits.
type Submitter interface {
	Simulate(ctx context.Context, tx []byte) (*abci.ExecTxResult, error)
	Deliver(ctx context.Context, tx []byte) (*abci.ExecTxResult, error)
}

// Identity is a client-side signing identity registered on the ledger.
type Identity struct {
	Name string
	Key  ed25519.PrivateKey
}

func NewIdentity(name string, key ed25519.PrivateKey) Identity {
	return Identity{Name: name, Key: key}
}

func (id Identity) PubKey() ed25519.PublicKey {
	return id.Key.Public().(ed25519.PublicKey)
}

// NewEnvelope builds a signed instruction envelope. The nonce is minted
// once per logical instruction; the discovery resubmission reuses the
// envelope unchanged except for the appended account list, which keeps
// handle derivation stable across both submissions.
func NewEnvelope(id Identity, typ string, value any) (codec.TxEnvelope, error) {
	valBytes, err := json.Marshal(value)
	if err != nil {
		return codec.TxEnvelope{}, fmt.Errorf("encode tx value: %w", err)
	}
	env := codec.TxEnvelope{
		Type:   typ,
		Value:  valBytes,
		Nonce:  uuid.NewString(),
		Signer: id.Name,
	}
	env.Sig = ed25519.Sign(id.Key, app.TxAuthSignBytes(env.Type, env.Value, env.Nonce, env.Signer))
	return env, nil
}

func encodeEnvelope(env codec.TxEnvelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode tx envelope: %w", err)
	}
	return b, nil
}
