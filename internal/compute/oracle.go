package compute

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ayush99336/confidential-games/internal/codec"
	"github.com/ayush99336/confidential-games/internal/handle"
	"github.com/ayush99336/confidential-games/internal/state"
)

// Oracle is the attested-decryption collaborator. Given handles and a
// signed request from an identity, it returns the plaintexts behind the
// handles plus verification instructions the caller can replay into a
// follow-up transaction.
//
// Decryption must fail for any (handle, identity) pair lacking an
// on-ledger allowance. The ledger view the oracle reads may lag behind
// the latest write; that surfaces as a transient error the caller is
// expected to retry.

var (
	// ErrNoAllowance is a logic error: the handle was never revealed to
	// this identity. Retrying will not help.
	ErrNoAllowance = errors.New("no allowance for handle")
	// ErrUnavailable is transient: the oracle's ledger view could not be
	// consulted (propagation lag, collaborator unreachable).
	ErrUnavailable = errors.New("decryption collaborator unavailable")
)

// LedgerView is the oracle's read-only window onto committed ledger state.
type LedgerView interface {
	HasAllowance(addr string) (bool, error)
	AccountKey(identity string) ([]byte, bool)
}

type DecryptResult struct {
	Plaintexts    []string
	Verifications []codec.VerifyInstruction
}

type Oracle struct {
	engine *Engine
	view   LedgerView
	log    *logrus.Entry
}

func NewOracle(engine *Engine, view LedgerView) *Oracle {
	return &Oracle{
		engine: engine,
		view:   view,
		log:    logrus.WithField("component", "decrypt-oracle"),
	}
}

const (
	decryptAuthDomain = "cgames/decrypt/v1"
	attestDomain      = "cgames/attest/v1"
)

// AuthMessage is the message an identity signs to authenticate a decrypt
// request for the given handles.
func AuthMessage(identity string, handles []string) []byte {
	out := make([]byte, 0, len(decryptAuthDomain)+1+len(identity)+1)
	out = append(out, []byte(decryptAuthDomain)...)
	out = append(out, 0)
	out = append(out, []byte(identity)...)
	for _, h := range handles {
		out = append(out, 0)
		out = append(out, []byte(h)...)
	}
	return out
}

// AttestMessage is the message the oracle signs to bind a handle to its
// plaintext. Ledger-side verification recomputes it.
func AttestMessage(handleDecimal, plaintext string) []byte {
	out := make([]byte, 0, len(attestDomain)+1+len(handleDecimal)+1+len(plaintext))
	out = append(out, []byte(attestDomain)...)
	out = append(out, 0)
	out = append(out, []byte(handleDecimal)...)
	out = append(out, 0)
	out = append(out, []byte(plaintext)...)
	return out
}

func (o *Oracle) Decrypt(ctx context.Context, handles []string, identity string, sig []byte) (*DecryptResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(handles) == 0 {
		return nil, fmt.Errorf("no handles requested")
	}

	pub, ok := o.view.AccountKey(identity)
	if !ok {
		return nil, fmt.Errorf("unknown identity %q", identity)
	}
	if len(pub) != ed25519.PublicKeySize || !ed25519.Verify(ed25519.PublicKey(pub), AuthMessage(identity, handles), sig) {
		return nil, fmt.Errorf("invalid decrypt request signature for %q", identity)
	}

	res := &DecryptResult{
		Plaintexts:    make([]string, 0, len(handles)),
		Verifications: make([]codec.VerifyInstruction, 0, len(handles)),
	}
	for _, hs := range handles {
		h, err := handle.FromDecimal(hs)
		if err != nil {
			return nil, err
		}

		allowed, err := o.view.HasAllowance(state.AllowanceAddress(h, identity))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if !allowed {
			o.log.WithFields(logrus.Fields{"handle": hs, "identity": identity}).Warn("decrypt denied")
			return nil, fmt.Errorf("handle %s for %q: %w", hs, identity, ErrNoAllowance)
		}

		value, err := o.engine.valueOf(h)
		if err != nil {
			return nil, err
		}
		plaintext := fmt.Sprintf("%d", value)

		res.Plaintexts = append(res.Plaintexts, plaintext)
		res.Verifications = append(res.Verifications, codec.VerifyInstruction{
			Handle:    hs,
			Plaintext: plaintext,
			PubKey:    o.engine.AttestationKey(),
			Sig:       ed25519.Sign(o.engine.attestPriv, AttestMessage(hs, plaintext)),
		})
	}
	return res, nil
}
