package app

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"

	abci "github.com/cometbft/cometbft/abci/types"

	"github.com/ayush99336/confidential-games/internal/codec"
	"github.com/ayush99336/confidential-games/internal/compute"
)

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

// keyFor derives a stable test keypair per identity name.
func keyFor(name string) ed25519.PrivateKey {
	seed := sha256.Sum256([]byte("test-key-" + name))
	return ed25519.NewKeyFromSeed(seed[:])
}

var nonceSeq uint64

func nextNonce() string {
	return fmt.Sprintf("n-%d", atomic.AddUint64(&nonceSeq, 1))
}

func envelope(t *testing.T, typ, signer, nonce string, value any, aux []string, verify []codec.VerifyInstruction) []byte {
	t.Helper()
	valBytes := mustMarshal(t, value)
	env := codec.TxEnvelope{
		Type:   typ,
		Value:  valBytes,
		Nonce:  nonce,
		Signer: signer,
		Aux:    aux,
		Verify: verify,
	}
	if signer != "" {
		env.Sig = ed25519.Sign(keyFor(signer), TxAuthSignBytes(typ, valBytes, nonce, signer))
	}
	return mustMarshal(t, env)
}

func signedTx(t *testing.T, typ, signer string, value any) []byte {
	t.Helper()
	return envelope(t, typ, signer, nextNonce(), value, nil, nil)
}

func unsignedTx(t *testing.T, typ string, value any) []byte {
	t.Helper()
	return mustMarshal(t, map[string]any{"type": typ, "value": value})
}

func findEvent(events []abci.Event, typ string) *abci.Event {
	for i := range events {
		if events[i].Type == typ {
			return &events[i]
		}
	}
	return nil
}

func attr(ev *abci.Event, key string) string {
	if ev == nil {
		return ""
	}
	for _, a := range ev.Attributes {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

func parseU64(t *testing.T, s string) uint64 {
	t.Helper()
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		t.Fatalf("parse uint64 %q: %v", s, err)
	}
	return n
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	engine, err := compute.NewEngine(filepath.Join(t.TempDir(), "compute.db"))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })

	a, err := New(t.TempDir(), engine, engine.AttestationKey())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func mustOk(t *testing.T, res *abci.ExecTxResult) *abci.ExecTxResult {
	t.Helper()
	if res.Code != codeOK {
		t.Fatalf("expected ok, got code=%d log=%q", res.Code, res.Log)
	}
	return res
}

func mustFail(t *testing.T, res *abci.ExecTxResult, wantCode uint32) *abci.ExecTxResult {
	t.Helper()
	if res.Code != wantCode {
		t.Fatalf("expected code=%d, got code=%d log=%q", wantCode, res.Code, res.Log)
	}
	return res
}

func registerAccount(t *testing.T, a *App, name string) {
	t.Helper()
	pub := keyFor(name).Public().(ed25519.PublicKey)
	mustOk(t, a.deliverTx(signedTx(t, "auth/register_account", name, codec.AuthRegisterAccountTx{
		Account: name,
		PubKey:  pub,
	}), 1))
}

func mint(t *testing.T, a *App, to string, amount uint64) {
	t.Helper()
	mustOk(t, a.deliverTx(unsignedTx(t, "bank/mint", map[string]any{"to": to, "amount": amount}), 1))
}

func balance(a *App, addr string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.st.Balance(addr)
}
