package codec

import (
	"encoding/json"
	"testing"
)

func TestDecodeTxEnvelope_OK(t *testing.T) {
	raw := []byte(`{
		"type": "raffle/buy_ticket",
		"value": {"raffleId": 1000, "encryptedGuess": "YWJj"},
		"nonce": "n-1",
		"signer": "alice",
		"sig": "c2ln",
		"aux": ["aa", "bb"],
		"verify": [{"handle": "5", "plaintext": "1", "pubKey": "cGs=", "sig": "c2ln"}]
	}`)

	env, err := DecodeTxEnvelope(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != "raffle/buy_ticket" {
		t.Fatalf("unexpected type: %q", env.Type)
	}
	if env.Signer != "alice" || env.Nonce != "n-1" {
		t.Fatalf("unexpected auth fields: signer=%q nonce=%q", env.Signer, env.Nonce)
	}
	if len(env.Aux) != 2 || env.Aux[0] != "aa" {
		t.Fatalf("unexpected aux: %v", env.Aux)
	}
	if len(env.Verify) != 1 || env.Verify[0].Handle != "5" || env.Verify[0].Plaintext != "1" {
		t.Fatalf("unexpected verify: %+v", env.Verify)
	}

	var msg RaffleBuyTicketTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if msg.RaffleID != 1000 {
		t.Fatalf("unexpected raffleId: %d", msg.RaffleID)
	}
	if string(msg.EncryptedGuess) != "abc" {
		t.Fatalf("unexpected guess blob: %q", msg.EncryptedGuess)
	}
}

func TestDecodeTxEnvelope_MissingType(t *testing.T) {
	if _, err := DecodeTxEnvelope([]byte(`{"value": {}}`)); err == nil {
		t.Fatalf("expected error for missing type")
	}
}

func TestDecodeTxEnvelope_InvalidJSON(t *testing.T) {
	if _, err := DecodeTxEnvelope([]byte(`{not json`)); err == nil {
		t.Fatalf("expected error for invalid json")
	}
}
