package codec

import (
	"encoding/json"
	"fmt"
)

// TxEnvelope is the instruction container.
//
// Ledger transactions are opaque bytes; we use JSON-encoded envelopes.
// Aux carries the variable auxiliary-account list (allowance addresses
// derived client-side during two-phase discovery). Verify carries the
// attestation-verification preamble: signature checks that must pass
// before an instruction may act on an externally decrypted plaintext.
type TxEnvelope struct {
	// Basic routing.
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`

	// Tx auth:
	// - Nonce: included in the signed message to keep tx bytes unique.
	// - Signer: logical identity performing the instruction.
	// - Sig: Ed25519 signature over (type, nonce, signer, sha256(value)).
	Nonce  string `json:"nonce,omitempty"`
	Signer string `json:"signer,omitempty"`
	Sig    []byte `json:"sig,omitempty"`

	Aux    []string            `json:"aux,omitempty"`
	Verify []VerifyInstruction `json:"verify,omitempty"`
}

// VerifyInstruction binds a handle to a plaintext under the decryption
// collaborator's attestation key. Prepended to follow-up transactions so
// the ledger can check plaintext authenticity without trusting the client.
type VerifyInstruction struct {
	Handle    string `json:"handle"`
	Plaintext string `json:"plaintext"`
	PubKey    []byte `json:"pubKey"`
	Sig       []byte `json:"sig"`
}

func DecodeTxEnvelope(txBytes []byte) (TxEnvelope, error) {
	var env TxEnvelope
	if err := json.Unmarshal(txBytes, &env); err != nil {
		return TxEnvelope{}, fmt.Errorf("invalid tx json: %w", err)
	}
	if env.Type == "" {
		return TxEnvelope{}, fmt.Errorf("missing tx.type")
	}
	return env, nil
}

// ---- Auth ----

type AuthRegisterAccountTx struct {
	Account string `json:"account"`
	PubKey  []byte `json:"pubKey"` // base64 (32 bytes)
}

// ---- Bank ----

type BankMintTx struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

type BankSendTx struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// ---- Raffle ----

type RaffleCreateTx struct {
	RaffleID    uint64 `json:"raffleId"`
	TicketPrice uint64 `json:"ticketPrice"`
}

type RaffleBuyTicketTx struct {
	RaffleID       uint64 `json:"raffleId"`
	EncryptedGuess []byte `json:"encryptedGuess"` // base64 ciphertext blob
}

type RaffleDrawWinnerTx struct {
	RaffleID uint64 `json:"raffleId"`
}

type RaffleCheckWinnerTx struct {
	RaffleID uint64 `json:"raffleId"`
}

type RaffleWithdrawPrizeTx struct {
	RaffleID  uint64 `json:"raffleId"`
	Handle    string `json:"handle"`    // decimal is-winner handle
	Plaintext string `json:"plaintext"` // attested decryption result
}

// ---- Poker ----

type PokerCreateTableTx struct {
	TableID    uint64 `json:"tableId"`
	MaxPlayers uint8  `json:"maxPlayers"`
	BuyInMin   uint64 `json:"buyInMin"`
	BuyInMax   uint64 `json:"buyInMax"`
	SmallBlind uint64 `json:"smallBlind"`
}

type PokerJoinTableTx struct {
	Table string `json:"table"`
	BuyIn uint64 `json:"buyIn"`
}

type PokerLeaveTableTx struct {
	Table  string `json:"table"`
	Amount uint64 `json:"amount"`
}

type PokerStartGameTx struct {
	Table    string `json:"table"`
	GameID   uint64 `json:"gameId"`
	Frontend string `json:"frontend"`
}

type PokerProcessCardsTx struct {
	Game       string `json:"game"`
	BatchIndex uint8  `json:"batchIndex"`
	Card0      []byte `json:"card0"` // base64 ciphertext blob
	Card1      []byte `json:"card1"`
}

type PokerRevealHandTx struct {
	Game string `json:"game"`
}

type PokerAdvanceStageTx struct {
	Game string `json:"game"`
}

type PokerRevealCommunityTx struct {
	Game string `json:"game"`
}

type PokerRevealShuffleRandomTx struct {
	Game    string `json:"game"`
	Grantee string `json:"grantee"`
}

type PokerRevealCardOffsetTx struct {
	Game    string `json:"game"`
	Grantee string `json:"grantee"`
}

// RoundSummary mirrors the ledger's batch-applied betting-round snapshot.
type RoundSummary struct {
	RoundID    uint8     `json:"roundId"`
	BetsBySeat [5]uint64 `json:"betsBySeat"`
	FoldedMask uint8     `json:"foldedMask"`
	AllInMask  uint8     `json:"allInMask"`
	PotDelta   uint64    `json:"potDelta"`
	CurrentBet uint64    `json:"currentBet"`
	LastRaiser uint8     `json:"lastRaiser"`
	ActedMask  uint8     `json:"actedMask"`
	ActionOn   uint8     `json:"actionOn"`
}

type PokerUpdateRoundTx struct {
	Game    string       `json:"game"`
	Summary RoundSummary `json:"summary"`
}

type PokerSettleGameTx struct {
	Game            string `json:"game"`
	WinnerSeatIndex uint8  `json:"winnerSeatIndex"`
	FinalPot        uint64 `json:"finalPot"`
}

type PokerRefundAllTx struct {
	Game string `json:"game"`
}
