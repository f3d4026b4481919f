package app

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"testing"

	"github.com/ayush99336/confidential-games/internal/codec"
	"github.com/ayush99336/confidential-games/internal/compute"
	"github.com/ayush99336/confidential-games/internal/handle"
	"github.com/ayush99336/confidential-games/internal/state"
)

func sealValue(t *testing.T, a *App, v uint64) []byte {
	t.Helper()
	blob, err := a.engine.Seal(v)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	return blob
}

func decryptAs(t *testing.T, a *App, identity string, handles ...string) *compute.DecryptResult {
	t.Helper()
	oracle := compute.NewOracle(a.engine, a.View())
	sig := ed25519.Sign(keyFor(identity), compute.AuthMessage(identity, handles))
	res, err := oracle.Decrypt(context.Background(), handles, identity, sig)
	if err != nil {
		t.Fatalf("Decrypt for %s: %v", identity, err)
	}
	return res
}

func TestRaffleBuyTicket_TwoPhaseDiscovery(t *testing.T) {
	a := newTestApp(t)
	registerAccount(t, a, "house")
	registerAccount(t, a, "alice")
	mint(t, a, "alice", 5000)

	mustOk(t, a.deliverTx(signedTx(t, "raffle/create", "house", codec.RaffleCreateTx{
		RaffleID: 1000, TicketPrice: 1000,
	}), 1))

	// Phase one: simulate without aux accounts to discover the handle.
	value := codec.RaffleBuyTicketTx{RaffleID: 1000, EncryptedGuess: sealValue(t, a, 42)}
	nonce := nextNonce()
	simRes := mustOk(t, a.Simulate(envelope(t, "raffle/buy_ticket", "alice", nonce, value, nil, nil)))
	simHandle := attr(findEvent(simRes.Events, "TicketBought"), "guessHandle")
	if simHandle == "" {
		t.Fatalf("simulation emitted no guessHandle")
	}
	h, err := handle.FromDecimal(simHandle)
	if err != nil {
		t.Fatalf("bad handle from simulation: %v", err)
	}

	// Simulation must not commit anything.
	if balance(a, "alice") != 5000 {
		t.Fatalf("simulation moved funds")
	}

	// Phase two: resubmit the same envelope with the derived allowance.
	auxAddr := state.AllowanceAddress(h, "alice")
	res := mustOk(t, a.deliverTx(envelope(t, "raffle/buy_ticket", "alice", nonce, value, []string{auxAddr}, nil), 2))
	gotHandle := attr(findEvent(res.Events, "TicketBought"), "guessHandle")
	if gotHandle != simHandle {
		t.Fatalf("delivery minted different handle: sim=%s got=%s", simHandle, gotHandle)
	}

	if _, ok := a.st.Allowances[auxAddr]; !ok {
		t.Fatalf("expected allowance at derived address")
	}
	if got := balance(a, "alice"); got != 4000 {
		t.Fatalf("alice balance=%d want=4000", got)
	}
	raffleAddr := state.RaffleAddress(1000)
	if got := balance(a, state.VaultAddress(raffleAddr)); got != 1000 {
		t.Fatalf("vault balance=%d want=1000", got)
	}
	if a.st.Raffles[raffleAddr].ParticipantCount != 1 {
		t.Fatalf("participant count not incremented")
	}

	// One ticket per player.
	dup := a.deliverTx(signedTx(t, "raffle/buy_ticket", "alice", value), 3)
	mustFail(t, dup, codeState)
}

func TestRaffleBuyTicket_MismatchedAuxRejected(t *testing.T) {
	a := newTestApp(t)
	registerAccount(t, a, "house")
	registerAccount(t, a, "alice")
	mint(t, a, "alice", 5000)
	mustOk(t, a.deliverTx(signedTx(t, "raffle/create", "house", codec.RaffleCreateTx{
		RaffleID: 1, TicketPrice: 100,
	}), 1))

	value := codec.RaffleBuyTicketTx{RaffleID: 1, EncryptedGuess: sealValue(t, a, 5)}
	res := a.deliverTx(envelope(t, "raffle/buy_ticket", "alice", nextNonce(), value, []string{"deadbeef"}, nil), 2)
	mustFail(t, res, codeState)

	// The failed delivery must leave no trace.
	if balance(a, "alice") != 5000 {
		t.Fatalf("failed tx moved funds")
	}
	if len(a.st.Tickets) != 0 {
		t.Fatalf("failed tx left a ticket record")
	}
}

func TestRaffleDrawWinner_Validations(t *testing.T) {
	a := newTestApp(t)
	registerAccount(t, a, "house")
	registerAccount(t, a, "alice")
	registerAccount(t, a, "mallory")
	mint(t, a, "alice", 1000)
	mustOk(t, a.deliverTx(signedTx(t, "raffle/create", "house", codec.RaffleCreateTx{
		RaffleID: 7, TicketPrice: 100,
	}), 1))

	// No participants yet.
	mustFail(t, a.deliverTx(signedTx(t, "raffle/draw_winner", "house", codec.RaffleDrawWinnerTx{RaffleID: 7}), 1), codeState)

	buy := codec.RaffleBuyTicketTx{RaffleID: 7, EncryptedGuess: sealValue(t, a, 3)}
	mustOk(t, a.deliverTx(signedTx(t, "raffle/buy_ticket", "alice", buy), 2))

	// Only the authority may draw.
	mustFail(t, a.deliverTx(signedTx(t, "raffle/draw_winner", "mallory", codec.RaffleDrawWinnerTx{RaffleID: 7}), 3), codeUnauthorized)

	res := mustOk(t, a.deliverTx(signedTx(t, "raffle/draw_winner", "house", codec.RaffleDrawWinnerTx{RaffleID: 7}), 3))
	winning := attr(findEvent(res.Events, "WinnerDrawn"), "winningNumberHandle")
	if winning == "" || winning == "0" {
		t.Fatalf("no winning handle assigned")
	}
	if a.st.Raffles[state.RaffleAddress(7)].IsOpen {
		t.Fatalf("raffle still open after draw")
	}

	// Drawing twice is a state error; buying after the draw too.
	mustFail(t, a.deliverTx(signedTx(t, "raffle/draw_winner", "house", codec.RaffleDrawWinnerTx{RaffleID: 7}), 4), codeState)
	mustFail(t, a.deliverTx(signedTx(t, "raffle/buy_ticket", "alice", buy), 4), codeState)
}

// TestRaffleFullRound covers the whole lifecycle with every number bought:
// exactly one ticket must win, that player withdraws the full pot, and
// every other claim fails as a non-winner.
func TestRaffleFullRound(t *testing.T) {
	a := newTestApp(t)
	registerAccount(t, a, "house")

	const price = uint64(50)
	mustOk(t, a.deliverTx(signedTx(t, "raffle/create", "house", codec.RaffleCreateTx{
		RaffleID: 9, TicketPrice: price,
	}), 1))
	raffleAddr := state.RaffleAddress(9)

	players := make([]string, 0, raffleNumberRange)
	for n := 1; n <= raffleNumberRange; n++ {
		p := fmt.Sprintf("player-%03d", n)
		players = append(players, p)
		registerAccount(t, a, p)
		mint(t, a, p, price)
		buy := codec.RaffleBuyTicketTx{RaffleID: 9, EncryptedGuess: sealValue(t, a, uint64(n))}
		mustOk(t, a.deliverTx(signedTx(t, "raffle/buy_ticket", p, buy), 2))
	}
	mustOk(t, a.deliverTx(signedTx(t, "raffle/draw_winner", "house", codec.RaffleDrawWinnerTx{RaffleID: 9}), 3))

	// Every player checks; the is-winner flag is granted to them via aux.
	winner := ""
	winnerHandle := ""
	for _, p := range players {
		value := codec.RaffleCheckWinnerTx{RaffleID: 9}
		nonce := nextNonce()
		sim := mustOk(t, a.Simulate(envelope(t, "raffle/check_winner", p, nonce, value, nil, nil)))
		hs := attr(findEvent(sim.Events, "TicketChecked"), "isWinnerHandle")
		h, err := handle.FromDecimal(hs)
		if err != nil {
			t.Fatalf("bad isWinner handle: %v", err)
		}
		aux := []string{state.AllowanceAddress(h, p)}
		mustOk(t, a.deliverTx(envelope(t, "raffle/check_winner", p, nonce, value, aux, nil), 4))

		dec := decryptAs(t, a, p, hs)
		if dec.Plaintexts[0] == "1" {
			if winner != "" {
				t.Fatalf("two winners: %s and %s", winner, p)
			}
			winner = p
			winnerHandle = hs
		}
	}
	if winner == "" {
		t.Fatalf("no winning ticket among all %d numbers", raffleNumberRange)
	}

	pot := price * raffleNumberRange
	if got := balance(a, state.VaultAddress(raffleAddr)); got != pot {
		t.Fatalf("vault=%d want=%d", got, pot)
	}

	// A loser's attested "0" is rejected as not-a-winner.
	loser := players[0]
	if loser == winner {
		loser = players[1]
	}
	loserHandle := a.st.Tickets[state.TicketAddress(raffleAddr, loser)].IsWinnerHandle.String()
	loserDec := decryptAs(t, a, loser, loserHandle)
	loserTx := envelope(t, "raffle/withdraw_prize", loser, nextNonce(), codec.RaffleWithdrawPrizeTx{
		RaffleID: 9, Handle: loserHandle, Plaintext: loserDec.Plaintexts[0],
	}, nil, loserDec.Verifications)
	mustFail(t, a.deliverTx(loserTx, 5), codeNotWinner)

	// The winner replays their attestation and takes the pot.
	winDec := decryptAs(t, a, winner, winnerHandle)
	winTx := envelope(t, "raffle/withdraw_prize", winner, nextNonce(), codec.RaffleWithdrawPrizeTx{
		RaffleID: 9, Handle: winnerHandle, Plaintext: winDec.Plaintexts[0],
	}, nil, winDec.Verifications)
	res := mustOk(t, a.deliverTx(winTx, 6))
	if got := parseU64(t, attr(findEvent(res.Events, "PrizeWithdrawn"), "amount")); got != pot {
		t.Fatalf("withdrawn=%d want=%d", got, pot)
	}
	if got := balance(a, winner); got != pot {
		t.Fatalf("winner balance=%d want=%d", got, pot)
	}
	if got := balance(a, state.VaultAddress(raffleAddr)); got != 0 {
		t.Fatalf("vault not drained: %d", got)
	}

	// Double-claim is rejected.
	winTx2 := envelope(t, "raffle/withdraw_prize", winner, nextNonce(), codec.RaffleWithdrawPrizeTx{
		RaffleID: 9, Handle: winnerHandle, Plaintext: winDec.Plaintexts[0],
	}, nil, winDec.Verifications)
	mustFail(t, a.deliverTx(winTx2, 7), codeState)
}

func TestRaffleWithdraw_RejectsForgedAttestation(t *testing.T) {
	a := newTestApp(t)
	registerAccount(t, a, "house")
	registerAccount(t, a, "alice")
	mint(t, a, "alice", 1000)
	mustOk(t, a.deliverTx(signedTx(t, "raffle/create", "house", codec.RaffleCreateTx{RaffleID: 2, TicketPrice: 100}), 1))

	// Guess outside [1,100] so the ticket can never win honestly.
	buy := codec.RaffleBuyTicketTx{RaffleID: 2, EncryptedGuess: sealValue(t, a, 500)}
	mustOk(t, a.deliverTx(signedTx(t, "raffle/buy_ticket", "alice", buy), 2))
	mustOk(t, a.deliverTx(signedTx(t, "raffle/draw_winner", "house", codec.RaffleDrawWinnerTx{RaffleID: 2}), 3))
	mustOk(t, a.deliverTx(signedTx(t, "raffle/check_winner", "alice", codec.RaffleCheckWinnerTx{RaffleID: 2}), 4))

	hs := a.st.Tickets[state.TicketAddress(state.RaffleAddress(2), "alice")].IsWinnerHandle.String()

	// Attestation signed by a key that is not the oracle's.
	forgedKey := keyFor("forger")
	forged := codec.VerifyInstruction{
		Handle:    hs,
		Plaintext: "1",
		PubKey:    forgedKey.Public().(ed25519.PublicKey),
		Sig:       ed25519.Sign(forgedKey, compute.AttestMessage(hs, "1")),
	}
	tx := envelope(t, "raffle/withdraw_prize", "alice", nextNonce(), codec.RaffleWithdrawPrizeTx{
		RaffleID: 2, Handle: hs, Plaintext: "1",
	}, nil, []codec.VerifyInstruction{forged})
	mustFail(t, a.deliverTx(tx, 5), codeAttestation)

	// Missing attestation entirely.
	tx = envelope(t, "raffle/withdraw_prize", "alice", nextNonce(), codec.RaffleWithdrawPrizeTx{
		RaffleID: 2, Handle: hs, Plaintext: "1",
	}, nil, nil)
	mustFail(t, a.deliverTx(tx, 5), codeAttestation)
}

func TestRaffle_RequiresRegisteredSigner(t *testing.T) {
	a := newTestApp(t)
	res := a.deliverTx(signedTx(t, "raffle/create", "ghost", codec.RaffleCreateTx{RaffleID: 1, TicketPrice: 10}), 1)
	mustFail(t, res, codeUnauthorized)
}
