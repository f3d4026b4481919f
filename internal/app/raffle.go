package app

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	abci "github.com/cometbft/cometbft/abci/types"

	"github.com/ayush99336/confidential-games/internal/codec"
	"github.com/ayush99336/confidential-games/internal/compute"
	"github.com/ayush99336/confidential-games/internal/state"
)

// Raffle flow: players buy one ticket each with an encrypted guess, the
// authority draws a secret winning number in [1,100], each player checks
// their ticket (producing a confidential is-winner flag only they may
// decrypt), and the winner withdraws the pot by replaying an attested
// decryption of that flag.

const raffleNumberRange = 100

func (a *App) raffleCreate(st *state.State, env codec.TxEnvelope, height int64) *abci.ExecTxResult {
	var msg codec.RaffleCreateTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return errParse("bad raffle/create value")
	}
	if err := requireAccountAuth(st, env, env.Signer); err != nil {
		return errUnauthorized(err.Error())
	}
	if msg.TicketPrice == 0 {
		return errParse("missing ticketPrice")
	}

	addr := state.RaffleAddress(msg.RaffleID)
	if _, ok := st.Raffles[addr]; ok {
		return errState("raffle already exists")
	}
	st.Raffles[addr] = &state.Raffle{
		Authority:     env.Signer,
		RaffleID:      msg.RaffleID,
		TicketPrice:   msg.TicketPrice,
		IsOpen:        true,
		CreatedHeight: height,
	}

	return okEvent("RaffleCreated", map[string]string{
		"raffle":      addr,
		"raffleId":    fmt.Sprintf("%d", msg.RaffleID),
		"authority":   env.Signer,
		"ticketPrice": fmt.Sprintf("%d", msg.TicketPrice),
	})
}

func (a *App) raffleBuyTicket(st *state.State, env codec.TxEnvelope, ops *compute.Ops, height int64) *abci.ExecTxResult {
	var msg codec.RaffleBuyTicketTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return errParse("bad raffle/buy_ticket value")
	}
	if err := requireAccountAuth(st, env, env.Signer); err != nil {
		return errUnauthorized(err.Error())
	}
	if len(msg.EncryptedGuess) == 0 {
		return errParse("missing encryptedGuess")
	}

	raffleAddr := state.RaffleAddress(msg.RaffleID)
	raffle, ok := st.Raffles[raffleAddr]
	if !ok {
		return errState("raffle not found")
	}
	if !raffle.IsOpen {
		return errState("raffle is closed")
	}
	ticketAddr := state.TicketAddress(raffleAddr, env.Signer)
	if _, ok := st.Tickets[ticketAddr]; ok {
		return errState("ticket already purchased")
	}

	// Ticket price into the raffle vault; non-refundable.
	if err := st.Debit(env.Signer, raffle.TicketPrice); err != nil {
		return errState(err.Error())
	}
	if err := st.Credit(state.VaultAddress(raffleAddr), raffle.TicketPrice); err != nil {
		return errState(err.Error())
	}

	guessHandle, err := ops.Encrypt(msg.EncryptedGuess)
	if err != nil {
		return errState("encrypt guess: " + err.Error())
	}
	st.Tickets[ticketAddr] = &state.Ticket{
		Raffle:      raffleAddr,
		Owner:       env.Signer,
		GuessHandle: guessHandle,
	}
	raffle.ParticipantCount++

	// Optional self-allowance so the buyer can audit their own guess.
	if err := grantFromAux(st, env.Aux, 0, guessHandle, env.Signer, height); err != nil {
		return errState(err.Error())
	}

	return okEvent("TicketBought", map[string]string{
		"raffle":      raffleAddr,
		"ticket":      ticketAddr,
		"owner":       env.Signer,
		"guessHandle": guessHandle.String(),
	})
}

func (a *App) raffleDrawWinner(st *state.State, env codec.TxEnvelope, ops *compute.Ops, height int64) *abci.ExecTxResult {
	var msg codec.RaffleDrawWinnerTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return errParse("bad raffle/draw_winner value")
	}
	if err := requireAccountAuth(st, env, env.Signer); err != nil {
		return errUnauthorized(err.Error())
	}

	raffleAddr := state.RaffleAddress(msg.RaffleID)
	raffle, ok := st.Raffles[raffleAddr]
	if !ok {
		return errState("raffle not found")
	}
	if env.Signer != raffle.Authority {
		return errUnauthorized("only the raffle authority may draw")
	}
	if !raffle.IsOpen {
		return errState("winner already drawn")
	}
	if raffle.ParticipantCount == 0 {
		return errState("no participants")
	}

	// winning = (random mod 100) + 1, entirely over handles.
	random, err := ops.Random()
	if err != nil {
		return errState(err.Error())
	}
	zero, err := ops.FromPlain(0)
	if err != nil {
		return errState(err.Error())
	}
	reduced, err := ops.AddMod(random, zero, raffleNumberRange)
	if err != nil {
		return errState(err.Error())
	}
	one, err := ops.FromPlain(1)
	if err != nil {
		return errState(err.Error())
	}
	winning, err := ops.AddMod(reduced, one, 0)
	if err != nil {
		return errState(err.Error())
	}

	raffle.WinningNumberHandle = winning
	raffle.IsOpen = false

	if err := grantFromAux(st, env.Aux, 0, winning, raffle.Authority, height); err != nil {
		return errState(err.Error())
	}

	return okEvent("WinnerDrawn", map[string]string{
		"raffle":              raffleAddr,
		"winningNumberHandle": winning.String(),
	})
}

func (a *App) raffleCheckWinner(st *state.State, env codec.TxEnvelope, ops *compute.Ops, height int64) *abci.ExecTxResult {
	var msg codec.RaffleCheckWinnerTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return errParse("bad raffle/check_winner value")
	}
	if err := requireAccountAuth(st, env, env.Signer); err != nil {
		return errUnauthorized(err.Error())
	}

	raffleAddr := state.RaffleAddress(msg.RaffleID)
	raffle, ok := st.Raffles[raffleAddr]
	if !ok {
		return errState("raffle not found")
	}
	if raffle.IsOpen || raffle.WinningNumberHandle.IsZero() {
		return errState("winner not drawn yet")
	}
	ticketAddr := state.TicketAddress(raffleAddr, env.Signer)
	ticket, ok := st.Tickets[ticketAddr]
	if !ok {
		return errState("no ticket for signer")
	}
	if !ticket.IsWinnerHandle.IsZero() {
		return errState("ticket already checked")
	}

	isWinner, err := ops.Equals(ticket.GuessHandle, raffle.WinningNumberHandle)
	if err != nil {
		return errState(err.Error())
	}
	ticket.IsWinnerHandle = isWinner

	// The ticket owner gets decryption rights over their own result flag.
	if err := grantFromAux(st, env.Aux, 0, isWinner, ticket.Owner, height); err != nil {
		return errState(err.Error())
	}

	return okEvent("TicketChecked", map[string]string{
		"raffle":         raffleAddr,
		"ticket":         ticketAddr,
		"owner":          ticket.Owner,
		"isWinnerHandle": isWinner.String(),
	})
}

func (a *App) raffleWithdrawPrize(st *state.State, env codec.TxEnvelope, _ int64) *abci.ExecTxResult {
	var msg codec.RaffleWithdrawPrizeTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return errParse("bad raffle/withdraw_prize value")
	}
	if err := requireAccountAuth(st, env, env.Signer); err != nil {
		return errUnauthorized(err.Error())
	}

	raffleAddr := state.RaffleAddress(msg.RaffleID)
	raffle, ok := st.Raffles[raffleAddr]
	if !ok {
		return errState("raffle not found")
	}
	if raffle.PrizeClaimed {
		return errState("prize already claimed")
	}
	ticketAddr := state.TicketAddress(raffleAddr, env.Signer)
	ticket, ok := st.Tickets[ticketAddr]
	if !ok {
		return errState("no ticket for signer")
	}
	if ticket.Claimed {
		return errState("ticket already claimed")
	}
	if ticket.IsWinnerHandle.IsZero() {
		return errState("ticket not checked yet")
	}
	if msg.Handle != ticket.IsWinnerHandle.String() {
		return errState("handle does not match ticket result")
	}

	// The plaintext must arrive under the oracle's attestation; the ledger
	// never decrypts anything itself.
	if len(env.Verify) == 0 {
		return errAttestation("missing attestation instruction")
	}
	v := env.Verify[0]
	if v.Plaintext != msg.Plaintext {
		return errAttestation("attested plaintext does not match claim")
	}
	if err := a.requireAttestation(v, msg.Handle); err != nil {
		return errAttestation(err.Error())
	}

	if !plaintextTruthy(msg.Plaintext) {
		return errNotWinner("attested result: not a winner")
	}

	vault := state.VaultAddress(raffleAddr)
	prize := st.Balance(vault)
	if prize == 0 {
		return errState("prize pool empty")
	}
	if err := st.Debit(vault, prize); err != nil {
		return errState(err.Error())
	}
	if err := st.Credit(env.Signer, prize); err != nil {
		return errState(err.Error())
	}
	ticket.Claimed = true
	raffle.PrizeClaimed = true

	return okEvent("PrizeWithdrawn", map[string]string{
		"raffle": raffleAddr,
		"winner": env.Signer,
		"amount": fmt.Sprintf("%d", prize),
	})
}

// plaintextTruthy interprets an attested decryption result as a boolean.
// Results are decimal strings; any nonzero value counts as true.
func plaintextTruthy(s string) bool {
	switch strings.TrimSpace(s) {
	case "", "0", "false":
		return false
	case "1", "true":
		return true
	}
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	return err == nil && n != 0
}
