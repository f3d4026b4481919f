package app

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"strings"

	abci "github.com/cometbft/cometbft/abci/types"

	"github.com/ayush99336/confidential-games/internal/codec"
	"github.com/ayush99336/confidential-games/internal/compute"
	"github.com/ayush99336/confidential-games/internal/handle"
	"github.com/ayush99336/confidential-games/internal/state"
)

// Poker flow: seats and chips are public; cards are confidential handles.
// The authority streams the deck in as 8 two-card batches, each card
// re-randomized by adding the game's secret offset mod 52. Hole-card
// ownership is determined by a public permutation derived from the
// shuffle-random handle's bits. Betting itself happens off-ledger; the
// authority commits one round summary per street.

func (a *App) pokerCreateTable(st *state.State, env codec.TxEnvelope, _ int64) *abci.ExecTxResult {
	var msg codec.PokerCreateTableTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return errParse("bad poker/create_table value")
	}
	if err := requireAccountAuth(st, env, env.Signer); err != nil {
		return errUnauthorized(err.Error())
	}
	if msg.MaxPlayers < state.MinPlayers || msg.MaxPlayers > state.MaxPlayers {
		return errParse(fmt.Sprintf("maxPlayers must be in [%d,%d]", state.MinPlayers, state.MaxPlayers))
	}
	if msg.BuyInMin == 0 || msg.BuyInMax < msg.BuyInMin {
		return errParse("invalid buy-in range")
	}
	if msg.SmallBlind == 0 {
		return errParse("missing smallBlind")
	}

	addr := state.TableAddress(env.Signer, msg.TableID)
	if _, ok := st.Tables[addr]; ok {
		return errState("table already exists")
	}
	st.Tables[addr] = &state.Table{
		Authority:  env.Signer,
		TableID:    msg.TableID,
		MaxPlayers: msg.MaxPlayers,
		BuyInMin:   msg.BuyInMin,
		BuyInMax:   msg.BuyInMax,
		SmallBlind: msg.SmallBlind,
	}

	return okEvent("TableCreated", map[string]string{
		"table":     addr,
		"tableId":   fmt.Sprintf("%d", msg.TableID),
		"authority": env.Signer,
	})
}

func (a *App) pokerJoinTable(st *state.State, env codec.TxEnvelope, _ int64) *abci.ExecTxResult {
	var msg codec.PokerJoinTableTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return errParse("bad poker/join_table value")
	}
	if err := requireAccountAuth(st, env, env.Signer); err != nil {
		return errUnauthorized(err.Error())
	}

	table, ok := st.Tables[msg.Table]
	if !ok {
		return errState("table not found")
	}
	if table.CurrentGame != "" {
		return errState("hand in progress")
	}
	if table.PlayerCount >= table.MaxPlayers {
		return errState("table full")
	}
	if msg.BuyIn < table.BuyInMin || msg.BuyIn > table.BuyInMax {
		return errState("buy-in out of range")
	}
	seatAddr := state.SeatAddress(msg.Table, env.Signer)
	if _, ok := st.Seats[seatAddr]; ok {
		return errState("player already seated")
	}
	idx, err := st.NextSeatIndex(msg.Table)
	if err != nil {
		return errState(err.Error())
	}

	if err := st.Debit(env.Signer, msg.BuyIn); err != nil {
		return errState(err.Error())
	}
	if err := st.Credit(state.VaultAddress(msg.Table), msg.BuyIn); err != nil {
		return errState(err.Error())
	}
	st.Seats[seatAddr] = &state.PlayerSeat{
		Table:     msg.Table,
		Player:    env.Signer,
		SeatIndex: idx,
		Chips:     msg.BuyIn,
	}
	table.PlayerCount++

	return okEvent("PlayerJoined", map[string]string{
		"table":  msg.Table,
		"seat":   fmt.Sprintf("%d", idx),
		"player": env.Signer,
		"buyIn":  fmt.Sprintf("%d", msg.BuyIn),
	})
}

func (a *App) pokerLeaveTable(st *state.State, env codec.TxEnvelope, _ int64) *abci.ExecTxResult {
	var msg codec.PokerLeaveTableTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return errParse("bad poker/leave_table value")
	}
	if err := requireAccountAuth(st, env, env.Signer); err != nil {
		return errUnauthorized(err.Error())
	}

	table, ok := st.Tables[msg.Table]
	if !ok {
		return errState("table not found")
	}
	if table.CurrentGame != "" {
		return errState("hand in progress")
	}
	seatAddr := state.SeatAddress(msg.Table, env.Signer)
	seat, ok := st.Seats[seatAddr]
	if !ok {
		return errState("not seated")
	}
	if msg.Amount == 0 || msg.Amount > seat.Chips {
		return errState("invalid cash-out amount")
	}

	if err := st.Debit(state.VaultAddress(msg.Table), msg.Amount); err != nil {
		return errState(err.Error())
	}
	if err := st.Credit(env.Signer, msg.Amount); err != nil {
		return errState(err.Error())
	}
	seat.Chips -= msg.Amount
	if seat.Chips == 0 {
		delete(st.Seats, seatAddr)
		table.PlayerCount--
	}

	return okEvent("PlayerLeft", map[string]string{
		"table":  msg.Table,
		"player": env.Signer,
		"amount": fmt.Sprintf("%d", msg.Amount),
	})
}

func (a *App) pokerStartGame(st *state.State, env codec.TxEnvelope, ops *compute.Ops, _ int64) *abci.ExecTxResult {
	var msg codec.PokerStartGameTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return errParse("bad poker/start_game value")
	}
	if err := requireAccountAuth(st, env, env.Signer); err != nil {
		return errUnauthorized(err.Error())
	}
	if msg.Frontend == "" {
		return errParse("missing frontend")
	}

	table, ok := st.Tables[msg.Table]
	if !ok {
		return errState("table not found")
	}
	if env.Signer != table.Authority {
		return errUnauthorized("only the table authority may start a hand")
	}
	if table.CurrentGame != "" {
		return errState("hand in progress")
	}
	if table.PlayerCount < state.MinPlayers {
		return errState("not enough players")
	}
	gameAddr := state.GameAddress(msg.Table, msg.GameID)
	if _, ok := st.Games[gameAddr]; ok {
		return errState("game id already used")
	}

	shuffleRandom, err := ops.Random()
	if err != nil {
		return errState(err.Error())
	}
	offsetRandom, err := ops.Random()
	if err != nil {
		return errState(err.Error())
	}
	zero, err := ops.FromPlain(0)
	if err != nil {
		return errState(err.Error())
	}
	cardOffset, err := ops.AddMod(offsetRandom, zero, state.CardModulus)
	if err != nil {
		return errState(err.Error())
	}

	seats := st.SeatsOfTable(msg.Table)
	count := len(seats)
	game := &state.Game{
		Table:            msg.Table,
		GameID:           msg.GameID,
		Stage:            state.StageDealing,
		PlayerCount:      uint8(count),
		PlayersRemaining: uint8(count),
		Frontend:         msg.Frontend,
		WinnerSeat:       -1,
		ShuffleRandom:    shuffleRandom,
		CardOffset:       cardOffset,
		ShuffledIndices:  state.ShuffleIndices(shuffleRandom),
	}

	for _, seat := range seats {
		seat.Game = gameAddr
		seat.CurrentBet = 0
		seat.TotalBet = 0
		seat.Folded = false
		seat.AllIn = false
		seat.Acted = false
		seat.HoleCard1 = handle.Zero
		seat.HoleCard2 = handle.Zero
	}

	// Dealer is position 0; blinds follow clockwise.
	sbSeat := seats[1%count]
	bbSeat := seats[2%count]
	smallBlind := table.SmallBlind
	bigBlind := 2 * smallBlind
	if err := postBlind(game, sbSeat, smallBlind); err != nil {
		return errState("small blind: " + err.Error())
	}
	if err := postBlind(game, bbSeat, bigBlind); err != nil {
		return errState("big blind: " + err.Error())
	}
	game.CurrentBet = bigBlind
	game.LastRaiser = bbSeat.SeatIndex
	game.ActionOn = seats[3%count].SeatIndex

	st.Games[gameAddr] = game
	table.CurrentGame = gameAddr

	return okEvent("GameStarted", map[string]string{
		"table":               msg.Table,
		"game":                gameAddr,
		"gameId":              fmt.Sprintf("%d", msg.GameID),
		"players":             fmt.Sprintf("%d", count),
		"shuffleRandomHandle": shuffleRandom.String(),
		"cardOffsetHandle":    cardOffset.String(),
		"shuffledIndices":     indicesString(game.ShuffledIndices),
		"smallBlindSeat":      fmt.Sprintf("%d", sbSeat.SeatIndex),
		"bigBlindSeat":        fmt.Sprintf("%d", bbSeat.SeatIndex),
		"actionOn":            fmt.Sprintf("%d", game.ActionOn),
		"pot":                 fmt.Sprintf("%d", game.Pot),
	})
}

func postBlind(game *state.Game, seat *state.PlayerSeat, amount uint64) error {
	if seat.Chips < amount {
		return fmt.Errorf("seat %d cannot cover blind of %d", seat.SeatIndex, amount)
	}
	seat.Chips -= amount
	seat.CurrentBet = amount
	seat.TotalBet = amount
	game.RoundBets[seat.SeatIndex] = amount
	game.Pot += amount
	game.BlindsPosted |= 1 << seat.SeatIndex
	return nil
}

func indicesString(indices [state.MaxPlayers]uint8) string {
	parts := make([]string, len(indices))
	for i, v := range indices {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, ",")
}

func (a *App) pokerProcessCards(st *state.State, env codec.TxEnvelope, ops *compute.Ops, _ int64) *abci.ExecTxResult {
	var msg codec.PokerProcessCardsTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return errParse("bad poker/process_cards value")
	}
	if err := requireAccountAuth(st, env, env.Signer); err != nil {
		return errUnauthorized(err.Error())
	}

	game, ok := st.Games[msg.Game]
	if !ok {
		return errState("game not found")
	}
	table := st.Tables[game.Table]
	if table == nil || env.Signer != table.Authority {
		return errUnauthorized("only the table authority may process cards")
	}
	if game.Stage != state.StageDealing {
		return errState("not in dealing stage")
	}
	if msg.BatchIndex >= state.CardBatches {
		return errParse("batch index out of range")
	}
	if msg.BatchIndex != game.BatchesProcessed {
		return errState(fmt.Sprintf("card batch out of order: got=%d want=%d", msg.BatchIndex, game.BatchesProcessed))
	}

	processed := 0
	for i, blob := range [][]byte{msg.Card0, msg.Card1} {
		idx := int(msg.BatchIndex)*2 + i
		if idx >= state.TotalCardsNeeded {
			break
		}
		if len(blob) == 0 {
			return errParse(fmt.Sprintf("missing card blob %d", i))
		}
		raw, err := ops.Encrypt(blob)
		if err != nil {
			return errState("encrypt card: " + err.Error())
		}
		// Re-randomize: every committed card is (value + offset) mod 52, so
		// nothing about the original deck order leaks from handle creation.
		card, err := ops.AddMod(raw, game.CardOffset, state.CardModulus)
		if err != nil {
			return errState(err.Error())
		}
		if idx < state.HoleCardsPerPlayer*state.MaxPlayers {
			game.DealCards[idx] = card
		} else {
			slot := game.ShuffledIndices[idx-state.HoleCardsPerPlayer*state.MaxPlayers]
			game.CommunityCards[slot] = card
		}
		processed++
	}
	game.BatchesProcessed++

	attrs := map[string]string{
		"game":             msg.Game,
		"batchIndex":       fmt.Sprintf("%d", msg.BatchIndex),
		"cardsInBatch":     fmt.Sprintf("%d", processed),
		"batchesProcessed": fmt.Sprintf("%d", game.BatchesProcessed),
	}
	if game.BatchesProcessed == state.CardBatches {
		game.CardsProcessed = true
		game.Stage = state.StagePreFlop
		game.RoundID = 1
		attrs["stage"] = string(game.Stage)
	}
	return okEvent("CardsBatchProcessed", attrs)
}

func (a *App) pokerRevealHand(st *state.State, env codec.TxEnvelope, height int64) *abci.ExecTxResult {
	var msg codec.PokerRevealHandTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return errParse("bad poker/reveal_hand value")
	}
	if err := requireAccountAuth(st, env, env.Signer); err != nil {
		return errUnauthorized(err.Error())
	}

	game, ok := st.Games[msg.Game]
	if !ok {
		return errState("game not found")
	}
	if !game.CardsProcessed {
		return errState("cards not fully dealt")
	}
	seatAddr := state.SeatAddress(game.Table, env.Signer)
	seat, ok := st.Seats[seatAddr]
	if !ok || seat.Game != msg.Game {
		return errState("signer has no seat in this game")
	}
	if game.IsFolded(seat.SeatIndex) {
		return errState("seat has folded")
	}
	pair, ok := game.PairIndexForSeat(seat.SeatIndex)
	if !ok {
		return errState("no card pair for seat")
	}
	card1 := game.DealCards[state.HoleCardsPerPlayer*pair]
	card2 := game.DealCards[state.HoleCardsPerPlayer*pair+1]
	if card1.IsZero() || card2.IsZero() {
		return errState("hole cards missing")
	}
	seat.HoleCard1 = card1
	seat.HoleCard2 = card2

	if err := grantFromAux(st, env.Aux, 0, card1, env.Signer, height); err != nil {
		return errState(err.Error())
	}
	if err := grantFromAux(st, env.Aux, 1, card2, env.Signer, height); err != nil {
		return errState(err.Error())
	}

	return okEvent("HandRevealed", map[string]string{
		"game":        msg.Game,
		"player":      env.Signer,
		"seat":        fmt.Sprintf("%d", seat.SeatIndex),
		"card1Handle": card1.String(),
		"card2Handle": card2.String(),
	})
}

// communityRevealsFor lists the community-card slots disclosed on entry to
// a stage: three at the flop, one each at turn and river.
func communityRevealsFor(stage state.GameStage) []int {
	switch stage {
	case state.StageFlop:
		return []int{0, 1, 2}
	case state.StageTurn:
		return []int{3}
	case state.StageRiver:
		return []int{4}
	default:
		return nil
	}
}

func (a *App) pokerAdvanceStage(st *state.State, env codec.TxEnvelope, height int64) *abci.ExecTxResult {
	var msg codec.PokerAdvanceStageTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return errParse("bad poker/advance_stage value")
	}
	if err := requireAccountAuth(st, env, env.Signer); err != nil {
		return errUnauthorized(err.Error())
	}

	game, ok := st.Games[msg.Game]
	if !ok {
		return errState("game not found")
	}
	table := st.Tables[game.Table]
	if table == nil || env.Signer != table.Authority {
		return errUnauthorized("only the table authority may advance the stage")
	}
	if _, betting := game.Stage.RoundID(); !betting {
		return errState("stage cannot be advanced: " + string(game.Stage))
	}

	next := game.Stage.NextStage()
	if game.PlayersRemaining <= 1 {
		// Everyone else folded; skip straight to showdown.
		next = state.StageShowdown
	}

	reveals := communityRevealsFor(next)
	if len(reveals) > 0 {
		if game.Frontend == "" {
			return errState("no frontend registered for reveals")
		}
		if len(env.Aux) < len(reveals) {
			return errState(fmt.Sprintf("missing allowance accounts: got=%d want=%d", len(env.Aux), len(reveals)))
		}
		for i, slot := range reveals {
			card := game.CommunityCards[slot]
			if card.IsZero() {
				return errState("community card missing")
			}
			if err := grantFromAux(st, env.Aux, i, card, game.Frontend, height); err != nil {
				return errState(err.Error())
			}
			game.CommunityRevealed |= 1 << slot
		}
	}

	// New street: per-round betting state resets, cumulative state stays.
	game.Stage = next
	if rid, ok := next.RoundID(); ok {
		game.RoundID = rid
	}
	game.CurrentBet = 0
	game.RoundBets = [state.MaxPlayers]uint64{}
	game.ActedMask = 0
	game.PlayersActed = 0
	seats := st.SeatsOfTable(game.Table)
	for _, seat := range seats {
		if seat.Game != msg.Game {
			continue
		}
		seat.CurrentBet = 0
		seat.Acted = false
	}
	if first, ok := firstActiveSeat(game, seats); ok {
		game.ActionOn = first
	}

	return okEvent("StageAdvanced", map[string]string{
		"game":     msg.Game,
		"stage":    string(next),
		"revealed": fmt.Sprintf("%d", len(reveals)),
	})
}

func firstActiveSeat(game *state.Game, seats []*state.PlayerSeat) (uint8, bool) {
	for _, seat := range seats {
		if seat.Game != "" && game.IsActive(seat.SeatIndex) {
			return seat.SeatIndex, true
		}
	}
	return 0, false
}

func (a *App) pokerRevealCommunity(st *state.State, env codec.TxEnvelope, height int64) *abci.ExecTxResult {
	var msg codec.PokerRevealCommunityTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return errParse("bad poker/reveal_community value")
	}
	if err := requireAccountAuth(st, env, env.Signer); err != nil {
		return errUnauthorized(err.Error())
	}

	game, ok := st.Games[msg.Game]
	if !ok {
		return errState("game not found")
	}
	table := st.Tables[game.Table]
	if table == nil || env.Signer != table.Authority {
		return errUnauthorized("only the table authority may reveal the board")
	}
	if !game.CardsProcessed {
		return errState("cards not fully dealt")
	}
	if game.Frontend == "" {
		return errState("no frontend registered for reveals")
	}
	if len(env.Aux) < state.CommunityCardCount {
		return errState(fmt.Sprintf("missing allowance accounts: got=%d want=%d", len(env.Aux), state.CommunityCardCount))
	}

	for i := 0; i < state.CommunityCardCount; i++ {
		card := game.CommunityCards[i]
		if card.IsZero() {
			return errState("community card missing")
		}
		if err := grantFromAux(st, env.Aux, i, card, game.Frontend, height); err != nil {
			return errState(err.Error())
		}
	}
	game.CommunityRevealed = (1 << state.CommunityCardCount) - 1

	return okEvent("CommunityRevealed", map[string]string{
		"game":     msg.Game,
		"frontend": game.Frontend,
	})
}

func (a *App) pokerRevealShuffleRandom(st *state.State, env codec.TxEnvelope, height int64) *abci.ExecTxResult {
	var msg codec.PokerRevealShuffleRandomTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return errParse("bad poker/reveal_shuffle_random value")
	}
	return a.pokerRevealGameHandle(st, env, height, msg.Game, msg.Grantee, "ShuffleRandomRevealed", func(g *state.Game) handle.Handle {
		return g.ShuffleRandom
	})
}

func (a *App) pokerRevealCardOffset(st *state.State, env codec.TxEnvelope, height int64) *abci.ExecTxResult {
	var msg codec.PokerRevealCardOffsetTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return errParse("bad poker/reveal_card_offset value")
	}
	return a.pokerRevealGameHandle(st, env, height, msg.Game, msg.Grantee, "CardOffsetRevealed", func(g *state.Game) handle.Handle {
		return g.CardOffset
	})
}

// pokerRevealGameHandle grants one game-level handle (shuffle random or
// card offset) to a grantee. Used post-hand so anyone can audit the deal.
func (a *App) pokerRevealGameHandle(st *state.State, env codec.TxEnvelope, height int64, gameAddr, grantee, eventType string, pick func(*state.Game) handle.Handle) *abci.ExecTxResult {
	if err := requireAccountAuth(st, env, env.Signer); err != nil {
		return errUnauthorized(err.Error())
	}
	if grantee == "" {
		return errParse("missing grantee")
	}

	game, ok := st.Games[gameAddr]
	if !ok {
		return errState("game not found")
	}
	table := st.Tables[game.Table]
	if table == nil || env.Signer != table.Authority {
		return errUnauthorized("only the table authority may reveal game handles")
	}
	h := pick(game)
	if h.IsZero() {
		return errState("handle not assigned")
	}
	if len(env.Aux) < 1 {
		return errState("missing allowance account")
	}
	if err := grantFromAux(st, env.Aux, 0, h, grantee, height); err != nil {
		return errState(err.Error())
	}

	return okEvent(eventType, map[string]string{
		"game":    gameAddr,
		"grantee": grantee,
		"handle":  h.String(),
	})
}

func (a *App) pokerUpdateRound(st *state.State, env codec.TxEnvelope, _ int64) *abci.ExecTxResult {
	var msg codec.PokerUpdateRoundTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return errParse("bad poker/update_round value")
	}
	if err := requireAccountAuth(st, env, env.Signer); err != nil {
		return errUnauthorized(err.Error())
	}

	game, ok := st.Games[msg.Game]
	if !ok {
		return errState("game not found")
	}
	table := st.Tables[game.Table]
	if table == nil || env.Signer != table.Authority {
		return errUnauthorized("only the table authority may commit round summaries")
	}
	rid, betting := game.Stage.RoundID()
	if !betting {
		return errState("no betting round in stage " + string(game.Stage))
	}
	sum := msg.Summary
	if sum.RoundID != rid {
		return errState(fmt.Sprintf("round id mismatch: got=%d want=%d", sum.RoundID, rid))
	}

	// Validate the whole summary against stacks before applying anything.
	seats := st.SeatsOfTable(game.Table)
	var totalDelta uint64
	for _, seat := range seats {
		if seat.Game != msg.Game {
			continue
		}
		newBet := sum.BetsBySeat[seat.SeatIndex]
		prev := game.RoundBets[seat.SeatIndex]
		if newBet < prev {
			return errState(fmt.Sprintf("seat %d: bet regression %d -> %d", seat.SeatIndex, prev, newBet))
		}
		delta := newBet - prev
		if delta > seat.Chips {
			return errState(fmt.Sprintf("seat %d: bet exceeds stack", seat.SeatIndex))
		}
		totalDelta += delta
	}
	if totalDelta != sum.PotDelta {
		return errState(fmt.Sprintf("pot delta mismatch: bets=%d claimed=%d", totalDelta, sum.PotDelta))
	}

	for _, seat := range seats {
		if seat.Game != msg.Game {
			continue
		}
		newBet := sum.BetsBySeat[seat.SeatIndex]
		delta := newBet - game.RoundBets[seat.SeatIndex]
		seat.Chips -= delta
		seat.CurrentBet = newBet
		seat.TotalBet += delta
		seat.Folded = sum.FoldedMask>>seat.SeatIndex&1 == 1
		seat.AllIn = sum.AllInMask>>seat.SeatIndex&1 == 1
		seat.Acted = sum.ActedMask>>seat.SeatIndex&1 == 1
	}

	game.Pot += totalDelta
	game.CurrentBet = sum.CurrentBet
	game.LastRaiser = sum.LastRaiser
	game.ActionOn = sum.ActionOn
	game.FoldedMask = sum.FoldedMask
	game.AllInMask = sum.AllInMask
	game.ActedMask = sum.ActedMask
	game.RoundBets = sum.BetsBySeat
	game.PlayersActed = uint8(bits.OnesCount8(sum.ActedMask))
	game.PlayersRemaining = game.PlayerCount - uint8(bits.OnesCount8(sum.FoldedMask))

	return okEvent("RoundUpdated", map[string]string{
		"game":             msg.Game,
		"roundId":          fmt.Sprintf("%d", rid),
		"pot":              fmt.Sprintf("%d", game.Pot),
		"currentBet":       fmt.Sprintf("%d", game.CurrentBet),
		"playersRemaining": fmt.Sprintf("%d", game.PlayersRemaining),
	})
}

func (a *App) pokerSettleGame(st *state.State, env codec.TxEnvelope, _ int64) *abci.ExecTxResult {
	var msg codec.PokerSettleGameTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return errParse("bad poker/settle_game value")
	}
	if err := requireAccountAuth(st, env, env.Signer); err != nil {
		return errUnauthorized(err.Error())
	}

	game, ok := st.Games[msg.Game]
	if !ok {
		return errState("game not found")
	}
	table := st.Tables[game.Table]
	if table == nil || env.Signer != table.Authority {
		return errUnauthorized("only the table authority may settle")
	}
	if game.Stage != state.StageShowdown && game.PlayersRemaining > 1 {
		return errState("game not ready to settle")
	}
	if msg.FinalPot != game.Pot {
		return errState(fmt.Sprintf("pot mismatch: claimed=%d actual=%d", msg.FinalPot, game.Pot))
	}
	if game.IsFolded(msg.WinnerSeatIndex) {
		return errState("winner has folded")
	}

	seats := st.SeatsOfTable(game.Table)
	var winner *state.PlayerSeat
	for _, seat := range seats {
		if seat.Game == msg.Game && seat.SeatIndex == msg.WinnerSeatIndex {
			winner = seat
			break
		}
	}
	if winner == nil {
		return errState("winner seat not in game")
	}

	// Pot stays inside the vault; it just moves onto the winner's stack.
	winner.Chips += game.Pot
	for _, seat := range seats {
		if seat.Game != msg.Game {
			continue
		}
		seat.Game = ""
		seat.CurrentBet = 0
		seat.TotalBet = 0
		seat.Folded = false
		seat.AllIn = false
		seat.Acted = false
		seat.HoleCard1 = handle.Zero
		seat.HoleCard2 = handle.Zero
	}
	pot := game.Pot
	delete(st.Games, msg.Game)
	table.CurrentGame = ""

	return okEvent("GameSettled", map[string]string{
		"game":       msg.Game,
		"winnerSeat": fmt.Sprintf("%d", msg.WinnerSeatIndex),
		"winner":     winner.Player,
		"pot":        fmt.Sprintf("%d", pot),
	})
}

// pokerRefundAll aborts a stuck hand: every seat cashes out its stack plus
// anything it committed to the pot, and table and game reset.
func (a *App) pokerRefundAll(st *state.State, env codec.TxEnvelope, _ int64) *abci.ExecTxResult {
	var msg codec.PokerRefundAllTx
	if err := json.Unmarshal(env.Value, &msg); err != nil {
		return errParse("bad poker/refund_all value")
	}
	if err := requireAccountAuth(st, env, env.Signer); err != nil {
		return errUnauthorized(err.Error())
	}

	game, ok := st.Games[msg.Game]
	if !ok {
		return errState("game not found")
	}
	table := st.Tables[game.Table]
	if table == nil || env.Signer != table.Authority {
		return errUnauthorized("only the table authority may refund")
	}

	vault := state.VaultAddress(game.Table)
	refunded := 0
	for _, seat := range st.SeatsOfTable(game.Table) {
		amount := seat.Chips + seat.TotalBet
		if amount > 0 {
			if err := st.Debit(vault, amount); err != nil {
				return errState(err.Error())
			}
			if err := st.Credit(seat.Player, amount); err != nil {
				return errState(err.Error())
			}
		}
		delete(st.Seats, state.SeatAddress(game.Table, seat.Player))
		refunded++
	}
	table.PlayerCount = 0
	table.CurrentGame = ""
	delete(st.Games, msg.Game)

	return okEvent("AllRefunded", map[string]string{
		"game":    msg.Game,
		"table":   game.Table,
		"players": fmt.Sprintf("%d", refunded),
	})
}
