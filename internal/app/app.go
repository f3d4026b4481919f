package app

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	abci "github.com/cometbft/cometbft/abci/types"
	"github.com/sirupsen/logrus"

	"github.com/ayush99336/confidential-games/internal/codec"
	"github.com/ayush99336/confidential-games/internal/compute"
	"github.com/ayush99336/confidential-games/internal/handle"
	"github.com/ayush99336/confidential-games/internal/state"
)

const (
	AppVersion uint64 = 1
)

// App is the ledger application. All game state is public and replayable;
// secrets exist only as handles produced by the compute engine. Each
// instruction executes against a clone of state and the clone replaces
// live state only on success, so partial effects never commit.
type App struct {
	*abci.BaseApplication

	home string

	mu       sync.Mutex
	st       *state.State
	lastHash []byte

	engine    *compute.Engine
	oraclePub ed25519.PublicKey

	log *logrus.Entry
}

func New(home string, engine *compute.Engine, oraclePub ed25519.PublicKey) (*App, error) {
	appHome := filepath.Join(home, "app")
	st, err := state.Load(appHome)
	if err != nil {
		return nil, err
	}
	a := &App{
		BaseApplication: abci.NewBaseApplication(),
		home:            home,
		st:              st,
		lastHash:        st.AppHash(),
		engine:          engine,
		oraclePub:       oraclePub,
		log:             logrus.WithField("component", "ledger-app"),
	}
	return a, nil
}

func (a *App) Info(_ context.Context, _ *abci.InfoRequest) (*abci.InfoResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return &abci.InfoResponse{
		Data:             "confidential-games (v1)",
		Version:          "v1",
		AppVersion:       AppVersion,
		LastBlockHeight:  a.st.Height,
		LastBlockAppHash: a.lastHash,
	}, nil
}

func (a *App) CheckTx(_ context.Context, req *abci.CheckTxRequest) (*abci.CheckTxResponse, error) {
	_, err := codec.DecodeTxEnvelope(req.Tx)
	if err != nil {
		return &abci.CheckTxResponse{Code: codeParse, Log: err.Error()}, nil
	}
	// Structural validation only; signature checks happen at execution.
	return &abci.CheckTxResponse{Code: codeOK}, nil
}

func (a *App) InitChain(_ context.Context, _ *abci.InitChainRequest) (*abci.InitChainResponse, error) {
	return &abci.InitChainResponse{}, nil
}

func (a *App) FinalizeBlock(_ context.Context, req *abci.FinalizeBlockRequest) (*abci.FinalizeBlockResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.st.Height = req.Height

	txResults := make([]*abci.ExecTxResult, 0, len(req.Txs))
	for _, txBytes := range req.Txs {
		res := a.deliverTx(txBytes, req.Height)
		txResults = append(txResults, res)
	}

	a.lastHash = a.st.AppHash()

	return &abci.FinalizeBlockResponse{
		TxResults: txResults,
		AppHash:   a.lastHash,
	}, nil
}

func (a *App) Commit(_ context.Context, _ *abci.CommitRequest) (*abci.CommitResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	appHome := filepath.Join(a.home, "app")
	if err := a.st.Save(appHome); err != nil {
		// Returning the error halts the node loudly rather than diverging.
		return nil, err
	}
	return &abci.CommitResponse{}, nil
}

func (a *App) Query(_ context.Context, req *abci.QueryRequest) (*abci.QueryResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	found := func(v any) (*abci.QueryResponse, error) {
		b, _ := json.Marshal(v)
		return &abci.QueryResponse{Code: codeOK, Value: b, Height: a.st.Height}, nil
	}
	missing := func(what string) (*abci.QueryResponse, error) {
		return &abci.QueryResponse{Code: codeParse, Log: what + " not found", Height: a.st.Height}, nil
	}

	path := strings.TrimSpace(req.Path)
	switch {
	case strings.HasPrefix(path, "/account/"):
		addr := strings.TrimPrefix(path, "/account/")
		return found(map[string]any{"addr": addr, "balance": a.st.Balance(addr)})
	case strings.HasPrefix(path, "/raffle/"):
		if r, ok := a.st.Raffles[strings.TrimPrefix(path, "/raffle/")]; ok {
			return found(r)
		}
		return missing("raffle")
	case strings.HasPrefix(path, "/ticket/"):
		if t, ok := a.st.Tickets[strings.TrimPrefix(path, "/ticket/")]; ok {
			return found(t)
		}
		return missing("ticket")
	case strings.HasPrefix(path, "/table/"):
		if t, ok := a.st.Tables[strings.TrimPrefix(path, "/table/")]; ok {
			return found(t)
		}
		return missing("table")
	case strings.HasPrefix(path, "/seat/"):
		if s, ok := a.st.Seats[strings.TrimPrefix(path, "/seat/")]; ok {
			return found(s)
		}
		return missing("seat")
	case strings.HasPrefix(path, "/game/"):
		if g, ok := a.st.Games[strings.TrimPrefix(path, "/game/")]; ok {
			return found(g)
		}
		return missing("game")
	case strings.HasPrefix(path, "/allowance/"):
		if al, ok := a.st.Allowances[strings.TrimPrefix(path, "/allowance/")]; ok {
			return found(al)
		}
		return missing("allowance")
	default:
		return &abci.QueryResponse{Code: codeParse, Log: "unknown query path", Height: a.st.Height}, nil
	}
}

// Simulate executes a transaction against a throwaway clone of current
// state and returns the would-be result. Handle writes still happen in the
// compute engine, but no ledger effect survives, which is what lets
// clients run the discovery phase: simulate, scan the events for handle
// attributes, derive allowance addresses, then submit for real.
func (a *App) Simulate(txBytes []byte) *abci.ExecTxResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	env, err := codec.DecodeTxEnvelope(txBytes)
	if err != nil {
		return errParse(err.Error())
	}
	staged, err := a.st.Clone()
	if err != nil {
		return errState(err.Error())
	}
	return a.execTx(staged, env, a.st.Height+1)
}

func (a *App) deliverTx(txBytes []byte, height int64) *abci.ExecTxResult {
	env, err := codec.DecodeTxEnvelope(txBytes)
	if err != nil {
		return errParse(err.Error())
	}

	staged, err := a.st.Clone()
	if err != nil {
		return errState(err.Error())
	}
	res := a.execTx(staged, env, height)
	if res.Code == codeOK {
		a.st = staged
	}
	return res
}

func (a *App) execTx(st *state.State, env codec.TxEnvelope, height int64) *abci.ExecTxResult {
	// Handle derivation is scoped to the envelope minus aux accounts and
	// attestation preambles, so the discovery submission and the real one
	// mint identical handles.
	ops := a.engine.ScopeFor([]byte(env.Type), env.Value, []byte(env.Nonce), []byte(env.Signer))

	switch env.Type {
	case "auth/register_account":
		var msg codec.AuthRegisterAccountTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return errParse("bad auth/register_account value")
		}
		if err := requireRegisterAccountAuth(env, msg); err != nil {
			return errUnauthorized(err.Error())
		}
		if existing, ok := st.AccountKeys[msg.Account]; ok {
			if !bytes.Equal(existing, msg.PubKey) {
				return errState("account already registered with different key")
			}
			return okEvent("AccountRegistered", map[string]string{"account": msg.Account})
		}
		st.AccountKeys[msg.Account] = append([]byte(nil), msg.PubKey...)
		return okEvent("AccountRegistered", map[string]string{"account": msg.Account})

	case "bank/mint":
		// Dev faucet; unsigned.
		var msg codec.BankMintTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return errParse("bad bank/mint value")
		}
		if msg.To == "" || msg.Amount == 0 {
			return errParse("missing to/amount")
		}
		if err := st.Credit(msg.To, msg.Amount); err != nil {
			return errState(err.Error())
		}
		return okEvent("BankMinted", map[string]string{
			"to":     msg.To,
			"amount": fmt.Sprintf("%d", msg.Amount),
		})

	case "bank/send":
		var msg codec.BankSendTx
		if err := json.Unmarshal(env.Value, &msg); err != nil {
			return errParse("bad bank/send value")
		}
		if msg.From == "" || msg.To == "" || msg.Amount == 0 {
			return errParse("missing from/to/amount")
		}
		if err := requireAccountAuth(st, env, msg.From); err != nil {
			return errUnauthorized(err.Error())
		}
		if err := st.Debit(msg.From, msg.Amount); err != nil {
			return errState(err.Error())
		}
		if err := st.Credit(msg.To, msg.Amount); err != nil {
			return errState(err.Error())
		}
		return okEvent("BankSent", map[string]string{
			"from":   msg.From,
			"to":     msg.To,
			"amount": fmt.Sprintf("%d", msg.Amount),
		})

	case "raffle/create":
		return a.raffleCreate(st, env, height)
	case "raffle/buy_ticket":
		return a.raffleBuyTicket(st, env, ops, height)
	case "raffle/draw_winner":
		return a.raffleDrawWinner(st, env, ops, height)
	case "raffle/check_winner":
		return a.raffleCheckWinner(st, env, ops, height)
	case "raffle/withdraw_prize":
		return a.raffleWithdrawPrize(st, env, height)

	case "poker/create_table":
		return a.pokerCreateTable(st, env, height)
	case "poker/join_table":
		return a.pokerJoinTable(st, env, height)
	case "poker/leave_table":
		return a.pokerLeaveTable(st, env, height)
	case "poker/start_game":
		return a.pokerStartGame(st, env, ops, height)
	case "poker/process_cards":
		return a.pokerProcessCards(st, env, ops, height)
	case "poker/reveal_hand":
		return a.pokerRevealHand(st, env, height)
	case "poker/advance_stage":
		return a.pokerAdvanceStage(st, env, height)
	case "poker/reveal_community":
		return a.pokerRevealCommunity(st, env, height)
	case "poker/reveal_shuffle_random":
		return a.pokerRevealShuffleRandom(st, env, height)
	case "poker/reveal_card_offset":
		return a.pokerRevealCardOffset(st, env, height)
	case "poker/update_round":
		return a.pokerUpdateRound(st, env, height)
	case "poker/settle_game":
		return a.pokerSettleGame(st, env, height)
	case "poker/refund_all":
		return a.pokerRefundAll(st, env, height)

	default:
		return errParse("unknown tx type: " + env.Type)
	}
}

// grantFromAux consumes one auxiliary account slot. Absent slots are
// skipped without error so the same instruction is runnable in the
// discovery phase, before the client knows which handles it will touch.
// A present slot must match the derived allowance address exactly.
func grantFromAux(st *state.State, aux []string, pos int, h handle.Handle, grantee string, height int64) error {
	if pos >= len(aux) {
		return nil
	}
	expected := state.AllowanceAddress(h, grantee)
	if aux[pos] != expected {
		return fmt.Errorf("aux[%d]: unexpected allowance account: got=%s want=%s", pos, aux[pos], expected)
	}
	if _, err := st.GrantAllowance(h, grantee, height); err != nil {
		return err
	}
	return nil
}

// requireAttestation checks one attestation-verification instruction: the
// signature must come from the trusted oracle key and bind exactly the
// claimed (handle, plaintext) pair.
func (a *App) requireAttestation(v codec.VerifyInstruction, wantHandle string) error {
	if v.Handle != wantHandle {
		return fmt.Errorf("attestation handle mismatch: got=%s want=%s", v.Handle, wantHandle)
	}
	if !bytes.Equal(v.PubKey, a.oraclePub) {
		return fmt.Errorf("attestation signed by untrusted key")
	}
	if len(v.Sig) != ed25519.SignatureSize {
		return fmt.Errorf("invalid attestation signature length")
	}
	if !ed25519.Verify(a.oraclePub, compute.AttestMessage(v.Handle, v.Plaintext), v.Sig) {
		return fmt.Errorf("invalid attestation signature")
	}
	return nil
}

// ledgerView adapts committed app state to the oracle's read interface.
type ledgerView struct {
	a *App
}

// View returns a read-only window over committed state for the decryption
// oracle. Reads take the app mutex, so the oracle always sees a complete
// block, never a half-applied one.
func (a *App) View() compute.LedgerView {
	return ledgerView{a: a}
}

func (v ledgerView) HasAllowance(addr string) (bool, error) {
	v.a.mu.Lock()
	defer v.a.mu.Unlock()
	_, ok := v.a.st.Allowances[addr]
	return ok, nil
}

func (v ledgerView) AccountKey(identity string) ([]byte, bool) {
	v.a.mu.Lock()
	defer v.a.mu.Unlock()
	key, ok := v.a.st.AccountKeys[identity]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), key...), true
}
