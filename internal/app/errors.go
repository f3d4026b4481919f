package app

import (
	abci "github.com/cometbft/cometbft/abci/types"
)

// ABCI result codes, one per failure class. Every non-zero result leaves
// ledger state untouched (execution is staged on a state clone).
const (
	codeOK uint32 = iota
	codeParse
	codeUnauthorized
	codeState
	codeNotWinner
	codeAttestation
)

func errParse(log string) *abci.ExecTxResult {
	return &abci.ExecTxResult{Code: codeParse, Log: log}
}

func errUnauthorized(log string) *abci.ExecTxResult {
	return &abci.ExecTxResult{Code: codeUnauthorized, Log: log}
}

func errState(log string) *abci.ExecTxResult {
	return &abci.ExecTxResult{Code: codeState, Log: log}
}

func errNotWinner(log string) *abci.ExecTxResult {
	return &abci.ExecTxResult{Code: codeNotWinner, Log: log}
}

func errAttestation(log string) *abci.ExecTxResult {
	return &abci.ExecTxResult{Code: codeAttestation, Log: log}
}
