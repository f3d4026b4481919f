package state

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/sha3"

	"github.com/ayush99336/confidential-games/internal/handle"
)

// Every ledger record lives at an address derived deterministically from a
// seed tuple, so clients can locate records (and pre-derive allowance
// addresses) without querying. Addresses are the low 20 bytes of a
// Keccak-256 over the length-prefixed seed parts, hex encoded.

func derive(parts ...[]byte) string {
	h := sha3.NewLegacyKeccak256()
	var lenBuf [4]byte
	for _, p := range parts {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(p)))
		h.Write(lenBuf[:])
		h.Write(p)
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[12:])
}

func u64le(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

func RaffleAddress(raffleID uint64) string {
	return derive([]byte("raffle"), u64le(raffleID))
}

func TicketAddress(raffleAddr, owner string) string {
	return derive([]byte("ticket"), []byte(raffleAddr), []byte(owner))
}

func TableAddress(authority string, tableID uint64) string {
	return derive([]byte("table"), []byte(authority), u64le(tableID))
}

func GameAddress(tableAddr string, gameID uint64) string {
	return derive([]byte("game"), []byte(tableAddr), u64le(gameID))
}

func SeatAddress(tableAddr, player string) string {
	return derive([]byte("player_seat"), []byte(tableAddr), []byte(player))
}

// VaultAddress is the escrow balance account attached to a raffle or table.
func VaultAddress(parentAddr string) string {
	return derive([]byte("vault"), []byte(parentAddr))
}

// AllowanceAddress derives the permission-record address for one
// (handle, grantee) pair. Clients derive it the same way after discovering
// a handle value from simulation output.
func AllowanceAddress(h handle.Handle, grantee string) string {
	return derive([]byte("allowance"), h[:], []byte(grantee))
}
