package handle

import (
	"fmt"
	"math/big"
)

// Handle is an opaque 128-bit reference to a ciphertext held by the
// confidential-compute collaborator. A handle carries no plaintext and
// grants no read access by itself; the all-zero value means "no handle
// assigned yet".
type Handle [16]byte

var Zero Handle

func (h Handle) IsZero() bool {
	return h == Zero
}

// String renders the handle in the decimal wire form consumed by the
// attested-decryption collaborator (big-endian u128 as base-10).
func (h Handle) String() string {
	return new(big.Int).SetBytes(h[:]).String()
}

// FromDecimal parses the decimal wire form back into a handle.
func FromDecimal(s string) (Handle, error) {
	var h Handle
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return Zero, fmt.Errorf("invalid handle %q", s)
	}
	b := n.Bytes()
	if len(b) > 16 {
		return Zero, fmt.Errorf("handle %q exceeds 128 bits", s)
	}
	copy(h[16-len(b):], b)
	return h, nil
}

// FromBytes builds a handle from exactly 16 bytes.
func FromBytes(b []byte) (Handle, error) {
	var h Handle
	if len(b) != 16 {
		return Zero, fmt.Errorf("handle must be 16 bytes, got %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// MarshalText/UnmarshalText keep handles human-readable inside the
// JSON-persisted ledger state and stable under the normalized app hash.
func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Handle) UnmarshalText(b []byte) error {
	parsed, err := FromDecimal(string(b))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
