package compute

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/ayush99336/confidential-games/internal/handle"
)

// Engine is the confidential-compute collaborator: it turns secrets into
// opaque handles and evaluates operations over handles without ever
// exposing plaintexts to the ledger. The ledger only stores the handles
// the engine returns; a failed call-out aborts the whole instruction.
//
// Handles are derived deterministically from a per-transaction scope.
// The same instruction therefore mints the same handles whether it runs
// in simulation or for real, which is what makes client-side allowance
// discovery possible: simulate, read the handle off the events, derive
// the allowance address, resubmit.
//
// Plaintexts live in a bbolt store keyed by handle. Handles produced by
// instructions that later fail are simply never referenced by ledger
// state; they are garbage in the store, not a consistency hazard.

var (
	ErrUnknownHandle = errors.New("unknown handle")
	ErrBadCiphertext = errors.New("malformed ciphertext")
)

var (
	bucketValues = []byte("values")
	bucketMeta   = []byte("meta")

	metaEngineKey = []byte("engine-key")
	metaAttestKey = []byte("attest-key")
)

type Engine struct {
	db  *bolt.DB
	log *logrus.Entry

	sealKey    []byte
	attestPriv ed25519.PrivateKey
}

func NewEngine(path string) (*Engine, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open value store: %w", err)
	}

	e := &Engine{
		db:  db,
		log: logrus.WithField("component", "compute-engine"),
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketValues); err != nil {
			return err
		}
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}

		sealKey := meta.Get(metaEngineKey)
		if sealKey == nil {
			sealKey = make([]byte, 32)
			if _, err := rand.Read(sealKey); err != nil {
				return err
			}
			if err := meta.Put(metaEngineKey, sealKey); err != nil {
				return err
			}
		}
		e.sealKey = append([]byte(nil), sealKey...)

		seed := meta.Get(metaAttestKey)
		if seed == nil {
			seed = make([]byte, ed25519.SeedSize)
			if _, err := rand.Read(seed); err != nil {
				return err
			}
			if err := meta.Put(metaAttestKey, seed); err != nil {
				return err
			}
		}
		e.attestPriv = ed25519.NewKeyFromSeed(append([]byte(nil), seed...))
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init value store: %w", err)
	}

	e.log.WithField("path", path).Debug("engine ready")
	return e, nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

// AttestationKey is the public key the ledger uses to verify attested
// plaintexts produced by this collaborator's decryption oracle.
func (e *Engine) AttestationKey() ed25519.PublicKey {
	return e.attestPriv.Public().(ed25519.PublicKey)
}

// Seal is the client-facing encryption endpoint: it wraps a secret value
// into a ciphertext blob suitable for submission in an instruction.
func (e *Engine) Seal(value uint64) ([]byte, error) {
	block, err := aes.NewCipher(e.sealKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	var plain [8]byte
	binary.LittleEndian.PutUint64(plain[:], value)
	return gcm.Seal(nonce, nonce, plain[:], nil), nil
}

func (e *Engine) open(blob []byte) (uint64, error) {
	block, err := aes.NewCipher(e.sealKey)
	if err != nil {
		return 0, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return 0, err
	}
	if len(blob) < gcm.NonceSize() {
		return 0, ErrBadCiphertext
	}
	plain, err := gcm.Open(nil, blob[:gcm.NonceSize()], blob[gcm.NonceSize():], nil)
	if err != nil || len(plain) != 8 {
		return 0, ErrBadCiphertext
	}
	return binary.LittleEndian.Uint64(plain), nil
}

func (e *Engine) store(h handle.Handle, value uint64) error {
	err := e.db.Update(func(tx *bolt.Tx) error {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], value)
		return tx.Bucket(bucketValues).Put(h[:], buf[:])
	})
	if err != nil {
		return fmt.Errorf("store handle value: %w", err)
	}
	return nil
}

func (e *Engine) valueOf(h handle.Handle) (uint64, error) {
	var value uint64
	err := e.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketValues).Get(h[:])
		if b == nil {
			return ErrUnknownHandle
		}
		value = binary.LittleEndian.Uint64(b)
		return nil
	})
	return value, err
}

// Ops is a per-transaction operation scope. Handles it mints are a pure
// function of the scope seed and an operation counter, so replaying the
// same instruction (simulation included) yields identical handles.
type Ops struct {
	e    *Engine
	seed [32]byte
	n    uint32
}

// ScopeFor opens an operation scope bound to the given seed parts.
// Callers must exclude anything that changes between the discovery
// submission and the real one (auxiliary account lists in particular).
func (e *Engine) ScopeFor(parts ...[]byte) *Ops {
	h := sha256.New()
	var lenBuf [4]byte
	for _, p := range parts {
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(p)))
		h.Write(lenBuf[:])
		h.Write(p)
	}
	var seed [32]byte
	copy(seed[:], h.Sum(nil))
	return &Ops{e: e, seed: seed}
}

func (o *Ops) nextHandle(tag string) handle.Handle {
	for {
		mac := hmac.New(sha256.New, o.seed[:])
		var ctr [4]byte
		binary.LittleEndian.PutUint32(ctr[:], o.n)
		mac.Write(ctr[:])
		mac.Write([]byte(tag))
		o.n++

		var h handle.Handle
		copy(h[:], mac.Sum(nil))
		if !h.IsZero() {
			return h
		}
	}
}

func (o *Ops) mint(tag string, value uint64) (handle.Handle, error) {
	h := o.nextHandle(tag)
	if err := o.e.store(h, value); err != nil {
		return handle.Zero, err
	}
	return h, nil
}

// Encrypt converts a client-supplied ciphertext blob into a fresh handle.
func (o *Ops) Encrypt(ciphertext []byte) (handle.Handle, error) {
	value, err := o.e.open(ciphertext)
	if err != nil {
		return handle.Zero, err
	}
	return o.mint("encrypt", value)
}

// FromPlain produces a handle for a public constant.
func (o *Ops) FromPlain(value uint64) (handle.Handle, error) {
	return o.mint("plain", value)
}

// Random produces a handle for a secret value drawn from the engine's
// key. The value is unpredictable to anyone without the key, but stable
// within the scope, so simulation and delivery agree.
func (o *Ops) Random() (handle.Handle, error) {
	h := o.nextHandle("random")
	mac := hmac.New(sha256.New, o.e.sealKey)
	mac.Write([]byte("random-value"))
	mac.Write(h[:])
	value := binary.LittleEndian.Uint64(mac.Sum(nil))
	if err := o.e.store(h, value); err != nil {
		return handle.Zero, err
	}
	return h, nil
}

// Equals produces a handle whose plaintext is 1 when both operands hold
// the same value, else 0.
func (o *Ops) Equals(a, b handle.Handle) (handle.Handle, error) {
	va, err := o.e.valueOf(a)
	if err != nil {
		return handle.Zero, err
	}
	vb, err := o.e.valueOf(b)
	if err != nil {
		return handle.Zero, err
	}
	var result uint64
	if va == vb {
		result = 1
	}
	return o.mint("equals", result)
}

// AddMod produces a handle holding (a + b) mod modulus. A modulus of zero
// means plain (wrapping) addition with no reduction.
func (o *Ops) AddMod(a, b handle.Handle, modulus uint64) (handle.Handle, error) {
	va, err := o.e.valueOf(a)
	if err != nil {
		return handle.Zero, err
	}
	vb, err := o.e.valueOf(b)
	if err != nil {
		return handle.Zero, err
	}
	sum := va + vb
	if modulus != 0 {
		sum %= modulus
	}
	return o.mint("addmod", sum)
}
