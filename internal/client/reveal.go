package client

import (
	"context"
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/ayush99336/confidential-games/internal/compute"
)

// Decrypter is the attested-decryption endpoint of the compute
// collaborator.
type Decrypter interface {
	Decrypt(ctx context.Context, handles []string, identity string, sig []byte) (*compute.DecryptResult, error)
}

// RevealClient fetches attested plaintexts for handles the identity has
// been granted. Allowance records land on the ledger a little before the
// oracle's view catches up, so transient failures are retried with
// exponential backoff; a missing allowance is a logic error and aborts
// immediately.
type RevealClient struct {
	dec Decrypter
	id  Identity
	log *logrus.Entry

	// Retry policy; zero values fall back to defaults.
	InitialInterval time.Duration
	MaxRetries      uint64
}

func NewRevealClient(dec Decrypter, id Identity) *RevealClient {
	return &RevealClient{
		dec:             dec,
		id:              id,
		log:             logrus.WithField("component", "reveal-client"),
		InitialInterval: time.Second,
		MaxRetries:      8,
	}
}

// Reveal returns the plaintexts behind the handles along with the
// verification instructions to replay into a follow-up transaction.
func (c *RevealClient) Reveal(ctx context.Context, handles ...string) (*compute.DecryptResult, error) {
	if len(handles) == 0 {
		return nil, errors.New("no handles to reveal")
	}
	sig := ed25519.Sign(c.id.Key, compute.AuthMessage(c.id.Name, handles))

	attempt := 0
	op := func() (*compute.DecryptResult, error) {
		attempt++
		res, err := c.dec.Decrypt(ctx, handles, c.id.Name, sig)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, compute.ErrNoAllowance) {
			// Retrying cannot conjure a grant that was never made.
			return nil, backoff.Permanent(err)
		}
		c.log.WithFields(logrus.Fields{
			"attempt": attempt,
			"handles": len(handles),
		}).WithError(err).Warn("decrypt attempt failed; retrying")
		return nil, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.InitialInterval
	bo.Multiplier = 2
	bo.MaxInterval = 30 * time.Second

	return backoff.RetryWithData(op, backoff.WithContext(backoff.WithMaxRetries(bo, c.MaxRetries), ctx))
}
