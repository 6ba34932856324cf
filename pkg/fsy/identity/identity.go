// Package identity derives the process-wide LocalIdentity from a 32-byte
// secret: the stable public node id used on the wire, plus the two
// durations the dispatcher needs (push-debounce, loop-cadence). Generate
// draws a fresh random secret; FromSecret derives the identity
// deterministically from a given one.
package identity

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// SecretSize is the fixed size of a LocalIdentity's secret key seed.
const SecretSize = 32

// LocalIdentity is immutable after Load/Generate: a secret, its derived
// public node id, and the two debounce/cadence durations owned by this node.
type LocalIdentity struct {
	Secret          [SecretSize]byte
	NodeID          string
	PushDebounce    time.Duration
	LoopCadence     time.Duration

	priv crypto.PrivKey
}

// PrivateKey returns the libp2p private key derived from Secret, for
// wiring into the transport host.
func (l LocalIdentity) PrivateKey() crypto.PrivKey {
	return l.priv
}

// Generate creates a fresh random secret and derives its identity.
func Generate(pushDebounce, loopCadence time.Duration) (LocalIdentity, error) {
	var secret [SecretSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return LocalIdentity{}, fmt.Errorf("identity: generate secret: %w", err)
	}
	return FromSecret(secret, pushDebounce, loopCadence)
}

// FromSecret derives a LocalIdentity from an existing 32-byte secret, e.g.
// one loaded from the configuration file.
func FromSecret(secret [SecretSize]byte, pushDebounce, loopCadence time.Duration) (LocalIdentity, error) {
	priv, _, err := crypto.GenerateEd25519Key(newSeedReader(secret))
	if err != nil {
		return LocalIdentity{}, fmt.Errorf("identity: derive keypair: %w", err)
	}

	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return LocalIdentity{}, fmt.Errorf("identity: derive node id: %w", err)
	}

	return LocalIdentity{
		Secret:       secret,
		NodeID:       id.String(),
		PushDebounce: pushDebounce,
		LoopCadence:  loopCadence,
		priv:         priv,
	}, nil
}

// seedReader is a deterministic io.Reader over a fixed 32-byte seed, so
// crypto.GenerateEd25519Key (which reads exactly ed25519.SeedSize bytes)
// always derives the same keypair from the same secret.
type seedReader struct {
	seed [SecretSize]byte
	pos  int
}

func newSeedReader(seed [SecretSize]byte) *seedReader {
	return &seedReader{seed: seed}
}

func (r *seedReader) Read(p []byte) (int, error) {
	n := copy(p, r.seed[r.pos:])
	r.pos += n
	return n, nil
}
