package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrBadSignature is returned when a signature does not match its message.
var ErrBadSignature = errors.New("bad signature")

// PrivateKey is an ed25519 private key. Sequencers seal blocks with it and
// every ledger participant signs transactions with it.
type PrivateKey []byte

// PublicKey is an ed25519 public key. Its hex form is the account address.
type PublicKey []byte

// GenerateKeyPair draws a new key pair from crypto/rand.
func GenerateKeyPair() (PrivateKey, PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return PrivateKey(priv), PublicKey(pub), nil
}

func (pub PublicKey) Hex() string { return hex.EncodeToString(pub) }

// Public returns the key's public half.
func (priv PrivateKey) Public() PublicKey {
	return PublicKey(ed25519.PrivateKey(priv).Public().(ed25519.PublicKey))
}

// PubKeyFromHex parses an account address.
func PubKeyFromHex(s string) (PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("address is not hex: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("address is %d bytes, want %d", len(b), ed25519.PublicKeySize)
	}
	return PublicKey(b), nil
}

// Sign returns the hex signature of msg.
func Sign(priv PrivateKey, msg []byte) string {
	return hex.EncodeToString(ed25519.Sign(ed25519.PrivateKey(priv), msg))
}

// Verify checks a hex signature of msg. Malformed and mismatched signatures
// both report ErrBadSignature.
func Verify(pub PublicKey, msg []byte, sig string) error {
	raw, err := hex.DecodeString(sig)
	if err != nil || len(raw) != ed25519.SignatureSize {
		return fmt.Errorf("malformed signature: %w", ErrBadSignature)
	}
	if len(pub) != ed25519.PublicKeySize || !ed25519.Verify(ed25519.PublicKey(pub), msg, raw) {
		return ErrBadSignature
	}
	return nil
}
