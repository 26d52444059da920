package chain

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const flagEd25519 byte = 0x00

var (
	intentTransaction     = []byte{0, 0, 0}
	intentPersonalMessage = []byte{3, 0, 0}
)

var ErrBadSignature = errors.New("signature verification failed")

// Keypair signs transactions for a single ed25519 account.
type Keypair struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Keypair{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// ParseKeystoreEntry decodes a base64 keystore entry: scheme flag followed by
// the 32-byte seed.
func ParseKeystoreEntry(encoded string) (*Keypair, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode keystore entry: %w", err)
	}
	if len(raw) != 1+ed25519.SeedSize {
		return nil, fmt.Errorf("keystore entry has %d bytes", len(raw))
	}
	if raw[0] != flagEd25519 {
		return nil, fmt.Errorf("unsupported key scheme flag 0x%02x", raw[0])
	}
	return KeypairFromSeed(raw[1:])
}

func (k *Keypair) PublicKey() ed25519.PublicKey {
	return k.pub
}

func (k *Keypair) Address() ID {
	return AddressFromPublicKey(k.pub)
}

// SignTransaction returns the serialized signature for txBytes.
func (k *Keypair) SignTransaction(txBytes []byte) string {
	return k.sign(intentTransaction, txBytes)
}

func (k *Keypair) SignPersonalMessage(msg []byte) string {
	return k.sign(intentPersonalMessage, BCSVectorU8(msg))
}

func (k *Keypair) sign(intent, payload []byte) string {
	digest := intentDigest(intent, payload)
	sig := ed25519.Sign(k.priv, digest[:])
	out := make([]byte, 0, 1+len(sig)+len(k.pub))
	out = append(out, flagEd25519)
	out = append(out, sig...)
	out = append(out, k.pub...)
	return base64.StdEncoding.EncodeToString(out)
}

func AddressFromPublicKey(pub ed25519.PublicKey) ID {
	buf := make([]byte, 0, 1+len(pub))
	buf = append(buf, flagEd25519)
	buf = append(buf, pub...)
	return ID(blake2b.Sum256(buf))
}

// SignatureAddress returns the address of the key embedded in a serialized
// ed25519 signature. It does not verify the signature.
func SignatureAddress(serialized string) (ID, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(serialized))
	if err != nil {
		return ID{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if len(raw) != 1+ed25519.SignatureSize+ed25519.PublicKeySize || raw[0] != flagEd25519 {
		return ID{}, fmt.Errorf("%w: unsupported signature encoding", ErrBadSignature)
	}
	return AddressFromPublicKey(ed25519.PublicKey(raw[1+ed25519.SignatureSize:])), nil
}

// VerifyPersonalMessage checks a serialized ed25519 signature over msg and
// that the embedded public key belongs to addr.
func VerifyPersonalMessage(msg []byte, serialized string, addr ID) error {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(serialized))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if len(raw) != 1+ed25519.SignatureSize+ed25519.PublicKeySize || raw[0] != flagEd25519 {
		return fmt.Errorf("%w: unsupported signature encoding", ErrBadSignature)
	}
	sig := raw[1 : 1+ed25519.SignatureSize]
	pub := ed25519.PublicKey(raw[1+ed25519.SignatureSize:])
	if AddressFromPublicKey(pub) != addr {
		return fmt.Errorf("%w: key does not match address", ErrBadSignature)
	}
	digest := intentDigest(intentPersonalMessage, BCSVectorU8(msg))
	if !ed25519.Verify(pub, digest[:], sig) {
		return ErrBadSignature
	}
	return nil
}

func intentDigest(intent, payload []byte) [32]byte {
	buf := make([]byte, 0, len(intent)+len(payload))
	buf = append(buf, intent...)
	buf = append(buf, payload...)
	return blake2b.Sum256(buf)
}
