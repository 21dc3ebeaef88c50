package mandate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// AlgHMACSHA256 is the only algorithm the kernel issues today. Tokens carry
// the algorithm name so a future rotation can distinguish generations.
const AlgHMACSHA256 = "HMAC-SHA256"

// Signer produces a keyed signature over a canonical payload serialization.
// The kernel consumes this as an injected primitive; swapping in an HSM or
// KMS-backed implementation is the caller's choice.
type Signer interface {
	Sign(msg []byte) (string, error)
	Alg() string
}

// HMACSigner signs with HMAC-SHA256 and renders signatures as hex.
type HMACSigner struct {
	secret []byte
}

// NewHMACSigner builds a signer from a shared secret.
func NewHMACSigner(secret []byte) (*HMACSigner, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("mandate: empty signing secret")
	}
	s := &HMACSigner{secret: make([]byte, len(secret))}
	copy(s.secret, secret)
	return s, nil
}

func (s *HMACSigner) Sign(msg []byte) (string, error) {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

func (s *HMACSigner) Alg() string { return AlgHMACSHA256 }

// DeriveForPod derives a per-pod signing secret from the platform master
// secret using HKDF-SHA256. Pods sign with their derived secret only; the
// master never leaves the issuer.
func DeriveForPod(master []byte, podID string) ([]byte, error) {
	if len(master) == 0 {
		return nil, fmt.Errorf("mandate: empty master secret")
	}
	if podID == "" {
		return nil, fmt.Errorf("mandate: podID must not be empty")
	}

	r := hkdf.New(sha256.New, master, []byte("tiller-pod-kdf"), []byte(podID))
	secret := make([]byte, sha256.Size)
	if _, err := io.ReadFull(r, secret); err != nil {
		return nil, fmt.Errorf("mandate: HKDF derivation failed: %w", err)
	}
	return secret, nil
}
