package mirror

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"filippo.io/age"
	"github.com/btcsuite/btcutil/bech32"
)

const (
	envAgeSecretKey = "AGE_SECRET_KEY"
	envAgePublicKey = "AGE_PUBLIC_KEY"
)

// Signer signs and verifies bundle manifests with an Ed25519 key pair
// derived from an age identity, so one secret covers both bundle signing
// and any age-encrypted material an operator already manages.
type Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	recipient  string
}

// NewSignerFromEnv builds a Signer from AGE_SECRET_KEY (bech32
// AGE-SECRET-KEY-1..., required for signing) and/or AGE_PUBLIC_KEY (base64
// Ed25519 public key, sufficient for verification). At least one must be
// set; when both are, they must agree.
func NewSignerFromEnv() (*Signer, error) {
	secret := strings.TrimSpace(os.Getenv(envAgeSecretKey))
	pub := strings.TrimSpace(os.Getenv(envAgePublicKey))

	if secret == "" && pub == "" {
		return nil, fmt.Errorf("%s or %s must be set", envAgeSecretKey, envAgePublicKey)
	}

	var signer Signer

	if secret != "" {
		seed, err := decodeAgeSecretKey(secret)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", envAgeSecretKey, err)
		}
		signer.privateKey = ed25519.NewKeyFromSeed(seed)
		signer.publicKey = ed25519.PublicKey(signer.privateKey[ed25519.SeedSize:])

		if identity, err := age.ParseX25519Identity(secret); err == nil {
			signer.recipient = identity.Recipient().String()
		}
	}

	if pub != "" {
		decoded, err := base64.StdEncoding.DecodeString(pub)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", envAgePublicKey, err)
		}
		if l := len(decoded); l != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%s must decode to %d bytes, got %d", envAgePublicKey, ed25519.PublicKeySize, l)
		}
		if signer.publicKey == nil {
			signer.publicKey = ed25519.PublicKey(decoded)
		} else if !bytes.Equal(signer.publicKey, decoded) {
			return nil, fmt.Errorf("%s does not match %s", envAgePublicKey, envAgeSecretKey)
		}
	}

	return &signer, nil
}

// Sign returns the base64 Ed25519 signature over payload. Requires the
// secret key.
func (s *Signer) Sign(payload []byte) (string, error) {
	if s == nil || len(s.privateKey) == 0 {
		return "", errors.New("signer has no private key")
	}
	return base64.StdEncoding.EncodeToString(ed25519.Sign(s.privateKey, payload)), nil
}

// Verify checks signature over payload. When the manifest embeds its signing
// public key it must match the configured one; a signer built from only
// AGE_PUBLIC_KEY verifies against that.
func (s *Signer) Verify(payload []byte, signature, manifestPublicKey string) error {
	if s == nil {
		return errors.New("nil signer")
	}
	sigBytes, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if len(sigBytes) != ed25519.SignatureSize {
		return fmt.Errorf("invalid signature length %d", len(sigBytes))
	}

	key := s.publicKey
	if manifestPublicKey != "" {
		decoded, err := base64.StdEncoding.DecodeString(manifestPublicKey)
		if err != nil {
			return fmt.Errorf("decode manifest public key: %w", err)
		}
		if l := len(decoded); l != ed25519.PublicKeySize {
			return fmt.Errorf("manifest public key must be %d bytes, got %d", ed25519.PublicKeySize, l)
		}
		if key != nil && !bytes.Equal(key, decoded) {
			return errors.New("manifest signed by unexpected key")
		}
		if key == nil {
			key = ed25519.PublicKey(decoded)
		}
	}

	if key == nil {
		return errors.New("no public key available for verification")
	}
	if !ed25519.Verify(key, payload, sigBytes) {
		return errors.New("signature verification failed")
	}
	return nil
}

// PublicKeyBase64 returns the Ed25519 public key in base64 form for
// embedding in manifests.
func (s *Signer) PublicKeyBase64() string {
	if s == nil || len(s.publicKey) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(s.publicKey)
}

// Recipient returns the age recipient string when the signer holds the
// secret key.
func (s *Signer) Recipient() string {
	if s == nil {
		return ""
	}
	return s.recipient
}

func decodeAgeSecretKey(raw string) ([]byte, error) {
	hrp, data, err := bech32.Decode(raw)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(hrp, "age-secret-key-") {
		return nil, fmt.Errorf("unexpected hrp %q", hrp)
	}
	decoded, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, err
	}
	if len(decoded) != ed25519.SeedSize {
		return nil, fmt.Errorf("unexpected seed length %d", len(decoded))
	}
	return decoded, nil
}
