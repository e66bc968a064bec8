package storage

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// saltKey holds the scrypt salt in plaintext next to the sealed blobs.
// checkKey holds checkValue sealed under the derived key.
const (
	saltKey    = "crypto/salt"
	checkKey   = "crypto/check"
	checkValue = "chatwrap-sealed-v1"
)

// ErrWrongPassphrase is returned when the passphrase does not unlock the
// existing store.
var ErrWrongPassphrase = errors.New("wrong passphrase")

func reserved(key string) bool {
	return key == saltKey || key == checkKey
}

// scrypt parameters (N=32768, r=8, p=1) as recommended for interactive use.
const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	saltSize     = 16
	sealedPrefix = "sealed1:"
)

// SealedKV encrypts values at rest with XChaCha20-Poly1305 under a key
// derived from a passphrase. The storage key is bound as associated data so
// a blob cannot be replayed under a different key.
type SealedKV struct {
	inner Backend
	aead  cipher.AEAD
}

// NewSealedKV derives the encryption key, creating and persisting a salt
// on first use. It fails with ErrWrongPassphrase before anything is
// written when the key does not match the one the store was sealed with.
func NewSealedKV(ctx context.Context, inner Backend, passphrase string) (*SealedKV, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("encryption passphrase is required")
	}

	salt, err := inner.Get(ctx, saltKey)
	if errors.Is(err, ErrNotFound) {
		salt = make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		if err := inner.Set(ctx, saltKey, salt); err != nil {
			return nil, fmt.Errorf("failed to store salt: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to load salt: %w", err)
	}

	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	s := &SealedKV{inner: inner, aead: aead}
	if err := s.verify(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// verify checks the sealed check value. A store without one (new, or
// sealed before the check existed) is verified against its first sealed
// blob, then gets the check value written.
func (s *SealedKV) verify(ctx context.Context) error {
	blob, err := s.inner.Get(ctx, checkKey)
	if err == nil {
		got, err := s.open(checkKey, blob)
		if err != nil || string(got) != checkValue {
			return ErrWrongPassphrase
		}
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to load passphrase check: %w", err)
	}

	keys, err := s.inner.Keys(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}
	for _, key := range keys {
		if reserved(key) {
			continue
		}
		existing, err := s.inner.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", key, err)
		}
		if !strings.HasPrefix(string(existing), sealedPrefix) {
			continue
		}
		if _, err := s.open(key, existing); err != nil {
			return ErrWrongPassphrase
		}
		break
	}

	sealed, err := s.seal(checkKey, []byte(checkValue))
	if err != nil {
		return err
	}
	if err := s.inner.Set(ctx, checkKey, sealed); err != nil {
		return fmt.Errorf("failed to store passphrase check: %w", err)
	}
	return nil
}

func (s *SealedKV) Get(ctx context.Context, key string) ([]byte, error) {
	blob, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.open(key, blob)
}

func (s *SealedKV) Set(ctx context.Context, key string, value []byte) error {
	if reserved(key) {
		return fmt.Errorf("key %q is reserved", key)
	}
	blob, err := s.seal(key, value)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, blob)
}

func (s *SealedKV) Delete(ctx context.Context, key string) error {
	if reserved(key) {
		return fmt.Errorf("key %q is reserved", key)
	}
	return s.inner.Delete(ctx, key)
}

func (s *SealedKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.inner.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(keys, reserved), nil
}

func (s *SealedKV) Close() error {
	return s.inner.Close()
}

// seal produces "sealed1:" + nonce + ciphertext. The prefix keeps the blob
// distinguishable from plaintext JSON written before encryption was enabled.
func (s *SealedKV) seal(key string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, plaintext, []byte(key))
	return append([]byte(sealedPrefix), sealed...), nil
}

func (s *SealedKV) open(key string, blob []byte) ([]byte, error) {
	if !strings.HasPrefix(string(blob), sealedPrefix) {
		return nil, fmt.Errorf("value for %s is not encrypted", key)
	}
	blob = blob[len(sealedPrefix):]

	nonceSize := s.aead.NonceSize()
	if len(blob) < nonceSize {
		return nil, fmt.Errorf("ciphertext for %s too short", key)
	}

	plaintext, err := s.aead.Open(nil, blob[:nonceSize], blob[nonceSize:], []byte(key))
	if err != nil {
		return nil, fmt.Errorf("decryption of %s failed: %w", key, err)
	}
	return plaintext, nil
}
