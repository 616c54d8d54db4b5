package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// ErrSealBroken is returned when a stored value cannot be opened with the
// configured key.
var ErrSealBroken = errors.New("session: sealed value cannot be opened")

// SealedStore encrypts values at rest with nacl/secretbox.  The key is
// derived from a passphrase with SHA-256.
type SealedStore struct {
	inner Store
	key   [32]byte
}

// NewSealedStore wraps inner.  An empty passphrase returns inner as is.
func NewSealedStore(inner Store, passphrase string) Store {
	if passphrase == "" {
		return inner
	}
	return &SealedStore{inner: inner, key: sha256.Sum256([]byte(passphrase))}
}

func (s *SealedStore) Get(ctx context.Context, key string) ([]byte, error) {
	box, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(box) < nonceSize+secretbox.Overhead {
		return nil, ErrSealBroken
	}
	var nonce [nonceSize]byte
	copy(nonce[:], box[:nonceSize])
	out, ok := secretbox.Open(nil, box[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrSealBroken
	}
	return out, nil
}

func (s *SealedStore) Set(ctx context.Context, key string, value []byte) error {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return err
	}
	box := secretbox.Seal(nonce[:], value, &nonce, &s.key)
	return s.inner.Set(ctx, key, box)
}

func (s *SealedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}
