package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/loom/pkg/ports"
	"github.com/aretw0/loom/pkg/state"
)

// EnvelopeKey is the user value holding the ciphertext of an encrypted state.
const EnvelopeKey = "__encrypted__"

// ErrMissingEnvelope is returned when loading a state that was not encrypted.
var ErrMissingEnvelope = errors.New("state is missing encrypted data envelope")

// EncryptionConfig holds AES-256 keys. ActiveKey seals new states;
// FallbackKeys only open states sealed before a key rotation.
type EncryptionConfig struct {
	ActiveKey    []byte
	FallbackKeys [][]byte
}

// ParseKey decodes a 32-byte key written as base64 or hex.
func ParseKey(s string) ([]byte, error) {
	if k, err := base64.StdEncoding.DecodeString(s); err == nil && len(k) == 32 {
		return k, nil
	}
	if k, err := hex.DecodeString(s); err == nil && len(k) == 32 {
		return k, nil
	}
	return nil, errors.New("encryption key must be 32 bytes, base64 or hex encoded")
}

// keyring seals with its first AEAD and opens with any of them.
type keyring []cipher.AEAD

func newKeyring(config EncryptionConfig) keyring {
	keys := append([][]byte{config.ActiveKey}, config.FallbackKeys...)
	ring := make(keyring, 0, len(keys))
	for i, key := range keys {
		if len(key) != 32 {
			panic(fmt.Sprintf("encryption key %d must be 32 bytes (AES-256), got %d", i, len(key)))
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			panic(err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			panic(err)
		}
		ring = append(ring, aead)
	}
	return ring
}

// seal returns nonce||ciphertext. The session id is authenticated so an
// envelope copied under another id does not open.
func (r keyring) seal(sessionID string, plain []byte) ([]byte, error) {
	active := r[0]
	nonce := make([]byte, active.NonceSize(), active.NonceSize()+len(plain)+active.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return active.Seal(nonce, nonce, plain, []byte(sessionID)), nil
}

func (r keyring) open(sessionID string, sealed []byte) ([]byte, error) {
	for _, aead := range r {
		n := aead.NonceSize()
		if len(sealed) < n {
			return nil, errors.New("ciphertext too short")
		}
		if plain, err := aead.Open(nil, sealed[:n], sealed[n:], []byte(sessionID)); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("no configured key opens the state")
}

type encryptionMiddleware struct {
	next ports.StateStore
	keys keyring
}

// NewEncryptionMiddleware seals every saved state with AES-256-GCM under the
// active key and opens loaded states with the active or any fallback key.
// Only the run metadata needed for listing and resuming stays readable.
// It panics when a key is not 32 bytes long.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	keys := newKeyring(config)
	return func(next ports.StateStore) ports.StateStore {
		return &encryptionMiddleware{next: next, keys: keys}
	}
}

func (m *encryptionMiddleware) Save(ctx context.Context, sessionID string, p *state.Persisted) error {
	plain, err := p.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	sealed, err := m.keys.seal(sessionID, plain)
	if err != nil {
		return fmt.Errorf("failed to encrypt state: %w", err)
	}

	envelope := &state.Persisted{
		ID:        p.ID,
		UpdatedAt: p.UpdatedAt,
		Values:    map[string]any{EnvelopeKey: base64.StdEncoding.EncodeToString(sealed)},
		Run: state.RunInfo{
			WorkflowID:   p.Run.WorkflowID,
			WorkflowName: p.Run.WorkflowName,
			TraceID:      p.Run.TraceID,
			SpanID:       p.Run.SpanID,
			Status:       p.Run.Status,
		},
	}
	return m.next.Save(ctx, sessionID, envelope)
}

func (m *encryptionMiddleware) Load(ctx context.Context, sessionID string) (*state.Persisted, error) {
	envelope, err := m.next.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// Plain states are refused, never passed through.
	encoded, ok := envelope.Values[EnvelopeKey].(string)
	if !ok {
		return nil, ErrMissingEnvelope
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	plain, err := m.keys.open(sessionID, sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt state: %w", err)
	}
	return state.UnmarshalPersisted(plain)
}

func (m *encryptionMiddleware) Delete(ctx context.Context, sessionID string) error {
	return m.next.Delete(ctx, sessionID)
}

func (m *encryptionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}
