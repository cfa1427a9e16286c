package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/org/duressvault/internal/storage"
	"github.com/org/duressvault/pkg/models"
)

const tokenPrefix = "dvt_"

// ErrInvalidToken is returned when a presented token matches no identity.
var ErrInvalidToken = errors.New("invalid token")

// IdentityService issues and validates bearer tokens bound to ledger
// identities. Tokens are opaque and stored only as SHA-256 hashes.
type IdentityService struct {
	store storage.Backend
}

// NewIdentityService creates an IdentityService backed by the given storage.
func NewIdentityService(store storage.Backend) *IdentityService {
	return &IdentityService{store: store}
}

// Register creates a fresh identity with a new ledger account and returns it
// with the plaintext token, shown exactly once.
func (s *IdentityService) Register(ctx context.Context, displayName string) (*models.Identity, string, error) {
	addrRaw := make([]byte, 32)
	if _, err := rand.Read(addrRaw); err != nil {
		return nil, "", fmt.Errorf("generating address: %w", err)
	}
	tokenRaw := make([]byte, 32)
	if _, err := rand.Read(tokenRaw); err != nil {
		return nil, "", fmt.Errorf("generating token: %w", err)
	}
	plaintext := tokenPrefix + base64.RawURLEncoding.EncodeToString(tokenRaw)

	id := &models.Identity{
		Address:     models.Address(hex.EncodeToString(addrRaw)),
		DisplayName: displayName,
		TokenHash:   HashToken(plaintext),
		CreatedAt:   time.Now().UTC(),
	}

	err := s.store.Atomic(ctx, func(tx storage.Store) error {
		if err := tx.CreateIdentity(ctx, id); err != nil {
			return fmt.Errorf("persisting identity: %w", err)
		}
		return tx.CreateAccount(ctx, id.Address)
	})
	if err != nil {
		return nil, "", err
	}
	return id, plaintext, nil
}

// Authenticate resolves a plaintext token to its identity.
func (s *IdentityService) Authenticate(ctx context.Context, plaintext string) (*models.Identity, error) {
	id, err := s.store.GetIdentityByTokenHash(ctx, HashToken(plaintext))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return id, nil
}

// HashToken returns the hex SHA-256 of a plaintext token.
func HashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
