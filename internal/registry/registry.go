package registry

import (
	"context"
	"crypto/rand"
	"encoding/base64"

	"golang.org/x/crypto/bcrypt"

	"github.com/r3e-network/external-engine-broker/internal/apperrors"
)

// Registry is the interface the Broker's core depends on (spec §6: "Registry
// interface (consumed)"). The core only ever calls Lookup; CheckClientSecret
// and CheckProviderSecret are convenience helpers over the returned
// registration so the broker never touches bcrypt directly.
type Registry interface {
	Lookup(ctx context.Context, engineID string) (*EngineRegistration, error)
}

// AdminRegistry is the superset used by the admin API (§11.4/§11.8): create,
// rotate, delete, list. Kept separate from Registry so the Broker's
// constructor only ever needs to depend on the narrow lookup contract.
type AdminRegistry interface {
	Registry
	Create(ctx context.Context, in NewRegistration) (*CreatedRegistration, error)
	RotateClientSecret(ctx context.Context, engineID string) (string, error)
	RotateProviderSecret(ctx context.Context, engineID string) (string, error)
	Delete(ctx context.Context, engineID string) error
	ListByUser(ctx context.Context, userID string) ([]EngineRegistration, error)
}

// CheckClientSecret reports whether secret matches reg's stored client
// secret hash.
func CheckClientSecret(reg *EngineRegistration, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(reg.ClientSecretHash), []byte(secret)) == nil
}

// CheckProviderSecret reports whether secret matches reg's stored provider
// secret hash.
func CheckProviderSecret(reg *EngineRegistration, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(reg.ProviderSecretHash), []byte(secret)) == nil
}

// generateSecret returns a URL-safe random secret with enough entropy that
// guessing it is infeasible; this is the plaintext handed to an operator
// exactly once, at creation or rotation time.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", apperrors.Internal("failed to generate secret", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", apperrors.Internal("failed to hash secret", err)
	}
	return string(hash), nil
}
