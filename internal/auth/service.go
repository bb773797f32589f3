package auth

import (
	"context"

	"github.com/poputchik/chat-server/internal/domain"
	"github.com/poputchik/chat-server/internal/store"
)

// Service is the identity provider boundary: it resolves an opaque caller
// credential to a trusted user identity. Account management and credential
// issuance happen elsewhere; the core only validates.
type Service struct {
	store store.UserStore
	cfg   *JWTConfig
}

// NewService creates a new auth service.
func NewService(st store.UserStore, cfg *JWTConfig) *Service {
	return &Service{store: st, cfg: cfg}
}

// Resolve validates the credential and returns the user it identifies.
// Any failure, including a token for a user that no longer exists, is
// surfaced as Unauthenticated.
func (s *Service) Resolve(ctx context.Context, token string) (*domain.User, error) {
	claims, err := ValidateToken(s.cfg, token)
	if err != nil {
		return nil, domain.E(domain.KindUnauthenticated, "invalid credential: %v", err)
	}

	user, err := s.store.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return nil, domain.E(domain.KindUnauthenticated, "credential for unknown user %d", claims.UserID)
		}
		return nil, err
	}

	return user, nil
}

// Issue creates a credential for an existing user.
func (s *Service) Issue(ctx context.Context, userID int64) (string, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return GenerateToken(s.cfg, user.ID, user.Username)
}
