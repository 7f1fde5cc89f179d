package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmsystem/dms/internal/apperror"
	"github.com/dmsystem/dms/internal/user"
)

// ErrInactiveUser is returned when a token belongs to an account that is
// no longer active.
var ErrInactiveUser = errors.New("user account is not active")

// Directory loads accounts by id.
type Directory interface {
	Get(ctx context.Context, id string) (*user.User, error)
}

// TokenResponse is returned when a token is issued.
type TokenResponse struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresAt   time.Time  `json:"expires_at"`
	User        user.Actor `json:"user"`
}

// Service resolves bearer tokens to directory accounts.
type Service struct {
	jwt   *JWTService
	users Directory
}

// ServiceConfig holds configuration for the auth service.
type ServiceConfig struct {
	JWTService *JWTService
	Users      Directory
}

// NewService creates a new auth service.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		jwt:   cfg.JWTService,
		users: cfg.Users,
	}
}

// Authenticate validates token and loads the account it names. Unknown and
// inactive accounts are rejected with ErrInvalidAccessToken and
// ErrInactiveUser respectively.
func (s *Service) Authenticate(ctx context.Context, token string) (*user.User, error) {
	claims, err := s.jwt.ValidateAccessToken(token)
	if err != nil {
		return nil, err
	}

	u, err := s.users.Get(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, ErrInvalidAccessToken
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if u.Status != user.StatusActive {
		return nil, ErrInactiveUser
	}
	return u, nil
}

// IssueToken creates an access token for an active account. The api only
// exposes it in development; production tokens come from the identity
// provider sharing the signing key.
func (s *Service) IssueToken(ctx context.Context, userID string) (*TokenResponse, error) {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Status != user.StatusActive {
		return nil, ErrInactiveUser
	}

	token, expiresAt, err := s.jwt.GenerateAccessToken(u)
	if err != nil {
		return nil, err
	}

	return &TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
		User:        u.Actor(),
	}, nil
}
