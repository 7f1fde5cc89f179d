package auth_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmsystem/dms/internal/apperror"
	"github.com/dmsystem/dms/internal/auth"
	"github.com/dmsystem/dms/internal/store"
	"github.com/dmsystem/dms/internal/user"
)

func newAuthService(t *testing.T) (*auth.Service, *user.Service) {
	t.Helper()
	users := user.NewService(user.ServiceConfig{Store: store.NewMemoryStore(), Logger: zerolog.Nop()})
	svc := auth.NewService(auth.ServiceConfig{
		JWTService: newJWT("test-key", "dms", "dms-api"),
		Users:      users,
	})
	return svc, users
}

func TestService_IssueAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc, users := newAuthService(t)

	u, err := users.Create(ctx, user.CreateInput{Email: "ops@example.com", Name: "Ops", Role: user.RoleManager})
	require.NoError(t, err)

	issued, err := svc.IssueToken(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", issued.TokenType)
	assert.Equal(t, u.Actor(), issued.User)

	got, err := svc.Authenticate(ctx, issued.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, user.RoleManager, got.Role)
}

func TestService_AuthenticateInactive(t *testing.T) {
	ctx := context.Background()
	svc, users := newAuthService(t)

	u, err := users.Create(ctx, user.CreateInput{Email: "d@example.com", Name: "D", Role: user.RoleDistributor})
	require.NoError(t, err)
	issued, err := svc.IssueToken(ctx, u.ID)
	require.NoError(t, err)

	_, err = users.SetStatus(ctx, u.ID, user.StatusSuspended)
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, issued.AccessToken)
	assert.ErrorIs(t, err, auth.ErrInactiveUser)

	_, err = svc.IssueToken(ctx, u.ID)
	assert.ErrorIs(t, err, auth.ErrInactiveUser)
}

func TestService_UnknownUser(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAuthService(t)

	token, _, err := newJWT("test-key", "dms", "dms-api").GenerateAccessToken(&user.User{ID: "ghost"})
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, token)
	assert.ErrorIs(t, err, auth.ErrInvalidAccessToken)

	_, err = svc.IssueToken(ctx, "ghost")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}
