package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"questionnaire_backend/internal/config"
	"questionnaire_backend/internal/model"
	"questionnaire_backend/internal/repository"
	"questionnaire_backend/internal/testutil"
	"questionnaire_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthService(t *testing.T) *AuthService {
	db := testutil.NewTestDB(t)
	cfg := &config.Config{JWT: config.JWTConfig{Secret: "test-secret", ExpireTime: time.Hour}}
	return NewAuthService(repository.NewUserRepository(db), cfg)
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newAuthService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterRequest{Username: " carol ", Email: "carol@example.com", Password: "hunter22"})
	require.NoError(t, err)
	assert.Equal(t, "carol", user.Username)
	assert.NotEqual(t, "hunter22", user.PasswordHash)
	assert.False(t, user.IsAdmin)

	token, logged, err := svc.Login(ctx, "carol", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, user.ID, logged.ID)

	claims, err := util.ParseJWT(token, "test-secret")
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, "carol", claims.Username)

	me, err := svc.GetCurrentUser(ctx, claims)
	require.NoError(t, err)
	assert.Equal(t, "carol@example.com", me.Email)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	svc := newAuthService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{Username: "carol", Password: "hunter22"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, RegisterRequest{Username: "carol", Password: "other-pass"})
	assert.ErrorIs(t, err, util.ErrUsernameTaken)
}

func TestLoginFailures(t *testing.T) {
	svc := newAuthService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterRequest{Username: "carol", Password: "hunter22"})
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "carol", "wrong")
	assert.ErrorIs(t, err, util.ErrInvalidCredentials)
	_, _, err = svc.Login(ctx, "nobody", "hunter22")
	assert.ErrorIs(t, err, util.ErrInvalidCredentials)
}

func TestGetCurrentUserMissing(t *testing.T) {
	svc := newAuthService(t)
	_, err := svc.GetCurrentUser(context.Background(), &util.Claims{UserID: 404})
	assert.ErrorIs(t, err, util.ErrUserNotFound)
	_, err = svc.GetCurrentUser(context.Background(), nil)
	assert.ErrorIs(t, err, util.ErrUserNotFound)
}

func TestLoginSurfacesDatabaseErrors(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewAuthService(repository.NewUserRepository(db), &config.Config{JWT: config.JWTConfig{Secret: "test-secret", ExpireTime: time.Hour}})
	ctx := context.Background()

	_, _, err := svc.Login(ctx, "nobody", "whatever")
	assert.ErrorIs(t, err, util.ErrInvalidCredentials)

	require.NoError(t, db.Migrator().DropTable(&model.User{}))
	_, _, err = svc.Login(ctx, "nobody", "whatever")
	require.Error(t, err)
	assert.NotErrorIs(t, err, util.ErrInvalidCredentials)
	var dbErr *util.DBError
	assert.True(t, errors.As(err, &dbErr))
}
