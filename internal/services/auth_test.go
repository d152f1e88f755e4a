package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketbay/marketbay-backend/internal/errs"
	"github.com/marketbay/marketbay-backend/internal/logger"
	"github.com/marketbay/marketbay-backend/internal/repos"
	"github.com/marketbay/marketbay-backend/internal/requestdata"
	"github.com/marketbay/marketbay-backend/internal/types"
)

func newAuthFixture(t *testing.T) AuthService {
	t.Helper()
	gdb := newTestDB(t)
	log := logger.NewNop()
	return NewAuthService(gdb, log, repos.NewUserRepo(gdb, log), "test-secret", time.Hour)
}

func TestRegisterLoginRoundTrip(t *testing.T) {
	svc := newAuthFixture(t)
	ctx := context.Background()

	user := &types.User{
		Email:     "Shopper@Example.com",
		Password:  "hunter22",
		FirstName: "Sam",
		LastName:  "Shopper",
	}
	require.NoError(t, svc.RegisterUser(ctx, user))
	assert.NotEqual(t, "hunter22", user.Password, "password is stored hashed")

	token, err := svc.Login(ctx, "shopper@example.com", "hunter22")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	authed, err := svc.SetContextFromToken(ctx, token)
	require.NoError(t, err)
	rd := requestdata.GetRequestData(authed)
	require.NotNil(t, rd)
	assert.Equal(t, user.ID, rd.UserID)
	assert.Equal(t, types.SenderCustomer, rd.UserType)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	svc := newAuthFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.RegisterUser(ctx, &types.User{
		Email: "a@b.dev", Password: "correct", FirstName: "A", LastName: "B",
	}))

	_, err := svc.Login(ctx, "a@b.dev", "wrong")
	require.ErrorIs(t, err, errs.ErrUnauthenticated)

	_, err = svc.Login(ctx, "nobody@b.dev", "correct")
	require.ErrorIs(t, err, errs.ErrUnauthenticated)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := newAuthFixture(t)
	ctx := context.Background()

	require.NoError(t, svc.RegisterUser(ctx, &types.User{
		Email: "dup@b.dev", Password: "pw1", FirstName: "A", LastName: "B",
	}))
	err := svc.RegisterUser(ctx, &types.User{
		Email: "dup@b.dev", Password: "pw2", FirstName: "C", LastName: "D",
	})
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestSetContextFromGarbageToken(t *testing.T) {
	svc := newAuthFixture(t)
	_, err := svc.SetContextFromToken(context.Background(), "not-a-jwt")
	require.ErrorIs(t, err, errs.ErrUnauthenticated)
}
