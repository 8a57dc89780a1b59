package board

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/laborportal/app/store"
)

func TestService_Sessions(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	_, ok, err := svc.GetSession(ctx, "sid1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = svc.GetSession(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, svc.SetSession(ctx, "sid1", store.Session{Username: "r@x.com", Role: store.RoleRecruiter, Name: "Recruiter"}))
	sess, ok, err := svc.GetSession(ctx, "sid1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "r@x.com", sess.Username)
	assert.False(t, sess.CreatedAt.IsZero(), "creation time is stamped")

	// last write wins
	require.NoError(t, svc.SetSession(ctx, "sid1", store.Session{Username: "5550001234", Role: store.RoleLaborer}))
	sess, ok, err = svc.GetSession(ctx, "sid1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.RoleLaborer, sess.Role)

	require.NoError(t, svc.ClearSession(ctx, "sid1"))
	_, ok, err = svc.GetSession(ctx, "sid1")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, svc.ClearSession(ctx, ""))
}

func TestService_RequireRole(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	_, err := svc.RequireRole(ctx, "sid1", store.RoleRecruiter)
	require.ErrorIs(t, err, ErrNoSession)
	_, err = svc.RequireRole(ctx, "sid1", "")
	require.ErrorIs(t, err, ErrNoSession)

	require.NoError(t, svc.SetSession(ctx, "sid1", store.Session{Username: "5550001234", Role: store.RoleLaborer}))

	_, err = svc.RequireRole(ctx, "sid1", store.RoleRecruiter)
	require.ErrorIs(t, err, ErrWrongRole)
	assert.Equal(t, KindAuthorization, KindOf(err))

	sess, err := svc.RequireRole(ctx, "sid1", store.RoleLaborer)
	require.NoError(t, err)
	assert.Equal(t, "5550001234", sess.Username)

	sess, err = svc.RequireRole(ctx, "sid1", "")
	require.NoError(t, err, "empty role accepts any session")
	assert.Equal(t, store.RoleLaborer, sess.Role)
}

func TestService_SessionExpiry(t *testing.T) {
	svc, clk := newTestService(t, Options{SessionTTL: time.Hour})
	ctx := context.Background()

	require.NoError(t, svc.SetSession(ctx, "old", store.Session{Username: "a", Role: store.RoleLaborer}))
	clk.Advance(50 * time.Minute)
	require.NoError(t, svc.SetSession(ctx, "new", store.Session{Username: "b", Role: store.RoleLaborer}))
	clk.Advance(20 * time.Minute)

	_, ok, err := svc.GetSession(ctx, "old")
	require.NoError(t, err)
	assert.False(t, ok, "expired session is absent")
	_, err = svc.RequireRole(ctx, "old", store.RoleLaborer)
	require.ErrorIs(t, err, ErrNoSession)

	_, ok, err = svc.GetSession(ctx, "new")
	require.NoError(t, err)
	assert.True(t, ok)

	clk.Advance(time.Hour)
	n, err := svc.PurgeExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "old one was cleared on read already")
}

func TestService_PurgeWithoutTTL(t *testing.T) {
	svc, clk := newTestService(t, Options{})
	ctx := context.Background()
	require.NoError(t, svc.SetSession(ctx, "sid1", store.Session{Username: "a", Role: store.RoleLaborer}))
	clk.Advance(1000 * time.Hour)

	n, err := svc.PurgeExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, ok, err := svc.GetSession(ctx, "sid1")
	require.NoError(t, err)
	assert.True(t, ok, "sessions never expire without ttl")
}
