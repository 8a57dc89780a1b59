package board

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/laborportal/app/store"
)

func TestService_RegisterOrVerifyLaborer(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	first, err := svc.RegisterOrVerifyLaborer(ctx, "Ravi", "5550001234")
	require.NoError(t, err)
	assert.Equal(t, "Ravi", first.Name)
	assert.Equal(t, "5550001234", first.Contact)

	second, err := svc.RegisterOrVerifyLaborer(ctx, " Ravi ", " 5550001234 ")
	require.NoError(t, err, "registration is idempotent")
	assert.Equal(t, first, second)

	_, err = svc.RegisterOrVerifyLaborer(ctx, "Someone", "5550001234")
	require.ErrorIs(t, err, ErrNameMismatch)
	assert.Equal(t, "Contact already registered with a different name", err.Error())
}

func TestService_RegisterOrVerifyLaborer_InvalidContact(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	for _, contact := range []string{"", "555000123", "55500012345", "555000123a", "555-000-12", "５５５０００１２３４"} {
		t.Run(contact, func(t *testing.T) {
			_, err := svc.RegisterOrVerifyLaborer(context.Background(), "Ravi", contact)
			require.ErrorIs(t, err, ErrInvalidContact)
		})
	}
}

func TestService_RegisterOrVerifyLaborer_Concurrent(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range 10 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RegisterOrVerifyLaborer(ctx, "Ravi", "5550001234")
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
	lab, err := svc.store.GetLaborer(ctx, "5550001234")
	require.NoError(t, err)
	assert.Equal(t, "Ravi", lab.Name)
}

func TestService_LoginLabor(t *testing.T) {
	tbl := []struct {
		name, contact, passkey string
		err                    error
	}{
		{"", "5550001234", "1234", ErrMissingLoginFields},
		{"Ravi", "  ", "1234", ErrMissingLoginFields},
		{"   ", "5550001234", "1234", ErrMissingLoginFields},
		{"", "", "bad", ErrMissingLoginFields},
		{"Ravi", "123", "bad", ErrInvalidPasskey},
		{"Ravi", "5550001234", "", ErrInvalidPasskey},
		{"Ravi", "123", "1234", ErrInvalidContact},
		{"Ravi", "5550001234", "1234", nil},
	}

	for _, tt := range tbl {
		t.Run(tt.name+"/"+tt.contact+"/"+tt.passkey, func(t *testing.T) {
			svc, _ := newTestService(t, Options{})
			ctx := context.Background()
			sess, err := svc.LoginLabor(ctx, "sid1", tt.name, tt.contact, tt.passkey)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				_, ok, err := svc.GetSession(ctx, "sid1")
				require.NoError(t, err)
				assert.False(t, ok, "failed login sets no session")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, store.Session{Username: "5550001234", Role: store.RoleLaborer, Name: "Ravi",
				Contact: "5550001234", CreatedAt: sess.CreatedAt}, sess)
			stored, err := svc.RequireRole(ctx, "sid1", store.RoleLaborer)
			require.NoError(t, err)
			assert.Equal(t, sess.Username, stored.Username)
		})
	}
}

func TestService_LoginLabor_NameMismatch(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	_, err := svc.LoginLabor(ctx, "sid1", "Ravi", "5550001234", "1234")
	require.NoError(t, err)
	_, err = svc.LoginLabor(ctx, "sid2", "Ravi", "5550001234", "1234")
	require.NoError(t, err, "same name logs in again")

	_, err = svc.LoginLabor(ctx, "sid3", "Amit", "5550001234", "1234")
	require.ErrorIs(t, err, ErrNameMismatch)
	assert.Equal(t, "Contact already registered with a different name", err.Error())
}

func TestService_LoginLabor_CustomPasskey(t *testing.T) {
	svc, _ := newTestService(t, Options{Passkey: "s3cret"})
	ctx := context.Background()

	_, err := svc.LoginLabor(ctx, "sid1", "Ravi", "5550001234", "1234")
	require.ErrorIs(t, err, ErrInvalidPasskey)
	_, err = svc.LoginLabor(ctx, "sid1", "Ravi", "5550001234", "s3cret")
	require.NoError(t, err)
}
