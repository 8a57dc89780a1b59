package board

import (
	"context"
	"errors"
	"strings"

	"github.com/umputun/laborportal/app/store"
)

// RegisterOrVerifyLaborer returns the laborer registered with contact, registering it on first use.
// A contact registered with another name is rejected.
func (s *Service) RegisterOrVerifyLaborer(ctx context.Context, name, contact string) (store.Laborer, error) {
	name, contact = strings.TrimSpace(name), strings.TrimSpace(contact)
	if !validContact(contact) {
		return store.Laborer{}, ErrInvalidContact
	}

	lab, err := s.store.GetLaborer(ctx, contact)
	switch {
	case err == nil:
		return verifyLaborer(lab, name)
	case !errors.Is(err, store.ErrNotFound):
		return store.Laborer{}, backendError(err)
	}

	lab = store.Laborer{Contact: contact, Name: name, CreatedAt: s.now()}
	err = s.store.CreateLaborer(ctx, lab)
	switch {
	case err == nil:
		return lab, nil
	case !errors.Is(err, store.ErrExists):
		return store.Laborer{}, backendError(err)
	}

	// registered concurrently, verify against the winner
	existing, err := s.store.GetLaborer(ctx, contact)
	if err != nil {
		return store.Laborer{}, backendError(err)
	}
	return verifyLaborer(existing, name)
}

// LoginLabor checks laborer credentials, registers the contact if needed and sets a laborer session
func (s *Service) LoginLabor(ctx context.Context, sid, name, contact, passkey string) (store.Session, error) {
	name, contact = strings.TrimSpace(name), strings.TrimSpace(contact)
	if name == "" || contact == "" {
		return store.Session{}, ErrMissingLoginFields
	}
	if passkey != s.passkey {
		return store.Session{}, ErrInvalidPasskey
	}
	if !validContact(contact) {
		return store.Session{}, ErrInvalidContact
	}
	if _, err := s.RegisterOrVerifyLaborer(ctx, name, contact); err != nil {
		return store.Session{}, err
	}

	sess := store.Session{Username: contact, Role: store.RoleLaborer, Name: name, Contact: contact, CreatedAt: s.now()}
	if err := s.SetSession(ctx, sid, sess); err != nil {
		return store.Session{}, err
	}
	return sess, nil
}

func verifyLaborer(lab store.Laborer, name string) (store.Laborer, error) {
	if lab.Name != name {
		return store.Laborer{}, ErrNameMismatch
	}
	return lab, nil
}

// validContact checks for exactly 10 ascii digits
func validContact(contact string) bool {
	if len(contact) != 10 {
		return false
	}
	for _, c := range contact {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
