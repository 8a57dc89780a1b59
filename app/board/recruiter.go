package board

import (
	"context"
	"errors"
	"strings"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/laborportal/app/store"
)

const (
	recruiterName     = "Recruiter"
	recruiterUsername = "recruiter" // username of a recruiter configured without email
)

// VerifyOrSetupRecruiter logs the recruiter in. The first call ever stores its email and password
// as the only recruiter credential and reports setup=true, later calls are verified against it.
func (s *Service) VerifyOrSetupRecruiter(ctx context.Context, sid, email, password string) (sess store.Session, setup bool, err error) {
	email = strings.TrimSpace(email)

	cred, err := s.store.GetCredential(ctx)
	switch {
	case errors.Is(err, store.ErrNotFound):
		created, err := s.setupRecruiter(ctx, email, password)
		if err != nil {
			return store.Session{}, false, err
		}
		if created {
			log.Printf("[INFO] recruiter credential configured for %q", email)
			sess, err := s.recruiterSession(ctx, sid, email)
			return sess, err == nil, err
		}
		// lost the race to a concurrent setup, verify against the stored credential
		if cred, err = s.store.GetCredential(ctx); err != nil {
			return store.Session{}, false, backendError(err)
		}
	case err != nil:
		return store.Session{}, false, backendError(err)
	}

	if email != "" && email != cred.Email {
		return store.Session{}, false, ErrEmailMismatch
	}
	if !s.hasher.Verify(cred.PasswordHash, password) {
		return store.Session{}, false, ErrInvalidPassword
	}
	sess, err = s.recruiterSession(ctx, sid, cred.Email)
	return sess, false, err
}

// setupRecruiter stores the credential, reporting false when another one exists already
func (s *Service) setupRecruiter(ctx context.Context, email, password string) (bool, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return false, backendError(err)
	}
	err = s.store.CreateCredential(ctx, store.Credential{Email: email, PasswordHash: hash})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrExists):
		return false, nil
	default:
		return false, backendError(err)
	}
}

func (s *Service) recruiterSession(ctx context.Context, sid, email string) (store.Session, error) {
	username := email
	if username == "" {
		username = recruiterUsername
	}
	sess := store.Session{Username: username, Role: store.RoleRecruiter, Name: recruiterName, CreatedAt: s.now()}
	if err := s.SetSession(ctx, sid, sess); err != nil {
		return store.Session{}, err
	}
	return sess, nil
}
