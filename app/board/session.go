package board

import (
	"context"
	"errors"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/laborportal/app/store"
)

// GetSession returns the session of sid. Missing and expired sessions report false.
func (s *Service) GetSession(ctx context.Context, sid string) (store.Session, bool, error) {
	if sid == "" {
		return store.Session{}, false, nil
	}
	sess, err := s.store.GetSession(ctx, sid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Session{}, false, nil
		}
		return store.Session{}, false, backendError(err)
	}
	if s.expired(sess) {
		if err := s.store.ClearSession(ctx, sid); err != nil {
			log.Printf("[WARN] failed to clear expired session, %v", err)
		}
		return store.Session{}, false, nil
	}
	return sess, true, nil
}

// SetSession replaces the session of sid, missing creation time is set to now
func (s *Service) SetSession(ctx context.Context, sid string, sess store.Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now()
	}
	if err := s.store.SetSession(ctx, sid, sess); err != nil {
		return backendError(err)
	}
	return nil
}

// ClearSession removes the session of sid
func (s *Service) ClearSession(ctx context.Context, sid string) error {
	if sid == "" {
		return nil
	}
	if err := s.store.ClearSession(ctx, sid); err != nil {
		return backendError(err)
	}
	return nil
}

// RequireRole returns the session of sid if it exists and has the role. Empty role accepts any.
func (s *Service) RequireRole(ctx context.Context, sid string, role store.Role) (store.Session, error) {
	sess, ok, err := s.GetSession(ctx, sid)
	if err != nil {
		return store.Session{}, err
	}
	if !ok {
		return store.Session{}, ErrNoSession
	}
	if role != "" && sess.Role != role {
		return store.Session{}, ErrWrongRole
	}
	return sess, nil
}

// PurgeExpiredSessions removes sessions older than the session ttl
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int, error) {
	if s.sessionTTL <= 0 {
		return 0, nil
	}
	n, err := s.store.PurgeSessions(ctx, s.now().Add(-s.sessionTTL))
	if err != nil {
		return n, backendError(err)
	}
	return n, nil
}

func (s *Service) expired(sess store.Session) bool {
	if s.sessionTTL <= 0 || sess.CreatedAt.IsZero() {
		return false
	}
	return s.now().Sub(sess.CreatedAt) > s.sessionTTL
}
