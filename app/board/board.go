// Package board implements the rules of the job board: sessions and their roles, laborer
// registry and login, single recruiter provisioning, jobs and their applicants.
// All state lives in a store.Store, every check reads it freshly. Backends differ only in
// how strictly they serialize concurrent writers, see store.Store.
package board

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/umputun/laborportal/app/store"
)

// DefaultPasskey is the shared secret laborers present on login and apply
const DefaultPasskey = "1234"

// notifyTimeout bounds a single job filled notification, it runs detached from the request
const notifyTimeout = time.Minute

// Notifier is told about jobs which got all required applicants
type Notifier interface {
	JobFilled(ctx context.Context, job store.Job) error
}

// Options defines optional parameters of the Service
type Options struct {
	Hasher     Hasher        // password digests, sha256 by default
	Passkey    string        // shared laborer secret, DefaultPasskey if empty
	SessionTTL time.Duration // sessions older than this are treated as absent, 0 keeps them forever
	Notifier   Notifier      // optional, called when a job gets filled
}

// Service implements board operations on top of a store
type Service struct {
	store      store.Store
	hasher     Hasher
	passkey    string
	sessionTTL time.Duration
	notifier   Notifier
	notifyWg   sync.WaitGroup

	now   func() time.Time
	newID func() string
}

// New makes a Service on top of st
func New(st store.Store, opts Options) *Service {
	res := &Service{
		store:      st,
		hasher:     opts.Hasher,
		passkey:    opts.Passkey,
		sessionTTL: opts.SessionTTL,
		notifier:   opts.Notifier,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	if res.hasher == nil {
		res.hasher = SHA256Hasher{}
	}
	if res.passkey == "" {
		res.passkey = DefaultPasskey
	}
	return res
}

// WaitNotifications blocks until notifications in flight are delivered or given up
func (s *Service) WaitNotifications() {
	s.notifyWg.Wait()
}

// NewSessionID returns a fresh random session id
func (s *Service) NewSessionID() string {
	return uuid.NewString()
}
