package board

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/umputun/laborportal/app/store"
	"github.com/umputun/laborportal/app/store/kvstore"
)

// clock is a settable time source for tests
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond) // strictly increasing
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// newTestService makes a service on an in-memory store with deterministic time and ids
func newTestService(t *testing.T, opts Options) (*Service, *clock) {
	t.Helper()
	st := kvstore.New(kvstore.NewMemory())
	t.Cleanup(func() { _ = st.Close() })
	return newTestServiceWith(st, opts)
}

func newTestServiceWith(st store.Store, opts Options) (*Service, *clock) {
	clk := &clock{t: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
	svc := New(st, opts)
	svc.now = clk.Now
	var mu sync.Mutex
	seq := 0
	svc.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("id%03d", seq)
	}
	return svc, clk
}

// addJob adds a job owned by r@x.com with the given capacity
func addJob(t *testing.T, svc *Service, title string, required int) store.Job {
	t.Helper()
	job, err := svc.AddJob(context.Background(), JobRequest{Title: title, Price: "220", RequiredCount: fmt.Sprint(required),
		CreatedBy: "r@x.com", Location: "Mumbai"})
	require.NoError(t, err)
	return job
}

// stubStore overrides selected store methods
type stubStore struct {
	store.Store
	applyErr error
	queryErr error
}

func (s *stubStore) ApplyToJob(ctx context.Context, jobID string, app store.Applicant) error {
	if s.applyErr != nil {
		return s.applyErr
	}
	return s.Store.ApplyToJob(ctx, jobID, app)
}

func (s *stubStore) QueryJobs(ctx context.Context, f store.JobFilter) ([]store.Job, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.Store.QueryJobs(ctx, f)
}

// notifierFunc adapts a function to Notifier
type notifierFunc func(ctx context.Context, job store.Job) error

func (f notifierFunc) JobFilled(ctx context.Context, job store.Job) error { return f(ctx, job) }
