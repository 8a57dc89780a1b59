// Package storetest provides the contract test suite every store.Store backend must pass
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/laborportal/app/store"
)

// Factory makes a fresh, empty store for a single test
type Factory func(t *testing.T) store.Store

// Run executes the whole contract suite against stores made by newStore
func Run(t *testing.T, newStore Factory) {
	t.Run("sessions", func(t *testing.T) { testSessions(t, newStore(t)) })
	t.Run("purge sessions", func(t *testing.T) { testPurgeSessions(t, newStore(t)) })
	t.Run("credential", func(t *testing.T) { testCredential(t, newStore(t)) })
	t.Run("laborers", func(t *testing.T) { testLaborers(t, newStore(t)) })
	t.Run("jobs", func(t *testing.T) { testJobs(t, newStore(t)) })
	t.Run("apply and unapply", func(t *testing.T) { testApply(t, newStore(t)) })
	t.Run("query jobs", func(t *testing.T) { testQuery(t, newStore(t)) })
	t.Run("concurrent apply", func(t *testing.T) { testConcurrentApply(t, newStore(t)) })
}

// MakeJob returns a job with sane defaults created at ts
func MakeJob(id, createdBy string, required int, ts time.Time) store.Job {
	return store.Job{
		ID:            id,
		Title:         "title " + id,
		Description:   "description " + id,
		PricePerHour:  220.5,
		RequiredCount: required,
		CreatedBy:     createdBy,
		Location:      "Mumbai",
		StartDateTime: "2024-06-01T09:00",
		CreatedAt:     ts,
		Applicants:    []store.Applicant{},
	}
}

func testSessions(t *testing.T, st store.Store) {
	defer st.Close()
	ctx := context.Background()

	_, err := st.GetSession(ctx, "sid1")
	require.ErrorIs(t, err, store.ErrNotFound)

	ts := time.Now().Truncate(time.Millisecond)
	sess := store.Session{Username: "r@x.com", Role: store.RoleRecruiter, Name: "Recruiter", CreatedAt: ts}
	require.NoError(t, st.SetSession(ctx, "sid1", sess))

	got, err := st.GetSession(ctx, "sid1")
	require.NoError(t, err)
	assert.Equal(t, sess.Username, got.Username)
	assert.Equal(t, sess.Role, got.Role)
	assert.Equal(t, sess.Name, got.Name)
	assert.WithinDuration(t, ts, got.CreatedAt, time.Millisecond)

	// last write wins
	lab := store.Session{Username: "5550001234", Role: store.RoleLaborer, Name: "Lab", Contact: "5550001234", CreatedAt: ts}
	require.NoError(t, st.SetSession(ctx, "sid1", lab))
	got, err = st.GetSession(ctx, "sid1")
	require.NoError(t, err)
	assert.Equal(t, store.RoleLaborer, got.Role)
	assert.Equal(t, "5550001234", got.Contact)

	// sessions are independent
	_, err = st.GetSession(ctx, "sid2")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, st.ClearSession(ctx, "sid1"))
	_, err = st.GetSession(ctx, "sid1")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, st.ClearSession(ctx, "sid1"), "clearing a missing session is fine")
}

func testPurgeSessions(t *testing.T, st store.Store) {
	defer st.Close()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, st.SetSession(ctx, "old", store.Session{Username: "a", Role: store.RoleLaborer, CreatedAt: now.Add(-2 * time.Hour)}))
	require.NoError(t, st.SetSession(ctx, "new", store.Session{Username: "b", Role: store.RoleLaborer, CreatedAt: now}))

	n, err := st.PurgeSessions(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = st.GetSession(ctx, "old")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetSession(ctx, "new")
	require.NoError(t, err)
}

func testCredential(t *testing.T, st store.Store) {
	defer st.Close()
	ctx := context.Background()

	_, err := st.GetCredential(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, st.CreateCredential(ctx, store.Credential{Email: "r@x.com", PasswordHash: "hash1"}))
	err = st.CreateCredential(ctx, store.Credential{Email: "other@x.com", PasswordHash: "hash2"})
	require.ErrorIs(t, err, store.ErrExists)

	cred, err := st.GetCredential(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.Credential{Email: "r@x.com", PasswordHash: "hash1"}, cred)
}

func testLaborers(t *testing.T, st store.Store) {
	defer st.Close()
	ctx := context.Background()

	_, err := st.GetLaborer(ctx, "5550001234")
	require.ErrorIs(t, err, store.ErrNotFound)

	ts := time.Now().Truncate(time.Millisecond)
	require.NoError(t, st.CreateLaborer(ctx, store.Laborer{Contact: "5550001234", Name: "Ravi", CreatedAt: ts}))
	err = st.CreateLaborer(ctx, store.Laborer{Contact: "5550001234", Name: "Other", CreatedAt: ts})
	require.ErrorIs(t, err, store.ErrExists)

	lab, err := st.GetLaborer(ctx, "5550001234")
	require.NoError(t, err)
	assert.Equal(t, "Ravi", lab.Name)
	assert.Equal(t, "5550001234", lab.Contact)
}

func testJobs(t *testing.T, st store.Store) {
	defer st.Close()
	ctx := context.Background()
	ts := time.Now().Truncate(time.Millisecond)

	job := MakeJob("job1", "r@x.com", 3, ts)
	require.NoError(t, st.AddJob(ctx, job))

	got, err := st.GetJob(ctx, "job1")
	require.NoError(t, err)
	assert.Equal(t, job.Title, got.Title)
	assert.Equal(t, job.Description, got.Description)
	assert.InDelta(t, job.PricePerHour, got.PricePerHour, 0.001)
	assert.Equal(t, job.RequiredCount, got.RequiredCount)
	assert.Equal(t, job.CreatedBy, got.CreatedBy)
	assert.Equal(t, job.Location, got.Location)
	assert.Equal(t, job.StartDateTime, got.StartDateTime)
	assert.WithinDuration(t, ts, got.CreatedAt, time.Millisecond)
	assert.NotNil(t, got.Applicants)
	assert.Empty(t, got.Applicants)

	_, err = st.GetJob(ctx, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, st.ApplyToJob(ctx, "job1", store.Applicant{ID: "a1", Name: "A", Contact: "1111111111", AppliedAt: ts}))
	require.NoError(t, st.DeleteJob(ctx, "job1"))
	_, err = st.GetJob(ctx, "job1")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, st.DeleteJob(ctx, "job1"), store.ErrNotFound)

	// applicants are gone with the job, a new job with the same id starts empty
	require.NoError(t, st.AddJob(ctx, job))
	got, err = st.GetJob(ctx, "job1")
	require.NoError(t, err)
	assert.Empty(t, got.Applicants)
}

func testApply(t *testing.T, st store.Store) {
	defer st.Close()
	ctx := context.Background()
	ts := time.Now().Truncate(time.Millisecond)

	require.NoError(t, st.AddJob(ctx, MakeJob("job1", "r@x.com", 2, ts)))

	require.ErrorIs(t, st.ApplyToJob(ctx, "nope", store.Applicant{ID: "x", Name: "X", Contact: "9999999999", AppliedAt: ts}), store.ErrNotFound)

	require.NoError(t, st.ApplyToJob(ctx, "job1", store.Applicant{ID: "a1", Name: "A", Contact: "1111111111", AppliedAt: ts}))
	err := st.ApplyToJob(ctx, "job1", store.Applicant{ID: "a2", Name: "A again", Contact: "1111111111", AppliedAt: ts.Add(time.Second)})
	require.ErrorIs(t, err, store.ErrExists)

	require.NoError(t, st.ApplyToJob(ctx, "job1", store.Applicant{ID: "b1", Name: "B", Contact: "2222222222", AppliedAt: ts.Add(time.Second)}))
	err = st.ApplyToJob(ctx, "job1", store.Applicant{ID: "c1", Name: "C", Contact: "3333333333", AppliedAt: ts.Add(2 * time.Second)})
	require.ErrorIs(t, err, store.ErrFull)

	job, err := st.GetJob(ctx, "job1")
	require.NoError(t, err)
	require.Len(t, job.Applicants, 2)
	assert.Equal(t, "a1", job.Applicants[0].ID)
	assert.Equal(t, "A", job.Applicants[0].Name)
	assert.Equal(t, "1111111111", job.Applicants[0].Contact)
	assert.Equal(t, "b1", job.Applicants[1].ID)

	require.NoError(t, st.UnapplyFromJob(ctx, "job1", "1111111111"))
	require.NoError(t, st.UnapplyFromJob(ctx, "job1", "1111111111"), "unapply is idempotent")
	job, err = st.GetJob(ctx, "job1")
	require.NoError(t, err)
	require.Len(t, job.Applicants, 1)
	assert.Equal(t, "2222222222", job.Applicants[0].Contact)

	require.ErrorIs(t, st.UnapplyFromJob(ctx, "nope", "1111111111"), store.ErrNotFound)
}

func testQuery(t *testing.T, st store.Store) {
	defer st.Close()
	ctx := context.Background()
	ts := time.Now().Truncate(time.Millisecond)

	require.NoError(t, st.AddJob(ctx, MakeJob("old", "r@x.com", 1, ts.Add(-2*time.Hour))))
	require.NoError(t, st.AddJob(ctx, MakeJob("mid", "other@x.com", 2, ts.Add(-time.Hour))))
	require.NoError(t, st.AddJob(ctx, MakeJob("new", "r@x.com", 2, ts)))

	require.NoError(t, st.ApplyToJob(ctx, "old", store.Applicant{ID: "a1", Name: "A", Contact: "1111111111", AppliedAt: ts}))
	require.NoError(t, st.ApplyToJob(ctx, "mid", store.Applicant{ID: "a2", Name: "A", Contact: "1111111111", AppliedAt: ts}))

	ids := func(jobs []store.Job) []string {
		res := []string{}
		for _, j := range jobs {
			res = append(res, j.ID)
		}
		return res
	}

	all, err := st.QueryJobs(ctx, store.JobFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "mid", "old"}, ids(all))

	open, err := st.QueryJobs(ctx, store.JobFilter{OpenOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "mid"}, ids(open))

	mine, err := st.QueryJobs(ctx, store.JobFilter{CreatedBy: "r@x.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "old"}, ids(mine))

	applied, err := st.QueryJobs(ctx, store.JobFilter{Applicant: "1111111111"})
	require.NoError(t, err)
	assert.Equal(t, []string{"mid", "old"}, ids(applied))
	for _, j := range applied {
		require.Len(t, j.Applicants, 1)
		assert.Equal(t, "1111111111", j.Applicants[0].Contact)
	}

	none, err := st.QueryJobs(ctx, store.JobFilter{Applicant: "2222222222"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testConcurrentApply(t *testing.T, st store.Store) {
	defer st.Close()
	ctx := context.Background()
	ts := time.Now().Truncate(time.Millisecond)
	require.NoError(t, st.AddJob(ctx, MakeJob("job1", "r@x.com", 3, ts)))

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			contact := fmt.Sprintf("55500000%02d", i)
			_ = st.ApplyToJob(ctx, "job1", store.Applicant{ID: fmt.Sprintf("a%d", i), Name: "N", Contact: contact, AppliedAt: ts})
		}(i)
	}
	wg.Wait()

	job, err := st.GetJob(ctx, "job1")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(job.Applicants), job.RequiredCount)
	assert.NotEmpty(t, job.Applicants)
}
