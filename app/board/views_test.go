package board

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/laborportal/app/store"
	"github.com/umputun/laborportal/app/store/kvstore"
)

func ids(jobs []store.Job) []string {
	res := []string{}
	for _, j := range jobs {
		res = append(res, j.ID)
	}
	return res
}

func TestService_Views(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	first := addJob(t, svc, "First", 1)
	second, err := svc.AddJob(ctx, JobRequest{Title: "Second", RequiredCount: "2", CreatedBy: "other@x.com"})
	require.NoError(t, err)
	third := addJob(t, svc, "Third", 2)

	_, err = svc.ApplyToJobWithDetails(ctx, first.ID, ApplicantRequest{Name: "A", Contact: "1111111111", Passkey: "1234"})
	require.NoError(t, err)
	_, err = svc.ApplyToJobWithDetails(ctx, second.ID, ApplicantRequest{Name: "A", Contact: "1111111111", Passkey: "1234"})
	require.NoError(t, err)

	open, err := svc.OpenJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{third.ID, second.ID}, ids(open), "full job is hidden, newest first")

	mine, err := svc.JobsForRecruiter(ctx, "r@x.com")
	require.NoError(t, err)
	assert.Equal(t, []string{third.ID, first.ID}, ids(mine))

	applied, err := svc.JobsForLaborer(ctx, "1111111111")
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID, first.ID}, ids(applied))

	all, err := svc.AllJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := svc.JobsForRecruiter(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, none)
	none, err = svc.JobsForLaborer(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestService_Views_LegacyApplicants(t *testing.T) {
	ctx := context.Background()
	kv := kvstore.NewMemory()
	raw := `[{"id":"legacy","title":"Old","pricePerHour":100,"requiredCount":3,"createdBy":"r@x.com",
		"createdAt":"2024-05-01T10:00:00Z","applicants":["ravi",{"name":"Amit","contact":"2222222222"},42]}]`
	require.NoError(t, kv.Set(ctx, "lp_jobs", []byte(raw)))
	svc, _ := newTestServiceWith(kvstore.New(kv), Options{})

	jobs, err := svc.JobsForLaborer(ctx, "ravi")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	for _, a := range jobs[0].Applicants {
		assert.NotEmpty(t, a.ID, "normalized applicants always have ids")
		assert.NotEmpty(t, a.Name)
		assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), a.AppliedAt)
	}

	jobs, err = svc.JobsForLaborer(ctx, "2222222222")
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	open, err := svc.OpenJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, open, "three legacy applicants fill the job")
}

func TestService_Views_BackendError(t *testing.T) {
	st := &stubStore{Store: kvstore.New(kvstore.NewMemory()), queryErr: errors.New("timeout")}
	svc, _ := newTestServiceWith(st, Options{})
	_, err := svc.OpenJobs(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindBackend, KindOf(err))
}
