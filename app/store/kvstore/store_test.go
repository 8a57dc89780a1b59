package kvstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/laborportal/app/store"
	"github.com/umputun/laborportal/app/store/storetest"
)

func TestStore_Memory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New(NewMemory()) })
}

func TestStore_Badger(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		kv, err := NewBadger(t.TempDir())
		require.NoError(t, err)
		return New(kv)
	})
}

func TestStore_BadgerReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	ts := time.Now().Truncate(time.Millisecond)

	kv, err := NewBadger(dir)
	require.NoError(t, err)
	st := New(kv)
	require.NoError(t, st.AddJob(ctx, storetest.MakeJob("job1", "r@x.com", 2, ts)))
	require.NoError(t, st.ApplyToJob(ctx, "job1", store.Applicant{ID: "a1", Name: "A", Contact: "1111111111", AppliedAt: ts}))
	require.NoError(t, st.CreateCredential(ctx, store.Credential{Email: "r@x.com", PasswordHash: "hash"}))
	require.NoError(t, st.Close())

	kv, err = NewBadger(dir)
	require.NoError(t, err)
	st = New(kv)
	defer st.Close()

	job, err := st.GetJob(ctx, "job1")
	require.NoError(t, err)
	require.Len(t, job.Applicants, 1)
	assert.Equal(t, "1111111111", job.Applicants[0].Contact)

	cred, err := st.GetCredential(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r@x.com", cred.Email)
}

func TestStore_LegacyDocuments(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()
	raw := `[{"id":"old1","title":"Loader","description":"d","pricePerHour":200,"requiredCount":3,
		"createdBy":"r@x.com","createdAt":"2024-05-01T10:00:00Z","location":"Pune","startDateTime":"",
		"applicants":["alice",{"name":"Bob","contact":"1111111111"}]}]`
	require.NoError(t, kv.Set(ctx, keyJobs, []byte(raw)))
	st := New(kv)

	job, err := st.GetJob(ctx, "old1")
	require.NoError(t, err)
	require.Len(t, job.Applicants, 2)
	assert.Equal(t, "alice", job.Applicants[0].Name)
	assert.Equal(t, "alice", job.Applicants[0].User)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), job.Applicants[0].AppliedAt)
	assert.Equal(t, "Bob", job.Applicants[1].Name)
	legacyID := job.Applicants[0].ID
	assert.NotEmpty(t, legacyID)

	// legacy applicant is found by its user string
	jobs, err := st.QueryJobs(ctx, store.JobFilter{Applicant: "alice"})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	// a write keeps the derived id of the legacy applicant
	require.NoError(t, st.ApplyToJob(ctx, "old1", store.Applicant{ID: "n1", Name: "N", Contact: "2222222222", AppliedAt: time.Now()}))
	job, err = st.GetJob(ctx, "old1")
	require.NoError(t, err)
	require.Len(t, job.Applicants, 3)
	assert.Equal(t, legacyID, job.Applicants[0].ID)

	// duplicate contact of a legacy object applicant is rejected
	err = st.ApplyToJob(ctx, "old1", store.Applicant{ID: "n2", Name: "B", Contact: "1111111111", AppliedAt: time.Now()})
	require.ErrorIs(t, err, store.ErrExists)
}

func TestStore_CorruptedDocuments(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()
	require.NoError(t, kv.Set(ctx, keyJobs, []byte(`{not json`)))
	require.NoError(t, kv.Set(ctx, keyLaborers, []byte(`[1,2,3]`)))
	require.NoError(t, kv.Set(ctx, keySessionPrefix+"sid1", []byte(`garbage`)))
	st := New(kv)

	jobs, err := st.QueryJobs(ctx, store.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)

	_, err = st.GetLaborer(ctx, "5550001234")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = st.GetSession(ctx, "sid1")
	require.ErrorIs(t, err, store.ErrNotFound)

	// writes replace corrupted documents
	require.NoError(t, st.AddJob(ctx, storetest.MakeJob("job1", "r@x.com", 1, time.Now())))
	require.NoError(t, st.CreateLaborer(ctx, store.Laborer{Contact: "5550001234", Name: "Ravi"}))
	jobs, err = st.QueryJobs(ctx, store.JobFilter{})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	// unreadable sessions are purged
	n, err := st.PurgeSessions(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_BadCreatedAt(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()
	docs := []map[string]any{
		{"id": "good", "title": "A", "requiredCount": 1, "createdAt": "2024-05-01T10:00:00Z", "applicants": []any{}},
		{"id": "bad", "title": "B", "requiredCount": 1, "createdAt": "yesterday", "applicants": []any{}},
	}
	raw, err := json.Marshal(docs)
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, keyJobs, raw))
	st := New(kv)

	jobs, err := st.QueryJobs(ctx, store.JobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "good", jobs[0].ID)
	assert.True(t, jobs[1].CreatedAt.IsZero())
}

func TestStore_CredentialWithoutHash(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()
	require.NoError(t, kv.Set(ctx, keyRecruiterEmail, []byte("r@x.com")))
	st := New(kv)

	_, err := st.GetCredential(ctx)
	require.ErrorIs(t, err, store.ErrNotFound, "email alone doesn't configure the recruiter")

	require.NoError(t, st.CreateCredential(ctx, store.Credential{Email: "new@x.com", PasswordHash: "h"}))
	cred, err := st.GetCredential(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.Credential{Email: "new@x.com", PasswordHash: "h"}, cred)
}

func TestMemory_Keys(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "b:2", []byte("x")))
	require.NoError(t, m.Set(ctx, "b:1", []byte("y")))
	require.NoError(t, m.Set(ctx, "a:1", []byte("z")))

	keys, err := m.Keys(ctx, "b:")
	require.NoError(t, err)
	assert.Equal(t, []string{"b:1", "b:2"}, keys)

	v, err := m.Get(ctx, "a:1")
	require.NoError(t, err)
	v[0] = 'q'
	v2, err := m.Get(ctx, "a:1")
	require.NoError(t, err)
	assert.Equal(t, "z", string(v2), "returned values are copies")

	require.NoError(t, m.Delete(ctx, "a:1"))
	_, err = m.Get(ctx, "a:1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestBadger_CanceledContext(t *testing.T) {
	kv, err := NewBadger(t.TempDir())
	require.NoError(t, err)
	defer kv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = kv.Get(ctx, "k")
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, kv.Set(ctx, "k", []byte("v")), context.Canceled)
}
