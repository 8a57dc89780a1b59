// Package supabase implements store.Store on a Supabase project through its PostgREST api.
// Tables are the same as created by sqlstore for PostgreSQL, so the schema can be applied by
// pointing sqlstore at the project database once. PostgREST has no client transactions:
// capacity is checked before insert, contact uniqueness relies on the unique index of applicants
// and applicants of a deleted job are removed by the ON DELETE CASCADE of applicants.job_id.
// Sessions are kept by a separate store.SessionStore.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/go-pkgz/syncs"
	supa "github.com/nedpals/supabase-go"

	"github.com/umputun/laborportal/app/store"
)

// Store implements store.Store with supabase
type Store struct {
	store.SessionStore
	client *supa.Client
	rptr   Repeater
	concur int

	applyMu sync.Mutex // serializes check and insert of applicants within the process
	credMu  sync.Mutex // serializes check and insert of the credential within the process
}

// Repeater runs a function with retries, stopping on any of errs
type Repeater interface {
	Do(ctx context.Context, fun func() error, errs ...error) error
}

// Opts defines optional parameters of the store
type Opts struct {
	Sessions    store.SessionStore // sessions keeper, required
	Retries     int                // attempts of every api call
	RetryDelay  time.Duration      // initial delay between attempts
	Concurrency int                // parallel applicant loads in QueryJobs
}

type jobRow struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	PricePerHour  float64 `json:"price_per_hour"`
	RequiredCount int     `json:"required_count"`
	CreatedBy     string  `json:"created_by"`
	Location      string  `json:"location"`
	StartDateTime string  `json:"start_datetime"`
	CreatedAt     pgTime  `json:"created_at"`
}

type applicantRow struct {
	ID        string `json:"id"`
	JobID     string `json:"job_id"`
	Name      string `json:"name"`
	Contact   string `json:"contact"`
	CreatedAt pgTime `json:"created_at"`
}

type laborerRow struct {
	Contact string `json:"contact"`
	Name    string `json:"name"`
}

type credentialRow struct {
	Email        string `json:"email"`
	PasswordHash string `json:"password_hash"`
}

// pgTime is a timestamp column as returned by postgrest, with or without zone.
// Null and unparsable values read as zero time.
type pgTime struct {
	time.Time
}

var pgTimeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999"}

// UnmarshalJSON implements json.Unmarshaler
func (t *pgTime) UnmarshalJSON(data []byte) error {
	t.Time = time.Time{}
	var s *string
	if err := json.Unmarshal(data, &s); err != nil || s == nil {
		return nil //nolint:nilerr // non-string values read as zero time
	}
	for _, layout := range pgTimeLayouts {
		if ts, err := time.Parse(layout, *s); err == nil {
			t.Time = ts
			return nil
		}
	}
	return nil
}

// MarshalJSON implements json.Marshaler, zero time is written as null
func (t pgTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// New makes a store for the project at url with the api key
func New(url, key string, opts Opts) (*Store, error) {
	if url == "" || key == "" {
		return nil, errors.New("supabase url and key must be provided")
	}
	if opts.Sessions == nil {
		return nil, errors.New("supabase store requires a session store")
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 100 * time.Millisecond
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Store{
		SessionStore: opts.Sessions,
		client:       supa.CreateClient(url, key),
		rptr:         repeater.New(&strategy.Backoff{Repeats: opts.Retries, Duration: opts.RetryDelay, Factor: 2, Jitter: true}),
		concur:       opts.Concurrency,
	}, nil
}

// GetCredential returns the recruiter credential
func (s *Store) GetCredential(ctx context.Context) (store.Credential, error) {
	var rows []credentialRow
	err := s.do(ctx, func() error {
		return s.client.DB.From("recruiter_auth").Select("*").Execute(&rows)
	})
	if err != nil {
		return store.Credential{}, fmt.Errorf("failed to get credential: %w", err)
	}
	if len(rows) == 0 || rows[0].PasswordHash == "" {
		return store.Credential{}, store.ErrNotFound
	}
	return store.Credential{Email: rows[0].Email, PasswordHash: rows[0].PasswordHash}, nil
}

// CreateCredential stores the recruiter credential unless one exists already.
// Other processes are held off by the single row index of recruiter_auth created by sqlstore.
func (s *Store) CreateCredential(ctx context.Context, cred store.Credential) error {
	s.credMu.Lock()
	defer s.credMu.Unlock()

	switch _, err := s.GetCredential(ctx); {
	case err == nil:
		return store.ErrExists
	case !errors.Is(err, store.ErrNotFound):
		return err
	}

	var res []credentialRow
	err := s.do(ctx, func() error {
		return s.insert("recruiter_auth", credentialRow{Email: cred.Email, PasswordHash: cred.PasswordHash}, &res)
	})
	if err != nil {
		if errors.Is(err, store.ErrExists) {
			return err
		}
		return fmt.Errorf("failed to create credential: %w", err)
	}
	return nil
}

// GetLaborer returns the laborer registered with contact
func (s *Store) GetLaborer(ctx context.Context, contact string) (store.Laborer, error) {
	var rows []laborerRow
	err := s.do(ctx, func() error {
		return s.client.DB.From("laborers").Select("*").Eq("contact", contact).Execute(&rows)
	})
	if err != nil {
		return store.Laborer{}, fmt.Errorf("failed to get laborer: %w", err)
	}
	if len(rows) == 0 {
		return store.Laborer{}, store.ErrNotFound
	}
	return store.Laborer{Contact: rows[0].Contact, Name: rows[0].Name}, nil
}

// CreateLaborer registers a laborer unless the contact is registered already.
// Registration time is not part of the laborers table.
func (s *Store) CreateLaborer(ctx context.Context, lab store.Laborer) error {
	var res []laborerRow
	err := s.do(ctx, func() error {
		return s.insert("laborers", laborerRow{Contact: lab.Contact, Name: lab.Name}, &res)
	})
	if err != nil {
		if errors.Is(err, store.ErrExists) {
			return err
		}
		return fmt.Errorf("failed to create laborer: %w", err)
	}
	return nil
}

// AddJob inserts a new job
func (s *Store) AddJob(ctx context.Context, job store.Job) error {
	row := jobRow{ID: job.ID, Title: job.Title, Description: job.Description, PricePerHour: job.PricePerHour,
		RequiredCount: job.RequiredCount, CreatedBy: job.CreatedBy, Location: job.Location,
		StartDateTime: job.StartDateTime, CreatedAt: pgTime{job.CreatedAt}}
	var res []jobRow
	if err := s.do(ctx, func() error { return s.insert("jobs", row, &res) }); err != nil {
		if errors.Is(err, store.ErrExists) {
			return err
		}
		return fmt.Errorf("failed to add job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob returns a single job with applicants
func (s *Store) GetJob(ctx context.Context, id string) (store.Job, error) {
	row, err := s.jobRow(ctx, id)
	if err != nil {
		return store.Job{}, err
	}
	apps, err := s.applicants(ctx, id)
	if err != nil {
		return store.Job{}, err
	}
	return row.job(apps), nil
}

// DeleteJob removes the job with a single call, the database cascades it to applicants.
// A failed call leaves the job and its applicants in place.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	if _, err := s.jobRow(ctx, id); err != nil {
		return err
	}
	err := s.do(ctx, func() error {
		var res []jobRow
		return s.client.DB.From("jobs").Delete().Eq("id", id).Execute(&res)
	})
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	return nil
}

// ApplyToJob checks capacity and contact, then inserts the applicant.
// Checks are serialized within the process only, another instance writing to the same project
// may overshoot the capacity. A concurrent duplicate contact is rejected by the unique index.
func (s *Store) ApplyToJob(ctx context.Context, jobID string, app store.Applicant) error {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Full() {
		return store.ErrFull
	}
	if job.HasContact(app.Contact) {
		return store.ErrExists
	}
	row := applicantRow{ID: app.ID, JobID: jobID, Name: app.Name, Contact: app.Contact, CreatedAt: pgTime{app.AppliedAt}}
	var res []applicantRow
	if err := s.do(ctx, func() error { return s.insert("applicants", row, &res) }); err != nil {
		if errors.Is(err, store.ErrExists) {
			return err
		}
		return fmt.Errorf("failed to insert applicant of %s: %w", jobID, err)
	}
	return nil
}

// UnapplyFromJob removes applicants with the contact, a missing applicant is not an error
func (s *Store) UnapplyFromJob(ctx context.Context, jobID, contact string) error {
	if _, err := s.jobRow(ctx, jobID); err != nil {
		return err
	}
	err := s.do(ctx, func() error {
		var res []applicantRow
		return s.client.DB.From("applicants").Delete().Eq("job_id", jobID).Eq("contact", contact).Execute(&res)
	})
	if err != nil {
		return fmt.Errorf("failed to remove applicant of %s: %w", jobID, err)
	}
	return nil
}

// QueryJobs loads jobs and their applicants concurrently, then filters and sorts them
func (s *Store) QueryJobs(ctx context.Context, f store.JobFilter) ([]store.Job, error) {
	var rows []jobRow
	err := s.do(ctx, func() error {
		rows = nil
		if f.CreatedBy != "" {
			return s.client.DB.From("jobs").Select("*").Eq("created_by", f.CreatedBy).Execute(&rows)
		}
		return s.client.DB.From("jobs").Select("*").Execute(&rows)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}

	jobs := make([]store.Job, len(rows))
	var mu sync.Mutex
	var loadErr error
	gr := syncs.NewSizedGroup(s.concur, syncs.Context(ctx))
	for i, r := range rows {
		gr.Go(func(ctx context.Context) {
			apps, err := s.applicants(ctx, r.ID)
			if err != nil {
				mu.Lock()
				loadErr = errors.Join(loadErr, err)
				mu.Unlock()
				return
			}
			jobs[i] = r.job(apps)
		})
	}
	gr.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to load applicants: %w", err)
	}
	if loadErr != nil {
		return nil, loadErr
	}
	return store.FilterJobs(jobs, f), nil
}

// Close releases the session keeper, the api client has no connections to close
func (s *Store) Close() error {
	if c, ok := s.SessionStore.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Store) jobRow(ctx context.Context, id string) (jobRow, error) {
	var rows []jobRow
	err := s.do(ctx, func() error {
		return s.client.DB.From("jobs").Select("*").Eq("id", id).Execute(&rows)
	})
	if err != nil {
		return jobRow{}, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	if len(rows) == 0 {
		return jobRow{}, store.ErrNotFound
	}
	return rows[0], nil
}

func (s *Store) applicants(ctx context.Context, jobID string) ([]store.Applicant, error) {
	var rows []applicantRow
	err := s.do(ctx, func() error {
		return s.client.DB.From("applicants").Select("*").Eq("job_id", jobID).Execute(&rows)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get applicants of %s: %w", jobID, err)
	}
	res := make([]store.Applicant, 0, len(rows))
	for _, r := range rows {
		res = append(res, store.Applicant{ID: r.ID, Name: r.Name, Contact: r.Contact, AppliedAt: r.CreatedAt.Time})
	}
	sortApplicants(res)
	return res, nil
}

// insert posts a row and maps unique violations to store.ErrExists
func (s *Store) insert(table string, row, res any) error {
	err := s.client.DB.From(table).Insert(row).Execute(res)
	if err != nil && isDuplicate(err) {
		return store.ErrExists
	}
	return err
}

// do runs the api call with retries, store errors are not retried
func (s *Store) do(ctx context.Context, fn func() error) error {
	err := s.rptr.Do(ctx, fn, store.ErrExists, store.ErrNotFound, store.ErrFull)
	if err != nil && !errors.Is(err, store.ErrExists) {
		log.Printf("[DEBUG] supabase call failed, %v", err)
	}
	return err
}

func isDuplicate(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate key")
}

// sortApplicants orders applicants by application time, postgrest order params are not used
func sortApplicants(apps []store.Applicant) {
	sort.SliceStable(apps, func(i, j int) bool {
		if !apps[i].AppliedAt.Equal(apps[j].AppliedAt) {
			return apps[i].AppliedAt.Before(apps[j].AppliedAt)
		}
		return apps[i].ID < apps[j].ID
	})
}

func (r jobRow) job(apps []store.Applicant) store.Job {
	createdAt := r.CreatedAt.Time
	return store.Job{
		ID:            r.ID,
		Title:         r.Title,
		Description:   r.Description,
		PricePerHour:  r.PricePerHour,
		RequiredCount: r.RequiredCount,
		CreatedBy:     r.CreatedBy,
		Location:      r.Location,
		StartDateTime: r.StartDateTime,
		CreatedAt:     createdAt,
		Applicants:    store.CanonicalApplicants(r.ID, createdAt, apps),
	}
}
