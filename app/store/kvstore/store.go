package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/laborportal/app/store"
)

// document keys
const (
	keyJobs           = "lp_jobs"
	keyLaborers       = "lp_laborers"
	keyRecruiterEmail = "lp_recruiter_email"
	keyRecruiterHash  = "lp_recruiter_pass_hash"
	keySessionPrefix  = "lp_session:"
)

// Store implements store.Store with JSON documents in a KV.
// Every read-modify-write of a document happens under mu.
type Store struct {
	kv KV
	mu sync.Mutex
}

// jobDoc is a stored job. Applicants are kept raw because older records hold plain strings,
// createdAt is a string so a single bad timestamp can't make the whole document unreadable.
type jobDoc struct {
	ID            string            `json:"id"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	PricePerHour  float64           `json:"pricePerHour"`
	RequiredCount int               `json:"requiredCount"`
	CreatedBy     string            `json:"createdBy"`
	Applicants    []json.RawMessage `json:"applicants"`
	CreatedAt     string            `json:"createdAt"`
	Location      string            `json:"location"`
	StartDateTime string            `json:"startDateTime"`
}

// New makes a Store on top of kv
func New(kv KV) *Store {
	return &Store{kv: kv}
}

// GetSession returns the session stored for sid
func (s *Store) GetSession(ctx context.Context, sid string) (store.Session, error) {
	var sess store.Session
	found, err := s.readJSON(ctx, keySessionPrefix+sid, &sess)
	if err != nil {
		return store.Session{}, err
	}
	if !found {
		return store.Session{}, store.ErrNotFound
	}
	return sess, nil
}

// SetSession replaces the session of sid
func (s *Store) SetSession(ctx context.Context, sid string, sess store.Session) error {
	return s.writeJSON(ctx, keySessionPrefix+sid, sess)
}

// ClearSession removes the session of sid
func (s *Store) ClearSession(ctx context.Context, sid string) error {
	if err := s.kv.Delete(ctx, keySessionPrefix+sid); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// PurgeSessions removes sessions created before olderThan, unreadable sessions are removed as well
func (s *Store) PurgeSessions(ctx context.Context, olderThan time.Time) (int, error) {
	keys, err := s.kv.Keys(ctx, keySessionPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	count := 0
	for _, key := range keys {
		var sess store.Session
		found, err := s.readJSON(ctx, key, &sess)
		if err != nil {
			return count, err
		}
		if found && !sess.CreatedAt.Before(olderThan) {
			continue
		}
		if err := s.kv.Delete(ctx, key); err != nil {
			return count, fmt.Errorf("failed to delete session %s: %w", key, err)
		}
		count++
	}
	return count, nil
}

// GetCredential returns the recruiter credential. The hash key defines whether it is configured.
func (s *Store) GetCredential(ctx context.Context) (store.Credential, error) {
	hash, err := s.getString(ctx, keyRecruiterHash)
	if err != nil {
		return store.Credential{}, err
	}
	email, err := s.getString(ctx, keyRecruiterEmail)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return store.Credential{}, err
	}
	return store.Credential{Email: email, PasswordHash: hash}, nil
}

// CreateCredential stores the recruiter credential unless one exists already
func (s *Store) CreateCredential(ctx context.Context, cred store.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.getString(ctx, keyRecruiterHash)
	switch {
	case err == nil:
		return store.ErrExists
	case !errors.Is(err, store.ErrNotFound):
		return err
	}

	// hash is written last, a credential without it is treated as absent
	if err := s.kv.Set(ctx, keyRecruiterEmail, []byte(cred.Email)); err != nil {
		return fmt.Errorf("failed to store recruiter email: %w", err)
	}
	if err := s.kv.Set(ctx, keyRecruiterHash, []byte(cred.PasswordHash)); err != nil {
		return fmt.Errorf("failed to store recruiter hash: %w", err)
	}
	return nil
}

// GetLaborer returns the laborer registered with contact
func (s *Store) GetLaborer(ctx context.Context, contact string) (store.Laborer, error) {
	reg, err := s.laborers(ctx)
	if err != nil {
		return store.Laborer{}, err
	}
	lab, ok := reg[contact]
	if !ok {
		return store.Laborer{}, store.ErrNotFound
	}
	if lab.Contact == "" {
		lab.Contact = contact
	}
	return lab, nil
}

// CreateLaborer adds a laborer to the registry unless the contact is registered already
func (s *Store) CreateLaborer(ctx context.Context, lab store.Laborer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.laborers(ctx)
	if err != nil {
		return err
	}
	if _, ok := reg[lab.Contact]; ok {
		return store.ErrExists
	}
	reg[lab.Contact] = lab
	return s.writeJSON(ctx, keyLaborers, reg)
}

// AddJob puts the job in front of the jobs document
func (s *Store) AddJob(ctx context.Context, job store.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.jobs(ctx)
	if err != nil {
		return err
	}
	doc, err := toDoc(job)
	if err != nil {
		return err
	}
	docs = append([]jobDoc{doc}, docs...)
	return s.writeJSON(ctx, keyJobs, docs)
}

// GetJob returns a single job
func (s *Store) GetJob(ctx context.Context, id string) (store.Job, error) {
	docs, err := s.jobs(ctx)
	if err != nil {
		return store.Job{}, err
	}
	idx := findJob(docs, id)
	if idx < 0 {
		return store.Job{}, store.ErrNotFound
	}
	return fromDoc(docs[idx]), nil
}

// DeleteJob removes the job together with its applicants
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.jobs(ctx)
	if err != nil {
		return err
	}
	idx := findJob(docs, id)
	if idx < 0 {
		return store.ErrNotFound
	}
	docs = append(docs[:idx], docs[idx+1:]...)
	return s.writeJSON(ctx, keyJobs, docs)
}

// ApplyToJob appends the applicant, checking capacity and contact uniqueness under the lock
func (s *Store) ApplyToJob(ctx context.Context, jobID string, app store.Applicant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.jobs(ctx)
	if err != nil {
		return err
	}
	idx := findJob(docs, jobID)
	if idx < 0 {
		return store.ErrNotFound
	}
	job := fromDoc(docs[idx])
	if job.Full() {
		return store.ErrFull
	}
	if job.HasContact(app.Contact) {
		return store.ErrExists
	}
	job.Applicants = append(job.Applicants, app)
	if docs[idx], err = toDoc(job); err != nil {
		return err
	}
	return s.writeJSON(ctx, keyJobs, docs)
}

// UnapplyFromJob removes all applicants with the contact, a missing applicant is not an error
func (s *Store) UnapplyFromJob(ctx context.Context, jobID, contact string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.jobs(ctx)
	if err != nil {
		return err
	}
	idx := findJob(docs, jobID)
	if idx < 0 {
		return store.ErrNotFound
	}
	job := fromDoc(docs[idx])
	kept := make([]store.Applicant, 0, len(job.Applicants))
	for _, a := range job.Applicants {
		if a.Contact != contact {
			kept = append(kept, a)
		}
	}
	job.Applicants = kept
	if docs[idx], err = toDoc(job); err != nil {
		return err
	}
	return s.writeJSON(ctx, keyJobs, docs)
}

// QueryJobs returns normalized jobs matching the filter, newest first
func (s *Store) QueryJobs(ctx context.Context, f store.JobFilter) ([]store.Job, error) {
	docs, err := s.jobs(ctx)
	if err != nil {
		return nil, err
	}
	jobs := make([]store.Job, 0, len(docs))
	for _, d := range docs {
		jobs = append(jobs, fromDoc(d))
	}
	return store.FilterJobs(jobs, f), nil
}

// Close closes the underlying KV
func (s *Store) Close() error {
	return s.kv.Close()
}

func (s *Store) jobs(ctx context.Context) ([]jobDoc, error) {
	var docs []jobDoc
	found, err := s.readJSON(ctx, keyJobs, &docs)
	if err != nil {
		return nil, err
	}
	if !found || docs == nil {
		return []jobDoc{}, nil
	}
	return docs, nil
}

func (s *Store) laborers(ctx context.Context) (map[string]store.Laborer, error) {
	var reg map[string]store.Laborer
	found, err := s.readJSON(ctx, keyLaborers, &reg)
	if err != nil {
		return nil, err
	}
	if !found || reg == nil {
		return map[string]store.Laborer{}, nil
	}
	return reg, nil
}

// readJSON decodes the document under key into v. Missing keys report found=false.
// A corrupted document is logged and reported as missing, callers must not use v then.
func (s *Store) readJSON(ctx context.Context, key string, v any) (found bool, err error) {
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		log.Printf("[WARN] corrupted %s, using defaults: %v", key, err)
		return false, nil
	}
	return true, nil
}

func (s *Store) writeJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.kv.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *Store) getString(ctx context.Context, key string) (string, error) {
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", err
		}
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	if len(raw) == 0 {
		return "", store.ErrNotFound
	}
	return strings.TrimSpace(string(raw)), nil
}

func findJob(docs []jobDoc, id string) int {
	for i, d := range docs {
		if d.ID == id {
			return i
		}
	}
	return -1
}

func fromDoc(d jobDoc) store.Job {
	createdAt, err := time.Parse(time.RFC3339Nano, d.CreatedAt)
	if err != nil && d.CreatedAt != "" {
		log.Printf("[DEBUG] job %s has invalid createdAt %q", d.ID, d.CreatedAt)
	}
	return store.Job{
		ID:            d.ID,
		Title:         d.Title,
		Description:   d.Description,
		PricePerHour:  d.PricePerHour,
		RequiredCount: d.RequiredCount,
		CreatedBy:     d.CreatedBy,
		Location:      d.Location,
		StartDateTime: d.StartDateTime,
		CreatedAt:     createdAt,
		Applicants:    store.NormalizeApplicants(d.ID, createdAt, d.Applicants),
	}
}

func toDoc(j store.Job) (jobDoc, error) {
	apps := make([]json.RawMessage, 0, len(j.Applicants))
	for _, a := range j.Applicants {
		raw, err := json.Marshal(a)
		if err != nil {
			return jobDoc{}, fmt.Errorf("failed to encode applicant %s: %w", a.ID, err)
		}
		apps = append(apps, raw)
	}
	return jobDoc{
		ID:            j.ID,
		Title:         j.Title,
		Description:   j.Description,
		PricePerHour:  j.PricePerHour,
		RequiredCount: j.RequiredCount,
		CreatedBy:     j.CreatedBy,
		Applicants:    apps,
		CreatedAt:     j.CreatedAt.UTC().Format(time.RFC3339Nano),
		Location:      j.Location,
		StartDateTime: j.StartDateTime,
	}, nil
}
