package store

import (
	"context"
	"errors"
	"sort"
	"time"
)

var (
	// ErrNotFound signals that the requested record does not exist
	ErrNotFound = errors.New("store: not found")
	// ErrExists signals that a record with the same key is already stored
	ErrExists = errors.New("store: already exists")
	// ErrFull signals that a job has no free applicant slots left
	ErrFull = errors.New("store: job is full")
)

// Role of an authenticated actor
type Role string

// enum of roles
const (
	RoleRecruiter Role = "recruiter"
	RoleLaborer   Role = "laborer"
)

// Session is the authenticated actor of a single client
type Session struct {
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	Name      string    `json:"name"`
	Contact   string    `json:"contact,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Credential is the singleton recruiter credential
type Credential struct {
	Email        string
	PasswordHash string
}

// Laborer is a registered laborer identity, keyed by contact
type Laborer struct {
	Contact   string    `json:"contact"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Job is a posting with its applicants
type Job struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	Description   string      `json:"description"`
	PricePerHour  float64     `json:"pricePerHour"`
	RequiredCount int         `json:"requiredCount"`
	CreatedBy     string      `json:"createdBy"`
	Location      string      `json:"location"`
	StartDateTime string      `json:"startDateTime"`
	CreatedAt     time.Time   `json:"createdAt"`
	Applicants    []Applicant `json:"applicants"`
}

// Full reports whether the job reached its required count
func (j Job) Full() bool {
	return len(j.Applicants) >= j.RequiredCount
}

// HasContact reports whether any applicant uses the given contact
func (j Job) HasContact(contact string) bool {
	if contact == "" {
		return false
	}
	for _, a := range j.Applicants {
		if a.Contact == contact {
			return true
		}
	}
	return false
}

// Applicant is a single application to a job.
// User is the free-form identity of applications made before contacts were collected.
type Applicant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	User      string    `json:"user"`
	Contact   string    `json:"contact"`
	AppliedAt time.Time `json:"appliedAt"`
}

// JobFilter selects jobs for QueryJobs. Empty fields don't filter.
type JobFilter struct {
	CreatedBy string // owner of the job
	Applicant string // contact or legacy user of any applicant
	OpenOnly  bool   // only jobs with free slots
}

// Match reports whether the job passes the filter
func (f JobFilter) Match(j Job) bool {
	if f.CreatedBy != "" && j.CreatedBy != f.CreatedBy {
		return false
	}
	if f.OpenOnly && j.Full() {
		return false
	}
	if f.Applicant == "" {
		return true
	}
	for _, a := range j.Applicants {
		if a.Contact == f.Applicant || a.User == f.Applicant {
			return true
		}
	}
	return false
}

// FilterJobs returns jobs matching the filter, newest first
func FilterJobs(jobs []Job, f JobFilter) []Job {
	res := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		if f.Match(j) {
			res = append(res, j)
		}
	}
	SortJobs(res)
	return res
}

// SortJobs orders jobs by creation time, newest first. Equal times fall back to id.
func SortJobs(jobs []Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID > jobs[j].ID
	})
}

// SessionStore keeps sessions by session id
type SessionStore interface {
	GetSession(ctx context.Context, sid string) (Session, error)
	SetSession(ctx context.Context, sid string, sess Session) error
	ClearSession(ctx context.Context, sid string) error
	PurgeSessions(ctx context.Context, olderThan time.Time) (int, error)
}

// Store is the persistence contract of the board. Every read returns jobs with normalized applicants.
// Backends enforce applicant capacity and contact uniqueness on ApplyToJob as far as they can,
// returning ErrFull and ErrExists.
type Store interface {
	SessionStore

	GetCredential(ctx context.Context) (Credential, error)
	CreateCredential(ctx context.Context, cred Credential) error

	GetLaborer(ctx context.Context, contact string) (Laborer, error)
	CreateLaborer(ctx context.Context, lab Laborer) error

	AddJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, id string) (Job, error)
	DeleteJob(ctx context.Context, id string) error
	ApplyToJob(ctx context.Context, jobID string, app Applicant) error
	UnapplyFromJob(ctx context.Context, jobID, contact string) error
	QueryJobs(ctx context.Context, f JobFilter) ([]Job, error)

	Close() error
}
