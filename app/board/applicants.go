package board

import (
	"context"
	"errors"
	"strings"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/laborportal/app/store"
)

// ApplicantRequest is an application as submitted by a laborer
type ApplicantRequest struct {
	Name    string
	Contact string
	Passkey string
}

// ApplyToJobWithDetails adds the applicant to the job and returns the updated job.
// Checks run in order on the current state of the job: existence, details, contact format,
// passkey, capacity, duplicate contact. A failed apply changes nothing.
func (s *Service) ApplyToJobWithDetails(ctx context.Context, jobID string, req ApplicantRequest) (store.Job, error) {
	job, err := s.job(ctx, jobID)
	if err != nil {
		return store.Job{}, err
	}

	name, contact := strings.TrimSpace(req.Name), strings.TrimSpace(req.Contact)
	if name == "" || contact == "" {
		return store.Job{}, ErrMissingDetails
	}
	if !validContact(contact) {
		return store.Job{}, ErrInvalidContact
	}
	if req.Passkey != s.passkey {
		return store.Job{}, ErrInvalidPasskey
	}
	if job.Full() {
		return store.Job{}, ErrJobFilled
	}
	if job.HasContact(contact) {
		return store.Job{}, ErrAlreadySigned
	}

	app := store.Applicant{ID: s.newID(), Name: name, Contact: contact, AppliedAt: s.now()}
	if err := s.store.ApplyToJob(ctx, jobID, app); err != nil {
		switch {
		case errors.Is(err, store.ErrFull):
			return store.Job{}, ErrJobFilled
		case errors.Is(err, store.ErrExists):
			return store.Job{}, ErrAlreadySigned
		case errors.Is(err, store.ErrNotFound):
			return store.Job{}, ErrJobNotFound
		default:
			return store.Job{}, backendError(err)
		}
	}

	updated, err := s.job(ctx, jobID)
	if err != nil {
		return store.Job{}, err
	}
	log.Printf("[INFO] %s applied to job %s, %d/%d", contact, jobID, len(updated.Applicants), updated.RequiredCount)
	if updated.Full() {
		s.jobFilled(ctx, updated)
	}
	return updated, nil
}

// UnapplyFromJobByContact removes applicants with the contact from the job and returns the job.
// Removing an absent contact is not an error.
func (s *Service) UnapplyFromJobByContact(ctx context.Context, jobID, contact string) (store.Job, error) {
	if _, err := s.job(ctx, jobID); err != nil {
		return store.Job{}, err
	}
	contact = strings.TrimSpace(contact)
	if contact != "" {
		if err := s.store.UnapplyFromJob(ctx, jobID, contact); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return store.Job{}, ErrJobNotFound
			}
			return store.Job{}, backendError(err)
		}
	}
	return s.job(ctx, jobID)
}

// RemoveApplicant removes applicants with the contact from a job owned by byUser and returns the job.
// Foreign jobs report ErrJobNotFound without changes.
func (s *Service) RemoveApplicant(ctx context.Context, jobID, contact, byUser string) (store.Job, error) {
	job, err := s.job(ctx, jobID)
	if err != nil {
		return store.Job{}, err
	}
	if byUser == "" || job.CreatedBy != byUser {
		log.Printf("[DEBUG] job %s is not owned by %q", jobID, byUser)
		return store.Job{}, ErrJobNotFound
	}
	return s.UnapplyFromJobByContact(ctx, jobID, contact)
}

// job reads the job freshly from the store
func (s *Service) job(ctx context.Context, id string) (store.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Job{}, ErrJobNotFound
		}
		return store.Job{}, backendError(err)
	}
	return job, nil
}

// jobFilled tells the notifier about a filled job in background, failures are only logged.
// Delivery keeps going after the request is done and is bounded by notifyTimeout.
func (s *Service) jobFilled(ctx context.Context, job store.Job) {
	if s.notifier == nil {
		return
	}
	s.notifyWg.Add(1)
	go func() {
		defer s.notifyWg.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := s.notifier.JobFilled(nctx, job); err != nil {
			log.Printf("[WARN] failed to send job filled notification for %s, %v", job.ID, err)
		}
	}()
}
