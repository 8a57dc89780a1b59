package board

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/laborportal/app/store"
)

// JobRequest is a new job as submitted. Price and RequiredCount keep the text form of forms
// and loosely typed clients, they are coerced to numbers by AddJob.
type JobRequest struct {
	Title         string
	Description   string
	Price         string
	RequiredCount string
	Location      string
	StartDateTime string
	CreatedBy     string
}

// AddJob validates the request and stores a new job without applicants
func (s *Service) AddJob(ctx context.Context, req JobRequest) (store.Job, error) {
	job := store.Job{
		ID:            s.newID(),
		Title:         strings.TrimSpace(req.Title),
		Description:   strings.TrimSpace(req.Description),
		CreatedBy:     strings.TrimSpace(req.CreatedBy),
		Location:      strings.TrimSpace(req.Location),
		StartDateTime: strings.TrimSpace(req.StartDateTime),
		CreatedAt:     s.now(),
		Applicants:    []store.Applicant{},
	}
	if job.Title == "" {
		return store.Job{}, invalidJob("Title is required")
	}
	if job.CreatedBy == "" {
		return store.Job{}, invalidJob("Job owner is required")
	}

	var err error
	if job.PricePerHour, err = parsePrice(req.Price); err != nil {
		return store.Job{}, err
	}
	if job.RequiredCount, err = parseCount(req.RequiredCount); err != nil {
		return store.Job{}, err
	}

	if err := s.store.AddJob(ctx, job); err != nil {
		return store.Job{}, backendError(err)
	}
	log.Printf("[INFO] job %s %q added by %s", job.ID, job.Title, job.CreatedBy)
	return job, nil
}

// DeleteJob removes the job with its applicants if byUser owns it.
// Missing and foreign jobs report false without changes.
func (s *Service) DeleteJob(ctx context.Context, id, byUser string) (bool, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, backendError(err)
	}
	if byUser == "" || job.CreatedBy != byUser {
		log.Printf("[DEBUG] job %s is not owned by %q", id, byUser)
		return false, nil
	}
	if err := s.store.DeleteJob(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, backendError(err)
	}
	log.Printf("[INFO] job %s deleted by %s", id, byUser)
	return true, nil
}

// parsePrice coerces price text to a non-negative number, empty is zero
func parsePrice(v string) (float64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, nil
	}
	res, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(res) || math.IsInf(res, 0) {
		return 0, invalidJob("Price must be a number")
	}
	if res < 0 {
		return 0, invalidJob("Price must not be negative")
	}
	return res, nil
}

// parseCount coerces count text to a positive integer, "5.0" is accepted as 5
func parseCount(v string) (int, error) {
	res, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || res != math.Trunc(res) || res > math.MaxInt32 {
		return 0, invalidJob("Required count must be a whole number")
	}
	if res < 1 {
		return 0, invalidJob("Required count must be at least 1")
	}
	return int(res), nil
}
