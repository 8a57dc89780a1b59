package board

import (
	"context"

	"github.com/umputun/laborportal/app/store"
)

// OpenJobs returns jobs with free slots, newest first
func (s *Service) OpenJobs(ctx context.Context) ([]store.Job, error) {
	return s.query(ctx, store.JobFilter{OpenOnly: true})
}

// JobsForRecruiter returns jobs created by username, newest first
func (s *Service) JobsForRecruiter(ctx context.Context, username string) ([]store.Job, error) {
	if username == "" {
		return []store.Job{}, nil
	}
	return s.query(ctx, store.JobFilter{CreatedBy: username})
}

// JobsForLaborer returns jobs username applied to, matching applicant contact or legacy user
func (s *Service) JobsForLaborer(ctx context.Context, username string) ([]store.Job, error) {
	if username == "" {
		return []store.Job{}, nil
	}
	return s.query(ctx, store.JobFilter{Applicant: username})
}

// AllJobs returns every job, newest first
func (s *Service) AllJobs(ctx context.Context) ([]store.Job, error) {
	return s.query(ctx, store.JobFilter{})
}

// query runs the filter on the store and once more on the result, so views don't depend
// on how much of the filter a backend applies itself
func (s *Service) query(ctx context.Context, f store.JobFilter) ([]store.Job, error) {
	jobs, err := s.store.QueryJobs(ctx, f)
	if err != nil {
		return nil, backendError(err)
	}
	return store.FilterJobs(jobs, f), nil
}
