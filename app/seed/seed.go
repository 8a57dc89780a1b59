// Package seed fills an empty board with demo jobs from a yaml file
package seed

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	log "github.com/go-pkgz/lgr"
	"gopkg.in/yaml.v3"

	"github.com/umputun/laborportal/app/board"
	"github.com/umputun/laborportal/app/store"
)

//go:embed jobs.yml
var defaultJobs []byte

// Board is the subset of board.Service used by the seeder
type Board interface {
	AllJobs(ctx context.Context) ([]store.Job, error)
	AddJob(ctx context.Context, req board.JobRequest) (store.Job, error)
}

// Seeder adds jobs from the file (or the embedded demo set) to a board without jobs
type Seeder struct {
	Board Board
	File  string // optional yaml file, embedded demo jobs if empty
	Now   func() time.Time
}

// File is the yaml layout of seed jobs
type File struct {
	Jobs []Job `yaml:"jobs"`
}

// Job is a single seed job. StartsIn is the start time relative to seeding.
type Job struct {
	Title         string        `yaml:"title"`
	Description   string        `yaml:"description"`
	PricePerHour  float64       `yaml:"price_per_hour"`
	RequiredCount int           `yaml:"required_count"`
	CreatedBy     string        `yaml:"created_by"`
	Location      string        `yaml:"location"`
	StartsIn      time.Duration `yaml:"starts_in"`
}

// Seed adds jobs if the board has none, returns the number of added jobs
func (s *Seeder) Seed(ctx context.Context) (int, error) {
	existing, err := s.Board.AllJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to check existing jobs: %w", err)
	}
	if len(existing) > 0 {
		log.Printf("[DEBUG] board has %d jobs, seeding skipped", len(existing))
		return 0, nil
	}

	f, err := s.load()
	if err != nil {
		return 0, err
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	for i, j := range f.Jobs {
		req := board.JobRequest{
			Title:         j.Title,
			Description:   j.Description,
			Price:         strconv.FormatFloat(j.PricePerHour, 'f', -1, 64),
			RequiredCount: strconv.Itoa(j.RequiredCount),
			Location:      j.Location,
			CreatedBy:     j.CreatedBy,
		}
		if j.StartsIn > 0 {
			req.StartDateTime = now().Add(j.StartsIn).UTC().Format(time.RFC3339)
		}
		if _, err := s.Board.AddJob(ctx, req); err != nil {
			return i, fmt.Errorf("failed to seed job %q: %w", j.Title, err)
		}
	}
	log.Printf("[INFO] seeded %d jobs", len(f.Jobs))
	return len(f.Jobs), nil
}

func (s *Seeder) load() (File, error) {
	data := defaultJobs
	if s.File != "" {
		b, err := os.ReadFile(s.File)
		if err != nil {
			return File{}, fmt.Errorf("failed to read seed file %s: %w", s.File, err)
		}
		data = b
	}
	var res File
	if err := yaml.Unmarshal(data, &res); err != nil {
		return File{}, fmt.Errorf("failed to parse seed jobs: %w", err)
	}
	return res, nil
}
