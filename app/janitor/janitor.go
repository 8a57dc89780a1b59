// Package janitor runs periodic housekeeping of the board on a cron schedule
package janitor

import (
	"context"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/robfig/cron/v3"
)

// Purger removes expired sessions
type Purger interface {
	PurgeExpiredSessions(ctx context.Context) (int, error)
}

// Janitor purges expired sessions on schedule
type Janitor struct {
	Purger   Purger
	Schedule string        // cron spec, "@every 10m" if empty
	Timeout  time.Duration // limit of a single run

	cron *cron.Cron
}

// Run starts scheduled runs and blocks until ctx is done
func (j *Janitor) Run(ctx context.Context) error {
	spec := j.Schedule
	if spec == "" {
		spec = "@every 10m"
	}
	if j.Timeout <= 0 {
		j.Timeout = time.Minute
	}

	j.cron = cron.New()
	if _, err := j.cron.AddFunc(spec, func() { j.purge(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule janitor with %q: %w", spec, err)
	}
	log.Printf("[INFO] session janitor started, schedule %q", spec)
	j.cron.Start()

	<-ctx.Done()
	stopCtx := j.cron.Stop()
	<-stopCtx.Done()
	log.Printf("[INFO] session janitor stopped")
	return ctx.Err()
}

func (j *Janitor) purge(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, j.Timeout)
	defer cancel()
	n, err := j.Purger.PurgeExpiredSessions(ctx)
	if err != nil {
		log.Printf("[WARN] failed to purge sessions, %v", err)
		return
	}
	if n > 0 {
		log.Printf("[INFO] purged %d expired sessions", n)
	}
}
