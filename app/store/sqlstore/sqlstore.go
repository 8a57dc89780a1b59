// Package sqlstore implements store.Store on a SQL database with sqlx.
// Two engines are supported: SQLite (modernc driver, WAL mode) for a single node
// and PostgreSQL (pgx stdlib driver) for shared deployments. Queries are written
// with "?" placeholders and rebound for the engine. Job, applicant, laborer and credential tables
// follow the shared board schema, sessions are kept in an extra table with unix millisecond times.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/umputun/laborportal/app/store"
)

// Engine is a supported database engine
type Engine string

// enum of engines
const (
	EngineSQLite   Engine = "sqlite"
	EnginePostgres Engine = "postgres"
)

// Store implements store.Store with a SQL database
type Store struct {
	db     *sqlx.DB
	engine Engine
}

type jobRow struct {
	ID            string    `db:"id"`
	Title         string    `db:"title"`
	Description   string    `db:"description"`
	PricePerHour  float64   `db:"price_per_hour"`
	RequiredCount int       `db:"required_count"`
	CreatedBy     string    `db:"created_by"`
	Location      string    `db:"location"`
	StartDateTime string    `db:"start_datetime"`
	CreatedAt     time.Time `db:"created_at"`
}

type applicantRow struct {
	ID        string       `db:"id"`
	JobID     string       `db:"job_id"`
	Name      string       `db:"name"`
	Contact   string       `db:"contact"`
	CreatedAt sql.NullTime `db:"created_at"`
}

type sessionRow struct {
	Username  string `db:"username"`
	Role      string `db:"role"`
	Name      string `db:"name"`
	Contact   string `db:"contact"`
	CreatedAt int64  `db:"created_at"`
}

const jobColumns = "id, title, description, price_per_hour, required_count, created_by, location, start_datetime, created_at"

const applicantColumns = "id, job_id, name, contact, created_at"

// EngineOf detects the engine from dsn. postgres:// and postgresql:// urls select PostgreSQL,
// everything else is a SQLite file path.
func EngineOf(dsn string) Engine {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return EnginePostgres
	}
	return EngineSQLite
}

// New opens the database at dsn and creates the schema if missing
func New(ctx context.Context, dsn string) (*Store, error) {
	engine := EngineOf(dsn)
	var db *sqlx.DB
	var err error
	switch engine {
	case EnginePostgres:
		db, err = sqlx.ConnectContext(ctx, "pgx", dsn)
	default:
		db, err = openSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"))
	}
	if err != nil {
		return nil, err
	}

	res := &Store{db: db, engine: engine}
	if err := res.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("%w (also failed to close db: %v)", err, closeErr)
		}
		return nil, err
	}
	log.Printf("[DEBUG] sql store opened, engine %s", engine)
	return res, nil
}

func openSQLite(ctx context.Context, path string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// single writer, transactions are serialized by the pool
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			if closeErr := db.Close(); closeErr != nil {
				return nil, fmt.Errorf("failed to set %q: %w (also failed to close db: %v)", pragma, err, closeErr)
			}
			return nil, fmt.Errorf("failed to set %q: %w", pragma, err)
		}
	}
	return db, nil
}

func (s *Store) initialize(ctx context.Context) error {
	// TIMESTAMP makes the sqlite driver return time.Time for the column
	tsType := "TIMESTAMP"
	if s.engine == EnginePostgres {
		tsType = "TIMESTAMPTZ"
	}
	queries := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			price_per_hour DOUBLE PRECISION NOT NULL DEFAULT 0,
			required_count INTEGER NOT NULL,
			created_by TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			start_datetime TEXT NOT NULL DEFAULT '',
			created_at ` + tsType + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS applicants (
			id TEXT NOT NULL,
			job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			contact TEXT NOT NULL DEFAULT '',
			created_at ` + tsType + `,
			PRIMARY KEY (job_id, id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_applicants_contact ON applicants(job_id, contact) WHERE contact <> ''`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created_by ON jobs(created_by)`,
		`CREATE TABLE IF NOT EXISTS laborers (
			contact TEXT PRIMARY KEY,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS recruiter_auth (
			email TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			sid TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			role TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			contact TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at)`,
	}
	if s.engine == EnginePostgres {
		// at most one credential row across concurrent writers, sqlite has a single writer connection
		queries = append(queries, `CREATE UNIQUE INDEX IF NOT EXISTS idx_recruiter_auth_single ON recruiter_auth ((true))`)
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// Engine returns the engine of the store
func (s *Store) Engine() Engine { return s.engine }

// GetSession returns the session stored for sid
func (s *Store) GetSession(ctx context.Context, sid string) (store.Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row,
		s.db.Rebind(`SELECT username, role, name, contact, created_at FROM sessions WHERE sid = ?`), sid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Session{}, store.ErrNotFound
		}
		return store.Session{}, fmt.Errorf("failed to get session: %w", err)
	}
	return store.Session{Username: row.Username, Role: store.Role(row.Role), Name: row.Name,
		Contact: row.Contact, CreatedAt: fromMillis(row.CreatedAt)}, nil
}

// SetSession replaces the session of sid
func (s *Store) SetSession(ctx context.Context, sid string, sess store.Session) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO sessions (sid, username, role, name, contact, created_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (sid) DO UPDATE SET username = excluded.username, role = excluded.role,
			name = excluded.name, contact = excluded.contact, created_at = excluded.created_at`),
		sid, sess.Username, string(sess.Role), sess.Name, sess.Contact, toMillis(sess.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to set session: %w", err)
	}
	return nil
}

// ClearSession removes the session of sid
func (s *Store) ClearSession(ctx context.Context, sid string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM sessions WHERE sid = ?`), sid); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// PurgeSessions removes sessions created before olderThan
func (s *Store) PurgeSessions(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM sessions WHERE created_at < ?`), olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged sessions: %w", err)
	}
	return int(n), nil
}

// GetCredential returns the recruiter credential
func (s *Store) GetCredential(ctx context.Context) (store.Credential, error) {
	var row struct {
		Email string `db:"email"`
		Hash  string `db:"password_hash"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT email, password_hash FROM recruiter_auth LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Credential{}, store.ErrNotFound
		}
		return store.Credential{}, fmt.Errorf("failed to get credential: %w", err)
	}
	return store.Credential{Email: row.Email, PasswordHash: row.Hash}, nil
}

// CreateCredential stores the recruiter credential unless one exists already, the first writer wins
func (s *Store) CreateCredential(ctx context.Context, cred store.Credential) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO recruiter_auth (email, password_hash) SELECT ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM recruiter_auth)`),
		cred.Email, cred.PasswordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrExists
		}
		return fmt.Errorf("failed to create credential: %w", err)
	}
	return insertedOrExists(res)
}

// GetLaborer returns the laborer registered with contact
func (s *Store) GetLaborer(ctx context.Context, contact string) (store.Laborer, error) {
	var row struct {
		Contact string `db:"contact"`
		Name    string `db:"name"`
	}
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT contact, name FROM laborers WHERE contact = ?`), contact)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Laborer{}, store.ErrNotFound
		}
		return store.Laborer{}, fmt.Errorf("failed to get laborer: %w", err)
	}
	return store.Laborer{Contact: row.Contact, Name: row.Name}, nil
}

// CreateLaborer registers a laborer unless the contact is registered already.
// Registration time is not part of the laborers table.
func (s *Store) CreateLaborer(ctx context.Context, lab store.Laborer) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO laborers (contact, name) VALUES (?, ?) ON CONFLICT (contact) DO NOTHING`),
		lab.Contact, lab.Name)
	if err != nil {
		return fmt.Errorf("failed to create laborer: %w", err)
	}
	return insertedOrExists(res)
}

// AddJob inserts a new job, applicants of the job are ignored
func (s *Store) AddJob(ctx context.Context, job store.Job) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		job.ID, job.Title, job.Description, job.PricePerHour, job.RequiredCount, job.CreatedBy,
		job.Location, job.StartDateTime, job.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrExists
		}
		return fmt.Errorf("failed to add job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob returns a single job with applicants
func (s *Store) GetJob(ctx context.Context, id string) (store.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Job{}, store.ErrNotFound
		}
		return store.Job{}, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	apps, err := s.applicants(ctx, []string{id})
	if err != nil {
		return store.Job{}, err
	}
	return row.job(apps[id]), nil
}

// DeleteJob removes the job together with its applicants. Applicants are removed explicitly
// in the same transaction as sqlite enforces the cascade only with foreign_keys enabled.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM applicants WHERE job_id = ?`), id); err != nil {
			return fmt.Errorf("failed to delete applicants of %s: %w", id, err)
		}
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM jobs WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("failed to delete job %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to count deleted jobs: %w", err)
		}
		if n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

// ApplyToJob inserts the applicant in a transaction. The job row is locked on PostgreSQL,
// SQLite serializes writers itself. Capacity and contact uniqueness are checked inside the transaction.
func (s *Store) ApplyToJob(ctx context.Context, jobID string, app store.Applicant) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		query := `SELECT required_count FROM jobs WHERE id = ?`
		if s.engine == EnginePostgres {
			query += ` FOR UPDATE`
		}
		var required int
		if err := tx.GetContext(ctx, &required, tx.Rebind(query), jobID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return fmt.Errorf("failed to lock job %s: %w", jobID, err)
		}

		var count int
		if err := tx.GetContext(ctx, &count, tx.Rebind(`SELECT COUNT(*) FROM applicants WHERE job_id = ?`), jobID); err != nil {
			return fmt.Errorf("failed to count applicants of %s: %w", jobID, err)
		}
		if count >= required {
			return store.ErrFull
		}

		if app.Contact != "" {
			var dups int
			err := tx.GetContext(ctx, &dups,
				tx.Rebind(`SELECT COUNT(*) FROM applicants WHERE job_id = ? AND contact = ?`), jobID, app.Contact)
			if err != nil {
				return fmt.Errorf("failed to check applicant of %s: %w", jobID, err)
			}
			if dups > 0 {
				return store.ErrExists
			}
		}

		_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO applicants (`+applicantColumns+`) VALUES (?, ?, ?, ?, ?)`),
			app.ID, jobID, app.Name, app.Contact, nullTime(app.AppliedAt))
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrExists
			}
			return fmt.Errorf("failed to insert applicant of %s: %w", jobID, err)
		}
		return nil
	})
}

// UnapplyFromJob removes applicants with the contact, a missing applicant is not an error
func (s *Store) UnapplyFromJob(ctx context.Context, jobID, contact string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var exists int
		if err := tx.GetContext(ctx, &exists, tx.Rebind(`SELECT COUNT(*) FROM jobs WHERE id = ?`), jobID); err != nil {
			return fmt.Errorf("failed to check job %s: %w", jobID, err)
		}
		if exists == 0 {
			return store.ErrNotFound
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM applicants WHERE job_id = ? AND contact = ?`), jobID, contact)
		if err != nil {
			return fmt.Errorf("failed to remove applicant of %s: %w", jobID, err)
		}
		return nil
	})
}

// QueryJobs returns jobs matching the filter, newest first. Owner filter is applied in sql,
// the rest is applied to loaded jobs.
func (s *Store) QueryJobs(ctx context.Context, f store.JobFilter) ([]store.Job, error) {
	query, args := `SELECT `+jobColumns+` FROM jobs`, []any{}
	if f.CreatedBy != "" {
		query += ` WHERE created_by = ?`
		args = append(args, f.CreatedBy)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows := []jobRow{}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	if len(rows) == 0 {
		return []store.Job{}, nil
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	apps, err := s.applicants(ctx, ids)
	if err != nil {
		return nil, err
	}

	jobs := make([]store.Job, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, r.job(apps[r.ID]))
	}
	return store.FilterJobs(jobs, f), nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// applicants loads applicants of the given jobs grouped by job id, in application order
func (s *Store) applicants(ctx context.Context, jobIDs []string) (map[string][]store.Applicant, error) {
	query, args, err := sqlx.In(`SELECT `+applicantColumns+` FROM applicants WHERE job_id IN (?) ORDER BY created_at, id`, jobIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build applicants query: %w", err)
	}
	rows := []applicantRow{}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query applicants: %w", err)
	}
	res := make(map[string][]store.Applicant, len(jobIDs))
	for _, r := range rows {
		app := store.Applicant{ID: r.ID, Name: r.Name, Contact: r.Contact}
		if r.CreatedAt.Valid {
			app.AppliedAt = r.CreatedAt.Time
		}
		res[r.JobID] = append(res[r.JobID], app)
	}
	return res, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Printf("[WARN] failed to rollback: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r jobRow) job(apps []store.Applicant) store.Job {
	createdAt := r.CreatedAt.Local()
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

func insertedOrExists(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return store.ErrExists
	}
	return nil
}

// isUniqueViolation detects unique constraint errors of both engines
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// nullTime stores zero time as NULL
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromMillis(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}
