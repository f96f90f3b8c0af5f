// Package storage archives raw topic observations and computed flow responses in a
// relational database. SQLite (modernc.org/sqlite, pure Go) is the default; PostgreSQL
// is reached through the pgx database/sql driver.
//
// Timestamps are stored as Unix nanoseconds so both engines compare them the same way.
// Old rows are removed with Prune according to the configured retention.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "modernc.org/sqlite"             // SQLite driver

	"github.com/rewired-gh/observatory/internal/models"
	"github.com/rewired-gh/observatory/internal/storage/migrations"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Storage is a database/sql backed archive. It is safe for concurrent use.
type Storage struct {
	db     *sql.DB
	driver string
}

// New opens the database and applies pending migrations. For SQLite an empty dsn
// uses a file under the OS temp directory and ":memory:" an in-memory database.
func New(driver, dsn string) (*Storage, error) {
	var db *sql.DB
	var err error

	switch driver {
	case "", DriverSQLite:
		driver = DriverSQLite
		if dsn == "" {
			dsn = filepath.Join(os.TempDir(), "observatory", "observatory.db")
		}
		if dsn == ":memory:" {
			db, err = sql.Open("sqlite", dsn)
			if err == nil {
				// every connection would otherwise see its own empty database
				db.SetMaxOpenConns(1)
			}
		} else {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
			db, err = sql.Open("sqlite", dsn+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
		}
	case DriverPostgres:
		if dsn == "" {
			return nil, errors.New("postgres storage requires a dsn")
		}
		db, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Storage{db: db, driver: driver}
	if err := s.migrate(migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) migrate(fsys fs.FS) error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at BIGINT NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	var files []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		for _, stmt := range strings.Split(string(content), ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("failed to apply migration %s: %w", name, err)
			}
		}
		if _, err := s.db.Exec(s.rebind("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)"),
			version, time.Now().UnixNano()); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", name, err)
		}
	}
	return nil
}

// rebind converts ? placeholders into $N for PostgreSQL.
func (s *Storage) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// AddObservations stores a batch in one transaction. Observations without an ID get
// a fresh UUID; duplicates by ID are ignored. It returns the number of new rows.
func (s *Storage) AddObservations(ctx context.Context, obs []models.TopicObservation) (int, error) {
	for i := range obs {
		if err := obs[i].Validate(); err != nil {
			return 0, fmt.Errorf("invalid observation %d: %w", i, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO observations
		(id, country_code, raw_label, source, observed_at, mention_count, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range obs {
		o := &obs[i]
		if o.ID == "" {
			o.ID = uuid.New().String()
		}
		res, err := stmt.ExecContext(ctx, o.ID, o.CountryCode, o.RawLabel, string(o.Source),
			o.ObservedAt.UnixNano(), o.MentionCount, o.Confidence)
		if err != nil {
			return 0, fmt.Errorf("failed to insert observation %s: %w", o.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit observations: %w", err)
	}
	return inserted, nil
}

// ObservationsInWindow returns the observations of one country with observed_at in
// [since, until], oldest first.
func (s *Storage) ObservationsInWindow(ctx context.Context, country string, since, until time.Time) ([]models.TopicObservation, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, country_code, raw_label, source, observed_at, mention_count, confidence
		FROM observations
		WHERE country_code = ? AND observed_at >= ? AND observed_at <= ?
		ORDER BY observed_at, id`), country, since.UnixNano(), until.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	out := []models.TopicObservation{}
	for rows.Next() {
		var o models.TopicObservation
		var source string
		var observedAt int64
		if err := rows.Scan(&o.ID, &o.CountryCode, &o.RawLabel, &source, &observedAt, &o.MentionCount, &o.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		o.Source = models.Source(source)
		o.ObservedAt = time.Unix(0, observedAt).UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}

// ActiveCountries lists the countries with at least one observation in [since, until].
func (s *Storage) ActiveCountries(ctx context.Context, since, until time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT DISTINCT country_code FROM observations
		WHERE observed_at >= ? AND observed_at <= ?
		ORDER BY country_code`), since.UnixNano(), until.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query countries: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan country: %w", err)
		}
		out = append(out, code)
	}
	return out, rows.Err()
}

// ArchiveResponse stores a computed response under its cache key.
func (s *Storage) ArchiveResponse(ctx context.Context, key string, resp *models.FlowsResponse) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO flow_responses
		(id, cache_key, time_window, generated_at, partial, flow_count, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		uuid.New().String(), key, string(resp.TimeWindow), resp.GeneratedAt.UnixNano(),
		resp.Partial, len(resp.Flows), string(payload))
	if err != nil {
		return fmt.Errorf("failed to archive response: %w", err)
	}
	return nil
}

// LatestResponse returns the most recently generated archived response for key,
// or nil when none exists.
func (s *Storage) LatestResponse(ctx context.Context, key string) (*models.FlowsResponse, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT payload FROM flow_responses
		WHERE cache_key = ? ORDER BY generated_at DESC LIMIT 1`), key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query archived response: %w", err)
	}
	var resp models.FlowsResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal archived response: %w", err)
	}
	return &resp, nil
}

// RecordIngestFailure stores a failed collection of one country.
func (s *Storage) RecordIngestFailure(ctx context.Context, country string, at time.Time, cause error) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO ingest_failures (id, country_code, failed_at, message)
		VALUES (?, ?, ?, ?)`), uuid.New().String(), country, at.UnixNano(), cause.Error())
	if err != nil {
		return fmt.Errorf("failed to record ingest failure: %w", err)
	}
	return nil
}

// IngestFailures returns the latest failure of every country that failed in
// [since, until], ordered by country.
func (s *Storage) IngestFailures(ctx context.Context, since, until time.Time) ([]models.IngestFailure, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT country_code, failed_at, message FROM ingest_failures
		WHERE failed_at >= ? AND failed_at <= ?
		ORDER BY country_code, failed_at DESC`), since.UnixNano(), until.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query ingest failures: %w", err)
	}
	defer rows.Close()

	var out []models.IngestFailure
	for rows.Next() {
		var f models.IngestFailure
		var failedAt int64
		if err := rows.Scan(&f.Country, &failedAt, &f.Message); err != nil {
			return nil, fmt.Errorf("failed to scan ingest failure: %w", err)
		}
		if len(out) > 0 && out[len(out)-1].Country == f.Country {
			continue
		}
		f.FailedAt = time.Unix(0, failedAt).UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

// Prune deletes observations observed, responses generated and ingest failures
// recorded before cutoff.
func (s *Storage) Prune(ctx context.Context, cutoff time.Time) (observations, responses int64, err error) {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM observations WHERE observed_at < ?"), cutoff.UnixNano())
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prune observations: %w", err)
	}
	observations, _ = res.RowsAffected()

	res, err = s.db.ExecContext(ctx, s.rebind("DELETE FROM flow_responses WHERE generated_at < ?"), cutoff.UnixNano())
	if err != nil {
		return observations, 0, fmt.Errorf("failed to prune responses: %w", err)
	}
	responses, _ = res.RowsAffected()

	if _, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM ingest_failures WHERE failed_at < ?"), cutoff.UnixNano()); err != nil {
		return observations, responses, fmt.Errorf("failed to prune ingest failures: %w", err)
	}
	return observations, responses, nil
}
