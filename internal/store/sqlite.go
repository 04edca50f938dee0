package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Lllllllleong/dossierpackager/internal/models"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrArtifactExists is returned when a dossier is already linked to another package.
var ErrArtifactExists = errors.New("dossier already has a package")

// SQLiteStore keeps dossier state in a local SQLite database. Partitions are
// modelled as the graph column on every row.
type SQLiteStore struct {
	db        *sql.DB
	path      string
	fileGraph string
}

// OpenSQLite opens or creates the database at path and applies migrations.
// fileGraph is the partition holding file and package metadata.
func OpenSQLite(ctx context.Context, path, fileGraph string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path must be provided")
	}
	if fileGraph == "" {
		return nil, errors.New("file graph must be provided")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection serializes writers; packaging is I/O bound on files,
	// not on the database.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &SQLiteStore{db: db, path: path, fileGraph: fileGraph}
	if err := s.applyMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) applyMigrations(ctx context.Context) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)"); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	for _, name := range names {
		version := strings.TrimSuffix(name, ".sql")
		var count int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
			return fmt.Errorf("scan migration version: %w", err)
		}
		if count > 0 {
			continue
		}
		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("record migration %s: %w", version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}

// SelectEligible returns sent dossiers of a packaged decision type that have no
// status yet, oldest modification first. Only dossiers stored in the graph of
// the organization they are about are returned.
func (s *SQLiteStore) SelectEligible(ctx context.Context) ([]models.Dossier, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(models.PackagedDecisionTypes)), ",")
	query := `SELECT d.uri, d.id, d.graph, d.decision_type, dt.label, auth.label, d.fiscal_year,
             d.decision_date, o.name, o.classification_label, o.kbo_number, d.modified
        FROM dossiers d
        JOIN organizations o ON o.uri = d.organization
        JOIN concepts dt ON dt.uri = d.decision_type
        LEFT JOIN concepts auth ON auth.uri = d.authenticity_type
        WHERE d.submission_status = ?
          AND d.status IS NULL
          AND d.decision_type IN (` + placeholders + `)
          AND d.graph = ? || o.uuid || ?
        ORDER BY d.modified ASC`

	args := make([]any, 0, len(models.PackagedDecisionTypes)+3)
	args = append(args, models.SubmissionStatusSent)
	for _, decisionType := range models.PackagedDecisionTypes {
		args = append(args, decisionType)
	}
	prefix, suffix := graphAffixes()
	args = append(args, prefix, suffix)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select eligible dossiers: %w", err)
	}
	defer rows.Close()

	var dossiers []models.Dossier
	for rows.Next() {
		var (
			d                                  models.Dossier
			authenticity, fiscalYear, decision sql.NullString
			modified                           string
		)
		if err := rows.Scan(&d.URI, &d.ID, &d.Graph, &d.DecisionType, &d.DecisionTypeLabel, &authenticity,
			&fiscalYear, &decision, &d.OrganizationName, &d.OrganizationClassification, &d.OrganizationKBO, &modified); err != nil {
			return nil, fmt.Errorf("scan eligible dossier: %w", err)
		}
		d.AuthenticityStatus = optionalString(authenticity)
		d.FiscalYear = optionalString(fiscalYear)
		if decision.Valid && decision.String != "" {
			date, err := parseDecisionDate(decision.String)
			if err != nil {
				slog.Warn("Skipping dossier with malformed decision date.", "dossierUri", d.URI, "graph", d.Graph, "error", err)
				continue
			}
			d.DecisionDate = &date
		}
		if d.Modified, err = parseTime(modified); err != nil {
			return nil, fmt.Errorf("dossier %s: parse modified: %w", d.ID, err)
		}
		if err := validateDossier(d); err != nil {
			slog.Warn("Skipping malformed dossier row.", "graph", d.Graph, "error", err)
			continue
		}
		dossiers = append(dossiers, d)
	}
	return dossiers, rows.Err()
}

// FetchFiles returns the files attached to a dossier within its own graph.
func (s *SQLiteStore) FetchFiles(ctx context.Context, dossier models.Dossier) ([]models.File, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT f.uri, f.filename, f.format, f.size
        FROM dossiers d
        JOIN dossier_parts p ON p.graph = d.graph AND p.dossier_uri = d.uri
        JOIN files f ON f.upload_uri = p.upload_uri AND f.graph = ?
        WHERE d.graph = ? AND d.uri = ?
        ORDER BY f.filename, f.uri`,
		s.fileGraph, dossier.Graph, dossier.URI,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch files for dossier: %w", err)
	}
	defer rows.Close()

	var files []models.File
	for rows.Next() {
		var f models.File
		if err := rows.Scan(&f.URI, &f.Filename, &f.Format, &f.Size); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// IsRunning reports whether any dossier, in any graph, is being packaged.
func (s *SQLiteStore) IsRunning(ctx context.Context) (bool, error) {
	var running bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM dossiers WHERE status = ?)`,
		models.StatusProcessing,
	).Scan(&running)
	if err != nil {
		return false, fmt.Errorf("query running dossiers: %w", err)
	}
	return running, nil
}

// UpdateStatus replaces the status and modified timestamp of a dossier.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, dossier models.Dossier, status models.Status) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return setStatus(ctx, tx, dossier, status)
	})
}

// Claim moves an unset dossier to processing. It fails with
// ErrInvalidTransition when the dossier already has a status.
func (s *SQLiteStore) Claim(ctx context.Context, dossier models.Dossier) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		current, _, err := currentState(ctx, tx, dossier)
		if err != nil {
			return err
		}
		if err := CheckClaim(current); err != nil {
			return fmt.Errorf("dossier %s: %w", dossier.ID, err)
		}
		return setStatus(ctx, tx, dossier, models.StatusProcessing)
	})
}

// RegisterArtifact records a package in the file graph and links it to the dossier.
func (s *SQLiteStore) RegisterArtifact(ctx context.Context, dossier models.Dossier, artifact models.PackageArtifact) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.insertArtifact(ctx, tx, dossier, artifact)
	})
}

// CompletePackaging registers the artifact and marks the dossier packaged in
// a single transaction.
func (s *SQLiteStore) CompletePackaging(ctx context.Context, dossier models.Dossier, artifact models.PackageArtifact) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := setStatus(ctx, tx, dossier, models.StatusPackaged); err != nil {
			return err
		}
		return s.insertArtifact(ctx, tx, dossier, artifact)
	})
}

// ResetStuckProcessing clears the status of every dossier left in processing.
func (s *SQLiteStore) ResetStuckProcessing(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE dossiers SET status = NULL WHERE status = ?`, models.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("reset stuck dossiers: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func currentState(ctx context.Context, tx *sql.Tx, dossier models.Dossier) (models.Status, string, error) {
	var status, packageURI sql.NullString
	err := tx.QueryRowContext(ctx,
		`SELECT status, package_uri FROM dossiers WHERE graph = ? AND uri = ?`,
		dossier.Graph, dossier.URI,
	).Scan(&status, &packageURI)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("%w: %s in <%s>", ErrNotFound, dossier.URI, dossier.Graph)
	}
	if err != nil {
		return "", "", fmt.Errorf("read dossier status: %w", err)
	}
	return models.Status(status.String), packageURI.String, nil
}

func setStatus(ctx context.Context, tx *sql.Tx, dossier models.Dossier, status models.Status) error {
	current, _, err := currentState(ctx, tx, dossier)
	if err != nil {
		return err
	}
	if err := CheckTransition(current, status); err != nil {
		return fmt.Errorf("dossier %s: %w", dossier.ID, err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE dossiers SET status = ?, modified = ? WHERE graph = ? AND uri = ?`,
		string(status), formatTime(time.Now()), dossier.Graph, dossier.URI,
	)
	if err != nil {
		return fmt.Errorf("update dossier status: %w", err)
	}
	return nil
}

func (s *SQLiteStore) insertArtifact(ctx context.Context, tx *sql.Tx, dossier models.Dossier, artifact models.PackageArtifact) error {
	if err := validateArtifact(artifact); err != nil {
		return err
	}
	status, linked, err := currentState(ctx, tx, dossier)
	if err != nil {
		return err
	}
	if status != models.StatusProcessing && status != models.StatusPackaged {
		return fmt.Errorf("%w: cannot attach a package to dossier %s in status %s", ErrInvalidTransition, dossier.ID, statusName(status))
	}
	if linked != "" && linked != artifact.URI {
		return fmt.Errorf("%w: %s is linked to %s", ErrArtifactExists, dossier.ID, linked)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO packages (graph, uri, id, filename, format, file_extension, created)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT DO NOTHING`,
		s.fileGraph, artifact.URI, artifact.ID, artifact.Filename,
		models.PackageFormat, models.PackageExtension, formatTime(artifact.Created),
	)
	if err != nil {
		return fmt.Errorf("insert package: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE dossiers SET package_uri = ? WHERE graph = ? AND uri = ?`,
		artifact.URI, dossier.Graph, dossier.URI,
	)
	if err != nil {
		return fmt.Errorf("link package to dossier: %w", err)
	}
	return nil
}

func optionalString(value sql.NullString) *string {
	if !value.Valid || value.String == "" {
		return nil
	}
	v := value.String
	return &v
}

func graphAffixes() (string, string) {
	graph := models.OrganizationGraph("|")
	prefix, suffix, _ := strings.Cut(graph, "|")
	return prefix, suffix
}
