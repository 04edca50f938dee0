package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Lllllllleong/dossierpackager/internal/models"
)

// The writes in this file stand in for the upstream submission flow that
// creates dossiers; the packager itself never calls them.

// Organization is an administrative unit owning a dossier partition.
type Organization struct {
	URI            string
	UUID           string
	Name           string
	KBO            string
	Classification string
}

// Submission is a dossier as created by the submission flow.
type Submission struct {
	Graph            string
	URI              string
	ID               string
	SubmissionStatus string
	DecisionType     string
	Organization     string
	AuthenticityType string
	FiscalYear       string
	DecisionDate     string
	Modified         time.Time
}

// Attachment is a file uploaded as part of a submission.
type Attachment struct {
	UploadURI string
	File      models.File
}

// DossierState is the packaging state of a dossier as seen by an observer.
type DossierState struct {
	Status     models.Status
	PackageURI string
	Modified   time.Time
}

// PutOrganization inserts or replaces an organization in the public graph.
func (s *SQLiteStore) PutOrganization(ctx context.Context, org Organization) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO organizations (uri, uuid, name, kbo_number, classification_label)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (uri) DO UPDATE SET uuid = excluded.uuid, name = excluded.name,
            kbo_number = excluded.kbo_number, classification_label = excluded.classification_label`,
		org.URI, org.UUID, org.Name, org.KBO, org.Classification,
	)
	if err != nil {
		return fmt.Errorf("put organization: %w", err)
	}
	return nil
}

// PutConcept inserts or replaces the preferred label of a concept.
func (s *SQLiteStore) PutConcept(ctx context.Context, uri, label string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO concepts (uri, label) VALUES (?, ?)
        ON CONFLICT (uri) DO UPDATE SET label = excluded.label`,
		uri, label,
	)
	if err != nil {
		return fmt.Errorf("put concept: %w", err)
	}
	return nil
}

// PutSubmission inserts a dossier without a packaging status.
func (s *SQLiteStore) PutSubmission(ctx context.Context, sub Submission) error {
	if sub.Modified.IsZero() {
		sub.Modified = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dossiers (graph, uri, id, submission_status, decision_type, organization,
            authenticity_type, fiscal_year, decision_date, modified)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.Graph, sub.URI, sub.ID, sub.SubmissionStatus, sub.DecisionType, sub.Organization,
		nullable(sub.AuthenticityType), nullable(sub.FiscalYear), nullable(sub.DecisionDate),
		formatTime(sub.Modified),
	)
	if err != nil {
		return fmt.Errorf("put submission: %w", err)
	}
	return nil
}

// Attach links an uploaded file to a dossier and records its metadata in the file graph.
func (s *SQLiteStore) Attach(ctx context.Context, graph, dossierURI string, attachment Attachment) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dossier_parts (graph, dossier_uri, upload_uri) VALUES (?, ?, ?)`,
			graph, dossierURI, attachment.UploadURI,
		); err != nil {
			return fmt.Errorf("link attachment: %w", err)
		}
		f := attachment.File
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO files (graph, uri, upload_uri, filename, format, size) VALUES (?, ?, ?, ?, ?, ?)`,
			s.fileGraph, f.URI, attachment.UploadURI, f.Filename, f.Format, f.Size,
		); err != nil {
			return fmt.Errorf("insert file metadata: %w", err)
		}
		return nil
	})
}

// State returns the packaging state of a dossier in its graph.
func (s *SQLiteStore) State(ctx context.Context, graph, dossierURI string) (DossierState, error) {
	var (
		status, packageURI sql.NullString
		modified           string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT status, package_uri, modified FROM dossiers WHERE graph = ? AND uri = ?`,
		graph, dossierURI,
	).Scan(&status, &packageURI, &modified)
	if errors.Is(err, sql.ErrNoRows) {
		return DossierState{}, fmt.Errorf("%w: %s in <%s>", ErrNotFound, dossierURI, graph)
	}
	if err != nil {
		return DossierState{}, fmt.Errorf("read dossier state: %w", err)
	}
	state := DossierState{Status: models.Status(status.String), PackageURI: packageURI.String}
	if state.Modified, err = parseTime(modified); err != nil {
		return DossierState{}, fmt.Errorf("parse modified: %w", err)
	}
	return state, nil
}

// Artifact returns the registered metadata of a package, or nil when none exists.
func (s *SQLiteStore) Artifact(ctx context.Context, uri string) (*models.PackageArtifact, error) {
	var (
		artifact models.PackageArtifact
		created  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT uri, id, filename, created FROM packages WHERE graph = ? AND uri = ?`,
		s.fileGraph, uri,
	).Scan(&artifact.URI, &artifact.ID, &artifact.Filename, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read package: %w", err)
	}
	if artifact.Created, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse package creation time: %w", err)
	}
	return &artifact, nil
}

// CountArtifacts returns the number of registered packages.
func (s *SQLiteStore) CountArtifacts(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM packages WHERE graph = ?`, s.fileGraph).Scan(&count); err != nil {
		return 0, fmt.Errorf("count packages: %w", err)
	}
	return count, nil
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
