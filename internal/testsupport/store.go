// Package testsupport holds fixtures shared by package tests.
package testsupport

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/dossierpackager/internal/models"
	"github.com/Lllllllleong/dossierpackager/internal/store"
)

// Fixture concepts seeded by SeedDossier.
const (
	AnnualAccounts      = "http://data.lblod.info/DecisionType/80536574a0ec8ea88685510b713aa566a5f16cfd575fabd8f7943bccaaad00e4"
	AnnualAccountsLabel = "Jaarrekening"
	AuthenticityDraft   = "http://lblod.data.gift/concepts/ontwerp"
	AuthenticityLabel   = "Ontwerp"
)

// DefaultOrganization is the organization dossiers are seeded for.
var DefaultOrganization = store.Organization{
	URI:            "http://data.lblod.info/id/besturenVanDeEredienst/aalst",
	UUID:           "974816591f269bb7d74aa1720922651529f3d3b2a787f5c60b73e5a0384950a4",
	Name:           "Aalst",
	KBO:            "0207437468",
	Classification: "Gemeente",
}

// MustOpenStore opens a SQLite store in a temp dir and registers cleanup.
func MustOpenStore(t testing.TB) *store.SQLiteStore {
	t.Helper()
	return MustOpenStoreAt(t, filepath.Join(t.TempDir(), "packager.db"))
}

// MustOpenStoreAt opens the SQLite store at path, seeded with
// DefaultOrganization and the fixture concepts.
func MustOpenStoreAt(t testing.TB, path string) *store.SQLiteStore {
	t.Helper()

	s, err := store.OpenSQLite(context.Background(), path, models.PublicGraph)
	if err != nil {
		t.Fatalf("store.OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})

	ctx := context.Background()
	if err := s.PutOrganization(ctx, DefaultOrganization); err != nil {
		t.Fatalf("store.PutOrganization: %v", err)
	}
	for uri, label := range map[string]string{
		AnnualAccounts:    AnnualAccountsLabel,
		AuthenticityDraft: AuthenticityLabel,
	} {
		if err := s.PutConcept(ctx, uri, label); err != nil {
			t.Fatalf("store.PutConcept: %v", err)
		}
	}
	return s
}

// SubmissionOption customizes a seeded submission.
type SubmissionOption func(*store.Submission)

// WithModified sets the modification time used for selection order.
func WithModified(modified time.Time) SubmissionOption {
	return func(s *store.Submission) {
		s.Modified = modified
	}
}

// WithGraph stores the submission in another graph.
func WithGraph(graph string) SubmissionOption {
	return func(s *store.Submission) {
		s.Graph = graph
	}
}

// WithDecisionType overrides the decision type.
func WithDecisionType(decisionType string) SubmissionOption {
	return func(s *store.Submission) {
		s.DecisionType = decisionType
	}
}

// WithSubmissionStatus overrides the submission status.
func WithSubmissionStatus(status string) SubmissionOption {
	return func(s *store.Submission) {
		s.SubmissionStatus = status
	}
}

// WithoutOptionals drops fiscal year, authenticity type and decision date.
func WithoutOptionals() SubmissionOption {
	return func(s *store.Submission) {
		s.AuthenticityType = ""
		s.FiscalYear = ""
		s.DecisionDate = ""
	}
}

// SeedDossier inserts a sent annual accounts submission of DefaultOrganization.
func SeedDossier(t testing.TB, s *store.SQLiteStore, opts ...SubmissionOption) store.Submission {
	t.Helper()

	id := uuid.NewString()
	sub := store.Submission{
		Graph:            models.OrganizationGraph(DefaultOrganization.UUID),
		URI:              "http://data.lblod.info/inzendingen-voor-toezicht/" + id,
		ID:               id,
		SubmissionStatus: models.SubmissionStatusSent,
		DecisionType:     AnnualAccounts,
		Organization:     DefaultOrganization.URI,
		AuthenticityType: AuthenticityDraft,
		FiscalYear:       "2023",
		DecisionDate:     "2024-05-27",
		Modified:         time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&sub)
	}
	if err := s.PutSubmission(context.Background(), sub); err != nil {
		t.Fatalf("store.PutSubmission: %v", err)
	}
	return sub
}

// Dossier returns the selection view of a seeded submission.
func Dossier(sub store.Submission) models.Dossier {
	return models.Dossier{URI: sub.URI, ID: sub.ID, Graph: sub.Graph}
}

// MustState reads the packaging state of a seeded submission.
func MustState(t testing.TB, s *store.SQLiteStore, sub store.Submission) store.DossierState {
	t.Helper()

	state, err := s.State(context.Background(), sub.Graph, sub.URI)
	if err != nil {
		t.Fatalf("store.State: %v", err)
	}
	return state
}
