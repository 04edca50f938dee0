package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/dossierpackager/internal/models"
)

// Collection names used by FirestoreStore.
const (
	DossiersCollection      = "dossiers"
	FilesCollection         = "files"
	PackagesCollection      = "packages"
	OrganizationsCollection = "organizations"
	ConceptsCollection      = "concepts"
)

// maxInFilter is the largest value list Firestore accepts for an "in" filter.
const maxInFilter = 30

type dossierDoc struct {
	URI              string    `firestore:"uri"`
	ID               string    `firestore:"id"`
	Graph            string    `firestore:"graph"`
	SubmissionStatus string    `firestore:"submissionStatus"`
	DecisionType     string    `firestore:"decisionType"`
	Organization     string    `firestore:"organization"`
	AuthenticityType string    `firestore:"authenticityType,omitempty"`
	FiscalYear       string    `firestore:"fiscalYear,omitempty"`
	DecisionDate     string    `firestore:"decisionDate,omitempty"`
	Parts            []string  `firestore:"parts,omitempty"`
	Status           string    `firestore:"status"`
	Modified         time.Time `firestore:"modified"`
	Package          string    `firestore:"package,omitempty"`
}

type organizationDoc struct {
	URI                 string `firestore:"uri"`
	UUID                string `firestore:"uuid"`
	Name                string `firestore:"name"`
	KBONumber           string `firestore:"kboNumber"`
	ClassificationLabel string `firestore:"classificationLabel"`
}

type conceptDoc struct {
	URI   string `firestore:"uri"`
	Label string `firestore:"label"`
}

type fileDoc struct {
	Graph     string `firestore:"graph"`
	URI       string `firestore:"uri"`
	UploadURI string `firestore:"uploadUri"`
	Filename  string `firestore:"filename"`
	Format    string `firestore:"format"`
	Size      int64  `firestore:"size"`
}

type packageDoc struct {
	Graph         string    `firestore:"graph"`
	URI           string    `firestore:"uri"`
	ID            string    `firestore:"id"`
	Filename      string    `firestore:"filename"`
	Format        string    `firestore:"format"`
	FileExtension string    `firestore:"fileExtension"`
	Created       time.Time `firestore:"created"`
}

// FirestoreStore keeps dossier state in Cloud Firestore. Dossier documents are
// keyed by the dossier uuid and carry their graph; every scoped operation
// checks the graph before reading or writing.
type FirestoreStore struct {
	client    *firestore.Client
	fileGraph string
}

// NewFirestoreStore wraps an existing client. fileGraph is the partition
// holding file and package metadata.
func NewFirestoreStore(client *firestore.Client, fileGraph string) (*FirestoreStore, error) {
	if client == nil {
		return nil, errors.New("firestore client must be provided")
	}
	if fileGraph == "" {
		return nil, errors.New("file graph must be provided")
	}
	return &FirestoreStore{client: client, fileGraph: fileGraph}, nil
}

// Close closes the underlying client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

// SelectEligible returns sent dossiers of a packaged decision type that have no
// status yet, oldest modification first. Unset is stored as an empty status
// field so the filter runs server side; documents written without the field
// are not selected.
func (s *FirestoreStore) SelectEligible(ctx context.Context) ([]models.Dossier, error) {
	it := s.client.Collection(DossiersCollection).
		Where("submissionStatus", "==", models.SubmissionStatusSent).
		Where("status", "==", string(models.StatusUnset)).
		Where("decisionType", "in", models.PackagedDecisionTypes).
		OrderBy("modified", firestore.Asc).
		Documents(ctx)
	defer it.Stop()

	organizations := map[string]*organizationDoc{}
	labels := map[string]string{}

	var dossiers []models.Dossier
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query eligible dossiers: %w", err)
		}
		var doc dossierDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode dossier %s: %w", snap.Ref.ID, err)
		}
		if doc.Status != "" {
			continue
		}

		org, err := s.organization(ctx, organizations, doc.Organization)
		if err != nil {
			return nil, err
		}
		if org == nil || doc.Graph != models.OrganizationGraph(org.UUID) {
			continue
		}
		decisionTypeLabel, err := s.label(ctx, labels, doc.DecisionType)
		if err != nil {
			return nil, err
		}

		d := models.Dossier{
			URI:                        doc.URI,
			ID:                         doc.ID,
			Graph:                      doc.Graph,
			DecisionType:               doc.DecisionType,
			DecisionTypeLabel:          decisionTypeLabel,
			OrganizationName:           org.Name,
			OrganizationClassification: org.ClassificationLabel,
			OrganizationKBO:            org.KBONumber,
			Modified:                   doc.Modified,
		}
		if doc.AuthenticityType != "" {
			authenticity, err := s.label(ctx, labels, doc.AuthenticityType)
			if err != nil {
				return nil, err
			}
			if authenticity != "" {
				d.AuthenticityStatus = &authenticity
			}
		}
		if doc.FiscalYear != "" {
			fiscalYear := doc.FiscalYear
			d.FiscalYear = &fiscalYear
		}
		if doc.DecisionDate != "" {
			date, err := parseDecisionDate(doc.DecisionDate)
			if err != nil {
				slog.Warn("Skipping dossier with malformed decision date.", "dossierId", doc.ID, "graph", doc.Graph, "error", err)
				continue
			}
			d.DecisionDate = &date
		}
		if err := validateDossier(d); err != nil {
			slog.Warn("Skipping malformed dossier document.", "documentId", snap.Ref.ID, "error", err)
			continue
		}
		dossiers = append(dossiers, d)
	}
	return dossiers, nil
}

// organization resolves an organization by URI, caching lookups for one selection.
func (s *FirestoreStore) organization(ctx context.Context, cache map[string]*organizationDoc, uri string) (*organizationDoc, error) {
	if org, ok := cache[uri]; ok {
		return org, nil
	}
	docs, err := s.client.Collection(OrganizationsCollection).Where("uri", "==", uri).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to look up organization %s: %w", uri, err)
	}
	var org *organizationDoc
	if len(docs) > 0 {
		org = &organizationDoc{}
		if err := docs[0].DataTo(org); err != nil {
			return nil, fmt.Errorf("failed to decode organization %s: %w", uri, err)
		}
	}
	cache[uri] = org
	return org, nil
}

// label resolves the preferred label of a concept; a missing concept yields "".
func (s *FirestoreStore) label(ctx context.Context, cache map[string]string, uri string) (string, error) {
	if label, ok := cache[uri]; ok {
		return label, nil
	}
	docs, err := s.client.Collection(ConceptsCollection).Where("uri", "==", uri).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return "", fmt.Errorf("failed to look up concept %s: %w", uri, err)
	}
	var label string
	if len(docs) > 0 {
		var concept conceptDoc
		if err := docs[0].DataTo(&concept); err != nil {
			return "", fmt.Errorf("failed to decode concept %s: %w", uri, err)
		}
		label = concept.Label
	}
	cache[uri] = label
	return label, nil
}

// FetchFiles returns the files attached to a dossier within its own graph.
func (s *FirestoreStore) FetchFiles(ctx context.Context, dossier models.Dossier) ([]models.File, error) {
	snap, err := s.client.Collection(DossiersCollection).Doc(dossier.ID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s in <%s>", ErrNotFound, dossier.URI, dossier.Graph)
		}
		return nil, fmt.Errorf("failed to read dossier %s: %w", dossier.ID, err)
	}
	doc, err := decodeScoped(snap, dossier)
	if err != nil {
		return nil, err
	}

	var files []models.File
	for start := 0; start < len(doc.Parts); start += maxInFilter {
		end := min(start+maxInFilter, len(doc.Parts))
		docs, err := s.client.Collection(FilesCollection).
			Where("graph", "==", s.fileGraph).
			Where("uploadUri", "in", doc.Parts[start:end]).
			Documents(ctx).GetAll()
		if err != nil {
			return nil, fmt.Errorf("failed to query files for dossier %s: %w", dossier.ID, err)
		}
		for _, fileSnap := range docs {
			var f fileDoc
			if err := fileSnap.DataTo(&f); err != nil {
				return nil, fmt.Errorf("failed to decode file %s: %w", fileSnap.Ref.ID, err)
			}
			files = append(files, models.File{URI: f.URI, Filename: f.Filename, Format: f.Format, Size: f.Size})
		}
	}
	return files, nil
}

// IsRunning reports whether any dossier, in any graph, is being packaged.
func (s *FirestoreStore) IsRunning(ctx context.Context) (bool, error) {
	docs, err := s.client.Collection(DossiersCollection).
		Where("status", "==", string(models.StatusProcessing)).
		Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return false, fmt.Errorf("failed to query running dossiers: %w", err)
	}
	return len(docs) > 0, nil
}

// UpdateStatus replaces the status and modified timestamp of a dossier.
func (s *FirestoreStore) UpdateStatus(ctx context.Context, dossier models.Dossier, target models.Status) error {
	ref := s.client.Collection(DossiersCollection).Doc(dossier.ID)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := getScoped(tx, ref, dossier)
		if err != nil {
			return err
		}
		if err := CheckTransition(models.Status(doc.Status), target); err != nil {
			return fmt.Errorf("dossier %s: %w", dossier.ID, err)
		}
		return tx.Update(ref, statusUpdates(target))
	})
}

// Claim moves an unset dossier to processing. It fails with
// ErrInvalidTransition when the dossier already has a status.
func (s *FirestoreStore) Claim(ctx context.Context, dossier models.Dossier) error {
	ref := s.client.Collection(DossiersCollection).Doc(dossier.ID)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := getScoped(tx, ref, dossier)
		if err != nil {
			return err
		}
		if err := CheckClaim(models.Status(doc.Status)); err != nil {
			return fmt.Errorf("dossier %s: %w", dossier.ID, err)
		}
		return tx.Update(ref, statusUpdates(models.StatusProcessing))
	})
}

// RegisterArtifact records a package in the file graph and links it to the dossier.
func (s *FirestoreStore) RegisterArtifact(ctx context.Context, dossier models.Dossier, artifact models.PackageArtifact) error {
	if err := validateArtifact(artifact); err != nil {
		return err
	}
	ref := s.client.Collection(DossiersCollection).Doc(dossier.ID)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := getScoped(tx, ref, dossier)
		if err != nil {
			return err
		}
		current := models.Status(doc.Status)
		if current != models.StatusProcessing && current != models.StatusPackaged {
			return fmt.Errorf("%w: cannot attach a package to dossier %s in status %s", ErrInvalidTransition, dossier.ID, statusName(current))
		}
		return s.linkArtifact(tx, ref, doc, dossier, artifact, nil)
	})
}

// CompletePackaging registers the artifact and marks the dossier packaged in
// a single transaction.
func (s *FirestoreStore) CompletePackaging(ctx context.Context, dossier models.Dossier, artifact models.PackageArtifact) error {
	if err := validateArtifact(artifact); err != nil {
		return err
	}
	ref := s.client.Collection(DossiersCollection).Doc(dossier.ID)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := getScoped(tx, ref, dossier)
		if err != nil {
			return err
		}
		if err := CheckTransition(models.Status(doc.Status), models.StatusPackaged); err != nil {
			return fmt.Errorf("dossier %s: %w", dossier.ID, err)
		}
		return s.linkArtifact(tx, ref, doc, dossier, artifact, statusUpdates(models.StatusPackaged))
	})
}

func (s *FirestoreStore) linkArtifact(tx *firestore.Transaction, ref *firestore.DocumentRef, doc *dossierDoc, dossier models.Dossier, artifact models.PackageArtifact, extra []firestore.Update) error {
	if doc.Package != "" && doc.Package != artifact.URI {
		return fmt.Errorf("%w: %s is linked to %s", ErrArtifactExists, dossier.ID, doc.Package)
	}
	pkg := packageDoc{
		Graph:         s.fileGraph,
		URI:           artifact.URI,
		ID:            artifact.ID,
		Filename:      artifact.Filename,
		Format:        models.PackageFormat,
		FileExtension: models.PackageExtension,
		Created:       artifact.Created.UTC(),
	}
	if err := tx.Set(s.client.Collection(PackagesCollection).Doc(artifact.ID), pkg); err != nil {
		return err
	}
	updates := append([]firestore.Update{{Path: "package", Value: artifact.URI}}, extra...)
	return tx.Update(ref, updates)
}

// ResetStuckProcessing clears the status of every dossier left in processing.
func (s *FirestoreStore) ResetStuckProcessing(ctx context.Context) (int64, error) {
	docs, err := s.client.Collection(DossiersCollection).
		Where("status", "==", string(models.StatusProcessing)).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, fmt.Errorf("failed to query stuck dossiers: %w", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	bw := s.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for _, snap := range docs {
		job, err := bw.Update(snap.Ref, []firestore.Update{{Path: "status", Value: string(models.StatusUnset)}})
		if err != nil {
			bw.End()
			return 0, fmt.Errorf("failed to enqueue reset of %s: %w", snap.Ref.ID, err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	var reset int64
	var errs []error
	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			errs = append(errs, fmt.Errorf("reset %s: %w", docs[i].Ref.ID, err))
			continue
		}
		reset++
	}
	return reset, errors.Join(errs...)
}

func getScoped(tx *firestore.Transaction, ref *firestore.DocumentRef, dossier models.Dossier) (*dossierDoc, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s in <%s>", ErrNotFound, dossier.URI, dossier.Graph)
		}
		return nil, fmt.Errorf("failed to read dossier %s: %w", dossier.ID, err)
	}
	return decodeScoped(snap, dossier)
}

func decodeScoped(snap *firestore.DocumentSnapshot, dossier models.Dossier) (*dossierDoc, error) {
	var doc dossierDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode dossier %s: %w", snap.Ref.ID, err)
	}
	if doc.Graph != dossier.Graph || doc.URI != dossier.URI {
		return nil, fmt.Errorf("%w: %s in <%s>", ErrNotFound, dossier.URI, dossier.Graph)
	}
	return &doc, nil
}

func statusUpdates(target models.Status) []firestore.Update {
	return []firestore.Update{
		{Path: "status", Value: string(target)},
		{Path: "modified", Value: time.Now().UTC()},
	}
}
