package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/dossierpackager/internal/archive"
	"github.com/Lllllllleong/dossierpackager/internal/descriptor"
	"github.com/Lllllllleong/dossierpackager/internal/gcp"
	"github.com/Lllllllleong/dossierpackager/internal/models"
	"github.com/Lllllllleong/dossierpackager/internal/store"
)

// ErrNoFiles marks a dossier that has nothing to package.
var ErrNoFiles = errors.New("dossier has no files")

// DossierStore is the persistence the packager drives dossiers through.
type DossierStore interface {
	SelectEligible(ctx context.Context) ([]models.Dossier, error)
	FetchFiles(ctx context.Context, dossier models.Dossier) ([]models.File, error)
	IsRunning(ctx context.Context) (bool, error)
	Claim(ctx context.Context, dossier models.Dossier) error
	UpdateStatus(ctx context.Context, dossier models.Dossier, status models.Status) error
	CompletePackaging(ctx context.Context, dossier models.Dossier, artifact models.PackageArtifact) error
	ResetStuckProcessing(ctx context.Context) (int64, error)
	Close() error
}

// TriggerOutcome tells the caller what a trigger did.
type TriggerOutcome int

const (
	// TriggerAccepted means a batch was started in the background.
	TriggerAccepted TriggerOutcome = iota
	// TriggerAlreadyRunning means a previous batch is still in flight.
	TriggerAlreadyRunning
	// TriggerNothingToDo means no dossier is eligible.
	TriggerNothingToDo
)

func (o TriggerOutcome) String() string {
	switch o {
	case TriggerAccepted:
		return "accepted"
	case TriggerAlreadyRunning:
		return "already-running"
	case TriggerNothingToDo:
		return "nothing-to-do"
	default:
		return fmt.Sprintf("TriggerOutcome(%d)", int(o))
	}
}

// TriggerResult is the outcome of a trigger and the size of the started batch.
type TriggerResult struct {
	Outcome  TriggerOutcome
	Dossiers int
}

// BatchReport counts how the dossiers of one batch ended.
type BatchReport struct {
	Packaged int64
	Failed   int64
	Skipped  int64
}

// Packager holds dependencies for the packaging logic.
type Packager struct {
	store         DossierStore
	descriptors   *descriptor.Builder
	assembler     *archive.Assembler
	storageClient *storage.Client
	bucket        *storage.BucketHandle
	config        PackagerConfig

	now   func() time.Time
	newID func() string

	batches sync.WaitGroup
	mu      sync.Mutex
	reports []BatchReport
}

// NewPackager creates a Packager from the environment.
func NewPackager(ctx context.Context) (*Packager, error) {
	config, err := LoadPackagerConfig()
	if err != nil {
		return nil, err
	}
	return NewPackagerFromConfig(ctx, config)
}

// NewPackagerFromConfig opens the configured store and clients.
func NewPackagerFromConfig(ctx context.Context, config PackagerConfig) (*Packager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	st, err := OpenStore(ctx, config)
	if err != nil {
		return nil, err
	}
	p := NewPackagerWithStore(config, st)

	if config.ArtifactBucket != "" {
		storageClient, err := storage.NewClient(ctx)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		p.storageClient = storageClient
		p.bucket = storageClient.Bucket(config.ArtifactBucket)
	}

	slog.Info("Dossier packager initialized.",
		"storeBackend", config.StoreBackend,
		"filePath", config.FilePath,
		"concurrency", config.Concurrency,
		"validatePdf", config.ValidatePDF,
		"artifactBucket", config.ArtifactBucket,
		"sweepOnStart", config.SweepOnStart,
	)
	return p, nil
}

// NewPackagerWithStore creates a Packager on an already opened store.
func NewPackagerWithStore(config PackagerConfig, st DossierStore) *Packager {
	return &Packager{
		store:       st,
		descriptors: descriptor.NewBuilder(""),
		assembler:   archive.NewAssembler(config.FilePath, config.ValidatePDF),
		config:      config,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// OpenStore opens the store backend selected by the configuration.
func OpenStore(ctx context.Context, config PackagerConfig) (DossierStore, error) {
	switch config.StoreBackend {
	case BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(config.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
		st, err := store.OpenSQLite(ctx, config.SQLitePath, config.FileGraph)
		if err != nil {
			return nil, err
		}
		return st, nil
	case BackendFirestore:
		client, err := gcp.NewFirestoreClient(ctx, config.ProjectID, config.FirestoreDatabase)
		if err != nil {
			return nil, err
		}
		st, err := store.NewFirestoreStore(client, config.FileGraph)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unsupported STORE_BACKEND %q", config.StoreBackend)
	}
}

// Close waits for running batches and releases the store and clients.
func (p *Packager) Close() error {
	p.Wait()
	var errs []error
	if p.storageClient != nil {
		errs = append(errs, p.storageClient.Close())
	}
	errs = append(errs, p.store.Close())
	return errors.Join(errs...)
}

// Sweep resets dossiers left in processing by a previous process. It must run
// before the first trigger is accepted.
func (p *Packager) Sweep(ctx context.Context) error {
	reset, err := p.store.ResetStuckProcessing(ctx)
	if err != nil {
		slog.Error("Failed to reset stuck dossiers.", "reset", reset, "error", err)
		return fmt.Errorf("startup sweep: %w", err)
	}
	slog.Info("Startup sweep complete.", "reset", reset)
	return nil
}

// StartupSweep runs Sweep unless the configuration turns the startup sweep off.
func (p *Packager) StartupSweep(ctx context.Context) error {
	if !p.config.SweepOnStart {
		slog.Info("Startup sweep disabled. Leaving processing dossiers untouched.")
		return nil
	}
	return p.Sweep(ctx)
}

// Trigger checks the run gate, selects eligible dossiers and starts packaging
// them in the background. The batch is detached from ctx once accepted.
func (p *Packager) Trigger(ctx context.Context) (TriggerResult, error) {
	running, err := p.store.IsRunning(ctx)
	if err != nil {
		return TriggerResult{}, fmt.Errorf("failed to check for running batch: %w", err)
	}
	if running {
		slog.Info("A packaging batch is still running. Rejecting trigger.")
		return TriggerResult{Outcome: TriggerAlreadyRunning}, nil
	}

	dossiers, err := p.store.SelectEligible(ctx)
	if err != nil {
		return TriggerResult{}, fmt.Errorf("failed to select eligible dossiers: %w", err)
	}
	if len(dossiers) == 0 {
		slog.Info("No dossiers to package.")
		return TriggerResult{Outcome: TriggerNothingToDo}, nil
	}

	slog.Info("Starting packaging batch.", "dossierCount", len(dossiers))
	batchCtx := context.WithoutCancel(ctx)
	p.batches.Add(1)
	go func() {
		defer p.batches.Done()
		report := p.runBatch(batchCtx, dossiers)
		p.mu.Lock()
		p.reports = append(p.reports, report)
		p.mu.Unlock()
	}()
	return TriggerResult{Outcome: TriggerAccepted, Dossiers: len(dossiers)}, nil
}

// Wait blocks until every accepted batch has finished.
func (p *Packager) Wait() {
	p.batches.Wait()
}

// Reports returns the reports of the batches finished so far.
func (p *Packager) Reports() []BatchReport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]BatchReport(nil), p.reports...)
}

func (p *Packager) runBatch(ctx context.Context, dossiers []models.Dossier) BatchReport {
	var packaged, failed, skipped atomic.Int64

	var eg errgroup.Group
	if p.config.Concurrency > 0 {
		eg.SetLimit(p.config.Concurrency)
	}
	for _, dossier := range dossiers {
		eg.Go(func() error {
			switch p.packageDossier(ctx, dossier) {
			case models.StatusPackaged:
				packaged.Add(1)
			case models.StatusUnset:
				skipped.Add(1)
			default:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = eg.Wait()

	report := BatchReport{Packaged: packaged.Load(), Failed: failed.Load(), Skipped: skipped.Load()}
	slog.Info("Packaging batch finished.", "packaged", report.Packaged, "failed", report.Failed, "skipped", report.Skipped)
	return report
}

// packageDossier runs one dossier through the pipeline and returns the status
// it ended in. StatusUnset means the dossier was not claimed.
func (p *Packager) packageDossier(ctx context.Context, dossier models.Dossier) models.Status {
	logCtx := slog.With("dossierId", dossier.ID, "graph", dossier.Graph)

	// --- 1. Claim the dossier ---
	if err := p.store.Claim(ctx, dossier); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrNotFound) {
			logCtx.Warn("Dossier was claimed by another batch. Skipping.", "error", err)
		} else {
			logCtx.Error("Failed to claim dossier.", "error", err)
		}
		return models.StatusUnset
	}
	logCtx.Info("Packaging dossier.")

	// --- 2. Fetch the files ---
	files, err := p.store.FetchFiles(ctx, dossier)
	if err != nil {
		return p.handleError(ctx, logCtx, dossier, "Failed to fetch dossier files.", err)
	}
	if len(files) == 0 {
		return p.handleError(ctx, logCtx, dossier, "Dossier has no files to package.", ErrNoFiles)
	}

	// --- 3. Build the descriptors ---
	publication, err := p.descriptors.BuildPublication(dossier)
	if err != nil {
		return p.handleError(ctx, logCtx, dossier, "Failed to build publication descriptor.", err)
	}
	defer releaseDescriptor(logCtx, publication)

	manifest, err := p.descriptors.BuildManifest(dossier, files, true)
	if err != nil {
		return p.handleError(ctx, logCtx, dossier, "Failed to build manifest descriptor.", err)
	}
	defer releaseDescriptor(logCtx, manifest)

	// --- 4. Assemble the archive ---
	now := p.now()
	artifact := models.PackageArtifact{ID: p.newID(), Created: now}
	artifact.Filename = archive.FileName(dossier, artifact.ID, now)
	artifact.URI, err = p.assembler.Assemble(ctx, artifact.Filename, files, manifest, publication)
	if err != nil {
		return p.handleError(ctx, logCtx, dossier, "Failed to assemble archive.", err)
	}
	logCtx = logCtx.With("artifactId", artifact.ID, "filename", artifact.Filename)
	archivePath := filepath.Join(p.config.FilePath, artifact.Filename)

	// --- 5. Mirror and register ---
	if p.bucket != nil {
		if err := gcp.UploadArtifact(ctx, p.bucket, artifact.Filename, archivePath); err != nil {
			p.discardArchive(logCtx, archivePath)
			return p.handleError(ctx, logCtx, dossier, "Failed to mirror archive to GCS.", err)
		}
	}
	if err := p.store.CompletePackaging(ctx, dossier, artifact); err != nil {
		p.discardArchive(logCtx, archivePath)
		return p.handleError(ctx, logCtx, dossier, "Failed to register package.", err)
	}

	logCtx.Info("Dossier packaged.", "fileCount", len(files))
	return models.StatusPackaged
}

// handleError logs the failure and marks the dossier as failed.
func (p *Packager) handleError(ctx context.Context, logCtx *slog.Logger, dossier models.Dossier, message string, originalErr error) models.Status {
	logCtx.Error(message, "error", originalErr)
	if err := p.store.UpdateStatus(ctx, dossier, models.StatusPackagingFailed); err != nil {
		logCtx.Error("CRITICAL: Failed to mark dossier as failed after a packaging error.", "updateError", err)
	}
	return models.StatusPackagingFailed
}

func (p *Packager) discardArchive(logCtx *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logCtx.Warn("Failed to remove unregistered archive.", "path", path, "error", err)
	}
}

func releaseDescriptor(logCtx *slog.Logger, d *descriptor.Descriptor) {
	if err := d.Release(); err != nil {
		logCtx.Warn("Failed to release descriptor.", "path", d.Path, "error", err)
	}
}
