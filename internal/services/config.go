package services

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Lllllllleong/dossierpackager/internal/gcp"
	"github.com/Lllllllleong/dossierpackager/internal/models"
)

// Supported values of STORE_BACKEND.
const (
	BackendFirestore = "firestore"
	BackendSQLite    = "sqlite"
)

// DefaultCronPattern runs a batch at second 0 of every twelfth minute.
const DefaultCronPattern = "0 */12 * * * *"

// PackagerConfig holds configuration for the dossier packager.
type PackagerConfig struct {
	FilePath          string
	FileGraph         string
	CronPattern       string
	StoreBackend      string
	ProjectID         string
	FirestoreDatabase string
	SQLitePath        string
	Concurrency       int
	ValidatePDF       bool
	ArtifactBucket    string
	// SweepOnStart resets stuck dossiers when an instance starts. Turn it off
	// where several instances share one store.
	SweepOnStart bool
}

// LoadPackagerConfig reads the packager configuration from the environment.
func LoadPackagerConfig() (PackagerConfig, error) {
	config := PackagerConfig{
		FilePath:          gcp.GetEnv("FILE_PATH", "/data/files/"),
		FileGraph:         gcp.GetEnv("FILE_GRAPH", models.PublicGraph),
		CronPattern:       gcp.GetEnv("PACKAGE_CRON_PATTERN", DefaultCronPattern),
		StoreBackend:      strings.ToLower(gcp.GetEnv("STORE_BACKEND", BackendFirestore)),
		ProjectID:         gcp.GetEnv("PROJECT_ID", ""),
		FirestoreDatabase: gcp.GetEnv("FIRESTORE_DATABASE", ""),
		ArtifactBucket:    gcp.GetEnv("ARTIFACT_BUCKET", ""),
	}
	config.SQLitePath = gcp.GetEnv("SQLITE_PATH", filepath.Join(config.FilePath, "packager.db"))

	var err error
	if config.Concurrency, err = gcp.GetEnvInt("PACKAGE_CONCURRENCY", 0); err != nil {
		return PackagerConfig{}, err
	}
	if config.ValidatePDF, err = gcp.GetEnvBool("PACKAGE_VALIDATE_PDF", false); err != nil {
		return PackagerConfig{}, err
	}
	if config.SweepOnStart, err = gcp.GetEnvBool("PACKAGE_SWEEP_ON_START", true); err != nil {
		return PackagerConfig{}, err
	}
	if err := config.Validate(); err != nil {
		return PackagerConfig{}, err
	}
	return config, nil
}

// Validate checks the configuration for values the packager cannot run with.
func (c PackagerConfig) Validate() error {
	if c.FilePath == "" {
		return fmt.Errorf("FILE_PATH must be set")
	}
	if c.FileGraph == "" {
		return fmt.Errorf("FILE_GRAPH must be set")
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("PACKAGE_CONCURRENCY must not be negative, got %d", c.Concurrency)
	}
	switch c.StoreBackend {
	case BackendFirestore:
		if c.ProjectID == "" {
			return fmt.Errorf("PROJECT_ID environment variable must be set for the %s backend", BackendFirestore)
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH must be set for the %s backend", BackendSQLite)
		}
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", c.StoreBackend)
	}
	return nil
}
