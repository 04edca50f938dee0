package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/dossierpackager/internal/handlers"
	"github.com/Lllllllleong/dossierpackager/internal/services"
)

var (
	packagerInstance *services.Packager
	once             sync.Once
	initErr          error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("PackageDossiers", packageDossiers)
	functions.CloudEvent("ScheduledPackageDossiers", scheduledPackageDossiers)
}

// main is required by the Go Functions Framework.
func main() {}

// setup creates the packager and, unless PACKAGE_SWEEP_ON_START is false,
// clears dossiers left in processing. It runs once per instance before the
// first trigger. Deployments scaling past one instance turn the sweep off and
// run `packager sweep` from a single place instead.
func setup() error {
	once.Do(func() {
		ctx := context.Background()
		packagerInstance, initErr = services.NewPackager(ctx)
		if initErr != nil {
			return
		}
		initErr = packagerInstance.StartupSweep(ctx)
	})
	return initErr
}

// packageDossiers is the HTTP entry point.
func packageDossiers(w http.ResponseWriter, r *http.Request) {
	if err := setup(); err != nil {
		slog.Error("CRITICAL: Packager initialization failed.", "error", err)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	handlers.TriggerHandler(packagerInstance).ServeHTTP(w, r)
}

// scheduledPackageDossiers is the Cloud Scheduler entry point.
func scheduledPackageDossiers(ctx context.Context, e cloudevents.Event) error {
	if err := setup(); err != nil {
		slog.Error("CRITICAL: Packager initialization failed.", "error", err)
		return err
	}
	return handlers.ScheduledHandler(packagerInstance)(ctx, e)
}
