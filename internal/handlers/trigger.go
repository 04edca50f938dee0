// Package handlers exposes the packager trigger over HTTP and CloudEvents.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cloudevents/sdk-go/v2/event"

	"github.com/Lllllllleong/dossierpackager/internal/models"
	"github.com/Lllllllleong/dossierpackager/internal/services"
)

// Triggerer starts a packaging batch.
type Triggerer interface {
	Trigger(ctx context.Context) (services.TriggerResult, error)
}

// TriggerHandler answers POST requests by starting a batch. It responds before
// any dossier has been packaged.
func TriggerHandler(t Triggerer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}

		res, err := t.Trigger(r.Context())
		if err != nil {
			slog.Error("Failed to start packaging batch.", "error", err)
			http.Error(w, "Internal Server Error: failed to start packaging", http.StatusInternalServerError)
			return
		}

		switch res.Outcome {
		case services.TriggerAlreadyRunning:
			w.WriteHeader(http.StatusServiceUnavailable)
		case services.TriggerNothingToDo:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			body := models.TriggerResponse{Status: http.StatusAccepted, Title: "processing"}
			if err := json.NewEncoder(w).Encode(body); err != nil {
				slog.Error("Failed to write response.", "error", err)
			}
		}
	}
}

// ScheduledHandler runs a batch for a scheduler CloudEvent. Only failures
// before the batch starts are returned.
func ScheduledHandler(t Triggerer) func(context.Context, event.Event) error {
	return func(ctx context.Context, e event.Event) error {
		logCtx := slog.With("eventId", e.ID(), "eventType", e.Type(), "eventSource", e.Source())

		var payload models.ScheduledTrigger
		if len(e.Data()) > 0 {
			if err := e.DataAs(&payload); err != nil {
				logCtx.Warn("Ignoring undecodable scheduler payload.", "error", err)
			}
		}

		res, err := t.Trigger(ctx)
		if err != nil {
			logCtx.Error("Scheduled packaging failed to start.", "error", err)
			return fmt.Errorf("scheduled packaging: %w", err)
		}
		logCtx.Info("Scheduled packaging triggered.", "outcome", res.Outcome.String(), "dossierCount", res.Dossiers, "reason", payload.Reason)
		return nil
	}
}
