package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Lllllllleong/dossierpackager/internal/models"
)

var (
	// ErrNotFound is returned when a dossier does not exist in the given graph.
	ErrNotFound = errors.New("dossier not found in graph")
	// ErrInvalidTransition is returned when a status change violates the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

// CheckTransition validates a status change from current to target.
func CheckTransition(current, target models.Status) error {
	if current == target && target != models.StatusUnset {
		return nil
	}
	switch target {
	case models.StatusProcessing:
		if current == models.StatusUnset {
			return nil
		}
	case models.StatusPackaged, models.StatusPackagingFailed:
		if current == models.StatusProcessing {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, statusName(current), statusName(target))
}

func statusName(s models.Status) string {
	if s == models.StatusUnset {
		return "UNSET"
	}
	if i := strings.LastIndex(string(s), "/"); i >= 0 {
		return string(s)[i+1:]
	}
	return string(s)
}

// CheckClaim validates taking a dossier for packaging. Unlike CheckTransition
// it refuses a dossier that is already processing, so only one worker wins.
func CheckClaim(current models.Status) error {
	if current != models.StatusUnset {
		return fmt.Errorf("%w: cannot claim dossier in status %s", ErrInvalidTransition, statusName(current))
	}
	return nil
}
