package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/Lllllllleong/dossierpackager/internal/models"
)

// validateDossier rejects selection rows that miss a field packaging relies on.
func validateDossier(d models.Dossier) error {
	required := []struct {
		name  string
		value string
	}{
		{"uri", d.URI},
		{"id", d.ID},
		{"graph", d.Graph},
		{"decisionTypeLabel", d.DecisionTypeLabel},
		{"organizationName", d.OrganizationName},
		{"organizationClassification", d.OrganizationClassification},
		{"organizationKbo", d.OrganizationKBO},
	}
	var missing []string
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("dossier %q is missing required fields: %s", d.URI, strings.Join(missing, ", "))
	}
	return nil
}

func validateArtifact(a models.PackageArtifact) error {
	if a.URI == "" || a.ID == "" || a.Filename == "" {
		return fmt.Errorf("package artifact requires uri, id and filename")
	}
	if a.Created.IsZero() {
		return fmt.Errorf("package artifact %s has no creation time", a.ID)
	}
	return nil
}

// parseDecisionDate accepts an xsd:date or xsd:dateTime literal and keeps the
// calendar date only.
func parseDecisionDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if len(value) < len("2006-01-02") {
		return time.Time{}, fmt.Errorf("invalid decision date %q", value)
	}
	date, err := time.Parse("2006-01-02", value[:10])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid decision date %q: %w", value, err)
	}
	return date, nil
}
