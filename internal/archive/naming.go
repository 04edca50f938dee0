package archive

import (
	"regexp"
	"strings"
	"time"

	"github.com/Lllllllleong/dossierpackager/internal/models"
)

const namePrefix = "Inzending_financieel"

var nonAlphanumeric = regexp.MustCompile(`[^A-Za-z0-9]`)

var timestampReplacer = strings.NewReplacer(":", "_", ".", "_")

// FileName returns the artifact file name for a dossier packaged at now under
// the given artifact id:
//
//	Inzending_financieel_<org>_<type>_<status>_<year>_<YYYYMMDD>_<timestamp>_<id>.zip
//
// Absent optional values leave their segment empty.
func FileName(dossier models.Dossier, id string, now time.Time) string {
	var decided string
	if dossier.DecisionDate != nil {
		decided = dossier.DecisionDate.UTC().Format("20060102")
	}
	segments := []string{
		namePrefix,
		strip(dossier.OrganizationClassification + dossier.OrganizationName),
		strip(dossier.DecisionTypeLabel),
		valueOf(dossier.AuthenticityStatus),
		valueOf(dossier.FiscalYear),
		decided,
		Timestamp(now),
		id,
	}
	return strings.Join(segments, "_") + "." + models.PackageExtension
}

// Timestamp renders now in UTC with millisecond precision, using underscores
// in place of the separators that are awkward in file names.
func Timestamp(now time.Time) string {
	return timestampReplacer.Replace(now.UTC().Format("2006-01-02T15:04:05.000Z"))
}

func strip(value string) string {
	return nonAlphanumeric.ReplaceAllString(value, "")
}

func valueOf(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
