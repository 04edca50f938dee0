package models

import "time"

// Status is the internal packaging status of a dossier. The zero value means
// no status has been recorded yet.
type Status string

const (
	StatusUnset           Status = ""
	StatusProcessing      Status = "http://mu.semte.ch/vocabularies/ext/toezicht-status/PACKAGING"
	StatusPackaged        Status = "http://mu.semte.ch/vocabularies/ext/toezicht-status/PACKAGED"
	StatusPackagingFailed Status = "http://mu.semte.ch/vocabularies/ext/toezicht-status/PACKAGING_FAILED"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusPackaged || s == StatusPackagingFailed
}

const (
	// SubmissionStatusSent marks a dossier that was sent by the organization.
	SubmissionStatusSent = "http://data.lblod.info/document-statuses/verstuurd"

	// PublicGraph holds organizations, classifications and concept labels.
	PublicGraph = "http://mu.semte.ch/graphs/public"

	organizationGraphPrefix = "http://mu.semte.ch/graphs/organizations/"
	organizationGraphSuffix = "/LoketLB-toezichtGebruiker"
)

// PackagedDecisionTypes lists the decision types that are packaged for intake.
var PackagedDecisionTypes = []string{
	"http://data.lblod.info/DecisionType/80536574a0ec8ea88685510b713aa566a5f16cfd575fabd8f7943bccaaad00e4",
	"http://data.lblod.info/DecisionType/d6e90eb6e3ceda4f9a47b214b3ab47274670d3621f34bf8984f4c7d99f97dcc2",
	"http://data.lblod.info/DecisionType/26697366c439cac0fd35581416baffec2368d765d61888bfb4bafd22ddbc8b33",
}

// OrganizationGraph returns the partition owned by the organization with the given uuid.
func OrganizationGraph(organizationID string) string {
	return organizationGraphPrefix + organizationID + organizationGraphSuffix
}

// Dossier is a financial supervision submission selected for packaging.
// Optional attributes are nil when they are absent upstream.
type Dossier struct {
	URI                        string
	ID                         string
	Graph                      string
	DecisionType               string
	DecisionTypeLabel          string
	AuthenticityStatus         *string
	FiscalYear                 *string
	DecisionDate               *time.Time
	OrganizationName           string
	OrganizationClassification string
	OrganizationKBO            string
	Status                     Status
	Modified                   time.Time
}

// File is an attachment of a dossier. URI is the logical storage reference
// (share://...), Filename the name the file was uploaded with.
type File struct {
	URI      string
	Filename string
	Format   string
	Size     int64
}

const (
	PackageFormat    = "application/zip"
	PackageExtension = "zip"
)

// PackageArtifact is a produced delivery archive and its registered metadata.
type PackageArtifact struct {
	URI      string
	ID       string
	Filename string
	Created  time.Time
}
