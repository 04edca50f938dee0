// Package descriptor renders the two XML documents shipped inside every
// delivery archive: the manifest (Borderel.xml) listing the archive content
// and routing metadata, and the publication metadata (Publicatie.xml).
//
// Element order, names and namespace prefixes are fixed by the intake
// schemas and must not change.
package descriptor

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/Lllllllleong/dossierpackager/internal/models"
)

// Entry names of the descriptors inside the archive. The capitals matter.
const (
	ManifestName    = "Borderel.xml"
	PublicationName = "Publicatie.xml"
)

const (
	xsiNamespace = "http://www.w3.org/2001/XMLSchema-instance"

	manifestNamespace      = "http://MFT-01-00.abb.vlaanderen.be/Borderel"
	manifestSchemaLocation = "http://MFT-01-00.abb.vlaanderen.be/Borderel Borderel.xsd"

	publicationNamespace      = "http://PUB_Beleidsrapport-01-00.abb.vlaanderen.be/Borderel"
	publicationSchemaLocation = "http://PUB_Beleidsrapport-01-00.abb.vlaanderen.be/Borderel/Publicatie.xsd"

	routingEntity      = "ABB"
	routingApplication = "DIGITAAL TOEZICHT"
	routingFlow        = "PUBLICATIE"
)

// Descriptor is a rendered document persisted to a temporary file. The holder
// must call Release once the file is no longer needed.
type Descriptor struct {
	Path string

	once sync.Once
	err  error
}

// Release deletes the temporary file. It is safe to call more than once and
// after the file was already removed.
func (d *Descriptor) Release() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		if err := os.Remove(d.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			d.err = fmt.Errorf("remove descriptor %s: %w", d.Path, err)
		}
	})
	return d.err
}

// Builder writes descriptors into Dir, or the system temp dir when Dir is empty.
type Builder struct {
	Dir string
}

// NewBuilder returns a Builder writing into dir.
func NewBuilder(dir string) *Builder {
	return &Builder{Dir: dir}
}

// BuildManifest renders Borderel.xml for the given files. When hasPublication
// is set the publication document is listed as an extra entry.
func (b *Builder) BuildManifest(dossier models.Dossier, files []models.File, hasPublication bool) (*Descriptor, error) {
	data, err := ManifestXML(dossier, files, hasPublication)
	if err != nil {
		return nil, fmt.Errorf("render manifest for dossier %s: %w", dossier.ID, err)
	}
	return b.persist(dossier.ID+"-borderel-*.xml", data)
}

// BuildPublication renders Publicatie.xml for the dossier.
func (b *Builder) BuildPublication(dossier models.Dossier) (*Descriptor, error) {
	data, err := PublicationXML(dossier)
	if err != nil {
		return nil, fmt.Errorf("render publication for dossier %s: %w", dossier.ID, err)
	}
	return b.persist(dossier.ID+"-publicatie-*.xml", data)
}

// ManifestXML returns the manifest document.
func ManifestXML(dossier models.Dossier, files []models.File, hasPublication bool) ([]byte, error) {
	entries := make([]*node, 0, len(files)+1)
	for _, f := range files {
		entries = append(entries, element("Bestand", leaf("Bestandsnaam", f.Filename)))
	}
	if hasPublication {
		entries = append(entries, element("Bestand", leaf("Bestandsnaam", PublicationName)))
	}

	root := element("ns1:Borderel",
		element("ns1:Bestanden", entries...),
		element("ns1:RouteringsMetadata",
			leaf("Entiteit", routingEntity),
			leaf("Toepassing", routingApplication),
			element("ParameterSet",
				parameter("SLEUTEL", dossier.OrganizationKBO),
				parameter("FLOW", routingFlow),
			),
		),
	).
		attr("xsi:schemaLocation", manifestSchemaLocation).
		attr("xmlns:xsi", xsiNamespace).
		attr("xmlns:ns1", manifestNamespace)

	return render(root)
}

// PublicationXML returns the publication metadata document. Absent optional
// values are rendered as empty elements.
func PublicationXML(dossier models.Dossier) ([]byte, error) {
	root := element("n1:PublicatieBeleidsrapport",
		element("n1:ParameterSet",
			parameter("Ondernemingsnummer", dossier.OrganizationKBO),
			parameter("MaatschappelijkeNaam", dossier.OrganizationName),
			parameter("TypeBestuur", dossier.OrganizationClassification),
			parameter("RapportCode", dossier.DecisionTypeLabel),
			parameter("Boekjaar", deref(dossier.FiscalYear)),
			parameter("Status", deref(dossier.AuthenticityStatus)),
			parameter("DatumGoedkeuring", DecisionDate(dossier)),
		),
	).
		attr("xsi:schemaLocation", publicationSchemaLocation).
		attr("xmlns:xsi", xsiNamespace).
		attr("xmlns:n1", publicationNamespace)

	return render(root)
}

// DecisionDate returns the decision date as YYYY-MM-DD, or "" when absent.
func DecisionDate(dossier models.Dossier) string {
	if dossier.DecisionDate == nil {
		return ""
	}
	return dossier.DecisionDate.UTC().Format("2006-01-02")
}

func (b *Builder) persist(pattern string, data []byte) (*Descriptor, error) {
	f, err := os.CreateTemp(b.Dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create descriptor file: %w", err)
	}
	d := &Descriptor{Path: f.Name()}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = d.Release()
		return nil, fmt.Errorf("write descriptor %s: %w", d.Path, err)
	}
	if err := f.Close(); err != nil {
		_ = d.Release()
		return nil, fmt.Errorf("close descriptor %s: %w", d.Path, err)
	}
	return d, nil
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
