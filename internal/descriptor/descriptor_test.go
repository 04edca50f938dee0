package descriptor

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/dossierpackager/internal/models"
)

func strPtr(s string) *string { return &s }

func sampleDossier() models.Dossier {
	decided := time.Date(2024, 5, 27, 0, 0, 0, 0, time.UTC)
	return models.Dossier{
		URI:                        "http://data.lblod.info/inzendingen-voor-toezicht/5f1a",
		ID:                         "5f1a",
		Graph:                      models.OrganizationGraph("974816591f269bb7d74aa1720922651529f3d3b2a787f5c60b73e5a0384950a4"),
		DecisionTypeLabel:          "Jaarrekening",
		AuthenticityStatus:         strPtr("Ontwerp"),
		FiscalYear:                 strPtr("2023"),
		DecisionDate:               &decided,
		OrganizationName:           "Aalst",
		OrganizationClassification: "Gemeente",
		OrganizationKBO:            "0207437468",
	}
}

func newGolden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestManifestXMLGolden(t *testing.T) {
	files := []models.File{
		{URI: "share://a.pdf", Filename: "jaarrekening.pdf"},
		{URI: "share://b.xlsx", Filename: "bijlage & toelichting.xlsx"},
	}
	data, err := ManifestXML(sampleDossier(), files, true)
	require.NoError(t, err)

	newGolden(t).Assert(t, "manifest_with_publication", data)
}

func TestPublicationXMLGolden(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		data, err := PublicationXML(sampleDossier())
		require.NoError(t, err)
		newGolden(t).Assert(t, "publication_complete", data)
	})

	t.Run("without optionals", func(t *testing.T) {
		d := sampleDossier()
		d.FiscalYear = nil
		d.AuthenticityStatus = nil
		d.DecisionDate = nil
		data, err := PublicationXML(d)
		require.NoError(t, err)
		newGolden(t).Assert(t, "publication_without_optionals", data)
	})
}

func TestManifestWithoutPublicationOmitsEntry(t *testing.T) {
	files := []models.File{{URI: "share://a.pdf", Filename: "a.pdf"}}
	data, err := ManifestXML(sampleDossier(), files, false)
	require.NoError(t, err)

	assert.Contains(t, string(data), "<Bestandsnaam>a.pdf</Bestandsnaam>")
	assert.NotContains(t, string(data), PublicationName)
}

func TestManifestIsWellFormed(t *testing.T) {
	files := []models.File{
		{Filename: "één <twee>.pdf"},
		{Filename: `quote"d.pdf`},
	}
	data, err := ManifestXML(sampleDossier(), files, true)
	require.NoError(t, err)

	var parsed struct {
		XMLName  xml.Name
		Bestand  []string `xml:"Bestanden>Bestand>Bestandsnaam"`
		Sleutels []string `xml:"RouteringsMetadata>ParameterSet>ParameterParameterWaarde>ParameterWaarde"`
	}
	require.NoError(t, xml.Unmarshal(data, &parsed))
	assert.Equal(t, "Borderel", parsed.XMLName.Local)
	assert.Equal(t, manifestNamespace, parsed.XMLName.Space)
	assert.Equal(t, []string{"één <twee>.pdf", `quote"d.pdf`, PublicationName}, parsed.Bestand)
	assert.Equal(t, []string{"0207437468", "PUBLICATIE"}, parsed.Sleutels)
}

func TestPublicationDecisionDateTruncatesTime(t *testing.T) {
	d := sampleDossier()
	decided := time.Date(2024, 2, 29, 23, 15, 0, 0, time.UTC)
	d.DecisionDate = &decided

	assert.Equal(t, "2024-02-29", DecisionDate(d))
	assert.Equal(t, "", DecisionDate(models.Dossier{}))
}

func TestBuilderPersistsUniqueFilesAndReleases(t *testing.T) {
	dir := t.TempDir()
	b := NewBuilder(dir)
	d := sampleDossier()

	first, err := b.BuildPublication(d)
	require.NoError(t, err)
	second, err := b.BuildPublication(d)
	require.NoError(t, err)
	manifest, err := b.BuildManifest(d, []models.File{{Filename: "a.pdf"}}, true)
	require.NoError(t, err)

	assert.NotEqual(t, first.Path, second.Path)
	assert.Equal(t, dir, filepath.Dir(first.Path))
	assert.True(t, strings.HasPrefix(filepath.Base(first.Path), d.ID+"-publicatie-"))
	assert.True(t, strings.HasPrefix(filepath.Base(manifest.Path), d.ID+"-borderel-"))

	written, err := os.ReadFile(manifest.Path)
	require.NoError(t, err)
	expected, err := ManifestXML(d, []models.File{{Filename: "a.pdf"}}, true)
	require.NoError(t, err)
	assert.Equal(t, expected, written)

	for _, desc := range []*Descriptor{first, second, manifest} {
		require.NoError(t, desc.Release())
		require.NoError(t, desc.Release(), "release must be idempotent")
		_, err := os.Stat(desc.Path)
		assert.True(t, os.IsNotExist(err))
	}
}

func TestReleaseToleratesRemovedFile(t *testing.T) {
	desc, err := NewBuilder(t.TempDir()).BuildPublication(sampleDossier())
	require.NoError(t, err)
	require.NoError(t, os.Remove(desc.Path))

	assert.NoError(t, desc.Release())
	var nilDesc *Descriptor
	assert.NoError(t, nilDesc.Release())
}

func TestBuilderFailsOnMissingDir(t *testing.T) {
	b := NewBuilder(filepath.Join(t.TempDir(), "missing"))
	_, err := b.BuildPublication(sampleDossier())
	assert.Error(t, err)
}
