package archive

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/dossierpackager/internal/descriptor"
	"github.com/Lllllllleong/dossierpackager/internal/models"
	"github.com/Lllllllleong/dossierpackager/internal/testsupport"
)

func descriptors(t *testing.T, files []models.File) (*descriptor.Descriptor, *descriptor.Descriptor) {
	t.Helper()
	d := models.Dossier{ID: "d1", OrganizationKBO: "0207437468", OrganizationName: "Aalst"}
	b := descriptor.NewBuilder(t.TempDir())
	publication, err := b.BuildPublication(d)
	require.NoError(t, err)
	manifest, err := b.BuildManifest(d, files, true)
	require.NoError(t, err)
	return manifest, publication
}

func readEntries(t *testing.T, path string) map[string][]byte {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	entries := make(map[string][]byte)
	for _, f := range r.File {
		assert.Equal(t, zip.Deflate, f.Method, f.Name)
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		entries[f.Name] = data
	}
	return entries
}

func TestAssembleWritesFilesAndDescriptors(t *testing.T) {
	root := t.TempDir()
	files := []models.File{
		testsupport.WriteFile(t, root, "jaarrekening.pdf", []byte("%PDF-1.4 fake")),
		testsupport.WriteFile(t, root, "toelichting.xlsx", []byte("sheet")),
	}
	manifest, publication := descriptors(t, files)
	wantManifest, err := os.ReadFile(manifest.Path)
	require.NoError(t, err)

	a := NewAssembler(root, false)
	uri, err := a.Assemble(context.Background(), "bundle.zip", files, manifest, publication)
	require.NoError(t, err)
	assert.Equal(t, "share://bundle.zip", uri)

	entries := readEntries(t, filepath.Join(root, "bundle.zip"))
	assert.Len(t, entries, 4)
	assert.Equal(t, []byte("%PDF-1.4 fake"), entries["jaarrekening.pdf"])
	assert.Equal(t, []byte("sheet"), entries["toelichting.xlsx"])
	assert.Equal(t, wantManifest, entries["Borderel.xml"])
	assert.Contains(t, string(entries["Publicatie.xml"]), "n1:PublicatieBeleidsrapport")

	for _, d := range []*descriptor.Descriptor{manifest, publication} {
		_, err := os.Stat(d.Path)
		assert.True(t, os.IsNotExist(err), "descriptor %s must be released", d.Path)
	}

	leftovers, err := filepath.Glob(filepath.Join(root, ".*.partial"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestAssembleMissingSourceFails(t *testing.T) {
	root := t.TempDir()
	files := []models.File{
		testsupport.WriteFile(t, root, "present.pdf", []byte("ok")),
		{URI: "share://gone.pdf", Filename: "gone.pdf"},
	}
	manifest, publication := descriptors(t, files)

	uri, err := NewAssembler(root, false).Assemble(context.Background(), "bundle.zip", files, manifest, publication)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Empty(t, uri)

	_, statErr := os.Stat(filepath.Join(root, "bundle.zip"))
	assert.True(t, os.IsNotExist(statErr))
	leftovers, err := filepath.Glob(filepath.Join(root, ".*.partial"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
	_, statErr = os.Stat(manifest.Path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestAssembleRejectsUnsafePaths(t *testing.T) {
	root := t.TempDir()
	good := testsupport.WriteFile(t, root, "a.pdf", []byte("a"))

	cases := []struct {
		name    string
		archive string
		file    models.File
	}{
		{"reference escapes root", "bundle.zip", models.File{URI: "share://../etc/passwd", Filename: "passwd"}},
		{"absolute reference", "bundle.zip", models.File{URI: "share:///etc/passwd", Filename: "passwd"}},
		{"foreign scheme", "bundle.zip", models.File{URI: "file:///etc/passwd", Filename: "passwd"}},
		{"entry with directory", "bundle.zip", models.File{URI: good.URI, Filename: "../a.pdf"}},
		{"archive in subdirectory", "sub/bundle.zip", good},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			files := []models.File{tc.file}
			manifest, publication := descriptors(t, files)
			_, err := NewAssembler(root, false).Assemble(context.Background(), tc.archive, files, manifest, publication)
			assert.ErrorIs(t, err, ErrUnsafePath)
		})
	}
}

func TestAssembleRejectsInvalidPDFWhenValidating(t *testing.T) {
	root := t.TempDir()
	f := testsupport.WriteFile(t, root, "broken.pdf", []byte("not a pdf"))
	f.Format = "application/pdf"
	files := []models.File{f}
	manifest, publication := descriptors(t, files)

	_, err := NewAssembler(root, true).Assemble(context.Background(), "bundle.zip", files, manifest, publication)
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(root, "bundle.zip"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestAssembleHonoursCancellation(t *testing.T) {
	root := t.TempDir()
	files := []models.File{testsupport.WriteFile(t, root, "a.pdf", []byte("a"))}
	manifest, publication := descriptors(t, files)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewAssembler(root, false).Assemble(ctx, "bundle.zip", files, manifest, publication)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolvePath(t *testing.T) {
	a := NewAssembler("/data/files", false)

	path, err := a.ResolvePath("share://2024/upload.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data/files", "2024", "upload.pdf"), path)

	_, err = a.ResolvePath("share://a/../../b")
	assert.ErrorIs(t, err, ErrUnsafePath)
}

func TestAssembleRejectsDuplicateEntries(t *testing.T) {
	root := t.TempDir()

	cases := []struct {
		name  string
		files []models.File
	}{
		{"source named like the manifest", []models.File{
			testsupport.WriteFile(t, root, "Borderel.xml", []byte("<x/>")),
			testsupport.WriteFile(t, root, "a.pdf", []byte("a")),
		}},
		{"source named like the publication", []models.File{
			testsupport.WriteFile(t, root, "publicatie.XML", []byte("<x/>")),
		}},
		{"two sources with one name", []models.File{
			testsupport.WriteFile(t, root, "a.pdf", []byte("a")),
			testsupport.WriteFile(t, root, "a.pdf", []byte("b")),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			manifest, publication := descriptors(t, tc.files)
			uri, err := NewAssembler(root, false).Assemble(context.Background(), "bundle.zip", tc.files, manifest, publication)
			assert.ErrorIs(t, err, ErrDuplicateEntry)
			assert.Empty(t, uri)

			_, statErr := os.Stat(filepath.Join(root, "bundle.zip"))
			assert.True(t, os.IsNotExist(statErr))
			_, statErr = os.Stat(manifest.Path)
			assert.True(t, os.IsNotExist(statErr))
		})
	}
}

func TestReleaseFailureAfterPublishIsNotAnError(t *testing.T) {
	// Removing a non-empty directory fails, which makes Release report an error.
	stuck := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(stuck, "keep"), []byte("x"), 0o644))
	bad := &descriptor.Descriptor{Path: stuck}

	assert.NoError(t, releaseDescriptors("bundle.zip", nil, bad))

	failed := errors.New("compress failed")
	bad = &descriptor.Descriptor{Path: stuck}
	err := releaseDescriptors("bundle.zip", failed, bad, nil)
	assert.ErrorIs(t, err, failed)
	assert.ErrorContains(t, err, "remove descriptor")
}
