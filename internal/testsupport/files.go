package testsupport

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/Lllllllleong/dossierpackager/internal/models"
	"github.com/Lllllllleong/dossierpackager/internal/store"
)

// WriteFile stores content under root with a generated physical name and
// returns the file as it is referenced from the store.
func WriteFile(t testing.TB, root, filename string, content []byte) models.File {
	t.Helper()

	physical := uuid.NewString() + path.Ext(filename)
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", root, err)
	}
	if err := os.WriteFile(filepath.Join(root, physical), content, 0o644); err != nil {
		t.Fatalf("write %s: %v", physical, err)
	}
	return models.File{
		URI:      "share://" + physical,
		Filename: filename,
		Format:   "application/octet-stream",
		Size:     int64(len(content)),
	}
}

// AttachFile writes content under root and attaches it to the submission.
func AttachFile(t testing.TB, s *store.SQLiteStore, root string, sub store.Submission, filename string, content []byte) models.File {
	t.Helper()

	f := WriteFile(t, root, filename, content)
	attachment := store.Attachment{
		UploadURI: "http://data.lblod.info/files/" + uuid.NewString(),
		File:      f,
	}
	if err := s.Attach(context.Background(), sub.Graph, sub.URI, attachment); err != nil {
		t.Fatalf("store.Attach: %v", err)
	}
	return f
}
