// Package archive assembles delivery bundles: a ZIP holding the source files
// of a dossier next to its Borderel.xml and Publicatie.xml descriptors.
package archive

import (
	"archive/zip"
	"compress/flate"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Lllllllleong/dossierpackager/internal/descriptor"
	"github.com/Lllllllleong/dossierpackager/internal/models"
)

// ShareScheme prefixes every logical storage reference.
const ShareScheme = "share://"

const pdfFormat = "application/pdf"

// ErrUnsafePath is returned for references or entry names that would leave
// the storage root or the archive.
var ErrUnsafePath = errors.New("unsafe path")

// ErrDuplicateEntry is returned when two archive entries would share a name,
// including a source file named like one of the descriptors.
var ErrDuplicateEntry = errors.New("duplicate archive entry")

// Assembler writes archives below Root, where share:// references resolve.
type Assembler struct {
	Root        string
	ValidatePDF bool
}

// NewAssembler returns an Assembler rooted at root.
func NewAssembler(root string, validatePDF bool) *Assembler {
	return &Assembler{Root: root, ValidatePDF: validatePDF}
}

// ResolvePath maps a share:// reference to a path under Root.
func (a *Assembler) ResolvePath(uri string) (string, error) {
	rel, ok := strings.CutPrefix(uri, ShareScheme)
	if !ok {
		return "", fmt.Errorf("%w: %q is not a %s reference", ErrUnsafePath, uri, ShareScheme)
	}
	if !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", fmt.Errorf("%w: %q escapes the storage root", ErrUnsafePath, uri)
	}
	return filepath.Join(a.Root, filepath.FromSlash(rel)), nil
}

// ShareURI returns the share:// reference of a file name directly under Root.
func ShareURI(name string) string {
	return ShareScheme + name
}

// Assemble writes the archive name under Root and returns its share:// URI.
// Both descriptors are released whatever the outcome. A release failure after
// the archive is published is logged and does not fail the call.
func (a *Assembler) Assemble(ctx context.Context, name string, files []models.File, manifest, publication *descriptor.Descriptor) (uri string, err error) {
	defer func() {
		err = releaseDescriptors(name, err, manifest, publication)
	}()

	if manifest == nil || publication == nil {
		return "", errors.New("assemble requires both descriptors")
	}
	if !filepath.IsLocal(name) || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: archive name %q", ErrUnsafePath, name)
	}
	logCtx := slog.With("archive", name, "fileCount", len(files))

	seen := map[string]string{
		entryKey(descriptor.ManifestName):    descriptor.ManifestName,
		entryKey(descriptor.PublicationName): descriptor.PublicationName,
	}
	sources := make([]string, len(files))
	for i, f := range files {
		if !entryNameOK(f.Filename) {
			return "", fmt.Errorf("%w: entry name %q of %s", ErrUnsafePath, f.Filename, f.URI)
		}
		if prev, ok := seen[entryKey(f.Filename)]; ok {
			return "", fmt.Errorf("%w: %q of %s collides with %q", ErrDuplicateEntry, f.Filename, f.URI, prev)
		}
		seen[entryKey(f.Filename)] = f.Filename
		path, err := a.ResolvePath(f.URI)
		if err != nil {
			return "", err
		}
		if a.ValidatePDF && f.Format == pdfFormat {
			if err := validatePDF(path); err != nil {
				return "", fmt.Errorf("validate %s: %w", f.Filename, err)
			}
		}
		sources[i] = path
	}

	out, err := os.CreateTemp(a.Root, "."+name+".*.partial")
	if err != nil {
		return "", fmt.Errorf("create in-progress archive: %w", err)
	}
	partial := out.Name()
	committed := false
	defer func() {
		if !committed {
			_ = out.Close()
			if rmErr := os.Remove(partial); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				logCtx.Warn("Failed to remove partial archive.", "path", partial, "error", rmErr)
			}
		}
	}()

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := addFile(zw, sources[i], f.Filename); err != nil {
			return "", err
		}
	}
	if err := addFile(zw, manifest.Path, descriptor.ManifestName); err != nil {
		return "", err
	}
	if err := addFile(zw, publication.Path, descriptor.PublicationName); err != nil {
		return "", err
	}

	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("finalize archive: %w", err)
	}
	if err := out.Sync(); err != nil {
		return "", fmt.Errorf("sync archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(partial, filepath.Join(a.Root, name)); err != nil {
		return "", fmt.Errorf("publish archive: %w", err)
	}
	committed = true

	logCtx.Info("Archive written.")
	return ShareURI(name), nil
}

func addFile(zw *zip.Writer, src, entry string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", entry, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", entry, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("source of %s is not a regular file", entry)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("header for %s: %w", entry, err)
	}
	header.Name = entry
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("add entry %s: %w", entry, err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("compress %s: %w", entry, err)
	}
	return nil
}

// releaseDescriptors releases both descriptors. Release errors are joined into
// a failed assembly and only logged for a published one.
func releaseDescriptors(name string, err error, ds ...*descriptor.Descriptor) error {
	var releaseErrs []error
	for _, d := range ds {
		releaseErrs = append(releaseErrs, d.Release())
	}
	releaseErr := errors.Join(releaseErrs...)
	if releaseErr == nil {
		return err
	}
	if err == nil {
		slog.Warn("Failed to release descriptors after writing archive.", "archive", name, "error", releaseErr)
		return nil
	}
	return errors.Join(err, releaseErr)
}

// entryKey folds case so names that collide on case-insensitive filesystems
// are caught too.
func entryKey(name string) string {
	return strings.ToLower(name)
}

// entryNameOK rejects names that would extract outside the target directory.
func entryNameOK(name string) bool {
	if name == "" || strings.ContainsRune(name, '\\') {
		return false
	}
	return filepath.IsLocal(name) && !strings.Contains(name, "/")
}

func validatePDF(path string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return api.ValidateFile(path, cfg)
}
