package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var (
	// ErrUnknownFormat is returned when neither magic bytes nor the
	// extension identify the archive.
	ErrUnknownFormat = errors.New("archive: unknown format")

	// ErrEncrypted is returned when an entry is password protected.
	ErrEncrypted = errors.New("archive: entry is encrypted")
)

// File describes one archive entry.
type File struct {
	// Name is the decoded UTF-8 path, '/'-separated.
	Name string

	// Dir reports whether the entry is a directory marker.
	Dir bool

	open func() (io.ReadCloser, error)
}

// Open returns the entry's content. For stream-based formats the
// returned reader is only valid until the next call to Reader.Next.
func (f *File) Open() (io.ReadCloser, error) {
	return f.open()
}

// Reader iterates over archive entries in archive order.
type Reader interface {
	// Next returns the next entry, or io.EOF after the last one.
	Next() (*File, error)

	Close() error
}

// Open opens the archive at path with the reader for its detected
// format.
func Open(path string) (Reader, error) {
	format, err := Detect(path)
	if err != nil {
		return nil, err
	}
	switch format {
	case FormatZip:
		return openZip(path)
	case FormatRar:
		return openRar(path)
	case Format7z:
		return openSevenZip(path)
	case FormatLZH:
		return openLHA(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, filepath.Base(path))
	}
}

// ExtractTo extracts the archive at path into destDir, creating it if
// needed. Entries whose names would escape destDir are skipped.
func ExtractTo(ctx context.Context, path, destDir string) error {
	r, err := Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		f, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		rel := filepath.FromSlash(f.Name)
		if !filepath.IsLocal(rel) {
			continue
		}
		dest := filepath.Join(destDir, rel)

		if f.Dir {
			if err := os.MkdirAll(dest, 0755); err != nil {
				return err
			}
			continue
		}

		if err := writeEntry(f, dest); err != nil {
			return fmt.Errorf("extract %q: %w", f.Name, err)
		}
	}
}

func writeEntry(f *File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}

	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
