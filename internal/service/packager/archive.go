package packager

import (
	"archive/zip"
	"bytes"
	"fmt"
	"slices"
	"strings"
	"time"
)

// archiveWriter builds a zip archive with deterministic ordering and timestamps.
type archiveWriter struct {
	// files maps slash separated entry names to contents. Names ending in "/" are directories.
	files map[string][]byte
	// ts is the modification time of every entry.
	ts time.Time
}

// newArchiveWriter creates a new writer instance.
func newArchiveWriter(ts time.Time) *archiveWriter {
	return &archiveWriter{
		files: make(map[string][]byte),
		ts:    ts,
	}
}

// addFile adds a file to be included in the archive.
func (w *archiveWriter) addFile(name string, content []byte) {
	w.files[name] = content
}

// addDir adds a directory entry.
func (w *archiveWriter) addDir(name string) {
	w.files[strings.TrimSuffix(name, "/")+"/"] = nil
}

// has reports whether name was added.
func (w *archiveWriter) has(name string) bool {
	_, ok := w.files[name]

	return ok
}

// bytes renders the archive.
func (w *archiveWriter) bytes() ([]byte, error) {
	names := make([]string, 0, len(w.files))
	for name := range w.files {
		names = append(names, name)
	}

	slices.Sort(names)

	var buf bytes.Buffer

	zw := zip.NewWriter(&buf)

	for _, name := range names {
		header := &zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: w.ts,
		}

		if strings.HasSuffix(name, "/") {
			header.Method = zip.Store
		}

		entry, err := zw.CreateHeader(header)
		if err != nil {
			return nil, fmt.Errorf("create entry %s: %w", name, err)
		}

		if _, err = entry.Write(w.files[name]); err != nil {
			return nil, fmt.Errorf("write entry %s: %w", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}

	return buf.Bytes(), nil
}
