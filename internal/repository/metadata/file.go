package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cha777/pro11-push-update-server/internal/domain/release"
	"github.com/cha777/pro11-push-update-server/internal/fsutil"
	"github.com/cha777/pro11-push-update-server/internal/logger"
)

// Store defines the metadata operations used by the deployment pipeline and the
// read-only boundaries.
type Store interface {
	ReadVersionPointer(ctx context.Context) release.VersionPointer
	WriteVersionPointer(ctx context.Context, partial release.VersionPointer) error
	ReadReleaseLedger(ctx context.Context) *release.ReleaseLedger
	AppendReleaseRecord(ctx context.Context, version string, record release.ReleaseRecord) error
}

// FileStore keeps the metadata documents as indented JSON files.
type FileStore struct {
	// pointerPath is the location of versionInfo.json.
	pointerPath string
	// ledgerPath is the location of prevReleases.json.
	ledgerPath string
	// now stamps the createdDate of appended records.
	now func() time.Time
	// pointerMu serializes access to the version pointer.
	pointerMu sync.Mutex
	// ledgerMu serializes access to the release ledger.
	ledgerMu sync.Mutex
}

// Option customizes a FileStore.
type Option func(*FileStore)

// WithClock replaces the clock used for createdDate.
func WithClock(now func() time.Time) Option {
	return func(s *FileStore) {
		if now != nil {
			s.now = now
		}
	}
}

var errEmptyVersion = errors.New("release version is empty")

// NewFileStore creates a store for the two documents at the provided paths.
func NewFileStore(pointerPath, ledgerPath string, options ...Option) *FileStore {
	s := &FileStore{
		pointerPath: filepath.Clean(pointerPath),
		ledgerPath:  filepath.Clean(ledgerPath),
		now:         time.Now,
	}

	for _, option := range options {
		option(s)
	}

	return s
}

// ReadVersionPointer returns the current pointer or an empty one when the file is
// missing or unreadable.
func (s *FileStore) ReadVersionPointer(ctx context.Context) release.VersionPointer {
	s.pointerMu.Lock()
	defer s.pointerMu.Unlock()

	return s.readPointer(ctx)
}

// WriteVersionPointer merges the non-empty fields of partial into the stored pointer.
func (s *FileStore) WriteVersionPointer(ctx context.Context, partial release.VersionPointer) error {
	s.pointerMu.Lock()
	defer s.pointerMu.Unlock()

	pointer := s.readPointer(ctx).Merge(partial)

	data, err := Encode(pointer)
	if err != nil {
		return release.Wrap(release.ErrMetadataWriteFailed, fmt.Errorf("encode version pointer: %w", err))
	}

	if err = fsutil.ReplaceFile(s.pointerPath, data, fsutil.DefaultFileMode); err != nil {
		return release.Wrap(release.ErrMetadataWriteFailed, fmt.Errorf("write version pointer: %w", err))
	}

	logger.DebugKV(ctx, "Version pointer written", "app", pointer.App, "installer", pointer.Installer)

	return nil
}

// ReadReleaseLedger returns the ledger or an empty one when the file is missing
// or unreadable.
func (s *FileStore) ReadReleaseLedger(ctx context.Context) *release.ReleaseLedger {
	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()

	return s.readLedger(ctx)
}

// AppendReleaseRecord stamps the record's createdDate, validates it and stores it
// under version, replacing any previous record of that version.
func (s *FileStore) AppendReleaseRecord(ctx context.Context, version string, record release.ReleaseRecord) error {
	if version == "" {
		return release.Wrap(release.ErrInvalidReleaseRecord, errEmptyVersion)
	}

	record = record.Clone()
	record.CreatedDate = s.now().Format(release.CreatedDateLayout)

	if err := record.Validate(); err != nil {
		return err
	}

	s.ledgerMu.Lock()
	defer s.ledgerMu.Unlock()

	ledger := s.readLedger(ctx)
	ledger.Releases[version] = record

	data, err := Encode(ledger)
	if err != nil {
		return release.Wrap(release.ErrMetadataWriteFailed, fmt.Errorf("encode release ledger: %w", err))
	}

	if err = fsutil.ReplaceFile(s.ledgerPath, data, fsutil.DefaultFileMode); err != nil {
		return release.Wrap(release.ErrMetadataWriteFailed, fmt.Errorf("write release ledger: %w", err))
	}

	logger.DebugKV(ctx, "Release record appended", "version", version, "releases", len(ledger.Releases))

	return nil
}

// readPointer must be called with pointerMu held.
func (s *FileStore) readPointer(ctx context.Context) release.VersionPointer {
	var pointer release.VersionPointer

	if err := readDocument(s.pointerPath, &pointer); err != nil {
		logUnreadable(ctx, s.pointerPath, err)

		return release.VersionPointer{}
	}

	return pointer
}

// readLedger must be called with ledgerMu held.
func (s *FileStore) readLedger(ctx context.Context) *release.ReleaseLedger {
	ledger := release.NewReleaseLedger()

	if err := readDocument(s.ledgerPath, ledger); err != nil {
		logUnreadable(ctx, s.ledgerPath, err)

		return release.NewReleaseLedger()
	}

	if ledger.Releases == nil {
		ledger.Releases = make(map[string]release.ReleaseRecord)
	}

	return ledger
}

// readDocument decodes the JSON file at path into v.
func readDocument(path string, v any) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err = json.Unmarshal(contents, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	return nil
}

// logUnreadable reports a fail-open read. A missing file is expected before the first deploy.
func logUnreadable(ctx context.Context, path string, err error) {
	if errors.Is(err, os.ErrNotExist) {
		logger.DebugKV(ctx, "Metadata document does not exist yet", "file", filepath.Base(path))

		return
	}

	logger.WarnKV(ctx, "Metadata document is unreadable, using an empty one",
		"file", filepath.Base(path), "error", err)
}

// Encode renders v the way the metadata documents are stored: two-space indent,
// no HTML escaping, no trailing newline.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer

	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(v); err != nil {
		return nil, err
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
