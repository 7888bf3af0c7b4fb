package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cha777/pro11-push-update-server/internal/domain/release"
	"github.com/cha777/pro11-push-update-server/internal/fsutil"
	"github.com/cha777/pro11-push-update-server/internal/logger"
)

const (
	// DirectoryLayout names snapshot directories.
	DirectoryLayout = "20060102150405"
	// ManifestFilename describes the snapshot content.
	ManifestFilename = "snapshot.yaml"

	// documentsDirname holds the saved metadata documents.
	documentsDirname = "documents"
	// releasesDirname holds displaced release directories.
	releasesDirname = "releases"
)

// Handle identifies a snapshot and records what it captured.
type Handle struct {
	// Dir is the snapshot directory.
	Dir string `yaml:"-"`
	// Label is the label of the deployment that took the snapshot.
	Label string `yaml:"label"`
	// CreatedAt is when the snapshot was taken.
	CreatedAt time.Time `yaml:"created_at"`
	// Documents maps each live document path to whether it existed.
	Documents map[string]bool `yaml:"documents"`
	// Displaced lists the release directory names moved out of the assets root.
	Displaced []string `yaml:"displaced,omitempty"`
}

// Manager takes, restores and discards snapshots of one assets root.
type Manager struct {
	// assetsRoot holds the live release directories.
	assetsRoot string
	// root is the parent of the snapshot directories.
	root string
	// documents are the live metadata documents to capture.
	documents []string
	// now names the snapshot directories.
	now func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces the clock used to name snapshots.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

var (
	errNilHandle      = errors.New("snapshot handle is nil")
	errInvalidRelease = errors.New("invalid release directory name")
	errSnapshotExists = errors.New("snapshot already exists")
)

// NewManager creates a manager for assetsRoot storing snapshots under root.
// documents are the metadata files captured by every snapshot; relative
// document paths are resolved against assetsRoot.
func NewManager(assetsRoot, root string, documents []string, options ...Option) *Manager {
	m := &Manager{
		assetsRoot: filepath.Clean(assetsRoot),
		root:       filepath.Clean(root),
		documents:  make([]string, 0, len(documents)),
		now:        time.Now,
	}

	for _, document := range documents {
		if !filepath.IsAbs(document) {
			document = filepath.Join(m.assetsRoot, document)
		}

		m.documents = append(m.documents, filepath.Clean(document))
	}

	for _, option := range options {
		option(m)
	}

	return m
}

// Snapshot copies the metadata documents and moves assetsRoot/label, when it
// exists, into a new snapshot directory. Failures are BackupFailed and leave
// the assets root untouched.
func (m *Manager) Snapshot(ctx context.Context, label string) (*Handle, error) {
	ctx = logger.WithName(ctx, "snapshot")

	createdAt := m.now()
	handle := &Handle{
		Dir:       filepath.Join(m.root, createdAt.Format(DirectoryLayout)),
		Label:     label,
		CreatedAt: createdAt,
		Documents: make(map[string]bool, len(m.documents)),
	}

	// A leftover may be a snapshot kept after an incomplete rollback.
	if fsutil.Exists(handle.Dir) {
		logger.WarnKV(ctx, "Snapshot with the same timestamp already exists", "snapshot", filepath.Base(handle.Dir))

		return nil, release.Wrap(release.ErrBackupFailed,
			fmt.Errorf("snapshot %s: %w", filepath.Base(handle.Dir), errSnapshotExists))
	}

	if err := m.capture(ctx, handle); err != nil {
		m.abandon(ctx, handle)

		return nil, release.Wrap(release.ErrBackupFailed, err)
	}

	logger.InfoKV(ctx, "Snapshot taken",
		"snapshot", filepath.Base(handle.Dir),
		"displaced", handle.Displaced)

	return handle, nil
}

func (m *Manager) capture(ctx context.Context, handle *Handle) error {
	if err := os.MkdirAll(filepath.Join(handle.Dir, documentsDirname), fsutil.DefaultDirMode); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	for _, document := range m.documents {
		exists := fsutil.Exists(document)
		handle.Documents[document] = exists

		if !exists {
			continue
		}

		if err := fsutil.CopyFile(document, m.savedDocument(handle, document)); err != nil {
			return fmt.Errorf("copy %s: %w", filepath.Base(document), err)
		}
	}

	if err := m.writeManifest(handle); err != nil {
		return err
	}

	return m.Displace(ctx, handle, handle.Label)
}

// abandon undoes a partially taken snapshot.
func (m *Manager) abandon(ctx context.Context, handle *Handle) {
	for _, name := range handle.Displaced {
		if err := fsutil.MoveDir(m.savedRelease(handle, name), filepath.Join(m.assetsRoot, name)); err != nil {
			logger.ErrorKV(ctx, "Failed to move back release directory, keeping snapshot",
				"release", name, "snapshot", handle.Dir, "error", err)

			return
		}
	}

	_ = os.RemoveAll(handle.Dir)
}

// Displace moves assetsRoot/name into the snapshot. A missing directory or one
// already displaced is not an error.
func (m *Manager) Displace(ctx context.Context, handle *Handle, name string) error {
	if handle == nil {
		return errNilHandle
	}

	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return fmt.Errorf("%q: %w", name, errInvalidRelease)
	}

	live := filepath.Join(m.assetsRoot, name)
	if !fsutil.Exists(live) || slices.Contains(handle.Displaced, name) {
		return nil
	}

	if err := fsutil.MoveDir(live, m.savedRelease(handle, name)); err != nil {
		return fmt.Errorf("displace release %s: %w", name, err)
	}

	handle.Displaced = append(handle.Displaced, name)

	logger.DebugKV(ctx, "Release directory displaced", "release", name)

	return m.writeManifest(handle)
}

// Restore puts the captured state back: saved documents are written back,
// documents that did not exist are removed, and displaced directories are moved
// back, replacing whatever took their place. Every step is attempted; secondary
// failures are reported together as RollbackIncomplete and the snapshot is kept.
func (m *Manager) Restore(ctx context.Context, handle *Handle) error {
	if handle == nil {
		return errNilHandle
	}

	ctx = logger.WithName(ctx, "snapshot")

	var errs []error

	for document, existed := range handle.Documents {
		if err := m.restoreDocument(handle, document, existed); err != nil {
			logger.ErrorKV(ctx, "Failed to restore document", "file", filepath.Base(document), "error", err)
			errs = append(errs, err)
		}
	}

	for _, name := range slices.Backward(handle.Displaced) {
		if err := m.restoreRelease(handle, name); err != nil {
			logger.ErrorKV(ctx, "Failed to restore release directory", "release", name, "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return release.Wrap(release.ErrRollbackIncomplete, errors.Join(errs...))
	}

	logger.InfoKV(ctx, "Snapshot restored", "snapshot", filepath.Base(handle.Dir))

	return nil
}

func (m *Manager) restoreDocument(handle *Handle, document string, existed bool) error {
	if !existed {
		if err := os.Remove(document); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", filepath.Base(document), err)
		}

		return nil
	}

	data, err := os.ReadFile(m.savedDocument(handle, document))
	if err != nil {
		return fmt.Errorf("read saved %s: %w", filepath.Base(document), err)
	}

	if err = fsutil.ReplaceFile(document, data, fsutil.DefaultFileMode); err != nil {
		return fmt.Errorf("restore %s: %w", filepath.Base(document), err)
	}

	return nil
}

func (m *Manager) restoreRelease(handle *Handle, name string) error {
	live := filepath.Join(m.assetsRoot, name)

	if err := os.RemoveAll(live); err != nil {
		return fmt.Errorf("clear release %s: %w", name, err)
	}

	if err := fsutil.MoveDir(m.savedRelease(handle, name), live); err != nil {
		return fmt.Errorf("move back release %s: %w", name, err)
	}

	return nil
}

// Discard deletes the snapshot directory. An already removed snapshot is not an
// error; other failures are logged and returned for information only.
func (m *Manager) Discard(ctx context.Context, handle *Handle) error {
	if handle == nil {
		return nil
	}

	if err := os.RemoveAll(handle.Dir); err != nil {
		logger.WarnKV(logger.WithName(ctx, "snapshot"), "Failed to discard snapshot",
			"snapshot", filepath.Base(handle.Dir), "error", err)

		return fmt.Errorf("discard snapshot: %w", err)
	}

	return nil
}

func (m *Manager) savedDocument(handle *Handle, document string) string {
	return filepath.Join(handle.Dir, documentsDirname, filepath.Base(document))
}

func (m *Manager) savedRelease(handle *Handle, name string) string {
	return filepath.Join(handle.Dir, releasesDirname, name)
}

func (m *Manager) writeManifest(handle *Handle) error {
	data, err := yaml.Marshal(handle)
	if err != nil {
		return fmt.Errorf("encode snapshot manifest: %w", err)
	}

	if err = os.WriteFile(filepath.Join(handle.Dir, ManifestFilename), data, fsutil.DefaultFileMode); err != nil {
		return fmt.Errorf("write snapshot manifest: %w", err)
	}

	return nil
}
