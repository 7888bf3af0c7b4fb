package bundle

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cha777/pro11-push-update-server/internal/domain/release"
	"github.com/cha777/pro11-push-update-server/internal/fsutil"
	"github.com/cha777/pro11-push-update-server/internal/logger"
)

// ExtractedRelease is the result of a successful inspection.
type ExtractedRelease struct {
	// Label is the bundle label.
	Label string
	// VersionInfo is the decoded versionInfo.json of the nested archive.
	VersionInfo release.VersionPointer
	// ReleaseNote is the decoded releaseNote.json of the nested archive.
	ReleaseNote release.ReleaseNote
	// ReleaseDir is the extracted label directory, ready to be moved into place.
	ReleaseDir string
	// InstallerArchive is the extracted nested archive inside ReleaseDir.
	InstallerArchive string
	// ScratchDir holds everything extracted; the caller removes it.
	ScratchDir string
}

// Inspector validates bundles and extracts them into a scratch area.
type Inspector struct {
	// scratchRoot is the parent of per-inspection scratch directories.
	scratchRoot string
	// schemas validate the embedded documents.
	schemas *documentSchemas
}

// checksumManifest is the layout of checksums.yaml.
type checksumManifest struct {
	// Files maps a path inside the nested archive to its base64 SHA-512 checksum.
	Files map[string]string `yaml:"files"`
}

var (
	errEmptyLabel          = errors.New("label is empty")
	errNoInstaller         = errors.New("no installer archive for label")
	errMultipleInstallers  = errors.New("more than one installer archive for label")
	errUnexpectedEntries   = errors.New("unexpected entries")
	errMissingDocument     = errors.New("document missing from installer archive")
	errMissingChecksumFile = errors.New("file listed in checksums is missing")
	errChecksumMismatch    = errors.New("checksum mismatch")
)

// NewInspector creates an inspector extracting under scratchRoot.
func NewInspector(scratchRoot string) (*Inspector, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	return &Inspector{
		scratchRoot: filepath.Clean(scratchRoot),
		schemas:     schemas,
	}, nil
}

// Inspect validates the bundle at archivePath for label, extracts it and reads
// the embedded documents. Structural problems are InvalidBundle, I/O problems
// are ExtractionFailed. On error nothing is left in the scratch area.
func (i *Inspector) Inspect(ctx context.Context, archivePath, label string) (*ExtractedRelease, error) {
	ctx = logger.WithName(ctx, "bundle")

	if label == "" {
		return nil, release.Wrap(release.ErrInvalidBundle, errEmptyLabel)
	}

	reader, err := zip.OpenReader(filepath.Clean(archivePath))
	if err != nil {
		if reader != nil {
			_ = reader.Close()
		}

		return nil, wrapArchiveError("open bundle", err)
	}

	defer func() {
		_ = reader.Close()
	}()

	installer, err := partition(reader.File, label)
	if err != nil {
		return nil, err
	}

	if err = os.MkdirAll(i.scratchRoot, fsutil.DefaultDirMode); err != nil {
		return nil, release.Wrap(release.ErrExtractionFailed, fmt.Errorf("create scratch root: %w", err))
	}

	scratch, err := os.MkdirTemp(i.scratchRoot, label+"-")
	if err != nil {
		return nil, release.Wrap(release.ErrExtractionFailed, fmt.Errorf("create scratch directory: %w", err))
	}

	extracted, err := i.extractAndRead(ctx, reader.File, scratch, label, installer)
	if err != nil {
		if removeErr := os.RemoveAll(scratch); removeErr != nil {
			logger.WarnKV(ctx, "Failed to remove scratch directory", "error", removeErr)
		}

		return nil, err
	}

	logger.InfoKV(ctx, "Bundle inspected",
		"label", label,
		"app", extracted.VersionInfo.App,
		"installer", extracted.VersionInfo.Installer)

	return extracted, nil
}

func (i *Inspector) extractAndRead(
	ctx context.Context,
	files []*zip.File,
	scratch, label string,
	installer *zip.File,
) (*ExtractedRelease, error) {
	if err := extractAll(ctx, files, scratch); err != nil {
		return nil, err
	}

	installerPath := filepath.Join(scratch, filepath.FromSlash(installer.Name))

	versionInfo, notes, err := i.readInstaller(installerPath)
	if err != nil {
		return nil, err
	}

	return &ExtractedRelease{
		Label:            label,
		VersionInfo:      versionInfo,
		ReleaseNote:      notes,
		ReleaseDir:       filepath.Join(scratch, label),
		InstallerArchive: installerPath,
		ScratchDir:       scratch,
	}, nil
}

// partition splits the bundle entries into the installer archive and anything
// else. Directory entries are ignored.
func partition(files []*zip.File, label string) (*zip.File, error) {
	var (
		prefix  = label + "/" + label + "_"
		valid   []*zip.File
		invalid []string
	)

	for _, file := range files {
		name := file.Name

		if !fs.ValidPath(strings.TrimSuffix(name, "/")) {
			invalid = append(invalid, name)

			continue
		}

		if strings.HasSuffix(name, "/") || file.FileInfo().IsDir() {
			continue
		}

		if strings.HasPrefix(name, prefix) &&
			path.Dir(name) == label &&
			strings.EqualFold(path.Ext(name), ".zip") {
			valid = append(valid, file)

			continue
		}

		invalid = append(invalid, name)
	}

	switch {
	case len(invalid) > 0:
		return nil, release.Wrap(release.ErrInvalidBundle,
			fmt.Errorf("%w: %s", errUnexpectedEntries, strings.Join(invalid, ", ")))
	case len(valid) == 0:
		return nil, release.Wrap(release.ErrInvalidBundle, fmt.Errorf("%s: %w", label, errNoInstaller))
	case len(valid) > 1:
		return nil, release.Wrap(release.ErrInvalidBundle, fmt.Errorf("%s: %w", label, errMultipleInstallers))
	}

	return valid[0], nil
}

// extractAll unpacks every entry under dir. Entry names were checked by partition.
func extractAll(ctx context.Context, files []*zip.File, dir string) error {
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return release.Wrap(release.ErrExtractionFailed, err)
		}

		target := filepath.Join(dir, filepath.FromSlash(strings.TrimSuffix(file.Name, "/")))

		if strings.HasSuffix(file.Name, "/") || file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, fsutil.DefaultDirMode); err != nil {
				return release.Wrap(release.ErrExtractionFailed, fmt.Errorf("create directory: %w", err))
			}

			continue
		}

		if err := extractFile(file, target); err != nil {
			return release.Wrap(release.ErrExtractionFailed, fmt.Errorf("extract %s: %w", file.Name, err))
		}
	}

	return nil
}

func extractFile(file *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), fsutil.DefaultDirMode); err != nil {
		return err
	}

	source, err := file.Open()
	if err != nil {
		return err
	}

	defer func() {
		_ = source.Close()
	}()

	mode := file.Mode().Perm()
	if mode == 0 {
		mode = fsutil.DefaultFileMode
	}

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, source); err != nil {
		_ = out.Close()

		return err
	}

	return out.Close()
}

// readInstaller opens the nested archive and decodes its documents.
func (i *Inspector) readInstaller(installerPath string) (release.VersionPointer, release.ReleaseNote, error) {
	var (
		versionInfo release.VersionPointer
		notes       release.ReleaseNote
	)

	reader, err := zip.OpenReader(installerPath)
	if err != nil {
		if reader != nil {
			_ = reader.Close()
		}

		return versionInfo, nil, wrapArchiveError("open installer archive", err)
	}

	defer func() {
		_ = reader.Close()
	}()

	data, err := readDocument(reader.File, release.VersionInfoFilename)
	if err != nil {
		return versionInfo, nil, err
	}

	if err = decodeValidated(i.schemas.versionInfo, data, &versionInfo); err != nil {
		return versionInfo, nil, release.Wrap(release.ErrInvalidBundle,
			fmt.Errorf("%s: %w", release.VersionInfoFilename, err))
	}

	data, err = readDocument(reader.File, release.ReleaseNoteFilename)
	if err != nil {
		return versionInfo, nil, err
	}

	if err = decodeValidated(i.schemas.releaseNote, data, &notes); err != nil {
		return versionInfo, nil, release.Wrap(release.ErrInvalidBundle,
			fmt.Errorf("%s: %w", release.ReleaseNoteFilename, err))
	}

	if err = verifyChecksums(reader.File); err != nil {
		return versionInfo, nil, err
	}

	return versionInfo, notes, nil
}

// readDocument reads the shallowest entry whose base name is name.
func readDocument(files []*zip.File, name string) ([]byte, error) {
	file := findByBase(files, name)
	if file == nil {
		return nil, release.Wrap(release.ErrInvalidBundle, fmt.Errorf("%s: %w", name, errMissingDocument))
	}

	data, err := readEntry(file)
	if err != nil {
		return nil, release.Wrap(release.ErrExtractionFailed, fmt.Errorf("read %s: %w", name, err))
	}

	return data, nil
}

// verifyChecksums checks the files listed in checksums.yaml, when present.
// Listed names are relative to the manifest's directory.
func verifyChecksums(files []*zip.File) error {
	manifestFile := findByBase(files, release.ChecksumsFilename)
	if manifestFile == nil {
		return nil
	}

	data, err := readEntry(manifestFile)
	if err != nil {
		return release.Wrap(release.ErrExtractionFailed, fmt.Errorf("read checksums: %w", err))
	}

	var manifest checksumManifest
	if err = yaml.Unmarshal(data, &manifest); err != nil {
		return release.Wrap(release.ErrInvalidBundle, fmt.Errorf("decode checksums: %w", err))
	}

	byName := make(map[string]*zip.File, len(files))
	for _, file := range files {
		byName[file.Name] = file
	}

	base := path.Dir(manifestFile.Name)

	for name, encoded := range manifest.Files {
		file, ok := byName[path.Join(base, name)]
		if !ok {
			return release.Wrap(release.ErrInvalidBundle, fmt.Errorf("%s: %w", name, errMissingChecksumFile))
		}

		want, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return release.Wrap(release.ErrInvalidBundle, fmt.Errorf("decode checksum of %s: %w", name, err))
		}

		contents, err := readEntry(file)
		if err != nil {
			return release.Wrap(release.ErrExtractionFailed, fmt.Errorf("read %s: %w", name, err))
		}

		got, err := fsutil.Checksum(contents)
		if err != nil {
			return release.Wrap(release.ErrExtractionFailed, err)
		}

		if !bytes.Equal(want, got) {
			return release.Wrap(release.ErrInvalidBundle, fmt.Errorf("%s: %w", name, errChecksumMismatch))
		}
	}

	return nil
}

// findByBase returns the entry named name closest to the archive root.
func findByBase(files []*zip.File, name string) *zip.File {
	var candidates []*zip.File

	for _, file := range files {
		if strings.HasSuffix(file.Name, "/") {
			continue
		}

		if path.Base(file.Name) == name {
			candidates = append(candidates, file)
		}
	}

	if len(candidates) == 0 {
		return nil
	}

	slices.SortFunc(candidates, func(a, b *zip.File) int {
		if depthA, depthB := strings.Count(a.Name, "/"), strings.Count(b.Name, "/"); depthA != depthB {
			return depthA - depthB
		}

		return strings.Compare(a.Name, b.Name)
	})

	return candidates[0]
}

func readEntry(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = rc.Close()
	}()

	return io.ReadAll(rc)
}

// wrapArchiveError classifies archive open failures: a malformed archive is an
// invalid bundle, anything else an extraction failure.
func wrapArchiveError(action string, err error) error {
	if errors.Is(err, zip.ErrFormat) ||
		errors.Is(err, zip.ErrAlgorithm) ||
		errors.Is(err, zip.ErrChecksum) ||
		errors.Is(err, zip.ErrInsecurePath) {
		return release.Wrap(release.ErrInvalidBundle, fmt.Errorf("%s: %w", action, err))
	}

	return release.Wrap(release.ErrExtractionFailed, fmt.Errorf("%s: %w", action, err))
}
