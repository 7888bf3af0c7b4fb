package packager

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	domain "github.com/cha777/pro11-push-update-server/internal/domain/release"
	"github.com/cha777/pro11-push-update-server/internal/fsutil"
	"github.com/cha777/pro11-push-update-server/internal/logger"
	"github.com/cha777/pro11-push-update-server/internal/repository/metadata"
)

// Options contains inputs for the packager entry point.
type Options struct {
	// DescriptionPath is the YAML description of the release.
	DescriptionPath string
	// SourceDir holds the release files.
	SourceDir string
	// OutputDir receives {label}_build.zip. Defaults to the working directory.
	OutputDir string
	// VersionName optionally cross-checks the label.
	VersionName string
}

// checksumManifest is the checksums.yaml document.
type checksumManifest struct {
	// Files maps names relative to the manifest to base64 checksums.
	Files map[string]string `yaml:"files"`
}

var (
	errReservedName = errors.New("source file collides with a generated document")
	errEmptySource  = errors.New("source directory has no files")
)

// Run executes the packaging workflow.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "release-packager")

	desc, err := LoadDescription(opts.DescriptionPath)
	if err != nil {
		return fmt.Errorf("load description: %w", err)
	}

	if err = desc.Validate(opts.VersionName); err != nil {
		return fmt.Errorf("validate description: %w", err)
	}

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = "."
	}

	path, err := Build(ctx, desc, opts.SourceDir, outputDir)
	if err != nil {
		return fmt.Errorf("packager failed: %w", err)
	}

	logger.InfoKV(ctx, "Packager completed successfully", "bundle", path, "label", desc.Label)

	return nil
}

// Build packs sourceDir according to desc and writes the bundle into outputDir.
// It returns the bundle path.
func Build(ctx context.Context, desc *Description, sourceDir, outputDir string) (string, error) {
	now := time.Now()

	installer, err := buildInstaller(ctx, desc, sourceDir, now)
	if err != nil {
		return "", err
	}

	outer := newArchiveWriter(now)
	outer.addDir(desc.Label)
	outer.addFile(desc.nestedName(), installer)

	data, err := outer.bytes()
	if err != nil {
		return "", fmt.Errorf("build bundle: %w", err)
	}

	path := filepath.Join(outputDir, desc.ArchiveName())
	if err = fsutil.ReplaceFile(path, data, fsutil.DefaultFileMode); err != nil {
		return "", fmt.Errorf("write bundle: %w", err)
	}

	return path, nil
}

// buildInstaller renders the nested installer archive.
func buildInstaller(ctx context.Context, desc *Description, sourceDir string, ts time.Time) ([]byte, error) {
	versionInfo, err := metadata.Encode(domain.VersionPointer{App: desc.App, Installer: desc.Installer})
	if err != nil {
		return nil, fmt.Errorf("encode version info: %w", err)
	}

	releaseNote, err := metadata.Encode(domain.ReleaseNote{desc.App: desc.Notes})
	if err != nil {
		return nil, fmt.Errorf("encode release note: %w", err)
	}

	installer := newArchiveWriter(ts)
	installer.addFile(domain.VersionInfoFilename, versionInfo)
	installer.addFile(domain.ReleaseNoteFilename, releaseNote)

	manifest := checksumManifest{Files: make(map[string]string)}

	err = filepath.WalkDir(sourceDir, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if entry.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}

		name := filepath.ToSlash(rel)
		if installer.has(name) || name == domain.ChecksumsFilename {
			return fmt.Errorf("%s: %w", name, errReservedName)
		}

		contents, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		sum, err := fsutil.Checksum(contents)
		if err != nil {
			return err
		}

		installer.addFile(name, contents)
		manifest.Files[name] = base64.StdEncoding.EncodeToString(sum)

		logger.DebugKV(ctx, "Packed file", "name", name, "size", len(contents))

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", sourceDir, err)
	}

	if len(manifest.Files) == 0 {
		return nil, fmt.Errorf("%s: %w", sourceDir, errEmptySource)
	}

	checksums, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("encode checksums: %w", err)
	}

	installer.addFile(domain.ChecksumsFilename, checksums)

	data, err := installer.bytes()
	if err != nil {
		return nil, fmt.Errorf("build installer archive: %w", err)
	}

	return data, nil
}
