package testutil

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/cha777/pro11-push-update-server/internal/domain/release"
	"github.com/cha777/pro11-push-update-server/internal/fsutil"
)

const (
	// Label is the label of the default fixture release.
	Label = "1021000001"
	// VersionName matches Label.
	VersionName = "10.2.1_2024-06-01-01"
	// App is the application version of the default fixture release.
	App = "10.2.1"
	// Installer is the installer version of the default fixture release.
	Installer = "3.1.0"
)

// Release describes a fixture bundle.
type Release struct {
	// Label names the top-level directory and the nested archive prefix.
	Label string
	// VersionInfo is written as versionInfo.json unless RawVersionInfo is set.
	VersionInfo release.VersionPointer
	// Notes is written as releaseNote.json unless RawReleaseNote is set.
	Notes release.ReleaseNote
	// RawVersionInfo replaces the encoded versionInfo.json; "-" omits the file.
	RawVersionInfo string
	// RawReleaseNote replaces the encoded releaseNote.json; "-" omits the file.
	RawReleaseNote string
	// Files are the payload files of the nested archive.
	Files map[string][]byte
	// WithChecksums adds checksums.yaml covering Files.
	WithChecksums bool
	// Extra entries are added to the outer archive as is.
	Extra map[string][]byte
}

// DefaultRelease returns a valid release for Label.
func DefaultRelease() Release {
	return Release{
		Label:       Label,
		VersionInfo: release.VersionPointer{App: App, Installer: Installer},
		Notes: release.ReleaseNote{
			App: {
				release.LocaleEnglish: "Bug fixes",
				release.LocaleFrench:  "Corrections",
			},
		},
		Files: map[string][]byte{
			"setup.exe":     []byte("installer binary"),
			"app/app.bin":   []byte("application binary"),
			"app/README.md": []byte("read me"),
		},
	}
}

// NestedArchive returns the bytes of the nested installer archive.
func (r Release) NestedArchive(t *testing.T) []byte {
	t.Helper()

	entries := make(map[string][]byte, len(r.Files)+3)
	for name, data := range r.Files {
		entries[name] = data
	}

	if r.RawVersionInfo != "-" {
		entries[release.VersionInfoFilename] = documentOrRaw(t, r.VersionInfo, r.RawVersionInfo)
	}

	if r.RawReleaseNote != "-" {
		entries[release.ReleaseNoteFilename] = documentOrRaw(t, r.Notes, r.RawReleaseNote)
	}

	if r.WithChecksums {
		entries[release.ChecksumsFilename] = Checksums(t, r.Files)
	}

	return ZipBytes(t, entries)
}

// NestedName is the path of the nested archive inside the bundle.
func (r Release) NestedName() string {
	return r.Label + "/" + r.Label + "_installer.zip"
}

// Entries returns the outer archive entries.
func (r Release) Entries(t *testing.T) map[string][]byte {
	t.Helper()

	entries := map[string][]byte{
		r.Label + "/":  nil,
		r.NestedName(): r.NestedArchive(t),
	}

	for name, data := range r.Extra {
		entries[name] = data
	}

	return entries
}

// Write stores the bundle in dir as {label}_build.zip and returns its path.
func (r Release) Write(t *testing.T, dir string) string {
	t.Helper()

	path := filepath.Join(dir, r.Label+"_build.zip")
	WriteZip(t, path, r.Entries(t))

	return path
}

// Checksums renders a checksums.yaml document for files.
func Checksums(t *testing.T, files map[string][]byte) []byte {
	t.Helper()

	manifest := struct {
		Files map[string]string `yaml:"files"`
	}{
		Files: make(map[string]string, len(files)),
	}

	for name, data := range files {
		sum, err := fsutil.Checksum(data)
		require.NoError(t, err)

		manifest.Files[name] = base64.StdEncoding.EncodeToString(sum)
	}

	data, err := yaml.Marshal(manifest)
	require.NoError(t, err)

	return data
}

// ZipBytes builds an archive in memory. Names ending in "/" become directories.
func ZipBytes(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}

	slices.Sort(names)

	var buf bytes.Buffer

	writer := zip.NewWriter(&buf)

	for _, name := range names {
		w, err := writer.Create(name)
		require.NoError(t, err)

		if strings.HasSuffix(name, "/") {
			continue
		}

		_, err = w.Write(entries[name])
		require.NoError(t, err)
	}

	require.NoError(t, writer.Close())

	return buf.Bytes()
}

// WriteZip writes an archive built by ZipBytes to path.
func WriteZip(t *testing.T, path string, entries map[string][]byte) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, ZipBytes(t, entries), 0o600))
}

// WriteFile writes data to dir/name, creating parent directories.
func WriteFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()

	path := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func documentOrRaw(t *testing.T, v any, raw string) []byte {
	t.Helper()

	if raw != "" {
		return []byte(raw)
	}

	data, err := json.Marshal(v)
	require.NoError(t, err)

	return data
}
