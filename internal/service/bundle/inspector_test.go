package bundle

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cha777/pro11-push-update-server/internal/domain/release"
	"github.com/cha777/pro11-push-update-server/internal/testutil"
)

func newTestInspector(t *testing.T) (*Inspector, string) {
	t.Helper()

	scratch := filepath.Join(t.TempDir(), "extract")

	inspector, err := NewInspector(scratch)
	require.NoError(t, err)

	return inspector, scratch
}

func requireEmptyScratch(t *testing.T, scratch string) {
	t.Helper()

	entries, err := os.ReadDir(scratch)
	if os.IsNotExist(err) {
		return
	}

	require.NoError(t, err)
	require.Empty(t, entries)
}

// TestInspect_ValidBundle verifies documents are decoded and the label directory is extracted.
func TestInspect_ValidBundle(t *testing.T) {
	t.Parallel()

	inspector, scratch := newTestInspector(t)
	fixture := testutil.DefaultRelease()
	fixture.WithChecksums = true
	archive := fixture.Write(t, t.TempDir())

	extracted, err := inspector.Inspect(context.Background(), archive, testutil.Label)
	require.NoError(t, err)

	require.Equal(t, testutil.Label, extracted.Label)
	require.Equal(t, release.VersionPointer{App: testutil.App, Installer: testutil.Installer}, extracted.VersionInfo)

	notes, ok := extracted.ReleaseNote.For(testutil.App)
	require.True(t, ok)
	require.Equal(t, "Bug fixes", notes[release.LocaleEnglish])

	require.Equal(t, filepath.Join(extracted.ScratchDir, testutil.Label), extracted.ReleaseDir)
	require.FileExists(t, extracted.InstallerArchive)
	require.Equal(t, scratch, filepath.Dir(extracted.ScratchDir))

	entries, err := os.ReadDir(extracted.ReleaseDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, testutil.Label+"_installer.zip", entries[0].Name())
}

// TestInspect_InvalidStructure covers the partitioning rules.
func TestInspect_InvalidStructure(t *testing.T) {
	t.Parallel()

	cases := map[string]func(r *testutil.Release){
		"stray file next to installer": func(r *testutil.Release) {
			r.Extra = map[string][]byte{testutil.Label + "/readme.txt": []byte("hi")}
		},
		"second installer": func(r *testutil.Release) {
			r.Extra = map[string][]byte{testutil.Label + "/" + testutil.Label + "_other.zip": testutil.ZipBytes(t, nil)}
		},
		"top-level file": func(r *testutil.Release) {
			r.Extra = map[string][]byte{"notes.txt": []byte("hi")}
		},
		"path traversal": func(r *testutil.Release) {
			r.Extra = map[string][]byte{"../evil.txt": []byte("x")}
		},
		"missing version info": func(r *testutil.Release) {
			r.RawVersionInfo = "-"
		},
		"missing release note": func(r *testutil.Release) {
			r.RawReleaseNote = "-"
		},
		"empty app version": func(r *testutil.Release) {
			r.RawVersionInfo = `{"app": "", "installer": "3.1.0"}`
		},
		"version info is not json": func(r *testutil.Release) {
			r.RawVersionInfo = `app=10.2.1`
		},
		"release note is not an object": func(r *testutil.Release) {
			r.RawReleaseNote = `["EN"]`
		},
		"release note text is not a string": func(r *testutil.Release) {
			r.RawReleaseNote = `{"10.2.1": {"EN": 1}}`
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			inspector, scratch := newTestInspector(t)
			fixture := testutil.DefaultRelease()
			mutate(&fixture)
			archive := fixture.Write(t, t.TempDir())

			_, err := inspector.Inspect(context.Background(), archive, testutil.Label)
			require.ErrorIs(t, err, release.ErrInvalidBundle)
			requireEmptyScratch(t, scratch)
		})
	}
}

// TestInspect_WrongLabel verifies a bundle built for another label is rejected.
func TestInspect_WrongLabel(t *testing.T) {
	t.Parallel()

	inspector, _ := newTestInspector(t)
	archive := testutil.DefaultRelease().Write(t, t.TempDir())

	_, err := inspector.Inspect(context.Background(), archive, "1021000002")
	require.ErrorIs(t, err, release.ErrInvalidBundle)

	_, err = inspector.Inspect(context.Background(), archive, "")
	require.ErrorIs(t, err, release.ErrInvalidBundle)
}

// TestInspect_NestedNotArchive verifies a corrupt installer archive is an invalid bundle.
func TestInspect_NestedNotArchive(t *testing.T) {
	t.Parallel()

	inspector, scratch := newTestInspector(t)
	fixture := testutil.DefaultRelease()
	archive := filepath.Join(t.TempDir(), "bundle.zip")
	testutil.WriteZip(t, archive, map[string][]byte{
		fixture.NestedName(): []byte("not a zip"),
	})

	_, err := inspector.Inspect(context.Background(), archive, testutil.Label)
	require.ErrorIs(t, err, release.ErrInvalidBundle)
	requireEmptyScratch(t, scratch)
}

// TestInspect_ChecksumMismatch verifies checksums.yaml is enforced.
func TestInspect_ChecksumMismatch(t *testing.T) {
	t.Parallel()

	inspector, _ := newTestInspector(t)
	fixture := testutil.DefaultRelease()

	nested := map[string][]byte{
		release.VersionInfoFilename: []byte(`{"app": "10.2.1", "installer": "3.1.0"}`),
		release.ReleaseNoteFilename: []byte(`{"10.2.1": {"EN": "x", "AR": "y"}}`),
		"setup.exe":                 []byte("tampered"),
		release.ChecksumsFilename:   testutil.Checksums(t, map[string][]byte{"setup.exe": []byte("original")}),
	}

	archive := filepath.Join(t.TempDir(), "bundle.zip")
	testutil.WriteZip(t, archive, map[string][]byte{
		fixture.NestedName(): testutil.ZipBytes(t, nested),
	})

	_, err := inspector.Inspect(context.Background(), archive, testutil.Label)
	require.ErrorIs(t, err, release.ErrInvalidBundle)

	delete(nested, "setup.exe")
	testutil.WriteZip(t, archive, map[string][]byte{
		fixture.NestedName(): testutil.ZipBytes(t, nested),
	})

	_, err = inspector.Inspect(context.Background(), archive, testutil.Label)
	require.ErrorIs(t, err, release.ErrInvalidBundle)
}

// TestInspect_UnreadableUpload separates malformed uploads from I/O failures.
func TestInspect_UnreadableUpload(t *testing.T) {
	t.Parallel()

	inspector, _ := newTestInspector(t)
	dir := t.TempDir()

	notZip := filepath.Join(dir, testutil.Label+"_build.zip")
	require.NoError(t, os.WriteFile(notZip, []byte("plain text"), 0o600))

	_, err := inspector.Inspect(context.Background(), notZip, testutil.Label)
	require.ErrorIs(t, err, release.ErrInvalidBundle)

	_, err = inspector.Inspect(context.Background(), filepath.Join(dir, "missing.zip"), testutil.Label)
	require.ErrorIs(t, err, release.ErrExtractionFailed)
}

// TestInspect_Canceled verifies extraction stops on a canceled context.
func TestInspect_Canceled(t *testing.T) {
	t.Parallel()

	inspector, scratch := newTestInspector(t)
	archive := testutil.DefaultRelease().Write(t, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := inspector.Inspect(ctx, archive, testutil.Label)
	require.ErrorIs(t, err, release.ErrExtractionFailed)
	require.ErrorIs(t, err, context.Canceled)
	requireEmptyScratch(t, scratch)
}
