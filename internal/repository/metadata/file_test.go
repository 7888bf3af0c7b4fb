package metadata

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cha777/pro11-push-update-server/internal/domain/release"
)

func newTestStore(t *testing.T) (*FileStore, string) {
	t.Helper()

	dir := t.TempDir()
	clock := func() time.Time {
		return time.Date(2024, time.June, 1, 23, 59, 0, 0, time.UTC)
	}

	store := NewFileStore(
		filepath.Join(dir, release.VersionInfoFilename),
		filepath.Join(dir, release.PrevReleasesFilename),
		WithClock(clock),
	)

	return store, dir
}

func validRecord() release.ReleaseRecord {
	return release.NewReleaseRecord("10.2.1", "10.2.1_2024-06-01-01", map[string]string{
		release.LocaleEnglish: "Bug fixes",
		release.LocaleArabic:  "إصلاحات",
	})
}

// TestFileStore_FailOpen verifies reads of missing or corrupt documents return empty ones.
func TestFileStore_FailOpen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, dir := newTestStore(t)

	require.Equal(t, release.VersionPointer{}, store.ReadVersionPointer(ctx))

	ledger := store.ReadReleaseLedger(ctx)
	require.Empty(t, ledger.Releases)
	require.Equal(t, release.DefaultMessageType, ledger.MsgType)

	require.NoError(t, os.WriteFile(filepath.Join(dir, release.VersionInfoFilename), []byte("{broken"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, release.PrevReleasesFilename), []byte("[]"), 0o600))

	require.Equal(t, release.VersionPointer{}, store.ReadVersionPointer(ctx))
	require.Empty(t, store.ReadReleaseLedger(ctx).Releases)
}

// TestFileStore_WriteVersionPointer_Merges checks that only supplied fields change.
func TestFileStore_WriteVersionPointer_Merges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, dir := newTestStore(t)

	require.NoError(t, store.WriteVersionPointer(ctx, release.VersionPointer{App: "10.2.0", Installer: "3.1.0"}))
	require.NoError(t, store.WriteVersionPointer(ctx, release.VersionPointer{App: "10.2.1"}))

	require.Equal(t, release.VersionPointer{App: "10.2.1", Installer: "3.1.0"}, store.ReadVersionPointer(ctx))

	data, err := os.ReadFile(filepath.Join(dir, release.VersionInfoFilename))
	require.NoError(t, err)
	require.Equal(t, "{\n  \"app\": \"10.2.1\",\n  \"installer\": \"3.1.0\"\n}", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

// TestFileStore_AppendReleaseRecord_Roundtrip ensures appended records are read back with the stamped date.
func TestFileStore_AppendReleaseRecord_Roundtrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, dir := newTestStore(t)

	require.NoError(t, store.AppendReleaseRecord(ctx, "10.2.1", validRecord()))

	ledger := store.ReadReleaseLedger(ctx)
	require.Len(t, ledger.Releases, 1)

	got := ledger.Releases["10.2.1"]
	require.Equal(t, "20240601", got.CreatedDate)
	require.Equal(t, "10.2.1_2024-06-01-01", got.VersionName)
	require.Equal(t, "Bug fixes", got.Notes[release.LocaleEnglish])

	data, err := os.ReadFile(filepath.Join(dir, release.PrevReleasesFilename))
	require.NoError(t, err)
	require.Contains(t, string(data), "\"msgType\": 2")
	require.Contains(t, string(data), "\"createdDate\": \"20240601\"")

	// Same version overwrites.
	record := validRecord()
	record.Notes[release.LocaleEnglish] = "More fixes"
	require.NoError(t, store.AppendReleaseRecord(ctx, "10.2.1", record))

	ledger = store.ReadReleaseLedger(ctx)
	require.Len(t, ledger.Releases, 1)
	require.Equal(t, "More fixes", ledger.Releases["10.2.1"].Notes[release.LocaleEnglish])
}

// TestFileStore_AppendReleaseRecord_KeepsTopLevelRecords moves records written
// next to "releases" into it instead of dropping them.
func TestFileStore_AppendReleaseRecord_KeepsTopLevelRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, dir := newTestStore(t)

	legacy := `{
  "releases": {},
  "msgType": 2,
  "10.2.0": {"EN": "Old fixes", "FR": "Anciennes corrections", "version": "10.2.0", "versionName": "10.2.0_a", "createdDate": "20240501"}
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, release.PrevReleasesFilename), []byte(legacy), 0o600))

	require.NoError(t, store.AppendReleaseRecord(ctx, "10.2.1", validRecord()))

	ledger := store.ReadReleaseLedger(ctx)
	require.Len(t, ledger.Releases, 2)
	require.Equal(t, "10.2.0_a", ledger.Releases["10.2.0"].VersionName)
	require.Equal(t, "Anciennes corrections", ledger.Releases["10.2.0"].Notes[release.LocaleFrench])

	var onDisk map[string]json.RawMessage

	data, err := os.ReadFile(filepath.Join(dir, release.PrevReleasesFilename))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &onDisk))
	require.NotContains(t, onDisk, "10.2.0")
}

// TestFileStore_AppendReleaseRecord_Invalid verifies the ledger invariant is enforced before writing.
func TestFileStore_AppendReleaseRecord_Invalid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, dir := newTestStore(t)

	noEnglish := release.NewReleaseRecord("10.2.1", "10.2.1_x", map[string]string{release.LocaleArabic: "x"})
	err := store.AppendReleaseRecord(ctx, "10.2.1", noEnglish)
	require.ErrorIs(t, err, release.ErrInvalidReleaseRecord)

	englishOnly := release.NewReleaseRecord("10.2.1", "10.2.1_x", map[string]string{release.LocaleEnglish: "x"})
	err = store.AppendReleaseRecord(ctx, "10.2.1", englishOnly)
	require.ErrorIs(t, err, release.ErrInvalidReleaseRecord)

	err = store.AppendReleaseRecord(ctx, "", validRecord())
	require.ErrorIs(t, err, release.ErrInvalidReleaseRecord)

	_, err = os.Stat(filepath.Join(dir, release.PrevReleasesFilename))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestFileStore_WriteFailure maps file system errors to MetadataWriteFailed.
func TestFileStore_WriteFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	store := NewFileStore(filepath.Join(blocker, "versionInfo.json"), filepath.Join(blocker, "prevReleases.json"))

	err := store.WriteVersionPointer(ctx, release.VersionPointer{App: "1"})
	require.ErrorIs(t, err, release.ErrMetadataWriteFailed)

	err = store.AppendReleaseRecord(ctx, "10.2.1", validRecord())
	require.ErrorIs(t, err, release.ErrMetadataWriteFailed)
}

// TestFileStore_ConcurrentWrites runs pointer and ledger writes side by side.
func TestFileStore_ConcurrentWrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _ := newTestStore(t)

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(2)

		go func() {
			defer wg.Done()

			require.NoError(t, store.WriteVersionPointer(ctx, release.VersionPointer{App: "10.2.1", Installer: "3.1.0"}))
		}()

		go func() {
			defer wg.Done()

			require.NoError(t, store.AppendReleaseRecord(ctx, "10.2.1", validRecord()))
		}()
	}

	wg.Wait()

	require.True(t, store.ReadVersionPointer(ctx).IsComplete())
	require.Len(t, store.ReadReleaseLedger(ctx).Releases, 1)
}

func TestEncode(t *testing.T) {
	t.Parallel()

	data, err := Encode(map[string]string{"note": "<b>&</b>"})
	require.NoError(t, err)
	require.Equal(t, "{\n  \"note\": \"<b>&</b>\"\n}", string(data))
}
