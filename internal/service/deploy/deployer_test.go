package deploy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cha777/pro11-push-update-server/internal/domain/release"
	"github.com/cha777/pro11-push-update-server/internal/fsutil"
	"github.com/cha777/pro11-push-update-server/internal/repository/metadata"
	"github.com/cha777/pro11-push-update-server/internal/service/bundle"
	"github.com/cha777/pro11-push-update-server/internal/service/snapshot"
	"github.com/cha777/pro11-push-update-server/internal/testutil"
)

const seededLedger = `{
  "releases": {
    "10.2.0": {
      "EN": "Old",
      "FR": "Ancien",
      "version": "10.2.0",
      "versionName": "10.2.0_2024-05-01-01",
      "createdDate": "20240501"
    }
  },
  "msgType": 2
}`

// recordingMetrics keeps the observed statuses.
type recordingMetrics struct {
	mu        sync.Mutex
	statuses  []string
	rollbacks []string
}

func (m *recordingMetrics) ObserveDeploy(status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.statuses = append(m.statuses, status)
}

func (m *recordingMetrics) IncRollback(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollbacks = append(m.rollbacks, result)
}

// recordingEvents keeps the published deployments.
type recordingEvents struct {
	mu       sync.Mutex
	deployed []*release.Deployed
}

func (e *recordingEvents) PublishDeployed(_ context.Context, deployed *release.Deployed) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.deployed = append(e.deployed, deployed)

	return nil
}

func (e *recordingEvents) Close() {}

// failingStore fails every ledger append.
type failingStore struct {
	metadata.Store
}

func (failingStore) AppendReleaseRecord(context.Context, string, release.ReleaseRecord) error {
	return release.Wrap(release.ErrMetadataWriteFailed, errors.New("no space left on device"))
}

type harness struct {
	assets    string
	uploads   string
	snapshots string
	scratch   string
	guard     *Guard
	store     *metadata.FileStore
	metrics   *recordingMetrics
	events    *recordingEvents
	deployer  *Deployer
}

func newHarness(t *testing.T, customize ...func(*Dependencies)) *harness {
	t.Helper()

	dir := t.TempDir()
	h := &harness{
		assets:    filepath.Join(dir, "assets"),
		uploads:   filepath.Join(dir, "uploads"),
		snapshots: filepath.Join(dir, "work", "backups"),
		scratch:   filepath.Join(dir, "work", "extract"),
		metrics:   new(recordingMetrics),
		events:    new(recordingEvents),
	}

	pointer := filepath.Join(h.assets, release.VersionInfoFilename)
	ledger := filepath.Join(h.assets, release.PrevReleasesFilename)

	h.guard = NewGuard(filepath.Join(dir, "work", "deploy.marker"))
	h.store = metadata.NewFileStore(pointer, ledger)

	inspector, err := bundle.NewInspector(h.scratch)
	require.NoError(t, err)

	deps := Dependencies{
		AssetsRoot: h.assets,
		Guard:      h.guard,
		Inspector:  inspector,
		Snapshots:  snapshot.NewManager(h.assets, h.snapshots, []string{pointer, ledger}),
		Store:      h.store,
		Metrics:    h.metrics,
		Events:     h.events,
		NewID:      func() string { return "deployment-1" },
	}

	for _, c := range customize {
		c(&deps)
	}

	h.deployer, err = New(deps)
	require.NoError(t, err)

	return h
}

func (h *harness) seed(t *testing.T) {
	t.Helper()

	testutil.WriteFile(t, h.assets, release.VersionInfoFilename, []byte("{\n  \"app\": \"10.2.0\",\n  \"installer\": \"3.0.0\"\n}"))
	testutil.WriteFile(t, h.assets, release.PrevReleasesFilename, []byte(seededLedger))
	testutil.WriteFile(t, h.assets, "10.2.0/1020000001_installer.zip", []byte("10.2.0 installer"))
	testutil.WriteFile(t, h.assets, "10.2.1/previous_attempt.zip", []byte("older 10.2.1 files"))
}

func (h *harness) upload(t *testing.T, fixture testutil.Release, fileName string) string {
	t.Helper()

	path := filepath.Join(h.uploads, fileName)
	testutil.WriteZip(t, path, fixture.Entries(t))

	return path
}

func (h *harness) hash(t *testing.T) []byte {
	t.Helper()

	sum, err := fsutil.HashDir(h.assets)
	require.NoError(t, err)

	return sum
}

func requireNoLeftovers(t *testing.T, dirs ...string) {
	t.Helper()

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}

		require.NoError(t, err)
		require.Empty(t, entries, dir)
	}
}

// TestDeploy_FirstRelease deploys into an empty assets root.
func TestDeploy_FirstRelease(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	path := h.upload(t, testutil.DefaultRelease(), "upload-0001")

	deployed, err := h.deployer.Deploy(ctx, Request{
		UploadPath:  path,
		FileName:    testutil.Label + "_build.zip",
		VersionName: testutil.VersionName,
	})
	require.NoError(t, err)

	require.Equal(t, "deployment-1", deployed.DeploymentID)
	require.Equal(t, testutil.Label, deployed.Label)
	require.Equal(t, testutil.App, deployed.App)
	require.Equal(t, testutil.Installer, deployed.Installer)
	require.Equal(t, filepath.Join(h.assets, testutil.App), deployed.ReleaseDir)

	require.FileExists(t, filepath.Join(h.assets, testutil.App, testutil.Label+"_installer.zip"))
	require.Equal(t,
		release.VersionPointer{App: testutil.App, Installer: testutil.Installer},
		h.store.ReadVersionPointer(ctx))

	record := h.store.ReadReleaseLedger(ctx).Releases[testutil.App]
	require.Equal(t, testutil.VersionName, record.VersionName)
	require.Equal(t, "Bug fixes", record.Notes[release.LocaleEnglish])
	require.Len(t, record.CreatedDate, len(release.CreatedDateLayout))

	require.NoFileExists(t, path)
	requireNoLeftovers(t, h.snapshots, h.scratch)
	require.Equal(t, []string{"ok"}, h.metrics.statuses)
	require.Len(t, h.events.deployed, 1)
}

// TestDeploy_ReplacesExistingVersion keeps other releases and ledger entries.
func TestDeploy_ReplacesExistingVersion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t)
	h.seed(t)

	path := h.upload(t, testutil.DefaultRelease(), testutil.Label+"_build.zip")

	_, err := h.deployer.Deploy(ctx, Request{UploadPath: path, VersionName: testutil.VersionName})
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(h.assets, testutil.App))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, testutil.Label+"_installer.zip", entries[0].Name())

	require.FileExists(t, filepath.Join(h.assets, "10.2.0", "1020000001_installer.zip"))

	ledger := h.store.ReadReleaseLedger(ctx)
	require.Len(t, ledger.Releases, 2)
	require.Equal(t, "20240501", ledger.Releases["10.2.0"].CreatedDate)
	requireNoLeftovers(t, h.snapshots, h.scratch)
}

// TestDeploy_InvalidLabel fails before any snapshot is taken.
func TestDeploy_InvalidLabel(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seed(t)
	before := h.hash(t)

	fixture := testutil.DefaultRelease()
	fixture.Label = "9999000001"
	path := h.upload(t, fixture, "9999000001_build.zip")

	_, err := h.deployer.Deploy(context.Background(), Request{UploadPath: path, VersionName: testutil.VersionName})
	require.ErrorIs(t, err, release.ErrInvalidLabel)

	require.NoDirExists(t, h.snapshots)
	require.NoFileExists(t, path)
	require.Equal(t, before, h.hash(t))
	require.Equal(t, []string{"InvalidLabel"}, h.metrics.statuses)
	require.Empty(t, h.metrics.rollbacks)
}

// TestDeploy_FailuresRestoreAssets checks that every failure after the snapshot
// leaves the assets root byte-identical.
func TestDeploy_FailuresRestoreAssets(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		mutate    func(*testutil.Release)
		customize func(*Dependencies)
		kind      error
	}{
		{
			name: "stray file in label directory",
			mutate: func(r *testutil.Release) {
				r.Extra = map[string][]byte{testutil.Label + "/readme.txt": []byte("hi")}
			},
			kind: release.ErrInvalidBundle,
		},
		{
			name: "release note without translation",
			mutate: func(r *testutil.Release) {
				r.Notes = release.ReleaseNote{testutil.App: {release.LocaleEnglish: "Only English"}}
			},
			kind: release.ErrInvalidReleaseRecord,
		},
		{
			name: "release note for other versions",
			mutate: func(r *testutil.Release) {
				r.Notes = release.ReleaseNote{
					"9.0.0": {release.LocaleEnglish: "a", release.LocaleArabic: "b"},
					"9.0.1": {release.LocaleEnglish: "a", release.LocaleArabic: "b"},
				}
			},
			kind: release.ErrInvalidReleaseRecord,
		},
		{
			name: "ledger write fails",
			customize: func(deps *Dependencies) {
				deps.Store = failingStore{Store: deps.Store}
			},
			kind: release.ErrMetadataWriteFailed,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var customize []func(*Dependencies)
			if tc.customize != nil {
				customize = append(customize, tc.customize)
			}

			h := newHarness(t, customize...)
			h.seed(t)
			before := h.hash(t)

			fixture := testutil.DefaultRelease()
			if tc.mutate != nil {
				tc.mutate(&fixture)
			}

			path := h.upload(t, fixture, testutil.Label+"_build.zip")

			_, err := h.deployer.Deploy(context.Background(), Request{UploadPath: path, VersionName: testutil.VersionName})
			require.ErrorIs(t, err, tc.kind)

			require.Equal(t, before, h.hash(t))
			require.NoFileExists(t, path)
			requireNoLeftovers(t, h.snapshots, h.scratch)
			require.Equal(t, []string{"restored"}, h.metrics.rollbacks)
			require.Empty(t, h.events.deployed)
		})
	}
}

// TestDeploy_Canceled stops before the release is placed.
func TestDeploy_Canceled(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.seed(t)
	before := h.hash(t)

	path := h.upload(t, testutil.DefaultRelease(), testutil.Label+"_build.zip")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.deployer.Deploy(ctx, Request{UploadPath: path, VersionName: testutil.VersionName})
	require.ErrorIs(t, err, release.ErrExtractionFailed)
	require.Equal(t, before, h.hash(t))
}

// TestDeploy_InProgress rejects a deployment while another one holds the guard.
func TestDeploy_InProgress(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	path := h.upload(t, testutil.DefaultRelease(), testutil.Label+"_build.zip")

	unlock, err := h.guard.Acquire(context.Background())
	require.NoError(t, err)

	_, err = h.deployer.Deploy(context.Background(), Request{UploadPath: path, VersionName: testutil.VersionName})
	require.ErrorIs(t, err, release.ErrDeploymentInProgress)
	require.NoFileExists(t, path)

	unlock()

	path = h.upload(t, testutil.DefaultRelease(), testutil.Label+"_build.zip")
	_, err = h.deployer.Deploy(context.Background(), Request{UploadPath: path, VersionName: testutil.VersionName})
	require.NoError(t, err)
}

func TestNew_MissingDependency(t *testing.T) {
	t.Parallel()

	_, err := New(Dependencies{AssetsRoot: t.TempDir()})
	require.ErrorIs(t, err, errMissingDependency)
}
