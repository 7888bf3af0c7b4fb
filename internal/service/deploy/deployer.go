package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cha777/pro11-push-update-server/internal/domain/release"
	"github.com/cha777/pro11-push-update-server/internal/events"
	"github.com/cha777/pro11-push-update-server/internal/fsutil"
	"github.com/cha777/pro11-push-update-server/internal/logger"
	"github.com/cha777/pro11-push-update-server/internal/metrics"
	"github.com/cha777/pro11-push-update-server/internal/repository/metadata"
	"github.com/cha777/pro11-push-update-server/internal/service/bundle"
	"github.com/cha777/pro11-push-update-server/internal/service/snapshot"
)

// Inspector validates and extracts an uploaded bundle.
type Inspector interface {
	Inspect(ctx context.Context, archivePath, label string) (*bundle.ExtractedRelease, error)
}

// Snapshotter captures and restores the assets root.
type Snapshotter interface {
	Snapshot(ctx context.Context, label string) (*snapshot.Handle, error)
	Displace(ctx context.Context, handle *snapshot.Handle, name string) error
	Restore(ctx context.Context, handle *snapshot.Handle) error
	Discard(ctx context.Context, handle *snapshot.Handle) error
}

// Request is one deployment request.
type Request struct {
	// UploadPath is where the uploaded bundle is stored. It is removed when Deploy returns.
	UploadPath string
	// FileName is the client-side file name the label is derived from.
	// The base name of UploadPath is used when empty.
	FileName string
	// VersionName is the caller-declared version name.
	VersionName string
}

// Dependencies are the components a Deployer is built from.
type Dependencies struct {
	// AssetsRoot holds the live release directories.
	AssetsRoot string
	// Guard serializes deployments. Required.
	Guard *Guard
	// Inspector validates bundles. Required.
	Inspector Inspector
	// Snapshots captures and restores the assets root. Required.
	Snapshots Snapshotter
	// Store persists the metadata documents. Required.
	Store metadata.Store
	// Metrics receives deployment outcomes. Optional.
	Metrics metrics.DeployMetrics
	// Events announces successful deployments. Optional.
	Events events.Publisher
	// Now is the clock. Optional.
	Now func() time.Time
	// NewID generates deployment IDs. Optional.
	NewID func() string
}

// Deployer runs deployments against one assets root.
type Deployer struct {
	// assetsRoot holds the live release directories.
	assetsRoot string
	// guard serializes deployments.
	guard *Guard
	// inspector validates bundles.
	inspector Inspector
	// snapshots captures and restores the assets root.
	snapshots Snapshotter
	// store persists the metadata documents.
	store metadata.Store
	// metrics receives deployment outcomes.
	metrics metrics.DeployMetrics
	// events announces successful deployments.
	events events.Publisher
	// now is the clock.
	now func() time.Time
	// newID generates deployment IDs.
	newID func() string
}

var (
	errMissingDependency = errors.New("deployer dependency is missing")
	errNoReleaseNote     = errors.New("no release note for application version")
)

// New validates deps and builds a Deployer.
func New(deps Dependencies) (*Deployer, error) {
	switch {
	case deps.AssetsRoot == "":
		return nil, fmt.Errorf("assets root: %w", errMissingDependency)
	case deps.Guard == nil:
		return nil, fmt.Errorf("guard: %w", errMissingDependency)
	case deps.Inspector == nil:
		return nil, fmt.Errorf("inspector: %w", errMissingDependency)
	case deps.Snapshots == nil:
		return nil, fmt.Errorf("snapshots: %w", errMissingDependency)
	case deps.Store == nil:
		return nil, fmt.Errorf("store: %w", errMissingDependency)
	}

	d := &Deployer{
		assetsRoot: filepath.Clean(deps.AssetsRoot),
		guard:      deps.Guard,
		inspector:  deps.Inspector,
		snapshots:  deps.Snapshots,
		store:      deps.Store,
		metrics:    deps.Metrics,
		events:     deps.Events,
		now:        deps.Now,
		newID:      deps.NewID,
	}

	if d.metrics == nil {
		d.metrics = metrics.Noop{}
	}

	if d.events == nil {
		d.events = events.Noop{}
	}

	if d.now == nil {
		d.now = time.Now
	}

	if d.newID == nil {
		d.newID = uuid.NewString
	}

	return d, nil
}

// Deploy makes the uploaded release live, or leaves the assets root exactly as it
// was. The upload is removed whatever the outcome. Cancellation is honored until
// the release directory starts moving into place.
func (d *Deployer) Deploy(ctx context.Context, req Request) (*release.Deployed, error) {
	var (
		startedAt    = d.now()
		deploymentID = d.newID()
	)

	ctx = logger.WithName(ctx, "deploy")
	ctx = logger.WithKV(ctx, "deployment_id", deploymentID)

	defer d.removeUpload(ctx, req.UploadPath)

	logger.InfoKV(ctx, "Deployment started", "version_name", req.VersionName)

	deployed, err := d.deploy(ctx, deploymentID, req)

	status := metrics.StatusOK
	if err != nil {
		status = release.KindOf(err)
	}

	d.metrics.ObserveDeploy(status, d.now().Sub(startedAt))

	if err != nil {
		logger.ErrorKV(ctx, "Deployment failed", "kind", status, "error", err)

		return nil, err
	}

	if err = d.events.PublishDeployed(ctx, deployed); err != nil {
		logger.WarnKV(ctx, "Failed to publish deployment event", "error", err)
	}

	logger.InfoKV(ctx, "Deployment completed",
		"app", deployed.App,
		"installer", deployed.Installer,
		"version_name", deployed.VersionName)

	return deployed, nil
}

func (d *Deployer) deploy(ctx context.Context, deploymentID string, req Request) (*release.Deployed, error) {
	fileName := req.FileName
	if fileName == "" {
		fileName = filepath.Base(req.UploadPath)
	}

	label, err := release.CheckLabel(fileName, req.VersionName)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithFields(ctx, "label", label, "file_name", fileName)

	unlock, err := d.guard.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	defer unlock()

	run := &deployment{
		deploymentID: deploymentID,
		label:        label,
		request:      req,
		phase:        phaseStart,
	}

	return d.execute(ctx, run)
}

// execute walks the deployment through its phases. It is called with the guard held.
func (d *Deployer) execute(ctx context.Context, run *deployment) (*release.Deployed, error) {
	handle, err := d.snapshots.Snapshot(ctx, run.label)
	if err != nil {
		return nil, err
	}

	run.handle = handle
	run.advance(ctx, phaseSnapshotTaken)

	extracted, err := d.inspector.Inspect(ctx, run.request.UploadPath, run.label)
	if err != nil {
		return nil, d.rollback(ctx, run, err)
	}

	defer removeScratch(ctx, extracted.ScratchDir)

	run.advance(ctx, phaseBundleValidated)

	app := extracted.VersionInfo.App

	notes, ok := extracted.ReleaseNote.For(app)
	if !ok {
		return nil, d.rollback(ctx, run,
			release.Wrap(release.ErrInvalidReleaseRecord, fmt.Errorf("%s: %w", app, errNoReleaseNote)))
	}

	record := release.NewReleaseRecord(app, run.request.VersionName, notes)

	run.advance(ctx, phaseMetadataExtracted)

	if err = ctx.Err(); err != nil {
		return nil, d.rollback(ctx, run, release.Wrap(release.ErrExtractionFailed, err))
	}

	// From here on the assets root is being rewritten; only a rollback may interrupt it.
	ctx = context.WithoutCancel(ctx)

	if err = d.place(ctx, run, extracted, app); err != nil {
		return nil, d.rollback(ctx, run, err)
	}

	run.advance(ctx, phaseReleasePlaced)

	if err = d.commit(ctx, extracted.VersionInfo, app, record); err != nil {
		return nil, d.rollback(ctx, run, err)
	}

	run.advance(ctx, phaseMetadataCommitted)

	_ = d.snapshots.Discard(ctx, run.handle)

	run.advance(ctx, phaseCleanedUp)

	return &release.Deployed{
		DeploymentID: run.deploymentID,
		Label:        run.label,
		VersionName:  run.request.VersionName,
		App:          app,
		Installer:    extracted.VersionInfo.Installer,
		ReleaseDir:   run.placedDir,
		DeployedAt:   d.now(),
	}, nil
}

// place moves the extracted label directory to assetsRoot/app, displacing any
// existing directory of that version into the snapshot first.
func (d *Deployer) place(ctx context.Context, run *deployment, extracted *bundle.ExtractedRelease, app string) error {
	if err := d.snapshots.Displace(ctx, run.handle, app); err != nil {
		return release.Wrap(release.ErrMetadataWriteFailed, err)
	}

	target := filepath.Join(d.assetsRoot, app)

	if err := os.MkdirAll(d.assetsRoot, fsutil.DefaultDirMode); err != nil {
		return release.Wrap(release.ErrMetadataWriteFailed, fmt.Errorf("create assets root: %w", err))
	}

	run.placedDir = target

	if err := fsutil.MoveDir(extracted.ReleaseDir, target); err != nil {
		return release.Wrap(release.ErrMetadataWriteFailed, fmt.Errorf("place release %s: %w", app, err))
	}

	logger.InfoKV(ctx, "Release placed",
		"app", app,
		"installer_archive", filepath.Base(extracted.InstallerArchive))

	return nil
}

// commit writes the version pointer and appends the release record. The two
// documents are independent files, so both writes run at once. A record
// validation failure takes precedence over a write failure.
func (d *Deployer) commit(
	ctx context.Context,
	versionInfo release.VersionPointer,
	app string,
	record release.ReleaseRecord,
) error {
	var (
		group                 errgroup.Group
		pointerErr, ledgerErr error
	)

	group.Go(func() error {
		pointerErr = d.store.WriteVersionPointer(ctx, versionInfo)

		return pointerErr
	})

	group.Go(func() error {
		ledgerErr = d.store.AppendReleaseRecord(ctx, app, record)

		return ledgerErr
	})

	_ = group.Wait()

	switch {
	case errors.Is(ledgerErr, release.ErrInvalidReleaseRecord):
		return ledgerErr
	case pointerErr != nil:
		return release.Wrap(release.ErrMetadataWriteFailed, pointerErr)
	case ledgerErr != nil:
		return release.Wrap(release.ErrMetadataWriteFailed, ledgerErr)
	}

	return nil
}

// rollback restores the snapshot after a failure and returns cause. A restore
// failure is logged and counted; it never replaces cause.
func (d *Deployer) rollback(ctx context.Context, run *deployment, cause error) error {
	logger.WarnKV(ctx, "Rolling back deployment", "phase", run.phase.String(), "error", cause)

	if run.placedDir != "" {
		if err := os.RemoveAll(run.placedDir); err != nil {
			logger.ErrorKV(ctx, "Failed to remove partially placed release", "error", err)
		}
	}

	if err := d.snapshots.Restore(ctx, run.handle); err != nil {
		d.metrics.IncRollback(metrics.RollbackIncomplete)
		logger.ErrorKV(ctx, "Rollback incomplete, snapshot kept for manual recovery",
			"snapshot", run.handle.Dir, "error", err)
	} else {
		d.metrics.IncRollback(metrics.RollbackRestored)
		_ = d.snapshots.Discard(ctx, run.handle)
	}

	run.advance(ctx, phaseRolledBack)

	return cause
}

func (d *Deployer) removeUpload(ctx context.Context, path string) {
	if path == "" {
		return
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WarnKV(ctx, "Failed to remove upload", "error", err)
	}
}

func removeScratch(ctx context.Context, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		logger.WarnKV(ctx, "Failed to remove scratch directory", "error", err)
	}
}
