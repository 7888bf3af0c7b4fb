package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/mitchellh/go-ps"

	"github.com/cha777/pro11-push-update-server/internal/domain/release"
	"github.com/cha777/pro11-push-update-server/internal/fsutil"
	"github.com/cha777/pro11-push-update-server/internal/logger"
)

// Guard lets one deployment at a time own an assets root. Inside the process it
// is a mutex; across processes it is a marker file holding the owner's PID.
type Guard struct {
	// mu is held for the whole deployment.
	mu sync.Mutex
	// markerPath is the cross-process marker file.
	markerPath string
	// pid is written into the marker.
	pid int
	// isRunning reports whether a process with the given PID exists.
	isRunning func(pid int) (bool, error)
}

var errMarkerBusy = errors.New("deploy marker is held by another process")

// NewGuard creates a guard using the marker file at markerPath.
func NewGuard(markerPath string) *Guard {
	return &Guard{
		markerPath: filepath.Clean(markerPath),
		pid:        os.Getpid(),
		isRunning:  isProcessRunning,
	}
}

// Acquire claims the assets root. The returned function releases it and must be
// called exactly once.
func (g *Guard) Acquire(ctx context.Context) (func(), error) {
	if !g.mu.TryLock() {
		return nil, release.ErrDeploymentInProgress
	}

	if err := g.claimMarker(ctx); err != nil {
		g.mu.Unlock()

		if errors.Is(err, errMarkerBusy) {
			return nil, release.Wrap(release.ErrDeploymentInProgress, err)
		}

		return nil, release.Wrap(release.ErrBackupFailed, fmt.Errorf("claim deploy marker: %w", err))
	}

	var once sync.Once

	return func() {
		once.Do(func() {
			if err := os.Remove(g.markerPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				logger.WarnKV(ctx, "Failed to remove deploy marker", "error", err)
			}

			g.mu.Unlock()
		})
	}, nil
}

// claimMarker creates the marker, replacing it once when its owner is gone.
func (g *Guard) claimMarker(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(g.markerPath), fsutil.DefaultDirMode); err != nil {
		return err
	}

	err := g.createMarker()
	if !errors.Is(err, os.ErrExist) {
		return err
	}

	owner, running := g.markerOwner(ctx)
	if running {
		return fmt.Errorf("pid %d: %w", owner, errMarkerBusy)
	}

	logger.InfoKV(ctx, "Removing stale deploy marker", "pid", owner)

	if err = os.Remove(g.markerPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	err = g.createMarker()
	if errors.Is(err, os.ErrExist) {
		return errMarkerBusy
	}

	return err
}

func (g *Guard) createMarker() error {
	marker, err := os.OpenFile(g.markerPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, fsutil.DefaultFileMode)
	if err != nil {
		return err
	}

	if _, err = marker.WriteString(strconv.Itoa(g.pid)); err != nil {
		_ = marker.Close()

		return err
	}

	return marker.Close()
}

// markerOwner reads the marker PID and reports whether another live process owns it.
func (g *Guard) markerOwner(ctx context.Context) (int, bool) {
	contents, err := os.ReadFile(g.markerPath)
	if err != nil {
		logger.WarnKV(ctx, "Unable to read deploy marker", "error", err)

		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil || pid <= 0 || pid == g.pid {
		return pid, false
	}

	running, err := g.isRunning(pid)
	if err != nil {
		logger.WarnKV(ctx, "Unable to check deploy marker owner", "pid", pid, "error", err)

		return pid, true
	}

	return pid, running
}

func isProcessRunning(pid int) (bool, error) {
	process, err := ps.FindProcess(pid)
	if err != nil {
		return false, err
	}

	return process != nil, nil
}
