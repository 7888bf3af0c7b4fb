package checker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cha777/pro11-push-update-server/internal/config"
	domain "github.com/cha777/pro11-push-update-server/internal/domain/release"
	"github.com/cha777/pro11-push-update-server/internal/logger"
	"github.com/cha777/pro11-push-update-server/internal/service/common"
)

// Options controls the checker polling behavior and configuration.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// ServerAddress provides an optional gRPC server address override.
	ServerAddress string
	// PollInterval defines the interval between version checks.
	PollInterval time.Duration
	// Timeout specifies the per-RPC timeout duration.
	Timeout time.Duration
	// Once performs a single check and returns.
	Once bool
}

// DefaultPollInterval defines the default polling interval for version checks.
const DefaultPollInterval = 30 * time.Second

// VersionSource returns the published version pointer.
type VersionSource interface {
	GetLatestVersion(ctx context.Context) (domain.VersionPointer, error)
}

// Run polls the latest version and logs every change.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "release-checker")

	cfg, err := config.Load(opts.ConfigPath)

	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist) && opts.ServerAddress != "":
		cfg = config.Default()
	default:
		return fmt.Errorf("load configuration: %w", err)
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	timeout := cfg.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	// Command line argument overrides config.
	serverAddress := cfg.GRPCAddress
	if opts.ServerAddress != "" {
		serverAddress = opts.ServerAddress
	}

	client, err := common.Dial(ctx, serverAddress, common.WithCallTimeout(timeout))
	if err != nil {
		return fmt.Errorf("dial server: %w", err)
	}

	// Ensure connection cleanup on function exit.
	defer func() {
		_ = client.Close()
	}()

	logger.InfoKV(ctx, "Polling latest version", "server_address", serverAddress, "interval", opts.PollInterval.String())

	return poll(ctx, client, opts.PollInterval, opts.Once)
}

// poll checks immediately, then on every tick until ctx ends.
func poll(ctx context.Context, source VersionSource, interval time.Duration, once bool) error {
	w := new(watcher)

	if err := w.check(ctx, source); err != nil {
		if once {
			return err
		}

		logger.ErrorKV(ctx, "Check version failed", "error", err)
	}

	if once {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Context canceled, exiting")
			return nil
		case <-ticker.C:
			if err := w.check(ctx, source); err != nil {
				logger.ErrorKV(ctx, "Check version failed", "error", err)
			}
		}
	}
}

// watcher remembers the last observed pointer.
type watcher struct {
	// last is the most recently observed pointer.
	last domain.VersionPointer
	// changes counts observed changes, including the first observation.
	changes int
}

// check fetches the pointer and logs when it differs from the last one.
func (w *watcher) check(ctx context.Context, source VersionSource) error {
	pointer, err := source.GetLatestVersion(ctx)

	switch {
	case err == nil:
	case status.Code(err) == codes.NotFound:
		logger.Info(ctx, "No release published yet")

		return nil
	default:
		return err
	}

	if pointer == w.last {
		logger.DebugKV(ctx, "Version unchanged", "app", pointer.App, "installer", pointer.Installer)

		return nil
	}

	if w.last.IsComplete() {
		logger.InfoKV(ctx, "Published version changed",
			"previous_app", w.last.App,
			"previous_installer", w.last.Installer,
			"app", pointer.App,
			"installer", pointer.Installer)
	} else {
		logger.InfoKV(ctx, "Published version", "app", pointer.App, "installer", pointer.Installer)
	}

	w.last = pointer
	w.changes++

	return nil
}
