package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/cha777/pro11-push-update-server/internal/config"
	"github.com/cha777/pro11-push-update-server/internal/logger"
	"github.com/cha777/pro11-push-update-server/internal/version"
)

// Options controls the release-server process and configuration.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress provides an optional listen address override for the HTTP server.
	ListenAddress string
	// GRPCAddress provides an optional listen address override for the gRPC server.
	GRPCAddress string
	// LogLevel overrides the configured log level.
	LogLevel string
	// LogFile overrides the configured log file.
	LogFile string
}

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 30 * time.Second

// ErrNoListenAddress indicates missing listen configuration.
var ErrNoListenAddress = errors.New("no listen address configured")

// Run starts the HTTP server, and the gRPC server when configured, and blocks
// until the context is canceled or a server fails.
func Run(ctx context.Context, opts *Options) error {
	settings, err := loadSettings(ctx, opts)
	if err != nil {
		return err
	}

	// Configure before naming the context so the named logger writes to the log file too.
	closeLog, err := logger.Configure(settings.LogLevel, settings.LogFile, logger.Rotation{
		MaxAge:   settings.LogMaxAge,
		Interval: settings.LogRotationTime,
		MaxSize:  settings.LogMaxSize,
		MaxFiles: settings.LogMaxFiles,
	})
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	defer func() {
		_ = closeLog()
	}()

	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "release-server")

	logger.InfoKV(ctx, "Starting release server", version.KV()...)

	listenAddress, err := resolveListenAddress(settings.ListenAddress, opts.ListenAddress)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}

	grpcAddress := settings.GRPCAddress
	if opts.GRPCAddress != "" {
		grpcAddress = opts.GRPCAddress
	}

	app, err := newApplication(ctx, settings)
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	defer app.publisher.Close()

	return serve(ctx, app, listenAddress, grpcAddress)
}

// loadSettings reads the configuration file and applies overrides. A missing
// file falls back to defaults.
func loadSettings(ctx context.Context, opts *Options) (*config.Config, error) {
	settings, err := config.Load(opts.ConfigPath)

	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		logger.WarnKV(ctx, "Settings file not found, using defaults", "config_path", opts.ConfigPath)

		settings = config.Default()
	default:
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if opts.LogLevel != "" {
		settings.LogLevel = opts.LogLevel
	}

	if opts.LogFile != "" {
		settings.LogFile = opts.LogFile
	}

	return settings, nil
}

// serve runs the listeners until ctx ends, then stops them gracefully.
func serve(ctx context.Context, app *application, listenAddress, grpcAddress string) error {
	lc := net.ListenConfig{}

	httpListener, err := lc.Listen(ctx, "tcp", listenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddress, err)
	}

	var grpcListener net.Listener

	if grpcAddress != "" {
		grpcListener, err = lc.Listen(ctx, "tcp", grpcAddress)
		if err != nil {
			_ = httpListener.Close()

			return fmt.Errorf("listen on %s: %w", grpcAddress, err)
		}
	}

	httpServer := &http.Server{
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.InfoKV(ctx, "HTTP server listening", "listen_address", httpListener.Addr().String())

		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve HTTP: %w", err)
		}

		return nil
	})

	if grpcListener != nil {
		group.Go(func() error {
			logger.InfoKV(ctx, "GRPC server listening", "grpc_address", grpcListener.Addr().String())

			if err := app.grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("serve gRPC: %w", err)
			}

			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info(ctx, "Shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		app.grpcServer.GracefulStop()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown HTTP: %w", err)
		}

		return nil
	})

	err = group.Wait()

	logger.Info(ctx, "Servers stopped")

	return err
}

// resolveListenAddress picks the override when given, otherwise the configured address.
func resolveListenAddress(configAddr, override string) (string, error) {
	address := configAddr
	if override != "" {
		address = override
	}

	if address == "" {
		return "", ErrNoListenAddress
	}

	if _, _, err := net.SplitHostPort(address); err != nil {
		return "", fmt.Errorf("invalid listen address format %q: %w", address, err)
	}

	return address, nil
}
