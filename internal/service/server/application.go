package server

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"

	releasegrpc "github.com/cha777/pro11-push-update-server/internal/api/grpc/release"
	releasehttp "github.com/cha777/pro11-push-update-server/internal/api/http/release"
	"github.com/cha777/pro11-push-update-server/internal/config"
	"github.com/cha777/pro11-push-update-server/internal/events"
	"github.com/cha777/pro11-push-update-server/internal/fsutil"
	"github.com/cha777/pro11-push-update-server/internal/logger"
	"github.com/cha777/pro11-push-update-server/internal/metrics"
	"github.com/cha777/pro11-push-update-server/internal/repository/metadata"
	"github.com/cha777/pro11-push-update-server/internal/service/bundle"
	"github.com/cha777/pro11-push-update-server/internal/service/deploy"
	"github.com/cha777/pro11-push-update-server/internal/service/snapshot"
)

// application holds the components built from one configuration.
type application struct {
	// paths are the resolved locations every component works on.
	paths config.Paths
	// handler serves the HTTP API.
	handler http.Handler
	// grpcServer serves the release-info service.
	grpcServer *grpc.Server
	// publisher announces deployments; closed on shutdown.
	publisher events.Publisher
}

// newApplication resolves paths once and wires the deployment pipeline.
func newApplication(ctx context.Context, settings *config.Config) (*application, error) {
	paths, err := settings.Paths()
	if err != nil {
		return nil, fmt.Errorf("resolve paths: %w", err)
	}

	for _, dir := range []string{paths.AssetsRoot, paths.Uploads, paths.ErrorReports, paths.Snapshots, paths.Scratch} {
		if err = os.MkdirAll(dir, fsutil.DefaultDirMode); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	prom := metrics.NewProm(settings.MetricsNamespace, registry)

	publisher, err := newPublisher(ctx, settings)
	if err != nil {
		return nil, err
	}

	store := metadata.NewFileStore(paths.VersionPointer, paths.ReleaseLedger)

	inspector, err := bundle.NewInspector(paths.Scratch)
	if err != nil {
		publisher.Close()

		return nil, fmt.Errorf("create bundle inspector: %w", err)
	}

	snapshots := snapshot.NewManager(
		paths.AssetsRoot,
		paths.Snapshots,
		[]string{paths.VersionPointer, paths.ReleaseLedger},
	)

	deployer, err := deploy.New(deploy.Dependencies{
		AssetsRoot: paths.AssetsRoot,
		Guard:      deploy.NewGuard(paths.Marker),
		Inspector:  inspector,
		Snapshots:  snapshots,
		Store:      store,
		Metrics:    prom,
		Events:     publisher,
	})
	if err != nil {
		publisher.Close()

		return nil, fmt.Errorf("create deployer: %w", err)
	}

	router, err := releasehttp.NewRouter(releasehttp.Options{
		BasePath:       settings.BasePath,
		AssetsRoot:     paths.AssetsRoot,
		UploadsDir:     paths.Uploads,
		MaxUploadBytes: settings.MaxUploadBytes,
		ReportsDir:     paths.ErrorReports,
		MaxReportBytes: settings.MaxReportBytes,
		Deployer:       deployer,
		Metadata:       store,
		Metrics:        prom,
		Gatherer:       registry,
	})
	if err != nil {
		publisher.Close()

		return nil, fmt.Errorf("create router: %w", err)
	}

	grpcServer := grpc.NewServer()
	releasegrpc.RegisterReleaseInfoServer(grpcServer, releasegrpc.NewServer(store))

	logger.InfoKV(ctx, "Release pipeline ready",
		"assets_root", paths.AssetsRoot,
		"uploads_dir", paths.Uploads,
		"error_reports_dir", paths.ErrorReports,
		"snapshots_dir", paths.Snapshots,
	)

	return &application{
		paths:      paths,
		handler:    router,
		grpcServer: grpcServer,
		publisher:  publisher,
	}, nil
}

// newPublisher connects to NATS when a URL is configured.
func newPublisher(ctx context.Context, settings *config.Config) (events.Publisher, error) {
	if settings.NATSURL == "" {
		logger.Debug(ctx, "NATS URL is not configured, deployment events are disabled")

		return events.Noop{}, nil
	}

	publisher, err := events.NewNATSPublisher(ctx, settings.NATSURL, settings.NATSSubject, settings.Timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return publisher, nil
}
