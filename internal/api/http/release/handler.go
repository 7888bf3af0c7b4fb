package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	domain "github.com/cha777/pro11-push-update-server/internal/domain/release"
	"github.com/cha777/pro11-push-update-server/internal/logger"
	"github.com/cha777/pro11-push-update-server/internal/metrics"
	"github.com/cha777/pro11-push-update-server/internal/service/deploy"
)

const (
	// HealthMessage is returned by GET /.
	HealthMessage = "File server is working"
	// BuildNotFoundMessage is returned by GET /latestVersion without a complete pointer.
	BuildNotFoundMessage = "Build not found"
	// DeploymentFailedMessage is the generic failure text of POST /createRelease.
	DeploymentFailedMessage = "deployment failed"
	// UploadFailedMessage is returned when an upload cannot be stored.
	UploadFailedMessage = "Error while storing upload"

	// releaseField is the multipart file field.
	releaseField = "release"
	// versionNameField is the multipart text field.
	versionNameField = "versionName"
	// maxFieldBytes bounds a text field.
	maxFieldBytes = 1 << 10
	// multipartOverhead is added to the upload limit for the form envelope.
	multipartOverhead = 1 << 20
)

// Deployer runs a deployment.
type Deployer interface {
	Deploy(ctx context.Context, req deploy.Request) (*domain.Deployed, error)
}

// MetadataReader reads the published metadata documents.
type MetadataReader interface {
	ReadVersionPointer(ctx context.Context) domain.VersionPointer
	ReadReleaseLedger(ctx context.Context) *domain.ReleaseLedger
}

// Options configure the HTTP handler.
type Options struct {
	// BasePath prefixes every route.
	BasePath string
	// AssetsRoot is served for every path without a route.
	AssetsRoot string
	// UploadsDir receives uploaded bundles.
	UploadsDir string
	// MaxUploadBytes limits the uploaded bundle size.
	MaxUploadBytes int64
	// ReportsDir receives error reports. Empty disables the error report routes.
	ReportsDir string
	// MaxReportBytes limits the error report size.
	MaxReportBytes int64
	// Deployer runs deployments.
	Deployer Deployer
	// Metadata reads the published documents.
	Metadata MetadataReader
	// Metrics observes requests. Optional.
	Metrics metrics.HTTPMetrics
	// Gatherer backs /metrics. The default registry is used when nil.
	Gatherer prometheus.Gatherer
}

// handler serves the routes.
type handler struct {
	// opts are the validated options.
	opts Options
}

// errorResponse is the JSON error body.
type errorResponse struct {
	// Error is a human readable message without file system details.
	Error string `json:"error"`
	// Kind is the error kind of a failed deployment.
	Kind string `json:"kind,omitempty"`
}

// createdResponse is the JSON body of a successful deployment.
type createdResponse struct {
	// Message confirms the deployment.
	Message string `json:"message"`
	// App is the published application version.
	App string `json:"app"`
	// Installer is the published installer version.
	Installer string `json:"installer"`
}

var (
	errMissingOption   = errors.New("http handler option is missing")
	errInvalidFileType = errors.New("invalid file type")
	errNoVersionName   = errors.New("version name unavailable")
	errNoFile          = errors.New("file not available")
	errTooLarge        = errors.New("upload is too large")
	errUnexpectedPart  = errors.New("unexpected form field")
	errStorage         = errors.New("cannot store upload")
)

// NewRouter builds the router for opts.
func NewRouter(opts Options) (*mux.Router, error) {
	switch {
	case opts.Deployer == nil:
		return nil, fmt.Errorf("deployer: %w", errMissingOption)
	case opts.Metadata == nil:
		return nil, fmt.Errorf("metadata: %w", errMissingOption)
	case opts.AssetsRoot == "":
		return nil, fmt.Errorf("assets root: %w", errMissingOption)
	case opts.UploadsDir == "":
		return nil, fmt.Errorf("uploads dir: %w", errMissingOption)
	case opts.MaxUploadBytes <= 0:
		return nil, fmt.Errorf("upload limit: %w", errMissingOption)
	case opts.ReportsDir != "" && opts.MaxReportBytes <= 0:
		return nil, fmt.Errorf("error report limit: %w", errMissingOption)
	}

	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}

	opts.BasePath = "/" + strings.Trim(opts.BasePath, "/")
	if opts.BasePath == "/" {
		opts.BasePath = ""
	}

	h := &handler{opts: opts}

	root := mux.NewRouter()
	root.Use(h.observe)

	routes := root
	if opts.BasePath != "" {
		routes = root.PathPrefix(opts.BasePath).Subrouter()
	}

	routes.HandleFunc("/", h.health).Methods(http.MethodGet)
	routes.HandleFunc("/createRelease", h.createRelease).Methods(http.MethodPost)
	routes.HandleFunc("/latestVersion", h.latestVersion).Methods(http.MethodGet)
	routes.HandleFunc("/prevReleases", h.prevReleases).Methods(http.MethodGet)
	routes.Handle("/metrics", metrics.Handler(opts.Gatherer)).Methods(http.MethodGet)

	if opts.ReportsDir != "" {
		h.registerReports(routes.PathPrefix(ReportsPrefix).Subrouter())
	}

	files := http.FileServer(noListingFS{http.Dir(opts.AssetsRoot)})
	routes.PathPrefix("/").Handler(http.StripPrefix(opts.BasePath, files)).Methods(http.MethodGet, http.MethodHead)

	return root, nil
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, HealthMessage)
}

func (h *handler) latestVersion(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithName(r.Context(), "http")

	pointer := h.opts.Metadata.ReadVersionPointer(ctx)
	if !pointer.IsComplete() {
		logger.Warn(ctx, BuildNotFoundMessage)
		http.Error(w, BuildNotFoundMessage, http.StatusNotFound)

		return
	}

	writeJSON(ctx, w, http.StatusOK, pointer)
}

func (h *handler) prevReleases(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithName(r.Context(), "http")

	writeJSON(ctx, w, http.StatusOK, h.opts.Metadata.ReadReleaseLedger(ctx))
}

func (h *handler) createRelease(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithName(r.Context(), "http")

	upload, err := h.receiveUpload(ctx, w, r)
	if err != nil {
		rejectUpload(ctx, w, err, UploadFailedMessage)

		return
	}

	deployed, err := h.opts.Deployer.Deploy(ctx, deploy.Request{
		UploadPath:  upload.path,
		FileName:    upload.fileName,
		VersionName: upload.versionName,
	})
	if err != nil {
		writeJSON(ctx, w, StatusFor(err), errorResponse{
			Error: DeploymentFailedMessage,
			Kind:  domain.KindOf(err),
		})

		return
	}

	logger.InfoKV(ctx, "Successfully deployed version", "version_name", upload.versionName)

	writeJSON(ctx, w, http.StatusOK, createdResponse{
		Message:   "Successfully deployed version " + upload.versionName,
		App:       deployed.App,
		Installer: deployed.Installer,
	})
}

// StatusFor maps a deployment error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidLabel),
		errors.Is(err, domain.ErrInvalidBundle),
		errors.Is(err, domain.ErrInvalidReleaseRecord):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrDeploymentInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// upload is a received bundle.
type upload struct {
	// path is where the bundle was stored.
	path string
	// fileName is the client-side file name.
	fileName string
	// versionName is the declared version name.
	versionName string
}

// receiveUpload streams the multipart form, storing the release file in the
// uploads directory. The stored file is removed when the form is rejected.
func (h *handler) receiveUpload(ctx context.Context, w http.ResponseWriter, r *http.Request) (*upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes+multipartOverhead)

	reader, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("read form: %w", err)
	}

	received := new(upload)

	for {
		part, partErr := reader.NextPart()
		if errors.Is(partErr, io.EOF) {
			break
		}

		if partErr != nil {
			h.discard(ctx, received)

			return nil, classifyReadError(partErr)
		}

		partErr = h.readPart(part, received)
		_ = part.Close()

		if partErr != nil {
			h.discard(ctx, received)

			return nil, partErr
		}
	}

	switch {
	case received.path == "":
		return nil, errNoFile
	case received.versionName == "":
		h.discard(ctx, received)

		return nil, errNoVersionName
	}

	return received, nil
}

func (h *handler) readPart(part *multipart.Part, received *upload) error {
	switch part.FormName() {
	case versionNameField:
		value, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
		if err != nil {
			return classifyReadError(err)
		}

		received.versionName = strings.TrimSpace(string(value))

		return nil
	case releaseField:
		if received.path != "" {
			return fmt.Errorf("%s: %w", releaseField, errUnexpectedPart)
		}

		if !isZipContentType(part.Header.Get("Content-Type")) {
			return errInvalidFileType
		}

		path, err := storeUpload(part, h.opts.UploadsDir, h.opts.MaxUploadBytes)
		if err != nil {
			return err
		}

		received.path = path
		received.fileName = filepath.Base(part.FileName())

		return nil
	default:
		return fmt.Errorf("%s: %w", part.FormName(), errUnexpectedPart)
	}
}

func (h *handler) discard(ctx context.Context, received *upload) {
	if received.path == "" {
		return
	}

	if err := os.Remove(received.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WarnKV(ctx, "Failed to remove rejected upload", "error", err)
	}

	received.path = ""
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WarnKV(ctx, "Failed to write response", "error", err)
	}
}
