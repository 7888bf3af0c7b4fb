package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/cha777/pro11-push-update-server/internal/domain/release"
)

// Config holds the settings shared by the release binaries.
type Config struct {
	// ListenAddress is the HTTP address of the release server.
	ListenAddress string `yaml:"listen_addr"`
	// GRPCAddress is the address of the release-info gRPC service. Empty disables it.
	GRPCAddress string `yaml:"grpc_addr,omitempty"`
	// BasePath prefixes every HTTP route.
	BasePath string `yaml:"base_path,omitempty"`
	// AssetsDir holds the live release directories and both metadata documents.
	AssetsDir string `yaml:"assets_dir"`
	// UploadsDir receives uploaded bundles before they are deployed.
	UploadsDir string `yaml:"uploads_dir"`
	// WorkDir holds extraction scratch space, snapshots and the deploy marker.
	WorkDir string `yaml:"work_dir"`
	// MaxUploadBytes limits the size of an uploaded bundle.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
	// ErrorReportsDir receives client error reports.
	ErrorReportsDir string `yaml:"error_reports_dir"`
	// MaxReportBytes limits the size of an uploaded error report.
	MaxReportBytes int64 `yaml:"max_report_bytes"`
	// Timeout is the duration for network operations and RPC calls.
	Timeout time.Duration `yaml:"timeout"`
	// LogFile is an optional file receiving JSON log lines.
	LogFile string `yaml:"log_file,omitempty"`
	// LogLevel is a zap level name.
	LogLevel string `yaml:"log_level"`
	// LogMaxAge removes rotated log files older than this. Excludes LogMaxFiles.
	LogMaxAge time.Duration `yaml:"log_max_age,omitempty"`
	// LogRotationTime starts a new log file when it elapses.
	LogRotationTime time.Duration `yaml:"log_rotation_time"`
	// LogMaxSize starts a new log file once the current one reaches this many bytes.
	LogMaxSize int64 `yaml:"log_max_size"`
	// LogMaxFiles is the number of rotated log files kept. Excludes LogMaxAge.
	LogMaxFiles uint `yaml:"log_max_files,omitempty"`
	// NATSURL enables deployment events when set.
	NATSURL string `yaml:"nats_url,omitempty"`
	// NATSSubject is the subject deployment events are published on.
	NATSSubject string `yaml:"nats_subject"`
	// MetricsNamespace prefixes the Prometheus metric names.
	MetricsNamespace string `yaml:"metrics_namespace"`
}

// Paths are the absolute locations derived from Config.
type Paths struct {
	// AssetsRoot holds the live release directories.
	AssetsRoot string
	// VersionPointer is the current-version document.
	VersionPointer string
	// ReleaseLedger is the previous-releases document.
	ReleaseLedger string
	// Uploads receives uploaded bundles.
	Uploads string
	// ErrorReports receives client error reports.
	ErrorReports string
	// Snapshots is the parent of the timestamp-named snapshot directories.
	Snapshots string
	// Scratch is the parent of per-deployment extraction directories.
	Scratch string
	// Marker is the cross-process deploy marker file.
	Marker string
}

const (
	// DefaultConfigFilename is the default filename for server settings.
	DefaultConfigFilename = "push-update-settings.yaml"

	// DefaultListenAddress is the default HTTP address.
	DefaultListenAddress = ":8080"
	// DefaultAssetsDir is the default assets directory.
	DefaultAssetsDir = "assets"
	// DefaultUploadsDir is the default uploads directory.
	DefaultUploadsDir = "uploads"
	// DefaultWorkDir is the default work directory.
	DefaultWorkDir = "work"
	// DefaultMaxUploadBytes is the default upload limit (60 MiB).
	DefaultMaxUploadBytes int64 = 60 << 20
	// DefaultErrorReportsDir is the default error report directory.
	DefaultErrorReportsDir = "error-reports"
	// DefaultMaxReportBytes is the default error report limit (100 MiB).
	DefaultMaxReportBytes int64 = 100 << 20
	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 5 * time.Second
	// DefaultLogLevel is the default zap level name.
	DefaultLogLevel = "info"
	// DefaultLogRotationTime is the default log rotation interval.
	DefaultLogRotationTime = 24 * time.Hour
	// DefaultLogMaxSize is the default log file size limit (10 MiB).
	DefaultLogMaxSize int64 = 10 << 20
	// DefaultLogMaxFiles is the default number of kept log files.
	DefaultLogMaxFiles uint = 5
	// DefaultNATSSubject is the default deployment event subject.
	DefaultNATSSubject = "releases.deployed"
	// DefaultMetricsNamespace is the default Prometheus namespace.
	DefaultMetricsNamespace = "push_update"

	// SnapshotsDirname is the snapshot parent inside WorkDir.
	SnapshotsDirname = "backups"
	// ScratchDirname is the extraction parent inside WorkDir.
	ScratchDirname = "extract"
	// MarkerFilename is the deploy marker inside WorkDir.
	MarkerFilename = "deploy.marker"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errUploadLimit is returned for a negative upload limit.
	errUploadLimit = errors.New("upload limit must not be negative")
	// errReportLimit is returned for a negative error report limit.
	errReportLimit = errors.New("error report limit must not be negative")
	// errLogRetention is returned when both log retention settings are set.
	errLogRetention = errors.New("log_max_age and log_max_files cannot both be set")
	// errLogRotation is returned for negative log rotation settings.
	errLogRotation = errors.New("log rotation settings must not be negative")
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := new(Config)
	_ = Validate(cfg)

	return cfg
}

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	path, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expand settings path: %w", err)
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes Config to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills defaults and checks addresses and limits.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}

	if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}

	if cfg.GRPCAddress != "" {
		if _, _, err := net.SplitHostPort(cfg.GRPCAddress); err != nil {
			return fmt.Errorf("invalid gRPC address: %w", err)
		}
	}

	if cfg.AssetsDir == "" {
		cfg.AssetsDir = DefaultAssetsDir
	}

	if cfg.UploadsDir == "" {
		cfg.UploadsDir = DefaultUploadsDir
	}

	if cfg.WorkDir == "" {
		cfg.WorkDir = DefaultWorkDir
	}

	switch {
	case cfg.MaxUploadBytes < 0:
		return errUploadLimit
	case cfg.MaxUploadBytes == 0:
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}

	if cfg.ErrorReportsDir == "" {
		cfg.ErrorReportsDir = DefaultErrorReportsDir
	}

	switch {
	case cfg.MaxReportBytes < 0:
		return errReportLimit
	case cfg.MaxReportBytes == 0:
		cfg.MaxReportBytes = DefaultMaxReportBytes
	}

	// Set default timeout if not specified
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}

	if err := validateLogRotation(cfg); err != nil {
		return err
	}

	if cfg.NATSSubject == "" {
		cfg.NATSSubject = DefaultNATSSubject
	}

	if cfg.MetricsNamespace == "" {
		cfg.MetricsNamespace = DefaultMetricsNamespace
	}

	if cfg.NATSURL == "" {
		return nil
	}

	if _, err := url.Parse(cfg.NATSURL); err != nil {
		return fmt.Errorf("invalid NATS URL: %w", err)
	}

	return nil
}

// validateLogRotation fills the log rotation defaults. Files are pruned by
// count unless a maximum age is configured.
func validateLogRotation(cfg *Config) error {
	if cfg.LogMaxAge < 0 || cfg.LogRotationTime < 0 || cfg.LogMaxSize < 0 {
		return errLogRotation
	}

	if cfg.LogMaxAge > 0 && cfg.LogMaxFiles > 0 {
		return errLogRetention
	}

	if cfg.LogRotationTime == 0 {
		cfg.LogRotationTime = DefaultLogRotationTime
	}

	if cfg.LogMaxSize == 0 {
		cfg.LogMaxSize = DefaultLogMaxSize
	}

	if cfg.LogMaxAge == 0 && cfg.LogMaxFiles == 0 {
		cfg.LogMaxFiles = DefaultLogMaxFiles
	}

	return nil
}

// Paths resolves the directories of cfg into absolute paths.
func (cfg *Config) Paths() (Paths, error) {
	assets, err := absolute(cfg.AssetsDir)
	if err != nil {
		return Paths{}, fmt.Errorf("resolve assets dir: %w", err)
	}

	uploads, err := absolute(cfg.UploadsDir)
	if err != nil {
		return Paths{}, fmt.Errorf("resolve uploads dir: %w", err)
	}

	reports, err := absolute(cfg.ErrorReportsDir)
	if err != nil {
		return Paths{}, fmt.Errorf("resolve error reports dir: %w", err)
	}

	work, err := absolute(cfg.WorkDir)
	if err != nil {
		return Paths{}, fmt.Errorf("resolve work dir: %w", err)
	}

	return Paths{
		AssetsRoot:     assets,
		VersionPointer: filepath.Join(assets, release.VersionInfoFilename),
		ReleaseLedger:  filepath.Join(assets, release.PrevReleasesFilename),
		Uploads:        uploads,
		ErrorReports:   reports,
		Snapshots:      filepath.Join(work, SnapshotsDirname),
		Scratch:        filepath.Join(work, ScratchDirname),
		Marker:         filepath.Join(work, MarkerFilename),
	}, nil
}

// absolute expands a leading ~ and returns an absolute, cleaned path.
func absolute(path string) (string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", err
	}

	return filepath.Abs(expanded)
}
