package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// rotatedSuffix is appended to the log path to name the rotated files.
const rotatedSuffix = ".%Y%m%d%H%M"

// Rotation controls how the log file is rotated and pruned.
// MaxAge and MaxFiles are mutually exclusive.
type Rotation struct {
	// MaxAge removes rotated files older than this.
	MaxAge time.Duration
	// Interval starts a new file when it elapses. Zero keeps the rotatelogs default.
	Interval time.Duration
	// MaxSize starts a new file once the current one reaches this many bytes.
	MaxSize int64
	// MaxFiles keeps at most this many rotated files.
	MaxFiles uint
}

func (r Rotation) options(linkName string) []rotatelogs.Option {
	options := []rotatelogs.Option{rotatelogs.WithLinkName(linkName)}

	if r.MaxAge > 0 {
		options = append(options, rotatelogs.WithMaxAge(r.MaxAge))
	}

	if r.Interval > 0 {
		options = append(options, rotatelogs.WithRotationTime(r.Interval))
	}

	if r.MaxSize > 0 {
		options = append(options, rotatelogs.WithRotationSize(r.MaxSize))
	}

	if r.MaxFiles > 0 {
		options = append(options, rotatelogs.WithRotationCount(r.MaxFiles))
	}

	return options
}

// NewWithFile creates a logger writing human-readable lines to stdout and JSON
// lines to rotated files next to path. path itself links to the current file.
// The returned closer releases the file.
func NewWithFile(
	level zapcore.LevelEnabler,
	path string,
	rotation Rotation,
	options ...zap.Option,
) (*zap.SugaredLogger, func() error, error) {
	if level == nil {
		level = defaultLevel
	}

	path, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve log file: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}

	writer, err := rotatelogs.New(path+rotatedSuffix, rotation.options(path)...)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	fileEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())

	core := zapcore.NewTee(consoleCore(level), zapcore.NewCore(fileEncoder, zapcore.AddSync(writer), level))

	return zap.New(core, options...).Sugar(), writer.Close, nil
}
