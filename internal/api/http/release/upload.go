package release

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/cha777/pro11-push-update-server/internal/fsutil"
	"github.com/cha777/pro11-push-update-server/internal/logger"
)

// sourceReader remembers the last read error so request failures can be told
// apart from write failures after a copy.
type sourceReader struct {
	io.Reader

	// err is the last non-EOF read error.
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.Reader.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		s.err = err
	}

	return n, err
}

// storeUpload copies part into a new temporary file of dir.
func storeUpload(part io.Reader, dir string, limit int64) (string, error) {
	if err := os.MkdirAll(dir, fsutil.DefaultDirMode); err != nil {
		return "", fmt.Errorf("%w: create directory: %w", errStorage, err)
	}

	file, err := os.CreateTemp(dir, "upload-*")
	if err != nil {
		return "", fmt.Errorf("%w: create file: %w", errStorage, err)
	}

	if _, err = copyPart(file, part, limit); err != nil {
		return "", err
	}

	return file.Name(), nil
}

// copyPart writes at most limit bytes of part into file and closes it. The
// file is removed on failure. Write and close failures are errStorage.
func copyPart(file *os.File, part io.Reader, limit int64) (int64, error) {
	source := &sourceReader{Reader: io.LimitReader(part, limit+1)}

	written, err := io.Copy(file, source)
	closeErr := file.Close()

	switch {
	case source.err != nil:
		err = classifyReadError(source.err)
	case err != nil:
		err = fmt.Errorf("%w: write file: %w", errStorage, err)
	case written > limit:
		err = errTooLarge
	case closeErr != nil:
		err = fmt.Errorf("%w: close file: %w", errStorage, closeErr)
	}

	if err != nil {
		_ = os.Remove(file.Name())

		return 0, err
	}

	return written, nil
}

// rejectUpload answers a failed upload. Storage failures are logged and hidden
// behind storageMessage; anything else is reported back to the client.
func rejectUpload(ctx context.Context, w http.ResponseWriter, err error, storageMessage string) {
	if errors.Is(err, errStorage) {
		logger.ErrorKV(ctx, "Failed to store upload", "error", err)
		writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: storageMessage})

		return
	}

	logger.WarnKV(ctx, "Rejected upload", "error", err)
	writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: err.Error()})
}

func classifyReadError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return errTooLarge
	}

	return fmt.Errorf("read form: %w", err)
}

func isZipContentType(contentType string) bool {
	mediaType, _, _ := strings.Cut(strings.ToLower(contentType), ";")
	mediaType = strings.TrimSpace(mediaType)

	return mediaType == "application/zip" || mediaType == "application/x-zip-compressed"
}
