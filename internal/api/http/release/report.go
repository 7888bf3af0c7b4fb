package release

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/cha777/pro11-push-update-server/internal/fsutil"
	"github.com/cha777/pro11-push-update-server/internal/logger"
)

const (
	// ReportsPrefix is where the error report routes are mounted.
	ReportsPrefix = "/errorReport"
	// ReportsHealthMessage is returned by GET /errorReport/.
	ReportsHealthMessage = "Error report service is working"
	// ReportFailedMessage is returned when a report cannot be stored.
	ReportFailedMessage = "Error while submitting error report"
	// ReportNotFoundMessage is returned for an unknown report.
	ReportNotFoundMessage = "Error report not found"

	// reportField is the multipart file field of an error report.
	reportField = "filename"
	// maxReportExtension bounds the extension kept from the client file name.
	maxReportExtension = 16
)

var errInvalidReportName = errors.New("invalid error report name")

// reportResponse describes a stored error report.
type reportResponse struct {
	// FileName is the stored name used to download the report.
	FileName string `json:"filename"`
	// OriginalName is the client-side file name.
	OriginalName string `json:"originalname"`
	// MimeType is the declared content type.
	MimeType string `json:"mimetype"`
	// Size is the stored size in bytes.
	Size int64 `json:"size"`
}

func (h *handler) registerReports(routes *mux.Router) {
	routes.HandleFunc("", h.reportsHealth).Methods(http.MethodGet)
	routes.HandleFunc("/", h.reportsHealth).Methods(http.MethodGet)
	routes.HandleFunc("/submit", h.submitReport).Methods(http.MethodPost)
	routes.HandleFunc("/{fileName}", h.downloadReport).Methods(http.MethodGet, http.MethodHead)
}

func (h *handler) reportsHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, ReportsHealthMessage)
}

func (h *handler) submitReport(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithName(r.Context(), "error-report")

	report, err := h.receiveReport(ctx, w, r)
	if err != nil {
		rejectUpload(ctx, w, err, ReportFailedMessage)

		return
	}

	logger.InfoKV(ctx, "Successfully uploaded error report", "file", report.FileName, "size", report.Size)

	writeJSON(ctx, w, http.StatusOK, report)
}

// receiveReport streams the form and stores the single report file.
func (h *handler) receiveReport(ctx context.Context, w http.ResponseWriter, r *http.Request) (*reportResponse, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxReportBytes+multipartOverhead)

	reader, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("read form: %w", err)
	}

	var report *reportResponse

	for {
		part, partErr := reader.NextPart()
		if errors.Is(partErr, io.EOF) {
			break
		}

		if partErr == nil {
			partErr = h.readReportPart(part, &report)
			_ = part.Close()
		} else {
			partErr = classifyReadError(partErr)
		}

		if partErr != nil {
			h.removeReport(ctx, report)

			return nil, partErr
		}
	}

	if report == nil {
		return nil, errNoFile
	}

	return report, nil
}

func (h *handler) readReportPart(part *multipart.Part, report **reportResponse) error {
	if part.FormName() != reportField {
		// Text fields carry nothing the report needs.
		if part.FileName() == "" {
			_, err := io.Copy(io.Discard, io.LimitReader(part, maxFieldBytes))

			return err
		}

		return fmt.Errorf("%s: %w", part.FormName(), errUnexpectedPart)
	}

	if *report != nil {
		return fmt.Errorf("%s: %w", reportField, errUnexpectedPart)
	}

	contentType := part.Header.Get("Content-Type")
	if !isZipContentType(contentType) {
		return errInvalidFileType
	}

	file, err := h.createReport(part.FileName())
	if err != nil {
		return err
	}

	size, err := copyPart(file, part, h.opts.MaxReportBytes)
	if err != nil {
		return err
	}

	*report = &reportResponse{
		FileName:     filepath.Base(file.Name()),
		OriginalName: filepath.Base(part.FileName()),
		MimeType:     contentType,
		Size:         size,
	}

	return nil
}

// createReport creates a new report file named after the current time in
// milliseconds, keeping the extension of originalName.
func (h *handler) createReport(originalName string) (*os.File, error) {
	if err := os.MkdirAll(h.opts.ReportsDir, fsutil.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("%w: create directory: %w", errStorage, err)
	}

	extension := reportExtension(originalName)
	stamp := time.Now().UnixMilli()

	for {
		name := strconv.FormatInt(stamp, 10) + extension

		file, err := os.OpenFile(filepath.Join(h.opts.ReportsDir, name),
			os.O_CREATE|os.O_EXCL|os.O_WRONLY, fsutil.DefaultFileMode)

		switch {
		case err == nil:
			return file, nil
		case errors.Is(err, fs.ErrExist):
			stamp++
		default:
			return nil, fmt.Errorf("%w: create file: %w", errStorage, err)
		}
	}
}

// reportExtension returns the extension of name when it is short and
// alphanumeric, and ".zip" otherwise.
func reportExtension(name string) string {
	extension := strings.ToLower(filepath.Ext(filepath.Base(name)))
	if len(extension) < 2 || len(extension) > maxReportExtension {
		return ".zip"
	}

	for _, r := range extension[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ".zip"
		}
	}

	return extension
}

func (h *handler) removeReport(ctx context.Context, report *reportResponse) {
	if report == nil {
		return
	}

	if err := os.Remove(filepath.Join(h.opts.ReportsDir, report.FileName)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.WarnKV(ctx, "Failed to remove rejected error report", "error", err)
	}
}

func (h *handler) downloadReport(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithName(r.Context(), "error-report")

	name := mux.Vars(r)["fileName"]

	file, info, err := h.openReport(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, errInvalidReportName) {
			logger.WarnKV(ctx, "Error report not found", "file", name)
			writeJSON(ctx, w, http.StatusNotFound, errorResponse{Error: ReportNotFoundMessage})

			return
		}

		logger.ErrorKV(ctx, "Failed to open error report", "file", name, "error", err)
		writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "Error downloading error report"})

		return
	}

	defer func() {
		_ = file.Close()
	}()

	logger.InfoKV(ctx, "Sending error report", "file", name)

	w.Header().Set("Content-Type", "application/zip")
	http.ServeContent(w, r, info.Name(), info.ModTime(), file)
}

// openReport opens a regular file directly inside the reports directory.
func (h *handler) openReport(name string) (*os.File, fs.FileInfo, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return nil, nil, fmt.Errorf("%q: %w", name, errInvalidReportName)
	}

	root, err := os.OpenRoot(h.opts.ReportsDir)
	if err != nil {
		return nil, nil, err
	}

	defer func() {
		_ = root.Close()
	}()

	// Symlinks are not followed, even when they stay inside the directory.
	linkInfo, err := root.Lstat(name)
	if err != nil {
		return nil, nil, err
	}

	if !linkInfo.Mode().IsRegular() {
		return nil, nil, fmt.Errorf("%q: %w", name, fs.ErrNotExist)
	}

	file, err := root.Open(name)
	if err != nil {
		return nil, nil, err
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()

		return nil, nil, err
	}

	if !info.Mode().IsRegular() {
		_ = file.Close()

		return nil, nil, fmt.Errorf("%q: %w", name, fs.ErrNotExist)
	}

	return file, info, nil
}
