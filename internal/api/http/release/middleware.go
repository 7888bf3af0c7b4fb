package release

import (
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/cha777/pro11-push-update-server/internal/logger"
)

// statusRecorder captures the response status.
type statusRecorder struct {
	http.ResponseWriter

	// status is the written status code.
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// observe records request metrics labeled by route template.
func (h *handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			startedAt = time.Now()
			recorder  = &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		)

		next.ServeHTTP(recorder, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if template, err := current.GetPathTemplate(); err == nil {
				route = template
			}
		}

		duration := time.Since(startedAt)
		h.opts.Metrics.ObserveRequest(r.Method, route, strconv.Itoa(recorder.status), duration)

		logger.DebugKV(r.Context(), "HTTP request served",
			"method", r.Method,
			"route", route,
			"status", recorder.status,
			"duration", duration)
	})
}

// noListingFS hides directories without an index page.
type noListingFS struct {
	http.FileSystem
}

func (n noListingFS) Open(name string) (http.File, error) {
	file, err := n.FileSystem.Open(name)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()

		return nil, err
	}

	if !info.IsDir() {
		return file, nil
	}

	index, err := n.FileSystem.Open(name + "/index.html")
	if err != nil {
		_ = file.Close()

		if errors.Is(err, fs.ErrNotExist) {
			return nil, fs.ErrNotExist
		}

		return nil, err
	}

	_ = index.Close()

	return file, nil
}
