package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cha777/pro11-push-update-server/internal/config"
	domain "github.com/cha777/pro11-push-update-server/internal/domain/release"
	"github.com/cha777/pro11-push-update-server/internal/service/server"
)

// releaseServer is a running release server rooted in a temporary directory.
type releaseServer struct {
	// baseURL is the HTTP root of the server.
	baseURL string
	// grpcAddress is the release-info service address.
	grpcAddress string
	// assets is the assets root.
	assets string
}

// startServer runs the real server with a temporary configuration until the test ends.
func startServer(t *testing.T) *releaseServer {
	t.Helper()

	root := t.TempDir()

	settings := config.Default()
	settings.ListenAddress = reservePort(t)
	settings.GRPCAddress = reservePort(t)
	settings.AssetsDir = filepath.Join(root, "assets")
	settings.UploadsDir = filepath.Join(root, "uploads")
	settings.ErrorReportsDir = filepath.Join(root, "error-reports")
	settings.WorkDir = filepath.Join(root, "work")

	cfgPath := filepath.Join(root, "settings.yaml")
	require.NoError(t, config.Save(cfgPath, settings))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- server.Run(ctx, &server.Options{ConfigPath: cfgPath})
	}()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	s := &releaseServer{
		baseURL:     "http://" + settings.ListenAddress,
		grpcAddress: settings.GRPCAddress,
		assets:      settings.AssetsDir,
	}

	require.Eventually(t, func() bool {
		resp, err := http.Get(s.baseURL + "/")
		if err != nil {
			return false
		}

		_ = resp.Body.Close()

		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	return s
}

// upload posts the bundle at path with versionName and returns the status and body.
func (s *releaseServer) upload(t *testing.T, path, versionName string) (int, map[string]string) {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var body bytes.Buffer

	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("versionName", versionName))

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="release"; filename="%s"`, filepath.Base(path)))
	header.Set("Content-Type", "application/zip")

	part, err := writer.CreatePart(header)
	require.NoError(t, err)

	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	resp, err := http.Post(s.baseURL+"/createRelease", writer.FormDataContentType(), &body)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
	}()

	var decoded map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))

	return resp.StatusCode, decoded
}

// get fetches path and returns the status and body.
func (s *releaseServer) get(t *testing.T, path string) (int, []byte) {
	t.Helper()

	resp, err := http.Get(s.baseURL + path)
	require.NoError(t, err)

	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

// latestVersion decodes GET /latestVersion.
func (s *releaseServer) latestVersion(t *testing.T) domain.VersionPointer {
	t.Helper()

	status, data := s.get(t, "/latestVersion")
	require.Equal(t, http.StatusOK, status)

	var pointer domain.VersionPointer
	require.NoError(t, json.Unmarshal(data, &pointer))

	return pointer
}

// reservePort returns address on a free TCP port and closes it.
func reservePort(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	_ = l.Close()

	return addr
}
