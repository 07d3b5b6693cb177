package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"primamateria.systems/alembic/internal/notify"
)

func sum(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func fastClient(rec notify.Sink) *Client {
	return NewClient(Config{Retries: 3, RetryDelay: time.Millisecond}, rec)
}

func TestDownload_File(t *testing.T) {
	src := filepath.Join(t.TempDir(), "rust.tar.gz")
	require.NoError(t, os.WriteFile(src, []byte("tarball"), 0o644))
	dest := filepath.Join(t.TempDir(), "out")

	res, err := fastClient(nil).Download(context.Background(), "file://"+src, dest)
	require.NoError(t, err)
	assert.Equal(t, int64(7), res.Size)
	assert.Equal(t, sum("tarball"), res.Hash)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "tarball", string(data))
}

func TestDownload_FileMissing(t *testing.T) {
	_, err := fastClient(nil).Download(context.Background(), "file:///does/not/exist", filepath.Join(t.TempDir(), "out"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDownload_UnsupportedScheme(t *testing.T) {
	_, err := fastClient(nil).Download(context.Background(), "ftp://example.org/rust.tar.gz", filepath.Join(t.TempDir(), "out"))
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestDownload_HTTP(t *testing.T) {
	tests := []struct {
		name      string
		failures  int32
		status    int
		wantErr   bool
		wantCalls int32
	}{
		{name: "ok", failures: 0, wantCalls: 1},
		{name: "recovers from server errors", failures: 2, status: http.StatusBadGateway, wantCalls: 3},
		{name: "gives up after retries", failures: 5, status: http.StatusServiceUnavailable, wantErr: true, wantCalls: 3},
		{name: "not found is not retried", failures: 5, status: http.StatusNotFound, wantErr: true, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := calls.Add(1)
				if n <= tt.failures {
					w.WriteHeader(tt.status)
					return
				}
				_, _ = w.Write([]byte("component data"))
			}))
			defer srv.Close()

			rec := &notify.Recorder{}
			dest := filepath.Join(t.TempDir(), "out")
			res, err := fastClient(rec).Download(context.Background(), srv.URL+"/rustc.tar.gz", dest)
			assert.Equal(t, tt.wantCalls, calls.Load())
			if tt.wantErr {
				var status *StatusError
				require.ErrorAs(t, err, &status)
				assert.Equal(t, tt.status, status.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, sum("component data"), res.Hash)
			assert.Equal(t, tt.failures > 0, rec.Has(notify.KindDownloadRetry))
		})
	}
}

func TestDownload_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(Config{Retries: 5, RetryDelay: time.Hour}, nil).
		Download(ctx, srv.URL, filepath.Join(t.TempDir(), "out"))
	assert.True(t, errors.Is(err, context.Canceled))
}
