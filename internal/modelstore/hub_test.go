package modelstore

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"ocr-api/internal/config"
	"ocr-api/internal/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeHub struct {
	mu         sync.Mutex
	files      map[string]string
	listStatus []int
	fileGets   map[string]int
	ranges     []string
	token      string
}

func (h *fakeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.token != "" && r.Header.Get("Authorization") != "Bearer "+h.token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	if r.URL.Path == "/api/models/org/model/revision/main" {
		if len(h.listStatus) > 0 {
			code := h.listStatus[0]
			h.listStatus = h.listStatus[1:]
			if code != http.StatusOK {
				w.WriteHeader(code)
				return
			}
		}
		var parts []string
		for name, content := range h.files {
			parts = append(parts, fmt.Sprintf(`{"rfilename":%q,"size":%d}`, name, len(content)))
		}
		_, _ = fmt.Fprintf(w, `{"id":"org/model","siblings":[%s]}`, strings.Join(parts, ","))
		return
	}

	name, ok := strings.CutPrefix(r.URL.Path, "/org/model/resolve/main/")
	content, exists := h.files[name]
	if !ok || !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if h.fileGets == nil {
		h.fileGets = map[string]int{}
	}
	h.fileGets[name]++

	if rng := r.Header.Get("Range"); rng != "" {
		h.ranges = append(h.ranges, rng)
		start, _ := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(rng, "bytes="), "-"))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte(content[start:]))
		return
	}
	_, _ = w.Write([]byte(content))
}

func newTestDownloader(t *testing.T, url string, mutate func(*config.ModelStoreConfig)) *HubDownloader {
	cfg := config.ModelStoreConfig{
		RepoID:              "org/model",
		HFEndpoint:          url,
		HFRevision:          "main",
		DownloadMaxAttempts: 3,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h := NewHubDownloader(cfg, zap.NewNop().Sugar())
	h.InitialBackoff = time.Millisecond
	h.MaxBackoff = 5 * time.Millisecond
	h.freeBytes = func(string) (int64, error) { return 1 << 40, nil }
	return h
}

func TestHubDownloadsAndSkipsPresentFiles(t *testing.T) {
	hub := &fakeHub{files: map[string]string{
		"config.json":               "{}",
		"weights/model.safetensors": "0123456789",
	}}
	srv := httptest.NewServer(hub)
	defer srv.Close()

	repoDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, "config.json"), []byte("{}"), 0o644))

	err := newTestDownloader(t, srv.URL, nil).Download(context.Background(), repoDir)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(repoDir, "weights", "model.safetensors"))
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
	assert.Zero(t, hub.fileGets["config.json"])
	assert.Equal(t, 1, hub.fileGets["weights/model.safetensors"])
	assert.NoFileExists(t, filepath.Join(repoDir, "weights", "model.safetensors"+shared.PartialDownloadSuffix))
}

func TestHubResumesPartialDownload(t *testing.T) {
	hub := &fakeHub{files: map[string]string{"model.bin": "abcdef"}}
	srv := httptest.NewServer(hub)
	defer srv.Close()

	repoDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, "model.bin"+shared.PartialDownloadSuffix), []byte("abc"), 0o644))

	err := newTestDownloader(t, srv.URL, nil).Download(context.Background(), repoDir)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(repoDir, "model.bin"))
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(data))
	assert.Equal(t, []string{"bytes=3-"}, hub.ranges)
}

func TestHubAuthFailureIsFatal(t *testing.T) {
	hub := &fakeHub{files: map[string]string{"model.bin": "x"}, token: "good"}
	srv := httptest.NewServer(hub)
	defer srv.Close()

	d := newTestDownloader(t, srv.URL, func(c *config.ModelStoreConfig) { c.HFToken = "bad" })
	err := d.Download(context.Background(), t.TempDir())
	require.ErrorIs(t, err, ErrAuth)
	assert.Contains(t, err.Error(), "HF_TOKEN")
}

func TestHubRetriesTransientFailures(t *testing.T) {
	hub := &fakeHub{
		files:      map[string]string{"model.bin": "x"},
		listStatus: []int{http.StatusBadGateway, http.StatusOK},
	}
	srv := httptest.NewServer(hub)
	defer srv.Close()

	repoDir := t.TempDir()
	err := newTestDownloader(t, srv.URL, nil).Download(context.Background(), repoDir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(repoDir, "model.bin"))
}

func TestHubGivesUpAfterMaxAttempts(t *testing.T) {
	hub := &fakeHub{
		files:      map[string]string{"model.bin": "x"},
		listStatus: []int{http.StatusBadGateway, http.StatusBadGateway, http.StatusBadGateway},
	}
	srv := httptest.NewServer(hub)
	defer srv.Close()

	err := newTestDownloader(t, srv.URL, nil).Download(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestHubInsufficientDiskIsFatal(t *testing.T) {
	hub := &fakeHub{files: map[string]string{"model.bin": "0123456789"}}
	srv := httptest.NewServer(hub)
	defer srv.Close()

	d := newTestDownloader(t, srv.URL, nil)
	d.freeBytes = func(string) (int64, error) { return 4, nil }
	err := d.Download(context.Background(), t.TempDir())
	require.ErrorIs(t, err, ErrInsufficientDisk)
	assert.Zero(t, hub.fileGets["model.bin"])
}

func TestHubDiskCheckFailureIsLogged(t *testing.T) {
	hub := &fakeHub{files: map[string]string{"model.bin": "0123456789"}}
	srv := httptest.NewServer(hub)
	defer srv.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	repoDir := t.TempDir()
	d := newTestDownloader(t, srv.URL, nil)
	d.log = zap.New(core).Sugar()
	d.freeBytes = func(string) (int64, error) { return -1, fmt.Errorf("statfs: permission denied") }

	require.NoError(t, d.Download(context.Background(), repoDir))
	assert.FileExists(t, filepath.Join(repoDir, "model.bin"))

	entries := logs.FilterMessage("Failed checking free disk space, skipping check").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "statfs: permission denied", entries[0].ContextMap()["error"])
}

func TestHubFiltersByFilename(t *testing.T) {
	hub := &fakeHub{files: map[string]string{"a.gguf": "a", "b.bin": "b"}}
	srv := httptest.NewServer(hub)
	defer srv.Close()

	repoDir := t.TempDir()
	d := newTestDownloader(t, srv.URL, func(c *config.ModelStoreConfig) { c.Filename = "*.gguf" })
	require.NoError(t, d.Download(context.Background(), repoDir))
	assert.FileExists(t, filepath.Join(repoDir, "a.gguf"))
	assert.NoFileExists(t, filepath.Join(repoDir, "b.bin"))
}
