package modelstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"ocr-api/internal/config"
	"ocr-api/internal/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDownloader struct {
	calls int
	files map[string]string
	err   error
}

func (f *fakeDownloader) Download(_ context.Context, repoDir string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	for name, content := range f.files {
		p := filepath.Join(repoDir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func storeConfig(t *testing.T) config.ModelStoreConfig {
	return config.ModelStoreConfig{
		Dir:                 t.TempDir(),
		RepoID:              "org/model",
		DownloadMaxAttempts: 1,
	}
}

func writeArtifact(t *testing.T, r *Resolver, name string) {
	p := filepath.Join(r.RepoDir(), name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte("weights"), 0o644))
}

func TestRepoDir(t *testing.T) {
	cfg := storeConfig(t)
	r := NewResolver(cfg, nil, zap.NewNop().Sugar())
	assert.Equal(t, filepath.Join(cfg.Dir, "org--model"), r.RepoDir())
}

func TestEnsureNoopWhenNotRequested(t *testing.T) {
	dl := &fakeDownloader{}
	r := NewResolver(storeConfig(t), dl, zap.NewNop().Sugar())

	dir, err := r.Ensure(context.Background())
	require.NoError(t, err)
	assert.Empty(t, dir)
	assert.Zero(t, dl.calls)
}

func TestEnsureFailsFastWhenRequiredAndMissing(t *testing.T) {
	cfg := storeConfig(t)
	cfg.RequireLocal = true
	dl := &fakeDownloader{}
	r := NewResolver(cfg, dl, zap.NewNop().Sugar())

	_, err := r.Ensure(context.Background())
	require.ErrorIs(t, err, ErrMissingArtifacts)
	assert.Contains(t, err.Error(), "OCR_AUTO_DOWNLOAD_MODEL_STORE")
	assert.Contains(t, err.Error(), r.RepoDir())
	assert.Zero(t, dl.calls)
}

func TestEnsureUsesExistingArtifacts(t *testing.T) {
	cfg := storeConfig(t)
	cfg.RequireLocal = true
	cfg.AutoDownload = true
	dl := &fakeDownloader{}
	r := NewResolver(cfg, dl, zap.NewNop().Sugar())
	writeArtifact(t, r, "model.safetensors")

	dir, err := r.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, r.StoreDir(), dir)
	assert.Zero(t, dl.calls)
	assert.FileExists(t, filepath.Join(dir, shared.ModelStoreMarker))
}

func TestEnsureDownloadsMissingArtifacts(t *testing.T) {
	cfg := storeConfig(t)
	cfg.RequireLocal = true
	cfg.AutoDownload = true
	cfg.Filename = "*.safetensors"
	dl := &fakeDownloader{files: map[string]string{"config.json": "{}", "shards/model-00001.safetensors": "w"}}
	r := NewResolver(cfg, dl, zap.NewNop().Sugar())

	dir, err := r.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, dl.calls)
	assert.FileExists(t, filepath.Join(dir, shared.ModelStoreMarker))

	// second run is satisfied locally
	_, err = r.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, dl.calls)
}

func TestEnsureForceDownloadAlwaysFetches(t *testing.T) {
	cfg := storeConfig(t)
	cfg.ForceDownload = true
	dl := &fakeDownloader{files: map[string]string{"model.bin": "w"}}
	r := NewResolver(cfg, dl, zap.NewNop().Sugar())
	writeArtifact(t, r, "model.bin")

	_, err := r.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, dl.calls)
}

func TestEnsureReportsIncompleteDownload(t *testing.T) {
	cfg := storeConfig(t)
	cfg.AutoDownload = true
	cfg.Filename = "model.safetensors"
	dl := &fakeDownloader{files: map[string]string{"README.md": "hi"}}
	r := NewResolver(cfg, dl, zap.NewNop().Sugar())

	_, err := r.Ensure(context.Background())
	require.ErrorIs(t, err, ErrMissingArtifacts)
}

func TestEnsurePropagatesDownloadErrors(t *testing.T) {
	cfg := storeConfig(t)
	cfg.AutoDownload = true
	dl := &fakeDownloader{err: ErrAuth}
	r := NewResolver(cfg, dl, zap.NewNop().Sugar())

	_, err := r.Ensure(context.Background())
	require.True(t, errors.Is(err, ErrAuth))
}

func TestHasExpectedArtifactsIgnoresPartialFiles(t *testing.T) {
	r := NewResolver(storeConfig(t), nil, zap.NewNop().Sugar())
	writeArtifact(t, r, "model.bin"+shared.PartialDownloadSuffix)

	ok, err := r.HasExpectedArtifacts()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindModelFileIgnoresPartialFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model-00001.safetensors"+shared.PartialDownloadSuffix), []byte("x"), 0o644))

	got, err := FindModelFile(dir, "model-*")
	require.NoError(t, err)
	assert.Empty(t, got)

	cfg := storeConfig(t)
	cfg.Filename = "model-*"
	r := NewResolver(cfg, nil, zap.NewNop().Sugar())
	writeArtifact(t, r, "model-00001.safetensors"+shared.PartialDownloadSuffix)
	ok, err := r.HasExpectedArtifacts()
	require.NoError(t, err)
	assert.False(t, ok)

	writeArtifact(t, r, "model-00001.safetensors")
	ok, err = r.HasExpectedArtifacts()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFindModelFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "model-q4.gguf"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{}"), 0o644))

	got, err := FindModelFile(dir, "config.json")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.json"), got)

	got, err = FindModelFile(dir, "*.gguf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sub", "model-q4.gguf"), got)

	got, err = FindModelFile(dir, "sub/model-q4.gguf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sub", "model-q4.gguf"), got)

	got, err = FindModelFile(dir, "*.safetensors")
	require.NoError(t, err)
	assert.Empty(t, got)
}
