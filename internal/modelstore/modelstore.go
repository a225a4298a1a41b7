// Package modelstore makes sure the model weights exist on local disk before
// the inference backend is launched.
package modelstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ocr-api/internal/config"
	"ocr-api/internal/shared"

	"github.com/manifold-inc/manifold-sdk/lib/utils"
	"go.uber.org/zap"
)

var ErrMissingArtifacts = errors.New("model artifacts missing")

// Downloader fetches a repository snapshot into repoDir
type Downloader interface {
	Download(ctx context.Context, repoDir string) error
}

type Resolver struct {
	cfg        config.ModelStoreConfig
	downloader Downloader
	log        *zap.SugaredLogger
}

func NewResolver(cfg config.ModelStoreConfig, downloader Downloader, log *zap.SugaredLogger) *Resolver {
	return &Resolver{cfg: cfg, downloader: downloader, log: log}
}

// StoreDir is the absolute model store root
func (r *Resolver) StoreDir() string {
	abs, err := filepath.Abs(r.cfg.Dir)
	if err != nil {
		return r.cfg.Dir
	}
	return abs
}

// RepoDir is where the configured repository is stored inside the model store
func (r *Resolver) RepoDir() string {
	return filepath.Join(r.StoreDir(), strings.ReplaceAll(r.cfg.RepoID, "/", "--"))
}

// Ensure verifies the local copy and downloads it when allowed. It returns
// the store directory, or "" when the store is neither required nor
// downloadable.
func (r *Resolver) Ensure(ctx context.Context) (string, error) {
	if !r.cfg.RequireLocal && !r.cfg.AutoDownload && !r.cfg.ForceDownload {
		return "", nil
	}

	storeDir := r.StoreDir()
	if err := os.MkdirAll(storeDir, 0o755); err != nil {
		return "", fmt.Errorf("failed creating model store %s: %w", storeDir, err)
	}

	repoDir := r.RepoDir()
	present, err := r.HasExpectedArtifacts()
	if err != nil {
		return "", err
	}
	if present && !r.cfg.ForceDownload {
		r.writeMarker(storeDir)
		return storeDir, nil
	}

	if !r.cfg.AutoDownload && !r.cfg.ForceDownload {
		if r.cfg.RequireLocal {
			return "", fmt.Errorf(
				"%w: model artifacts are required but missing in '%s'. Set OCR_AUTO_DOWNLOAD_MODEL_STORE=true for initial bootstrap, or download the model to OCR_MODEL_STORE_DIR before startup",
				ErrMissingArtifacts, repoDir,
			)
		}
		return "", nil
	}

	if err := os.MkdirAll(repoDir, 0o755); err != nil {
		return "", fmt.Errorf("failed creating repository dir %s: %w", repoDir, err)
	}
	r.log.Infow("Downloading model snapshot into model store",
		"model_repo_id", r.cfg.RepoID,
		"model_store_dir", storeDir,
		"force", r.cfg.ForceDownload,
	)
	if err := r.downloader.Download(ctx, repoDir); err != nil {
		return "", fmt.Errorf("failed to download model '%s' into '%s': %w", r.cfg.RepoID, repoDir, err)
	}

	present, err = r.HasExpectedArtifacts()
	if err != nil {
		return "", err
	}
	if !present {
		return "", fmt.Errorf("%w: model bootstrap finished but expected artifacts were not found under '%s'", ErrMissingArtifacts, repoDir)
	}
	r.writeMarker(storeDir)
	r.log.Infow("Model snapshot ready", "model_repo_id", r.cfg.RepoID, "model_store_dir", storeDir)
	return storeDir, nil
}

// HasExpectedArtifacts reports whether the repository dir holds the
// configured model file, or any file when no filename is configured
func (r *Resolver) HasExpectedArtifacts() (bool, error) {
	repoDir := r.RepoDir()
	info, err := os.Stat(repoDir)
	if err != nil || !info.IsDir() {
		return false, nil
	}
	if r.cfg.Filename != "" {
		match, err := FindModelFile(repoDir, r.cfg.Filename)
		return match != "", err
	}
	return hasAnyFile(repoDir)
}

// FindModelFile returns the first file under repoDir matching pattern.
// Patterns without glob characters are tried as a relative path first.
func FindModelFile(repoDir, pattern string) (string, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return "", nil
	}
	if !strings.ContainsAny(pattern, "*?[") {
		direct := filepath.Join(repoDir, filepath.FromSlash(pattern))
		if info, err := os.Stat(direct); err == nil && info.Mode().IsRegular() {
			return direct, nil
		}
	}

	var found string
	err := filepath.WalkDir(repoDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || strings.HasSuffix(d.Name(), shared.PartialDownloadSuffix) {
			return nil
		}
		rel, _ := filepath.Rel(repoDir, path)
		if ok, _ := filepath.Match(pattern, d.Name()); ok {
			found = path
			return fs.SkipAll
		}
		if ok, _ := filepath.Match(pattern, filepath.ToSlash(rel)); ok {
			found = path
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", utils.Wrap("failed walking model store", err)
	}
	return found, nil
}

func hasAnyFile(dir string) (bool, error) {
	found := false
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && !strings.HasSuffix(d.Name(), shared.PartialDownloadSuffix) {
			found = true
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return false, utils.Wrap("failed walking model store", err)
	}
	return found, nil
}

func (r *Resolver) writeMarker(storeDir string) {
	marker := filepath.Join(storeDir, shared.ModelStoreMarker)
	f, err := os.OpenFile(marker, os.O_CREATE|os.O_WRONLY, 0o644)
	if err == nil {
		err = f.Close()
	}
	if err == nil {
		now := time.Now()
		err = os.Chtimes(marker, now, now)
	}
	if err != nil {
		r.log.Warnw("Failed to update model store bootstrap marker", "model_store_dir", storeDir, "error", err)
	}
}
