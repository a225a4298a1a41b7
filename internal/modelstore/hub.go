package modelstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"ocr-api/internal/config"
	"ocr-api/internal/metrics"
	"ocr-api/internal/shared"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

var (
	ErrAuth             = errors.New("authentication failed against model repository")
	ErrNotFound         = errors.New("model repository or file not found")
	ErrInsufficientDisk = errors.New("insufficient disk space for model download")
)

const authHint = "set OCR_HF_TOKEN (or HF_TOKEN) to a token with access and accept the model terms on the hub for gated repositories"

type hubFile struct {
	Path string
	Size int64
}

type hubSibling struct {
	RFilename string `json:"rfilename"`
	Size      *int64 `json:"size,omitempty"`
	LFS       *struct {
		Size int64 `json:"size"`
	} `json:"lfs,omitempty"`
}

type hubModelInfo struct {
	ID       string       `json:"id"`
	Siblings []hubSibling `json:"siblings"`
}

// HubDownloader fetches repository snapshots from a Hugging Face compatible
// hub. Files that already exist with the expected size are skipped and
// interrupted downloads resume from their partial file.
type HubDownloader struct {
	Endpoint       string
	RepoID         string
	Revision       string
	Token          string
	Filename       string
	Force          bool
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	httpClient *http.Client
	freeBytes  func(dir string) (int64, error)
	log        *zap.SugaredLogger
}

var _ Downloader = (*HubDownloader)(nil)

func NewHubDownloader(cfg config.ModelStoreConfig, log *zap.SugaredLogger) *HubDownloader {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: 10 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
	}
	return &HubDownloader{
		Endpoint:       cfg.HFEndpoint,
		RepoID:         cfg.RepoID,
		Revision:       cfg.HFRevision,
		Token:          cfg.HFToken,
		Filename:       cfg.Filename,
		Force:          cfg.ForceDownload,
		MaxAttempts:    cfg.DownloadMaxAttempts,
		InitialBackoff: shared.DownloadInitialBackoff,
		MaxBackoff:     shared.DownloadMaxBackoff,
		httpClient:     &http.Client{Transport: tr},
		freeBytes:      freeDiskBytes,
		log:            log,
	}
}

func (h *HubDownloader) Download(ctx context.Context, repoDir string) error {
	var files []hubFile
	err := h.retry(ctx, "list files", func() error {
		var err error
		files, err = h.listFiles(ctx)
		return err
	})
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("%w: no files matched in %s", ErrNotFound, h.RepoID)
	}

	var pending []hubFile
	var remaining int64
	for _, f := range files {
		dest := filepath.Join(repoDir, filepath.FromSlash(f.Path))
		if !h.Force && f.Size >= 0 && fileSize(dest) == f.Size {
			h.log.Debugw("Skipping model file already present", "file", f.Path)
			continue
		}
		pending = append(pending, f)
		if f.Size > 0 {
			remaining += f.Size - max(fileSize(dest+shared.PartialDownloadSuffix), 0)
		}
	}

	if h.freeBytes != nil && remaining > 0 {
		free, err := h.freeBytes(repoDir)
		switch {
		case err != nil:
			h.log.Warnw("Failed checking free disk space, skipping check", "dir", repoDir, "error", err)
		case free >= 0 && free < remaining:
			return fmt.Errorf("%w: need %d bytes in %s, %d available", ErrInsufficientDisk, remaining, repoDir, free)
		}
	}

	for _, f := range pending {
		dest := filepath.Join(repoDir, filepath.FromSlash(f.Path))
		if h.Force {
			_ = os.Remove(dest + shared.PartialDownloadSuffix)
		}
		err := h.retry(ctx, "download "+f.Path, func() error {
			return h.downloadFile(ctx, f, dest)
		})
		if err != nil {
			return err
		}
		h.log.Infow("Downloaded model file", "file", f.Path, "size", f.Size)
	}
	return nil
}

func (h *HubDownloader) retry(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.InitialBackoff
	b.MaxInterval = h.MaxBackoff
	b.MaxElapsedTime = 0

	attempts := max(h.MaxAttempts, 1)
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
	return backoff.RetryNotify(fn, policy, func(err error, wait time.Duration) {
		metrics.ModelDownloadRetries.Inc()
		h.log.Warnw("Model download step failed, retrying", "op", op, "error", err, "wait", wait.String())
	})
}

func (h *HubDownloader) listFiles(ctx context.Context) ([]hubFile, error) {
	u := fmt.Sprintf("%s/api/models/%s/revision/%s?blobs=true", h.Endpoint, h.RepoID, url.PathEscape(h.Revision))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	h.authorize(req)

	res, err := h.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = res.Body.Close()
	}()
	if err := checkStatus(res, http.StatusOK); err != nil {
		return nil, err
	}

	var info hubModelInfo
	if err := json.NewDecoder(res.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed decoding model info: %w", err)
	}

	files := make([]hubFile, 0, len(info.Siblings))
	for _, s := range info.Siblings {
		if h.Filename != "" && !matchesPattern(h.Filename, s.RFilename) {
			continue
		}
		size := int64(-1)
		switch {
		case s.LFS != nil:
			size = s.LFS.Size
		case s.Size != nil:
			size = *s.Size
		}
		files = append(files, hubFile{Path: s.RFilename, Size: size})
	}
	return files, nil
}

func (h *HubDownloader) downloadFile(ctx context.Context, f hubFile, dest string) error {
	partial := dest + shared.PartialDownloadSuffix
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return backoff.Permanent(err)
	}

	offset := max(fileSize(partial), 0)
	if f.Size >= 0 && offset > f.Size {
		_ = os.Remove(partial)
		offset = 0
	}
	if f.Size >= 0 && offset == f.Size {
		return os.Rename(partial, dest)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.resolveURL(f.Path), nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	h.authorize(req)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	res, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = res.Body.Close()
	}()
	if res.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		_ = os.Remove(partial)
	}
	if err := checkStatus(res, http.StatusOK, http.StatusPartialContent); err != nil {
		return err
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if res.StatusCode == http.StatusOK {
		// server ignored the range, start over
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}
	out, err := os.OpenFile(partial, flags, 0o644)
	if err != nil {
		return backoff.Permanent(err)
	}
	written, copyErr := io.Copy(out, res.Body)
	metrics.ModelDownloadBytes.Add(float64(written))
	closeErr := out.Close()
	if copyErr != nil {
		return copyErr
	}
	if closeErr != nil {
		return backoff.Permanent(closeErr)
	}

	if f.Size >= 0 {
		if got := fileSize(partial); got != f.Size {
			return fmt.Errorf("size mismatch for %s: got %d want %d", f.Path, got, f.Size)
		}
	}
	if err := os.Rename(partial, dest); err != nil {
		return backoff.Permanent(err)
	}
	return nil
}

func (h *HubDownloader) resolveURL(file string) string {
	parts := strings.Split(file, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return fmt.Sprintf("%s/%s/resolve/%s/%s", h.Endpoint, h.RepoID, url.PathEscape(h.Revision), strings.Join(parts, "/"))
}

func (h *HubDownloader) authorize(req *http.Request) {
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}
}

// checkStatus marks auth and not found failures as permanent, everything
// else unexpected is retried
func checkStatus(res *http.Response, ok ...int) error {
	for _, code := range ok {
		if res.StatusCode == code {
			return nil
		}
	}
	snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
	switch res.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return backoff.Permanent(fmt.Errorf("%w (status %d): %s", ErrAuth, res.StatusCode, authHint))
	case http.StatusNotFound:
		return backoff.Permanent(fmt.Errorf("%w (status %d): %s", ErrNotFound, res.StatusCode, strings.TrimSpace(string(snippet))))
	case http.StatusRequestedRangeNotSatisfiable:
		return errors.New("range not satisfiable, restarting download")
	}
	return fmt.Errorf("hub returned status %d: %s", res.StatusCode, strings.TrimSpace(string(snippet)))
}

func matchesPattern(pattern, file string) bool {
	if pattern == file {
		return true
	}
	if ok, _ := path.Match(pattern, file); ok {
		return true
	}
	ok, _ := path.Match(pattern, path.Base(file))
	return ok
}

func fileSize(p string) int64 {
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return -1
	}
	return info.Size()
}
