// Package launcher starts or attaches to the vLLM server and gates process
// readiness on its model listing endpoint.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"ocr-api/internal/backend"
	"ocr-api/internal/config"
	"ocr-api/internal/metrics"
	"ocr-api/internal/readiness"
	"ocr-api/internal/shared"

	"github.com/google/shlex"
	"go.uber.org/zap"
)

var (
	ErrStartupTimeout = errors.New("backend did not become healthy before the startup timeout")
	ErrProcessExited  = errors.New("backend process exited")
	ErrModelNotServed = errors.New("configured model is not served by the backend")
)

type Launcher struct {
	cfg          config.BackendConfig
	hfToken      string
	backend      backend.Backend
	tracker      *readiness.Tracker
	log          *zap.SugaredLogger
	pollInterval time.Duration

	// command builds the backend process, overridable in tests
	command func(ctx context.Context, name string, args ...string) *exec.Cmd

	mu         sync.Mutex
	procCancel context.CancelFunc
	done       chan struct{}
	exitErr    error
	stopping   atomic.Bool
}

func New(cfg config.BackendConfig, hfToken string, be backend.Backend, tracker *readiness.Tracker, log *zap.SugaredLogger) *Launcher {
	return &Launcher{
		cfg:          cfg,
		hfToken:      hfToken,
		backend:      be,
		tracker:      tracker,
		log:          log,
		pollInterval: shared.BackendPollInterval,
		command:      exec.CommandContext,
	}
}

// BuildArgs returns the vLLM OpenAI server arguments for modelPath.
// Additional args are split with shell quoting rules.
func BuildArgs(cfg config.BackendConfig, modelPath string) ([]string, error) {
	args := []string{
		"-m", "vllm.entrypoints.openai.api_server",
		"--host", cfg.Host,
		"--port", strconv.Itoa(cfg.Port),
		"--model", modelPath,
		"--served-model-name", cfg.ModelID,
		"--dtype", cfg.DType,
		"--max-model-len", strconv.Itoa(cfg.MaxModelLen),
		"--tensor-parallel-size", strconv.Itoa(cfg.TensorParallelSize),
		"--gpu-memory-utilization", strconv.FormatFloat(cfg.GPUMemoryUtilization, 'f', -1, 64),
	}
	if cfg.TrustRemoteCode {
		args = append(args, "--trust-remote-code")
	}
	if cfg.EnforceEager {
		args = append(args, "--enforce-eager")
	}
	if cfg.DisableMMPreprocessorCache {
		args = append(args, "--disable-mm-preprocessor-cache")
	}
	extra, err := shlex.Split(cfg.AdditionalArgs)
	if err != nil {
		return nil, fmt.Errorf("invalid vllm additional args %q: %w", cfg.AdditionalArgs, err)
	}
	return append(args, extra...), nil
}

// Run moves readiness to Starting, launches the backend in managed mode and
// polls until it is healthy. Any failure leaves readiness in Failed.
func (l *Launcher) Run(ctx context.Context, modelPath string) error {
	if !l.tracker.MarkStarting() {
		return fmt.Errorf("backend launch already attempted, readiness is %s", l.tracker.State())
	}
	start := time.Now()

	if l.cfg.Managed {
		if err := l.spawn(modelPath); err != nil {
			l.tracker.MarkFailed()
			return err
		}
	}

	if err := l.waitReady(ctx); err != nil {
		l.tracker.MarkFailed()
		if l.cfg.Managed {
			stopCtx, cancel := context.WithTimeout(context.Background(), shared.BackendStopGracePeriod+time.Second)
			defer cancel()
			if serr := l.Stop(stopCtx); serr != nil {
				l.log.Warnw("Failed stopping vLLM backend after failed startup", "error", serr)
			}
		}
		return err
	}
	if !l.tracker.MarkReady() {
		return fmt.Errorf("backend became healthy but readiness is %s", l.tracker.State())
	}
	metrics.BackendStartupSeconds.Set(time.Since(start).Seconds())
	l.log.Infow("vLLM backend ready", "base_url", l.cfg.BaseURL, "model_id", l.cfg.ModelID, "startup", time.Since(start).String())

	if l.cfg.Managed {
		go l.supervise()
	}
	return nil
}

func (l *Launcher) spawn(modelPath string) error {
	if modelPath == "" {
		return errors.New("managed backend requires a local model path")
	}
	info, err := os.Stat(modelPath)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("local model directory does not exist for vLLM: '%s'", modelPath)
	}

	args, err := BuildArgs(l.cfg, modelPath)
	if err != nil {
		return err
	}

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := l.command(procCtx, l.cfg.Python, args...)
	cmd.Env = l.childEnv()
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = shared.BackendStopGracePeriod

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed starting vLLM backend: %w", err)
	}
	l.log.Infow("Started vLLM backend", "pid", cmd.Process.Pid, "model_path", modelPath, "port", l.cfg.Port)

	done := make(chan struct{})
	l.mu.Lock()
	l.procCancel = cancel
	l.done = done
	l.mu.Unlock()

	go func() {
		err := cmd.Wait()
		l.mu.Lock()
		l.exitErr = err
		l.mu.Unlock()
		close(done)
	}()
	return nil
}

func (l *Launcher) childEnv() []string {
	env := os.Environ()
	if l.hfToken == "" {
		return env
	}
	for _, key := range []string{"HF_TOKEN", "HUGGING_FACE_HUB_TOKEN"} {
		if _, ok := os.LookupEnv(key); !ok {
			env = append(env, key+"="+l.hfToken)
		}
	}
	return env
}

func (l *Launcher) exited() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

func (l *Launcher) exitError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.exitErr != nil {
		return fmt.Errorf("%w: %w", ErrProcessExited, l.exitErr)
	}
	return ErrProcessExited
}

func (l *Launcher) waitReady(ctx context.Context) error {
	deadline := time.NewTimer(l.cfg.StartupTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	attempts := 0
	for {
		attempts++
		err := l.poll(ctx)
		if err == nil {
			return nil
		}
		l.log.Debugw("Backend not ready yet", "attempt", attempts, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w (%s, %d polls): %w", ErrStartupTimeout, l.cfg.StartupTimeout, attempts, err)
		case <-l.exited():
			return l.exitError()
		case <-ticker.C:
		}
	}
}

func (l *Launcher) poll(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, shared.ReadinessProbeTimeout)
	defer cancel()

	models, err := l.backend.ListModels(pctx)
	if err != nil {
		return err
	}
	if !l.cfg.StartupCompatCheck {
		return nil
	}
	if !slices.ContainsFunc(models, func(m shared.BackendModel) bool { return m.ID == l.cfg.ModelID }) {
		return fmt.Errorf("%w: %s", ErrModelNotServed, l.cfg.ModelID)
	}
	return nil
}

// supervise fails readiness when the managed process dies unexpectedly
func (l *Launcher) supervise() {
	<-l.exited()
	if l.stopping.Load() {
		return
	}
	err := l.exitError()
	if l.tracker.MarkFailed() {
		l.log.Errorw("vLLM backend exited unexpectedly, service unavailable until restart", "error", err)
	}
}

// Wait blocks until the managed process exits. It returns nil immediately in
// attach mode.
func (l *Launcher) Wait(ctx context.Context) error {
	done := l.exited()
	if done == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		if l.stopping.Load() {
			return nil
		}
		return l.exitError()
	}
}

// Stop terminates a managed backend, SIGTERM first then SIGKILL after the
// grace period
func (l *Launcher) Stop(ctx context.Context) error {
	l.mu.Lock()
	cancel, done := l.procCancel, l.done
	l.mu.Unlock()
	if cancel == nil {
		return nil
	}

	l.stopping.Store(true)
	cancel()
	select {
	case <-done:
		l.log.Infow("vLLM backend stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
