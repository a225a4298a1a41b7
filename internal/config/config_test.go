package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"ocr-api/internal/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func missingEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(missingEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, shared.DisplayModelName, cfg.Inference.ModelName)
	assert.Equal(t, "http://127.0.0.1:8001", cfg.Backend.BaseURL)
	assert.Equal(t, "bfloat16", cfg.Backend.DType)
	assert.Equal(t, 8192, cfg.Backend.MaxModelLen)
	assert.Equal(t, 600*time.Second, cfg.Backend.StartupTimeout)
	assert.Equal(t, 90*time.Second, cfg.Inference.Timeout)
	assert.Equal(t, int64(15*1024*1024), cfg.Inference.MaxUploadBytes)
	assert.True(t, cfg.ModelStore.RequireLocal)
	assert.False(t, cfg.ModelStore.AutoDownload)
	assert.False(t, cfg.App.VerboseLogs)
	assert.NotEmpty(t, cfg.Inference.Prompt)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("OCR_VLLM_BASE_URL", "http://backend:9000/")
	t.Setenv("OCR_VLLM_DTYPE", " Float16 ")
	t.Setenv("OCR_VLLM_TENSOR_PARALLEL_SIZE", "2")
	t.Setenv("OCR_VLLM_GPU_MEMORY_UTILIZATION", "0.5")
	t.Setenv("OCR_REQUIRE_LOCAL_MODEL_STORE", "false")
	t.Setenv("OCR_AUTO_DOWNLOAD_MODEL_STORE", "true")
	t.Setenv("OCR_INFERENCE_TIMEOUT_SECONDS", "30")
	t.Setenv("OCR_VERBOSE_LOGS", "true")
	t.Setenv("OCR_HF_TOKEN", "")
	t.Setenv("HF_TOKEN", " hf_fallback ")

	cfg, err := Load(missingEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "http://backend:9000", cfg.Backend.BaseURL)
	assert.Equal(t, "float16", cfg.Backend.DType)
	assert.Equal(t, 2, cfg.Backend.TensorParallelSize)
	assert.InDelta(t, 0.5, cfg.Backend.GPUMemoryUtilization, 1e-9)
	assert.False(t, cfg.ModelStore.RequireLocal)
	assert.True(t, cfg.ModelStore.AutoDownload)
	assert.Equal(t, 30*time.Second, cfg.Inference.Timeout)
	assert.True(t, cfg.App.VerboseLogs)
	assert.Equal(t, "hf_fallback", cfg.ModelStore.HFToken)
}

func TestLoadEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("OCR_MAX_TOKENS=1024\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("OCR_MAX_TOKENS") })

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.Inference.MaxTokens)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"port":        {"OCR_VLLM_PORT", "70000"},
		"dtype":       {"OCR_VLLM_DTYPE", "int4"},
		"tp":          {"OCR_VLLM_TENSOR_PARALLEL_SIZE", "0"},
		"gpu":         {"OCR_VLLM_GPU_MEMORY_UTILIZATION", "1.5"},
		"top_k":       {"OCR_TOP_K", "0"},
		"top_p":       {"OCR_TOP_P", "0"},
		"model name":  {"OCR_MODEL_NAME", "other-model"},
		"served name": {"OCR_VLLM_MODEL_ID", "other-model"},
		"extra args":  {"OCR_VLLM_ADDITIONAL_ARGS", `--chat-template "unterminated`},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Load(missingEnvFile(t))
			require.Error(t, err)
		})
	}
}

func TestNewLoggerLevels(t *testing.T) {
	quiet, err := AppConfig{}.NewLogger()
	require.NoError(t, err)
	assert.False(t, quiet.Desugar().Core().Enabled(zapcore.DebugLevel))
	assert.False(t, quiet.Desugar().Core().Enabled(zapcore.WarnLevel))
	assert.True(t, quiet.Desugar().Core().Enabled(zapcore.ErrorLevel))

	verbose, err := AppConfig{VerboseLogs: true}.NewLogger()
	require.NoError(t, err)
	assert.True(t, verbose.Desugar().Core().Enabled(zapcore.DebugLevel))
}
