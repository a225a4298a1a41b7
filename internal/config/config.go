// Package config resolves the process wide configuration from the environment.
// Every key is read with the OCR_ prefix, e.g. model_store_dir is
// OCR_MODEL_STORE_DIR. Values are read once at startup and never mutated.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ocr-api/internal/shared"

	"github.com/google/shlex"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "OCR"

const defaultPrompt = `You are a multilingual OCR engine. Transcribe every piece of text visible in the image into Markdown.
- Keep the original language and script of every line. Do not translate or correct anything.
- Reproduce headings, lists and tables with Markdown syntax; use tables for aligned, tabular content.
- Follow the natural reading direction of the document, including right-to-left scripts.
- Use [signature], [stamp], [logo] for those visual elements and [unreadable] only for text that cannot be read.
- Output only the transcription. No code fences, no commentary.`

var validDTypes = map[string]bool{
	"auto": true, "half": true, "float16": true, "bfloat16": true, "float": true, "float32": true,
}

type AppConfig struct {
	ListenAddr    string
	Version       string
	VerboseLogs   bool
	MetricsAPIKey string
}

type ModelStoreConfig struct {
	Dir                 string
	RepoID              string
	Filename            string
	RequireLocal        bool
	AutoDownload        bool
	ForceDownload       bool
	HFToken             string
	HFEndpoint          string
	HFRevision          string
	DownloadMaxAttempts int
}

// BackendConfig describes the vLLM server, both how to reach it and, in
// managed mode, how to launch it
type BackendConfig struct {
	BaseURL            string
	APIKey             string
	ModelID            string
	Timeout            time.Duration
	StartupTimeout     time.Duration
	StartupCompatCheck bool

	Managed                    bool
	Python                     string
	Host                       string
	Port                       int
	DType                      string
	MaxModelLen                int
	TensorParallelSize         int
	GPUMemoryUtilization       float64
	TrustRemoteCode            bool
	EnforceEager               bool
	DisableMMPreprocessorCache bool
	AdditionalArgs             string
}

type InferenceConfig struct {
	ModelName      string
	Temperature    float64
	TopK           int
	TopP           float64
	MaxTokens      int
	Timeout        time.Duration
	MaxUploadBytes int64
	Prompt         string
}

type Config struct {
	App        AppConfig
	ModelStore ModelStoreConfig
	Backend    BackendConfig
	Inference  InferenceConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8000")
	v.SetDefault("app_version", "1.0.0")
	v.SetDefault("verbose_logs", false)
	v.SetDefault("metrics_api_key", "")

	v.SetDefault("model_name", shared.DisplayModelName)
	v.SetDefault("model_store_dir", "model_store")
	v.SetDefault("model_repo_id", "allenai/olmOCR-2-7B-1025-FP8")
	v.SetDefault("model_filename", "")
	v.SetDefault("require_local_model_store", true)
	v.SetDefault("auto_download_model_store", false)
	v.SetDefault("model_force_download", false)
	v.SetDefault("hf_token", "")
	v.SetDefault("hf_endpoint", "https://huggingface.co")
	v.SetDefault("hf_revision", "main")
	v.SetDefault("download_max_attempts", 5)

	v.SetDefault("startup_compat_check", true)
	v.SetDefault("vllm_base_url", "http://127.0.0.1:8001")
	v.SetDefault("vllm_api_key", "EMPTY")
	v.SetDefault("vllm_model_id", shared.DisplayModelName)
	v.SetDefault("vllm_timeout_seconds", int(shared.DefaultHTTPTimeout.Seconds()))
	v.SetDefault("vllm_startup_timeout_seconds", int(shared.DefaultStartupTimeout.Seconds()))
	v.SetDefault("vllm_managed", false)
	v.SetDefault("vllm_python", "python3")
	v.SetDefault("vllm_host", "0.0.0.0")
	v.SetDefault("vllm_port", 8001)
	v.SetDefault("vllm_dtype", "bfloat16")
	v.SetDefault("vllm_max_model_len", 8192)
	v.SetDefault("vllm_tensor_parallel_size", 1)
	v.SetDefault("vllm_gpu_memory_utilization", 0.90)
	v.SetDefault("vllm_trust_remote_code", false)
	v.SetDefault("vllm_enforce_eager", false)
	v.SetDefault("vllm_disable_mm_preprocessor_cache", false)
	v.SetDefault("vllm_additional_args", "")

	v.SetDefault("temperature", 0.0)
	v.SetDefault("top_k", 1)
	v.SetDefault("top_p", 1.0)
	v.SetDefault("max_tokens", 4096)
	v.SetDefault("inference_timeout_seconds", int(shared.DefaultInferenceTimeout.Seconds()))
	v.SetDefault("max_upload_megabytes", 15)
	v.SetDefault("prompt", defaultPrompt)
}

// Load reads an optional env file and the process environment. An empty
// envFile means ".env" in the working directory; a missing file is not an
// error.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	setDefaults(v)

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) *Config {
	hfToken := strings.TrimSpace(v.GetString("hf_token"))
	if hfToken == "" {
		hfToken = strings.TrimSpace(shared.GetEnv("HF_TOKEN", ""))
	}

	storeDir := expandHome(strings.TrimSpace(v.GetString("model_store_dir")))

	return &Config{
		App: AppConfig{
			ListenAddr:    v.GetString("listen_addr"),
			Version:       v.GetString("app_version"),
			VerboseLogs:   v.GetBool("verbose_logs"),
			MetricsAPIKey: v.GetString("metrics_api_key"),
		},
		ModelStore: ModelStoreConfig{
			Dir:                 storeDir,
			RepoID:              strings.TrimSpace(v.GetString("model_repo_id")),
			Filename:            strings.TrimSpace(v.GetString("model_filename")),
			RequireLocal:        v.GetBool("require_local_model_store"),
			AutoDownload:        v.GetBool("auto_download_model_store"),
			ForceDownload:       v.GetBool("model_force_download"),
			HFToken:             hfToken,
			HFEndpoint:          strings.TrimRight(strings.TrimSpace(v.GetString("hf_endpoint")), "/"),
			HFRevision:          strings.TrimSpace(v.GetString("hf_revision")),
			DownloadMaxAttempts: v.GetInt("download_max_attempts"),
		},
		Backend: BackendConfig{
			BaseURL:                    strings.TrimRight(strings.TrimSpace(v.GetString("vllm_base_url")), "/"),
			APIKey:                     v.GetString("vllm_api_key"),
			ModelID:                    strings.TrimSpace(v.GetString("vllm_model_id")),
			Timeout:                    time.Duration(v.GetInt("vllm_timeout_seconds")) * time.Second,
			StartupTimeout:             time.Duration(v.GetInt("vllm_startup_timeout_seconds")) * time.Second,
			StartupCompatCheck:         v.GetBool("startup_compat_check"),
			Managed:                    v.GetBool("vllm_managed"),
			Python:                     v.GetString("vllm_python"),
			Host:                       v.GetString("vllm_host"),
			Port:                       v.GetInt("vllm_port"),
			DType:                      strings.ToLower(strings.TrimSpace(v.GetString("vllm_dtype"))),
			MaxModelLen:                v.GetInt("vllm_max_model_len"),
			TensorParallelSize:         v.GetInt("vllm_tensor_parallel_size"),
			GPUMemoryUtilization:       v.GetFloat64("vllm_gpu_memory_utilization"),
			TrustRemoteCode:            v.GetBool("vllm_trust_remote_code"),
			EnforceEager:               v.GetBool("vllm_enforce_eager"),
			DisableMMPreprocessorCache: v.GetBool("vllm_disable_mm_preprocessor_cache"),
			AdditionalArgs:             v.GetString("vllm_additional_args"),
		},
		Inference: InferenceConfig{
			ModelName:      strings.TrimSpace(v.GetString("model_name")),
			Temperature:    v.GetFloat64("temperature"),
			TopK:           v.GetInt("top_k"),
			TopP:           v.GetFloat64("top_p"),
			MaxTokens:      v.GetInt("max_tokens"),
			Timeout:        time.Duration(v.GetInt("inference_timeout_seconds")) * time.Second,
			MaxUploadBytes: int64(v.GetInt("max_upload_megabytes")) * 1024 * 1024,
			Prompt:         v.GetString("prompt"),
		},
	}
}

// Validate reports every invalid value at once
func (c *Config) Validate() error {
	var errs []error
	if c.Inference.ModelName != shared.DisplayModelName {
		errs = append(errs, fmt.Errorf("model_name must be %q", shared.DisplayModelName))
	}
	if c.Backend.ModelID != shared.DisplayModelName {
		errs = append(errs, fmt.Errorf("vllm_model_id must be %q", shared.DisplayModelName))
	}
	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("vllm_base_url must not be empty"))
	}
	if c.Backend.Port < 1 || c.Backend.Port > 65535 {
		errs = append(errs, errors.New("vllm_port must be between 1 and 65535"))
	}
	if !validDTypes[c.Backend.DType] {
		errs = append(errs, fmt.Errorf("vllm_dtype must be one of auto, bfloat16, float, float16, float32, half; got %q", c.Backend.DType))
	}
	if c.Backend.TensorParallelSize < 1 {
		errs = append(errs, errors.New("vllm_tensor_parallel_size must be >= 1"))
	}
	if c.Backend.GPUMemoryUtilization <= 0 || c.Backend.GPUMemoryUtilization > 1 {
		errs = append(errs, errors.New("vllm_gpu_memory_utilization must be > 0 and <= 1"))
	}
	if c.Backend.Timeout <= 0 || c.Backend.StartupTimeout <= 0 {
		errs = append(errs, errors.New("vllm timeouts must be positive"))
	}
	if _, err := shlex.Split(c.Backend.AdditionalArgs); err != nil {
		errs = append(errs, fmt.Errorf("vllm_additional_args is not a valid argument list: %w", err))
	}
	if c.Inference.TopK < 1 {
		errs = append(errs, errors.New("top_k must be >= 1"))
	}
	if c.Inference.TopP <= 0 || c.Inference.TopP > 1 {
		errs = append(errs, errors.New("top_p must be > 0 and <= 1"))
	}
	if c.Inference.Timeout <= 0 {
		errs = append(errs, errors.New("inference_timeout_seconds must be positive"))
	}
	if c.Inference.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max_upload_megabytes must be positive"))
	}
	if c.ModelStore.RepoID == "" {
		errs = append(errs, errors.New("model_repo_id must not be empty"))
	}
	if c.ModelStore.DownloadMaxAttempts < 1 {
		errs = append(errs, errors.New("download_max_attempts must be >= 1"))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{errors.New("invalid configuration")}, errs...)...)
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
