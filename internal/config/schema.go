package config

import "time"

// Config holds docstream configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Log       LogCfg       `mapstructure:"log" yaml:"log" json:"log"`
	Server    ServerCfg    `mapstructure:"server" yaml:"server" json:"server"`
	Storage   StorageCfg   `mapstructure:"storage" yaml:"storage" json:"storage"`
	Upload    UploadCfg    `mapstructure:"upload" yaml:"upload" json:"upload"`
	Engine    EngineCfg    `mapstructure:"engine" yaml:"engine" json:"engine"`
	Container ContainerCfg `mapstructure:"container" yaml:"container" json:"container"`
	Pipeline  PipelineCfg  `mapstructure:"pipeline" yaml:"pipeline" json:"pipeline"`
}

// LogCfg controls the process logger.
type LogCfg struct {
	Level string `mapstructure:"level" yaml:"level" json:"level"` // debug, info, warn, error
}

// ServerCfg configures the HTTP listener.
type ServerCfg struct {
	Host        string        `mapstructure:"host" yaml:"host" json:"host"`
	Port        string        `mapstructure:"port" yaml:"port" json:"port"`
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" json:"idle_timeout"`
}

// StorageCfg overrides where uploads and outputs live. Empty means under the home dir.
type StorageCfg struct {
	UploadsDir string `mapstructure:"uploads_dir" yaml:"uploads_dir" json:"uploads_dir"`
	OutputsDir string `mapstructure:"outputs_dir" yaml:"outputs_dir" json:"outputs_dir"`
}

// UploadCfg bounds what the OCR endpoints accept.
type UploadCfg struct {
	MaxSizeMB         int      `mapstructure:"max_size_mb" yaml:"max_size_mb" json:"max_size_mb"`
	AllowedExtensions []string `mapstructure:"allowed_extensions" yaml:"allowed_extensions" json:"allowed_extensions"`
}

// EngineCfg selects and configures the inference engine.
type EngineCfg struct {
	Type           string   `mapstructure:"type" yaml:"type" json:"type"` // "openai", "mock", "tesseract"
	BaseURL        string   `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	APIKey         string   `mapstructure:"api_key" yaml:"api_key" json:"api_key"` // supports ${ENV_VAR} syntax
	Model          string   `mapstructure:"model" yaml:"model" json:"model"`
	MaxTokens      int      `mapstructure:"max_tokens" yaml:"max_tokens" json:"max_tokens"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds" yaml:"timeout_seconds" json:"timeout_seconds"`
	MaxRetries     int      `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries"`
	Workers        int      `mapstructure:"workers" yaml:"workers" json:"workers"`       // concurrent inference slots
	Languages      []string `mapstructure:"languages" yaml:"languages" json:"languages"` // tesseract only
}

// ContainerCfg manages an inference server container through Docker.
type ContainerCfg struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Image        string        `mapstructure:"image" yaml:"image" json:"image"`
	Name         string        `mapstructure:"name" yaml:"name" json:"name"`
	Port         string        `mapstructure:"port" yaml:"port" json:"port"`
	GPUs         string        `mapstructure:"gpus" yaml:"gpus" json:"gpus"` // "all", "0", "0,1", "" for none
	ModelCache   string        `mapstructure:"model_cache" yaml:"model_cache" json:"model_cache"`
	ReadyTimeout time.Duration `mapstructure:"ready_timeout" yaml:"ready_timeout" json:"ready_timeout"`
}

// PipelineCfg tunes the page pipeline and stream timing.
type PipelineCfg struct {
	Renderer            string        `mapstructure:"renderer" yaml:"renderer" json:"renderer"` // "fitz", "pdftoppm"
	RenderDPI           int           `mapstructure:"render_dpi" yaml:"render_dpi" json:"render_dpi"`
	MaterializeTimeout  time.Duration `mapstructure:"materialize_timeout" yaml:"materialize_timeout" json:"materialize_timeout"`
	MaterializeInterval time.Duration `mapstructure:"materialize_interval" yaml:"materialize_interval" json:"materialize_interval"`
	ScanTimeout         time.Duration `mapstructure:"scan_timeout" yaml:"scan_timeout" json:"scan_timeout"`
	PageYield           time.Duration `mapstructure:"page_yield" yaml:"page_yield" json:"page_yield"`
	PollInterval        time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" json:"poll_interval"`
	RenderHTML          bool          `mapstructure:"render_html" yaml:"render_html" json:"render_html"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Log: LogCfg{Level: "info"},
		Server: ServerCfg{
			Host:        "127.0.0.1",
			Port:        "8080",
			ReadTimeout: 30 * time.Second,
			IdleTimeout: 120 * time.Second,
		},
		Upload: UploadCfg{
			MaxSizeMB:         100,
			AllowedExtensions: []string{".jpg", ".jpeg", ".png", ".pdf", ".bmp", ".tiff", ".webp"},
		},
		Engine: EngineCfg{
			Type:           "openai",
			BaseURL:        "http://127.0.0.1:8000/v1",
			APIKey:         "${DOCSTREAM_ENGINE_API_KEY}",
			Model:          "deepseek-ai/DeepSeek-OCR",
			MaxTokens:      8192,
			TimeoutSeconds: 600,
			MaxRetries:     2,
			Workers:        1,
			Languages:      []string{"eng"},
		},
		Container: ContainerCfg{
			Enabled:      false,
			Image:        "vllm/vllm-openai:latest",
			Name:         "docstream-engine",
			Port:         "8000",
			GPUs:         "all",
			ReadyTimeout: 10 * time.Minute,
		},
		Pipeline: PipelineCfg{
			Renderer:            "fitz",
			RenderDPI:           144,
			MaterializeTimeout:  6 * time.Second,
			MaterializeInterval: 100 * time.Millisecond,
			ScanTimeout:         2 * time.Second,
			PageYield:           100 * time.Millisecond,
			PollInterval:        500 * time.Millisecond,
			RenderHTML:          true,
		},
	}
}

// ResolvedAPIKey returns the engine API key with ${ENV_VAR} references expanded.
func (c EngineCfg) ResolvedAPIKey() string {
	return ResolveEnvVars(c.APIKey)
}

// Timeout returns the per-request engine timeout.
func (c EngineCfg) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MaxUploadBytes returns the upload size limit in bytes.
func (c UploadCfg) MaxUploadBytes() int64 {
	if c.MaxSizeMB <= 0 {
		return 0
	}
	return int64(c.MaxSizeMB) << 20
}
