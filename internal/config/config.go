package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

// EnvPrefix is the prefix for environment overrides, e.g. DOCSTREAM_ENGINE_TYPE.
const EnvPrefix = "DOCSTREAM"

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	v         *viper.Viper
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
	logger    *slog.Logger
}

// NewManager creates a new config manager and loads initial config.
// searchDirs are consulted for config.yaml when cfgFile is empty.
func NewManager(cfgFile string, searchDirs ...string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
		logger:    slog.Default(),
	}

	if err := cm.initViper(cfgFile, searchDirs); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// SetLogger sets the logger used to report reload problems.
func (cm *Manager) SetLogger(logger *slog.Logger) {
	if logger == nil {
		return
	}
	cm.mu.Lock()
	cm.logger = logger
	cm.mu.Unlock()
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string, searchDirs []string) error {
	setDefaults(cm.v, DefaultConfig())

	// Environment variables with DOCSTREAM_ prefix, dots become underscores
	cm.v.SetEnvPrefix(EnvPrefix)
	cm.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cm.v.AutomaticEnv()

	if cfgFile != "" {
		cm.v.SetConfigFile(cfgFile)
	} else {
		cm.v.SetConfigName("config")
		cm.v.SetConfigType("yaml")
		cm.v.AddConfigPath(".")
		for _, dir := range searchDirs {
			cm.v.AddConfigPath(dir)
		}
		cm.v.AddConfigPath("$HOME/.docstream")
	}

	// Try to read config file (not required)
	if err := cm.v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log.level", d.Log.Level)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)

	v.SetDefault("storage.uploads_dir", d.Storage.UploadsDir)
	v.SetDefault("storage.outputs_dir", d.Storage.OutputsDir)

	v.SetDefault("upload.max_size_mb", d.Upload.MaxSizeMB)
	v.SetDefault("upload.allowed_extensions", d.Upload.AllowedExtensions)

	v.SetDefault("engine.type", d.Engine.Type)
	v.SetDefault("engine.base_url", d.Engine.BaseURL)
	v.SetDefault("engine.api_key", d.Engine.APIKey)
	v.SetDefault("engine.model", d.Engine.Model)
	v.SetDefault("engine.max_tokens", d.Engine.MaxTokens)
	v.SetDefault("engine.timeout_seconds", d.Engine.TimeoutSeconds)
	v.SetDefault("engine.max_retries", d.Engine.MaxRetries)
	v.SetDefault("engine.workers", d.Engine.Workers)
	v.SetDefault("engine.languages", d.Engine.Languages)

	v.SetDefault("container.enabled", d.Container.Enabled)
	v.SetDefault("container.image", d.Container.Image)
	v.SetDefault("container.name", d.Container.Name)
	v.SetDefault("container.port", d.Container.Port)
	v.SetDefault("container.gpus", d.Container.GPUs)
	v.SetDefault("container.model_cache", d.Container.ModelCache)
	v.SetDefault("container.ready_timeout", d.Container.ReadyTimeout)

	v.SetDefault("pipeline.renderer", d.Pipeline.Renderer)
	v.SetDefault("pipeline.render_dpi", d.Pipeline.RenderDPI)
	v.SetDefault("pipeline.materialize_timeout", d.Pipeline.MaterializeTimeout)
	v.SetDefault("pipeline.materialize_interval", d.Pipeline.MaterializeInterval)
	v.SetDefault("pipeline.scan_timeout", d.Pipeline.ScanTimeout)
	v.SetDefault("pipeline.page_yield", d.Pipeline.PageYield)
	v.SetDefault("pipeline.poll_interval", d.Pipeline.PollInterval)
	v.SetDefault("pipeline.render_html", d.Pipeline.RenderHTML)
}

// load parses the current viper state into a validated Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// ConfigFileUsed returns the path of the loaded config file, if any.
func (cm *Manager) ConfigFileUsed() string {
	return cm.v.ConfigFileUsed()
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
// A reload that fails validation is logged and the previous config is kept.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			cm.mu.RLock()
			logger := cm.logger
			cm.mu.RUnlock()
			logger.Warn("ignoring config change", "file", e.Name, "error", err)
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	pattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	return pattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(defaultDocument(DefaultConfig()))
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# docstream configuration
# Secrets use ${ENV_VAR} syntax to reference environment variables.
# Any key can be overridden from the environment, e.g. DOCSTREAM_ENGINE_TYPE=mock

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}

// defaultDocument renders the defaults as an ordered YAML document with
// human-readable durations.
func defaultDocument(d *Config) yaml.MapSlice {
	return yaml.MapSlice{
		{Key: "log", Value: yaml.MapSlice{
			{Key: "level", Value: d.Log.Level},
		}},
		{Key: "server", Value: yaml.MapSlice{
			{Key: "host", Value: d.Server.Host},
			{Key: "port", Value: d.Server.Port},
			{Key: "read_timeout", Value: d.Server.ReadTimeout.String()},
			{Key: "idle_timeout", Value: d.Server.IdleTimeout.String()},
		}},
		{Key: "storage", Value: yaml.MapSlice{
			{Key: "uploads_dir", Value: d.Storage.UploadsDir},
			{Key: "outputs_dir", Value: d.Storage.OutputsDir},
		}},
		{Key: "upload", Value: yaml.MapSlice{
			{Key: "max_size_mb", Value: d.Upload.MaxSizeMB},
			{Key: "allowed_extensions", Value: d.Upload.AllowedExtensions},
		}},
		{Key: "engine", Value: yaml.MapSlice{
			{Key: "type", Value: d.Engine.Type},
			{Key: "base_url", Value: d.Engine.BaseURL},
			{Key: "api_key", Value: d.Engine.APIKey},
			{Key: "model", Value: d.Engine.Model},
			{Key: "max_tokens", Value: d.Engine.MaxTokens},
			{Key: "timeout_seconds", Value: d.Engine.TimeoutSeconds},
			{Key: "max_retries", Value: d.Engine.MaxRetries},
			{Key: "workers", Value: d.Engine.Workers},
			{Key: "languages", Value: d.Engine.Languages},
		}},
		{Key: "container", Value: yaml.MapSlice{
			{Key: "enabled", Value: d.Container.Enabled},
			{Key: "image", Value: d.Container.Image},
			{Key: "name", Value: d.Container.Name},
			{Key: "port", Value: d.Container.Port},
			{Key: "gpus", Value: d.Container.GPUs},
			{Key: "model_cache", Value: d.Container.ModelCache},
			{Key: "ready_timeout", Value: d.Container.ReadyTimeout.String()},
		}},
		{Key: "pipeline", Value: yaml.MapSlice{
			{Key: "renderer", Value: d.Pipeline.Renderer},
			{Key: "render_dpi", Value: d.Pipeline.RenderDPI},
			{Key: "materialize_timeout", Value: d.Pipeline.MaterializeTimeout.String()},
			{Key: "materialize_interval", Value: d.Pipeline.MaterializeInterval.String()},
			{Key: "scan_timeout", Value: d.Pipeline.ScanTimeout.String()},
			{Key: "page_yield", Value: d.Pipeline.PageYield.String()},
			{Key: "poll_interval", Value: d.Pipeline.PollInterval.String()},
			{Key: "render_html", Value: d.Pipeline.RenderHTML},
		}},
	}
}
