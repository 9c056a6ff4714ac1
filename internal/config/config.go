package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forPelevin/vibecut/internal/ports/adapters/assets"
	"github.com/forPelevin/vibecut/internal/ports/adapters/openrouter"
	"github.com/forPelevin/vibecut/internal/usecase"
)

type Config struct {
	OutDir     string           `yaml:"out_dir"`
	Product    string           `yaml:"product"`
	App        string           `yaml:"app"`
	Log        LogConfig        `yaml:"log"`
	Engine     EngineConfig     `yaml:"engine"`
	Export     ExportConfig     `yaml:"export"`
	Analyze    AnalyzeConfig    `yaml:"analyze"`
	OpenRouter OpenRouterConfig `yaml:"openrouter"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// EngineConfig locates the ffmpeg/ffprobe pair. Explicit paths skip the
// download from BaseURL.
type EngineConfig struct {
	FFmpegPath  string        `yaml:"ffmpeg_path"`
	FFprobePath string        `yaml:"ffprobe_path"`
	BaseURL     string        `yaml:"base_url"`
	Version     string        `yaml:"version"`
	CacheDir    string        `yaml:"cache_dir"`
	WorkDir     string        `yaml:"work_dir"`
	LoadTimeout time.Duration `yaml:"load_timeout"`
}

type ExportConfig struct {
	LenientTimestamps bool          `yaml:"lenient_timestamps"`
	Timeout           time.Duration `yaml:"timeout"`
}

// AnalyzeConfig limits what is sent to the model. A zero MaxDuration accepts
// any length.
type AnalyzeConfig struct {
	MaxDuration time.Duration `yaml:"max_duration"`
}

type OpenRouterConfig struct {
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	BaseURL        string        `yaml:"base_url"`
	AllowedHosts   []string      `yaml:"allowed_hosts"`
	MaxInlineBytes int64         `yaml:"max_inline_bytes"`
	Timeout        time.Duration `yaml:"timeout"`
	Referer        string        `yaml:"referer"`
	Title          string        `yaml:"title"`
}

func Default() *Config {
	return &Config{
		OutDir:  "out",
		Product: usecase.DefaultProduct,
		App:     usecase.DefaultApp,
		Log:     LogConfig{Level: "info"},
		Engine: EngineConfig{
			BaseURL:     assets.DefaultBaseURL,
			Version:     assets.DefaultVersion,
			CacheDir:    ".cache/engine",
			WorkDir:     ".cache/work",
			LoadTimeout: 10 * time.Minute,
		},
		OpenRouter: OpenRouterConfig{
			Model:          openrouter.DefaultModel,
			BaseURL:        openrouter.DefaultBaseURL,
			MaxInlineBytes: openrouter.DefaultMaxInlineBytes,
			Timeout:        5 * time.Minute,
			Title:          "vibecut",
		},
		Analyze: AnalyzeConfig{MaxDuration: usecase.DefaultMaxDuration},
	}
}

// Load reads a YAML file over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from VIBECUT_* and OPENROUTER_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("VIBECUT_OUT_DIR", &c.OutDir)
	str("VIBECUT_PRODUCT", &c.Product)
	str("VIBECUT_LOG_LEVEL", &c.Log.Level)
	boolean("VIBECUT_LOG_JSON", &c.Log.JSON)

	str("VIBECUT_FFMPEG_PATH", &c.Engine.FFmpegPath)
	str("VIBECUT_FFPROBE_PATH", &c.Engine.FFprobePath)
	str("VIBECUT_ENGINE_BASE_URL", &c.Engine.BaseURL)
	str("VIBECUT_ENGINE_VERSION", &c.Engine.Version)
	str("VIBECUT_CACHE_DIR", &c.Engine.CacheDir)
	str("VIBECUT_WORK_DIR", &c.Engine.WorkDir)
	duration("VIBECUT_ENGINE_LOAD_TIMEOUT", &c.Engine.LoadTimeout)

	boolean("VIBECUT_LENIENT_TIMESTAMPS", &c.Export.LenientTimestamps)
	duration("VIBECUT_EXPORT_TIMEOUT", &c.Export.Timeout)
	duration("VIBECUT_ANALYZE_MAX_DURATION", &c.Analyze.MaxDuration)

	str("OPENROUTER_API_KEY", &c.OpenRouter.APIKey)
	str("OPENROUTER_MODEL", &c.OpenRouter.Model)
	str("OPENROUTER_BASE_URL", &c.OpenRouter.BaseURL)
	if v, ok := lookup("OPENROUTER_ALLOWED_HOSTS"); ok && strings.TrimSpace(v) != "" {
		c.OpenRouter.AllowedHosts = strings.Split(v, ",")
	}
	if v, ok := lookup("OPENROUTER_MAX_INLINE_BYTES"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("OPENROUTER_MAX_INLINE_BYTES: %w", err))
		} else {
			c.OpenRouter.MaxInlineBytes = n
		}
	}
	return errors.Join(errs...)
}

// Validate checks the settings shared by every command. Analyzer settings are
// checked separately by ValidateAnalyzer since only `analyze` needs them.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OutDir) == "" {
		return errors.New("out_dir is empty")
	}
	if strings.TrimSpace(c.Product) == "" || strings.ContainsAny(c.Product, `/\`) {
		return fmt.Errorf("product %q must be a non-empty file name prefix", c.Product)
	}
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of trace|debug|info|warn|error", c.Log.Level)
	}
	if c.Engine.FFmpegPath == "" {
		if c.Engine.BaseURL == "" || c.Engine.Version == "" {
			return errors.New("engine.base_url and engine.version are required to fetch the engine")
		}
		if c.Engine.CacheDir == "" {
			return errors.New("engine.cache_dir is empty")
		}
	}
	if c.Engine.LoadTimeout < 0 {
		return errors.New("engine.load_timeout must be >= 0")
	}
	if c.Export.Timeout < 0 {
		return errors.New("export.timeout must be >= 0")
	}
	return nil
}

func (c *Config) ValidateAnalyzer() error {
	if strings.TrimSpace(c.OpenRouter.APIKey) == "" {
		return errors.New("openrouter.api_key (OPENROUTER_API_KEY) is required; set it in .env")
	}
	if c.Analyze.MaxDuration < 0 {
		return errors.New("analyze.max_duration must be >= 0")
	}
	if c.OpenRouter.MaxInlineBytes <= 0 {
		return errors.New("openrouter.max_inline_bytes must be > 0")
	}
	if c.OpenRouter.Timeout <= 0 {
		return errors.New("openrouter.timeout must be > 0")
	}
	return openrouter.ValidateBaseURL(c.OpenRouter.BaseURL, c.OpenRouter.AllowedHosts)
}
