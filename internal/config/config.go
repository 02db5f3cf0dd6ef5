package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/menta2k/pointrect/pkg/detection"
	"github.com/menta2k/pointrect/pkg/merge"
	"github.com/menta2k/pointrect/pkg/vision"
)

// Environment overrides
const (
	EnvURL      = "POINTRECT_URL"
	EnvBackend  = "POINTRECT_BACKEND"
	EnvModel    = "POINTRECT_MODEL"
	EnvListen   = "POINTRECT_LISTEN"
	EnvLogLevel = "POINTRECT_LOG_LEVEL"
)

// Config holds the application configuration
type Config struct {
	Predictor PredictorConfig `json:"predictor"`
	Server    ServerConfig    `json:"server"`
	Vision    VisionConfig    `json:"vision"`
	Settings  SettingsConfig  `json:"settings"`
	Logging   LoggingConfig   `json:"logging"`
}

// PredictorConfig configures the client side of prediction
type PredictorConfig struct {
	URL           string   `json:"url"`
	Timeout       Duration `json:"timeout"`
	Matcher       string   `json:"matcher"`
	Tolerance     float64  `json:"tolerance"`
	IoU           float64  `json:"iou"`
	Concurrency   int      `json:"concurrency"`
	ConnectionTTL Duration `json:"connection_ttl"`
	SecurityToken string   `json:"security_token,omitempty"`
}

// ServerConfig configures the point-to-rect endpoint
type ServerConfig struct {
	Listen         string  `json:"listen"`
	Backend        string  `json:"backend"`
	BackendURL     string  `json:"backend_url"`
	Model          string  `json:"model"`
	MaxBodyBytes   int64   `json:"max_body_bytes"`
	TemplateWidth  float64 `json:"template_width"`
	TemplateHeight float64 `json:"template_height"`
	LoadImages     bool    `json:"load_images"`
	SendFormat     string  `json:"send_format"`
	SendSize       int     `json:"send_size"`
	SendQuality    int     `json:"send_quality"`
}

// VisionConfig tunes the local saliency locator
type VisionConfig struct {
	EdgeThreshold  float64   `json:"edge_threshold"`
	ContrastWeight float64   `json:"contrast_weight"`
	ColorWeight    float64   `json:"color_weight"`
	WindowSizes    []float64 `json:"window_sizes,omitempty"`
}

// SettingsConfig locates the application settings file
type SettingsConfig struct {
	Path string `json:"path"`
}

// LoggingConfig configures zap and optional file rotation
type LoggingConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	File       string `json:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
}

// Duration is a time.Duration written as a string such as "2m" in JSON
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err2 := json.Unmarshal(b, &n); err2 != nil {
			return errors.Errorf("invalid duration %s", string(b))
		}
		*d = Duration(time.Duration(n))
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Predictor: PredictorConfig{
			URL:         "http://localhost:8000",
			Timeout:     Duration(2 * time.Minute),
			Matcher:     "exact",
			Concurrency: 4,
		},
		Server: ServerConfig{
			Listen:         "127.0.0.1:8000",
			Backend:        detection.BackendLocal,
			BackendURL:     "",
			Model:          "openbmb/minicpm-v4.5",
			MaxBodyBytes:   10 << 20,
			TemplateWidth:  detection.DefaultTemplate.Width,
			TemplateHeight: detection.DefaultTemplate.Height,
			LoadImages:     true,
			SendFormat:     "jpg",
			SendSize:       1536,
			SendQuality:    85,
		},
		Vision: VisionConfig{
			EdgeThreshold:  0.01,
			ContrastWeight: 0.3,
			ColorWeight:    0.2,
		},
		Settings: SettingsConfig{
			Path: defaultSettingsPath(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadFromFile loads configuration from a JSON file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}
	return config, nil
}

// Load reads filename when it exists, falls back to defaults otherwise,
// applies environment overrides and validates the result
func Load(filename string) (*Config, error) {
	config := Default()
	if filename != "" {
		if _, err := os.Stat(filename); err == nil {
			if config, err = LoadFromFile(filename); err != nil {
				return nil, err
			}
		}
	}
	config.ApplyEnv(os.LookupEnv)
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv overrides fields from environment variables found by lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(EnvURL, &c.Predictor.URL)
	set(EnvBackend, &c.Server.Backend)
	set(EnvModel, &c.Server.Model)
	set(EnvListen, &c.Server.Listen)
	set(EnvLogLevel, &c.Logging.Level)
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}
	return nil
}

// Validate checks if the configuration is valid, reporting every problem found
func (c *Config) Validate() error {
	var err error
	if c.Predictor.URL == "" {
		err = multierr.Append(err, errors.New("predictor.url is required"))
	}
	if c.Predictor.Timeout < 0 || c.Predictor.ConnectionTTL < 0 {
		err = multierr.Append(err, errors.New("predictor durations must not be negative"))
	}
	if c.Predictor.Concurrency < 1 {
		err = multierr.Append(err, errors.New("predictor.concurrency must be positive"))
	}
	if _, mErr := c.Matcher(); mErr != nil {
		err = multierr.Append(err, errors.Wrap(mErr, "predictor.matcher"))
	}

	switch strings.ToLower(c.Server.Backend) {
	case detection.BackendLocal, detection.BackendOllama, detection.BackendLlamaCpp, "llama.cpp":
	default:
		err = multierr.Append(err, errors.Errorf("server.backend %q is not one of local, ollama, llamacpp", c.Server.Backend))
	}
	if c.Server.Listen == "" {
		err = multierr.Append(err, errors.New("server.listen is required"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		err = multierr.Append(err, errors.New("server.max_body_bytes must be positive"))
	}
	if c.Server.TemplateWidth <= 0 || c.Server.TemplateHeight <= 0 {
		err = multierr.Append(err, errors.New("server template size must be positive"))
	}
	if c.Server.SendQuality < 1 || c.Server.SendQuality > 100 {
		err = multierr.Append(err, errors.New("server.send_quality must be between 1 and 100"))
	}

	if c.Vision.EdgeThreshold < 0 || c.Vision.EdgeThreshold > 1 {
		err = multierr.Append(err, errors.New("vision.edge_threshold must be between 0 and 1"))
	}
	for _, w := range c.Vision.WindowSizes {
		if w <= 0 || w > 1 {
			err = multierr.Append(err, errors.New("vision.window_sizes must be fractions in (0,1]"))
			break
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		err = multierr.Append(err, errors.Errorf("logging.format %q is not console or json", c.Logging.Format))
	}
	return err
}

// Matcher builds the region matcher named by the predictor section
func (c *Config) Matcher() (merge.Matcher, error) {
	value := c.Predictor.Tolerance
	if strings.EqualFold(c.Predictor.Matcher, "iou") {
		value = c.Predictor.IoU
	}
	return merge.ParseMatcher(c.Predictor.Matcher, value)
}

// BackendConfig is the locator configuration for the server
func (c *Config) BackendConfig() detection.BackendConfig {
	return detection.BackendConfig{
		Backend:     c.Server.Backend,
		URL:         c.Server.BackendURL,
		Model:       c.Server.Model,
		SendFormat:  c.Server.SendFormat,
		SendMaxDim:  c.Server.SendSize,
		SendQuality: c.Server.SendQuality,
		Vision: &vision.Config{
			EdgeThreshold:  c.Vision.EdgeThreshold,
			ContrastWeight: c.Vision.ContrastWeight,
			ColorWeight:    c.Vision.ColorWeight,
			WindowSizes:    c.Vision.WindowSizes,
		},
	}
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "pointrect", "config.json")
}

func defaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./settings.yaml"
	}
	return filepath.Join(home, ".config", "pointrect", "settings.yaml")
}
