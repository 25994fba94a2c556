// Package config loads storyteller settings from defaults, an optional YAML
// file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sealor/storyteller/pkg/story"
)

const DefaultAPIURL = "https://openrouter.ai/api/v1"

type Config struct {
	APIURL         string        `yaml:"api_url"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	FallbackModels []string      `yaml:"fallback_models"`
	Temperature    float64       `yaml:"temperature"`
	MaxTokens      int           `yaml:"max_tokens"`
	Timeout        time.Duration `yaml:"timeout"`
	DataDir        string        `yaml:"data_dir"`
	Addr           string        `yaml:"addr"`
}

func Default() Config {
	return Config{
		APIURL:         DefaultAPIURL,
		Model:          story.DefaultModel,
		FallbackModels: append([]string(nil), story.DefaultFallbackModels...),
		Temperature:    story.DefaultTemperature,
		MaxTokens:      story.DefaultMaxTokens,
		Timeout:        2 * time.Minute,
		DataDir:        "story_inputs",
		Addr:           ":8080",
	}
}

func GetEnv(name, fallback string) string {
	value, ok := os.LookupEnv(name)
	if ok {
		return value
	} else {
		return fallback
	}
}

// Load builds the configuration. path names an optional YAML file; when it
// is empty STORYTELLER_CONFIG is consulted.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = GetEnv("STORYTELLER_CONFIG", "")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	c.APIURL = GetEnv("OPENROUTER_URL", c.APIURL)
	c.APIKey = GetEnv("OPENROUTER_API_KEY", GetEnv("OPENROUTER_API", c.APIKey))
	c.Model = GetEnv("STORYTELLER_MODEL", c.Model)
	if v, ok := os.LookupEnv("STORYTELLER_FALLBACK_MODELS"); ok {
		c.FallbackModels = SplitList(v)
	}
	c.DataDir = GetEnv("STORYTELLER_DATA_DIR", c.DataDir)
	c.Addr = GetEnv("STORYTELLER_ADDR", c.Addr)

	if v := GetEnv("STORYTELLER_TEMPERATURE", ""); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("STORYTELLER_TEMPERATURE: %w", err)
		}
		c.Temperature = t
	}
	if v := GetEnv("STORYTELLER_MAX_TOKENS", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("STORYTELLER_MAX_TOKENS: %w", err)
		}
		c.MaxTokens = n
	}
	if v := GetEnv("STORYTELLER_TIMEOUT", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("STORYTELLER_TIMEOUT: %w", err)
		}
		c.Timeout = d
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.APIURL == "" {
		errs = append(errs, errors.New("api url is empty"))
	}
	if c.Model == "" {
		errs = append(errs, errors.New("model is empty"))
	}
	if c.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("max tokens must be positive, got %d", c.MaxTokens))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %s", c.Timeout))
	}
	return errors.Join(errs...)
}

// PosterDir is where poster images live.
func (c Config) PosterDir() string {
	return filepath.Join(c.DataDir, "posters")
}

// Session returns the generation parameters for new sessions.
func (c Config) Session() story.Config {
	return story.Config{
		Temperature:    c.Temperature,
		MaxTokens:      c.MaxTokens,
		Model:          c.Model,
		FallbackModels: append([]string{}, c.FallbackModels...),
	}
}

// SplitList splits a comma separated list, dropping empty entries.
func SplitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
