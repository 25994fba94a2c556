package story

import (
	"go.uber.org/zap"
)

const (
	DefaultSystemPrompt = "You are a creative storyteller. You write vivid, tightly paced short fiction " +
		"with clear characters, a concrete setting and a satisfying ending."

	DefaultUserPrompt = "Write a paragraph length story about a hero who goes on a journey, meets allies, " +
		"gets stronger, finds weapons and treasure, and defeats the demon king."

	DefaultModel       = "arcee-ai/trinity-large-preview:free"
	DefaultTemperature = 1.0
	DefaultMaxTokens   = 5000
)

// DefaultFallbackModels are tried by the endpoint in order when the primary
// model is unavailable.
var DefaultFallbackModels = []string{
	"deepseek/deepseek-r1-0528:free",
	"meta-llama/llama-3.3-70b-instruct:free",
}

// Config holds the generation parameters of a session.
type Config struct {
	// Temperature: higher values give more varied text.
	Temperature    float64
	MaxTokens      int
	Streaming      bool
	Model          string
	FallbackModels []string
}

func DefaultConfig() Config {
	return Config{
		Temperature:    DefaultTemperature,
		MaxTokens:      DefaultMaxTokens,
		Model:          DefaultModel,
		FallbackModels: append([]string(nil), DefaultFallbackModels...),
	}
}

func (c Config) clone() Config {
	c.FallbackModels = append([]string(nil), c.FallbackModels...)
	return c
}

// Option configures a Session.
type Option func(*Session)

func WithLogger(log *zap.Logger) Option {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// WithConfig replaces the default generation parameters. Zero values fall
// back to the defaults.
func WithConfig(cfg Config) Option {
	return func(s *Session) {
		def := DefaultConfig()
		if cfg.Model == "" {
			cfg.Model = def.Model
		}
		if cfg.MaxTokens <= 0 {
			cfg.MaxTokens = def.MaxTokens
		}
		if cfg.FallbackModels == nil {
			cfg.FallbackModels = def.FallbackModels
		}
		s.cfg = cfg.clone()
	}
}

// WithModels sets the primary model and the ordered fallback list.
func WithModels(primary string, fallbacks ...string) Option {
	return func(s *Session) {
		if primary != "" {
			s.cfg.Model = primary
		}
		s.cfg.FallbackModels = append([]string(nil), fallbacks...)
	}
}

func WithStreaming(enabled bool) Option {
	return func(s *Session) { s.cfg.Streaming = enabled }
}
