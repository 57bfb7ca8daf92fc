package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/efebarandurmaz/eos/internal/llm"
)

// Config holds all application configuration.
type Config struct {
	Completion CompletionConfig `mapstructure:"completion"`
	Sampling   llm.Sampling     `mapstructure:"sampling"`
	History    HistoryConfig    `mapstructure:"history"`
	Speech     SpeechConfig     `mapstructure:"speech"`
	Server     ServerConfig     `mapstructure:"server"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	Log        LogConfig        `mapstructure:"log"`
	UI         UIConfig         `mapstructure:"ui"`
}

type CompletionConfig struct {
	Endpoint   string        `mapstructure:"endpoint"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// HistoryConfig controls how much prior conversation the bridge forwards.
// Window <= 0 forwards everything.
type HistoryConfig struct {
	Window int `mapstructure:"window"`
}

type SpeechConfig struct {
	URL            string        `mapstructure:"url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	FinalGrace     time.Duration `mapstructure:"final_grace"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// ArchiveConfig enables the local exchange log when Path is set.
type ArchiveConfig struct {
	Path string `mapstructure:"path"`
}

type TracingConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type UIConfig struct {
	EmptyReply string `mapstructure:"empty_reply"`
}

func setDefaults(v *viper.Viper) {
	s := llm.DefaultSampling()

	v.SetDefault("completion.endpoint", "http://localhost:8080/completion")
	v.SetDefault("completion.timeout", 120*time.Second)
	v.SetDefault("completion.max_retries", 0)
	v.SetDefault("completion.retry_delay", time.Second)
	v.SetDefault("sampling.n_predict", s.NPredict)
	v.SetDefault("sampling.temperature", s.Temperature)
	v.SetDefault("sampling.top_p", s.TopP)
	v.SetDefault("sampling.stop", s.Stop)
	v.SetDefault("history.window", 10)
	v.SetDefault("speech.url", "ws://127.0.0.1:8765/ws")
	v.SetDefault("speech.connect_timeout", 5*time.Second)
	v.SetDefault("speech.final_grace", time.Second)
	v.SetDefault("server.addr", "127.0.0.1:8790")
	v.SetDefault("archive.path", "")
	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("ui.empty_reply", "No pude generar una respuesta. ¿Está el servidor llama.cpp activo?")
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.Sampling.Temperature < 0 || c.Sampling.Temperature > 2.0 {
		warnings = append(warnings, fmt.Sprintf("sampling temperature %.2f is outside recommended range [0.0, 2.0]", c.Sampling.Temperature))
	}
	if c.Sampling.TopP <= 0 || c.Sampling.TopP > 1 {
		warnings = append(warnings, fmt.Sprintf("sampling top_p %.2f is outside (0, 1]", c.Sampling.TopP))
	}
	if c.Sampling.NPredict < 0 {
		warnings = append(warnings, fmt.Sprintf("sampling n_predict %d is negative", c.Sampling.NPredict))
	}
	if c.History.Window < 0 {
		warnings = append(warnings, fmt.Sprintf("history window %d is negative; all turns will be forwarded", c.History.Window))
	}
	if c.Completion.Timeout <= 0 {
		warnings = append(warnings, fmt.Sprintf("completion timeout %s is not positive; the 120s default applies", c.Completion.Timeout))
	}
	if c.Completion.MaxRetries < 0 {
		warnings = append(warnings, fmt.Sprintf("completion max_retries %d is negative", c.Completion.MaxRetries))
	}

	return warnings
}

// Load reads configuration from an optional file and EOS_* environment
// variables. An empty path uses defaults plus environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("EOS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return &cfg, nil
}
