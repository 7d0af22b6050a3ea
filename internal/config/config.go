// Package config loads lipread configuration from YAML, .env files and
// LIPREAD_* environment variables, in that order of precedence (lowest first).
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ieee0824/lipread-go/alphabet"
	"github.com/ieee0824/lipread-go/internal/events"
	"github.com/ieee0824/lipread-go/internal/logging"
	"github.com/ieee0824/lipread-go/video"
)

// Config is the full application configuration.
type Config struct {
	Model    ModelConfig    `yaml:"model"`
	Video    VideoConfig    `yaml:"video"`
	Log      logging.Config `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Events   events.Config  `yaml:"events"`
	Training TrainingConfig `yaml:"training"`
	Workers  int            `yaml:"workers"` // concurrent transcriptions
}

// ModelConfig selects the checkpoint and label alphabet.
type ModelConfig struct {
	Checkpoint string `yaml:"checkpoint"`
	Alphabet   string `yaml:"alphabet"`
}

// CropConfig is the mouth rectangle in pixels.
type CropConfig struct {
	Top    int `yaml:"top"`
	Bottom int `yaml:"bottom"`
	Left   int `yaml:"left"`
	Right  int `yaml:"right"`
}

// VideoConfig holds decoder and preprocessing settings.
type VideoConfig struct {
	FFmpeg     string     `yaml:"ffmpeg"`
	FFprobe    string     `yaml:"ffprobe"`
	ClipFrames int        `yaml:"clip_frames"`
	Crop       CropConfig `yaml:"crop"`
	Epsilon    float64    `yaml:"epsilon"`
}

// MetricsConfig configures the observability endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// TrainingConfig holds head fine-tuning settings.
type TrainingConfig struct {
	DataRoot     string  `yaml:"data_root"`
	Speaker      string  `yaml:"speaker"`
	LearningRate float64 `yaml:"learning_rate"`
	Epochs       int     `yaml:"epochs"`
	BatchSize    int     `yaml:"batch_size"`
	Patience     int     `yaml:"patience"`
	HeldOutFrac  float64 `yaml:"held_out_frac"`
}

// Default returns the built-in configuration.
func Default() *Config {
	vc := video.DefaultConfig()
	workers := runtime.NumCPU()
	if workers > 4 {
		workers = 4
	}
	return &Config{
		Model: ModelConfig{
			Checkpoint: "models/lipnet.gob",
			Alphabet:   alphabet.DefaultSymbols,
		},
		Video: VideoConfig{
			FFmpeg:     "ffmpeg",
			FFprobe:    "ffprobe",
			ClipFrames: vc.ClipFrames,
			Crop: CropConfig{
				Top:    vc.Crop.Top,
				Bottom: vc.Crop.Bottom,
				Left:   vc.Crop.Left,
				Right:  vc.Crop.Right,
			},
			Epsilon: vc.Epsilon,
		},
		Log: logging.DefaultConfig(),
		Events: events.Config{
			Topic:     "lipread.transcripts",
			Principal: "lipread",
		},
		Training: TrainingConfig{
			DataRoot:     "data",
			Speaker:      "s1",
			LearningRate: 1e-4,
			Epochs:       100,
			BatchSize:    2,
			Patience:     5,
			HeldOutFrac:  0.1,
		},
		Workers: workers,
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is not empty), then environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from .env files into the environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("LIPREAD_CHECKPOINT", &cfg.Model.Checkpoint)
	str("LIPREAD_ALPHABET", &cfg.Model.Alphabet)
	str("LIPREAD_FFMPEG", &cfg.Video.FFmpeg)
	str("LIPREAD_FFPROBE", &cfg.Video.FFprobe)
	str("LIPREAD_LOG_LEVEL", &cfg.Log.Level)
	str("LIPREAD_LOG_FORMAT", &cfg.Log.Format)
	str("LIPREAD_METRICS_ADDR", &cfg.Metrics.Addr)
	str("LIPREAD_KAFKA_TOPIC", &cfg.Events.Topic)
	str("LIPREAD_DATA_ROOT", &cfg.Training.DataRoot)
	str("LIPREAD_SPEAKER", &cfg.Training.Speaker)

	if v := os.Getenv("LIPREAD_KAFKA_BROKERS"); v != "" {
		cfg.Events.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Events.Brokers = append(cfg.Events.Brokers, b)
			}
		}
	}
	if v := os.Getenv("LIPREAD_KAFKA_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LIPREAD_KAFKA_ENABLED: %w", err)
		}
		cfg.Events.Enabled = b
	}
	if v := os.Getenv("LIPREAD_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LIPREAD_WORKERS: %w", err)
		}
		cfg.Workers = n
	}
	return nil
}

// ExtractorConfig returns the frame extractor configuration.
func (c *Config) ExtractorConfig() video.Config {
	return video.Config{
		ClipFrames: c.Video.ClipFrames,
		Crop: video.Crop{
			Top:    c.Video.Crop.Top,
			Bottom: c.Video.Crop.Bottom,
			Left:   c.Video.Crop.Left,
			Right:  c.Video.Crop.Right,
		},
		Epsilon: c.Video.Epsilon,
	}
}

// Opener returns the video opener for the configured decoder binaries.
func (c *Config) Opener() video.Opener {
	return video.DefaultOpener(c.Video.FFmpeg, c.Video.FFprobe)
}

// Codec builds the label alphabet.
func (c *Config) Codec() (*alphabet.Codec, error) {
	return alphabet.New(c.Model.Alphabet)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if err := c.ExtractorConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("video: %w", err))
	}
	if _, err := c.Codec(); err != nil {
		errs = append(errs, fmt.Errorf("model.alphabet: %w", err))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.Events.Enabled && len(c.Events.Brokers) == 0 {
		errs = append(errs, errors.New("events: enabled without brokers"))
	}
	if c.Events.Enabled && c.Events.Topic == "" {
		errs = append(errs, errors.New("events: enabled without topic"))
	}
	t := c.Training
	if t.LearningRate <= 0 {
		errs = append(errs, fmt.Errorf("training.learning_rate must be positive, got %g", t.LearningRate))
	}
	if t.Epochs < 1 || t.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("training: epochs=%d batch_size=%d must be positive", t.Epochs, t.BatchSize))
	}
	if t.HeldOutFrac < 0 || t.HeldOutFrac >= 1 {
		errs = append(errs, fmt.Errorf("training.held_out_frac must be in [0, 1), got %g", t.HeldOutFrac))
	}
	return errors.Join(errs...)
}
