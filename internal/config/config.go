// Package config loads go-highlight settings from the environment.
package config

import (
	"fmt"
	"image"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/teslashibe/go-highlight/pkg/artifacts"
	"github.com/teslashibe/go-highlight/pkg/extract"
	"github.com/teslashibe/go-highlight/pkg/web"
)

// Config holds every setting consumed by go-highlight binaries.
type Config struct {
	AppEnv   string `env:"APP_ENV"   envDefault:"development"`
	TempDir  string `env:"TEMP_DIR"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`

	TargetWidth         int     `env:"TARGET_WIDTH"          envDefault:"480"`
	TargetHeight        int     `env:"TARGET_HEIGHT"         envDefault:"480"`
	SegmentMinSeconds   float64 `env:"SEGMENT_MIN_SECONDS"   envDefault:"5"`
	SegmentMaxSeconds   float64 `env:"SEGMENT_MAX_SECONDS"   envDefault:"8"`
	ConfidenceThreshold float64 `env:"CONFIDENCE_THRESHOLD"  envDefault:"0.7"`
	MaxVideoSeconds     float64 `env:"MAX_VIDEO_SECONDS"     envDefault:"40"`
	MaxBufferBytes      int64   `env:"MAX_BUFFER_BYTES"      envDefault:"0"`
	OutputFPS           float64 `env:"OUTPUT_FPS"            envDefault:"0"`
	OutputCodec         string  `env:"OUTPUT_CODEC"          envDefault:"avc1"`
	FaceWorkers         int     `env:"FACE_WORKERS"          envDefault:"0"`
	RandomSeed          uint64  `env:"RANDOM_SEED"           envDefault:"0"`

	ModelDir    string `env:"MODEL_DIR"`
	ModelPrefix string `env:"MODEL_PREFIX" envDefault:"yolo"`

	S3Endpoint  string `env:"S3_ENDPOINT"           envDefault:"s3.amazonaws.com"`
	S3Bucket    string `env:"S3_BUCKET_NAME"`
	S3AccessKey string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region    string `env:"AWS_REGION"`
	S3UseSSL    bool   `env:"S3_USE_SSL"            envDefault:"true"`

	HTTPHost     string `env:"HTTP_HOST"     envDefault:"127.0.0.1"`
	HTTPPort     string `env:"HTTP_PORT"     envDefault:"8090"`
	ServeRoot    string `env:"SERVE_ROOT"`
	OTLPEndpoint string `env:"OTLP_ENDPOINT"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse reads the process environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.applyDerived()

	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return cfg, nil
}

// applyDerived fills settings that depend on APP_ENV.
func (c *Config) applyDerived() {
	if c.TempDir == "" {
		if c.IsDeployed() {
			c.TempDir = "/tmp"
		} else {
			c.TempDir = "temp"
		}
	}
	if c.ModelDir == "" {
		c.ModelDir = c.TempDir
	}
	if c.ServeRoot == "" {
		c.ServeRoot = c.TempDir
	}
}

// IsDeployed reports whether the app runs in production or staging.
func (c *Config) IsDeployed() bool {
	return c.AppEnv == "production" || c.AppEnv == "staging"
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.TargetWidth <= 0 || c.TargetHeight <= 0 {
		errors = append(errors, "target size must be positive")
	}
	if c.SegmentMinSeconds < 0 {
		errors = append(errors, "segment min seconds must not be negative")
	}
	if c.SegmentMinSeconds > c.SegmentMaxSeconds {
		errors = append(errors, "segment min seconds must not exceed max seconds")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errors = append(errors, "confidence threshold must be between 0 and 1")
	}
	if c.MaxVideoSeconds <= 0 {
		errors = append(errors, "max video seconds must be positive")
	}
	if c.MaxBufferBytes < 0 {
		errors = append(errors, "max buffer bytes must not be negative")
	}
	if c.OutputFPS < 0 {
		errors = append(errors, "output fps must not be negative")
	}
	if len(c.OutputCodec) != 4 {
		errors = append(errors, "output codec must be a fourcc")
	}
	if c.FaceWorkers < 0 {
		errors = append(errors, "face workers must not be negative")
	}

	return errors
}

// ExtractConfig maps the settings onto the extractor configuration.
func (c *Config) ExtractConfig() extract.Config {
	return extract.Config{
		TargetSize:          image.Pt(c.TargetWidth, c.TargetHeight),
		MinSegment:          c.SegmentMinSeconds,
		MaxSegment:          c.SegmentMaxSeconds,
		ConfidenceThreshold: c.ConfidenceThreshold,
		MaxVideoDuration:    c.MaxVideoSeconds,
		MaxBufferBytes:      c.MaxBufferBytes,
		OutputFPS:           c.OutputFPS,
		Codec:               c.OutputCodec,
		FaceWorkers:         c.FaceWorkers,
		Seed:                c.RandomSeed,
	}
}

// ServerConfig maps the HTTP settings onto the web server configuration.
func (c *Config) ServerConfig() web.ServerConfig {
	return web.ServerConfig{
		Host: c.HTTPHost,
		Port: c.HTTPPort,
		Root: c.ServeRoot,
	}
}

// MinioConfig maps the S3 settings onto the artifact fetcher configuration.
func (c *Config) MinioConfig() artifacts.MinioConfig {
	return artifacts.MinioConfig{
		Endpoint:  c.S3Endpoint,
		AccessKey: c.S3AccessKey,
		SecretKey: c.S3SecretKey,
		Region:    c.S3Region,
		UseSSL:    c.S3UseSSL,
		Bucket:    c.S3Bucket,
	}
}

// FetchTimeout bounds a single artifact download.
func (c *Config) FetchTimeout() time.Duration {
	return 10 * time.Minute
}
