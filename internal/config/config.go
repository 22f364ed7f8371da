// Package config defines theapipe's root configuration, loaded from a TOML
// file with environment-variable overrides via cleanenv, following the same
// convention as the teacher's RestConfig/transcode Config structs.
package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type (
	HTTPConfig struct {
		HostAddr      string `toml:"host_address" env:"API_HOST_ADDR" env-default:"0.0.0.0:8080"`
		UploadMaxByte int64  `toml:"upload_max_bytes" env:"UPLOAD_MAX_BYTES" env-default:"524288000"`
	}

	DatabaseConfig struct {
		Host     string `toml:"host" env:"DB_HOST" env-default:"localhost"`
		Port     string `toml:"port" env:"DB_PORT" env-default:"5432"`
		User     string `toml:"user" env:"DB_USER" env-default:"theapipe"`
		Password string `toml:"password" env:"DB_PASSWORD"`
		Name     string `toml:"name" env:"DB_NAME" env-default:"theapipe"`
		SSLMode  string `toml:"ssl_mode" env:"DB_SSL_MODE" env-default:"disable"`
	}

	BlobConfig struct {
		Endpoint        string `toml:"endpoint" env:"BLOB_ENDPOINT"`
		Region          string `toml:"region" env:"BLOB_REGION" env-default:"us-east-1"`
		Bucket          string `toml:"bucket" env:"BLOB_BUCKET" env-required:"true"`
		AccessKeyID     string `toml:"access_key_id" env:"BLOB_ACCESS_KEY"`
		SecretAccessKey string `toml:"secret_access_key" env:"BLOB_SECRET_KEY"`
		UsePathStyle    bool   `toml:"use_path_style" env:"BLOB_PATH_STYLE" env-default:"false"`
		SignedURLTTL    time.Duration `toml:"signed_url_ttl" env:"BLOB_SIGNED_URL_TTL" env-default:"15m"`
	}

	SchedulerConfig struct {
		MaxConcurrentTasks  int           `toml:"max_concurrent_tasks" env:"MAX_CONCURRENT_TASKS" env-default:"4"`
		TempDir             string        `toml:"temp_dir" env:"TEMP_DIR" env-default:"/tmp/theapipe/work"`
		MetaDir             string        `toml:"meta_dir" env:"META_DIR" env-default:"/tmp/theapipe/meta"`
		ForegroundPoll      time.Duration `toml:"foreground_poll_interval" env:"FOREGROUND_POLL_INTERVAL" env-default:"500ms"`
		BackgroundPoll      time.Duration `toml:"background_poll_interval" env:"BACKGROUND_POLL_INTERVAL" env-default:"1s"`
		// TaskTimeout is not read by the Executor, which applies its own
		// fixed 15-minute limit to every ffmpeg invocation.
		TaskTimeout         time.Duration `toml:"task_timeout" env:"TASK_TIMEOUT" env-default:"15m"`
	}

	FfmpegConfig struct {
		FfmpegBin  string `toml:"ffmpeg_bin" env:"FFMPEG_BIN" env-default:"ffmpeg"`
		FfprobeBin string `toml:"ffprobe_bin" env:"FFPROBE_BIN" env-default:"ffprobe"`
	}

	Config struct {
		HTTP      HTTPConfig      `toml:"http"`
		Database  DatabaseConfig  `toml:"database"`
		Blob      BlobConfig      `toml:"blob"`
		Scheduler SchedulerConfig `toml:"scheduler"`
		Ffmpeg    FfmpegConfig    `toml:"ffmpeg"`
	}
)

// Load reads the config file at path, applying environment variable
// overrides and defaults per the struct tags above. A missing file is
// tolerated; env vars and defaults alone are sufficient to boot the
// service (mirrors cleanenv's own ReadConfig/ReadEnv split).
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			if err := cleanenv.ReadEnv(cfg); err != nil {
				return nil, fmt.Errorf("failed to load configuration: %w", err)
			}
			return cfg, nil
		}
		return cfg, nil
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration from environment: %w", err)
	}

	return cfg, nil
}
