package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/exp/slog"
)

// Config is read once at startup and handed to every component that needs it.
type Config struct {
	DatabaseURL      string   `env:"DATABASE_URL,required"`
	Host             string   `env:"APP_HOST"`
	Port             int      `env:"APP_PORT"           envDefault:"5000"`
	UploadDir        string   `env:"UPLOAD_DIR"         envDefault:"static/uploads"`
	MaxContentLength int64    `env:"MAX_CONTENT_LENGTH" envDefault:"16777216"`
	CORSOrigins      []string `env:"CORS_ORIGINS"       envDefault:"*" envSeparator:","`
	LogLevel         string   `env:"LOG_LEVEL"          envDefault:"info"`
	JWTSecret        string   `env:"JWT_SECRET_KEY"`

	Cloudinary CloudinaryConfig

	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT"  envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT"  envDefault:"120s"`
}

type CloudinaryConfig struct {
	CloudName string `env:"CLOUDINARY_CLOUD_NAME"`
	APIKey    string `env:"CLOUDINARY_API_KEY"`
	APISecret string `env:"CLOUDINARY_API_SECRET"`
}

// Enabled reports whether uploads go to the hosted service.
func (c CloudinaryConfig) Enabled() bool {
	return c.CloudName != ""
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.DatabaseURL = normalizeDatabaseURL(cfg.DatabaseURL)

	return cfg, nil
}

func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}

	return lvl
}

// normalizeDatabaseURL accepts the legacy postgres:// scheme some hosts hand out.
func normalizeDatabaseURL(u string) string {
	if strings.HasPrefix(u, "postgres://") {
		return "postgresql://" + strings.TrimPrefix(u, "postgres://")
	}

	return u
}
