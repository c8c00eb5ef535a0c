package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	AppName     string      `yaml:"app_name" env:"APP_NAME" env-default:"zChat Go API"`
	Env         string      `yaml:"env" env:"APP_ENV" env-default:"development"`
	Debug       bool        `yaml:"debug" env:"DEBUG" env-default:"false"`
	Server      Server      `yaml:"server"`
	Store       Store       `yaml:"store"`
	Auth        Auth        `yaml:"auth"`
	Bus         Bus         `yaml:"bus"`
	Redis       Redis       `yaml:"redis"`
	Attachments Attachments `yaml:"attachments"`
	CORSOrigins []string    `yaml:"cors_origins" env:"CORS_ORIGINS" env-default:"http://localhost:3000,http://localhost:5173"`
}

// Server holds HTTP server configuration
type Server struct {
	Host            string        `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port            int           `yaml:"port" env:"HTTP_PORT" env-default:"8000"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT" env-default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// Address returns the listen address.
func (s Server) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store selects and configures the persistence backend.
type Store struct {
	Driver      string `yaml:"driver" env:"STORE_DRIVER" env-default:"sqlite"`
	SQLitePath  string `yaml:"sqlite_path" env:"SQLITE_PATH" env-default:"zchat.db"`
	PostgresDSN string `yaml:"postgres_dsn" env:"DATABASE_URL"`
	MaxConns    int32  `yaml:"max_conns" env:"DB_MAX_CONNS" env-default:"25"`
	MinConns    int32  `yaml:"min_conns" env:"DB_MIN_CONNS" env-default:"2"`
}

// Auth holds session and password settings.
type Auth struct {
	JWTSecret  string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	TokenTTL   time.Duration `yaml:"token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"24h"`
	BcryptCost int           `yaml:"bcrypt_cost" env:"BCRYPT_COST" env-default:"10"`
}

// Bus holds event bus settings.
type Bus struct {
	SubscriberBuffer int `yaml:"subscriber_buffer" env:"BUS_SUBSCRIBER_BUFFER" env-default:"64"`
}

// Redis configures the optional cross-instance relay. An empty URL keeps
// events in process.
type Redis struct {
	URL     string `yaml:"url" env:"REDIS_URL"`
	Channel string `yaml:"channel" env:"REDIS_CHANNEL" env-default:"zchat:events"`
}

const (
	AttachmentsDisk = "disk"
	AttachmentsS3   = "s3"
)

// Attachments selects where uploads go.
type Attachments struct {
	Driver    string `yaml:"driver" env:"ATTACHMENTS_DRIVER" env-default:"disk"`
	UploadDir string `yaml:"upload_dir" env:"UPLOAD_DIR" env-default:"uploads"`
	MaxBytes  int64  `yaml:"max_bytes" env:"UPLOAD_MAX_BYTES" env-default:"52428800"`
	S3        S3     `yaml:"s3"`
}

// S3 holds S3/MinIO storage configuration
type S3 struct {
	Endpoint        string `yaml:"endpoint" env:"S3_ENDPOINT" env-default:"http://localhost:9000"`
	AccessKeyID     string `yaml:"access_key_id" env:"S3_ACCESS_KEY_ID" env-default:"minioadmin"`
	SecretAccessKey string `yaml:"secret_access_key" env:"S3_SECRET_ACCESS_KEY" env-default:"minioadmin"`
	Bucket          string `yaml:"bucket" env:"S3_BUCKET" env-default:"attachments"`
	Region          string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
	PublicURL       string `yaml:"public_url" env:"S3_PUBLIC_URL" env-default:"http://localhost:9000/attachments"`
}

// Load reads the optional YAML file at path, then the environment. A .env
// file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	switch c.Store.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	switch c.Attachments.Driver {
	case AttachmentsDisk, AttachmentsS3:
	default:
		errs = append(errs, fmt.Errorf("unknown attachments driver %q", c.Attachments.Driver))
	}
	if c.Bus.SubscriberBuffer <= 0 {
		errs = append(errs, errors.New("bus subscriber buffer must be positive"))
	}
	return errors.Join(errs...)
}
