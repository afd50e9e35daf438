package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type CORS struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type Config struct {
	Listen  string  `yaml:"listen"`
	Logger  Logger  `yaml:"logger"`
	Storage Storage `yaml:"storage"`
	Redis   Redis   `yaml:"redis"`
	Auth    Auth    `yaml:"auth"`
	CORS    CORS    `yaml:"cors"`
	Catalog string  `yaml:"catalog"`
	Judges  Judges  `yaml:"judges"`
	Sync    Sync    `yaml:"sync"`
}

type Logger struct {
	Level string `yaml:"level"`
}

type Storage struct {
	// Driver is either "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Redis is optional. When Addr is empty the database-backed KV store is used.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Auth struct {
	JWT    JWT    `yaml:"jwt"`
	Local  Local  `yaml:"local"`
	GitHub GitHub `yaml:"github"`
}

// Local defines configuration for username/password authentication.
type Local struct {
	Enabled bool `yaml:"enabled"`
}

type JWT struct {
	Secret      string `yaml:"secret"`
	ExpireHours int    `yaml:"expire_hours"`
}

type GitHub struct {
	ClientID            string `yaml:"client_id"`
	ClientSecret        string `yaml:"client_secret"`
	RedirectURI         string `yaml:"redirect_uri"`
	FrontendCallbackURL string `yaml:"frontend_callback_url"`
}

type Judges struct {
	OJUZ Judge `yaml:"ojuz"`
	QOJ  Judge `yaml:"qoj"`
}

// Judge configures one external judge adapter.
type Judge struct {
	Enabled     bool          `yaml:"enabled"`
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	PageDelay   time.Duration `yaml:"page_delay"`
	DetailDelay time.Duration `yaml:"detail_delay"`
	Workers     int           `yaml:"workers"`
	MaxPages    int           `yaml:"max_pages"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
}

type Sync struct {
	// Timeout bounds a single judge's crawl during a contest sync.
	Timeout time.Duration `yaml:"timeout"`
	LockTTL time.Duration `yaml:"lock_ttl"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, err
	}

	// secrets may live in a .env file next to the binary
	_ = godotenv.Load()
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyEnv() {
	cfg.Auth.JWT.Secret = getEnv("OLYTRACK_JWT_SECRET", cfg.Auth.JWT.Secret)
	cfg.Storage.DSN = getEnv("OLYTRACK_DSN", cfg.Storage.DSN)
	cfg.Redis.Addr = getEnv("OLYTRACK_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.DB = getEnvAsInt("OLYTRACK_REDIS_DB", cfg.Redis.DB)
	cfg.Judges.QOJ.Username = getEnv("QOJ_USER", cfg.Judges.QOJ.Username)
	cfg.Judges.QOJ.Password = getEnv("QOJ_PASS", cfg.Judges.QOJ.Password)
	cfg.Auth.GitHub.ClientSecret = getEnv("OLYTRACK_GITHUB_SECRET", cfg.Auth.GitHub.ClientSecret)
}

func (cfg *Config) applyDefaults() {
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "data/olytrack.db"
	}
	if cfg.Auth.JWT.ExpireHours == 0 {
		cfg.Auth.JWT.ExpireHours = 72
	}
	if cfg.Sync.Timeout == 0 {
		cfg.Sync.Timeout = 2 * time.Minute
	}
	if cfg.Sync.LockTTL == 0 {
		cfg.Sync.LockTTL = 5 * time.Minute
	}
	cfg.Judges.OJUZ.defaults("https://oj.uz")
	cfg.Judges.QOJ.defaults("https://qoj.ac")
}

func (j *Judge) defaults(baseURL string) {
	if j.BaseURL == "" {
		j.BaseURL = baseURL
	}
	if j.Timeout == 0 {
		j.Timeout = 20 * time.Second
	}
	if j.PageDelay == 0 {
		j.PageDelay = 500 * time.Millisecond
	}
	if j.DetailDelay == 0 {
		j.DetailDelay = 200 * time.Millisecond
	}
	if j.Workers == 0 {
		j.Workers = 5
	}
	if j.MaxPages == 0 {
		j.MaxPages = 200
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}
