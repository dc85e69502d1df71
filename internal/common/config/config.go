package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type DB struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Pass     string `yaml:"password"`
	Name     string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
}

type MQ struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Pass     string `yaml:"password"`
	VHost    string `yaml:"vhost"`
	UseTLS   bool   `yaml:"tls"`
	Exchange string `yaml:"exchange"`
	Prefetch int    `yaml:"prefetch"`
}

type Backoff struct {
	Base          time.Duration `yaml:"base"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	MaxMultiplier int           `yaml:"max_multiplier"`
	MaxAttempts   int           `yaml:"max_attempts"`
}

type Sync struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	OpenTimeout  time.Duration `yaml:"open_timeout"`
	QueueSize    int           `yaml:"queue_size"`
	Backoff      Backoff       `yaml:"backoff"`
}

type Auth struct {
	Token        string `yaml:"token"`
	JWTSecret    string `yaml:"jwt_secret"`
	UserID       string `yaml:"user_id"`
	RestaurantID string `yaml:"restaurant_id"`
	Role         string `yaml:"role"`
}

type Gateway struct {
	// Kind is "postgres" (direct) or "http" (REST backend).
	Kind    string        `yaml:"kind"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type HTTP struct {
	Port int `yaml:"port"`
}

type Log struct {
	Env string `yaml:"env"`
}

type App struct {
	Database DB      `yaml:"database"`
	Rabbit   MQ      `yaml:"rabbitmq"`
	Sync     Sync    `yaml:"sync"`
	Auth     Auth    `yaml:"auth"`
	Gateway  Gateway `yaml:"gateway"`
	HTTP     HTTP    `yaml:"http"`
	Log      Log     `yaml:"log"`
}

func Defaults() App {
	return App{
		Database: DB{Port: 5432, SSLMode: "disable", MaxConns: 10},
		Rabbit:   MQ{Port: 5672, VHost: "/", Exchange: "order_changes", Prefetch: 16},
		Sync: Sync{
			PollInterval: 30 * time.Second,
			FetchTimeout: 10 * time.Second,
			OpenTimeout:  10 * time.Second,
			QueueSize:    64,
			Backoff: Backoff{
				Base:          time.Second,
				MaxDelay:      30 * time.Second,
				MaxMultiplier: 8,
				MaxAttempts:   10,
			},
		},
		Gateway: Gateway{Kind: "postgres", Timeout: 10 * time.Second},
		HTTP:    HTTP{Port: 3002},
		Log:     Log{Env: "production"},
	}
}

// Load reads the YAML file on top of Defaults, then applies .env and ORDERSYNC_* overrides.
func Load(path string) (App, error) {
	a := Defaults()
	b, err := os.ReadFile(path)
	if err != nil {
		return App{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &a); err != nil {
		return App{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	// a missing .env is fine
	_ = godotenv.Load()
	applyEnv(&a)
	return a, nil
}

// FromEnv is Defaults plus .env and ORDERSYNC_* overrides, for runs without a config file.
func FromEnv() App {
	a := Defaults()
	_ = godotenv.Load()
	applyEnv(&a)
	return a
}

func applyEnv(a *App) {
	a.Database.Host = getEnv("ORDERSYNC_DB_HOST", a.Database.Host)
	a.Database.Port = atoiEnv("ORDERSYNC_DB_PORT", a.Database.Port)
	a.Database.User = getEnv("ORDERSYNC_DB_USER", a.Database.User)
	a.Database.Pass = getEnv("ORDERSYNC_DB_PASSWORD", a.Database.Pass)
	a.Database.Name = getEnv("ORDERSYNC_DB_NAME", a.Database.Name)
	a.Rabbit.Host = getEnv("ORDERSYNC_RABBITMQ_HOST", a.Rabbit.Host)
	a.Rabbit.Port = atoiEnv("ORDERSYNC_RABBITMQ_PORT", a.Rabbit.Port)
	a.Rabbit.User = getEnv("ORDERSYNC_RABBITMQ_USER", a.Rabbit.User)
	a.Rabbit.Pass = getEnv("ORDERSYNC_RABBITMQ_PASSWORD", a.Rabbit.Pass)
	a.Auth.Token = getEnv("ORDERSYNC_AUTH_TOKEN", a.Auth.Token)
	a.Auth.JWTSecret = getEnv("ORDERSYNC_JWT_SECRET", a.Auth.JWTSecret)
	a.Auth.UserID = getEnv("ORDERSYNC_AUTH_USER_ID", a.Auth.UserID)
	a.Auth.RestaurantID = getEnv("ORDERSYNC_AUTH_RESTAURANT_ID", a.Auth.RestaurantID)
	a.Auth.Role = getEnv("ORDERSYNC_AUTH_ROLE", a.Auth.Role)
	a.Gateway.Kind = getEnv("ORDERSYNC_GATEWAY_KIND", a.Gateway.Kind)
	a.Gateway.BaseURL = getEnv("ORDERSYNC_GATEWAY_URL", a.Gateway.BaseURL)
	a.HTTP.Port = atoiEnv("ORDERSYNC_HTTP_PORT", a.HTTP.Port)
	a.Log.Env = getEnv("ORDERSYNC_LOG_ENV", a.Log.Env)
}

// ValidateRelay checks what feed-relay mode needs.
func (a App) ValidateRelay() error {
	if a.Database.Host == "" || a.Database.User == "" || a.Database.Name == "" {
		return errors.New("database config incomplete")
	}
	if a.Rabbit.Host == "" || a.Rabbit.User == "" {
		return errors.New("rabbitmq config incomplete")
	}
	return nil
}

// ValidateAgent checks what sync-agent mode needs.
func (a App) ValidateAgent() error {
	if a.Rabbit.Host == "" || a.Rabbit.User == "" {
		return errors.New("rabbitmq config incomplete")
	}
	switch a.Gateway.Kind {
	case "postgres":
		if a.Database.Host == "" || a.Database.User == "" || a.Database.Name == "" {
			return errors.New("database config incomplete")
		}
	case "http":
		if a.Gateway.BaseURL == "" {
			return errors.New("gateway.base_url is required for the http gateway")
		}
	default:
		return fmt.Errorf("unknown gateway kind %q", a.Gateway.Kind)
	}
	if a.Sync.PollInterval <= 0 || a.Sync.FetchTimeout <= 0 || a.Sync.OpenTimeout <= 0 {
		return errors.New("sync intervals and timeouts must be positive")
	}
	if a.Sync.Backoff.Base <= 0 || a.Sync.Backoff.MaxDelay < a.Sync.Backoff.Base {
		return errors.New("invalid sync.backoff: need 0 < base <= max_delay")
	}
	return nil
}

func FindConfig() (string, error) {
	candidates := []string{"config.yaml", "deploy/config.example.yaml"}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fs.ErrNotExist
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func atoiEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
