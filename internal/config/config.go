package config

import (
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env        string `yaml:"env" env:"ENV" env-default:"local"`
	BaseURL    string `yaml:"base_url" env:"BASE_URL" env-default:"http://localhost:8080"`
	Tokens     `yaml:"tokens"`
	RabbitMQ   `yaml:"rabbitmq"`
	Postgres   `yaml:"postgres"`
	HTTPServer `yaml:"http_server"`
	SMTP       `yaml:"smtp"`
}

type HTTPServer struct {
	Address     string        `yaml:"address" env-default:"localhost:8080"`
	Timeout     time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

type Postgres struct {
	Host     string `yaml:"host" env-default:"postgres"`
	Port     int    `yaml:"port" env-default:"5432"`
	User     string `yaml:"user" env-required:"true"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD" env-required:"true"`
	DBName   string `yaml:"dbname" env-required:"true"`
	SSLMode  string `yaml:"sslmode" env-default:"disable"`
}

type Tokens struct {
	SigningSecret        string        `yaml:"signing_secret" env:"SIGNING_SECRET" env-required:"true"`
	AccessTokenTTL       time.Duration `yaml:"access_token_ttl" env-default:"15m"`
	RefreshTokenTTL      time.Duration `yaml:"refresh_token_ttl" env-default:"720h"`
	VerificationTokenTTL time.Duration `yaml:"verification_token_ttl" env-default:"24h"`
	ResetTokenTTL        time.Duration `yaml:"reset_token_ttl" env-default:"1h"`
}

type RabbitMQ struct {
	URL       string `yaml:"url" env:"RABBITMQ_URL" env-required:"true"`
	QueueName string `yaml:"queue_name" env-default:"emails"`
}

type SMTP struct {
	Host     string `yaml:"host" env:"SMTP_HOST"`
	Port     int    `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	Username string `yaml:"username" env:"SMTP_USERNAME"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
	FromName string `yaml:"from_name" env-default:"Conduit"`
}

func MustLoad(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("Config file does not exist" + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("Failed to read config" + err.Error())
	}

	return &cfg
}
