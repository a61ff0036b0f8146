package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/shopspring/decimal"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

type Config struct {
	Env     string  `yaml:"env" env:"APP_ENV" env-default:"local" env-description:"Environment"`
	HTTP    HTTP    `yaml:"http"`
	Storage Storage `yaml:"storage"`
	Auth    Auth    `yaml:"auth"`
	Oracle  Oracle  `yaml:"oracle"`
	Ledger  Ledger  `yaml:"ledger"`
	Catalog Catalog `yaml:"catalog"`
	Kafka   Kafka   `yaml:"kafka"`
	Log     Log     `yaml:"log"`
}

type HTTP struct {
	Host         string        `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port         int           `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT" env-default:"15s"`
	CORSOrigins  []string      `yaml:"cors_origins" env:"HTTP_CORS_ORIGINS" env-separator:"," env-default:"*"`
}

// Addr is the listen address
func (h HTTP) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

type Storage struct {
	Driver      string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"badger"`
	PostgresURL string `yaml:"postgres_url" env:"DATABASE_URL"`
	BadgerPath  string `yaml:"badger_path" env:"BADGER_PATH" env-default:"./data/ledger"`
}

type Auth struct {
	TokenTTL   time.Duration `yaml:"token_ttl" env:"AUTH_TOKEN_TTL" env-default:"24h"`
	BcryptCost int           `yaml:"bcrypt_cost" env:"AUTH_BCRYPT_COST" env-default:"10"`
}

type Oracle struct {
	BaseURL          string        `yaml:"base_url" env:"ORACLE_BASE_URL" env-default:"https://api.coingecko.com/api/v3"`
	VsCurrency       string        `yaml:"vs_currency" env:"ORACLE_VS_CURRENCY" env-default:"usd"`
	Timeout          time.Duration `yaml:"timeout" env:"ORACLE_TIMEOUT" env-default:"5s"`
	Retries          int           `yaml:"retries" env:"ORACLE_RETRIES" env-default:"2"`
	BreakerThreshold int           `yaml:"breaker_threshold" env:"ORACLE_BREAKER_THRESHOLD" env-default:"5"`
	BreakerReset     time.Duration `yaml:"breaker_reset" env:"ORACLE_BREAKER_RESET" env-default:"30s"`
}

type Ledger struct {
	CashSymbol  string `yaml:"cash_symbol" env:"LEDGER_CASH_SYMBOL" env-default:"USD"`
	InitialCash string `yaml:"initial_cash" env:"LEDGER_INITIAL_CASH" env-default:"10000"`
}

// OpeningCash parses the configured initial cash balance
func (l Ledger) OpeningCash() (decimal.Decimal, error) {
	amt, err := decimal.NewFromString(l.InitialCash)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid ledger.initial_cash %q: %w", l.InitialCash, err)
	}
	if amt.IsNegative() {
		return decimal.Zero, fmt.Errorf("ledger.initial_cash must not be negative")
	}
	return amt, nil
}

type Catalog struct {
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CATALOG_CACHE_TTL" env-default:"1m"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"trades"`
}

type Log struct {
	Level      string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	File       string `yaml:"file" env:"LOG_FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"LOG_MAX_SIZE_MB" env-default:"100"`
	MaxBackups int    `yaml:"max_backups" env:"LOG_MAX_BACKUPS" env-default:"3"`
	MaxAgeDays int    `yaml:"max_age_days" env:"LOG_MAX_AGE_DAYS" env-default:"28"`
}

// MustLoad reads configuration from the file named by -config or CONFIG_PATH,
// or from the environment alone when neither is set. It panics on failure.
func MustLoad() *Config {
	cfg, err := Load(fetchConfigPath())
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from path, or from the environment when path is empty
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read config from env: %w", err)
		}
	} else {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", path)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		return fmt.Errorf("unknown env %q", c.Env)
	}
	switch c.Storage.Driver {
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("storage.postgres_url is required for the postgres driver")
		}
	case "badger":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if _, err := c.Ledger.OpeningCash(); err != nil {
		return err
	}
	return nil
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
