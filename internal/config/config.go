package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	BackendCSV   = "csv"
	BackendRedis = "redis"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	LogLevel    string      `yaml:"log-level" env:"LOG_LEVEL" env-default:"info"`
	HTTPPort    string      `yaml:"http-port" env:"HTTP_PORT" env-default:"9090"`
	SocketPort  string      `yaml:"socket-port" env:"SOCKET_PORT" env-default:"8000"`
	Match       Match       `yaml:"match"`
	Credentials Credentials `yaml:"credentials"`
	Redis       Redis       `yaml:"redis"`
	TLS         TLS         `yaml:"tls"`
	Archive     Archive     `yaml:"archive"`
}

type Match struct {
	HistoryDir   string        `yaml:"history-dir" env:"MATCH_HISTORY_DIR" env-default:"tournaments"`
	RoundLimit   int           `yaml:"round-limit" env:"MATCH_ROUND_LIMIT" env-default:"100"`
	TickInterval time.Duration `yaml:"tick-interval" env:"MATCH_TICK_INTERVAL" env-default:"1s"`

	// RecordsFile gets one "<matchID>,<a>,<b>" line per provisioned match. Empty disables it.
	RecordsFile string `yaml:"records-file" env:"MATCH_RECORDS_FILE" env-default:"tournament_records.txt"`
}

type Credentials struct {
	Backend  string `yaml:"backend" env:"CREDENTIALS_BACKEND" env-default:"csv"`
	CSVPath  string `yaml:"csv-path" env:"CREDENTIALS_CSV_PATH" env-default:"participants/participants.csv"`
	RedisKey string `yaml:"redis-key" env:"CREDENTIALS_REDIS_KEY" env-default:"participants"`
}

type Redis struct {
	Host string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port string `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
}

type TLS struct {
	CertFile string `yaml:"cert-file" env:"TLS_CERT_FILE"`
	KeyFile  string `yaml:"key-file" env:"TLS_KEY_FILE"`
}

// Archive is disabled while Bucket is empty.
type Archive struct {
	Bucket          string `yaml:"bucket" env:"ARCHIVE_BUCKET"`
	Prefix          string `yaml:"prefix" env:"ARCHIVE_PREFIX" env-default:"tournaments"`
	Endpoint        string `yaml:"endpoint" env:"ARCHIVE_ENDPOINT"`
	Region          string `yaml:"region" env:"ARCHIVE_REGION" env-default:"auto"`
	AccessKeyID     string `yaml:"access-key-id" env:"ARCHIVE_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret-access-key" env:"ARCHIVE_SECRET_ACCESS_KEY"`
}

// Load reads the file, applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	config := &Config{}

	if err := cleanenv.ReadConfig(path, config); err != nil {
		return nil, fmt.Errorf("unable to load config file: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (that *Config) validate() error {
	var errs []error

	if that.Match.RoundLimit <= 0 {
		errs = append(errs, fmt.Errorf("match.round-limit must be positive, got %d", that.Match.RoundLimit))
	}

	if that.Match.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("match.tick-interval must be positive, got %s", that.Match.TickInterval))
	}

	if that.Match.HistoryDir == "" {
		errs = append(errs, errors.New("match.history-dir is empty"))
	}

	switch that.Credentials.Backend {
	case BackendCSV, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown credentials.backend %q", that.Credentials.Backend))
	}

	if (that.TLS.CertFile == "") != (that.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls.cert-file and tls.key-file must be set together"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}

	return nil
}

func (that *Redis) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", that.Host, that.Port)
}

func (that *TLS) Enabled() bool {
	return that.CertFile != "" && that.KeyFile != ""
}

func (that *Archive) Enabled() bool {
	return that.Bucket != ""
}
