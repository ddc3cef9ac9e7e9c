// Package config loads assetsync settings from a YAML file, a dotenv secrets
// file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/telhawk-systems/assetsync/internal/formatter"
)

// Placeholder is the value shipped in template secrets files.
const Placeholder = "NOTSETYET"

type Config struct {
	Source      SourceConfig      `mapstructure:"source" yaml:"source"`
	Destination DestinationConfig `mapstructure:"destination" yaml:"destination"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
	DLQ         DLQConfig         `mapstructure:"dlq" yaml:"dlq"`
	Messaging   MessagingConfig   `mapstructure:"messaging" yaml:"messaging"`
	Lock        LockConfig        `mapstructure:"lock" yaml:"lock"`
	History     HistoryConfig     `mapstructure:"history" yaml:"history"`
}

type SourceConfig struct {
	InstanceURL    string        `mapstructure:"instance_url" yaml:"instance_url"`
	APIKey         string        `mapstructure:"api_key" yaml:"api_key"`
	APISecret      string        `mapstructure:"api_secret" yaml:"api_secret"`
	DeviceFields   []string      `mapstructure:"device_fields" yaml:"device_fields"`
	UserFields     []string      `mapstructure:"user_fields" yaml:"user_fields"`
	BatchSize      int           `mapstructure:"batch_size" yaml:"batch_size"`
	MaxRecords     int           `mapstructure:"max_records" yaml:"max_records"`
	MaxPages       int           `mapstructure:"max_pages" yaml:"max_pages"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

type DestinationConfig struct {
	URL            string        `mapstructure:"url" yaml:"url"`
	CloudID        string        `mapstructure:"cloud_id" yaml:"cloud_id"`
	APIKey         string        `mapstructure:"api_key" yaml:"api_key"`
	Username       string        `mapstructure:"username" yaml:"username"`
	Password       string        `mapstructure:"password" yaml:"password"`
	TLSSkipVerify  bool          `mapstructure:"tls_skip_verify" yaml:"tls_skip_verify"`
	IndexName      string        `mapstructure:"index_name" yaml:"index_name"`
	BulkChunkSize  int           `mapstructure:"bulk_chunk_size" yaml:"bulk_chunk_size"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url" yaml:"pushgateway_url"`
	Job            string `mapstructure:"job" yaml:"job"`
}

type DLQConfig struct {
	// Backend is "none", "file" or "nats".
	Backend string `mapstructure:"backend" yaml:"backend"`
	Path    string `mapstructure:"path" yaml:"path"`
}

type MessagingConfig struct {
	URL           string        `mapstructure:"url" yaml:"url"`
	Token         string        `mapstructure:"token" yaml:"token"`
	SubjectPrefix string        `mapstructure:"subject_prefix" yaml:"subject_prefix"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type LockConfig struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	RedisURL  string        `mapstructure:"redis_url" yaml:"redis_url"`
	KeyPrefix string        `mapstructure:"key_prefix" yaml:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// HistoryConfig points at the PostgreSQL run ledger. An empty URL disables it.
type HistoryConfig struct {
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
	Migrate     bool   `mapstructure:"migrate" yaml:"migrate"`
}

// legacyEnv maps config keys to the environment variable names earlier
// deployments used. They are honoured alongside the ASSETSYNC_ names.
var legacyEnv = map[string]string{
	"source.instance_url":    "AX_INSTANCE_URL",
	"source.api_key":         "AX_API_KEY",
	"source.api_secret":      "AX_API_SECRET",
	"destination.url":        "ES_URL",
	"destination.cloud_id":   "ES_CLOUD_ID",
	"destination.api_key":    "ES_API_KEY",
	"destination.index_name": "ES_INDEX",
}

// Options selects the files Load reads.
type Options struct {
	// ConfigPath is an explicit YAML file. Empty searches ./config.yaml and
	// /etc/assetsync/config.yaml.
	ConfigPath string
	// SecretsPath is a dotenv file holding credentials. A missing file is ignored.
	SecretsPath string
}

func Load(opts Options) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if opts.ConfigPath != "" {
		if _, err := os.Stat(opts.ConfigPath); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		v.SetConfigFile(opts.ConfigPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/assetsync")
	}

	v.SetEnvPrefix("ASSETSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		if err := v.BindEnv(key, envName(key), legacy); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	if opts.SecretsPath != "" {
		if err := mergeSecrets(v, opts.SecretsPath); err != nil {
			return nil, err
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Source.InstanceURL = instanceURL(cfg.Source.InstanceURL)

	if len(cfg.Source.DeviceFields) == 0 {
		cfg.Source.DeviceFields = append([]string(nil), formatter.DefaultDeviceFields...)
	}
	if len(cfg.Source.UserFields) == 0 {
		cfg.Source.UserFields = append([]string(nil), formatter.DefaultUserFields...)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.instance_url", "")
	v.SetDefault("source.api_key", "")
	v.SetDefault("source.api_secret", "")
	v.SetDefault("source.device_fields", []string{})
	v.SetDefault("source.user_fields", []string{})
	v.SetDefault("source.batch_size", 100)
	v.SetDefault("source.max_records", 1000)
	v.SetDefault("source.max_pages", 1000)
	v.SetDefault("source.request_timeout", "60s")
	v.SetDefault("destination.url", "")
	v.SetDefault("destination.cloud_id", "")
	v.SetDefault("destination.api_key", "")
	v.SetDefault("destination.username", "")
	v.SetDefault("destination.password", "")
	v.SetDefault("destination.tls_skip_verify", false)
	v.SetDefault("destination.index_name", "axonius-assets")
	v.SetDefault("destination.bulk_chunk_size", 100)
	v.SetDefault("destination.request_timeout", "60s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "assetsync")
	v.SetDefault("dlq.backend", "none")
	v.SetDefault("dlq.path", "/var/lib/assetsync/dlq")
	v.SetDefault("messaging.url", "")
	v.SetDefault("messaging.token", "")
	v.SetDefault("messaging.subject_prefix", "assetsync")
	v.SetDefault("messaging.timeout", "5s")
	v.SetDefault("lock.enabled", false)
	v.SetDefault("lock.redis_url", "")
	v.SetDefault("lock.key_prefix", "assetsync")
	v.SetDefault("lock.ttl", "30m")
	v.SetDefault("history.database_url", "")
	v.SetDefault("history.migrate", true)
}

// mergeSecrets reads a dotenv file and applies every known secret that the
// process environment does not already provide.
func mergeSecrets(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	sv := viper.New()
	sv.SetConfigFile(path)
	sv.SetConfigType("env")
	if err := sv.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read secrets file: %w", err)
	}

	for key, legacy := range legacyEnv {
		if _, set := os.LookupEnv(legacy); set {
			continue
		}
		if _, set := os.LookupEnv(envName(key)); set {
			continue
		}
		if sv.IsSet(legacy) {
			v.Set(key, sv.GetString(legacy))
		}
	}
	return nil
}

// instanceURL accepts the bare host older deployments configured and assumes
// https for it.
func instanceURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	return strings.TrimRight(raw, "/")
}

func envName(key string) string {
	return "ASSETSYNC_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// secondsHook reads bare numbers as seconds for duration fields, so
// request_timeout: 60 means one minute.
func secondsHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch from.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
		case reflect.Float32, reflect.Float64:
			return time.Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
		case reflect.String:
			s := strings.TrimSpace(data.(string))
			if n, err := strconv.ParseFloat(s, 64); err == nil {
				return time.Duration(n * float64(time.Second)), nil
			}
		}
		return data, nil
	}
}
