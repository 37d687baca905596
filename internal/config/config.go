package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/newthinker/dbbackup/internal/core"
	"github.com/spf13/viper"
)

type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Local     LocalConfig     `mapstructure:"local"`
	Retention RetentionConfig `mapstructure:"retention"`
	Compress  CompressConfig  `mapstructure:"compress"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

// DatabaseConfig identifies the database to dump and how to reach it.
type DatabaseConfig struct {
	Name        string `mapstructure:"name"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"` // 0 leaves the dump tool default
	DumpCommand string `mapstructure:"dump_command"`
}

// RemoteConfig holds S3 connection configuration.
type RemoteConfig struct {
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

type LocalConfig struct {
	Dir string `mapstructure:"dir"`
}

// RetentionConfig bounds how many artifacts each store keeps.
type RetentionConfig struct {
	Count         int `mapstructure:"count"`
	DeleteWorkers int `mapstructure:"delete_workers"`
}

type CompressConfig struct {
	Level int `mapstructure:"level"`
}

// MetricsConfig points at a node_exporter textfile; empty disables it.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// NotifyConfig holds report notification settings.
type NotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

// binding maps a config key to the environment variable that sets it
type binding struct {
	key string
	env string
}

var bindings = []binding{
	{"database.name", "DB_NAME"},
	{"database.user", "DB_USER"},
	{"database.password", "DB_PASSWORD"},
	{"database.host", "DB_HOST"},
	{"database.port", "DB_PORT"},
	{"database.dump_command", "DUMP_COMMAND"},
	{"remote.bucket", "S3_BUCKET"},
	{"remote.prefix", "S3_PREFIX"},
	{"remote.region", "S3_REGION"},
	{"remote.endpoint", "S3_ENDPOINT"},
	{"remote.access_key", "S3_ACCESS_KEY"},
	{"remote.secret_key", "S3_SECRET_KEY"},
	{"local.dir", "LOCAL_BACKUP_DIR"},
	{"retention.count", "MAX_BACKUPS"},
	{"retention.delete_workers", "DELETE_WORKERS"},
	{"compress.level", "COMPRESSION_LEVEL"},
	{"metrics.textfile", "METRICS_TEXTFILE"},
	{"notify.webhook_url", "NOTIFY_WEBHOOK_URL"},
}

// DefaultEnvFile returns the .env path beside the running executable
func DefaultEnvFile() string {
	exe, err := os.Executable()
	if err != nil {
		return ".env"
	}
	return filepath.Join(filepath.Dir(exe), ".env")
}

// Load resolves configuration from the optional envFile, the process
// environment and the built-in defaults, in that order of precedence.
// A missing envFile is not an error.
func Load(envFile string) (*Config, error) {
	fileVals := map[string]string{}
	if envFile != "" {
		vals, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			fileVals = vals
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("reading %s: %w", envFile, err))
		}
	}

	v := viper.New()
	defaults := defaultValues()
	for _, b := range bindings {
		v.SetDefault(b.key, defaults[b.key])
		if err := v.BindEnv(b.key, b.env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", b.env, err)
		}
		// .env entries override the process environment
		if val, ok := fileVals[b.env]; ok && val != "" {
			v.Set(b.key, val)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unmarshaling config: %w", err))
	}

	cfg.Remote.Prefix = strings.Trim(strings.TrimSpace(cfg.Remote.Prefix), "/")
	return &cfg, nil
}

// Resolve loads and validates the configuration
func Resolve(envFile string) (*Config, error) {
	cfg, err := Load(envFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns a config with the documented defaults and no identities
func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:        "localhost",
			DumpCommand: "mysqldump",
		},
		Local: LocalConfig{
			Dir: "/var/backups/mariadb",
		},
		Retention: RetentionConfig{
			Count:         15,
			DeleteWorkers: 4,
		},
		Compress: CompressConfig{
			Level: -1,
		},
	}
}

func defaultValues() map[string]any {
	d := Defaults()
	return map[string]any{
		"database.name":            d.Database.Name,
		"database.user":            d.Database.User,
		"database.password":        d.Database.Password,
		"database.host":            d.Database.Host,
		"database.port":            d.Database.Port,
		"database.dump_command":    d.Database.DumpCommand,
		"remote.bucket":            d.Remote.Bucket,
		"remote.prefix":            d.Remote.Prefix,
		"remote.region":            d.Remote.Region,
		"remote.endpoint":          d.Remote.Endpoint,
		"remote.access_key":        d.Remote.AccessKey,
		"remote.secret_key":        d.Remote.SecretKey,
		"local.dir":                d.Local.Dir,
		"retention.count":          d.Retention.Count,
		"retention.delete_workers": d.Retention.DeleteWorkers,
		"compress.level":           d.Compress.Level,
		"metrics.textfile":         d.Metrics.Textfile,
		"notify.webhook_url":       d.Notify.WebhookURL,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	required := []struct {
		env   string
		value string
	}{
		{"DB_NAME", c.Database.Name},
		{"DB_USER", c.Database.User},
		{"DB_PASSWORD", c.Database.Password},
		{"S3_BUCKET", c.Remote.Bucket},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return core.WrapError(core.ErrConfigMissing, fmt.Errorf("%s is required", r.env))
		}
	}

	if strings.ContainsAny(c.Database.Name, `/\`) {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("DB_NAME must not contain path separators, got %q", c.Database.Name))
	}
	if c.Database.DumpCommand == "" {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("DUMP_COMMAND cannot be empty"))
	}
	if c.Database.Port < 0 || c.Database.Port > 65535 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("DB_PORT must be between 0 and 65535, got %d", c.Database.Port))
	}

	if strings.HasPrefix(c.Remote.Prefix, "/") || strings.HasSuffix(c.Remote.Prefix, "/") {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("S3_PREFIX must not start or end with '/', got %q", c.Remote.Prefix))
	}
	if (c.Remote.AccessKey == "") != (c.Remote.SecretKey == "") {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY must be set together"))
	}

	if c.Local.Dir == "" {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("LOCAL_BACKUP_DIR cannot be empty"))
	}

	if c.Retention.Count < 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("MAX_BACKUPS must be at least 1, got %d", c.Retention.Count))
	}
	if c.Retention.DeleteWorkers < 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("DELETE_WORKERS must be at least 1, got %d", c.Retention.DeleteWorkers))
	}

	if c.Compress.Level < -1 || c.Compress.Level > 9 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("COMPRESSION_LEVEL must be between -1 and 9, got %d", c.Compress.Level))
	}

	return nil
}
