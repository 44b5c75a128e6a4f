// Package config loads settings from the environment, an optional .env
// file and an optional config file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/franz/fpvscan/internal/oss"
	"github.com/franz/fpvscan/internal/store"
	"github.com/franz/fpvscan/internal/util"
)

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Database configures the store
type Database struct {
	Driver     string `mapstructure:"DB_DRIVER" validate:"oneof=postgres sqlite"`
	SQLitePath string `mapstructure:"SQLITE_PATH" validate:"required_if=Driver sqlite"`
	Host       string `mapstructure:"PG_HOST" validate:"required_if=Driver postgres"`
	Port       int    `mapstructure:"PG_PORT" validate:"min=1,max=65535"`
	Name       string `mapstructure:"PG_DATABASE" validate:"required_if=Driver postgres"`
	User       string `mapstructure:"PG_USER" validate:"required_if=Driver postgres"`
	Password   string `mapstructure:"PG_PASSWORD"`
	SSLMode    string `mapstructure:"PG_SSLMODE" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	Schema     string `mapstructure:"PG_SCHEMA" validate:"required"`
}

// PostgresOptions converts the settings for store.OpenPostgres
func (d Database) PostgresOptions(logger *slog.Logger) store.PostgresOptions {
	return store.PostgresOptions{
		Host:     d.Host,
		Port:     d.Port,
		Database: d.Name,
		User:     d.User,
		Password: d.Password,
		SSLMode:  d.SSLMode,
		Schema:   d.Schema,
		Logger:   logger,
	}
}

// OSS configures object storage
type OSS struct {
	Backend         string `mapstructure:"OSS_BACKEND" validate:"oneof=aliyun s3 local"`
	AccessKeyID     string `mapstructure:"OSS_ACCESS_KEY_ID" validate:"required_unless=Backend local"`
	AccessKeySecret string `mapstructure:"OSS_ACCESS_KEY_SECRET" validate:"required_unless=Backend local"`
	Bucket          string `mapstructure:"OSS_BUCKET_NAME" validate:"required_unless=Backend local"`
	Endpoint        string `mapstructure:"OSS_ENDPOINT" validate:"required_unless=Backend s3"`
	Region          string `mapstructure:"OSS_REGION"`
}

// ClientConfig converts the settings for oss.New
func (o OSS) ClientConfig() oss.Config {
	return oss.Config{
		Backend:         o.Backend,
		Endpoint:        o.Endpoint,
		Region:          o.Region,
		AccessKeyID:     o.AccessKeyID,
		AccessKeySecret: o.AccessKeySecret,
		Bucket:          o.Bucket,
	}
}

// Lark configures the chat bot
type Lark struct {
	AppID        string `mapstructure:"LARK_APP_ID" validate:"required"`
	AppSecret    string `mapstructure:"LARK_APP_SECRET" validate:"required"`
	ChatID       string `mapstructure:"LARK_MONITORED_CHAT_ID" validate:"required"`
	BaseURL      string `mapstructure:"LARK_BASE_URL" validate:"omitempty,url"`
	PollInterval int    `mapstructure:"POLL_INTERVAL" validate:"min=1"` // seconds
}

// Interval returns the poll interval as a duration
func (l Lark) Interval() time.Duration {
	return time.Duration(l.PollInterval) * time.Second
}

// Paths holds local directories and link settings
type Paths struct {
	LogDir       string `mapstructure:"LOG_DIR"`
	ExportDir    string `mapstructure:"EXPORT_DIR"`
	TempDir      string `mapstructure:"TEMP_DIR"`
	ArtifactsDir string `mapstructure:"ARTIFACTS_DIR"`
	VideoBaseURL string `mapstructure:"VIDEO_BASE_URL"`
}

// Config is the full configuration
type Config struct {
	Database Database `mapstructure:",squash"`
	OSS      OSS      `mapstructure:",squash"`
	Lark     Lark     `mapstructure:",squash"`
	Paths    Paths    `mapstructure:",squash"`

	// File is the config or .env file that was read, if any
	File string `mapstructure:"-"`
}

var defaults = map[string]any{
	"DB_DRIVER":      DriverPostgres,
	"SQLITE_PATH":    "fpvscan.db",
	"PG_PORT":        5432,
	"PG_SSLMODE":     "disable",
	"PG_SCHEMA":      store.DefaultSchema,
	"OSS_BACKEND":    oss.BackendAliyun,
	"POLL_INTERVAL":  3,
	"LOG_DIR":        ".",
	"EXPORT_DIR":     "./ExportedCSV",
	"TEMP_DIR":       "./temp_metadata_files",
	"ARTIFACTS_DIR":  "artifacts",
	"VIDEO_BASE_URL": "http://localhost:8082/faster?path=",
}

// DefaultEnvFile is read when no config file is given
const DefaultEnvFile = ".env"

// bindEnv binds every mapstructure tag of c, descending into squashed
// structs
func bindEnv(v *viper.Viper, t reflect.Type) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if field.Type.Kind() == reflect.Struct {
			bindEnv(v, field.Type)
			continue
		}
		if tag == "" || tag == "-" {
			continue
		}
		v.BindEnv(tag)
	}
}

// Load reads the configuration into v. file may be a YAML/TOML/JSON file or
// a dotenv file; empty means ./.env when it exists. Environment variables
// win over file values.
func Load(v *viper.Viper, file string) (*Config, error) {
	bindEnv(v, reflect.TypeOf(Config{}))
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	used := ""
	switch {
	case file != "":
		v.SetConfigFile(file)
		if isEnvFile(file) {
			v.SetConfigType("env")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: failed to read %s: %v", util.ErrInvalidConfig, file, err)
		}
		used = file
	default:
		if _, err := os.Stat(DefaultEnvFile); err == nil {
			v.SetConfigFile(DefaultEnvFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("%w: failed to read %s: %v", util.ErrInvalidConfig, DefaultEnvFile, err)
			}
			used = DefaultEnvFile
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat %s: %w", DefaultEnvFile, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.File = used
	cfg.Database.Driver = strings.ToLower(cfg.Database.Driver)
	cfg.OSS.Backend = strings.ToLower(cfg.OSS.Backend)
	return cfg, nil
}

func isEnvFile(path string) bool {
	base := strings.ToLower(path)
	return strings.HasSuffix(base, ".env") || strings.Contains(base, ".env.")
}

// Need names a configuration section a command depends on
type Need int

const (
	NeedDatabase Need = iota
	NeedOSS
	NeedLark
)

func (n Need) String() string {
	switch n {
	case NeedDatabase:
		return "database"
	case NeedOSS:
		return "oss"
	case NeedLark:
		return "lark"
	}
	return "unknown"
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Require validates the sections a command needs. The error names every
// missing or invalid variable.
func (c *Config) Require(needs ...Need) error {
	var problems []string
	for _, n := range needs {
		var section any
		switch n {
		case NeedDatabase:
			section = c.Database
		case NeedOSS:
			section = c.OSS
		case NeedLark:
			section = c.Lark
		default:
			continue
		}
		problems = append(problems, describe(section, validate.Struct(section))...)
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", util.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// describe turns validation errors into "ENV_VAR: rule" strings
func describe(section any, err error) []string {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}

	t := reflect.TypeOf(section)
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name := fe.Field()
		if f, ok := t.FieldByName(fe.StructField()); ok {
			if tag := f.Tag.Get("mapstructure"); tag != "" {
				name = tag
			}
		}
		switch fe.Tag() {
		case "required", "required_if", "required_unless":
			out = append(out, name+" is required")
		case "oneof":
			out = append(out, fmt.Sprintf("%s must be one of [%s], got %q", name, fe.Param(), fe.Value()))
		default:
			out = append(out, fmt.Sprintf("%s failed %s validation", name, fe.Tag()))
		}
	}
	return out
}

// LogValue implements slog.LogValuer without exposing secrets
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("file", c.File),
		slog.String("db_driver", c.Database.Driver),
		slog.String("pg_host", c.Database.Host),
		slog.String("pg_database", c.Database.Name),
		slog.String("oss_backend", c.OSS.Backend),
		slog.String("oss_bucket", c.OSS.Bucket),
		slog.String("lark_chat", c.Lark.ChatID),
		slog.String("export_dir", c.Paths.ExportDir),
	)
}
