package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// EnvPrefix prefixes every environment variable the migrator reads.
const EnvPrefix = "SCOREMIGRATE"

// Config holds all runtime configuration for a migration run.
type Config struct {
	Source  Source  `yaml:"source"`
	Target  Target  `yaml:"target"`
	Options Options `yaml:"options"`
	Log     Log     `yaml:"log"`
}

// Source is the legacy SQLite database.
type Source struct {
	Path         string   `yaml:"path"`
	IgnoreTables []string `yaml:"ignore_tables,omitempty"`
}

// Target is the new database. Driver is "postgres" or "sqlite"; Path is only
// used by sqlite.
type Target struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	DBName   string `yaml:"dbname,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	SSLMode  string `yaml:"sslmode,omitempty"`
	Path     string `yaml:"path,omitempty"`
}

// Options tune the run.
type Options struct {
	BatchSize     int           `yaml:"batch_size"`
	Backup        bool          `yaml:"backup"`
	BackupDir     string        `yaml:"backup_dir"`
	Validate      bool          `yaml:"validate"`
	Clean         bool          `yaml:"clean"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	ReportFile    string        `yaml:"report_file,omitempty"`
	MetricsFile   string        `yaml:"metrics_file,omitempty"`
}

// Log controls diagnostic output.
type Log struct {
	Verbose bool `yaml:"verbose"`
}

// SetDefaults registers the default for every key. Flag bindings set up by
// the cobra command take precedence over these.
func SetDefaults() {
	viper.SetDefault("target.driver", "postgres")
	viper.SetDefault("target.host", "localhost")
	viper.SetDefault("target.port", 5432)
	viper.SetDefault("target.sslmode", "disable")
	viper.SetDefault("options.batch_size", 500)
	viper.SetDefault("options.backup", true)
	viper.SetDefault("options.backup_dir", "backups")
	viper.SetDefault("options.validate", true)
	viper.SetDefault("options.clean", false)
	viper.SetDefault("options.retry_attempts", 5)
	viper.SetDefault("options.retry_delay", 500*time.Millisecond)
	viper.SetDefault("log.verbose", false)
}

// ReadFile loads the single configuration file. With an empty path it looks
// for scoremigrate.{yaml,toml,json} in the working directory and
// /etc/scoremigrate, and a missing file is fine. An explicit path must exist.
func ReadFile(path string) error {
	if path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		return nil
	}

	viper.SetConfigName("scoremigrate")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/scoremigrate")
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment without overriding variables that are already set. A missing
// file is only an error when it was asked for explicitly.
func LoadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// BindEnv makes every key readable from SCOREMIGRATE_* variables, so
// target.password comes from SCOREMIGRATE_TARGET_PASSWORD.
func BindEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	// AutomaticEnv only answers Get calls for keys viper already knows;
	// keys with no default and no flag need an explicit binding.
	for _, key := range []string{
		"source.path", "source.ignore_tables",
		"target.dbname", "target.user", "target.password", "target.path",
		"options.report_file", "options.metrics_file",
	} {
		_ = viper.BindEnv(key)
	}
}

// Load reads configuration from viper, which merges flag values, env vars,
// the config file and defaults.
func Load() Config {
	return Config{
		Source: Source{
			Path:         viper.GetString("source.path"),
			IgnoreTables: viper.GetStringSlice("source.ignore_tables"),
		},
		Target: Target{
			Driver:   strings.ToLower(viper.GetString("target.driver")),
			Host:     viper.GetString("target.host"),
			Port:     viper.GetInt("target.port"),
			DBName:   viper.GetString("target.dbname"),
			User:     viper.GetString("target.user"),
			Password: viper.GetString("target.password"),
			SSLMode:  viper.GetString("target.sslmode"),
			Path:     viper.GetString("target.path"),
		},
		Options: Options{
			BatchSize:     viper.GetInt("options.batch_size"),
			Backup:        viper.GetBool("options.backup"),
			BackupDir:     viper.GetString("options.backup_dir"),
			Validate:      viper.GetBool("options.validate"),
			Clean:         viper.GetBool("options.clean"),
			RetryAttempts: viper.GetInt("options.retry_attempts"),
			RetryDelay:    viper.GetDuration("options.retry_delay"),
			ReportFile:    viper.GetString("options.report_file"),
			MetricsFile:   viper.GetString("options.metrics_file"),
		},
		Log: Log{Verbose: viper.GetBool("log.verbose")},
	}
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.Source.Path == "" {
		errs = append(errs, errors.New("source.path is required"))
	}

	switch c.Target.Driver {
	case "postgres":
		if c.Target.Host == "" {
			errs = append(errs, errors.New("target.host is required for postgres"))
		}
		if c.Target.Port <= 0 || c.Target.Port > 65535 {
			errs = append(errs, fmt.Errorf("target.port %d is out of range", c.Target.Port))
		}
		if c.Target.DBName == "" {
			errs = append(errs, errors.New("target.dbname is required for postgres"))
		}
		if c.Target.User == "" {
			errs = append(errs, errors.New("target.user is required for postgres"))
		}
	case "sqlite":
		if c.Target.Path == "" {
			errs = append(errs, errors.New("target.path is required for sqlite"))
		} else if c.Target.Path == c.Source.Path {
			errs = append(errs, errors.New("target.path must differ from source.path"))
		}
	default:
		errs = append(errs, fmt.Errorf("target.driver %q must be postgres or sqlite", c.Target.Driver))
	}

	if c.Options.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("options.batch_size must be positive, got %d", c.Options.BatchSize))
	}
	if c.Options.RetryAttempts < 0 {
		errs = append(errs, fmt.Errorf("options.retry_attempts must not be negative, got %d", c.Options.RetryAttempts))
	}
	if c.Options.Backup && c.Options.BackupDir == "" {
		errs = append(errs, errors.New("options.backup_dir is required when options.backup is on"))
	}
	return errors.Join(errs...)
}

// DSN returns the driver connection string for the target.
func (t Target) DSN() string {
	if t.Driver == "sqlite" {
		return t.Path
	}
	pairs := []string{
		"host=" + dsnValue(t.Host),
		fmt.Sprintf("port=%d", t.Port),
		"dbname=" + dsnValue(t.DBName),
		"user=" + dsnValue(t.User),
	}
	if t.Password != "" {
		pairs = append(pairs, "password="+dsnValue(t.Password))
	}
	if t.SSLMode != "" {
		pairs = append(pairs, "sslmode="+dsnValue(t.SSLMode))
	}
	return strings.Join(pairs, " ")
}

// Describe names the target without credentials, for logs.
func (t Target) Describe() string {
	if t.Driver == "sqlite" {
		return "sqlite:" + t.Path
	}
	return fmt.Sprintf("postgres://%s@%s:%d/%s", t.User, t.Host, t.Port, t.DBName)
}

func dsnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Target.Password != "" {
		c.Target.Password = redactedPlaceholder
	}
	return c
}

// YAML renders the redacted configuration.
func (c Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}

// MarshalYAML writes the retry delay as a duration string.
func (o Options) MarshalYAML() (any, error) {
	return struct {
		BatchSize     int    `yaml:"batch_size"`
		Backup        bool   `yaml:"backup"`
		BackupDir     string `yaml:"backup_dir"`
		Validate      bool   `yaml:"validate"`
		Clean         bool   `yaml:"clean"`
		RetryAttempts int    `yaml:"retry_attempts"`
		RetryDelay    string `yaml:"retry_delay"`
		ReportFile    string `yaml:"report_file,omitempty"`
		MetricsFile   string `yaml:"metrics_file,omitempty"`
	}{
		BatchSize:     o.BatchSize,
		Backup:        o.Backup,
		BackupDir:     o.BackupDir,
		Validate:      o.Validate,
		Clean:         o.Clean,
		RetryAttempts: o.RetryAttempts,
		RetryDelay:    o.RetryDelay.String(),
		ReportFile:    o.ReportFile,
		MetricsFile:   o.MetricsFile,
	}, nil
}
