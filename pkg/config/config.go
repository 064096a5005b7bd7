// Package config loads command-line configuration from flags, environment
// variables and an optional YAML file.
//
// Precedence, highest first: explicitly set flags, GMAIL_ANALYZER_*
// environment variables, the config file, defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Sternrassler/gmail-analyzer/pkg/logging"
)

// EnvPrefix is the prefix of every environment variable read.
const EnvPrefix = "GMAIL_ANALYZER"

// Cache backends.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

var (
	// ErrConflictingModes is returned when more than one mode flag is set.
	ErrConflictingModes = errors.New("--pull-data, --refresh-data, --analyze-only and --rescope are mutually exclusive")

	// ErrInvalidConfig is returned for out-of-range values.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Mode selects what a run does.
type Mode string

const (
	// ModeAnalyze fetches what is missing, then prints statistics.
	ModeAnalyze Mode = "analyze"

	// ModePullData fetches and caches, then exits.
	ModePullData Mode = "pull-data"

	// ModeRefreshData ignores caches, refetches everything, then exits.
	ModeRefreshData Mode = "refresh-data"

	// ModeAnalyzeOnly analyzes cached data without network access.
	ModeAnalyzeOnly Mode = "analyze-only"

	// ModeRescope narrows the unfiltered cache to the query and analyzes it.
	ModeRescope Mode = "rescope"
)

// Config is the resolved run configuration.
type Config struct {
	Query          string `mapstructure:"query"`
	User           string `mapstructure:"user"`
	Top            int    `mapstructure:"top"`
	Inactive       int    `mapstructure:"inactive"`
	MaxRetryRounds int    `mapstructure:"max_retry_rounds"`

	PullData    bool `mapstructure:"pull_data"`
	RefreshData bool `mapstructure:"refresh_data"`
	AnalyzeOnly bool `mapstructure:"analyze_only"`
	Rescope     bool `mapstructure:"rescope"`

	ExportCSV string `mapstructure:"export_csv"`

	CacheDir     string        `mapstructure:"cache_dir"`
	CacheBackend string        `mapstructure:"cache_backend"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	RedisAddr    string        `mapstructure:"redis_addr"`

	Credentials string  `mapstructure:"credentials"`
	RPS         float64 `mapstructure:"rps"`

	LogLevel    string `mapstructure:"log_level"`
	Pretty      bool   `mapstructure:"pretty"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	Version bool `mapstructure:"version"`
}

// DefaultPath returns ~/.config/gmail-analyzer/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "gmail-analyzer", "config.yaml")
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		User:           "me",
		Top:            10,
		MaxRetryRounds: 5,
		CacheDir:       "cache",
		CacheBackend:   BackendFile,
		CacheTTL:       24 * time.Hour,
		RedisAddr:      "localhost:6379",
		Credentials:    "credentials.json",
		RPS:            10,
		LogLevel:       "info",
	}
}

// NewFlagSet returns a flag set with every supported flag registered.
func NewFlagSet(name string) *pflag.FlagSet {
	d := Default()
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false

	fs.String("config", "", "config file (default "+DefaultPath()+")")
	fs.String("query", d.Query, "Gmail search query to restrict messages")
	fs.String("user", d.User, "user ID to fetch data for")
	fs.Int("top", d.Top, "number of results to show")
	fs.Int("inactive", d.Inactive, "show senders inactive for more than N days")
	fs.Int("max-retry-rounds", d.MaxRetryRounds, "retry rounds for failed messages (0 = until no progress)")

	fs.Bool("pull-data", false, "fetch and cache data, then exit")
	fs.Bool("refresh-data", false, "force refresh cached data, then exit")
	fs.Bool("analyze-only", false, "analyze using cached data only (no API calls)")
	fs.Bool("rescope", false, "narrow the unfiltered cache to --query (listing only)")
	fs.String("export-csv", "", "export message metadata to CSV at the given path")

	fs.String("cache-dir", d.CacheDir, "directory of the file cache")
	fs.String("cache-backend", d.CacheBackend, "cache backend: file or redis")
	fs.Duration("cache-ttl", d.CacheTTL, "age after which cache entries are stale")
	fs.String("redis-addr", d.RedisAddr, "redis address for the redis backend")

	fs.String("credentials", d.Credentials, "OAuth client secret file")
	fs.Float64("rps", d.RPS, "maximum API calls per second (0 = unlimited)")

	fs.String("log-level", d.LogLevel, "log level: debug, info, warn, error")
	fs.Bool("pretty", false, "human-readable log output")
	fs.String("metrics-addr", "", "serve Prometheus metrics on this address")
	fs.Bool("version", false, "display version and exit")

	return fs
}

// Load parses args and resolves the configuration. pflag.ErrHelp is
// returned unchanged when -h or --help is given.
func Load(args []string) (*Config, error) {
	fs := NewFlagSet("gmail-analyzer")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return FromFlags(fs)
}

// FromFlags resolves the configuration from an already parsed flag set.
func FromFlags(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	d := Default()
	v.SetDefault("query", d.Query)
	v.SetDefault("user", d.User)
	v.SetDefault("top", d.Top)
	v.SetDefault("inactive", d.Inactive)
	v.SetDefault("max_retry_rounds", d.MaxRetryRounds)
	v.SetDefault("pull_data", false)
	v.SetDefault("refresh_data", false)
	v.SetDefault("analyze_only", false)
	v.SetDefault("rescope", false)
	v.SetDefault("export_csv", "")
	v.SetDefault("cache_dir", d.CacheDir)
	v.SetDefault("cache_backend", d.CacheBackend)
	v.SetDefault("cache_ttl", d.CacheTTL)
	v.SetDefault("redis_addr", d.RedisAddr)
	v.SetDefault("credentials", d.Credentials)
	v.SetDefault("rps", d.RPS)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("pretty", false)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("version", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return nil, fmt.Errorf("binding flags: %w", bindErr)
	}

	path, explicit := DefaultPath(), false
	if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
		path, explicit = f.Value.String(), true
	}
	if err := readFile(v, path, explicit); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readFile merges the YAML file at path. A missing default file is not an
// error; a missing explicit file is.
func readFile(v *viper.Viper, path string, explicit bool) error {
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if !explicit && (errors.Is(err, os.ErrNotExist) || errors.As(err, &notFound)) {
		return nil
	}
	return fmt.Errorf("reading config %s: %w", path, err)
}

// Validate checks value ranges and mode exclusivity.
func (c *Config) Validate() error {
	modes := 0
	for _, set := range []bool{c.PullData, c.RefreshData, c.AnalyzeOnly, c.Rescope} {
		if set {
			modes++
		}
	}
	if modes > 1 {
		return ErrConflictingModes
	}

	switch {
	case c.User == "":
		return fmt.Errorf("%w: --user must not be empty", ErrInvalidConfig)
	case c.Top < 1:
		return fmt.Errorf("%w: --top must be at least 1, got %d", ErrInvalidConfig, c.Top)
	case c.Inactive < 0:
		return fmt.Errorf("%w: --inactive must not be negative, got %d", ErrInvalidConfig, c.Inactive)
	case c.RPS < 0:
		return fmt.Errorf("%w: --rps must not be negative, got %g", ErrInvalidConfig, c.RPS)
	case c.CacheTTL <= 0:
		return fmt.Errorf("%w: --cache-ttl must be positive, got %s", ErrInvalidConfig, c.CacheTTL)
	case c.CacheBackend != BackendFile && c.CacheBackend != BackendRedis:
		return fmt.Errorf("%w: unknown cache backend %q", ErrInvalidConfig, c.CacheBackend)
	}
	if c.Rescope && c.Query == "" {
		return fmt.Errorf("%w: --rescope requires --query", ErrInvalidConfig)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Mode returns the selected run mode.
func (c *Config) Mode() Mode {
	switch {
	case c.PullData:
		return ModePullData
	case c.RefreshData:
		return ModeRefreshData
	case c.AnalyzeOnly:
		return ModeAnalyzeOnly
	case c.Rescope:
		return ModeRescope
	default:
		return ModeAnalyze
	}
}
