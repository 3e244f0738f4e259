package config

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"codeberg.org/mutker/envoymon/internal/errors"
)

const (
	DefaultEnvPrefix = "ENVOYMON"
	DefaultLogLevel  = "info"

	defaultInterval  = 60
	defaultTimeout   = 30
	defaultMetricsDB = "/var/lib/envoymon/metrics.db"
)

type Config struct {
	Host      string
	Token     string
	Username  string
	Password  string
	Interval  int
	Timeout   int
	Debug     bool
	Verbose   bool
	LogLevel  string `mapstructure:"log_level"`
	Metrics   bool
	MetricsDB string `mapstructure:"metrics_db"`
}

func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	config := &Config{}
	v := viper.New()

	// Flags live on a private set so Load stays callable more than once
	fs := pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)
	fs.String("host", "", "Gateway hostname or IP address")
	fs.String("token", "", "Gateway API token")
	fs.String("username", "", "Gateway username")
	fs.String("password", "", "Gateway password")
	fs.Int("interval", defaultInterval, "Seconds between polling cycles")
	fs.Int("timeout", defaultTimeout, "Seconds before a fetch attempt is abandoned")
	fs.Bool("debug", false, "Enable debugging mode")
	fs.Bool("verbose", false, "Enable verbose logging")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.Bool("metrics", false, "Enable metrics collection")
	fs.String("metrics-db", defaultMetricsDB, "Path to the metrics database")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	// Defaults double as the key set viper consults for environment lookups
	v.SetDefault("host", "")
	v.SetDefault("token", "")
	v.SetDefault("username", "")
	v.SetDefault("password", "")
	v.SetDefault("interval", defaultInterval)
	v.SetDefault("timeout", defaultTimeout)
	v.SetDefault("debug", false)
	v.SetDefault("verbose", false)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("metrics", false)
	v.SetDefault("metrics_db", defaultMetricsDB)

	v.SetEnvPrefix(o.envPrefix)
	v.AutomaticEnv()

	// Load configuration from file
	if o.configPath != "" {
		v.SetConfigFile(o.configPath)
	} else if envPath := os.Getenv(o.envPrefix + "_CONFIG"); envPath != "" {
		v.SetConfigFile(envPath)
	} else {
		v.SetConfigName("envoymon")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	// Override config file values with command line flags
	fs.Visit(func(f *pflag.Flag) {
		v.Set(strings.ReplaceAll(f.Name, "-", "_"), f.Value.String())
	})

	// Unmarshal the configuration
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	// Set log level based on config
	zerolog.SetGlobalLevel(config.zerologLevel())

	return config, nil
}

func (c *Config) validate() error {
	errFactory := errors.New()

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}
	if c.Timeout <= 0 {
		return errFactory.WithData(errors.ErrInvalidTimeout, c.Timeout)
	}
	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	return nil
}

func (c *Config) zerologLevel() zerolog.Level {
	switch {
	case c.Debug:
		return zerolog.DebugLevel
	case c.Verbose:
		return zerolog.InfoLevel
	}

	switch LogLevel(c.LogLevel) {
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelWarning:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (c *Config) GetHost() string          { return c.Host }
func (c *Config) GetToken() string         { return c.Token }
func (c *Config) GetUsername() string      { return c.Username }
func (c *Config) GetPassword() string      { return c.Password }
func (c *Config) GetInterval() int         { return c.Interval }
func (c *Config) GetTimeout() int          { return c.Timeout }
func (c *Config) GetLogLevel() string      { return c.LogLevel }
func (c *Config) IsMetricsEnabled() bool   { return c.Metrics }
func (c *Config) GetMetricsDBPath() string { return c.MetricsDB }
