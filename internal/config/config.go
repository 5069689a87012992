package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	API     APIConfig     `yaml:"api" mapstructure:"api"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// StoreConfig configures the destination database.
type StoreConfig struct {
	Driver   string `yaml:"driver" mapstructure:"driver"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Database string `yaml:"database" mapstructure:"database"`

	// SQLitePath is the database file used when driver is "sqlite".
	SQLitePath string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// APIConfig configures the OpenFEMA list endpoint and pagination.
type APIConfig struct {
	URL      string `yaml:"url" mapstructure:"url"`
	PageSize int    `yaml:"page_size" mapstructure:"page_size"`
	Skip     int    `yaml:"skip" mapstructure:"skip"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	File   string `yaml:"file" mapstructure:"file"`
}

// MetricsConfig configures the optional Prometheus scrape endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment. AutomaticEnv only resolves keys viper already knows
	// about, so every key is bound explicitly; credentials in particular
	// have no default and would otherwise never see their env override.
	v.SetEnvPrefix("FEMASYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		"store.driver", "store.user", "store.password", "store.host",
		"store.port", "store.database", "store.sqlite_path",
		"api.url", "api.page_size", "api.skip",
		"log.level", "log.format", "log.file",
		"metrics.addr",
	} {
		v.MustBindEnv(key)
	}

	// Defaults. Database credentials deliberately have none: the postgres
	// driver refuses to start without explicit user/password/host/port/database.
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "femasync.db")
	v.SetDefault("api.url", "https://www.fema.gov/api/open/v2/DisasterDeclarationsSummaries")
	v.SetDefault("api.page_size", 10000)
	v.SetDefault("api.skip", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "femasync.log")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the selected store driver has everything it needs.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres":
		missing := c.Store.missingPostgresFields()
		if len(missing) > 0 {
			return eris.Errorf("config: store.%s required for the postgres driver", strings.Join(missing, ", store."))
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return eris.New("config: store.sqlite_path required for the sqlite driver")
		}
	default:
		return eris.Errorf("config: unknown store driver %q (valid: postgres, sqlite)", c.Store.Driver)
	}

	if c.API.URL == "" {
		return eris.New("config: api.url must not be empty")
	}
	if c.API.PageSize <= 0 {
		return eris.Errorf("config: api.page_size must be positive, got %d", c.API.PageSize)
	}
	if c.API.Skip < 0 {
		return eris.Errorf("config: api.skip must not be negative, got %d", c.API.Skip)
	}

	return nil
}

func (s *StoreConfig) missingPostgresFields() []string {
	var missing []string
	if s.User == "" {
		missing = append(missing, "user")
	}
	if s.Password == "" {
		missing = append(missing, "password")
	}
	if s.Host == "" {
		missing = append(missing, "host")
	}
	if s.Port == 0 {
		missing = append(missing, "port")
	}
	if s.Database == "" {
		missing = append(missing, "database")
	}
	return missing
}

// DSN builds the postgres connection string from the store fields.
func (s *StoreConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(s.User, s.Password),
		Host:   fmt.Sprintf("%s:%d", s.Host, s.Port),
		Path:   "/" + s.Database,
	}
	return u.String()
}

// InitLogger initializes the global zap logger. Log lines go to stdout and,
// when cfg.File is set, to a persistent log file as well.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	zapCfg.OutputPaths = []string{"stdout"}
	if cfg.File != "" {
		zapCfg.OutputPaths = append(zapCfg.OutputPaths, cfg.File)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
