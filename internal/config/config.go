package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the environment prefix read by Load (DOCQUERY_LIVE_WORKERS -> live.workers).
const EnvPrefix = "DOCQUERY_"

type Config struct {
	DataDir string `mapstructure:"datadir"`

	Store   StoreConfig   `mapstructure:"store"`
	Query   QueryConfig   `mapstructure:"query"`
	Live    LiveConfig    `mapstructure:"live"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type StoreConfig struct {
	Filename     string        `mapstructure:"filename"`     // Database file name inside DataDir
	JournalMode  string        `mapstructure:"journalmode"`  // SQLite journal mode (default: WAL)
	BusyTimeout  time.Duration `mapstructure:"busytimeout"`  // How long SQLite waits on a locked database
	MaxOpenConns int           `mapstructure:"maxopenconns"` // 0 = unlimited; streaming cursors each hold one
}

// QueryConfig bounds query execution.
type QueryConfig struct {
	MaxRows   int `mapstructure:"maxrows"`   // Maximum rows a recorded enumerator may hold (0 = unlimited)
	CacheSize int `mapstructure:"cachesize"` // Compiled query LRU capacity
}

// LiveConfig configures live query observers.
type LiveConfig struct {
	Workers      int           `mapstructure:"workers"`      // Refresh worker pool size
	Delay        time.Duration `mapstructure:"delay"`        // Debounce between a change and the refresh check
	MaxRetries   int           `mapstructure:"maxretries"`   // Retries for transient refresh failures
	RetryBackoff time.Duration `mapstructure:"retrybackoff"` // Initial retry delay
	MaxChecks    float64       `mapstructure:"maxchecks"`    // Refresh checks per second across observers (0 = unlimited)
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // DEBUG, INFO, WARN, ERROR
	Format string `mapstructure:"format"` // text, json
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		Store: StoreConfig{
			Filename:     "docquery.db",
			JournalMode:  "WAL",
			BusyTimeout:  5 * time.Second,
			MaxOpenConns: 0,
		},
		Query: QueryConfig{
			MaxRows:   100000,
			CacheSize: 128,
		},
		Live: LiveConfig{
			Workers:      runtime.NumCPU(),
			Delay:        50 * time.Millisecond,
			MaxRetries:   3,
			RetryBackoff: 10 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    "",
		},
	}
}

// Path returns the database file path.
func (c *Config) Path() string {
	return filepath.Join(c.DataDir, c.Store.Filename)
}

// Validate rejects configurations the store cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: datadir is required")
	}
	if c.Store.Filename == "" {
		return fmt.Errorf("config: store.filename is required")
	}
	if c.Query.MaxRows < 0 {
		return fmt.Errorf("config: query.maxrows must be >= 0")
	}
	if c.Query.CacheSize <= 0 {
		return fmt.Errorf("config: query.cachesize must be > 0")
	}
	if c.Live.Workers <= 0 {
		return fmt.Errorf("config: live.workers must be > 0")
	}
	if c.Live.MaxChecks < 0 {
		return fmt.Errorf("config: live.maxchecks must be >= 0")
	}
	return nil
}

// Load starts from DefaultConfig, overlays the optional config file at path
// and then environment variables carrying prefix.
func Load(path, prefix string) (*Config, error) {
	cfg := DefaultConfig()
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	prefixUpper := strings.ToUpper(prefix)
	for _, envStr := range os.Environ() {
		pair := strings.SplitN(envStr, "=", 2)
		if len(pair) != 2 {
			continue
		}
		key, value := pair[0], pair[1]

		if prefixUpper != "" && strings.HasPrefix(key, prefixUpper) {
			// DOCQUERY_LIVE_WORKERS -> live.workers
			propKey := strings.TrimPrefix(key, prefixUpper)
			propKey = strings.ToLower(strings.ReplaceAll(propKey, "_", "."))
			propKey = strings.TrimPrefix(propKey, ".")

			v.Set(propKey, value)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
