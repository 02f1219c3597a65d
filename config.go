package dataprovider

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ignaciocaff/dataprovider/internal/core"
)

// ConnectionStringEnv is read when the configuration file leaves the
// connection string empty.
const ConnectionStringEnv = "DATAPROVIDER_CONNECTION_STRING"

// Config configures a Provider. It is copied by New and never read again.
type Config struct {
	// Driver selects the dialect: "oracle" (go-ora, default), "sqlserver",
	// or "godror" when built with the godror tag.
	Driver           string        `yaml:"driver"`
	ConnectionString string        `yaml:"connection_string"`
	MaxOpenConns     int           `yaml:"max_open_conns"`
	MaxIdleConns     int           `yaml:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `yaml:"conn_max_lifetime"`
}

// DefaultConfig returns a Config with the default driver and no
// connection string.
func DefaultConfig() Config {
	return Config{Driver: core.DefaultDriver}
}

// LoadConfig reads a YAML configuration file over the defaults. An empty
// path yields the defaults. When the file sets no connection string the
// DATAPROVIDER_CONNECTION_STRING environment variable is used. A missing
// connection string is not an error here; calls fail with
// ErrConfiguration instead.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("dataprovider: read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("dataprovider: parse config %q: %w", path, err)
		}
	}
	if strings.TrimSpace(cfg.Driver) == "" {
		cfg.Driver = core.DefaultDriver
	}
	if strings.TrimSpace(cfg.ConnectionString) == "" {
		cfg.ConnectionString = os.Getenv(ConnectionStringEnv)
	}
	return cfg, nil
}

func (c Config) settings() core.Settings {
	return core.Settings{
		Driver:           c.Driver,
		ConnectionString: c.ConnectionString,
		MaxOpenConns:     c.MaxOpenConns,
		MaxIdleConns:     c.MaxIdleConns,
		ConnMaxLifetime:  c.ConnMaxLifetime,
	}
}
