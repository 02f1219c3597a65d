package core

import (
	"strings"
	"time"
)

// DefaultDriver is used when Settings.Driver is empty.
const DefaultDriver = "oracle"

// Settings is the connection configuration owned by one ConnectionManager.
// It is copied on construction and never mutated afterwards.
type Settings struct {
	Driver           string
	ConnectionString string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

func (s Settings) driver() string {
	d := strings.ToLower(strings.TrimSpace(s.Driver))
	if d == "" {
		return DefaultDriver
	}
	return d
}

// Dialect resolves the configured driver to a registered dialect.
func (s Settings) Dialect() (Dialect, error) {
	return LookupDialect(s.driver())
}
