package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// ConnectionManager hands out one connection with an open transaction per
// call. The pool is opened lazily from the connection string on first use,
// unless one was injected.
type ConnectionManager struct {
	settings Settings
	dialect  Dialect
	log      zerolog.Logger

	mu    sync.Mutex
	db    *sqlx.DB
	owned bool
}

// NewConnectionManager creates a manager. db may be nil, in which case the
// pool is opened from settings.ConnectionString on the first Open.
func NewConnectionManager(settings Settings, dialect Dialect, db *sqlx.DB, log zerolog.Logger) *ConnectionManager {
	return &ConnectionManager{
		settings: settings,
		dialect:  dialect,
		db:       db,
		log:      log,
	}
}

// Open acquires a dedicated connection and begins a transaction on it.
// It fails with ErrConfiguration before touching the network when nothing
// is configured, and with ErrNotImplemented when an identity context is
// requested.
func (m *ConnectionManager) Open(ctx context.Context, requireIdentityContext bool) (*Connection, error) {
	if !m.configured() {
		return nil, ErrConfiguration
	}
	if requireIdentityContext {
		return nil, ErrNotImplemented
	}

	db, err := m.pool()
	if err != nil {
		return nil, err
	}

	conn, err := db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Connection{conn: conn, tx: tx, log: m.log}, nil
}

func (m *ConnectionManager) configured() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db != nil || strings.TrimSpace(m.settings.ConnectionString) != ""
}

func (m *ConnectionManager) pool() (*sqlx.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db != nil {
		return m.db, nil
	}

	db, err := sqlx.Open(m.dialect.DriverName(), m.settings.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("open %s pool: %w", m.dialect.Name(), err)
	}
	if m.settings.MaxOpenConns > 0 {
		db.SetMaxOpenConns(m.settings.MaxOpenConns)
	}
	if m.settings.MaxIdleConns > 0 {
		db.SetMaxIdleConns(m.settings.MaxIdleConns)
	}
	if m.settings.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(m.settings.ConnMaxLifetime)
	}
	m.db = db
	m.owned = true
	return db, nil
}

// Close closes the pool if the manager opened it.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil || !m.owned {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	m.owned = false
	return err
}

// Connection is one physical connection and its transaction, owned by a
// single call.
type Connection struct {
	conn     *sqlx.Conn
	tx       *sqlx.Tx
	log      zerolog.Logger
	released bool
}

// Tx returns the call's transaction.
func (c *Connection) Tx() *sqlx.Tx {
	return c.tx
}

// Resolve commits when returnMessage is empty and rolls back otherwise.
// Resolving a finished or missing transaction is a no-op.
func (c *Connection) Resolve(returnMessage string) error {
	if c == nil || c.tx == nil {
		return nil
	}
	var err error
	if returnMessage == "" {
		if err = c.tx.Commit(); err == nil {
			c.log.Debug().Msg("transaction committed")
		}
	} else {
		if err = c.tx.Rollback(); err == nil {
			c.log.Debug().Str("return_message", returnMessage).Msg("transaction rolled back")
		}
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrTxDone):
		c.log.Debug().Msg("transaction already resolved")
		return nil
	}
	c.log.Warn().Err(err).Bool("commit", returnMessage == "").Msg("transaction resolution failed")
	return err
}

// Release closes cmd, then returns the connection to the pool. Only the
// first call has any effect.
func (c *Connection) Release(cmd *Command) error {
	if c == nil || c.released {
		return nil
	}
	c.released = true

	var errs []error
	if err := cmd.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close command: %w", err))
	}
	if c.tx != nil {
		if err := c.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			errs = append(errs, fmt.Errorf("rollback unresolved transaction: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}
