// Package store is the typed gateway to the columnar store. All SQL in the
// engine goes through it: parameterized reads via Select/Query, batched
// writes via InsertBatch, DDL and maintenance via Exec. String fragments
// interpolated into query templates must pass through the sanitizer in this
// package first.
package store

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/rs/zerolog"
)

// Config holds columnar store connection configuration.
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Timeout  time.Duration

	MaxOpenConns int
	MaxIdleConns int
}

// DefaultConfig returns pool settings suitable for the batch workload.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         9000,
		Database:     "default",
		Timeout:      30 * time.Second,
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}
}

// Named binds a value to an @name placeholder in a query template.
func Named(name string, value any) any {
	return clickhouse.Named(name, value)
}

// Store is the query surface components depend on. The concrete Gateway
// implements it; tests substitute fakes.
type Store interface {
	Select(ctx context.Context, dest any, query string, args ...any) error
	Exec(ctx context.Context, query string, args ...any) error
	InsertBatch(ctx context.Context, table string, rows any) error
}

// Gateway wraps a native ClickHouse connection with timeouts, error
// classification and structured logging.
type Gateway struct {
	conn    driver.Conn
	timeout time.Duration
	log     zerolog.Logger
}

// Open dials the store and verifies the connection.
func Open(cfg Config, log zerolog.Logger) (*Gateway, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: time.Hour,
		Compression:     &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	})
	if err != nil {
		return nil, wrapErr("open", err)
	}

	g := &Gateway{
		conn:    conn,
		timeout: cfg.Timeout,
		log:     log.With().Str("component", "store").Logger(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, &Error{Kind: KindConnection, Op: "ping", Err: err}
	}

	g.log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Str("database", cfg.Database).Msg("Store connected")
	return g, nil
}

// Select runs a query and scans all rows into dest, which must be a pointer
// to a slice of structs with ch tags.
func (g *Gateway) Select(ctx context.Context, dest any, query string, args ...any) error {
	ctx, cancel := g.bound(ctx)
	defer cancel()

	start := time.Now()
	if err := g.conn.Select(ctx, dest, query, args...); err != nil {
		return wrapErr("select", err)
	}
	g.log.Debug().Dur("took", time.Since(start)).Msg("Select completed")
	return nil
}

// Exec runs a statement that returns no rows (DDL, OPTIMIZE, DELETE).
func (g *Gateway) Exec(ctx context.Context, query string, args ...any) error {
	ctx, cancel := g.bound(ctx)
	defer cancel()

	if err := g.conn.Exec(ctx, query, args...); err != nil {
		return wrapErr("exec", err)
	}
	return nil
}

// InsertBatch appends every element of rows (a slice of structs) to a native
// batch insert into table. A nil or empty slice is a no-op.
func (g *Gateway) InsertBatch(ctx context.Context, table string, rows any) error {
	v := reflect.ValueOf(rows)
	if v.Kind() != reflect.Slice {
		return decodeErr("insert", fmt.Errorf("rows must be a slice, got %T", rows))
	}
	if v.Len() == 0 {
		return nil
	}

	ctx, cancel := g.bound(ctx)
	defer cancel()

	batch, err := g.conn.PrepareBatch(ctx, "INSERT INTO "+table)
	if err != nil {
		return wrapErr("insert", err)
	}
	for i := 0; i < v.Len(); i++ {
		row := v.Index(i)
		if row.Kind() != reflect.Pointer {
			row = row.Addr()
		}
		if err := batch.AppendStruct(row.Interface()); err != nil {
			_ = batch.Abort()
			return decodeErr("insert", err)
		}
	}
	if err := batch.Send(); err != nil {
		return wrapErr("insert", err)
	}

	g.log.Debug().Str("table", table).Int("rows", v.Len()).Msg("Batch inserted")
	return nil
}

// Ping verifies connectivity.
func (g *Gateway) Ping(ctx context.Context) error {
	ctx, cancel := g.bound(ctx)
	defer cancel()
	if err := g.conn.Ping(ctx); err != nil {
		return &Error{Kind: KindConnection, Op: "ping", Err: err}
	}
	return nil
}

// Close releases the connection pool.
func (g *Gateway) Close() error {
	return g.conn.Close()
}

// bound attaches the configured query timeout unless the caller already set
// an earlier deadline.
func (g *Gateway) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}
