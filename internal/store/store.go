package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

type Store struct {
	DB *sql.DB
}

// ErrNotFound is returned when a row does not exist or is not owned by the caller.
var ErrNotFound = errors.New("not found")

var (
	metricsOnce     sync.Once
	messagesWritten otelmetric.Int64Counter
	metricsInitErr  error
)

func initStoreMetrics() {
	meter := otel.Meter("boardroom/store")
	messagesWritten, metricsInitErr = meter.Int64Counter(
		"chat_messages_written_total",
		otelmetric.WithDescription("Chat message rows persisted, by role"),
	)
}

func recordMessageWritten(ctx context.Context, role string) {
	metricsOnce.Do(initStoreMetrics)
	if metricsInitErr != nil || messagesWritten == nil {
		return
	}
	messagesWritten.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("role", role)))
}

// NewWithDSN opens and pings a Postgres connection.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// IsUniqueViolation reports whether err is a Postgres unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
