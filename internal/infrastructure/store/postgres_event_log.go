package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const (
	eventsTable    = "events"
	snapshotsTable = "snapshots"
)

//go:embed schema.sql
var schema string

var dialect = goqu.Dialect("postgres")

// SQLSTATE codes that mean another writer got there first or the lock wait gave up.
var concurrencyCodes = map[pq.ErrorCode]bool{
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"40001": true, // serialization_failure
	"23505": true, // unique_violation
}

type eventRow struct {
	ID            string    `db:"event_id"`
	AggregateID   string    `db:"aggregate_id"`
	AggregateType string    `db:"aggregate_type"`
	EventType     string    `db:"event_type"`
	Data          []byte    `db:"data"`
	Metadata      []byte    `db:"metadata"`
	Version       int       `db:"version"`
	Timestamp     time.Time `db:"timestamp"`
}

type snapshotRow struct {
	ID            string    `db:"snapshot_id"`
	AggregateID   string    `db:"aggregate_id"`
	AggregateType string    `db:"aggregate_type"`
	Data          []byte    `db:"data"`
	Metadata      []byte    `db:"metadata"`
	Version       int       `db:"version"`
	Timestamp     time.Time `db:"timestamp"`
}

// PoolConfig sizes the database/sql connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ConnectPostgres opens and pings a Postgres connection pool.
func ConnectPostgres(ctx context.Context, dsn string, pool PoolConfig) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	return db, nil
}

// Migrate creates the events and snapshots tables if they do not exist.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate event log: %w", err)
	}
	return nil
}

// PostgresEventLog stores events and snapshots in PostgreSQL
type PostgresEventLog struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

func NewPostgresEventLog(db *sqlx.DB, lockTimeout time.Duration) *PostgresEventLog {
	return &PostgresEventLog{db: db, lockTimeout: lockTimeout}
}

func (l *PostgresEventLog) LoadSnapshot(ctx context.Context, aggregateID string) (*Snapshot, error) {
	query, args, err := dialect.From(snapshotsTable).
		Select("snapshot_id", "aggregate_id", "aggregate_type", "data", "metadata", "version", "timestamp").
		Where(goqu.C("aggregate_id").Eq(aggregateID)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, err
	}

	var row snapshotRow
	if err := l.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &Snapshot{
		ID:            row.ID,
		AggregateID:   row.AggregateID,
		AggregateType: row.AggregateType,
		Version:       row.Version,
		Data:          row.Data,
		Metadata:      row.Metadata,
		Timestamp:     row.Timestamp,
	}, nil
}

func (l *PostgresEventLog) LoadEvents(ctx context.Context, aggregateID string, afterVersion int) ([]Event, error) {
	query, args, err := dialect.From(eventsTable).
		Select("event_id", "aggregate_id", "aggregate_type", "event_type", "data", "metadata", "version", "timestamp").
		Where(
			goqu.C("aggregate_id").Eq(aggregateID),
			goqu.C("version").Gt(afterVersion),
		).
		Order(goqu.C("version").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, err
	}

	var rows []eventRow
	if err := l.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, Event{
			ID:            row.ID,
			AggregateID:   row.AggregateID,
			AggregateType: row.AggregateType,
			EventType:     row.EventType,
			Version:       row.Version,
			Data:          row.Data,
			Metadata:      row.Metadata,
			Timestamp:     row.Timestamp,
		})
	}
	return events, nil
}

// InTx runs fn in a transaction bounded by the configured lock_timeout.
func (l *PostgresEventLog) InTx(ctx context.Context, fn func(tx EventLogTx) error) (err error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if l.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", l.lockTimeout.Milliseconds())
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	if err = fn(&postgresTx{tx: tx}); err != nil {
		return classifyPgError(err)
	}
	if err = tx.Commit(); err != nil {
		return classifyPgError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

type postgresTx struct {
	tx *sqlx.Tx
}

func (t *postgresTx) LockAggregate(ctx context.Context, aggregateID string) (int, error) {
	lockQuery, args, err := dialect.From(eventsTable).
		Select("event_id").
		Where(goqu.C("aggregate_id").Eq(aggregateID)).
		Order(goqu.C("version").Asc()).
		Limit(1).
		ForUpdate(exp.Wait).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, err
	}
	var locked []string
	if err := t.tx.SelectContext(ctx, &locked, lockQuery, args...); err != nil {
		return 0, fmt.Errorf("lock aggregate %s: %w", aggregateID, err)
	}

	versionQuery, args, err := dialect.From(eventsTable).
		Select(goqu.COALESCE(goqu.MAX("version"), 0)).
		Where(goqu.C("aggregate_id").Eq(aggregateID)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, err
	}
	var current int
	if err := t.tx.GetContext(ctx, &current, versionQuery, args...); err != nil {
		return 0, fmt.Errorf("current version %s: %w", aggregateID, err)
	}

	// Events covered by a snapshot may have been pruned.
	snapshotQuery, args, err := dialect.From(snapshotsTable).
		Select(goqu.COALESCE(goqu.MAX("version"), 0)).
		Where(goqu.C("aggregate_id").Eq(aggregateID)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, err
	}
	var snapshotVersion int
	if err := t.tx.GetContext(ctx, &snapshotVersion, snapshotQuery, args...); err != nil {
		return 0, fmt.Errorf("snapshot version %s: %w", aggregateID, err)
	}
	return max(current, snapshotVersion), nil
}

func (t *postgresTx) AppendEvents(ctx context.Context, events []Event) error {
	rows := make([]any, 0, len(events))
	for _, e := range events {
		rows = append(rows, goqu.Record{
			"event_id":       e.ID,
			"aggregate_id":   e.AggregateID,
			"aggregate_type": e.AggregateType,
			"event_type":     e.EventType,
			"data":           []byte(e.Data),
			"metadata":       nullableBytes(e.Metadata),
			"version":        e.Version,
			"timestamp":      e.Timestamp,
		})
	}

	query, args, err := dialect.Insert(eventsTable).Rows(rows...).Prepared(true).ToSQL()
	if err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	return nil
}

func (t *postgresTx) SaveSnapshot(ctx context.Context, snapshot Snapshot) error {
	query, args, err := dialect.Insert(snapshotsTable).
		Rows(goqu.Record{
			"aggregate_id":   snapshot.AggregateID,
			"snapshot_id":    snapshot.ID,
			"aggregate_type": snapshot.AggregateType,
			"data":           []byte(snapshot.Data),
			"metadata":       nullableBytes(snapshot.Metadata),
			"version":        snapshot.Version,
			"timestamp":      snapshot.Timestamp,
		}).
		OnConflict(goqu.DoUpdate("aggregate_id", goqu.Record{
			"snapshot_id":    goqu.I("excluded.snapshot_id"),
			"aggregate_type": goqu.I("excluded.aggregate_type"),
			"data":           goqu.I("excluded.data"),
			"metadata":       goqu.I("excluded.metadata"),
			"version":        goqu.I("excluded.version"),
			"timestamp":      goqu.I("excluded.timestamp"),
		})).
		Prepared(true).
		ToSQL()
	if err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

func classifyPgError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && concurrencyCodes[pqErr.Code] {
		return fmt.Errorf("%w: %w", ErrConcurrency, err)
	}
	return err
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
