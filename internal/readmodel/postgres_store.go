package readmodel

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const accountsTable = "read_bank_accounts"

//go:embed schema.sql
var schema string

var dialect = goqu.Dialect("postgres")

var documentColumns = []any{"id", "aggregate_id", "email", "balance", "currency", "version"}

// PostgresStore implements AccountReadStore using PostgreSQL
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the read model table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate read model: %w", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, doc BankAccountDocument) error {
	query, args, err := dialect.Insert(accountsTable).
		Rows(goqu.Record{
			"id":           doc.ID,
			"aggregate_id": doc.AggregateID,
			"email":        doc.Email,
			"balance":      doc.Balance.String(),
			"currency":     doc.Currency,
			"version":      doc.Version,
		}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDocumentExists, doc.AggregateID)
		}
		return fmt.Errorf("insert document %s: %w", doc.AggregateID, err)
	}
	return nil
}

func (s *PostgresStore) FindByAggregateID(ctx context.Context, aggregateID string) (*BankAccountDocument, error) {
	query, args, err := dialect.From(accountsTable).
		Select(documentColumns...).
		Where(goqu.C("aggregate_id").Eq(aggregateID)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, err
	}

	var doc BankAccountDocument
	if err := s.db.GetContext(ctx, &doc, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, aggregateID)
		}
		return nil, err
	}
	return &doc, nil
}

func (s *PostgresStore) Update(ctx context.Context, doc BankAccountDocument) error {
	query, args, err := dialect.Update(accountsTable).
		Set(goqu.Record{
			"email":    doc.Email,
			"balance":  doc.Balance.String(),
			"currency": doc.Currency,
			"version":  doc.Version,
		}).
		Where(goqu.C("aggregate_id").Eq(doc.AggregateID)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update document %s: %w", doc.AggregateID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, doc.AggregateID)
	}
	return nil
}

func (s *PostgresStore) DeleteByAggregateID(ctx context.Context, aggregateID string) error {
	query, args, err := dialect.Delete(accountsTable).
		Where(goqu.C("aggregate_id").Eq(aggregateID)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete document %s: %w", aggregateID, err)
	}
	return nil
}

func (s *PostgresStore) FindAll(ctx context.Context, page, size int) (*Page, error) {
	countQuery, args, err := dialect.From(accountsTable).Select(goqu.COUNT("*")).Prepared(true).ToSQL()
	if err != nil {
		return nil, err
	}
	var total int
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}

	query, args, err := dialect.From(accountsTable).
		Select(documentColumns...).
		Order(goqu.C("aggregate_id").Asc()).
		Limit(uint(size)).
		Offset(uint(page * size)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, err
	}

	var docs []BankAccountDocument
	if err := s.db.SelectContext(ctx, &docs, query, args...); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return NewPage(docs, page, size, total), nil
}
