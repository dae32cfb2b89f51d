package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/invoice-reconciler/internal/common"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// sqlStore implements Store on database/sql. Queries are built with ent's
// dialect-aware builder so the same code serves Postgres and SQLite.
type sqlStore struct {
	db     *DB
	q      querier
	inTx   bool
	logger *slog.Logger
	now    func() time.Time
}

func NewStore(db *DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &sqlStore{
		db:     db,
		q:      db.SQL,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *sqlStore) Invoices() InvoiceRepository   { return &invoiceRepo{s: s} }
func (s *sqlStore) Inventory() InventoryRepository { return &inventoryRepo{s: s} }
func (s *sqlStore) Audits() AuditRepository       { return &auditRepo{s: s} }

func (s *sqlStore) InTx(ctx context.Context, fn func(tx Store) error) (err error) {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("failed to begin transaction", "error", err)
		return common.NewAppError("DATABASE_ERROR", "begin transaction", errors.Join(common.ErrDatabase, err))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	txs := &sqlStore{db: s.db, q: tx, inTx: true, logger: s.logger, now: s.now}
	if err := fn(txs); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			s.logger.Error("failed to roll back transaction", "error", rerr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("failed to commit transaction", "error", err)
		return common.NewAppError("DATABASE_ERROR", "commit transaction", errors.Join(common.ErrDatabase, err))
	}
	return nil
}

func (s *sqlStore) builder() *entsql.DialectBuilder {
	return entsql.Dialect(s.db.Dialect)
}

func (s *sqlStore) exec(ctx context.Context, b entsql.Querier) (sql.Result, error) {
	query, args := b.Query()
	return s.q.ExecContext(ctx, query, args...)
}

// affected runs b and reports whether any row matched.
func (s *sqlStore) affected(ctx context.Context, b entsql.Querier) (bool, error) {
	res, err := s.exec(ctx, b)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqlStore) query(ctx context.Context, b entsql.Querier) (*sql.Rows, error) {
	query, args := b.Query()
	return s.q.QueryContext(ctx, query, args...)
}

func (s *sqlStore) queryRow(ctx context.Context, b entsql.Querier) *sql.Row {
	query, args := b.Query()
	return s.q.QueryRowContext(ctx, query, args...)
}

// dbError logs and wraps a driver error so callers can match ErrDatabase.
func (s *sqlStore) dbError(op string, err error, attrs ...any) error {
	s.logger.Error("database operation failed", append([]any{"op", op, "error", err}, attrs...)...)
	return common.NewAppError("DATABASE_ERROR", op, fmt.Errorf("%w: %w", common.ErrDatabase, err))
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
