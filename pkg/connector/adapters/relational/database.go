package relational

import (
	"context"
	"database/sql"

	"github.com/ajitpratap0/interlink/pkg/connector/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	// registers the mysql driver with database/sql
	_ "github.com/go-sql-driver/mysql"
)

// database hides the driver API differences between pgx and database/sql.
type database interface {
	query(ctx context.Context, stmt string, args ...any) ([]string, [][]any, error)
	exec(ctx context.Context, stmt string, args ...any) error
	// execBatch runs stmt once per argument list inside one transaction.
	execBatch(ctx context.Context, stmt string, argLists [][]any) error
	columns(ctx context.Context, stmt string, args ...any) (core.Schema, error)
	close()
}

type pgDatabase struct {
	pool *pgxpool.Pool
}

func openPostgres(ctx context.Context, dsn string, maxConns int) (*pgDatabase, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &pgDatabase{pool: pool}, nil
}

func (p *pgDatabase) query(ctx context.Context, stmt string, args ...any) ([]string, [][]any, error) {
	rows, err := p.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	var out [][]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, nil, err
		}
		out = append(out, values)
	}
	return columns, out, rows.Err()
}

func (p *pgDatabase) exec(ctx context.Context, stmt string, args ...any) error {
	_, err := p.pool.Exec(ctx, stmt, args...)
	return err
}

func (p *pgDatabase) execBatch(ctx context.Context, stmt string, argLists [][]any) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, args := range argLists {
			batch.Queue(stmt, args...)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (p *pgDatabase) columns(ctx context.Context, stmt string, args ...any) (core.Schema, error) {
	rows, err := p.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := core.Schema{}
	for rows.Next() {
		var name, dataType, native string
		var precision, scale int
		if err := rows.Scan(&name, &dataType, &native, &precision, &scale); err != nil {
			return nil, err
		}
		out[name] = core.ColumnSchema{DataType: dataType, NativeType: native, Precision: precision, Scale: scale}
	}
	return out, rows.Err()
}

func (p *pgDatabase) close() {
	p.pool.Close()
}

type sqlDatabase struct {
	db *sql.DB
}

func openMySQL(dsn string, maxConns int) (*sqlDatabase, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	return &sqlDatabase{db: db}, nil
}

func (s *sqlDatabase) query(ctx context.Context, stmt string, args ...any) ([]string, [][]any, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out [][]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		out = append(out, values)
	}
	return columns, out, rows.Err()
}

func (s *sqlDatabase) exec(ctx context.Context, stmt string, args ...any) error {
	_, err := s.db.ExecContext(ctx, stmt, args...)
	return err
}

func (s *sqlDatabase) execBatch(ctx context.Context, stmt string, argLists [][]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer prepared.Close()

	for _, args := range argLists {
		if _, err := prepared.ExecContext(ctx, args...); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *sqlDatabase) columns(ctx context.Context, stmt string, args ...any) (core.Schema, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := core.Schema{}
	for rows.Next() {
		var name, dataType, native string
		var precision, scale int64
		if err := rows.Scan(&name, &dataType, &native, &precision, &scale); err != nil {
			return nil, err
		}
		out[name] = core.ColumnSchema{DataType: dataType, NativeType: native, Precision: int(precision), Scale: int(scale)}
	}
	return out, rows.Err()
}

func (s *sqlDatabase) close() {
	_ = s.db.Close()
}
