package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed schema.sql
var schemaSQL string

// Postgres is a Backend stored in a single records table. Scope separates
// the snapshots of different servers sharing one database.
type Postgres struct {
	db    *sql.DB
	scope string
}

// OpenPostgres connects to databaseURL and ensures the schema exists.
func OpenPostgres(ctx context.Context, databaseURL, scope string) (*Postgres, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(8)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Postgres{db: db, scope: scope}, nil
}

func (p *Postgres) Get(ctx context.Context, kind Kind, id string) ([]byte, error) {
	var v []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT value FROM records WHERE scope = $1 AND kind = $2 AND id = $3`,
		p.scope, string(kind), id).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", kind, err)
	}
	return v, nil
}

func (p *Postgres) List(ctx context.Context, kind Kind) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, parent, value FROM records WHERE scope = $1 AND kind = $2 ORDER BY id`,
		p.scope, string(kind))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", kind, err)
	}
	return scanRecords(rows)
}

func (p *Postgres) ListByParent(ctx context.Context, kind Kind, parent string) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, parent, value FROM records WHERE scope = $1 AND kind = $2 AND parent = $3 ORDER BY id`,
		p.scope, string(kind), parent)
	if err != nil {
		return nil, fmt.Errorf("select %s of %s: %w", kind, parent, err)
	}
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	out := make([]Record, 0)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Parent, &r.Value); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) Apply(ctx context.Context, writes []Write) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	for i, w := range writes {
		if err := p.exec(ctx, tx, w); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("write %d (%s): %w", i, w.Kind, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (p *Postgres) exec(ctx context.Context, tx *sql.Tx, w Write) error {
	var err error
	switch w.Op {
	case WritePut:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO records (scope, kind, id, parent, value) VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (scope, kind, id) DO UPDATE SET parent = EXCLUDED.parent, value = EXCLUDED.value`,
			p.scope, string(w.Kind), w.ID, w.Parent, w.Value)
	case WriteDelete:
		_, err = tx.ExecContext(ctx,
			`DELETE FROM records WHERE scope = $1 AND kind = $2 AND id = $3`,
			p.scope, string(w.Kind), w.ID)
	case WriteDeleteChildren:
		_, err = tx.ExecContext(ctx,
			`DELETE FROM records WHERE scope = $1 AND kind = $2 AND parent = $3`,
			p.scope, string(w.Kind), w.Parent)
	default:
		err = fmt.Errorf("unknown write op %d", w.Op)
	}
	return err
}

func (p *Postgres) Close() error { return p.db.Close() }
