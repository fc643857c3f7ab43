package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Postgres is a Backend over a Postgres database. Each table is a jsonb
// document store: (id TEXT PRIMARY KEY, doc JSONB NOT NULL). Filters and
// ordering address top-level document fields.
type Postgres struct {
	db *sql.DB
}

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
var fieldName = tableName

// NewPostgres opens a Backend against dsn and verifies connectivity.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

// EnsureTables creates the jsonb document tables if they do not exist.
func (p *Postgres) EnsureTables(ctx context.Context, tables ...string) error {
	for _, table := range tables {
		if err := checkName(table); err != nil {
			return err
		}
		ddl := fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, doc JSONB NOT NULL)`, table)
		if _, err := p.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure table %s: %w", table, err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Get(ctx context.Context, table, id string) (Record, error) {
	if err := checkName(table); err != nil {
		return nil, err
	}
	var doc []byte
	err := p.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT doc FROM %s WHERE id = $1`, table), id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select %s/%s: %w", table, id, err)
	}
	var rec Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", table, id, err)
	}
	return rec, nil
}

func (p *Postgres) Select(ctx context.Context, table string, q Query) ([]Record, error) {
	if err := checkName(table); err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, `SELECT doc FROM %s`, table)
	var args []any
	var clauses []string
	for field, value := range q.Filter {
		if err := checkName(field); err != nil {
			return nil, err
		}
		args = append(args, fmt.Sprint(value))
		clauses = append(clauses, fmt.Sprintf(`doc->>'%s' = $%d`, field, len(args)))
	}
	if len(clauses) > 0 {
		b.WriteString(" WHERE " + strings.Join(clauses, " AND "))
	}
	if q.OrderBy != "" {
		if err := checkName(q.OrderBy); err != nil {
			return nil, err
		}
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&b, ` ORDER BY doc->>'%s' %s`, q.OrderBy, dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, ` LIMIT %d`, q.Limit)
	}

	rows, err := p.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var recs []Record
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, fmt.Errorf("decode %s row: %w", table, err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (p *Postgres) Insert(ctx context.Context, table string, rec Record) error {
	if err := checkName(table); err != nil {
		return err
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", table, err)
	}
	_, err = p.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, doc) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET doc = excluded.doc`, table),
		ID(rec), doc)
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func (p *Postgres) Update(ctx context.Context, table, id string, rec Record) error {
	if err := checkName(table); err != nil {
		return err
	}
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", table, err)
	}
	res, err := p.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET doc = $2 WHERE id = $1`, table), id, doc)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", table, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, table, id string) error {
	if err := checkName(table); err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// checkName rejects identifiers that cannot be safely interpolated into SQL.
func checkName(name string) error {
	if !tableName.MatchString(name) {
		return fmt.Errorf("remote: invalid identifier %q", name)
	}
	return nil
}
