package datarecording

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// QueryParams narrows and orders the rows a query returns.
type QueryParams struct {
	// Where is a condition without the WHERE keyword, such as
	// "Sec > ? AND Kind = ?".
	Where string

	// Args fill the placeholders of Where.
	Args []any

	// OrderBy lists the sort keys without the ORDER BY keywords, such as
	// "Sec DESC".
	OrderBy string

	// Limit caps the number of rows returned. Zero means all of them.
	Limit int

	// Offset skips rows. It only applies together with Limit.
	Offset int
}

func (p QueryParams) clauses() string {
	var b strings.Builder

	if p.Where != "" {
		b.WriteString(" WHERE " + p.Where)
	}

	if p.OrderBy != "" {
		b.WriteString(" ORDER BY " + p.OrderBy)
	}

	if p.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", p.Limit)

		if p.Offset > 0 {
			fmt.Fprintf(&b, " OFFSET %d", p.Offset)
		}
	}

	return b.String()
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// A Reader reads a SQLite recording back.
type Reader struct {
	db *sql.DB
}

// NewReader opens a recording file read-only.
func NewReader(filename string) (*Reader, error) {
	db, err := sql.Open("sqlite3", "file:"+filename+"?mode=ro")
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening %s: %w", filename, err)
	}

	return NewReaderWithDB(db), nil
}

// NewReaderWithDB reads from an open database.
func NewReaderWithDB(db *sql.DB) *Reader {
	return &Reader{db: db}
}

// Close releases the database.
func (r *Reader) Close() error {
	return r.db.Close()
}

// Tables lists the tables of the recording in name order.
func (r *Reader) Tables(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}

		tables = append(tables, name)
	}

	return tables, rows.Err()
}

// Query returns the rows of table that match params as values of T, along
// with the number of matching rows before Limit and Offset apply. Columns are
// matched to the fields of T by name; unknown columns are skipped.
func Query[T any](
	ctx context.Context,
	r *Reader,
	table string,
	params QueryParams,
) ([]T, int, error) {
	structType := reflect.TypeFor[T]()
	if structType.Kind() != reflect.Struct {
		return nil, 0, fmt.Errorf("%w: %s is not a struct",
			ErrInvalidEntry, structType)
	}

	if !tableName.MatchString(table) {
		return nil, 0, fmt.Errorf("invalid table name %q", table)
	}

	var total int

	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+table+QueryParams{Where: params.Where}.clauses(),
		params.Args...,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting %s: %w", table, err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT * FROM "+table+params.clauses(), params.Args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying %s: %w", table, err)
	}
	defer rows.Close()

	results, err := scanAll[T](rows, structType)
	if err != nil {
		return nil, 0, fmt.Errorf("reading %s: %w", table, err)
	}

	return results, total, nil
}

func scanAll[T any](rows *sql.Rows, structType reflect.Type) ([]T, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []T

	for rows.Next() {
		var entry T

		value := reflect.ValueOf(&entry).Elem()
		targets := make([]any, len(columns))

		for i, column := range columns {
			field, ok := structType.FieldByName(column)
			if !ok || !field.IsExported() {
				targets[i] = new(any)
				continue
			}

			targets[i] = value.FieldByIndex(field.Index).Addr().Interface()
		}

		if err := rows.Scan(targets...); err != nil {
			return nil, err
		}

		results = append(results, entry)
	}

	return results, rows.Err()
}

// Events returns recorded controller events.
func (r *Reader) Events(
	ctx context.Context,
	params QueryParams,
) ([]EventEntry, int, error) {
	return Query[EventEntry](ctx, r, EventTable, params)
}

// Snapshots returns recorded per-resource snapshots.
func (r *Reader) Snapshots(
	ctx context.Context,
	params QueryParams,
) ([]SnapshotEntry, int, error) {
	return Query[SnapshotEntry](ctx, r, SnapshotTable, params)
}

// Summary returns the final counters in name order.
func (r *Reader) Summary(ctx context.Context) ([]SummaryEntry, error) {
	entries, _, err := Query[SummaryEntry](ctx, r, SummaryTable,
		QueryParams{OrderBy: "Counter"})

	return entries, err
}

// ExecInfo returns the properties of the run in the order they were stored.
func (r *Reader) ExecInfo(ctx context.Context) ([]ExecInfoEntry, error) {
	entries, _, err := Query[ExecInfoEntry](ctx, r, ExecInfoTable,
		QueryParams{})

	return entries, err
}

// EventCounts returns the number of recorded events of each kind.
func (r *Reader) EventCounts(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT Kind, COUNT(*) FROM "+EventTable+" GROUP BY Kind")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)

	for rows.Next() {
		var (
			kind string
			n    int
		)

		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}

		counts[kind] = n
	}

	return counts, rows.Err()
}
