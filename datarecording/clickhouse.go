package datarecording

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/tebeka/atexit"
)

const (
	clickhouseTimeout     = 30 * time.Second
	clickhouseDefaultPort = 9000
)

// clickhouseWriter batches entries in memory and sends them to a ClickHouse
// server table by table.
type clickhouseWriter struct {
	conn clickhouse.Conn
	buf  *buffer

	flushLock sync.Mutex
}

func newClickHouseWriter(cfg RecorderConfig) (DataRecorder, error) {
	options, err := clickhouseOptions(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), clickhouseTimeout)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	w := &clickhouseWriter{
		conn: conn,
		buf:  newBuffer(cfg.BatchSize),
	}

	atexit.Register(w.Flush)

	return w, nil
}

func clickhouseOptions(cfg RecorderConfig) (*clickhouse.Options, error) {
	if cfg.ConnStr != "" {
		options, err := clickhouse.ParseDSN(cfg.ConnStr)
		if err != nil {
			return nil, fmt.Errorf("parsing ClickHouse DSN: %w", err)
		}

		return options, nil
	}

	port := cfg.Port
	if port == 0 {
		port = clickhouseDefaultPort
	}

	return &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout:  clickhouseTimeout,
		MaxOpenConns: 5,
		MaxIdleConns: 5,
	}, nil
}

func clickhouseColumnType(kind reflect.Kind) string {
	switch kind {
	case reflect.Bool:
		return "Bool"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32,
		reflect.Int64:
		return "Int64"
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32,
		reflect.Uint64:
		return "UInt64"
	case reflect.Float32, reflect.Float64:
		return "Float64"
	default:
		return "String"
	}
}

// clickhouseValues converts the fields of entry to the exact Go types of the
// columns created by clickhouseColumnType.
func clickhouseValues(entry any) []any {
	v := reflect.ValueOf(entry)
	values := make([]any, 0, v.NumField())

	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)

		switch clickhouseColumnType(f.Kind()) {
		case "Bool":
			values = append(values, f.Bool())
		case "Int64":
			values = append(values, f.Int())
		case "UInt64":
			values = append(values, f.Uint())
		case "Float64":
			values = append(values, f.Float())
		default:
			values = append(values, f.String())
		}
	}

	return values
}

func (w *clickhouseWriter) CreateTable(tableName string, sampleEntry any) {
	columns := w.buf.define(tableName, sampleEntry)

	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = c.name + " " + clickhouseColumnType(c.kind)
	}

	query := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n\t%s\n) ENGINE = MergeTree() "+
			"ORDER BY tuple()",
		tableName, strings.Join(defs, ",\n\t"))

	if err := w.conn.Exec(context.Background(), query); err != nil {
		panic(fmt.Errorf("failed to create table %s: %w", tableName, err))
	}
}

func (w *clickhouseWriter) InsertData(tableName string, entry any) {
	if w.buf.add(tableName, entry) {
		w.Flush()
	}
}

func (w *clickhouseWriter) ListTables() []string {
	return w.buf.names()
}

func (w *clickhouseWriter) Flush() {
	w.flushLock.Lock()
	defer w.flushLock.Unlock()

	ctx := context.Background()

	for _, b := range w.buf.take() {
		if err := w.send(ctx, b); err != nil {
			panic(err)
		}
	}
}

func (w *clickhouseWriter) send(ctx context.Context, b batch) error {
	rows, err := w.conn.PrepareBatch(ctx, "INSERT INTO "+b.table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch for %s: %w", b.table, err)
	}

	for _, entry := range b.entries {
		if err := rows.Append(clickhouseValues(entry)...); err != nil {
			_ = rows.Abort()
			return fmt.Errorf("failed to append to %s: %w", b.table, err)
		}
	}

	if err := rows.Send(); err != nil {
		return fmt.Errorf("failed to send batch to %s: %w", b.table, err)
	}

	return nil
}

func (w *clickhouseWriter) Close() error {
	w.Flush()
	return w.conn.Close()
}
