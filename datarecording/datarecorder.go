// Package datarecording stores what happens during a simulation in a
// database, so that runs can be inspected after they finish.
package datarecording

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/fatih/structs"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// ErrInvalidEntry is returned when an entry type cannot be stored as a row.
var ErrInvalidEntry = errors.New("entry is invalid")

// DataRecorder is a backend that can record and store data
type DataRecorder interface {
	// CreateTable creates a new table whose columns are the exported fields of
	// sampleEntry.
	CreateTable(tableName string, sampleEntry any)

	// InsertData buffers an entry for a table that already exists.
	InsertData(tableName string, entry any)

	// ListTables returns the names of all the tables created.
	ListTables() []string

	// Flush writes all the buffered entries into the database.
	Flush()

	// Close flushes and releases the database.
	Close() error
}

const defaultBatchSize = 100000

// New creates a DataRecorder that writes into the SQLite file path plus the
// ".sqlite3" suffix. An empty path picks a unique name. The file must not
// exist yet.
func New(path string) (DataRecorder, error) {
	return newSQLiteWriter(path, defaultBatchSize)
}

func newSQLiteWriter(path string, batchSize int) (*sqliteWriter, error) {
	if path == "" {
		path = "ossim_recording_" + xid.New().String()
	}

	filename := path + ".sqlite3"

	if _, err := os.Stat(filename); err == nil {
		return nil, fmt.Errorf("file %s already exists", filename)
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening %s: %w", filename, err)
	}

	return attachSQLite(db, batchSize), nil
}

// NewWithDB creates a DataRecorder that writes into an open SQLite database.
func NewWithDB(db *sql.DB) DataRecorder {
	return attachSQLite(db, defaultBatchSize)
}

func attachSQLite(db *sql.DB, batchSize int) *sqliteWriter {
	w := &sqliteWriter{
		db:  db,
		buf: newBuffer(batchSize),
	}

	atexit.Register(w.Flush)

	return w
}

// sqliteWriter buffers entries and writes them in one transaction per flush.
type sqliteWriter struct {
	db  *sql.DB
	buf *buffer

	flushLock sync.Mutex
}

func sqliteColumnType(kind reflect.Kind) string {
	switch kind {
	case reflect.Float32, reflect.Float64:
		return "REAL"
	case reflect.String:
		return "TEXT"
	default:
		return "INTEGER"
	}
}

func (w *sqliteWriter) CreateTable(tableName string, sampleEntry any) {
	columns := w.buf.define(tableName, sampleEntry)

	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = fmt.Sprintf("%q %s", c.name, sqliteColumnType(c.kind))
	}

	query := fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)",
		tableName, strings.Join(defs, ",\n\t"))

	if _, err := w.db.Exec(query); err != nil {
		panic(fmt.Errorf("creating table %s: %w", tableName, err))
	}
}

func (w *sqliteWriter) InsertData(tableName string, entry any) {
	if w.buf.add(tableName, entry) {
		w.Flush()
	}
}

func (w *sqliteWriter) ListTables() []string {
	return w.buf.names()
}

// Flush writes the buffered entries. A database error panics, since the
// recording would be silently incomplete otherwise.
func (w *sqliteWriter) Flush() {
	w.flushLock.Lock()
	defer w.flushLock.Unlock()

	batches := w.buf.take()
	if len(batches) == 0 {
		return
	}

	if err := w.write(batches); err != nil {
		panic(fmt.Errorf("writing recording: %w", err))
	}
}

func (w *sqliteWriter) write(batches []batch) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	for _, b := range batches {
		if err := insertBatch(tx, b); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

func insertBatch(tx *sql.Tx, b batch) error {
	placeholders := strings.TrimSuffix(
		strings.Repeat("?, ", len(b.columns)), ", ")

	stmt, err := tx.Prepare(
		"INSERT INTO " + b.table + " VALUES (" + placeholders + ")")
	if err != nil {
		return fmt.Errorf("table %s: %w", b.table, err)
	}
	defer stmt.Close()

	for _, entry := range b.entries {
		if _, err := stmt.Exec(structs.Values(entry)...); err != nil {
			return fmt.Errorf("table %s: %w", b.table, err)
		}
	}

	return nil
}

func (w *sqliteWriter) Close() error {
	w.Flush()
	return w.db.Close()
}
