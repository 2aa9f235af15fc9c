package datarecording

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/fatih/structs"
)

// A column is one exported field of an entry type.
type column struct {
	name string
	kind reflect.Kind
}

func isAllowedKind(kind reflect.Kind) bool {
	switch kind {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32,
		reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.String:
		return true
	default:
		return false
	}
}

// columnsOf returns the columns of a table storing entries like entry. The
// entry must be a flat struct whose fields are all exported basic values.
func columnsOf(entry any) ([]column, error) {
	t := reflect.TypeOf(entry)
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %T is not a struct", ErrInvalidEntry, entry)
	}

	for i := 0; i < t.NumField(); i++ {
		if f := t.Field(i); !f.IsExported() {
			return nil, fmt.Errorf("%w: field %s is not exported",
				ErrInvalidEntry, f.Name)
		}
	}

	fields := structs.Fields(entry)
	columns := make([]column, 0, len(fields))

	for _, f := range fields {
		if !isAllowedKind(f.Kind()) {
			return nil, fmt.Errorf("%w: field %s has kind %s",
				ErrInvalidEntry, f.Name(), f.Kind())
		}

		columns = append(columns, column{name: f.Name(), kind: f.Kind()})
	}

	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: %T has no fields", ErrInvalidEntry, entry)
	}

	return columns, nil
}

type table struct {
	structType reflect.Type
	columns    []column
	entries    []any
}

// A batch holds the entries of one table taken out of a buffer.
type batch struct {
	table   string
	columns []column
	entries []any
}

// A buffer keeps the tables of a recorder and the entries not written yet.
type buffer struct {
	lock      sync.Mutex
	batchSize int
	tables    map[string]*table
	pending   int
}

func newBuffer(batchSize int) *buffer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	return &buffer{
		batchSize: batchSize,
		tables:    make(map[string]*table),
	}
}

// define registers a table and returns its columns. Invalid names and
// entries panic.
func (b *buffer) define(name string, sampleEntry any) []column {
	if !tableName.MatchString(name) {
		panic(fmt.Errorf("%w: table name %q", ErrInvalidEntry, name))
	}

	columns, err := columnsOf(sampleEntry)
	if err != nil {
		panic(err)
	}

	b.lock.Lock()
	defer b.lock.Unlock()

	if _, exists := b.tables[name]; exists {
		panic(fmt.Sprintf("table %s already exists", name))
	}

	b.tables[name] = &table{
		structType: reflect.TypeOf(sampleEntry),
		columns:    columns,
	}

	return columns
}

// add buffers an entry and reports whether the batch size has been reached.
func (b *buffer) add(name string, entry any) bool {
	b.lock.Lock()
	defer b.lock.Unlock()

	t, exists := b.tables[name]
	if !exists {
		panic(fmt.Sprintf("table %s does not exist", name))
	}

	if reflect.TypeOf(entry) != t.structType {
		panic(fmt.Sprintf("entry of type %T does not fit table %s",
			entry, name))
	}

	t.entries = append(t.entries, entry)
	b.pending++

	return b.pending >= b.batchSize
}

func (b *buffer) names() []string {
	b.lock.Lock()
	defer b.lock.Unlock()

	names := make([]string, 0, len(b.tables))
	for name := range b.tables {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// take removes every buffered entry, grouped by table in name order.
func (b *buffer) take() []batch {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.pending == 0 {
		return nil
	}

	names := make([]string, 0, len(b.tables))
	for name, t := range b.tables {
		if len(t.entries) > 0 {
			names = append(names, name)
		}
	}

	sort.Strings(names)

	batches := make([]batch, 0, len(names))
	for _, name := range names {
		t := b.tables[name]
		batches = append(batches, batch{
			table:   name,
			columns: t.columns,
			entries: t.entries,
		})
		t.entries = nil
	}

	b.pending = 0

	return batches
}
