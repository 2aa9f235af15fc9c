package sim

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

// IDGenerator can generate IDs
type IDGenerator interface {
	// Generate an ID
	Generate() string
}

// NewSequentialIDGenerator returns a generator of the IDs prefix1, prefix2 and
// so on. Runs that use it name their workers the same way every time.
func NewSequentialIDGenerator(prefix string) IDGenerator {
	return &sequentialIDGenerator{prefix: prefix}
}

// NewXIDGenerator returns a generator of globally unique, sortable IDs.
func NewXIDGenerator() IDGenerator {
	return xidGenerator{}
}

type sequentialIDGenerator struct {
	prefix string
	last   atomic.Uint64
}

func (g *sequentialIDGenerator) Generate() string {
	return g.prefix + strconv.FormatUint(g.last.Add(1), 10)
}

type xidGenerator struct{}

func (xidGenerator) Generate() string {
	return xid.New().String()
}

var defaultIDs = sync.OnceValue(NewXIDGenerator)

// GetIDGenerator returns the process-wide xid generator.
func GetIDGenerator() IDGenerator {
	return defaultIDs()
}
