package datarecording

import "fmt"

// Backends a RecorderConfig can select.
const (
	BackendSQLite     = "sqlite"
	BackendClickHouse = "clickhouse"
)

// RecorderConfig selects and configures a recording backend.
type RecorderConfig struct {
	// Type is BackendSQLite or BackendClickHouse. Empty means SQLite.
	Type string `yaml:"type"`

	// Path is the SQLite file name without suffix.
	Path string `yaml:"path"`

	// ConnStr is a ClickHouse DSN. When set, the individual connection
	// fields are ignored.
	ConnStr  string `yaml:"conn_str"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// BatchSize is the number of buffered entries that triggers a flush.
	// Zero means the default.
	BatchSize int `yaml:"batch_size"`
}

// NewWithConfig creates the recorder that cfg describes.
func NewWithConfig(cfg RecorderConfig) (DataRecorder, error) {
	switch cfg.Type {
	case "", BackendSQLite:
		w, err := newSQLiteWriter(cfg.Path, cfg.BatchSize)
		if err != nil {
			return nil, err
		}

		return w, nil
	case BackendClickHouse:
		return newClickHouseWriter(cfg)
	default:
		return nil, fmt.Errorf("unknown recorder type %q", cfg.Type)
	}
}
