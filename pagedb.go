// Package pagedb provides a small, embeddable paged storage engine for
// educational SQL databases.
//
// PageDB implements the on-disk half of a classic textbook database:
//   - A heap file of fixed 4 KiB pages with a free-list sidecar
//   - A pinning buffer pool with LRU or FIFO replacement
//   - A slotted-page record manager with stable RIDs, in-place update,
//     tombstone delete and intra-page compaction
//   - A persistent table and column-schema catalog
//   - A generic B+Tree index keyed on int64 or fixed-length string keys
//
// # Basic Usage
//
// Open a database directory, create a table, and work with records:
//
//	db, _ := pagedb.Open(pagedb.Config{Dir: "data"})
//	defer db.Close()
//
//	tid, _ := db.CreateTable("users", []pagedb.Column{
//	    {Name: "id", Type: pagedb.TypeInt},
//	    {Name: "name", Type: pagedb.TypeVarchar, Length: 32},
//	})
//
//	rid, _ := db.Insert(tid, pagedb.EncodeRow("1", "Alice"))
//	raw, ok, _ := db.Read(rid)
//	if ok {
//	    fmt.Println(pagedb.DecodeRow(raw)) // [1 Alice]
//	}
//
// # Durability
//
// Mutations live in the buffer pool until flushed:
//
//	db.FlushAll() // promote every dirty page to disk
//
// # Indexes
//
//	db.CreateIndex("users_id", "users", "id", true)
//	rid, found, _ := db.IndexSearch("users_id", "1")
//
// The engine is single-writer: callers must serialize access. One Config
// directory owns one engine; engines over distinct directories share no
// state.
package pagedb

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/SimonWaldherr/pagedb/internal/storage"
)

// Re-exported storage types, so callers rarely import internal packages.
type (
	// RID identifies a record for its lifetime.
	RID = storage.RID
	// PageID identifies a 4 KiB page.
	PageID = storage.PageID
	// Stats holds the buffer pool counters.
	Stats = storage.Stats
	// Column describes one table column.
	Column = storage.ColumnMetadata
	// Schema is a table's ordered column list.
	Schema = storage.TableSchema
	// Record is one live scan result.
	Record = storage.Record
	// IndexMatch is one index range hit.
	IndexMatch = storage.IndexMatch
	// Tracer receives structural trace events.
	Tracer = storage.Tracer
)

// Column type constants.
const (
	TypeInt       = storage.TypeInt
	TypeDouble    = storage.TypeDouble
	TypeVarchar   = storage.TypeVarchar
	TypeChar      = storage.TypeChar
	TypeBoolean   = storage.TypeBoolean
	TypeTimestamp = storage.TypeTimestamp
)

// PageSize is the fixed page size in bytes.
const PageSize = storage.PageSize

// Config configures Open. The zero value plus a Dir is valid.
type Config struct {
	// Dir is the base directory holding data.db and the meta sidecars.
	Dir string `yaml:"dir"`
	// BufferCapacity is the frame count of the buffer pool (default 64).
	BufferCapacity int `yaml:"buffer_capacity"`
	// Policy selects the replacement policy: "lru" (default) or "fifo".
	Policy string `yaml:"policy"`
	// Tracer, when set, receives one line per structural storage event.
	Tracer Tracer `yaml:"-"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// DB is an open storage engine rooted at one directory.
type DB struct {
	engine *storage.StorageEngine
}

// Open opens (or creates) the engine under cfg.Dir.
func Open(cfg Config) (*DB, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("config: dir is required: %w", storage.ErrInvalidArgument)
	}
	policy := storage.LRU
	switch strings.ToLower(cfg.Policy) {
	case "", "lru":
	case "fifo":
		policy = storage.FIFO
	default:
		return nil, fmt.Errorf("config: unknown policy %q: %w", cfg.Policy, storage.ErrInvalidArgument)
	}
	engine, err := storage.NewStorageEngine(cfg.Dir, storage.Options{
		BufferCapacity: cfg.BufferCapacity,
		Policy:         policy,
		Tracer:         cfg.Tracer,
	})
	if err != nil {
		return nil, err
	}
	return &DB{engine: engine}, nil
}

// Engine exposes the underlying storage engine for advanced callers.
func (db *DB) Engine() *storage.StorageEngine { return db.engine }

// Close flushes all dirty pages and releases the files.
func (db *DB) Close() error { return db.engine.Close() }

// CreateTable registers a table (and schema when columns are given).
func (db *DB) CreateTable(name string, columns []Column) (int32, error) {
	return db.engine.CreateTable(name, columns)
}

// DropTable removes a table by name, reclaiming its pages.
func (db *DB) DropTable(name string) (bool, error) { return db.engine.DropTableByName(name) }

// TableID resolves a table name, -1 when absent.
func (db *DB) TableID(name string) int32 { return db.engine.GetTableID(name) }

// TableSchema returns a table's column schema.
func (db *DB) TableSchema(name string) (Schema, error) { return db.engine.GetTableSchema(name) }

// Insert stores a record and returns its RID.
func (db *DB) Insert(tid int32, data []byte) (RID, error) { return db.engine.InsertRecord(tid, data) }

// Read fetches a record by RID; false on a miss.
func (db *DB) Read(rid RID) ([]byte, bool, error) { return db.engine.ReadRecord(rid) }

// Update rewrites a record in place where possible; false when the page
// cannot hold the new size.
func (db *DB) Update(rid RID, data []byte) (bool, error) { return db.engine.UpdateRecord(rid, data) }

// Delete tombstones a record; false on a miss.
func (db *DB) Delete(rid RID) (bool, error) { return db.engine.DeleteRecord(rid) }

// Scan returns every live record of a table in storage order.
func (db *DB) Scan(tid int32) ([]Record, error) { return db.engine.ScanTable(tid) }

// FlushAll writes every dirty buffer frame back to disk.
func (db *DB) FlushAll() error { return db.engine.FlushAll() }

// Stats snapshots the buffer pool counters.
func (db *DB) Stats() Stats { return db.engine.Stats() }

// CreateIndex builds and backfills a B+Tree index over one column.
func (db *DB) CreateIndex(name, table, column string, unique bool) error {
	return db.engine.CreateIndex(name, table, column, unique)
}

// IndexSearch looks up one value in an index.
func (db *DB) IndexSearch(index, value string) (RID, bool, error) {
	return db.engine.IndexSearch(index, value)
}

// IndexRange scans [low, high] in an index, inclusive on both ends.
func (db *DB) IndexRange(index, low, high string) ([]IndexMatch, error) {
	return db.engine.IndexRange(index, low, high)
}

// ───────────────────────────────────────────────────────────────────────────
// Row convention
// ───────────────────────────────────────────────────────────────────────────
//
// The storage engine treats records as opaque bytes. The execution-engine
// collaborators lay rows out as column values joined by '|'; these two
// helpers implement that convention in one place.

// EncodeRow joins column values with '|'.
func EncodeRow(cols ...string) []byte {
	return []byte(strings.Join(cols, "|"))
}

// DecodeRow splits a record back into column values.
func DecodeRow(data []byte) []string {
	return strings.Split(string(data), "|")
}
