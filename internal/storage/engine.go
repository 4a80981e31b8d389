package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ───────────────────────────────────────────────────────────────────────────
// Storage engine facade
// ───────────────────────────────────────────────────────────────────────────
//
// One StorageEngine owns one base directory: heap file, meta sidecars,
// buffer pool, catalogs, record manager and index registry. Engines over
// distinct directories share nothing. The engine is not re-entrant; the
// host serializes access.

// IndexesFileName is the index-registry sidecar under the base directory.
// Line format: name table column unique(0|1) key_kind root_page_id
const IndexesFileName = "indexes.meta"

// Index key kinds persisted in the registry.
const (
	KeyKindInt64    = "int64"
	KeyKindString32 = "string32"
)

// Options tune a StorageEngine at open time.
type Options struct {
	BufferCapacity int    // frames in the pool; default 64
	Policy         Policy // LRU or FIFO; default LRU
	Tracer         Tracer // default: discard
}

// IndexInfo describes one registered secondary index.
type IndexInfo struct {
	Name    string
	Table   string
	Column  string
	Unique  bool
	KeyKind string
	Root    PageID
}

// IndexMatch is one hit from an index lookup or range scan, the key
// rendered back to text.
type IndexMatch struct {
	Key string
	RID RID
}

// StorageEngine composes the storage core behind the narrow API the rest
// of the system calls.
type StorageEngine struct {
	id      string
	baseDir string
	tracer  Tracer

	disk    *DiskManager
	buffer  *BufferManager
	tables  *TableManager
	schemas *SchemaCatalog
	records *RecordManager

	indexPath string
	indexes   map[string]*IndexInfo // keyed by lower-cased index name
	intTrees  map[string]*BPlusTree[int64]
	strTrees  map[string]*BPlusTree[String32]
}

// NewStorageEngine opens (or creates) an engine rooted at baseDir.
func NewStorageEngine(baseDir string, opts Options) (*StorageEngine, error) {
	if opts.BufferCapacity == 0 {
		opts.BufferCapacity = 64
	}
	if opts.Tracer == nil {
		opts.Tracer = NopTracer()
	}
	disk, err := NewDiskManager(baseDir)
	if err != nil {
		return nil, err
	}
	buffer, err := NewBufferManager(disk, opts.BufferCapacity, opts.Policy, opts.Tracer)
	if err != nil {
		disk.Close()
		return nil, err
	}
	tables, err := NewTableManager(baseDir)
	if err != nil {
		disk.Close()
		return nil, err
	}
	schemas, err := NewSchemaCatalog(baseDir)
	if err != nil {
		disk.Close()
		return nil, err
	}
	e := &StorageEngine{
		id:        uuid.NewString(),
		baseDir:   baseDir,
		tracer:    opts.Tracer,
		disk:      disk,
		buffer:    buffer,
		tables:    tables,
		schemas:   schemas,
		records:   NewRecordManager(disk, buffer, tables),
		indexPath: filepath.Join(baseDir, IndexesFileName),
		indexes:   make(map[string]*IndexInfo),
		intTrees:  make(map[string]*BPlusTree[int64]),
		strTrees:  make(map[string]*BPlusTree[String32]),
	}
	if err := e.loadIndexes(); err != nil {
		disk.Close()
		return nil, err
	}
	e.tracer.Tracef("engine %s: opened %s (capacity=%d, policy=%s)",
		e.id, baseDir, opts.BufferCapacity, opts.Policy)
	return e, nil
}

// ID returns the engine instance id, which the engine's open trace line
// carries.
func (e *StorageEngine) ID() string { return e.id }

// BaseDir returns the directory the engine is rooted at.
func (e *StorageEngine) BaseDir() string { return e.baseDir }

// Close flushes every dirty frame and releases the heap file.
func (e *StorageEngine) Close() error {
	if err := e.buffer.FlushAll(); err != nil {
		e.disk.Close()
		return err
	}
	return e.disk.Close()
}

// ── Page operations ───────────────────────────────────────────────────────

// AllocatePage allocates a zeroed page id.
func (e *StorageEngine) AllocatePage() (PageID, error) { return e.disk.AllocatePage() }

// FreePage returns a page id to the free list, dropping any cached copy
// so a later reallocation starts from the zeroed disk image.
func (e *StorageEngine) FreePage(pid PageID) error {
	if err := e.buffer.Discard(pid); err != nil {
		return err
	}
	return e.disk.FreePage(pid)
}

// GetPage pins a page; pair with UnpinPage.
func (e *StorageEngine) GetPage(pid PageID) (*Page, error) { return e.buffer.GetPage(pid) }

// UnpinPage drops a pin, marking the page dirty when modified.
func (e *StorageEngine) UnpinPage(pid PageID, dirty bool) error {
	return e.buffer.UnpinPage(pid, dirty)
}

// FlushPage writes one dirty page back, if resident.
func (e *StorageEngine) FlushPage(pid PageID) error { return e.buffer.FlushPage(pid) }

// FlushAll writes every dirty frame back.
func (e *StorageEngine) FlushAll() error { return e.buffer.FlushAll() }

// Stats snapshots the buffer counters.
func (e *StorageEngine) Stats() Stats { return e.buffer.Stats() }

// ── Table operations ──────────────────────────────────────────────────────

// CreateTable registers a table and, when columns are given, its schema.
func (e *StorageEngine) CreateTable(name string, columns []ColumnMetadata) (int32, error) {
	if len(columns) > 0 && e.schemas.TableExists(name) {
		return -1, fmt.Errorf("table %q exists: %w", name, ErrInvalidArgument)
	}
	tid, err := e.tables.CreateTable(name)
	if err != nil {
		return -1, err
	}
	if len(columns) > 0 {
		if err := e.schemas.AddTable(name, columns); err != nil {
			return -1, err
		}
	}
	return tid, nil
}

// DropTableByName removes the table, its schema, its indexes, and hands
// its pages back to the free list. Reports whether the table existed.
func (e *StorageEngine) DropTableByName(name string) (bool, error) {
	tid := e.tables.GetTableID(name)
	if tid < 0 {
		return false, nil
	}
	pages := append([]PageID(nil), e.tables.GetTablePages(tid)...)
	existed, err := e.tables.DropTableByID(tid, e.disk)
	if err != nil || !existed {
		return existed, err
	}
	// Cached copies of reclaimed pages must not outlive the table.
	for _, pid := range pages {
		if err := e.buffer.Discard(pid); err != nil {
			return true, err
		}
	}
	if _, err := e.schemas.DropTable(name); err != nil {
		return true, err
	}
	return true, e.dropIndexesForTable(name)
}

// DropTableByID is DropTableByName after an id lookup.
func (e *StorageEngine) DropTableByID(tid int32) (bool, error) {
	name := e.tables.GetTableName(tid)
	if name == "" {
		return false, nil
	}
	return e.DropTableByName(name)
}

// GetTableID resolves a table name, -1 when absent.
func (e *StorageEngine) GetTableID(name string) int32 { return e.tables.GetTableID(name) }

// GetTableName resolves a table id, "" when absent.
func (e *StorageEngine) GetTableName(tid int32) string { return e.tables.GetTableName(tid) }

// AllocateTablePage appends a fresh page to the table.
func (e *StorageEngine) AllocateTablePage(tid int32) (PageID, error) {
	return e.tables.AllocateTablePage(tid, e.disk)
}

// GetTablePages returns the table's pages in scan order.
func (e *StorageEngine) GetTablePages(tid int32) []PageID { return e.tables.GetTablePages(tid) }

// GetTableSchema returns the table's column schema.
func (e *StorageEngine) GetTableSchema(name string) (TableSchema, error) {
	return e.schemas.GetTableSchema(name)
}

// ── Record operations ─────────────────────────────────────────────────────

// InsertRecord stores opaque bytes in the table and returns the RID.
func (e *StorageEngine) InsertRecord(tid int32, data []byte) (RID, error) {
	return e.records.Insert(tid, data)
}

// ReadRecord copies a record's bytes out; false on a miss.
func (e *StorageEngine) ReadRecord(rid RID) ([]byte, bool, error) { return e.records.Read(rid) }

// UpdateRecord rewrites a record under its RID; false when it cannot fit.
func (e *StorageEngine) UpdateRecord(rid RID, data []byte) (bool, error) {
	return e.records.Update(rid, data)
}

// DeleteRecord tombstones a record; false on a miss.
func (e *StorageEngine) DeleteRecord(rid RID) (bool, error) { return e.records.Erase(rid) }

// ScanTable returns every live record in catalog page order.
func (e *StorageEngine) ScanTable(tid int32) ([]Record, error) { return e.records.Scan(tid) }

// ── Index operations ──────────────────────────────────────────────────────

// splitRow applies the '|'-join row convention the execution engine uses;
// the storage core itself never interprets record bytes, but index
// backfill has to reach the indexed column.
func splitRow(b []byte) []string { return strings.Split(string(b), "|") }

// CreateIndex builds a B+Tree over an existing column and backfills it
// from a full table scan. INT columns get int64 keys; CHAR/VARCHAR get
// 32-byte fixed-string keys.
func (e *StorageEngine) CreateIndex(name, table, column string, unique bool) error {
	key := strings.ToLower(name)
	if _, ok := e.indexes[key]; ok {
		return fmt.Errorf("index %q exists: %w", name, ErrInvalidArgument)
	}
	tid := e.tables.GetTableID(table)
	if tid < 0 {
		return fmt.Errorf("index %q: table %q: %w", name, table, ErrNotFound)
	}
	schema, err := e.schemas.GetTableSchema(table)
	if err != nil {
		return err
	}
	colIdx := schema.ColumnIndex(column)
	if colIdx < 0 {
		return fmt.Errorf("index %q: column %q: %w", name, column, ErrNotFound)
	}

	var kind string
	switch schema.Columns[colIdx].Type {
	case TypeInt:
		kind = KeyKindInt64
	case TypeChar, TypeVarchar:
		kind = KeyKindString32
	default:
		return fmt.Errorf("index %q: column type %s not indexable: %w",
			name, schema.Columns[colIdx].Type, ErrInvalidArgument)
	}

	info := &IndexInfo{Name: name, Table: table, Column: column, Unique: unique, KeyKind: kind}
	switch kind {
	case KeyKindInt64:
		tree := NewBPlusTree[int64](e.disk, e.buffer, Int64Key{}, e.tracer)
		root, err := tree.Create()
		if err != nil {
			return err
		}
		info.Root = root
		e.intTrees[key] = tree
	case KeyKindString32:
		tree := NewBPlusTree[String32](e.disk, e.buffer, String32Key{}, e.tracer)
		root, err := tree.Create()
		if err != nil {
			return err
		}
		info.Root = root
		e.strTrees[key] = tree
	}
	e.indexes[key] = info

	if err := e.backfillIndex(info, tid, colIdx); err != nil {
		delete(e.indexes, key)
		delete(e.intTrees, key)
		delete(e.strTrees, key)
		return err
	}
	// Splits may have moved the root since Create.
	info.Root = e.indexRoot(key, info.KeyKind)
	return e.saveIndexes()
}

func (e *StorageEngine) indexRoot(key, kind string) PageID {
	if kind == KeyKindInt64 {
		return e.intTrees[key].Root()
	}
	return e.strTrees[key].Root()
}

func (e *StorageEngine) backfillIndex(info *IndexInfo, tid int32, colIdx int) error {
	recs, err := e.records.Scan(tid)
	if err != nil {
		return err
	}
	key := strings.ToLower(info.Name)
	for _, rec := range recs {
		cols := splitRow(rec.Bytes)
		if colIdx >= len(cols) {
			return fmt.Errorf("index %q: row %v has %d columns, need %d: %w",
				info.Name, rec.RID, len(cols), colIdx+1, ErrInvalidArgument)
		}
		val := cols[colIdx]
		var (
			inserted bool
		)
		switch info.KeyKind {
		case KeyKindInt64:
			n, perr := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
			if perr != nil {
				return fmt.Errorf("index %q: value %q not an integer: %w", info.Name, val, ErrInvalidArgument)
			}
			inserted, err = e.intTrees[key].Insert(n, rec.RID)
		case KeyKindString32:
			inserted, err = e.strTrees[key].Insert(MakeString32(val), rec.RID)
		}
		if err != nil {
			return err
		}
		if !inserted && info.Unique {
			return fmt.Errorf("index %q: duplicate key %q: %w", info.Name, val, ErrInvalidArgument)
		}
	}
	return nil
}

// GetIndex returns a registered index's description.
func (e *StorageEngine) GetIndex(name string) (IndexInfo, bool) {
	info, ok := e.indexes[strings.ToLower(name)]
	if !ok {
		return IndexInfo{}, false
	}
	return *info, true
}

// IndexInsert adds one (value, rid) pair to an index; false on duplicate.
func (e *StorageEngine) IndexInsert(name, value string, rid RID) (bool, error) {
	key := strings.ToLower(name)
	info, ok := e.indexes[key]
	if !ok {
		return false, fmt.Errorf("index %q: %w", name, ErrNotFound)
	}
	var (
		inserted bool
		err      error
	)
	if info.KeyKind == KeyKindInt64 {
		n, perr := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if perr != nil {
			return false, fmt.Errorf("index %q: value %q not an integer: %w", name, value, ErrInvalidArgument)
		}
		inserted, err = e.intTrees[key].Insert(n, rid)
	} else {
		inserted, err = e.strTrees[key].Insert(MakeString32(value), rid)
	}
	if err != nil {
		return false, err
	}
	info.Root = e.indexRoot(key, info.KeyKind)
	return inserted, e.saveIndexes()
}

// IndexSearch looks a single value up in an index.
func (e *StorageEngine) IndexSearch(name, value string) (RID, bool, error) {
	key := strings.ToLower(name)
	info, ok := e.indexes[key]
	if !ok {
		return RID{}, false, fmt.Errorf("index %q: %w", name, ErrNotFound)
	}
	if info.KeyKind == KeyKindInt64 {
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return RID{}, false, fmt.Errorf("index %q: value %q not an integer: %w", name, value, ErrInvalidArgument)
		}
		return e.intTrees[key].Search(n)
	}
	return e.strTrees[key].Search(MakeString32(value))
}

// IndexRange scans [low, high] in an index, both ends inclusive.
func (e *StorageEngine) IndexRange(name, low, high string) ([]IndexMatch, error) {
	key := strings.ToLower(name)
	info, ok := e.indexes[key]
	if !ok {
		return nil, fmt.Errorf("index %q: %w", name, ErrNotFound)
	}
	var out []IndexMatch
	if info.KeyKind == KeyKindInt64 {
		lo, err := strconv.ParseInt(strings.TrimSpace(low), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("index %q: bound %q not an integer: %w", name, low, ErrInvalidArgument)
		}
		hi, err := strconv.ParseInt(strings.TrimSpace(high), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("index %q: bound %q not an integer: %w", name, high, ErrInvalidArgument)
		}
		pairs, err := e.intTrees[key].Range(lo, hi)
		if err != nil {
			return nil, err
		}
		for _, p := range pairs {
			out = append(out, IndexMatch{Key: strconv.FormatInt(p.Key, 10), RID: p.RID})
		}
		return out, nil
	}
	pairs, err := e.strTrees[key].Range(MakeString32(low), MakeString32(high))
	if err != nil {
		return nil, err
	}
	for _, p := range pairs {
		out = append(out, IndexMatch{Key: p.Key.String(), RID: p.RID})
	}
	return out, nil
}

// ListIndexes returns every registered index sorted by name.
func (e *StorageEngine) ListIndexes() []IndexInfo {
	names := make([]string, 0, len(e.indexes))
	for name := range e.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]IndexInfo, 0, len(names))
	for _, name := range names {
		out = append(out, *e.indexes[name])
	}
	return out
}

func (e *StorageEngine) dropIndexesForTable(table string) error {
	want := strings.ToLower(table)
	changed := false
	for key, info := range e.indexes {
		if strings.ToLower(info.Table) != want {
			continue
		}
		delete(e.indexes, key)
		delete(e.intTrees, key)
		delete(e.strTrees, key)
		changed = true
	}
	if !changed {
		return nil
	}
	return e.saveIndexes()
}

// ── Index registry persistence ────────────────────────────────────────────

func (e *StorageEngine) loadIndexes() error {
	raw, err := os.ReadFile(e.indexPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read indexes meta %s: %w", e.indexPath, ErrIO)
	}
	for _, line := range strings.Split(string(raw), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 6 {
			return fmt.Errorf("indexes meta %s: bad line %q: %w", e.indexPath, line, ErrInvariant)
		}
		root, perr := strconv.ParseUint(fields[5], 10, 32)
		if perr != nil {
			return fmt.Errorf("indexes meta %s: bad root %q: %w", e.indexPath, fields[5], ErrInvariant)
		}
		info := &IndexInfo{
			Name:    fields[0],
			Table:   fields[1],
			Column:  fields[2],
			Unique:  fields[3] == "1",
			KeyKind: fields[4],
			Root:    PageID(root),
		}
		key := strings.ToLower(info.Name)
		switch info.KeyKind {
		case KeyKindInt64:
			tree := NewBPlusTree[int64](e.disk, e.buffer, Int64Key{}, e.tracer)
			tree.Open(info.Root)
			e.intTrees[key] = tree
		case KeyKindString32:
			tree := NewBPlusTree[String32](e.disk, e.buffer, String32Key{}, e.tracer)
			tree.Open(info.Root)
			e.strTrees[key] = tree
		default:
			return fmt.Errorf("indexes meta %s: unknown key kind %q: %w", e.indexPath, info.KeyKind, ErrInvariant)
		}
		e.indexes[key] = info
	}
	return nil
}

func (e *StorageEngine) saveIndexes() error {
	infos := e.ListIndexes()
	var b strings.Builder
	for _, info := range infos {
		uniq := "0"
		if info.Unique {
			uniq = "1"
		}
		fmt.Fprintf(&b, "%s %s %s %s %s %d\n",
			info.Name, info.Table, info.Column, uniq, info.KeyKind, info.Root)
	}
	if err := os.WriteFile(e.indexPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write indexes meta %s: %w", e.indexPath, ErrIO)
	}
	return nil
}
