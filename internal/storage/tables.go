package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ───────────────────────────────────────────────────────────────────────────
// Table catalog
// ───────────────────────────────────────────────────────────────────────────
//
// The TableManager is the single source of truth for which pages belong
// to a table; scans iterate the page list in insertion order. Persistent
// text format (table names carry no whitespace):
//
//   line 1: next_table_id
//   then:   table_id table_name page_id1 page_id2 ...
//
// Lookups normalize names to lower case; the stored form keeps the case
// the caller used.

// TablesFileName is the table-catalog sidecar under the base directory.
const TablesFileName = "tables.meta"

// TableManager maps table names and ids to their ordered page lists.
type TableManager struct {
	path string

	nextTableID int32
	idToName    map[int32]string
	nameToID    map[string]int32 // keyed by lower-cased name
	tablePages  map[int32][]PageID
}

// NewTableManager opens (or creates) the table catalog under baseDir.
func NewTableManager(baseDir string) (*TableManager, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir %s: %w", baseDir, ErrIO)
	}
	tm := &TableManager{path: filepath.Join(baseDir, TablesFileName)}
	if _, err := os.Stat(tm.path); os.IsNotExist(err) {
		if err := tm.save(); err != nil {
			return nil, err
		}
	}
	if err := tm.load(); err != nil {
		return nil, err
	}
	return tm, nil
}

func (tm *TableManager) load() error {
	raw, err := os.ReadFile(tm.path)
	if err != nil {
		return fmt.Errorf("read tables meta %s: %w", tm.path, ErrIO)
	}
	tm.idToName = make(map[int32]string)
	tm.nameToID = make(map[string]int32)
	tm.tablePages = make(map[int32][]PageID)

	lines := strings.Split(string(raw), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return fmt.Errorf("tables meta %s: missing next_table_id: %w", tm.path, ErrInvariant)
	}
	next, err := strconv.ParseInt(strings.TrimSpace(lines[0]), 10, 32)
	if err != nil {
		return fmt.Errorf("tables meta %s: bad next_table_id %q: %w", tm.path, lines[0], ErrInvariant)
	}
	tm.nextTableID = int32(next)

	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		tid64, err := strconv.ParseInt(fields[0], 10, 32)
		if err != nil {
			return fmt.Errorf("tables meta %s: bad table id %q: %w", tm.path, fields[0], ErrInvariant)
		}
		tid := int32(tid64)
		name := fields[1]
		pages := make([]PageID, 0, len(fields)-2)
		for _, tok := range fields[2:] {
			pid, err := strconv.ParseUint(tok, 10, 32)
			if err != nil {
				return fmt.Errorf("tables meta %s: bad page id %q: %w", tm.path, tok, ErrInvariant)
			}
			pages = append(pages, PageID(pid))
		}
		tm.idToName[tid] = name
		tm.nameToID[strings.ToLower(name)] = tid
		tm.tablePages[tid] = pages
	}
	return nil
}

// save rewrites the catalog file in full, tables ordered by id so the
// output is stable across runs.
func (tm *TableManager) save() error {
	ids := make([]int32, 0, len(tm.idToName))
	for tid := range tm.idToName {
		ids = append(ids, tid)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	var b strings.Builder
	b.WriteString(strconv.FormatInt(int64(tm.nextTableID), 10))
	b.WriteByte('\n')
	for _, tid := range ids {
		b.WriteString(strconv.FormatInt(int64(tid), 10))
		b.WriteByte(' ')
		b.WriteString(tm.idToName[tid])
		for _, pid := range tm.tablePages[tid] {
			b.WriteByte(' ')
			b.WriteString(strconv.FormatUint(uint64(pid), 10))
		}
		b.WriteByte('\n')
	}
	if err := os.WriteFile(tm.path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write tables meta %s: %w", tm.path, ErrIO)
	}
	return nil
}

// CreateTable registers a new table with an empty page list and returns
// its id. Names are unique case-insensitively.
func (tm *TableManager) CreateTable(name string) (int32, error) {
	if name == "" || strings.ContainsAny(name, " \t\r\n") {
		return -1, fmt.Errorf("bad table name %q: %w", name, ErrInvalidArgument)
	}
	if _, exists := tm.nameToID[strings.ToLower(name)]; exists {
		return -1, fmt.Errorf("table %q exists: %w", name, ErrInvalidArgument)
	}
	tid := tm.nextTableID
	tm.nextTableID++
	tm.idToName[tid] = name
	tm.nameToID[strings.ToLower(name)] = tid
	tm.tablePages[tid] = []PageID{}
	if err := tm.save(); err != nil {
		return -1, err
	}
	return tid, nil
}

// DropTableByID removes the table and hands every page it owned back to
// the disk manager's free list. Reports whether the table existed.
func (tm *TableManager) DropTableByID(tid int32, disk *DiskManager) (bool, error) {
	name, ok := tm.idToName[tid]
	if !ok {
		return false, nil
	}
	for _, pid := range tm.tablePages[tid] {
		if err := disk.FreePage(pid); err != nil {
			return false, err
		}
	}
	delete(tm.idToName, tid)
	delete(tm.nameToID, strings.ToLower(name))
	delete(tm.tablePages, tid)
	if err := tm.save(); err != nil {
		return false, err
	}
	return true, nil
}

// DropTableByName is DropTableByID after a case-insensitive lookup.
func (tm *TableManager) DropTableByName(name string, disk *DiskManager) (bool, error) {
	tid, ok := tm.nameToID[strings.ToLower(name)]
	if !ok {
		return false, nil
	}
	return tm.DropTableByID(tid, disk)
}

// GetTableID resolves a name to its id, -1 when absent.
func (tm *TableManager) GetTableID(name string) int32 {
	tid, ok := tm.nameToID[strings.ToLower(name)]
	if !ok {
		return -1
	}
	return tid
}

// GetTableName resolves an id to its stored name, "" when absent.
func (tm *TableManager) GetTableName(tid int32) string {
	return tm.idToName[tid]
}

// AllocateTablePage allocates a fresh page from the disk manager and
// appends it to the table's page list.
func (tm *TableManager) AllocateTablePage(tid int32, disk *DiskManager) (PageID, error) {
	if _, ok := tm.idToName[tid]; !ok {
		return 0, fmt.Errorf("allocate page for unknown table %d: %w", tid, ErrInvalidArgument)
	}
	pid, err := disk.AllocatePage()
	if err != nil {
		return 0, err
	}
	tm.tablePages[tid] = append(tm.tablePages[tid], pid)
	if err := tm.save(); err != nil {
		return 0, err
	}
	return pid, nil
}

// GetTablePages returns the table's pages in allocation order (the scan
// order). The slice is owned by the manager; callers must not mutate it.
func (tm *TableManager) GetTablePages(tid int32) []PageID {
	return tm.tablePages[tid]
}
