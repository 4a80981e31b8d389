package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ───────────────────────────────────────────────────────────────────────────
// Disk Manager
// ───────────────────────────────────────────────────────────────────────────
//
// The DiskManager owns the heap file (data.db) and its meta sidecar
// (meta.json — text despite the name). It translates page ids to byte
// offsets, allocates and frees page ids, and guarantees that every page
// ever returned by AllocatePage is addressable and zeroed.
//
// Meta format, two lines:
//   line 1: next_page_id
//   line 2: space-separated free list (may be empty)

// DataFileName is the heap file under the base directory.
const DataFileName = "data.db"

// MetaFileName is the disk-manager sidecar under the base directory.
const MetaFileName = "meta.json"

// heapFile is the subset of *os.File the DiskManager needs. Tests swap in
// an in-memory implementation (dsnet/golib/memfile).
type heapFile interface {
	io.ReaderAt
	io.WriterAt
	io.Seeker
	Truncate(size int64) error
}

// DiskManager allocates, frees, reads and writes fixed-size pages.
type DiskManager struct {
	dbPath   string
	metaPath string
	file     heapFile

	nextPageID PageID
	freeList   []PageID
}

// NewDiskManager opens (or creates) the heap and meta files under baseDir.
func NewDiskManager(baseDir string) (*DiskManager, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir %s: %w", baseDir, ErrIO)
	}
	dbPath := filepath.Join(baseDir, DataFileName)
	f, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, ErrIO)
	}
	d, err := openDiskManager(f, filepath.Join(baseDir, MetaFileName))
	if err != nil {
		f.Close()
		return nil, err
	}
	d.dbPath = dbPath
	return d, nil
}

// openDiskManager wires a DiskManager over an already-open heap file.
// The meta sidecar is created with default contents when absent.
func openDiskManager(f heapFile, metaPath string) (*DiskManager, error) {
	d := &DiskManager{file: f, metaPath: metaPath}
	if _, err := os.Stat(metaPath); os.IsNotExist(err) {
		if err := d.saveMeta(); err != nil {
			return nil, err
		}
	}
	if err := d.loadMeta(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DiskManager) loadMeta() error {
	raw, err := os.ReadFile(d.metaPath)
	if err != nil {
		return fmt.Errorf("read meta %s: %w", d.metaPath, ErrIO)
	}
	lines := strings.Split(string(raw), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return fmt.Errorf("meta %s: missing next_page_id: %w", d.metaPath, ErrInvariant)
	}
	next, err := strconv.ParseUint(strings.TrimSpace(lines[0]), 10, 32)
	if err != nil {
		return fmt.Errorf("meta %s: bad next_page_id %q: %w", d.metaPath, lines[0], ErrInvariant)
	}
	d.nextPageID = PageID(next)
	d.freeList = d.freeList[:0]
	if len(lines) > 1 {
		for _, tok := range strings.Fields(lines[1]) {
			pid, err := strconv.ParseUint(tok, 10, 32)
			if err != nil {
				return fmt.Errorf("meta %s: bad free-list entry %q: %w", d.metaPath, tok, ErrInvariant)
			}
			d.freeList = append(d.freeList, PageID(pid))
		}
	}
	return nil
}

// saveMeta rewrites the sidecar in full. Last writer wins; no atomicity
// is promised at this layer.
func (d *DiskManager) saveMeta() error {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(uint64(d.nextPageID), 10))
	b.WriteByte('\n')
	for i, pid := range d.freeList {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.FormatUint(uint64(pid), 10))
	}
	b.WriteByte('\n')
	if err := os.WriteFile(d.metaPath, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write meta %s: %w", d.metaPath, ErrIO)
	}
	return nil
}

func (d *DiskManager) fileSize() (int64, error) {
	size, err := d.file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("stat heap file: %w", ErrIO)
	}
	return size, nil
}

// ensureSizeFor grows the heap file so that page pid is addressable.
// Newly added bytes are zero (Truncate zero-fills on extension).
func (d *DiskManager) ensureSizeFor(pid PageID) error {
	size, err := d.fileSize()
	if err != nil {
		return err
	}
	required := (int64(pid) + 1) * PageSize
	if size < required {
		if err := d.file.Truncate(required); err != nil {
			return fmt.Errorf("extend heap file to %d: %w", required, ErrIO)
		}
	}
	return nil
}

// AllocatePage returns a usable page id: the most recently freed one if
// the free list is non-empty, otherwise a fresh id. The page is zeroed
// before it is handed out, so reuse never leaks stale content.
func (d *DiskManager) AllocatePage() (PageID, error) {
	var pid PageID
	if n := len(d.freeList); n > 0 {
		pid = d.freeList[n-1]
		d.freeList = d.freeList[:n-1]
	} else {
		pid = d.nextPageID
		d.nextPageID++
	}
	var zeros [PageSize]byte
	if err := d.WritePage(pid, zeros[:]); err != nil {
		return 0, err
	}
	if err := d.saveMeta(); err != nil {
		return 0, err
	}
	return pid, nil
}

// FreePage appends pid to the free list. The file is never truncated.
func (d *DiskManager) FreePage(pid PageID) error {
	d.freeList = append(d.freeList, pid)
	return d.saveMeta()
}

// ReadPage copies page pid into buf, which must be exactly PageSize bytes.
// Reading past the end of the heap file is an error.
func (d *DiskManager) ReadPage(pid PageID, buf []byte) error {
	if len(buf) != PageSize {
		return fmt.Errorf("read buffer must be %d bytes, got %d: %w", PageSize, len(buf), ErrInvalidArgument)
	}
	size, err := d.fileSize()
	if err != nil {
		return err
	}
	off := int64(pid) * PageSize
	if off+PageSize > size {
		return fmt.Errorf("page %d beyond file size %d: %w", pid, size, ErrNotFound)
	}
	n, err := d.file.ReadAt(buf, off)
	if err != nil {
		return fmt.Errorf("read page %d: %w", pid, ErrIO)
	}
	if n != PageSize {
		return fmt.Errorf("short read on page %d (%d bytes): %w", pid, n, ErrIO)
	}
	return nil
}

// WritePage writes buf (exactly PageSize bytes) at pid's offset, extending
// the file first when needed, and flushes the stream to the OS.
func (d *DiskManager) WritePage(pid PageID, buf []byte) error {
	if len(buf) != PageSize {
		return fmt.Errorf("write buffer must be %d bytes, got %d: %w", PageSize, len(buf), ErrInvalidArgument)
	}
	if err := d.ensureSizeFor(pid); err != nil {
		return err
	}
	if _, err := d.file.WriteAt(buf, int64(pid)*PageSize); err != nil {
		return fmt.Errorf("write page %d: %w", pid, ErrIO)
	}
	if s, ok := d.file.(interface{ Sync() error }); ok {
		if err := s.Sync(); err != nil {
			return fmt.Errorf("sync heap file: %w", ErrIO)
		}
	}
	return nil
}

// NextPageID reports the id the next fresh allocation would use.
func (d *DiskManager) NextPageID() PageID { return d.nextPageID }

// FreeListLen reports the number of reclaimed page ids awaiting reuse.
func (d *DiskManager) FreeListLen() int { return len(d.freeList) }

// Path returns the heap file path ("" for an in-memory heap).
func (d *DiskManager) Path() string { return d.dbPath }

// Close releases the underlying file handle.
func (d *DiskManager) Close() error {
	if c, ok := d.file.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
