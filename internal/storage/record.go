package storage

import (
	"fmt"
	"math"
)

// ───────────────────────────────────────────────────────────────────────────
// Record Manager
// ───────────────────────────────────────────────────────────────────────────
//
// Variable-length byte records over slotted pages. RIDs are stable for a
// record's lifetime: in-place growth and compaction move bytes within the
// page but never renumber slots, and deleted slots stay tombstoned
// forever. The record manager treats record contents as opaque.

// MaxRecordSize is the largest record an empty page can hold: one slot
// plus the payload must fit between the header and the slot directory.
const MaxRecordSize = PageSize - slottedHeaderSize - slotSize

// Record is one live record produced by a table scan.
type Record struct {
	RID   RID
	Bytes []byte
}

// RecordManager stores records in table pages via the buffer manager.
type RecordManager struct {
	disk   *DiskManager
	buffer *BufferManager
	tables *TableManager
}

// NewRecordManager wires a RecordManager over its collaborators.
func NewRecordManager(disk *DiskManager, buffer *BufferManager, tables *TableManager) *RecordManager {
	return &RecordManager{disk: disk, buffer: buffer, tables: tables}
}

// place writes data into sp at free_off and appends a fresh slot.
// The caller has verified the space.
func place(sp slottedPage, data []byte) uint16 {
	recOff := sp.freeOff()
	copy(sp.data[recOff:int(recOff)+len(data)], data)
	slot := sp.slotCount()
	sp.setSlot(slot, int16(recOff), uint16(len(data)))
	sp.setSlotCount(slot + 1)
	sp.setFreeOff(recOff + uint16(len(data)))
	return slot
}

// Insert places data in the first table page with room, allocating a new
// page when none qualifies, and returns the record's RID.
func (rm *RecordManager) Insert(tid int32, data []byte) (RID, error) {
	if len(data) > math.MaxUint16 || len(data) > MaxRecordSize {
		return RID{}, fmt.Errorf("record of %d bytes too large: %w", len(data), ErrInvalidArgument)
	}
	need := slotSize + len(data)
	for _, pid := range rm.tables.GetTablePages(tid) {
		p, err := rm.buffer.GetPage(pid)
		if err != nil {
			return RID{}, err
		}
		sp := slotted(p)
		sp.ensureInitialized()
		if sp.freeSpace() >= need {
			slot := place(sp, data)
			if err := rm.buffer.UnpinPage(pid, true); err != nil {
				return RID{}, err
			}
			return RID{PageID: pid, SlotID: slot}, nil
		}
		if err := rm.buffer.UnpinPage(pid, false); err != nil {
			return RID{}, err
		}
	}

	pid, err := rm.tables.AllocateTablePage(tid, rm.disk)
	if err != nil {
		return RID{}, err
	}
	p, err := rm.buffer.GetPage(pid)
	if err != nil {
		return RID{}, err
	}
	sp := slotted(p)
	sp.ensureInitialized()
	slot := place(sp, data)
	if err := rm.buffer.UnpinPage(pid, true); err != nil {
		return RID{}, err
	}
	return RID{PageID: pid, SlotID: slot}, nil
}

// Read copies the record's bytes out. The boolean is false for an
// out-of-range slot or a tombstone.
func (rm *RecordManager) Read(rid RID) ([]byte, bool, error) {
	p, err := rm.buffer.GetPage(rid.PageID)
	if err != nil {
		return nil, false, err
	}
	sp := slotted(p)
	sp.ensureInitialized()
	if rid.SlotID >= sp.slotCount() || sp.isTombstone(rid.SlotID) {
		return nil, false, rm.buffer.UnpinPage(rid.PageID, false)
	}
	off, length := sp.slot(rid.SlotID)
	out := make([]byte, length)
	copy(out, sp.data[off:int(off)+int(length)])
	if err := rm.buffer.UnpinPage(rid.PageID, false); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// Update rewrites the record under the same RID. Same-size and shrinking
// updates happen in place; a record at the data-region tail may grow in
// place; otherwise the page is compacted and the record moved to the
// tail. Returns false when the page cannot hold the new size (callers
// may fall back to delete+insert).
func (rm *RecordManager) Update(rid RID, data []byte) (bool, error) {
	if len(data) > math.MaxUint16 {
		return false, nil
	}
	p, err := rm.buffer.GetPage(rid.PageID)
	if err != nil {
		return false, err
	}
	sp := slotted(p)
	sp.ensureInitialized()
	if rid.SlotID >= sp.slotCount() || sp.isTombstone(rid.SlotID) {
		return false, rm.buffer.UnpinPage(rid.PageID, false)
	}
	off, length := sp.slot(rid.SlotID)

	// Same size or shrink: overwrite in place.
	if len(data) <= int(length) {
		copy(sp.data[off:int(off)+len(data)], data)
		sp.setSlot(rid.SlotID, off, uint16(len(data)))
		return true, rm.buffer.UnpinPage(rid.PageID, true)
	}

	// Grow at the data-region tail if contiguous free space allows.
	if uint16(off)+length == sp.freeOff() {
		extra := len(data) - int(length)
		if sp.freeSpace() >= extra {
			copy(sp.data[off:int(off)+len(data)], data)
			sp.setSlot(rid.SlotID, off, uint16(len(data)))
			sp.setFreeOff(uint16(off) + uint16(len(data)))
			return true, rm.buffer.UnpinPage(rid.PageID, true)
		}
	}

	// Compact, then retry as a move to the page tail.
	sp.compact()
	if sp.freeSpace() >= len(data) {
		newOff := sp.freeOff()
		copy(sp.data[newOff:int(newOff)+len(data)], data)
		sp.setSlot(rid.SlotID, int16(newOff), uint16(len(data)))
		sp.setFreeOff(newOff + uint16(len(data)))
		return true, rm.buffer.UnpinPage(rid.PageID, true)
	}

	// Still no room. The compaction above already moved bytes, so the
	// page stays dirty even though the update failed.
	return false, rm.buffer.UnpinPage(rid.PageID, true)
}

// Erase tombstones the record's slot. The slot index is permanently
// retired. A page left with little free room is compacted eagerly.
func (rm *RecordManager) Erase(rid RID) (bool, error) {
	p, err := rm.buffer.GetPage(rid.PageID)
	if err != nil {
		return false, err
	}
	sp := slotted(p)
	sp.ensureInitialized()
	if rid.SlotID >= sp.slotCount() || sp.isTombstone(rid.SlotID) {
		return false, rm.buffer.UnpinPage(rid.PageID, false)
	}
	sp.setSlot(rid.SlotID, slotTombstone, 0)
	if sp.freeSpace() < PageSize/4 {
		sp.compact()
	}
	return true, rm.buffer.UnpinPage(rid.PageID, true)
}

// Scan walks the table's pages in catalog order and emits every live
// record, slots ascending within a page.
func (rm *RecordManager) Scan(tid int32) ([]Record, error) {
	var out []Record
	for _, pid := range rm.tables.GetTablePages(tid) {
		p, err := rm.buffer.GetPage(pid)
		if err != nil {
			return nil, err
		}
		sp := slotted(p)
		sp.ensureInitialized()
		count := sp.slotCount()
		for i := uint16(0); i < count; i++ {
			off, length := sp.slot(i)
			if off < 0 || length == 0 {
				continue
			}
			rec := make([]byte, length)
			copy(rec, sp.data[off:int(off)+int(length)])
			out = append(out, Record{RID: RID{PageID: pid, SlotID: i}, Bytes: rec})
		}
		if err := rm.buffer.UnpinPage(pid, false); err != nil {
			return nil, err
		}
	}
	return out, nil
}
