package storage

import (
	"encoding/binary"
	"sort"
)

// ───────────────────────────────────────────────────────────────────────────
// Slotted page view
// ───────────────────────────────────────────────────────────────────────────
//
// A slotted page lays out variable-length records like this:
//
//   [0:2]   free_off   (uint16 LE) — first byte of the unused mid-region
//   [2:4]   slot_count (uint16 LE) — slots ever created, tombstones included
//   [4..]   record data, growing forward
//   ...     free space ...
//   [end]   slot directory, growing backward from the page end; slot i is
//           the (i+1)-th 4-byte entry counted from the end
//
// A slot is { off int16 LE, len uint16 LE }; off == -1 marks a tombstone.
// Free space = PageSize - slot_count*slotSize - free_off.
//
// The view is a typed accessor over the raw page bytes; the same bytes
// hold B+Tree nodes under a different view, so nothing here is shared
// with the node layout.

const (
	slottedHeaderSize = 4 // free_off + slot_count
	slotSize          = 4 // off + len

	slotTombstone = int16(-1)
)

type slottedPage struct {
	data *[PageSize]byte
}

// slotted wraps a pinned page in the slotted-record view.
func slotted(p *Page) slottedPage { return slottedPage{data: &p.Data} }

func (sp slottedPage) freeOff() uint16 {
	return binary.LittleEndian.Uint16(sp.data[0:2])
}

func (sp slottedPage) setFreeOff(off uint16) {
	binary.LittleEndian.PutUint16(sp.data[0:2], off)
}

func (sp slottedPage) slotCount() uint16 {
	return binary.LittleEndian.Uint16(sp.data[2:4])
}

func (sp slottedPage) setSlotCount(n uint16) {
	binary.LittleEndian.PutUint16(sp.data[2:4], n)
}

// slotPos returns the byte offset of slot i's directory entry.
func slotPos(i uint16) int { return PageSize - int(i+1)*slotSize }

func (sp slottedPage) slot(i uint16) (off int16, length uint16) {
	pos := slotPos(i)
	off = int16(binary.LittleEndian.Uint16(sp.data[pos : pos+2]))
	length = binary.LittleEndian.Uint16(sp.data[pos+2 : pos+4])
	return off, length
}

func (sp slottedPage) setSlot(i uint16, off int16, length uint16) {
	pos := slotPos(i)
	binary.LittleEndian.PutUint16(sp.data[pos:pos+2], uint16(off))
	binary.LittleEndian.PutUint16(sp.data[pos+2:pos+4], length)
}

func (sp slottedPage) isTombstone(i uint16) bool {
	off, length := sp.slot(i)
	return off < 0 || length == 0
}

// freeSpace is the contiguous room between the data region and the slot
// directory.
func (sp slottedPage) freeSpace() int {
	return PageSize - int(sp.slotCount())*slotSize - int(sp.freeOff())
}

func (sp slottedPage) headerValid() bool {
	freeOff := int(sp.freeOff())
	slotBytes := int(sp.slotCount()) * slotSize
	if freeOff < slottedHeaderSize || freeOff > PageSize {
		return false
	}
	if slotBytes > PageSize || freeOff+slotBytes > PageSize {
		return false
	}
	return true
}

// ensureInitialized lazily initializes a fresh (all-zero) page header.
// A zero page reads as free_off == 0, which is invalid, so first touch
// rewrites it to the empty-page header before any slot is appended.
func (sp slottedPage) ensureInitialized() {
	if !sp.headerValid() {
		sp.setFreeOff(slottedHeaderSize)
		sp.setSlotCount(0)
	}
}

// compact packs live records immediately after the header, ascending by
// their current offset. Slot indices never change; only off fields move.
func (sp slottedPage) compact() {
	type liveSlot struct {
		idx    uint16
		off    int16
		length uint16
	}
	count := sp.slotCount()
	live := make([]liveSlot, 0, count)
	for i := uint16(0); i < count; i++ {
		off, length := sp.slot(i)
		if off >= 0 && length > 0 {
			live = append(live, liveSlot{idx: i, off: off, length: length})
		}
	}
	sort.Slice(live, func(a, b int) bool { return live[a].off < live[b].off })

	off := uint16(slottedHeaderSize)
	for _, s := range live {
		if uint16(s.off) != off {
			copy(sp.data[off:off+s.length], sp.data[s.off:int(s.off)+int(s.length)])
			sp.setSlot(s.idx, int16(off), s.length)
		}
		off += s.length
	}
	sp.setFreeOff(off)
}
