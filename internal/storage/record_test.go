package storage

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestTable builds a full stack (mem disk, pool, catalog, records)
// with one registered table and returns its id.
func newTestTable(t *testing.T, capacity int) (*RecordManager, *TableManager, int32) {
	t.Helper()
	dir := t.TempDir()
	d, err := NewDiskManager(dir)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	bm, err := NewBufferManager(d, capacity, LRU, nil)
	require.NoError(t, err)
	tm, err := NewTableManager(dir)
	require.NoError(t, err)
	tid, err := tm.CreateTable("t")
	require.NoError(t, err)
	return NewRecordManager(d, bm, tm), tm, tid
}

func TestRecordManager_InsertReadRoundTrip(t *testing.T) {
	rm, _, tid := newTestTable(t, 8)

	rid, err := rm.Insert(tid, []byte("alpha"))
	require.NoError(t, err)
	require.Equal(t, uint16(0), rid.SlotID)

	got, ok, err := rm.Read(rid)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("alpha"), got)
}

func TestRecordManager_RejectsOversizedRecord(t *testing.T) {
	rm, _, tid := newTestTable(t, 8)
	_, err := rm.Insert(tid, make([]byte, MaxRecordSize+1))
	require.ErrorIs(t, err, ErrInvalidArgument)

	// The largest permissible record fits in a fresh page.
	rid, err := rm.Insert(tid, make([]byte, MaxRecordSize))
	require.NoError(t, err)
	got, ok, err := rm.Read(rid)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, MaxRecordSize)
}

func TestRecordManager_InsertSpillsToNewPage(t *testing.T) {
	rm, tm, tid := newTestTable(t, 8)

	big := make([]byte, 1500)
	var rids []RID
	for i := 0; i < 4; i++ {
		rid, err := rm.Insert(tid, big)
		require.NoError(t, err)
		rids = append(rids, rid)
	}
	// Two 1500-byte records per 4 KiB page.
	require.Len(t, tm.GetTablePages(tid), 2)
	require.Equal(t, rids[0].PageID, rids[1].PageID)
	require.NotEqual(t, rids[1].PageID, rids[2].PageID)
	// A small record still lands in the first page with room.
	rid, err := rm.Insert(tid, []byte("tiny"))
	require.NoError(t, err)
	require.Equal(t, rids[0].PageID, rid.PageID)
}

func TestRecordManager_UpdateInPlaceKeepsRID(t *testing.T) {
	rm, _, tid := newTestTable(t, 8)

	rid, err := rm.Insert(tid, []byte("abcdef"))
	require.NoError(t, err)

	// Shrink.
	ok, err := rm.Update(rid, []byte("xyz"))
	require.NoError(t, err)
	require.True(t, ok)
	got, found, err := rm.Read(rid)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("xyz"), got)

	// Grow. The shrink left free_off past the record's end, so this goes
	// through compact + move to the page tail.
	ok, err = rm.Update(rid, []byte("0123456789"))
	require.NoError(t, err)
	require.True(t, ok)
	got, found, err = rm.Read(rid)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("0123456789"), got)
}

func TestRecordManager_UpdateGrowAfterCompaction(t *testing.T) {
	rm, _, tid := newTestTable(t, 8)

	first, err := rm.Insert(tid, []byte("first-record"))
	require.NoError(t, err)
	blocker, err := rm.Insert(tid, []byte("blocker"))
	require.NoError(t, err)

	// first is not at the tail, so growing it forces compact + move.
	grown := bytes.Repeat([]byte("G"), 64)
	ok, err := rm.Update(first, grown)
	require.NoError(t, err)
	require.True(t, ok)

	got, found, err := rm.Read(first)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, grown, got)

	// The bystander survived the compaction with its RID intact.
	got, found, err = rm.Read(blocker)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("blocker"), got)
}

func TestRecordManager_UpdateTooBigReportsMiss(t *testing.T) {
	rm, _, tid := newTestTable(t, 8)

	rid, err := rm.Insert(tid, []byte("small"))
	require.NoError(t, err)
	filler, err := rm.Insert(tid, make([]byte, 3900))
	require.NoError(t, err)

	ok, err := rm.Update(rid, make([]byte, 1000))
	require.NoError(t, err)
	require.False(t, ok, "update that cannot fit must report false")

	// Both records still read back.
	got, found, err := rm.Read(rid)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("small"), got)
	_, found, err = rm.Read(filler)
	require.NoError(t, err)
	require.True(t, found)
}

func TestRecordManager_EraseTombstones(t *testing.T) {
	rm, _, tid := newTestTable(t, 8)

	r1, err := rm.Insert(tid, []byte("one"))
	require.NoError(t, err)
	r2, err := rm.Insert(tid, []byte("two"))
	require.NoError(t, err)

	ok, err := rm.Erase(r1)
	require.NoError(t, err)
	require.True(t, ok)

	// Tombstones stay dead for reads, updates and repeated erases.
	_, found, err := rm.Read(r1)
	require.NoError(t, err)
	require.False(t, found)
	ok, err = rm.Update(r1, []byte("zzz"))
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = rm.Erase(r1)
	require.NoError(t, err)
	require.False(t, ok)

	// The slot index is never reassigned: a new insert gets a new slot.
	r3, err := rm.Insert(tid, []byte("three"))
	require.NoError(t, err)
	require.NotEqual(t, r1.SlotID, r3.SlotID)
	require.Equal(t, uint16(2), r3.SlotID)

	got, found, err := rm.Read(r2)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("two"), got)
}

func TestRecordManager_ReadUnknownSlot(t *testing.T) {
	rm, _, tid := newTestTable(t, 8)
	rid, err := rm.Insert(tid, []byte("x"))
	require.NoError(t, err)

	_, found, err := rm.Read(RID{PageID: rid.PageID, SlotID: 99})
	require.NoError(t, err)
	require.False(t, found)
}

func TestRecordManager_ScanOrderAndCompleteness(t *testing.T) {
	rm, tm, tid := newTestTable(t, 8)

	want := make(map[RID][]byte)
	for i := 0; i < 40; i++ {
		data := bytes.Repeat([]byte{byte('a' + i%26)}, 200)
		rid, err := rm.Insert(tid, data)
		require.NoError(t, err)
		want[rid] = data
	}
	// Kill every third record.
	n := 0
	for rid := range want {
		if n%3 == 0 {
			ok, err := rm.Erase(rid)
			require.NoError(t, err)
			require.True(t, ok)
			delete(want, rid)
		}
		n++
	}

	recs, err := rm.Scan(tid)
	require.NoError(t, err)
	require.Len(t, recs, len(want))

	// Pages appear in catalog order, slots ascending within a page.
	pages := tm.GetTablePages(tid)
	pageRank := make(map[PageID]int, len(pages))
	for i, pid := range pages {
		pageRank[pid] = i
	}
	for i := 1; i < len(recs); i++ {
		prev, cur := recs[i-1].RID, recs[i].RID
		if prev.PageID == cur.PageID {
			require.Less(t, prev.SlotID, cur.SlotID)
		} else {
			require.Less(t, pageRank[prev.PageID], pageRank[cur.PageID])
		}
	}
	for _, rec := range recs {
		require.Equal(t, want[rec.RID], rec.Bytes)
	}
}

func TestRecordManager_SlottedHeaderInvariants(t *testing.T) {
	rm, tm, tid := newTestTable(t, 8)

	for i := 0; i < 30; i++ {
		_, err := rm.Insert(tid, bytes.Repeat([]byte{byte(i)}, 100+i*7))
		require.NoError(t, err)
	}
	for _, pid := range tm.GetTablePages(tid) {
		p, err := rm.buffer.GetPage(pid)
		require.NoError(t, err)
		sp := slotted(p)
		require.True(t, sp.headerValid())
		count := sp.slotCount()
		freeOff := int(sp.freeOff())
		require.LessOrEqual(t, slottedHeaderSize, freeOff)
		require.LessOrEqual(t, freeOff+int(count)*slotSize, PageSize)
		for i := uint16(0); i < count; i++ {
			off, length := sp.slot(i)
			if off < 0 {
				continue
			}
			require.LessOrEqual(t, int(off)+int(length), freeOff)
		}
		require.NoError(t, rm.buffer.UnpinPage(pid, false))
	}
}

// TestRecordManager_RandomizedCRUD drives the manager with a seeded
// operation mix and compares the final scan against a shadow map.
func TestRecordManager_RandomizedCRUD(t *testing.T) {
	rm, _, tid := newTestTable(t, 16)
	rng := rand.New(rand.NewSource(0x5EED))

	shadow := make(map[RID][]byte)
	var live []RID

	pickLive := func() (RID, bool) {
		if len(live) == 0 {
			return RID{}, false
		}
		return live[rng.Intn(len(live))], true
	}
	removeLive := func(rid RID) {
		for i, r := range live {
			if r == rid {
				live[i] = live[len(live)-1]
				live = live[:len(live)-1]
				return
			}
		}
	}

	for op := 0; op < 3000; op++ {
		switch roll := rng.Intn(100); {
		case roll < 50: // insert
			data := make([]byte, 1+rng.Intn(64))
			for i := range data {
				data[i] = byte('a' + rng.Intn(26))
			}
			rid, err := rm.Insert(tid, data)
			require.NoError(t, err)
			shadow[rid] = data
			live = append(live, rid)
		case roll < 70: // same-size update
			rid, ok := pickLive()
			if !ok {
				continue
			}
			data := make([]byte, len(shadow[rid]))
			for i := range data {
				data[i] = byte('A' + rng.Intn(26))
			}
			done, err := rm.Update(rid, data)
			require.NoError(t, err)
			require.True(t, done, "same-size update must succeed")
			shadow[rid] = data
		case roll < 90: // read
			rid, ok := pickLive()
			if !ok {
				continue
			}
			got, found, err := rm.Read(rid)
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, shadow[rid], got)
		default: // delete
			rid, ok := pickLive()
			if !ok {
				continue
			}
			done, err := rm.Erase(rid)
			require.NoError(t, err)
			require.True(t, done)
			delete(shadow, rid)
			removeLive(rid)
		}
	}

	recs, err := rm.Scan(tid)
	require.NoError(t, err)
	require.Len(t, recs, len(shadow))
	for _, rec := range recs {
		want, ok := shadow[rec.RID]
		require.Truef(t, ok, "scan produced unexpected rid %v", rec.RID)
		require.Equal(t, want, rec.Bytes)
	}
	require.NoError(t, rm.buffer.FlushAll())
}
