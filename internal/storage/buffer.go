package storage

import (
	"container/list"
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// Buffer Manager
// ───────────────────────────────────────────────────────────────────────────
//
// A fixed pool of frames caches pinned page images. A bound frame with
// pin_count == 0 appears exactly once in the replacement queue. Under LRU
// a pinned frame never does: a hit removes it and the final unpin
// requeues it at the tail. Under FIFO a re-pinned frame keeps its queue
// position, the unpin of an already-queued frame leaves it where it is,
// and victim selection skips queued frames that are pinned. The queue is
// a doubly-linked list plus a frame-index → element map for O(1) removal.

type frame struct {
	page     Page
	dirty    bool
	pinCount int
}

// BufferManager caches pages in capacity frames over a DiskManager.
type BufferManager struct {
	disk     *DiskManager
	capacity int
	policy   Policy
	tracer   Tracer

	frames     []frame
	used       []bool
	freeFrames []int
	pageTable  map[PageID]int // page id -> frame index

	repl    *list.List            // frame indices; front = next victim
	replPos map[int]*list.Element // frame index -> queue node
	stats   Stats
}

// NewBufferManager builds a pool of capacity frames (capacity >= 1).
func NewBufferManager(disk *DiskManager, capacity int, policy Policy, tracer Tracer) (*BufferManager, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("buffer capacity must be >= 1, got %d: %w", capacity, ErrInvalidArgument)
	}
	if tracer == nil {
		tracer = NopTracer()
	}
	bm := &BufferManager{
		disk:      disk,
		capacity:  capacity,
		policy:    policy,
		tracer:    tracer,
		frames:    make([]frame, capacity),
		used:      make([]bool, capacity),
		pageTable: make(map[PageID]int, capacity),
		repl:      list.New(),
		replPos:   make(map[int]*list.Element, capacity),
	}
	for i := capacity - 1; i >= 0; i-- {
		bm.freeFrames = append(bm.freeFrames, i)
	}
	return bm, nil
}

// GetPage pins page pid into a frame and returns it, loading from disk on
// a miss. Every GetPage must be paired with exactly one UnpinPage.
func (bm *BufferManager) GetPage(pid PageID) (*Page, error) {
	if idx, ok := bm.pageTable[pid]; ok {
		bm.stats.Hits++
		f := &bm.frames[idx]
		f.pinCount++
		// A pinned frame is ineligible for replacement. FIFO keeps its
		// original queue position for later; LRU drops it until unpin.
		if bm.policy == LRU {
			bm.dequeue(idx)
		}
		bm.tracer.Tracef("buffer: HIT page %d -> frame %d", pid, idx)
		return &f.page, nil
	}

	bm.stats.Misses++
	var idx int
	if n := len(bm.freeFrames); n > 0 {
		idx = bm.freeFrames[n-1]
		bm.freeFrames = bm.freeFrames[:n-1]
	} else {
		v, err := bm.pickVictim()
		if err != nil {
			return nil, err
		}
		idx = v
	}

	f := &bm.frames[idx]
	if bm.used[idx] {
		if f.dirty {
			if err := bm.disk.WritePage(f.page.ID, f.page.Data[:]); err != nil {
				// The victim stays bound; put it back where it came from.
				bm.replPos[idx] = bm.repl.PushFront(idx)
				return nil, err
			}
			bm.stats.Flushes++
			bm.tracer.Tracef("buffer: FLUSH dirty page %d before eviction", f.page.ID)
		}
		bm.tracer.Tracef("buffer: EVICT page %d from frame %d", f.page.ID, idx)
		delete(bm.pageTable, f.page.ID)
		bm.stats.Evictions++
		bm.dequeue(idx)
	}

	f.page.ID = pid
	if err := bm.disk.ReadPage(pid, f.page.Data[:]); err != nil {
		bm.releaseFrame(idx)
		return nil, err
	}
	f.dirty = false
	f.pinCount = 1
	bm.used[idx] = true
	bm.pageTable[pid] = idx
	bm.tracer.Tracef("buffer: MISS load page %d into frame %d", pid, idx)
	return &f.page, nil
}

// releaseFrame returns a frame to the free list after a failed load,
// discarding whatever binding it had.
func (bm *BufferManager) releaseFrame(idx int) {
	bm.used[idx] = false
	bm.frames[idx].dirty = false
	bm.frames[idx].pinCount = 0
	bm.freeFrames = append(bm.freeFrames, idx)
}

// UnpinPage drops one pin from pid and ORs dirty into the frame. The page
// must be resident with a positive pin count.
func (bm *BufferManager) UnpinPage(pid PageID, dirty bool) error {
	idx, ok := bm.pageTable[pid]
	if !ok {
		return fmt.Errorf("unpin of page %d not in buffer: %w", pid, ErrInvariant)
	}
	f := &bm.frames[idx]
	if f.pinCount == 0 {
		return fmt.Errorf("unpin of already unpinned page %d: %w", pid, ErrInvariant)
	}
	f.pinCount--
	f.dirty = f.dirty || dirty
	if f.pinCount == 0 {
		bm.onUnpinned(idx)
	}
	return nil
}

// onUnpinned queues a frame at the replacement tail. Under LRU an
// already-queued frame is moved to the tail; under FIFO it stays put.
func (bm *BufferManager) onUnpinned(idx int) {
	if _, queued := bm.replPos[idx]; queued {
		if bm.policy != LRU {
			return
		}
		bm.dequeue(idx)
	}
	bm.replPos[idx] = bm.repl.PushBack(idx)
}

// dequeue removes a frame from the replacement queue if present.
func (bm *BufferManager) dequeue(idx int) {
	if el, ok := bm.replPos[idx]; ok {
		bm.repl.Remove(el)
		delete(bm.replPos, idx)
	}
}

// pickVictim pops the first unpinned frame from the queue front. FIFO
// keeps a re-pinned frame's queue position, so pinned entries are
// skipped rather than evicted. No candidate means every frame is
// pinned, which is a caller-side pin leak.
func (bm *BufferManager) pickVictim() (int, error) {
	for el := bm.repl.Front(); el != nil; el = el.Next() {
		idx := el.Value.(int)
		if bm.frames[idx].pinCount > 0 {
			continue
		}
		bm.repl.Remove(el)
		delete(bm.replPos, idx)
		return idx, nil
	}
	return 0, fmt.Errorf("no frame available for eviction (all pinned): %w", ErrInvariant)
}

// Discard drops a resident frame without writing it back. Called when a
// page is freed, so a later reallocation of the same id cannot hit a
// stale cached image. Absent pages are a no-op; a pinned page is a
// caller bug.
func (bm *BufferManager) Discard(pid PageID) error {
	idx, ok := bm.pageTable[pid]
	if !ok {
		return nil
	}
	if bm.frames[idx].pinCount > 0 {
		return fmt.Errorf("discard of pinned page %d: %w", pid, ErrInvariant)
	}
	delete(bm.pageTable, pid)
	bm.dequeue(idx)
	bm.releaseFrame(idx)
	return nil
}

// FlushPage writes pid back if resident and dirty; absent pages are a
// no-op.
func (bm *BufferManager) FlushPage(pid PageID) error {
	idx, ok := bm.pageTable[pid]
	if !ok {
		return nil
	}
	f := &bm.frames[idx]
	if !f.dirty {
		return nil
	}
	if err := bm.disk.WritePage(pid, f.page.Data[:]); err != nil {
		return err
	}
	f.dirty = false
	bm.stats.Flushes++
	bm.tracer.Tracef("buffer: FLUSH page %d", pid)
	return nil
}

// FlushAll writes back every dirty resident frame and clears its dirty
// bit.
func (bm *BufferManager) FlushAll() error {
	for i := range bm.frames {
		f := &bm.frames[i]
		if !bm.used[i] || !f.dirty {
			continue
		}
		if err := bm.disk.WritePage(f.page.ID, f.page.Data[:]); err != nil {
			return err
		}
		f.dirty = false
		bm.stats.Flushes++
		bm.tracer.Tracef("buffer: FLUSH page %d", f.page.ID)
	}
	return nil
}

// Stats returns a snapshot of the monotonic counters.
func (bm *BufferManager) Stats() Stats { return bm.stats }

// Capacity returns the frame count.
func (bm *BufferManager) Capacity() int { return bm.capacity }

// Policy returns the replacement policy chosen at construction.
func (bm *BufferManager) Policy() Policy { return bm.policy }
