package storage

import (
	"encoding/binary"
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// B+Tree index
// ───────────────────────────────────────────────────────────────────────────
//
// An ordered, unique mapping Key -> RID persisted entirely in buffer
// pages. All data lives in leaves; internal nodes carry separator keys.
// Leaves form a singly-linked chain via next for range scans.
//
// Node layout (16-byte header, little-endian):
//
//   [0]     is_leaf   (u8)
//   [1]     reserved
//   [2:4]   count     (u16)
//   [4:8]   parent    (u32, InvalidPageID for the root)
//   [8:12]  next      (u32, leaf sibling; InvalidPageID otherwise)
//   [12:16] leftmost  (u32, internal only: child before the first key)
//
// Entries are packed after the header:
//   leaf:     (key, page_id u32, slot_id u16, pad u16)   = keySize + 8
//   internal: (key, child u32, pad u32)                  = keySize + 8
// Each internal entry carries its *right* child; leftmost holds the
// child before the first key.

const nodeHeaderSize = 16

// KeyType describes a fixed-size, trivially copyable key and its
// ordering. Equality is derived: a == b iff !Less(a,b) && !Less(b,a).
type KeyType[K any] interface {
	Size() int
	Encode(dst []byte, k K)
	Decode(src []byte) K
	Less(a, b K) bool
}

// KeyRID is one (key, rid) pair emitted by a range scan.
type KeyRID[K any] struct {
	Key K
	RID RID
}

// BPlusTree is a unique-key B+Tree generic over its key type.
type BPlusTree[K any] struct {
	disk   *DiskManager
	buffer *BufferManager
	kt     KeyType[K]
	tracer Tracer

	root      PageID
	keySize   int
	entrySize int // keySize + 8, both node kinds
	leafCap   int
	interCap  int
}

// NewBPlusTree builds a tree handle; call Create or Open before use.
func NewBPlusTree[K any](disk *DiskManager, buffer *BufferManager, kt KeyType[K], tracer Tracer) *BPlusTree[K] {
	if tracer == nil {
		tracer = NopTracer()
	}
	ks := kt.Size()
	return &BPlusTree[K]{
		disk:      disk,
		buffer:    buffer,
		kt:        kt,
		tracer:    tracer,
		root:      InvalidPageID,
		keySize:   ks,
		entrySize: ks + 8,
		leafCap:   (PageSize - nodeHeaderSize) / (ks + 8),
		interCap:  (PageSize - nodeHeaderSize) / (ks + 8),
	}
}

// ── Node header accessors ─────────────────────────────────────────────────

func nodeIsLeaf(p *Page) bool { return p.Data[0] == 1 }

func setNodeIsLeaf(p *Page, leaf bool) {
	if leaf {
		p.Data[0] = 1
	} else {
		p.Data[0] = 0
	}
}

func nodeCount(p *Page) int       { return int(binary.LittleEndian.Uint16(p.Data[2:4])) }
func setNodeCount(p *Page, n int) { binary.LittleEndian.PutUint16(p.Data[2:4], uint16(n)) }

func nodeParent(p *Page) PageID { return PageID(binary.LittleEndian.Uint32(p.Data[4:8])) }
func setNodeParent(p *Page, pid PageID) {
	binary.LittleEndian.PutUint32(p.Data[4:8], uint32(pid))
}

func nodeNext(p *Page) PageID { return PageID(binary.LittleEndian.Uint32(p.Data[8:12])) }
func setNodeNext(p *Page, pid PageID) {
	binary.LittleEndian.PutUint32(p.Data[8:12], uint32(pid))
}

func nodeLeftmost(p *Page) PageID { return PageID(binary.LittleEndian.Uint32(p.Data[12:16])) }
func setNodeLeftmost(p *Page, pid PageID) {
	binary.LittleEndian.PutUint32(p.Data[12:16], uint32(pid))
}

// initNode stamps a fresh node header over a zeroed page.
func initNode(p *Page, leaf bool) {
	setNodeIsLeaf(p, leaf)
	p.Data[1] = 0
	setNodeCount(p, 0)
	setNodeParent(p, InvalidPageID)
	setNodeNext(p, InvalidPageID)
	setNodeLeftmost(p, InvalidPageID)
}

// ── Entry accessors ───────────────────────────────────────────────────────

func (t *BPlusTree[K]) entryOff(i int) int { return nodeHeaderSize + i*t.entrySize }

func (t *BPlusTree[K]) leafKey(p *Page, i int) K {
	return t.kt.Decode(p.Data[t.entryOff(i):])
}

func (t *BPlusTree[K]) leafRID(p *Page, i int) RID {
	off := t.entryOff(i) + t.keySize
	return RID{
		PageID: PageID(binary.LittleEndian.Uint32(p.Data[off : off+4])),
		SlotID: binary.LittleEndian.Uint16(p.Data[off+4 : off+6]),
	}
}

func (t *BPlusTree[K]) setLeafEntry(p *Page, i int, key K, rid RID) {
	off := t.entryOff(i)
	t.kt.Encode(p.Data[off:], key)
	binary.LittleEndian.PutUint32(p.Data[off+t.keySize:], uint32(rid.PageID))
	binary.LittleEndian.PutUint16(p.Data[off+t.keySize+4:], rid.SlotID)
	binary.LittleEndian.PutUint16(p.Data[off+t.keySize+6:], 0)
}

func (t *BPlusTree[K]) interKey(p *Page, i int) K {
	return t.kt.Decode(p.Data[t.entryOff(i):])
}

func (t *BPlusTree[K]) interChild(p *Page, i int) PageID {
	off := t.entryOff(i) + t.keySize
	return PageID(binary.LittleEndian.Uint32(p.Data[off : off+4]))
}

func (t *BPlusTree[K]) setInterEntry(p *Page, i int, key K, child PageID) {
	off := t.entryOff(i)
	t.kt.Encode(p.Data[off:], key)
	binary.LittleEndian.PutUint32(p.Data[off+t.keySize:], uint32(child))
	binary.LittleEndian.PutUint32(p.Data[off+t.keySize+4:], 0)
}

// shiftEntriesRight opens a one-entry hole at index i in a node holding
// count entries.
func (t *BPlusTree[K]) shiftEntriesRight(p *Page, i, count int) {
	src := t.entryOff(i)
	end := t.entryOff(count)
	copy(p.Data[src+t.entrySize:end+t.entrySize], p.Data[src:end])
}

func (t *BPlusTree[K]) eq(a, b K) bool {
	return !t.kt.Less(a, b) && !t.kt.Less(b, a)
}

// ── Lifecycle ─────────────────────────────────────────────────────────────

// Create allocates and initializes an empty leaf root, returning its
// page id. The caller persists the root id externally.
func (t *BPlusTree[K]) Create() (PageID, error) {
	pid, err := t.disk.AllocatePage()
	if err != nil {
		return 0, err
	}
	p, err := t.buffer.GetPage(pid)
	if err != nil {
		return 0, err
	}
	initNode(p, true)
	if err := t.buffer.UnpinPage(pid, true); err != nil {
		return 0, err
	}
	t.root = pid
	t.tracer.Tracef("btree: created empty tree, root leaf %d", pid)
	return pid, nil
}

// Open adopts an existing tree by its root page id.
func (t *BPlusTree[K]) Open(root PageID) { t.root = root }

// Root returns the current root page id.
func (t *BPlusTree[K]) Root() PageID { return t.root }

// ── Search ────────────────────────────────────────────────────────────────

// interChildIndex picks the descent child: the rightmost separator whose
// key is <= target, or leftmost when no separator qualifies. The return
// is -1 for leftmost, otherwise the entry index.
func (t *BPlusTree[K]) interChildIndex(p *Page, key K) int {
	// Upper bound: first separator with target < key[i].
	lo, hi := 0, nodeCount(p)
	for lo < hi {
		mid := (lo + hi) / 2
		if t.kt.Less(key, t.interKey(p, mid)) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo - 1
}

// leafLowerBound returns the first slot whose key is >= target.
func (t *BPlusTree[K]) leafLowerBound(p *Page, key K) int {
	lo, hi := 0, nodeCount(p)
	for lo < hi {
		mid := (lo + hi) / 2
		if t.kt.Less(t.leafKey(p, mid), key) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// findLeaf descends from the root to the leaf that would hold key.
func (t *BPlusTree[K]) findLeaf(key K) (PageID, error) {
	pid := t.root
	for {
		p, err := t.buffer.GetPage(pid)
		if err != nil {
			return 0, err
		}
		if nodeIsLeaf(p) {
			if err := t.buffer.UnpinPage(pid, false); err != nil {
				return 0, err
			}
			return pid, nil
		}
		idx := t.interChildIndex(p, key)
		var child PageID
		if idx < 0 {
			child = nodeLeftmost(p)
		} else {
			child = t.interChild(p, idx)
		}
		if err := t.buffer.UnpinPage(pid, false); err != nil {
			return 0, err
		}
		t.tracer.Tracef("btree: descend page %d -> child %d", pid, child)
		pid = child
	}
}

// Search looks up an exact key.
func (t *BPlusTree[K]) Search(key K) (RID, bool, error) {
	if t.root == InvalidPageID {
		return RID{}, false, fmt.Errorf("search on unopened tree: %w", ErrInvariant)
	}
	leafID, err := t.findLeaf(key)
	if err != nil {
		return RID{}, false, err
	}
	p, err := t.buffer.GetPage(leafID)
	if err != nil {
		return RID{}, false, err
	}
	i := t.leafLowerBound(p, key)
	var (
		rid   RID
		found bool
	)
	if i < nodeCount(p) && t.eq(t.leafKey(p, i), key) {
		rid = t.leafRID(p, i)
		found = true
	}
	if err := t.buffer.UnpinPage(leafID, false); err != nil {
		return RID{}, false, err
	}
	return rid, found, nil
}

// ── Insert ────────────────────────────────────────────────────────────────

// Insert adds a unique key. Returns false (and leaves the tree
// untouched) when the key is already present.
func (t *BPlusTree[K]) Insert(key K, rid RID) (bool, error) {
	if t.root == InvalidPageID {
		return false, fmt.Errorf("insert on unopened tree: %w", ErrInvariant)
	}
	leafID, err := t.findLeaf(key)
	if err != nil {
		return false, err
	}
	p, err := t.buffer.GetPage(leafID)
	if err != nil {
		return false, err
	}
	count := nodeCount(p)
	i := t.leafLowerBound(p, key)
	if i < count && t.eq(t.leafKey(p, i), key) {
		return false, t.buffer.UnpinPage(leafID, false)
	}

	if count < t.leafCap {
		t.shiftEntriesRight(p, i, count)
		t.setLeafEntry(p, i, key, rid)
		setNodeCount(p, count+1)
		t.tracer.Tracef("btree: insert at leaf %d slot %d (no split)", leafID, i)
		if err := t.buffer.UnpinPage(leafID, true); err != nil {
			return false, err
		}
		return true, nil
	}

	if err := t.splitLeafAndInsert(p, leafID, i, key, rid); err != nil {
		return false, err
	}
	return true, nil
}

// splitLeafAndInsert splits a full leaf (pinned on entry; unpinned on
// every return) around the midpoint of the would-be entry list and
// propagates the separator upward.
func (t *BPlusTree[K]) splitLeafAndInsert(leaf *Page, leafID PageID, at int, key K, rid RID) error {
	count := nodeCount(leaf)
	total := count + 1
	keys := make([]K, total)
	rids := make([]RID, total)
	for i := 0; i < at; i++ {
		keys[i], rids[i] = t.leafKey(leaf, i), t.leafRID(leaf, i)
	}
	keys[at], rids[at] = key, rid
	for i := at; i < count; i++ {
		keys[i+1], rids[i+1] = t.leafKey(leaf, i), t.leafRID(leaf, i)
	}

	mid := total / 2
	rightID, err := t.disk.AllocatePage()
	if err != nil {
		t.buffer.UnpinPage(leafID, true)
		return err
	}
	right, err := t.buffer.GetPage(rightID)
	if err != nil {
		t.buffer.UnpinPage(leafID, true)
		return err
	}
	initNode(right, true)
	setNodeParent(right, nodeParent(leaf))
	setNodeNext(right, nodeNext(leaf))
	for i := mid; i < total; i++ {
		t.setLeafEntry(right, i-mid, keys[i], rids[i])
	}
	setNodeCount(right, total-mid)

	for i := 0; i < mid; i++ {
		t.setLeafEntry(leaf, i, keys[i], rids[i])
	}
	setNodeCount(leaf, mid)
	setNodeNext(leaf, rightID)

	parentID := nodeParent(leaf)
	sep := keys[mid]
	t.tracer.Tracef("btree: split leaf %d -> right %d, separator up", leafID, rightID)

	if err := t.buffer.UnpinPage(rightID, true); err != nil {
		t.buffer.UnpinPage(leafID, true)
		return err
	}
	if err := t.buffer.UnpinPage(leafID, true); err != nil {
		return err
	}
	return t.insertInParent(leafID, parentID, sep, rightID)
}

// insertInParent inserts (sep, rightID) into leftID's parent, growing a
// new root when leftID was the root.
func (t *BPlusTree[K]) insertInParent(leftID, parentID PageID, sep K, rightID PageID) error {
	if parentID == InvalidPageID {
		rootID, err := t.disk.AllocatePage()
		if err != nil {
			return err
		}
		root, err := t.buffer.GetPage(rootID)
		if err != nil {
			return err
		}
		initNode(root, false)
		setNodeLeftmost(root, leftID)
		t.setInterEntry(root, 0, sep, rightID)
		setNodeCount(root, 1)
		if err := t.buffer.UnpinPage(rootID, true); err != nil {
			return err
		}
		for _, child := range []PageID{leftID, rightID} {
			if err := t.reparent(child, rootID); err != nil {
				return err
			}
		}
		t.root = rootID
		t.tracer.Tracef("btree: new root %d (left %d, right %d)", rootID, leftID, rightID)
		return nil
	}

	if err := t.reparent(rightID, parentID); err != nil {
		return err
	}
	parent, err := t.buffer.GetPage(parentID)
	if err != nil {
		return err
	}
	count := nodeCount(parent)
	// Upper bound: the entry goes immediately after the descent slot.
	pos := 0
	for pos < count && !t.kt.Less(sep, t.interKey(parent, pos)) {
		pos++
	}
	if count < t.interCap {
		t.shiftEntriesRight(parent, pos, count)
		t.setInterEntry(parent, pos, sep, rightID)
		setNodeCount(parent, count+1)
		t.tracer.Tracef("btree: insert separator at internal %d slot %d (no split)", parentID, pos)
		return t.buffer.UnpinPage(parentID, true)
	}
	return t.splitInternalAndInsert(parent, parentID, pos, sep, rightID)
}

// splitInternalAndInsert splits a full internal node (pinned on entry;
// unpinned on every return). The midpoint key is promoted, not copied.
func (t *BPlusTree[K]) splitInternalAndInsert(page *Page, pid PageID, at int, sep K, rightChild PageID) error {
	count := nodeCount(page)
	totalKeys := count + 1
	keys := make([]K, totalKeys)
	children := make([]PageID, totalKeys+1)

	children[0] = nodeLeftmost(page)
	for i := 0; i < count; i++ {
		keys[i] = t.interKey(page, i)
		children[i+1] = t.interChild(page, i)
	}
	// Splice the new pair in at the descent position.
	copy(keys[at+1:], keys[at:count])
	keys[at] = sep
	copy(children[at+2:], children[at+1:count+1])
	children[at+1] = rightChild

	mid := totalKeys / 2
	promoted := keys[mid]

	setNodeLeftmost(page, children[0])
	for i := 0; i < mid; i++ {
		t.setInterEntry(page, i, keys[i], children[i+1])
	}
	setNodeCount(page, mid)

	newID, err := t.disk.AllocatePage()
	if err != nil {
		t.buffer.UnpinPage(pid, true)
		return err
	}
	right, err := t.buffer.GetPage(newID)
	if err != nil {
		t.buffer.UnpinPage(pid, true)
		return err
	}
	initNode(right, false)
	setNodeParent(right, nodeParent(page))
	setNodeLeftmost(right, children[mid+1])
	for i := mid + 1; i < totalKeys; i++ {
		t.setInterEntry(right, i-mid-1, keys[i], children[i+1])
	}
	setNodeCount(right, totalKeys-mid-1)

	parentID := nodeParent(page)
	t.tracer.Tracef("btree: split internal %d -> right %d, promote key", pid, newID)

	if err := t.buffer.UnpinPage(newID, true); err != nil {
		t.buffer.UnpinPage(pid, true)
		return err
	}
	if err := t.buffer.UnpinPage(pid, true); err != nil {
		return err
	}

	// Every child that moved to the right node gets its parent rewritten.
	for i := mid + 1; i <= totalKeys; i++ {
		if err := t.reparent(children[i], newID); err != nil {
			return err
		}
	}
	return t.insertInParent(pid, parentID, promoted, newID)
}

// reparent pins a node just long enough to rewrite its parent pointer.
func (t *BPlusTree[K]) reparent(pid, parent PageID) error {
	p, err := t.buffer.GetPage(pid)
	if err != nil {
		return err
	}
	setNodeParent(p, parent)
	return t.buffer.UnpinPage(pid, true)
}

// ── Range scan ────────────────────────────────────────────────────────────

// Range returns all pairs with low <= key <= high in ascending order.
// The next pointer is read before the current leaf is unpinned, and the
// stop condition is evaluated on keys already copied out.
func (t *BPlusTree[K]) Range(low, high K) ([]KeyRID[K], error) {
	if t.root == InvalidPageID {
		return nil, fmt.Errorf("range on unopened tree: %w", ErrInvariant)
	}
	leafID, err := t.findLeaf(low)
	if err != nil {
		return nil, err
	}
	var out []KeyRID[K]
	pid := leafID
	for pid != InvalidPageID {
		p, err := t.buffer.GetPage(pid)
		if err != nil {
			return nil, err
		}
		count := nodeCount(p)
		done := false
		for i := t.leafLowerBound(p, low); i < count; i++ {
			k := t.leafKey(p, i)
			if t.kt.Less(high, k) {
				done = true
				break
			}
			out = append(out, KeyRID[K]{Key: k, RID: t.leafRID(p, i)})
		}
		next := nodeNext(p)
		if err := t.buffer.UnpinPage(pid, false); err != nil {
			return nil, err
		}
		if done {
			break
		}
		pid = next
	}
	return out, nil
}

// ── Erase ─────────────────────────────────────────────────────────────────

// Erase is accepted for interface completeness and always reports a miss;
// rebalancing deletion is not implemented.
func (t *BPlusTree[K]) Erase(K) (bool, error) { return false, nil }
