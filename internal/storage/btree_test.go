package storage

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func newIntTree(t *testing.T, capacity int) *BPlusTree[int64] {
	t.Helper()
	d := newMemDisk(t)
	bm, err := NewBufferManager(d, capacity, LRU, nil)
	require.NoError(t, err)
	tree := NewBPlusTree[int64](d, bm, Int64Key{}, nil)
	_, err = tree.Create()
	require.NoError(t, err)
	return tree
}

func newStringTree(t *testing.T, capacity int) *BPlusTree[String32] {
	t.Helper()
	d := newMemDisk(t)
	bm, err := NewBufferManager(d, capacity, LRU, nil)
	require.NoError(t, err)
	tree := NewBPlusTree[String32](d, bm, String32Key{}, nil)
	_, err = tree.Create()
	require.NoError(t, err)
	return tree
}

// syntheticRID derives a distinct RID per key so lookups can be checked
// against their payloads.
func syntheticRID(k int64) RID {
	return RID{PageID: PageID(k / 7), SlotID: uint16(k % 7)}
}

func TestBPlusTree_EmptyTree(t *testing.T) {
	tree := newIntTree(t, 16)
	_, found, err := tree.Search(42)
	require.NoError(t, err)
	require.False(t, found)

	pairs, err := tree.Range(0, 100)
	require.NoError(t, err)
	require.Empty(t, pairs)
}

func TestBPlusTree_DenseInsertSearchRange(t *testing.T) {
	tree := newIntTree(t, 16)
	for k := int64(0); k < 200; k++ {
		ok, err := tree.Insert(k, syntheticRID(k))
		require.NoError(t, err)
		require.True(t, ok)
	}
	for k := int64(0); k < 200; k++ {
		rid, found, err := tree.Search(k)
		require.NoError(t, err)
		require.Truef(t, found, "key %d missing", k)
		require.Equal(t, syntheticRID(k), rid)
	}
	_, found, err := tree.Search(200)
	require.NoError(t, err)
	require.False(t, found)

	pairs, err := tree.Range(50, 149)
	require.NoError(t, err)
	require.Len(t, pairs, 100)
	for i, p := range pairs {
		require.Equal(t, int64(50+i), p.Key)
		require.Equal(t, syntheticRID(p.Key), p.RID)
	}

	ok, err := tree.Insert(42, RID{PageID: 9, SlotID: 9})
	require.NoError(t, err)
	require.False(t, ok, "duplicate insert must be rejected")
	rid, found, err := tree.Search(42)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, syntheticRID(42), rid, "rejected insert must not overwrite")
}

func TestBPlusTree_RandomPermutationOrdering(t *testing.T) {
	tree := newIntTree(t, 32)
	const n = 2000
	keys := make([]int64, n)
	for i := range keys {
		keys[i] = int64(i) * 3
	}
	rng := rand.New(rand.NewSource(7))
	rng.Shuffle(n, func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })

	for _, k := range keys {
		ok, err := tree.Insert(k, syntheticRID(k))
		require.NoError(t, err)
		require.True(t, ok)
	}

	pairs, err := tree.Range(0, int64(n)*3)
	require.NoError(t, err)
	require.Len(t, pairs, n)
	for i, p := range pairs {
		require.Equal(t, int64(i)*3, p.Key)
	}

	// Every inserted key is found; gaps are not.
	for i := 0; i < n; i++ {
		_, found, err := tree.Search(int64(i) * 3)
		require.NoError(t, err)
		require.True(t, found)
	}
	for _, miss := range []int64{1, 2, 4, 3001, -5} {
		_, found, err := tree.Search(miss)
		require.NoError(t, err)
		require.False(t, found)
	}
}

func TestBPlusTree_DeepTreeInternalSplits(t *testing.T) {
	// 40k sequential keys force leaf splits, internal splits, and at
	// least two root growths (leaf capacity 255, internal capacity 255).
	tree := newIntTree(t, 64)
	const n = 40_000
	for k := int64(0); k < n; k++ {
		ok, err := tree.Insert(k, syntheticRID(k))
		require.NoError(t, err)
		require.True(t, ok)
	}
	for _, k := range []int64{0, 1, 254, 255, 256, 19_999, n - 1} {
		rid, found, err := tree.Search(k)
		require.NoError(t, err)
		require.Truef(t, found, "key %d", k)
		require.Equal(t, syntheticRID(k), rid)
	}
	pairs, err := tree.Range(10_000, 10_099)
	require.NoError(t, err)
	require.Len(t, pairs, 100)
	for i, p := range pairs {
		require.Equal(t, int64(10_000+i), p.Key)
	}
}

func TestBPlusTree_LeafChainAscending(t *testing.T) {
	tree := newIntTree(t, 32)
	const n = 3000
	rng := rand.New(rand.NewSource(99))
	perm := rng.Perm(n)
	for _, k := range perm {
		ok, err := tree.Insert(int64(k), syntheticRID(int64(k)))
		require.NoError(t, err)
		require.True(t, ok)
	}

	// Walk the leaf chain from the leftmost leaf; keys must come out
	// ascending with no duplicates and no omissions.
	leafID, err := tree.findLeaf(0)
	require.NoError(t, err)
	var got []int64
	pid := leafID
	for pid != InvalidPageID {
		p, err := tree.buffer.GetPage(pid)
		require.NoError(t, err)
		for i := 0; i < nodeCount(p); i++ {
			got = append(got, tree.leafKey(p, i))
		}
		next := nodeNext(p)
		require.NoError(t, tree.buffer.UnpinPage(pid, false))
		pid = next
	}
	require.Len(t, got, n)
	for i, k := range got {
		require.Equal(t, int64(i), k)
	}
}

func TestBPlusTree_StringKeys(t *testing.T) {
	tree := newStringTree(t, 32)
	const n = 120
	for i := 0; i < n; i++ {
		key := MakeString32(fmt.Sprintf("key%04d", i))
		ok, err := tree.Insert(key, RID{PageID: PageID(i), SlotID: uint16(i)})
		require.NoError(t, err)
		require.True(t, ok)
	}

	rid, found, err := tree.Search(MakeString32("key0042"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, RID{PageID: 42, SlotID: 42}, rid)

	pairs, err := tree.Range(MakeString32("key0030"), MakeString32("key0079"))
	require.NoError(t, err)
	require.Len(t, pairs, 50)
	for i, p := range pairs {
		require.Equal(t, fmt.Sprintf("key%04d", 30+i), p.Key.String())
	}

	for i := 0; i < n; i++ {
		ok, err := tree.Insert(MakeString32(fmt.Sprintf("key%04d", i)), RID{})
		require.NoError(t, err)
		require.False(t, ok)
	}
}

func TestBPlusTree_EraseIsStubbed(t *testing.T) {
	tree := newIntTree(t, 16)
	ok, err := tree.Insert(1, syntheticRID(1))
	require.NoError(t, err)
	require.True(t, ok)

	removed, err := tree.Erase(1)
	require.NoError(t, err)
	require.False(t, removed)
	_, found, err := tree.Search(1)
	require.NoError(t, err)
	require.True(t, found)
}

func TestBPlusTree_OpenAdoptsExistingTree(t *testing.T) {
	d := newMemDisk(t)
	bm, err := NewBufferManager(d, 32, LRU, nil)
	require.NoError(t, err)

	tree := NewBPlusTree[int64](d, bm, Int64Key{}, nil)
	_, err = tree.Create()
	require.NoError(t, err)
	for k := int64(0); k < 1000; k++ {
		ok, err := tree.Insert(k, syntheticRID(k))
		require.NoError(t, err)
		require.True(t, ok)
	}

	reopened := NewBPlusTree[int64](d, bm, Int64Key{}, nil)
	reopened.Open(tree.Root())
	rid, found, err := reopened.Search(777)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, syntheticRID(777), rid)
}
