package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newCatalogFixture(t *testing.T) (*DiskManager, *TableManager, string) {
	t.Helper()
	dir := t.TempDir()
	d, err := NewDiskManager(dir)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	tm, err := NewTableManager(dir)
	require.NoError(t, err)
	return d, tm, dir
}

func TestTableManager_CreateLookupDuplicate(t *testing.T) {
	_, tm, _ := newCatalogFixture(t)

	tid, err := tm.CreateTable("Users")
	require.NoError(t, err)
	require.Equal(t, int32(0), tid)

	// Case-insensitive lookup, stored case preserved.
	require.Equal(t, tid, tm.GetTableID("users"))
	require.Equal(t, tid, tm.GetTableID("USERS"))
	require.Equal(t, "Users", tm.GetTableName(tid))
	require.Equal(t, int32(-1), tm.GetTableID("ghosts"))
	require.Equal(t, "", tm.GetTableName(99))

	// Case-insensitive duplicate rejection.
	_, err = tm.CreateTable("USERS")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestTableManager_DropByNameAndID(t *testing.T) {
	d, tm, _ := newCatalogFixture(t)

	tid, err := tm.CreateTable("a")
	require.NoError(t, err)
	ok, err := tm.DropTableByName("A", d)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = tm.DropTableByName("a", d)
	require.NoError(t, err)
	require.False(t, ok)

	tid2, err := tm.CreateTable("b")
	require.NoError(t, err)
	require.NotEqual(t, tid, tid2)
	ok, err = tm.DropTableByID(tid2, d)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = tm.DropTableByID(tid2, d)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTableManager_RejectsBadNames(t *testing.T) {
	_, tm, _ := newCatalogFixture(t)
	_, err := tm.CreateTable("")
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = tm.CreateTable("two words")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestTableManager_AllocatePagesInScanOrder(t *testing.T) {
	d, tm, _ := newCatalogFixture(t)
	tid, err := tm.CreateTable("t")
	require.NoError(t, err)

	var want []PageID
	for i := 0; i < 4; i++ {
		pid, err := tm.AllocateTablePage(tid, d)
		require.NoError(t, err)
		want = append(want, pid)
	}
	require.Equal(t, want, tm.GetTablePages(tid))

	_, err = tm.AllocateTablePage(77, d)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestTableManager_DropReturnsPagesToFreeList(t *testing.T) {
	d, tm, _ := newCatalogFixture(t)
	tid, err := tm.CreateTable("t")
	require.NoError(t, err)

	var pages []PageID
	for i := 0; i < 3; i++ {
		pid, err := tm.AllocateTablePage(tid, d)
		require.NoError(t, err)
		pages = append(pages, pid)
	}

	ok, err := tm.DropTableByName("t", d)
	require.NoError(t, err)
	require.True(t, ok)

	// The next allocation reuses the last page the table owned.
	pid, err := d.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, pages[len(pages)-1], pid)
}

func TestTableManager_PersistsAcrossReopen(t *testing.T) {
	d, tm, dir := newCatalogFixture(t)
	tid, err := tm.CreateTable("orders")
	require.NoError(t, err)
	p1, err := tm.AllocateTablePage(tid, d)
	require.NoError(t, err)
	p2, err := tm.AllocateTablePage(tid, d)
	require.NoError(t, err)

	tm2, err := NewTableManager(dir)
	require.NoError(t, err)
	require.Equal(t, tid, tm2.GetTableID("orders"))
	require.Equal(t, []PageID{p1, p2}, tm2.GetTablePages(tid))

	// next_table_id survives too.
	tid2, err := tm2.CreateTable("invoices")
	require.NoError(t, err)
	require.Equal(t, tid+1, tid2)
}

func TestSchemaCatalog_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	sc, err := NewSchemaCatalog(dir)
	require.NoError(t, err)

	cols := []ColumnMetadata{
		{Name: "id", Type: TypeInt, Constraints: []string{"PRIMARY KEY", "NOT NULL"}},
		{Name: "name", Type: TypeVarchar, Length: 32},
		{Name: "code", Type: TypeChar, Length: 4},
		{Name: "active", Type: TypeBoolean},
		{Name: "created", Type: TypeTimestamp},
	}
	require.NoError(t, sc.AddTable("Users", cols))
	require.True(t, sc.TableExists("users"))
	require.ErrorIs(t, sc.AddTable("USERS", cols), ErrInvalidArgument)

	// A fresh catalog over the same dir sees the same schema, including
	// constraints whose spaces round-tripped through '_'.
	sc2, err := NewSchemaCatalog(dir)
	require.NoError(t, err)
	schema, err := sc2.GetTableSchema("USERS")
	require.NoError(t, err)
	require.Len(t, schema.Columns, 5)
	require.Equal(t, []string{"PRIMARY KEY", "NOT NULL"}, schema.Columns[0].Constraints)
	require.Equal(t, TypeVarchar, schema.Columns[1].Type)
	require.Equal(t, 32, schema.Columns[1].Length)
	require.Equal(t, TypeChar, schema.Columns[2].Type)
	require.Equal(t, 4, schema.Columns[2].Length)
	require.Equal(t, TypeInt, schema.ColumnTypes["id"])
	require.Equal(t, 1, schema.ColumnIndex("NAME"))

	_, err = sc2.GetTableSchema("missing")
	require.ErrorIs(t, err, ErrNotFound)

	ok, err := sc2.DropTable("users")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = sc2.DropTable("users")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestParseDataType(t *testing.T) {
	cases := map[string]DataType{
		"int":       TypeInt,
		"INT":       TypeInt,
		"Double":    TypeDouble,
		"varchar":   TypeVarchar,
		"CHAR":      TypeChar,
		"boolean":   TypeBoolean,
		"timestamp": TypeTimestamp,
		"blob":      TypeUnknown,
	}
	for in, want := range cases {
		require.Equal(t, want, ParseDataType(in), in)
	}
}
