// Package importer copies external data into a pagedb storage engine.
// The only source format is SQLite: one table is read column-by-column
// and re-inserted through the record manager using the '|' row
// convention.
package importer

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/SimonWaldherr/pagedb/internal/storage"
)

// mapSQLiteType folds SQLite's loose type affinity onto the catalog's
// DataType set.
func mapSQLiteType(decl string) (storage.DataType, int) {
	t := strings.ToUpper(strings.TrimSpace(decl))
	switch {
	case strings.Contains(t, "INT"):
		return storage.TypeInt, 0
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return storage.TypeDouble, 0
	case strings.Contains(t, "BOOL"):
		return storage.TypeBoolean, 0
	case strings.Contains(t, "TIME"), strings.Contains(t, "DATE"):
		return storage.TypeTimestamp, 0
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"):
		return storage.TypeVarchar, parenLength(t)
	}
	return storage.TypeVarchar, 0
}

// parenLength extracts N from declarations like VARCHAR(N).
func parenLength(decl string) int {
	open := strings.IndexByte(decl, '(')
	end := strings.IndexByte(decl, ')')
	if open < 0 || end <= open+1 {
		return 0
	}
	var n int
	if _, err := fmt.Sscanf(decl[open+1:end], "%d", &n); err != nil {
		return 0
	}
	return n
}

// ImportTable copies one table out of a SQLite file into the engine,
// creating the destination table and its schema. Returns the number of
// rows imported.
func ImportTable(engine *storage.StorageEngine, sqlitePath, table string) (int, error) {
	src, err := sql.Open("sqlite", sqlitePath)
	if err != nil {
		return 0, fmt.Errorf("open sqlite %s: %w", sqlitePath, err)
	}
	defer src.Close()

	cols, err := readColumns(src, table)
	if err != nil {
		return 0, err
	}
	if len(cols) == 0 {
		return 0, fmt.Errorf("sqlite table %q has no columns: %w", table, storage.ErrNotFound)
	}

	tid, err := engine.CreateTable(table, cols)
	if err != nil {
		return 0, err
	}

	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = `"` + c.Name + `"`
	}
	rows, err := src.Query(fmt.Sprintf(`SELECT %s FROM "%s"`, strings.Join(names, ", "), table))
	if err != nil {
		return 0, fmt.Errorf("read sqlite table %q: %w", table, err)
	}
	defer rows.Close()

	n := 0
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return n, fmt.Errorf("scan sqlite row: %w", err)
		}
		fields := make([]string, len(vals))
		for i, v := range vals {
			fields[i] = renderValue(v)
		}
		if _, err := engine.InsertRecord(tid, []byte(strings.Join(fields, "|"))); err != nil {
			return n, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, fmt.Errorf("iterate sqlite rows: %w", err)
	}
	return n, nil
}

// readColumns pulls the column list and declared types via PRAGMA
// table_info.
func readColumns(src *sql.DB, table string) ([]storage.ColumnMetadata, error) {
	rows, err := src.Query(fmt.Sprintf(`PRAGMA table_info("%s")`, table))
	if err != nil {
		return nil, fmt.Errorf("table_info %q: %w", table, err)
	}
	defer rows.Close()

	var cols []storage.ColumnMetadata
	for rows.Next() {
		var (
			cid     int
			name    string
			decl    string
			notNull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &decl, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("table_info %q: %w", table, err)
		}
		col := storage.ColumnMetadata{Name: name}
		col.Type, col.Length = mapSQLiteType(decl)
		if notNull != 0 {
			col.Constraints = append(col.Constraints, "NOT NULL")
		}
		if pk != 0 {
			col.Constraints = append(col.Constraints, "PRIMARY KEY")
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

// renderValue folds a scanned SQLite value into its row-text form.
func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case string:
		return val
	case int64:
		return fmt.Sprintf("%d", val)
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", val), "0"), ".")
	case bool:
		if val {
			return "1"
		}
		return "0"
	}
	return fmt.Sprint(v)
}
