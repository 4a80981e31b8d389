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
// Schema catalog
// ───────────────────────────────────────────────────────────────────────────
//
// Per-table column schemas persisted as one line per table:
//
//   table_name col1:TYPE[:c1,c2,...] col2:TYPE[(len)][:...] ...
//
// CHAR/VARCHAR lengths ride inside the type token as TYPE(len). Spaces
// inside a constraint are stored as '_' and decoded on load. Lookup keys
// are lower-cased.

// SchemasFileName is the schema-catalog sidecar under the base directory.
const SchemasFileName = "schemas.meta"

// DataType enumerates the column types the catalog understands.
type DataType int

const (
	TypeInt DataType = iota
	TypeDouble
	TypeVarchar
	TypeChar
	TypeBoolean
	TypeTimestamp
	TypeUnknown
)

// String returns the canonical upper-case type name.
func (t DataType) String() string {
	switch t {
	case TypeInt:
		return "INT"
	case TypeDouble:
		return "DOUBLE"
	case TypeVarchar:
		return "VARCHAR"
	case TypeChar:
		return "CHAR"
	case TypeBoolean:
		return "BOOLEAN"
	case TypeTimestamp:
		return "TIMESTAMP"
	}
	return "UNKNOWN"
}

// ParseDataType maps a type name (case-insensitive) onto a DataType.
func ParseDataType(s string) DataType {
	switch strings.ToUpper(s) {
	case "INT":
		return TypeInt
	case "DOUBLE":
		return TypeDouble
	case "VARCHAR":
		return TypeVarchar
	case "CHAR":
		return TypeChar
	case "BOOLEAN":
		return TypeBoolean
	case "TIMESTAMP":
		return TypeTimestamp
	}
	return TypeUnknown
}

// ColumnMetadata describes one column of a table.
type ColumnMetadata struct {
	Name        string
	Type        DataType
	Length      int // CHAR/VARCHAR length; 0 = unspecified
	Constraints []string
}

// TableSchema is the ordered column list plus a lower-cased name index.
type TableSchema struct {
	Columns     []ColumnMetadata
	ColumnTypes map[string]DataType
}

// ColumnIndex returns the position of a column (case-insensitive), -1
// when absent.
func (s *TableSchema) ColumnIndex(name string) int {
	want := strings.ToLower(name)
	for i, col := range s.Columns {
		if strings.ToLower(col.Name) == want {
			return i
		}
	}
	return -1
}

// SchemaCatalog persists per-table column schemas under baseDir.
type SchemaCatalog struct {
	path    string
	schemas map[string]TableSchema // keyed by lower-cased table name
}

// NewSchemaCatalog opens (or creates) the schema catalog under baseDir.
func NewSchemaCatalog(baseDir string) (*SchemaCatalog, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir %s: %w", baseDir, ErrIO)
	}
	sc := &SchemaCatalog{path: filepath.Join(baseDir, SchemasFileName)}
	if _, err := os.Stat(sc.path); os.IsNotExist(err) {
		if err := sc.save(); err != nil {
			return nil, err
		}
	}
	if err := sc.load(); err != nil {
		return nil, err
	}
	return sc, nil
}

func encodeConstraint(s string) string { return strings.ReplaceAll(s, " ", "_") }
func decodeConstraint(s string) string { return strings.ReplaceAll(s, "_", " ") }

// encodeType renders TYPE or TYPE(len) for sized string types.
func encodeType(col ColumnMetadata) string {
	if (col.Type == TypeChar || col.Type == TypeVarchar) && col.Length > 0 {
		return fmt.Sprintf("%s(%d)", col.Type, col.Length)
	}
	return col.Type.String()
}

// decodeType parses TYPE or TYPE(len).
func decodeType(tok string) (DataType, int) {
	open := strings.IndexByte(tok, '(')
	if open < 0 || !strings.HasSuffix(tok, ")") {
		return ParseDataType(tok), 0
	}
	length, err := strconv.Atoi(tok[open+1 : len(tok)-1])
	if err != nil {
		length = 0
	}
	return ParseDataType(tok[:open]), length
}

func (sc *SchemaCatalog) load() error {
	raw, err := os.ReadFile(sc.path)
	if err != nil {
		return fmt.Errorf("read schemas meta %s: %w", sc.path, ErrIO)
	}
	sc.schemas = make(map[string]TableSchema)
	for _, line := range strings.Split(string(raw), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		table := fields[0]
		schema := TableSchema{ColumnTypes: make(map[string]DataType)}
		for _, tok := range fields[1:] {
			parts := strings.SplitN(tok, ":", 3)
			if len(parts) < 2 {
				continue
			}
			col := ColumnMetadata{Name: parts[0]}
			col.Type, col.Length = decodeType(parts[1])
			if len(parts) == 3 && parts[2] != "" {
				for _, c := range strings.Split(parts[2], ",") {
					col.Constraints = append(col.Constraints, decodeConstraint(c))
				}
			}
			schema.Columns = append(schema.Columns, col)
			schema.ColumnTypes[strings.ToLower(col.Name)] = col.Type
		}
		sc.schemas[strings.ToLower(table)] = schema
	}
	return nil
}

// save rewrites the schemas file in full, tables in sorted order.
func (sc *SchemaCatalog) save() error {
	names := make([]string, 0, len(sc.schemas))
	for name := range sc.schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		for _, col := range sc.schemas[name].Columns {
			b.WriteByte(' ')
			b.WriteString(col.Name)
			b.WriteByte(':')
			b.WriteString(encodeType(col))
			if len(col.Constraints) > 0 {
				b.WriteByte(':')
				for i, c := range col.Constraints {
					if i > 0 {
						b.WriteByte(',')
					}
					b.WriteString(encodeConstraint(c))
				}
			}
		}
		b.WriteByte('\n')
	}
	if err := os.WriteFile(sc.path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write schemas meta %s: %w", sc.path, ErrIO)
	}
	return nil
}

// TableExists reports whether a schema row is registered for the table.
func (sc *SchemaCatalog) TableExists(table string) bool {
	_, ok := sc.schemas[strings.ToLower(table)]
	return ok
}

// AddTable registers a schema row. The table must not already exist.
func (sc *SchemaCatalog) AddTable(table string, columns []ColumnMetadata) error {
	key := strings.ToLower(table)
	if _, ok := sc.schemas[key]; ok {
		return fmt.Errorf("schema for %q exists: %w", table, ErrInvalidArgument)
	}
	schema := TableSchema{Columns: columns, ColumnTypes: make(map[string]DataType, len(columns))}
	for _, col := range columns {
		schema.ColumnTypes[strings.ToLower(col.Name)] = col.Type
	}
	sc.schemas[key] = schema
	return sc.save()
}

// DropTable removes a schema row; reports whether it existed.
func (sc *SchemaCatalog) DropTable(table string) (bool, error) {
	key := strings.ToLower(table)
	if _, ok := sc.schemas[key]; !ok {
		return false, nil
	}
	delete(sc.schemas, key)
	if err := sc.save(); err != nil {
		return false, err
	}
	return true, nil
}

// GetTableSchema returns the schema for a table.
func (sc *SchemaCatalog) GetTableSchema(table string) (TableSchema, error) {
	schema, ok := sc.schemas[strings.ToLower(table)]
	if !ok {
		return TableSchema{}, fmt.Errorf("schema for %q: %w", table, ErrNotFound)
	}
	return schema, nil
}

// ListAll returns every (table, schema) pair in sorted name order.
func (sc *SchemaCatalog) ListAll() []struct {
	Table  string
	Schema TableSchema
} {
	names := make([]string, 0, len(sc.schemas))
	for name := range sc.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]struct {
		Table  string
		Schema TableSchema
	}, 0, len(names))
	for _, name := range names {
		out = append(out, struct {
			Table  string
			Schema TableSchema
		}{Table: name, Schema: sc.schemas[name]})
	}
	return out
}
