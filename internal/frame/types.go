package frame

import (
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// ColumnType is the closed set of declared database types the converter
// knows how to decode. Anything else is TypeUnsupported.
type ColumnType int

const (
	TypeUnsupported ColumnType = iota
	TypeChar
	TypeBool
	TypeInt2
	TypeInt4
	TypeInt8
	TypeFloat4
	TypeFloat8
	TypeOID
	TypeText
	TypeJSON
	TypeDate
	TypeTimestamp
	TypeTimestamptz
	TypeNumeric
)

var typeNames = map[ColumnType]string{
	TypeUnsupported: "unsupported",
	TypeChar:        "\"char\"",
	TypeBool:        "bool",
	TypeInt2:        "int2",
	TypeInt4:        "int4",
	TypeInt8:        "int8",
	TypeFloat4:      "float4",
	TypeFloat8:      "float8",
	TypeOID:         "oid",
	TypeText:        "text",
	TypeJSON:        "jsonb",
	TypeDate:        "date",
	TypeTimestamp:   "timestamp",
	TypeTimestamptz: "timestamptz",
	TypeNumeric:     "numeric",
}

func (t ColumnType) String() string { return typeNames[t] }

func (t ColumnType) isInteger() bool {
	return t == TypeInt2 || t == TypeInt4 || t == TypeInt8
}

// TypeForOID maps a PostgreSQL type oid.
func TypeForOID(oid uint32) ColumnType {
	switch oid {
	case pgtype.QCharOID:
		return TypeChar
	case pgtype.BoolOID:
		return TypeBool
	case pgtype.Int2OID:
		return TypeInt2
	case pgtype.Int4OID:
		return TypeInt4
	case pgtype.Int8OID:
		return TypeInt8
	case pgtype.Float4OID:
		return TypeFloat4
	case pgtype.Float8OID:
		return TypeFloat8
	case pgtype.OIDOID:
		return TypeOID
	case pgtype.TextOID, pgtype.VarcharOID:
		return TypeText
	case pgtype.JSONOID, pgtype.JSONBOID:
		return TypeJSON
	case pgtype.DateOID:
		return TypeDate
	case pgtype.TimestampOID:
		return TypeTimestamp
	case pgtype.TimestamptzOID:
		return TypeTimestamptz
	case pgtype.NumericOID:
		return TypeNumeric
	default:
		return TypeUnsupported
	}
}

// TypeForName maps a type name as printed by format_type, e.g.
// "character varying(64)" or "timestamp with time zone".
func TypeForName(name string) ColumnType {
	n := strings.ToLower(strings.TrimSpace(name))
	if i := strings.IndexByte(n, '('); i >= 0 {
		// keep any suffix after the modifier: "timestamp(3) with time zone"
		if j := strings.IndexByte(n[i:], ')'); j >= 0 {
			n = strings.TrimSpace(n[:i] + n[i+j+1:])
		}
	}
	n = strings.TrimPrefix(n, "pg_catalog.")

	switch n {
	case "\"char\"", "char":
		return TypeChar
	case "boolean", "bool":
		return TypeBool
	case "smallint", "int2":
		return TypeInt2
	case "integer", "int", "int4":
		return TypeInt4
	case "bigint", "int8":
		return TypeInt8
	case "real", "float4":
		return TypeFloat4
	case "double precision", "float8":
		return TypeFloat8
	case "oid":
		return TypeOID
	case "text", "character varying", "varchar":
		return TypeText
	case "json", "jsonb":
		return TypeJSON
	case "date":
		return TypeDate
	case "timestamp", "timestamp without time zone":
		return TypeTimestamp
	case "timestamptz", "timestamp with time zone":
		return TypeTimestamptz
	case "numeric", "decimal":
		return TypeNumeric
	default:
		return TypeUnsupported
	}
}

// Column describes one column of a row batch. TypeName is the database's
// own name for the type and is only used in diagnostics.
type Column struct {
	Name     string
	Type     ColumnType
	TypeName string
}

func (c Column) typeLabel() string {
	if c.TypeName != "" {
		return c.TypeName
	}
	return c.Type.String()
}

// Row is one result row. All rows of a batch share the same Columns slice.
type Row struct {
	Columns []Column
	Values  []any
}
