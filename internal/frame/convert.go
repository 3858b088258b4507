package frame

import (
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/zoravur/materialize-live/internal/apperr"
)

var (
	timestampMicros   = &arrow.TimestampType{Unit: arrow.Microsecond}
	timestamptzMicros = &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
)

// Converter builds frames from row batches. The zero value is ready to use.
type Converter struct {
	Alloc memory.Allocator
	// Now stamps synthesized mz_timestamp columns.
	Now func() time.Time
}

// Convert uses a zero Converter.
func Convert(rows []Row) (*Frame, error) {
	return Converter{}.Convert(rows)
}

// decoder is the per-column decode strategy chosen from the declared type.
type decoder struct {
	dt     arrow.DataType
	append appendFunc
	// lenient decoders store null instead of failing the batch
	lenient bool
	// constant is written for every non-null row when set
	constant *string
}

func decoderFor(col Column) decoder {
	switch col.Name {
	case TimestampColumn:
		if col.Type == TypeNumeric || col.Type.isInteger() || col.Type == TypeTimestamptz {
			return decoder{dt: arrow.FixedWidthTypes.Timestamp_ms, append: appendEpochMillis}
		}
	case DiffColumn:
		if col.Type.isInteger() {
			return decoder{dt: arrow.PrimitiveTypes.Int64, append: appendInt64}
		}
	}

	switch col.Type {
	case TypeChar:
		return decoder{dt: arrow.PrimitiveTypes.Int8, append: appendChar}
	case TypeBool:
		return decoder{dt: arrow.FixedWidthTypes.Boolean, append: appendBool}
	case TypeInt2:
		return decoder{dt: arrow.PrimitiveTypes.Int16, append: appendInt16}
	case TypeInt4:
		return decoder{dt: arrow.PrimitiveTypes.Int32, append: appendInt32}
	case TypeInt8:
		return decoder{dt: arrow.PrimitiveTypes.Int64, append: appendInt64}
	case TypeFloat4:
		return decoder{dt: arrow.PrimitiveTypes.Float32, append: appendFloat32}
	case TypeFloat8:
		return decoder{dt: arrow.PrimitiveTypes.Float64, append: appendFloat64}
	case TypeOID:
		return decoder{dt: arrow.PrimitiveTypes.Uint32, append: appendUint32}
	case TypeText:
		return decoder{dt: arrow.BinaryTypes.String, append: appendText}
	case TypeJSON:
		return decoder{dt: arrow.BinaryTypes.String, append: appendJSON}
	case TypeDate:
		return decoder{dt: arrow.FixedWidthTypes.Date32, append: appendDate}
	case TypeTimestamp:
		return decoder{dt: timestampMicros, append: appendTimestamp}
	case TypeTimestamptz:
		return decoder{dt: timestamptzMicros, append: appendTimestamp}
	case TypeNumeric:
		return decoder{dt: arrow.PrimitiveTypes.Int64, append: appendTruncated, lenient: true}
	default:
		msg := fmt.Sprintf("unsupported column type %s", col.typeLabel())
		return decoder{dt: arrow.BinaryTypes.String, constant: &msg}
	}
}

// Convert builds one frame from a homogeneous batch. An empty batch yields an
// empty fieldless frame. A value that cannot be decoded for a known column
// type fails the whole batch, except numeric columns which store null.
func (c Converter) Convert(rows []Row) (*Frame, error) {
	f := New(DefaultName)
	if len(rows) == 0 {
		return f, nil
	}

	cols := rows[0].Columns
	for r, row := range rows {
		if len(row.Values) != len(cols) {
			return nil, apperr.Newf(apperr.Conversion, "row %d has %d values, want %d", r, len(row.Values), len(cols))
		}
	}

	var hasTimestamp, hasDiff bool
	for _, col := range cols {
		switch col.Name {
		case TimestampColumn:
			hasTimestamp = true
		case DiffColumn:
			hasDiff = true
		}
	}

	// A synthesized mz_diff always directly follows mz_timestamp, whether
	// that one is synthesized or from the source.
	needDiff := !hasDiff
	if !hasTimestamp {
		f.Fields = append(f.Fields, c.nowColumn(len(rows)))
		if needDiff {
			f.Fields = append(f.Fields, c.nullColumn(DiffColumn, arrow.PrimitiveTypes.Int64, len(rows)))
			needDiff = false
		}
	}

	for i, col := range cols {
		field, err := c.convertColumn(rows, i, col)
		if err != nil {
			f.Release()
			return nil, err
		}
		f.Fields = append(f.Fields, field)
		if needDiff && col.Name == TimestampColumn {
			f.Fields = append(f.Fields, c.nullColumn(DiffColumn, arrow.PrimitiveTypes.Int64, len(rows)))
			needDiff = false
		}
	}
	return f, nil
}

func (c Converter) convertColumn(rows []Row, idx int, col Column) (*Field, error) {
	dec := decoderFor(col)
	b := array.NewBuilder(c.alloc(), dec.dt)
	defer b.Release()
	b.Reserve(len(rows))

	for r, row := range rows {
		v := row.Values[idx]
		switch {
		case dec.constant != nil:
			b.(*array.StringBuilder).Append(*dec.constant)
		case v == nil:
			b.AppendNull()
		default:
			if err := dec.append(b, v); err != nil {
				if dec.lenient {
					b.AppendNull()
					continue
				}
				return nil, apperr.Wrap(apperr.Conversion,
					fmt.Sprintf("column %q (%s) row %d", col.Name, col.typeLabel(), r), err)
			}
		}
	}
	return &Field{Name: col.Name, Values: b.NewArray()}, nil
}

func (c Converter) nowColumn(n int) *Field {
	b := array.NewTimestampBuilder(c.alloc(), arrow.FixedWidthTypes.Timestamp_ms.(*arrow.TimestampType))
	defer b.Release()
	ts := arrow.Timestamp(c.now().UnixMilli())
	for i := 0; i < n; i++ {
		b.Append(ts)
	}
	return &Field{Name: TimestampColumn, Values: b.NewArray()}
}

func (c Converter) nullColumn(name string, dt arrow.DataType, n int) *Field {
	b := array.NewBuilder(c.alloc(), dt)
	defer b.Release()
	b.AppendNulls(n)
	return &Field{Name: name, Values: b.NewArray()}
}

func (c Converter) alloc() memory.Allocator {
	if c.Alloc != nil {
		return c.Alloc
	}
	return memory.DefaultAllocator
}

func (c Converter) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
