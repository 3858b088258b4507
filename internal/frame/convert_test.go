package frame

import (
	"encoding/json"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/zoravur/materialize-live/internal/apperr"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testConverter() Converter {
	return Converter{Now: func() time.Time { return fixedNow }}
}

func batch(cols []Column, values ...[]any) []Row {
	rows := make([]Row, len(values))
	for i, v := range values {
		rows[i] = Row{Columns: cols, Values: v}
	}
	return rows
}

func fieldNames(f *Frame) []string {
	out := make([]string, len(f.Fields))
	for i, fl := range f.Fields {
		out[i] = fl.Name
	}
	return out
}

func TestConvertEmptyBatch(t *testing.T) {
	f, err := Convert(nil)
	require.NoError(t, err)
	require.True(t, f.Empty())
	require.Equal(t, 0, f.Rows())
	require.Equal(t, DefaultName, f.Name)
}

func TestConvertSynthesizesMetadataColumns(t *testing.T) {
	r := require.New(t)

	cols := []Column{{Name: "id", Type: TypeInt4}, {Name: "name", Type: TypeText}}
	f, err := testConverter().Convert(batch(cols,
		[]any{int32(1), "ada"},
		[]any{int32(2), nil},
		[]any{int32(3), "grace"},
	))
	r.NoError(err)
	defer f.Release()

	r.Equal([]string{TimestampColumn, DiffColumn, "id", "name"}, fieldNames(f))
	r.Equal(3, f.Rows())
	for _, fl := range f.Fields {
		r.Equal(3, fl.Values.Len(), fl.Name)
	}

	ts := f.Field(TimestampColumn).Values.(*array.Timestamp)
	r.Equal(0, ts.NullN())
	for i := 0; i < ts.Len(); i++ {
		r.Equal(fixedNow.UnixMilli(), int64(ts.Value(i)))
	}

	diff := f.Field(DiffColumn).Values
	r.Equal(3, diff.NullN())
	r.Equal(arrow.INT64, diff.DataType().ID())

	names := f.Field("name").Values.(*array.String)
	r.Equal("ada", names.Value(0))
	r.True(names.IsNull(1))
}

func TestConvertKeepsChangefeedColumns(t *testing.T) {
	r := require.New(t)

	cols := []Column{
		{Name: TimestampColumn, Type: TypeNumeric},
		{Name: DiffColumn, Type: TypeInt8},
		{Name: "total", Type: TypeFloat8},
	}
	ms := fixedNow.Add(-time.Hour).UnixMilli()
	f, err := testConverter().Convert(batch(cols,
		[]any{pgtype.Numeric{Int: big.NewInt(ms), Valid: true}, int64(-1), 9.5},
	))
	r.NoError(err)

	r.Equal([]string{TimestampColumn, DiffColumn, "total"}, fieldNames(f))
	ts := f.Field(TimestampColumn).Values.(*array.Timestamp)
	r.Equal(ms, int64(ts.Value(0)))
	r.Equal(int64(-1), f.Field(DiffColumn).Values.(*array.Int64).Value(0))
}

func TestConvertSynthesizedDiffFollowsSourceTimestamp(t *testing.T) {
	r := require.New(t)

	cols := []Column{
		{Name: "id", Type: TypeInt4},
		{Name: TimestampColumn, Type: TypeNumeric},
	}
	ms := fixedNow.UnixMilli()
	f, err := testConverter().Convert(batch(cols,
		[]any{int32(7), pgtype.Numeric{Int: big.NewInt(ms), Valid: true}},
	))
	r.NoError(err)
	defer f.Release()

	r.Equal([]string{"id", TimestampColumn, DiffColumn}, fieldNames(f))
	r.Equal(1, f.Field(DiffColumn).Values.NullN())
}

func TestToInt64RejectsOutOfRangeFloats(t *testing.T) {
	r := require.New(t)

	_, err := toInt64(float64(1 << 63))
	r.Error(err)
	_, err = toInt64(float64(math.MaxInt64))
	r.Error(err)
	_, err = toInt64(-float64(1<<63) * 2)
	r.Error(err)

	n, err := toInt64(float64(math.MinInt64))
	r.NoError(err)
	r.Equal(int64(math.MinInt64), n)

	n, err = toInt64(float64(1 << 62))
	r.NoError(err)
	r.Equal(int64(1<<62), n)
}

func TestConvertEpochMillisFromDecimalFraction(t *testing.T) {
	cols := []Column{{Name: TimestampColumn, Type: TypeNumeric}}
	// 1700000000000.75 ms
	v := pgtype.Numeric{Int: big.NewInt(170000000000075), Exp: -2, Valid: true}
	f, err := testConverter().Convert(batch(cols, []any{v}))
	require.NoError(t, err)
	require.Equal(t, int64(1700000000000), int64(f.Field(TimestampColumn).Values.(*array.Timestamp).Value(0)))
}

func TestConvertNumericTruncatesAndNullsOnOverflow(t *testing.T) {
	r := require.New(t)

	huge, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
	r.True(ok)

	cols := []Column{{Name: "amount", Type: TypeNumeric}}
	f, err := testConverter().Convert(batch(cols,
		[]any{pgtype.Numeric{Int: big.NewInt(12345), Exp: -2, Valid: true}},
		[]any{pgtype.Numeric{Int: huge, Valid: true}},
		[]any{decimal.RequireFromString("-7.9")},
		[]any{pgtype.Numeric{NaN: true, Valid: true}},
		[]any{nil},
	))
	r.NoError(err)

	amount := f.Field("amount").Values.(*array.Int64)
	r.Equal(int64(123), amount.Value(0))
	r.True(amount.IsNull(1))
	r.Equal(int64(-7), amount.Value(2))
	r.True(amount.IsNull(3))
	r.True(amount.IsNull(4))
}

func TestConvertUnsupportedType(t *testing.T) {
	r := require.New(t)

	cols := []Column{{Name: "blob", Type: TypeUnsupported, TypeName: "bytea"}}
	f, err := testConverter().Convert(batch(cols, []any{[]byte{1, 2}}, []any{nil}))
	r.NoError(err)

	blob := f.Field("blob").Values.(*array.String)
	r.Equal(2, blob.Len())
	r.Equal("unsupported column type bytea", blob.Value(0))
	r.Equal("unsupported column type bytea", blob.Value(1))
}

func TestConvertKnownTypeFailureIsBatchError(t *testing.T) {
	cols := []Column{{Name: "n", Type: TypeInt2}}
	_, err := testConverter().Convert(batch(cols, []any{int64(1)}, []any{int64(70000)}))
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.Conversion))
	require.Contains(t, err.Error(), `column "n"`)

	cols = []Column{{Name: "d", Type: TypeDate}}
	_, err = testConverter().Convert(batch(cols, []any{pgtype.Infinity}))
	require.True(t, apperr.Is(err, apperr.Conversion))
}

func TestConvertRaggedRows(t *testing.T) {
	cols := []Column{{Name: "a", Type: TypeInt4}, {Name: "b", Type: TypeInt4}}
	_, err := testConverter().Convert(batch(cols, []any{int32(1), int32(2)}, []any{int32(1)}))
	require.True(t, apperr.Is(err, apperr.Conversion))
}

func TestConvertTypeDispatch(t *testing.T) {
	r := require.New(t)

	day := time.Date(2023, 7, 14, 0, 0, 0, 0, time.UTC)
	at := time.Date(2023, 7, 14, 8, 30, 0, 0, time.UTC)
	cols := []Column{
		{Name: "c", Type: TypeChar},
		{Name: "flag", Type: TypeBool},
		{Name: "i2", Type: TypeInt2},
		{Name: "i8", Type: TypeInt8},
		{Name: "f4", Type: TypeFloat4},
		{Name: "oid", Type: TypeOID},
		{Name: "doc", Type: TypeJSON},
		{Name: "day", Type: TypeDate},
		{Name: "at", Type: TypeTimestamp},
		{Name: "atz", Type: TypeTimestamptz},
	}
	f, err := testConverter().Convert(batch(cols, []any{
		rune('x'), true, int16(-4), int64(1) << 40, float32(1.5), uint32(16384),
		map[string]any{"b": 1, "a": []any{"x"}}, day, at, at,
	}))
	r.NoError(err)

	r.Equal(int8('x'), f.Field("c").Values.(*array.Int8).Value(0))
	r.True(f.Field("flag").Values.(*array.Boolean).Value(0))
	r.Equal(int16(-4), f.Field("i2").Values.(*array.Int16).Value(0))
	r.Equal(int64(1)<<40, f.Field("i8").Values.(*array.Int64).Value(0))
	r.Equal(float32(1.5), f.Field("f4").Values.(*array.Float32).Value(0))
	r.Equal(uint32(16384), f.Field("oid").Values.(*array.Uint32).Value(0))
	r.Equal(`{"a":["x"],"b":1}`, f.Field("doc").Values.(*array.String).Value(0))
	r.True(day.Equal(f.Field("day").Values.(*array.Date32).Value(0).ToTime()))
	r.True(at.Equal(f.Field("at").Values.(*array.Timestamp).Value(0).ToTime(arrow.Microsecond)))
	r.Equal("UTC", f.Field("atz").Values.DataType().(*arrow.TimestampType).TimeZone)
	r.Empty(f.Field("at").Values.DataType().(*arrow.TimestampType).TimeZone)
}

func TestConvertJSONText(t *testing.T) {
	cols := []Column{{Name: "doc", Type: TypeJSON}}
	f, err := testConverter().Convert(batch(cols,
		[]any{json.RawMessage(`{ "k" : [1, 2] }`)},
		[]any{`"str"`},
	))
	require.NoError(t, err)
	doc := f.Field("doc").Values.(*array.String)
	require.Equal(t, `{"k":[1,2]}`, doc.Value(0))
	require.Equal(t, `"str"`, doc.Value(1))

	_, err = testConverter().Convert(batch(cols, []any{"not json"}))
	require.True(t, apperr.Is(err, apperr.Conversion))
}

func TestFrameMarshalJSON(t *testing.T) {
	r := require.New(t)

	cols := []Column{{Name: "id", Type: TypeInt8}, {Name: "day", Type: TypeDate}, {Name: "ratio", Type: TypeFloat8}}
	day := time.Date(2023, 7, 14, 0, 0, 0, 0, time.UTC)
	f, err := testConverter().Convert(batch(cols, []any{int64(7), day, nil}))
	r.NoError(err)
	f.SetChannel("ds/mz/tail/relation/orders")

	b, err := json.Marshal(f)
	r.NoError(err)

	var got struct {
		Schema struct {
			Name string `json:"name"`
			Meta struct {
				Channel string `json:"channel"`
			} `json:"meta"`
			Fields []struct {
				Name string `json:"name"`
				Type string `json:"type"`
			} `json:"fields"`
		} `json:"schema"`
		Data struct {
			Values [][]any `json:"values"`
		} `json:"data"`
	}
	r.NoError(json.Unmarshal(b, &got))

	r.Equal("tail", got.Schema.Name)
	r.Equal("ds/mz/tail/relation/orders", got.Schema.Meta.Channel)
	r.Len(got.Schema.Fields, 5)
	r.Equal("time", got.Schema.Fields[0].Type)
	r.Equal("number", got.Schema.Fields[1].Type)
	r.Equal("time", got.Schema.Fields[3].Type)

	r.Equal(float64(fixedNow.UnixMilli()), got.Data.Values[0][0])
	r.Nil(got.Data.Values[1][0])
	r.Equal(float64(7), got.Data.Values[2][0])
	r.Equal(float64(day.UnixMilli()), got.Data.Values[3][0])
	r.Nil(got.Data.Values[4][0])
}

func TestTypeMapping(t *testing.T) {
	r := require.New(t)

	r.Equal(TypeInt4, TypeForOID(pgtype.Int4OID))
	r.Equal(TypeJSON, TypeForOID(pgtype.JSONBOID))
	r.Equal(TypeUnsupported, TypeForOID(pgtype.ByteaOID))

	r.Equal(TypeText, TypeForName("character varying(64)"))
	r.Equal(TypeNumeric, TypeForName("numeric(10,2)"))
	r.Equal(TypeTimestamptz, TypeForName("timestamp(3) with time zone"))
	r.Equal(TypeTimestamp, TypeForName("timestamp without time zone"))
	r.Equal(TypeChar, TypeForName(`"char"`))
	r.Equal(TypeUnsupported, TypeForName("uuid"))
}
