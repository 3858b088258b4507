package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

var errOverflow = errors.New("value out of range")

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return uintToInt64(uint64(n))
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		return uintToInt64(n)
	case float64:
		if n != math.Trunc(n) || n >= math.MaxInt64 || n < math.MinInt64 {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("cannot use %T as an integer", v)
	}
}

func uintToInt64(n uint64) (int64, error) {
	if n > math.MaxInt64 {
		return 0, errOverflow
	}
	return int64(n), nil
}

func toIntRange(v any, lo, hi int64) (int64, error) {
	n, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%d: %w", n, errOverflow)
	}
	return n, nil
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		i, err := toInt64(v)
		if err != nil {
			return 0, fmt.Errorf("cannot use %T as a float", v)
		}
		return float64(i), nil
	}
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case pgtype.Numeric:
		if !n.Valid {
			return decimal.Decimal{}, errors.New("null numeric")
		}
		if n.NaN || n.InfinityModifier != pgtype.Finite {
			return decimal.Decimal{}, errors.New("numeric is not finite")
		}
		if n.Int == nil {
			return decimal.Zero, nil
		}
		return decimal.NewFromBigInt(n.Int, n.Exp), nil
	case decimal.Decimal:
		return n, nil
	case string:
		return decimal.NewFromString(n)
	case []byte:
		return decimal.NewFromString(string(n))
	case json.Number:
		return decimal.NewFromString(n.String())
	case float32:
		return decimal.NewFromFloat32(n), nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Decimal{}, errors.New("float is not finite")
		}
		return decimal.NewFromFloat(n), nil
	default:
		i, err := toInt64(v)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("cannot use %T as a decimal", v)
		}
		return decimal.NewFromInt(i), nil
	}
}

// truncateInt64 drops the fractional part of d.
func truncateInt64(d decimal.Decimal) (int64, error) {
	bi := d.BigInt()
	if !bi.IsInt64() {
		return 0, fmt.Errorf("%s: %w", d.String(), errOverflow)
	}
	return bi.Int64(), nil
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case pgtype.Timestamp:
		if !t.Valid || t.InfinityModifier != pgtype.Finite {
			return time.Time{}, errors.New("timestamp is not finite")
		}
		return t.Time, nil
	case pgtype.Timestamptz:
		if !t.Valid || t.InfinityModifier != pgtype.Finite {
			return time.Time{}, errors.New("timestamptz is not finite")
		}
		return t.Time, nil
	case pgtype.Date:
		if !t.Valid || t.InfinityModifier != pgtype.Finite {
			return time.Time{}, errors.New("date is not finite")
		}
		return t.Time, nil
	default:
		return time.Time{}, fmt.Errorf("cannot use %T as a time", v)
	}
}

func toJSONText(v any) (string, error) {
	switch j := v.(type) {
	case json.RawMessage:
		return compactJSON(j)
	case []byte:
		return compactJSON(j)
	case string:
		if !json.Valid([]byte(j)) {
			return "", errors.New("invalid json text")
		}
		return compactJSON([]byte(j))
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

func compactJSON(b []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// appendFunc appends one non-null value to b.
type appendFunc func(b array.Builder, v any) error

func appendChar(b array.Builder, v any) error {
	var c int8
	switch x := v.(type) {
	case rune:
		if x < 0 || x > math.MaxUint8 {
			return fmt.Errorf("%d: %w", x, errOverflow)
		}
		c = int8(uint8(x))
	case string:
		if len(x) != 1 {
			return fmt.Errorf("%q is not a single byte", x)
		}
		c = int8(x[0])
	default:
		n, err := toIntRange(v, math.MinInt8, math.MaxInt8)
		if err != nil {
			return err
		}
		c = int8(n)
	}
	b.(*array.Int8Builder).Append(c)
	return nil
}

func appendBool(b array.Builder, v any) error {
	switch x := v.(type) {
	case bool:
		b.(*array.BooleanBuilder).Append(x)
	case string:
		p, err := strconv.ParseBool(x)
		if err != nil {
			return err
		}
		b.(*array.BooleanBuilder).Append(p)
	default:
		return fmt.Errorf("cannot use %T as a bool", v)
	}
	return nil
}

func appendInt16(b array.Builder, v any) error {
	n, err := toIntRange(v, math.MinInt16, math.MaxInt16)
	if err != nil {
		return err
	}
	b.(*array.Int16Builder).Append(int16(n))
	return nil
}

func appendInt32(b array.Builder, v any) error {
	n, err := toIntRange(v, math.MinInt32, math.MaxInt32)
	if err != nil {
		return err
	}
	b.(*array.Int32Builder).Append(int32(n))
	return nil
}

func appendInt64(b array.Builder, v any) error {
	n, err := toInt64(v)
	if err != nil {
		return err
	}
	b.(*array.Int64Builder).Append(n)
	return nil
}

func appendUint32(b array.Builder, v any) error {
	n, err := toIntRange(v, 0, math.MaxUint32)
	if err != nil {
		return err
	}
	b.(*array.Uint32Builder).Append(uint32(n))
	return nil
}

func appendFloat32(b array.Builder, v any) error {
	f, err := toFloat64(v)
	if err != nil {
		return err
	}
	b.(*array.Float32Builder).Append(float32(f))
	return nil
}

func appendFloat64(b array.Builder, v any) error {
	f, err := toFloat64(v)
	if err != nil {
		return err
	}
	b.(*array.Float64Builder).Append(f)
	return nil
}

func appendText(b array.Builder, v any) error {
	switch s := v.(type) {
	case string:
		b.(*array.StringBuilder).Append(s)
	case []byte:
		b.(*array.StringBuilder).Append(string(s))
	default:
		return fmt.Errorf("cannot use %T as text", v)
	}
	return nil
}

func appendJSON(b array.Builder, v any) error {
	s, err := toJSONText(v)
	if err != nil {
		return err
	}
	b.(*array.StringBuilder).Append(s)
	return nil
}

func appendDate(b array.Builder, v any) error {
	t, err := toTime(v)
	if err != nil {
		return err
	}
	b.(*array.Date32Builder).Append(arrow.Date32FromTime(t))
	return nil
}

func appendTimestamp(b array.Builder, v any) error {
	t, err := toTime(v)
	if err != nil {
		return err
	}
	ts, err := arrow.TimestampFromTime(t, arrow.Microsecond)
	if err != nil {
		return err
	}
	b.(*array.TimestampBuilder).Append(ts)
	return nil
}

// appendTruncated stores a decimal as int64, dropping the fraction.
func appendTruncated(b array.Builder, v any) error {
	d, err := toDecimal(v)
	if err != nil {
		return err
	}
	n, err := truncateInt64(d)
	if err != nil {
		return err
	}
	b.(*array.Int64Builder).Append(n)
	return nil
}

// appendEpochMillis reads a decimal number of milliseconds since the epoch.
func appendEpochMillis(b array.Builder, v any) error {
	if t, ok := v.(time.Time); ok {
		b.(*array.TimestampBuilder).Append(arrow.Timestamp(t.UnixMilli()))
		return nil
	}
	d, err := toDecimal(v)
	if err != nil {
		return err
	}
	ms, err := truncateInt64(d)
	if err != nil {
		return err
	}
	b.(*array.TimestampBuilder).Append(arrow.Timestamp(ms))
	return nil
}
