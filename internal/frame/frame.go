// Package frame converts database row batches into typed columnar frames.
//
// A Frame holds one arrow array per column, all of equal length. Every
// non-empty Frame carries an mz_timestamp and an mz_diff column so that
// snapshot frames and changefeed frames share a layout: when the source
// schema lacks them they are synthesized as the two leading fields.
package frame

import (
	"encoding/json"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

const (
	// DefaultName is the name given to every converted frame.
	DefaultName = "tail"
	// TimestampColumn is the ingestion time, epoch milliseconds upstream.
	TimestampColumn = "mz_timestamp"
	// DiffColumn is the change multiplicity: +1 insert, -1 retraction.
	DiffColumn = "mz_diff"
)

// Field is a named column.
type Field struct {
	Name   string
	Values arrow.Array
}

// Meta travels with a frame to the caller.
type Meta struct {
	Channel string `json:"channel,omitempty"`
}

type Frame struct {
	Name   string
	Fields []*Field
	Meta   *Meta
}

func New(name string) *Frame {
	return &Frame{Name: name}
}

// Rows is the shared column length; zero for a fieldless frame.
func (f *Frame) Rows() int {
	if len(f.Fields) == 0 {
		return 0
	}
	return f.Fields[0].Values.Len()
}

// Empty reports whether f carries no fields, meaning no data yet.
func (f *Frame) Empty() bool { return len(f.Fields) == 0 }

// Field returns the field named name, or nil.
func (f *Frame) Field(name string) *Field {
	for _, fl := range f.Fields {
		if fl.Name == name {
			return fl
		}
	}
	return nil
}

// SetChannel tags f with the stream it can be followed on.
func (f *Frame) SetChannel(ch string) {
	if f.Meta == nil {
		f.Meta = &Meta{}
	}
	f.Meta.Channel = ch
}

func (f *Frame) Release() {
	for _, fl := range f.Fields {
		fl.Values.Release()
	}
}

type jsonField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type jsonSchema struct {
	Name   string      `json:"name"`
	Meta   *Meta       `json:"meta,omitempty"`
	Fields []jsonField `json:"fields"`
}

type jsonData struct {
	Values [][]any `json:"values"`
}

type jsonFrame struct {
	Schema jsonSchema `json:"schema"`
	Data   jsonData   `json:"data"`
}

// MarshalJSON writes a schema/data layout. Temporal values are epoch
// milliseconds; nulls and non-finite floats are null.
func (f *Frame) MarshalJSON() ([]byte, error) {
	out := jsonFrame{
		Schema: jsonSchema{Name: f.Name, Meta: f.Meta, Fields: make([]jsonField, 0, len(f.Fields))},
		Data:   jsonData{Values: make([][]any, 0, len(f.Fields))},
	}
	for _, fl := range f.Fields {
		out.Schema.Fields = append(out.Schema.Fields, jsonField{Name: fl.Name, Type: fieldKind(fl.Values.DataType())})
		out.Data.Values = append(out.Data.Values, columnValues(fl.Values))
	}
	return json.Marshal(out)
}

func fieldKind(dt arrow.DataType) string {
	switch dt.ID() {
	case arrow.TIMESTAMP, arrow.DATE32:
		return "time"
	case arrow.BOOL:
		return "boolean"
	case arrow.STRING:
		return "string"
	default:
		return "number"
	}
}

func columnValues(arr arrow.Array) []any {
	out := make([]any, arr.Len())
	for i := range out {
		if arr.IsNull(i) {
			continue
		}
		switch a := arr.(type) {
		case *array.Timestamp:
			unit := a.DataType().(*arrow.TimestampType).Unit
			out[i] = a.Value(i).ToTime(unit).UnixMilli()
		case *array.Date32:
			out[i] = a.Value(i).ToTime().UnixMilli()
		case *array.Float32:
			out[i] = finite(float64(a.Value(i)))
		case *array.Float64:
			out[i] = finite(a.Value(i))
		default:
			out[i] = arr.GetOneForMarshal(i)
		}
	}
	return out
}

func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}
