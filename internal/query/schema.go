package query

import "fmt"

// ColumnDataType enumerates the wire/runtime types a DataSchema column may carry.
type ColumnDataType int

const (
	ColumnInt ColumnDataType = iota
	ColumnLong
	ColumnFloat
	ColumnDouble
	ColumnString
	ColumnBytes
	ColumnObject
)

func (t ColumnDataType) String() string {
	switch t {
	case ColumnInt:
		return "INT"
	case ColumnLong:
		return "LONG"
	case ColumnFloat:
		return "FLOAT"
	case ColumnDouble:
		return "DOUBLE"
	case ColumnString:
		return "STRING"
	case ColumnBytes:
		return "BYTES"
	case ColumnObject:
		return "OBJECT"
	default:
		return "UNKNOWN"
	}
}

// ColumnSpec is one (name, type) pair in a DataSchema.
type ColumnSpec struct {
	Name string
	Type ColumnDataType
}

// DataSchema is the ordered column layout shared by every Record emitted from
// the same result. NumKeyColumns is an explicit invariant: columns
// [0, NumKeyColumns) are group-by key columns, the rest are aggregation
// intermediate-result columns. It is never reconstructed from column names.
type DataSchema struct {
	Columns       []ColumnSpec
	NumKeyColumns int
}

func (s *DataSchema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

func (s *DataSchema) ColumnType(i int) ColumnDataType {
	return s.Columns[i].Type
}

func (s *DataSchema) Size() int {
	return len(s.Columns)
}

// Key is an ordered tuple of group-by values. Equality and hashing are
// componentwise through hashKey's string form, which the tables use as
// their map key; every component is a comparable scalar, which the
// aggregation/select expression model guarantees.
type Key struct {
	Values []interface{}
}

// hashKey produces a cheap, deterministic string hash of a Key so it can be
// used as a concurrent map key and as a tie-break secondary ranking value.
func hashKey(k Key) string {
	// fmt.Sprint over a slice of interfaces is stable for comparable scalars
	// (numbers, strings, bools) which is all the expression model produces.
	return fmt.Sprint(k.Values)
}

// Record is an ordered tuple of column values: key columns first, then
// aggregation intermediate-result columns, consistent with its DataSchema.
type Record struct {
	Values []interface{}
}

func (r Record) Key(numKeyColumns int) Key {
	return Key{Values: append([]interface{}(nil), r.Values[:numKeyColumns]...)}
}

func NewRecord(key Key, aggValues []interface{}) Record {
	values := make([]interface{}, 0, len(key.Values)+len(aggValues))
	values = append(values, key.Values...)
	values = append(values, aggValues...)
	return Record{Values: values}
}
