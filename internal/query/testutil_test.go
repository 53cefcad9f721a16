package query

import (
	"context"
	"fmt"
)

// memDataSource is a minimal in-memory DataSource used only by tests.
type memDataSource struct {
	name       string
	dataType   ColumnDataType
	sorted     []interface{}
	hasDict    bool
	isSorted   bool
}

func (d *memDataSource) ColumnName() string     { return d.name }
func (d *memDataSource) DataType() ColumnDataType { return d.dataType }
func (d *memDataSource) HasDictionary() bool    { return d.hasDict }
func (d *memDataSource) IsSorted() bool         { return d.isSorted }
func (d *memDataSource) Nullable() bool         { return false }
func (d *memDataSource) MinValue() (interface{}, bool) {
	if len(d.sorted) == 0 {
		return nil, false
	}
	return d.sorted[0], true
}
func (d *memDataSource) MaxValue() (interface{}, bool) {
	if len(d.sorted) == 0 {
		return nil, false
	}
	return d.sorted[len(d.sorted)-1], true
}
func (d *memDataSource) SortedValues() ([]interface{}, bool) {
	if !d.isSorted {
		return nil, false
	}
	return d.sorted, true
}

// groupRow is one raw input row for memSegment: a group key plus the
// numeric value to be summed/counted/etc. per aggregation column.
type groupRow struct {
	Key    []interface{}
	Values []interface{} // raw per-aggregation-column inputs, schema order
}

// memSegment is a minimal in-memory Segment for tests. Its
// ExecuteFilteredScan performs the segment-local group-by aggregation a
// real columnar segment would perform, producing one row per distinct
// group with intermediate (not final) aggregation values — exactly what
// the combine node's merge step expects to receive from a leaf plan.
type memSegment struct {
	id        string
	totalDocs int64
	mutable   bool
	sources   map[string]DataSource

	numKeyColumns int
	aggFuncs      []AggregationFunction
	rows          []groupRow
}

func (s *memSegment) ID() string        { return s.id }
func (s *memSegment) TotalDocs() int64  { return s.totalDocs }
func (s *memSegment) IsMutable() bool   { return s.mutable }
func (s *memSegment) LastIndexedTimeMs() (int64, bool)      { return 0, false }
func (s *memSegment) LatestIngestionTimeMs() (int64, bool)  { return 0, false }

func (s *memSegment) DataSource(column string) (DataSource, bool) {
	ds, ok := s.sources[column]
	return ds, ok
}

func (s *memSegment) ExecuteFilteredScan(ctx context.Context, q *QueryContext) (*LeafResult, error) {
	numAgg := len(s.aggFuncs)
	schema := &DataSchema{NumKeyColumns: s.numKeyColumns}
	for i := 0; i < s.numKeyColumns; i++ {
		schema.Columns = append(schema.Columns, ColumnSpec{Name: fmt.Sprintf("k%d", i), Type: ColumnString})
	}
	for i := 0; i < numAgg; i++ {
		schema.Columns = append(schema.Columns, ColumnSpec{Name: fmt.Sprintf("a%d", i), Type: ColumnLong})
	}

	groups := map[string][]interface{}{}
	order := []string{}
	keys := map[string][]interface{}{}
	for _, row := range s.rows {
		hk := hashKey(Key{Values: row.Key})
		existing, ok := groups[hk]
		if !ok {
			existing = make([]interface{}, numAgg)
			for i, fn := range s.aggFuncs {
				existing[i] = fn.Init()
			}
			order = append(order, hk)
			keys[hk] = row.Key
		}
		for i, fn := range s.aggFuncs {
			existing[i] = fn.Merge(existing[i], row.Values[i])
		}
		groups[hk] = existing
	}

	var records []Record
	for _, hk := range order {
		values := append([]interface{}{}, keys[hk]...)
		values = append(values, groups[hk]...)
		records = append(records, Record{Values: values})
	}
	return &LeafResult{Schema: schema, Records: records, NumDocsScanned: int64(len(s.rows))}, nil
}
