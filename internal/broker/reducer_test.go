package broker

import (
	"fmt"
	"sort"
	"testing"

	"github.com/basekick-labs/arc-query/internal/query"
)

// sortGroups gives a deterministic view of an AggregationResult's rows for
// assertions that don't otherwise depend on group order.
func sortGroups(results []GroupByResult) {
	sort.Slice(results, func(i, j int) bool {
		return fmt.Sprint(results[i].Group) < fmt.Sprint(results[j].Group)
	})
}

func groupBySchema() *query.DataSchema {
	return &query.DataSchema{
		Columns: []query.ColumnSpec{
			{Name: "g1", Type: query.ColumnString},
			{Name: "g2", Type: query.ColumnString},
			{Name: "agg", Type: query.ColumnDouble},
		},
		NumKeyColumns: 2,
	}
}

func sumExpr() query.Expression {
	return query.Expression{Kind: query.ExprFunctionCall, Function: "sum", Args: []query.Expression{{Kind: query.ExprIdentifier, Identifier: "n"}}}
}

func twoServerTables() map[string]*query.DataTable {
	schema := groupBySchema()
	a := query.NewDataTable(schema)
	a.Rows = []query.Record{
		{Values: []interface{}{"x", "p", 3.0}},
		{Values: []interface{}{"y", "q", 1.0}},
	}
	b := query.NewDataTable(schema)
	b.Rows = []query.Record{
		{Values: []interface{}{"x", "p", 4.0}}, // merges with a's (x,p) -> 7
		{Values: []interface{}{"z", "r", 10.0}},
	}
	return map[string]*query.DataTable{"server-a": a, "server-b": b}
}

func baseGroupByRequest() *query.QueryContext {
	return &query.QueryContext{
		Select: []query.Expression{
			sumExpr(),
			{Kind: query.ExprIdentifier, Identifier: "g2"},
			{Kind: query.ExprIdentifier, Identifier: "g1"},
		},
		GroupBy: []query.Expression{
			{Kind: query.ExprIdentifier, Identifier: "g1"},
			{Kind: query.ExprIdentifier, Identifier: "g2"},
		},
		OrderBy: []query.OrderByExpression{{Expression: sumExpr(), Direction: query.Descending}},
		Limit:   3,
		SQL:     true,
	}
}

// Scenario 6: sql/sql routing reorders columns to match select order.
func TestReducer_GroupBySQLTable_ReordersColumns(t *testing.T) {
	req := baseGroupByRequest()
	req.Options = query.QueryOptions{"groupByMode": "sql", "responseFormat": "sql"}

	r := NewReducer()
	resp := r.Reduce(twoServerTables(), req)

	if resp.Table == nil {
		t.Fatal("expected a populated ResultTable for sql/sql routing")
	}
	if len(resp.Table.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(resp.Table.Rows))
	}
	// Column order must follow the select list: agg, g2, g1.
	if resp.Table.Schema.Columns[0].Name != "agg" || resp.Table.Schema.Columns[1].Name != "g2" || resp.Table.Schema.Columns[2].Name != "g1" {
		t.Fatalf("expected reordered columns [agg,g2,g1], got %#v", resp.Table.Schema.Columns)
	}
	row0 := resp.Table.Rows[0]
	if row0.Values[0].(float64) != 10 || row0.Values[1] != "r" || row0.Values[2] != "z" {
		t.Fatalf("expected top row (10,r,z), got %#v", row0.Values)
	}
	row1 := resp.Table.Rows[1]
	if row1.Values[0].(float64) != 7 || row1.Values[1] != "p" || row1.Values[2] != "x" {
		t.Fatalf("expected second row (7,p,x), got %#v", row1.Values)
	}
}

// groupByMode=sql, responseFormat=pql: one AggregationResult per function,
// sharing groups, no column reordering concept applies.
func TestReducer_GroupBySQLAggregationResults(t *testing.T) {
	req := baseGroupByRequest()
	req.Options = query.QueryOptions{"groupByMode": "sql"}

	r := NewReducer()
	resp := r.Reduce(twoServerTables(), req)

	if resp.Table != nil {
		t.Fatal("expected no ResultTable for groupByMode=sql, responseFormat=pql")
	}
	if len(resp.AggregationResults) != 1 {
		t.Fatalf("expected 1 aggregation result (sum), got %d", len(resp.AggregationResults))
	}
	if resp.AggregationResults[0].Function != "sum" {
		t.Fatalf("expected function name sum, got %s", resp.AggregationResults[0].Function)
	}
	if len(resp.AggregationResults[0].Results) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(resp.AggregationResults[0].Results))
	}
}

// groupByMode=pql, responseFormat=sql: legacy merge, single table, no
// column reordering (unlike the genuine sql/sql path).
func TestReducer_LegacyPQLGroupBy_SQLTable(t *testing.T) {
	req := baseGroupByRequest()
	req.SQL = false
	req.Options = query.QueryOptions{"responseFormat": "sql"}

	r := NewReducer()
	resp := r.Reduce(twoServerTables(), req)

	if resp.Table == nil {
		t.Fatal("expected a populated ResultTable")
	}
	// No reorder: schema stays in its original (g1,g2,agg) order.
	if resp.Table.Schema.Columns[0].Name != "g1" || resp.Table.Schema.Columns[2].Name != "agg" {
		t.Fatalf("expected unreordered columns, got %#v", resp.Table.Schema.Columns)
	}
}

// groupByMode=pql, responseFormat=pql, preserveType=false: values are
// formatted as strings via the formatting law.
func TestReducer_LegacyPQLGroupBy_FormattedValues(t *testing.T) {
	req := baseGroupByRequest()
	req.SQL = false
	req.Options = query.QueryOptions{"preserveType": "false"}

	r := NewReducer()
	resp := r.Reduce(twoServerTables(), req)

	if len(resp.AggregationResults) != 1 {
		t.Fatalf("expected 1 aggregation result, got %d", len(resp.AggregationResults))
	}
	for _, gr := range resp.AggregationResults[0].Results {
		if _, ok := gr.Value.(string); !ok {
			t.Fatalf("expected string-formatted value under preserveType=false, got %#v (%T)", gr.Value, gr.Value)
		}
	}
}

// Non-group-by queries are concatenated and limit-truncated, not merged
// through the IndexedTable.
func TestReducer_NonGroupBy_ConcatenatesAndTruncates(t *testing.T) {
	schema := &query.DataSchema{Columns: []query.ColumnSpec{{Name: "v", Type: query.ColumnLong}}}
	a := query.NewDataTable(schema)
	a.Rows = []query.Record{{Values: []interface{}{int64(1)}}, {Values: []interface{}{int64(2)}}}
	b := query.NewDataTable(schema)
	b.Rows = []query.Record{{Values: []interface{}{int64(3)}}}

	req := &query.QueryContext{
		Select: []query.Expression{{Kind: query.ExprIdentifier, Identifier: "v"}},
		Limit:  2,
	}
	r := NewReducer()
	resp := r.Reduce(map[string]*query.DataTable{"a": a, "b": b}, req)
	if resp.Table == nil || len(resp.Table.Rows) != 2 {
		t.Fatalf("expected 2 rows after limit truncation, got %#v", resp.Table)
	}
}

// A group-by request with no explicit limit must not lose every group to
// a zero-capacity IndexedTable trim.
func TestReducer_GroupByWithNoLimit_KeepsAllGroups(t *testing.T) {
	req := baseGroupByRequest()
	req.Limit = 0
	req.Options = query.QueryOptions{"groupByMode": "sql", "responseFormat": "sql"}

	r := NewReducer()
	resp := r.Reduce(twoServerTables(), req)

	if resp.Table == nil {
		t.Fatal("expected a populated ResultTable")
	}
	if len(resp.Table.Rows) != 3 {
		t.Fatalf("expected all 3 groups to survive an unlimited group-by, got %d: %#v", len(resp.Table.Rows), resp.Table.Rows)
	}
}

func TestReducer_CollectsExceptionsFromAllServers(t *testing.T) {
	schema := groupBySchema()
	a := query.NewDataTable(schema)
	a.AddException(query.ErrQueryExecution, "boom on server a")
	b := query.NewDataTable(schema)
	b.AddException(query.ErrSchedulingTimeout, "timeout on server b")

	req := baseGroupByRequest()
	req.Options = query.QueryOptions{"groupByMode": "sql", "responseFormat": "sql"}
	r := NewReducer()
	resp := r.Reduce(map[string]*query.DataTable{"a": a, "b": b}, req)
	if len(resp.Exceptions) != 2 {
		t.Fatalf("expected exceptions from both servers, got %#v", resp.Exceptions)
	}
}
