package segstore

import (
	"reflect"
	"testing"

	"github.com/basekick-labs/arc-query/internal/query"
)

func TestReferencedColumns(t *testing.T) {
	q := &query.QueryContext{
		Select: []query.Expression{
			{Kind: query.ExprIdentifier, Identifier: "region"},
			{Kind: query.ExprFunctionCall, Function: "sum", Args: []query.Expression{
				{Kind: query.ExprIdentifier, Identifier: "bytes"},
			}},
		},
		GroupBy: []query.Expression{{Kind: query.ExprIdentifier, Identifier: "region"}},
		Filter: &query.FilterExpression{
			Op:     query.FilterRange,
			Column: "ts",
			Lower:  int64(0),
			Upper:  int64(100),
		},
	}

	got := referencedColumns(q)
	want := []string{"region", "bytes", "ts"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("referencedColumns = %v, want %v", got, want)
	}
}

func TestReferencedColumns_NoDuplicates(t *testing.T) {
	q := &query.QueryContext{
		Select:  []query.Expression{{Kind: query.ExprIdentifier, Identifier: "region"}},
		GroupBy: []query.Expression{{Kind: query.ExprIdentifier, Identifier: "region"}},
	}
	got := referencedColumns(q)
	if len(got) != 1 || got[0] != "region" {
		t.Errorf("referencedColumns = %v, want [region]", got)
	}
}

func TestCollectFilterColumns_Nested(t *testing.T) {
	f := &query.FilterExpression{
		Op: query.FilterAnd,
		Children: []query.FilterExpression{
			{Op: query.FilterEquals, Column: "region", Value: "us"},
			{
				Op: query.FilterOr,
				Children: []query.FilterExpression{
					{Op: query.FilterEquals, Column: "status", Value: "ok"},
					{Op: query.FilterNotEquals, Column: "status", Value: "error"},
				},
			},
		},
	}
	got := collectFilterColumns(f)
	want := []string{"region", "status", "status"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("collectFilterColumns = %v, want %v", got, want)
	}
}

func TestTranslateFilter_Equals(t *testing.T) {
	f := &query.FilterExpression{Op: query.FilterEquals, Column: "region", Value: "us-east"}
	sql, args := translateFilter(f)
	if sql != "region = ?" {
		t.Errorf("sql = %q, want %q", sql, "region = ?")
	}
	if len(args) != 1 || args[0] != "us-east" {
		t.Errorf("args = %v, want [us-east]", args)
	}
}

func TestTranslateFilter_Range(t *testing.T) {
	f := &query.FilterExpression{Op: query.FilterRange, Column: "ts", Lower: int64(10), Upper: int64(20)}
	sql, args := translateFilter(f)
	if sql != "ts >= ? AND ts <= ?" {
		t.Errorf("sql = %q", sql)
	}
	if len(args) != 2 || args[0] != int64(10) || args[1] != int64(20) {
		t.Errorf("args = %v", args)
	}
}

func TestTranslateFilter_RangeUnboundedLower(t *testing.T) {
	f := &query.FilterExpression{Op: query.FilterRange, Column: "ts", Upper: int64(20)}
	sql, args := translateFilter(f)
	if sql != "ts <= ?" {
		t.Errorf("sql = %q", sql)
	}
	if len(args) != 1 || args[0] != int64(20) {
		t.Errorf("args = %v", args)
	}
}

func TestTranslateFilter_AndOr(t *testing.T) {
	f := &query.FilterExpression{
		Op: query.FilterAnd,
		Children: []query.FilterExpression{
			{Op: query.FilterEquals, Column: "region", Value: "us"},
			{
				Op: query.FilterOr,
				Children: []query.FilterExpression{
					{Op: query.FilterEquals, Column: "status", Value: "ok"},
					{Op: query.FilterEquals, Column: "status", Value: "retrying"},
				},
			},
		},
	}
	sql, args := translateFilter(f)
	want := "(region = ?) AND ((status = ?) OR (status = ?))"
	if sql != want {
		t.Errorf("sql = %q, want %q", sql, want)
	}
	if len(args) != 3 {
		t.Errorf("args = %v, want 3 values", args)
	}
}

func TestColumnStats_Unsorted(t *testing.T) {
	cs := &columnStats{def: ColumnDef{Name: "message", Type: query.ColumnString, Sorted: false}}
	if cs.IsSorted() {
		t.Error("unsorted column reported as sorted")
	}
	if _, ok := cs.SortedValues(); ok {
		t.Error("unsorted column returned sorted values")
	}
	if _, ok := cs.MinValue(); ok {
		t.Error("unsorted column without computed bounds returned a min")
	}
}

func TestColumnStats_Sorted(t *testing.T) {
	cs := &columnStats{
		def:        ColumnDef{Name: "region", Type: query.ColumnString, Sorted: true},
		min:        "eu",
		max:        "us",
		haveBounds: true,
		values:     []interface{}{"eu", "in", "us"},
	}
	if !cs.IsSorted() || !cs.HasDictionary() {
		t.Error("sorted column not reporting sorted/dictionary")
	}
	min, ok := cs.MinValue()
	if !ok || min != "eu" {
		t.Errorf("MinValue = %v, %v", min, ok)
	}
	values, ok := cs.SortedValues()
	if !ok || len(values) != 3 {
		t.Errorf("SortedValues = %v, %v", values, ok)
	}
}
