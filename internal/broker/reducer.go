// Package broker merges per-server result tables into the final broker
// response (C8), reusing the server-side IndexedTable and TableResizer
// (C5/C6) rather than re-implementing group-by merge semantics.
package broker

import (
	"fmt"

	"github.com/basekick-labs/arc-query/internal/query"
)

// GroupByResult is one row of a per-aggregation-function presentation: the
// group-by values plus that function's final value.
type GroupByResult struct {
	Group []string
	Value interface{}
}

// AggregationResult is one aggregation function's full group-by result
// list, used by the two response-format=pql presentation modes.
type AggregationResult struct {
	Function string
	Results  []GroupByResult
}

// BrokerResponse is the broker's final, presentation-shaped output. Exactly
// one of Table or AggregationResults is populated, matching the
// ResultTable vs AggregationResults dichotomy of responseFormat.
type BrokerResponse struct {
	Table              *query.DataTable
	AggregationResults []AggregationResult
	Exceptions         []query.DataTableException

	// ServersQueried and ServersResponded let a caller tell a clean miss
	// (query matched nothing) apart from a partial fan-out (some servers
	// never answered within the deadline).
	ServersQueried   int
	ServersResponded int
}

// Reducer implements C8: receives a serverInstance -> DataTable mapping
// and the broker's own QueryContext, and routes on (groupByMode,
// responseFormat) per §4.8.
type Reducer struct {
	planMaker query.PlanMakerConfig
}

// NewReducer builds a Reducer using the default plan-maker sizing
// (mirroring worker.go's per-server default), so a limitless group-by
// (req.Limit <= 0) still gets a usable initial IndexedTable capacity
// instead of the zero-capacity one limit*5 alone would derive.
func NewReducer() *Reducer {
	return NewReducerWithConfig(query.DefaultPlanMakerConfig())
}

// NewReducerWithConfig builds a Reducer using an explicit plan-maker
// config, for callers that want the broker's result-holder sizing to
// track the same configuration as the servers it fans out to.
func NewReducerWithConfig(cfg query.PlanMakerConfig) *Reducer {
	return &Reducer{planMaker: cfg}
}

// Reduce merges per-server DataTables into the final broker response.
func (r *Reducer) Reduce(serverTables map[string]*query.DataTable, req *query.QueryContext) *BrokerResponse {
	resp := &BrokerResponse{}
	for _, t := range serverTables {
		resp.Exceptions = append(resp.Exceptions, t.Exceptions...)
	}

	if !req.HasGroupBy() {
		resp.Table = mergeNonGroupBy(serverTables, req)
		return resp
	}

	groupByModeSQL := req.Options.GroupByModeSQL()
	responseFormatSQL := req.Options.ResponseFormatSQL()

	merged, schema, aggFuncs := r.mergeGroupBy(serverTables, req)

	switch {
	case groupByModeSQL && responseFormatSQL:
		resp.Table = presentAsTable(merged, schema, aggFuncs, req, true)
	case groupByModeSQL && !responseFormatSQL:
		resp.AggregationResults = presentAsAggregationResults(merged, schema, aggFuncs, req, true)
	case !groupByModeSQL && responseFormatSQL:
		resp.Table = presentAsTable(merged, schema, aggFuncs, req, false)
	default:
		resp.AggregationResults = presentAsAggregationResults(merged, schema, aggFuncs, req, false)
	}
	return resp
}

// mergeNonGroupBy handles the non-group-by (selection or single-row
// aggregation) case: DataTable rows are simply concatenated, mirroring
// the server-side selection merge.
func mergeNonGroupBy(serverTables map[string]*query.DataTable, req *query.QueryContext) *query.DataTable {
	var schema *query.DataSchema
	var rows []query.Record
	for _, t := range serverTables {
		if schema == nil {
			schema = t.Schema
		}
		rows = append(rows, t.Rows...)
	}
	if schema == nil {
		schema = &query.DataSchema{}
	}
	out := query.NewDataTable(schema)
	if req.Limit > 0 && len(rows) > req.Limit {
		rows = rows[:req.Limit]
	}
	out.Rows = rows
	return out
}

// mergeGroupBy funnels every server's rows through an IndexedTable keyed
// on the group-by columns — the legacy per-aggregation intermediate-map
// merge and the sql-mode merge are the same operation; only the
// presentation differs per §4.8.
func (r *Reducer) mergeGroupBy(serverTables map[string]*query.DataTable, req *query.QueryContext) ([]query.Record, *query.DataSchema, []query.AggregationFunction) {
	var schema *query.DataSchema
	for _, t := range serverTables {
		if t.Schema != nil && t.Schema.Size() > 0 {
			schema = t.Schema
			break
		}
	}
	if schema == nil {
		schema = &query.DataSchema{}
		return nil, schema, nil
	}

	aggFuncs := query.ResolveAggregationFunctions(req, schema)
	columnIndexOf := query.ColumnIndexResolver(req, schema)

	// A group-by request with no explicit limit (req.Limit <= 0) must not
	// collapse to a zero initial capacity: NewIndexedTable derives
	// capacity from limit*5 when that exceeds maxInitialResultHolderCapacity,
	// so passing the plan-maker default here (never zero) is what keeps a
	// limitless broker group-by from trimming every group away before
	// Finish runs, the same way worker.go's per-server plan-maker config does.
	table := query.NewIndexedTable(schema, aggFuncs, req.Limit, r.planMaker.MaxInitialResultHolderCapacity, r.planMaker.NumGroupsLimit, req.OrderBy, columnIndexOf)
	for _, t := range serverTables {
		for _, rec := range t.Rows {
			table.Upsert(rec)
		}
	}
	table.Finish(len(req.OrderBy) > 0)

	var records []query.Record
	it := table.Iterator()
	for {
		rec, ok := it.Next()
		if !ok {
			break
		}
		records = append(records, rec)
	}
	return records, schema, aggFuncs
}

// selectIndexMap computes, for each select expression in request order,
// which merged-schema column index supplies its value — identifier
// expressions map to their group-by position, aggregation expressions map
// to their successive post-group-by position.
func selectIndexMap(req *query.QueryContext, schema *query.DataSchema) []int {
	resolve := query.ColumnIndexResolver(req, schema)
	idx := make([]int, len(req.Select))
	for i, e := range req.Select {
		col, ok := resolve(e)
		if !ok {
			col = i
		}
		idx[i] = col
	}
	return idx
}

// presentAsTable builds a single tabular ResultTable, extracting each
// aggregation column's final value. When reorder is true (a genuine SQL
// query, not legacy PQL) columns are additionally reordered to match the
// select-expression order via selectIndexMap.
func presentAsTable(records []query.Record, schema *query.DataSchema, aggFuncs []query.AggregationFunction, req *query.QueryContext, reorder bool) *query.DataTable {
	finalized := extractFinalValues(records, schema, aggFuncs)
	outSchema := finalSchema(schema, aggFuncs)

	if reorder && req.SQL && len(req.Select) > 0 {
		idxMap := selectIndexMap(req, schema)
		reorderedSchema := &query.DataSchema{NumKeyColumns: outSchema.NumKeyColumns}
		for _, idx := range idxMap {
			if idx >= 0 && idx < len(outSchema.Columns) {
				reorderedSchema.Columns = append(reorderedSchema.Columns, outSchema.Columns[idx])
			}
		}
		reorderedRecords := make([]query.Record, len(finalized))
		for i, rec := range finalized {
			values := make([]interface{}, len(idxMap))
			for j, idx := range idxMap {
				if idx >= 0 && idx < len(rec.Values) {
					values[j] = rec.Values[idx]
				}
			}
			reorderedRecords[i] = query.Record{Values: values}
		}
		out := query.NewDataTable(reorderedSchema)
		out.Rows = reorderedRecords
		return out
	}

	out := query.NewDataTable(outSchema)
	out.Rows = finalized
	return out
}

// presentAsAggregationResults emits one GroupByResult list per aggregation
// function, all sharing the same groups. When !preserveType (pql legacy
// only), values are formatted as strings.
func presentAsAggregationResults(records []query.Record, schema *query.DataSchema, aggFuncs []query.AggregationFunction, req *query.QueryContext, groupByModeSQL bool) []AggregationResult {
	finalized := extractFinalValues(records, schema, aggFuncs)
	aggExprs := aggregationSelectExpressions(req)
	preserveType := req.Options.PreserveType()

	results := make([]AggregationResult, len(aggFuncs))
	for i := range aggFuncs {
		name := "agg"
		if i < len(aggExprs) {
			name = aggExprs[i].Function
		}
		results[i] = AggregationResult{Function: name}
	}

	for _, rec := range finalized {
		group := make([]string, schema.NumKeyColumns)
		for i := 0; i < schema.NumKeyColumns; i++ {
			group[i] = fmt.Sprint(rec.Values[i])
		}
		for i := range aggFuncs {
			col := schema.NumKeyColumns + i
			if col >= len(rec.Values) {
				continue
			}
			v := rec.Values[col]
			if !groupByModeSQL && !preserveType {
				v = query.FormatValue(v)
			}
			results[i].Results = append(results[i].Results, GroupByResult{Group: group, Value: v})
		}
	}
	return results
}

func aggregationSelectExpressions(q *query.QueryContext) []query.Expression {
	var out []query.Expression
	for _, e := range q.Select {
		if e.IsAggregation() {
			out = append(out, e)
		}
	}
	return out
}

// extractFinalValues applies each aggregation column's ExtractFinalResult,
// leaving key columns untouched.
func extractFinalValues(records []query.Record, schema *query.DataSchema, aggFuncs []query.AggregationFunction) []query.Record {
	out := make([]query.Record, len(records))
	for i, rec := range records {
		values := make([]interface{}, len(rec.Values))
		copy(values, rec.Values)
		for j, fn := range aggFuncs {
			col := schema.NumKeyColumns + j
			if fn == nil || col >= len(values) {
				continue
			}
			values[col] = fn.ExtractFinalResult(values[col])
		}
		out[i] = query.Record{Values: values}
	}
	return out
}

// finalSchema substitutes each aggregation column's type with the
// function's externally visible final-result type.
func finalSchema(schema *query.DataSchema, aggFuncs []query.AggregationFunction) *query.DataSchema {
	cols := make([]query.ColumnSpec, len(schema.Columns))
	copy(cols, schema.Columns)
	for i, fn := range aggFuncs {
		col := schema.NumKeyColumns + i
		if fn == nil || col >= len(cols) {
			continue
		}
		cols[col].Type = fn.FinalResultColumnType()
	}
	return &query.DataSchema{Columns: cols, NumKeyColumns: schema.NumKeyColumns}
}
