package query

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// WorkerPool is the process-wide, shared fixed-size pool the combine node
// draws from. It is a thin semaphore-bounded gate: leaf tasks still run as
// goroutines, the semaphore just caps how many run concurrently, mirroring
// the teacher's semaphore-bounded partition fan-out.
type WorkerPool struct {
	sem  *semaphore.Weighted
	size int64
}

func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{sem: semaphore.NewWeighted(int64(size)), size: int64(size)}
}

func (p *WorkerPool) Size() int { return int(p.size) }

// leafOutcome is one child task's result, tagged back to its originating
// node so a deadline-abandoned child can still be accounted for.
type leafOutcome struct {
	result *LeafResult
	err    error
}

// CombineResult is what a combine node produces: merged records plus scan
// accounting and any deadline/partial-result flags the front door needs to
// translate into DataTable metadata and exceptions.
type CombineResult struct {
	Schema                      *DataSchema
	Records                     []Record
	NumDocsScanned              int64
	NumEntriesScannedInFilter   int64
	NumEntriesScannedPostFilter int64
	NumSegmentsProcessed        int64
	DeadlineExceeded            bool
	GroupsLimitReached          bool
	FirstError                  error
}

// ExecuteCombine runs every child leaf plan in parallel on the pool,
// honoring deadline. Children that are still running when the deadline
// passes are abandoned (their ctx is cancelled; ExecuteCombine does not
// wait for them) and the result carries DeadlineExceeded=true instead of
// raising.
func ExecuteCombine(ctx context.Context, node *PlanNode, deadline time.Time) *CombineResult {
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	n := len(node.Children)
	outcomes := make([]leafOutcome, n)
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(n)
	for i, child := range node.Children {
		i, child := i, child
		go func() {
			defer wg.Done()
			if err := node.Pool.sem.Acquire(ctx, 1); err != nil {
				outcomes[i] = leafOutcome{err: ctx.Err()}
				return
			}
			defer node.Pool.sem.Release(1)

			res, err := executeLeaf(ctx, child)
			outcomes[i] = leafOutcome{result: res, err: err}
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	deadlineExceeded := false
	select {
	case <-done:
	case <-ctx.Done():
		deadlineExceeded = true
		// Children still in flight are left to exit on their own via the
		// cancelled ctx; we do not block the combine node on them.
	}

	return mergeOutcomes(node.Query, node.Config, outcomes, deadlineExceeded)
}

func mergeOutcomes(q *QueryContext, cfg PlanMakerConfig, outcomes []leafOutcome, deadlineExceeded bool) *CombineResult {
	result := &CombineResult{DeadlineExceeded: deadlineExceeded}

	var schema *DataSchema
	var leaves []*LeafResult
	for _, o := range outcomes {
		if o.err != nil {
			if result.FirstError == nil {
				result.FirstError = o.err
			}
			continue
		}
		if o.result == nil {
			continue
		}
		leaves = append(leaves, o.result)
		if schema == nil {
			schema = o.result.Schema
		}
		result.NumDocsScanned += o.result.NumDocsScanned
		result.NumEntriesScannedInFilter += o.result.NumEntriesScannedInFilter
		result.NumEntriesScannedPostFilter += o.result.NumEntriesScannedPostFilter
		result.NumSegmentsProcessed++
	}

	if schema == nil {
		result.Schema = &DataSchema{}
		return result
	}
	result.Schema = schema

	if q.HasGroupBy() || (q.IsAggregationQuery() && !q.HasGroupBy()) {
		records, groupsLimitReached := mergeAggregation(schema, q, cfg, leaves)
		result.Records = records
		result.GroupsLimitReached = groupsLimitReached
		return result
	}

	result.Records = mergeSelection(q, leaves)
	return result
}

// mergeAggregation funnels every leaf's rows through an IndexedTable keyed
// on the group-by columns (zero-arity when the query has no group-by,
// which unifies single-row aggregation merge with the group-by path).
func mergeAggregation(schema *DataSchema, q *QueryContext, cfg PlanMakerConfig, leaves []*LeafResult) ([]Record, bool) {
	aggFuncs := aggFunctionsForSchema(q, schema)
	columnIndexOf := columnIndexResolver(q, schema)

	table := NewIndexedTable(schema, aggFuncs, q.Limit, cfg.MaxInitialResultHolderCapacity, cfg.NumGroupsLimit, q.OrderBy, columnIndexOf)
	for _, leaf := range leaves {
		for _, rec := range leaf.Records {
			table.Upsert(rec)
		}
	}
	sortResults := len(q.OrderBy) > 0
	table.Finish(sortResults)

	var records []Record
	it := table.Iterator()
	for {
		rec, ok := it.Next()
		if !ok {
			break
		}
		records = append(records, rec)
	}
	return records, table.GroupsLimitReached()
}

// ResolveAggregationFunctions exposes aggFunctionsForSchema to callers
// outside this package (the broker reducer reuses it to merge per-server
// intermediate results without re-deriving the select-expression mapping).
func ResolveAggregationFunctions(q *QueryContext, schema *DataSchema) []AggregationFunction {
	return aggFunctionsForSchema(q, schema)
}

// ColumnIndexResolver exposes columnIndexResolver to callers outside this
// package.
func ColumnIndexResolver(q *QueryContext, schema *DataSchema) func(Expression) (int, bool) {
	return columnIndexResolver(q, schema)
}

// aggFunctionsForSchema resolves, for each non-key schema column, the
// aggregation function that produced it (by position, following select
// expression order for group-by-less aggregation and group-by expression
// count offset for group-by queries).
func aggFunctionsForSchema(q *QueryContext, schema *DataSchema) []AggregationFunction {
	numAggCols := schema.Size() - schema.NumKeyColumns
	fns := make([]AggregationFunction, numAggCols)
	aggExprs := aggregationSelectExpressions(q)
	for i := 0; i < numAggCols && i < len(aggExprs); i++ {
		fn, ok := LookupAggregation(aggExprs[i].Function)
		if !ok {
			continue
		}
		fns[i] = fn
	}
	return fns
}

func aggregationSelectExpressions(q *QueryContext) []Expression {
	var out []Expression
	for _, e := range q.Select {
		if e.IsAggregation() {
			out = append(out, e)
		}
	}
	return out
}

// columnIndexResolver maps an order-by Expression to its schema column
// index: identifiers resolve against the group-by column list, aggregation
// expressions resolve to their position among aggregation select columns.
func columnIndexResolver(q *QueryContext, schema *DataSchema) func(Expression) (int, bool) {
	groupByIndex := make(map[string]int, len(q.GroupBy))
	for i, e := range q.GroupBy {
		if e.Kind == ExprIdentifier {
			groupByIndex[e.Identifier] = i
		}
	}
	aggExprs := aggregationSelectExpressions(q)
	aggIndex := make(map[string]int, len(aggExprs))
	for i, e := range aggExprs {
		aggIndex[exprSignature(e)] = schema.NumKeyColumns + i
	}

	return func(e Expression) (int, bool) {
		if e.Kind == ExprIdentifier {
			if idx, ok := groupByIndex[e.Identifier]; ok {
				return idx, true
			}
		}
		if idx, ok := aggIndex[exprSignature(e)]; ok {
			return idx, true
		}
		return 0, false
	}
}

func exprSignature(e Expression) string {
	if e.Kind != ExprFunctionCall {
		return e.Identifier
	}
	sig := e.Function + "("
	for i, a := range e.Args {
		if i > 0 {
			sig += ","
		}
		sig += a.Identifier
	}
	return sig + ")"
}

// mergeSelection concatenates rows from every leaf (selection queries have
// no keyed merge step), optionally sorting and truncating to the query
// limit when order-by expressions are present.
func mergeSelection(q *QueryContext, leaves []*LeafResult) []Record {
	var records []Record
	for _, leaf := range leaves {
		records = append(records, leaf.Records...)
	}
	if len(q.OrderBy) > 0 {
		sort.SliceStable(records, func(i, j int) bool {
			for _, ob := range q.OrderBy {
				idx, ok := identifierColumnIndex(q, ob.Expression)
				if !ok {
					continue
				}
				c := compareValues(records[i].Values[idx], records[j].Values[idx])
				if ob.Direction == Descending {
					c = -c
				}
				if c != 0 {
					return c < 0
				}
			}
			return false
		})
	}
	if q.Limit > 0 && len(records) > q.Limit {
		records = records[:q.Limit]
	}
	return records
}

func identifierColumnIndex(q *QueryContext, e Expression) (int, bool) {
	if e.Kind != ExprIdentifier {
		return 0, false
	}
	for i, sel := range q.Select {
		if sel.Kind == ExprIdentifier && sel.Identifier == e.Identifier {
			return i, true
		}
	}
	return 0, false
}
