package query

// PlanKind is the tagged-variant discriminant for leaf plan nodes (design
// note: plan polymorphism is re-expressed as a tag match, not inheritance).
type PlanKind int

const (
	PlanSelection PlanKind = iota
	PlanGroupByOrderBy
	PlanGroupBy
	PlanMetadataAgg
	PlanDictionaryAgg
	PlanFilteredScan
)

// PlanMakerConfig carries the two plan-maker tunables. Precondition:
// MaxInitialResultHolderCapacity <= NumGroupsLimit.
type PlanMakerConfig struct {
	MaxInitialResultHolderCapacity int
	NumGroupsLimit                 int
}

func DefaultPlanMakerConfig() PlanMakerConfig {
	return PlanMakerConfig{
		MaxInitialResultHolderCapacity: 10_000,
		NumGroupsLimit:                 100_000,
	}
}

// SelectPlanKind maps a query shape and one segment's capabilities to
// exactly one leaf plan kind. Plan selection is a pure function of
// (query, segment capabilities) — invariant 7.
func SelectPlanKind(q *QueryContext, seg Segment) PlanKind {
	if !q.IsAggregationQuery() {
		return PlanSelection
	}
	if q.HasGroupBy() {
		if q.Options.GroupByModeSQL() {
			return PlanGroupByOrderBy
		}
		return PlanGroupBy
	}
	// Aggregation-only, no group-by: metadata then dictionary then scan,
	// in that precedence, and only when there is no filter.
	if !q.HasFilter() {
		if isFitForMetadataPlan(q) {
			return PlanMetadataAgg
		}
		if isFitForDictionaryPlan(q, seg) {
			return PlanDictionaryAgg
		}
	}
	return PlanFilteredScan
}

// isFitForMetadataPlan: every select expression is count().
func isFitForMetadataPlan(q *QueryContext) bool {
	for _, e := range q.Select {
		if e.Kind != ExprFunctionCall || e.Function != "count" {
			return false
		}
	}
	return len(q.Select) > 0
}

var dictionaryEligibleFunctions = map[string]bool{
	"min":         true,
	"max":         true,
	"minmaxrange": true,
}

// isFitForDictionaryPlan: every select expression is min/max/minmaxrange
// over a single identifier argument whose column has a sorted dictionary.
func isFitForDictionaryPlan(q *QueryContext, seg Segment) bool {
	if len(q.Select) == 0 {
		return false
	}
	for _, e := range q.Select {
		if e.Kind != ExprFunctionCall || !dictionaryEligibleFunctions[e.Function] {
			return false
		}
		col, ok := e.SingleIdentifierArg()
		if !ok {
			return false
		}
		ds, ok := seg.DataSource(col)
		if !ok || !ds.HasDictionary() || !ds.IsSorted() {
			return false
		}
	}
	return true
}
