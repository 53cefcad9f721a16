package query

import "sync"

// AggregationFunction is the capability set an aggregation function must
// offer: merge two intermediate results, extract the externally visible
// final value, and report whether its intermediate type is itself directly
// Comparable (used by the resizer to decide whether final-result extraction
// is needed before ranking).
type AggregationFunction interface {
	Name() string
	Init() interface{}
	Merge(a, b interface{}) interface{}
	ExtractFinalResult(intermediate interface{}) interface{}
	IsIntermediateResultComparable() bool
	FinalResultColumnType() ColumnDataType
}

var (
	registryMu sync.RWMutex
	registry   = map[string]AggregationFunction{}
)

func registerAggregation(fn AggregationFunction) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[fn.Name()] = fn
}

// LookupAggregation resolves a function name (already lowercased by the
// compiler) to its capability implementation.
func LookupAggregation(name string) (AggregationFunction, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[name]
	return fn, ok
}

func init() {
	registerAggregation(countFunction{})
	registerAggregation(sumFunction{})
	registerAggregation(minFunction{})
	registerAggregation(maxFunction{})
	registerAggregation(minMaxRangeFunction{})
}

// countFunction intermediate state is an int64 row count; the function's
// own Merge/ExtractFinalResult make it directly Comparable.
type countFunction struct{}

func (countFunction) Name() string               { return "count" }
func (countFunction) Init() interface{}           { return int64(0) }
func (countFunction) Merge(a, b interface{}) interface{} {
	return a.(int64) + b.(int64)
}
func (countFunction) ExtractFinalResult(i interface{}) interface{} { return i }
func (countFunction) IsIntermediateResultComparable() bool         { return true }
func (countFunction) FinalResultColumnType() ColumnDataType        { return ColumnLong }

type sumFunction struct{}

func (sumFunction) Name() string { return "sum" }
func (sumFunction) Init() interface{} { return float64(0) }
func (sumFunction) Merge(a, b interface{}) interface{} {
	return toFloat64(a) + toFloat64(b)
}
func (sumFunction) ExtractFinalResult(i interface{}) interface{} { return i }
func (sumFunction) IsIntermediateResultComparable() bool         { return true }
func (sumFunction) FinalResultColumnType() ColumnDataType        { return ColumnDouble }

type minFunction struct{}

func (minFunction) Name() string { return "min" }
func (minFunction) Init() interface{} { return nil }
func (minFunction) Merge(a, b interface{}) interface{} {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if toFloat64(a) <= toFloat64(b) {
		return a
	}
	return b
}
func (minFunction) ExtractFinalResult(i interface{}) interface{} { return i }
func (minFunction) IsIntermediateResultComparable() bool         { return true }
func (minFunction) FinalResultColumnType() ColumnDataType        { return ColumnDouble }

type maxFunction struct{}

func (maxFunction) Name() string { return "max" }
func (maxFunction) Init() interface{} { return nil }
func (maxFunction) Merge(a, b interface{}) interface{} {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if toFloat64(a) >= toFloat64(b) {
		return a
	}
	return b
}
func (maxFunction) ExtractFinalResult(i interface{}) interface{} { return i }
func (maxFunction) IsIntermediateResultComparable() bool         { return true }
func (maxFunction) FinalResultColumnType() ColumnDataType        { return ColumnDouble }

// minMaxRangeIntermediate is not directly Comparable: ranking on a
// minmaxrange column requires ExtractFinalResult first, which is the case
// the resizer's projection step exists to handle.
type minMaxRangeIntermediate struct {
	Min float64
	Max float64
}

type minMaxRangeFunction struct{}

func (minMaxRangeFunction) Name() string { return "minmaxrange" }
func (minMaxRangeFunction) Init() interface{} {
	return minMaxRangeIntermediate{Min: 0, Max: 0}
}
func (minMaxRangeFunction) Merge(a, b interface{}) interface{} {
	av, bv := a.(minMaxRangeIntermediate), b.(minMaxRangeIntermediate)
	return minMaxRangeIntermediate{
		Min: minFloat(av.Min, bv.Min),
		Max: maxFloat(av.Max, bv.Max),
	}
}
func (minMaxRangeFunction) ExtractFinalResult(i interface{}) interface{} {
	v := i.(minMaxRangeIntermediate)
	return v.Max - v.Min
}
func (minMaxRangeFunction) IsIntermediateResultComparable() bool  { return false }
func (minMaxRangeFunction) FinalResultColumnType() ColumnDataType { return ColumnDouble }

func toFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
