package query

import "sort"

// IntermediateRecord is a projection used only for ranking: a Key plus the
// tuple of order-by values in order-by order. It is created only when
// ranking is needed and is never persisted.
type IntermediateRecord struct {
	Key    Key
	Values []interface{}
}

// TableResizer implements the top-K eviction/retention policy (C6): given a
// current record set, a trim-to size, and an order-by comparator, decide
// which keys survive by building whichever bounded heap (evictees or
// retainees) is smaller.
type TableResizer struct {
	NumKeyColumns int
	OrderBy       []OrderByExpression
	AggColumns    []AggregationFunction // indexed by (schema column index - NumKeyColumns)
}

// orderByPlan resolves each OrderByExpression to either a key-column index
// or an aggregation-column index (with its extractor), computed once.
type orderByPlan struct {
	isKeyColumn bool
	index       int // key index or agg-column index
	descending  bool
	agg         AggregationFunction // non-nil when !isKeyColumn
}

func (r *TableResizer) buildPlan(schemaColumnIndex func(Expression) (int, bool)) []orderByPlan {
	plans := make([]orderByPlan, 0, len(r.OrderBy))
	for _, ob := range r.OrderBy {
		idx, ok := schemaColumnIndex(ob.Expression)
		if !ok {
			continue
		}
		plan := orderByPlan{descending: ob.Direction == Descending}
		if idx < r.NumKeyColumns {
			plan.isKeyColumn = true
			plan.index = idx
		} else {
			plan.isKeyColumn = false
			plan.index = idx
			aggIdx := idx - r.NumKeyColumns
			if aggIdx >= 0 && aggIdx < len(r.AggColumns) {
				plan.agg = r.AggColumns[aggIdx]
			}
		}
		plans = append(plans, plan)
	}
	return plans
}

// getIntermediateRecord projects one Record into ranking-only values. Per
// plan step, ExtractFinalResult is applied only when the aggregation's
// intermediate type is not itself directly Comparable — the only point
// during trimming where final-result extraction happens.
func getIntermediateRecord(key Key, record Record, plans []orderByPlan) IntermediateRecord {
	values := make([]interface{}, len(plans))
	for i, p := range plans {
		if p.isKeyColumn {
			values[i] = key.Values[p.index]
			continue
		}
		raw := record.Values[p.index]
		if p.agg != nil && !p.agg.IsIntermediateResultComparable() {
			values[i] = p.agg.ExtractFinalResult(raw)
		} else {
			values[i] = raw
		}
	}
	return IntermediateRecord{Key: key, Values: values}
}

// compareIntermediate implements the order-by comparator chain: earlier
// order-by expressions dominate; ties fall through to later ones; a final
// tie falls back to a deterministic hash of the key so ordering is stable
// within one execution. Returns <0, 0, >0 meaning a ranks before/equal/after b.
func compareIntermediate(a, b IntermediateRecord, plans []orderByPlan) int {
	for i, p := range plans {
		c := compareValues(a.Values[i], b.Values[i])
		if p.descending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	ah, bh := hashKey(a.Key), hashKey(b.Key)
	switch {
	case ah < bh:
		return -1
	case ah > bh:
		return 1
	default:
		return 0
	}
}

func compareValues(a, b interface{}) int {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case bool:
		bv, _ := b.(bool)
		if av == bv {
			return 0
		}
		if av {
			return 1
		}
		return -1
	default:
		af, bf := toFloat64(a), toFloat64(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
}

// recordEntry pairs a Key with its live Record for resizing.
type recordEntry struct {
	Key    Key
	Record Record
}

// taggedHeap is a bounded heap of IntermediateRecord, each tagged with the
// hash-key it was derived from so the resizer can map survivors back to
// map keys. worse=true keeps the N worst-ranked records (the root is the
// best-ranked of that worst set, so a newcomer that ranks worse than the
// root replaces it); worse=false keeps the N best-ranked records (the root
// is the worst-ranked of that best set).
type taggedHeap struct {
	items []IntermediateRecord
	tags  []string
	plans []orderByPlan
	worse bool
}

func (h *taggedHeap) Len() int { return len(h.items) }

func (h *taggedHeap) less(i, j int) bool {
	c := compareIntermediate(h.items[i], h.items[j], h.plans)
	if h.worse {
		return c < 0
	}
	return c > 0
}

func (h *taggedHeap) swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.tags[i], h.tags[j] = h.tags[j], h.tags[i]
}

func (h *taggedHeap) push(rec IntermediateRecord, tag string) {
	h.items = append(h.items, rec)
	h.tags = append(h.tags, tag)
	h.up(h.Len() - 1)
}

func (h *taggedHeap) replaceRoot(rec IntermediateRecord, tag string) {
	h.items[0] = rec
	h.tags[0] = tag
	h.down(0)
}

func (h *taggedHeap) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.less(i, parent) {
			break
		}
		h.swap(i, parent)
		i = parent
	}
}

func (h *taggedHeap) down(i int) {
	n := h.Len()
	for {
		left, right := 2*i+1, 2*i+2
		smallest := i
		if left < n && h.less(left, smallest) {
			smallest = left
		}
		if right < n && h.less(right, smallest) {
			smallest = right
		}
		if smallest == i {
			break
		}
		h.swap(i, smallest)
		i = smallest
	}
}

// offerOrReplace implements the "offer, or replace-if-worse-than-root"
// bounded-heap insert used to rank candidates against a fixed-capacity set.
func (h *taggedHeap) offerOrReplace(rec IntermediateRecord, tag string, capacity int) {
	if h.Len() < capacity {
		h.push(rec, tag)
		return
	}
	if replaces(h, rec) {
		h.replaceRoot(rec, tag)
	}
}

// replaces reports whether candidate should replace the current root.
func replaces(h *taggedHeap, candidate IntermediateRecord) bool {
	c := compareIntermediate(candidate, h.items[0], h.plans)
	if h.worse {
		// worst-set: root is the best-ranked of the worst. A candidate that
		// ranks worse than the root belongs in the worst-set instead.
		return c > 0
	}
	// best-set: root is the worst-ranked of the best. A candidate that
	// ranks better than the root belongs in the best-set instead.
	return c < 0
}

// ResizeRecordsMap trims records (keyed by hashKey(Key)) down to trimToSize
// survivors, choosing whichever bounded heap (evictees or retainees) is
// smaller. It mutates records in place.
func (r *TableResizer) ResizeRecordsMap(records map[string]recordEntry, trimToSize int, schemaColumnIndex func(Expression) (int, bool)) {
	n := len(records)
	if n <= trimToSize {
		return
	}
	plans := r.buildPlan(schemaColumnIndex)
	numToEvict := n - trimToSize

	if numToEvict < trimToSize {
		evictKeys := r.rankedKeys(records, plans, numToEvict, true)
		for _, k := range evictKeys {
			delete(records, k)
		}
		return
	}

	retainKeys := r.rankedKeys(records, plans, trimToSize, false)
	keep := make(map[string]bool, len(retainKeys))
	for _, k := range retainKeys {
		keep[k] = true
	}
	for k := range records {
		if !keep[k] {
			delete(records, k)
		}
	}
}

// rankedKeys returns the hash-keys of the `count` worst (worse=true) or
// best (worse=false) records under the order-by comparator.
func (r *TableResizer) rankedKeys(records map[string]recordEntry, plans []orderByPlan, count int, worse bool) []string {
	h := &taggedHeap{plans: plans, worse: worse}
	for hk, e := range records {
		rec := getIntermediateRecord(e.Key, e.Record, plans)
		h.offerOrReplace(rec, hk, count)
	}
	return append([]string(nil), h.tags...)
}

// SortKeys returns every key in records sorted in order-by order
// (ascending overall rank first), used by resizeAndSort-style callers that
// need a final deterministic ordering after trimming.
func (r *TableResizer) SortKeys(records map[string]recordEntry, schemaColumnIndex func(Expression) (int, bool)) []string {
	plans := r.buildPlan(schemaColumnIndex)
	keys := make([]string, 0, len(records))
	irs := make(map[string]IntermediateRecord, len(records))
	for hk, e := range records {
		keys = append(keys, hk)
		irs[hk] = getIntermediateRecord(e.Key, e.Record, plans)
	}
	sort.Slice(keys, func(i, j int) bool {
		return compareIntermediate(irs[keys[i]], irs[keys[j]], plans) < 0
	})
	return keys
}
