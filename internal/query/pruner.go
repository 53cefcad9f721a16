package query

import "sync/atomic"

// SegmentPruner drops segments that provably contribute nothing to a query.
// A pruner may be conservative (keep a segment that in fact contributes
// nothing) but must never be unsafe (drop one that would have contributed).
// Cost must be bounded per segment — metadata only, no row scans.
type SegmentPruner interface {
	Prune(segments []Segment, q *QueryContext) []Segment
}

// PrunerStats tracks pruning effectiveness across queries, in the style of
// the teacher's atomic-counter partition-pruner stats.
type PrunerStats struct {
	QueriesOptimized atomic.Int64
	SegmentsPruned   atomic.Int64
	SegmentsScanned  atomic.Int64
}

func (s *PrunerStats) record(before, after int) {
	s.QueriesOptimized.Add(1)
	s.SegmentsScanned.Add(int64(before))
	s.SegmentsPruned.Add(int64(before - after))
}

type PrunerStatsSnapshot struct {
	QueriesOptimized int64
	SegmentsPruned   int64
	SegmentsScanned  int64
}

func (s *PrunerStats) Snapshot() PrunerStatsSnapshot {
	return PrunerStatsSnapshot{
		QueriesOptimized: s.QueriesOptimized.Load(),
		SegmentsPruned:   s.SegmentsPruned.Load(),
		SegmentsScanned:  s.SegmentsScanned.Load(),
	}
}

// CompositePruner composes pruners by intersection: the kept set is the
// intersection of every child pruner's kept set.
type CompositePruner struct {
	Pruners []SegmentPruner
	Stats   *PrunerStats
}

func NewCompositePruner(pruners ...SegmentPruner) *CompositePruner {
	return &CompositePruner{Pruners: pruners, Stats: &PrunerStats{}}
}

func (c *CompositePruner) Prune(segments []Segment, q *QueryContext) []Segment {
	before := len(segments)
	kept := segments
	for _, p := range c.Pruners {
		kept = p.Prune(kept, q)
		if len(kept) == 0 {
			break
		}
	}
	if c.Stats != nil {
		c.Stats.record(before, len(kept))
	}
	return kept
}

// ValidDocIdsPruner drops segments with zero total docs — they trivially
// cannot contribute a row.
type ValidDocIdsPruner struct{}

func (ValidDocIdsPruner) Prune(segments []Segment, q *QueryContext) []Segment {
	kept := make([]Segment, 0, len(segments))
	for _, s := range segments {
		if s.TotalDocs() > 0 {
			kept = append(kept, s)
		}
	}
	return kept
}

// RangeFilterPruner drops segments whose min/max metadata on a filtered
// range column provably excludes the filter's [Lower, Upper] bounds. It is
// conservative: any column lacking min/max metadata, or any filter node
// that is not a simple Range/And-of-Range tree, is treated as matching.
type RangeFilterPruner struct{}

func (RangeFilterPruner) Prune(segments []Segment, q *QueryContext) []Segment {
	if q.Filter == nil {
		return segments
	}
	ranges := collectRanges(*q.Filter)
	if len(ranges) == 0 {
		return segments
	}
	kept := make([]Segment, 0, len(segments))
	for _, s := range segments {
		if segmentMatchesRanges(s, ranges) {
			kept = append(kept, s)
		}
	}
	return kept
}

func collectRanges(f FilterExpression) []FilterExpression {
	switch f.Op {
	case FilterRange:
		return []FilterExpression{f}
	case FilterAnd:
		var out []FilterExpression
		for _, c := range f.Children {
			out = append(out, collectRanges(c)...)
		}
		return out
	default:
		return nil
	}
}

func segmentMatchesRanges(s Segment, ranges []FilterExpression) bool {
	for _, r := range ranges {
		ds, ok := s.DataSource(r.Column)
		if !ok {
			continue // no metadata: cannot prove exclusion, keep
		}
		segMin, hasMin := ds.MinValue()
		segMax, hasMax := ds.MaxValue()
		if !hasMin || !hasMax {
			continue
		}
		if r.Upper != nil && toFloat64(segMin) > toFloat64(r.Upper) {
			return false
		}
		if r.Lower != nil && toFloat64(segMax) < toFloat64(r.Lower) {
			return false
		}
	}
	return true
}
