package query

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

// IndexedTable is the bounded, concurrent keyed aggregation buffer central
// to group-by (C5). It favors a sharded hash map with per-shard locks over
// a fully lock-free structure; merges happen inside the shard lock so a
// reader never observes a half-updated record.
type IndexedTable struct {
	Schema       *DataSchema
	NumKeyColumns int
	AggFunctions []AggregationFunction // one per non-key column, in schema order

	Capacity   int // trim triggers once live size exceeds this
	TrimToSize int // the size the table is restored to after each trim
	Limit      int // final row count after finish()

	NumGroupsLimit int // hard cap on distinct groups ever admitted

	resizer       *TableResizer
	columnIndexOf func(Expression) (int, bool)

	shards []*tableShard

	size        atomic.Int64
	totalGroups atomic.Int64
	groupsLimitHit atomic.Bool

	finishOnce   sync.Once
	finalRecords []Record
}

type tableShard struct {
	mu      sync.Mutex
	entries map[string]recordEntry
}

const defaultNumShards = 16

// NewIndexedTable constructs a table sized per §4.5: capacity =
// max(limit*5, maxInitialResultHolderCapacity); trimToSize mirrors the
// same derivation so the table returns to it after every trim.
func NewIndexedTable(schema *DataSchema, aggFunctions []AggregationFunction, limit, maxInitialResultHolderCapacity, numGroupsLimit int, orderBy []OrderByExpression, columnIndexOf func(Expression) (int, bool)) *IndexedTable {
	capacity := limit * 5
	if maxInitialResultHolderCapacity > capacity {
		capacity = maxInitialResultHolderCapacity
	}
	if capacity <= 0 {
		capacity = maxInitialResultHolderCapacity
	}

	shards := make([]*tableShard, defaultNumShards)
	for i := range shards {
		shards[i] = &tableShard{entries: make(map[string]recordEntry)}
	}

	t := &IndexedTable{
		Schema:         schema,
		NumKeyColumns:  schema.NumKeyColumns,
		AggFunctions:   aggFunctions,
		Capacity:       capacity,
		TrimToSize:     capacity,
		Limit:          limit,
		NumGroupsLimit: numGroupsLimit,
		columnIndexOf:  columnIndexOf,
		shards:         shards,
	}
	t.resizer = &TableResizer{
		NumKeyColumns: t.NumKeyColumns,
		OrderBy:       orderBy,
		AggColumns:    aggFunctions,
	}
	return t
}

func (t *IndexedTable) shardFor(hk string) *tableShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(hk))
	return t.shards[int(h.Sum32())%len(t.shards)]
}

// Upsert inserts a new key or merges columnwise into an existing one.
// Merges happen under the owning shard's lock, which is the per-key
// critical section invariant 2 of §4.5 and §5 require for determinism
// under concurrent inserts.
func (t *IndexedTable) Upsert(record Record) {
	key := record.Key(t.NumKeyColumns)
	hk := hashKey(key)
	shard := t.shardFor(hk)

	shard.mu.Lock()
	if existing, ok := shard.entries[hk]; ok {
		merged := make([]interface{}, len(existing.Record.Values))
		copy(merged, existing.Record.Values)
		for i, agg := range t.AggFunctions {
			col := t.NumKeyColumns + i
			merged[col] = agg.Merge(merged[col], record.Values[col])
		}
		shard.entries[hk] = recordEntry{Key: key, Record: Record{Values: merged}}
		shard.mu.Unlock()
		return
	}

	if t.NumGroupsLimit > 0 && t.totalGroups.Load() >= int64(t.NumGroupsLimit) {
		shard.mu.Unlock()
		t.groupsLimitHit.Store(true)
		return
	}
	shard.entries[hk] = recordEntry{Key: key, Record: record}
	shard.mu.Unlock()

	t.totalGroups.Add(1)
	if t.size.Add(1) > int64(t.Capacity) {
		t.trim()
	}
}

// GroupsLimitReached reports whether any insert was dropped because
// NumGroupsLimit was reached.
func (t *IndexedTable) GroupsLimitReached() bool {
	return t.groupsLimitHit.Load()
}

// trim is the stop-the-world operation triggered at capacity: every shard
// lock is acquired (in a fixed slice-index order, so no deadlock is
// possible), all live entries are gathered, the resizer picks survivors,
// and the shards are repopulated.
func (t *IndexedTable) trim() {
	for _, s := range t.shards {
		s.mu.Lock()
	}
	defer func() {
		for _, s := range t.shards {
			s.mu.Unlock()
		}
	}()

	combined := make(map[string]recordEntry)
	for _, s := range t.shards {
		for hk, e := range s.entries {
			combined[hk] = e
		}
	}
	if len(combined) <= t.TrimToSize {
		return
	}
	t.resizer.ResizeRecordsMap(combined, t.TrimToSize, t.columnIndexOf)

	for _, s := range t.shards {
		s.entries = make(map[string]recordEntry)
	}
	for hk, e := range combined {
		s := t.shardFor(hk)
		s.entries[hk] = e
	}
	t.size.Store(int64(len(combined)))
}

// Size reports the current live record count. Invariant 1 requires this to
// never exceed Capacity between upsert calls.
func (t *IndexedTable) Size() int {
	return int(t.size.Load())
}

// Finish closes the table for writes and produces its final record slice.
// When sort is true, records come out in order-by order (a final trim down
// to Limit, then a full sort); otherwise in an unspecified but stable
// order. finish() is synchronous per §9 design notes even though trim may
// be implemented with background trimming in a richer system.
func (t *IndexedTable) Finish(sort bool) {
	t.finishOnce.Do(func() {
		for _, s := range t.shards {
			s.mu.Lock()
		}
		defer func() {
			for _, s := range t.shards {
				s.mu.Unlock()
			}
		}()

		combined := make(map[string]recordEntry)
		for _, s := range t.shards {
			for hk, e := range s.entries {
				combined[hk] = e
			}
		}

		limit := t.Limit
		if limit <= 0 || limit > len(combined) {
			limit = len(combined)
		}
		if limit < len(combined) {
			t.resizer.ResizeRecordsMap(combined, limit, t.columnIndexOf)
		}

		if sort {
			keys := t.resizer.SortKeys(combined, t.columnIndexOf)
			records := make([]Record, 0, len(keys))
			for _, hk := range keys {
				records = append(records, combined[hk].Record)
			}
			t.finalRecords = records
			return
		}

		records := make([]Record, 0, len(combined))
		for _, e := range combined {
			records = append(records, e.Record)
		}
		t.finalRecords = records
	})
}

// RecordIterator is a lazy, finite, single-pass sequence of Records.
type RecordIterator struct {
	records []Record
	pos     int
}

func (it *RecordIterator) Next() (Record, bool) {
	if it.pos >= len(it.records) {
		return Record{}, false
	}
	r := it.records[it.pos]
	it.pos++
	return r, true
}

// Iterator must only be called after Finish.
func (t *IndexedTable) Iterator() *RecordIterator {
	return &RecordIterator{records: t.finalRecords}
}
