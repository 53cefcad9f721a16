package query

import "sync"

// SegmentHandle is a reference-counted handle to a resident segment,
// acquired for the duration of one query and released exactly once on
// every exit path (success, pruned-to-empty, execution error, deadline).
type SegmentHandle struct {
	Segment Segment

	manager *TableDataManager
}

// Release returns the handle to the manager. It is safe to call exactly
// once; calling it more than once would double-decrement the refcount, so
// callers must route every handle through a single defer/finally path.
func (h *SegmentHandle) Release() {
	h.manager.release(h)
}

// TableDataManager is the resident-segment catalog for one table. It is an
// external collaborator in the full system (backed by the storage layer);
// here it is modeled only as the acquire/release contract C1 needs, plus a
// refcount bookkeeping layer so invariant 6 (release/acquire parity) can be
// asserted in tests.
type TableDataManager struct {
	TableNameWithType string

	mu       sync.Mutex
	segments map[string]Segment
	refcount map[string]int
}

func NewTableDataManager(tableNameWithType string) *TableDataManager {
	return &TableDataManager{
		TableNameWithType: tableNameWithType,
		segments:          make(map[string]Segment),
		refcount:          make(map[string]int),
	}
}

func (m *TableDataManager) AddSegment(s Segment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments[s.ID()] = s
}

func (m *TableDataManager) RemoveSegment(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.segments, id)
}

// Acquire is best-effort: handles are returned only for segments currently
// resident. numMissingSegments = len(segmentIds) - len(handles) is a legal,
// unreported-as-error condition.
func (m *TableDataManager) Acquire(segmentIds []string) (handles []*SegmentHandle, numMissingSegments int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	handles = make([]*SegmentHandle, 0, len(segmentIds))
	for _, id := range segmentIds {
		seg, ok := m.segments[id]
		if !ok {
			numMissingSegments++
			continue
		}
		m.refcount[id]++
		handles = append(handles, &SegmentHandle{Segment: seg, manager: m})
	}
	return handles, numMissingSegments
}

func (m *TableDataManager) release(h *SegmentHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := h.Segment.ID()
	if m.refcount[id] > 0 {
		m.refcount[id]--
	}
}

// RefCount reports the current outstanding acquisitions for a segment;
// tests use this to verify release/acquire parity (invariant 6).
func (m *TableDataManager) RefCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refcount[id]
}

// TableRegistry resolves a tableNameWithType to its TableDataManager,
// mirroring the front door's step "resolve the table-data manager by
// tableNameWithType; if missing emit SERVER_TABLE_MISSING_ERROR".
type TableRegistry struct {
	mu      sync.RWMutex
	tables  map[string]*TableDataManager
}

func NewTableRegistry() *TableRegistry {
	return &TableRegistry{tables: make(map[string]*TableDataManager)}
}

func (r *TableRegistry) Register(m *TableDataManager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tables[m.TableNameWithType] = m
}

func (r *TableRegistry) Lookup(tableNameWithType string) (*TableDataManager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.tables[tableNameWithType]
	return m, ok
}
