package query

import "context"

// DataSource is the per-column capability surface a segment offers for
// plan selection and metadata/dictionary-only execution. The storage layer
// that backs it is an external collaborator; only the contract lives here.
type DataSource interface {
	ColumnName() string
	DataType() ColumnDataType
	HasDictionary() bool
	IsSorted() bool
	MinValue() (interface{}, bool)
	MaxValue() (interface{}, bool)
	SortedValues() ([]interface{}, bool) // full sorted dictionary contents, if sorted
	Nullable() bool
}

// Segment is an opaque, read-only handle to one columnar segment. It is
// created and owned outside this core; the core only acquires it for the
// duration of one query and never mutates its contents.
type Segment interface {
	ID() string
	TotalDocs() int64
	DataSource(column string) (DataSource, bool)
	IsMutable() bool
	LastIndexedTimeMs() (int64, bool)
	LatestIngestionTimeMs() (int64, bool)

	// ExecuteFilteredScan answers the default aggregation/selection/group-by
	// leaf plan: evaluate the filter against this segment's rows and return
	// the matching rows' records as a LeafResult. Implementations may
	// abandon promptly (returning ctx.Err()) once ctx is done.
	ExecuteFilteredScan(ctx context.Context, q *QueryContext) (*LeafResult, error)
}

// LeafResult is what one leaf plan node produces: a schema-consistent set
// of records (for group-by/aggregation) plus scan accounting used to fill
// DataTable metadata.
type LeafResult struct {
	Schema                     *DataSchema
	Records                    []Record
	NumDocsScanned             int64
	NumEntriesScannedInFilter  int64
	NumEntriesScannedPostFilter int64
}
