package query

import (
	"fmt"
	"math"
)

// Reserved DataTable metadata keys (§6).
const (
	MetaTotalDocs                   = "totalDocs"
	MetaNumDocsScanned              = "numDocsScanned"
	MetaNumEntriesScannedInFilter   = "numEntriesScannedInFilter"
	MetaNumEntriesScannedPostFilter = "numEntriesScannedPostFilter"
	MetaNumSegmentsProcessed        = "numSegmentsProcessed"
	MetaNumSegmentsMatched          = "numSegmentsMatched"
	MetaNumSegmentsQueried          = "numSegmentsQueried"
	MetaTimeUsedMs                  = "timeUsedMs"
	MetaNumConsumingSegmentsProcessed = "numConsumingSegmentsProcessed"
	MetaMinConsumingFreshnessTimeMs   = "minConsumingFreshnessTimeMs"
	MetaTraceInfo                     = "traceInfo"
)

// ErrorKind enumerates the surface-visible error kinds (§6/§7).
type ErrorKind int

const (
	ErrInvalidArgument ErrorKind = iota
	ErrSchedulingTimeout
	ErrServerTableMissing
	ErrQueryExecution
	ErrInternal
)

func (e ErrorKind) String() string {
	switch e {
	case ErrInvalidArgument:
		return "INVALID_ARGUMENT"
	case ErrSchedulingTimeout:
		return "QUERY_SCHEDULING_TIMEOUT_ERROR"
	case ErrServerTableMissing:
		return "SERVER_TABLE_MISSING_ERROR"
	case ErrQueryExecution:
		return "QUERY_EXECUTION_ERROR"
	case ErrInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// DataTableException is one in-band error entry attached to a DataTable.
type DataTableException struct {
	Kind    ErrorKind
	Message string
}

// DataTable is the on-wire tabular payload: a schema, typed rows, a
// metadata mapping, and an exceptions list.
type DataTable struct {
	Schema     *DataSchema
	Rows       []Record
	Metadata   map[string]string
	Exceptions []DataTableException
}

func NewDataTable(schema *DataSchema) *DataTable {
	return &DataTable{
		Schema:   schema,
		Metadata: make(map[string]string),
	}
}

func (d *DataTable) AddException(kind ErrorKind, msg string) {
	d.Exceptions = append(d.Exceptions, DataTableException{Kind: kind, Message: msg})
}

func (d *DataTable) SetMetadataInt(key string, v int64) {
	d.Metadata[key] = fmt.Sprintf("%d", v)
}

// formatValue implements the PQL-legacy, non-preserveType value formatting
// law: a Double that is mathematically an integer within the Long range
// formats as "<long>.00000" (cheap direct cast, avoiding the general
// formatter); otherwise a Double formats with five fractional digits using
// a locale-independent decimal point; every other type stringifies as-is.
func formatValue(v interface{}) string {
	d, ok := v.(float64)
	if !ok {
		return fmt.Sprint(v)
	}
	if d >= math.MinInt64 && d <= math.MaxInt64 && d == math.Trunc(d) {
		return fmt.Sprintf("%d.00000", int64(d))
	}
	return fmt.Sprintf("%.5f", d)
}

// FormatValue exposes formatValue to callers outside this package (the
// broker reducer's pql-legacy, non-preserveType presentation path).
func FormatValue(v interface{}) string {
	return formatValue(v)
}
