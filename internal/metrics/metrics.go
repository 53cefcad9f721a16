package metrics

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Metrics holds all query-engine metrics for Prometheus export.
type Metrics struct {
	startTime time.Time

	// HTTP request metrics
	httpRequestsTotal   atomic.Int64
	httpRequestsSuccess atomic.Int64
	httpRequestsError   atomic.Int64

	// HTTP latency histogram buckets (microseconds)
	// Buckets: 1ms, 5ms, 10ms, 25ms, 50ms, 100ms, 250ms, 500ms, 1s, +Inf
	httpLatencyBuckets [10]atomic.Int64
	httpLatencySum     atomic.Int64
	httpLatencyCount   atomic.Int64

	// Query execution metrics
	queryRequestsTotal      atomic.Int64
	querySuccessTotal       atomic.Int64
	queryErrorsTotal        atomic.Int64
	querySchedulingTimeouts atomic.Int64
	queryTableMissing       atomic.Int64
	queryDeadlineExceeded   atomic.Int64
	queryRowsTotal          atomic.Int64
	queryLatencySum         atomic.Int64 // microseconds
	queryLatencyCount       atomic.Int64

	// Segment pruning
	segmentsScannedTotal atomic.Int64
	segmentsPrunedTotal  atomic.Int64
	segmentsMissingTotal atomic.Int64

	// Plan selection, by kind
	planSelectionTotal    atomic.Int64
	planMetadataAggTotal  atomic.Int64
	planDictionaryAggTotal atomic.Int64
	planFilteredScanTotal atomic.Int64
	planGroupByTotal      atomic.Int64

	// IndexedTable
	tableTrimsTotal        atomic.Int64
	tableGroupsLimitHits   atomic.Int64
	tableRecordsUpserted   atomic.Int64

	// Broker reduction
	brokerReducesTotal    atomic.Int64
	brokerServersQueried  atomic.Int64
	brokerServerErrors    atomic.Int64

	// Worker pool
	workerPoolAcquireWaitSum atomic.Int64 // microseconds
	workerPoolTasksRun       atomic.Int64

	// DuckDB connection pool (demo segment storage)
	dbConnectionsOpen  atomic.Int64
	dbConnectionsInUse atomic.Int64
	dbConnectionsIdle  atomic.Int64
	dbQueriesTotal     atomic.Int64
	dbQueryErrorsTotal atomic.Int64

	// Local/object storage
	storageReadsTotal     atomic.Int64
	storageReadBytesTotal atomic.Int64
	storageErrorsTotal    atomic.Int64

	logger zerolog.Logger
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the singleton metrics instance.
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			startTime: time.Now(),
		}
	})
	return instance
}

// Init initializes the metrics with a logger.
func Init(logger zerolog.Logger) *Metrics {
	m := Get()
	m.logger = logger.With().Str("component", "metrics").Logger()
	m.logger.Info().Msg("metrics collector initialized")
	return m
}

// HTTP Metrics
func (m *Metrics) IncHTTPRequests() { m.httpRequestsTotal.Add(1) }
func (m *Metrics) IncHTTPSuccess()  { m.httpRequestsSuccess.Add(1) }
func (m *Metrics) IncHTTPError()    { m.httpRequestsError.Add(1) }

// RecordHTTPLatency records HTTP request latency in microseconds.
func (m *Metrics) RecordHTTPLatency(durationMicros int64) {
	m.httpLatencySum.Add(durationMicros)
	m.httpLatencyCount.Add(1)
	bucketIdx := m.getLatencyBucket(durationMicros)
	m.httpLatencyBuckets[bucketIdx].Add(1)
}

func (m *Metrics) getLatencyBucket(micros int64) int {
	switch {
	case micros <= 1000:
		return 0
	case micros <= 5000:
		return 1
	case micros <= 10000:
		return 2
	case micros <= 25000:
		return 3
	case micros <= 50000:
		return 4
	case micros <= 100000:
		return 5
	case micros <= 250000:
		return 6
	case micros <= 500000:
		return 7
	case micros <= 1000000:
		return 8
	default:
		return 9
	}
}

// Query execution metrics. IncSchedulingTimeout/IncTableMissing/
// IncExecutionError/IncQueriesProcessed/ObserveQueryProcessingMs satisfy
// query.MetricsSink.
func (m *Metrics) IncQueriesProcessed()     { m.queryRequestsTotal.Add(1); m.querySuccessTotal.Add(1) }
func (m *Metrics) IncSchedulingTimeout()    { m.querySchedulingTimeouts.Add(1); m.queryErrorsTotal.Add(1) }
func (m *Metrics) IncTableMissing()         { m.queryTableMissing.Add(1); m.queryErrorsTotal.Add(1) }
func (m *Metrics) IncExecutionError()       { m.queryErrorsTotal.Add(1) }
func (m *Metrics) IncDeadlineExceeded()     { m.queryDeadlineExceeded.Add(1) }
func (m *Metrics) IncQueryRows(count int64) { m.queryRowsTotal.Add(count) }

// ObserveQueryProcessingMs records end-to-end query processing time in milliseconds.
func (m *Metrics) ObserveQueryProcessingMs(ms int64) {
	m.queryLatencySum.Add(ms * 1000)
	m.queryLatencyCount.Add(1)
}

// Segment pruning metrics
func (m *Metrics) AddSegmentsScanned(count int64) { m.segmentsScannedTotal.Add(count) }
func (m *Metrics) AddSegmentsPruned(count int64)  { m.segmentsPrunedTotal.Add(count) }
func (m *Metrics) IncSegmentMissing()             { m.segmentsMissingTotal.Add(1) }

// Plan selection metrics
func (m *Metrics) IncPlanSelection()    { m.planSelectionTotal.Add(1) }
func (m *Metrics) IncPlanMetadataAgg()  { m.planMetadataAggTotal.Add(1) }
func (m *Metrics) IncPlanDictionaryAgg() { m.planDictionaryAggTotal.Add(1) }
func (m *Metrics) IncPlanFilteredScan() { m.planFilteredScanTotal.Add(1) }
func (m *Metrics) IncPlanGroupBy()      { m.planGroupByTotal.Add(1) }

// IndexedTable metrics
func (m *Metrics) IncTableTrims()              { m.tableTrimsTotal.Add(1) }
func (m *Metrics) IncTableGroupsLimitHit()     { m.tableGroupsLimitHits.Add(1) }
func (m *Metrics) AddTableRecordsUpserted(n int64) { m.tableRecordsUpserted.Add(n) }

// Broker reduction metrics
func (m *Metrics) IncBrokerReduces()         { m.brokerReducesTotal.Add(1) }
func (m *Metrics) AddBrokerServersQueried(n int64) { m.brokerServersQueried.Add(n) }
func (m *Metrics) IncBrokerServerError()     { m.brokerServerErrors.Add(1) }

// Worker pool metrics
func (m *Metrics) RecordWorkerAcquireWait(micros int64) { m.workerPoolAcquireWaitSum.Add(micros) }
func (m *Metrics) IncWorkerTaskRun()                    { m.workerPoolTasksRun.Add(1) }

// Database Metrics
func (m *Metrics) SetDBConnectionsOpen(count int64)  { m.dbConnectionsOpen.Store(count) }
func (m *Metrics) SetDBConnectionsInUse(count int64) { m.dbConnectionsInUse.Store(count) }
func (m *Metrics) SetDBConnectionsIdle(count int64)  { m.dbConnectionsIdle.Store(count) }
func (m *Metrics) IncDBQueries()                     { m.dbQueriesTotal.Add(1) }
func (m *Metrics) IncDBQueryErrors()                 { m.dbQueryErrorsTotal.Add(1) }

// Storage metrics
func (m *Metrics) IncStorageReads()                { m.storageReadsTotal.Add(1) }
func (m *Metrics) AddStorageReadBytes(bytes int64) { m.storageReadBytesTotal.Add(bytes) }
func (m *Metrics) IncStorageErrors()               { m.storageErrorsTotal.Add(1) }

// Snapshot returns all metrics as a map (for the JSON diagnostics endpoint).
func (m *Metrics) Snapshot() map[string]interface{} {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return map[string]interface{}{
		"uptime_seconds": time.Since(m.startTime).Seconds(),
		"goroutines":     runtime.NumGoroutine(),
		"go_version":     runtime.Version(),
		"num_cpu":        runtime.NumCPU(),
		"gomaxprocs":     runtime.GOMAXPROCS(0),

		"memory_alloc_bytes":      memStats.Alloc,
		"memory_heap_alloc_bytes": memStats.HeapAlloc,
		"memory_sys_bytes":        memStats.Sys,
		"gc_cycles":               memStats.NumGC,
		"gc_pause_total_ns":       memStats.PauseTotalNs,

		"http_requests_total":   m.httpRequestsTotal.Load(),
		"http_requests_success": m.httpRequestsSuccess.Load(),
		"http_requests_error":   m.httpRequestsError.Load(),
		"http_latency_sum_us":   m.httpLatencySum.Load(),
		"http_latency_count":    m.httpLatencyCount.Load(),

		"query_requests_total":        m.queryRequestsTotal.Load(),
		"query_success_total":         m.querySuccessTotal.Load(),
		"query_errors_total":          m.queryErrorsTotal.Load(),
		"query_scheduling_timeouts":   m.querySchedulingTimeouts.Load(),
		"query_table_missing_total":   m.queryTableMissing.Load(),
		"query_deadline_exceeded":     m.queryDeadlineExceeded.Load(),
		"query_rows_total":            m.queryRowsTotal.Load(),
		"query_latency_sum_us":        m.queryLatencySum.Load(),
		"query_latency_count":         m.queryLatencyCount.Load(),

		"segments_scanned_total": m.segmentsScannedTotal.Load(),
		"segments_pruned_total":  m.segmentsPrunedTotal.Load(),
		"segments_missing_total": m.segmentsMissingTotal.Load(),

		"plan_selection_total":     m.planSelectionTotal.Load(),
		"plan_metadata_agg_total":  m.planMetadataAggTotal.Load(),
		"plan_dictionary_agg_total": m.planDictionaryAggTotal.Load(),
		"plan_filtered_scan_total": m.planFilteredScanTotal.Load(),
		"plan_group_by_total":      m.planGroupByTotal.Load(),

		"table_trims_total":            m.tableTrimsTotal.Load(),
		"table_groups_limit_hits":      m.tableGroupsLimitHits.Load(),
		"table_records_upserted_total": m.tableRecordsUpserted.Load(),

		"broker_reduces_total":         m.brokerReducesTotal.Load(),
		"broker_servers_queried_total": m.brokerServersQueried.Load(),
		"broker_server_errors_total":   m.brokerServerErrors.Load(),

		"worker_pool_tasks_run":            m.workerPoolTasksRun.Load(),
		"worker_pool_acquire_wait_sum_us":  m.workerPoolAcquireWaitSum.Load(),

		"db_connections_open":   m.dbConnectionsOpen.Load(),
		"db_connections_in_use": m.dbConnectionsInUse.Load(),
		"db_connections_idle":   m.dbConnectionsIdle.Load(),
		"db_queries_total":      m.dbQueriesTotal.Load(),
		"db_query_errors_total": m.dbQueryErrorsTotal.Load(),

		"storage_reads_total":      m.storageReadsTotal.Load(),
		"storage_read_bytes_total": m.storageReadBytesTotal.Load(),
		"storage_errors_total":     m.storageErrorsTotal.Load(),
	}
}

// PrometheusFormat returns metrics in Prometheus text exposition format.
func (m *Metrics) PrometheusFormat() string {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	uptimeSeconds := time.Since(m.startTime).Seconds()

	var b []byte
	b = append(b, "# HELP arcquery_uptime_seconds Time since the process started\n"...)
	b = append(b, "# TYPE arcquery_uptime_seconds gauge\n"...)
	b = appendMetric(b, "arcquery_uptime_seconds", uptimeSeconds)

	b = append(b, "# HELP arcquery_goroutines Number of goroutines\n"...)
	b = append(b, "# TYPE arcquery_goroutines gauge\n"...)
	b = appendMetric(b, "arcquery_goroutines", float64(runtime.NumGoroutine()))

	b = append(b, "# HELP arcquery_memory_alloc_bytes Current allocated memory\n"...)
	b = append(b, "# TYPE arcquery_memory_alloc_bytes gauge\n"...)
	b = appendMetric(b, "arcquery_memory_alloc_bytes", float64(memStats.Alloc))

	b = append(b, "# HELP arcquery_gc_cycles_total Total number of GC cycles\n"...)
	b = append(b, "# TYPE arcquery_gc_cycles_total counter\n"...)
	b = appendMetric(b, "arcquery_gc_cycles_total", float64(memStats.NumGC))

	b = append(b, "# HELP arcquery_http_requests_total Total HTTP requests\n"...)
	b = append(b, "# TYPE arcquery_http_requests_total counter\n"...)
	b = appendMetric(b, "arcquery_http_requests_total", float64(m.httpRequestsTotal.Load()))

	b = append(b, "# HELP arcquery_http_requests_error_total Failed HTTP requests\n"...)
	b = append(b, "# TYPE arcquery_http_requests_error_total counter\n"...)
	b = appendMetric(b, "arcquery_http_requests_error_total", float64(m.httpRequestsError.Load()))

	b = append(b, "# HELP arcquery_http_latency_seconds HTTP request latency\n"...)
	b = append(b, "# TYPE arcquery_http_latency_seconds histogram\n"...)
	bucketLabels := []string{"0.001", "0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "1", "+Inf"}
	var cumulative int64
	for i, label := range bucketLabels {
		cumulative += m.httpLatencyBuckets[i].Load()
		b = appendMetricWithLabel(b, "arcquery_http_latency_seconds_bucket", "le", label, float64(cumulative))
	}
	b = appendMetric(b, "arcquery_http_latency_seconds_sum", float64(m.httpLatencySum.Load())/1000000.0)
	b = appendMetric(b, "arcquery_http_latency_seconds_count", float64(m.httpLatencyCount.Load()))

	b = append(b, "# HELP arcquery_query_requests_total Total query requests submitted\n"...)
	b = append(b, "# TYPE arcquery_query_requests_total counter\n"...)
	b = appendMetric(b, "arcquery_query_requests_total", float64(m.queryRequestsTotal.Load()))

	b = append(b, "# HELP arcquery_query_success_total Queries that completed without exceptions\n"...)
	b = append(b, "# TYPE arcquery_query_success_total counter\n"...)
	b = appendMetric(b, "arcquery_query_success_total", float64(m.querySuccessTotal.Load()))

	b = append(b, "# HELP arcquery_query_errors_total Queries that returned at least one exception\n"...)
	b = append(b, "# TYPE arcquery_query_errors_total counter\n"...)
	b = appendMetric(b, "arcquery_query_errors_total", float64(m.queryErrorsTotal.Load()))

	b = append(b, "# HELP arcquery_query_scheduling_timeouts_total Queries rejected before execution due to an already-elapsed deadline\n"...)
	b = append(b, "# TYPE arcquery_query_scheduling_timeouts_total counter\n"...)
	b = appendMetric(b, "arcquery_query_scheduling_timeouts_total", float64(m.querySchedulingTimeouts.Load()))

	b = append(b, "# HELP arcquery_query_deadline_exceeded_total Combine executions abandoned past their deadline\n"...)
	b = append(b, "# TYPE arcquery_query_deadline_exceeded_total counter\n"...)
	b = appendMetric(b, "arcquery_query_deadline_exceeded_total", float64(m.queryDeadlineExceeded.Load()))

	b = append(b, "# HELP arcquery_query_rows_total Total rows returned by queries\n"...)
	b = append(b, "# TYPE arcquery_query_rows_total counter\n"...)
	b = appendMetric(b, "arcquery_query_rows_total", float64(m.queryRowsTotal.Load()))

	b = append(b, "# HELP arcquery_segments_scanned_total Segments considered by the pruning stage\n"...)
	b = append(b, "# TYPE arcquery_segments_scanned_total counter\n"...)
	b = appendMetric(b, "arcquery_segments_scanned_total", float64(m.segmentsScannedTotal.Load()))

	b = append(b, "# HELP arcquery_segments_pruned_total Segments excluded by the pruning stage\n"...)
	b = append(b, "# TYPE arcquery_segments_pruned_total counter\n"...)
	b = appendMetric(b, "arcquery_segments_pruned_total", float64(m.segmentsPrunedTotal.Load()))

	b = append(b, "# HELP arcquery_plan_selection_total Selection plans built\n"...)
	b = append(b, "# TYPE arcquery_plan_selection_total counter\n"...)
	b = appendMetric(b, "arcquery_plan_selection_total", float64(m.planSelectionTotal.Load()))

	b = append(b, "# HELP arcquery_plan_metadata_agg_total Metadata-only aggregation plans built\n"...)
	b = append(b, "# TYPE arcquery_plan_metadata_agg_total counter\n"...)
	b = appendMetric(b, "arcquery_plan_metadata_agg_total", float64(m.planMetadataAggTotal.Load()))

	b = append(b, "# HELP arcquery_plan_dictionary_agg_total Dictionary-based min/max/range plans built\n"...)
	b = append(b, "# TYPE arcquery_plan_dictionary_agg_total counter\n"...)
	b = appendMetric(b, "arcquery_plan_dictionary_agg_total", float64(m.planDictionaryAggTotal.Load()))

	b = append(b, "# HELP arcquery_plan_filtered_scan_total Filtered-scan plans built\n"...)
	b = append(b, "# TYPE arcquery_plan_filtered_scan_total counter\n"...)
	b = appendMetric(b, "arcquery_plan_filtered_scan_total", float64(m.planFilteredScanTotal.Load()))

	b = append(b, "# HELP arcquery_plan_group_by_total Group-by plans built\n"...)
	b = append(b, "# TYPE arcquery_plan_group_by_total counter\n"...)
	b = appendMetric(b, "arcquery_plan_group_by_total", float64(m.planGroupByTotal.Load()))

	b = append(b, "# HELP arcquery_table_trims_total IndexedTable trims performed\n"...)
	b = append(b, "# TYPE arcquery_table_trims_total counter\n"...)
	b = appendMetric(b, "arcquery_table_trims_total", float64(m.tableTrimsTotal.Load()))

	b = append(b, "# HELP arcquery_table_groups_limit_hits_total Times NumGroupsLimit was reached\n"...)
	b = append(b, "# TYPE arcquery_table_groups_limit_hits_total counter\n"...)
	b = appendMetric(b, "arcquery_table_groups_limit_hits_total", float64(m.tableGroupsLimitHits.Load()))

	b = append(b, "# HELP arcquery_broker_reduces_total Broker-side reductions performed\n"...)
	b = append(b, "# TYPE arcquery_broker_reduces_total counter\n"...)
	b = appendMetric(b, "arcquery_broker_reduces_total", float64(m.brokerReducesTotal.Load()))

	b = append(b, "# HELP arcquery_broker_server_errors_total Per-server fan-out errors observed by the broker\n"...)
	b = append(b, "# TYPE arcquery_broker_server_errors_total counter\n"...)
	b = appendMetric(b, "arcquery_broker_server_errors_total", float64(m.brokerServerErrors.Load()))

	b = append(b, "# HELP arcquery_db_connections_open Open DuckDB connections\n"...)
	b = append(b, "# TYPE arcquery_db_connections_open gauge\n"...)
	b = appendMetric(b, "arcquery_db_connections_open", float64(m.dbConnectionsOpen.Load()))

	b = append(b, "# HELP arcquery_db_queries_total Total DuckDB queries issued by the segment store\n"...)
	b = append(b, "# TYPE arcquery_db_queries_total counter\n"...)
	b = appendMetric(b, "arcquery_db_queries_total", float64(m.dbQueriesTotal.Load()))

	b = append(b, "# HELP arcquery_storage_reads_total Total segment reads from the storage backend\n"...)
	b = append(b, "# TYPE arcquery_storage_reads_total counter\n"...)
	b = appendMetric(b, "arcquery_storage_reads_total", float64(m.storageReadsTotal.Load()))

	return string(b)
}

// Helper functions for Prometheus format
func appendMetric(b []byte, name string, value float64) []byte {
	b = append(b, name...)
	b = append(b, ' ')
	b = appendFloat(b, value)
	b = append(b, '\n')
	return b
}

func appendMetricWithLabel(b []byte, name, labelName, labelValue string, value float64) []byte {
	b = append(b, name...)
	b = append(b, '{')
	b = append(b, labelName...)
	b = append(b, '=', '"')
	b = append(b, labelValue...)
	b = append(b, '"', '}', ' ')
	b = appendFloat(b, value)
	b = append(b, '\n')
	return b
}

func appendFloat(b []byte, v float64) []byte {
	if v == float64(int64(v)) {
		return appendInt(b, int64(v))
	}
	intPart := int64(v)
	fracPart := int64((v - float64(intPart)) * 1000000)
	if fracPart < 0 {
		fracPart = -fracPart
	}
	b = appendInt(b, intPart)
	b = append(b, '.')
	if fracPart < 100000 {
		b = append(b, '0')
	}
	if fracPart < 10000 {
		b = append(b, '0')
	}
	if fracPart < 1000 {
		b = append(b, '0')
	}
	if fracPart < 100 {
		b = append(b, '0')
	}
	if fracPart < 10 {
		b = append(b, '0')
	}
	b = appendInt(b, fracPart)
	return b
}

func appendInt(b []byte, v int64) []byte {
	if v < 0 {
		b = append(b, '-')
		v = -v
	}
	if v == 0 {
		return append(b, '0')
	}
	var digits [20]byte
	i := len(digits)
	for v > 0 {
		i--
		digits[i] = byte('0' + v%10)
		v /= 10
	}
	return append(b, digits[i:]...)
}
