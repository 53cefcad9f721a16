package query

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/basekick-labs/arc-query/internal/queryregistry"
)

// ServerQueryRequest is the decoded wire shape the front door consumes: the
// table to query, the candidate segment ids the broker believes this
// server holds, and the compiled QueryContext.
type ServerQueryRequest struct {
	TableNameWithType string
	SegmentIds        []string
	Query             *QueryContext
	RemoteAddr        string
	Streaming         bool
}

// MetricsSink is the narrow set of counters the front door increments.
// internal/metrics implements this; it is expressed as an interface here
// so this package never imports a concrete metrics singleton.
type MetricsSink interface {
	IncSchedulingTimeout()
	IncTableMissing()
	IncExecutionError()
	IncQueriesProcessed()
	ObserveQueryProcessingMs(ms int64)
}

type noopMetricsSink struct{}

func (noopMetricsSink) IncSchedulingTimeout()         {}
func (noopMetricsSink) IncTableMissing()              {}
func (noopMetricsSink) IncExecutionError()            {}
func (noopMetricsSink) IncQueriesProcessed()          {}
func (noopMetricsSink) ObserveQueryProcessingMs(int64) {}

// Executor is the per-server front door (C7): it orchestrates C1-C4 under
// a deadline and produces diagnostic metadata, mirroring the original
// Pinot query executor's submit/processQuery/sendResponse sequence.
type Executor struct {
	Tables           *TableRegistry
	Pool             *WorkerPool
	PlanMaker        PlanMakerConfig
	Pruner           SegmentPruner
	DefaultTimeoutMs int64
	Tracer           *queryregistry.Registry
	Metrics          MetricsSink
	Logger           zerolog.Logger
}

func NewExecutor(tables *TableRegistry, pool *WorkerPool, planMaker PlanMakerConfig, pruner SegmentPruner, defaultTimeoutMs int64, tracer *queryregistry.Registry, metrics MetricsSink, logger zerolog.Logger) *Executor {
	if metrics == nil {
		metrics = noopMetricsSink{}
	}
	return &Executor{
		Tables:           tables,
		Pool:             pool,
		PlanMaker:        planMaker,
		Pruner:           pruner,
		DefaultTimeoutMs: defaultTimeoutMs,
		Tracer:           tracer,
		Metrics:          metrics,
		Logger:           logger.With().Str("component", "query-executor").Logger(),
	}
}

// Submit is the outermost entry point: decode failures never touch a
// segment and are surfaced directly as INVALID_ARGUMENT, matching the
// fatal-to-request error class (§7).
func (e *Executor) Submit(ctx context.Context, req *ServerQueryRequest, queryArrivalTimeMs int64) (*DataTable, error) {
	if req == nil || req.Query == nil {
		return nil, &DecodeError{Message: "nil query request"}
	}
	return e.processQuery(ctx, req, queryArrivalTimeMs), nil
}

func (e *Executor) processQuery(ctx context.Context, req *ServerQueryRequest, queryArrivalTimeMs int64) *DataTable {
	timers := NewTimerContext()
	timers.Stop(PhaseSchedulerWait)

	queryTimeoutMs := e.DefaultTimeoutMs
	if override, ok := req.Query.Options.TimeoutOverrideMs(); ok {
		queryTimeoutMs = override
	}
	if req.Query.TimeoutMsOverride != nil {
		queryTimeoutMs = *req.Query.TimeoutMsOverride
	}
	endTimeMs := queryArrivalTimeMs + queryTimeoutMs
	deadline := time.UnixMilli(endTimeMs)

	timers.Start(PhaseQueryProcessing)
	defer func() {
		timers.Stop(PhaseQueryProcessing)
		e.Metrics.ObserveQueryProcessingMs(timers.Duration(PhaseQueryProcessing).Milliseconds())
	}()

	if time.Now().After(deadline) {
		e.Metrics.IncSchedulingTimeout()
		table := NewDataTable(&DataSchema{})
		table.AddException(ErrSchedulingTimeout, "query scheduling deadline exceeded before execution")
		return table
	}

	manager, ok := e.Tables.Lookup(req.TableNameWithType)
	if !ok {
		e.Metrics.IncTableMissing()
		table := NewDataTable(&DataSchema{})
		table.AddException(ErrServerTableMissing, "table not found: "+req.TableNameWithType)
		return table
	}

	var queryID string
	var traceCtx context.Context = ctx
	traced := req.Query.Trace && e.Tracer != nil
	if traced {
		queryID, traceCtx = e.Tracer.Register(ctx, req.TableNameWithType, req.RemoteAddr, len(req.SegmentIds))
	}

	handles, numMissingSegments := manager.Acquire(req.SegmentIds)
	defer func() {
		for _, h := range handles {
			h.Release()
		}
	}()

	var minIndexTimeMs, minIngestionTimeMs int64
	haveMinIndex, haveMinIngestion := false, false
	numConsumingSegmentsProcessed := 0
	for _, h := range handles {
		if !h.Segment.IsMutable() {
			continue
		}
		numConsumingSegmentsProcessed++
		if ingestionMs, ok := h.Segment.LatestIngestionTimeMs(); ok {
			if !haveMinIngestion || ingestionMs < minIngestionTimeMs {
				minIngestionTimeMs = ingestionMs
				haveMinIngestion = true
			}
			continue
		}
		if indexMs, ok := h.Segment.LastIndexedTimeMs(); ok {
			if !haveMinIndex || indexMs < minIndexTimeMs {
				minIndexTimeMs = indexMs
				haveMinIndex = true
			}
		}
	}

	var totalDocs int64
	segments := make([]Segment, len(handles))
	for i, h := range handles {
		segments[i] = h.Segment
		totalDocs += h.Segment.TotalDocs()
	}

	table := e.executeAndRespond(traceCtx, req.Query, segments, totalDocs, deadline, timers)

	table.SetMetadataInt(MetaNumSegmentsQueried, int64(len(req.SegmentIds)-numMissingSegments))
	if numConsumingSegmentsProcessed > 0 {
		table.SetMetadataInt(MetaNumConsumingSegmentsProcessed, int64(numConsumingSegmentsProcessed))
		if haveMinIngestion {
			table.SetMetadataInt(MetaMinConsumingFreshnessTimeMs, minIngestionTimeMs)
		} else if haveMinIndex {
			table.SetMetadataInt(MetaMinConsumingFreshnessTimeMs, minIndexTimeMs)
		}
	}
	table.SetMetadataInt(MetaTimeUsedMs, timers.Duration(PhaseQueryProcessing).Milliseconds())

	if traced {
		if len(table.Exceptions) > 0 {
			e.Tracer.Fail(queryID, table.Exceptions[0].Message)
		} else {
			e.Tracer.Complete(queryID, len(table.Rows))
		}
		table.Metadata[MetaTraceInfo] = queryID
	}

	e.Metrics.IncQueriesProcessed()
	return table
}

func (e *Executor) executeAndRespond(ctx context.Context, q *QueryContext, segments []Segment, totalDocsBeforePruning int64, deadline time.Time, timers *TimerContext) *DataTable {
	timers.Start(PhaseSegmentPruning)
	kept := segments
	if e.Pruner != nil {
		kept = e.Pruner.Prune(segments, q)
	}
	timers.Stop(PhaseSegmentPruning)

	if len(kept) == 0 {
		table := NewDataTable(&DataSchema{})
		table.SetMetadataInt(MetaTotalDocs, totalDocsBeforePruning)
		table.SetMetadataInt(MetaNumDocsScanned, 0)
		table.SetMetadataInt(MetaNumEntriesScannedInFilter, 0)
		table.SetMetadataInt(MetaNumEntriesScannedPostFilter, 0)
		table.SetMetadataInt(MetaNumSegmentsProcessed, 0)
		table.SetMetadataInt(MetaNumSegmentsMatched, 0)
		return table
	}

	timers.Start(PhaseBuildQueryPlan)
	children := make([]*PlanNode, len(kept))
	for i, seg := range kept {
		children[i] = BuildLeafPlan(q, seg, e.PlanMaker)
	}
	combine := BuildCombineNode(children, e.Pool, q, e.PlanMaker)
	timers.Stop(PhaseBuildQueryPlan)

	timers.Start(PhaseQueryPlanExecution)
	result := func() (res *CombineResult) {
		defer func() {
			if r := recover(); r != nil {
				res = &CombineResult{FirstError: fmt.Errorf("panic during execution: %v", r)}
			}
		}()
		return ExecuteCombine(ctx, combine, deadline)
	}()
	timers.Stop(PhaseQueryPlanExecution)

	table := NewDataTable(result.Schema)
	table.Rows = result.Records
	table.SetMetadataInt(MetaTotalDocs, totalDocsBeforePruning)
	table.SetMetadataInt(MetaNumDocsScanned, result.NumDocsScanned)
	table.SetMetadataInt(MetaNumEntriesScannedInFilter, result.NumEntriesScannedInFilter)
	table.SetMetadataInt(MetaNumEntriesScannedPostFilter, result.NumEntriesScannedPostFilter)
	table.SetMetadataInt(MetaNumSegmentsProcessed, result.NumSegmentsProcessed)
	table.SetMetadataInt(MetaNumSegmentsMatched, int64(len(kept)))

	if result.DeadlineExceeded {
		table.AddException(ErrQueryExecution, "query plan execution deadline exceeded, returning partial results")
	}
	if result.FirstError != nil {
		if bad, ok := result.FirstError.(*BadQueryRequestError); ok {
			e.Logger.Info().Err(bad).Msg("bad query request")
		} else {
			e.Logger.Error().Err(result.FirstError).Msg("query execution error")
		}
		e.Metrics.IncExecutionError()
		table.AddException(ErrQueryExecution, result.FirstError.Error())
	}
	return table
}
