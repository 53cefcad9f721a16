// Package segstore provides a DuckDB-backed implementation of
// query.Segment/query.DataSource over parquet files on a storage.Backend.
// It is the demo segment store: one ParquetSegment per logical segment,
// queried through read_parquet() rather than a native columnar index.
package segstore

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/basekick-labs/arc-query/internal/database"
	"github.com/basekick-labs/arc-query/internal/query"
	sqlmask "github.com/basekick-labs/arc-query/internal/sql"
	"github.com/basekick-labs/arc-query/internal/storage"
)

// ColumnDef describes one column of a segment as declared by the table's
// schema. Sorted marks a column whose dictionary is known to be
// monotonically ordered, which is what makes it eligible for the
// dictionary-only min/max/minmaxrange plan.
type ColumnDef struct {
	Name   string
	Type   query.ColumnDataType
	Sorted bool
}

// columnStats implements query.DataSource for one column of a ParquetSegment.
// Min/max/sorted-values are pre-computed at Open time for Sorted columns
// only; unsorted columns answer HasDictionary/IsSorted false and carry no
// precomputed stats, matching what a segment without a built dictionary for
// that column would report.
type columnStats struct {
	def      ColumnDef
	min, max interface{}
	haveBounds bool
	values   []interface{}
}

func (c *columnStats) ColumnName() string             { return c.def.Name }
func (c *columnStats) DataType() query.ColumnDataType  { return c.def.Type }
func (c *columnStats) HasDictionary() bool             { return c.def.Sorted }
func (c *columnStats) IsSorted() bool                  { return c.def.Sorted }
func (c *columnStats) Nullable() bool                  { return true }

func (c *columnStats) MinValue() (interface{}, bool) {
	if !c.haveBounds {
		return nil, false
	}
	return c.min, true
}

func (c *columnStats) MaxValue() (interface{}, bool) {
	if !c.haveBounds {
		return nil, false
	}
	return c.max, true
}

func (c *columnStats) SortedValues() ([]interface{}, bool) {
	if !c.def.Sorted {
		return nil, false
	}
	return c.values, true
}

// ParquetSegment is one segment's worth of parquet files, queried in place
// through DuckDB's read_parquet() table function. It never loads the data
// into memory outside of query execution.
type ParquetSegment struct {
	id                string
	tableNameWithType string
	totalDocs         int64
	mutable           bool
	lastIndexedMs     int64

	db    *database.DuckDB
	cache *database.SQLTransformCache
	from  string

	columns map[string]*columnStats
	logger  zerolog.Logger
}

// Open resolves the segment's backing parquet file(s) on backend, counts
// its rows, and loads min/max/sorted-dictionary stats for every Sorted
// column. columns declares the full schema this segment will answer
// DataSource lookups and filtered scans against.
//
// For a local backend the files are already on disk and are queried in
// place. For a remote backend (s3, azure) the files are listed and fetched
// through backend.Read into cacheDir before being handed to DuckDB — the
// query engine never reads a segment over the network directly.
func Open(
	ctx context.Context,
	backend storage.Backend,
	db *database.DuckDB,
	cache *database.SQLTransformCache,
	tableNameWithType string,
	segmentID string,
	columns []ColumnDef,
	mutable bool,
	cacheDir string,
	logger zerolog.Logger,
) (*ParquetSegment, error) {
	from, err := segmentFromClause(ctx, backend, tableNameWithType, segmentID, cacheDir)
	if err != nil {
		return nil, fmt.Errorf("segstore: resolve segment %s: %w", segmentID, err)
	}

	s := &ParquetSegment{
		id:                segmentID,
		tableNameWithType: tableNameWithType,
		mutable:           mutable,
		db:                db,
		cache:             cache,
		from:              from,
		columns:           make(map[string]*columnStats, len(columns)),
		logger:            logger,
	}

	var count int64
	row := db.DB().QueryRowContext(ctx, fmt.Sprintf("SELECT count(*) FROM %s", s.from))
	if err := row.Scan(&count); err != nil {
		return nil, fmt.Errorf("segstore: count segment %s: %w", segmentID, err)
	}
	s.totalDocs = count

	for _, def := range columns {
		cs := &columnStats{def: def}
		if def.Sorted {
			if err := s.loadSortedStats(ctx, def, cs); err != nil {
				return nil, fmt.Errorf("segstore: load stats for %s.%s: %w", segmentID, def.Name, err)
			}
		}
		s.columns[def.Name] = cs
	}

	return s, nil
}

// segmentFromClause resolves the read_parquet() FROM-clause for one
// segment. A local backend's files are already on disk, so GetStoragePath's
// glob is queried directly. Any other backend is treated as remote: its
// segment files are enumerated with List and fetched with Read into
// cacheDir, and the FROM-clause points at the cached copies, so a retry
// budget and circuit breaker (when backend is a ResilientBackend) protect
// the one place a query can actually stall on deep storage.
func segmentFromClause(ctx context.Context, backend storage.Backend, tableNameWithType, segmentID, cacheDir string) (string, error) {
	if backend.Type() == "local" {
		path := storage.GetStoragePath(backend, tableNameWithType, segmentID)
		return fmt.Sprintf("read_parquet('%s')", path), nil
	}

	localPaths, err := fetchSegmentFiles(ctx, backend, tableNameWithType, segmentID, cacheDir)
	if err != nil {
		return "", err
	}
	if len(localPaths) == 1 {
		return fmt.Sprintf("read_parquet('%s')", localPaths[0]), nil
	}
	quoted := make([]string, len(localPaths))
	for i, p := range localPaths {
		quoted[i] = "'" + p + "'"
	}
	return fmt.Sprintf("read_parquet([%s])", strings.Join(quoted, ", ")), nil
}

// fetchSegmentFiles lists the parquet files under a segment's key prefix
// and downloads any not already present in cacheDir, returning their local
// paths. Files already cached from a previous Open are not re-fetched.
func fetchSegmentFiles(ctx context.Context, backend storage.Backend, tableNameWithType, segmentID, cacheDir string) ([]string, error) {
	prefix := tableNameWithType + "/" + segmentID + "/"
	keys, err := backend.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list segment files under %s: %w", prefix, err)
	}

	var localPaths []string
	for _, key := range keys {
		if !strings.HasSuffix(key, ".parquet") {
			continue
		}
		localPath := filepath.Join(cacheDir, filepath.FromSlash(key))

		if _, statErr := os.Stat(localPath); statErr != nil {
			data, err := backend.Read(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("fetch segment file %s: %w", key, err)
			}
			if err := os.MkdirAll(filepath.Dir(localPath), 0700); err != nil {
				return nil, fmt.Errorf("create segment cache dir for %s: %w", key, err)
			}
			if err := os.WriteFile(localPath, data, 0600); err != nil {
				return nil, fmt.Errorf("write cached segment file %s: %w", key, err)
			}
		}
		localPaths = append(localPaths, localPath)
	}

	if len(localPaths) == 0 {
		return nil, fmt.Errorf("no parquet files found under %s", prefix)
	}
	return localPaths, nil
}

func (s *ParquetSegment) loadSortedStats(ctx context.Context, def ColumnDef, cs *columnStats) error {
	row := s.db.DB().QueryRowContext(ctx, fmt.Sprintf(
		"SELECT min(%s), max(%s) FROM %s", def.Name, def.Name, s.from,
	))
	var min, max interface{}
	if err := row.Scan(&min, &max); err != nil {
		return err
	}
	cs.min, cs.max, cs.haveBounds = min, max, true

	rows, err := s.db.DB().QueryContext(ctx, fmt.Sprintf(
		"SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL ORDER BY %s", def.Name, s.from, def.Name, def.Name,
	))
	if err != nil {
		return err
	}
	defer rows.Close()

	var values []interface{}
	for rows.Next() {
		var v interface{}
		if err := rows.Scan(&v); err != nil {
			return err
		}
		values = append(values, v)
	}
	cs.values = values
	return rows.Err()
}

func (s *ParquetSegment) ID() string       { return s.id }
func (s *ParquetSegment) TotalDocs() int64 { return s.totalDocs }
func (s *ParquetSegment) IsMutable() bool  { return s.mutable }

func (s *ParquetSegment) LastIndexedTimeMs() (int64, bool) {
	if s.lastIndexedMs == 0 {
		return 0, false
	}
	return s.lastIndexedMs, true
}

func (s *ParquetSegment) LatestIngestionTimeMs() (int64, bool) {
	return s.LastIndexedTimeMs()
}

func (s *ParquetSegment) DataSource(column string) (query.DataSource, bool) {
	cs, ok := s.columns[column]
	if !ok {
		return nil, false
	}
	return cs, true
}

// fromClause returns this segment's FROM-clause, storing it in the shared
// cache under tableNameWithType/segmentID on first use.
func (s *ParquetSegment) fromClause() string {
	cacheKey := s.tableNameWithType + "/" + s.id
	if s.cache != nil {
		if cached, ok := s.cache.Get(cacheKey); ok {
			return cached
		}
	}
	if s.cache != nil {
		s.cache.Set(cacheKey, s.from)
	}
	return s.from
}

// ExecuteFilteredScan answers the Selection/FilteredScan/GroupBy/
// GroupByOrderBy leaf plans: it compiles q into a SQL SELECT over this
// segment's parquet files and shapes the rows into the LeafResult schema
// the combine node's merge step expects — raw rows for a plain selection,
// one row per distinct group carrying aggregation intermediates otherwise.
func (s *ParquetSegment) ExecuteFilteredScan(ctx context.Context, q *query.QueryContext) (*query.LeafResult, error) {
	cols := referencedColumns(q)
	whereSQL, args := "", []interface{}(nil)
	if q.Filter != nil {
		whereSQL, args = translateFilter(q.Filter)
	}

	selectList := strings.Join(cols, ", ")
	if selectList == "" {
		selectList = "*"
	}
	sqlStr := fmt.Sprintf("SELECT %s FROM %s", selectList, s.fromClause())
	if whereSQL != "" {
		sqlStr += " WHERE " + whereSQL
	}

	if q.Trace {
		masked, _ := sqlmask.MaskStringLiterals(sqlStr, sqlmask.HasQuotes(sqlStr))
		s.logger.Debug().Str("segment", s.id).Str("sql", masked).Msg("executing filtered scan")
	}

	rows, err := s.db.DB().QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("segstore: filtered scan on %s: %w", s.id, err)
	}
	defer rows.Close()

	raw, scanned, err := scanRows(rows, len(cols))
	if err != nil {
		return nil, err
	}

	if q.HasGroupBy() || q.IsAggregationQuery() {
		return s.aggregateLeaf(q, cols, raw, scanned)
	}
	return s.selectionLeaf(q, cols, raw, scanned)
}

// selectionLeaf shapes raw query rows into a LeafResult for a plain
// (non-aggregation, non-group-by) selection query: one record per row, in
// select-expression order, no key/aggregation split.
func (s *ParquetSegment) selectionLeaf(q *query.QueryContext, cols []string, raw [][]interface{}, scanned int64) (*query.LeafResult, error) {
	colPos := make(map[string]int, len(cols))
	for i, c := range cols {
		colPos[c] = i
	}

	schema := &query.DataSchema{NumKeyColumns: 0}
	exprPos := make([]int, len(q.Select))
	for i, e := range q.Select {
		name := e.Identifier
		colType := query.ColumnObject
		if e.Kind == query.ExprIdentifier {
			if cs, ok := s.columns[e.Identifier]; ok {
				colType = cs.DataType()
			}
		} else {
			name = e.Function
		}
		schema.Columns = append(schema.Columns, query.ColumnSpec{Name: name, Type: colType})
		if e.Kind == query.ExprIdentifier {
			exprPos[i] = colPos[e.Identifier]
		} else {
			exprPos[i] = -1
		}
	}

	records := make([]query.Record, 0, len(raw))
	for _, row := range raw {
		values := make([]interface{}, len(q.Select))
		for i, pos := range exprPos {
			if pos >= 0 && pos < len(row) {
				values[i] = row[pos]
			}
		}
		records = append(records, query.Record{Values: values})
	}

	return &query.LeafResult{
		Schema:         schema,
		Records:        records,
		NumDocsScanned: scanned,
	}, nil
}

// aggregateLeaf shapes raw query rows into a LeafResult for a group-by
// and/or aggregation query: rows are grouped in-process by their group-by
// column values and folded through each select aggregation's Init/Merge,
// producing one record per distinct group carrying intermediate results —
// exactly what the combine node's IndexedTable merge step consumes.
func (s *ParquetSegment) aggregateLeaf(q *query.QueryContext, cols []string, raw [][]interface{}, scanned int64) (*query.LeafResult, error) {
	colPos := make(map[string]int, len(cols))
	for i, c := range cols {
		colPos[c] = i
	}

	groupByPos := make([]int, len(q.GroupBy))
	schema := &query.DataSchema{NumKeyColumns: len(q.GroupBy)}
	for i, e := range q.GroupBy {
		colType := query.ColumnString
		if cs, ok := s.columns[e.Identifier]; ok {
			colType = cs.DataType()
		}
		schema.Columns = append(schema.Columns, query.ColumnSpec{Name: e.Identifier, Type: colType})
		groupByPos[i] = colPos[e.Identifier]
	}

	var aggExprs []query.Expression
	for _, e := range q.Select {
		if e.IsAggregation() {
			aggExprs = append(aggExprs, e)
		}
	}
	aggFuncs := make([]query.AggregationFunction, len(aggExprs))
	aggArgPos := make([]int, len(aggExprs))
	for i, e := range aggExprs {
		fn, ok := query.LookupAggregation(e.Function)
		if !ok {
			return nil, fmt.Errorf("segstore: unknown aggregation function %q", e.Function)
		}
		aggFuncs[i] = fn
		schema.Columns = append(schema.Columns, query.ColumnSpec{Name: e.Function, Type: fn.FinalResultColumnType()})
		if arg, ok := e.SingleIdentifierArg(); ok {
			aggArgPos[i] = colPos[arg]
		} else {
			aggArgPos[i] = -1 // count(*) and friends: merge a constant per row
		}
	}

	type group struct {
		key   []interface{}
		state []interface{}
	}
	order := []string(nil)
	groups := map[string]*group{}

	for _, row := range raw {
		keyValues := make([]interface{}, len(groupByPos))
		for i, pos := range groupByPos {
			if pos >= 0 && pos < len(row) {
				keyValues[i] = row[pos]
			}
		}
		hk := fmt.Sprint(keyValues)
		g, ok := groups[hk]
		if !ok {
			state := make([]interface{}, len(aggFuncs))
			for i, fn := range aggFuncs {
				state[i] = fn.Init()
			}
			g = &group{key: keyValues, state: state}
			groups[hk] = g
			order = append(order, hk)
		}
		for i, fn := range aggFuncs {
			var input interface{} = int64(1)
			if aggArgPos[i] >= 0 && aggArgPos[i] < len(row) {
				input = row[aggArgPos[i]]
			}
			g.state[i] = fn.Merge(g.state[i], input)
		}
	}

	records := make([]query.Record, 0, len(order))
	for _, hk := range order {
		g := groups[hk]
		values := append([]interface{}{}, g.key...)
		values = append(values, g.state...)
		records = append(records, query.Record{Values: values})
	}

	return &query.LeafResult{
		Schema:         schema,
		Records:        records,
		NumDocsScanned: scanned,
	}, nil
}

func scanRows(rows *stdsql.Rows, numCols int) ([][]interface{}, int64, error) {
	var out [][]interface{}
	var n int64
	for rows.Next() {
		vals := make([]interface{}, numCols)
		ptrs := make([]interface{}, numCols)
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, 0, fmt.Errorf("segstore: scan row: %w", err)
		}
		out = append(out, vals)
		n++
	}
	return out, n, rows.Err()
}

// referencedColumns collects, in a stable order, every column identifier a
// query actually touches: group-by keys, select/order-by identifiers and
// aggregation arguments, and filter columns. Limiting the SELECT list to
// these keeps DuckDB from materializing columns the query never uses.
func referencedColumns(q *query.QueryContext) []string {
	seen := map[string]bool{}
	var cols []string
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		cols = append(cols, name)
	}

	for _, e := range q.GroupBy {
		add(e.Identifier)
	}
	for _, e := range q.Select {
		addExpressionColumns(e, add)
	}
	for _, o := range q.OrderBy {
		addExpressionColumns(o.Expression, add)
	}
	if q.Filter != nil {
		for _, c := range collectFilterColumns(q.Filter) {
			add(c)
		}
	}
	return cols
}

func addExpressionColumns(e query.Expression, add func(string)) {
	if e.Kind == query.ExprIdentifier {
		add(e.Identifier)
		return
	}
	for _, arg := range e.Args {
		addExpressionColumns(arg, add)
	}
}

func collectFilterColumns(f *query.FilterExpression) []string {
	if f == nil {
		return nil
	}
	if f.Op == query.FilterAnd || f.Op == query.FilterOr {
		var cols []string
		for i := range f.Children {
			cols = append(cols, collectFilterColumns(&f.Children[i])...)
		}
		return cols
	}
	return []string{f.Column}
}

// translateFilter compiles a FilterExpression tree into a parameterized SQL
// WHERE clause using DuckDB's "?" positional placeholders.
func translateFilter(f *query.FilterExpression) (string, []interface{}) {
	switch f.Op {
	case query.FilterAnd, query.FilterOr:
		joiner := " AND "
		if f.Op == query.FilterOr {
			joiner = " OR "
		}
		var parts []string
		var args []interface{}
		for i := range f.Children {
			part, childArgs := translateFilter(&f.Children[i])
			parts = append(parts, "("+part+")")
			args = append(args, childArgs...)
		}
		return strings.Join(parts, joiner), args
	case query.FilterRange:
		var parts []string
		var args []interface{}
		if f.Lower != nil {
			parts = append(parts, fmt.Sprintf("%s >= ?", f.Column))
			args = append(args, f.Lower)
		}
		if f.Upper != nil {
			parts = append(parts, fmt.Sprintf("%s <= ?", f.Column))
			args = append(args, f.Upper)
		}
		if len(parts) == 0 {
			return "TRUE", nil
		}
		return strings.Join(parts, " AND "), args
	case query.FilterEquals:
		return fmt.Sprintf("%s = ?", f.Column), []interface{}{f.Value}
	case query.FilterNotEquals:
		return fmt.Sprintf("%s != ?", f.Column), []interface{}{f.Value}
	default:
		return "TRUE", nil
	}
}
