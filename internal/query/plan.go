package query

import (
	"context"
	"fmt"
)

// PlanNodeTag is the tagged-variant discriminant used in place of class
// inheritance across plan node kinds (§9 design notes).
type PlanNodeTag int

const (
	NodeSelection PlanNodeTag = iota
	NodeMetadataAgg
	NodeDictionaryAgg
	NodeFilteredScan
	NodeGroupBy
	NodeGroupByOrderBy
	NodeCombine
	NodeInstanceResponse
)

// PlanNode is a single node in the plan tree. Leaf nodes bind Tag plus
// Segment; the Combine node holds its Children and a shared worker pool.
// Leaf nodes run through executeLeaf and the combine node through
// ExecuteCombine.
// Plans are single-use: a PlanNode tree must not be executed twice.
type PlanNode struct {
	Tag      PlanNodeTag
	Segment  Segment
	Query    *QueryContext
	Children []*PlanNode
	Pool     *WorkerPool
	Config   PlanMakerConfig
}

// BuildLeafPlan selects a leaf plan kind for one segment (C3) and wraps it
// in a PlanNode.
func BuildLeafPlan(q *QueryContext, seg Segment, cfg PlanMakerConfig) *PlanNode {
	kind := SelectPlanKind(q, seg)
	var tag PlanNodeTag
	switch kind {
	case PlanSelection:
		tag = NodeSelection
	case PlanMetadataAgg:
		tag = NodeMetadataAgg
	case PlanDictionaryAgg:
		tag = NodeDictionaryAgg
	case PlanGroupBy:
		tag = NodeGroupBy
	case PlanGroupByOrderBy:
		tag = NodeGroupByOrderBy
	default:
		tag = NodeFilteredScan
	}
	return &PlanNode{Tag: tag, Segment: seg, Query: q, Config: cfg}
}

// BuildCombineNode wraps the per-segment leaf plans under a combine node
// bound to the shared worker pool.
func BuildCombineNode(children []*PlanNode, pool *WorkerPool, q *QueryContext, cfg PlanMakerConfig) *PlanNode {
	return &PlanNode{Tag: NodeCombine, Children: children, Pool: pool, Query: q, Config: cfg}
}

// BuildInstanceResponseNode wraps a combine node in an instance-response
// node. The executor does not build one: it runs the combine node directly
// and builds the DataTable itself.
func BuildInstanceResponseNode(combine *PlanNode) *PlanNode {
	return &PlanNode{Tag: NodeInstanceResponse, Children: []*PlanNode{combine}, Query: combine.Query, Config: combine.Config}
}

// executeLeaf runs one leaf plan node to completion (or ctx cancellation)
// and returns its LeafResult.
func executeLeaf(ctx context.Context, node *PlanNode) (*LeafResult, error) {
	switch node.Tag {
	case NodeMetadataAgg:
		return executeMetadataAgg(node)
	case NodeDictionaryAgg:
		return executeDictionaryAgg(node)
	default:
		return node.Segment.ExecuteFilteredScan(ctx, node.Query)
	}
}

// executeMetadataAgg answers every select expression (guaranteed count())
// directly from segment metadata — no row scan.
func executeMetadataAgg(node *PlanNode) (*LeafResult, error) {
	n := len(node.Query.Select)
	cols := make([]ColumnSpec, n)
	values := make([]interface{}, n)
	for i := range node.Query.Select {
		cols[i] = ColumnSpec{Name: "count", Type: ColumnLong}
		values[i] = node.Segment.TotalDocs()
	}
	schema := &DataSchema{Columns: cols, NumKeyColumns: 0}
	return &LeafResult{
		Schema:  schema,
		Records: []Record{{Values: values}},
	}, nil
}

// executeDictionaryAgg answers min/max/minmaxrange select expressions from
// a sorted dictionary's endpoints, without scanning rows.
func executeDictionaryAgg(node *PlanNode) (*LeafResult, error) {
	q := node.Query
	cols := make([]ColumnSpec, len(q.Select))
	values := make([]interface{}, len(q.Select))
	for i, e := range q.Select {
		col, ok := e.SingleIdentifierArg()
		if !ok {
			return nil, NewBadQueryRequestError("dictionary plan requires a single identifier argument for %s", e.Function)
		}
		ds, ok := node.Segment.DataSource(col)
		if !ok {
			return nil, NewBadQueryRequestError("unknown column %s", col)
		}
		sorted, ok := ds.SortedValues()
		if !ok || len(sorted) == 0 {
			return nil, NewBadQueryRequestError("column %s has no sorted dictionary", col)
		}
		switch e.Function {
		case "min":
			values[i] = toFloat64(sorted[0])
		case "max":
			values[i] = toFloat64(sorted[len(sorted)-1])
		case "minmaxrange":
			values[i] = toFloat64(sorted[len(sorted)-1]) - toFloat64(sorted[0])
		default:
			return nil, NewBadQueryRequestError("unsupported dictionary function %s", e.Function)
		}
		cols[i] = ColumnSpec{Name: fmt.Sprintf("%s(%s)", e.Function, col), Type: ColumnDouble}
	}
	schema := &DataSchema{Columns: cols, NumKeyColumns: 0}
	return &LeafResult{Schema: schema, Records: []Record{{Values: values}}}, nil
}
