package wire

import (
	"testing"

	"github.com/basekick-labs/arc-query/internal/query"
)

func TestEncodeDecodeDataTable_RoundTrip(t *testing.T) {
	schema := &query.DataSchema{
		Columns: []query.ColumnSpec{
			{Name: "host", Type: query.ColumnString},
			{Name: "count", Type: query.ColumnLong},
		},
		NumKeyColumns: 1,
	}
	table := query.NewDataTable(schema)
	table.Rows = []query.Record{
		{Values: []interface{}{"web-1", int64(42)}},
		{Values: []interface{}{"web-2", int64(7)}},
	}
	table.SetMetadataInt(query.MetaTotalDocs, 1000)
	table.AddException(query.ErrQueryExecution, "partial aggregation overflow")

	encoded, err := EncodeDataTable(table)
	if err != nil {
		t.Fatalf("EncodeDataTable failed: %v", err)
	}
	if len(encoded) == 0 {
		t.Fatal("EncodeDataTable returned empty payload")
	}

	decoded, err := DecodeDataTable(encoded)
	if err != nil {
		t.Fatalf("DecodeDataTable failed: %v", err)
	}

	if decoded.Schema.Size() != 2 {
		t.Fatalf("decoded schema has %d columns, want 2", decoded.Schema.Size())
	}
	if len(decoded.Rows) != 2 {
		t.Fatalf("decoded table has %d rows, want 2", len(decoded.Rows))
	}
	if decoded.Rows[0].Values[0] != "web-1" {
		t.Errorf("row 0 host = %v, want web-1", decoded.Rows[0].Values[0])
	}
	if decoded.Metadata[query.MetaTotalDocs] != "1000" {
		t.Errorf("metadata totalDocs = %q, want 1000", decoded.Metadata[query.MetaTotalDocs])
	}
	if len(decoded.Exceptions) != 1 || decoded.Exceptions[0].Kind != query.ErrQueryExecution {
		t.Errorf("exceptions not preserved: %+v", decoded.Exceptions)
	}
}

func TestDecodeDataTable_InvalidPayload(t *testing.T) {
	if _, err := DecodeDataTable([]byte("not a gzip stream")); err == nil {
		t.Fatal("expected an error decoding garbage input")
	}
}
