// Package wire encodes DataTables for the server-to-broker hop: msgpack for
// compactness over the JSON used on the broker's own client-facing API, gzip
// on top since DataTable rows are frequently repetitive (group-by keys,
// low-cardinality dimensions).
package wire

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/basekick-labs/arc-query/internal/query"
)

// EncodeDataTable msgpack-encodes then gzips a DataTable for transport.
func EncodeDataTable(table *query.DataTable) ([]byte, error) {
	packed, err := msgpack.Marshal(table)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(packed); err != nil {
		gw.Close()
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeDataTable reverses EncodeDataTable.
func DecodeDataTable(body []byte) (*query.DataTable, error) {
	gr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	packed, err := io.ReadAll(gr)
	if err != nil {
		return nil, err
	}

	var table query.DataTable
	if err := msgpack.Unmarshal(packed, &table); err != nil {
		return nil, err
	}
	return &table, nil
}
