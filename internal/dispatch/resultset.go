package dispatch

import (
	"encoding/json"

	"github.com/weaverdb/weaverdb/internal/table"
)

// wireValue is table.Value's over-the-wire shape: a JSON encoding of the
// Kind + Value tagged union that matches how wire.Handshake/Req/Resp
// already represent Go structs as plain JSON rather than reaching for a
// binary codec, since the wire protocol is a client-facing contract, not
// an internal snapshot format.
// Every field below except Blob is always emitted, even when zero-valued:
// Kind is what tells the reader which field to trust, so a 0 int or a
// false bool must round-trip the same as any other value of that kind.
// An empty Blob is omitted and decodes as a nil byte slice.
type wireValue struct {
	Kind  string  `json:"kind"`
	Int   int64   `json:"int"`
	Float float64 `json:"float"`
	Bool  bool    `json:"bool"`
	Str   string  `json:"str"`
	Blob  []byte  `json:"blob,omitempty"`
}

func encodeValue(v table.Value) wireValue {
	return wireValue{
		Kind:  v.Kind.String(),
		Int:   v.Int,
		Float: v.Float,
		Bool:  v.Bool,
		Str:   v.Str,
		Blob:  v.Blob,
	}
}

// resultSet is the JSON body carried in a RespSchema's Schema field: the
// column names plus every row, since Connection buffers a whole
// statement's output into a single Resp rather than streaming per-row
// Resp frames (see rowsResp's doc comment).
type resultSet struct {
	Columns []string      `json:"columns"`
	Rows    [][]wireValue `json:"rows"`
}

func encodeResultSet(cols []string, rows [][]table.Value) json.RawMessage {
	rs := resultSet{Columns: cols, Rows: make([][]wireValue, len(rows))}
	for i, row := range rows {
		encoded := make([]wireValue, len(row))
		for j, v := range row {
			encoded[j] = encodeValue(v)
		}
		rs.Rows[i] = encoded
	}
	data, err := json.Marshal(rs)
	if err != nil {
		// rs only contains plain scalars and byte slices; Marshal cannot
		// fail on this shape.
		panic(err)
	}
	return data
}
