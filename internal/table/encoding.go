package table

import (
	"encoding/binary"
	"math"
)

// EncodeKeyValue appends the order-preserving encoding of v to dst and
// returns the result. Fixed-width encodings (int, float, bool) sort
// correctly at any position in a concatenated composite key; the
// variable-width encodings (string, blob) are escape-terminated so that a
// shorter value never collides with a longer one sharing its prefix
// (e.g. "ab" must sort before "ab\x00c", not after it — the 0x00 0xFF
// escape plus 0x00 0x00 terminator guarantees that).
//
// Tag bytes order null < everything else, matching spec §3's "null sorts
// least", and are otherwise irrelevant to cross-kind ordering since a
// column's kind is fixed by its schema.
func EncodeKeyValue(dst []byte, v Value, collate Collator) []byte {
	if v.IsNull() {
		return append(dst, 0x00)
	}
	dst = append(dst, 0x01)
	switch v.Kind {
	case KindInt:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(v.Int)^(1<<63))
		return append(dst, buf[:]...)
	case KindFloat:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], floatOrderKey(v.Float))
		return append(dst, buf[:]...)
	case KindBool:
		if v.Bool {
			return append(dst, 1)
		}
		return append(dst, 0)
	case KindString:
		if collate == nil {
			collate = BinaryCollation
		}
		return appendEscaped(dst, collate(v.Str))
	case KindBlob:
		return appendEscaped(dst, v.Blob)
	default:
		return dst
	}
}

func appendEscaped(dst, raw []byte) []byte {
	for _, b := range raw {
		if b == 0x00 {
			dst = append(dst, 0x00, 0xFF)
		} else {
			dst = append(dst, b)
		}
	}
	return append(dst, 0x00, 0x00)
}

// EncodeKey encodes an ordered tuple of values (an index's columns,
// projected from a row) into a single order-preserving byte string.
func EncodeKey(values []Value, collations []Collator) []byte {
	var buf []byte
	for i, v := range values {
		var c Collator
		if i < len(collations) {
			c = collations[i]
		}
		buf = EncodeKeyValue(buf, v, c)
	}
	return buf
}

// encodeRowPayload serializes a full row's column values plus its hidden
// row_id/tx_id for storage as a leaf cell's value. Unlike key encoding this
// is length-prefixed, not order-preserving — it is only ever decoded, never
// compared.
func encodeRowPayload(row Row) []byte {
	buf := make([]byte, 0, 64)
	var hdr [17]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(row.RowID))
	binary.BigEndian.PutUint64(hdr[8:16], uint64(row.TxID))
	if row.Deleted {
		hdr[16] = 1
	}
	buf = append(buf, hdr[:]...)

	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(row.Values)))
	buf = append(buf, countBuf[:]...)

	for _, v := range row.Values {
		buf = appendValuePayload(buf, v)
	}
	return buf
}

func appendValuePayload(buf []byte, v Value) []byte {
	buf = append(buf, byte(v.Kind))
	switch v.Kind {
	case KindNull:
	case KindInt:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v.Int))
		buf = append(buf, b[:]...)
	case KindFloat:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(v.Float))
		buf = append(buf, b[:]...)
	case KindBool:
		if v.Bool {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case KindString:
		buf = appendLenPrefixed(buf, []byte(v.Str))
	case KindBlob:
		buf = appendLenPrefixed(buf, v.Blob)
	}
	return buf
}

func appendLenPrefixed(buf, raw []byte) []byte {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(raw)))
	buf = append(buf, l[:]...)
	return append(buf, raw...)
}

func decodeRowPayload(buf []byte) (Row, error) {
	if len(buf) < 21 {
		return Row{}, ErrCorruptRow
	}
	rowID := int64(binary.BigEndian.Uint64(buf[0:8]))
	txID := int64(binary.BigEndian.Uint64(buf[8:16]))
	deleted := buf[16] != 0
	count := binary.BigEndian.Uint32(buf[17:21])
	rest := buf[21:]

	values := make([]Value, 0, count)
	for i := uint32(0); i < count; i++ {
		v, n, err := decodeValuePayload(rest)
		if err != nil {
			return Row{}, err
		}
		values = append(values, v)
		rest = rest[n:]
	}
	return Row{Values: values, RowID: rowID, TxID: txID, Deleted: deleted}, nil
}

func decodeValuePayload(buf []byte) (Value, int, error) {
	if len(buf) < 1 {
		return Value{}, 0, ErrCorruptRow
	}
	kind := Kind(buf[0])
	switch kind {
	case KindNull:
		return Null(), 1, nil
	case KindInt:
		if len(buf) < 9 {
			return Value{}, 0, ErrCorruptRow
		}
		return Int(int64(binary.BigEndian.Uint64(buf[1:9]))), 9, nil
	case KindFloat:
		if len(buf) < 9 {
			return Value{}, 0, ErrCorruptRow
		}
		return Float(math.Float64frombits(binary.BigEndian.Uint64(buf[1:9]))), 9, nil
	case KindBool:
		if len(buf) < 2 {
			return Value{}, 0, ErrCorruptRow
		}
		return Bool(buf[1] != 0), 2, nil
	case KindString:
		raw, n, err := decodeLenPrefixed(buf[1:])
		if err != nil {
			return Value{}, 0, err
		}
		return String(string(raw)), 1 + n, nil
	case KindBlob:
		raw, n, err := decodeLenPrefixed(buf[1:])
		if err != nil {
			return Value{}, 0, err
		}
		return Blob(raw), 1 + n, nil
	default:
		return Value{}, 0, ErrCorruptRow
	}
}

func decodeLenPrefixed(buf []byte) ([]byte, int, error) {
	if len(buf) < 4 {
		return nil, 0, ErrCorruptRow
	}
	l := binary.BigEndian.Uint32(buf[0:4])
	if uint32(len(buf)-4) < l {
		return nil, 0, ErrCorruptRow
	}
	return append([]byte(nil), buf[4:4+l]...), 4 + int(l), nil
}
