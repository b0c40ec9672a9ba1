package pgoutput

import "encoding/binary"

// decodeTupleData reads one TupleData submessage starting at pos and returns
// it along with the cursor position immediately past it. Update messages
// contain two TupleData regions back to back with no outer length prefix, so
// callers resume decoding from the returned position rather than assuming
// the submessage runs to the end of buf.
func decodeTupleData(buf []byte, pos int) (TupleData, int, error) {
	if pos+2 > len(buf) {
		return TupleData{}, pos, malformed("tuple data truncated before column count")
	}
	nColumns := int(int16(binary.BigEndian.Uint16(buf[pos : pos+2])))
	pos += 2

	columns := make([]TupleColumn, 0, nColumns)
	for i := 0; i < nColumns; i++ {
		if pos+1 > len(buf) {
			return TupleData{}, pos, malformed("tuple data truncated at column %d kind byte", i)
		}
		kind := TupleColumnKind(buf[pos])
		pos++

		switch kind {
		case TupleColumnNull, TupleColumnUnchangedToast:
			columns = append(columns, TupleColumn{Kind: kind})
		case TupleColumnText:
			if pos+4 > len(buf) {
				return TupleData{}, pos, malformed("tuple data truncated at column %d length", i)
			}
			length := int(int32(binary.BigEndian.Uint32(buf[pos : pos+4])))
			pos += 4
			if length < 0 || pos+length > len(buf) {
				return TupleData{}, pos, malformed("tuple data column %d declares length %d past buffer end", i, length)
			}
			data := make([]byte, length)
			copy(data, buf[pos:pos+length])
			pos += length
			columns = append(columns, TupleColumn{Kind: kind, Data: data})
		default:
			return TupleData{}, pos, malformed("tuple data column %d has unknown kind %q", i, byte(kind))
		}
	}

	return TupleData{Columns: columns}, pos, nil
}
