package pgoutput

import (
	"encoding/binary"
)

// Decode parses a single pgoutput message payload (the bytes carried inside
// an XLogData frame's WALData, stripped of any outer envelope) and returns
// its tagged decoded form. Unknown top-level tags decode successfully into
// an *UnknownMessage rather than returning an error.
func Decode(buf []byte) (Message, error) {
	if len(buf) == 0 {
		return nil, malformed("empty buffer")
	}

	switch buf[0] {
	case 'B':
		return decodeBegin(buf)
	case 'C':
		return decodeCommit(buf)
	case 'R':
		return decodeRelation(buf)
	case 'I':
		return decodeInsert(buf)
	case 'U':
		return decodeUpdate(buf)
	case 'D':
		return decodeDelete(buf)
	case 'T':
		return decodeTruncate(buf)
	default:
		return &UnknownMessage{Tag: buf[0]}, nil
	}
}

func requireTag(buf []byte, tag byte, minLen int) error {
	if buf[0] != tag {
		return malformed("expected tag %q, got %q", tag, buf[0])
	}
	if len(buf) < minLen {
		return malformed("buffer too short for %q message: got %d bytes, need at least %d", tag, len(buf), minLen)
	}
	return nil
}

func decodeBegin(buf []byte) (*BeginMessage, error) {
	if err := requireTag(buf, 'B', 21); err != nil {
		return nil, err
	}
	finalLSN := binary.BigEndian.Uint64(buf[1:9])
	commitTS := int64(binary.BigEndian.Uint64(buf[9:17]))
	xid := int32(binary.BigEndian.Uint32(buf[17:21]))
	return &BeginMessage{
		FinalLSN: LSN(finalLSN),
		CommitTS: fromPGTimestamp(commitTS),
		Xid:      xid,
	}, nil
}

func decodeCommit(buf []byte) (*CommitMessage, error) {
	if err := requireTag(buf, 'C', 26); err != nil {
		return nil, err
	}
	flags := int8(buf[1])
	lsnCommit := binary.BigEndian.Uint64(buf[2:10])
	finalLSN := binary.BigEndian.Uint64(buf[10:18])
	commitTS := int64(binary.BigEndian.Uint64(buf[18:26]))
	return &CommitMessage{
		Flags:     flags,
		CommitLSN: LSN(lsnCommit),
		FinalLSN:  LSN(finalLSN),
		CommitTS:  fromPGTimestamp(commitTS),
	}, nil
}

func decodeCString(buf []byte, pos int) (string, int, error) {
	start := pos
	for pos < len(buf) {
		if buf[pos] == 0 {
			return string(buf[start:pos]), pos + 1, nil
		}
		pos++
	}
	return "", pos, malformed("unterminated string starting at offset %d", start)
}

func decodeRelation(buf []byte) (*RelationMessage, error) {
	if err := requireTag(buf, 'R', 5); err != nil {
		return nil, err
	}
	relID := binary.BigEndian.Uint32(buf[1:5])
	pos := 5

	namespace, pos, err := decodeCString(buf, pos)
	if err != nil {
		return nil, err
	}
	relName, pos, err := decodeCString(buf, pos)
	if err != nil {
		return nil, err
	}

	if pos+3 > len(buf) {
		return nil, malformed("relation message truncated before replica identity/column count")
	}
	replicaIdentity := buf[pos]
	pos++
	nColumns := int(int16(binary.BigEndian.Uint16(buf[pos : pos+2])))
	pos += 2

	columns := make([]ColumnDef, 0, nColumns)
	for i := 0; i < nColumns; i++ {
		if pos+1 > len(buf) {
			return nil, malformed("relation message truncated in column %d flags", i)
		}
		flags := buf[pos]
		pos++

		colName, next, err := decodeCString(buf, pos)
		if err != nil {
			return nil, err
		}
		pos = next

		if pos+8 > len(buf) {
			return nil, malformed("relation message truncated in column %d type info", i)
		}
		typeID := binary.BigEndian.Uint32(buf[pos : pos+4])
		pos += 4
		typeMod := int32(binary.BigEndian.Uint32(buf[pos : pos+4]))
		pos += 4

		columns = append(columns, ColumnDef{
			PartOfPKey: flags&0x1 != 0,
			Name:       colName,
			TypeID:     typeID,
			TypeMod:    typeMod,
		})
	}

	return &RelationMessage{
		RelationID:      relID,
		Namespace:       namespace,
		RelationName:    relName,
		ReplicaIdentity: replicaIdentity,
		Columns:         columns,
	}, nil
}

func decodeInsert(buf []byte) (*InsertMessage, error) {
	if err := requireTag(buf, 'I', 6); err != nil {
		return nil, err
	}
	relID := binary.BigEndian.Uint32(buf[1:5])
	if buf[5] != 'N' {
		return nil, malformed("insert message missing mandatory 'N' tuple tag, got %q", buf[5])
	}
	tuple, _, err := decodeTupleData(buf, 6)
	if err != nil {
		return nil, err
	}
	return &InsertMessage{RelationID: relID, NewTuple: tuple}, nil
}

func decodeUpdate(buf []byte) (*UpdateMessage, error) {
	if err := requireTag(buf, 'U', 6); err != nil {
		return nil, err
	}
	relID := binary.BigEndian.Uint32(buf[1:5])
	pos := 5

	var keyKind byte
	var oldTuple *TupleData

	switch buf[pos] {
	case 'K', 'O':
		keyKind = buf[pos]
		pos++
		tuple, next, err := decodeTupleData(buf, pos)
		if err != nil {
			return nil, err
		}
		oldTuple = &tuple
		pos = next
	case 'N':
		// no key/old tuple present; fall through to the new-tuple read below
	default:
		return nil, malformed("update message: expected 'K', 'O' or 'N', got %q", buf[pos])
	}

	if pos >= len(buf) || buf[pos] != 'N' {
		got := byte(0)
		if pos < len(buf) {
			got = buf[pos]
		}
		return nil, malformed("update message missing mandatory 'N' tuple tag, got %q", got)
	}
	pos++

	newTuple, _, err := decodeTupleData(buf, pos)
	if err != nil {
		return nil, err
	}

	return &UpdateMessage{
		RelationID: relID,
		KeyKind:    keyKind,
		OldTuple:   oldTuple,
		NewTuple:   newTuple,
	}, nil
}

func decodeDelete(buf []byte) (*DeleteMessage, error) {
	if err := requireTag(buf, 'D', 6); err != nil {
		return nil, err
	}
	relID := binary.BigEndian.Uint32(buf[1:5])
	keyKind := buf[5]
	if keyKind != 'K' && keyKind != 'O' {
		return nil, malformed("delete message: tuple-kind byte must be 'K' or 'O', got %q", keyKind)
	}
	tuple, _, err := decodeTupleData(buf, 6)
	if err != nil {
		return nil, err
	}
	return &DeleteMessage{RelationID: relID, KeyKind: keyKind, OldTuple: tuple}, nil
}

func decodeTruncate(buf []byte) (*TruncateMessage, error) {
	if err := requireTag(buf, 'T', 6); err != nil {
		return nil, err
	}
	nRels := int(binary.BigEndian.Uint32(buf[1:5]))
	optionBits := buf[5]
	pos := 6

	if pos+nRels*4 > len(buf) {
		return nil, malformed("truncate message truncated: need %d relation ids", nRels)
	}
	ids := make([]uint32, nRels)
	for i := 0; i < nRels; i++ {
		ids[i] = binary.BigEndian.Uint32(buf[pos : pos+4])
		pos += 4
	}

	return &TruncateMessage{
		Cascade:         optionBits&0x1 != 0,
		RestartIdentity: optionBits&0x2 != 0,
		RelationIDs:     ids,
	}, nil
}
