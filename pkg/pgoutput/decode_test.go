package pgoutput

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Fixture byte strings below are the literal pgoutput v1 payloads used
// throughout this package's tests; each is annotated with the field values
// it's expected to decode to.

func mustParseTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339Nano, value)
	require.NoError(t, err)
	return ts.UTC()
}

func TestDecodeRelation(t *testing.T) {
	buf := []byte("R\x00\x00@\x01public\x00test_table\x00d\x00\x02\x01id\x00\x00\x00\x00\x17\xff\xff\xff\xff\x00created\x00\x00\x00\x04\xa0\xff\xff\xff\xff")

	msg, err := Decode(buf)
	require.NoError(t, err)

	rel, ok := msg.(*RelationMessage)
	require.True(t, ok)
	require.Equal(t, MessageTypeRelation, rel.Type())

	require.EqualValues(t, 16385, rel.RelationID)
	require.Equal(t, "public", rel.Namespace)
	require.Equal(t, "test_table", rel.RelationName)
	require.Equal(t, byte('d'), rel.ReplicaIdentity)
	require.Len(t, rel.Columns, 2)

	require.Equal(t, ColumnDef{PartOfPKey: true, Name: "id", TypeID: 23, TypeMod: -1}, rel.Columns[0])
	require.Equal(t, ColumnDef{PartOfPKey: false, Name: "created", TypeID: 1184, TypeMod: -1}, rel.Columns[1])
}

func TestDecodeBegin(t *testing.T) {
	buf := []byte("B\x00\x00\x00\x00\x01f4\x98\x00\x02ck\xd8i\x8a1\x00\x00\x01\xeb")

	msg, err := Decode(buf)
	require.NoError(t, err)

	begin, ok := msg.(*BeginMessage)
	require.True(t, ok)

	require.EqualValues(t, 23475352, begin.FinalLSN)
	require.EqualValues(t, 491, begin.Xid)
	require.True(t, mustParseTime(t, "2021-04-20T20:13:16.867121Z").Equal(begin.CommitTS))
}

func TestDecodeInsert(t *testing.T) {
	buf := []byte("I\x00\x00@\x01N\x00\x02t\x00\x00\x00\x015t\x00\x00\x00\x162012-01-01 12:00:00+00")

	msg, err := Decode(buf)
	require.NoError(t, err)

	ins, ok := msg.(*InsertMessage)
	require.True(t, ok)

	require.EqualValues(t, 16385, ins.RelationID)
	require.Len(t, ins.NewTuple.Columns, 2)
	require.Equal(t, TupleColumn{Kind: TupleColumnText, Data: []byte("5")}, ins.NewTuple.Columns[0])
	require.Equal(t, TupleColumn{Kind: TupleColumnText, Data: []byte("2012-01-01 12:00:00+00")}, ins.NewTuple.Columns[1])
}

func TestDecodeUpdate(t *testing.T) {
	buf := []byte("U\x00\x00@\x01N\x00\x02t\x00\x00\x00\x015t\x00\x00\x00\x162013-01-01 12:00:00+00")

	msg, err := Decode(buf)
	require.NoError(t, err)

	upd, ok := msg.(*UpdateMessage)
	require.True(t, ok)

	require.EqualValues(t, 16385, upd.RelationID)
	require.Nil(t, upd.OldTuple)
	require.Len(t, upd.NewTuple.Columns, 2)
	require.Equal(t, TupleColumn{Kind: TupleColumnText, Data: []byte("5")}, upd.NewTuple.Columns[0])
	require.Equal(t, TupleColumn{Kind: TupleColumnText, Data: []byte("2013-01-01 12:00:00+00")}, upd.NewTuple.Columns[1])
}

func TestDecodeDelete(t *testing.T) {
	buf := []byte("D\x00\x00@\x01K\x00\x02t\x00\x00\x00\x014n")

	msg, err := Decode(buf)
	require.NoError(t, err)

	del, ok := msg.(*DeleteMessage)
	require.True(t, ok)

	require.EqualValues(t, 16385, del.RelationID)
	require.Equal(t, byte('K'), del.KeyKind)
	require.Len(t, del.OldTuple.Columns, 2)
	require.Equal(t, TupleColumn{Kind: TupleColumnText, Data: []byte("4")}, del.OldTuple.Columns[0])
	require.Equal(t, TupleColumn{Kind: TupleColumnNull}, del.OldTuple.Columns[1])
}

func TestDecodeCommit(t *testing.T) {
	buf := []byte("C\x00\x00\x00\x00\x00\x01f4\x98\x00\x00\x00\x00\x01f4\xc8\x00\x02cl\x83\x8f\xd2\xa1")

	msg, err := Decode(buf)
	require.NoError(t, err)

	commit, ok := msg.(*CommitMessage)
	require.True(t, ok)

	require.EqualValues(t, 23475352, commit.CommitLSN)
	require.EqualValues(t, 23475400, commit.FinalLSN)
	require.True(t, mustParseTime(t, "2021-04-20T21:01:08.279969Z").Equal(commit.CommitTS))
}

func TestDecodeTruncate(t *testing.T) {
	buf := []byte{'T', 0, 0, 0, 2, 0x1, 0, 0, 0x40, 0x01, 0, 0, 0x40, 0x02}

	msg, err := Decode(buf)
	require.NoError(t, err)

	trunc, ok := msg.(*TruncateMessage)
	require.True(t, ok)

	require.True(t, trunc.Cascade)
	require.False(t, trunc.RestartIdentity)
	require.Equal(t, []uint32{16385, 16386}, trunc.RelationIDs)
}

func TestDecodeUnknownTag(t *testing.T) {
	msg, err := Decode([]byte("O\x00\x00\x00\x01"))
	require.NoError(t, err)

	unk, ok := msg.(*UnknownMessage)
	require.True(t, ok)
	require.Equal(t, byte('O'), unk.Tag)
}

func TestDecodeEmptyBuffer(t *testing.T) {
	_, err := Decode(nil)
	require.Error(t, err)
	require.ErrorAs(t, err, new(*ErrMalformedMessage))
}

func TestDecodeTruncatedRelation(t *testing.T) {
	_, err := Decode([]byte("R\x00\x00@\x01public\x00"))
	require.Error(t, err)
}

func TestDecodeMissingNewTupleTag(t *testing.T) {
	_, err := Decode([]byte("I\x00\x00@\x01X\x00\x00"))
	require.Error(t, err)
}

func TestRoundTripStability(t *testing.T) {
	buf := []byte("R\x00\x00@\x01public\x00test_table\x00d\x00\x02\x01id\x00\x00\x00\x00\x17\xff\xff\xff\xff\x00created\x00\x00\x00\x04\xa0\xff\xff\xff\xff")

	first, err := Decode(buf)
	require.NoError(t, err)
	second, err := Decode(buf)
	require.NoError(t, err)

	require.Equal(t, first, second)
}
