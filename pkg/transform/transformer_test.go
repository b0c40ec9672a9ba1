package transform

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/flowlane/pgcdc/pkg/change"
)

// fakeProber answers catalog lookups from a fixed table, with no I/O, so the
// Transformer can be exercised without a live Postgres connection.
type fakeProber struct {
	typeNames map[uint32]string
	optional  map[string]bool
}

func newFakeProber() *fakeProber {
	return &fakeProber{
		typeNames: map[uint32]string{
			23:   "integer",
			1184: "timestamp with time zone",
		},
		optional: map[string]bool{
			"public.test_table.id":      false,
			"public.test_table.created": true,
		},
	}
}

func (p *fakeProber) FetchTypeName(_ context.Context, typeID uint32, _ int32) (string, error) {
	return p.typeNames[typeID], nil
}

func (p *fakeProber) FetchIsOptional(_ context.Context, schema, table, column string) (bool, error) {
	return p.optional[schema+"."+table+"."+column], nil
}

func raw(payload []byte) change.RawMessage {
	return change.RawMessage{MessageID: uuid.New(), DataStart: 23475352, Payload: payload}
}

func TestTransformerEndToEndSequence(t *testing.T) {
	ctx := context.Background()
	tr := New(newFakeProber())

	relationBuf := []byte("R\x00\x00@\x01public\x00test_table\x00d\x00\x02\x01id\x00\x00\x00\x00\x17\xff\xff\xff\xff\x00created\x00\x00\x00\x04\xa0\xff\xff\xff\xff")
	events, err := tr.HandleRaw(ctx, raw(relationBuf))
	require.NoError(t, err)
	require.Empty(t, events)

	beginBuf := []byte("B\x00\x00\x00\x00\x01f4\x98\x00\x02ck\xd8i\x8a1\x00\x00\x01\xeb")
	events, err = tr.HandleRaw(ctx, raw(beginBuf))
	require.NoError(t, err)
	require.Empty(t, events)

	insertBuf := []byte("I\x00\x00@\x01N\x00\x02t\x00\x00\x00\x015t\x00\x00\x00\x162012-01-01 12:00:00+00")
	events, err = tr.HandleRaw(ctx, raw(insertBuf))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, change.OpInsert, events[0].Op)
	require.Nil(t, events[0].Before)
	require.EqualValues(t, 491, events[0].Transaction.TxID)
	require.Equal(t, "id", events[0].After[0].Name)
	require.EqualValues(t, 5, events[0].After[0].Value)

	updateBuf := []byte("U\x00\x00@\x01N\x00\x02t\x00\x00\x00\x015t\x00\x00\x00\x162013-01-01 12:00:00+00")
	events, err = tr.HandleRaw(ctx, raw(updateBuf))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, change.OpUpdate, events[0].Op)
	require.Nil(t, events[0].Before)

	deleteBuf := []byte("D\x00\x00@\x01K\x00\x02t\x00\x00\x00\x014n")
	events, err = tr.HandleRaw(ctx, raw(deleteBuf))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, change.OpDelete, events[0].Op)
	require.EqualValues(t, 4, events[0].Before[0].Value)
	require.Nil(t, events[0].Before[1].Value)

	commitBuf := []byte("C\x00\x00\x00\x00\x00\x01f4\x98\x00\x00\x00\x00\x01f4\xc8\x00\x02cl\x83\x8f\xd2\xa1")
	events, err = tr.HandleRaw(ctx, raw(commitBuf))
	require.NoError(t, err)
	require.Empty(t, events)
	require.Nil(t, tr.currentTx)
}

func TestTransformerStampsConfiguredDB(t *testing.T) {
	ctx := context.Background()
	tr := New(newFakeProber(), WithDB("testdb"))

	relationBuf := []byte("R\x00\x00@\x01public\x00test_table\x00d\x00\x02\x01id\x00\x00\x00\x00\x17\xff\xff\xff\xff\x00created\x00\x00\x00\x04\xa0\xff\xff\xff\xff")
	_, err := tr.HandleRaw(ctx, raw(relationBuf))
	require.NoError(t, err)

	beginBuf := []byte("B\x00\x00\x00\x00\x01f4\x98\x00\x02ck\xd8i\x8a1\x00\x00\x01\xeb")
	_, err = tr.HandleRaw(ctx, raw(beginBuf))
	require.NoError(t, err)

	insertBuf := []byte("I\x00\x00@\x01N\x00\x02t\x00\x00\x00\x015t\x00\x00\x00\x162012-01-01 12:00:00+00")
	events, err := tr.HandleRaw(ctx, raw(insertBuf))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "testdb", events[0].TableSchema.DB)
}

func TestTransformerInsertWithoutOpenTransaction(t *testing.T) {
	ctx := context.Background()
	tr := New(newFakeProber())

	relationBuf := []byte("R\x00\x00@\x01public\x00test_table\x00d\x00\x02\x01id\x00\x00\x00\x00\x17\xff\xff\xff\xff\x00created\x00\x00\x00\x04\xa0\xff\xff\xff\xff")
	_, err := tr.HandleRaw(ctx, raw(relationBuf))
	require.NoError(t, err)

	// no Begin observed: schema exists but no transaction is open.
	insertBuf := []byte("I\x00\x00@\x01N\x00\x02t\x00\x00\x00\x015t\x00\x00\x00\x162012-01-01 12:00:00+00")
	_, err = tr.HandleRaw(ctx, raw(insertBuf))
	require.Error(t, err)
	require.ErrorAs(t, err, new(*ErrNoOpenTransaction))
}

func TestTransformerInsertUnknownRelation(t *testing.T) {
	ctx := context.Background()
	tr := New(newFakeProber())

	beginBuf := []byte("B\x00\x00\x00\x00\x01f4\x98\x00\x02ck\xd8i\x8a1\x00\x00\x01\xeb")
	_, err := tr.HandleRaw(ctx, raw(beginBuf))
	require.NoError(t, err)

	insertBuf := []byte("I\x00\x00@\x01N\x00\x02t\x00\x00\x00\x015t\x00\x00\x00\x162012-01-01 12:00:00+00")
	_, err = tr.HandleRaw(ctx, raw(insertBuf))
	require.Error(t, err)
	require.ErrorAs(t, err, new(*ErrUnknownRelation))
}

func TestTransformerTruncate(t *testing.T) {
	ctx := context.Background()
	tr := New(newFakeProber())

	relationBuf := []byte("R\x00\x00@\x01public\x00test_table\x00d\x00\x02\x01id\x00\x00\x00\x00\x17\xff\xff\xff\xff\x00created\x00\x00\x00\x04\xa0\xff\xff\xff\xff")
	_, err := tr.HandleRaw(ctx, raw(relationBuf))
	require.NoError(t, err)

	beginBuf := []byte("B\x00\x00\x00\x00\x01f4\x98\x00\x02ck\xd8i\x8a1\x00\x00\x01\xeb")
	_, err = tr.HandleRaw(ctx, raw(beginBuf))
	require.NoError(t, err)

	truncateBuf := []byte{'T', 0, 0, 0, 1, 0x0, 0, 0, 0x40, 0x01}
	events, err := tr.HandleRaw(ctx, raw(truncateBuf))
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, change.OpTruncate, events[0].Op)
	require.Nil(t, events[0].Before)
	require.Nil(t, events[0].After)
}
