// Package pgoutput decodes PostgreSQL logical replication messages produced
// by the built-in pgoutput output plugin, protocol version 1. Decoding is a
// pure function over a byte buffer: no network I/O, no catalog lookups, no
// shared state.
package pgoutput

import "time"

// LSN is a PostgreSQL write-ahead log sequence number.
type LSN uint64

// MessageType identifies the kind of a decoded pgoutput message.
type MessageType byte

const (
	MessageTypeBegin    MessageType = 'B'
	MessageTypeCommit   MessageType = 'C'
	MessageTypeRelation MessageType = 'R'
	MessageTypeInsert   MessageType = 'I'
	MessageTypeUpdate   MessageType = 'U'
	MessageTypeDelete   MessageType = 'D'
	MessageTypeTruncate MessageType = 'T'
	MessageTypeUnknown  MessageType = 0
)

// Message is the tagged-variant decoded form of a pgoutput wire message.
type Message interface {
	Type() MessageType
}

// BeginMessage marks the start of a transaction's changes.
type BeginMessage struct {
	FinalLSN LSN
	CommitTS time.Time
	Xid      int32
}

func (m *BeginMessage) Type() MessageType { return MessageTypeBegin }

// CommitMessage marks the end of a transaction's changes.
type CommitMessage struct {
	Flags     int8
	CommitLSN LSN
	FinalLSN  LSN
	CommitTS  time.Time
}

func (m *CommitMessage) Type() MessageType { return MessageTypeCommit }

// ColumnDef describes one column of a Relation message.
type ColumnDef struct {
	PartOfPKey bool
	Name       string
	TypeID     uint32
	TypeMod    int32
}

// RelationMessage describes a published table's current column layout.
type RelationMessage struct {
	RelationID      uint32
	Namespace       string
	RelationName    string
	ReplicaIdentity byte
	Columns         []ColumnDef
}

func (m *RelationMessage) Type() MessageType { return MessageTypeRelation }

// TupleColumnKind tags how a TupleData column's value was transmitted.
type TupleColumnKind byte

const (
	TupleColumnNull           TupleColumnKind = 'n'
	TupleColumnUnchangedToast TupleColumnKind = 'u'
	TupleColumnText           TupleColumnKind = 't'
)

// TupleColumn is one column's value within a TupleData submessage.
type TupleColumn struct {
	Kind TupleColumnKind
	Data []byte // only populated for TupleColumnText
}

// TupleData is an ordered sequence of column values for one row version.
type TupleData struct {
	Columns []TupleColumn
}

// InsertMessage represents a row inserted into a published relation.
type InsertMessage struct {
	RelationID uint32
	NewTuple   TupleData
}

func (m *InsertMessage) Type() MessageType { return MessageTypeInsert }

// UpdateMessage represents a row updated in a published relation.
type UpdateMessage struct {
	RelationID uint32
	// KeyKind is 0 when neither a key nor an old tuple was sent (replica
	// identity DEFAULT with an unchanged key), or 'K'/'O' otherwise.
	KeyKind  byte
	OldTuple *TupleData
	NewTuple TupleData
}

func (m *UpdateMessage) Type() MessageType { return MessageTypeUpdate }

// DeleteMessage represents a row deleted from a published relation.
type DeleteMessage struct {
	RelationID uint32
	KeyKind    byte // 'K' or 'O'
	OldTuple   TupleData
}

func (m *DeleteMessage) Type() MessageType { return MessageTypeDelete }

// TruncateMessage represents one or more relations being truncated together.
type TruncateMessage struct {
	Cascade         bool
	RestartIdentity bool
	RelationIDs     []uint32
}

func (m *TruncateMessage) Type() MessageType { return MessageTypeTruncate }

// UnknownMessage wraps any top-level tag this package does not decode (e.g.
// Origin 'O', Type 'Y'). The Transformer ignores it.
type UnknownMessage struct {
	Tag byte
}

func (m *UnknownMessage) Type() MessageType { return MessageTypeUnknown }

// pgEpoch is the PostgreSQL epoch, used as the base for commit_ts fields
// which are transmitted as microseconds since 2000-01-01T00:00:00Z.
var pgEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

func fromPGTimestamp(microseconds int64) time.Time {
	return pgEpoch.Add(time.Duration(microseconds) * time.Microsecond).UTC()
}
