// Package change defines the data types shared between the extraction,
// transformation, and reader-facing layers of the replication pipeline: the
// raw message handed from the Extractor to the Transformer, the schema and
// transaction metadata the Transformer accumulates, and the change event it
// emits.
package change

import (
	"time"

	"github.com/google/uuid"
)

// LSN is a PostgreSQL write-ahead log sequence number.
type LSN uint64

// Op identifies the kind of a change event.
type Op byte

const (
	OpInsert   Op = 'I'
	OpUpdate   Op = 'U'
	OpDelete   Op = 'D'
	OpTruncate Op = 'T'
)

// RawMessage is what the Raw Extractor forwards to the Event Transformer for
// every message the server delivers. It is consumed exactly once and then
// discarded.
type RawMessage struct {
	MessageID uuid.UUID
	DataStart LSN
	Payload   []byte
	SendTime  time.Time
	DataSize  int
	WALEnd    LSN
}

// Ack is returned by the Transformer over the reverse channel after a
// RawMessage has been fully consumed, whether or not it produced an event.
type Ack struct {
	MessageID uuid.UUID
}

// ColumnDefinition describes one column of a relation as known to the
// Transformer: its name, whether it is part of the relation's replica
// identity / primary key, its catalog-reported type name, and whether it
// may hold NULL.
type ColumnDefinition struct {
	Name       string
	PartOfPKey bool
	TypeName   string
	TypeID     uint32
	TypeMod    int32
	Optional   bool
}

// TableSchema is the Transformer's cached understanding of a published
// relation, keyed by relation id.
type TableSchema struct {
	DB              string
	RelationID      uint32
	Namespace       string
	RelationName    string
	ReplicaIdentity byte
	Columns         []ColumnDefinition
}

// ColumnIndex returns the position of name within the schema's column
// ordering, or -1 if no such column exists.
func (s *TableSchema) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// TransactionMetadata is the currently-open transaction's identity,
// established by Begin and cleared by Commit.
type TransactionMetadata struct {
	TxID     int32
	BeginLSN LSN
	CommitTS time.Time
}

// Field is one named, typed, ordered value within an event's before/after
// mapping.
type Field struct {
	Name  string
	Value any
}

// Unchanged marks a column that arrived tagged 'u' (unchanged TOAST): the
// server did not resend its value because it is unchanged from the prior
// row version and the column is not part of the replica identity.
type Unchanged struct{}

// Event is a single emitted change: one DML row, or one truncated relation.
// Before/after slices preserve the owning schema's column ordering; either
// may be nil (Insert has no before, Delete and Truncate have no after).
type Event struct {
	Op          Op
	MessageID   uuid.UUID
	LSN         LSN
	Transaction TransactionMetadata
	TableSchema TableSchema
	Before      []Field
	After       []Field
}

// FieldMap renders fields as a name-keyed map for callers that don't care
// about ordering. Prefer ranging over the slice directly when order matters.
func FieldMap(fields []Field) map[string]any {
	if fields == nil {
		return nil
	}
	m := make(map[string]any, len(fields))
	for _, f := range fields {
		m[f.Name] = f.Value
	}
	return m
}
