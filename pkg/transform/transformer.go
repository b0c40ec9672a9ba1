// Package transform implements the Event Transformer: a single-threaded
// state machine that consumes decoded pgoutput messages, keeps per-relation
// schema caches fed by the Catalog Probe, tracks the currently-open
// transaction, and emits change events.
package transform

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/flowlane/pgcdc/pkg/change"
	"github.com/flowlane/pgcdc/pkg/pgoutput"
)

// Prober is the subset of *catalog.Prober the Transformer needs: type-name
// and nullability lookups keyed on a relation's raw column descriptors.
type Prober interface {
	FetchTypeName(ctx context.Context, typeID uint32, typeMod int32) (string, error)
	FetchIsOptional(ctx context.Context, schema, table, column string) (bool, error)
}

// Transformer holds all Event Transformer state: relation schemas, the
// currently-open transaction, and a handle to the Catalog Probe it consults
// on first observation of a relation.
type Transformer struct {
	prober Prober
	log    *zap.Logger
	db     string

	schemas   map[uint32]*change.TableSchema
	currentTx *change.TransactionMetadata
}

// Option configures a Transformer at construction time.
type Option func(*Transformer)

// WithLogger overrides the Transformer's logger. Defaults to zap.L().
func WithLogger(log *zap.Logger) Option {
	return func(t *Transformer) { t.log = log }
}

// WithDB sets the source database name stamped onto every TableSchema this
// Transformer installs. Defaults to "".
func WithDB(db string) Option {
	return func(t *Transformer) { t.db = db }
}

// New returns a Transformer backed by prober for schema/type lookups.
func New(prober Prober, opts ...Option) *Transformer {
	t := &Transformer{
		prober:  prober,
		log:     zap.L(),
		schemas: make(map[uint32]*change.TableSchema),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// HandleRaw decodes one raw message's payload and returns the change events
// it produces. Most message kinds produce zero or one event; Truncate may
// produce several, one per listed relation.
func (t *Transformer) HandleRaw(ctx context.Context, raw change.RawMessage) ([]change.Event, error) {
	msg, err := pgoutput.Decode(raw.Payload)
	if err != nil {
		return nil, fmt.Errorf("transform: decode: %w", err)
	}

	switch m := msg.(type) {
	case *pgoutput.RelationMessage:
		if err := t.handleRelation(ctx, m); err != nil {
			return nil, err
		}
		return nil, nil

	case *pgoutput.BeginMessage:
		t.currentTx = &change.TransactionMetadata{
			TxID:     m.Xid,
			BeginLSN: change.LSN(m.FinalLSN),
			CommitTS: m.CommitTS,
		}
		return nil, nil

	case *pgoutput.CommitMessage:
		t.currentTx = nil
		return nil, nil

	case *pgoutput.InsertMessage:
		ev, err := t.handleInsert(raw, m)
		if err != nil {
			return nil, err
		}
		return []change.Event{ev}, nil

	case *pgoutput.UpdateMessage:
		ev, err := t.handleUpdate(raw, m)
		if err != nil {
			return nil, err
		}
		return []change.Event{ev}, nil

	case *pgoutput.DeleteMessage:
		ev, err := t.handleDelete(raw, m)
		if err != nil {
			return nil, err
		}
		return []change.Event{ev}, nil

	case *pgoutput.TruncateMessage:
		return t.handleTruncate(raw, m)

	case *pgoutput.UnknownMessage:
		t.log.Debug("ignoring unrecognised pgoutput tag", zap.ByteString("tag", []byte{m.Tag}))
		return nil, nil

	default:
		t.log.Warn("unhandled decoded message type, ignoring")
		return nil, nil
	}
}

func (t *Transformer) handleRelation(ctx context.Context, m *pgoutput.RelationMessage) error {
	columns := make([]change.ColumnDefinition, 0, len(m.Columns))
	for _, c := range m.Columns {
		typeName, err := t.prober.FetchTypeName(ctx, c.TypeID, c.TypeMod)
		if err != nil {
			return fmt.Errorf("transform: relation %d column %q: %w", m.RelationID, c.Name, err)
		}
		optional, err := t.prober.FetchIsOptional(ctx, m.Namespace, m.RelationName, c.Name)
		if err != nil {
			return fmt.Errorf("transform: relation %d column %q: %w", m.RelationID, c.Name, err)
		}
		columns = append(columns, change.ColumnDefinition{
			Name:       c.Name,
			PartOfPKey: c.PartOfPKey,
			TypeName:   typeName,
			TypeID:     c.TypeID,
			TypeMod:    c.TypeMod,
			Optional:   optional,
		})
	}

	t.schemas[m.RelationID] = &change.TableSchema{
		DB:              t.db,
		RelationID:      m.RelationID,
		Namespace:       m.Namespace,
		RelationName:    m.RelationName,
		ReplicaIdentity: m.ReplicaIdentity,
		Columns:         columns,
	}

	t.log.Debug("relation schema installed",
		zap.Uint32("relation_id", m.RelationID),
		zap.String("table", m.Namespace+"."+m.RelationName),
		zap.Int("columns", len(columns)),
	)
	return nil
}

func (t *Transformer) schemaFor(relationID uint32) (*change.TableSchema, error) {
	schema, ok := t.schemas[relationID]
	if !ok {
		return nil, &ErrUnknownRelation{RelationID: relationID}
	}
	return schema, nil
}

func (t *Transformer) requireTx(relationID uint32) (change.TransactionMetadata, error) {
	if t.currentTx == nil {
		return change.TransactionMetadata{}, &ErrNoOpenTransaction{RelationID: relationID}
	}
	return *t.currentTx, nil
}

func buildFields(schema *change.TableSchema, tuple pgoutput.TupleData, relationID uint32) ([]change.Field, error) {
	if len(tuple.Columns) != len(schema.Columns) {
		return nil, &ErrEventAssembly{
			RelationID: relationID,
			Reason:     fmt.Sprintf("tuple has %d columns, schema has %d", len(tuple.Columns), len(schema.Columns)),
		}
	}

	fields := make([]change.Field, len(schema.Columns))
	for i, col := range schema.Columns {
		raw := tuple.Columns[i]
		switch raw.Kind {
		case pgoutput.TupleColumnNull:
			fields[i] = change.Field{Name: col.Name, Value: nil}
		case pgoutput.TupleColumnUnchangedToast:
			fields[i] = change.Field{Name: col.Name, Value: change.Unchanged{}}
		case pgoutput.TupleColumnText:
			value, err := coerce(col.TypeName, string(raw.Data))
			if err != nil {
				return nil, &ErrEventAssembly{RelationID: relationID, Column: col.Name, Reason: "coercion failed", Err: err}
			}
			fields[i] = change.Field{Name: col.Name, Value: value}
		default:
			return nil, &ErrEventAssembly{RelationID: relationID, Column: col.Name, Reason: fmt.Sprintf("unknown tuple column kind %q", byte(raw.Kind))}
		}
	}
	return fields, nil
}

func (t *Transformer) handleInsert(raw change.RawMessage, m *pgoutput.InsertMessage) (change.Event, error) {
	schema, err := t.schemaFor(m.RelationID)
	if err != nil {
		return change.Event{}, err
	}
	tx, err := t.requireTx(m.RelationID)
	if err != nil {
		return change.Event{}, err
	}
	after, err := buildFields(schema, m.NewTuple, m.RelationID)
	if err != nil {
		return change.Event{}, err
	}
	return change.Event{
		Op:          change.OpInsert,
		MessageID:   raw.MessageID,
		LSN:         raw.DataStart,
		Transaction: tx,
		TableSchema: *schema,
		After:       after,
	}, nil
}

func (t *Transformer) handleUpdate(raw change.RawMessage, m *pgoutput.UpdateMessage) (change.Event, error) {
	schema, err := t.schemaFor(m.RelationID)
	if err != nil {
		return change.Event{}, err
	}
	tx, err := t.requireTx(m.RelationID)
	if err != nil {
		return change.Event{}, err
	}
	after, err := buildFields(schema, m.NewTuple, m.RelationID)
	if err != nil {
		return change.Event{}, err
	}

	var before []change.Field
	if m.OldTuple != nil {
		before, err = buildFields(schema, *m.OldTuple, m.RelationID)
		if err != nil {
			return change.Event{}, err
		}
	}

	return change.Event{
		Op:          change.OpUpdate,
		MessageID:   raw.MessageID,
		LSN:         raw.DataStart,
		Transaction: tx,
		TableSchema: *schema,
		Before:      before,
		After:       after,
	}, nil
}

func (t *Transformer) handleDelete(raw change.RawMessage, m *pgoutput.DeleteMessage) (change.Event, error) {
	schema, err := t.schemaFor(m.RelationID)
	if err != nil {
		return change.Event{}, err
	}
	tx, err := t.requireTx(m.RelationID)
	if err != nil {
		return change.Event{}, err
	}
	before, err := buildFields(schema, m.OldTuple, m.RelationID)
	if err != nil {
		return change.Event{}, err
	}
	return change.Event{
		Op:          change.OpDelete,
		MessageID:   raw.MessageID,
		LSN:         raw.DataStart,
		Transaction: tx,
		TableSchema: *schema,
		Before:      before,
	}, nil
}

func (t *Transformer) handleTruncate(raw change.RawMessage, m *pgoutput.TruncateMessage) ([]change.Event, error) {
	tx, err := t.requireTx(0)
	if err != nil {
		return nil, err
	}

	events := make([]change.Event, 0, len(m.RelationIDs))
	for _, relID := range m.RelationIDs {
		schema, err := t.schemaFor(relID)
		if err != nil {
			return nil, err
		}
		events = append(events, change.Event{
			Op:          change.OpTruncate,
			MessageID:   raw.MessageID,
			LSN:         raw.DataStart,
			Transaction: tx,
			TableSchema: *schema,
		})
	}
	return events, nil
}
