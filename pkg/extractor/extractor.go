// Package extractor implements the Raw Extractor: the component that owns
// the blocking replication socket, forwards raw messages to the Transformer
// over a bounded channel, and issues server feedback only after the
// Transformer acknowledges each message.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"go.uber.org/zap"

	"github.com/flowlane/pgcdc/pkg/change"
	"github.com/flowlane/pgcdc/pkg/metrics"
)

const outputPlugin = "pgoutput"

// Config parameterises an Extractor. Publication and Slot are required; DSN
// must name a database and carry replication permissions.
type Config struct {
	DSN                   string
	Publication           string
	Slot                  string
	StandbyUpdateInterval time.Duration
	BufferSize            int
}

func (c Config) withDefaults() Config {
	if c.StandbyUpdateInterval <= 0 {
		c.StandbyUpdateInterval = 10 * time.Second
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1
	}
	return c
}

func (c Config) validate() error {
	if c.Publication == "" {
		return errors.New("extractor: publication name is required")
	}
	if c.Slot == "" {
		return errors.New("extractor: slot name is required")
	}
	return nil
}

// feedbackSender issues a standby status update reporting write/flush/apply
// position lsn. Satisfied by pgconnFeedback (wrapping a *pgconn.PgConn) in
// production and by a fake in tests, so forwardAndAwaitAck can be exercised
// without a live connection.
type feedbackSender interface {
	SendFeedback(ctx context.Context, lsn pglogrepl.LSN) error
}

// pgconnFeedback adapts a live replication connection to feedbackSender.
type pgconnFeedback struct {
	conn *pgconn.PgConn
}

func (f pgconnFeedback) SendFeedback(ctx context.Context, lsn pglogrepl.LSN) error {
	return pglogrepl.SendStandbyStatusUpdate(ctx, f.conn, pglogrepl.StandbyStatusUpdate{
		WALWritePosition: lsn,
		WALFlushPosition: lsn,
		WALApplyPosition: lsn,
	})
}

// Extractor owns the replication connection and runs the receive/ack loop
// in Run. The caller drives it from a dedicated goroutine.
type Extractor struct {
	cfg Config
	log *zap.Logger

	state atomic.Int32

	out chan change.RawMessage
	ack chan change.Ack
}

// Option configures an Extractor at construction time.
type Option func(*Extractor)

// WithLogger overrides the Extractor's logger. Defaults to zap.L().
func WithLogger(log *zap.Logger) Option {
	return func(e *Extractor) { e.log = log }
}

// New returns an Extractor. It does not connect until Run is called.
func New(cfg Config, opts ...Option) *Extractor {
	cfg = cfg.withDefaults()
	e := &Extractor{
		cfg: cfg,
		log: zap.L(),
		out: make(chan change.RawMessage, cfg.BufferSize),
		ack: make(chan change.Ack, cfg.BufferSize),
	}
	e.state.Store(int32(StateDisconnected))
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the Extractor's current lifecycle state.
func (e *Extractor) State() State {
	return State(e.state.Load())
}

// Messages returns the channel the Transformer reads raw messages from.
func (e *Extractor) Messages() <-chan change.RawMessage {
	return e.out
}

// SendAck delivers the Transformer's acknowledgement for the most recently
// received raw message back to the Extractor. It blocks until Run is ready
// to receive it or ctx is done.
func (e *Extractor) SendAck(ctx context.Context, ack change.Ack) error {
	select {
	case e.ack <- ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run connects, starts replication, and drives the receive/ack loop until
// ctx is cancelled or an unrecoverable error occurs. It closes the messages
// channel before returning.
func (e *Extractor) Run(ctx context.Context) error {
	defer close(e.out)

	if err := e.cfg.validate(); err != nil {
		return err
	}

	config, err := pgx.ParseConfig(e.cfg.DSN)
	if err != nil {
		return fmt.Errorf("extractor: parse dsn: %w", err)
	}
	config.RuntimeParams["replication"] = "database"

	pgxConn, err := pgx.ConnectConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("extractor: connect: %w", err)
	}
	conn := pgxConn.PgConn()
	defer conn.Close(context.Background())

	e.state.Store(int32(StateConnected))

	sysID, err := pglogrepl.IdentifySystem(ctx, conn)
	if err != nil {
		return fmt.Errorf("extractor: identify system: %w", err)
	}

	if err := e.ensureSlot(ctx, conn); err != nil {
		return err
	}

	pluginArgs := []string{
		"proto_version '1'",
		fmt.Sprintf("publication_names '%s'", e.cfg.Publication),
	}
	if err := pglogrepl.StartReplication(ctx, conn, e.cfg.Slot, sysID.XLogPos, pglogrepl.StartReplicationOptions{PluginArgs: pluginArgs}); err != nil {
		if isObjectInUse(err) {
			e.state.Store(int32(StateTerminated))
			return fmt.Errorf("%w: %s", ErrSlotInUse, err)
		}
		return fmt.Errorf("extractor: start replication: %w", err)
	}

	e.state.Store(int32(StateStreaming))
	defer e.state.Store(int32(StateTerminated))

	return e.loop(ctx, conn)
}

func (e *Extractor) ensureSlot(ctx context.Context, conn *pgconn.PgConn) error {
	exists, err := slotExists(ctx, conn, e.cfg.Slot)
	if err != nil {
		return fmt.Errorf("extractor: check slot: %w", err)
	}
	if exists {
		return nil
	}

	if _, err := pglogrepl.CreateReplicationSlot(ctx, conn, e.cfg.Slot, outputPlugin, pglogrepl.CreateReplicationSlotOptions{Temporary: false}); err != nil {
		return fmt.Errorf("%w: %s", ErrSlotUnavailable, err)
	}
	return nil
}

func slotExists(ctx context.Context, conn *pgconn.PgConn, name string) (bool, error) {
	result := conn.ExecParams(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_replication_slots WHERE slot_name = $1)",
		[][]byte{[]byte(name)}, nil, nil, nil,
	)
	rows, err := result.ReadAll()
	if err != nil {
		return false, err
	}
	if len(rows) == 0 || len(rows[0].Rows) == 0 {
		return false, nil
	}
	return string(rows[0].Rows[0][0]) == "t", nil
}

func isObjectInUse(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "55006"
}

func (e *Extractor) loop(ctx context.Context, conn *pgconn.PgConn) error {
	var walPos pglogrepl.LSN

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msgCtx, cancel := context.WithTimeout(ctx, e.cfg.StandbyUpdateInterval)
		msg, err := conn.ReceiveMessage(msgCtx)
		cancel()

		if err != nil {
			if pgconn.Timeout(err) {
				continue
			}
			return fmt.Errorf("extractor: receive: %w", err)
		}

		copyData, ok := msg.(*pgproto3.CopyData)
		if !ok || len(copyData.Data) == 0 {
			continue
		}

		switch copyData.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(copyData.Data[1:])
			if err != nil {
				continue
			}
			if pkm.ServerWALEnd > walPos {
				walPos = pkm.ServerWALEnd
			}
			if pkm.ReplyRequested {
				if err := (pgconnFeedback{conn}).SendFeedback(ctx, walPos); err != nil {
					return fmt.Errorf("extractor: standby status: %w", err)
				}
			}

		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(copyData.Data[1:])
			if err != nil {
				e.log.Warn("failed to parse XLogData envelope", zap.Error(err))
				continue
			}
			if xld.WALStart > walPos {
				walPos = xld.WALStart
			}

			raw := change.RawMessage{
				MessageID: uuid.New(),
				DataStart: change.LSN(xld.WALStart),
				Payload:   xld.WALData,
				SendTime:  xld.ServerTime,
				DataSize:  len(xld.WALData),
				WALEnd:    change.LSN(xld.ServerWALEnd),
			}

			if err := e.forwardAndAwaitAck(ctx, pgconnFeedback{conn}, raw); err != nil {
				return err
			}
		}
	}
}

// forwardAndAwaitAck sends raw to the Transformer, blocks for exactly one
// ack, and issues server feedback only when the ack's identifier matches.
func (e *Extractor) forwardAndAwaitAck(ctx context.Context, fb feedbackSender, raw change.RawMessage) error {
	sentAt := time.Now()

	select {
	case e.out <- raw:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case ack := <-e.ack:
		metrics.AckLatency.Observe(time.Since(sentAt).Seconds())
		if ack.MessageID != raw.MessageID {
			e.log.Warn("ack identifier mismatch, skipping feedback",
				zap.String("sent", raw.MessageID.String()),
				zap.String("received", ack.MessageID.String()),
			)
			return nil
		}
		if err := fb.SendFeedback(ctx, pglogrepl.LSN(raw.DataStart)); err != nil {
			return err
		}
		metrics.FeedbackLSN.Set(float64(raw.DataStart))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
