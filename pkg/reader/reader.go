// Package reader implements the Reader Facade: it wires an Extractor to a
// Transformer over a bounded channel, owns shutdown, and exposes a lazy
// pull-based sequence of change events to the caller.
package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/flowlane/pgcdc/pkg/change"
	"github.com/flowlane/pgcdc/pkg/extractor"
	"github.com/flowlane/pgcdc/pkg/metrics"
	"github.com/flowlane/pgcdc/pkg/transform"
)

const (
	defaultPollTimeout    = 500 * time.Millisecond
	defaultHeartbeatEvery = 50
	shutdownGraceDelay    = 100 * time.Millisecond
)

// Config parameterises a Reader.
type Config struct {
	DBName         string
	Extractor      extractor.Config
	PollTimeout    time.Duration
	HeartbeatEvery int
}

func (c Config) withDefaults() Config {
	if c.PollTimeout <= 0 {
		c.PollTimeout = defaultPollTimeout
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = defaultHeartbeatEvery
	}
	return c
}

// Reader is the Facade: construct with New, pull events with Next, and
// release resources with Close.
type Reader struct {
	cfg Config
	log *zap.Logger

	ext *extractor.Extractor
	tr  *transform.Transformer

	cancel context.CancelFunc
	done   chan struct{}
	runErr error

	pollCount uint64
	msgCount  uint64
}

// Option configures a Reader at construction time.
type Option func(*Reader)

// WithLogger overrides the Reader's logger. Defaults to zap.L().
func WithLogger(log *zap.Logger) Option {
	return func(r *Reader) { r.log = log }
}

// New constructs the Extractor and Transformer, starts the Extractor in its
// own goroutine, and returns a Reader ready to be pulled from. ctx governs
// the Extractor's lifetime; cancelling it (or calling Close) tears the
// reader down.
func New(ctx context.Context, cfg Config, prober transform.Prober, opts ...Option) *Reader {
	cfg = cfg.withDefaults()

	r := &Reader{
		cfg:  cfg,
		log:  zap.L(),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.ext = extractor.New(cfg.Extractor, extractor.WithLogger(r.log))
	r.tr = transform.New(prober, transform.WithLogger(r.log), transform.WithDB(cfg.DBName))

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	go func() {
		r.runErr = r.ext.Run(runCtx)
		close(r.done)
	}()

	return r
}

// Next blocks until it has one or more change events to return, or the
// sequence has ended. On end of sequence it returns io.EOF. If ctx is done
// while Next is waiting for a message, ctx's error is returned and the Reader
// may be pulled from again; any other error is unrecoverable and terminates
// the Reader.
func (r *Reader) Next(ctx context.Context) ([]change.Event, error) {
	for {
		r.pollCount++
		if r.pollCount%uint64(r.cfg.HeartbeatEvery) == 0 {
			r.log.Info("extractor poll heartbeat",
				zap.Uint64("poll_count", r.pollCount),
				zap.Uint64("messages_processed", r.msgCount),
			)
		}

		select {
		case raw, ok := <-r.ext.Messages():
			if !ok {
				return nil, r.endOfSequence(ctx)
			}
			r.msgCount++

			events, handleErr := r.tr.HandleRaw(ctx, raw)

			if ackErr := r.ext.SendAck(ctx, change.Ack{MessageID: raw.MessageID}); ackErr != nil {
				r.cancel()
				return nil, fmt.Errorf("reader: send ack: %w", ackErr)
			}

			if handleErr != nil {
				r.cancel()
				return nil, handleErr
			}
			if len(events) > 0 {
				for _, ev := range events {
					metrics.EventsEmitted.WithLabelValues(string(ev.Op)).Inc()
				}
				return events, nil
			}
			// no events produced (Begin/Commit/Relation/Unknown); poll again.

		case <-time.After(r.cfg.PollTimeout):
			continue

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// endOfSequence waits for the Extractor's goroutine to record its exit
// error (the messages channel is always closed before that error is set,
// so this wait is brief) and translates a clean shutdown into io.EOF.
func (r *Reader) endOfSequence(ctx context.Context) error {
	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if r.runErr != nil && !errors.Is(r.runErr, context.Canceled) {
		return r.runErr
	}
	return io.EOF
}

// Close signals the Extractor to stop, waits a short bounded grace delay
// for clean teardown, and returns the Extractor's exit error, if any.
func (r *Reader) Close() error {
	r.cancel()
	time.Sleep(shutdownGraceDelay)

	select {
	case <-r.done:
		if r.runErr != nil && !errors.Is(r.runErr, context.Canceled) {
			return r.runErr
		}
		return nil
	default:
		return nil
	}
}
