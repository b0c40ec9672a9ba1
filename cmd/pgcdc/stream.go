package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/flowlane/pgcdc/pkg/catalog"
	"github.com/flowlane/pgcdc/pkg/config"
	"github.com/flowlane/pgcdc/pkg/extractor"
	"github.com/flowlane/pgcdc/pkg/metrics"
	"github.com/flowlane/pgcdc/pkg/pgoutput"
	pgxutil "github.com/flowlane/pgcdc/pkg/pgx"
	"github.com/flowlane/pgcdc/pkg/reader"
	"github.com/flowlane/pgcdc/pkg/transform"
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "stream decoded change events to stdout as newline-delimited JSON",
	RunE:  runStream,
}

func runStream(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if v := viper.GetString("dbName"); v != "" {
		cfg.DBName = v
	}
	if v := viper.GetString("dsn"); v != "" {
		cfg.DSN = v
	}
	if v := viper.GetString("publication"); v != "" {
		cfg.Publication = v
	}
	if v := viper.GetString("slot"); v != "" {
		cfg.Slot = v
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("pgcdc: build logger: %w", err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("received interrupt, shutting down")
		cancel()
	}()

	var wg sync.WaitGroup
	metrics.StartPrometheusServer(ctx, &wg, &metrics.PromServerOpts{Addr: cfg.MetricsListenAddr})

	catalogPool, err := pgxutil.Connect(ctx, pgxutil.Pool{ConnString: cfg.CatalogDSN})
	if err != nil {
		return fmt.Errorf("pgcdc: connect catalog pool: %w", err)
	}
	defer catalogPool.Close()

	prober := catalog.New(catalogPool)

	enc := json.NewEncoder(os.Stdout)

	r := readerFor(ctx, cfg, prober, log)
	for attempt := 0; ; attempt++ {
		streamErr := streamEvents(ctx, r, enc, log)
		if closeErr := r.Close(); closeErr != nil {
			log.Warn("reader close reported an error", zap.Error(closeErr))
		}

		if streamErr == nil {
			return nil
		}
		if errors.Is(streamErr, extractor.ErrSlotInUse) {
			log.Error("replication slot already in use by another consumer", zap.Error(streamErr))
			return streamErr
		}
		if !isTransient(streamErr) {
			return streamErr
		}
		if ctx.Err() != nil {
			return nil
		}

		log.Warn("transient error, reconnecting",
			zap.Int("attempt", attempt+1),
			zap.Error(streamErr),
		)
		metrics.ExtractorReconnects.Inc()
		r = readerFor(ctx, cfg, prober, log)
	}
}

// streamEvents pulls and encodes events until the reader reaches end of
// sequence (returns nil) or an unrecoverable error.
func streamEvents(ctx context.Context, r *reader.Reader, enc *json.Encoder, log *zap.Logger) error {
	for {
		events, err := r.Next(ctx)
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, ev := range events {
			if err := enc.Encode(ev); err != nil {
				log.Warn("failed to encode event", zap.Error(err))
			}
		}
	}
}

// isTransient classifies an error returned by Reader.Next per the error
// taxonomy: Programmatic and protocol-state errors are fatal to the
// instance and are not retried; anything else (network I/O during
// streaming, Catalog Probe query failures) is transient, and the caller
// may construct a new Reader.
func isTransient(err error) bool {
	var unknownRelation *transform.ErrUnknownRelation
	var noOpenTx *transform.ErrNoOpenTransaction
	var assembly *transform.ErrEventAssembly
	var malformed *pgoutput.ErrMalformedMessage
	if errors.As(err, &unknownRelation) || errors.As(err, &noOpenTx) ||
		errors.As(err, &assembly) || errors.As(err, &malformed) {
		return false
	}
	if errors.Is(err, extractor.ErrSlotInUse) || errors.Is(err, extractor.ErrSlotUnavailable) {
		return false
	}
	return true
}

func readerFor(ctx context.Context, cfg *config.Config, prober *catalog.Prober, log *zap.Logger) *reader.Reader {
	return reader.New(ctx, reader.Config{
		DBName: cfg.DBName,
		Extractor: extractor.Config{
			DSN:                   cfg.DSN,
			Publication:           cfg.Publication,
			Slot:                  cfg.Slot,
			StandbyUpdateInterval: cfg.StandbyUpdateInterval,
			BufferSize:            cfg.BufferSize,
		},
		PollTimeout:    cfg.PollTimeout,
		HeartbeatEvery: cfg.HeartbeatEvery,
	}, prober, reader.WithLogger(log))
}
