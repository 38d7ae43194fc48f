// Package app assembles the stream managers, the pipeline and the tokenizer
// from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/blackmichael/skystream/internal/config"
	"github.com/blackmichael/skystream/internal/cursorstore"
	"github.com/blackmichael/skystream/internal/firehose"
	"github.com/blackmichael/skystream/internal/jetstream"
	"github.com/blackmichael/skystream/internal/pipeline"
	"github.com/blackmichael/skystream/internal/stream"
	"github.com/blackmichael/skystream/internal/tokenizer"
)

// App is the running ingestion core.
type App struct {
	Pipeline  *pipeline.Pipeline
	Tokenizer *tokenizer.Tokenizer
	Managers  []*stream.Manager

	cursors *cursorstore.Store
	logger  *slog.Logger
}

// New builds every component. reg may be nil to skip metrics. Consumers
// should register on the pipeline's stages before calling Run.
func New(cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*App, error) {
	a := &App{logger: logger}

	tok, err := tokenizer.New(tokenizer.Config{
		DictPath:       cfg.TokenizerDictPath,
		UserDictPath:   cfg.TokenizerUserDictPath,
		ReloadInterval: cfg.TokenizerReloadInterval,
	}, logger, tokenizer.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("create tokenizer: %w", err)
	}
	a.Tokenizer = tok

	pcfg := pipeline.DefaultConfig()
	pcfg.Lang = cfg.FilterLang
	pcfg.Capacity = cfg.ReceiverBuffer
	a.Pipeline = pipeline.New(pcfg, tok, logger, pipeline.NewMetrics(reg))

	protos, err := Protocols(cfg, logger)
	if err != nil {
		return nil, err
	}

	opts := []stream.Option{
		stream.WithCursor(cfg.Cursor),
		stream.WithMetrics(stream.NewMetrics(reg)),
	}
	if cfg.CursorDBDriver != "" {
		a.cursors, err = cursorstore.Open(cfg.CursorDBDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open cursor store: %w", err)
		}
		opts = append(opts, stream.WithCursorStore(a.cursors))
		logger.Info("cursor store opened", "driver", cfg.CursorDBDriver)
	}

	for _, p := range protos {
		a.Managers = append(a.Managers, stream.NewManager(p, a.Pipeline.Input(), logger, opts...))
	}
	return a, nil
}

// Protocols returns one stream protocol per configured host.
func Protocols(cfg *config.Config, logger *slog.Logger) ([]stream.Protocol, error) {
	protos := make([]stream.Protocol, 0, len(cfg.Hosts))
	for _, host := range cfg.Hosts {
		switch cfg.Protocol {
		case config.ProtocolFirehose:
			protos = append(protos, firehose.NewProtocol(host, firehose.DefaultRetry, logger))
		case config.ProtocolJetstream:
			p, err := jetstream.NewProtocol(host, jetstream.Options{
				WantedCollections:   cfg.WantedCollections,
				WantedDIDs:          cfg.WantedDIDs,
				MaxMessageSizeBytes: cfg.MaxMessageSizeBytes,
				Compress:            cfg.JetstreamCompress,
				ZstdDictPath:        cfg.ZstdDictPath,
				RequireHello:        cfg.RequireHello,
			}, jetstream.DefaultRetry)
			if err != nil {
				return nil, fmt.Errorf("create jetstream protocol for %s: %w", host, err)
			}
			protos = append(protos, p)
		default:
			return nil, fmt.Errorf("unknown stream protocol %q", cfg.Protocol)
		}
	}
	return protos, nil
}

// Run runs the pipeline, the tokenizer reload loop and every stream manager
// until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Pipeline.Run(ctx) })
	g.Go(func() error { return a.Tokenizer.Run(ctx) })
	for _, m := range a.Managers {
		g.Go(func() error { return m.Run(ctx) })
	}

	a.logger.Info("ingestion started", "streams", len(a.Managers))
	return g.Wait()
}

// Close releases the cursor store, if any. Call it after Run returns so the
// managers' final cursor saves succeed.
func (a *App) Close() error {
	if a.cursors == nil {
		return nil
	}
	return a.cursors.Close()
}
