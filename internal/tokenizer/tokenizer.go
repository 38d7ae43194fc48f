// Package tokenizer segments Japanese text with kagome and keeps its
// dictionaries fresh by rebuilding the segmenter on a timer.
package tokenizer

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ikawaha/kagome-dict/dict"
	"github.com/ikawaha/kagome-dict/ipa"
	kagome "github.com/ikawaha/kagome/v2/tokenizer"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultReloadInterval is how often Run rebuilds the segmenter.
const DefaultReloadInterval = 10 * time.Minute

type Config struct {
	// DictPath is a kagome dictionary archive. Empty selects the embedded IPA dictionary.
	DictPath string

	// UserDictPath is an optional user dictionary in kagome's CSV format:
	// text,segments,readings,part-of-speech.
	UserDictPath string

	ReloadInterval time.Duration
}

// Tokenizer is safe for concurrent use. Tokenize always sees either the old
// or the new segmenter in full, never a partially built one.
type Tokenizer struct {
	cfg     Config
	logger  *slog.Logger
	reloads *prometheus.CounterVec

	current atomic.Pointer[kagome.Tokenizer]
}

// Option configures a Tokenizer.
type Option func(*Tokenizer)

// WithRegisterer records reload outcomes on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(t *Tokenizer) {
		if reg == nil {
			return
		}
		t.reloads = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skystream",
			Subsystem: "tokenizer",
			Name:      "reloads_total",
			Help:      "Segmenter rebuilds by outcome",
		}, []string{"result"})
		reg.MustRegister(t.reloads)
	}
}

// New builds the initial segmenter. Unlike Reload, a failure here is returned
// since there is nothing to fall back to.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Tokenizer, error) {
	if cfg.ReloadInterval <= 0 {
		cfg.ReloadInterval = DefaultReloadInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := &Tokenizer{cfg: cfg, logger: logger.With("component", "tokenizer")}
	for _, opt := range opts {
		opt(t)
	}

	seg, err := build(cfg)
	if err != nil {
		return nil, err
	}
	t.current.Store(seg)
	return t, nil
}

func build(cfg Config) (*kagome.Tokenizer, error) {
	d := ipa.Dict()
	if cfg.DictPath != "" {
		loaded, err := dict.LoadDictFile(cfg.DictPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load dictionary %s: %w", cfg.DictPath, err)
		}
		d = loaded
	}

	opts := []kagome.Option{kagome.OmitBosEos()}
	if cfg.UserDictPath != "" {
		udict, err := dict.NewUserDict(cfg.UserDictPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load user dictionary %s: %w", cfg.UserDictPath, err)
		}
		opts = append(opts, kagome.UserDict(udict))
	}

	seg, err := kagome.New(d, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create segmenter: %w", err)
	}
	return seg, nil
}

// Reload rebuilds the segmenter from the configured files and swaps it in.
// On failure the current segmenter stays in place.
func (t *Tokenizer) Reload() error {
	start := time.Now()
	seg, err := build(t.cfg)
	if err != nil {
		t.count("error")
		t.logger.Error("reload failed, keeping previous segmenter", "error", err)
		return err
	}
	t.current.Store(seg)
	t.count("ok")
	t.logger.Info("segmenter reloaded", "took", time.Since(start))
	return nil
}

func (t *Tokenizer) count(result string) {
	if t.reloads != nil {
		t.reloads.WithLabelValues(result).Inc()
	}
}

// Run reloads every ReloadInterval until ctx is cancelled. Reloads happen
// whether or not the files changed.
func (t *Tokenizer) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.ReloadInterval)
	defer ticker.Stop()

	t.logger.Info("reload loop started", "interval", t.cfg.ReloadInterval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = t.Reload()
		}
	}
}

// Tokenize splits text into tokens. Each token is its surface form followed
// by the dictionary's features (part of speech, conjugation, base form,
// readings).
func (t *Tokenizer) Tokenize(text string) [][]string {
	toks := t.current.Load().Tokenize(text)
	out := make([][]string, 0, len(toks))
	for _, tok := range toks {
		out = append(out, append([]string{tok.Surface}, tok.Features()...))
	}
	return out
}
