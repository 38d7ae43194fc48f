package pipeline

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/blackmichael/skystream/internal/event"
)

// Config selects the language filter and each stage class's delivery policy.
type Config struct {
	// Lang is the language code the language filter keeps.
	Lang string

	// Capacity is the buffer size of every receiver channel and of the input.
	Capacity int

	// IngestDelivery applies to the first stage, which multiplexes the raw
	// connection(s) to consumers.
	IngestDelivery Delivery

	// FilterDelivery applies to the derived filter and tokenizer stages.
	FilterDelivery Delivery
}

// DefaultConfig drops on full at ingest, so a slow consumer cannot stall the
// connections, and blocks in the derived stages, so their consumers see
// every matching item.
func DefaultConfig() Config {
	return Config{
		Lang:           "ja",
		Capacity:       DefaultCapacity,
		IngestDelivery: DropOnFull,
		FilterDelivery: Block,
	}
}

// Pipeline chains the ingest, commits, posts, langs and tokens stages.
// Consumers call AddReceiver on whichever stage they need. Broadcast repeats
// Tokens for consumers outside the process, such as websocket clients.
type Pipeline struct {
	input chan event.Event

	Ingest  *Stage[event.Event, event.Event]
	Commits *Stage[event.Event, event.Event]
	Posts   *Stage[event.Event, Post]
	Langs   *Stage[Post, Post]
	Tokens  *Stage[Post, TokenizedPost]

	// Broadcast always drops on full. A stalled remote client loses its own
	// items and never holds up Tokens or anything upstream of it.
	Broadcast *Stage[TokenizedPost, TokenizedPost]
}

// New wires the stages together. Each stage feeds the next through a
// receiver registered here, before any consumer can register.
func New(cfg Config, seg Segmenter, logger *slog.Logger, metrics *Metrics) *Pipeline {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	opts := func(d Delivery) []StageOption {
		return []StageOption{
			WithDelivery(d),
			WithCapacity(cfg.Capacity),
			WithLogger(logger),
			WithMetrics(metrics),
		}
	}

	p := &Pipeline{input: make(chan event.Event, cfg.Capacity)}
	p.Ingest = NewStage[event.Event, event.Event]("ingest", p.input, PassThrough, opts(cfg.IngestDelivery)...)
	p.Commits = NewStage[event.Event, event.Event]("commits", p.Ingest.AddReceiver().C, CommitFilter, opts(cfg.FilterDelivery)...)
	p.Posts = NewStage[event.Event, Post]("posts", p.Commits.AddReceiver().C, PostFilter, opts(cfg.FilterDelivery)...)
	p.Langs = NewStage("langs", p.Posts.AddReceiver().C, LangFilter(cfg.Lang), opts(cfg.FilterDelivery)...)
	p.Tokens = NewStage("tokens", p.Langs.AddReceiver().C, Tokenize(seg), opts(cfg.FilterDelivery)...)
	p.Broadcast = NewStage("broadcast", p.Tokens.AddReceiver().C, Relay[TokenizedPost], opts(DropOnFull)...)
	return p
}

// Input is where stream managers send decoded events.
func (p *Pipeline) Input() chan<- event.Event {
	return p.input
}

// Run runs every stage until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Ingest.Run(ctx) })
	g.Go(func() error { return p.Commits.Run(ctx) })
	g.Go(func() error { return p.Posts.Run(ctx) })
	g.Go(func() error { return p.Langs.Run(ctx) })
	g.Go(func() error { return p.Tokens.Run(ctx) })
	g.Go(func() error { return p.Broadcast.Run(ctx) })
	return g.Wait()
}
