package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/blackmichael/skystream/internal/app"
	"github.com/blackmichael/skystream/internal/config"
	"github.com/blackmichael/skystream/internal/event"
	"github.com/blackmichael/skystream/internal/pipeline"
)

var stages = []string{"ingest", "commits", "posts", "langs", "tokens"}

type tailOptions struct {
	stage       string
	protocol    string
	hosts       []string
	collections []string
	lang        string
	cursor      int64
	userDict    string
	limit       int
	verbose     bool
}

func newRootCmd() *cobra.Command {
	return newTailCmd(&tailOptions{})
}

func newTailCmd(opts *tailOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print items from one pipeline stage as JSON lines",
		Long: `Connects to the firehose or Jetstream, runs the ingestion pipeline and
prints every item reaching the chosen stage as one JSON object per line.
Defaults come from the same environment variables as the server.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.stage, "stage", "s", "tokens", "stage to print: ingest, commits, posts, langs or tokens")
	f.StringVar(&opts.protocol, "protocol", "", "stream protocol: firehose or jetstream")
	f.StringSliceVar(&opts.hosts, "host", nil, "relay or Jetstream host, repeatable")
	f.StringSliceVar(&opts.collections, "collection", nil, "Jetstream wanted collection, repeatable")
	f.StringVar(&opts.lang, "lang", "", "language kept by the language filter")
	f.Int64Var(&opts.cursor, "cursor", 0, "resume cursor (sequence number or time_us)")
	f.StringVar(&opts.userDict, "user-dict", "", "kagome user dictionary file")
	f.IntVarP(&opts.limit, "limit", "n", 0, "exit after this many items (0 means no limit)")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log connection activity to stderr")

	return cmd
}

// config layers the flags over the environment configuration.
func (o *tailOptions) config() (*config.Config, error) {
	if !validStage(o.stage) {
		return nil, fmt.Errorf("unknown stage %q, want one of %v", o.stage, stages)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.protocol != "" && o.protocol != cfg.Protocol {
		cfg.Protocol = o.protocol
		cfg.Hosts = config.DefaultHosts(o.protocol)
	}
	if len(o.hosts) > 0 {
		cfg.Hosts = o.hosts
	}
	if len(o.collections) > 0 {
		cfg.WantedCollections = o.collections
	}
	if o.lang != "" {
		cfg.FilterLang = o.lang
	}
	if o.cursor > 0 {
		cfg.Cursor = o.cursor
	}
	if o.userDict != "" {
		cfg.TokenizerUserDictPath = o.userDict
	}
	// The CLI never persists cursors.
	cfg.CursorDBDriver = ""

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validStage(s string) bool {
	for _, st := range stages {
		if s == st {
			return true
		}
	}
	return false
}

func (o *tailOptions) run(cmd *cobra.Command) error {
	cfg, err := o.config()
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	ingest, err := app.New(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer ingest.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	printed := make(chan error, 1)
	out := cmd.OutOrStdout()
	p := ingest.Pipeline
	switch o.stage {
	case "ingest":
		go func() { printed <- printItems(ctx, out, p.Ingest.AddReceiver(), o.limit, newEventLine) }()
	case "commits":
		go func() { printed <- printItems(ctx, out, p.Commits.AddReceiver(), o.limit, newEventLine) }()
	case "posts":
		go func() { printed <- printItems(ctx, out, p.Posts.AddReceiver(), o.limit, newPostLine) }()
	case "langs":
		go func() { printed <- printItems(ctx, out, p.Langs.AddReceiver(), o.limit, newPostLine) }()
	case "tokens":
		go func() { printed <- printItems(ctx, out, p.Tokens.AddReceiver(), o.limit, newTokenLine) }()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- ingest.Run(ctx) }()

	err = <-printed
	cancel()
	<-runErr
	return err
}

// printItems writes each item as a JSON line until limit items are written,
// the receiver closes or ctx ends.
func printItems[T any](ctx context.Context, w io.Writer, r *pipeline.Receiver[T], limit int, line func(T) any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for n := 0; limit <= 0 || n < limit; n++ {
		select {
		case <-ctx.Done():
			return nil
		case item, ok := <-r.C:
			if !ok {
				return nil
			}
			if err := enc.Encode(line(item)); err != nil {
				if errors.Is(err, io.ErrClosedPipe) {
					return nil
				}
				return fmt.Errorf("write item: %w", err)
			}
		}
	}
	return nil
}

type eventLine struct {
	Kind   string   `json:"kind"`
	Repo   string   `json:"repo,omitempty"`
	Cursor int64    `json:"cursor,omitempty"`
	Ops    []opLine `json:"ops,omitempty"`
}

type opLine struct {
	URI    string `json:"uri"`
	Action string `json:"action"`
	CID    string `json:"cid,omitempty"`
	Record any    `json:"record,omitempty"`
}

func newEventLine(ev event.Event) any {
	l := eventLine{Kind: ev.Kind().String(), Repo: ev.Repo()}
	if cursor, ok := ev.Cursor(); ok {
		l.Cursor = cursor
	}
	if c, ok := ev.(event.Committer); ok {
		for _, op := range c.Ops() {
			l.Ops = append(l.Ops, opLine{URI: op.URI(), Action: op.Action, CID: op.CID, Record: op.Record})
		}
	}
	return l
}

type postLine struct {
	URI       string     `json:"uri"`
	CID       string     `json:"cid,omitempty"`
	Action    string     `json:"action"`
	Text      string     `json:"text"`
	Langs     []string   `json:"langs,omitempty"`
	CreatedAt string     `json:"createdAt,omitempty"`
	Tokens    [][]string `json:"tokens,omitempty"`
}

func newPostLine(p pipeline.Post) any {
	return postLine{
		URI:       p.URI,
		CID:       p.CID,
		Action:    p.Action,
		Text:      p.Record.Text,
		Langs:     p.Record.Langs,
		CreatedAt: p.Record.CreatedAt,
	}
}

func newTokenLine(tp pipeline.TokenizedPost) any {
	l := newPostLine(tp.Post).(postLine)
	l.Tokens = tp.Tokens
	return l
}
