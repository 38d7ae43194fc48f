package jetstream

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"

	"github.com/blackmichael/skystream/internal/event"
	"github.com/blackmichael/skystream/internal/stream"
)

const subscribePath = "/subscribe"

// DefaultRetry uses the same delay for both failure classes.
var DefaultRetry = stream.RetryPolicy{
	ConnectDelay: 5 * time.Second,
	ReadDelay:    5 * time.Second,
}

// Options are the subscription parameters sent to Jetstream.
type Options struct {
	// WantedCollections filters commits by collection NSID. Jetstream accepts
	// prefixes such as "app.bsky.graph.*".
	WantedCollections []string

	// WantedDIDs filters events by repository.
	WantedDIDs []string

	// MaxMessageSizeBytes asks the server to drop larger messages. Zero means
	// no limit.
	MaxMessageSizeBytes int

	// Compress requests zstd-compressed binary frames.
	Compress bool

	// ZstdDictPath is the dictionary Jetstream compresses with. Required for
	// Compress to be useful against the public instances.
	ZstdDictPath string

	// RequireHello makes the server wait for an options_update message before
	// streaming; the options are then sent in that message as well.
	RequireHello bool
}

// Protocol connects a stream.Manager to a Jetstream instance.
type Protocol struct {
	host    string
	opts    Options
	retry   stream.RetryPolicy
	decoder *zstd.Decoder
}

// NewProtocol returns a Protocol for host, which may be a bare hostname
// ("jetstream2.us-east.bsky.network") or a full ws(s) URL.
func NewProtocol(host string, opts Options, retry stream.RetryPolicy) (*Protocol, error) {
	p := &Protocol{host: host, opts: opts, retry: retry}

	if opts.Compress {
		var decOpts []zstd.DOption
		if opts.ZstdDictPath != "" {
			dict, err := os.ReadFile(opts.ZstdDictPath)
			if err != nil {
				return nil, fmt.Errorf("read zstd dictionary: %w", err)
			}
			decOpts = append(decOpts, zstd.WithDecoderDicts(dict))
		}
		dec, err := zstd.NewReader(nil, decOpts...)
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		p.decoder = dec
	}

	return p, nil
}

func (p *Protocol) Name() string { return "jetstream:" + p.host }

func (p *Protocol) URL(cursor int64) (string, error) {
	q := url.Values{}
	for _, c := range p.opts.WantedCollections {
		q.Add("wantedCollections", c)
	}
	for _, d := range p.opts.WantedDIDs {
		q.Add("wantedDids", d)
	}
	if p.opts.MaxMessageSizeBytes > 0 {
		q.Set("maxMessageSizeBytes", strconv.Itoa(p.opts.MaxMessageSizeBytes))
	}
	if cursor > 0 {
		q.Set("cursor", strconv.FormatInt(cursor, 10))
	}
	if p.opts.Compress {
		q.Set("compress", "true")
	}
	if p.opts.RequireHello {
		q.Set("requireHello", "true")
	}
	return stream.BuildURL(p.host, subscribePath, q)
}

type optionsUpdate struct {
	Type    string         `json:"type"`
	Payload optionsPayload `json:"payload"`
}

type optionsPayload struct {
	WantedCollections   []string `json:"wantedCollections"`
	WantedDIDs          []string `json:"wantedDids"`
	MaxMessageSizeBytes int      `json:"maxMessageSizeBytes"`
}

// Hello returns the options_update message when RequireHello is set.
func (p *Protocol) Hello() ([]byte, error) {
	if !p.opts.RequireHello {
		return nil, nil
	}
	return json.Marshal(optionsUpdate{
		Type: "options_update",
		Payload: optionsPayload{
			WantedCollections:   nonNil(p.opts.WantedCollections),
			WantedDIDs:          nonNil(p.opts.WantedDIDs),
			MaxMessageSizeBytes: p.opts.MaxMessageSizeBytes,
		},
	})
}

func (p *Protocol) Retry() stream.RetryPolicy { return p.retry }

// Decode parses a text frame, or a zstd binary frame when compression is on.
func (p *Protocol) Decode(messageType int, data []byte) (event.Event, error) {
	if messageType == websocket.BinaryMessage {
		if p.decoder == nil {
			return nil, fmt.Errorf("jetstream: binary frame without compression enabled")
		}
		plain, err := p.decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("jetstream: decompress frame: %w", err)
		}
		data = plain
	}
	ev, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ stream.Protocol = (*Protocol)(nil)
