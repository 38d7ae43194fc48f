package firehose

import (
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blackmichael/skystream/internal/event"
	"github.com/blackmichael/skystream/internal/stream"
)

const subscribePath = "/xrpc/com.atproto.sync.subscribeRepos"

// DefaultRetry waits longer after a failed dial than after a dropped
// connection, so an unreachable relay is not hammered.
var DefaultRetry = stream.RetryPolicy{
	ConnectDelay: 10 * time.Second,
	ReadDelay:    time.Second,
}

// Protocol connects a stream.Manager to a relay's subscribeRepos endpoint.
type Protocol struct {
	host   string
	retry  stream.RetryPolicy
	logger *slog.Logger
}

// NewProtocol returns a Protocol for host, which may be a bare hostname
// ("bsky.network") or a full ws(s) URL.
func NewProtocol(host string, retry stream.RetryPolicy, logger *slog.Logger) *Protocol {
	if logger == nil {
		logger = slog.Default()
	}
	return &Protocol{host: host, retry: retry, logger: logger}
}

func (p *Protocol) Name() string { return "firehose:" + p.host }

func (p *Protocol) URL(cursor int64) (string, error) {
	q := url.Values{}
	if cursor > 0 {
		q.Set("cursor", strconv.FormatInt(cursor, 10))
	}
	return stream.BuildURL(p.host, subscribePath, q)
}

func (p *Protocol) Hello() ([]byte, error) { return nil, nil }

func (p *Protocol) Retry() stream.RetryPolicy { return p.retry }

func (p *Protocol) Decode(messageType int, data []byte) (event.Event, error) {
	if messageType != websocket.BinaryMessage {
		return nil, fmt.Errorf("firehose: unexpected websocket message type %d", messageType)
	}
	res, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if len(res.Ambiguous) > 0 {
		p.logger.Debug("frame matched several shapes",
			"accepted", res.Event.Kind().String(),
			"also_matched", res.Ambiguous,
		)
	}
	return res.Event, nil
}

var _ stream.Protocol = (*Protocol)(nil)
