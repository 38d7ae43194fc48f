package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/skystream/internal/config"
	"github.com/blackmichael/skystream/internal/cursorstore"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

const jaPost = `{"did":"did:plc:alice","time_us":1725911162329308,"kind":"commit","commit":{"rev":"3l3qo2vutsw2b","operation":"create","collection":"app.bsky.feed.post","rkey":"3l3qo2vuowo2b","record":{"$type":"app.bsky.feed.post","createdAt":"2024-09-09T19:46:02.102Z","langs":["ja"],"text":"すもももももももものうち"},"cid":"bafyreidwaivazkwu67xztlmuobx35hs2lnfh3kolmgfmucldvhd3sgzcqi"}}`

func jetstreamServer(t *testing.T, frames ...string) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testConfig() *config.Config {
	return &config.Config{
		Protocol:                config.ProtocolJetstream,
		FilterLang:              "ja",
		TokenizerReloadInterval: time.Hour,
		ReceiverBuffer:          16,
	}
}

func TestProtocols(t *testing.T) {
	cfg := testConfig()
	cfg.Hosts = []string{"jetstream1.us-east.bsky.network", "jetstream2.us-west.bsky.network"}

	protos, err := Protocols(cfg, testLogger)
	require.NoError(t, err)
	require.Len(t, protos, 2)
	assert.Equal(t, "jetstream:jetstream1.us-east.bsky.network", protos[0].Name())
	assert.Equal(t, "jetstream:jetstream2.us-west.bsky.network", protos[1].Name())

	cfg.Protocol = config.ProtocolFirehose
	cfg.Hosts = []string{"bsky.network"}
	protos, err = Protocols(cfg, testLogger)
	require.NoError(t, err)
	require.Len(t, protos, 1)
	assert.Equal(t, "firehose:bsky.network", protos[0].Name())

	cfg.Protocol = "smtp"
	_, err = Protocols(cfg, testLogger)
	assert.Error(t, err)

	cfg.Protocol = config.ProtocolJetstream
	cfg.JetstreamCompress = true
	cfg.ZstdDictPath = filepath.Join(t.TempDir(), "missing")
	_, err = Protocols(cfg, testLogger)
	assert.Error(t, err)
}

func TestApp_EndToEnd(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cursors.db")

	cfg := testConfig()
	cfg.Hosts = []string{jetstreamServer(t, jaPost)}
	cfg.CursorDBDriver = cursorstore.DriverSQLite
	cfg.DatabaseURL = dbPath

	a, err := New(cfg, testLogger, prometheus.NewRegistry())
	require.NoError(t, err)
	tokens := a.Pipeline.Tokens.AddReceiver()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	select {
	case tp := <-tokens.C:
		assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3l3qo2vuowo2b", tp.Post.URI)
		require.NotEmpty(t, tp.Tokens)
		assert.Equal(t, "すもも", tp.Tokens[0][0])
	case <-time.After(10 * time.Second):
		t.Fatal("no tokenized post")
	}

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	require.NoError(t, a.Close())

	store, err := cursorstore.Open(cursorstore.DriverSQLite, dbPath)
	require.NoError(t, err)
	defer store.Close()
	cursor, err := store.GetCursor(context.Background(), "jetstream:"+cfg.Hosts[0])
	require.NoError(t, err)
	assert.Equal(t, int64(1725911162329308), cursor)
}
