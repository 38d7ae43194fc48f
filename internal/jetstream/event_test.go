package jetstream

import (
	"net/url"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/skystream/internal/event"
	"github.com/blackmichael/skystream/internal/record"
)

const postFrame = `{
	"did": "did:plc:eygmaihciaxprqvxpfvl6flk",
	"time_us": 1725911162329308,
	"kind": "commit",
	"commit": {
		"rev": "3l3qo2vutsw2b",
		"operation": "create",
		"collection": "app.bsky.feed.post",
		"rkey": "3l3qo2vuowo2b",
		"record": {
			"$type": "app.bsky.feed.post",
			"createdAt": "2024-09-09T19:46:02.102Z",
			"langs": ["ja"],
			"text": "今日はいい天気ですね"
		},
		"cid": "bafyreidwaivazkwu67xztlmuobx35hs2lnfh3kolmgfmucldvhd3sgzcqi"
	}
}`

func TestDecode_CommitPost(t *testing.T) {
	ev, err := Decode([]byte(postFrame))
	require.NoError(t, err)

	assert.Equal(t, event.KindCommit, ev.Kind())
	assert.Equal(t, "did:plc:eygmaihciaxprqvxpfvl6flk", ev.Repo())
	cursor, ok := ev.Cursor()
	assert.True(t, ok)
	assert.Equal(t, int64(1725911162329308), cursor)

	ops := ev.Ops()
	require.Len(t, ops, 1)
	assert.Equal(t, event.ActionCreate, ops[0].Action)
	assert.Equal(t, "at://did:plc:eygmaihciaxprqvxpfvl6flk/app.bsky.feed.post/3l3qo2vuowo2b", ops[0].URI())

	post, ok := ops[0].Record.(*record.Post)
	require.True(t, ok)
	assert.Equal(t, "今日はいい天気ですね", post.Text)
	assert.Equal(t, []string{"ja"}, post.Langs)
}

func TestDecode_Delete(t *testing.T) {
	ev, err := Decode([]byte(`{"did":"did:plc:a","time_us":5,"kind":"commit","commit":{"rev":"r","operation":"delete","collection":"app.bsky.feed.like","rkey":"k"}}`))
	require.NoError(t, err)
	require.Len(t, ev.Ops(), 1)
	assert.Nil(t, ev.Ops()[0].Record)
}

func TestDecode_UnknownCollectionRecord(t *testing.T) {
	ev, err := Decode([]byte(`{"did":"did:plc:a","time_us":5,"kind":"commit","commit":{"rev":"r","operation":"create","collection":"fyi.unravel.frontpage.post","rkey":"k","record":{"$type":"fyi.unravel.frontpage.post","title":"hi"}}}`))
	require.NoError(t, err)

	unknown, ok := ev.Commit.Record.(*record.Unknown)
	require.True(t, ok)
	assert.Equal(t, "fyi.unravel.frontpage.post", unknown.Type)
	assert.Equal(t, "hi", unknown.Data["title"])
}

func TestDecode_IdentityAndAccount(t *testing.T) {
	ev, err := Decode([]byte(`{"did":"did:plc:a","time_us":7,"kind":"identity","identity":{"did":"did:plc:a","handle":"a.bsky.social","seq":100,"time":"2024-09-09T19:46:02.102Z"}}`))
	require.NoError(t, err)
	assert.Equal(t, event.KindIdentity, ev.Kind())
	require.NotNil(t, ev.Identity)
	assert.Equal(t, "a.bsky.social", *ev.Identity.Handle)
	assert.Nil(t, ev.Ops())

	ev, err = Decode([]byte(`{"did":"did:plc:a","time_us":8,"kind":"account","account":{"active":false,"did":"did:plc:a","seq":101,"status":"deactivated","time":"2024-09-09T19:46:02.102Z"}}`))
	require.NoError(t, err)
	assert.Equal(t, event.KindAccount, ev.Kind())
	require.NotNil(t, ev.Account)
	assert.False(t, ev.Account.Active)
	assert.Equal(t, "deactivated", *ev.Account.Status)
}

func TestDecode_Failures(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{name: "commit kind without commit", data: `{"did":"d","time_us":1,"kind":"commit"}`, wantErr: ErrKindMismatch},
		{name: "commit kind with null commit", data: `{"did":"d","time_us":1,"kind":"commit","commit":null}`, wantErr: ErrKindMismatch},
		{name: "identity kind with account payload", data: `{"did":"d","time_us":1,"kind":"identity","account":{"active":true,"did":"d","seq":1,"time":"t"}}`, wantErr: ErrKindMismatch},
		{name: "account kind with two payloads", data: `{"did":"d","time_us":1,"kind":"account","account":{"active":true,"did":"d","seq":1,"time":"t"},"identity":{"did":"d","seq":1,"time":"t"}}`, wantErr: ErrKindMismatch},
		{name: "unknown kind", data: `{"did":"d","time_us":1,"kind":"label"}`, wantErr: ErrUnknownKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := Decode([]byte(`{not json`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"did":"d","time_us":1,"kind":"commit","commit":{"operation":"upsert","collection":"c","rkey":"k"}}`))
	assert.Error(t, err)
}

func TestProtocol_URL(t *testing.T) {
	p, err := NewProtocol("jetstream2.us-east.bsky.network", Options{
		WantedCollections:   []string{"app.bsky.feed.post", "app.bsky.graph.*"},
		WantedDIDs:          []string{"did:plc:a"},
		MaxMessageSizeBytes: 1 << 20,
		RequireHello:        true,
	}, DefaultRetry)
	require.NoError(t, err)

	raw, err := p.URL(1725911162329308)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "wss", u.Scheme)
	assert.Equal(t, "jetstream2.us-east.bsky.network", u.Host)
	assert.Equal(t, "/subscribe", u.Path)

	q := u.Query()
	assert.Equal(t, []string{"app.bsky.feed.post", "app.bsky.graph.*"}, q["wantedCollections"])
	assert.Equal(t, []string{"did:plc:a"}, q["wantedDids"])
	assert.Equal(t, "1048576", q.Get("maxMessageSizeBytes"))
	assert.Equal(t, "1725911162329308", q.Get("cursor"))
	assert.Equal(t, "true", q.Get("requireHello"))
	assert.Empty(t, q.Get("compress"))

	live, err := p.URL(0)
	require.NoError(t, err)
	assert.NotContains(t, live, "cursor=")
}

func TestProtocol_Hello(t *testing.T) {
	p, err := NewProtocol("localhost:6008", Options{}, DefaultRetry)
	require.NoError(t, err)
	hello, err := p.Hello()
	require.NoError(t, err)
	assert.Nil(t, hello)

	p, err = NewProtocol("localhost:6008", Options{
		WantedCollections: []string{"app.bsky.feed.post"},
		RequireHello:      true,
	}, DefaultRetry)
	require.NoError(t, err)
	hello, err = p.Hello()
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(hello, &msg))
	assert.Equal(t, "options_update", msg["type"])
	payload := msg["payload"].(map[string]any)
	assert.Equal(t, []any{"app.bsky.feed.post"}, payload["wantedCollections"])
	assert.Equal(t, []any{}, payload["wantedDids"])
}

func TestProtocol_DecodeCompressed(t *testing.T) {
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed := enc.EncodeAll([]byte(postFrame), nil)

	p, err := NewProtocol("localhost:6008", Options{Compress: true}, DefaultRetry)
	require.NoError(t, err)

	ev, err := p.Decode(websocket.BinaryMessage, compressed)
	require.NoError(t, err)
	assert.Equal(t, event.KindCommit, ev.Kind())

	plain, err := NewProtocol("localhost:6008", Options{}, DefaultRetry)
	require.NoError(t, err)
	_, err = plain.Decode(websocket.BinaryMessage, compressed)
	assert.Error(t, err)

	ev, err = plain.Decode(websocket.TextMessage, []byte(postFrame))
	require.NoError(t, err)
	assert.Equal(t, event.KindCommit, ev.Kind())
}
