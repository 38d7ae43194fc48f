package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"PORT", "LOG_LEVEL", "STREAM_PROTOCOL", "STREAM_HOSTS", "STREAM_CURSOR",
	"WANTED_COLLECTIONS", "WANTED_DIDS", "JETSTREAM_COMPRESS", "JETSTREAM_ZSTD_DICT",
	"JETSTREAM_REQUIRE_HELLO", "JETSTREAM_MAX_MESSAGE_SIZE", "FILTER_LANG",
	"TOKENIZER_DICT_PATH", "TOKENIZER_USER_DICT_PATH", "TOKENIZER_RELOAD_INTERVAL",
	"RECEIVER_BUFFER", "CURSOR_DB_DRIVER", "DATABASE_URL",
}

func clearEnv(t *testing.T) {
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, ProtocolJetstream, cfg.Protocol)
	assert.Equal(t, []string{"jetstream1.us-east.bsky.network"}, cfg.Hosts)
	assert.Equal(t, "ja", cfg.FilterLang)
	assert.Equal(t, 10*time.Minute, cfg.TokenizerReloadInterval)
	assert.Equal(t, 1024, cfg.ReceiverBuffer)
	assert.Empty(t, cfg.CursorDBDriver)
	assert.Nil(t, cfg.WantedCollections)
}

func TestLoad_Firehose(t *testing.T) {
	clearEnv(t)
	t.Setenv("STREAM_PROTOCOL", "firehose")
	t.Setenv("STREAM_CURSOR", "123456")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"bsky.network"}, cfg.Hosts)
	assert.Equal(t, int64(123456), cfg.Cursor)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoad_Jetstream(t *testing.T) {
	clearEnv(t)
	t.Setenv("STREAM_HOSTS", "jetstream1.us-east.bsky.network, jetstream2.us-west.bsky.network,")
	t.Setenv("WANTED_COLLECTIONS", "app.bsky.feed.post,app.bsky.graph.*")
	t.Setenv("WANTED_DIDS", "did:plc:alice")
	t.Setenv("JETSTREAM_COMPRESS", "true")
	t.Setenv("JETSTREAM_ZSTD_DICT", "/etc/jetstream/zstd_dictionary")
	t.Setenv("JETSTREAM_REQUIRE_HELLO", "1")
	t.Setenv("JETSTREAM_MAX_MESSAGE_SIZE", "65536")
	t.Setenv("FILTER_LANG", "en")
	t.Setenv("TOKENIZER_RELOAD_INTERVAL", "30s")
	t.Setenv("RECEIVER_BUFFER", "64")
	t.Setenv("CURSOR_DB_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", "/var/lib/skystream/cursors.db")
	t.Setenv("PORT", "8080")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"jetstream1.us-east.bsky.network", "jetstream2.us-west.bsky.network"}, cfg.Hosts)
	assert.Equal(t, []string{"app.bsky.feed.post", "app.bsky.graph.*"}, cfg.WantedCollections)
	assert.Equal(t, []string{"did:plc:alice"}, cfg.WantedDIDs)
	assert.True(t, cfg.JetstreamCompress)
	assert.Equal(t, "/etc/jetstream/zstd_dictionary", cfg.ZstdDictPath)
	assert.True(t, cfg.RequireHello)
	assert.Equal(t, 65536, cfg.MaxMessageSizeBytes)
	assert.Equal(t, "en", cfg.FilterLang)
	assert.Equal(t, 30*time.Second, cfg.TokenizerReloadInterval)
	assert.Equal(t, 64, cfg.ReceiverBuffer)
	assert.Equal(t, "sqlite", cfg.CursorDBDriver)
	assert.Equal(t, 8080, cfg.Port)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"port", "PORT", "eighty"},
		{"protocol", "STREAM_PROTOCOL", "carrier-pigeon"},
		{"cursor", "STREAM_CURSOR", "yesterday"},
		{"negative cursor", "STREAM_CURSOR", "-5"},
		{"compress", "JETSTREAM_COMPRESS", "sometimes"},
		{"reload interval", "TOKENIZER_RELOAD_INTERVAL", "often"},
		{"zero reload interval", "TOKENIZER_RELOAD_INTERVAL", "0s"},
		{"buffer", "RECEIVER_BUFFER", "0"},
		{"log level", "LOG_LEVEL", "loud"},
		{"driver without url", "CURSOR_DB_DRIVER", "postgres"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidate_CursorAcrossHosts(t *testing.T) {
	tests := []struct {
		name     string
		protocol string
		hosts    string
		wantErr  bool
	}{
		{"firehose single host", "firehose", "bsky.network", false},
		{"firehose several hosts", "firehose", "bsky.network,relay1.us-west.bsky.network", true},
		{"jetstream several hosts", "jetstream", "jetstream1.us-east.bsky.network,jetstream2.us-west.bsky.network", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("STREAM_PROTOCOL", tt.protocol)
			t.Setenv("STREAM_HOSTS", tt.hosts)
			t.Setenv("STREAM_CURSOR", "42")

			_, err := Load()
			if tt.wantErr {
				assert.ErrorContains(t, err, "single firehose host")
			} else {
				assert.NoError(t, err)
			}
		})
	}

	clearEnv(t)
	t.Setenv("STREAM_PROTOCOL", "firehose")
	t.Setenv("STREAM_HOSTS", "bsky.network,relay1.us-west.bsky.network")
	_, err := Load()
	assert.NoError(t, err, "several hosts without a cursor start live")
}
