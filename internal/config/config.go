package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Stream protocols.
const (
	ProtocolFirehose  = "firehose"
	ProtocolJetstream = "jetstream"
)

// Config holds all configuration for the application.
type Config struct {
	// Port is the HTTP server port.
	Port int

	// LogLevel is the minimum level written to the log.
	LogLevel slog.Level

	// Protocol is the stream to subscribe to: "firehose" or "jetstream".
	Protocol string

	// Hosts are the relays or Jetstream instances to connect to, one
	// connection per host. Each may be a bare hostname or a ws(s) URL.
	Hosts []string

	// Cursor overrides the stored resume cursor for the first connection.
	Cursor int64

	// WantedCollections and WantedDIDs are Jetstream server-side filters.
	WantedCollections []string
	WantedDIDs        []string

	// MaxMessageSizeBytes asks Jetstream to drop larger messages.
	MaxMessageSizeBytes int

	// JetstreamCompress requests zstd frames, decompressed with ZstdDictPath.
	JetstreamCompress bool
	ZstdDictPath      string

	// RequireHello delays the Jetstream stream until the options are sent.
	RequireHello bool

	// FilterLang is the language the language filter keeps.
	FilterLang string

	// TokenizerDictPath and TokenizerUserDictPath point at kagome dictionaries.
	// An empty TokenizerDictPath uses the embedded IPA dictionary.
	TokenizerDictPath     string
	TokenizerUserDictPath string

	// TokenizerReloadInterval is how often the dictionaries are reloaded.
	TokenizerReloadInterval time.Duration

	// ReceiverBuffer is the channel capacity of every pipeline receiver.
	ReceiverBuffer int

	// CursorDBDriver is "postgres" or "sqlite". Empty disables cursor persistence.
	CursorDBDriver string

	// DatabaseURL is the cursor store's connection string.
	DatabaseURL string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                    3000,
		Protocol:                envString("STREAM_PROTOCOL", ProtocolJetstream),
		WantedCollections:       envList("WANTED_COLLECTIONS"),
		WantedDIDs:              envList("WANTED_DIDS"),
		ZstdDictPath:            os.Getenv("JETSTREAM_ZSTD_DICT"),
		FilterLang:              envString("FILTER_LANG", "ja"),
		TokenizerDictPath:       os.Getenv("TOKENIZER_DICT_PATH"),
		TokenizerUserDictPath:   os.Getenv("TOKENIZER_USER_DICT_PATH"),
		TokenizerReloadInterval: 10 * time.Minute,
		ReceiverBuffer:          1024,
		CursorDBDriver:          os.Getenv("CURSOR_DB_DRIVER"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
	}

	var err error
	if cfg.Port, err = envInt("PORT", cfg.Port); err != nil {
		return nil, err
	}
	if cfg.ReceiverBuffer, err = envInt("RECEIVER_BUFFER", cfg.ReceiverBuffer); err != nil {
		return nil, err
	}
	if cfg.MaxMessageSizeBytes, err = envInt("JETSTREAM_MAX_MESSAGE_SIZE", 0); err != nil {
		return nil, err
	}
	if cfg.JetstreamCompress, err = envBool("JETSTREAM_COMPRESS"); err != nil {
		return nil, err
	}
	if cfg.RequireHello, err = envBool("JETSTREAM_REQUIRE_HELLO"); err != nil {
		return nil, err
	}
	if v := os.Getenv("STREAM_CURSOR"); v != "" {
		if cfg.Cursor, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid STREAM_CURSOR: %w", err)
		}
	}
	if v := os.Getenv("TOKENIZER_RELOAD_INTERVAL"); v != "" {
		if cfg.TokenizerReloadInterval, err = time.ParseDuration(v); err != nil {
			return nil, fmt.Errorf("invalid TOKENIZER_RELOAD_INTERVAL: %w", err)
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
	}

	cfg.Hosts = envList("STREAM_HOSTS")
	if len(cfg.Hosts) == 0 {
		cfg.Hosts = DefaultHosts(cfg.Protocol)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultHosts returns the public endpoint for protocol.
func DefaultHosts(protocol string) []string {
	if protocol == ProtocolFirehose {
		return []string{"bsky.network"}
	}
	return []string{"jetstream1.us-east.bsky.network"}
}

// Validate checks combinations that Load cannot default.
func (c *Config) Validate() error {
	switch c.Protocol {
	case ProtocolFirehose, ProtocolJetstream:
	default:
		return fmt.Errorf("STREAM_PROTOCOL must be %q or %q, got %q", ProtocolFirehose, ProtocolJetstream, c.Protocol)
	}
	if len(c.Hosts) == 0 {
		return fmt.Errorf("at least one stream host is required")
	}
	if c.Cursor < 0 {
		return fmt.Errorf("STREAM_CURSOR must not be negative")
	}
	// Firehose sequence numbers belong to one relay. Jetstream cursors are
	// timestamps and carry over between instances.
	if c.Protocol == ProtocolFirehose && c.Cursor > 0 && len(c.Hosts) > 1 {
		return fmt.Errorf("STREAM_CURSOR needs a single firehose host, got %d", len(c.Hosts))
	}
	if c.TokenizerReloadInterval <= 0 {
		return fmt.Errorf("TOKENIZER_RELOAD_INTERVAL must be positive")
	}
	if c.ReceiverBuffer <= 0 {
		return fmt.Errorf("RECEIVER_BUFFER must be positive")
	}
	if c.CursorDBDriver != "" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when CURSOR_DB_DRIVER is set")
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envBool(key string) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
