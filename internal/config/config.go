// Package config validates and hardens the settings a telemetry client is
// constructed with: the endpoint validator.
//
// Grounded on this repo's original fail-fast must* env-loading helpers, but
// reworked for a library: a misconfigured *service* may fail fast with
// log.Fatal, a misconfigured *client library* must never take its host
// process down, so every validation failure here returns an error instead.
package config

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/idna"

	"github.com/estat-sh/telemetry-go/internal/privaterange"
)

const (
	DefaultFlushInterval   = 10 * time.Second
	DefaultBatchSize       = 100
	DefaultMaxBufferSize   = 10_000
	DefaultMaxEventBytes   = 65_536
	DefaultMaxStorageBytes = 5 * 1024 * 1024
)

// Config holds the validated, ready-to-use settings for a client instance.
// Every field is immutable once Validate returns successfully.
type Config struct {
	APIKey string

	// Endpoint is the parsed, credential-stripped ingestion URL.
	Endpoint *url.URL

	// IsLocalhostException is true when Endpoint's bare host is exactly
	// "localhost" or "127.0.0.1", whatever the scheme — the one host pair
	// for which the validator permits an insecure scheme and the resolving
	// dialer skips its SSRF check entirely (the host was already explicitly
	// trusted).
	IsLocalhostException bool

	FlushInterval   time.Duration
	BatchSize       int
	MaxBufferSize   int
	MaxEventBytes   int
	MaxStorageBytes int64
	StoragePath     string

	Debug bool

	TLSConfig *tls.Config

	OnError func(error)
}

// Raw is the unvalidated input shape, filled in by functional options before
// Validate is called once at construction.
type Raw struct {
	APIKey          string
	Endpoint        string
	FlushInterval   time.Duration
	BatchSize       int
	MaxBufferSize   int
	MaxEventBytes   int
	MaxStorageBytes int64
	StoragePath     string
	Debug           bool
	TLSConfig       *tls.Config
	OnError         func(error)
}

// Validate runs the endpoint validator and fills in defaults for any
// zero-valued tunable. It returns a hard failure for anything fatal to
// admission; it never panics and never logs.
func Validate(raw Raw) (Config, []string, error) {
	var warnings []string

	// Rules run in the order the validator specifies: URL shape first (1),
	// scheme/localhost exception (2), private-address range (3), embedded
	// userinfo stripped with a warning (4), and only then the API key (5) —
	// so an endpoint error is always what a caller sees first, and the key
	// is never even inspected for an otherwise-invalid endpoint.
	u, err := url.Parse(raw.Endpoint)
	if err != nil {
		return Config{}, nil, fmt.Errorf("telemetry: invalid endpoint: %w", err)
	}
	if u.Host == "" {
		return Config{}, nil, fmt.Errorf("telemetry: endpoint must include a host")
	}

	bareHost := u.Hostname()
	asciiHost, err := idna.Lookup.ToASCII(bareHost)
	if err != nil {
		// Not a valid IDN hostname — fall back to the raw form; it may
		// still be a literal IP address, which idna rejects.
		asciiHost = bareHost
	}

	isLocalhost := asciiHost == "localhost" || asciiHost == "127.0.0.1"

	if !strings.EqualFold(u.Scheme, "https") {
		if !isLocalhost {
			return Config{}, nil, fmt.Errorf("telemetry: endpoint must use https (got %q for host %q)", u.Scheme, bareHost)
		}
	}

	if !isLocalhost && privaterange.IsPrivate(asciiHost) {
		return Config{}, nil, fmt.Errorf("telemetry: endpoint host %q resolves to a private address range", bareHost)
	}

	if u.User != nil {
		u.User = nil
		warnings = append(warnings, "telemetry: stripped embedded credentials from endpoint URL")
	}

	if strings.TrimSpace(raw.APIKey) == "" {
		return Config{}, nil, fmt.Errorf("telemetry: apiKey is required")
	}
	if strings.ContainsAny(raw.APIKey, "\r\n\x00") {
		return Config{}, nil, fmt.Errorf("telemetry: apiKey must not contain CR, LF, or NUL")
	}

	cfg := Config{
		APIKey:               raw.APIKey,
		Endpoint:             u,
		IsLocalhostException: isLocalhost,
		FlushInterval:        orDefaultDuration(raw.FlushInterval, DefaultFlushInterval),
		BatchSize:            orDefaultInt(raw.BatchSize, DefaultBatchSize),
		MaxBufferSize:        orDefaultInt(raw.MaxBufferSize, DefaultMaxBufferSize),
		MaxEventBytes:        orDefaultInt(raw.MaxEventBytes, DefaultMaxEventBytes),
		MaxStorageBytes:      orDefaultInt64(raw.MaxStorageBytes, DefaultMaxStorageBytes),
		StoragePath:          raw.StoragePath,
		Debug:                raw.Debug,
		TLSConfig:            raw.TLSConfig,
		OnError:              raw.OnError,
	}
	return cfg, warnings, nil
}

func orDefaultDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orDefaultInt64(v, def int64) int64 {
	if v <= 0 {
		return def
	}
	return v
}
