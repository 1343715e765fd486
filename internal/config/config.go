package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/wsctl/internal/control"
	"github.com/danmuck/wsctl/internal/nukleus"
	"github.com/danmuck/wsctl/internal/protocol/session"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces environment overrides, e.g. WSCTL_TRANSPORT.
const EnvPrefix = "WSCTL"

const (
	TransportStream    = "stream"
	TransportNATS      = "nats"
	TransportWebSocket = "websocket"
)

// DefaultNATSURL is dialled by the nats transport when nats_url is unset.
// nukleusd serves NATS only when nats_url is set explicitly.
const DefaultNATSURL = "nats://127.0.0.1:4222"

var ErrInvalidConfig = errors.New("config: invalid")

// Config is the resolved runtime configuration shared by wsctl and nukleusd.
type Config struct {
	Nukleus         string
	Transport       string
	ScratchCapacity int
	ReplyTimeout    time.Duration

	StreamAddr   string
	WebSocketURL string
	NATSURL      string
	NATSSubject  string

	ListenStream string
	ListenHTTP   string
	// CORSOrigins lists browser origins allowed on the nukleusd admin router.
	CORSOrigins  []string

	Session session.Config
}

func Default() Config {
	return Config{
		Nukleus:         "ws",
		Transport:       TransportStream,
		ScratchCapacity: control.DefaultScratchCapacity,
		ReplyTimeout:    10 * time.Second,
		StreamAddr:      "127.0.0.1:7400",
		WebSocketURL:    "ws://127.0.0.1:7401/control",
		ListenStream:    ":7400",
		ListenHTTP:      ":7401",
		Session:         session.DefaultConfig(),
	}
}

// NATSAddr returns nats_url, falling back to DefaultNATSURL.
func (c Config) NATSAddr() string {
	if u := strings.TrimSpace(c.NATSURL); u != "" {
		return u
	}
	return DefaultNATSURL
}

// Subject returns the NATS subject, derived from the nukleus name when unset.
func (c Config) Subject() string {
	if s := strings.TrimSpace(c.NATSSubject); s != "" {
		return s
	}
	return nukleus.DefaultSubject(c.Nukleus)
}

// fileConfig maps config.toml keys onto Config.
type fileConfig struct {
	Nukleus            string   `toml:"nukleus"`
	Transport          string   `toml:"transport"`
	ScratchCapacity    int      `toml:"scratch_capacity"`
	ReplyTimeout       string   `toml:"reply_timeout"`
	StreamAddr         string   `toml:"stream_addr"`
	WebSocketURL       string   `toml:"websocket_url"`
	NATSURL            string   `toml:"nats_url"`
	NATSSubject        string   `toml:"nats_subject"`
	ListenStream       string   `toml:"listen_stream"`
	ListenHTTP         string   `toml:"listen_http"`
	CORSOrigins        []string `toml:"cors_origins"`
	ConnectTimeout     string   `toml:"session_connect_timeout"`
	WriteTimeout       string   `toml:"session_write_timeout"`
	MaxConnectAttempts int      `toml:"session_max_connect_attempts"`
	TLSEnabled         bool     `toml:"session_tls_enabled"`
	TLSMutual          bool     `toml:"session_tls_mutual"`
	TLSCertFile        string   `toml:"session_tls_cert_file"`
	TLSKeyFile         string   `toml:"session_tls_key_file"`
	TLSCAFile          string   `toml:"session_tls_ca_file"`
	TLSServerName      string   `toml:"session_tls_server_name"`
	TLSInsecure        bool     `toml:"session_tls_insecure_skip_verify"`
}

// envConfig holds overrides; nil fields were not set in the environment.
type envConfig struct {
	Nukleus         *string        `envconfig:"NUKLEUS"`
	Transport       *string        `envconfig:"TRANSPORT"`
	ScratchCapacity *int           `envconfig:"SCRATCH_CAPACITY"`
	ReplyTimeout    *time.Duration `envconfig:"REPLY_TIMEOUT"`
	StreamAddr      *string        `envconfig:"STREAM_ADDR"`
	WebSocketURL    *string        `envconfig:"WEBSOCKET_URL"`
	NATSURL         *string        `envconfig:"NATS_URL"`
	NATSSubject     *string        `envconfig:"NATS_SUBJECT"`
	ListenStream    *string        `envconfig:"LISTEN_STREAM"`
	ListenHTTP      *string        `envconfig:"LISTEN_HTTP"`
	CORSOrigins     []string       `envconfig:"CORS_ORIGINS"`
	TLSEnabled      *bool          `envconfig:"TLS_ENABLED"`
	TLSCAFile       *string        `envconfig:"TLS_CA_FILE"`
}

// Load resolves defaults, then the TOML file at path (skipped when empty),
// then WSCTL_* environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("%w: unknown key %q in %s", ErrInvalidConfig, undecoded[0].String(), path)
	}

	str := func(key, v string, dst *string) {
		if meta.IsDefined(key) {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key, v string, dst *time.Duration) error {
		if !meta.IsDefined(key) {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
		}
		*dst = d
		return nil
	}

	str("nukleus", raw.Nukleus, &cfg.Nukleus)
	str("transport", raw.Transport, &cfg.Transport)
	if meta.IsDefined("scratch_capacity") {
		cfg.ScratchCapacity = raw.ScratchCapacity
	}
	if err := dur("reply_timeout", raw.ReplyTimeout, &cfg.ReplyTimeout); err != nil {
		return err
	}
	str("stream_addr", raw.StreamAddr, &cfg.StreamAddr)
	str("websocket_url", raw.WebSocketURL, &cfg.WebSocketURL)
	str("nats_url", raw.NATSURL, &cfg.NATSURL)
	str("nats_subject", raw.NATSSubject, &cfg.NATSSubject)
	str("listen_stream", raw.ListenStream, &cfg.ListenStream)
	str("listen_http", raw.ListenHTTP, &cfg.ListenHTTP)
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = trimAll(raw.CORSOrigins)
	}

	if err := dur("session_connect_timeout", raw.ConnectTimeout, &cfg.Session.ConnectTimeout); err != nil {
		return err
	}
	if err := dur("session_write_timeout", raw.WriteTimeout, &cfg.Session.WriteTimeout); err != nil {
		return err
	}
	if meta.IsDefined("session_max_connect_attempts") {
		cfg.Session.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("session_tls_enabled") {
		cfg.Session.TLS.Enabled = raw.TLSEnabled
	}
	if meta.IsDefined("session_tls_mutual") {
		cfg.Session.TLS.Mutual = raw.TLSMutual
	}
	str("session_tls_cert_file", raw.TLSCertFile, &cfg.Session.TLS.CertFile)
	str("session_tls_key_file", raw.TLSKeyFile, &cfg.Session.TLS.KeyFile)
	str("session_tls_ca_file", raw.TLSCAFile, &cfg.Session.TLS.CAFile)
	str("session_tls_server_name", raw.TLSServerName, &cfg.Session.TLS.ServerName)
	if meta.IsDefined("session_tls_insecure_skip_verify") {
		cfg.Session.TLS.InsecureSkipVerify = raw.TLSInsecure
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var env envConfig
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("%w: environment: %v", ErrInvalidConfig, err)
	}
	setStr := func(v *string, dst *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	setStr(env.Nukleus, &cfg.Nukleus)
	setStr(env.Transport, &cfg.Transport)
	if env.ScratchCapacity != nil {
		cfg.ScratchCapacity = *env.ScratchCapacity
	}
	if env.ReplyTimeout != nil {
		cfg.ReplyTimeout = *env.ReplyTimeout
	}
	setStr(env.StreamAddr, &cfg.StreamAddr)
	setStr(env.WebSocketURL, &cfg.WebSocketURL)
	setStr(env.NATSURL, &cfg.NATSURL)
	setStr(env.NATSSubject, &cfg.NATSSubject)
	setStr(env.ListenStream, &cfg.ListenStream)
	setStr(env.ListenHTTP, &cfg.ListenHTTP)
	if len(env.CORSOrigins) > 0 {
		cfg.CORSOrigins = trimAll(env.CORSOrigins)
	}
	if env.TLSEnabled != nil {
		cfg.Session.TLS.Enabled = *env.TLSEnabled
	}
	setStr(env.TLSCAFile, &cfg.Session.TLS.CAFile)
	return nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (c Config) Validate() error {
	name := strings.TrimSpace(c.Nukleus)
	if name == "" {
		return fmt.Errorf("%w: nukleus is required", ErrInvalidConfig)
	}
	if len(name) > 255 {
		return fmt.Errorf("%w: nukleus exceeds 255 bytes", ErrInvalidConfig)
	}
	if c.ScratchCapacity <= 0 {
		return fmt.Errorf("%w: scratch_capacity must be positive", ErrInvalidConfig)
	}
	if c.ReplyTimeout <= 0 {
		return fmt.Errorf("%w: reply_timeout must be positive", ErrInvalidConfig)
	}
	switch c.Transport {
	case TransportStream:
		if strings.TrimSpace(c.StreamAddr) == "" {
			return fmt.Errorf("%w: stream_addr is required for transport %q", ErrInvalidConfig, c.Transport)
		}
	case TransportWebSocket:
		if strings.TrimSpace(c.WebSocketURL) == "" {
			return fmt.Errorf("%w: websocket_url is required for transport %q", ErrInvalidConfig, c.Transport)
		}
	case TransportNATS:
	default:
		return fmt.Errorf("%w: unknown transport %q (expected stream, nats or websocket)", ErrInvalidConfig, c.Transport)
	}
	if c.Session.TLS.Enabled {
		if err := c.Session.ValidateClientTransport(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}
