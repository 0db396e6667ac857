// ABOUTME: Configuration loading and parsing for gatewaykit
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/gatewaykit/internal/dedupe"
	"github.com/2389/gatewaykit/internal/feed"
	"github.com/2389/gatewaykit/internal/gateway"
	"github.com/2389/gatewaykit/internal/resume"
	"github.com/2389/gatewaykit/internal/rest"
	"github.com/2389/gatewaykit/internal/shard"
)

// EnvConfigPath overrides the default config location.
const EnvConfigPath = "GATEWAYKIT_CONFIG"

// Config represents the complete gatewaykit configuration
type Config struct {
	Gateway GatewayConfig `yaml:"gateway" toml:"gateway"`
	Feed    FeedConfig    `yaml:"feed" toml:"feed"`
	Resume  ResumeConfig  `yaml:"resume" toml:"resume"`
	REST    RESTConfig    `yaml:"rest" toml:"rest"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
}

// GatewayConfig holds the session and handshake settings
type GatewayConfig struct {
	// URL is the websocket endpoint. Empty means discover it over REST.
	URL   string `yaml:"url" toml:"url"`
	Token string `yaml:"token" toml:"token"`

	// Intents are intent names, or "all".
	Intents []string `yaml:"intents" toml:"intents"`

	Shard          *ShardConfig     `yaml:"shard" toml:"shard"`
	LargeThreshold int              `yaml:"large_threshold" toml:"large_threshold"`
	Compress       bool             `yaml:"compress" toml:"compress"`
	Properties     PropertiesConfig `yaml:"properties" toml:"properties"`

	// Presence is the initial presence as a JSON document.
	Presence string `yaml:"presence" toml:"presence"`

	// HeartbeatJitter fixes the first-beat fraction. Unset means random.
	HeartbeatJitter *float64 `yaml:"heartbeat_jitter" toml:"heartbeat_jitter"`

	ForwardControlEvents bool `yaml:"forward_control_events" toml:"forward_control_events"`

	HandshakeTimeout time.Duration `yaml:"-" toml:"-"`
	CloseTimeout     time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	HandshakeTimeoutRaw string `yaml:"handshake_timeout" toml:"handshake_timeout"`
	CloseTimeoutRaw     string `yaml:"close_timeout" toml:"close_timeout"`
}

// ShardConfig selects one shard of the stream
type ShardConfig struct {
	ID    uint64 `yaml:"id" toml:"id"`
	Count uint64 `yaml:"count" toml:"count"`
}

// PropertiesConfig overrides the identify connection properties
type PropertiesConfig struct {
	OS      string `yaml:"os" toml:"os"`
	Browser string `yaml:"browser" toml:"browser"`
	Device  string `yaml:"device" toml:"device"`
}

// FeedConfig holds the event feed back-pressure settings
type FeedConfig struct {
	Policy string `yaml:"policy" toml:"policy"`
	Size   int    `yaml:"size" toml:"size"`
}

// ResumeConfig holds the reconnect runner settings
type ResumeConfig struct {
	Enabled    bool   `yaml:"enabled" toml:"enabled"`
	Database   string `yaml:"database" toml:"database"`
	SaveEvery  int    `yaml:"save_every" toml:"save_every"`
	DedupeSize int    `yaml:"dedupe_size" toml:"dedupe_size"`

	MinBackoff time.Duration `yaml:"-" toml:"-"`
	MaxBackoff time.Duration `yaml:"-" toml:"-"`
	DedupeTTL  time.Duration `yaml:"-" toml:"-"`

	MinBackoffRaw string `yaml:"min_backoff" toml:"min_backoff"`
	MaxBackoffRaw string `yaml:"max_backoff" toml:"max_backoff"`
	DedupeTTLRaw  string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// RESTConfig holds the HTTP resource client settings
type RESTConfig struct {
	BaseURL string `yaml:"base_url" toml:"base_url"`

	// MaxRetries bounds retries on 429. Negative disables retrying.
	MaxRetries int `yaml:"max_retries" toml:"max_retries"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" toml:"addr"`
	Path    string `yaml:"path" toml:"path"`
}

// DefaultPath returns $XDG_CONFIG_HOME/gatewaykit/config.yaml, falling back
// to ~/.config when XDG_CONFIG_HOME is unset.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "gatewaykit", "config.yaml")
}

// ResolvePath picks the config file: the explicit flag value, then
// GATEWAYKIT_CONFIG, then DefaultPath.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	return DefaultPath()
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(string(data), formatFor(path))
}

// Format names a config file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes config text in the given format, applies defaults, and
// validates the result.
func Parse(text string, format Format) (*Config, error) {
	expanded := expandEnvVars(text)

	var cfg Config
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case FormatYAML, "":
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Gateway.HandshakeTimeout == 0 {
		c.Gateway.HandshakeTimeout = gateway.DefaultHandshakeTimeout
	}
	if c.Gateway.CloseTimeout == 0 {
		c.Gateway.CloseTimeout = gateway.DefaultCloseTimeout
	}

	if c.Feed.Policy == "" {
		c.Feed.Policy = string(feed.Block)
	}
	if c.Feed.Size == 0 {
		c.Feed.Size = feed.DefaultSize
	}

	if c.Resume.Database == "" {
		c.Resume.Database = defaultDatabasePath()
	}
	if c.Resume.MinBackoff == 0 {
		c.Resume.MinBackoff = resume.DefaultMinBackoff
	}
	if c.Resume.MaxBackoff == 0 {
		c.Resume.MaxBackoff = resume.DefaultMaxBackoff
	}
	if c.Resume.SaveEvery == 0 {
		c.Resume.SaveEvery = resume.DefaultSaveEvery
	}
	if c.Resume.DedupeTTL == 0 {
		c.Resume.DedupeTTL = dedupe.DefaultTTL
	}
	if c.Resume.DedupeSize == 0 {
		c.Resume.DedupeSize = dedupe.DefaultMaxSize
	}

	if c.REST.BaseURL == "" {
		c.REST.BaseURL = rest.DefaultBaseURL
	}
	if c.REST.MaxRetries == 0 {
		c.REST.MaxRetries = rest.DefaultMaxRetries
	}
	if c.REST.Timeout == 0 {
		c.REST.Timeout = rest.DefaultTimeout
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = "127.0.0.1:9464"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

func defaultDatabasePath() string {
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "gatewaykit.db"
		}
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, "gatewaykit", "resume.db")
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	g := c.Gateway
	if g.Token == "" {
		return errors.New("gateway.token is required")
	}
	if g.URL != "" {
		u, err := url.Parse(g.URL)
		if err != nil {
			return fmt.Errorf("gateway.url is not a valid URL: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return errors.New("gateway.url must use ws or wss scheme")
		}
	}
	if _, err := gateway.ParseIntents(g.Intents); err != nil {
		return fmt.Errorf("gateway.intents: %w", err)
	}
	if _, err := c.ShardAssignment(); err != nil {
		return fmt.Errorf("gateway.shard: %w", err)
	}
	if g.LargeThreshold != 0 && (g.LargeThreshold < gateway.DefaultLargeThreshold || g.LargeThreshold > gateway.MaxLargeThreshold) {
		return fmt.Errorf("gateway.large_threshold must be between %d and %d", gateway.DefaultLargeThreshold, gateway.MaxLargeThreshold)
	}
	if g.Compress {
		return errors.New("gateway.compress is not supported")
	}
	if g.Presence != "" && !json.Valid([]byte(g.Presence)) {
		return errors.New("gateway.presence must be a JSON document")
	}
	if g.HeartbeatJitter != nil && (*g.HeartbeatJitter < 0 || *g.HeartbeatJitter > 1) {
		return errors.New("gateway.heartbeat_jitter must be between 0 and 1")
	}
	if g.HandshakeTimeout < 0 || g.CloseTimeout < 0 {
		return errors.New("gateway timeouts must not be negative")
	}

	if _, err := feed.ParsePolicy(c.Feed.Policy); err != nil {
		return fmt.Errorf("feed.policy: %w", err)
	}
	if c.Feed.Size < 0 {
		return errors.New("feed.size must not be negative")
	}

	if c.Resume.MinBackoff < 0 || c.Resume.MaxBackoff < c.Resume.MinBackoff {
		return errors.New("resume.max_backoff must be at least resume.min_backoff")
	}

	if _, err := url.Parse(c.REST.BaseURL); err != nil {
		return fmt.Errorf("rest.base_url is not a valid URL: %w", err)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn, or error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	return nil
}

// ShardAssignment returns the configured shard, or nil when the stream is
// not sharded.
func (c *Config) ShardAssignment() (*shard.Assignment, error) {
	if c.Gateway.Shard == nil {
		return nil, nil
	}
	a := shard.Assignment{Index: c.Gateway.Shard.ID, Count: c.Gateway.Shard.Count}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// SessionConfig builds the session config described by the gateway and feed
// sections.
func (c *Config) SessionConfig() (gateway.Config, error) {
	intents, err := gateway.ParseIntents(c.Gateway.Intents)
	if err != nil {
		return gateway.Config{}, err
	}
	assignment, err := c.ShardAssignment()
	if err != nil {
		return gateway.Config{}, err
	}
	policy, err := feed.ParsePolicy(c.Feed.Policy)
	if err != nil {
		return gateway.Config{}, err
	}

	out := gateway.Config{
		Token:   c.Gateway.Token,
		Intents: intents,
		Shard:   assignment,
		Properties: gateway.ConnectionProperties{
			OS:      c.Gateway.Properties.OS,
			Browser: c.Gateway.Properties.Browser,
			Device:  c.Gateway.Properties.Device,
		},
		HandshakeTimeout:     c.Gateway.HandshakeTimeout,
		CloseTimeout:         c.Gateway.CloseTimeout,
		FeedPolicy:           policy,
		FeedSize:             c.Feed.Size,
		ForwardControlEvents: c.Gateway.ForwardControlEvents,
	}
	if c.Gateway.LargeThreshold != 0 {
		lt := c.Gateway.LargeThreshold
		out.LargeThreshold = &lt
	}
	if c.Gateway.Presence != "" {
		out.Presence = json.RawMessage(c.Gateway.Presence)
	}
	if c.Gateway.HeartbeatJitter != nil {
		jitter := *c.Gateway.HeartbeatJitter
		out.Jitter = func() float64 { return jitter }
	}
	return out, nil
}

// RESTOptions builds the HTTP client options from the rest section.
func (c *Config) RESTOptions() rest.Options {
	return rest.Options{
		BaseURL:    c.REST.BaseURL,
		MaxRetries: c.REST.MaxRetries,
		HTTPClient: &http.Client{Timeout: c.REST.Timeout},
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"gateway.handshake_timeout", cfg.Gateway.HandshakeTimeoutRaw, &cfg.Gateway.HandshakeTimeout},
		{"gateway.close_timeout", cfg.Gateway.CloseTimeoutRaw, &cfg.Gateway.CloseTimeout},
		{"resume.min_backoff", cfg.Resume.MinBackoffRaw, &cfg.Resume.MinBackoff},
		{"resume.max_backoff", cfg.Resume.MaxBackoffRaw, &cfg.Resume.MaxBackoff},
		{"resume.dedupe_ttl", cfg.Resume.DedupeTTLRaw, &cfg.Resume.DedupeTTL},
		{"rest.timeout", cfg.REST.TimeoutRaw, &cfg.REST.Timeout},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
