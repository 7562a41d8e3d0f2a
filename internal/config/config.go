package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"ChannelMonitor/internal/domain"
	"ChannelMonitor/internal/policy"
)

const (
	// EnvPrefix scopes every environment override.
	EnvPrefix     = "CHANNEL_MONITOR_"
	configPathEnv = EnvPrefix + "CONFIG"
	defaultPath   = "config.yaml"

	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// ErrInvalid wraps every configuration failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds high-level settings required across the application.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Source     SourceConfig     `yaml:"source"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Pacing     PacingConfig     `yaml:"pacing"`
	State      StateConfig      `yaml:"state"`
}

// LoggingConfig selects slog level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelegramConfig wires the Bot API client.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	APIURL   string `yaml:"apiUrl"`
	Silent   bool   `yaml:"silent"`
}

// SourceConfig describes the public web preview used to read history.
type SourceConfig struct {
	BaseURL   string   `yaml:"baseUrl"`
	Timeout   Duration `yaml:"timeout"`
	UserAgent string   `yaml:"userAgent"`
}

// MonitoringConfig lists what is watched and where matches go.
type MonitoringConfig struct {
	ForwardTo    []domain.RecipientRef `yaml:"forwardTo"`
	HistoryLimit int                   `yaml:"historyLimit"`
	Channels     []ChannelConfig       `yaml:"channels"`
	Keywords     *policy.Policy        `yaml:"keywords"`
	ScanDelay    Duration              `yaml:"scanDelay"`
	Overlap      *int64                `yaml:"overlap"`
}

// OverlapValue returns the configured overlap; an explicit 0 disables it.
func (m MonitoringConfig) OverlapValue() int64 {
	if m.Overlap == nil {
		return 5
	}
	return *m.Overlap
}

// ChannelConfig is one monitored channel. Keywords overrides the global
// policy when set.
type ChannelConfig struct {
	Name     domain.ChannelID `yaml:"name"`
	Keywords *policy.Policy   `yaml:"keywords"`
}

// PacingConfig holds the jitter intervals between remote calls.
type PacingConfig struct {
	ChannelGap      Range `yaml:"channelGap"`
	SweepJitter     Range `yaml:"sweepJitter"`
	ForwardDelay    Range `yaml:"forwardDelay"`
	TargetGap       Range `yaml:"targetGap"`
	RateLimitJitter Range `yaml:"rateLimitJitter"`
}

// StateConfig selects where cursors are persisted.
type StateConfig struct {
	Backend  string `yaml:"backend"`
	Path     string `yaml:"path"`
	DSN      string `yaml:"dsn"`
	Table    string `yaml:"table"`
	RedisURL string `yaml:"redisUrl"`
	RedisKey string `yaml:"redisKey"`
}

// overrides are the settings that may come from the environment.
type overrides struct {
	LogLevel     *string        `env:"LOG_LEVEL"`
	LogFormat    *string        `env:"LOG_FORMAT"`
	BotToken     *string        `env:"TELEGRAM_BOT_TOKEN"`
	APIURL       *string        `env:"TELEGRAM_API_URL"`
	SourceURL    *string        `env:"SOURCE_BASE_URL"`
	ForwardTo    []string       `env:"FORWARD_TO" envSeparator:","`
	HistoryLimit *int           `env:"HISTORY_LIMIT"`
	ScanDelay    *time.Duration `env:"SCAN_DELAY"`
	StateBackend *string        `env:"STATE_BACKEND"`
	StatePath    *string        `env:"STATE_PATH"`
	StateDSN     *string        `env:"STATE_DSN"`
	RedisURL     *string        `env:"STATE_REDIS_URL"`
}

// Load reads the YAML file at path (or $CHANNEL_MONITOR_CONFIG, or
// config.yaml), applies environment overrides and validates the result.
func Load(path string) (Config, error) {
	return load(path, nil)
}

func load(path string, environ map[string]string) (Config, error) {
	if path == "" {
		path = lookup(environ, configPathEnv)
	}
	if path == "" {
		path = defaultPath
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg, err := Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}

	if err := cfg.applyEnv(environ); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML without touching the environment or validating.
func Parse(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return cfg, nil
}

func lookup(environ map[string]string, key string) string {
	if environ != nil {
		return environ[key]
	}
	return os.Getenv(key)
}

func (c *Config) applyEnv(environ map[string]string) error {
	var o overrides
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return fmt.Errorf("%w: environment: %w", ErrInvalid, err)
	}

	set(&c.Logging.Level, o.LogLevel)
	set(&c.Logging.Format, o.LogFormat)
	set(&c.Telegram.BotToken, o.BotToken)
	set(&c.Telegram.APIURL, o.APIURL)
	set(&c.Source.BaseURL, o.SourceURL)
	set(&c.Monitoring.HistoryLimit, o.HistoryLimit)
	set(&c.State.Backend, o.StateBackend)
	set(&c.State.Path, o.StatePath)
	set(&c.State.DSN, o.StateDSN)
	set(&c.State.RedisURL, o.RedisURL)

	if len(o.ForwardTo) > 0 {
		c.Monitoring.ForwardTo = c.Monitoring.ForwardTo[:0]
		for _, ref := range o.ForwardTo {
			c.Monitoring.ForwardTo = append(c.Monitoring.ForwardTo, domain.RecipientRef(strings.TrimSpace(ref)))
		}
	}
	if o.ScanDelay != nil {
		c.Monitoring.ScanDelay = Duration(*o.ScanDelay)
	}
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Source.BaseURL == "" {
		c.Source.BaseURL = "https://t.me"
	}
	if c.Source.Timeout == 0 {
		c.Source.Timeout = Duration(20 * time.Second)
	}
	if c.Monitoring.HistoryLimit == 0 {
		c.Monitoring.HistoryLimit = 50
	}
	if c.Monitoring.ScanDelay == 0 {
		c.Monitoring.ScanDelay = Duration(300 * time.Second)
	}
	if c.Monitoring.Overlap == nil {
		overlap := int64(5)
		c.Monitoring.Overlap = &overlap
	}
	if c.Monitoring.Keywords == nil {
		c.Monitoring.Keywords = policy.Empty()
	}

	defaultRange(&c.Pacing.ChannelGap, 10*time.Second, 30*time.Second)
	defaultRange(&c.Pacing.SweepJitter, 10*time.Second, 30*time.Second)
	defaultRange(&c.Pacing.ForwardDelay, 3*time.Second, 10*time.Second)
	defaultRange(&c.Pacing.TargetGap, 2*time.Second, 5*time.Second)
	defaultRange(&c.Pacing.RateLimitJitter, 5*time.Second, 10*time.Second)

	if c.State.Backend == "" {
		c.State.Backend = BackendFile
	}
	if c.State.Path == "" {
		c.State.Path = "state.json"
	}
}

func defaultRange(r *Range, min, max time.Duration) {
	if r.Min == 0 && r.Max == 0 {
		r.Min, r.Max = Duration(min), Duration(max)
	}
}

// Validate reports the first problem that would make the monitor misbehave.
func (c Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Telegram.BotToken) == "" {
		problems = append(problems, "telegram.botToken is required (or "+EnvPrefix+"TELEGRAM_BOT_TOKEN)")
	}
	if len(c.Monitoring.Channels) == 0 {
		problems = append(problems, "monitoring.channels must not be empty")
	}
	for i, ch := range c.Monitoring.Channels {
		if ch.Name.Name() == "" {
			problems = append(problems, fmt.Sprintf("monitoring.channels[%d] has no name", i))
		}
	}
	if len(c.Monitoring.ForwardTo) == 0 {
		problems = append(problems, "monitoring.forwardTo must not be empty")
	}
	for i, ref := range c.Monitoring.ForwardTo {
		if strings.TrimSpace(string(ref)) == "" {
			problems = append(problems, fmt.Sprintf("monitoring.forwardTo[%d] is blank", i))
		}
	}
	if c.Monitoring.HistoryLimit < 1 {
		problems = append(problems, "monitoring.historyLimit must be at least 1")
	}
	if c.Monitoring.OverlapValue() < 0 {
		problems = append(problems, "monitoring.overlap must not be negative")
	}
	if c.Monitoring.ScanDelay < 0 {
		problems = append(problems, "monitoring.scanDelay must not be negative")
	}

	for name, r := range map[string]Range{
		"channelGap":      c.Pacing.ChannelGap,
		"sweepJitter":     c.Pacing.SweepJitter,
		"forwardDelay":    c.Pacing.ForwardDelay,
		"targetGap":       c.Pacing.TargetGap,
		"rateLimitJitter": c.Pacing.RateLimitJitter,
	} {
		if r.Min < 0 || r.Max < r.Min {
			problems = append(problems, fmt.Sprintf("pacing.%s range [%s, %s] is invalid", name, r.Min, r.Max))
		}
	}

	switch c.State.Backend {
	case BackendFile:
		if c.State.Path == "" {
			problems = append(problems, "state.path is required for the file backend")
		}
	case BackendPostgres:
		if c.State.DSN == "" {
			problems = append(problems, "state.dsn is required for the postgres backend")
		}
	case BackendRedis:
		if c.State.RedisURL == "" {
			problems = append(problems, "state.redisUrl is required for the redis backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("state.backend %q is unknown", c.State.Backend))
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
}

// ChannelIDs lists the configured channels in order.
func (c Config) ChannelIDs() []domain.ChannelID {
	out := make([]domain.ChannelID, 0, len(c.Monitoring.Channels))
	for _, ch := range c.Monitoring.Channels {
		out = append(out, ch.Name)
	}
	return out
}

// PolicyFor returns the channel override or the global policy.
func (c Config) PolicyFor(ch ChannelConfig) *policy.Policy {
	if ch.Keywords != nil {
		return ch.Keywords
	}
	if c.Monitoring.Keywords != nil {
		return c.Monitoring.Keywords
	}
	return policy.Empty()
}

// UnmarshalYAML accepts "@name" or {name, keywords}.
func (c *ChannelConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		c.Name = domain.ChannelID(strings.TrimSpace(node.Value))
		return nil
	}

	type plain ChannelConfig
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	p.Name = domain.ChannelID(strings.TrimSpace(string(p.Name)))
	*c = ChannelConfig(p)
	return nil
}

// Duration accepts Go duration strings ("300s") or plain seconds (300).
type Duration time.Duration

// Std converts to time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML decodes seconds or a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	parsed, err := parseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = parsed
	return nil
}

func parseDuration(value string) (Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return Duration(secs * float64(time.Second)), nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	return Duration(parsed), nil
}

// Range is a closed jitter interval, written as [min, max] or {min, max}.
type Range struct {
	Min Duration `yaml:"min"`
	Max Duration `yaml:"max"`
}

// UnmarshalYAML decodes the sequence or mapping form.
func (r *Range) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		if len(node.Content) != 2 {
			return fmt.Errorf("line %d: range needs exactly two values", node.Line)
		}
		var err error
		if r.Min, err = parseDuration(node.Content[0].Value); err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		if r.Max, err = parseDuration(node.Content[1].Value); err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		return nil
	case yaml.MappingNode:
		type plain Range
		var p plain
		if err := node.Decode(&p); err != nil {
			return err
		}
		*r = Range(p)
		return nil
	default:
		return fmt.Errorf("line %d: range must be [min, max] or {min, max}", node.Line)
	}
}

