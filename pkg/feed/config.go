package feed

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"coinwatch/pkg/confkit"
)

// Config describes the set of price sources feeding the reconciler.
type Config struct {
	Symbols []string                 `yaml:"symbols"`
	Sources map[string]*SourceConfig `yaml:"sources"`

	Reconciler ReconcilerConfig `yaml:"reconciler"`
	History    HistoryConfig    `yaml:"history"`
}

// SourceConfig represents configuration for a single source adapter.
type SourceConfig struct {
	Type     string `yaml:"type"`
	Priority int    `yaml:"priority"`

	BaseURL string `yaml:"base_url"`

	// IntervalRaw is the source's expected update cadence. Streaming sources
	// use it as the staleness yardstick; pollers use it as the poll period.
	IntervalRaw       string        `yaml:"interval"`
	Interval          time.Duration `yaml:"-"`
	TimeoutRaw        string        `yaml:"timeout"`
	Timeout           time.Duration `yaml:"-"`
	ReconnectDelayRaw string        `yaml:"reconnect_delay"`
	ReconnectDelay    time.Duration `yaml:"-"`
	CacheTTLRaw       string        `yaml:"cache_ttl"`
	CacheTTL          time.Duration `yaml:"-"`

	// MaxSymbolsPerConn shards streaming subscriptions across several
	// underlying connections when positive.
	MaxSymbolsPerConn int `yaml:"max_symbols_per_conn"`

	// Params carries source-specific settings, e.g. Pyth price-feed IDs
	// keyed by symbol.
	Params map[string]string `yaml:"params"`
}

// ReconcilerConfig tunes the priority merge.
type ReconcilerConfig struct {
	// Epsilon is the relative price change below which an update is
	// suppressed, e.g. 0.0005 == 0.05%.
	Epsilon            float64       `yaml:"epsilon"`
	PublishIntervalRaw string        `yaml:"publish_interval"`
	PublishInterval    time.Duration `yaml:"-"`
}

// HistoryConfig tunes the bounded per-symbol history.
type HistoryConfig struct {
	MaxEntries    int           `yaml:"max_entries"`
	MinSpacingRaw string        `yaml:"min_spacing"`
	MinSpacing    time.Duration `yaml:"-"`
}

const (
	defaultInterval       = 10 * time.Second
	defaultTimeout        = 10 * time.Second
	defaultReconnectDelay = 5 * time.Second
	defaultCacheTTL       = 90 * time.Second
)

// Deps carries the collaborators every adapter is built with.
type Deps struct {
	Symbols []string
	Sink    Sink
	OnState StateFunc
}

// AdapterBuilder constructs an Adapter from configuration.
type AdapterBuilder func(name string, cfg *SourceConfig, deps Deps) (Adapter, error)

var (
	sourceRegistry   = make(map[string]AdapterBuilder)
	sourceRegistryMu sync.RWMutex
)

// RegisterSource registers a source adapter constructor for a config type.
func RegisterSource(typeName string, builder AdapterBuilder) {
	sourceRegistryMu.Lock()
	defer sourceRegistryMu.Unlock()
	sourceRegistry[strings.ToLower(strings.TrimSpace(typeName))] = builder
}

func lookupSourceBuilder(typeName string) (AdapterBuilder, bool) {
	sourceRegistryMu.RLock()
	defer sourceRegistryMu.RUnlock()
	builder, ok := sourceRegistry[strings.ToLower(strings.TrimSpace(typeName))]
	return builder, ok
}

// LoadConfig reads feed configuration from disk.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feed config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader constructs a Config from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	confkit.LoadDotenvOnce()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read feed config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal feed config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalise() error {
	if c.Sources == nil {
		c.Sources = make(map[string]*SourceConfig)
	}
	for i, sym := range c.Symbols {
		c.Symbols[i] = strings.ToUpper(strings.TrimSpace(sym))
	}
	for name, source := range c.Sources {
		if source == nil {
			source = &SourceConfig{}
			c.Sources[name] = source
		}
		source.expandEnv()
		if err := source.parseDurations(name); err != nil {
			return err
		}
	}
	if c.Reconciler.Epsilon == 0 {
		c.Reconciler.Epsilon = 0.0005
	}
	if err := parseDuration(&c.Reconciler.PublishInterval, c.Reconciler.PublishIntervalRaw, 100*time.Millisecond, "reconciler.publish_interval"); err != nil {
		return err
	}
	if c.History.MaxEntries == 0 {
		c.History.MaxEntries = 1440
	}
	if err := parseDuration(&c.History.MinSpacing, c.History.MinSpacingRaw, 2*time.Minute, "history.min_spacing"); err != nil {
		return err
	}
	return nil
}

func (s *SourceConfig) expandEnv() {
	s.Type = strings.TrimSpace(os.ExpandEnv(s.Type))
	s.BaseURL = strings.TrimSpace(os.ExpandEnv(s.BaseURL))
	s.IntervalRaw = strings.TrimSpace(os.ExpandEnv(s.IntervalRaw))
	s.TimeoutRaw = strings.TrimSpace(os.ExpandEnv(s.TimeoutRaw))
	s.ReconnectDelayRaw = strings.TrimSpace(os.ExpandEnv(s.ReconnectDelayRaw))
	s.CacheTTLRaw = strings.TrimSpace(os.ExpandEnv(s.CacheTTLRaw))
	for key, value := range s.Params {
		s.Params[key] = strings.TrimSpace(os.ExpandEnv(value))
	}
}

func (s *SourceConfig) parseDurations(name string) error {
	if err := parseDuration(&s.Interval, s.IntervalRaw, defaultInterval, fmt.Sprintf("source %s: interval", name)); err != nil {
		return err
	}
	if err := parseDuration(&s.Timeout, s.TimeoutRaw, defaultTimeout, fmt.Sprintf("source %s: timeout", name)); err != nil {
		return err
	}
	if err := parseDuration(&s.ReconnectDelay, s.ReconnectDelayRaw, defaultReconnectDelay, fmt.Sprintf("source %s: reconnect_delay", name)); err != nil {
		return err
	}
	return parseDuration(&s.CacheTTL, s.CacheTTLRaw, defaultCacheTTL, fmt.Sprintf("source %s: cache_ttl", name))
}

func parseDuration(dst *time.Duration, raw string, fallback time.Duration, field string) error {
	if raw == "" {
		*dst = fallback
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("feed config: %s: invalid duration %q: %w", field, raw, err)
	}
	if d <= 0 {
		return fmt.Errorf("feed config: %s must be positive, got %s", field, d)
	}
	*dst = d
	return nil
}

// Validate ensures the configuration is structurally sound.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("feed config: symbols cannot be empty")
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("feed config: sources cannot be empty")
	}
	seen := make(map[int]string, len(c.Sources))
	for name, source := range c.Sources {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("feed config: source name cannot be empty")
		}
		if err := source.validate(name); err != nil {
			return err
		}
		if prev, dup := seen[source.Priority]; dup {
			return fmt.Errorf("feed config: sources %s and %s share priority %d", prev, name, source.Priority)
		}
		seen[source.Priority] = name
	}
	return nil
}

func (s *SourceConfig) validate(name string) error {
	if s == nil {
		return fmt.Errorf("feed config: source %s is nil", name)
	}
	if strings.TrimSpace(s.Type) == "" {
		return fmt.Errorf("feed config: source %s must specify type", name)
	}
	if _, ok := lookupSourceBuilder(s.Type); !ok {
		return fmt.Errorf("feed config: source %s has unsupported type %q", name, s.Type)
	}
	if s.Priority <= 0 {
		return fmt.Errorf("feed config: source %s must specify a positive priority", name)
	}
	return nil
}

// BuildAdapters instantiates one adapter per configured source.
func (c *Config) BuildAdapters(deps Deps) (map[string]Adapter, error) {
	if len(deps.Symbols) == 0 {
		deps.Symbols = c.Symbols
	}
	result := make(map[string]Adapter, len(c.Sources))
	for name, sourceCfg := range c.Sources {
		builder, ok := lookupSourceBuilder(sourceCfg.Type)
		if !ok {
			return nil, fmt.Errorf("feed source %s: unsupported type %q", name, sourceCfg.Type)
		}
		adapter, err := builder(name, sourceCfg, deps)
		if err != nil {
			return nil, fmt.Errorf("feed source %s: %w", name, err)
		}
		result[name] = adapter
	}
	return result, nil
}

// ByPriority returns the configured source names ordered best-first.
func (c *Config) ByPriority() []string {
	names := make([]string, 0, len(c.Sources))
	for name := range c.Sources {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return c.Sources[names[i]].Priority < c.Sources[names[j]].Priority
	})
	return names
}
