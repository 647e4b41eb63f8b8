package feed

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	connTracker
	name string
}

func (a *stubAdapter) Start(ctx context.Context) {}
func (a *stubAdapter) Stop()                     {}
func (a *stubAdapter) Name() string              { return a.name }
func (a *stubAdapter) Source() Source            { return a.connTracker.source }
func (a *stubAdapter) Connected() bool           { return a.connState() == StateConnected }

func init() {
	RegisterSource("stub", func(name string, cfg *SourceConfig, deps Deps) (Adapter, error) {
		a := &stubAdapter{name: name}
		a.connTracker.source = Source("stub")
		return a, nil
	})
}

const validFeedYAML = `
symbols:
  - btc
  - " eth "
sources:
  primary:
    type: stub
    priority: 1
    interval: 5s
  secondary:
    type: stub
    priority: 2
reconciler:
  epsilon: 0.001
  publish_interval: 200ms
history:
  max_entries: 100
  min_spacing: 1m
`

func TestLoadConfigFromReader(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader(validFeedYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"BTC", "ETH"}, cfg.Symbols)
	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, 5*time.Second, cfg.Sources["primary"].Interval)
	assert.Equal(t, 0.001, cfg.Reconciler.Epsilon)
	assert.Equal(t, 200*time.Millisecond, cfg.Reconciler.PublishInterval)
	assert.Equal(t, 100, cfg.History.MaxEntries)
	assert.Equal(t, time.Minute, cfg.History.MinSpacing)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader(`
symbols: [BTC]
sources:
  only:
    type: stub
    priority: 1
`))
	require.NoError(t, err)

	src := cfg.Sources["only"]
	assert.Equal(t, defaultInterval, src.Interval)
	assert.Equal(t, defaultTimeout, src.Timeout)
	assert.Equal(t, defaultReconnectDelay, src.ReconnectDelay)
	assert.Equal(t, defaultCacheTTL, src.CacheTTL)
	assert.Equal(t, 0.0005, cfg.Reconciler.Epsilon)
	assert.Equal(t, 100*time.Millisecond, cfg.Reconciler.PublishInterval)
	assert.Equal(t, 1440, cfg.History.MaxEntries)
	assert.Equal(t, 2*time.Minute, cfg.History.MinSpacing)
}

func TestLoadConfigRejectsDuplicatePriorities(t *testing.T) {
	_, err := LoadConfigFromReader(strings.NewReader(`
symbols: [BTC]
sources:
  a:
    type: stub
    priority: 1
  b:
    type: stub
    priority: 1
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "share priority")
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"no symbols", `
sources:
  a:
    type: stub
    priority: 1
`, "symbols cannot be empty"},
		{"no sources", `
symbols: [BTC]
`, "sources cannot be empty"},
		{"missing type", `
symbols: [BTC]
sources:
  a:
    priority: 1
`, "must specify type"},
		{"unknown type", `
symbols: [BTC]
sources:
  a:
    type: nosuch
    priority: 1
`, "unsupported type"},
		{"missing priority", `
symbols: [BTC]
sources:
  a:
    type: stub
`, "positive priority"},
		{"bad duration", `
symbols: [BTC]
sources:
  a:
    type: stub
    priority: 1
    interval: soon
`, "invalid duration"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfigFromReader(strings.NewReader(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("FEED_TEST_BASE", "https://example.test")
	cfg, err := LoadConfigFromReader(strings.NewReader(`
symbols: [BTC]
sources:
  a:
    type: stub
    priority: 1
    base_url: ${FEED_TEST_BASE}/v1
`))
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/v1", cfg.Sources["a"].BaseURL)
}

func TestBuildAdaptersAndByPriority(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader(validFeedYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"primary", "secondary"}, cfg.ByPriority())

	adapters, err := cfg.BuildAdapters(Deps{Sink: func(Tick) {}})
	require.NoError(t, err)
	require.Len(t, adapters, 2)
	assert.Equal(t, "primary", adapters["primary"].Name())
}

func TestShardSymbols(t *testing.T) {
	symbols := []string{"A", "B", "C", "D", "E"}
	assert.Equal(t, [][]string{symbols}, shardSymbols(symbols, 0))
	assert.Equal(t, [][]string{symbols}, shardSymbols(symbols, 10))
	shards := shardSymbols(symbols, 2)
	require.Len(t, shards, 3)
	assert.Equal(t, []string{"A", "B"}, shards[0])
	assert.Equal(t, []string{"E"}, shards[2])
}
