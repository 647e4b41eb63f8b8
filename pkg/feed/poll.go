package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
)

// PollRequest is one REST fetch a poll codec wants issued per cycle.
type PollRequest struct {
	URL string
	// Symbol hints which instrument the response belongs to when the body
	// itself does not name one. Empty for batch endpoints.
	Symbol string
}

// PollCodec supplies the source-specific pieces of a REST oracle feed.
type PollCodec interface {
	// Requests enumerates the fetches for one poll cycle.
	Requests(base string, symbols []string) []PollRequest
	// Parse decodes one response body. Malformed bodies yield nil.
	Parse(req PollRequest, body []byte) []Tick
}

// PollAdapter is the generic polling source adapter for REST oracles. A
// fetch timeout or bad body counts as a failed cycle, never a fatal error:
// the loop stays up and tries again next interval.
type PollAdapter struct {
	connTracker

	name    string
	cfg     *SourceConfig
	codec   PollCodec
	symbols []string
	sink    Sink
	cache   *tickCache
	client  *http.Client

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPollAdapter builds a polling adapter for the given source.
func NewPollAdapter(name string, source Source, cfg *SourceConfig, codec PollCodec, deps Deps) *PollAdapter {
	a := &PollAdapter{
		name:    name,
		cfg:     cfg,
		codec:   codec,
		symbols: append([]string(nil), deps.Symbols...),
		sink:    deps.Sink,
		cache:   newTickCache(cfg.CacheTTL),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
	a.connTracker.source = source
	a.connTracker.onState = deps.OnState
	return a
}

func (a *PollAdapter) Name() string   { return a.name }
func (a *PollAdapter) Source() Source { return a.connTracker.source }

// Connected reports whether the most recent poll cycle succeeded.
func (a *PollAdapter) Connected() bool {
	return a.connState() == StateConnected
}

// Start begins the polling loop. Idempotent.
func (a *PollAdapter) Start(ctx context.Context) {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return
	}
	a.started = true
	ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	for _, tick := range a.cache.replay() {
		a.sink(tick)
	}

	a.wg.Add(1)
	go a.run(ctx)
}

// Stop cancels the loop and aborts any in-flight request.
func (a *PollAdapter) Stop() {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	a.started = false
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.wg.Wait()
	a.setState(StateDisconnected)
}

func (a *PollAdapter) run(ctx context.Context) {
	defer a.wg.Done()

	a.setState(StateConnecting)
	a.poll(ctx)

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.poll(ctx)
		}
	}
}

func (a *PollAdapter) poll(ctx context.Context) {
	requests := a.codec.Requests(a.cfg.BaseURL, a.symbols)
	var succeeded int
	var lastErr error
	for _, req := range requests {
		if ctx.Err() != nil {
			return
		}
		body, err := a.fetch(ctx, req.URL)
		if err != nil {
			lastErr = err
			continue
		}
		for _, tick := range a.codec.Parse(req, body) {
			a.emit(tick)
		}
		succeeded++
	}

	if succeeded > 0 {
		a.setError(nil)
		a.setState(StateConnected)
		return
	}
	if ctx.Err() != nil {
		return
	}
	a.setError(lastErr)
	a.setState(StateReconnecting)
	if lastErr != nil {
		logx.Errorf("feed: %s poll cycle failed: %v", a.name, lastErr)
	}
}

// fetch issues one GET with the adapter's per-request timeout. A timeout is
// a failed fetch, not a fatal adapter error.
func (a *PollAdapter) fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("feed: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("feed: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("feed: http status %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

func (a *PollAdapter) emit(tick Tick) {
	if tick.Price <= 0 || tick.Symbol == "" {
		return
	}
	if tick.Timestamp == 0 {
		tick.Timestamp = time.Now().UnixMilli()
	}
	if tick.Meta != nil && tick.Meta.FetchedAt == 0 {
		tick.Meta.FetchedAt = tick.Timestamp
	}
	a.cache.put(tick)
	a.sink(tick)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
