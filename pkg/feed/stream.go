package feed

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zeromicro/go-zero/core/logx"
)

const handshakeTimeout = 10 * time.Second

// StreamCodec supplies the source-specific pieces of a websocket feed: where
// to connect, how to subscribe, and how to decode frames into ticks.
type StreamCodec interface {
	// URL builds the dial URL for one shard of symbols.
	URL(base string, symbols []string) string
	// SubscribeFrames returns frames to send right after connecting. May be
	// empty when the URL itself carries the subscription.
	SubscribeFrames(symbols []string) [][]byte
	// Parse decodes one frame. Irrelevant or malformed frames yield nil;
	// a bad frame must never error out the connection.
	Parse(msg []byte) []Tick
	// PingFrame returns the application-level keepalive frame, or nil when
	// the source relies on protocol-level ping/pong.
	PingFrame() []byte
}

// StreamAdapter is the generic websocket source adapter. One instance serves
// one upstream source; symbols are sharded across multiple connections when
// the source caps subscriptions per socket, invisibly to consumers.
type StreamAdapter struct {
	connTracker

	name    string
	cfg     *SourceConfig
	codec   StreamCodec
	symbols []string
	sink    Sink
	cache   *tickCache

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	up      atomic.Int32
}

// NewStreamAdapter builds a streaming adapter for the given source.
func NewStreamAdapter(name string, source Source, cfg *SourceConfig, codec StreamCodec, deps Deps) *StreamAdapter {
	a := &StreamAdapter{
		name:    name,
		cfg:     cfg,
		codec:   codec,
		symbols: append([]string(nil), deps.Symbols...),
		sink:    deps.Sink,
		cache:   newTickCache(cfg.CacheTTL),
	}
	a.connTracker.source = source
	a.connTracker.onState = deps.OnState
	return a
}

func (a *StreamAdapter) Name() string   { return a.name }
func (a *StreamAdapter) Source() Source { return a.connTracker.source }

// Connected reports whether at least one shard currently holds a live socket.
func (a *StreamAdapter) Connected() bool {
	return a.connState() == StateConnected
}

// Start spins up one read loop per symbol shard. Idempotent.
func (a *StreamAdapter) Start(ctx context.Context) {
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

	for _, shard := range shardSymbols(a.symbols, a.cfg.MaxSymbolsPerConn) {
		a.wg.Add(1)
		go a.runShard(ctx, shard)
	}
}

// Stop closes every shard and cancels pending reconnect waits.
func (a *StreamAdapter) Stop() {
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
	a.up.Store(0)
	a.setState(StateDisconnected)
}

func (a *StreamAdapter) runShard(ctx context.Context, symbols []string) {
	defer a.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if a.up.Load() == 0 {
			a.setState(StateConnecting)
		}
		conn, err := a.dial(ctx, symbols)
		if err != nil {
			a.setError(err)
			if a.up.Load() == 0 {
				a.setState(StateReconnecting)
			}
			logx.Errorf("feed: %s connect failed: %v", a.name, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(a.cfg.ReconnectDelay):
				continue
			}
		}

		a.setError(nil)
		if a.up.Add(1) == 1 {
			a.setState(StateConnected)
		}
		logx.Infof("feed: %s connected (%d symbols)", a.name, len(symbols))

		a.readLoop(ctx, conn)

		conn.close()
		if a.up.Add(-1) == 0 && ctx.Err() == nil {
			a.setState(StateReconnecting)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(a.cfg.ReconnectDelay):
		}
	}
}

// shardConn wraps one websocket connection with a write mutex, since the
// ping loop and the subscribe path write concurrently.
type shardConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (s *shardConn) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *shardConn) close() {
	_ = s.conn.Close()
}

func (a *StreamAdapter) dial(ctx context.Context, symbols []string) (*shardConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, a.codec.URL(a.cfg.BaseURL, symbols), http.Header{})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	sc := &shardConn{conn: conn}
	for _, frame := range a.codec.SubscribeFrames(symbols) {
		if err := sc.write(frame); err != nil {
			sc.close()
			return nil, err
		}
	}
	return sc, nil
}

// readLoop consumes frames until the connection dies or ctx is cancelled.
// The read deadline doubles as the liveness watchdog: idle sockets do not
// self-report failure, so no frame within the window means disconnected.
func (a *StreamAdapter) readLoop(ctx context.Context, sc *shardConn) {
	watchdog := a.watchdogInterval()

	pingDone := make(chan struct{})
	defer close(pingDone)
	if frame := a.codec.PingFrame(); frame != nil {
		go a.pingLoop(ctx, sc, frame, pingDone)
	}

	for {
		if ctx.Err() != nil {
			return
		}
		_ = sc.conn.SetReadDeadline(time.Now().Add(watchdog))
		_, msg, err := sc.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				a.setError(err)
				logx.Errorf("feed: %s read failed: %v", a.name, err)
			}
			return
		}
		for _, tick := range a.codec.Parse(msg) {
			a.emit(tick)
		}
	}
}

func (a *StreamAdapter) pingLoop(ctx context.Context, sc *shardConn, frame []byte, done <-chan struct{}) {
	interval := a.watchdogInterval() / 2
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := sc.write(frame); err != nil {
				return
			}
		}
	}
}

func (a *StreamAdapter) emit(tick Tick) {
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

// watchdogInterval derives the idle cutoff from the source's expected
// update cadence, clamped to a sane range.
func (a *StreamAdapter) watchdogInterval() time.Duration {
	w := 3 * a.cfg.Interval
	if w < 15*time.Second {
		w = 15 * time.Second
	}
	if w > 90*time.Second {
		w = 90 * time.Second
	}
	return w
}

func shardSymbols(symbols []string, perConn int) [][]string {
	if perConn <= 0 || len(symbols) <= perConn {
		return [][]string{symbols}
	}
	shards := make([][]string, 0, (len(symbols)+perConn-1)/perConn)
	for start := 0; start < len(symbols); start += perConn {
		end := start + perConn
		if end > len(symbols) {
			end = len(symbols)
		}
		shards = append(shards, symbols[start:end])
	}
	return shards
}
