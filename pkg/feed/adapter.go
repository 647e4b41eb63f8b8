package feed

import (
	"context"
	"sync"
	"sync/atomic"
)

// Adapter maintains connectivity to exactly one upstream source and emits
// normalized ticks through the sink it was built with.
//
// Connectivity loss is never escalated to the caller as an error: it is
// reported through Connected/LastError and the adapter keeps reconnecting
// until Stop is called.
type Adapter interface {
	// Start begins the connection or polling loop. Calling Start on a
	// running adapter is a no-op.
	Start(ctx context.Context)
	// Stop tears down connections and cancels pending reconnect timers and
	// in-flight requests. Safe to call multiple times.
	Stop()
	Name() string
	Source() Source
	Connected() bool
	LastError() string
}

// connTracker holds the shared connection state machine embedded by the
// stream and poll adapters.
type connTracker struct {
	source  Source
	onState StateFunc

	state   atomic.Int32
	errMu   sync.Mutex
	lastErr string
}

func (t *connTracker) setState(s ConnState) {
	prev := ConnState(t.state.Swap(int32(s)))
	if t.onState == nil {
		return
	}
	wasUp := prev == StateConnected
	isUp := s == StateConnected
	if wasUp != isUp {
		t.onState(t.source, isUp, t.LastError())
	}
}

func (t *connTracker) connState() ConnState {
	return ConnState(t.state.Load())
}

func (t *connTracker) setError(err error) {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	if err == nil {
		t.lastErr = ""
		return
	}
	t.lastErr = err.Error()
}

func (t *connTracker) LastError() string {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.lastErr
}
