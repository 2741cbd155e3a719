package geosync

import (
	"context"
	"sync"
	"time"
)

// per-stream state machine is:
// coalesceStateIdle
//
//	-> coalesceStatePending (delta arrived, timer scheduled)
//	  -> coalesceStateIdle (timer fired or stream closed)
type coalesceState string

const (
	coalesceStateIdle    coalesceState = "Idle"
	coalesceStatePending coalesceState = "Pending"
)

type UpdateCoalescerSettings struct {
	DebounceTimeout time.Duration
}

func DefaultUpdateCoalescerSettings() *UpdateCoalescerSettings {
	return &UpdateCoalescerSettings{
		DebounceTimeout: 200 * time.Millisecond,
	}
}

type pendingPublish struct {
	timer   *time.Timer
	publish func()
}

// UpdateCoalescer guarantees at most one downstream publication per debounce
// window per stream. Trailing-edge debounce: each incoming update cancels the
// pending publication for its stream and schedules a new one carrying the
// latest set. Sustained updates below the window delay delivery indefinitely,
// trading latency for UI stability.
type UpdateCoalescer struct {
	ctx    context.Context
	cancel context.CancelFunc

	settings *UpdateCoalescerSettings

	stateLock        sync.Mutex
	pendingPublishes map[string]*pendingPublish
	lastUpdateTime   time.Time
	closed           bool
}

func NewUpdateCoalescerWithDefaults(ctx context.Context) *UpdateCoalescer {
	return NewUpdateCoalescer(ctx, DefaultUpdateCoalescerSettings())
}

func NewUpdateCoalescer(ctx context.Context, settings *UpdateCoalescerSettings) *UpdateCoalescer {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &UpdateCoalescer{
		ctx:              cancelCtx,
		cancel:           cancel,
		settings:         settings,
		pendingPublishes: map[string]*pendingPublish{},
	}
}

// Update schedules `publish` to run one debounce window in the future,
// replacing any publication already pending for the stream.
func (self *UpdateCoalescer) Update(stream string, publish func()) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.closed {
		return
	}

	if pending, ok := self.pendingPublishes[stream]; ok {
		pending.timer.Stop()
	}
	pending := &pendingPublish{
		publish: publish,
	}
	pending.timer = time.AfterFunc(self.settings.DebounceTimeout, func() {
		self.fire(stream, pending)
	})
	self.pendingPublishes[stream] = pending
}

func (self *UpdateCoalescer) fire(stream string, pending *pendingPublish) {
	self.stateLock.Lock()
	if self.pendingPublishes[stream] != pending {
		// superseded or closed after the timer fired
		self.stateLock.Unlock()
		return
	}
	delete(self.pendingPublishes, stream)
	self.stampWithLock()
	self.stateLock.Unlock()

	metricPublishes.Inc()
	pending.publish()
}

// ForceRefresh stamps the last update time without altering any pending or
// published data, for consumers that need to signal "re-render now".
func (self *UpdateCoalescer) ForceRefresh() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.stampWithLock()
}

// monotonically non-decreasing
func (self *UpdateCoalescer) stampWithLock() {
	if now := time.Now(); now.After(self.lastUpdateTime) {
		self.lastUpdateTime = now
	}
}

func (self *UpdateCoalescer) LastUpdateTime() time.Time {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.lastUpdateTime
}

func (self *UpdateCoalescer) StreamState(stream string) coalesceState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if _, ok := self.pendingPublishes[stream]; ok {
		return coalesceStatePending
	}
	return coalesceStateIdle
}

// Close cancels all pending publications. A timer that already fired may
// still complete an in-flight publish concurrently with Close.
func (self *UpdateCoalescer) Close() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.closed = true
	for stream, pending := range self.pendingPublishes {
		pending.timer.Stop()
		delete(self.pendingPublishes, stream)
	}
	self.cancel()
}
