package admission

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

/* Controller gates every inbound request before handler dispatch. It
 * enforces the global and per-source concurrency ceilings, owns a fixed
 * pool of connection slots, and queues excess requests with a hard
 * timeout. All state is in-memory and rebuilt on boot.
 */

// durationWindow is the number of samples kept for the average-duration metric
const durationWindow = 100

// Connection is the admission record for one accepted request
type Connection struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	UserAgent string    `json:"user_agent"`
	StartedAt time.Time `json:"started_at"`
}

// Config holds admission ceilings and timeouts
type Config struct {
	// MaxConcurrent is the global ceiling of admitted connections
	MaxConcurrent int

	// MaxPerSource is the ceiling per client source address
	MaxPerSource int

	// PoolSlots is the size of the slot pool (defaults to MaxConcurrent)
	PoolSlots int

	// QueueTimeout is the hard ceiling a connection may wait for a slot
	QueueTimeout time.Duration

	// MaxConnectionDuration force-kills connections still active after it
	MaxConnectionDuration time.Duration

	// SlowThreshold marks completed requests as slow above this duration
	SlowThreshold time.Duration
}

// DefaultConfig returns the standard admission ceilings
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:         100,
		MaxPerSource:          10,
		QueueTimeout:          30 * time.Second,
		MaxConnectionDuration: 5 * time.Minute,
		SlowThreshold:         5 * time.Second,
	}
}

// Stats is a point-in-time snapshot of the admission state
type Stats struct {
	Active          int            `json:"active"`
	Queued          int            `json:"queued"`
	MaxConcurrent   int            `json:"max_concurrent"`
	PerSource       map[string]int `json:"per_source"`
	Completed       int64          `json:"completed"`
	SlowRequests    int64          `json:"slow_requests"`
	AverageDuration time.Duration  `json:"average_duration_ns"`
}

// waiter is a queued connection blocked on a free slot. Slot ownership is
// handed from the releasing connection straight to the woken waiter.
type waiter struct {
	source     string
	enqueuedAt time.Time
	admitted   chan struct{}

	// granted is set under the controller mutex before admitted is closed.
	// Only a granted waiter owns a slot; waiters drained at shutdown are
	// woken without one and must never return a token to the pool.
	granted bool
}

type Controller struct {
	config   Config
	queueCap int
	logger   *slog.Logger

	mu         sync.Mutex
	closed     bool
	conns      map[string]*Connection
	perSource  map[string]int
	perAgent   map[string]int
	killTimers map[string]*time.Timer
	queue      []*waiter

	// slot pool as a counting semaphore: send acquires, receive releases
	slots chan struct{}

	durations [durationWindow]time.Duration
	durCount  int
	durNext   int
	completed int64
	slowCount int64
}

// NewController creates an admission controller with the given ceilings
func NewController(config Config, logger *slog.Logger) *Controller {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 100
	}
	if config.MaxPerSource <= 0 {
		config.MaxPerSource = 10
	}
	if config.PoolSlots <= 0 {
		config.PoolSlots = config.MaxConcurrent
	}
	if config.QueueTimeout <= 0 {
		config.QueueTimeout = 30 * time.Second
	}
	if config.MaxConnectionDuration <= 0 {
		config.MaxConnectionDuration = 5 * time.Minute
	}
	if config.SlowThreshold <= 0 {
		config.SlowThreshold = 5 * time.Second
	}
	return &Controller{
		config:     config,
		queueCap:   2 * config.MaxConcurrent,
		logger:     logger.With("component", "admission"),
		conns:      make(map[string]*Connection),
		perSource:  make(map[string]int),
		perAgent:   make(map[string]int),
		killTimers: make(map[string]*time.Timer),
		slots:      make(chan struct{}, config.PoolSlots),
	}
}

// ClientID derives the client identity for a request: first value of
// X-Forwarded-For, then X-Real-IP, then the transport-level address.
func ClientID(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if id := strings.TrimSpace(first); id != "" {
			return id
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Admit decides whether the connection proceeds now, waits in the queue,
// or is rejected with a typed capacity signal.
func (c *Controller) Admit(ctx context.Context, source, userAgent string) (*Connection, error) {
	c.mu.Lock()
	if c.closed {
		cur := len(c.conns)
		c.mu.Unlock()
		return nil, &OverloadedError{Current: cur, Limit: c.config.MaxConcurrent}
	}
	if len(c.conns) >= c.config.MaxConcurrent {
		cur := len(c.conns)
		c.mu.Unlock()
		return nil, &OverloadedError{Current: cur, Limit: c.config.MaxConcurrent}
	}
	if c.perSource[source] >= c.config.MaxPerSource {
		cur := c.perSource[source]
		c.mu.Unlock()
		return nil, &SourceThrottledError{Source: source, Current: cur, Limit: c.config.MaxPerSource}
	}

	select {
	case c.slots <- struct{}{}:
		conn := c.register(source, userAgent)
		c.mu.Unlock()
		return conn, nil
	default:
	}

	if len(c.queue) >= c.queueCap {
		c.mu.Unlock()
		return nil, ErrQueueFull
	}
	w := &waiter{source: source, enqueuedAt: time.Now(), admitted: make(chan struct{})}
	c.queue = append(c.queue, w)
	c.mu.Unlock()

	timer := time.NewTimer(c.config.QueueTimeout)
	defer timer.Stop()

	select {
	case <-w.admitted:
		return c.admitWoken(w, userAgent)
	case <-timer.C:
		if c.abandon(w) {
			return nil, ErrQueueTimeout
		}
		// Lost the race: the waiter was woken while the timer fired
		<-w.admitted
		if w.granted {
			c.giveBackSlot()
		}
		return nil, ErrQueueTimeout
	case <-ctx.Done():
		if c.abandon(w) {
			return nil, ctx.Err()
		}
		<-w.admitted
		if w.granted {
			c.giveBackSlot()
		}
		return nil, ctx.Err()
	}
}

// admitWoken finishes admission for a woken waiter. Ceilings are
// re-checked so a burst from the same source while queued cannot break
// the per-source invariant. On rejection the slot is passed on only if
// the waiter actually held one; shutdown-drained waiters do not.
func (c *Controller) admitWoken(w *waiter, userAgent string) (*Connection, error) {
	c.mu.Lock()
	if c.closed || len(c.conns) >= c.config.MaxConcurrent {
		cur := len(c.conns)
		if w.granted {
			c.handoffOrFree()
		}
		c.mu.Unlock()
		return nil, &OverloadedError{Current: cur, Limit: c.config.MaxConcurrent}
	}
	if c.perSource[w.source] >= c.config.MaxPerSource {
		cur := c.perSource[w.source]
		if w.granted {
			c.handoffOrFree()
		}
		c.mu.Unlock()
		return nil, &SourceThrottledError{Source: w.source, Current: cur, Limit: c.config.MaxPerSource}
	}
	conn := c.register(w.source, userAgent)
	c.mu.Unlock()
	return conn, nil
}

// register books a connection. Caller holds the mutex and owns a slot.
func (c *Controller) register(source, userAgent string) *Connection {
	conn := &Connection{
		ID:        uuid.New().String(),
		Source:    source,
		UserAgent: userAgent,
		StartedAt: time.Now(),
	}
	c.conns[conn.ID] = conn
	c.perSource[source]++
	c.perAgent[userAgent]++
	id := conn.ID
	c.killTimers[id] = time.AfterFunc(c.config.MaxConnectionDuration, func() {
		c.forceKill(id)
	})
	return conn
}

// abandon removes a waiter from the queue. Returns false when the waiter
// was already woken, by a slot handoff or the shutdown drain.
func (c *Controller) abandon(w *waiter) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, q := range c.queue {
		if q == w {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return true
		}
	}
	return false
}

// giveBackSlot returns a granted-but-unwanted slot to the pool, waking the
// next waiter if one is queued.
func (c *Controller) giveBackSlot() {
	c.mu.Lock()
	c.handoffOrFree()
	c.mu.Unlock()
}

// handoffOrFree transfers the caller's slot to the first queued waiter, or
// returns it to the pool when the queue is empty. Exactly one queued
// connection is woken per freed slot. Caller holds the mutex.
func (c *Controller) handoffOrFree() {
	if len(c.queue) > 0 {
		w := c.queue[0]
		c.queue = c.queue[1:]
		w.granted = true
		close(w.admitted)
		return
	}
	<-c.slots
}

// Release completes a connection: duration bookkeeping, counter
// decrements, slot handoff to the queue head.
func (c *Controller) Release(id string) {
	c.mu.Lock()
	conn, ok := c.conns[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	duration := time.Since(conn.StartedAt)

	c.remove(conn)
	c.durations[c.durNext] = duration
	c.durNext = (c.durNext + 1) % durationWindow
	if c.durCount < durationWindow {
		c.durCount++
	}
	c.completed++
	slow := duration > c.config.SlowThreshold
	if slow {
		c.slowCount++
	}
	c.handoffOrFree()
	c.mu.Unlock()

	if slow {
		c.logger.Warn("slow request",
			"connection_id", id,
			"source", conn.Source,
			"duration", duration,
			"threshold", c.config.SlowThreshold,
		)
	}
}

// Fail completes a connection that errored in its handler. Same cleanup as
// Release without the duration metrics.
func (c *Controller) Fail(id string, err error) {
	c.mu.Lock()
	conn, ok := c.conns[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	c.remove(conn)
	c.handoffOrFree()
	c.mu.Unlock()

	c.logger.Debug("connection failed",
		"connection_id", id,
		"source", conn.Source,
		"error", err,
	)
}

// remove deletes the record and decrements counters. Caller holds the
// mutex and must hand off or free the slot afterwards.
func (c *Controller) remove(conn *Connection) {
	delete(c.conns, conn.ID)
	if t, ok := c.killTimers[conn.ID]; ok {
		t.Stop()
		delete(c.killTimers, conn.ID)
	}
	if c.perSource[conn.Source] <= 1 {
		delete(c.perSource, conn.Source)
	} else {
		c.perSource[conn.Source]--
	}
	if c.perAgent[conn.UserAgent] <= 1 {
		delete(c.perAgent, conn.UserAgent)
	} else {
		c.perAgent[conn.UserAgent]--
	}
}

// forceKill removes a connection that exceeded its maximum lifetime
func (c *Controller) forceKill(id string) {
	c.mu.Lock()
	conn, ok := c.conns[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	c.remove(conn)
	c.handoffOrFree()
	c.mu.Unlock()

	c.logger.Warn("connection killed after exceeding max duration",
		"connection_id", id,
		"source", conn.Source,
		"max_duration", c.config.MaxConnectionDuration,
	)
}

// Kill is the administrative removal of one or all matching connections.
// Best-effort cleanup: it never fails, and runs none of the completion
// bookkeeping. Returns the number of connections removed.
func (c *Controller) Kill(source, id string) int {
	c.mu.Lock()
	var victims []*Connection
	for _, conn := range c.conns {
		if id != "" && conn.ID != id {
			continue
		}
		if source != "" && conn.Source != source {
			continue
		}
		victims = append(victims, conn)
	}
	for _, conn := range victims {
		c.remove(conn)
		c.handoffOrFree()
	}
	c.mu.Unlock()

	if len(victims) > 0 {
		c.logger.Info("connections killed",
			"count", len(victims),
			"source", source,
			"connection_id", id,
		)
	}
	return len(victims)
}

// Shutdown stops admitting and waits up to 30 seconds for the active count
// to reach zero, then force-clears whatever remains.
func (c *Controller) Shutdown(ctx context.Context) {
	c.mu.Lock()
	c.closed = true
	queued := c.queue
	c.queue = nil
	c.mu.Unlock()

	// Drain queued waiters; admitWoken rejects them because closed is set
	for _, w := range queued {
		close(w.admitted)
	}

	deadline := time.Now().Add(30 * time.Second)
poll:
	for time.Now().Before(deadline) {
		if c.ActiveCount() == 0 {
			return
		}
		select {
		case <-ctx.Done():
			break poll
		case <-time.After(100 * time.Millisecond):
		}
	}

	c.mu.Lock()
	remaining := len(c.conns)
	for _, conn := range c.conns {
		if t, ok := c.killTimers[conn.ID]; ok {
			t.Stop()
		}
	}
	c.conns = make(map[string]*Connection)
	c.perSource = make(map[string]int)
	c.perAgent = make(map[string]int)
	c.killTimers = make(map[string]*time.Timer)
	c.mu.Unlock()

	if remaining > 0 {
		c.logger.Warn("forced shutdown with connections still active", "remaining", remaining)
	}
}

// ActiveCount returns the number of currently admitted connections
func (c *Controller) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

// Connections returns copies of all active connection records
func (c *Controller) Connections() []Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Connection, 0, len(c.conns))
	for _, conn := range c.conns {
		out = append(out, *conn)
	}
	return out
}

// Stats returns a snapshot of the admission state
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	perSource := make(map[string]int, len(c.perSource))
	for k, v := range c.perSource {
		perSource[k] = v
	}

	var avg time.Duration
	if c.durCount > 0 {
		var total time.Duration
		for i := 0; i < c.durCount; i++ {
			total += c.durations[i]
		}
		avg = total / time.Duration(c.durCount)
	}

	return Stats{
		Active:          len(c.conns),
		Queued:          len(c.queue),
		MaxConcurrent:   c.config.MaxConcurrent,
		PerSource:       perSource,
		Completed:       c.completed,
		SlowRequests:    c.slowCount,
		AverageDuration: avg,
	}
}
