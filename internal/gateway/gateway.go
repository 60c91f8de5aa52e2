// Package gateway is the event intake and dispatch layer in front of the
// persona router and coordinator: it owns one priority queue per session,
// drains each in strict priority order, and fans each event out to the
// handlers registered for its kind.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sentinel-uhnw/sentinel/internal/errs"
	"github.com/sentinel-uhnw/sentinel/internal/workers"
	"github.com/sentinel-uhnw/sentinel/pkg/types"
)

// AuditSink is the narrow interface the gateway needs from the audit chain.
type AuditSink interface {
	Add(data map[string]any) (string, error)
}

// Handler processes one dispatched event. An error is logged to the chain
// and does not abort the session's drain.
type Handler func(ctx context.Context, event types.Event) error

type registeredHandler struct {
	id string
	fn Handler
}

// Config tunes gateway behavior.
type Config struct {
	// IdlePollInterval is how long a session's background processing loop
	// sleeps after finding its queue empty before checking again.
	IdlePollInterval time.Duration
	Pool             *workers.PoolConfig
}

// DefaultConfig returns baseline gateway configuration.
func DefaultConfig() Config {
	return Config{
		IdlePollInterval: 50 * time.Millisecond,
		Pool:             workers.DefaultPoolConfig("gateway"),
	}
}

// Gateway owns per-session queues, registered handlers, and the background
// processing loops that drain them.
type Gateway struct {
	logger    *zap.Logger
	chain     AuditSink
	metrics   *Metrics
	pool      *workers.Pool
	scheduler *scheduler
	config    Config

	mu       sync.Mutex
	queues   map[string]*sessionQueue
	handlers map[types.EventKind][]registeredHandler
	stopCh   map[string]chan struct{}

	running bool
}

// New constructs a Gateway. chain may be nil to disable receipt logging.
func New(logger *zap.Logger, chain AuditSink, config Config) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.IdlePollInterval <= 0 {
		config.IdlePollInterval = 50 * time.Millisecond
	}
	if config.Pool == nil {
		config.Pool = workers.DefaultPoolConfig("gateway")
	}

	return &Gateway{
		logger:    logger.Named("gateway"),
		chain:     chain,
		metrics:   newMetrics(),
		pool:      workers.NewPool(logger, config.Pool),
		scheduler: newScheduler(),
		config:    config,
		queues:    make(map[string]*sessionQueue),
		handlers:  make(map[types.EventKind][]registeredHandler),
		stopCh:    make(map[string]chan struct{}),
	}
}

// Start brings up the gateway's worker pool and scheduler. Idempotent.
func (g *Gateway) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running {
		return
	}
	g.running = true
	g.pool.Start()
	g.scheduler.start()
	g.logger.Info("gateway started")
}

// Stop halts all per-session processing loops, the scheduler, and the
// worker pool. Idempotent.
func (g *Gateway) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.running = false
	stopChans := make([]chan struct{}, 0, len(g.stopCh))
	for id, ch := range g.stopCh {
		stopChans = append(stopChans, ch)
		delete(g.stopCh, id)
	}
	g.mu.Unlock()

	for _, ch := range stopChans {
		close(ch)
	}
	g.scheduler.stop()
	_ = g.pool.Stop()
	g.logger.Info("gateway stopped")
}

// Metrics exposes the gateway's prometheus collectors.
func (g *Gateway) Metrics() *Metrics {
	return g.metrics
}

// Submit enqueues event onto its session's priority queue, assigning an
// event id and timestamp if absent. Returns the assigned event id.
func (g *Gateway) Submit(event types.Event) (string, error) {
	if event.SessionID == "" {
		g.metrics.recordRejected(event.Kind)
		return "", fmt.Errorf("%w: session_id is required", errs.ErrValidation)
	}
	if event.EventID == "" {
		event.EventID = generateEventID(event.Kind)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Priority == 0 {
		event.Priority = 5
	}

	g.mu.Lock()
	q, ok := g.queues[event.SessionID]
	if !ok {
		q = newSessionQueue()
		g.queues[event.SessionID] = q
	}
	q.push(event)
	g.mu.Unlock()

	g.metrics.recordReceived(event.Kind)
	g.logReceipt(event)

	return event.EventID, nil
}

func generateEventID(kind types.EventKind) string {
	return string(kind) + "_" + uuid.NewString()[:8]
}

func (g *Gateway) logReceipt(event types.Event) {
	if g.chain == nil {
		return
	}
	eventType := string(event.Kind)
	if event.Kind == types.EventKindMarket {
		eventType = "market_event_detected"
	}

	resource := event.PortfolioID
	_, err := g.chain.Add(map[string]any{
		"event_type": eventType,
		"session_id": event.SessionID,
		"actor":      "gateway",
		"action":     "event_received",
		"resource":   resource,
		"event_id":   event.EventID,
		"priority":   event.Priority,
	})
	if err != nil {
		g.logger.Warn("failed to log event receipt", zap.Error(err))
	}
}

// RegisterHandler attaches fn to every event of the given kind, called in
// registration order. Returns an id that UnregisterHandler accepts.
func (g *Gateway) RegisterHandler(kind types.EventKind, fn Handler) string {
	id := "handler_" + uuid.NewString()[:8]

	g.mu.Lock()
	g.handlers[kind] = append(g.handlers[kind], registeredHandler{id: id, fn: fn})
	g.mu.Unlock()

	return id
}

// UnregisterHandler removes a previously registered handler by id.
func (g *Gateway) UnregisterHandler(kind types.EventKind, id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	handlers := g.handlers[kind]
	for i, h := range handlers {
		if h.id == id {
			g.handlers[kind] = append(handlers[:i], handlers[i+1:]...)
			return
		}
	}
}

// ProcessSession drains sessionID's queue in priority order, dispatching
// each event to every handler registered for its kind. A handler error is
// logged as event_processing_error and does not abort the drain.
func (g *Gateway) ProcessSession(ctx context.Context, sessionID string) int {
	processed := 0
	for {
		event, ok := g.nextEvent(sessionID)
		if !ok {
			return processed
		}
		g.dispatch(ctx, event)
		processed++
	}
}

func (g *Gateway) nextEvent(sessionID string) (types.Event, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	q, ok := g.queues[sessionID]
	if !ok {
		return types.Event{}, false
	}
	return q.pop()
}

func (g *Gateway) dispatch(ctx context.Context, event types.Event) {
	g.mu.Lock()
	handlers := make([]registeredHandler, len(g.handlers[event.Kind]))
	copy(handlers, g.handlers[event.Kind])
	g.mu.Unlock()

	start := time.Now()
	for _, h := range handlers {
		if err := g.invoke(ctx, h.fn, event); err != nil {
			g.logProcessingError(event, err)
		}
	}
	g.metrics.dispatch.Observe(time.Since(start).Seconds())
	g.metrics.recordProcessed(event.Kind)
}

func (g *Gateway) invoke(ctx context.Context, fn Handler, event types.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(ctx, event)
}

func (g *Gateway) logProcessingError(event types.Event, handlerErr error) {
	g.logger.Warn("event handler failed",
		zap.String("event_id", event.EventID),
		zap.String("session_id", event.SessionID),
		zap.Error(handlerErr),
	)
	if g.chain == nil {
		return
	}
	_, err := g.chain.Add(map[string]any{
		"event_type": "event_processing_error",
		"session_id": event.SessionID,
		"actor":      "gateway",
		"action":     "dispatch_failed",
		"resource":   event.EventID,
		"error":      handlerErr.Error(),
	})
	if err != nil {
		g.logger.Warn("failed to log processing error", zap.Error(err))
	}
}

// QueueLength reports how many events are waiting for a session.
func (g *Gateway) QueueLength(sessionID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	q, ok := g.queues[sessionID]
	if !ok {
		return 0
	}
	return q.len()
}

// StartProcessing launches a lightweight background loop that wakes every
// IdlePollInterval and hands sessionID's drain off to the gateway's worker
// pool, so the CPU-bound work of actually running handlers is bounded by
// the pool's worker count even though supervisory loops are cheap enough
// to run one per session. Calling it again for a session already being
// processed is a no-op.
func (g *Gateway) StartProcessing(ctx context.Context, sessionID string) {
	g.mu.Lock()
	if _, ok := g.stopCh[sessionID]; ok {
		g.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	g.stopCh[sessionID] = stop
	g.mu.Unlock()

	go g.processingLoop(ctx, sessionID, stop)
}

func (g *Gateway) processingLoop(ctx context.Context, sessionID string, stop chan struct{}) {
	ticker := time.NewTicker(g.config.IdlePollInterval)
	defer ticker.Stop()

	var draining atomic.Bool
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if g.QueueLength(sessionID) == 0 || draining.Load() {
				continue
			}
			draining.Store(true)
			err := g.pool.SubmitFunc(func() error {
				defer draining.Store(false)
				g.ProcessSession(ctx, sessionID)
				return nil
			})
			if err != nil {
				draining.Store(false)
				g.logger.Debug("session drain not submitted, pool busy", zap.String("session_id", sessionID), zap.Error(err))
			}
		}
	}
}

// StopProcessing cancels sessionID's background processing loop, if one is
// running.
func (g *Gateway) StopProcessing(sessionID string) {
	g.mu.Lock()
	stop, ok := g.stopCh[sessionID]
	if ok {
		delete(g.stopCh, sessionID)
	}
	g.mu.Unlock()

	if ok {
		close(stop)
	}
}
