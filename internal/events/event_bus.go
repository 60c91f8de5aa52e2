// Package events provides the progress event bus: a fan-out channel that
// lets the Gateway and any attached observers watch an analysis session
// move through its stages without coupling them to the coordinator
// directly.
package events

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// EventType categorizes a progress event.
type EventType string

const (
	EventTypeStageStarted    EventType = "stage_started"
	EventTypeStageCompleted  EventType = "stage_completed"
	EventTypeSessionComplete EventType = "session_completed"
	EventTypeRoutingSkipped  EventType = "routing_skipped"
	EventTypeProcessingError EventType = "processing_error"
)

// Event is the interface every published event satisfies.
type Event interface {
	GetType() EventType
	GetTimestamp() time.Time
	GetID() string
}

// BaseEvent provides the common fields every event embeds.
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *BaseEvent) GetType() EventType      { return e.Type }
func (e *BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e *BaseEvent) GetID() string           { return e.ID }

// StageEvent reports a coordinator pipeline stage starting or completing
// for a given session.
type StageEvent struct {
	BaseEvent
	SessionID   string        `json:"sessionId"`
	PortfolioID string        `json:"portfolioId"`
	Stage       string        `json:"stage"`
	Duration    time.Duration `json:"duration,omitempty"`
}

// SessionCompleteEvent reports that a session's full analysis finished.
type SessionCompleteEvent struct {
	BaseEvent
	SessionID             string `json:"sessionId"`
	PortfolioID           string `json:"portfolioId"`
	ScenarioCount         int    `json:"scenarioCount"`
	RecommendedScenarioID string `json:"recommendedScenarioId"`
	MerkleHash            string `json:"merkleHash"`
}

// RoutingSkippedEvent reports that the persona router declined to process
// an inbound event.
type RoutingSkippedEvent struct {
	BaseEvent
	PortfolioID string `json:"portfolioId"`
	Reason      string `json:"reason"`
}

// ProcessingErrorEvent reports a handler or analysis failure.
type ProcessingErrorEvent struct {
	BaseEvent
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// EventHandler processes a single published event.
type EventHandler func(event Event) error

// EventFilter selectively admits events to a subscription.
type EventFilter func(event Event) bool

// SubscriptionOptions configures subscription behavior.
type SubscriptionOptions struct {
	Filter EventFilter
	Async  bool
}

// Subscription represents an active event subscription.
type Subscription struct {
	ID        string
	EventType EventType
	Handler   EventHandler
	Options   SubscriptionOptions
	active    atomic.Bool
}

// IsActive returns whether the subscription is still receiving events.
func (s *Subscription) IsActive() bool {
	return s.active.Load()
}

// EventBusStats reports bus throughput and handler health.
type EventBusStats struct {
	EventsPublished   int64         `json:"eventsPublished"`
	EventsProcessed   int64         `json:"eventsProcessed"`
	EventsDropped     int64         `json:"eventsDropped"`
	ProcessingErrors  int64         `json:"processingErrors"`
	P99Latency        time.Duration `json:"p99Latency"`
	ActiveSubscribers int64         `json:"activeSubscribers"`
}

// EventBusConfig configures the bus's worker pool and buffering.
type EventBusConfig struct {
	NumWorkers int
	BufferSize int
}

// DefaultEventBusConfig returns sensible defaults for a single-node deployment.
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{NumWorkers: 4, BufferSize: 1000}
}

// EventBus routes published progress events to interested subscribers.
type EventBus struct {
	mu             sync.RWMutex
	subscribers    map[EventType][]*Subscription
	allSubscribers []*Subscription

	eventChan   chan Event
	workerCount int

	eventsPublished   atomic.Int64
	eventsProcessed   atomic.Int64
	eventsDropped     atomic.Int64
	processingErrors  atomic.Int64
	activeSubscribers atomic.Int64

	latencies []int64
	latencyMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewEventBus starts a bus with config.NumWorkers goroutines draining a
// buffered channel of config.BufferSize.
func NewEventBus(logger *zap.Logger, config EventBusConfig) *EventBus {
	if config.NumWorkers <= 0 {
		config.NumWorkers = 4
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}

	ctx, cancel := context.WithCancel(context.Background())
	eb := &EventBus{
		subscribers: make(map[EventType][]*Subscription),
		eventChan:   make(chan Event, config.BufferSize),
		workerCount: config.NumWorkers,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
		latencies:   make([]int64, 0, 1000),
	}

	for i := 0; i < config.NumWorkers; i++ {
		eb.wg.Add(1)
		go eb.worker()
	}

	eb.logger.Info("event bus started",
		zap.Int("workers", config.NumWorkers),
		zap.Int("buffer_size", config.BufferSize),
	)
	return eb
}

func (eb *EventBus) worker() {
	defer eb.wg.Done()
	for {
		select {
		case <-eb.ctx.Done():
			return
		case event := <-eb.eventChan:
			start := time.Now()
			eb.processEvent(event)
			eb.trackLatency(time.Since(start).Nanoseconds())
		}
	}
}

func (eb *EventBus) processEvent(event Event) {
	eb.mu.RLock()
	subs := eb.subscribers[event.GetType()]
	allSubs := eb.allSubscribers
	eb.mu.RUnlock()

	for _, sub := range subs {
		eb.dispatch(sub, event)
	}
	for _, sub := range allSubs {
		eb.dispatch(sub, event)
	}
	eb.eventsProcessed.Add(1)
}

func (eb *EventBus) dispatch(sub *Subscription, event Event) {
	if !sub.active.Load() {
		return
	}
	if sub.Options.Filter != nil && !sub.Options.Filter(event) {
		return
	}
	if sub.Options.Async {
		go eb.executeHandler(sub, event)
	} else {
		eb.executeHandler(sub, event)
	}
}

func (eb *EventBus) executeHandler(sub *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.processingErrors.Add(1)
			eb.logger.Error("event handler panic",
				zap.String("subscription_id", sub.ID),
				zap.String("event_type", string(event.GetType())),
				zap.Any("panic", r),
			)
		}
	}()

	if err := sub.Handler(event); err != nil {
		eb.processingErrors.Add(1)
		eb.logger.Warn("event handler error",
			zap.String("subscription_id", sub.ID),
			zap.String("event_type", string(event.GetType())),
			zap.Error(err),
		)
	}
}

func (eb *EventBus) trackLatency(latencyNs int64) {
	eb.latencyMu.Lock()
	defer eb.latencyMu.Unlock()
	eb.latencies = append(eb.latencies, latencyNs)
	if len(eb.latencies) > 1000 {
		eb.latencies = eb.latencies[500:]
	}
}

var subscriptionCounter atomic.Int64

func generateSubscriptionID() string {
	id := subscriptionCounter.Add(1)
	return "sub_" + time.Now().Format("20060102150405") + "_" + itoa(id)
}

func itoa(i int64) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// Subscribe registers a handler for one event type.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler, opts ...SubscriptionOptions) *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	options := SubscriptionOptions{Async: true}
	if len(opts) > 0 {
		options = opts[0]
	}
	sub := &Subscription{ID: generateSubscriptionID(), EventType: eventType, Handler: handler, Options: options}
	sub.active.Store(true)

	eb.subscribers[eventType] = append(eb.subscribers[eventType], sub)
	eb.activeSubscribers.Add(1)
	return sub
}

// SubscribeAll registers a handler for every event type.
func (eb *EventBus) SubscribeAll(handler EventHandler, opts ...SubscriptionOptions) *Subscription {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	options := SubscriptionOptions{Async: true}
	if len(opts) > 0 {
		options = opts[0]
	}
	sub := &Subscription{ID: generateSubscriptionID(), EventType: "*", Handler: handler, Options: options}
	sub.active.Store(true)

	eb.allSubscribers = append(eb.allSubscribers, sub)
	eb.activeSubscribers.Add(1)
	return sub
}

// Unsubscribe deactivates a subscription.
func (eb *EventBus) Unsubscribe(sub *Subscription) {
	sub.active.Store(false)
	eb.activeSubscribers.Add(-1)
}

// Publish sends an event to subscribers without blocking the caller. If
// the internal buffer is full the event is dropped and counted.
func (eb *EventBus) Publish(event Event) {
	select {
	case eb.eventChan <- event:
		eb.eventsPublished.Add(1)
	default:
		eb.eventsDropped.Add(1)
		eb.logger.Warn("event dropped, buffer full", zap.String("event_type", string(event.GetType())))
	}
}

// PublishSync sends an event and processes it before returning.
func (eb *EventBus) PublishSync(event Event) {
	eb.eventsPublished.Add(1)
	eb.processEvent(event)
}

// GetStats returns current bus statistics.
func (eb *EventBus) GetStats() EventBusStats {
	return EventBusStats{
		EventsPublished:   eb.eventsPublished.Load(),
		EventsProcessed:   eb.eventsProcessed.Load(),
		EventsDropped:     eb.eventsDropped.Load(),
		ProcessingErrors:  eb.processingErrors.Load(),
		P99Latency:        eb.p99Latency(),
		ActiveSubscribers: eb.activeSubscribers.Load(),
	}
}

func (eb *EventBus) p99Latency() time.Duration {
	eb.latencyMu.Lock()
	defer eb.latencyMu.Unlock()
	if len(eb.latencies) == 0 {
		return 0
	}
	sorted := make([]int64, len(eb.latencies))
	copy(sorted, eb.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return time.Duration(sorted[idx])
}

// Stop shuts down the bus, waiting up to five seconds for in-flight
// handlers to drain.
func (eb *EventBus) Stop() {
	eb.logger.Info("stopping event bus")
	eb.cancel()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.logger.Info("event bus stopped",
			zap.Int64("events_processed", eb.eventsProcessed.Load()),
			zap.Int64("events_dropped", eb.eventsDropped.Load()),
		)
	case <-time.After(5 * time.Second):
		eb.logger.Warn("event bus shutdown timed out")
	}
}

var eventCounter atomic.Int64

func generateEventID() string {
	id := eventCounter.Add(1)
	return "evt_" + time.Now().Format("20060102150405") + "_" + itoa(id)
}

// NewStageEvent builds a stage_started/stage_completed event.
func NewStageEvent(eventType EventType, sessionID, portfolioID, stage string, duration time.Duration) *StageEvent {
	return &StageEvent{
		BaseEvent: BaseEvent{ID: generateEventID(), Type: eventType, Timestamp: time.Now()},
		SessionID: sessionID, PortfolioID: portfolioID, Stage: stage, Duration: duration,
	}
}

// NewSessionCompleteEvent builds a session_completed event.
func NewSessionCompleteEvent(sessionID, portfolioID, recommendedScenarioID, merkleHash string, scenarioCount int) *SessionCompleteEvent {
	return &SessionCompleteEvent{
		BaseEvent:             BaseEvent{ID: generateEventID(), Type: EventTypeSessionComplete, Timestamp: time.Now()},
		SessionID:             sessionID,
		PortfolioID:           portfolioID,
		ScenarioCount:         scenarioCount,
		RecommendedScenarioID: recommendedScenarioID,
		MerkleHash:            merkleHash,
	}
}

// NewRoutingSkippedEvent builds a routing_skipped event.
func NewRoutingSkippedEvent(portfolioID, reason string) *RoutingSkippedEvent {
	return &RoutingSkippedEvent{
		BaseEvent:   BaseEvent{ID: generateEventID(), Type: EventTypeRoutingSkipped, Timestamp: time.Now()},
		PortfolioID: portfolioID,
		Reason:      reason,
	}
}

// NewProcessingErrorEvent builds a processing_error event.
func NewProcessingErrorEvent(sessionID, message string) *ProcessingErrorEvent {
	return &ProcessingErrorEvent{
		BaseEvent: BaseEvent{ID: generateEventID(), Type: EventTypeProcessingError, Timestamp: time.Now()},
		SessionID: sessionID,
		Message:   message,
	}
}
