// Package events carries in-process notifications between the engine and
// its consumers (websocket hub, logging, persistence hooks).
package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSignalEmitted        EventType = "SIGNAL_EMITTED"
	EventSignalBlocked        EventType = "SIGNAL_BLOCKED"
	EventOutcomeRecorded      EventType = "OUTCOME_RECORDED"
	EventQualityFailed        EventType = "QUALITY_FAILED"
	EventStructureEvent       EventType = "STRUCTURE_EVENT"
	EventCircuitBreakerUpdate EventType = "CIRCUIT_BREAKER_UPDATE"
	EventWeightsSwapped       EventType = "WEIGHTS_SWAPPED"
	EventRegimeUpdate         EventType = "REGIME_UPDATE"
	EventError                EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. Handlers run in their own
// goroutines so a slow consumer never blocks the engine.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishSignalEmitted publishes an emitted signal notification
func (eb *EventBus) PublishSignalEmitted(id, symbol, timeframe string, score float64, tier string) {
	eb.Publish(Event{
		Type: EventSignalEmitted,
		Data: map[string]interface{}{
			"id":        id,
			"symbol":    symbol,
			"timeframe": timeframe,
			"score":     score,
			"tier":      tier,
		},
	})
}

// PublishSignalBlocked publishes a blocked evaluation with its reason
func (eb *EventBus) PublishSignalBlocked(symbol, timeframe, reason string, score float64) {
	eb.Publish(Event{
		Type: EventSignalBlocked,
		Data: map[string]interface{}{
			"symbol":    symbol,
			"timeframe": timeframe,
			"reason":    reason,
			"score":     score,
		},
	})
}

// PublishOutcomeRecorded publishes a resolved signal outcome
func (eb *EventBus) PublishOutcomeRecorded(id, symbol, outcome string, realizedReturn float64) {
	eb.Publish(Event{
		Type: EventOutcomeRecorded,
		Data: map[string]interface{}{
			"id":              id,
			"symbol":          symbol,
			"outcome":         outcome,
			"realized_return": realizedReturn,
		},
	})
}

// PublishBreakerTransition publishes a circuit breaker state change
func (eb *EventBus) PublishBreakerTransition(symbol, from, to, reason string) {
	eb.Publish(Event{
		Type: EventCircuitBreakerUpdate,
		Data: map[string]interface{}{
			"symbol": symbol,
			"from":   from,
			"to":     to,
			"reason": reason,
		},
	})
}

// PublishWeightsSwapped publishes a weight table replacement
func (eb *EventBus) PublishWeightsSwapped(version int, source string, accuracy float64) {
	eb.Publish(Event{
		Type: EventWeightsSwapped,
		Data: map[string]interface{}{
			"version":  version,
			"source":   source,
			"accuracy": accuracy,
		},
	})
}
