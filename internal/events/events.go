package events

import (
	"sync"
	"time"

	"github.com/rudrab06/PP-FedSLAM/internal/model"
)

// Event represents a generic event structure
type Event struct {
	Type      string
	Timestamp time.Time
	Data      interface{}
}

// RoundCompletedEvent is published after every successful checkpoint.
type RoundCompletedEvent struct {
	Round        int32
	Participants []string
	DeltaNorm    float64
	TotalEpsilon float64
}

// RunFinishedEvent is published once when a run terminates.
type RunFinishedEvent struct {
	ExitCode    int32
	ExitMessage string
}

// ClientPoolChangeEvent reports clients joining or leaving the pool.
type ClientPoolChangeEvent struct {
	ClientsAdded   []*model.Client
	ClientsRemoved []*model.Client
}

// EventBus represents the event bus that handles event subscription and
// dispatching. Subscribers come and go while publishers are active, so the
// subscriber map is mutex-guarded.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan<- Event
}

// NewEventBus creates a new instance of the event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan<- Event),
	}
}

// Subscribe adds a new subscriber for a given event type
func (eb *EventBus) Subscribe(eventType string, subscriber chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// Unsubscribe removes a subscriber for a given event type. Once it returns,
// no publish in flight still holds the channel, so the caller may close it.
func (eb *EventBus) Unsubscribe(eventType string, subscriber chan<- Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subscribers := eb.subscribers[eventType]
	for i, candidate := range subscribers {
		if candidate == subscriber {
			eb.subscribers[eventType] = append(subscribers[:i], subscribers[i+1:]...)
			return
		}
	}
}

// Publish sends an event to all subscribers of a given event type. The read
// lock is held across the sends so Unsubscribe cannot complete mid-publish.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, subscriber := range eb.subscribers[event.Type] {
		subscriber <- event
	}
}
