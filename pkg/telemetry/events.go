package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a forge lifecycle event.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`

	// Account and Forge identify the forge instance the event is about.
	Account  string `json:"account,omitempty"`
	Forge    string `json:"forge,omitempty"`
	ServerID string `json:"server_id,omitempty"`

	Message string `json:"message"`
	Level   string `json:"level"`

	Data map[string]any `json:"data,omitempty"`
}

const (
	EventTypeBootStarted   = "forge.boot_started"
	EventTypeStatusChanged = "forge.status_changed"
	EventTypeBootWarning   = "forge.boot_warning"
	EventTypeRebuild       = "forge.rebuild"
	EventTypeBootCompleted = "forge.boot_completed"
	EventTypeBootFailed    = "forge.boot_failed"
	EventTypePolicyDenied  = "policy.denied"
	EventTypeRetry         = "controller.retry"
)

const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles an event. It runs on the publishing goroutine in
// synchronous mode, so it must not block.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish stamps and delivers an event. A nil or disabled publisher drops it.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishBootStarted publishes the start of a forge boot wait.
func (ep *EventPublisher) PublishBootStarted(account, forge, serverID string) error {
	return ep.Publish(Event{
		Type:     EventTypeBootStarted,
		Source:   "forge",
		Account:  account,
		Forge:    forge,
		ServerID: serverID,
		Message:  fmt.Sprintf("Waiting for forge %s to boot", forge),
		Level:    EventLevelInfo,
	})
}

// PublishStatusChanged publishes a boot status transition.
func (ep *EventPublisher) PublishStatusChanged(account, forge, serverID, from, to string) error {
	return ep.Publish(Event{
		Type:     EventTypeStatusChanged,
		Source:   "forge",
		Account:  account,
		Forge:    forge,
		ServerID: serverID,
		Message:  fmt.Sprintf("Forge %s status changed from %s to %s", forge, from, to),
		Level:    EventLevelInfo,
		Data: map[string]any{
			"from": from,
			"to":   to,
		},
	})
}

// PublishBootWarning publishes the long-pending advisory.
func (ep *EventPublisher) PublishBootWarning(account, forge, serverID, status string, pending int) error {
	return ep.Publish(Event{
		Type:     EventTypeBootWarning,
		Source:   "forge",
		Account:  account,
		Forge:    forge,
		ServerID: serverID,
		Message:  fmt.Sprintf("Forge %s still in %s after %d checks", forge, status, pending),
		Level:    EventLevelWarning,
		Data: map[string]any{
			"status":  status,
			"pending": pending,
		},
	})
}

// PublishRebuild publishes a server rebuild.
func (ep *EventPublisher) PublishRebuild(account, forge, serverID, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypeRebuild,
		Source:   "forge",
		Account:  account,
		Forge:    forge,
		ServerID: serverID,
		Message:  fmt.Sprintf("Rebuilding forge %s: %s", forge, reason),
		Level:    EventLevelWarning,
		Data: map[string]any{
			"reason": reason,
		},
	})
}

// PublishBootDone publishes the terminal boot result.
func (ep *EventPublisher) PublishBootDone(account, forge, serverID, status string, duration time.Duration, err error) error {
	e := Event{
		Type:     EventTypeBootCompleted,
		Source:   "forge",
		Account:  account,
		Forge:    forge,
		ServerID: serverID,
		Message:  fmt.Sprintf("Forge %s boot ended with status %s", forge, status),
		Level:    EventLevelInfo,
		Data: map[string]any{
			"status":   status,
			"duration": duration.Seconds(),
		},
	}
	if err != nil {
		e.Type = EventTypeBootFailed
		e.Level = EventLevelError
		e.Data["error"] = err.Error()
	}
	return ep.Publish(e)
}

// PublishPolicyDenied publishes a rejected boot request.
func (ep *EventPublisher) PublishPolicyDenied(account, forge, policy, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyDenied,
		Source:  "policy",
		Account: account,
		Forge:   forge,
		Message: fmt.Sprintf("Policy %s denied forge %s: %s", policy, forge, reason),
		Level:   EventLevelError,
		Data: map[string]any{
			"policy": policy,
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown drains pending events and stops the publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel only allows events of minLevel or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType only allows events of the given types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}
	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByForge only allows events of one forge instance.
func FilterByForge(forge string) EventFilter {
	return func(event Event) bool {
		return event.Forge == forge
	}
}
