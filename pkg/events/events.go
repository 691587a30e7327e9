package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventAccountCreated  EventType = "account.created"
	EventInstanceCreated EventType = "instance.created"
	EventInstanceUpdated EventType = "instance.updated"
	EventInstanceDeleted EventType = "instance.deleted"
	EventNodeJoined      EventType = "node.joined"
	EventNodeLeft        EventType = "node.left"
	EventNodeDown        EventType = "node.down"
	EventPeerJoined      EventType = "peer.joined"
	EventPeerLeft        EventType = "peer.left"
	EventDnsZoneUpdated  EventType = "dnszone.updated"
	EventQueueOp         EventType = "queue.op"
)

// Event represents a state-store event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// subscription pairs a subscriber channel with the EventTypes it cares
// about; a nil filter receives every event, the same as the old
// broadcast-to-everyone behavior.
type subscription struct {
	ch     Subscriber
	filter map[EventType]bool
}

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]*subscription
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]*subscription),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a subscription that receives every event, regardless
// of type.
func (b *Broker) Subscribe() Subscriber {
	return b.subscribe(nil)
}

// SubscribeTo creates a subscription filtered to the given EventTypes,
// the way a health tracker only cares about node/peer lifecycle churn and
// would otherwise have to filter every unrelated instance/account event
// out of its own buffer by hand.
func (b *Broker) SubscribeTo(types ...EventType) Subscriber {
	filter := make(map[EventType]bool, len(types))
	for _, t := range types {
		filter[t] = true
	}
	return b.subscribe(filter)
}

func (b *Broker) subscribe(filter map[EventType]bool) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = &subscription{ch: sub, filter: filter}
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to every matching subscriber. ID and
// Timestamp are filled in if the caller left them zero.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subscribers {
		if s.filter != nil && !s.filter[event.Type] {
			continue
		}
		select {
		case s.ch <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
