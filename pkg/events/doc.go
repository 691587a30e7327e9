/*
Package events provides an in-memory event broker for broadcasting
replicated state changes to interested subscribers inside a single node.

A subscriber made with Subscribe receives every event; one made with
SubscribeTo receives only the listed Event types, the broker's broadcast
loop skipping the rest. It is in-process only, pkg/queue carries cross-node
propagation of the underlying CRDT ops.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  Publisher → Event Channel (buffer: 100)                  │
	│       ↓                                                    │
	│  Broadcast Loop                                            │
	│       ↓                                                    │
	│  Subscriber Channels (buffer: 50 each)                    │
	│                                                            │
	└────────────────────────────────────────────────────────┘

# Core Components

Event Broker:
  - Central message bus for event distribution
  - Manages subscriber lifecycle
  - Buffered publish (Publish waits only while the 100-event intake is full)
  - Graceful shutdown via stop channel

Event:
  - ID: unique event identifier
  - Type: one of the EventType constants below
  - Timestamp: when the event occurred
  - Message: human-readable description
  - Metadata: key-value pairs for additional context

Subscriber:
  - Channel that receives Event pointers
  - Buffered (50 events) to absorb bursts
  - Created via broker.Subscribe() (every event) or
    broker.SubscribeTo(types...) (listed types only), closed via
    broker.Unsubscribe()

# Event Types

Account: EventAccountCreated

Instance: EventInstanceCreated, EventInstanceUpdated, EventInstanceDeleted

Node: EventNodeJoined, EventNodeLeft, EventNodeDown

Peer: EventPeerJoined, EventPeerLeft

DNS: EventDnsZoneUpdated

Queue: EventQueueOp, emitted whenever a topic op merges locally,
independent of whether it originated on this node or arrived foreign.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			switch event.Type {
			case events.EventNodeDown:
				// trigger a DNS health re-check
			case events.EventPeerLeft:
				// evict any relay sessions through that peer
			}
		}
	}()

	broker.Publish(&events.Event{
		Type:    events.EventInstanceCreated,
		Message: "instance registered",
		Metadata: map[string]string{"instance_id": "inst-123"},
	})

# Integration Points

  - pkg/state: publishes every replicated entity change as it merges,
    local or foreign
  - cmd/formationd: subscribes (SubscribeTo) to node and peer lifecycle
    events and writes each as an audit log line

# Design Notes

Delivery is best-effort: a full subscriber buffer drops the event for that
subscriber rather than stalling the broadcast loop. Publish itself waits
while the broker's 100-event intake buffer is full, and returns without
queueing once the broker is stopped.
There is no persistence, replay, or delivery acknowledgment — a
subscriber that needs durability should write what it receives to its
own store.
*/
package events
