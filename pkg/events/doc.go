/*
Package events provides an in-memory event broker for quorumkv's
node-lifecycle notifications.

The events package implements a lightweight pub/sub bus that decouples
Node's ActionNotifyEvent stream from whoever wants to observe it — the
daemon's own logging, the metrics collector, or a future admin API.
Publish is non-blocking; a full subscriber buffer drops the event rather
than stalling the host loop.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  host loop: Node.NextAction() -> ActionNotifyEvent        │
	│       │                                                    │
	│       ▼                                                    │
	│  Broker.Publish (buffered channel, size 128)              │
	│       │                                                    │
	│       ▼                                                    │
	│  delivery loop -> each Subscriber (buffered, size 32)     │
	│                                                            │
	│  Event types: config.joint, config.settled,               │
	│               leader.elected, leader.stepdown,             │
	│               snapshot.created, snapshot.installed         │
	└────────────────────────────────────────────────────────┘

Subscribe/Unsubscribe follow the standard Go channel-ownership pattern:
the broker owns closing a subscriber's channel, so callers must not
close it themselves.
*/
package events
