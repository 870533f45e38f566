package types

// Admin room name for order lifecycle events.
const RoomAdmin = "admin"

const ActionOrderUpdated = "order:updated"

// EventPublisher delivers events to subscribed clients with at-most-once
// semantics. Publish never blocks on slow subscribers.
type EventPublisher interface {
	LifecycleManager
	Publish(room string, action string, payload interface{}) error
}

type EventMessage struct {
	Action    string      `json:"action"`
	Payload   interface{} `json:"payload"`
	Timestamp int64       `json:"timestamp"`
}
