// Package events implements a transactional outbox published to Kafka.
// Events are written in the same transaction as the state change they describe,
// then a background publisher ships them with at-least-once delivery.
package events

// Event is the envelope written to the outbox table. The Kafka topic equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
