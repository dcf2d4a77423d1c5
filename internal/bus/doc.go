// Package bus connects the consumer to harvester events published on Redis.
//
// The routing key of an event is the Redis channel it was published on. A
// Subscriber pattern-subscribes to the configured channels and hands each
// message to its handler from a single goroutine, so messages are processed
// one at a time in arrival order. Pub/sub has no acknowledgement: a message
// is consumed as soon as it is delivered, whatever the handler does with it.
package bus
