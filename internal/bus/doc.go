// Package bus owns the MQTT side of the bridge.
//
// Ownership boundary:
// - the publisher connection and its FIFO job queue
// - the command subscription and its own connection
// - the bridge availability topic and last will
//
// Ordering:
//   - jobs leave the queue in the order they were enqueued
//   - a job is retried on the same queue slot across reconnects, so a
//     reconnect never reorders later jobs
//
// Subscription delivery is serialized: a handler runs to completion
// before the next inbound message is read.
package bus
