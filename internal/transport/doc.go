// Package transport defines the archiver's view of the message-transport
// layer: images to record from, publications to replay and respond on, and
// subscriptions carrying control requests.
//
// The transport's own ring buffers, flow control, and wire encoding are out
// of scope; only the position semantics of the frames it delivers matter
// here. The in-process loopback driver implements the same interfaces with
// bounded message queues and term-structured image buffers, and backs both
// the test suites and local mode.
package transport
