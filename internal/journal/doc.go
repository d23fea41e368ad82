// Package journal keeps a durable append-only journal of recording
// lifecycle events (started/stopped), separate from the unacknowledged
// progress broadcast stream.
package journal
