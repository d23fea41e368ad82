// Package pebblestore provides a thin wrapper around Pebble with a fixed
// fsync policy, batches, and ordered iteration. The archiver keeps its
// recording catalog and events journal here; segment data lives in plain
// files outside Pebble.
package pebblestore
