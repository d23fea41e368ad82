// Package catalog implements the durable recording catalog.
//
// One descriptor record per recording is kept in Pebble under
// cat/r/{id_be8}, framed with a trailing crc32c; cat/m carries the next
// recording id so the high-water mark survives restarts without replaying
// any recording's data. Ids are monotonic from 0 and never reused. Only the
// conductor mutates the catalog.
package catalog
