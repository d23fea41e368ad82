// Package segment implements the per-recording segment-file store.
//
// A recording's position range is split into fixed-length segment files
// named <recordingId>-<segmentIndex>.seg under the archive root. Segment
// boundaries are term-aligned by construction, files are created lazily on
// first write into their range, and a segment is never reopened for write
// once the store has rotated past it. Any I/O failure surfaces as
// *StorageError and is never retried.
package segment
