package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Alfaiis/aeron/internal/position"
)

// SyncMode defines durability behavior for segment writes.
type SyncMode int

const (
	// SyncModeNever relies on eventual OS flush. Crash recovery of an
	// in-progress recording may lose the unsynced tail; replay integrity of
	// written bytes is unaffected.
	SyncModeNever SyncMode = iota
	// SyncModeAlways fsyncs after every write.
	SyncModeAlways
	// SyncModeInterval fsyncs once at least IntervalBytes have been written
	// since the last sync.
	SyncModeInterval
)

// Options configures a per-recording segment store.
type Options struct {
	// Dir is the archive root directory.
	Dir string
	// RecordingID keys the segment files on disk.
	RecordingID int64
	// TermLength is the recording's term buffer length (power of two).
	TermLength int32
	// SegmentLength is the fixed segment file length (power of two,
	// multiple of TermLength).
	SegmentLength int64
	// Sync selects the durability policy.
	Sync SyncMode
	// SyncIntervalBytes applies when Sync is SyncModeInterval.
	SyncIntervalBytes int64
}

// StorageError wraps a disk I/O failure. It terminates the affected session
// only and is never retried transparently; retrying a partial write risks
// silent loss or duplication.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("segment: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Store manages the append-only, term-aligned segment files of a single
// recording. A segment holds the contiguous position range
// [index*SegmentLength, (index+1)*SegmentLength) and is never reopened for
// write once the store has rotated past it.
type Store struct {
	dir           string
	recordingID   int64
	termLength    int32
	segmentLength int64
	sync          SyncMode
	syncInterval  int64

	maxWriteIndex int64
}

// NewStore validates the geometry and returns a store rooted at
// opts.Dir. No file is created until the first write into its range.
func NewStore(opts Options) (*Store, error) {
	if err := position.ValidateGeometry(opts.TermLength, opts.SegmentLength); err != nil {
		return nil, err
	}
	if opts.Dir == "" {
		return nil, fmt.Errorf("segment: Options.Dir is required")
	}
	if opts.Sync == SyncModeInterval && opts.SyncIntervalBytes <= 0 {
		opts.SyncIntervalBytes = 1 << 20
	}
	return &Store{
		dir:           opts.Dir,
		recordingID:   opts.RecordingID,
		termLength:    opts.TermLength,
		segmentLength: opts.SegmentLength,
		sync:          opts.Sync,
		syncInterval:  opts.SyncIntervalBytes,
		maxWriteIndex: -1,
	}, nil
}

// SegmentLength returns the fixed segment file length.
func (s *Store) SegmentLength() int64 { return s.segmentLength }

// FileName returns the on-disk name for a (recordingId, segmentIndex) pair.
func FileName(recordingID, segmentIndex int64) string {
	return fmt.Sprintf("%d-%d.seg", recordingID, segmentIndex)
}

func (s *Store) path(segmentIndex int64) string {
	return filepath.Join(s.dir, FileName(s.recordingID, segmentIndex))
}

// Open opens the segment file at segmentIndex for writing, creating it
// lazily at its fixed length. Opening a segment at or below one already
// rotated past is an invariant violation.
func (s *Store) Open(segmentIndex int64) (*File, error) {
	if segmentIndex <= s.maxWriteIndex {
		return nil, fmt.Errorf("segment: reopen of immutable segment %d (frontier %d)",
			segmentIndex, s.maxWriteIndex)
	}
	path := s.path(segmentIndex)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, &StorageError{Op: "open", Path: path, Err: err}
	}
	if err := f.Truncate(s.segmentLength); err != nil {
		f.Close()
		return nil, &StorageError{Op: "truncate", Path: path, Err: err}
	}
	s.maxWriteIndex = segmentIndex
	return &File{f: f, path: path, index: segmentIndex, store: s, writable: true}, nil
}

// OpenRead opens the segment file at segmentIndex read-only.
func (s *Store) OpenRead(segmentIndex int64) (*File, error) {
	path := s.path(segmentIndex)
	f, err := os.Open(path)
	if err != nil {
		return nil, &StorageError{Op: "open", Path: path, Err: err}
	}
	return &File{f: f, path: path, index: segmentIndex, store: s}, nil
}

// Delete removes every segment file of the given recording under dir.
func Delete(dir string, recordingID int64) error {
	prefix := strconv.FormatInt(recordingID, 10) + "-"
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &StorageError{Op: "readdir", Path: dir, Err: err}
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".seg") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return &StorageError{Op: "remove", Path: name, Err: err}
		}
	}
	return nil
}

// File is one open segment. Handles are exclusively owned by their session
// for the session's lifetime.
type File struct {
	f        *os.File
	path     string
	index    int64
	store    *Store
	writable bool

	appendOffset int64
	unsynced     int64
}

// Index returns the segment index of the file.
func (f *File) Index() int64 { return f.index }

// Write appends b at offset within the segment. The write must stay within
// one term and one segment and must not rewind below the append frontier.
func (f *File) Write(offset int64, b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if !f.writable {
		return fmt.Errorf("segment: write to read-only segment %s", f.path)
	}
	length := int64(len(b))
	if offset < f.appendOffset || offset+length > f.store.segmentLength {
		return fmt.Errorf("segment: write [%d,%d) outside append range [%d,%d) of %s",
			offset, offset+length, f.appendOffset, f.store.segmentLength, f.path)
	}
	termLen := int64(f.store.termLength)
	if offset/termLen != (offset+length-1)/termLen {
		return fmt.Errorf("segment: write [%d,%d) spans a term boundary in %s",
			offset, offset+length, f.path)
	}
	if _, err := f.f.WriteAt(b, offset); err != nil {
		return &StorageError{Op: "write", Path: f.path, Err: err}
	}
	f.appendOffset = offset + length
	f.unsynced += length

	switch f.store.sync {
	case SyncModeAlways:
		return f.Sync()
	case SyncModeInterval:
		if f.unsynced >= f.store.syncInterval {
			return f.Sync()
		}
	}
	return nil
}

// Read returns length bytes starting at offset within the segment.
func (f *File) Read(offset int64, length int32) ([]byte, error) {
	if offset < 0 || offset+int64(length) > f.store.segmentLength {
		return nil, fmt.Errorf("segment: read [%d,%d) outside segment %s",
			offset, offset+int64(length), f.path)
	}
	buf := make([]byte, length)
	if _, err := f.f.ReadAt(buf, offset); err != nil {
		return nil, &StorageError{Op: "read", Path: f.path, Err: err}
	}
	return buf, nil
}

// Sync flushes written bytes to stable storage.
func (f *File) Sync() error {
	if err := f.f.Sync(); err != nil {
		return &StorageError{Op: "sync", Path: f.path, Err: err}
	}
	f.unsynced = 0
	return nil
}

// Close closes the file, syncing first when the store policy syncs at all
// and the handle is writable.
func (f *File) Close() error {
	if f.writable && f.store.sync != SyncModeNever && f.unsynced > 0 {
		if err := f.Sync(); err != nil {
			f.f.Close()
			return err
		}
	}
	if err := f.f.Close(); err != nil {
		return &StorageError{Op: "close", Path: f.path, Err: err}
	}
	return nil
}
