package catalog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/Alfaiis/aeron/internal/storage/pebble"
)

// ErrNotFound is returned by Get for an unknown recording id.
var ErrNotFound = errors.New("catalog: recording not found")

// NowMs returns current time in milliseconds since Unix epoch.
var NowMs = func() int64 { return time.Now().UnixMilli() }

// Catalog is the durable, crash-recoverable index of recording descriptors.
// The conductor is the single writer; ids are monotonic from 0 and never
// reused, even for failed recordings.
type Catalog struct {
	db *pebblestore.DB

	mu     sync.Mutex
	nextID int64
}

// Open loads or rebuilds the catalog from db. The highest assigned id is
// recovered from the meta record, or by a key scan when the meta record is
// missing, without touching any recording's data. Descriptors left
// PROVISIONAL or ACTIVE by a crash are closed at their last checkpointed
// position.
func Open(db *pebblestore.DB) (*Catalog, error) {
	c := &Catalog{db: db}

	meta, err := db.Get(KeyMeta())
	switch {
	case err == nil && len(meta) >= 8:
		c.nextID = int64(binary.BigEndian.Uint64(meta[:8]))
	case errors.Is(err, pebblestore.ErrNotFound):
		highest, err := c.scanHighestID()
		if err != nil {
			return nil, err
		}
		c.nextID = highest + 1
	default:
		return nil, err
	}

	if err := c.closeDangling(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) scanHighestID() (int64, error) {
	low, high := KeyDescriptorBounds()
	iter, err := c.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return -1, err
	}
	defer iter.Close()
	if !iter.Last() {
		return -1, nil
	}
	return RecordingIDFromKey(iter.Key()), nil
}

// closeDangling closes every non-CLOSED descriptor at its checkpoint. The
// recoverable loss is bounded by one progress cycle plus any unsynced
// segment tail.
func (c *Catalog) closeDangling() error {
	low, high := KeyDescriptorBounds()
	iter, err := c.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return err
	}
	defer iter.Close()

	now := NowMs()
	for iter.First(); iter.Valid(); iter.Next() {
		d, err := DecodeDescriptor(iter.Value())
		if err != nil {
			return fmt.Errorf("catalog: recovering id %d: %w", RecordingIDFromKey(iter.Key()), err)
		}
		if d.State == StateClosed {
			continue
		}
		if d.Position < d.JoinPosition {
			d.Position = d.JoinPosition
		}
		d.State = StateClosed
		d.EndPosition = d.Position
		d.EndTimestamp = now
		if err := c.db.Set(KeyDescriptor(d.RecordingID), EncodeDescriptor(nil, &d)); err != nil {
			return err
		}
	}
	return nil
}

// Allocate assigns the next recording id to d, marks it PROVISIONAL, and
// persists descriptor and id high-water mark atomically.
func (c *Catalog) Allocate(d *Descriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d.RecordingID = c.nextID
	d.State = StateProvisional
	if d.Position < d.JoinPosition {
		d.Position = d.JoinPosition
	}

	b := c.db.NewBatch()
	defer b.Close()
	if err := b.Set(KeyDescriptor(d.RecordingID), EncodeDescriptor(nil, d), nil); err != nil {
		return err
	}
	var next [8]byte
	binary.BigEndian.PutUint64(next[:], uint64(c.nextID+1))
	if err := b.Set(KeyMeta(), next[:], nil); err != nil {
		return err
	}
	if err := c.db.CommitBatch(b); err != nil {
		return err
	}
	c.nextID++
	return nil
}

// Put persists an updated descriptor. A CLOSED descriptor is immutable;
// attempting to overwrite one is an error.
func (c *Catalog) Put(d *Descriptor) error {
	prev, err := c.Get(d.RecordingID)
	if err != nil {
		return err
	}
	if prev.State == StateClosed {
		return fmt.Errorf("catalog: recording %d is closed and immutable", d.RecordingID)
	}
	return c.db.Set(KeyDescriptor(d.RecordingID), EncodeDescriptor(nil, d))
}

// Get returns the descriptor for recordingID or ErrNotFound.
func (c *Catalog) Get(recordingID int64) (Descriptor, error) {
	if recordingID < 0 {
		return Descriptor{}, ErrNotFound
	}
	v, err := c.db.Get(KeyDescriptor(recordingID))
	if err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return Descriptor{}, ErrNotFound
		}
		return Descriptor{}, err
	}
	return DecodeDescriptor(v)
}

// HighestID returns the highest assigned recording id, or -1 when none has
// been assigned yet.
func (c *Catalog) HighestID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextID - 1
}

// List visits descriptors in ascending recording-id order starting at
// fromID, returning up to limit entries matching pred (nil matches all)
// and the id to resume from.
func (c *Catalog) List(fromID int64, limit int, pred func(*Descriptor) bool) ([]Descriptor, int64, error) {
	if fromID < 0 {
		fromID = 0
	}
	low, high := KeyDescriptorBounds()
	iter, err := c.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return nil, fromID, err
	}
	defer iter.Close()

	var out []Descriptor
	next := fromID
	for ok := iter.SeekGE(KeyDescriptor(fromID)); ok; ok = iter.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		d, err := DecodeDescriptor(iter.Value())
		if err != nil {
			return nil, next, err
		}
		next = d.RecordingID + 1
		if pred == nil || pred(&d) {
			out = append(out, d)
		}
	}
	return out, next, nil
}
