package journal

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/Alfaiis/aeron/internal/storage/pebble"
)

// Kind discriminates journal rows.
type Kind uint8

const (
	KindStarted Kind = iota + 1
	KindStopped
)

func (k Kind) String() string {
	switch k {
	case KindStarted:
		return "started"
	case KindStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Event is one durable recording lifecycle event.
type Event struct {
	Seq         uint64
	Kind        Kind
	RecordingID int64
	Position    int64
	TimestampMs int64
}

// Keyspace:
//   - ev/m           (journal metadata: last sequence)
//   - ev/e/{seq_be8} (event rows)

var (
	metaKey     = []byte("ev/m")
	entryPrefix = []byte("ev/e/")
)

func keyEntry(seq uint64) []byte {
	k := make([]byte, 0, len(entryPrefix)+8)
	k = append(k, entryPrefix...)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return append(k, b[:]...)
}

// Journal is a durable, append-only record of recording start/stop events,
// kept alongside the catalog and consumed by the events CLI.
type Journal struct {
	db *pebblestore.DB

	mu      sync.Mutex
	lastSeq uint64
}

// Open initializes the journal and loads the last sequence if present.
func Open(db *pebblestore.DB) (*Journal, error) {
	j := &Journal{db: db}
	meta, err := db.Get(metaKey)
	switch {
	case err == nil && len(meta) >= 8:
		j.lastSeq = binary.BigEndian.Uint64(meta[:8])
	case errors.Is(err, pebblestore.ErrNotFound):
	default:
		return nil, err
	}
	return j, nil
}

// Append records one event and returns its assigned sequence.
func (j *Journal) Append(kind Kind, recordingID, pos, tsMs int64) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	seq := j.lastSeq + 1
	var val [25]byte
	val[0] = byte(kind)
	binary.BigEndian.PutUint64(val[1:], uint64(recordingID))
	binary.BigEndian.PutUint64(val[9:], uint64(pos))
	binary.BigEndian.PutUint64(val[17:], uint64(tsMs))

	b := j.db.NewBatch()
	defer b.Close()
	if err := b.Set(keyEntry(seq), val[:], nil); err != nil {
		return 0, err
	}
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], seq)
	if err := b.Set(metaKey, meta[:], nil); err != nil {
		return 0, err
	}
	if err := j.db.CommitBatch(b); err != nil {
		return 0, err
	}
	j.lastSeq = seq
	return seq, nil
}

// Read returns up to limit events starting at fromSeq (inclusive; 0 means
// from the first event) and the sequence to resume from.
func (j *Journal) Read(fromSeq uint64, limit int) ([]Event, uint64, error) {
	low := keyEntry(0)
	high := append(keyEntry(^uint64(0)), 0x00)
	iter, err := j.db.NewIter(&pebble.IterOptions{LowerBound: low, UpperBound: high})
	if err != nil {
		return nil, fromSeq, err
	}
	defer iter.Close()

	var out []Event
	next := fromSeq
	for ok := iter.SeekGE(keyEntry(fromSeq)); ok; ok = iter.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		v := iter.Value()
		if len(v) < 25 {
			continue
		}
		seq := binary.BigEndian.Uint64(iter.Key()[len(entryPrefix):])
		out = append(out, Event{
			Seq:         seq,
			Kind:        Kind(v[0]),
			RecordingID: int64(binary.BigEndian.Uint64(v[1:])),
			Position:    int64(binary.BigEndian.Uint64(v[9:])),
			TimestampMs: int64(binary.BigEndian.Uint64(v[17:])),
		})
		next = seq + 1
	}
	return out, next, nil
}
