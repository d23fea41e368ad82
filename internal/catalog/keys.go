package catalog

import "encoding/binary"

// Keyspace helpers for Pebble keys, lexicographically ordered so recording
// ids list in ascending order:
//   - cat/m            (catalog metadata: next recording id)
//   - cat/r/{id_be8}   (descriptor records)

var (
	metaKey     = []byte("cat/m")
	entryPrefix = []byte("cat/r/")
)

// KeyMeta returns the catalog metadata key.
func KeyMeta() []byte { return metaKey }

// KeyDescriptor builds the descriptor key for a recording id.
func KeyDescriptor(recordingID int64) []byte {
	k := make([]byte, 0, len(entryPrefix)+8)
	k = append(k, entryPrefix...)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(recordingID))
	return append(k, b[:]...)
}

// KeyDescriptorBounds returns the [low, high) iteration bounds over all
// descriptor keys.
func KeyDescriptorBounds() (low, high []byte) {
	low = KeyDescriptor(0)
	high = append(append([]byte{}, entryPrefix...),
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00)
	return low, high
}

// RecordingIDFromKey extracts the recording id from a descriptor key.
func RecordingIDFromKey(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[len(entryPrefix):]))
}
