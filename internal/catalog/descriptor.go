package catalog

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// State is the lifecycle state of a recording descriptor.
type State uint8

const (
	// StateProvisional: a start request was accepted and an image became
	// available, but no byte has been durably written yet.
	StateProvisional State = iota
	// StateActive: at least one byte has been durably written.
	StateActive
	// StateClosed: the recording stopped; the descriptor is immutable from
	// here on and is the only state exposed for a finished recording.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateProvisional:
		return "provisional"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// NullPosition marks an endPosition not yet set.
const NullPosition int64 = -1

// NullTimestamp marks an endTimestamp not yet set.
const NullTimestamp int64 = -1

// Descriptor is the durable metadata record of one recording. Once closed,
// joinPosition <= Position <= EndPosition holds and EndPosition and
// EndTimestamp are never retracted.
type Descriptor struct {
	RecordingID       int64
	State             State
	SessionID         int32
	StreamID          int32
	StrippedChannel   string
	OriginalChannel   string
	SourceIdentity    string
	InitialTermID     int32
	TermBufferLength  int32
	SegmentFileLength int64
	MTULength         int32
	JoinPosition      int64
	EndPosition       int64
	JoinTimestamp     int64
	EndTimestamp      int64
	// Position is the last checkpointed recorded position. For a closed
	// recording it equals EndPosition; while active it trails the live
	// recorded position by at most one progress cycle.
	Position int64
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ErrCorruptDescriptor reports a descriptor record failing its checksum or
// framing.
var ErrCorruptDescriptor = errors.New("catalog: corrupt descriptor record")

func appendBE4(dst []byte, v int32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return append(dst, b[:]...)
}

func appendBE8(dst []byte, v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return append(dst, b[:]...)
}

func appendString(dst []byte, s string) []byte {
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], uint64(len(s)))
	dst = append(dst, tmp[:n]...)
	return append(dst, s...)
}

// EncodeDescriptor appends the binary form of d to dst: fixed big-endian
// fields, varint-prefixed strings, trailing crc32c.
func EncodeDescriptor(dst []byte, d *Descriptor) []byte {
	start := len(dst)
	dst = append(dst, byte(d.State))
	dst = appendBE8(dst, d.RecordingID)
	dst = appendBE4(dst, d.SessionID)
	dst = appendBE4(dst, d.StreamID)
	dst = appendBE4(dst, d.InitialTermID)
	dst = appendBE4(dst, d.TermBufferLength)
	dst = appendBE8(dst, d.SegmentFileLength)
	dst = appendBE4(dst, d.MTULength)
	dst = appendBE8(dst, d.JoinPosition)
	dst = appendBE8(dst, d.EndPosition)
	dst = appendBE8(dst, d.JoinTimestamp)
	dst = appendBE8(dst, d.EndTimestamp)
	dst = appendBE8(dst, d.Position)
	dst = appendString(dst, d.StrippedChannel)
	dst = appendString(dst, d.OriginalChannel)
	dst = appendString(dst, d.SourceIdentity)

	crc := crc32.Update(0, castagnoli, dst[start:])
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc)
	return append(dst, crcb[:]...)
}

type reader struct {
	b   []byte
	off int
	bad bool
}

func (r *reader) be4() int32 {
	if r.bad || r.off+4 > len(r.b) {
		r.bad = true
		return 0
	}
	v := int32(binary.BigEndian.Uint32(r.b[r.off:]))
	r.off += 4
	return v
}

func (r *reader) be8() int64 {
	if r.bad || r.off+8 > len(r.b) {
		r.bad = true
		return 0
	}
	v := int64(binary.BigEndian.Uint64(r.b[r.off:]))
	r.off += 8
	return v
}

func (r *reader) byte1() byte {
	if r.bad || r.off+1 > len(r.b) {
		r.bad = true
		return 0
	}
	v := r.b[r.off]
	r.off++
	return v
}

func (r *reader) str() string {
	if r.bad {
		return ""
	}
	l, n := binary.Uvarint(r.b[r.off:])
	if n <= 0 || l > uint64(len(r.b)-r.off-n) {
		r.bad = true
		return ""
	}
	s := string(r.b[r.off+n : r.off+n+int(l)])
	r.off += n + int(l)
	return s
}

// DecodeDescriptor parses a record produced by EncodeDescriptor, verifying
// the checksum.
func DecodeDescriptor(b []byte) (Descriptor, error) {
	if len(b) < 4 {
		return Descriptor{}, ErrCorruptDescriptor
	}
	body, tail := b[:len(b)-4], b[len(b)-4:]
	if crc32.Update(0, castagnoli, body) != binary.BigEndian.Uint32(tail) {
		return Descriptor{}, ErrCorruptDescriptor
	}

	r := &reader{b: body}
	d := Descriptor{}
	d.State = State(r.byte1())
	d.RecordingID = r.be8()
	d.SessionID = r.be4()
	d.StreamID = r.be4()
	d.InitialTermID = r.be4()
	d.TermBufferLength = r.be4()
	d.SegmentFileLength = r.be8()
	d.MTULength = r.be4()
	d.JoinPosition = r.be8()
	d.EndPosition = r.be8()
	d.JoinTimestamp = r.be8()
	d.EndTimestamp = r.be8()
	d.Position = r.be8()
	d.StrippedChannel = r.str()
	d.OriginalChannel = r.str()
	d.SourceIdentity = r.str()
	if r.bad || r.off != len(body) {
		return Descriptor{}, ErrCorruptDescriptor
	}
	return d, nil
}
