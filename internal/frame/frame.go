package frame

import "encoding/binary"

// Data-frame header layout, little-endian, 32 bytes:
//
//	 0: frameLength  int32
//	 4: version      uint8
//	 5: flags        uint8
//	 6: type         uint16
//	 8: termOffset   int32
//	12: sessionId    int32
//	16: streamId     int32
//	20: termId       int32
//	24: reserved     int64
//
// Frames are aligned to Alignment within a term; the archiver preserves
// this layout verbatim and never re-packs frames.

const (
	// Alignment is the frame alignment within a term.
	Alignment = 32
	// HeaderLength is the fixed data-frame header size.
	HeaderLength = 32
)

// Frame types.
const (
	TypePad  uint16 = 0x00
	TypeData uint16 = 0x01
)

// Fragment flags.
const (
	FlagBegin        uint8 = 0x80
	FlagEnd          uint8 = 0x40
	FlagUnfragmented uint8 = FlagBegin | FlagEnd
)

// CurrentVersion of the frame header layout.
const CurrentVersion uint8 = 0

// Header is the decoded form of a data-frame header.
type Header struct {
	FrameLength int32
	Version     uint8
	Flags       uint8
	Type        uint16
	TermOffset  int32
	SessionID   int32
	StreamID    int32
	TermID      int32
	Reserved    int64
}

// AlignedLength returns the position-space footprint of the frame.
func (h Header) AlignedLength() int32 {
	return Align(h.FrameLength)
}

// Align rounds a frame length up to the frame alignment.
func Align(length int32) int32 {
	return (length + Alignment - 1) &^ (Alignment - 1)
}

// EncodeHeader writes h into dst, which must be at least HeaderLength bytes.
func EncodeHeader(dst []byte, h Header) {
	binary.LittleEndian.PutUint32(dst[0:], uint32(h.FrameLength))
	dst[4] = h.Version
	dst[5] = h.Flags
	binary.LittleEndian.PutUint16(dst[6:], h.Type)
	binary.LittleEndian.PutUint32(dst[8:], uint32(h.TermOffset))
	binary.LittleEndian.PutUint32(dst[12:], uint32(h.SessionID))
	binary.LittleEndian.PutUint32(dst[16:], uint32(h.StreamID))
	binary.LittleEndian.PutUint32(dst[20:], uint32(h.TermID))
	binary.LittleEndian.PutUint64(dst[24:], uint64(h.Reserved))
}

// DecodeHeader reads a header from b, which must be at least HeaderLength
// bytes.
func DecodeHeader(b []byte) Header {
	return Header{
		FrameLength: int32(binary.LittleEndian.Uint32(b[0:])),
		Version:     b[4],
		Flags:       b[5],
		Type:        binary.LittleEndian.Uint16(b[6:]),
		TermOffset:  int32(binary.LittleEndian.Uint32(b[8:])),
		SessionID:   int32(binary.LittleEndian.Uint32(b[12:])),
		StreamID:    int32(binary.LittleEndian.Uint32(b[16:])),
		TermID:      int32(binary.LittleEndian.Uint32(b[20:])),
		Reserved:    int64(binary.LittleEndian.Uint64(b[24:])),
	}
}

// FrameLength peeks the frame length without decoding the full header.
func FrameLength(b []byte) int32 {
	return int32(binary.LittleEndian.Uint32(b))
}

// IsPadding reports whether the frame at b is a padding frame.
func IsPadding(b []byte) bool {
	return binary.LittleEndian.Uint16(b[6:]) == TypePad
}
