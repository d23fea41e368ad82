package frame

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		FrameLength: HeaderLength + 100,
		Version:     CurrentVersion,
		Flags:       FlagUnfragmented,
		Type:        TypeData,
		TermOffset:  4096,
		SessionID:   -12345,
		StreamID:    1001,
		TermID:      42,
		Reserved:    -1,
	}
	var buf [HeaderLength]byte
	EncodeHeader(buf[:], h)

	got := DecodeHeader(buf[:])
	if got != h {
		t.Fatalf("decoded header mismatch:\n got %+v\nwant %+v", got, h)
	}
	if FrameLength(buf[:]) != h.FrameLength {
		t.Fatalf("FrameLength peek = %d", FrameLength(buf[:]))
	}
	if IsPadding(buf[:]) {
		t.Fatal("data frame reported as padding")
	}
}

func TestPaddingDetection(t *testing.T) {
	var buf [HeaderLength]byte
	EncodeHeader(buf[:], Header{FrameLength: 64, Type: TypePad})
	if !IsPadding(buf[:]) {
		t.Fatal("padding frame not detected")
	}
}

func TestAlignedLength(t *testing.T) {
	if got := (Header{FrameLength: HeaderLength + 1}).AlignedLength(); got != 64 {
		t.Fatalf("AlignedLength = %d, want 64", got)
	}
	if got := (Header{FrameLength: 64}).AlignedLength(); got != 64 {
		t.Fatalf("AlignedLength = %d, want 64", got)
	}
}
