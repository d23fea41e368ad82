package position

import "testing"

func TestDecomposition(t *testing.T) {
	const termLength = int32(64 * 1024)
	const initialTermID = int32(7)

	cases := []struct {
		pos        int64
		wantTermID int32
		wantOffset int32
	}{
		{0, 7, 0},
		{31, 7, 31},
		{int64(termLength) - 1, 7, termLength - 1},
		{int64(termLength), 8, 0},
		{int64(termLength)*3 + 100, 10, 100},
	}
	for _, c := range cases {
		if got := TermID(c.pos, initialTermID, termLength); got != c.wantTermID {
			t.Fatalf("TermID(%d) = %d, want %d", c.pos, got, c.wantTermID)
		}
		if got := TermOffset(c.pos, termLength); got != c.wantOffset {
			t.Fatalf("TermOffset(%d) = %d, want %d", c.pos, got, c.wantOffset)
		}
	}
}

func TestRecomposeRoundTrip(t *testing.T) {
	const termLength = int32(1 << 16)
	const initialTermID = int32(-3)
	for _, pos := range []int64{0, 1, 4096, 1 << 16, 1<<20 + 32, 1 << 30} {
		id := TermID(pos, initialTermID, termLength)
		off := TermOffset(pos, termLength)
		if got := FromTerm(id, off, initialTermID, termLength); got != pos {
			t.Fatalf("FromTerm(TermID, TermOffset) = %d, want %d", got, pos)
		}
	}
}

func TestAlign(t *testing.T) {
	if got := Align(0, 32); got != 0 {
		t.Fatalf("Align(0) = %d", got)
	}
	if got := Align(1, 32); got != 32 {
		t.Fatalf("Align(1) = %d", got)
	}
	if got := Align(32, 32); got != 32 {
		t.Fatalf("Align(32) = %d", got)
	}
	if got := Align(33, 32); got != 64 {
		t.Fatalf("Align(33) = %d", got)
	}
}

func TestTermCeil(t *testing.T) {
	const l = int32(1024)
	if got := TermCeil(0, l); got != 1024 {
		t.Fatalf("TermCeil(0) = %d", got)
	}
	if got := TermCeil(1023, l); got != 1024 {
		t.Fatalf("TermCeil(1023) = %d", got)
	}
	if got := TermCeil(1024, l); got != 2048 {
		t.Fatalf("TermCeil(1024) = %d", got)
	}
}

func TestValidateGeometry(t *testing.T) {
	if err := ValidateGeometry(64*1024, 1024*1024); err != nil {
		t.Fatalf("valid geometry rejected: %v", err)
	}
	if err := ValidateGeometry(1000, 1024*1024); err == nil {
		t.Fatal("non power-of-two term length accepted")
	}
	if err := ValidateGeometry(64*1024, 96*1024); err == nil {
		t.Fatal("segment not multiple of term accepted")
	}
	if err := ValidateGeometry(128*1024, 64*1024); err == nil {
		t.Fatal("segment shorter than term accepted")
	}
}
