package control

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/Alfaiis/aeron/internal/catalog"
)

func TestRequestRoundTrip(t *testing.T) {
	reqs := []Request{
		Connect{CorrelationID: 1, ResponseChannel: "mem:resp", ResponseStreamID: 20},
		StartRecording{CorrelationID: 2, Channel: "mem:data", StreamID: 7},
		StopRecording{CorrelationID: 3, Channel: "mem:data", StreamID: 7},
		Replay{CorrelationID: 4, RecordingID: 9, Position: 4096, Length: 1 << 20,
			ReplayChannel: "mem:replay", ReplayStreamID: 30},
		StopReplay{CorrelationID: 5, ReplayID: 2},
		ListRecordings{CorrelationID: 6, FromID: 0, Count: 16},
	}
	for _, want := range reqs {
		got, err := DecodeRequest(EncodeRequest(want))
		if err != nil {
			t.Fatalf("decode %T: %v", want, err)
		}
		if got != want {
			t.Fatalf("round trip %T:\n got %+v\nwant %+v", want, got, want)
		}
	}
}

func TestMalformedRequestRejected(t *testing.T) {
	if _, err := DecodeRequest([]byte{0x7f, 0, 0}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("unknown type: %v", err)
	}
	// Truncated Replay.
	b := EncodeRequest(Replay{CorrelationID: 1, RecordingID: 2})
	if _, err := DecodeRequest(b[:len(b)-6]); !errors.Is(err, ErrMalformed) {
		t.Fatalf("truncated request: %v", err)
	}
}

func TestOversizedStringLengthRejected(t *testing.T) {
	// StartRecording whose channel length claims 2^63 bytes. The length
	// must be rejected before it is narrowed to int.
	b := []byte{typeStartRecording}
	b = append(b, make([]byte, 12)...) // correlation id + stream id
	var l [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(l[:], 1<<63)
	b = append(b, l[:n]...)
	if _, err := DecodeRequest(b); !errors.Is(err, ErrMalformed) {
		t.Fatalf("oversized string length: %v", err)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	d := &catalog.Descriptor{
		RecordingID:       4,
		State:             catalog.StateClosed,
		StreamID:          7,
		StrippedChannel:   "mem:data",
		TermBufferLength:  64 * 1024,
		SegmentFileLength: 128 * 1024,
		MTULength:         1408,
		EndPosition:       8192,
		EndTimestamp:      99,
		Position:          8192,
	}
	resps := []Response{
		OK(1),
		Error(2, CodeError, "replay range invalid"),
		{Kind: KindReplayStarted, CorrelationID: 3, ReplayID: 11},
		{Kind: KindReplayAborted, CorrelationID: 4, EndPosition: 512},
		{Kind: KindDescriptor, CorrelationID: 5, Descriptor: d},
		NotFound(6, 5, 2),
	}
	for _, want := range resps {
		got, err := DecodeResponse(EncodeResponse(want))
		if err != nil {
			t.Fatalf("decode kind %d: %v", want.Kind, err)
		}
		if want.Descriptor != nil {
			if got.Descriptor == nil || *got.Descriptor != *want.Descriptor {
				t.Fatalf("descriptor mismatch: %+v", got.Descriptor)
			}
			got.Descriptor, want.Descriptor = nil, nil
		}
		if got != want {
			t.Fatalf("round trip kind %d:\n got %+v\nwant %+v", want.Kind, got, want)
		}
	}
}

func TestNotFoundCarriesMaxRecordingID(t *testing.T) {
	got, err := DecodeResponse(EncodeResponse(NotFound(10, 5, 2)))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RecordingID != 5 || got.MaxRecordingID != 2 || got.Code != CodeRecordingUnknown {
		t.Fatalf("not-found payload: %+v", got)
	}
}

func TestEventRoundTrip(t *testing.T) {
	evs := []Event{
		{Kind: EventStarted, RecordingID: 1, JoinPosition: 0, SessionID: 42, StreamID: 7, Channel: "mem:data"},
		{Kind: EventProgress, RecordingID: 1, JoinPosition: 0, Position: 4096},
		{Kind: EventStopped, RecordingID: 1, JoinPosition: 0, Position: 8192},
	}
	for _, want := range evs {
		got, err := DecodeEvent(EncodeEvent(want))
		if err != nil {
			t.Fatalf("decode event %d: %v", want.Kind, err)
		}
		if got != want {
			t.Fatalf("event round trip:\n got %+v\nwant %+v", got, want)
		}
	}
}
