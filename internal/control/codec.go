package control

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Alfaiis/aeron/internal/catalog"
)

// Wire encoding: one message per transport offer, a leading type byte, then
// fixed big-endian fields and varint-prefixed strings.

// Request type bytes.
const (
	typeConnect        byte = 0x01
	typeStartRecording byte = 0x02
	typeStopRecording  byte = 0x03
	typeReplay         byte = 0x04
	typeStopReplay     byte = 0x05
	typeListRecordings byte = 0x06
)

// Response and event type bytes.
const (
	typeResponse byte = 0x41
	typeEvent    byte = 0x51
)

// ErrMalformed reports an undecodable control message.
var ErrMalformed = errors.New("control: malformed message")

// Request is one decoded client request. Every request carries the
// client-chosen correlation id used to match its response.
type Request interface {
	Correlation() int64
}

type Connect struct {
	CorrelationID    int64
	ResponseChannel  string
	ResponseStreamID int32
}

type StartRecording struct {
	CorrelationID int64
	Channel       string
	StreamID      int32
}

type StopRecording struct {
	CorrelationID int64
	Channel       string
	StreamID      int32
}

type Replay struct {
	CorrelationID  int64
	RecordingID    int64
	Position       int64
	Length         int64
	ReplayChannel  string
	ReplayStreamID int32
}

type StopReplay struct {
	CorrelationID int64
	ReplayID      int64
}

type ListRecordings struct {
	CorrelationID int64
	FromID        int64
	Count         int32
}

func (r Connect) Correlation() int64        { return r.CorrelationID }
func (r StartRecording) Correlation() int64 { return r.CorrelationID }
func (r StopRecording) Correlation() int64  { return r.CorrelationID }
func (r Replay) Correlation() int64         { return r.CorrelationID }
func (r StopReplay) Correlation() int64     { return r.CorrelationID }
func (r ListRecordings) Correlation() int64 { return r.CorrelationID }

// ResponseKind tags the single response variant type.
type ResponseKind uint8

const (
	// KindControl is a plain code+message response (OK or an error).
	KindControl ResponseKind = iota + 1
	KindReplayStarted
	KindReplayAborted
	KindDescriptor
	KindNotFound
)

// Code is the outcome code of a KindControl response.
type Code int32

const (
	CodeOK Code = iota
	CodeError
	CodeRecordingUnknown
)

// Response is the tagged-variant control response. Which fields are
// meaningful depends on Kind; dispatch is by a switch on Kind, not by
// interface implementations.
type Response struct {
	Kind           ResponseKind
	CorrelationID  int64
	Code           Code
	ErrorMessage   string
	ReplayID       int64
	EndPosition    int64
	RecordingID    int64
	MaxRecordingID int64
	Descriptor     *catalog.Descriptor
}

// OK builds a success response for a correlation id.
func OK(correlationID int64) Response {
	return Response{Kind: KindControl, CorrelationID: correlationID, Code: CodeOK}
}

// Error builds a code+message failure response.
func Error(correlationID int64, code Code, msg string) Response {
	return Response{Kind: KindControl, CorrelationID: correlationID, Code: code, ErrorMessage: msg}
}

// NotFound builds the recording-unknown response carrying the highest id
// ever assigned, so callers can tell "not yet created" from "truly unknown".
func NotFound(correlationID, recordingID, maxRecordingID int64) Response {
	return Response{
		Kind:           KindNotFound,
		CorrelationID:  correlationID,
		Code:           CodeRecordingUnknown,
		RecordingID:    recordingID,
		MaxRecordingID: maxRecordingID,
	}
}

// EventKind tags progress-stream events.
type EventKind uint8

const (
	EventStarted EventKind = iota + 1
	EventProgress
	EventStopped
)

// Event is one message on the unacknowledged recording-events stream.
type Event struct {
	Kind         EventKind
	RecordingID  int64
	JoinPosition int64
	Position     int64
	SessionID    int32
	StreamID     int32
	Channel      string
}

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

// EncodeRequest serializes a request for the control request stream.
func EncodeRequest(r Request) []byte {
	switch m := r.(type) {
	case Connect:
		b := []byte{typeConnect}
		b = appendBE8(b, m.CorrelationID)
		b = appendBE4(b, m.ResponseStreamID)
		return appendString(b, m.ResponseChannel)
	case StartRecording:
		b := []byte{typeStartRecording}
		b = appendBE8(b, m.CorrelationID)
		b = appendBE4(b, m.StreamID)
		return appendString(b, m.Channel)
	case StopRecording:
		b := []byte{typeStopRecording}
		b = appendBE8(b, m.CorrelationID)
		b = appendBE4(b, m.StreamID)
		return appendString(b, m.Channel)
	case Replay:
		b := []byte{typeReplay}
		b = appendBE8(b, m.CorrelationID)
		b = appendBE8(b, m.RecordingID)
		b = appendBE8(b, m.Position)
		b = appendBE8(b, m.Length)
		b = appendBE4(b, m.ReplayStreamID)
		return appendString(b, m.ReplayChannel)
	case StopReplay:
		b := []byte{typeStopReplay}
		b = appendBE8(b, m.CorrelationID)
		return appendBE8(b, m.ReplayID)
	case ListRecordings:
		b := []byte{typeListRecordings}
		b = appendBE8(b, m.CorrelationID)
		b = appendBE8(b, m.FromID)
		return appendBE4(b, m.Count)
	default:
		panic(fmt.Sprintf("control: unknown request type %T", r))
	}
}

type reader struct {
	b   []byte
	off int
	bad bool
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

func (r *reader) rest() []byte {
	if r.bad {
		return nil
	}
	return r.b[r.off:]
}

// DecodeRequest parses one control request message.
func DecodeRequest(b []byte) (Request, error) {
	r := &reader{b: b}
	var req Request
	switch r.byte1() {
	case typeConnect:
		m := Connect{CorrelationID: r.be8(), ResponseStreamID: r.be4()}
		m.ResponseChannel = r.str()
		req = m
	case typeStartRecording:
		m := StartRecording{CorrelationID: r.be8(), StreamID: r.be4()}
		m.Channel = r.str()
		req = m
	case typeStopRecording:
		m := StopRecording{CorrelationID: r.be8(), StreamID: r.be4()}
		m.Channel = r.str()
		req = m
	case typeReplay:
		m := Replay{
			CorrelationID: r.be8(),
			RecordingID:   r.be8(),
			Position:      r.be8(),
			Length:        r.be8(),
		}
		m.ReplayStreamID = r.be4()
		m.ReplayChannel = r.str()
		req = m
	case typeStopReplay:
		req = StopReplay{CorrelationID: r.be8(), ReplayID: r.be8()}
	case typeListRecordings:
		req = ListRecordings{CorrelationID: r.be8(), FromID: r.be8(), Count: r.be4()}
	default:
		return nil, ErrMalformed
	}
	if r.bad {
		return nil, ErrMalformed
	}
	return req, nil
}

// EncodeResponse serializes a response for a client's response stream.
func EncodeResponse(resp Response) []byte {
	b := append([]byte{typeResponse}, byte(resp.Kind))
	b = appendBE8(b, resp.CorrelationID)
	b = appendBE4(b, int32(resp.Code))
	b = appendBE8(b, resp.ReplayID)
	b = appendBE8(b, resp.EndPosition)
	b = appendBE8(b, resp.RecordingID)
	b = appendBE8(b, resp.MaxRecordingID)
	b = appendString(b, resp.ErrorMessage)
	if resp.Kind == KindDescriptor && resp.Descriptor != nil {
		b = catalog.EncodeDescriptor(b, resp.Descriptor)
	}
	return b
}

// DecodeResponse parses one control response message.
func DecodeResponse(b []byte) (Response, error) {
	r := &reader{b: b}
	if r.byte1() != typeResponse {
		return Response{}, ErrMalformed
	}
	resp := Response{
		Kind:          ResponseKind(r.byte1()),
		CorrelationID: r.be8(),
	}
	resp.Code = Code(r.be4())
	resp.ReplayID = r.be8()
	resp.EndPosition = r.be8()
	resp.RecordingID = r.be8()
	resp.MaxRecordingID = r.be8()
	resp.ErrorMessage = r.str()
	if r.bad {
		return Response{}, ErrMalformed
	}
	if resp.Kind == KindDescriptor {
		d, err := catalog.DecodeDescriptor(r.rest())
		if err != nil {
			return Response{}, ErrMalformed
		}
		resp.Descriptor = &d
	}
	return resp, nil
}

// EncodeEvent serializes a recording event for the broadcast stream.
func EncodeEvent(ev Event) []byte {
	b := append([]byte{typeEvent}, byte(ev.Kind))
	b = appendBE8(b, ev.RecordingID)
	b = appendBE8(b, ev.JoinPosition)
	b = appendBE8(b, ev.Position)
	b = appendBE4(b, ev.SessionID)
	b = appendBE4(b, ev.StreamID)
	return appendString(b, ev.Channel)
}

// DecodeEvent parses one recording event.
func DecodeEvent(b []byte) (Event, error) {
	r := &reader{b: b}
	if r.byte1() != typeEvent {
		return Event{}, ErrMalformed
	}
	ev := Event{
		Kind:         EventKind(r.byte1()),
		RecordingID:  r.be8(),
		JoinPosition: r.be8(),
		Position:     r.be8(),
		SessionID:    r.be4(),
		StreamID:     r.be4(),
	}
	ev.Channel = r.str()
	if r.bad {
		return Event{}, ErrMalformed
	}
	return ev, nil
}
