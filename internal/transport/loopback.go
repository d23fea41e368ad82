package transport

import (
	"fmt"
	"sync"

	"github.com/Alfaiis/aeron/internal/frame"
	"github.com/Alfaiis/aeron/internal/position"
)

// DefaultQueueCapacity bounds per-stream message queues in the loopback
// driver; a full queue back-pressures the publisher.
const DefaultQueueCapacity = 1024

// Loopback is an in-process Driver. Message streams are bounded queues;
// data-plane images are term-structured buffers written through ImageWriter.
type Loopback struct {
	mu       sync.Mutex
	streams  map[streamKey]*stream
	queueCap int
}

type streamKey struct {
	channel  string
	streamID int32
}

// NewLoopback creates a loopback driver. queueCap <= 0 selects
// DefaultQueueCapacity.
func NewLoopback(queueCap int) *Loopback {
	if queueCap <= 0 {
		queueCap = DefaultQueueCapacity
	}
	return &Loopback{streams: map[streamKey]*stream{}, queueCap: queueCap}
}

func (l *Loopback) stream(channel string, streamID int32) *stream {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := streamKey{channel, streamID}
	s, ok := l.streams[k]
	if !ok {
		s = &stream{cap: l.queueCap}
		l.streams[k] = s
	}
	return s
}

// AddPublication attaches a publication to (channel, streamID).
func (l *Loopback) AddPublication(channel string, streamID int32) Publication {
	return &pub{s: l.stream(channel, streamID)}
}

// AddSubscription attaches a subscription to (channel, streamID).
func (l *Loopback) AddSubscription(channel string, streamID int32) Subscription {
	return &sub{s: l.stream(channel, streamID)}
}

// stream is the shared state behind matching publications/subscriptions.
type stream struct {
	mu     sync.Mutex
	msgs   [][]byte
	cap    int
	pos    int64
	closed bool
	images []*ImageWriter
}

type pub struct{ s *stream }

func (p *pub) Offer(b []byte) int64 {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if p.s.closed {
		return Closed
	}
	if len(p.s.msgs) >= p.s.cap {
		return BackPressured
	}
	p.s.msgs = append(p.s.msgs, append([]byte(nil), b...))
	p.s.pos += int64(len(b))
	return p.s.pos
}

func (p *pub) IsClosed() bool {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	return p.s.closed
}

func (p *pub) Close() {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	p.s.closed = true
}

type sub struct{ s *stream }

func (s *sub) Poll(handler MessageHandler, limit int) int {
	if limit <= 0 {
		limit = 1
	}
	var drained [][]byte
	s.s.mu.Lock()
	n := limit
	if n > len(s.s.msgs) {
		n = len(s.s.msgs)
	}
	drained = s.s.msgs[:n]
	s.s.msgs = s.s.msgs[n:]
	s.s.mu.Unlock()

	for _, m := range drained {
		handler(m)
	}
	return len(drained)
}

func (s *sub) Images() []Image {
	s.s.mu.Lock()
	defer s.s.mu.Unlock()
	out := make([]Image, len(s.s.images))
	for i, img := range s.s.images {
		out[i] = img
	}
	return out
}

func (s *sub) Close() {
	s.s.mu.Lock()
	defer s.s.mu.Unlock()
	s.s.closed = true
}

// ImageOptions describes the geometry of a loopback image.
type ImageOptions struct {
	SessionID      int32
	InitialTermID  int32
	TermLength     int32
	MTULength      int32
	SourceIdentity string
	// JoinPosition must be frame-aligned.
	JoinPosition int64
}

// AddImage creates a writable image on (channel, streamID). The returned
// writer is the producer side; the image appears in the Images snapshot of
// subscriptions on the same stream.
func (l *Loopback) AddImage(channel string, streamID int32, opts ImageOptions) (*ImageWriter, error) {
	if !position.IsPowerOfTwo(int64(opts.TermLength)) {
		return nil, fmt.Errorf("transport: term length %d is not a power of two", opts.TermLength)
	}
	if opts.MTULength < frame.HeaderLength+1 {
		return nil, fmt.Errorf("transport: mtu %d below minimum", opts.MTULength)
	}
	if opts.JoinPosition%frame.Alignment != 0 {
		return nil, fmt.Errorf("transport: join position %d not frame aligned", opts.JoinPosition)
	}
	img := &ImageWriter{
		channel:  channel,
		streamID: streamID,
		opts:     opts,
		base:     opts.JoinPosition,
		frontier: opts.JoinPosition,
		polled:   opts.JoinPosition,
	}
	s := l.stream(channel, streamID)
	s.mu.Lock()
	s.images = append(s.images, img)
	s.mu.Unlock()
	return img, nil
}

// ImageWriter is a term-structured in-memory image. The producer side
// frames offered payloads exactly as the transport would: unfragmented data
// frames aligned to the frame alignment, with a padding frame closing out a
// term when the next frame does not fit.
type ImageWriter struct {
	channel  string
	streamID int32
	opts     ImageOptions

	mu       sync.Mutex
	buf      []byte
	base     int64
	frontier int64
	polled   int64
	closed   bool
}

var _ Image = (*ImageWriter)(nil)

func (img *ImageWriter) Channel() string        { return img.channel }
func (img *ImageWriter) StreamID() int32        { return img.streamID }
func (img *ImageWriter) SessionID() int32       { return img.opts.SessionID }
func (img *ImageWriter) InitialTermID() int32   { return img.opts.InitialTermID }
func (img *ImageWriter) TermBufferLength() int32 { return img.opts.TermLength }
func (img *ImageWriter) MTULength() int32       { return img.opts.MTULength }
func (img *ImageWriter) SourceIdentity() string { return img.opts.SourceIdentity }
func (img *ImageWriter) JoinPosition() int64    { return img.opts.JoinPosition }

// Position is the subscriber position: everything below it has been
// consumed by BlockPoll.
func (img *ImageWriter) Position() int64 {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.polled
}

// IsClosed reports producer departure.
func (img *ImageWriter) IsClosed() bool {
	img.mu.Lock()
	defer img.mu.Unlock()
	return img.closed
}

// Close marks the producer as gone. Already-written bytes remain pollable.
func (img *ImageWriter) Close() {
	img.mu.Lock()
	defer img.mu.Unlock()
	img.closed = true
}

func (img *ImageWriter) grow(to int64) {
	need := int(to - img.base)
	for len(img.buf) < need {
		img.buf = append(img.buf, make([]byte, need-len(img.buf))...)
	}
}

// Offer appends one payload as a single unfragmented frame and returns the
// new frontier position.
func (img *ImageWriter) Offer(payload []byte) (int64, error) {
	img.mu.Lock()
	defer img.mu.Unlock()
	if img.closed {
		return Closed, fmt.Errorf("transport: offer to closed image")
	}
	if len(payload) > int(img.opts.MTULength)-frame.HeaderLength {
		return 0, fmt.Errorf("transport: payload %d exceeds mtu %d", len(payload), img.opts.MTULength)
	}

	frameLen := int32(frame.HeaderLength + len(payload))
	aligned := frame.Align(frameLen)

	termLen := img.opts.TermLength
	offsetInTerm := position.TermOffset(img.frontier, termLen)
	if remaining := termLen - offsetInTerm; aligned > remaining {
		img.writePadding(remaining)
		offsetInTerm = 0
	}

	img.grow(img.frontier + int64(aligned))
	at := img.frontier - img.base
	frame.EncodeHeader(img.buf[at:], frame.Header{
		FrameLength: frameLen,
		Version:     frame.CurrentVersion,
		Flags:       frame.FlagUnfragmented,
		Type:        frame.TypeData,
		TermOffset:  position.TermOffset(img.frontier, termLen),
		SessionID:   img.opts.SessionID,
		StreamID:    img.streamID,
		TermID:      position.TermID(img.frontier, img.opts.InitialTermID, termLen),
	})
	copy(img.buf[at+frame.HeaderLength:], payload)
	img.frontier += int64(aligned)
	return img.frontier, nil
}

// writePadding closes out the current term with a padding frame of the
// remaining length. Caller holds the lock.
func (img *ImageWriter) writePadding(length int32) {
	img.grow(img.frontier + int64(length))
	at := img.frontier - img.base
	frame.EncodeHeader(img.buf[at:], frame.Header{
		FrameLength: length,
		Version:     frame.CurrentVersion,
		Type:        frame.TypePad,
		TermOffset:  position.TermOffset(img.frontier, img.opts.TermLength),
		SessionID:   img.opts.SessionID,
		StreamID:    img.streamID,
		TermID:      position.TermID(img.frontier, img.opts.InitialTermID, img.opts.TermLength),
	})
	img.frontier += int64(length)
}

// BlockPoll delivers the next contiguous block, clipped at the current term
// boundary and at maxBytes (rounded down to frame alignment).
func (img *ImageWriter) BlockPoll(handler BlockHandler, maxBytes int) int {
	img.mu.Lock()
	avail := img.frontier - img.polled
	if avail == 0 {
		img.mu.Unlock()
		return 0
	}
	max := int64(maxBytes) &^ (frame.Alignment - 1)
	if max <= 0 {
		img.mu.Unlock()
		return 0
	}
	limit := img.polled + avail
	if ceil := position.TermCeil(img.polled, img.opts.TermLength); ceil < limit {
		limit = ceil
	}
	if img.polled+max < limit {
		limit = img.polled + max
	}
	block := append([]byte(nil), img.buf[img.polled-img.base:limit-img.base]...)
	sessionID := img.opts.SessionID
	termID := position.TermID(img.polled, img.opts.InitialTermID, img.opts.TermLength)
	img.mu.Unlock()

	if err := handler(block, sessionID, termID); err != nil {
		return 0
	}

	img.mu.Lock()
	img.polled = limit
	img.mu.Unlock()
	return len(block)
}
