package transport

// The archiver consumes the transport layer through these interfaces. The
// real media driver is out of scope; the loopback driver in this package
// implements them in-process for tests and local mode.

// Offer outcome sentinels. Non-negative results are the new stream
// position after the offered bytes.
const (
	// NotConnected: no subscriber is attached to the stream.
	NotConnected int64 = -1
	// BackPressured: the subscriber cannot accept more bytes right now; the
	// caller should retry on its next scheduling turn.
	BackPressured int64 = -2
	// Closed: the stream has been closed; no further offers will succeed.
	Closed int64 = -4
)

// BlockHandler receives one raw term-aligned byte block together with its
// position metadata. A block never spans a term boundary. Returning an
// error leaves the image position unchanged, so the block is redelivered.
type BlockHandler func(block []byte, sessionID, termID int32) error

// Image is a live, single-producer source of a stream from which the
// archiver drains bytes for recording.
type Image interface {
	// BlockPoll delivers at most one term-aligned block of up to maxBytes
	// bytes and returns the number of bytes consumed.
	BlockPoll(handler BlockHandler, maxBytes int) int
	// Position is the subscriber position within the stream.
	Position() int64
	// IsClosed reports whether the producer has gone away. Remaining bytes
	// may still be polled after close.
	IsClosed() bool

	Channel() string
	StreamID() int32
	SessionID() int32
	InitialTermID() int32
	TermBufferLength() int32
	MTULength() int32
	SourceIdentity() string
	JoinPosition() int64
}

// Publication is an outbound stream endpoint.
type Publication interface {
	// Offer appends one message, returning the new position or one of the
	// sentinel values above. Offers are never partially applied.
	Offer(b []byte) int64
	IsClosed() bool
	Close()
}

// MessageHandler receives one whole inbound message.
type MessageHandler func(msg []byte)

// Subscription is an inbound stream endpoint. Poll drains queued messages;
// Images snapshots the live images currently attached to the stream.
type Subscription interface {
	Poll(handler MessageHandler, limit int) int
	Images() []Image
	Close()
}

// Driver creates publications and subscriptions on (channel, streamId)
// pairs.
type Driver interface {
	AddPublication(channel string, streamID int32) Publication
	AddSubscription(channel string, streamID int32) Subscription
}
