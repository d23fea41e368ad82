package client

import (
	"context"
	"fmt"
	"time"

	"github.com/Alfaiis/aeron/internal/catalog"
	"github.com/Alfaiis/aeron/internal/control"
	"github.com/Alfaiis/aeron/internal/transport"
	"github.com/Alfaiis/aeron/pkg/id"
)

// pollInterval is the wait between response polls while awaiting.
const pollInterval = time.Millisecond

// Options configures a control client.
type Options struct {
	ControlChannel  string
	ControlStreamID int32
	// ResponseChannel/StreamID identify this client's response stream; each
	// client must use its own.
	ResponseChannel  string
	ResponseStreamID int32
}

// Client is the archiver control-plane proxy. It offers requests on the
// shared control stream and consumes its own response stream. Responses for
// other clients' correlation ids are discarded. Not safe for concurrent
// use.
type Client struct {
	opts    Options
	reqPub  transport.Publication
	respSub transport.Subscription
	ids     *id.Generator

	// responses received but not yet awaited, keyed by correlation id
	pending map[int64][]control.Response
	mine    map[int64]bool
}

// New attaches a client to the driver. Call Connect before anything else.
func New(driver transport.Driver, opts Options) *Client {
	return &Client{
		opts:    opts,
		reqPub:  driver.AddPublication(opts.ControlChannel, opts.ControlStreamID),
		respSub: driver.AddSubscription(opts.ResponseChannel, opts.ResponseStreamID),
		ids:     id.NewGenerator(),
		pending: map[int64][]control.Response{},
		mine:    map[int64]bool{},
	}
}

func (c *Client) offer(req control.Request) (int64, error) {
	b := control.EncodeRequest(req)
	for i := 0; i < 1000; i++ {
		result := c.reqPub.Offer(b)
		if result >= 0 {
			c.mine[req.Correlation()] = true
			return req.Correlation(), nil
		}
		if result == transport.Closed {
			return 0, fmt.Errorf("client: control stream closed")
		}
		time.Sleep(pollInterval)
	}
	return 0, fmt.Errorf("client: control stream back pressured")
}

// Connect registers this client's response stream with the archiver and
// awaits the acknowledgement.
func (c *Client) Connect(ctx context.Context) error {
	corr, err := c.offer(control.Connect{
		CorrelationID:    c.ids.Next(),
		ResponseChannel:  c.opts.ResponseChannel,
		ResponseStreamID: c.opts.ResponseStreamID,
	})
	if err != nil {
		return err
	}
	resp, err := c.Await(ctx, corr)
	if err != nil {
		return err
	}
	if resp.Code != control.CodeOK {
		return fmt.Errorf("client: connect rejected: %s", resp.ErrorMessage)
	}
	return nil
}

// StartRecording asks the archiver to record (channel, streamId). The
// returned correlation id resolves to OK once the subscription is in place;
// recording itself starts when an image appears.
func (c *Client) StartRecording(channel string, streamID int32) (int64, error) {
	return c.offer(control.StartRecording{
		CorrelationID: c.ids.Next(),
		Channel:       channel,
		StreamID:      streamID,
	})
}

// StopRecording stops recording (channel, streamId).
func (c *Client) StopRecording(channel string, streamID int32) (int64, error) {
	return c.offer(control.StopRecording{
		CorrelationID: c.ids.Next(),
		Channel:       channel,
		StreamID:      streamID,
	})
}

// Replay asks for [position, position+length) of a recording to be replayed
// onto (replayChannel, replayStreamId). The correlation id resolves to a
// replay-started response carrying the replay id, or an error.
func (c *Client) Replay(recordingID, position, length int64, replayChannel string, replayStreamID int32) (int64, error) {
	return c.offer(control.Replay{
		CorrelationID:  c.ids.Next(),
		RecordingID:    recordingID,
		Position:       position,
		Length:         length,
		ReplayChannel:  replayChannel,
		ReplayStreamID: replayStreamID,
	})
}

// StopReplay aborts a replay by id.
func (c *Client) StopReplay(replayID int64) (int64, error) {
	return c.offer(control.StopReplay{
		CorrelationID: c.ids.Next(),
		ReplayID:      replayID,
	})
}

// ListRecordings requests up to count descriptors starting at fromID. Use
// AwaitList with the returned correlation id.
func (c *Client) ListRecordings(fromID int64, count int32) (int64, error) {
	return c.offer(control.ListRecordings{
		CorrelationID: c.ids.Next(),
		FromID:        fromID,
		Count:         count,
	})
}

// PollResponses drains the response stream into the pending set and returns
// the number of responses consumed.
func (c *Client) PollResponses() int {
	return c.respSub.Poll(func(msg []byte) {
		resp, err := control.DecodeResponse(msg)
		if err != nil {
			return
		}
		if !c.mine[resp.CorrelationID] {
			return
		}
		c.pending[resp.CorrelationID] = append(c.pending[resp.CorrelationID], resp)
	}, 100)
}

// Take returns the next pending response for a correlation id, if any.
func (c *Client) Take(correlationID int64) (control.Response, bool) {
	q := c.pending[correlationID]
	if len(q) == 0 {
		return control.Response{}, false
	}
	resp := q[0]
	if len(q) == 1 {
		delete(c.pending, correlationID)
	} else {
		c.pending[correlationID] = q[1:]
	}
	return resp, true
}

// Await blocks until a response for the correlation id arrives or ctx ends.
func (c *Client) Await(ctx context.Context, correlationID int64) (control.Response, error) {
	for {
		c.PollResponses()
		if resp, ok := c.Take(correlationID); ok {
			return resp, nil
		}
		select {
		case <-ctx.Done():
			return control.Response{}, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// AwaitList collects the descriptor responses of a listing up to its
// trailing OK marker.
func (c *Client) AwaitList(ctx context.Context, correlationID int64) ([]catalog.Descriptor, error) {
	var out []catalog.Descriptor
	for {
		resp, err := c.Await(ctx, correlationID)
		if err != nil {
			return nil, err
		}
		switch resp.Kind {
		case control.KindDescriptor:
			out = append(out, *resp.Descriptor)
		case control.KindControl:
			if resp.Code != control.CodeOK {
				return nil, fmt.Errorf("client: list failed: %s", resp.ErrorMessage)
			}
			return out, nil
		default:
			return nil, fmt.Errorf("client: unexpected response kind %d in listing", resp.Kind)
		}
	}
}

// Events consumes the archiver's recording-events stream.
type Events struct {
	sub transport.Subscription
}

// NewEvents subscribes to the events stream.
func NewEvents(driver transport.Driver, channel string, streamID int32) *Events {
	return &Events{sub: driver.AddSubscription(channel, streamID)}
}

// Poll delivers decoded events to handler and returns the number consumed.
func (e *Events) Poll(handler func(control.Event), limit int) int {
	return e.sub.Poll(func(msg []byte) {
		ev, err := control.DecodeEvent(msg)
		if err != nil {
			return
		}
		handler(ev)
	}, limit)
}
