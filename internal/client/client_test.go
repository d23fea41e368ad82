package client

import (
	"context"
	"testing"
	"time"

	"github.com/Alfaiis/aeron/internal/control"
	"github.com/Alfaiis/aeron/internal/transport"
)

func newTestClient(l *transport.Loopback) *Client {
	return New(l, Options{
		ControlChannel:   "mem:control",
		ControlStreamID:  10,
		ResponseChannel:  "mem:resp-1",
		ResponseStreamID: 20,
	})
}

func TestRequestsCarryDistinctCorrelationIDs(t *testing.T) {
	l := transport.NewLoopback(0)
	c := newTestClient(l)
	seen := map[int64]bool{}
	c1, err := c.StartRecording("mem:data", 7)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	c2, err := c.Replay(0, 0, 100, "mem:replay", 30)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	c3, err := c.ListRecordings(0, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, corr := range []int64{c1, c2, c3} {
		if seen[corr] {
			t.Fatalf("correlation id %d reused", corr)
		}
		seen[corr] = true
	}
}

func TestAwaitMatchesByCorrelationNotOrder(t *testing.T) {
	l := transport.NewLoopback(0)
	c := newTestClient(l)
	c1, _ := c.StartRecording("mem:a", 1)
	c2, _ := c.StartRecording("mem:b", 2)

	// Responses arrive out of request order.
	pub := l.AddPublication("mem:resp-1", 20)
	pub.Offer(control.EncodeResponse(control.OK(c2)))
	pub.Offer(control.EncodeResponse(control.OK(c1)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r1, err := c.Await(ctx, c1)
	if err != nil || r1.CorrelationID != c1 {
		t.Fatalf("await c1: %+v %v", r1, err)
	}
	r2, err := c.Await(ctx, c2)
	if err != nil || r2.CorrelationID != c2 {
		t.Fatalf("await c2: %+v %v", r2, err)
	}
}

func TestForeignCorrelationIDsDiscarded(t *testing.T) {
	l := transport.NewLoopback(0)
	c := newTestClient(l)
	corr, _ := c.StartRecording("mem:a", 1)

	pub := l.AddPublication("mem:resp-1", 20)
	pub.Offer(control.EncodeResponse(control.OK(999))) // someone else's
	pub.Offer(control.EncodeResponse(control.OK(corr)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := c.Await(ctx, corr)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if resp.CorrelationID != corr {
		t.Fatalf("got foreign response %+v", resp)
	}
	if _, ok := c.Take(999); ok {
		t.Fatal("foreign response retained")
	}
}

func TestAwaitHonorsContext(t *testing.T) {
	l := transport.NewLoopback(0)
	c := newTestClient(l)
	corr, _ := c.StartRecording("mem:a", 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.Await(ctx, corr); err == nil {
		t.Fatal("await returned without a response")
	}
}
