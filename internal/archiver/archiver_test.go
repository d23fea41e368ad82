package archiver

import (
	"bytes"
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/Alfaiis/aeron/internal/catalog"
	"github.com/Alfaiis/aeron/internal/client"
	"github.com/Alfaiis/aeron/internal/config"
	"github.com/Alfaiis/aeron/internal/control"
	"github.com/Alfaiis/aeron/internal/frame"
	"github.com/Alfaiis/aeron/internal/transport"
	logpkg "github.com/Alfaiis/aeron/pkg/log"
)

const testTermLength = int32(4 * 1024)

type fixture struct {
	t        *testing.T
	arch     *Archiver
	loop     *transport.Loopback
	ctx      context.Context
	nextResp int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.ArchiveDir = t.TempDir()
	cfg.SegmentFileLength = 64 * 1024
	cfg.CatalogFsync = "never"
	cfg.ProgressIntervalMs = 5
	loop := transport.NewLoopback(0)
	arch, err := Open(cfg, loop, logpkg.NewNop())
	if err != nil {
		t.Fatalf("open archiver: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	done := make(chan struct{})
	go func() {
		arch.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		arch.Close()
	})
	return &fixture{t: t, arch: arch, loop: loop, ctx: ctx}
}

func (f *fixture) newClient() *client.Client {
	f.t.Helper()
	f.nextResp++
	c := client.New(f.loop, client.Options{
		ControlChannel:   f.arch.cfg.ControlChannel,
		ControlStreamID:  f.arch.cfg.ControlStreamID,
		ResponseChannel:  "mem:resp",
		ResponseStreamID: 100 + f.nextResp,
	})
	if err := c.Connect(f.ctx); err != nil {
		f.t.Fatalf("connect: %v", err)
	}
	return c
}

func (f *fixture) addImage(channel string, streamID, sessionID int32) *transport.ImageWriter {
	f.t.Helper()
	img, err := f.loop.AddImage(channel, streamID, transport.ImageOptions{
		SessionID:      sessionID,
		InitialTermID:  0,
		TermLength:     testTermLength,
		MTULength:      1408,
		SourceIdentity: "test",
	})
	if err != nil {
		f.t.Fatalf("add image: %v", err)
	}
	return img
}

func (f *fixture) awaitOK(c *client.Client, corr int64) control.Response {
	f.t.Helper()
	resp, err := c.Await(f.ctx, corr)
	if err != nil {
		f.t.Fatalf("await %d: %v", corr, err)
	}
	if resp.Kind == control.KindControl && resp.Code != control.CodeOK {
		f.t.Fatalf("request %d failed: %s", corr, resp.ErrorMessage)
	}
	return resp
}

// awaitClosed polls listings until the recording closes, returning its
// final descriptor.
func (f *fixture) awaitClosed(c *client.Client, recordingID int64) catalog.Descriptor {
	f.t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		corr, err := c.ListRecordings(recordingID, 1)
		if err != nil {
			f.t.Fatalf("list: %v", err)
		}
		descs, err := c.AwaitList(f.ctx, corr)
		if err != nil {
			f.t.Fatalf("await list: %v", err)
		}
		if len(descs) == 1 && descs[0].State == catalog.StateClosed {
			return descs[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	f.t.Fatalf("recording %d never closed", recordingID)
	return catalog.Descriptor{}
}

// awaitExists polls listings until the recording has a descriptor in any
// state.
func (f *fixture) awaitExists(c *client.Client, recordingID int64) {
	f.t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		corr, err := c.ListRecordings(recordingID, 1)
		if err != nil {
			f.t.Fatalf("list: %v", err)
		}
		descs, err := c.AwaitList(f.ctx, corr)
		if err != nil {
			f.t.Fatalf("await list: %v", err)
		}
		if len(descs) == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	f.t.Fatalf("recording %d never appeared", recordingID)
}

func randomPayloads(seed int64, n int) [][]byte {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]byte, n)
	for i := range out {
		p := make([]byte, 64+rng.Intn(960))
		rng.Read(p)
		out[i] = p
	}
	return out
}

func offerAll(t *testing.T, img *transport.ImageWriter, payloads [][]byte) {
	t.Helper()
	for i, p := range payloads {
		if _, err := img.Offer(p); err != nil {
			t.Fatalf("offer %d: %v", i, err)
		}
	}
}

// collectPayloads polls a replay subscription until want payloads arrived.
func collectPayloads(t *testing.T, sub transport.Subscription, want int) [][]byte {
	t.Helper()
	var out [][]byte
	deadline := time.Now().Add(10 * time.Second)
	for len(out) < want {
		if time.Now().After(deadline) {
			t.Fatalf("collected %d of %d payloads", len(out), want)
		}
		n := sub.Poll(func(msg []byte) {
			out = append(out, append([]byte(nil), msg[frame.HeaderLength:]...))
		}, 100)
		if n == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	return out
}

func TestRecordAndReplayRoundTrip(t *testing.T) {
	f := newFixture(t)
	c := f.newClient()

	f.awaitOK(c, must(c.StartRecording("mem:data", 7)))
	img := f.addImage("mem:data", 7, 1)
	payloads := randomPayloads(1, 200)
	offerAll(t, img, payloads)
	img.Close()

	desc := f.awaitClosed(c, 0)
	if desc.EndPosition <= 0 || desc.Position != desc.EndPosition {
		t.Fatalf("closed descriptor %+v", desc)
	}

	replaySub := f.loop.AddSubscription("mem:replay", 30)
	corr := must(c.Replay(0, 0, math.MaxInt64, "mem:replay", 30))
	resp := f.awaitOK(c, corr)
	if resp.Kind != control.KindReplayStarted {
		t.Fatalf("replay response %+v", resp)
	}

	got := collectPayloads(t, replaySub, len(payloads))
	for i := range payloads {
		if !bytes.Equal(got[i], payloads[i]) {
			t.Fatalf("payload %d differs after round trip", i)
		}
	}
}

func TestReplayUnknownRecordingReportsHighestID(t *testing.T) {
	f := newFixture(t)
	c := f.newClient()

	channels := []string{"mem:a", "mem:b", "mem:c"}
	for i, ch := range channels {
		f.awaitOK(c, must(c.StartRecording(ch, 7)))
		img := f.addImage(ch, 7, int32(i+1))
		offerAll(t, img, randomPayloads(int64(i), 3))
		img.Close()
	}
	for id := int64(0); id < 3; id++ {
		f.awaitClosed(c, id)
	}

	corr := must(c.Replay(5, 0, 100, "mem:replay", 31))
	resp, err := c.Await(f.ctx, corr)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if resp.Kind != control.KindNotFound || resp.Code != control.CodeRecordingUnknown {
		t.Fatalf("response %+v", resp)
	}
	if resp.RecordingID != 5 || resp.MaxRecordingID != 2 {
		t.Fatalf("not-found payload %+v", resp)
	}
}

func TestConcurrentRecordingsAreIsolated(t *testing.T) {
	f := newFixture(t)
	c := f.newClient()

	f.awaitOK(c, must(c.StartRecording("mem:left", 7)))
	f.awaitOK(c, must(c.StartRecording("mem:right", 7)))
	left := f.addImage("mem:left", 7, 1)
	right := f.addImage("mem:right", 7, 2)

	leftPayloads := randomPayloads(10, 50)
	rightPayloads := randomPayloads(20, 50)
	for i := 0; i < 50; i++ {
		if _, err := left.Offer(leftPayloads[i]); err != nil {
			t.Fatalf("left offer: %v", err)
		}
		if _, err := right.Offer(rightPayloads[i]); err != nil {
			t.Fatalf("right offer: %v", err)
		}
	}
	left.Close()
	right.Close()

	byChannel := map[string]catalog.Descriptor{}
	for id := int64(0); id < 2; id++ {
		d := f.awaitClosed(c, id)
		byChannel[d.StrippedChannel] = d
	}
	if len(byChannel) != 2 {
		t.Fatalf("recordings not isolated: %+v", byChannel)
	}

	for ch, want := range map[string][][]byte{"mem:left": leftPayloads, "mem:right": rightPayloads} {
		d := byChannel[ch]
		sub := f.loop.AddSubscription("mem:replay-"+ch, 40)
		corr := must(c.Replay(d.RecordingID, 0, math.MaxInt64, "mem:replay-"+ch, 40))
		if resp := f.awaitOK(c, corr); resp.Kind != control.KindReplayStarted {
			t.Fatalf("replay response %+v", resp)
		}
		got := collectPayloads(t, sub, len(want))
		for i := range want {
			if !bytes.Equal(got[i], want[i]) {
				t.Fatalf("channel %s payload %d differs", ch, i)
			}
		}
	}
}

func TestProgressEventsAreMonotonic(t *testing.T) {
	f := newFixture(t)
	c := f.newClient()
	events := client.NewEvents(f.loop, f.arch.cfg.EventsChannel, f.arch.cfg.EventsStreamID)

	f.awaitOK(c, must(c.StartRecording("mem:data", 7)))
	img := f.addImage("mem:data", 7, 1)
	for i := 0; i < 10; i++ {
		offerAll(t, img, randomPayloads(int64(i), 5))
		time.Sleep(10 * time.Millisecond)
	}
	img.Close()
	desc := f.awaitClosed(c, 0)

	var got []control.Event
	deadline := time.Now().Add(5 * time.Second)
	for {
		events.Poll(func(ev control.Event) { got = append(got, ev) }, 100)
		if len(got) > 0 && got[len(got)-1].Kind == control.EventStopped {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no stopped event; got %d events", len(got))
		}
		time.Sleep(time.Millisecond)
	}

	if got[0].Kind != control.EventStarted || got[0].JoinPosition != 0 {
		t.Fatalf("first event %+v", got[0])
	}
	last := int64(0)
	for _, ev := range got {
		if ev.RecordingID != 0 {
			t.Fatalf("event for unexpected recording: %+v", ev)
		}
		if ev.Position < last {
			t.Fatalf("position regressed: %d after %d", ev.Position, last)
		}
		last = ev.Position
	}
	final := got[len(got)-1]
	if final.Position != desc.EndPosition {
		t.Fatalf("stopped event position %d, end position %d", final.Position, desc.EndPosition)
	}
}

func TestDuplicateStartRecordingRejected(t *testing.T) {
	f := newFixture(t)
	c := f.newClient()
	f.awaitOK(c, must(c.StartRecording("mem:data", 7)))
	corr := must(c.StartRecording("mem:data", 7))
	resp, err := c.Await(f.ctx, corr)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if resp.Code != control.CodeError {
		t.Fatalf("duplicate start accepted: %+v", resp)
	}
}

func TestStopRecordingUnknownStream(t *testing.T) {
	f := newFixture(t)
	c := f.newClient()
	corr := must(c.StopRecording("mem:nothing", 1))
	resp, err := c.Await(f.ctx, corr)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if resp.Code != control.CodeError {
		t.Fatalf("stop of unknown stream accepted: %+v", resp)
	}
}

func TestLiveReplayFollowsThenCompletes(t *testing.T) {
	f := newFixture(t)
	c := f.newClient()

	f.awaitOK(c, must(c.StartRecording("mem:data", 7)))
	img := f.addImage("mem:data", 7, 1)
	first := randomPayloads(1, 20)
	offerAll(t, img, first)
	f.awaitExists(c, 0)

	sub := f.loop.AddSubscription("mem:replay", 30)
	corr := must(c.Replay(0, 0, math.MaxInt64, "mem:replay", 30))
	if resp := f.awaitOK(c, corr); resp.Kind != control.KindReplayStarted {
		t.Fatalf("replay response %+v", resp)
	}
	got := collectPayloads(t, sub, len(first))

	second := randomPayloads(2, 20)
	offerAll(t, img, second)
	got = append(got, collectPayloads(t, sub, len(second))...)

	img.Close()
	f.awaitClosed(c, 0)

	want := append(append([][]byte{}, first...), second...)
	if len(got) != len(want) {
		t.Fatalf("replayed %d payloads, want %d", len(got), len(want))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Fatalf("payload %d differs", i)
		}
	}
}

func TestStopReplayAbortsAndNotifies(t *testing.T) {
	f := newFixture(t)
	c := f.newClient()

	f.awaitOK(c, must(c.StartRecording("mem:data", 7)))
	img := f.addImage("mem:data", 7, 1)
	offerAll(t, img, randomPayloads(1, 5))
	f.awaitExists(c, 0)

	f.loop.AddSubscription("mem:replay", 30)
	corr := must(c.Replay(0, 0, math.MaxInt64, "mem:replay", 30))
	started := f.awaitOK(c, corr)
	if started.Kind != control.KindReplayStarted {
		t.Fatalf("replay response %+v", started)
	}

	stopCorr := must(c.StopReplay(started.ReplayID))
	f.awaitOK(c, stopCorr)

	// The abort notice arrives under the replay's original correlation id.
	aborted, err := c.Await(f.ctx, corr)
	if err != nil {
		t.Fatalf("await abort: %v", err)
	}
	if aborted.Kind != control.KindReplayAborted || aborted.ReplayID != started.ReplayID {
		t.Fatalf("abort notice %+v", aborted)
	}
}

func TestStopRecordingReleasesStream(t *testing.T) {
	f := newFixture(t)
	c := f.newClient()

	f.awaitOK(c, must(c.StartRecording("mem:data", 7)))
	img := f.addImage("mem:data", 7, 1)
	offerAll(t, img, randomPayloads(1, 5))
	f.awaitExists(c, 0)

	f.awaitOK(c, must(c.StopRecording("mem:data", 7)))
	f.awaitClosed(c, 0)

	// The data stream subscription is released together with the endpoint.
	pub := f.loop.AddPublication("mem:data", 7)
	if !pub.IsClosed() {
		t.Fatal("data stream still held after stop")
	}
}

// TestShutdownFlushesTerminalResponses pins that responses queued while
// shutting down still reach the client before Run returns.
func TestShutdownFlushesTerminalResponses(t *testing.T) {
	cfg := config.Default()
	cfg.ArchiveDir = t.TempDir()
	cfg.SegmentFileLength = 64 * 1024
	cfg.CatalogFsync = "never"
	cfg.ProgressIntervalMs = 5
	loop := transport.NewLoopback(0)
	arch, err := Open(cfg, loop, logpkg.NewNop())
	if err != nil {
		t.Fatalf("open archiver: %v", err)
	}
	defer arch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		arch.Run(ctx)
		close(done)
	}()

	c := client.New(loop, client.Options{
		ControlChannel:   cfg.ControlChannel,
		ControlStreamID:  cfg.ControlStreamID,
		ResponseChannel:  "mem:resp",
		ResponseStreamID: 200,
	})
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	startCorr := must(c.StartRecording("mem:data", 7))
	if resp, err := c.Await(ctx, startCorr); err != nil || resp.Code != control.CodeOK {
		t.Fatalf("start recording: %+v %v", resp, err)
	}
	img := addLiveImage(t, loop)
	defer img.Close()
	for {
		listCorr := must(c.ListRecordings(0, 1))
		descs, err := c.AwaitList(ctx, listCorr)
		if err != nil {
			t.Fatalf("await list: %v", err)
		}
		if len(descs) == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	loop.AddSubscription("mem:replay", 30)
	corr := must(c.Replay(0, 0, math.MaxInt64, "mem:replay", 30))
	started, err := c.Await(ctx, corr)
	if err != nil || started.Kind != control.KindReplayStarted {
		t.Fatalf("replay response %+v %v", started, err)
	}

	// The replay is parked at the live frontier; shutdown aborts it and the
	// abort notice must be flushed before Run returns.
	cancel()
	<-done
	for i := 0; i < 100; i++ {
		c.PollResponses()
	}
	aborted, ok := c.Take(corr)
	if !ok || aborted.Kind != control.KindReplayAborted {
		t.Fatalf("abort notice lost in shutdown: %+v (delivered %v)", aborted, ok)
	}
}

// addLiveImage attaches a data-stream image with a few payloads already
// offered, leaving the producer open.
func addLiveImage(t *testing.T, loop *transport.Loopback) *transport.ImageWriter {
	t.Helper()
	img, err := loop.AddImage("mem:data", 7, transport.ImageOptions{
		SessionID:      1,
		InitialTermID:  0,
		TermLength:     testTermLength,
		MTULength:      1408,
		SourceIdentity: "test",
	})
	if err != nil {
		t.Fatalf("add image: %v", err)
	}
	offerAll(t, img, randomPayloads(1, 5))
	return img
}

// TestScaledLoadRoundTrip is the load-scenario shape: many random-length
// messages spanning multiple segments, recorded and replayed back
// byte-identically.
func TestScaledLoadRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("load scenario skipped in short mode")
	}
	f := newFixture(t)
	c := f.newClient()

	f.awaitOK(c, must(c.StartRecording("mem:load", 7)))
	img := f.addImage("mem:load", 7, 1)

	const messageCount = 2000
	payloads := randomPayloads(99, messageCount)
	offerAll(t, img, payloads)
	img.Close()

	desc := f.awaitClosed(c, 0)
	if desc.EndPosition < int64(messageCount)*64 {
		t.Fatalf("end position %d implausibly small", desc.EndPosition)
	}

	sub := f.loop.AddSubscription("mem:replay", 30)
	corr := must(c.Replay(0, 0, math.MaxInt64, "mem:replay", 30))
	if resp := f.awaitOK(c, corr); resp.Kind != control.KindReplayStarted {
		t.Fatalf("replay response %+v", resp)
	}
	got := collectPayloads(t, sub, messageCount)
	for i := range payloads {
		if !bytes.Equal(got[i], payloads[i]) {
			t.Fatalf("payload %d differs under load", i)
		}
	}
}

func must(corr int64, err error) int64 {
	if err != nil {
		panic(err)
	}
	return corr
}
