package archiver

import (
	"context"
	"fmt"
	"time"

	"github.com/Alfaiis/aeron/internal/catalog"
	"github.com/Alfaiis/aeron/internal/config"
	"github.com/Alfaiis/aeron/internal/control"
	"github.com/Alfaiis/aeron/internal/journal"
	"github.com/Alfaiis/aeron/internal/segment"
	"github.com/Alfaiis/aeron/internal/session"
	"github.com/Alfaiis/aeron/internal/transport"
	logpkg "github.com/Alfaiis/aeron/pkg/log"
)

// NowMs returns current time in milliseconds since Unix epoch.
var NowMs = func() int64 { return time.Now().UnixMilli() }

// idleSleep is the backoff applied when a duty cycle finds no work.
const idleSleep = time.Millisecond

// controlPollLimit bounds control requests decoded per duty cycle.
const controlPollLimit = 10

type streamKey struct {
	channel  string
	streamID int32
}

// controlClient is one connected control client. Responses are delivered
// through its response publication; a back-pressured response stays queued
// and is retried on later duty cycles, never dropped.
type controlClient struct {
	pub     transport.Publication
	pending []control.Response
}

// recordingEndpoint is one subscribed (channel, streamId) pair. Each new
// image appearing on it is adopted into its own recording session.
type recordingEndpoint struct {
	key     streamKey
	channel string // as requested, before any stripping
	sub     transport.Subscription
	adopted map[int32]bool
}

// Conductor is the archiver's single-threaded duty-cycle loop. It owns the
// control plane, the session registries and all catalog writes; sessions
// never touch the catalog themselves. Everything here runs on one
// goroutine.
type Conductor struct {
	cfg     config.Config
	log     logpkg.Logger
	driver  transport.Driver
	catalog *catalog.Catalog
	journal *journal.Journal

	controlSub transport.Subscription
	eventsPub  transport.Publication

	clients    []*controlClient
	endpoints  map[streamKey]*recordingEndpoint
	recordings map[int64]*session.RecordingSession
	recMeta    map[int64]*catalog.Descriptor
	replays    map[int64]*session.ReplaySession

	nextReplayID int64
	lastProgress time.Time
}

// NewConductor wires the conductor onto the driver's control and events
// streams.
func NewConductor(cfg config.Config, driver transport.Driver, cat *catalog.Catalog,
	jnl *journal.Journal, logger logpkg.Logger) *Conductor {
	return &Conductor{
		cfg:          cfg,
		log:          logger,
		driver:       driver,
		catalog:      cat,
		journal:      jnl,
		controlSub:   driver.AddSubscription(cfg.ControlChannel, cfg.ControlStreamID),
		eventsPub:    driver.AddPublication(cfg.EventsChannel, cfg.EventsStreamID),
		endpoints:    map[streamKey]*recordingEndpoint{},
		recordings:   map[int64]*session.RecordingSession{},
		recMeta:      map[int64]*catalog.Descriptor{},
		replays:      map[int64]*session.ReplaySession{},
		nextReplayID: 1,
		lastProgress: time.Now(),
	}
}

// Run drives duty cycles until ctx is cancelled, then stops every live
// recording and drains it so no buffered byte is lost.
func (c *Conductor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		default:
		}
		if c.DoWork() == 0 {
			time.Sleep(idleSleep)
		}
	}
}

func (c *Conductor) shutdown() {
	for _, sess := range c.recordings {
		sess.Stop()
	}
	for _, sess := range c.replays {
		sess.Stop()
	}
	for i := 0; len(c.recordings)+len(c.replays) > 0 && i < 100000; i++ {
		c.stepSessions()
		c.flushClients()
	}
	c.flushClients()
}

// DoWork performs one duty cycle: poll control requests, adopt new images,
// step every session, harvest their notices and flush client responses.
func (c *Conductor) DoWork() int {
	work := 0
	work += c.pollControl()
	work += c.scanImages()
	work += c.stepSessions()
	work += c.flushClients()
	c.progressCycle()
	return work
}

func (c *Conductor) pollControl() int {
	return c.controlSub.Poll(func(msg []byte) {
		req, err := control.DecodeRequest(msg)
		if err != nil {
			c.log.Warn("dropping malformed control request", logpkg.Err(err))
			return
		}
		c.dispatch(req)
	}, controlPollLimit)
}

// dispatch handles one control request. Responses are broadcast to every
// connected client; clients discriminate by correlation id.
func (c *Conductor) dispatch(req control.Request) {
	switch m := req.(type) {
	case control.Connect:
		cl := &controlClient{pub: c.driver.AddPublication(m.ResponseChannel, m.ResponseStreamID)}
		c.clients = append(c.clients, cl)
		cl.pending = append(cl.pending, control.OK(m.CorrelationID))
		c.log.Info("control client connected",
			logpkg.Str("channel", m.ResponseChannel),
			logpkg.I32("stream_id", m.ResponseStreamID))

	case control.StartRecording:
		c.startRecording(m)

	case control.StopRecording:
		c.stopRecording(m)

	case control.Replay:
		c.startReplay(m)

	case control.StopReplay:
		if sess, ok := c.replays[m.ReplayID]; ok {
			sess.Stop()
			c.broadcast(control.OK(m.CorrelationID))
		} else {
			c.broadcast(control.Error(m.CorrelationID, control.CodeError,
				fmt.Sprintf("unknown replay %d", m.ReplayID)))
		}

	case control.ListRecordings:
		c.listRecordings(m)
	}
}

// startRecording subscribes to the stream and acknowledges immediately;
// recording sessions begin when images appear. A stream already being
// recorded is rejected rather than silently extended.
func (c *Conductor) startRecording(m control.StartRecording) {
	key := streamKey{m.Channel, m.StreamID}
	if _, ok := c.endpoints[key]; ok {
		c.broadcast(control.Error(m.CorrelationID, control.CodeError,
			fmt.Sprintf("already recording %s stream %d", m.Channel, m.StreamID)))
		return
	}
	c.endpoints[key] = &recordingEndpoint{
		key:     key,
		channel: m.Channel,
		sub:     c.driver.AddSubscription(m.Channel, m.StreamID),
		adopted: map[int32]bool{},
	}
	c.broadcast(control.OK(m.CorrelationID))
	c.log.Info("recording subscription added",
		logpkg.Str("channel", m.Channel),
		logpkg.I32("stream_id", m.StreamID))
}

func (c *Conductor) stopRecording(m control.StopRecording) {
	key := streamKey{m.Channel, m.StreamID}
	ep, ok := c.endpoints[key]
	if !ok {
		c.broadcast(control.Error(m.CorrelationID, control.CodeError,
			fmt.Sprintf("not recording %s stream %d", m.Channel, m.StreamID)))
		return
	}
	for _, sess := range c.recordings {
		d := sess.Descriptor()
		if d.StrippedChannel == m.Channel && d.StreamID == m.StreamID {
			sess.Stop()
		}
	}
	ep.sub.Close()
	delete(c.endpoints, key)
	c.broadcast(control.OK(m.CorrelationID))
}

func (c *Conductor) startReplay(m control.Replay) {
	id := c.nextReplayID
	c.nextReplayID++
	sess := session.NewReplaySession(session.ReplayOptions{
		ReplayID:      id,
		CorrelationID: m.CorrelationID,
		RecordingID:   m.RecordingID,
		Position:      m.Position,
		Length:        m.Length,
		Publication:   c.driver.AddPublication(m.ReplayChannel, m.ReplayStreamID),
		Lookup:        c.catalog,
		LivePosition:  c.liveRecordedPosition,
		ArchiveDir:    c.cfg.ArchiveDir,
		Logger:        c.log,
		LingerTimeout: c.cfg.ReplayLinger(),
	})
	c.replays[id] = sess
}

func (c *Conductor) listRecordings(m control.ListRecordings) {
	descs, _, err := c.catalog.List(m.FromID, int(m.Count), nil)
	if err != nil {
		c.broadcast(control.Error(m.CorrelationID, control.CodeError, err.Error()))
		return
	}
	for i := range descs {
		c.broadcast(control.Response{
			Kind:          control.KindDescriptor,
			CorrelationID: m.CorrelationID,
			Descriptor:    &descs[i],
		})
	}
	// The trailing OK marks the end of the listing.
	c.broadcast(control.OK(m.CorrelationID))
}

// scanImages adopts new images on recording endpoints: allocate a catalog
// descriptor, create the segment store and start a recording session.
func (c *Conductor) scanImages() int {
	work := 0
	for _, ep := range c.endpoints {
		for _, img := range ep.sub.Images() {
			if ep.adopted[img.SessionID()] {
				continue
			}
			ep.adopted[img.SessionID()] = true
			if err := c.adoptImage(ep, img); err != nil {
				c.log.Error("cannot start recording session",
					logpkg.Str("channel", ep.key.channel),
					logpkg.I32("session_id", img.SessionID()),
					logpkg.Err(err))
				continue
			}
			work++
		}
	}
	return work
}

func (c *Conductor) adoptImage(ep *recordingEndpoint, img transport.Image) error {
	now := NowMs()
	d := catalog.Descriptor{
		SessionID:         img.SessionID(),
		StreamID:          img.StreamID(),
		StrippedChannel:   ep.key.channel,
		OriginalChannel:   ep.channel,
		SourceIdentity:    img.SourceIdentity(),
		InitialTermID:     img.InitialTermID(),
		TermBufferLength:  img.TermBufferLength(),
		SegmentFileLength: c.cfg.SegmentFileLength,
		MTULength:         img.MTULength(),
		JoinPosition:      img.JoinPosition(),
		EndPosition:       catalog.NullPosition,
		JoinTimestamp:     now,
		EndTimestamp:      catalog.NullTimestamp,
		Position:          img.JoinPosition(),
	}
	if err := c.catalog.Allocate(&d); err != nil {
		return err
	}
	syncMode, err := c.cfg.SegmentSyncMode()
	if err != nil {
		return err
	}
	store, err := segment.NewStore(segment.Options{
		Dir:               c.cfg.ArchiveDir,
		RecordingID:       d.RecordingID,
		TermLength:        d.TermBufferLength,
		SegmentLength:     d.SegmentFileLength,
		Sync:              syncMode,
		SyncIntervalBytes: c.cfg.SegmentSyncBytes,
	})
	if err != nil {
		return err
	}
	c.recordings[d.RecordingID] = session.NewRecordingSession(session.RecordingOptions{
		Image:      img,
		Store:      store,
		Descriptor: d,
		Logger:     c.log,
	})
	meta := d
	c.recMeta[d.RecordingID] = &meta

	if _, err := c.journal.Append(journal.KindStarted, d.RecordingID, d.JoinPosition, now); err != nil {
		c.log.Error("journal append failed", logpkg.Err(err))
	}
	c.emitEvent(control.Event{
		Kind:         control.EventStarted,
		RecordingID:  d.RecordingID,
		JoinPosition: d.JoinPosition,
		Position:     d.JoinPosition,
		SessionID:    d.SessionID,
		StreamID:     d.StreamID,
		Channel:      d.StrippedChannel,
	})
	c.log.Info("recording started",
		logpkg.I64("recording_id", d.RecordingID),
		logpkg.Str("channel", d.StrippedChannel),
		logpkg.I32("session_id", d.SessionID))
	return nil
}

func (c *Conductor) stepSessions() int {
	work := 0
	for id, sess := range c.recordings {
		work += sess.DoWork()
		if sess.State() == session.RecordingStateStopped {
			c.finalizeRecording(id, sess)
			work++
		}
	}
	for id, sess := range c.replays {
		work += sess.DoWork()
		for _, n := range sess.TakeNotices() {
			c.broadcast(n)
			work++
		}
		switch sess.State() {
		case session.ReplayStateCompleted, session.ReplayStateAborted:
			delete(c.replays, id)
		}
	}
	return work
}

// finalizeRecording closes the descriptor at the session's final recorded
// position. The descriptor becomes immutable from here on.
func (c *Conductor) finalizeRecording(id int64, sess *session.RecordingSession) {
	now := NowMs()
	meta := c.recMeta[id]
	end := sess.RecordedPosition()
	meta.State = catalog.StateClosed
	meta.EndPosition = end
	meta.Position = end
	meta.EndTimestamp = now
	if err := c.catalog.Put(meta); err != nil {
		c.log.Error("closing descriptor failed",
			logpkg.I64("recording_id", id), logpkg.Err(err))
	}
	if _, err := c.journal.Append(journal.KindStopped, id, end, now); err != nil {
		c.log.Error("journal append failed", logpkg.Err(err))
	}
	c.emitEvent(control.Event{
		Kind:         control.EventStopped,
		RecordingID:  id,
		JoinPosition: meta.JoinPosition,
		Position:     end,
		SessionID:    meta.SessionID,
		StreamID:     meta.StreamID,
		Channel:      meta.StrippedChannel,
	})
	delete(c.recordings, id)
	delete(c.recMeta, id)
	c.log.Info("recording stopped",
		logpkg.I64("recording_id", id),
		logpkg.I64("end_position", end))
}

// progressCycle checkpoints active recordings and broadcasts progress
// events at the configured cadence. A crash loses at most one cycle of
// checkpointed progress.
func (c *Conductor) progressCycle() {
	if time.Since(c.lastProgress) < c.cfg.ProgressInterval() {
		return
	}
	c.lastProgress = time.Now()
	for id, sess := range c.recordings {
		meta := c.recMeta[id]
		pos := sess.RecordedPosition()
		if pos <= meta.Position {
			continue
		}
		meta.Position = pos
		if meta.State == catalog.StateProvisional {
			meta.State = catalog.StateActive
		}
		if err := c.catalog.Put(meta); err != nil {
			c.log.Error("checkpoint failed", logpkg.I64("recording_id", id), logpkg.Err(err))
			continue
		}
		c.emitEvent(control.Event{
			Kind:         control.EventProgress,
			RecordingID:  id,
			JoinPosition: meta.JoinPosition,
			Position:     pos,
			SessionID:    meta.SessionID,
			StreamID:     meta.StreamID,
			Channel:      meta.StrippedChannel,
		})
	}
}

// liveRecordedPosition is the replay sessions' view of live recording
// frontiers.
func (c *Conductor) liveRecordedPosition(recordingID int64) (int64, bool) {
	sess, ok := c.recordings[recordingID]
	if !ok || sess.State() == session.RecordingStateStopped {
		return 0, false
	}
	return sess.RecordedPosition(), true
}

// broadcast queues a response for every connected client. The response
// stream is acknowledged: queued responses survive back pressure.
func (c *Conductor) broadcast(resp control.Response) {
	for _, cl := range c.clients {
		cl.pending = append(cl.pending, resp)
	}
}

func (c *Conductor) flushClients() int {
	work := 0
	alive := c.clients[:0]
	for _, cl := range c.clients {
		closed := false
		for len(cl.pending) > 0 {
			result := cl.pub.Offer(control.EncodeResponse(cl.pending[0]))
			if result == transport.Closed {
				closed = true
				break
			}
			if result < 0 {
				break
			}
			cl.pending = cl.pending[1:]
			work++
		}
		if !closed {
			alive = append(alive, cl)
		}
	}
	c.clients = alive
	return work
}

// emitEvent publishes on the unacknowledged events stream; delivery is best
// effort and never retried.
func (c *Conductor) emitEvent(ev control.Event) {
	c.eventsPub.Offer(control.EncodeEvent(ev))
}
