package session

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Alfaiis/aeron/internal/catalog"
	"github.com/Alfaiis/aeron/internal/control"
	"github.com/Alfaiis/aeron/internal/frame"
	"github.com/Alfaiis/aeron/internal/position"
	"github.com/Alfaiis/aeron/internal/segment"
	"github.com/Alfaiis/aeron/internal/transport"
	logpkg "github.com/Alfaiis/aeron/pkg/log"
)

// ReplayState is the lifecycle state of a ReplaySession.
type ReplayState int

const (
	ReplayStateValidating ReplayState = iota
	ReplayStateReplaying
	ReplayStateCompleted
	ReplayStateAborted
)

func (s ReplayState) String() string {
	switch s {
	case ReplayStateValidating:
		return "validating"
	case ReplayStateReplaying:
		return "replaying"
	case ReplayStateCompleted:
		return "completed"
	case ReplayStateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// defaultReplayBatch bounds bytes forwarded per scheduling turn.
const defaultReplayBatch = 128 * 1024

// RecordingLookup resolves recording descriptors. *catalog.Catalog satisfies
// it.
type RecordingLookup interface {
	Get(recordingID int64) (catalog.Descriptor, error)
	HighestID() int64
}

// LivePositionFunc reports the durably-written frontier of a recording that
// is still being recorded, or ok=false when no live session exists for it.
type LivePositionFunc func(recordingID int64) (int64, bool)

// ReplayOptions configures a ReplaySession.
type ReplayOptions struct {
	ReplayID      int64
	CorrelationID int64
	RecordingID   int64
	Position      int64
	Length        int64
	Publication   transport.Publication
	Lookup        RecordingLookup
	LivePosition  LivePositionFunc
	ArchiveDir    string
	Logger        logpkg.Logger
	// LingerTimeout aborts a replay that has made no progress for this long
	// while blocked on the subscriber or the live frontier. Zero parks
	// forever.
	LingerTimeout time.Duration
	// BatchLength bounds one turn's forwarding; 0 selects the default.
	BatchLength int
}

// ReplaySession streams a recorded position range back out on a publication,
// preserving the frames exactly as written. It follows the live frontier of
// an in-progress recording and never reads past it.
type ReplaySession struct {
	id            int64
	correlationID int64
	recordingID   int64
	requestPos    int64
	length        int64
	pub           transport.Publication
	lookup        RecordingLookup
	live          LivePositionFunc
	archiveDir    string
	log           logpkg.Logger
	linger        time.Duration
	batch         int

	state          ReplayState
	desc           catalog.Descriptor
	store          *segment.Store
	file           *segment.File
	replayPosition int64
	stopPosition   int64
	// closedEnd caches the recording's end position once it is known to be
	// closed; -1 while live.
	closedEnd     int64
	stopRequested bool
	lastProgress  time.Time
	notices       []control.Response
}

// NewReplaySession creates a session; validation and descriptor resolution
// happen on the first scheduling turn, not here.
func NewReplaySession(opts ReplayOptions) *ReplaySession {
	batch := opts.BatchLength
	if batch <= 0 {
		batch = defaultReplayBatch
	}
	return &ReplaySession{
		id:            opts.ReplayID,
		correlationID: opts.CorrelationID,
		recordingID:   opts.RecordingID,
		requestPos:    opts.Position,
		length:        opts.Length,
		pub:           opts.Publication,
		lookup:        opts.Lookup,
		live:          opts.LivePosition,
		archiveDir:    opts.ArchiveDir,
		log:           opts.Logger,
		linger:        opts.LingerTimeout,
		batch:         batch,
		closedEnd:     -1,
		lastProgress:  time.Now(),
	}
}

// ReplayID returns the archiver-assigned replay id.
func (s *ReplaySession) ReplayID() int64 { return s.id }

// RecordingID returns the recording being replayed.
func (s *ReplaySession) RecordingID() int64 { return s.recordingID }

// State returns the current lifecycle state.
func (s *ReplaySession) State() ReplayState { return s.state }

// Position returns the replay cursor in recording position space.
func (s *ReplaySession) Position() int64 { return s.replayPosition }

// Stop requests an asynchronous abort, applied on the next scheduling turn.
func (s *ReplaySession) Stop() { s.stopRequested = true }

// TakeNotices returns and clears the control responses the session produced
// since the last call. The conductor delivers them to the owning client.
func (s *ReplaySession) TakeNotices() []control.Response {
	n := s.notices
	s.notices = nil
	return n
}

// DoWork advances the session by one bounded step and returns a work count.
func (s *ReplaySession) DoWork() int {
	switch s.state {
	case ReplayStateValidating:
		return s.validate()
	case ReplayStateReplaying:
		return s.replay()
	default:
		return 0
	}
}

func (s *ReplaySession) validate() int {
	d, err := s.lookup.Get(s.recordingID)
	if errors.Is(err, catalog.ErrNotFound) {
		s.notices = append(s.notices,
			control.NotFound(s.correlationID, s.recordingID, s.lookup.HighestID()))
		s.state = ReplayStateAborted
		return 1
	}
	if err != nil {
		s.abortWithError(control.CodeError, err.Error())
		return 1
	}
	s.desc = d
	if d.State == catalog.StateClosed {
		s.closedEnd = d.EndPosition
	}

	frontier, _ := s.frontier()
	if s.length < 0 || s.requestPos < d.JoinPosition || s.requestPos > frontier {
		s.abortWithError(control.CodeError, fmt.Sprintf(
			"replay range [%d,+%d) outside recorded range [%d,%d) of recording %d",
			s.requestPos, s.length, d.JoinPosition, frontier, s.recordingID))
		return 1
	}

	store, err := segment.NewStore(segment.Options{
		Dir:           s.archiveDir,
		RecordingID:   d.RecordingID,
		TermLength:    d.TermBufferLength,
		SegmentLength: d.SegmentFileLength,
	})
	if err != nil {
		s.abortWithError(control.CodeError, err.Error())
		return 1
	}
	s.store = store

	start, err := s.frameFloor(s.requestPos)
	if err != nil {
		s.abortWithError(control.CodeError, err.Error())
		return 1
	}
	s.replayPosition = start
	if s.length > math.MaxInt64-s.requestPos {
		s.stopPosition = math.MaxInt64
	} else {
		s.stopPosition = s.requestPos + s.length
	}

	s.notices = append(s.notices, control.Response{
		Kind:          control.KindReplayStarted,
		CorrelationID: s.correlationID,
		ReplayID:      s.id,
	})
	s.state = ReplayStateReplaying
	s.lastProgress = time.Now()
	s.log.Debug("replay started",
		logpkg.I64("replay_id", s.id),
		logpkg.I64("recording_id", s.recordingID),
		logpkg.I64("from", s.replayPosition),
		logpkg.I64("stop", s.stopPosition))
	return 1
}

// frameFloor walks frame headers to the start of the frame containing pos.
// The walk begins at the term floor of pos, or at the join position when the
// recording joined mid-term (bytes below it were never written). Join
// positions are frame-aligned, and every frame below the durable frontier is
// fully written, so the walk is safe.
func (s *ReplaySession) frameFloor(pos int64) (int64, error) {
	cur := pos - int64(position.TermOffset(pos, s.desc.TermBufferLength))
	if cur < s.desc.JoinPosition {
		cur = s.desc.JoinPosition
	}
	for cur < pos {
		h, err := s.readHeader(cur)
		if err != nil {
			return 0, err
		}
		aligned := int64(h.AlignedLength())
		if aligned < frame.HeaderLength {
			return 0, fmt.Errorf("session: corrupt frame at position %d of recording %d",
				cur, s.recordingID)
		}
		if cur+aligned > pos {
			break
		}
		cur += aligned
	}
	return cur, nil
}

func (s *ReplaySession) readHeader(pos int64) (frame.Header, error) {
	if err := s.ensureFile(pos); err != nil {
		return frame.Header{}, err
	}
	b, err := s.file.Read(position.SegmentOffset(pos, s.store.SegmentLength()), frame.HeaderLength)
	if err != nil {
		return frame.Header{}, err
	}
	return frame.DecodeHeader(b), nil
}

func (s *ReplaySession) ensureFile(pos int64) error {
	idx := position.SegmentIndex(pos, s.store.SegmentLength())
	if s.file != nil && s.file.Index() == idx {
		return nil
	}
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	f, err := s.store.OpenRead(idx)
	if err != nil {
		return err
	}
	s.file = f
	return nil
}

// frontier returns the highest position the replay may read up to, and
// whether the recording is closed. For a live recording this is the
// recording session's durable frontier; once the recording closes it is the
// final end position.
func (s *ReplaySession) frontier() (int64, bool) {
	if s.closedEnd >= 0 {
		return s.closedEnd, true
	}
	if pos, ok := s.live(s.recordingID); ok {
		return pos, false
	}
	d, err := s.lookup.Get(s.recordingID)
	if err != nil {
		// Descriptor vanished mid-replay; fall back to the checkpoint.
		return s.desc.Position, true
	}
	s.desc = d
	if d.State == catalog.StateClosed {
		s.closedEnd = d.EndPosition
		return d.EndPosition, true
	}
	return d.Position, false
}

func (s *ReplaySession) replay() int {
	if s.stopRequested {
		s.abort("stopped by request")
		return 1
	}
	if s.pub.IsClosed() {
		s.abort("replay publication closed")
		return 1
	}

	frontier, closed := s.frontier()
	stop := s.stopPosition
	if closed && frontier < stop {
		stop = frontier
	}

	work := 0
	for work < s.batch && s.replayPosition < stop {
		if s.replayPosition+frame.HeaderLength > frontier {
			break
		}
		h, err := s.readHeader(s.replayPosition)
		if err != nil {
			s.abort(err.Error())
			return 1
		}
		aligned := int64(h.AlignedLength())
		if h.FrameLength < frame.HeaderLength || aligned < frame.HeaderLength {
			s.abort(fmt.Sprintf("corrupt frame at position %d", s.replayPosition))
			return 1
		}
		if s.replayPosition+aligned > frontier {
			break
		}
		if h.Type != frame.TypePad {
			segOff := position.SegmentOffset(s.replayPosition, s.store.SegmentLength())
			buf, err := s.file.Read(segOff, h.FrameLength)
			if err != nil {
				s.abort(err.Error())
				return 1
			}
			result := s.pub.Offer(buf)
			if result == transport.Closed {
				s.abort("replay publication closed")
				return 1
			}
			if result < 0 {
				// Back pressured or not yet connected; retry this frame.
				break
			}
		}
		s.replayPosition += aligned
		work += int(aligned)
	}

	if s.replayPosition >= stop && (closed || s.replayPosition >= s.stopPosition) {
		s.complete()
		return work + 1
	}
	if work > 0 {
		s.lastProgress = time.Now()
		return work
	}
	if s.linger > 0 && time.Since(s.lastProgress) > s.linger {
		s.abort("no progress within linger timeout")
		return 1
	}
	return 0
}

func (s *ReplaySession) complete() {
	s.closeFile()
	s.state = ReplayStateCompleted
	s.log.Debug("replay completed",
		logpkg.I64("replay_id", s.id),
		logpkg.I64("position", s.replayPosition))
}

func (s *ReplaySession) abort(reason string) {
	s.closeFile()
	s.state = ReplayStateAborted
	s.notices = append(s.notices, control.Response{
		Kind:          control.KindReplayAborted,
		CorrelationID: s.correlationID,
		ReplayID:      s.id,
		EndPosition:   s.replayPosition,
		ErrorMessage:  reason,
	})
	s.log.Debug("replay aborted",
		logpkg.I64("replay_id", s.id),
		logpkg.I64("position", s.replayPosition),
		logpkg.Str("reason", reason))
}

// abortWithError fails validation with a code+message response instead of
// the replay-aborted notice; the replay never started.
func (s *ReplaySession) abortWithError(code control.Code, msg string) {
	s.closeFile()
	s.state = ReplayStateAborted
	s.notices = append(s.notices, control.Error(s.correlationID, code, msg))
}

func (s *ReplaySession) closeFile() {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
}
