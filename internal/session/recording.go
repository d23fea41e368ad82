package session

import (
	"fmt"

	"github.com/Alfaiis/aeron/internal/catalog"
	"github.com/Alfaiis/aeron/internal/position"
	"github.com/Alfaiis/aeron/internal/segment"
	"github.com/Alfaiis/aeron/internal/transport"
	logpkg "github.com/Alfaiis/aeron/pkg/log"
)

// RecordingState is the lifecycle state of a RecordingSession.
type RecordingState int

const (
	RecordingStateInit RecordingState = iota
	RecordingStateRecording
	RecordingStateStopping
	RecordingStateStopped
)

func (s RecordingState) String() string {
	switch s {
	case RecordingStateInit:
		return "init"
	case RecordingStateRecording:
		return "recording"
	case RecordingStateStopping:
		return "stopping"
	case RecordingStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// defaultBlockLimit bounds bytes drained from the image per scheduling turn.
const defaultBlockLimit = 64 * 1024

// RecordingOptions configures a RecordingSession.
type RecordingOptions struct {
	Image      transport.Image
	Store      *segment.Store
	Descriptor catalog.Descriptor
	Logger     logpkg.Logger
	// BlockLengthLimit bounds one turn's drain; 0 selects the default.
	BlockLengthLimit int
}

// RecordingSession drains one live image into the segment store, advancing
// the recorded position. All methods run on the conductor goroutine; one
// DoWork call performs one bounded, non-blocking unit of work.
type RecordingSession struct {
	image      transport.Image
	store      *segment.Store
	desc       catalog.Descriptor
	log        logpkg.Logger
	blockLimit int

	state            RecordingState
	file             *segment.File
	recordedPosition int64
	stopRequested    bool
	err              error
}

// NewRecordingSession creates a session positioned at the descriptor's join
// position. The conductor has already allocated the descriptor and store.
func NewRecordingSession(opts RecordingOptions) *RecordingSession {
	limit := opts.BlockLengthLimit
	if limit <= 0 {
		limit = defaultBlockLimit
	}
	return &RecordingSession{
		image:            opts.Image,
		store:            opts.Store,
		desc:             opts.Descriptor,
		log:              opts.Logger,
		blockLimit:       limit,
		recordedPosition: opts.Descriptor.JoinPosition,
	}
}

// RecordingID returns the catalog id of the recording.
func (s *RecordingSession) RecordingID() int64 { return s.desc.RecordingID }

// State returns the current lifecycle state.
func (s *RecordingSession) State() RecordingState { return s.state }

// RecordedPosition is the durably-written frontier of the recording. A
// live replay may read up to, but never past, this position.
func (s *RecordingSession) RecordedPosition() int64 { return s.recordedPosition }

// Err returns the storage error that terminated the session, if any.
func (s *RecordingSession) Err() error { return s.err }

// Descriptor returns the session's view of its descriptor.
func (s *RecordingSession) Descriptor() catalog.Descriptor { return s.desc }

// Stop requests an asynchronous stop, applied on the next scheduling turn
// so in-flight writes complete first.
func (s *RecordingSession) Stop() { s.stopRequested = true }

// DoWork advances the session by one bounded step and returns a work count.
func (s *RecordingSession) DoWork() int {
	switch s.state {
	case RecordingStateInit:
		return s.init()
	case RecordingStateRecording:
		return s.record()
	case RecordingStateStopping:
		return s.drain()
	default:
		return 0
	}
}

func (s *RecordingSession) init() int {
	idx := position.SegmentIndex(s.recordedPosition, s.store.SegmentLength())
	f, err := s.store.Open(idx)
	if err != nil {
		s.fail(err)
		return 1
	}
	s.file = f
	s.state = RecordingStateRecording
	return 1
}

func (s *RecordingSession) record() int {
	if s.stopRequested {
		s.state = RecordingStateStopping
		return 1
	}
	n := s.image.BlockPoll(s.onBlock, s.blockLimit)
	if s.err != nil {
		s.finish()
		return 1
	}
	if n == 0 && s.image.IsClosed() {
		s.state = RecordingStateStopping
		return 1
	}
	return n
}

// drain writes out bytes still buffered in the image, then flushes and
// finishes.
func (s *RecordingSession) drain() int {
	n := s.image.BlockPoll(s.onBlock, s.blockLimit)
	if s.err != nil {
		s.finish()
		return 1
	}
	if n > 0 {
		return n
	}
	s.finish()
	return 1
}

// finish transitions to STOPPED with the end position at the last durable
// byte. A partial recording remains valid and replayable up to it.
func (s *RecordingSession) finish() {
	if s.file != nil {
		if err := s.file.Close(); err != nil && s.err == nil {
			s.err = err
		}
		s.file = nil
	}
	s.desc.EndPosition = s.recordedPosition
	s.desc.Position = s.recordedPosition
	s.state = RecordingStateStopped
	if s.err != nil {
		s.log.Error("recording terminated by storage error",
			logpkg.I64("recording_id", s.desc.RecordingID),
			logpkg.I64("end_position", s.recordedPosition),
			logpkg.Err(s.err))
	}
}

func (s *RecordingSession) fail(err error) {
	s.err = err
	s.finish()
}

func (s *RecordingSession) onBlock(block []byte, sessionID, termID int32) error {
	segLen := s.store.SegmentLength()
	idx := position.SegmentIndex(s.recordedPosition, segLen)
	if s.file == nil || s.file.Index() != idx {
		// Rotation happens exactly at a segment boundary, which is also a
		// term boundary by construction. Anything else is a geometry
		// violation and fatal for the session.
		if position.SegmentOffset(s.recordedPosition, segLen) != 0 {
			err := fmt.Errorf("session: rotation at non-boundary position %d", s.recordedPosition)
			s.err = err
			return err
		}
		if s.file != nil {
			if err := s.file.Close(); err != nil {
				s.err = err
				return err
			}
		}
		f, err := s.store.Open(idx)
		if err != nil {
			s.err = err
			return err
		}
		s.file = f
	}
	if err := s.file.Write(position.SegmentOffset(s.recordedPosition, segLen), block); err != nil {
		s.err = err
		return err
	}
	s.recordedPosition += int64(len(block))
	return nil
}
