package catalog

import (
	"strings"

	"github.com/google/cel-go/cel"
)

// Filter wraps a compiled CEL program evaluated against descriptors. When
// disabled (empty expression), Eval always returns true.
type Filter struct {
	prog    cel.Program
	enabled bool
}

// NewFilter compiles a CEL expression over descriptor fields. Available
// variables: recording_id, session_id, stream_id, channel, original_channel,
// source, state, join_position, end_position, position, term_length,
// segment_length, mtu.
func NewFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("recording_id", cel.IntType),
		cel.Variable("session_id", cel.IntType),
		cel.Variable("stream_id", cel.IntType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("original_channel", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("state", cel.StringType),
		cel.Variable("join_position", cel.IntType),
		cel.Variable("end_position", cel.IntType),
		cel.Variable("position", cel.IntType),
		cel.Variable("term_length", cel.IntType),
		cel.Variable("segment_length", cel.IntType),
		cel.Variable("mtu", cel.IntType),
	)
	if err != nil {
		return Filter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return Filter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return Filter{}, err
	}
	return Filter{prog: prog, enabled: true}, nil
}

// Eval evaluates the compiled expression against d. When disabled, returns
// true. Evaluation errors count as non-matches.
func (f Filter) Eval(d *Descriptor) bool {
	if !f.enabled {
		return true
	}
	out, _, err := f.prog.Eval(map[string]any{
		"recording_id":     d.RecordingID,
		"session_id":       int64(d.SessionID),
		"stream_id":        int64(d.StreamID),
		"channel":          d.StrippedChannel,
		"original_channel": d.OriginalChannel,
		"source":           d.SourceIdentity,
		"state":            d.State.String(),
		"join_position":    d.JoinPosition,
		"end_position":     d.EndPosition,
		"position":         d.Position,
		"term_length":      int64(d.TermBufferLength),
		"segment_length":   d.SegmentFileLength,
		"mtu":              int64(d.MTULength),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
