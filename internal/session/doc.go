// Package session holds the archiver's per-stream state machines: recording
// sessions that drain live images into segment files, and replay sessions
// that stream recorded ranges back out. Sessions are single-threaded
// cooperative units; the conductor steps each one via DoWork and harvests
// the control responses they produce.
package session
