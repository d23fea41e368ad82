// Package control implements the archiver's control-plane protocol: the
// request set, the single tagged-variant response type, and the recording
// events broadcast on a separate unacknowledged stream. Requests carry a
// client-chosen correlation id; responses are matched by that id, never by
// request order.
package control
