// Package client is the control-plane proxy used by tools and tests to
// drive an archiver: it encodes requests onto the control stream, consumes
// the client's own response stream and matches responses by correlation id.
package client
