// Package archiver ties the pieces together: a single-threaded conductor
// polls the control stream, adopts images into recording sessions, steps
// every session cooperatively and owns all catalog and journal writes.
// Clients connect over the control protocol and match responses by
// correlation id.
package archiver
