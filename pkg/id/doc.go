// Package id provides a process-local generator of strictly increasing
// int64 identifiers, used by control clients for correlation ids.
package id
