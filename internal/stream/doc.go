// Package stream multiplexes update sources onto one server-sent event
// stream.
//
// A Scheduler polls each Source at its own rate on a single loop. Every
// frame carries the serialized Offsets of all sources as its event id, so
// a client that reconnects with Last-Event-ID resumes every source where
// it left off.
package stream
