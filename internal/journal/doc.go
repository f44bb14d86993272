// Package journal persists connection events to TimescaleDB in batches.
//
// A writer consumes the manager's event stream, accumulates rows, and
// flushes on a size threshold or a timer, whichever comes first. Insert
// failures are counted and logged; the stream is never blocked by a slow
// database.
package journal
