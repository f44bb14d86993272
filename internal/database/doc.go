// Package database provides connection pool management for TimescaleDB.
//
// The event journal is the only database consumer: connection events are
// appended to a time-series table for later analysis of link health.
package database
