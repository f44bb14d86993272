// Package resilience orchestrates reconnection after transport failures.
//
// A coordinator tracks failures and schedules backoff-delayed reconnect
// attempts through a four-state machine: stable, recovering, suspended
// (too many failures, wait out a cool-down), and failed (attempt budget
// exhausted, terminal until manual reset). Losing authentication cancels
// all pending recovery.
package resilience
