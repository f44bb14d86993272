// Package backoff computes capped exponential retry delays with jitter.
//
// Delays double per attempt up to a configured maximum, then get multiplied
// by a random factor in [1-jitter, 1+jitter] so that many clients recovering
// from the same outage do not retry in lockstep.
package backoff
