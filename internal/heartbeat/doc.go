// Package heartbeat implements protocol-level liveness detection.
//
// While active, the monitor sends a heartbeat probe at a fixed interval and
// arms an acknowledgment timeout. A missed acknowledgment is reported to the
// owner, who decides what to do with the transport; the monitor never closes
// it. Acknowledged probes yield round-trip latency samples kept in a bounded
// ring, from which a rolling connection-quality classification is derived.
package heartbeat
