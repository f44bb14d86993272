// Package connection implements the connection manager facade.
//
// The manager keeps one logical connection to the TradeLink streaming
// backend, continuously reconciling the caller's desired state against
// reality. Connect attempts are guarded by a circuit breaker; failures
// hand off to the resilience coordinator for backoff-delayed retries;
// a heartbeat monitor watches liveness once connected; and correlated
// request/response calls ride the message dispatcher.
package connection
