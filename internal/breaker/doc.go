// Package breaker implements a three-state circuit breaker guarding
// connection attempts against a repeatedly failing backend.
//
// Closed passes calls through and counts consecutive failures. After the
// failure threshold the circuit opens and rejects calls immediately until
// the reset timeout elapses, then a bounded number of half-open trial calls
// probe the backend: a success closes the circuit, a failure reopens it.
package breaker
