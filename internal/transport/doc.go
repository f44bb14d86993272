// Package transport provides the wire transports to the TradeLink
// streaming backend.
//
// Three variants implement the same Transport contract: a primary
// WebSocket duplex stream, an SSE server-push fallback (sends go over a
// companion HTTP endpoint), and an HTTP polling fallback. Connecting any
// variant requires a bearer token from the TokenProvider capability;
// a missing token fails fast without touching the network.
package transport
