// Package dispatch correlates requests with responses over a
// fire-and-forget transport.
//
// Each outbound request gets a unique correlation id and an entry in a
// pending table with a deadline. The owner feeds inbound messages through
// HandleMessage; a message echoing a pending id resolves the waiting call.
// Deadline expiry rejects with a timeout, and transport close rejects every
// pending entry, so no request is ever left dangling.
package dispatch
