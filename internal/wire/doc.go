// Package wire defines the JSON message envelope exchanged with the
// TradeLink streaming backend.
//
// Every message carries a required "type" field. Requests additionally
// carry a correlation id ("requestId"), a client timestamp, and the device
// id; responses echo the request's correlation id.
package wire
