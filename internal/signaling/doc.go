// Package signaling implements the peer signaling relay: a WebSocket endpoint
// that assigns every connection an id, keeps a roster of connected clients,
// and forwards offer/answer/ICE envelopes verbatim between them.
//
// The relay never inspects SDP or candidates. It only routes on the envelope's
// `type` and `answerId` fields.
package signaling
