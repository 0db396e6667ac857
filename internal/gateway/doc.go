// Package gateway implements the client side of the gateway streaming
// protocol: one persistent connection that authenticates, keeps itself alive
// with heartbeats, and turns inbound frames into typed events.
//
// # Lifecycle
//
// A Session moves through the phases
//
//	Disconnected -> Handshaking -> Authenticated -> Live -> Closing -> Closed
//
// Connect dials the endpoint, requires Hello as the first envelope, records
// the heartbeat interval, and sends identify (or resume when Config.Resume is
// set). Run starts the heartbeat scheduler and the receive loop and returns a
// feed carrying events in arrival order. Disconnect, a fatal transport error,
// a missed heartbeat ack, or canceling the Run context closes the session.
//
// # Events
//
// The decoder maps op codes to a closed set of Event types. Dispatch payloads
// decode through a Registry keyed by event name; names without a decoder are
// delivered as generic Dispatch values holding the raw payload.
//
//	sess, _ := gateway.New(gateway.Config{Token: token, Intents: gateway.IntentGuildMessages})
//	if err := sess.Connect(ctx, url); err != nil { ... }
//	events, _ := sess.Run(ctx)
//	ch, _ := events.Stream(ctx)
//	for ev := range ch { ... }
//
// # Errors
//
// Errors that skip a single envelope (*UnknownOpCodeError, *DecodeError,
// *UnexpectedEventError) go to Config.ErrorHandler and the session stays
// live. Everything else ends the session and is reported by Err.
//
// The session never reconnects by itself; see package resume.
package gateway
