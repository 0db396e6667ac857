// Package transport owns the raw bidirectional frame stream to the gateway.
//
// # Overview
//
// A Dialer opens a Conn to a websocket endpoint. A Conn moves opaque text
// frames and knows nothing about op codes, sequences, or heartbeats:
//
//	conn, err := transport.NewWebSocketDialer(transport.Options{}).Dial(ctx, url)
//	frame, err := conn.Receive()      // io.EOF once the peer closed normally
//	err = conn.Send(frame)
//	err = conn.Close(transport.CloseNormal, "Disconnected")
//
// # Concurrency
//
// One goroutine may call Receive while another calls Send. Each half is
// serialized by its own mutex so a slow write never stalls a pending read.
// Close may be called from any goroutine; it unblocks a pending Receive.
//
// # Errors
//
// Nothing here retries. Dial failures, read/write failures, and close
// failures are returned unchanged for the caller to classify.
package transport
