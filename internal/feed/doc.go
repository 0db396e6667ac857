// Package feed provides the ordered event queue between the gateway receive
// loop and the consumer.
//
// # Overview
//
// A Feed preserves publish order exactly. Consumers read it either by pushing
// (ranging over Stream(ctx)) or by pulling (calling Next). The two styles are mutually
// exclusive on one feed; the first one used wins and the other returns
// ErrModeConflict.
//
// # Back-pressure
//
// What happens when the consumer falls behind is an explicit Policy:
//
//   - Block: Publish waits for room. The producer slows to the consumer's pace.
//   - DropOldest: the oldest buffered item is discarded to make room. The drop
//     callback sees every discarded item.
//   - Unbounded: the buffer grows without limit. A stalled consumer grows
//     memory without bound; use only when the consumer is known to keep up.
//
// # Shutdown
//
// Close stops further publishes. Buffered items stay readable: Next keeps
// returning them and returns ErrDrained once empty, and the Stream channel is closed after
// the last item is delivered. A push consumer that gives up before the drain
// cancels the context it passed to Stream.
package feed
