// ABOUTME: Observer hook notified of session activity
// ABOUTME: Lets metrics collectors watch a session without the session importing them

package gateway

import "time"

// Observer receives session activity. Implementations must not block and
// must not call back into the session.
type Observer interface {
	PhaseChanged(from, to Phase)
	FrameReceived(op OpCode)
	DispatchReceived(name string)
	EventDropped(reason string)
	HeartbeatSent()
	HeartbeatAcked(rtt time.Duration)
	LivenessTimeout()
}

// Reasons passed to Observer.EventDropped.
const (
	DropDecodeError  = "decode_error"
	DropUnknownOp    = "unknown_op"
	DropUnexpected   = "unexpected"
	DropFeedOverflow = "feed_overflow"
)

type nopObserver struct{}

func (nopObserver) PhaseChanged(Phase, Phase)    {}
func (nopObserver) FrameReceived(OpCode)         {}
func (nopObserver) DispatchReceived(string)      {}
func (nopObserver) EventDropped(string)          {}
func (nopObserver) HeartbeatSent()               {}
func (nopObserver) HeartbeatAcked(time.Duration) {}
func (nopObserver) LivenessTimeout()             {}
