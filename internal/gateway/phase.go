// ABOUTME: Session lifecycle phases
// ABOUTME: Disconnected through Closed, with human-readable names for logs and metrics

package gateway

// Phase is a session's position in its lifecycle.
type Phase int32

const (
	PhaseDisconnected Phase = iota
	PhaseHandshaking
	PhaseAuthenticated
	PhaseLive
	PhaseClosing
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseHandshaking:
		return "handshaking"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseLive:
		return "live"
	case PhaseClosing:
		return "closing"
	case PhaseClosed:
		return "closed"
	}
	return "unknown"
}
