package extractor

// State is the Raw Extractor's lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnected
	StateStreaming
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateStreaming:
		return "streaming"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
