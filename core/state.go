package orchestration

// State is the turn-taking state of a session. Capture runs only while
// Listening and playback only while Speaking.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateSpeaking:
		return "speaking"
	}
	return "unknown"
}
