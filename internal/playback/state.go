package playback

// State is the engine's lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateGenerating State = "generating"
	StateLoading    State = "loading"
	StatePaused     State = "paused"
	StatePlaying    State = "playing"
)

// Busy reports whether a generation or load is running.
func (s State) Busy() bool {
	return s == StateGenerating || s == StateLoading
}

// CanRender reports whether frames may be drawn in this state.
func (s State) CanRender() bool {
	return s == StatePaused || s == StatePlaying
}
