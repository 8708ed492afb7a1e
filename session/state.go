package session

// State is where a session is in its lifecycle.
type State string

const (
	StateIdle               State = "idle"
	StateRunning            State = "running"
	StateSampling           State = "sampling"
	StateFinalizing         State = "finalizing"
	StateFinalizingDegraded State = "finalizing-degraded"
	StateAnchored           State = "anchored"
	StateReporting          State = "reporting"
	StateDone               State = "done"
	StateFailed             State = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
