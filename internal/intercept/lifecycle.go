package intercept

import (
	"errors"
	"fmt"
)

// State is the lifecycle phase of a Worker.
type State int

const (
	StateInstalling State = iota
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrInvalidTransition is returned when a lifecycle method is called from a
// state that does not allow it.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

var transitions = map[State][]State{
	StateInstalling: {StateInstalled, StateRedundant},
	StateInstalled:  {StateActivating, StateRedundant},
	StateActivating: {StateActivated, StateRedundant},
	StateActivated:  {StateRedundant},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// State returns the current lifecycle phase.
func (w *Worker) State() State {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.state
}

// Controlling reports whether requests are answered with caching policies.
func (w *Worker) Controlling() bool {
	return w.State() == StateActivated
}

func (w *Worker) transition(to State) error {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	if !canTransition(w.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, w.state, to)
	}
	w.logger.Info("lifecycle transition", "from", w.state.String(), "to", to.String())
	w.state = to
	return nil
}
