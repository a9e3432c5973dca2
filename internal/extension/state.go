package extension

import "fmt"

// State is an extension's lifecycle state.
type State string

// Lifecycle states.
const (
	StateUninstalled State = "uninstalled"
	StateInstalled   State = "installed"
	StateScanned     State = "scanned"
	StateApproved    State = "approved"
	StateActive      State = "active"
	StateDeactivated State = "deactivated"
	StateCrashed     State = "crashed"
	StateQuarantined State = "quarantined"
)

// transitions encodes the legal lifecycle moves. quarantined and
// uninstalled have no automatic outgoing edge; both require an explicit
// external action. A deactivated extension may be re-scanned for
// re-activation without a full uninstall cycle. approved can go straight
// to quarantined: a crash during a first activation never reaches
// active, but the strike threshold binds all the same.
var transitions = map[State]map[State]bool{
	StateUninstalled: {StateInstalled: true},
	StateInstalled:   {StateScanned: true, StateUninstalled: true},
	StateScanned:     {StateApproved: true, StateUninstalled: true},
	StateApproved:    {StateActive: true, StateQuarantined: true, StateUninstalled: true},
	StateActive:      {StateDeactivated: true, StateCrashed: true},
	StateDeactivated: {StateScanned: true, StateUninstalled: true},
	StateCrashed:     {StateScanned: true, StateQuarantined: true},
	StateQuarantined: {StateInstalled: true, StateUninstalled: true},
}

// CanTransition reports whether moving from one state to another is
// legal.
func CanTransition(from, to State) bool {
	return transitions[from][to]
}

// checkTransition validates the move before any side effect runs.
func checkTransition(slug string, from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s cannot go %s -> %s", ErrInvalidTransition, slug, from, to)
	}
	return nil
}
