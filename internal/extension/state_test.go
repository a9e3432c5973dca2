package extension

import "testing"

func TestTransitionTable(t *testing.T) {
	allowed := []struct{ from, to State }{
		{StateUninstalled, StateInstalled},
		{StateInstalled, StateScanned},
		{StateScanned, StateApproved},
		{StateApproved, StateActive},
		{StateApproved, StateQuarantined},
		{StateActive, StateDeactivated},
		{StateActive, StateCrashed},
		{StateCrashed, StateScanned},
		{StateCrashed, StateQuarantined},
		{StateQuarantined, StateInstalled},
		{StateDeactivated, StateUninstalled},
		{StateDeactivated, StateScanned},
	}
	for _, tt := range allowed {
		if !CanTransition(tt.from, tt.to) {
			t.Errorf("CanTransition(%s, %s) = false, want true", tt.from, tt.to)
		}
	}

	denied := []struct{ from, to State }{
		{StateUninstalled, StateActive},
		{StateInstalled, StateActive},
		{StateInstalled, StateApproved},
		{StateScanned, StateActive},
		{StateActive, StateUninstalled},
		{StateActive, StateQuarantined},
		{StateQuarantined, StateActive},
		{StateQuarantined, StateApproved},
		{StateDeactivated, StateActive},
		{StateCrashed, StateActive},
	}
	for _, tt := range denied {
		if CanTransition(tt.from, tt.to) {
			t.Errorf("CanTransition(%s, %s) = true, want false", tt.from, tt.to)
		}
	}
}
