package consume

import "testing"

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateReceived, StateDeduped, true},
		{StateDeduped, StateSelected, true},
		{StateSelected, StateExtracted, true},
		{StateExtracted, StateClassified, true},
		{StateClassified, StateCommitted, true},
		{StateReceived, StateCommitted, false},
		{StateExtracted, StateDeduped, false},
		{StateReceived, StateFailed, true},
		{StateClassified, StateSkipped, true},
		{StateCommitted, StateFailed, false},
		{StateFailed, StateReceived, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []State{StateCommitted, StateFailed, StateSkipped} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []State{StateReceived, StateDeduped, StateSelected, StateExtracted, StateClassified} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
