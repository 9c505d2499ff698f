package consume

// State is one stage of the consumption lifecycle. A document only ever
// moves forward; Failed and Skipped are terminal and reachable from any
// non-terminal state.
type State string

const (
	StateReceived   State = "received"
	StateDeduped    State = "deduplicated"
	StateSelected   State = "parser_selected"
	StateExtracted  State = "extracted"
	StateClassified State = "classified"
	StateCommitted  State = "committed"
	StateFailed     State = "failed"
	StateSkipped    State = "skipped"
)

var nextStates = map[State]map[State]bool{
	StateReceived:   {StateDeduped: true},
	StateDeduped:    {StateSelected: true},
	StateSelected:   {StateExtracted: true},
	StateExtracted:  {StateClassified: true},
	StateClassified: {StateCommitted: true},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateFailed || s == StateSkipped
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateFailed || next == StateSkipped {
		return true
	}
	return nextStates[s][next]
}
