package models

// WorkflowState is one node of a workflow's state machine.
// Start and Normal states are backed by a method of the same name on the workflow.
type WorkflowState struct {
	Name      string
	StateType StateType
}

// Executable reports whether the engine calls a method for this state.
func (s WorkflowState) Executable() bool {
	return s.StateType == StateStart || s.StateType == StateNormal
}

// Terminal states stop the engine: End finishes the workflow, Manual and Error park it for an operator.
func (s WorkflowState) Terminal() bool {
	switch s.StateType {
	case StateEnd, StateManual, StateError:
		return true
	}
	return false
}

// LookupState finds a declared state by name.
func LookupState(states []WorkflowState, name string) (WorkflowState, bool) {
	for _, s := range states {
		if s.Name == name {
			return s, true
		}
	}
	return WorkflowState{}, false
}
