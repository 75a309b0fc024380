package definition

import (
	"fmt"
	"slices"
)

// Action is an operation of the client that a definition can customize.
type Action string

const (
	ActionStore            Action = "store"
	ActionAppend           Action = "append"
	ActionUpdate           Action = "update"
	ActionUpsert           Action = "upsert"
	ActionDrop             Action = "drop"
	ActionRead             Action = "read"
	ActionBackup           Action = "backup"
	ActionUpdateFromBackup Action = "update_from_backup"
	ActionExist            Action = "exist"
	ActionClose            Action = "close"
	ActionDeleteFile       Action = "delete_file"
	ActionSetAttrs         Action = "set_attrs"
	ActionGetAttrs         Action = "get_attrs"
)

// Actions lists every action.
var Actions = []Action{
	ActionStore, ActionAppend, ActionUpdate, ActionUpsert, ActionDrop, ActionRead,
	ActionBackup, ActionUpdateFromBackup, ActionExist, ActionClose, ActionDeleteFile,
	ActionSetAttrs, ActionGetAttrs,
}

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	if a := Action(s); slices.Contains(Actions, a) {
		return a, nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

func (a Action) String() string { return string(a) }

// Writes reports whether the action changes stored data.
func (a Action) Writes() bool {
	switch a {
	case ActionStore, ActionAppend, ActionUpdate, ActionUpsert, ActionDrop, ActionUpdateFromBackup:
		return true
	default:
		return false
	}
}

// Step is a unit of a pipeline or an override method. Every Action is also a
// Step; those are internal steps.
type Step string

const (
	StepReadFromFormula Step = "read_from_formula"
	StepReindex         Step = "reindex"
	StepFillNA          Step = "fillna"
	StepFFill           Step = "ffill"
	StepReplaceValues   Step = "replace_values"
)

var dataSteps = []Step{StepReadFromFormula, StepReindex, StepFillNA, StepFFill, StepReplaceValues}

// ParseStep validates a step name.
func ParseStep(s string) (Step, error) {
	if st := Step(s); slices.Contains(dataSteps, st) {
		return st, nil
	}

	if a, err := ParseAction(s); err == nil {
		return Step(a), nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownStep, s)
}

func (s Step) String() string { return string(s) }

// Action returns the action of an internal step.
func (s Step) Action() (Action, bool) {
	a := Action(s)
	return a, slices.Contains(Actions, a)
}

// Internal reports whether the step is one of the client's own actions.
// Internal steps are called with the tensor path and never replace pipeline data.
func (s Step) Internal() bool {
	_, ok := s.Action()
	return ok
}

// MarshalText implements encoding.TextMarshaler.
func (s Step) MarshalText() ([]byte, error) { return []byte(s), nil }

// UnmarshalText rejects unknown step names. An empty name is the zero Step,
// meaning no override.
func (s *Step) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*s = ""
		return nil
	}

	st, err := ParseStep(string(b))
	if err != nil {
		return err
	}

	*s = st

	return nil
}
