package catalog

import (
	"fmt"

	"github.com/leapstack-labs/leapmetrics/pkg/core"
)

// Action is a named lifecycle operation on a variant.
type Action string

// Lifecycle actions.
const (
	ActionAdopt      Action = "adopt"
	ActionPropose    Action = "propose"
	ActionApprove    Action = "approve"
	ActionDeactivate Action = "deactivate"
	ActionDeprecate  Action = "deprecate"
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionAdopt, ActionPropose, ActionApprove, ActionDeactivate, ActionDeprecate:
		return a, nil
	}
	return "", core.Errorf(core.KindValidation, "", "unknown lifecycle action %q", s)
}

// TransitionRule defines an allowed lifecycle transition.
type TransitionRule struct {
	Action Action
	From   core.VariantStatus
	To     core.VariantStatus
}

// DefaultTransitions defines the allowed variant status transitions.
var DefaultTransitions = []TransitionRule{
	{Action: ActionAdopt, From: core.StatusProposed, To: core.StatusDraft},
	{Action: ActionPropose, From: core.StatusDraft, To: core.StatusProposed},
	{Action: ActionApprove, From: core.StatusDraft, To: core.StatusActive},
	{Action: ActionDeactivate, From: core.StatusActive, To: core.StatusInactive},
	{Action: ActionDeprecate, From: core.StatusActive, To: core.StatusDeprecated},
	{Action: ActionDeprecate, From: core.StatusInactive, To: core.StatusDeprecated},
}

// DisallowedTransitions are explicitly forbidden (return specific error).
var DisallowedTransitions = map[core.VariantStatus][]core.VariantStatus{
	core.StatusDeprecated: {core.StatusProposed, core.StatusDraft, core.StatusActive, core.StatusInactive},
	core.StatusActive:     {core.StatusDraft, core.StatusProposed},
	core.StatusProposed:   {core.StatusActive},
}

// LifecycleMachine validates variant status transitions.
type LifecycleMachine struct {
	transitions []TransitionRule
	disallowed  map[core.VariantStatus][]core.VariantStatus
}

// NewLifecycleMachine creates a machine with default rules.
func NewLifecycleMachine() *LifecycleMachine {
	return &LifecycleMachine{
		transitions: DefaultTransitions,
		disallowed:  DisallowedTransitions,
	}
}

// Target returns the status action leads to from the given status, or a
// *TransitionError when the action is not permitted there.
func (m *LifecycleMachine) Target(action Action, from core.VariantStatus) (core.VariantStatus, error) {
	for _, t := range m.transitions {
		if t.Action == action && t.From == from {
			return t.To, nil
		}
	}

	// Report the intended target so callers can see what was refused.
	var to core.VariantStatus
	for _, t := range m.transitions {
		if t.Action == action {
			to = t.To
			break
		}
	}
	return "", m.refuse(action, from, to)
}

func (m *LifecycleMachine) refuse(action Action, from, to core.VariantStatus) *TransitionError {
	for _, d := range m.disallowed[from] {
		if d == to {
			return &TransitionError{
				Code:    "LIFECYCLE_TRANSITION_DENIED",
				Action:  action,
				From:    from,
				To:      to,
				Message: fmt.Sprintf("%s: transition from %s to %s is not allowed", action, from, to),
			}
		}
	}
	return &TransitionError{
		Code:    "LIFECYCLE_INVALID_TRANSITION",
		Action:  action,
		From:    from,
		To:      to,
		Message: fmt.Sprintf("%s: no transition defined from %s to %s", action, from, to),
	}
}

// AllowedActions returns the actions available from the given status.
func (m *LifecycleMachine) AllowedActions(from core.VariantStatus) []Action {
	var allowed []Action
	for _, t := range m.transitions {
		if t.From == from {
			allowed = append(allowed, t.Action)
		}
	}
	return allowed
}

// TransitionError is a structured error for invalid transitions.
type TransitionError struct {
	Code    string             `json:"code"`
	Action  Action             `json:"action"`
	From    core.VariantStatus `json:"from"`
	To      core.VariantStatus `json:"to"`
	Message string             `json:"message"`
}

func (e *TransitionError) Error() string {
	return e.Message
}

// ErrorKind classifies lifecycle violations as validation failures.
func (e *TransitionError) ErrorKind() core.Kind { return core.KindValidation }

// Is lets errors.Is(err, core.ErrValidation) match.
func (e *TransitionError) Is(target error) bool {
	return target == core.ErrValidation
}
