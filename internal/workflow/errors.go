package workflow

import (
	"fmt"
	"strings"
)

// ForbiddenError indicates the actor's role lacks permission for an action
// in the project's current department.
type ForbiddenError struct {
	Role       Role
	Department Department
	Action     string
}

func (e *ForbiddenError) Error() string {
	if e.Department != "" {
		return fmt.Sprintf("role %s cannot %s while the project is in the %s department", e.Role, e.Action, e.Department)
	}
	return fmt.Sprintf("role %s cannot %s", e.Role, e.Action)
}

// InvalidTransitionError names a from -> to pair that is absent from the
// transition table. A pair that is in the table but whose requirements are
// unmet is a PreconditionFailedError instead.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// PreconditionFailedError indicates an otherwise-legal action whose side
// constraint failed. For blocked moves Missing lists every unmet edge
// requirement so a caller can fix all of them at once.
type PreconditionFailedError struct {
	Reason  string
	Missing []string
}

func (e *PreconditionFailedError) Error() string {
	if len(e.Missing) == 0 {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, strings.Join(e.Missing, "; "))
}
