package authz

import (
	"context"
	"fmt"
	"strings"
)

// Request contains the information needed for an authorization decision.
type Request struct {
	// Subject is the principal making the request.
	Subject string

	// Category is the operation category being attempted.
	Category Category

	// Roles are the subject's roles as decoded from its session.
	Roles []Role
}

// DeniedError represents an authorization failure.
// It carries the required role and the subject's actual roles, never tokens.
type DeniedError struct {
	// Subject is the principal that was denied.
	Subject string

	// Category is the operation category that was denied.
	Category Category

	// Required is the minimum role the category demands.
	Required Role

	// Roles are the roles the subject actually held.
	Roles []Role

	// Reason explains why access was denied.
	Reason string
}

// Error returns the error message.
func (e *DeniedError) Error() string {
	held := make([]string, len(e.Roles))
	for i, r := range e.Roles {
		held[i] = r.String()
	}
	return fmt.Sprintf("authorization denied: subject=%q category=%q required=%q held=[%s] reason=%q",
		e.Subject, e.Category, e.Required, strings.Join(held, ","), e.Reason)
}

// Is reports whether this error matches the target.
func (e *DeniedError) Is(target error) bool {
	return target == ErrPermissionDenied
}

// Gate decides whether a session may perform an operation category.
type Gate struct {
	reqs Requirements
}

// NewGate creates a gate over the given requirements table.
// A nil table uses DefaultRequirements.
func NewGate(reqs Requirements) *Gate {
	if reqs == nil {
		reqs = DefaultRequirements()
	}
	return &Gate{reqs: reqs}
}

// Authorize checks the subject's maximum role against the category's
// minimum role. It performs no I/O; a denial costs zero downstream calls.
func (g *Gate) Authorize(_ context.Context, req *Request) error {
	required, ok := g.reqs[req.Category]
	if !ok {
		return &DeniedError{
			Subject:  req.Subject,
			Category: req.Category,
			Roles:    req.Roles,
			Reason:   "unknown operation category",
		}
	}

	effective, ok := MaxRole(req.Roles)
	if !ok {
		return &DeniedError{
			Subject:  req.Subject,
			Category: req.Category,
			Required: required,
			Roles:    req.Roles,
			Reason:   "session holds no storage role",
		}
	}

	if !effective.Permits(required) {
		return &DeniedError{
			Subject:  req.Subject,
			Category: req.Category,
			Required: required,
			Roles:    req.Roles,
			Reason:   "role insufficient",
		}
	}

	return nil
}
