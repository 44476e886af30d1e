package domain

import (
	"errors"
	"strings"
)

// Role is the closed set of actor roles known to the workflow.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleOperator   Role = "operator"
	RoleLawyer     Role = "lawyer"
	RoleMarketing  Role = "marketing"
	RoleAccountant Role = "accountant"
	RoleCompliance Role = "compliance"
	RoleManager    Role = "manager"
	// RoleClassifier is the service identity of the external analysis step.
	RoleClassifier Role = "classifier"
)

// ErrUnknownRole is returned by ParseRole for values outside the closed set.
var ErrUnknownRole = errors.New("unknown role")

var roles = map[Role]struct{}{
	RoleAdmin: {}, RoleOperator: {}, RoleLawyer: {}, RoleMarketing: {},
	RoleAccountant: {}, RoleCompliance: {}, RoleManager: {}, RoleClassifier: {},
}

// ParseRole maps a raw role string onto the closed set.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := roles[r]; !ok {
		return "", ErrUnknownRole
	}
	return r, nil
}

// Capability is a permission an edge of the lifecycle graph requires.
type Capability int

const (
	// CapIngest allows creating letters.
	CapIngest Capability = iota + 1
	// CapClassify allows recording classification results.
	CapClassify
	// CapEdit allows triage, drafting, submission and dispatch.
	CapEdit
	// CapApprove allows claiming and deciding approval stages. Which stage
	// is further restricted by department.
	CapApprove
	// CapOverride lets an actor act for any department and release any claim.
	CapOverride
)

func (c Capability) String() string {
	switch c {
	case CapIngest:
		return "ingest"
	case CapClassify:
		return "classify"
	case CapEdit:
		return "edit"
	case CapApprove:
		return "approve"
	case CapOverride:
		return "override"
	}
	return "unknown"
}

var capabilities = map[Role][]Capability{
	RoleAdmin:      {CapIngest, CapClassify, CapEdit, CapApprove, CapOverride},
	RoleOperator:   {CapIngest, CapClassify, CapEdit},
	RoleClassifier: {CapIngest, CapClassify},
	RoleLawyer:     {CapApprove},
	RoleMarketing:  {CapApprove},
	RoleAccountant: {CapApprove},
	RoleCompliance: {CapApprove},
	RoleManager:    {CapApprove},
}

// Can reports whether the role grants c.
func (r Role) Can(c Capability) bool {
	for _, have := range capabilities[r] {
		if have == c {
			return true
		}
	}
	return false
}

// IsApprover reports whether the role signs off for a department.
func (r Role) IsApprover() bool { return r.Can(CapApprove) && !r.Can(CapOverride) }

// Actor is the request-scoped identity passed into every workflow call.
// Department is derived from Role by the routing policy, never supplied by
// the caller.
type Actor struct {
	ID         string
	Role       Role
	Department string
}

// Can is shorthand for a.Role.Can(c).
func (a Actor) Can(c Capability) bool { return a.Role.Can(c) }
