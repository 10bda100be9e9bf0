package workflow

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/governance_backend/utils"
)

// Actor is the caller identity handed to the engine by the transport layer.
type Actor struct {
	Id   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// ActorFromContext reads the identity placed in ctx by the session middleware.
func ActorFromContext(ctx context.Context) (Actor, error) {
	id, ok := utils.GetActorIdFromContext(ctx)
	if !ok || id == "" {
		return Actor{}, errors.New("unauthorized")
	}
	name, _ := utils.GetActorNameFromContext(ctx)
	role, _ := utils.GetActorRoleFromContext(ctx)
	return Actor{Id: id, Name: name, Role: role}, nil
}

type Permission string

const (
	PermDataPointWrite     Permission = "data_point:write"
	PermDataPointStatus    Permission = "data_point:update_status"
	PermExceptionCreate    Permission = "exception:create"
	PermPlanWrite          Permission = "remediation_plan:write"
	PermPlanDelete         Permission = "remediation_plan:delete"
	PermPeriodWrite        Permission = "reporting_period:write"
	PermGenerationCreate   Permission = "generation:create"
	PermGenerationFinalize Permission = "generation:mark_final"
	PermAccessRequest      Permission = "access_request:create"
	PermAccessResolve      Permission = "access_request:resolve"
	PermAuditRecord        Permission = "audit:record"
)

type Resource struct {
	Type      string
	Id        string
	SectionId string
}

// Authorizer is the external permission decision. Role storage lives outside the engine.
type Authorizer interface {
	CanPerform(ctx context.Context, actor Actor, perm Permission, resource Resource) bool
}

type AllowAll struct{}

func (AllowAll) CanPerform(context.Context, Actor, Permission, Resource) bool {
	return true
}

// RoleAuthorizer grants permissions by the role claim of the actor.
// A role granted "*" may do anything.
type RoleAuthorizer struct {
	Grants map[string][]Permission
}

func (a RoleAuthorizer) CanPerform(_ context.Context, actor Actor, perm Permission, _ Resource) bool {
	for _, granted := range a.Grants[actor.Role] {
		if granted == perm || granted == "*" {
			return true
		}
	}
	return false
}

// DefaultRoleGrants: contributors maintain data, reviewers also finalise and
// resolve, admins do everything. Requesting access is open to every role.
func DefaultRoleGrants() map[string][]Permission {
	contributor := []Permission{
		PermDataPointWrite, PermDataPointStatus, PermExceptionCreate,
		PermPlanWrite, PermGenerationCreate, PermAccessRequest,
	}
	reviewer := append([]Permission{
		PermPlanDelete, PermPeriodWrite, PermGenerationFinalize, PermAccessResolve,
	}, contributor...)
	return map[string][]Permission{
		"admin":       {"*"},
		"reviewer":    reviewer,
		"contributor": contributor,
		"viewer":      {PermAccessRequest},
	}
}

// RoleGrantsFrom converts a role -> permission name table loaded from config.
func RoleGrantsFrom(raw map[string][]string) map[string][]Permission {
	out := make(map[string][]Permission, len(raw))
	for role, perms := range raw {
		for _, p := range perms {
			out[role] = append(out[role], Permission(p))
		}
	}
	return out
}
