package rbac

// Role is one of the fixed set defined at configuration load. The hierarchy
// is a strict total order: USER < MODERATOR < ADMIN < SUPER_ADMIN.
type Role string

const (
	RoleUser       Role = "USER"
	RoleModerator  Role = "MODERATOR"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// Scope controls whether a grant covers only resources the actor owns or all
// resources of that kind.
type Scope string

const (
	// ScopeOwn grants apply only when the ownership authorizer confirms the
	// actor owns the specific instance.
	ScopeOwn Scope = "own"
	// ScopeAny grants apply unconditionally for the role.
	ScopeAny Scope = "any"
)

// Actions known to the grant table. Mutating HTTP verbs map onto these.
const (
	ActionCreate = "create"
	ActionRead   = "read"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// ResourceAll is the wildcard resource carried by the top role's grants. It is
// an ordinary grant entry so the decision path stays uniform and testable.
const ResourceAll = "all"

// Grant is a single (role, action, resource, scope) authorization rule.
// DeniedAttributes lists fields the requester may not read or write under
// this grant; they feed Decision.AttributeFilter for query redaction.
type Grant struct {
	Role             Role
	Action           string
	Resource         string
	Scope            Scope
	DeniedAttributes []string
}

// Matches reports whether the grant covers the action/resource pair. The
// wildcard resource matches everything.
func (g Grant) Matches(action, resource string) bool {
	if g.Action != action {
		return false
	}
	return g.Resource == resource || g.Resource == ResourceAll
}

// DeniedReason is the stable machine-readable code on a denial decision.
type DeniedReason string

const (
	DeniedInsufficientPermissions DeniedReason = "INSUFFICIENT_PERMISSIONS"
	DeniedNotOwner                DeniedReason = "NOT_OWNER"
	DeniedNoPermissionsGranted    DeniedReason = "NO_PERMISSIONS_GRANTED"
	DeniedPermissionCheckError    DeniedReason = "PERMISSION_CHECK_ERROR"
)

// Decision is the per-request result of resolving a permission check. It is a
// value object: resolver methods always return a Decision, never an error, so
// request handling has a single branch to take.
type Decision struct {
	Granted         bool
	Reason          DeniedReason
	Role            Role
	Action          string
	Resource        string
	Scope           Scope
	AttributeFilter []string
}

// Provisional reports whether the grant still needs an ownership check before
// it may be honored for a specific instance.
func (d Decision) Provisional() bool {
	return d.Granted && d.Scope == ScopeOwn
}

// Message renders a human-readable companion to the denial code.
func (d Decision) Message() string {
	if d.Granted {
		return ""
	}
	switch d.Reason {
	case DeniedNotOwner:
		return "you do not own this resource"
	case DeniedNoPermissionsGranted:
		return "none of the required permissions are granted"
	case DeniedPermissionCheckError:
		return "permission check failed"
	default:
		return "role '" + string(d.Role) + "' may not " + d.Action + " " + d.Resource
	}
}

func granted(role Role, action, resource string, g Grant) Decision {
	return Decision{
		Granted:         true,
		Role:            role,
		Action:          action,
		Resource:        resource,
		Scope:           g.Scope,
		AttributeFilter: g.DeniedAttributes,
	}
}

func denied(role Role, action, resource string, reason DeniedReason) Decision {
	return Decision{
		Granted:  false,
		Reason:   reason,
		Role:     role,
		Action:   action,
		Resource: resource,
	}
}
