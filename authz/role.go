package authz

// Role is a privilege level, totally ordered by its numeric value.
// A higher role is a superset of every lower role.
type Role int

const (
	// RoleReadOnly may list and inspect resources.
	RoleReadOnly Role = iota
	// RoleUser may additionally create and modify buckets and objects.
	RoleUser
	// RoleOrgAdmin may additionally administer users and policies.
	RoleOrgAdmin
	// RoleSystemAdmin has unrestricted access.
	RoleSystemAdmin
)

func (r Role) String() string {
	switch r {
	case RoleReadOnly:
		return "readonly"
	case RoleUser:
		return "user"
	case RoleOrgAdmin:
		return "org-admin"
	case RoleSystemAdmin:
		return "system-admin"
	default:
		return "unknown"
	}
}

// Permits reports whether r satisfies a requirement of at least required.
func (r Role) Permits(required Role) bool {
	return r >= required
}

// roleAliases maps identity-provider role claim strings to Roles.
// The aliases mirror what the Keycloak realm actually issues.
var roleAliases = map[string]Role{
	"admin":         RoleSystemAdmin,
	"administrator": RoleSystemAdmin,
	"system-admin":  RoleSystemAdmin,
	"manager":       RoleOrgAdmin,
	"org-admin":     RoleOrgAdmin,
	"operator":      RoleUser,
	"user":          RoleUser,
	"read-only":     RoleReadOnly,
	"readonly":      RoleReadOnly,
	"viewer":        RoleReadOnly,
}

// ParseRole maps a role claim string to a Role.
// Returns false for claim strings that carry no storage privilege
// (Keycloak default roles such as "offline_access" fall in this bucket).
func ParseRole(s string) (Role, bool) {
	r, ok := roleAliases[s]
	return r, ok
}

// RolesFromClaims converts a list of role claim strings to Roles,
// silently dropping strings that do not name a storage role.
func RolesFromClaims(claims []string) []Role {
	roles := make([]Role, 0, len(claims))
	for _, c := range claims {
		if r, ok := ParseRole(c); ok {
			roles = append(roles, r)
		}
	}
	return roles
}

// MaxRole returns the highest role in the set.
// Returns false when the set contains no storage role.
func MaxRole(roles []Role) (Role, bool) {
	if len(roles) == 0 {
		return 0, false
	}
	max := roles[0]
	for _, r := range roles[1:] {
		if r > max {
			max = r
		}
	}
	return max, true
}
