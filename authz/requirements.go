package authz

// Category identifies a class of storage operations.
type Category string

const (
	CategoryHealth      Category = "health"
	CategoryBucketRead  Category = "bucket-read"
	CategoryBucketWrite Category = "bucket-write"
	CategoryObjectRead  Category = "object-read"
	CategoryObjectWrite Category = "object-write"
	CategoryUserAdmin   Category = "user-admin"
	CategoryPolicyAdmin Category = "policy-admin"
)

// Requirements maps each operation category to its minimum role.
// Loaded once at construction and immutable thereafter.
type Requirements map[Category]Role

// DefaultRequirements returns the standard category-to-role table.
func DefaultRequirements() Requirements {
	return Requirements{
		CategoryHealth:      RoleReadOnly,
		CategoryBucketRead:  RoleReadOnly,
		CategoryObjectRead:  RoleReadOnly,
		CategoryBucketWrite: RoleUser,
		CategoryObjectWrite: RoleUser,
		CategoryUserAdmin:   RoleOrgAdmin,
		CategoryPolicyAdmin: RoleOrgAdmin,
	}
}

// Known reports whether the category appears in the table.
func (r Requirements) Known(cat Category) bool {
	_, ok := r[cat]
	return ok
}
