package authz

import "errors"

// Sentinel errors for authorization.
var (
	ErrPermissionDenied = errors.New("authz: permission denied")
)
