// Package authz provides role-based authorization for storage operations.
//
// Roles form a total order of privilege (ReadOnly < User < OrgAdmin <
// SystemAdmin) and every operation category maps to a minimum role. The
// Gate performs the check with zero I/O so a denial never costs a
// downstream call.
package authz
