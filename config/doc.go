// Package config loads and validates the server's environment-driven
// settings: the identity provider realm, the storage API endpoint, and
// logging. Values support strict ${VAR} environment expansion so secrets
// can be referenced indirectly.
package config
