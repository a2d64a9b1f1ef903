// Package identity holds Warden's identity model and persistence.
//
// It defines the User and Role records, the Principal contract that lets
// integrators extend User with their own fields, the Repository contract the
// service layer depends on, and two repositories: PostgresStore for
// production and MemoryStore for development and tests.
//
// Errors returned from this package carry one of the sentinel kinds in
// kinds.go so callers can map them with errors.Is.
package identity
