package identity

import (
	"slices"
	"time"
)

// User is Warden's canonical security principal.
//
// PasswordHash holds an encoded hash, never the plaintext. Email keeps the
// caller's spelling; comparisons go through NormalizeEmail.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	IsActive     bool
	IsVerified   bool
	Roles        []Role

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity implements Principal.
func (u *User) Identity() *User { return u }

// HasRole reports whether the user holds a role with the given name.
func (u *User) HasRole(name string) bool {
	return slices.ContainsFunc(u.Roles, func(r Role) bool { return r.Name == name })
}

// HasRoleID reports whether the user holds the role with the given id.
func (u *User) HasRoleID(id string) bool {
	return slices.ContainsFunc(u.Roles, func(r Role) bool { return r.ID == id })
}

// CloneUser returns a copy of u that shares no slices with it.
func CloneUser(u *User) *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Roles = slices.Clone(u.Roles)
	return &c
}

// Role is a named permission group. Users and roles are linked many-to-many.
type Role struct {
	ID          string
	Name        string
	Description string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Principal is the contract for user records handled by the service layer.
//
// *User implements it. Applications that need extra fields embed User in
// their own struct and use a pointer to that struct:
//
//	type Member struct {
//		identity.User
//		Title string
//	}
//
// The zero value of a Principal (a nil pointer) means "no user".
type Principal interface {
	comparable
	Identity() *User
}
