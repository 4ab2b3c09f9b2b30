package models

import "time"

const (
	RoleUser  = "ROLE_USER"
	RoleAdmin = "ROLE_ADMIN"
)

// User is a registered account. PasswordHash never leaves the server.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	City         string    `json:"ville"`
	Roles        []string  `json:"roles"`
	CreatedAt    time.Time `json:"-"`
}

// HasRole reports whether the user holds role. ROLE_ADMIN implies ROLE_USER.
func (u User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
		if r == RoleAdmin && role == RoleUser {
			return true
		}
	}
	return false
}
