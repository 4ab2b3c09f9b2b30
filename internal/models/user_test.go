package models

import "testing"

func TestUser_HasRole(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		role  string
		want  bool
	}{
		{"user has user", []string{RoleUser}, RoleUser, true},
		{"user lacks admin", []string{RoleUser}, RoleAdmin, false},
		{"admin has admin", []string{RoleAdmin}, RoleAdmin, true},
		{"admin implies user", []string{RoleAdmin}, RoleUser, true},
		{"no roles", nil, RoleUser, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := User{Roles: tt.roles}
			if got := u.HasRole(tt.role); got != tt.want {
				t.Errorf("HasRole(%q) = %v, want %v", tt.role, got, tt.want)
			}
		})
	}
}
