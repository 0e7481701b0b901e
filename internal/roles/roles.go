// Package roles holds the process-wide role table. The table is built once at
// startup and is read-only afterwards, so concurrent request handling needs no
// locking around it.
package roles

import "fmt"

// Role describes a grantable role, uniquely keyed by Code.
type Role struct {
	Code        string
	Name        string
	Description string
}

// Built-in role codes.
const (
	Public     = "public"
	Admin      = "admin"
	Backoffice = "backoffice"
)

// Registry is the immutable role table. Construct it with NewRegistry before
// the server starts accepting requests and never mutate it afterwards.
type Registry struct {
	byCode map[string]Role
	all    []Role
}

func builtins() []Role {
	return []Role{
		{Code: Public, Name: "Public", Description: "Public role"},
		{Code: Admin, Name: "Admin", Description: "Admin role"},
		{Code: Backoffice, Name: "Backoffice", Description: "Backoffice role"},
	}
}

// NewRegistry builds the role table from the built-in roles plus any extra
// role codes from configuration. Duplicate codes are rejected.
func NewRegistry(extraCodes ...string) (*Registry, error) {
	r := &Registry{byCode: make(map[string]Role)}
	for _, role := range builtins() {
		r.byCode[role.Code] = role
		r.all = append(r.all, role)
	}
	for _, code := range extraCodes {
		if code == "" {
			continue
		}
		if _, exists := r.byCode[code]; exists {
			return nil, fmt.Errorf("duplicate role code: %s", code)
		}
		role := Role{Code: code, Name: code, Description: "Custom role"}
		r.byCode[code] = role
		r.all = append(r.all, role)
	}
	return r, nil
}

// Get returns the role for a code.
func (r *Registry) Get(code string) (Role, bool) {
	role, ok := r.byCode[code]
	return role, ok
}

// Known reports whether a role code exists in the table.
func (r *Registry) Known(code string) bool {
	_, ok := r.byCode[code]
	return ok
}

// All returns a copy of the role table in registration order.
func (r *Registry) All() []Role {
	return append([]Role(nil), r.all...)
}

// Normalize flattens whatever role shape the storage layer produced into a
// canonical list of role codes. It accepts plain code strings, Role values,
// and *Role pointers; anything else (or an empty input) degrades to the
// public role. Normalization happens exactly once, at subject resolution.
func Normalize(raw []any) []string {
	if len(raw) == 0 {
		return []string{Public}
	}
	codes := make([]string, 0, len(raw))
	for _, entry := range raw {
		switch v := entry.(type) {
		case string:
			if v != "" {
				codes = append(codes, v)
			}
		case Role:
			if v.Code != "" {
				codes = append(codes, v.Code)
			}
		case *Role:
			if v != nil && v.Code != "" {
				codes = append(codes, v.Code)
			}
		}
	}
	if len(codes) == 0 {
		return []string{Public}
	}
	return codes
}
