// Package rolemap maps raw IdP role claims onto the internal role
// taxonomy. Per spec.md §4.2, Map must never throw: any unexpected
// input or internal error degrades to the fail-safe Unassigned result.
package rolemap

import (
	"github.com/mcpauth/obo-core/pkg/auth"
	"github.com/mcpauth/obo-core/pkg/logger"
)

// Result is the outcome of mapping a set of raw role claims.
type Result struct {
	PrimaryRole auth.Role
	CustomRoles []string
	Rejected    bool
}

// rejectedResult is the fail-safe sentinel returned whenever mapping
// cannot proceed safely.
func rejectedResult() Result {
	return Result{PrimaryRole: auth.RoleUnassigned, CustomRoles: nil, Rejected: true}
}

// Map maps rawRoles against idp's configured RoleMappings. It never
// panics: any unexpected shape recovers to rejectedResult().
func Map(rawRoles []string, idp *auth.TrustedIDP) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("rolemap: recovered from panic mapping roles: %v", r)
			result = rejectedResult()
		}
	}()

	if idp == nil {
		return rejectedResult()
	}

	mappings := idp.RoleMappings

	// Priority order: admin, then user, then guest. First non-empty
	// intersection wins.
	for _, tier := range []struct {
		role Role
		set  []string
	}{
		{roleAdmin, mappings.Admin},
		{roleUser, mappings.User},
		{roleGuest, mappings.Guest},
	} {
		if intersects(rawRoles, tier.set) {
			return Result{
				PrimaryRole: tier.role.toAuthRole(),
				CustomRoles: difference(rawRoles, allMapped(mappings)),
				Rejected:    false,
			}
		}
	}

	// No mapped role matched.
	if mappings.RejectUnmappedRoles {
		return rejectedResult()
	}

	defaultRole := mappings.DefaultRole
	if defaultRole == "" {
		defaultRole = auth.RoleUnassigned
	}
	return Result{
		PrimaryRole: defaultRole,
		CustomRoles: append([]string(nil), rawRoles...),
		Rejected:    false,
	}
}

// Role is a private mirror of auth.Role used only to keep this file's
// intent self-documenting; toAuthRole converts back.
type Role string

const (
	roleAdmin Role = Role(auth.RoleAdmin)
	roleUser  Role = Role(auth.RoleUser)
	roleGuest Role = Role(auth.RoleGuest)
)

func (r Role) toAuthRole() auth.Role { return auth.Role(r) }

func intersects(have, want []string) bool {
	set := toSet(want)
	for _, h := range have {
		if set[h] {
			return true
		}
	}
	return false
}

func allMapped(m auth.RoleMappings) []string {
	all := make([]string, 0, len(m.Admin)+len(m.User)+len(m.Guest))
	all = append(all, m.Admin...)
	all = append(all, m.User...)
	all = append(all, m.Guest...)
	return all
}

// difference returns the elements of have not present in exclude,
// preserving have's order and without duplicates.
func difference(have, exclude []string) []string {
	excludeSet := toSet(exclude)
	seen := make(map[string]bool, len(have))
	out := make([]string, 0, len(have))
	for _, h := range have {
		if excludeSet[h] || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, i := range items {
		s[i] = true
	}
	return s
}
