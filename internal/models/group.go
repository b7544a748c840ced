package models

import "time"

// Group bundles roles that its member accounts inherit
type Group struct {
	ID        string
	Name      string
	Roles     []string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewGroup builds an unsaved group with a normalized name
func NewGroup(name string, roles []string) *Group {
	return &Group{
		Name:  NormalizeIdentifier(name),
		Roles: append([]string{}, roles...),
	}
}

// HasRole reports whether the group grants role
func (g *Group) HasRole(role string) bool {
	for _, r := range g.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (g *Group) Clone() *Group {
	c := *g
	if g.Roles != nil {
		c.Roles = append([]string(nil), g.Roles...)
	}
	return &c
}

// EffectiveRoles is the account's own roles followed by those granted through
// groups, without duplicates. Groups the account is not a member of are ignored.
func (a *Account) EffectiveRoles(groups []*Group) []string {
	seen := make(map[string]bool, len(a.Roles))
	roles := make([]string, 0, len(a.Roles))
	add := func(r string) {
		if !seen[r] {
			seen[r] = true
			roles = append(roles, r)
		}
	}

	for _, r := range a.Roles {
		add(r)
	}
	for _, g := range groups {
		if !a.InGroup(g.ID) {
			continue
		}
		for _, r := range g.Roles {
			add(r)
		}
	}
	return roles
}

// InGroup reports whether the account is a member of the group with groupID
func (a *Account) InGroup(groupID string) bool {
	for _, id := range a.Groups {
		if id == groupID {
			return true
		}
	}
	return false
}
