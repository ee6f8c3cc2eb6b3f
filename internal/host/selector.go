package host

import (
	"slices"
	"strings"
)

// Selector picks hosts by name, role and tags. All set criteria must match;
// the zero Selector matches every host.
type Selector struct {
	Names []string `yaml:"names,omitempty"`
	Roles []Role   `yaml:"roles,omitempty"`
	Tags  []string `yaml:"tags,omitempty"`
}

// Matches reports whether h satisfies the selector.
func (s Selector) Matches(h *Host) bool {
	if len(s.Names) > 0 && !slices.Contains(s.Names, h.Name()) {
		return false
	}
	if len(s.Roles) > 0 && !slices.Contains(s.Roles, h.Role()) {
		return false
	}
	for _, tag := range s.Tags {
		if !h.HasTag(tag) {
			return false
		}
	}
	return true
}

func (s Selector) String() string {
	var parts []string
	if len(s.Names) > 0 {
		parts = append(parts, "names="+strings.Join(s.Names, ","))
	}
	if len(s.Roles) > 0 {
		roles := make([]string, len(s.Roles))
		for i, r := range s.Roles {
			roles[i] = r.String()
		}
		parts = append(parts, "roles="+strings.Join(roles, ","))
	}
	if len(s.Tags) > 0 {
		parts = append(parts, "tags="+strings.Join(s.Tags, ","))
	}
	if len(parts) == 0 {
		return "all"
	}
	return strings.Join(parts, " ")
}

// ByRole selects hosts with role r.
func ByRole(r Role) Selector { return Selector{Roles: []Role{r}} }

// ByTag selects hosts carrying every tag.
func ByTag(tags ...string) Selector { return Selector{Tags: tags} }

// ByName selects the named hosts.
func ByName(names ...string) Selector { return Selector{Names: names} }
