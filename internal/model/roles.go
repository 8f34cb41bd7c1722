package model

import (
	"encoding/json"
	"sort"
	"strings"
)

// RoleSet is a set of role names. On the wire and in the store it is the
// space-separated string the server sends; in memory it is always a set.
type RoleSet map[string]struct{}

// ParseRoles splits a space-separated role string into a set.
func ParseRoles(s string) RoleSet {
	fields := strings.Fields(s)
	rs := make(RoleSet, len(fields))
	for _, f := range fields {
		rs[f] = struct{}{}
	}
	return rs
}

// NewRoleSet builds a set from the given names, skipping empty ones.
func NewRoleSet(names ...string) RoleSet {
	rs := make(RoleSet, len(names))
	rs.Add(names...)
	return rs
}

// Add inserts names into the set.
func (rs RoleSet) Add(names ...string) {
	for _, n := range names {
		if n != "" {
			rs[n] = struct{}{}
		}
	}
}

// Union adds every member of other.
func (rs RoleSet) Union(other RoleSet) {
	for n := range other {
		rs[n] = struct{}{}
	}
}

// Has reports whether name is in the set.
func (rs RoleSet) Has(name string) bool {
	_, ok := rs[name]
	return ok
}

// Names returns the members in sorted order.
func (rs RoleSet) Names() []string {
	names := make([]string, 0, len(rs))
	for n := range rs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// String renders the set in its wire form.
func (rs RoleSet) String() string {
	return strings.Join(rs.Names(), " ")
}

func (rs RoleSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(rs.String())
}

func (rs *RoleSet) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*rs = ParseRoles(s)
	return nil
}
