// Package selection holds the deterministic policies that pick a default team,
// a default channel and the teammate name format. Functions here do no I/O.
package selection

import (
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/m96-chan/slackentry/internal/model"
)

// newCollator returns a collator for locale, falling back to the root
// collation for unparseable tags. Collators are not safe for concurrent use.
func newCollator(locale string) *collate.Collator {
	tag, err := language.Parse(strings.ReplaceAll(locale, "_", "-"))
	if err != nil {
		tag = language.Und
	}
	return collate.New(tag, collate.IgnoreCase)
}

// compareNames orders by display name under the collator, breaking ties by name.
func compareNames(c *collate.Collator, aDisplay, aName, bDisplay, bName string) int {
	if r := c.CompareString(aDisplay, bDisplay); r != 0 {
		return r
	}
	return strings.Compare(aName, bName)
}

// SortTeams orders teams by the comma-separated id list in teamsOrder; teams
// not listed follow, sorted by display name for locale.
func SortTeams(teams []model.Team, locale, teamsOrder string) []model.Team {
	rank := make(map[string]int)
	for i, id := range strings.Split(teamsOrder, ",") {
		id = strings.TrimSpace(id)
		if _, seen := rank[id]; id != "" && !seen {
			rank[id] = i
		}
	}

	c := newCollator(locale)
	out := append([]model.Team(nil), teams...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, iok := rank[out[i].ID]
		rj, jok := rank[out[j].ID]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		}
		return compareNames(c, out[i].DisplayName, out[i].Name, out[j].DisplayName, out[j].Name) < 0
	})
	return out
}

// DefaultTeam picks the team a session should land on: the configured primary
// team when the user belongs to it, otherwise the first team in preference
// order. It returns nil for an empty list.
func DefaultTeam(teams []model.Team, locale, teamsOrder, primaryTeam string) *model.Team {
	if len(teams) == 0 {
		return nil
	}
	if primary := strings.ToLower(strings.TrimSpace(primaryTeam)); primary != "" {
		for _, t := range teams {
			if strings.ToLower(t.Name) == primary {
				return &t
			}
		}
	}
	sorted := SortTeams(teams, locale, teamsOrder)
	return &sorted[0]
}
