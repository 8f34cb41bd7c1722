package entry

import (
	"slices"

	"github.com/m96-chan/slackentry/internal/model"
)

// TeamData is the outcome of a teams fetch.
type TeamData struct {
	Teams       []model.Team
	Memberships []model.TeamMembership
	Unreads     []model.TeamUnread
	Err         error
}

func (d *TeamData) ok() bool { return d != nil && d.Err == nil }

// MyTeams returns the fetched teams the user holds a membership for.
func (d *TeamData) MyTeams() []model.Team {
	if !d.ok() {
		return nil
	}
	return model.TeamsWithMembership(d.Teams, d.Memberships)
}

// ChannelData is the outcome of a channels-for-team fetch.
type ChannelData struct {
	TeamID      string
	Channels    []model.Channel
	Memberships []model.ChannelMembership
	// Since is the incremental cutoff the fetch used; zero for a full fetch.
	Since int64
	Err   error
}

func (d *ChannelData) ok() bool { return d != nil && d.Err == nil }

// PrefData is the outcome of a preferences fetch.
type PrefData struct {
	Prefs []model.Preference
	Err   error
}

func (d *PrefData) ok() bool { return d != nil && d.Err == nil }

// UserData is the outcome of a current-user fetch.
type UserData struct {
	User *model.User
	Err  error
}

func (d *UserData) ok() bool { return d != nil && d.Err == nil && d.User != nil }

// Bundle is the aggregate of one app entry fetch. It is built fresh per pass.
type Bundle struct {
	Teams    *TeamData
	Channels *ChannelData
	Prefs    *PrefData
	User     *UserData

	InitialTeamID    string
	RemoveTeamIDs    []string
	RemoveChannelIDs []string
}

// errs returns the fetch errors in reporting order.
func (b *Bundle) errs() []error {
	var out []error
	if b.Teams != nil {
		out = append(out, b.Teams.Err)
	}
	if b.Channels != nil {
		out = append(out, b.Channels.Err)
	}
	if b.Prefs != nil {
		out = append(out, b.Prefs.Err)
	}
	if b.User != nil {
		out = append(out, b.User.Err)
	}
	return out
}

func appendUnique(ids []string, id string) []string {
	if slices.Contains(ids, id) {
		return ids
	}
	return append(ids, id)
}
