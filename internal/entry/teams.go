package entry

import (
	"context"
	"fmt"
	"slices"

	"github.com/m96-chan/slackentry/internal/model"
	"github.com/m96-chan/slackentry/internal/remote"
	"github.com/m96-chan/slackentry/internal/selection"
	"github.com/m96-chan/slackentry/internal/store"
)

// AvailableTeamIDs returns the teams an entry pass may switch to, reading only
// the local store.
//
// With knownTeams it returns the single default team, using prefs for the team
// order when given and the stored preference otherwise, and locale or the
// stored user's locale. Without knownTeams it returns every cached team id.
// excludeID never appears in the result.
func AvailableTeamIDs(ctx context.Context, srv *Server, knownTeams []model.Team, prefs []model.Preference, locale, excludeID string) ([]string, error) {
	if knownTeams == nil {
		ids, err := srv.Store.TeamIDs(ctx)
		if err != nil {
			return nil, err
		}
		return slices.DeleteFunc(ids, func(id string) bool { return id == excludeID }), nil
	}

	if prefs == nil {
		stored, err := srv.Store.PreferencesByCategory(ctx, model.PreferenceTeamsOrder)
		if err != nil {
			return nil, err
		}
		prefs = stored
	}
	if locale == "" {
		me, err := srv.Store.CurrentUser(ctx)
		if err != nil {
			return nil, err
		}
		locale = me.LocaleOrDefault()
	}
	cfg, err := srv.Store.Config(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]model.Team, 0, len(knownTeams))
	for _, t := range knownTeams {
		if t.ID != excludeID {
			candidates = append(candidates, t)
		}
	}
	order := model.PreferenceValue(prefs, model.PreferenceTeamsOrder, "", "")
	def := selection.DefaultTeam(candidates, locale, order, cfg.PrimaryTeam())
	if def == nil {
		return []string{}, nil
	}
	return []string{def.ID}, nil
}

// SwitchResult is the outcome of SwitchTeams. Channels is nil when no
// candidate was usable.
type SwitchResult struct {
	InitialTeamID string
	Channels      *ChannelData
	RemoveTeamIDs []string
}

// SwitchTeams tries candidates in order. A candidate whose channel fetch is
// forbidden is added to the removal set and skipped; the first other outcome,
// error or not, wins and stops the search.
func SwitchTeams(ctx context.Context, srv *Server, candidateIDs, removeIDs []string, opts remote.ChannelOptions) SwitchResult {
	res := SwitchResult{RemoveTeamIDs: slices.Clone(removeIDs)}
	for _, id := range candidateIDs {
		ch := fetchMyChannels(ctx, srv, id, opts)
		if remote.IsForbidden(ch.Err) {
			srv.Log.Info("team no longer accessible", "team", id)
			res.RemoveTeamIDs = appendUnique(res.RemoveTeamIDs, id)
			continue
		}
		res.InitialTeamID = id
		res.Channels = ch
		return res
	}
	return res
}

// fetchMyChannels fetches a team's channels. Unless opts.FetchOnly is set a
// successful result is stored right away.
func fetchMyChannels(ctx context.Context, srv *Server, teamID string, opts remote.ChannelOptions) *ChannelData {
	data := &ChannelData{TeamID: teamID, Since: opts.Since}
	payload, err := srv.Client.ChannelsForTeam(ctx, teamID, opts)
	if err != nil {
		data.Err = err
		return data
	}
	data.Channels = payload.Channels
	for i := range data.Channels {
		if data.Channels[i].TeamID == "" {
			data.Channels[i].TeamID = teamID
		}
	}
	data.Memberships = payload.Memberships

	if !opts.FetchOnly {
		op := store.UpsertChannels{TeamID: teamID, Channels: data.Channels, Memberships: data.Memberships}
		if err := srv.Store.Commit(ctx, op); err != nil {
			data.Err = fmt.Errorf("store channels of team %s: %w", teamID, err)
		}
	}
	return data
}
