package entry

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/m96-chan/slackentry/internal/model"
	"github.com/m96-chan/slackentry/internal/remote"
)

// FetchAppEntryData fetches teams, the prior team's channels, preferences and
// the current user concurrently, then decides which team the pass lands on and
// what must be removed locally. Fetch errors are carried in the bundle; only a
// failing local store read is returned.
func FetchAppEntryData(ctx context.Context, srv *Server, priorTeamID string) (*Bundle, error) {
	since, err := srv.Store.LastDisconnectedAt(ctx)
	if err != nil {
		srv.Log.Debug("no usable disconnect time, fetching everything", "error", err)
		since = 0
	}

	b := &Bundle{InitialTeamID: priorTeamID}
	var g errgroup.Group
	g.Go(func() error {
		b.Teams = fetchTeams(ctx, srv)
		return nil
	})
	if priorTeamID != "" {
		g.Go(func() error {
			b.Channels = fetchMyChannels(ctx, srv, priorTeamID, remote.ChannelOptions{
				IncludeDeleted: true,
				Since:          since,
				FetchOnly:      true,
			})
			return nil
		})
	}
	g.Go(func() error {
		prefs, err := srv.Client.Preferences(ctx)
		b.Prefs = &PrefData{Prefs: prefs, Err: err}
		return nil
	})
	g.Go(func() error {
		me, err := srv.Client.Me(ctx)
		b.User = &UserData{User: me, Err: err}
		return nil
	})
	_ = g.Wait()

	if b.Teams.ok() && len(b.Teams.Teams) == 0 {
		ids, err := srv.Store.TeamIDs(ctx)
		if err != nil {
			return nil, err
		}
		srv.Log.Info("user has no teams, removing cached teams", "count", len(ids))
		b.RemoveTeamIDs = ids
		b.InitialTeamID = ""
		b.Channels = nil
		return b, nil
	}

	var prefs []model.Preference
	if b.Prefs.ok() {
		prefs = b.Prefs.Prefs
	}
	var locale string
	if b.User.ok() {
		locale = b.User.User.LocaleOrDefault()
	}
	known := b.Teams.MyTeams()

	switch {
	case priorTeamID == "":
		if !b.Teams.ok() {
			break
		}
		candidates, err := AvailableTeamIDs(ctx, srv, known, prefs, locale, "")
		if err != nil {
			return nil, err
		}
		b.merge(SwitchTeams(ctx, srv, candidates, nil, remote.ChannelOptions{FetchOnly: true}))

	case priorInvalid(b, priorTeamID, known):
		srv.Log.Info("current team is no longer valid", "team", priorTeamID)
		candidates, err := AvailableTeamIDs(ctx, srv, known, prefs, locale, priorTeamID)
		if err != nil {
			return nil, err
		}
		b.merge(SwitchTeams(ctx, srv, candidates, []string{priorTeamID}, remote.ChannelOptions{
			IncludeDeleted: true,
			FetchOnly:      true,
		}))
	}

	if err := b.collectRemovedChannels(ctx, srv); err != nil {
		return nil, err
	}
	return b, nil
}

// priorInvalid reports whether the prior team must be replaced: it is missing
// from a successful team fetch, or its channels are forbidden.
func priorInvalid(b *Bundle, priorTeamID string, known []model.Team) bool {
	if remote.IsForbidden(b.Channels.errOrNil()) {
		return true
	}
	if !b.Teams.ok() {
		return false
	}
	for _, t := range known {
		if t.ID == priorTeamID {
			return false
		}
	}
	return true
}

func (d *ChannelData) errOrNil() error {
	if d == nil {
		return nil
	}
	return d.Err
}

func (b *Bundle) merge(sw SwitchResult) {
	b.InitialTeamID = sw.InitialTeamID
	b.Channels = sw.Channels
	for _, id := range sw.RemoveTeamIDs {
		b.RemoveTeamIDs = appendUnique(b.RemoveTeamIDs, id)
	}
}

// collectRemovedChannels marks channels of the initial team that the server
// reports archived, and, after a full fetch, cached channels it no longer returns.
func (b *Bundle) collectRemovedChannels(ctx context.Context, srv *Server) error {
	if b.InitialTeamID == "" || !b.Channels.ok() || b.Channels.TeamID != b.InitialTeamID {
		return nil
	}
	fresh := make(map[string]bool, len(b.Channels.Channels))
	for _, ch := range b.Channels.Channels {
		fresh[ch.ID] = true
		if ch.DeleteAt != 0 {
			b.RemoveChannelIDs = appendUnique(b.RemoveChannelIDs, ch.ID)
		}
	}
	if b.Channels.Since != 0 {
		return nil
	}
	cached, err := srv.Store.ChannelsForTeam(ctx, b.InitialTeamID)
	if err != nil {
		return err
	}
	for _, ch := range cached {
		if !fresh[ch.ID] {
			b.RemoveChannelIDs = appendUnique(b.RemoveChannelIDs, ch.ID)
		}
	}
	return nil
}

func fetchTeams(ctx context.Context, srv *Server) *TeamData {
	payload, err := srv.Client.Teams(ctx)
	if err != nil {
		return &TeamData{Err: err}
	}
	return &TeamData{Teams: payload.Teams, Memberships: payload.Memberships, Unreads: payload.Unreads}
}
