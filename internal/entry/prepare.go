package entry

import (
	"context"
	"fmt"
	"slices"

	"github.com/m96-chan/slackentry/internal/model"
	"github.com/m96-chan/slackentry/internal/store"
)

// PrepareInput is what PrepareModels turns into store ops.
type PrepareInput struct {
	InitialTeamID    string
	RemoveTeamIDs    []string
	RemoveChannelIDs []string
	Teams            *TeamData
	Channels         *ChannelData
	Prefs            *PrefData
	Me               *UserData
}

// PrepareModels converts fetched payloads and removal lists into store
// batches. A removed team or channel is never upserted by the same batches.
func PrepareModels(in PrepareInput) []store.Batch {
	var batches []store.Batch

	if len(in.RemoveTeamIDs) > 0 {
		b := make(store.Batch, 0, len(in.RemoveTeamIDs))
		for _, id := range in.RemoveTeamIDs {
			b = append(b, store.DeleteTeam{TeamID: id})
		}
		batches = append(batches, b)
	}

	if len(in.RemoveChannelIDs) > 0 {
		b := make(store.Batch, 0, len(in.RemoveChannelIDs))
		for _, id := range in.RemoveChannelIDs {
			b = append(b, store.DeleteChannel{ChannelID: id})
		}
		batches = append(batches, b)
	}

	if in.Teams.ok() {
		op := store.UpsertTeams{}
		for _, t := range in.Teams.Teams {
			if !slices.Contains(in.RemoveTeamIDs, t.ID) {
				op.Teams = append(op.Teams, t)
			}
		}
		for _, m := range in.Teams.Memberships {
			if !slices.Contains(in.RemoveTeamIDs, m.TeamID) {
				op.Memberships = append(op.Memberships, m)
			}
		}
		op.Unreads = in.Teams.Unreads
		if len(op.Teams) > 0 || len(op.Memberships) > 0 {
			batches = append(batches, store.Batch{op})
		}
	}

	if in.InitialTeamID != "" && in.Channels.ok() && !slices.Contains(in.RemoveTeamIDs, in.InitialTeamID) {
		op := store.UpsertChannels{TeamID: in.InitialTeamID}
		for _, ch := range in.Channels.Channels {
			if !slices.Contains(in.RemoveChannelIDs, ch.ID) {
				op.Channels = append(op.Channels, ch)
			}
		}
		for _, m := range in.Channels.Memberships {
			if !slices.Contains(in.RemoveChannelIDs, m.ChannelID) {
				op.Memberships = append(op.Memberships, m)
			}
		}
		batches = append(batches, store.Batch{op})
	}

	if in.Prefs.ok() {
		batches = append(batches, store.Batch{store.UpsertPreferences{Preferences: in.Prefs.Prefs}})
	}

	if in.Me.ok() {
		batches = append(batches, store.Batch{
			store.UpsertUsers{Users: []model.User{*in.Me.User}},
			store.SetSystem{Values: []model.SystemValue{{ID: model.SystemCurrentUserID, Value: in.Me.User.ID}}},
		})
	}
	return batches
}

// Commit writes every batch in one atomic store commit. No batches, no write.
func Commit(ctx context.Context, srv *Server, batches []store.Batch) error {
	ops := store.Flatten(batches)
	if len(ops) == 0 {
		return nil
	}
	if err := srv.Store.Commit(ctx, ops...); err != nil {
		return fmt.Errorf("commit entry models: %w", err)
	}
	return nil
}

// SwitchToTeamAndChannel moves the current team and channel pointers in one
// commit of their own and records the channel in the team's history.
func SwitchToTeamAndChannel(ctx context.Context, srv *Server, teamID, channelID string) error {
	ops := []store.Op{store.SetSystem{Values: []model.SystemValue{
		{ID: model.SystemCurrentTeamID, Value: teamID},
		{ID: model.SystemCurrentChannelID, Value: channelID},
	}}}
	if teamID != "" && channelID != "" {
		ops = append(ops, store.AddChannelHistory{TeamID: teamID, ChannelID: channelID})
	}
	if err := srv.Store.Commit(ctx, ops...); err != nil {
		return fmt.Errorf("switch to team %q channel %q: %w", teamID, channelID, err)
	}
	srv.Log.Info("switched team", "team", teamID, "channel", channelID)
	return nil
}
