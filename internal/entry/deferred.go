package entry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/m96-chan/slackentry/internal/model"
	"github.com/m96-chan/slackentry/internal/remote"
	"github.com/m96-chan/slackentry/internal/selection"
	"github.com/m96-chan/slackentry/internal/store"
)

// deferredFetchLimit bounds concurrent requests of one deferred task.
const deferredFetchLimit = 4

// DeferredInput is the state a pass hands over to deferred enrichment.
type DeferredInput struct {
	InitialTeamID    string
	InitialChannelID string
	Teams            *TeamData
	Channels         *ChannelData
	Prefs            []model.Preference
	Me               *model.User
	// RemoveChannelIDs were deleted by the pass and must not be written back.
	RemoveChannelIDs []string
	// Login fetches the initial channel's posts before anything else.
	Login bool
}

// DeferredEntryActions dispatches the secondary fetches of an entry pass and
// returns without waiting for them.
func DeferredEntryActions(ctx context.Context, srv *Server, in DeferredInput) {
	if in.Channels.ok() {
		if dms := directChannels(in.Channels.Channels, in.RemoveChannelIDs); len(dms) > 0 {
			srv.Dispatcher.Go(ctx, srv.Log, "direct-channel-profiles", func(ctx context.Context) error {
				return fetchDirectChannelProfiles(ctx, srv, in.InitialTeamID, dms, in.Prefs, in.Me)
			})
		}

		channels := in.Channels
		srv.Dispatcher.Go(ctx, srv.Log, "unread-posts", func(ctx context.Context) error {
			skip := ""
			if in.Login && in.InitialChannelID != "" {
				if err := fetchPosts(ctx, srv, in.InitialChannelID, 0); err != nil {
					return fmt.Errorf("initial channel posts: %w", err)
				}
				skip = in.InitialChannelID
			}
			return FetchPostsForUnreadChannels(ctx, srv, channels.Channels, channels.Memberships, skip)
		})
	}

	if in.Teams.ok() && len(in.Teams.Teams) > 0 && len(in.Teams.Memberships) > 0 {
		if others := otherTeamIDs(in.Teams.MyTeams(), in.InitialTeamID); len(others) > 0 {
			srv.Dispatcher.Go(ctx, srv.Log, "other-teams", func(ctx context.Context) error {
				return FetchChannelsAndUnreadPostsForTeams(ctx, srv, others)
			})
		}
	}
}

// directChannels returns the live DM and group channels not in removed.
func directChannels(channels []model.Channel, removed []string) []model.Channel {
	var out []model.Channel
	for _, ch := range channels {
		if ch.IsDirectOrGroup() && ch.DeleteAt == 0 && !slices.Contains(removed, ch.ID) {
			out = append(out, ch)
		}
	}
	return out
}

// fetchDirectChannelProfiles stores the other members of DM and group channels
// and renames the channels after them.
func fetchDirectChannelProfiles(ctx context.Context, srv *Server, teamID string, channels []model.Channel, prefs []model.Preference, me *model.User) error {
	cfg, err := srv.Store.Config(ctx)
	if err != nil {
		return err
	}
	lic, err := srv.Store.License(ctx)
	if err != nil {
		return err
	}
	setting := selection.TeammateNameDisplay(prefs, cfg, lic)

	ids := make([]string, len(channels))
	for i, ch := range channels {
		ids[i] = ch.ID
	}
	profiles, err := srv.Client.ProfilesForChannels(ctx, ids)
	if err != nil {
		return fmt.Errorf("profiles for %d channels: %w", len(ids), err)
	}

	var meID string
	if me != nil {
		meID = me.ID
	}
	seen := make(map[string]bool)
	var users []model.User
	renamed := make([]model.Channel, 0, len(channels))
	for _, ch := range channels {
		members := profiles[ch.ID]
		for _, u := range members {
			if u.ID != meID && !seen[u.ID] {
				seen[u.ID] = true
				users = append(users, u)
			}
		}
		if name := selection.DirectChannelName(members, meID, setting, me.LocaleOrDefault()); name != "" {
			ch.DisplayName = name
		}
		renamed = append(renamed, ch)
	}

	ops := []store.Op{store.UpsertUsers{Users: users}}
	if teamID != "" {
		ops = append(ops, store.UpsertChannels{TeamID: teamID, Channels: renamed})
	}
	if err := srv.Store.Commit(ctx, ops...); err != nil {
		return fmt.Errorf("store profiles: %w", err)
	}
	srv.Log.Debug("direct channel profiles stored", "channels", len(channels), "users", len(users))
	return nil
}

// FetchPostsForUnreadChannels fetches recent posts for the most recently
// active unread channels, up to the configured maximum, skipping excludeID.
func FetchPostsForUnreadChannels(ctx context.Context, srv *Server, channels []model.Channel, memberships []model.ChannelMembership, excludeID string) error {
	byID := make(map[string]model.Channel, len(channels))
	for _, ch := range channels {
		byID[ch.ID] = ch
	}

	var unread []model.Channel
	for _, m := range memberships {
		ch, ok := byID[m.ChannelID]
		if !ok || ch.ID == excludeID || ch.DeleteAt != 0 {
			continue
		}
		if m.Unread(ch) {
			unread = append(unread, ch)
		}
	}
	sort.SliceStable(unread, func(i, j int) bool { return unread[i].LastPostAt > unread[j].LastPostAt })
	if len(unread) > srv.Options.MaxUnreadChannels {
		unread = unread[:srv.Options.MaxUnreadChannels]
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(deferredFetchLimit)
	for _, ch := range unread {
		g.Go(func() error {
			if err := fetchPosts(ctx, srv, ch.ID, 0); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// FetchChannelsAndUnreadPostsForTeams stores the channels of each team and
// the posts of its unread channels. A team that turns out forbidden is removed.
func FetchChannelsAndUnreadPostsForTeams(ctx context.Context, srv *Server, teamIDs []string) error {
	var errs []error
	for _, id := range teamIDs {
		ch := fetchMyChannels(ctx, srv, id, remote.ChannelOptions{})
		if remote.IsForbidden(ch.Err) {
			srv.Log.Info("removing team that is no longer accessible", "team", id)
			if err := srv.Store.Commit(ctx, store.DeleteTeam{TeamID: id}); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if ch.Err != nil {
			errs = append(errs, fmt.Errorf("channels of team %s: %w", id, ch.Err))
			continue
		}
		if err := FetchPostsForUnreadChannels(ctx, srv, ch.Channels, ch.Memberships, ""); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func fetchPosts(ctx context.Context, srv *Server, channelID string, since int64) error {
	posts, err := srv.Client.PostsForChannel(ctx, channelID, since, srv.Options.PostsPerChannel)
	if err != nil {
		return fmt.Errorf("posts for %s: %w", channelID, err)
	}
	if len(posts) == 0 {
		return nil
	}
	return srv.Store.Commit(ctx, store.UpsertPosts{Posts: posts})
}

// otherTeamIDs returns the ids of my teams except current.
func otherTeamIDs(teams []model.Team, current string) []string {
	ids := make([]string, 0, len(teams))
	for _, t := range teams {
		if t.ID != current {
			ids = append(ids, t.ID)
		}
	}
	return slices.Clip(ids)
}
