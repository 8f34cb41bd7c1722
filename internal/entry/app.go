package entry

import (
	"context"
	"slices"
	"time"

	"github.com/m96-chan/slackentry/internal/model"
	"github.com/m96-chan/slackentry/internal/remote"
	"github.com/m96-chan/slackentry/internal/selection"
	"github.com/m96-chan/slackentry/internal/store"
)

// Result is the outcome of an app entry pass.
type Result struct {
	Err     error
	Elapsed time.Duration
}

// AppEntry reconciles the local store of serverURL with the server when a
// session resumes. The returned error is the first fetch error in the order
// teams, channels, preferences, user, unless the pass failed outright.
// Passes for the same server must not run concurrently.
func AppEntry(ctx context.Context, reg Registry, serverURL string) Result {
	start := time.Now()
	srv, err := Resolve(reg, serverURL, "app")
	if err != nil {
		return Result{Err: err, Elapsed: time.Since(start)}
	}
	err = appEntry(ctx, srv)
	res := Result{Err: err, Elapsed: time.Since(start)}
	if err != nil {
		srv.Log.Warn("app entry finished with error", "elapsed", res.Elapsed, "error", err)
	} else {
		srv.Log.Info("app entry finished", "elapsed", res.Elapsed)
	}
	return res
}

func appEntry(ctx context.Context, srv *Server) error {
	prior, err := srv.Store.CurrentTeamID(ctx)
	if err != nil {
		return err
	}
	priorChannel, err := srv.Store.CurrentChannelID(ctx)
	if err != nil {
		return err
	}

	b, err := FetchAppEntryData(ctx, srv, prior)
	if err != nil {
		return err
	}
	for _, e := range b.errs() {
		if remote.IsUnauthorized(e) {
			srv.forceLogout(ctx)
			return e
		}
	}

	me := b.User.userOrNil()
	if me == nil {
		if me, err = srv.Store.CurrentUser(ctx); err != nil {
			return err
		}
	}
	locale := me.LocaleOrDefault()

	channelID := priorChannel
	if b.InitialTeamID != prior {
		channelID = defaultChannelID(b, locale)
		if err := SwitchToTeamAndChannel(ctx, srv, b.InitialTeamID, channelID); err != nil {
			return err
		}
	}

	batches := PrepareModels(PrepareInput{
		InitialTeamID:    b.InitialTeamID,
		RemoveTeamIDs:    b.RemoveTeamIDs,
		RemoveChannelIDs: b.RemoveChannelIDs,
		Teams:            b.Teams,
		Channels:         b.Channels,
		Prefs:            b.Prefs,
		Me:               b.User,
	})
	if b.InitialTeamID == prior && priorChannel != "" && slices.Contains(b.RemoveChannelIDs, priorChannel) {
		channelID = defaultChannelID(b, locale)
		srv.Log.Info("current channel was removed", "channel", priorChannel, "replacement", channelID)
		batches = append(batches, store.Batch{store.SetSystem{Values: []model.SystemValue{
			{ID: model.SystemCurrentChannelID, Value: channelID},
		}}})
	}
	if err := Commit(ctx, srv, batches); err != nil {
		return err
	}

	roleNames := CollectRoleNames(me, b.Teams, b.Channels)
	srv.Dispatcher.Go(ctx, srv.Log, "roles", func(ctx context.Context) error {
		return FetchRolesIfNeeded(ctx, srv, roleNames).Err
	})

	var prefs []model.Preference
	if b.Prefs.ok() {
		prefs = b.Prefs.Prefs
	}
	DeferredEntryActions(ctx, srv, DeferredInput{
		InitialTeamID:    b.InitialTeamID,
		InitialChannelID: channelID,
		Teams:            b.Teams,
		Channels:         b.Channels,
		Prefs:            prefs,
		Me:               me,
		RemoveChannelIDs: b.RemoveChannelIDs,
	})

	return firstError(b.errs()...)
}

// defaultChannelID picks the channel to open in the bundle's initial team,
// without role data. Removed channels are never picked.
func defaultChannelID(b *Bundle, locale string) string {
	if b.InitialTeamID == "" || !b.Channels.ok() {
		return ""
	}
	channels := slices.DeleteFunc(slices.Clone(b.Channels.Channels), func(ch model.Channel) bool {
		return slices.Contains(b.RemoveChannelIDs, ch.ID)
	})
	ch := selection.DefaultChannel(channels, b.Channels.Memberships, b.InitialTeamID, nil, locale)
	if ch == nil {
		return ""
	}
	return ch.ID
}

func (d *UserData) userOrNil() *model.User {
	if !d.ok() {
		return nil
	}
	return d.User
}
