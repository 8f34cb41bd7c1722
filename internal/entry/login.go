package entry

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/m96-chan/slackentry/internal/model"
	"github.com/m96-chan/slackentry/internal/remote"
	"github.com/m96-chan/slackentry/internal/selection"
	"github.com/m96-chan/slackentry/internal/store"
)

// LoginArgs are the inputs of LoginEntry. User is fetched when nil.
type LoginArgs struct {
	ServerURL   string
	User        *model.User
	DeviceToken string
}

// LoginResult is the outcome of a login entry pass.
type LoginResult struct {
	Err      error
	Elapsed  time.Duration
	HasTeams bool
}

// LoginEntry builds the first local snapshot after a user signs in. Any
// failure while preparing or committing it, panics included, leaves empty
// config, license, current team and current channel values behind.
func LoginEntry(ctx context.Context, reg Registry, args LoginArgs) LoginResult {
	start := time.Now()
	srv, err := Resolve(reg, args.ServerURL, "login")
	if err != nil {
		return LoginResult{Err: err, Elapsed: time.Since(start)}
	}
	res := loginEntry(ctx, srv, args)
	res.Elapsed = time.Since(start)
	if res.Err != nil {
		srv.Log.Warn("login entry finished with error", "elapsed", res.Elapsed, "has_teams", res.HasTeams, "error", res.Err)
	} else {
		srv.Log.Info("login entry finished", "elapsed", res.Elapsed, "has_teams", res.HasTeams)
	}
	return res
}

func loginEntry(ctx context.Context, srv *Server, args LoginArgs) (res LoginResult) {
	var hard error
	defer func() {
		if r := recover(); r != nil {
			hard = fmt.Errorf("login entry: panic: %v", r)
		}
		if hard == nil {
			return
		}
		srv.Log.Error("login entry failed, resetting system values", "error", hard)
		if err := resetSystemValues(context.WithoutCancel(ctx), srv); err != nil {
			srv.Log.Error("reset system values", "error", err)
		}
		res = LoginResult{Err: hard}
	}()

	user := args.User
	if user == nil {
		me, err := srv.Client.Me(ctx)
		if err != nil {
			return LoginResult{Err: fmt.Errorf("resolve user: %w", err)}
		}
		user = me
	}

	if args.DeviceToken != "" {
		if err := srv.Client.AttachDevice(ctx, args.DeviceToken); err != nil {
			srv.Log.Debug("attach device failed", "error", err)
		}
	}

	var (
		cfg     model.Config
		lic     model.License
		cfgErr  error
		prefs   []model.Preference
		prefErr error
		teams   *TeamData
		g       errgroup.Group
	)
	g.Go(func() error {
		cfg, lic, cfgErr = srv.Client.ConfigAndLicense(ctx)
		return nil
	})
	g.Go(func() error {
		prefs, prefErr = srv.Client.Preferences(ctx)
		return nil
	})
	g.Go(func() error {
		teams = fetchTeams(ctx, srv)
		return nil
	})
	_ = g.Wait()

	if cfgErr == nil && !cfg.ExtendSessionLengthWithActivity() {
		if length := cfg.SessionLength(); length > 0 {
			srv.scheduleExpiry(time.Now().Add(length))
		}
	}

	locale := user.LocaleOrDefault()
	myTeams := teams.MyTeams()
	var (
		teamID, channelID string
		channels          *ChannelData
	)
	if cfgErr == nil && prefErr == nil && teams.ok() {
		order := model.PreferenceValue(prefs, model.PreferenceTeamsOrder, "", "")
		if def := selection.DefaultTeam(myTeams, locale, order, cfg.PrimaryTeam()); def != nil {
			teamID = def.ID
			channels = fetchMyChannels(ctx, srv, teamID, remote.ChannelOptions{FetchOnly: true})

			roleNames := CollectRoleNames(user, teams, channels)
			if rr := FetchRolesIfNeeded(ctx, srv, roleNames); rr.Err != nil {
				srv.Log.Warn("role fetch failed", "error", rr.Err)
			}
			roles, err := srv.Store.Roles(ctx, roleNames.Names())
			if err != nil {
				hard = err
				return res
			}
			if channels.ok() {
				if ch := selection.DefaultChannel(channels.Channels, channels.Memberships, teamID, roles, locale); ch != nil {
					channelID = ch.ID
				}
			}
		}
	}

	batches := PrepareModels(PrepareInput{
		InitialTeamID: teamID,
		Teams:         teams,
		Channels:      channels,
		Prefs:         &PrefData{Prefs: prefs, Err: prefErr},
		Me:            &UserData{User: user},
	})

	values := []model.SystemValue{
		{ID: model.SystemCurrentTeamID, Value: teamID},
		{ID: model.SystemCurrentChannelID, Value: channelID},
	}
	if cfgErr == nil {
		cfgValue, err := store.SystemJSON(model.SystemConfig, cfg)
		if err != nil {
			hard = err
			return res
		}
		licValue, err := store.SystemJSON(model.SystemLicense, lic)
		if err != nil {
			hard = err
			return res
		}
		values = append(values, cfgValue, licValue)
	}
	batches = append(batches, store.Batch{store.SetSystem{Values: values}})

	if err := Commit(ctx, srv, batches); err != nil {
		hard = err
		return res
	}

	// Channel history is best-effort and kept out of the atomic commit.
	if teamID != "" && channelID != "" {
		if err := srv.Store.Commit(ctx, store.AddChannelHistory{TeamID: teamID, ChannelID: channelID}); err != nil {
			srv.Log.Debug("skipping channel history", "error", err)
		}
	}

	DeferredEntryActions(ctx, srv, DeferredInput{
		InitialTeamID:    teamID,
		InitialChannelID: channelID,
		Teams:            teams,
		Channels:         channels,
		Prefs:            prefs,
		Me:               user,
		Login:            true,
	})

	return LoginResult{
		Err:      firstError(cfgErr, prefErr, teams.Err, channels.errOrNil()),
		HasTeams: teams.Err == nil && len(myTeams) > 0,
	}
}

func resetSystemValues(ctx context.Context, srv *Server) error {
	return srv.Store.Commit(ctx, store.SetSystem{Values: []model.SystemValue{
		{ID: model.SystemConfig, Value: ""},
		{ID: model.SystemLicense, Value: ""},
		{ID: model.SystemCurrentTeamID, Value: ""},
		{ID: model.SystemCurrentChannelID, Value: ""},
	}})
}
