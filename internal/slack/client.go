package slack

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/m96-chan/slackentry/internal/model"
	"github.com/m96-chan/slackentry/internal/remote"
)

const pageLimit = 200

// conversationTypes covers public and private channels, DMs and group DMs.
var conversationTypes = []string{"public_channel", "private_channel", "mpim", "im"}

// Overrides are the server settings the workspace API does not expose. They
// are reported through ConfigAndLicense as if the server had sent them.
type Overrides struct {
	PrimaryTeam               string
	TeammateNameDisplay       string
	LockTeammateNameDisplay   bool
	ExtendSessionWithActivity bool
	SessionLengthHours        int
}

// Option configures a Client.
type Option func(*options)

type options struct {
	appToken  string
	apiURL    string
	overrides Overrides
	now       func() time.Time
}

// WithAppToken sets the app-level token socket mode connects with.
func WithAppToken(token string) Option {
	return func(o *options) { o.appToken = token }
}

// WithAPIURL points the client at a different API endpoint. The URL must end
// with a slash.
func WithAPIURL(u string) Option {
	return func(o *options) { o.apiURL = u }
}

// WithOverrides sets the reported server configuration.
func WithOverrides(ov Overrides) Option {
	return func(o *options) { o.overrides = ov }
}

// Client implements remote.Client on top of the Slack Web API, with
// rate-limit retry and cached identity information.
type Client struct {
	api       *slack.Client
	token     string
	appToken  string
	overrides Overrides
	now       func() time.Time

	UserID       string
	TeamID       string
	TeamName     string
	UserName     string
	EnterpriseID string
	SiteURL      string
}

var _ remote.Client = (*Client)(nil)

// New creates a Client, validates the token via AuthTest, and populates the
// identity fields.
func New(ctx context.Context, token string, opts ...Option) (*Client, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.appToken != "" && !strings.HasPrefix(o.appToken, "xapp-") {
		return nil, fmt.Errorf("app token must start with xapp- (got %s...)", safePrefix(o.appToken))
	}

	var sopts []slack.Option
	if o.appToken != "" {
		sopts = append(sopts, slack.OptionAppLevelToken(o.appToken))
	}
	if o.apiURL != "" {
		sopts = append(sopts, slack.OptionAPIURL(o.apiURL))
	}
	api := slack.New(token, sopts...)

	var resp *slack.AuthTestResponse
	err := retryOnRateLimit(ctx, func() error {
		var e error
		resp, e = api.AuthTestContext(ctx)
		return e
	})
	if err != nil {
		return nil, classify("auth_test", err)
	}

	return &Client{
		api:          api,
		token:        token,
		appToken:     o.appToken,
		overrides:    o.overrides,
		now:          o.now,
		UserID:       resp.UserID,
		TeamID:       resp.TeamID,
		TeamName:     resp.Team,
		UserName:     resp.User,
		EnterpriseID: resp.EnterpriseID,
		SiteURL:      resp.URL,
	}, nil
}

// API returns the underlying slack.Client for direct access (e.g. socketmode).
func (c *Client) API() *slack.Client { return c.api }

// Token returns the user token.
func (c *Client) Token() string { return c.token }

// retryOnRateLimit executes fn and, if a RateLimitedError is returned,
// sleeps for the requested duration and retries once.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}

	var rle *slack.RateLimitedError
	if errors.As(err, &rle) {
		t := time.NewTimer(rle.RetryAfter)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		return fn()
	}
	return err
}

// Teams lists the workspaces the token can access. Single-workspace tokens
// cannot call auth.teams.list, so the token's own team is used instead.
func (c *Client) Teams(ctx context.Context) (*remote.TeamsPayload, error) {
	teams, err := c.listTeams(ctx)
	if err != nil {
		return nil, err
	}
	me, err := c.userInfo(ctx, c.UserID)
	if err != nil {
		return nil, classify("teams", err)
	}

	payload := &remote.TeamsPayload{}
	for _, t := range teams {
		payload.Teams = append(payload.Teams, t)
		roles := model.NewRoleSet("team_user")
		if me.IsAdmin || me.IsOwner {
			roles.Add("team_admin")
		}
		payload.Memberships = append(payload.Memberships, model.TeamMembership{
			TeamID: t.ID,
			UserID: c.UserID,
			Roles:  roles,
		})
	}
	return payload, nil
}

func (c *Client) listTeams(ctx context.Context) ([]model.Team, error) {
	var (
		out    []model.Team
		cursor string
	)
	for {
		var page []slack.Team
		err := retryOnRateLimit(ctx, func() error {
			var e error
			page, cursor, e = c.api.ListTeamsContext(ctx, slack.ListTeamsParameters{Limit: pageLimit, Cursor: cursor})
			return e
		})
		if err != nil {
			if len(out) == 0 {
				return c.ownTeam(ctx)
			}
			return nil, classify("teams", err)
		}
		for _, t := range page {
			out = append(out, toTeam(t.ID, t.Domain, t.Name))
		}
		if cursor == "" {
			break
		}
	}
	if len(out) == 0 {
		return c.ownTeam(ctx)
	}
	return out, nil
}

func (c *Client) ownTeam(ctx context.Context) ([]model.Team, error) {
	var info *slack.TeamInfo
	err := retryOnRateLimit(ctx, func() error {
		var e error
		info, e = c.api.GetTeamInfoContext(ctx)
		return e
	})
	if err != nil {
		return nil, classify("teams", err)
	}
	return []model.Team{toTeam(info.ID, info.Domain, info.Name)}, nil
}

func toTeam(id, domain, name string) model.Team {
	if domain == "" {
		domain = strings.ToLower(name)
	}
	return model.Team{ID: id, Name: domain, DisplayName: name, Type: "O"}
}

// ChannelsForTeam lists every conversation of teamID the user can see. The
// API has no incremental listing, so opts.Since is ignored and the full set
// is returned.
func (c *Client) ChannelsForTeam(ctx context.Context, teamID string, opts remote.ChannelOptions) (*remote.ChannelsPayload, error) {
	params := &slack.GetConversationsParameters{
		ExcludeArchived: !opts.IncludeDeleted,
		Limit:           pageLimit,
		Types:           conversationTypes,
		TeamID:          teamID,
	}

	payload := &remote.ChannelsPayload{}
	for {
		var (
			page   []slack.Channel
			cursor string
		)
		err := retryOnRateLimit(ctx, func() error {
			var e error
			page, cursor, e = c.api.GetConversationsContext(ctx, params)
			return e
		})
		if err != nil {
			return nil, classify("channels_for_team", err)
		}
		for _, ch := range page {
			mc := c.toChannel(teamID, ch)
			payload.Channels = append(payload.Channels, mc)
			if ch.IsMember || ch.IsIM || ch.IsMpIM {
				payload.Memberships = append(payload.Memberships, model.ChannelMembership{
					ChannelID:    ch.ID,
					UserID:       c.UserID,
					Roles:        model.NewRoleSet("channel_user"),
					LastViewedAt: tsMillis(ch.LastRead),
				})
			}
		}
		if cursor == "" {
			break
		}
		params.Cursor = cursor
	}
	return payload, nil
}

func (c *Client) toChannel(teamID string, ch slack.Channel) model.Channel {
	out := model.Channel{
		ID:          ch.ID,
		TeamID:      teamID,
		Type:        channelType(ch),
		Name:        ch.Name,
		DisplayName: ch.Name,
		CreateAt:    int64(ch.Created) * 1000,
	}
	switch {
	case ch.IsGeneral:
		out.Name = model.DefaultChannelName
	case ch.IsIM:
		out.Name = ch.ID
		out.DisplayName = ch.User
	}
	if ch.IsArchived {
		out.DeleteAt = c.now().UnixMilli()
	}
	if ch.Latest != nil {
		out.LastPostAt = tsMillis(ch.Latest.Timestamp)
	}
	return out
}

func channelType(ch slack.Channel) model.ChannelType {
	switch {
	case ch.IsIM:
		return model.ChannelDirect
	case ch.IsMpIM:
		return model.ChannelGroup
	case ch.IsPrivate:
		return model.ChannelPrivate
	default:
		return model.ChannelOpen
	}
}

// Preferences reports the server's team order as the teams_order preference.
func (c *Client) Preferences(ctx context.Context) ([]model.Preference, error) {
	teams, err := c.listTeams(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(teams))
	for _, t := range teams {
		ids = append(ids, t.ID)
	}
	return []model.Preference{{
		UserID:   c.UserID,
		Category: model.PreferenceTeamsOrder,
		Value:    strings.Join(ids, ","),
	}}, nil
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (*model.User, error) {
	u, err := c.userInfo(ctx, c.UserID)
	if err != nil {
		return nil, classify("me", err)
	}
	me := c.toUser(*u)
	me.Roles.Add("system_user")
	if u.IsAdmin || u.IsOwner {
		me.Roles.Add("system_admin")
	}
	return &me, nil
}

func (c *Client) userInfo(ctx context.Context, id string) (*slack.User, error) {
	var u *slack.User
	err := retryOnRateLimit(ctx, func() error {
		var e error
		u, e = c.api.GetUserInfoContext(ctx, id)
		return e
	})
	return u, err
}

func (c *Client) toUser(u slack.User) model.User {
	out := model.User{
		ID:        u.ID,
		Username:  u.Name,
		FirstName: u.Profile.FirstName,
		LastName:  u.Profile.LastName,
		Nickname:  u.Profile.DisplayName,
		Locale:    u.Locale,
		Roles:     model.NewRoleSet(),
	}
	if u.Deleted {
		out.DeleteAt = c.now().UnixMilli()
	}
	return out
}

// ConfigAndLicense reports the configured overrides together with the
// workspace name.
func (c *Client) ConfigAndLicense(ctx context.Context) (model.Config, model.License, error) {
	var info *slack.TeamInfo
	err := retryOnRateLimit(ctx, func() error {
		var e error
		info, e = c.api.GetTeamInfoContext(ctx)
		return e
	})
	if err != nil {
		return nil, nil, classify("config", err)
	}

	ov := c.overrides
	nameDisplay := ov.TeammateNameDisplay
	if nameDisplay == "" {
		nameDisplay = model.ShowUsername
	}
	cfg := model.Config{
		"SiteName":                        info.Name,
		"SiteURL":                         c.SiteURL,
		"ExperimentalPrimaryTeam":         ov.PrimaryTeam,
		"TeammateNameDisplay":             nameDisplay,
		"LockTeammateNameDisplay":         strconv.FormatBool(ov.LockTeammateNameDisplay),
		"ExtendSessionLengthWithActivity": strconv.FormatBool(ov.ExtendSessionWithActivity),
		"SessionLengthMobileInHours":      strconv.Itoa(ov.SessionLengthHours),
	}
	lic := model.License{
		"IsLicensed":              strconv.FormatBool(c.EnterpriseID != ""),
		"LockTeammateNameDisplay": "true",
	}
	return cfg, lic, nil
}

// RolesByNames resolves names against the built-in permission table.
// Unknown names are skipped.
func (c *Client) RolesByNames(_ context.Context, names []string) ([]model.Role, error) {
	out := make([]model.Role, 0, len(names))
	for _, n := range names {
		perms, ok := rolePermissions[n]
		if !ok {
			continue
		}
		out = append(out, model.Role{ID: n, Name: n, Permissions: append([]string(nil), perms...)})
	}
	return out, nil
}

var rolePermissions = map[string][]string{
	"system_user":   {"create_direct_channel", "create_group_channel", "create_team"},
	"system_admin":  {"manage_system"},
	"team_user":     {model.PermissionJoinPublicChannels, "list_team_channels", "view_team", "create_public_channel"},
	"team_admin":    {"manage_team", "manage_team_roles"},
	"channel_user":  {"read_channel", "create_post", "add_reaction"},
	"channel_admin": {"manage_channel_roles"},
}

// PostsForChannel returns up to limit messages of channelID newer than since.
func (c *Client) PostsForChannel(ctx context.Context, channelID string, since int64, limit int) ([]model.Post, error) {
	params := &slack.GetConversationHistoryParameters{ChannelID: channelID, Limit: limit}
	if since > 0 {
		params.Oldest = msToTS(since)
	}

	var resp *slack.GetConversationHistoryResponse
	err := retryOnRateLimit(ctx, func() error {
		var e error
		resp, e = c.api.GetConversationHistoryContext(ctx, params)
		return e
	})
	if err != nil {
		return nil, classify("posts_for_channel", err)
	}

	posts := make([]model.Post, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		posts = append(posts, model.Post{
			ID:        m.Timestamp,
			ChannelID: channelID,
			UserID:    m.User,
			Message:   m.Text,
			CreateAt:  tsMillis(m.Timestamp),
		})
	}
	return posts, nil
}

// ProfilesForChannels returns the members of each channel.
func (c *Client) ProfilesForChannels(ctx context.Context, channelIDs []string) (map[string][]model.User, error) {
	out := make(map[string][]model.User, len(channelIDs))
	for _, id := range channelIDs {
		memberIDs, err := c.channelMembers(ctx, id)
		if err != nil {
			return nil, classify("profiles_for_channels", err)
		}
		if len(memberIDs) == 0 {
			out[id] = nil
			continue
		}

		var users *[]slack.User
		err = retryOnRateLimit(ctx, func() error {
			var e error
			users, e = c.api.GetUsersInfoContext(ctx, memberIDs...)
			return e
		})
		if err != nil {
			return nil, classify("profiles_for_channels", err)
		}
		for _, u := range *users {
			out[id] = append(out[id], c.toUser(u))
		}
	}
	return out, nil
}

func (c *Client) channelMembers(ctx context.Context, channelID string) ([]string, error) {
	params := &slack.GetUsersInConversationParameters{ChannelID: channelID, Limit: pageLimit}
	var ids []string
	for {
		var (
			page   []string
			cursor string
		)
		err := retryOnRateLimit(ctx, func() error {
			var e error
			page, cursor, e = c.api.GetUsersInConversationContext(ctx, params)
			return e
		})
		if err != nil {
			return nil, err
		}
		ids = append(ids, page...)
		if cursor == "" {
			return ids, nil
		}
		params.Cursor = cursor
	}
}

// ErrUnsupported is returned for operations the workspace API does not offer.
var ErrUnsupported = errors.New("not supported by the workspace API")

// AttachDevice is not available to user tokens; push registration is done
// by the official clients only.
func (c *Client) AttachDevice(_ context.Context, deviceToken string) error {
	if deviceToken == "" {
		return nil
	}
	return remote.NewError(remote.KindUnknown, "attach_device", ErrUnsupported)
}

// tsMillis converts a message timestamp ("1700000000.123456") to unix milliseconds.
func tsMillis(ts string) int64 {
	if ts == "" {
		return 0
	}
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return 0
	}
	frac = (frac + "000")[:3]
	ms, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		ms = 0
	}
	return s*1000 + ms
}

// msToTS is the inverse of tsMillis.
func msToTS(ms int64) string {
	return fmt.Sprintf("%d.%06d", ms/1000, (ms%1000)*1000)
}

func safePrefix(token string) string {
	if len(token) > 5 {
		return token[:5]
	}
	return token
}
