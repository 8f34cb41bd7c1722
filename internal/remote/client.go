// Package remote defines what the entry procedures need from a chat server.
// Every call is fetch-only: results are returned to the caller and never
// written to the local store by the client itself.
package remote

import (
	"context"

	"github.com/m96-chan/slackentry/internal/model"
)

// ChannelOptions controls a channels-for-team fetch.
type ChannelOptions struct {
	// IncludeDeleted also returns archived channels so they can be removed locally.
	IncludeDeleted bool
	// Since limits the fetch to changes after this unix-millisecond time; zero fetches everything.
	Since int64
	// FetchOnly leaves persistence to the caller. When false the entry layer
	// commits the result right away.
	FetchOnly bool
}

// TeamsPayload is the result of a teams fetch.
type TeamsPayload struct {
	Teams       []model.Team
	Memberships []model.TeamMembership
	Unreads     []model.TeamUnread
}

// ChannelsPayload is the result of a channels-for-team fetch.
type ChannelsPayload struct {
	Channels    []model.Channel
	Memberships []model.ChannelMembership
}

// Client is the network surface of one server.
type Client interface {
	Teams(ctx context.Context) (*TeamsPayload, error)
	ChannelsForTeam(ctx context.Context, teamID string, opts ChannelOptions) (*ChannelsPayload, error)
	Preferences(ctx context.Context) ([]model.Preference, error)
	Me(ctx context.Context) (*model.User, error)
	ConfigAndLicense(ctx context.Context) (model.Config, model.License, error)
	RolesByNames(ctx context.Context, names []string) ([]model.Role, error)
	PostsForChannel(ctx context.Context, channelID string, since int64, limit int) ([]model.Post, error)
	// ProfilesForChannels returns the members of each channel, keyed by channel id.
	ProfilesForChannels(ctx context.Context, channelIDs []string) (map[string][]model.User, error)
	AttachDevice(ctx context.Context, deviceToken string) error
}
