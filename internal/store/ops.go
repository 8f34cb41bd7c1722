package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/m96-chan/slackentry/internal/model"
)

// maxChannelHistory bounds the per-team list of recently visited channels.
const maxChannelHistory = 5

// Op is a domain-level write. Ops are compiled into record writes against the
// state as it was before the commit started.
type Op interface {
	writes(ctx context.Context, s *Store) ([]Write, error)
}

// Batch is a group of ops produced together by one preparation step.
type Batch []Op

// Flatten concatenates batches in order.
func Flatten(batches []Batch) []Op {
	var ops []Op
	for _, b := range batches {
		ops = append(ops, b...)
	}
	return ops
}

// DeleteTeam removes a team and, explicitly, everything scoped under it:
// its membership, channels, channel memberships, channel history and posts.
type DeleteTeam struct {
	TeamID string
}

func (op DeleteTeam) writes(ctx context.Context, s *Store) ([]Write, error) {
	channels, err := s.backend.ListByParent(ctx, KindChannel, op.TeamID)
	if err != nil {
		return nil, fmt.Errorf("list channels of team %s: %w", op.TeamID, err)
	}
	ws := make([]Write, 0, len(channels)+5)
	for _, ch := range channels {
		ws = append(ws, Write{Op: WriteDeleteChildren, Kind: KindPost, Parent: ch.ID})
	}
	return append(ws,
		Write{Op: WriteDeleteChildren, Kind: KindChannelMembership, Parent: op.TeamID},
		Write{Op: WriteDeleteChildren, Kind: KindChannel, Parent: op.TeamID},
		Write{Op: WriteDelete, Kind: KindChannelHistory, ID: op.TeamID},
		Write{Op: WriteDelete, Kind: KindTeamMembership, ID: op.TeamID},
		Write{Op: WriteDelete, Kind: KindTeam, ID: op.TeamID},
	), nil
}

// DeleteChannel removes a channel with its membership and posts.
type DeleteChannel struct {
	ChannelID string
}

func (op DeleteChannel) writes(context.Context, *Store) ([]Write, error) {
	return []Write{
		{Op: WriteDeleteChildren, Kind: KindPost, Parent: op.ChannelID},
		{Op: WriteDelete, Kind: KindChannelMembership, ID: op.ChannelID},
		{Op: WriteDelete, Kind: KindChannel, ID: op.ChannelID},
	}, nil
}

// UpsertTeams stores teams and memberships, folding unread counters into the
// matching membership.
type UpsertTeams struct {
	Teams       []model.Team
	Memberships []model.TeamMembership
	Unreads     []model.TeamUnread
}

func (op UpsertTeams) writes(context.Context, *Store) ([]Write, error) {
	unreads := make(map[string]model.TeamUnread, len(op.Unreads))
	for _, u := range op.Unreads {
		unreads[u.TeamID] = u
	}
	ws := make([]Write, 0, len(op.Teams)+len(op.Memberships))
	for _, t := range op.Teams {
		w, err := put(KindTeam, t.ID, "", t)
		if err != nil {
			return nil, err
		}
		ws = append(ws, w)
	}
	for _, m := range op.Memberships {
		if u, ok := unreads[m.TeamID]; ok {
			m.MsgCount = u.MsgCount
			m.MentionCount = u.MentionCount
		}
		w, err := put(KindTeamMembership, m.TeamID, m.TeamID, m)
		if err != nil {
			return nil, err
		}
		ws = append(ws, w)
	}
	return ws, nil
}

// UpsertChannels stores channels and memberships under TeamID.
type UpsertChannels struct {
	TeamID      string
	Channels    []model.Channel
	Memberships []model.ChannelMembership
}

func (op UpsertChannels) writes(context.Context, *Store) ([]Write, error) {
	ws := make([]Write, 0, len(op.Channels)+len(op.Memberships))
	for _, ch := range op.Channels {
		w, err := put(KindChannel, ch.ID, op.TeamID, ch)
		if err != nil {
			return nil, err
		}
		ws = append(ws, w)
	}
	for _, m := range op.Memberships {
		w, err := put(KindChannelMembership, m.ChannelID, op.TeamID, m)
		if err != nil {
			return nil, err
		}
		ws = append(ws, w)
	}
	return ws, nil
}

// UpsertPreferences stores preferences keyed by category and name.
type UpsertPreferences struct {
	Preferences []model.Preference
}

func (op UpsertPreferences) writes(context.Context, *Store) ([]Write, error) {
	ws := make([]Write, 0, len(op.Preferences))
	for _, p := range op.Preferences {
		w, err := put(KindPreference, p.Key(), "", p)
		if err != nil {
			return nil, err
		}
		ws = append(ws, w)
	}
	return ws, nil
}

// UpsertUsers stores user records.
type UpsertUsers struct {
	Users []model.User
}

func (op UpsertUsers) writes(context.Context, *Store) ([]Write, error) {
	ws := make([]Write, 0, len(op.Users))
	for _, u := range op.Users {
		w, err := put(KindUser, u.ID, "", u)
		if err != nil {
			return nil, err
		}
		ws = append(ws, w)
	}
	return ws, nil
}

// UpsertRoles stores roles keyed by name.
type UpsertRoles struct {
	Roles []model.Role
}

func (op UpsertRoles) writes(context.Context, *Store) ([]Write, error) {
	ws := make([]Write, 0, len(op.Roles))
	for _, r := range op.Roles {
		w, err := put(KindRole, r.Name, "", r)
		if err != nil {
			return nil, err
		}
		ws = append(ws, w)
	}
	return ws, nil
}

// UpsertPosts stores posts under their channel.
type UpsertPosts struct {
	Posts []model.Post
}

func (op UpsertPosts) writes(context.Context, *Store) ([]Write, error) {
	ws := make([]Write, 0, len(op.Posts))
	for _, p := range op.Posts {
		w, err := put(KindPost, p.ID, p.ChannelID, p)
		if err != nil {
			return nil, err
		}
		ws = append(ws, w)
	}
	return ws, nil
}

// SetSystem stores raw system values.
type SetSystem struct {
	Values []model.SystemValue
}

func (op SetSystem) writes(context.Context, *Store) ([]Write, error) {
	ws := make([]Write, 0, len(op.Values))
	for _, v := range op.Values {
		ws = append(ws, Write{Op: WritePut, Kind: KindSystem, ID: v.ID, Value: []byte(v.Value)})
	}
	return ws, nil
}

// SystemJSON encodes v as the value of system key id.
func SystemJSON(id string, v any) (model.SystemValue, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return model.SystemValue{}, fmt.Errorf("encode system value %s: %w", id, err)
	}
	return model.SystemValue{ID: id, Value: string(data)}, nil
}

// AddChannelHistory records ChannelID as the most recently visited channel of TeamID.
type AddChannelHistory struct {
	TeamID    string
	ChannelID string
}

func (op AddChannelHistory) writes(ctx context.Context, s *Store) ([]Write, error) {
	prev, err := s.ChannelHistory(ctx, op.TeamID)
	if err != nil {
		return nil, err
	}
	history := []string{op.ChannelID}
	for _, id := range prev {
		if id != op.ChannelID && len(history) < maxChannelHistory {
			history = append(history, id)
		}
	}
	w, err := put(KindChannelHistory, op.TeamID, op.TeamID, history)
	if err != nil {
		return nil, err
	}
	return []Write{w}, nil
}

func put(kind Kind, id, parent string, v any) (Write, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Write{}, fmt.Errorf("encode %s %s: %w", kind, id, err)
	}
	return Write{Op: WritePut, Kind: kind, ID: id, Parent: parent, Value: data}, nil
}
