// Package store is the local, per-server snapshot of teams, channels,
// preferences, users, roles and system values.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/m96-chan/slackentry/internal/model"
)

// Store exposes typed queries and an atomic multi-op commit over a Backend.
type Store struct {
	backend Backend
}

// New wraps a backend.
func New(b Backend) *Store {
	return &Store{backend: b}
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend { return s.backend }

// Close releases the backend.
func (s *Store) Close() error { return s.backend.Close() }

// Commit compiles ops into record writes and applies them as one atomic
// write. Nothing is written when ops produce no writes.
func (s *Store) Commit(ctx context.Context, ops ...Op) error {
	var writes []Write
	for _, op := range ops {
		w, err := op.writes(ctx, s)
		if err != nil {
			return fmt.Errorf("prepare %T: %w", op, err)
		}
		writes = append(writes, w...)
	}
	if len(writes) == 0 {
		return nil
	}
	if err := s.backend.Apply(ctx, writes); err != nil {
		return fmt.Errorf("apply %d writes: %w", len(writes), err)
	}
	return nil
}

// SystemValue returns the system value for id, or "" when unset.
func (s *Store) SystemValue(ctx context.Context, id string) (string, error) {
	v, err := s.backend.Get(ctx, KindSystem, id)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read system value %s: %w", id, err)
	}
	return string(v), nil
}

// CurrentTeamID returns the active team id, or "" when none.
func (s *Store) CurrentTeamID(ctx context.Context) (string, error) {
	return s.SystemValue(ctx, model.SystemCurrentTeamID)
}

// CurrentChannelID returns the active channel id, or "" when none.
func (s *Store) CurrentChannelID(ctx context.Context) (string, error) {
	return s.SystemValue(ctx, model.SystemCurrentChannelID)
}

// LastDisconnectedAt returns the unix-millisecond time of the last websocket
// disconnect, or zero.
func (s *Store) LastDisconnectedAt(ctx context.Context) (int64, error) {
	v, err := s.SystemValue(ctx, model.SystemWebSocket)
	if err != nil || v == "" {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse websocket timestamp %q: %w", v, err)
	}
	return n, nil
}

// CurrentUser returns the "me" record, or nil when no user is stored.
func (s *Store) CurrentUser(ctx context.Context) (*model.User, error) {
	id, err := s.SystemValue(ctx, model.SystemCurrentUserID)
	if err != nil || id == "" {
		return nil, err
	}
	return s.User(ctx, id)
}

// User returns the user with id, or nil when unknown.
func (s *Store) User(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	ok, err := s.get(ctx, KindUser, id, &u)
	if err != nil || !ok {
		return nil, err
	}
	return &u, nil
}

// Config returns the stored server config; empty when none was stored.
func (s *Store) Config(ctx context.Context) (model.Config, error) {
	cfg := model.Config{}
	if err := s.systemJSON(ctx, model.SystemConfig, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// License returns the stored license; empty when none was stored.
func (s *Store) License(ctx context.Context) (model.License, error) {
	lic := model.License{}
	if err := s.systemJSON(ctx, model.SystemLicense, &lic); err != nil {
		return nil, err
	}
	return lic, nil
}

func (s *Store) systemJSON(ctx context.Context, id string, v any) error {
	raw, err := s.SystemValue(ctx, id)
	if err != nil || raw == "" {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode system value %s: %w", id, err)
	}
	return nil
}

// MyTeams returns the stored teams the user holds a membership for.
func (s *Store) MyTeams(ctx context.Context) ([]model.Team, error) {
	teams, err := listAll[model.Team](ctx, s.backend, KindTeam)
	if err != nil {
		return nil, err
	}
	members, err := s.TeamMemberships(ctx)
	if err != nil {
		return nil, err
	}
	return model.TeamsWithMembership(teams, members), nil
}

// MyTeamIDs returns the ids of MyTeams.
func (s *Store) MyTeamIDs(ctx context.Context) ([]string, error) {
	teams, err := s.MyTeams(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(teams))
	for i, t := range teams {
		ids[i] = t.ID
	}
	return ids, nil
}

// TeamIDs returns the id of every cached team, member or not.
func (s *Store) TeamIDs(ctx context.Context) ([]string, error) {
	recs, err := s.backend.List(ctx, KindTeam)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids, nil
}

// TeamsByID returns the stored teams among ids; unknown ids are skipped.
func (s *Store) TeamsByID(ctx context.Context, ids []string) ([]model.Team, error) {
	out := make([]model.Team, 0, len(ids))
	for _, id := range ids {
		var t model.Team
		ok, err := s.get(ctx, KindTeam, id, &t)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// TeamMemberships returns every stored team membership.
func (s *Store) TeamMemberships(ctx context.Context) ([]model.TeamMembership, error) {
	return listAll[model.TeamMembership](ctx, s.backend, KindTeamMembership)
}

// ChannelsForTeam returns the stored channels of a team.
func (s *Store) ChannelsForTeam(ctx context.Context, teamID string) ([]model.Channel, error) {
	return listChildren[model.Channel](ctx, s.backend, KindChannel, teamID)
}

// ChannelMembershipsForTeam returns the stored channel memberships of a team.
func (s *Store) ChannelMembershipsForTeam(ctx context.Context, teamID string) ([]model.ChannelMembership, error) {
	return listChildren[model.ChannelMembership](ctx, s.backend, KindChannelMembership, teamID)
}

// Channel returns the stored channel with id, or nil.
func (s *Store) Channel(ctx context.Context, id string) (*model.Channel, error) {
	var ch model.Channel
	ok, err := s.get(ctx, KindChannel, id, &ch)
	if err != nil || !ok {
		return nil, err
	}
	return &ch, nil
}

// RoleNames returns the names of every stored role.
func (s *Store) RoleNames(ctx context.Context) (model.RoleSet, error) {
	recs, err := s.backend.List(ctx, KindRole)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	names := make(model.RoleSet, len(recs))
	for _, r := range recs {
		names.Add(r.ID)
	}
	return names, nil
}

// Roles returns the stored roles among names; unknown names are skipped.
func (s *Store) Roles(ctx context.Context, names []string) ([]model.Role, error) {
	out := make([]model.Role, 0, len(names))
	for _, n := range names {
		var r model.Role
		ok, err := s.get(ctx, KindRole, n, &r)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// PreferencesByCategory returns the stored preferences of one category.
func (s *Store) PreferencesByCategory(ctx context.Context, category string) ([]model.Preference, error) {
	all, err := listAll[model.Preference](ctx, s.backend, KindPreference)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, p := range all {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out, nil
}

// ChannelHistory returns the team's recently visited channel ids, newest first.
func (s *Store) ChannelHistory(ctx context.Context, teamID string) ([]string, error) {
	var ids []string
	if _, err := s.get(ctx, KindChannelHistory, teamID, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// PostsForChannel returns the stored posts of a channel.
func (s *Store) PostsForChannel(ctx context.Context, channelID string) ([]model.Post, error) {
	return listChildren[model.Post](ctx, s.backend, KindPost, channelID)
}

func (s *Store) get(ctx context.Context, kind Kind, id string, v any) (bool, error) {
	raw, err := s.backend.Get(ctx, kind, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s %s: %w", kind, id, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	return true, nil
}

func listAll[T any](ctx context.Context, b Backend, kind Kind) ([]T, error) {
	recs, err := b.List(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	return decodeRecords[T](kind, recs)
}

func listChildren[T any](ctx context.Context, b Backend, kind Kind, parent string) ([]T, error) {
	recs, err := b.ListByParent(ctx, kind, parent)
	if err != nil {
		return nil, fmt.Errorf("list %s of %s: %w", kind, parent, err)
	}
	return decodeRecords[T](kind, recs)
}

func decodeRecords[T any](kind Kind, recs []Record) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, r := range recs {
		var v T
		if err := json.Unmarshal(r.Value, &v); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", kind, r.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}
