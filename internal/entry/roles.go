package entry

import (
	"context"
	"fmt"

	"github.com/m96-chan/slackentry/internal/model"
	"github.com/m96-chan/slackentry/internal/store"
)

// RolesResult is the outcome of FetchRolesIfNeeded. Roles holds only what was
// fetched in this call.
type RolesResult struct {
	Roles []model.Role
	Err   error
}

// FetchRolesIfNeeded fetches the roles among candidates that are not stored
// locally yet, in one request, and stores them. Failures are reported in the
// result.
func FetchRolesIfNeeded(ctx context.Context, srv *Server, candidates model.RoleSet) RolesResult {
	if len(candidates) == 0 {
		return RolesResult{}
	}
	known, err := srv.Store.RoleNames(ctx)
	if err != nil {
		return RolesResult{Err: fmt.Errorf("known roles: %w", err)}
	}

	var missing []string
	for _, name := range candidates.Names() {
		if !known.Has(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return RolesResult{}
	}

	roles, err := srv.Client.RolesByNames(ctx, missing)
	if err != nil {
		return RolesResult{Err: fmt.Errorf("fetch %d roles: %w", len(missing), err)}
	}
	if err := srv.Store.Commit(ctx, store.UpsertRoles{Roles: roles}); err != nil {
		return RolesResult{Roles: roles, Err: fmt.Errorf("store roles: %w", err)}
	}
	srv.Log.Debug("roles fetched", "count", len(roles))
	return RolesResult{Roles: roles}
}

// CollectRoleNames unions the roles of the user, of the memberships of fetched
// teams, and of the memberships of fetched channels. Memberships for teams or
// channels outside the fetch are ignored.
func CollectRoleNames(user *model.User, teams *TeamData, channels *ChannelData) model.RoleSet {
	names := model.NewRoleSet()
	if user != nil {
		names.Union(user.Roles)
	}
	if teams.ok() {
		fetched := make(map[string]bool, len(teams.Teams))
		for _, t := range teams.Teams {
			fetched[t.ID] = true
		}
		for _, m := range teams.Memberships {
			if fetched[m.TeamID] {
				names.Union(m.Roles)
			}
		}
	}
	if channels.ok() {
		fetched := make(map[string]bool, len(channels.Channels))
		for _, ch := range channels.Channels {
			fetched[ch.ID] = true
		}
		for _, m := range channels.Memberships {
			if fetched[m.ChannelID] {
				names.Union(m.Roles)
			}
		}
	}
	return names
}
