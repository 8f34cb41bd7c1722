package selection

import (
	"sort"

	"github.com/m96-chan/slackentry/internal/model"
)

// DefaultChannel picks the channel to open in teamID.
//
// The team's default channel wins when the user is a member of it or may join
// public channels; an empty roles list is treated as permission granted. Otherwise
// the first open channel the user belongs to, by display name for locale, is
// used, and the default channel after that. Returns nil when the team has no
// usable channel.
func DefaultChannel(channels []model.Channel, memberships []model.ChannelMembership, teamID string, roles []model.Role, locale string) *model.Channel {
	member := make(map[string]bool, len(memberships))
	for _, m := range memberships {
		member[m.ChannelID] = true
	}

	var fallback *model.Channel
	var mine []model.Channel
	for i := range channels {
		ch := channels[i]
		if ch.TeamID != teamID || ch.DeleteAt != 0 {
			continue
		}
		if ch.Name == model.DefaultChannelName {
			fallback = &channels[i]
		}
		if ch.Type == model.ChannelOpen && member[ch.ID] {
			mine = append(mine, ch)
		}
	}

	canJoin := len(roles) == 0 || model.HasPermission(roles, model.PermissionJoinPublicChannels)
	if fallback != nil && (member[fallback.ID] || canJoin) {
		out := *fallback
		return &out
	}

	if len(mine) > 0 {
		c := newCollator(locale)
		sort.SliceStable(mine, func(i, j int) bool {
			return compareNames(c, mine[i].DisplayName, mine[i].Name, mine[j].DisplayName, mine[j].Name) < 0
		})
		return &mine[0]
	}
	if fallback != nil {
		out := *fallback
		return &out
	}
	return nil
}
