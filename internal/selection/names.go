package selection

import (
	"sort"
	"strings"

	"github.com/m96-chan/slackentry/internal/model"
)

// TeammateNameDisplay resolves how other users' names are rendered. An admin
// lock needs both the config flag and a license that allows it; unlocked, the
// user's display_settings/name_format preference wins over the server default.
func TeammateNameDisplay(prefs []model.Preference, cfg model.Config, lic model.License) string {
	locked := cfg.LockTeammateNameDisplay() && lic.LockTeammateNameDisplay()
	if !locked {
		if v := model.PreferenceValue(prefs, model.PreferenceDisplaySettings, model.PreferenceNameFormat, ""); v != "" {
			return v
		}
	}
	if v := cfg.TeammateNameDisplay(); v != "" {
		return v
	}
	return model.ShowUsername
}

// DisplayUsername renders u under setting, falling back to the username.
func DisplayUsername(u *model.User, setting string) string {
	if u == nil {
		return ""
	}
	var name string
	switch setting {
	case model.ShowNicknameFullName:
		name = u.Nickname
		if name == "" {
			name = u.FullName()
		}
	case model.ShowFullName:
		name = u.FullName()
	}
	if name == "" {
		return u.Username
	}
	return name
}

// DirectChannelName builds the display name of a DM or group channel from
// its members, excluding meID, sorted for locale. A channel with only the
// current user in it is named after them.
func DirectChannelName(members []model.User, meID, setting, locale string) string {
	names := make([]string, 0, len(members))
	var self string
	for i := range members {
		if members[i].ID == meID {
			self = DisplayUsername(&members[i], setting)
			continue
		}
		names = append(names, DisplayUsername(&members[i], setting))
	}
	if len(names) == 0 {
		return self
	}
	c := newCollator(locale)
	sort.SliceStable(names, func(i, j int) bool { return c.CompareString(names[i], names[j]) < 0 })
	return strings.Join(names, ", ")
}
