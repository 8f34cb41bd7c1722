package model

import (
	"strconv"
	"time"
)

// Keys of the system values kept in the local store.
const (
	SystemCurrentTeamID    = "currentTeamId"
	SystemCurrentChannelID = "currentChannelId"
	SystemCurrentUserID    = "currentUserId"
	SystemConfig           = "config"
	SystemLicense          = "license"
	SystemWebSocket        = "websocket"
)

// SystemValue is a single key/value row of server-wide local state.
type SystemValue struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// Teammate name display settings.
const (
	ShowUsername         = "username"
	ShowNicknameFullName = "nickname_full_name"
	ShowFullName         = "full_name"
)

// Config is the client-visible server configuration.
type Config map[string]string

// PrimaryTeam is the team name the server wants new sessions to land on.
func (c Config) PrimaryTeam() string { return c["ExperimentalPrimaryTeam"] }

// TeammateNameDisplay is the server default for rendering user names.
func (c Config) TeammateNameDisplay() string { return c["TeammateNameDisplay"] }

// LockTeammateNameDisplay reports whether users may not override the display setting.
func (c Config) LockTeammateNameDisplay() bool { return c["LockTeammateNameDisplay"] == "true" }

// ExtendSessionLengthWithActivity reports whether sessions slide on activity.
func (c Config) ExtendSessionLengthWithActivity() bool {
	return c["ExtendSessionLengthWithActivity"] == "true"
}

// SessionLength returns the configured session length, or zero when unset.
func (c Config) SessionLength() time.Duration {
	h, err := strconv.Atoi(c["SessionLengthMobileInHours"])
	if err != nil || h <= 0 {
		return 0
	}
	return time.Duration(h) * time.Hour
}

// License is the client-visible license information.
type License map[string]string

// LockTeammateNameDisplay reports whether the license allows locking the display setting.
func (l License) LockTeammateNameDisplay() bool { return l["LockTeammateNameDisplay"] == "true" }
