package model

import "strings"

// DefaultLocale is used whenever no locale is known.
const DefaultLocale = "en"

// User is a person on the server. The authenticated user is stored as "me".
type User struct {
	ID        string  `json:"id"`
	Username  string  `json:"username"`
	FirstName string  `json:"first_name,omitempty"`
	LastName  string  `json:"last_name,omitempty"`
	Nickname  string  `json:"nickname,omitempty"`
	Locale    string  `json:"locale,omitempty"`
	Roles     RoleSet `json:"roles"`
	DeleteAt  int64   `json:"delete_at,omitempty"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// LocaleOrDefault returns the user's locale or DefaultLocale.
func (u *User) LocaleOrDefault() string {
	if u == nil || u.Locale == "" {
		return DefaultLocale
	}
	return u.Locale
}

// Role is a named permission set.
type Role struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// PermissionJoinPublicChannels lets a member join any open channel of a team.
const PermissionJoinPublicChannels = "join_public_channels"

// HasPermission reports whether any of roles grants perm.
func HasPermission(roles []Role, perm string) bool {
	for _, r := range roles {
		for _, p := range r.Permissions {
			if p == perm {
				return true
			}
		}
	}
	return false
}

// Post is a message; only fetched during deferred enrichment.
type Post struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	CreateAt  int64  `json:"create_at"`
}
