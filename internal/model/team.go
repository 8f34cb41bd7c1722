package model

// Team is a workspace the user may belong to.
type Team struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Type        string `json:"type,omitempty"`
	DeleteAt    int64  `json:"delete_at,omitempty"`
}

// TeamMembership links the current user to a team.
type TeamMembership struct {
	TeamID       string  `json:"team_id"`
	UserID       string  `json:"user_id"`
	Roles        RoleSet `json:"roles"`
	DeleteAt     int64   `json:"delete_at,omitempty"`
	MsgCount     int64   `json:"msg_count"`
	MentionCount int64   `json:"mention_count"`
}

// TeamUnread carries the unread counters the server reports per team.
type TeamUnread struct {
	TeamID       string `json:"team_id"`
	MsgCount     int64  `json:"msg_count"`
	MentionCount int64  `json:"mention_count"`
}

// TeamsWithMembership returns the teams for which an active membership exists,
// preserving the order of teams.
func TeamsWithMembership(teams []Team, memberships []TeamMembership) []Team {
	member := make(map[string]bool, len(memberships))
	for _, m := range memberships {
		if m.DeleteAt == 0 {
			member[m.TeamID] = true
		}
	}
	out := make([]Team, 0, len(teams))
	for _, t := range teams {
		if member[t.ID] {
			out = append(out, t)
		}
	}
	return out
}
