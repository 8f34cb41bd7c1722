package model

// ChannelType is the server's one-letter channel type.
type ChannelType string

const (
	ChannelOpen    ChannelType = "O"
	ChannelPrivate ChannelType = "P"
	ChannelDirect  ChannelType = "D"
	ChannelGroup   ChannelType = "G"
)

// DefaultChannelName is the channel every team member joins on creation.
const DefaultChannelName = "town-square"

// Channel is a conversation scoped under a team. Direct and group channels
// carry the team they were fetched for.
type Channel struct {
	ID            string      `json:"id"`
	TeamID        string      `json:"team_id"`
	Type          ChannelType `json:"type"`
	Name          string      `json:"name"`
	DisplayName   string      `json:"display_name"`
	CreateAt      int64       `json:"create_at"`
	DeleteAt      int64       `json:"delete_at,omitempty"`
	LastPostAt    int64       `json:"last_post_at"`
	TotalMsgCount int64       `json:"total_msg_count"`
}

// IsDirectOrGroup reports whether the channel is a DM or group DM.
func (c Channel) IsDirectOrGroup() bool {
	return c.Type == ChannelDirect || c.Type == ChannelGroup
}

// ChannelMembership links the current user to a channel.
type ChannelMembership struct {
	ChannelID    string  `json:"channel_id"`
	UserID       string  `json:"user_id"`
	Roles        RoleSet `json:"roles"`
	LastViewedAt int64   `json:"last_viewed_at"`
	MsgCount     int64   `json:"msg_count"`
	MentionCount int64   `json:"mention_count"`
}

// Unread reports whether the member has not seen everything in ch.
func (m ChannelMembership) Unread(ch Channel) bool {
	if m.MentionCount > 0 {
		return true
	}
	if ch.TotalMsgCount > 0 && m.MsgCount < ch.TotalMsgCount {
		return true
	}
	return ch.LastPostAt > m.LastViewedAt
}
