package store

import "time"

type Conversation struct {
	ID        int       `json:"id"`
	IsGroup   bool      `json:"isGroup"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatarUrl"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Message struct {
	ID             int       `json:"id"`
	ConversationID int       `json:"conversationId"`
	SenderID       int       `json:"senderId"`
	SenderName     string    `json:"senderName"`
	SenderAvatar   string    `json:"senderAvatar"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	// Read reports whether the member the query was scoped to has read the
	// message. It is meaningless on rows not hydrated for a viewer.
	Read bool `json:"read"`
}

type DisplayInfo struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

type Member struct {
	ID          int    `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

// ConversationView is the hydrated shape returned to a single member:
// participants, the full ordered message log and that member's unread
// counter. The last message is whatever sorts last, never a tracked pointer.
type ConversationView struct {
	Conversation
	Members     []Member  `json:"members"`
	Messages    []Message `json:"messages"`
	UnreadCount int       `json:"unreadCount"`
}

// ConversationPatch carries the mutable conversation fields; nil means
// leave the column untouched.
type ConversationPatch struct {
	Name      *string `json:"name"`
	AvatarURL *string `json:"avatarUrl"`
}
