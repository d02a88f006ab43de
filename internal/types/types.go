package types

import (
	"time"
)

type User struct {
	Id         int       `json:"id"`
	ExternalId string    `json:"external_id"`
	Email      string    `json:"email,omitempty"`
	Name       string    `json:"name"`
	Avatar     string    `json:"avatar,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

type UserPage struct {
	Users      []User `json:"users"`
	NextCursor *int   `json:"next_cursor"`
}

type Conversation struct {
	Id            int       `json:"id"`
	ExternalId    string    `json:"external_id"`
	Type          string    `json:"type"`
	Name          string    `json:"name,omitempty"`
	AdminUserId   int       `json:"admin_user_id,omitempty"`
	Members       []User    `json:"members"`
	LatestMessage *Message  `json:"latest_message,omitempty"`
	UnreadCount   int       `json:"unread_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type ConversationPage struct {
	Conversations []Conversation `json:"conversations"`
	NextCursor    *int           `json:"next_cursor"`
}

type Message struct {
	Id             int       `json:"id"`
	ConversationId int       `json:"conversation_id"`
	SenderId       int       `json:"sender_id"`
	Content        string    `json:"content"`
	Deleted        bool      `json:"deleted"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

type MessagePage struct {
	Messages       []Message `json:"messages"`
	ContinueCursor *string   `json:"continue_cursor"`
}

type ReactionGroup struct {
	Emoji   string `json:"emoji"`
	Count   int    `json:"count"`
	UserIds []int  `json:"user_ids"`
}

type Presence struct {
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen"`
}
