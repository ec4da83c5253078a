package types

import (
	"time"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	AvatarUrl    string    `json:"avatar_url,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// CursorRange is a selection span inside a document, in document coordinates.
type CursorRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// UserInfo is the per-connection presence of a user inside a document room.
// A user with two tabs open appears twice, once per connection.
type UserInfo struct {
	UserId int          `json:"id"`
	Name   string       `json:"name"`
	Color  string       `json:"color,omitempty"`
	Cursor *CursorRange `json:"cursor,omitempty"`
}

// WorkspaceMember is one entry in a workspace's presence roster.
type WorkspaceMember struct {
	UserId    int       `json:"user_id"`
	Name      string    `json:"name"`
	AvatarUrl string    `json:"avatar_url,omitempty"`
	Role      string    `json:"role"`
	LastSeen  time.Time `json:"last_seen"`
}
