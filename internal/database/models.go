package database

import "time"

type User struct {
	Id           int
	Username     string
	EmailAddress string
	AvatarUrl    string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Document rows are owned by the suite's CRUD services; the realtime layer
// only reads them to resolve a document's owning workspace.
type Document struct {
	Id          int
	ExternalId  string
	WorkspaceId string
	Title       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Membership struct {
	WorkspaceId string
	AccountId   int
	Role        string
	CreatedAt   time.Time
}
