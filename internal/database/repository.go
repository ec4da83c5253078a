package database

// TeamspaceRepository is the read surface the realtime layer needs from the
// relational store. Lookups that miss return sql.ErrNoRows unwrapped so
// callers can distinguish "absent" from infrastructure failure.
type TeamspaceRepository interface {
	Ping() error
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	GetDocumentByExternalId(externalId string) (Document, error)
	GetWorkspaceMembership(workspaceId string, accountId int) (Membership, error)
}
