package database

func (db *PgTeamspaceRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgTeamspaceRepository) GetAccountById(accountId int) (User, error) {
	var user User
	err := db.conn.QueryRow(`
		SELECT id, username, email_address, COALESCE(avatar_url, ''), password_hash, created_at, updated_at
		FROM accounts
		WHERE id = $1`, accountId).
		Scan(&user.Id, &user.Username, &user.EmailAddress, &user.AvatarUrl,
			&user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}

	return user, nil
}

func (db *PgTeamspaceRepository) GetAccountByEmail(email string) (User, error) {
	var user User
	err := db.conn.QueryRow(`
		SELECT id, username, email_address, COALESCE(avatar_url, ''), password_hash, created_at, updated_at
		FROM accounts
		WHERE email_address = $1`, email).
		Scan(&user.Id, &user.Username, &user.EmailAddress, &user.AvatarUrl,
			&user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}

	return user, nil
}

func (db *PgTeamspaceRepository) GetDocumentByExternalId(externalId string) (Document, error) {
	var doc Document
	err := db.conn.QueryRow(`
		SELECT id, external_id, workspace_id, title, created_at, updated_at
		FROM documents
		WHERE external_id = $1`, externalId).
		Scan(&doc.Id, &doc.ExternalId, &doc.WorkspaceId, &doc.Title, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return Document{}, err
	}

	return doc, nil
}

func (db *PgTeamspaceRepository) GetWorkspaceMembership(workspaceId string, accountId int) (Membership, error) {
	var m Membership
	err := db.conn.QueryRow(`
		SELECT workspace_id, account_id, role, created_at
		FROM workspace_members
		WHERE workspace_id = $1 AND account_id = $2`, workspaceId, accountId).
		Scan(&m.WorkspaceId, &m.AccountId, &m.Role, &m.CreatedAt)
	if err != nil {
		return Membership{}, err
	}

	return m, nil
}
