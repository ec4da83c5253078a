package database

import (
	"database/sql"
)

type PgTeamspaceRepository struct {
	conn *sql.DB
}

func NewPgTeamspaceRepository(dsn string) (*PgTeamspaceRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &PgTeamspaceRepository{conn: db}, nil
}

func (db *PgTeamspaceRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
