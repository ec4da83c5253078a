package database

import (
	"github.com/stretchr/testify/mock"
)

type MockTeamspaceRepository struct {
	mock.Mock
}

func (m *MockTeamspaceRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockTeamspaceRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}

func (m *MockTeamspaceRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}

func (m *MockTeamspaceRepository) GetDocumentByExternalId(externalId string) (Document, error) {
	args := m.Called(externalId)
	return args.Get(0).(Document), args.Error(1)
}

func (m *MockTeamspaceRepository) GetWorkspaceMembership(workspaceId string, accountId int) (Membership, error) {
	args := m.Called(workspaceId, accountId)
	return args.Get(0).(Membership), args.Error(1)
}
