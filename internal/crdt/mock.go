package crdt

import (
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/mock"
)

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Open(documentId string) (Handle, error) {
	args := m.Called(documentId)
	if h, ok := args.Get(0).(Handle); ok {
		return h, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) Attach(conn *websocket.Conn, documentId string) error {
	args := m.Called(conn, documentId)
	return args.Error(0)
}

type MockHandle struct {
	mock.Mock
}

func (m *MockHandle) Destroy() error {
	args := m.Called()
	return args.Error(0)
}
