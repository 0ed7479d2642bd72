package remote

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) SignInAnonymously(ctx context.Context, userID string) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func (m *MockBackend) CreateList(ctx context.Context, inviteCode, name, displayName string) (List, error) {
	args := m.Called(ctx, inviteCode, name, displayName)
	return args.Get(0).(List), args.Error(1)
}

func (m *MockBackend) JoinListByCode(ctx context.Context, inviteCode, displayName string) (List, error) {
	args := m.Called(ctx, inviteCode, displayName)
	return args.Get(0).(List), args.Error(1)
}

func (m *MockBackend) LoadList(ctx context.Context, listID string) (Snapshot, error) {
	args := m.Called(ctx, listID)
	return args.Get(0).(Snapshot), args.Error(1)
}

func (m *MockBackend) InsertItem(ctx context.Context, listID, text string, checked bool) (Item, error) {
	args := m.Called(ctx, listID, text, checked)
	return args.Get(0).(Item), args.Error(1)
}

func (m *MockBackend) UpdateItemChecked(ctx context.Context, itemID string, checked bool) error {
	args := m.Called(ctx, itemID, checked)
	return args.Error(0)
}

func (m *MockBackend) UpdateItemText(ctx context.Context, itemID, text string) error {
	args := m.Called(ctx, itemID, text)
	return args.Error(0)
}

func (m *MockBackend) DeleteItem(ctx context.Context, itemID string) error {
	args := m.Called(ctx, itemID)
	return args.Error(0)
}

func (m *MockBackend) RenameList(ctx context.Context, listID, name string) error {
	args := m.Called(ctx, listID, name)
	return args.Error(0)
}

func (m *MockBackend) Subscribe(ctx context.Context, listID string) (<-chan Change, error) {
	args := m.Called(ctx, listID)
	if ch := args.Get(0); ch != nil {
		return ch.(<-chan Change), args.Error(1)
	}
	return nil, args.Error(1)
}
