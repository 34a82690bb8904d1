package database

import (
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) InsertMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) UpdateMessage(messageId int, content string) (Message, error) {
	args := m.Called(messageId, content)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockRepository) DeleteMessage(messageId int) error {
	args := m.Called(messageId)
	return args.Error(0)
}
func (m *MockRepository) FetchMessageOwner(messageId int) (MessageOwner, error) {
	args := m.Called(messageId)
	return args.Get(0).(MessageOwner), args.Error(1)
}
func (m *MockRepository) GetDisplayName(userId int) (string, error) {
	args := m.Called(userId)
	return args.String(0), args.Error(1)
}
func (m *MockRepository) UpdateProfile(params UpdateProfileParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
