package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"lokapasar/internal/domain/entity"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) FindOrCreateActive(ctx context.Context, conversation *entity.Conversation) (*entity.Conversation, bool, error) {
	args := m.Called(ctx, conversation)
	var result *entity.Conversation
	if val := args.Get(0); val != nil {
		result = val.(*entity.Conversation)
	}
	return result, args.Bool(1), args.Error(2)
}

func (m *ConversationRepositoryMock) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	args := m.Called(ctx, id)
	var conversation *entity.Conversation
	if val := args.Get(0); val != nil {
		conversation = val.(*entity.Conversation)
	}
	return conversation, args.Error(1)
}

func (m *ConversationRepositoryMock) ListActiveByUserID(ctx context.Context, userID string, limit, offset int) ([]*entity.Conversation, int64, error) {
	args := m.Called(ctx, userID, limit, offset)
	var conversations []*entity.Conversation
	if val := args.Get(0); val != nil {
		conversations = val.([]*entity.Conversation)
	}
	return conversations, args.Get(1).(int64), args.Error(2)
}

func (m *ConversationRepositoryMock) Deactivate(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) CreateMessage(ctx context.Context, conversationID string, message *entity.Message) error {
	args := m.Called(ctx, conversationID, message)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, int64, error) {
	args := m.Called(ctx, conversationID, limit, offset)
	var messages []*entity.Message
	if val := args.Get(0); val != nil {
		messages = val.([]*entity.Message)
	}
	return messages, args.Get(1).(int64), args.Error(2)
}

func (m *ConversationRepositoryMock) ApplyMessageDelivery(ctx context.Context, conversationID, summary string, at time.Time, recipient entity.ParticipantRole) error {
	args := m.Called(ctx, conversationID, summary, at, recipient)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) MarkMessagesRead(ctx context.Context, conversationID, recipientID string, at time.Time) (int, error) {
	args := m.Called(ctx, conversationID, recipientID, at)
	return args.Int(0), args.Error(1)
}

func (m *ConversationRepositoryMock) ResetUnread(ctx context.Context, conversationID string, role entity.ParticipantRole) error {
	args := m.Called(ctx, conversationID, role)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) SetTypingState(ctx context.Context, conversationID, userID string, isTyping bool, at time.Time) error {
	args := m.Called(ctx, conversationID, userID, isTyping, at)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) SetOnlineState(ctx context.Context, conversationID, userID string, isOnline bool, at time.Time) error {
	args := m.Called(ctx, conversationID, userID, isOnline, at)
	return args.Error(0)
}
