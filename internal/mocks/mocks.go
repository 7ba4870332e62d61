package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"realtime-service/internal/auth"
	"realtime-service/internal/models"
	"realtime-service/internal/rabbitmq"
	"realtime-service/internal/repositories"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, p repositories.CreateMessageParams) (models.Message, error) {
	args := m.Called(ctx, p)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, conversationID string, limit int, beforeID int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, limit, beforeID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) MarkDelivered(ctx context.Context, messageID int, receiverID int) (bool, error) {
	args := m.Called(ctx, messageID, receiverID)
	return args.Bool(0), args.Error(1)
}

func (m *MessageRepositoryMock) MarkConversationDelivered(ctx context.Context, conversationID string, receiverID int) ([]int, error) {
	args := m.Called(ctx, conversationID, receiverID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, conversationID string, readerID int, readAt time.Time) (int, error) {
	args := m.Called(ctx, conversationID, readerID, readAt)
	return args.Int(0), args.Error(1)
}

func (m *MessageRepositoryMock) SoftDelete(ctx context.Context, messageID int, senderID int) error {
	args := m.Called(ctx, messageID, senderID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) UnreadCount(ctx context.Context, userID int) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

type LastSeenStoreMock struct {
	mock.Mock
}

func (m *LastSeenStoreMock) Set(ctx context.Context, userID int, lastSeen time.Time) error {
	args := m.Called(ctx, userID, lastSeen)
	return args.Error(0)
}

func (m *LastSeenStoreMock) Get(ctx context.Context, userID int) (time.Time, error) {
	args := m.Called(ctx, userID)
	var t time.Time
	if val := args.Get(0); val != nil {
		t = val.(time.Time)
	}
	return t, args.Error(1)
}

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

type ValidatorMock struct {
	mock.Mock
}

func (m *ValidatorMock) ValidateToken(ctx context.Context, token string) (int, error) {
	args := m.Called(ctx, token)
	return args.Int(0), args.Error(1)
}

type NotifierMock struct {
	mock.Mock
}

func (m *NotifierMock) MessageQueued(ctx context.Context, msg models.Message) {
	m.Called(ctx, msg)
}

var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.LastSeenStore = (*LastSeenStoreMock)(nil)
var _ rabbitmq.Publisher = (*PublisherMock)(nil)
var _ auth.Validator = (*ValidatorMock)(nil)
