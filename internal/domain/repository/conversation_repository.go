package repository

import (
	"context"
	"time"

	"lokapasar/internal/domain/entity"
)

type ConversationRepository interface {
	// FindOrCreateActive returns the active conversation for the buyer and
	// seller on the given template, creating it when absent. Lookup and
	// creation run in one transaction so two concurrent first-contact
	// requests for the same pair cannot both create. The second return
	// reports whether a new conversation was created.
	FindOrCreateActive(ctx context.Context, conversation *entity.Conversation) (*entity.Conversation, bool, error)
	GetByID(ctx context.Context, id string) (*entity.Conversation, error)
	ListActiveByUserID(ctx context.Context, userID string, limit, offset int) ([]*entity.Conversation, int64, error)
	Deactivate(ctx context.Context, id string) error

	// Message methods
	CreateMessage(ctx context.Context, conversationID string, message *entity.Message) error
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, int64, error)

	// ApplyMessageDelivery updates the conversation aggregates for one new
	// message in a single atomic storage operation: last-message summary,
	// last-message time, and an increment of exactly 1 on the recipient
	// role's unread counter. It must not be implemented as read-modify-write.
	ApplyMessageDelivery(ctx context.Context, conversationID, summary string, at time.Time, recipient entity.ParticipantRole) error

	// MarkMessagesRead flags every unread message addressed to recipientID
	// and returns how many were flagged.
	MarkMessagesRead(ctx context.Context, conversationID, recipientID string, at time.Time) (int, error)
	ResetUnread(ctx context.Context, conversationID string, role entity.ParticipantRole) error

	SetTypingState(ctx context.Context, conversationID, userID string, isTyping bool, at time.Time) error
	SetOnlineState(ctx context.Context, conversationID, userID string, isOnline bool, at time.Time) error
}
