package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"lokapasar/internal/domain/entity"
	"lokapasar/internal/domain/repository"
	"lokapasar/pkg/errors"
	"lokapasar/pkg/logger"
)

type firestoreConversationRepository struct {
	client *firestore.Client
}

func NewFirestoreConversationRepository(client *firestore.Client) repository.ConversationRepository {
	return &firestoreConversationRepository{
		client: client,
	}
}

func (r *firestoreConversationRepository) conversations() *firestore.CollectionRef {
	return r.client.Collection("conversations")
}

func (r *firestoreConversationRepository) messages(conversationID string) *firestore.CollectionRef {
	return r.conversations().Doc(conversationID).Collection("messages")
}

// FindOrCreateActive runs the lookup and the create in one transaction, so
// concurrent first-contact requests for the same buyer/seller pair converge
// on a single active conversation.
func (r *firestoreConversationRepository) FindOrCreateActive(ctx context.Context, conversation *entity.Conversation) (*entity.Conversation, bool, error) {
	pair := entity.ParticipantPairKey(conversation.BuyerID, conversation.SellerID)
	query := r.conversations().
		Where("participantPair", "==", pair).
		Where("active", "==", true).
		Limit(1)

	var (
		result  *entity.Conversation
		created bool
	)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = nil
		created = false

		doc, err := tx.Documents(query).Next()
		if err == nil {
			var existing entity.Conversation
			if err := doc.DataTo(&existing); err != nil {
				return err
			}
			result = &existing
			return nil
		}
		if err != iterator.Done {
			return err
		}

		now := time.Now()
		fresh := *conversation
		fresh.ID = uuid.New().String()
		fresh.CreatedAt = now
		fresh.UpdatedAt = now
		fresh.ConversationKey = entity.NewConversationKey(fresh.BuyerID, fresh.SellerID, now)
		fresh.ParticipantPair = pair
		fresh.Participants = []string{fresh.BuyerID, fresh.SellerID}
		fresh.Active = true

		// Counters and per-user state are written up front so every later
		// mutation can address them by field path without existence checks.
		fresh.UnreadCount = entity.UnreadCount{}
		fresh.ParticipantState = map[string]entity.ParticipantState{
			fresh.BuyerID:  {},
			fresh.SellerID: {},
		}

		if err := tx.Create(r.conversations().Doc(fresh.ID), &fresh); err != nil {
			return err
		}
		result = &fresh
		created = true
		return nil
	})
	if err != nil {
		return nil, false, errors.Internal("Failed to find or create conversation", err)
	}

	return result, created, nil
}

func (r *firestoreConversationRepository) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	doc, err := r.conversations().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, errors.NotFound("Conversation", err)
		}
		return nil, errors.Internal("Failed to get conversation", err)
	}

	var conversation entity.Conversation
	if err := doc.DataTo(&conversation); err != nil {
		return nil, errors.Internal("Failed to parse conversation data", err)
	}

	return &conversation, nil
}

func (r *firestoreConversationRepository) ListActiveByUserID(ctx context.Context, userID string, limit, offset int) ([]*entity.Conversation, int64, error) {
	query := r.conversations().
		Where("participants", "array-contains", userID).
		Where("active", "==", true).
		OrderBy("lastMessageAt", firestore.Desc)

	allDocs, err := query.Documents(ctx).GetAll()
	if err != nil {
		logger.Error("Firestore error while fetching conversations for user %s: %v", userID, err)
		return nil, 0, errors.Internal("Failed to fetch conversations", err)
	}

	total := int64(len(allDocs))

	start := offset
	if start > len(allDocs) {
		start = len(allDocs)
	}
	end := len(allDocs)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	var conversations []*entity.Conversation
	for i := start; i < end; i++ {
		var conversation entity.Conversation
		if err := allDocs[i].DataTo(&conversation); err != nil {
			logger.Warn("Skipping malformed conversation document for user %s: %v", userID, err)
			continue
		}
		conversations = append(conversations, &conversation)
	}

	return conversations, total, nil
}

func (r *firestoreConversationRepository) Deactivate(ctx context.Context, id string) error {
	_, err := r.conversations().Doc(id).Update(ctx, []firestore.Update{
		{Path: "active", Value: false},
		{Path: "updatedAt", Value: time.Now()},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return errors.NotFound("Conversation", err)
		}
		return errors.Internal("Failed to deactivate conversation", err)
	}
	return nil
}

func (r *firestoreConversationRepository) CreateMessage(ctx context.Context, conversationID string, message *entity.Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}

	_, err := r.messages(conversationID).Doc(message.ID).Set(ctx, message)
	if err != nil {
		return errors.Internal("Failed to create message", err)
	}

	return nil
}

func (r *firestoreConversationRepository) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*entity.Message, int64, error) {
	query := r.messages(conversationID).OrderBy("createdAt", firestore.Desc)

	allDocs, err := query.Documents(ctx).GetAll()
	if err != nil {
		logger.Error("Firestore error while fetching messages for conversation %s: %v", conversationID, err)
		return nil, 0, errors.Internal("Failed to fetch messages", err)
	}

	total := int64(len(allDocs))

	start := offset
	if start > len(allDocs) {
		start = len(allDocs)
	}
	end := len(allDocs)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	var messages []*entity.Message
	for i := start; i < end; i++ {
		var message entity.Message
		if err := allDocs[i].DataTo(&message); err != nil {
			return nil, 0, errors.Internal("Failed to parse message data", err)
		}
		messages = append(messages, &message)
	}

	return messages, total, nil
}

// ApplyMessageDelivery performs the aggregate update for one delivered
// message as a single Firestore update. The unread counter uses a server-side
// increment transform, so concurrent sends never lose an update.
func (r *firestoreConversationRepository) ApplyMessageDelivery(ctx context.Context, conversationID, summary string, at time.Time, recipient entity.ParticipantRole) error {
	_, err := r.conversations().Doc(conversationID).Update(ctx, []firestore.Update{
		{Path: "lastMessage", Value: summary},
		{Path: "lastMessageAt", Value: at},
		{Path: "updatedAt", Value: at},
		{Path: "unreadCount." + string(recipient), Value: firestore.Increment(1)},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return errors.NotFound("Conversation", err)
		}
		return errors.Internal("Failed to update conversation aggregates", err)
	}
	return nil
}

func (r *firestoreConversationRepository) MarkMessagesRead(ctx context.Context, conversationID, recipientID string, at time.Time) (int, error) {
	query := r.messages(conversationID).
		Where("recipientId", "==", recipientID).
		Where("isRead", "==", false)

	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return 0, errors.Internal("Failed to query unread messages", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	writer := r.client.BulkWriter(ctx)
	for _, doc := range docs {
		_, err := writer.Update(doc.Ref, []firestore.Update{
			{Path: "isRead", Value: true},
			{Path: "readAt", Value: at},
		})
		if err != nil {
			writer.End()
			return 0, errors.Internal("Failed to mark messages as read", err)
		}
	}
	writer.End()

	return len(docs), nil
}

func (r *firestoreConversationRepository) ResetUnread(ctx context.Context, conversationID string, role entity.ParticipantRole) error {
	_, err := r.conversations().Doc(conversationID).Update(ctx, []firestore.Update{
		{Path: "unreadCount." + string(role), Value: 0},
		{Path: "updatedAt", Value: time.Now()},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return errors.NotFound("Conversation", err)
		}
		return errors.Internal("Failed to reset unread counter", err)
	}
	return nil
}

// typingStateUpdates builds the field updates for a typing transition.
// typingStartedAt is stamped when typing begins and deleted when it stops,
// so a cold load never shows a stale start time.
func typingStateUpdates(userID string, isTyping bool, at time.Time) []firestore.Update {
	updates := []firestore.Update{
		{FieldPath: firestore.FieldPath{"participantState", userID, "isTyping"}, Value: isTyping},
	}
	startedAt := firestore.Update{FieldPath: firestore.FieldPath{"participantState", userID, "typingStartedAt"}}
	if isTyping {
		startedAt.Value = at
	} else {
		startedAt.Value = firestore.Delete
	}
	return append(updates, startedAt)
}

func (r *firestoreConversationRepository) SetTypingState(ctx context.Context, conversationID, userID string, isTyping bool, at time.Time) error {
	_, err := r.conversations().Doc(conversationID).Update(ctx, typingStateUpdates(userID, isTyping, at))
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return errors.NotFound("Conversation", err)
		}
		return errors.Internal("Failed to update typing state", err)
	}
	return nil
}

func (r *firestoreConversationRepository) SetOnlineState(ctx context.Context, conversationID, userID string, isOnline bool, at time.Time) error {
	updates := []firestore.Update{
		{FieldPath: firestore.FieldPath{"participantState", userID, "isOnline"}, Value: isOnline},
	}
	if !isOnline {
		updates = append(updates, firestore.Update{
			FieldPath: firestore.FieldPath{"participantState", userID, "lastSeen"},
			Value:     at,
		})
	}

	_, err := r.conversations().Doc(conversationID).Update(ctx, updates)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return errors.NotFound("Conversation", err)
		}
		return errors.Internal("Failed to update online state", err)
	}
	return nil
}
