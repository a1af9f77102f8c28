package usecase

import (
	"context"
	stderrors "errors"
	"time"

	"lokapasar/internal/domain/entity"
	"lokapasar/internal/domain/repository"
	"lokapasar/internal/infrastructure/ratelimit"
	ws "lokapasar/internal/infrastructure/websocket"
	"lokapasar/pkg/errors"
	"lokapasar/pkg/logger"
)

// Broadcaster is the fan-out surface the usecase needs from the websocket
// manager. Kept as an interface so delivery can be faked in tests.
type Broadcaster interface {
	Register(client *ws.Client) bool
	JoinRoom(conversationID string, client *ws.Client)
	LeaveRoom(conversationID string, client *ws.Client)
	SendToUser(userID string, payload []byte)
	SendToRoom(conversationID string, payload []byte, excludeUserID string)
	SendToClient(client *ws.Client, payload []byte)
	SendError(client *ws.Client, message string)
	IsOnline(userID string) bool
}

type ChatUseCase struct {
	conversationRepo repository.ConversationRepository
	broadcaster      Broadcaster
	rateLimiter      *ratelimit.RateLimiter
}

func NewChatUseCase(conversationRepo repository.ConversationRepository, broadcaster Broadcaster, rateLimiter *ratelimit.RateLimiter) *ChatUseCase {
	return &ChatUseCase{
		conversationRepo: conversationRepo,
		broadcaster:      broadcaster,
		rateLimiter:      rateLimiter,
	}
}

type CreateConversationInput struct {
	SellerID       string
	InitialMessage string
}

type SendMessageInput struct {
	ConversationID string
	Content        string
	Type           string
	Attachment     *entity.Attachment
}

// CreateConversation pairs a buyer with a seller. Repeated requests for the
// same pair return the existing active conversation instead of creating a
// duplicate.
func (uc *ChatUseCase) CreateConversation(ctx context.Context, buyerID string, input CreateConversationInput) (*entity.Conversation, error) {
	allowed, _ := uc.rateLimiter.Allow(buyerID, "create_conversation")
	if !allowed {
		return nil, errors.TooManyRequests("Too many conversation requests, slow down")
	}

	if buyerID == input.SellerID {
		return nil, errors.BadRequest("You cannot start a conversation with yourself", nil)
	}
	if input.SellerID == "" {
		return nil, errors.BadRequest("seller_id is required", nil)
	}

	conversation, created, err := uc.conversationRepo.FindOrCreateActive(ctx, &entity.Conversation{
		BuyerID:  buyerID,
		SellerID: input.SellerID,
	})
	if err != nil {
		return nil, err
	}

	if created && input.InitialMessage != "" {
		if _, err := uc.SendMessage(ctx, buyerID, SendMessageInput{
			ConversationID: conversation.ID,
			Content:        input.InitialMessage,
			Type:           entity.MessageTypeText,
		}); err != nil {
			logger.Warn("CreateConversation: initial message for %s failed: %v", conversation.ID, err)
		}
	}

	return conversation, nil
}

func (uc *ChatUseCase) GetConversation(ctx context.Context, userID, conversationID string) (*entity.Conversation, error) {
	conversation, err := uc.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.IsParticipant(userID) {
		return nil, errors.Forbidden("User is not a participant in this conversation", nil)
	}
	return conversation, nil
}

func (uc *ChatUseCase) ListConversations(ctx context.Context, userID string, limit, offset int) ([]*entity.Conversation, int64, error) {
	return uc.conversationRepo.ListActiveByUserID(ctx, userID, limit, offset)
}

func (uc *ChatUseCase) ListMessages(ctx context.Context, userID, conversationID string, limit, offset int) ([]*entity.Message, int64, error) {
	if _, err := uc.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, 0, err
	}
	return uc.conversationRepo.ListMessages(ctx, conversationID, limit, offset)
}

// DeactivateConversation archives a conversation. Records are never hard
// deleted.
func (uc *ChatUseCase) DeactivateConversation(ctx context.Context, userID, conversationID string) error {
	if _, err := uc.GetConversation(ctx, userID, conversationID); err != nil {
		return err
	}
	return uc.conversationRepo.Deactivate(ctx, conversationID)
}

// SendMessage persists a message and fans it out. The sender role and
// recipient are derived from the conversation's participant assignment; a
// forged role in the client payload has no effect. Persistence failure aborts
// the whole operation, so no broadcast ever references an unpersisted
// message. A fan-out failure after persistence is logged only: the stored
// record is the durable source of truth and will appear on the next fetch.
func (uc *ChatUseCase) SendMessage(ctx context.Context, senderID string, input SendMessageInput) (*entity.Message, error) {
	allowed, _ := uc.rateLimiter.Allow(senderID, "send_message")
	if !allowed {
		return nil, errors.TooManyRequests("You are sending messages too quickly")
	}

	conversation, err := uc.conversationRepo.GetByID(ctx, input.ConversationID)
	if err != nil {
		return nil, err
	}

	senderRole, ok := conversation.RoleOf(senderID)
	if !ok {
		return nil, errors.Forbidden("User is not a participant in this conversation", nil)
	}
	if !conversation.Active {
		return nil, errors.Forbidden("Conversation is no longer active", nil)
	}

	recipientID := conversation.CounterpartOf(senderID)
	recipientRole := entity.RoleBuyer
	if senderRole == entity.RoleBuyer {
		recipientRole = entity.RoleSeller
	}

	messageType := input.Type
	if messageType == "" {
		messageType = entity.MessageTypeText
	}
	if !entity.ValidMessageType(messageType) {
		return nil, errors.BadRequest("unsupported message type", nil)
	}

	now := time.Now()
	message := &entity.Message{
		ConversationKey: conversation.ConversationKey,
		SenderID:        senderID,
		SenderRole:      senderRole,
		RecipientID:     recipientID,
		Type:            messageType,
		Content:         input.Content,
		Attachment:      input.Attachment,
		CreatedAt:       now,
	}

	if err := uc.conversationRepo.CreateMessage(ctx, conversation.ID, message); err != nil {
		return nil, err
	}

	summary := messageSummary(message)
	if err := uc.conversationRepo.ApplyMessageDelivery(ctx, conversation.ID, summary, now, recipientRole); err != nil {
		return nil, err
	}

	uc.broadcastDelivery(conversation, message, summary, now, recipientRole)

	return message, nil
}

func (uc *ChatUseCase) broadcastDelivery(conversation *entity.Conversation, message *entity.Message, summary string, at time.Time, recipientRole entity.ParticipantRole) {
	payload, err := ws.MarshalEvent(ws.EventNewMessage, ws.NewMessageData{
		ConversationID: conversation.ID,
		Message:        message,
	})
	if err != nil {
		logger.Error("SendMessage: marshal new_message for %s: %v", conversation.ID, err)
		return
	}
	uc.broadcaster.SendToRoom(conversation.ID, payload, "")

	// Snapshot for conversation-list views. The counters here mirror the
	// atomic update just applied; the store stays authoritative.
	conversation.LastMessage = summary
	conversation.LastMessageAt = at
	conversation.UpdatedAt = at
	if recipientRole == entity.RoleBuyer {
		conversation.UnreadCount.Buyer++
	} else {
		conversation.UnreadCount.Seller++
	}

	updated, err := ws.MarshalEvent(ws.EventChatUpdated, ws.ChatUpdatedData{Conversation: conversation})
	if err != nil {
		logger.Error("SendMessage: marshal chat_updated for %s: %v", conversation.ID, err)
		return
	}
	uc.broadcaster.SendToUser(conversation.BuyerID, updated)
	uc.broadcaster.SendToUser(conversation.SellerID, updated)
}

// MarkRead flags every unread message addressed to userID, zeroes the user's
// unread counter, and tells the counterpart that their messages were seen.
// Calling it again with nothing new to read is a no-op beyond the redundant
// zero-reset: no second messages_read event is emitted.
func (uc *ChatUseCase) MarkRead(ctx context.Context, userID, conversationID string) error {
	conversation, err := uc.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}

	role, ok := conversation.RoleOf(userID)
	if !ok {
		return errors.Forbidden("User is not a participant in this conversation", nil)
	}

	now := time.Now()
	marked, err := uc.conversationRepo.MarkMessagesRead(ctx, conversationID, userID, now)
	if err != nil {
		return err
	}

	if err := uc.conversationRepo.ResetUnread(ctx, conversationID, role); err != nil {
		return err
	}

	if marked == 0 {
		return nil
	}

	payload, err := ws.MarshalEvent(ws.EventMessagesRead, ws.MessagesReadData{
		ConversationID: conversationID,
		ReadBy:         userID,
	})
	if err != nil {
		logger.Error("MarkRead: marshal messages_read for %s: %v", conversationID, err)
		return nil
	}
	uc.broadcaster.SendToUser(conversation.CounterpartOf(userID), payload)

	return nil
}

// SetTyping broadcasts typing state to the other side of the conversation.
// Everything here is best effort: a failed store write is logged and the
// broadcast still goes out, and clients apply their own timeout if a
// stopped-typing update never arrives.
func (uc *ChatUseCase) SetTyping(ctx context.Context, userID, conversationID string, isTyping bool) error {
	allowed, _ := uc.rateLimiter.Allow(userID, "typing")
	if !allowed {
		return nil
	}

	conversation, err := uc.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conversation.IsParticipant(userID) {
		return errors.Forbidden("User is not a participant in this conversation", nil)
	}

	if err := uc.conversationRepo.SetTypingState(ctx, conversationID, userID, isTyping, time.Now()); err != nil {
		logger.Warn("SetTyping: state write for %s failed: %v", conversationID, err)
	}

	payload, err := ws.MarshalEvent(ws.EventUserTyping, ws.UserTypingData{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
	})
	if err != nil {
		return nil
	}
	uc.broadcaster.SendToRoom(conversationID, payload, userID)

	return nil
}

// Connect registers a fresh, authenticated connection: the client joins its
// personal channel and every active conversation room, and an online status
// is announced if this is the user's first live connection.
func (uc *ChatUseCase) Connect(ctx context.Context, client *ws.Client) {
	first := uc.broadcaster.Register(client)

	conversations, _, err := uc.conversationRepo.ListActiveByUserID(ctx, client.UserID, 0, 0)
	if err != nil {
		logger.Error("Connect: listing conversations for %s: %v", client.UserID, err)
		conversations = nil
	}
	for _, conversation := range conversations {
		uc.broadcaster.JoinRoom(conversation.ID, client)
	}

	if first {
		uc.announcePresence(ctx, client.UserID, true, conversations)
	}
}

// OnDisconnect implements websocket.EventHandler. In-flight work for the
// connection finishes on its own; only the final 1->0 transition triggers an
// offline announcement.
func (uc *ChatUseCase) OnDisconnect(ctx context.Context, client *ws.Client, wasLastConnection bool) {
	if !wasLastConnection {
		return
	}
	uc.announcePresence(ctx, client.UserID, false, nil)
}

// AnnouncePresence publishes an online/offline transition to every
// counterpart sharing a conversation with the user. Callers must invoke it
// only on genuine 0->1 / 1->0 transitions.
func (uc *ChatUseCase) AnnouncePresence(ctx context.Context, userID string, isOnline bool) {
	uc.announcePresence(ctx, userID, isOnline, nil)
}

func (uc *ChatUseCase) announcePresence(ctx context.Context, userID string, isOnline bool, conversations []*entity.Conversation) {
	if conversations == nil {
		var err error
		conversations, _, err = uc.conversationRepo.ListActiveByUserID(ctx, userID, 0, 0)
		if err != nil {
			logger.Error("announcePresence: listing conversations for %s: %v", userID, err)
			return
		}
	}

	now := time.Now()
	status := ws.UserStatusData{
		UserID:   userID,
		IsOnline: isOnline,
	}
	if !isOnline {
		status.LastSeen = &now
	}

	payload, err := ws.MarshalEvent(ws.EventUserStatus, status)
	if err != nil {
		logger.Error("announcePresence: marshal user_status for %s: %v", userID, err)
		return
	}

	for _, conversation := range conversations {
		if err := uc.conversationRepo.SetOnlineState(ctx, conversation.ID, userID, isOnline, now); err != nil {
			logger.Warn("announcePresence: state write for %s failed: %v", conversation.ID, err)
		}
		uc.broadcaster.SendToUser(conversation.CounterpartOf(userID), payload)
	}
}

// JoinConversation re-validates membership before placing the connection in
// the room. The check runs on every join request; cached membership from an
// earlier request is never trusted.
func (uc *ChatUseCase) JoinConversation(ctx context.Context, client *ws.Client, conversationID string) error {
	conversation, err := uc.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conversation.IsParticipant(client.UserID) {
		return errors.Forbidden("User is not a participant in this conversation", nil)
	}
	if !conversation.Active {
		return errors.Forbidden("Conversation is no longer active", nil)
	}

	uc.broadcaster.JoinRoom(conversationID, client)
	return nil
}

func (uc *ChatUseCase) LeaveConversation(client *ws.Client, conversationID string) {
	uc.broadcaster.LeaveRoom(conversationID, client)
}

// HandleEvent implements websocket.EventHandler: decode, authorize, act.
// Failures are scoped to the single event; the connection stays open.
func (uc *ChatUseCase) HandleEvent(ctx context.Context, client *ws.Client, envelope *ws.Envelope) {
	decoded, err := ws.DecodeClientEvent(envelope)
	if err != nil {
		uc.broadcaster.SendError(client, errorMessage(err))
		return
	}

	switch data := decoded.(type) {
	case *ws.JoinChatData:
		if err := uc.JoinConversation(ctx, client, data.ConversationID); err != nil {
			uc.broadcaster.SendError(client, errorMessage(err))
		}

	case *ws.LeaveChatData:
		uc.LeaveConversation(client, data.ConversationID)

	case *ws.SendMessageData:
		_, err := uc.SendMessage(ctx, client.UserID, SendMessageInput{
			ConversationID: data.ConversationID,
			Content:        data.Content,
			Type:           data.Type,
			Attachment:     data.Attachment,
		})
		if err != nil {
			uc.broadcaster.SendError(client, errorMessage(err))
		}

	case *ws.TypingData:
		if err := uc.SetTyping(ctx, client.UserID, data.ConversationID, data.IsTyping); err != nil {
			uc.broadcaster.SendError(client, errorMessage(err))
		}

	case *ws.MarkReadData:
		if err := uc.MarkRead(ctx, client.UserID, data.ConversationID); err != nil {
			uc.broadcaster.SendError(client, errorMessage(err))
		}
	}
}

func errorMessage(err error) string {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}

func messageSummary(message *entity.Message) string {
	switch message.Type {
	case entity.MessageTypeImage:
		return "[image]"
	case entity.MessageTypeFile:
		return "[file]"
	}

	const maxSummary = 120
	runes := []rune(message.Content)
	if len(runes) > maxSummary {
		return string(runes[:maxSummary])
	}
	return message.Content
}
