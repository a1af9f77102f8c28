package usecase

import (
	"context"
	"encoding/json"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lokapasar/internal/domain/entity"
	"lokapasar/internal/domain/repository"
	"lokapasar/internal/infrastructure/ratelimit"
	"lokapasar/internal/infrastructure/websocket"
	"lokapasar/internal/mocks"
	"lokapasar/pkg/errors"
)

const (
	buyerID  = "buyer-1"
	sellerID = "seller-1"
)

func newTestUseCase(repo repository.ConversationRepository, broadcaster Broadcaster) *ChatUseCase {
	return NewChatUseCase(repo, broadcaster, ratelimit.NewRateLimiter())
}

func activeConversation() *entity.Conversation {
	now := time.Now()
	return &entity.Conversation{
		ID:              "conv-1",
		ConversationKey: entity.NewConversationKey(buyerID, sellerID, now),
		BuyerID:         buyerID,
		SellerID:        sellerID,
		Participants:    []string{buyerID, sellerID},
		ParticipantPair: entity.ParticipantPairKey(buyerID, sellerID),
		Active:          true,
		ParticipantState: map[string]entity.ParticipantState{
			buyerID:  {},
			sellerID: {},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// fakeBroadcaster records every fan-out so tests can assert exactly who was
// told what.
type fakeBroadcaster struct {
	firstConnection bool

	registered []*websocket.Client
	joins      []string
	leaves     []string
	userSends  []targetedSend
	roomSends  []roomSend
	errors     []string
}

type targetedSend struct {
	userID   string
	envelope websocket.Envelope
}

type roomSend struct {
	conversationID string
	excludeUserID  string
	envelope       websocket.Envelope
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{firstConnection: true}
}

func decodeEnvelope(payload []byte) websocket.Envelope {
	var env websocket.Envelope
	_ = json.Unmarshal(payload, &env)
	return env
}

func (f *fakeBroadcaster) Register(client *websocket.Client) bool {
	f.registered = append(f.registered, client)
	return f.firstConnection
}

func (f *fakeBroadcaster) JoinRoom(conversationID string, client *websocket.Client) {
	f.joins = append(f.joins, conversationID)
}

func (f *fakeBroadcaster) LeaveRoom(conversationID string, client *websocket.Client) {
	f.leaves = append(f.leaves, conversationID)
}

func (f *fakeBroadcaster) SendToUser(userID string, payload []byte) {
	f.userSends = append(f.userSends, targetedSend{userID: userID, envelope: decodeEnvelope(payload)})
}

func (f *fakeBroadcaster) SendToRoom(conversationID string, payload []byte, excludeUserID string) {
	f.roomSends = append(f.roomSends, roomSend{
		conversationID: conversationID,
		excludeUserID:  excludeUserID,
		envelope:       decodeEnvelope(payload),
	})
}

func (f *fakeBroadcaster) SendToClient(client *websocket.Client, payload []byte) {}

func (f *fakeBroadcaster) SendError(client *websocket.Client, message string) {
	f.errors = append(f.errors, message)
}

func (f *fakeBroadcaster) IsOnline(userID string) bool { return false }

func (f *fakeBroadcaster) userSendsTo(userID string) []websocket.Envelope {
	var envs []websocket.Envelope
	for _, send := range f.userSends {
		if send.userID == userID {
			envs = append(envs, send.envelope)
		}
	}
	return envs
}

func TestSendMessageDeliversAndFansOut(t *testing.T) {
	repo := new(mocks.ConversationRepositoryMock)
	broadcaster := newFakeBroadcaster()
	uc := newTestUseCase(repo, broadcaster)

	repo.On("GetByID", mock.Anything, "conv-1").Return(activeConversation(), nil).Once()
	repo.On("CreateMessage", mock.Anything, "conv-1", mock.AnythingOfType("*entity.Message")).Return(nil).Once()
	repo.On("ApplyMessageDelivery", mock.Anything, "conv-1", "hello there", mock.AnythingOfType("time.Time"), entity.RoleSeller).Return(nil).Once()

	message, err := uc.SendMessage(context.Background(), buyerID, SendMessageInput{
		ConversationID: "conv-1",
		Content:        "hello there",
	})
	require.NoError(t, err)

	assert.Equal(t, entity.RoleBuyer, message.SenderRole)
	assert.Equal(t, sellerID, message.RecipientID)
	assert.False(t, message.CreatedAt.IsZero())
	assert.False(t, message.IsRead)

	require.Len(t, broadcaster.roomSends, 1)
	assert.Equal(t, "conv-1", broadcaster.roomSends[0].conversationID)
	assert.Equal(t, websocket.EventNewMessage, broadcaster.roomSends[0].envelope.Type)
	assert.Empty(t, broadcaster.roomSends[0].excludeUserID, "the sender's own connections get new_message too")

	buyerEnvs := broadcaster.userSendsTo(buyerID)
	sellerEnvs := broadcaster.userSendsTo(sellerID)
	require.Len(t, buyerEnvs, 1)
	require.Len(t, sellerEnvs, 1)
	assert.Equal(t, websocket.EventChatUpdated, buyerEnvs[0].Type)
	assert.Equal(t, websocket.EventChatUpdated, sellerEnvs[0].Type)

	var updated websocket.ChatUpdatedData
	require.NoError(t, json.Unmarshal(sellerEnvs[0].Data, &updated))
	assert.Equal(t, uint(1), updated.Conversation.UnreadCount.Seller)
	assert.Equal(t, uint(0), updated.Conversation.UnreadCount.Buyer)
	assert.Equal(t, "hello there", updated.Conversation.LastMessage)

	repo.AssertExpectations(t)
}

func TestSendMessageSellerSideDerivesBuyerRecipient(t *testing.T) {
	repo := new(mocks.ConversationRepositoryMock)
	broadcaster := newFakeBroadcaster()
	uc := newTestUseCase(repo, broadcaster)

	repo.On("GetByID", mock.Anything, "conv-1").Return(activeConversation(), nil).Once()
	repo.On("CreateMessage", mock.Anything, "conv-1", mock.Anything).Return(nil).Once()
	repo.On("ApplyMessageDelivery", mock.Anything, "conv-1", mock.Anything, mock.Anything, entity.RoleBuyer).Return(nil).Once()

	message, err := uc.SendMessage(context.Background(), sellerID, SendMessageInput{
		ConversationID: "conv-1",
		Content:        "your order shipped",
	})
	require.NoError(t, err)

	assert.Equal(t, entity.RoleSeller, message.SenderRole)
	assert.Equal(t, buyerID, message.RecipientID)
	repo.AssertExpectations(t)
}

func TestSendMessageNonParticipantRejected(t *testing.T) {
	repo := new(mocks.ConversationRepositoryMock)
	broadcaster := newFakeBroadcaster()
	uc := newTestUseCase(repo, broadcaster)

	repo.On("GetByID", mock.Anything, "conv-1").Return(activeConversation(), nil).Once()

	_, err := uc.SendMessage(context.Background(), "stranger", SendMessageInput{
		ConversationID: "conv-1",
		Content:        "let me in",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, "FORBIDDEN"))

	repo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, broadcaster.roomSends)
	assert.Empty(t, broadcaster.userSends)
}

func TestSendMessageInactiveConversationRejected(t *testing.T) {
	repo := new(mocks.ConversationRepositoryMock)
	broadcaster := newFakeBroadcaster()
	uc := newTestUseCase(repo, broadcaster)

	conversation := activeConversation()
	conversation.Active = false
	repo.On("GetByID", mock.Anything, "conv-1").Return(conversation, nil).Once()

	_, err := uc.SendMessage(context.Background(), buyerID, SendMessageInput{
		ConversationID: "conv-1",
		Content:        "anyone there?",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, "FORBIDDEN"))
}

func TestSendMessagePersistFailureAborts(t *testing.T) {
	repo := new(mocks.ConversationRepositoryMock)
	broadcaster := newFakeBroadcaster()
	uc := newTestUseCase(repo, broadcaster)

	repo.On("GetByID", mock.Anything, "conv-1").Return(activeConversation(), nil).Once()
	repo.On("CreateMessage", mock.Anything, "conv-1", mock.Anything).Return(errors.Internal("store write failed", nil)).Once()

	_, err := uc.SendMessage(context.Background(), buyerID, SendMessageInput{
		ConversationID: "conv-1",
		Content:        "hello",
	})
	require.Error(t, err)

	repo.AssertNotCalled(t, "ApplyMessageDelivery", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, broadcaster.roomSends, "nothing is broadcast for an unpersisted message")
	assert.Empty(t, broadcaster.userSends)
}

func TestSendMessageUnreadAccumulatesPerMessage(t *testing.T) {
	repo := new(mocks.ConversationRepositoryMock)
	broadcaster := newFakeBroadcaster()
	uc := newTestUseCase(repo, broadcaster)

	repo.On("GetByID", mock.Anything, "conv-1").Return(activeConversation(), nil).Times(3)
	repo.On("CreateMessage", mock.Anything, "conv-1", mock.Anything).Return(nil).Times(3)
	repo.On("ApplyMessageDelivery", mock.Anything, "conv-1", mock.Anything, mock.Anything, entity.RoleSeller).Return(nil).Times(3)

	var previous time.Time
	for i := 0; i < 3; i++ {
		message, err := uc.SendMessage(context.Background(), buyerID, SendMessageInput{
			ConversationID: "conv-1",
			Content:        "msg",
		})
		require.NoError(t, err)
		assert.True(t, message.CreatedAt.After(previous), "each accepted message carries a strictly later timestamp")
		previous = message.CreatedAt
	}

	repo.AssertExpectations(t)
}

func TestSendMessageAttachmentSummaries(t *testing.T) {
	repo := new(mocks.ConversationRepositoryMock)
	broadcaster := newFakeBroadcaster()
	uc := newTestUseCase(repo, broadcaster)

	repo.On("GetByID", mock.Anything, "conv-1").Return(activeConversation(), nil).Once()
	repo.On("CreateMessage", mock.Anything, "conv-1", mock.Anything).Return(nil).Once()
	repo.On("ApplyMessageDelivery", mock.Anything, "conv-1", "[image]", mock.Anything, entity.RoleSeller).Return(nil).Once()

	_, err := uc.SendMessage(context.Background(), buyerID, SendMessageInput{
		ConversationID: "conv-1",
		Type:           entity.MessageTypeImage,
		Attachment:     &entity.Attachment{URL: "https://cdn.example/img.png"},
	})
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestMarkReadNotifiesCounterpartOnce(t *testing.T) {
	repo := new(mocks.ConversationRepositoryMock)
	broadcaster := newFakeBroadcaster()
	uc := newTestUseCase(repo, broadcaster)

	repo.On("GetByID", mock.Anything, "conv-1").Return(activeConversation(), nil).Twice()
	repo.On("MarkMessagesRead", mock.Anything, "conv-1", sellerID, mock.Anything).Return(4, nil).Once()
	repo.On("MarkMessagesRead", mock.Anything, "conv-1", sellerID, mock.Anything).Return(0, nil).Once()
	repo.On("ResetUnread", mock.Anything, "conv-1", entity.RoleSeller).Return(nil).Twice()

	require.NoError(t, uc.MarkRead(context.Background(), sellerID, "conv-1"))

	buyerEnvs := broadcaster.userSendsTo(buyerID)
	require.Len(t, buyerEnvs, 1)
	assert.Equal(t, websocket.EventMessagesRead, buyerEnvs[0].Type)
	assert.Empty(t, broadcaster.userSendsTo(sellerID), "the reader is not notified")

	var data websocket.MessagesReadData
	require.NoError(t, json.Unmarshal(buyerEnvs[0].Data, &data))
	assert.Equal(t, sellerID, data.ReadBy)

	// A second call with nothing left to read stays silent.
	require.NoError(t, uc.MarkRead(context.Background(), sellerID, "conv-1"))
	assert.Len(t, broadcaster.userSendsTo(buyerID), 1)

	repo.AssertExpectations(t)
}

func TestMarkReadNonParticipantRejected(t *testing.T) {
	repo := new(mocks.ConversationRepositoryMock)
	broadcaster := newFakeBroadcaster()
	uc := newTestUseCase(repo, broadcaster)

	repo.On("GetByID", mock.Anything, "conv-1").Return(activeConversation(), nil).Once()

	err := uc.MarkRead(context.Background(), "stranger", "conv-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, "FORBIDDEN"))
	repo.AssertNotCalled(t, "MarkMessagesRead", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSetTypingBroadcastsToOtherSide(t *testing.T) {
	repo := new(mocks.ConversationRepositoryMock)
	broadcaster := newFakeBroadcaster()
	uc := newTestUseCase(repo, broadcaster)

	repo.On("GetByID", mock.Anything, "conv-1").Return(activeConversation(), nil).Once()
	repo.On("SetTypingState", mock.Anything, "conv-1", buyerID, true, mock.Anything).Return(nil).Once()

	require.NoError(t, uc.SetTyping(context.Background(), buyerID, "conv-1", true))

	require.Len(t, broadcaster.roomSends, 1)
	assert.Equal(t, websocket.EventUserTyping, broadcaster.roomSends[0].envelope.Type)
	assert.Equal(t, buyerID, broadcaster.roomSends[0].excludeUserID, "the typist never sees their own indicator")
	repo.AssertExpectations(t)
}

func TestSetTypingSurvivesStateWriteFailure(t *testing.T) {
	repo := new(mocks.ConversationRepositoryMock)
	broadcaster := newFakeBroadcaster()
	uc := newTestUseCase(repo, broadcaster)

	repo.On("GetByID", mock.Anything, "conv-1").Return(activeConversation(), nil).Once()
	repo.On("SetTypingState", mock.Anything, "conv-1", buyerID, true, mock.Anything).Return(errors.Internal("store write failed", nil)).Once()

	require.NoError(t, uc.SetTyping(context.Background(), buyerID, "conv-1", true))
	assert.Len(t, broadcaster.roomSends, 1, "typing is best effort, the broadcast still happens")
}

func TestConnectJoinsRoomsAndAnnouncesOnce(t *testing.T) {
	repo := new(mocks.ConversationRepositoryMock)
	broadcaster := newFakeBroadcaster()
	uc := newTestUseCase(repo, broadcaster)

	conversations := []*entity.Conversation{activeConversation()}
	repo.On("ListActiveByUserID", mock.Anything, buyerID, 0, 0).Return(conversations, int64(1), nil).Twice()
	repo.On("SetOnlineState", mock.Anything, "conv-1", buyerID, true, mock.Anything).Return(nil).Once()

	client := &websocket.Client{ConnectionID: "conn-a", UserID: buyerID, Send: make(chan []byte, 8)}
	uc.Connect(context.Background(), client)

	assert.Equal(t, []string{"conv-1"}, broadcaster.joins)

	sellerEnvs := broadcaster.userSendsTo(sellerID)
	require.Len(t, sellerEnvs, 1)
	assert.Equal(t, websocket.EventUserStatus, sellerEnvs[0].Type)

	var status websocket.UserStatusData
	require.NoError(t, json.Unmarshal(sellerEnvs[0].Data, &status))
	assert.Equal(t, buyerID, status.UserID)
	assert.True(t, status.IsOnline)
	assert.Nil(t, status.LastSeen)

	// A second connection for an already-online user joins rooms silently.
	broadcaster.firstConnection = false
	second := &websocket.Client{ConnectionID: "conn-b", UserID: buyerID, Send: make(chan []byte, 8)}
	uc.Connect(context.Background(), second)

	assert.Len(t, broadcaster.userSendsTo(sellerID), 1, "no repeat announcement without a transition")
	repo.AssertExpectations(t)
}

func TestOnDisconnectAnnouncesOnlyOnLastConnection(t *testing.T) {
	repo := new(mocks.ConversationRepositoryMock)
	broadcaster := newFakeBroadcaster()
	uc := newTestUseCase(repo, broadcaster)

	client := &websocket.Client{ConnectionID: "conn-a", UserID: buyerID, Send: make(chan []byte, 8)}

	uc.OnDisconnect(context.Background(), client, false)
	assert.Empty(t, broadcaster.userSends)
	repo.AssertNotCalled(t, "ListActiveByUserID", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	repo.On("ListActiveByUserID", mock.Anything, buyerID, 0, 0).Return([]*entity.Conversation{activeConversation()}, int64(1), nil).Once()
	repo.On("SetOnlineState", mock.Anything, "conv-1", buyerID, false, mock.Anything).Return(nil).Once()

	uc.OnDisconnect(context.Background(), client, true)

	sellerEnvs := broadcaster.userSendsTo(sellerID)
	require.Len(t, sellerEnvs, 1)

	var status websocket.UserStatusData
	require.NoError(t, json.Unmarshal(sellerEnvs[0].Data, &status))
	assert.False(t, status.IsOnline)
	require.NotNil(t, status.LastSeen, "offline announcements carry a last-seen time")
	repo.AssertExpectations(t)
}

func TestCreateConversationIdempotentPerPair(t *testing.T) {
	repo := new(mocks.ConversationRepositoryMock)
	broadcaster := newFakeBroadcaster()
	uc := newTestUseCase(repo, broadcaster)

	existing := activeConversation()
	repo.On("FindOrCreateActive", mock.Anything, mock.AnythingOfType("*entity.Conversation")).Return(existing, false, nil).Once()

	conversation, err := uc.CreateConversation(context.Background(), buyerID, CreateConversationInput{
		SellerID:       sellerID,
		InitialMessage: "hello again",
	})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, conversation.ID)
	repo.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, broadcaster.roomSends, "reusing a conversation does not resend the opener")
}

func TestCreateConversationNewPair(t *testing.T) {
	repo := new(mocks.ConversationRepositoryMock)
	broadcaster := newFakeBroadcaster()
	uc := newTestUseCase(repo, broadcaster)

	created := activeConversation()
	repo.On("FindOrCreateActive", mock.Anything, mock.MatchedBy(func(c *entity.Conversation) bool {
		return c.BuyerID == buyerID && c.SellerID == sellerID
	})).Return(created, true, nil).Once()

	conversation, err := uc.CreateConversation(context.Background(), buyerID, CreateConversationInput{SellerID: sellerID})
	require.NoError(t, err)
	assert.Equal(t, buyerID, conversation.BuyerID)
	assert.Equal(t, sellerID, conversation.SellerID)
	repo.AssertExpectations(t)
}

func TestCreateConversationWithSelfRejected(t *testing.T) {
	repo := new(mocks.ConversationRepositoryMock)
	broadcaster := newFakeBroadcaster()
	uc := newTestUseCase(repo, broadcaster)

	_, err := uc.CreateConversation(context.Background(), buyerID, CreateConversationInput{SellerID: buyerID})
	require.Error(t, err)
	assert.True(t, errors.Is(err, "VALIDATION_FAILED"))
}

func TestJoinConversationRevalidatesEveryTime(t *testing.T) {
	repo := new(mocks.ConversationRepositoryMock)
	broadcaster := newFakeBroadcaster()
	uc := newTestUseCase(repo, broadcaster)

	client := &websocket.Client{ConnectionID: "conn-a", UserID: buyerID, Send: make(chan []byte, 8)}

	repo.On("GetByID", mock.Anything, "conv-1").Return(activeConversation(), nil).Once()
	require.NoError(t, uc.JoinConversation(context.Background(), client, "conv-1"))
	assert.Equal(t, []string{"conv-1"}, broadcaster.joins)

	// The conversation was deactivated between joins; the cached success
	// from the first join must not carry over.
	deactivated := activeConversation()
	deactivated.Active = false
	repo.On("GetByID", mock.Anything, "conv-1").Return(deactivated, nil).Once()

	err := uc.JoinConversation(context.Background(), client, "conv-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, "FORBIDDEN"))
	assert.Len(t, broadcaster.joins, 1)
}

func TestBuyerSellerConversationFlow(t *testing.T) {
	repo := new(mocks.ConversationRepositoryMock)
	broadcaster := newFakeBroadcaster()
	uc := newTestUseCase(repo, broadcaster)

	conversation := activeConversation()
	repo.On("FindOrCreateActive", mock.Anything, mock.Anything).Return(conversation, true, nil).Once()
	repo.On("GetByID", mock.Anything, "conv-1").Return(conversation, nil).Twice()
	repo.On("CreateMessage", mock.Anything, "conv-1", mock.Anything).Return(nil).Once()
	repo.On("ApplyMessageDelivery", mock.Anything, "conv-1", "Hello", mock.Anything, entity.RoleSeller).Return(nil).Once()
	repo.On("MarkMessagesRead", mock.Anything, "conv-1", sellerID, mock.Anything).Return(1, nil).Once()
	repo.On("ResetUnread", mock.Anything, "conv-1", entity.RoleSeller).Return(nil).Once()

	started, err := uc.CreateConversation(context.Background(), buyerID, CreateConversationInput{SellerID: sellerID})
	require.NoError(t, err)

	_, err = uc.SendMessage(context.Background(), buyerID, SendMessageInput{
		ConversationID: started.ID,
		Content:        "Hello",
	})
	require.NoError(t, err)

	require.Len(t, broadcaster.roomSends, 1)
	assert.Equal(t, websocket.EventNewMessage, broadcaster.roomSends[0].envelope.Type)

	sellerEnvs := broadcaster.userSendsTo(sellerID)
	require.Len(t, sellerEnvs, 1)
	require.Equal(t, websocket.EventChatUpdated, sellerEnvs[0].Type)
	var updated websocket.ChatUpdatedData
	require.NoError(t, json.Unmarshal(sellerEnvs[0].Data, &updated))
	assert.Equal(t, uint(1), updated.Conversation.UnreadCount.Seller)

	require.NoError(t, uc.MarkRead(context.Background(), sellerID, started.ID))

	buyerEnvs := broadcaster.userSendsTo(buyerID)
	require.Len(t, buyerEnvs, 2, "chat_updated from the send, then messages_read")
	assert.Equal(t, websocket.EventMessagesRead, buyerEnvs[1].Type)
	var read websocket.MessagesReadData
	require.NoError(t, json.Unmarshal(buyerEnvs[1].Data, &read))
	assert.Equal(t, sellerID, read.ReadBy)

	repo.AssertExpectations(t)
}

func TestNewChatUseCaseSpawnsNothing(t *testing.T) {
	before := runtime.NumGoroutine()
	for i := 0; i < 8; i++ {
		newTestUseCase(new(mocks.ConversationRepositoryMock), newFakeBroadcaster())
	}
	assert.Equal(t, before, runtime.NumGoroutine())
}

func TestJoinConversationForbiddenForOutsider(t *testing.T) {
	repo := new(mocks.ConversationRepositoryMock)
	broadcaster := newFakeBroadcaster()
	uc := newTestUseCase(repo, broadcaster)

	repo.On("GetByID", mock.Anything, "conv-1").Return(activeConversation(), nil).Once()

	client := &websocket.Client{ConnectionID: "conn-a", UserID: "stranger", Send: make(chan []byte, 8)}
	err := uc.JoinConversation(context.Background(), client, "conv-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, "FORBIDDEN"))
	assert.Empty(t, broadcaster.joins)
}

func TestHandleEventRejectsUnknownType(t *testing.T) {
	repo := new(mocks.ConversationRepositoryMock)
	broadcaster := newFakeBroadcaster()
	uc := newTestUseCase(repo, broadcaster)

	client := &websocket.Client{ConnectionID: "conn-a", UserID: buyerID, Send: make(chan []byte, 8)}
	uc.HandleEvent(context.Background(), client, &websocket.Envelope{Type: "make_admin"})

	require.Len(t, broadcaster.errors, 1)
	assert.Equal(t, "unknown event type", broadcaster.errors[0])
}

func TestHandleEventForgedRoleHasNoEffect(t *testing.T) {
	repo := new(mocks.ConversationRepositoryMock)
	broadcaster := newFakeBroadcaster()
	uc := newTestUseCase(repo, broadcaster)

	repo.On("GetByID", mock.Anything, "conv-1").Return(activeConversation(), nil).Once()
	repo.On("CreateMessage", mock.Anything, "conv-1", mock.Anything).Run(func(args mock.Arguments) {
		message := args.Get(2).(*entity.Message)
		assert.Equal(t, entity.RoleBuyer, message.SenderRole, "role comes from the conversation, not the payload")
		assert.Equal(t, sellerID, message.RecipientID)
	}).Return(nil).Once()
	repo.On("ApplyMessageDelivery", mock.Anything, "conv-1", mock.Anything, mock.Anything, entity.RoleSeller).Return(nil).Once()

	// The payload claims a seller role and a recipient of the sender's own
	// choosing. Both fields are unknown to the wire format and ignored.
	client := &websocket.Client{ConnectionID: "conn-a", UserID: buyerID, Send: make(chan []byte, 8)}
	uc.HandleEvent(context.Background(), client, &websocket.Envelope{
		Type: websocket.EventSendMessage,
		Data: json.RawMessage(`{"conversation_id":"conv-1","content":"hi","sender_role":"seller","recipient_id":"buyer-1"}`),
	})

	assert.Empty(t, broadcaster.errors)
	repo.AssertExpectations(t)
}
