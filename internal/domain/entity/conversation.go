package entity

import (
	"fmt"
	"time"
)

// ParticipantRole identifies which side of a conversation a user is on.
type ParticipantRole string

const (
	RoleBuyer  ParticipantRole = "buyer"
	RoleSeller ParticipantRole = "seller"
)

// ParticipantState is the per-user live state stored on the conversation.
// Typing state is best effort; clients apply a local timeout if a
// "stopped typing" update never arrives.
type ParticipantState struct {
	IsOnline        bool       `json:"is_online" firestore:"isOnline"`
	IsTyping        bool       `json:"is_typing" firestore:"isTyping"`
	TypingStartedAt *time.Time `json:"typing_started_at,omitempty" firestore:"typingStartedAt,omitempty"`
	LastSeen        *time.Time `json:"last_seen,omitempty" firestore:"lastSeen,omitempty"`
}

// UnreadCount holds one counter per role. Both fields are written at
// conversation creation, so mutation paths never have to nil-check the map
// they would otherwise lazily create.
type UnreadCount struct {
	Buyer  uint `json:"buyer" firestore:"buyer"`
	Seller uint `json:"seller" firestore:"seller"`
}

// Conversation pairs exactly one buyer with one seller. It is never hard
// deleted, only deactivated.
type Conversation struct {
	ID              string `json:"id" firestore:"id"`
	ConversationKey string `json:"conversation_key" firestore:"conversationKey"`
	BuyerID         string `json:"buyer_id" firestore:"buyerId"`
	SellerID        string `json:"seller_id" firestore:"sellerId"`

	// Participants and ParticipantPair are query fields: the array backs
	// membership queries, the sorted pair backs idempotent creation lookups.
	Participants    []string `json:"-" firestore:"participants"`
	ParticipantPair string   `json:"-" firestore:"participantPair"`

	LastMessage      string                      `json:"last_message,omitempty" firestore:"lastMessage,omitempty"`
	LastMessageAt    time.Time                   `json:"last_message_at" firestore:"lastMessageAt"`
	UnreadCount      UnreadCount                 `json:"unread_count" firestore:"unreadCount"`
	ParticipantState map[string]ParticipantState `json:"participant_state" firestore:"participantState"`
	Active           bool                        `json:"active" firestore:"active"`
	CreatedAt        time.Time                   `json:"created_at" firestore:"createdAt"`
	UpdatedAt        time.Time                   `json:"updated_at" firestore:"updatedAt"`
}

// ParticipantPairKey returns the order-independent pair key for two user ids.
func ParticipantPairKey(userA, userB string) string {
	lo, hi := userA, userB
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo + "_" + hi
}

// NewConversationKey derives the stable key for a buyer/seller pairing. The
// creation timestamp keeps the key unique when a pair is re-created after an
// earlier conversation was deactivated.
func NewConversationKey(buyerID, sellerID string, createdAt time.Time) string {
	return fmt.Sprintf("%s_%d", ParticipantPairKey(buyerID, sellerID), createdAt.Unix())
}

// RoleOf returns the role of userID in the conversation. ok is false for
// non-participants.
func (c *Conversation) RoleOf(userID string) (ParticipantRole, bool) {
	switch userID {
	case c.BuyerID:
		return RoleBuyer, true
	case c.SellerID:
		return RoleSeller, true
	}
	return "", false
}

// CounterpartOf returns the other participant's id.
func (c *Conversation) CounterpartOf(userID string) string {
	if userID == c.BuyerID {
		return c.SellerID
	}
	return c.BuyerID
}

func (c *Conversation) IsParticipant(userID string) bool {
	_, ok := c.RoleOf(userID)
	return ok
}
