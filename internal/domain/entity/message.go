package entity

import "time"

const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
)

// Attachment describes an uploaded file referenced by an image or file
// message.
type Attachment struct {
	URL      string `json:"url" firestore:"url"`
	Name     string `json:"name,omitempty" firestore:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty" firestore:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty" firestore:"size,omitempty"`
}

// Message is immutable once created except for the read flag. SenderRole and
// RecipientID are always derived from the conversation's participant ids on
// the server, never taken from client input.
type Message struct {
	ID              string          `json:"id" firestore:"id"`
	ConversationKey string          `json:"conversation_key" firestore:"conversationKey"`
	SenderID        string          `json:"sender_id" firestore:"senderId"`
	SenderRole      ParticipantRole `json:"sender_role" firestore:"senderRole"`
	RecipientID     string          `json:"recipient_id" firestore:"recipientId"`
	Type            string          `json:"type" firestore:"type"`
	Content         string          `json:"content" firestore:"content"`
	Attachment      *Attachment     `json:"attachment,omitempty" firestore:"attachment,omitempty"`
	IsRead          bool            `json:"is_read" firestore:"isRead"`
	ReadAt          *time.Time      `json:"read_at,omitempty" firestore:"readAt,omitempty"`
	CreatedAt       time.Time       `json:"created_at" firestore:"createdAt"`
}

func ValidMessageType(t string) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile:
		return true
	}
	return false
}
