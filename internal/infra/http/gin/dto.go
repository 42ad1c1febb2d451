package ginserver

import (
	"time"

	"campus-messaging/internal/domain/chat"
)

type conversationDTO struct {
	Key             string    `json:"key"`
	ListingID       string    `json:"listing_id"`
	ListingName     string    `json:"listing_name"`
	ParticipantID   string    `json:"participant_id"`
	ParticipantName string    `json:"participant_name"`
	LastMessageID   string    `json:"last_message_id"`
	LastSenderID    string    `json:"last_sender_id"`
	LastMessageBody string    `json:"last_message_body"`
	LastMessageAt   time.Time `json:"last_message_at"`
	UnreadCount     int       `json:"unread_count"`
}

type conversationList struct {
	Items []conversationDTO `json:"items"`
}

type messageDTO struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	ListingID  string    `json:"listing_id"`
	Body       string    `json:"body"`
	SentAt     time.Time `json:"sent_at"`
}

type messageList struct {
	Items []messageDTO `json:"items"`
}

func toConversationDTOs(conversations []chat.Conversation) []conversationDTO {
	out := make([]conversationDTO, 0, len(conversations))
	for _, conv := range conversations {
		out = append(out, conversationDTO{
			Key:             conv.Key.String(),
			ListingID:       conv.ListingID,
			ListingName:     conv.ListingName,
			ParticipantID:   conv.ParticipantID,
			ParticipantName: conv.ParticipantName,
			LastMessageID:   conv.LastMessageID,
			LastSenderID:    conv.LastSenderID,
			LastMessageBody: conv.LastMessageBody,
			LastMessageAt:   conv.LastMessageAt,
			UnreadCount:     conv.UnreadCount,
		})
	}
	return out
}

func toMessageDTO(m chat.Message) messageDTO {
	return messageDTO{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		ListingID:  m.ListingID,
		Body:       m.Body,
		SentAt:     m.SentAt,
	}
}

func toMessageDTOs(messages []chat.Message) []messageDTO {
	out := make([]messageDTO, 0, len(messages))
	for _, m := range messages {
		out = append(out, toMessageDTO(m))
	}
	return out
}
