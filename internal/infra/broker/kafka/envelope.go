package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"campus-messaging/internal/domain/chat"
)

const (
	EventTypeMessageInserted = "message.inserted.v1"
	specVersion              = "1.0"
	contentTypeJSON          = "application/json"
)

var ErrUnexpectedEvent = errors.New("kafka: unexpected event type")

// Envelope is the CloudEvents JSON wrapper of every published record.
type Envelope struct {
	SpecVersion     string          `json:"specversion"`
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Source          string          `json:"source"`
	Time            time.Time       `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	Data            json.RawMessage `json:"data"`
}

type messagePayload struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	ListingID  string    `json:"listing_id"`
	Body       string    `json:"body"`
	SentAt     time.Time `json:"sent_at"`
	ReadCount  int       `json:"read_count"`
}

// EncodeMessage wraps a stored message and returns the payload and record headers.
func EncodeMessage(m chat.Message, source string, now time.Time) ([]byte, map[string]string, error) {
	data, err := json.Marshal(messagePayload{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		ListingID:  m.ListingID,
		Body:       m.Body,
		SentAt:     m.SentAt.UTC(),
		ReadCount:  m.ReadCount,
	})
	if err != nil {
		return nil, nil, err
	}
	payload, err := json.Marshal(Envelope{
		SpecVersion:     specVersion,
		ID:              uuid.NewString(),
		Type:            EventTypeMessageInserted,
		Source:          source,
		Time:            now.UTC(),
		DataContentType: contentTypeJSON,
		Data:            data,
	})
	if err != nil {
		return nil, nil, err
	}
	headers := map[string]string{
		"content-type": "application/cloudevents+json",
		"ce-type":      EventTypeMessageInserted,
	}
	return payload, headers, nil
}

// DecodeMessage unwraps a message.inserted envelope.
func DecodeMessage(payload []byte) (chat.Message, Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return chat.Message{}, Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type != EventTypeMessageInserted {
		return chat.Message{}, env, fmt.Errorf("%w: %q", ErrUnexpectedEvent, env.Type)
	}
	var data messagePayload
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return chat.Message{}, env, fmt.Errorf("decode message: %w", err)
	}
	if data.ID == "" {
		return chat.Message{}, env, errors.New("decode message: missing id")
	}
	return chat.Message{
		ID:         data.ID,
		SenderID:   data.SenderID,
		ReceiverID: data.ReceiverID,
		ListingID:  data.ListingID,
		Body:       data.Body,
		SentAt:     data.SentAt.UTC(),
		ReadCount:  data.ReadCount,
	}, env, nil
}
