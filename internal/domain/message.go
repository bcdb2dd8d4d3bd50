package domain

import "time"

type MessageKind string

const (
	MessageKindText     MessageKind = "text"
	MessageKindImage    MessageKind = "image"
	MessageKindAudio    MessageKind = "audio"
	MessageKindDocument MessageKind = "document"
)

// Message is the canonical, gateway-agnostic representation of one inbound
// chat event. ID is globally unique per event and is reused as the job id so
// redelivery of the same event is admitted at most once downstream.
type Message struct {
	ID         string      `json:"id"`
	SenderID   string      `json:"sender_id"`
	Kind       MessageKind `json:"kind"`
	Text       string      `json:"text"`
	MediaRef   string      `json:"media_ref,omitempty"`
	ReceivedAt time.Time   `json:"received_at"`
}
