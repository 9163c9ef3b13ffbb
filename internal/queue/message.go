package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageVersion is the current job payload version.
const MessageVersion = 1

// Message asks a worker to run the pipeline for one call.
type Message struct {
	CallID     int64  `json:"callId"`
	AudioRef   string `json:"audioRef"`
	RequestID  string `json:"requestId"`
	EnqueuedAt string `json:"enqueuedAt"`
	Version    int    `json:"version"`
}

// NewMessage builds a job message stamped with a fresh request id.
func NewMessage(callID int64, audioRef string, now time.Time) Message {
	return Message{
		CallID:     callID,
		AudioRef:   audioRef,
		RequestID:  uuid.NewString(),
		EnqueuedAt: now.UTC().Format(time.RFC3339),
		Version:    MessageVersion,
	}
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
