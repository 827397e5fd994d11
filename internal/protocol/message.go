// Package protocol defines the messages exchanged between a dApp and a paired wallet over the relay.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message types for dApp <-> wallet communication
const (
	MessageTypePermissionRequest   = "permission_request"
	MessageTypePermissionResponse  = "permission_response"
	MessageTypeSignPayloadRequest  = "sign_payload_request"
	MessageTypeSignPayloadResponse = "sign_payload_response"
	MessageTypeDisconnect          = "disconnect"
	MessageTypeAcknowledge         = "acknowledge"
	MessageTypeError               = "error"
)

// Error types a wallet may answer with
const (
	ErrorTypeAborted         = "ABORTED_ERROR"
	ErrorTypeNotGranted      = "NOT_GRANTED_ERROR"
	ErrorTypeNoActiveAccount = "NO_ACTIVE_ACCOUNT_ERROR"
	ErrorTypeUnknown         = "UNKNOWN_ERROR"
)

// Message is the envelope for every relay message. Replies reuse the request ID.
type Message struct {
	ID        string          `json:"id"`
	Version   string          `json:"version"`
	Type      string          `json:"type"`
	SenderID  string          `json:"sender_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     *ErrorPayload   `json:"error,omitempty"`
}

// ErrorPayload carries a wallet-side failure
type ErrorPayload struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

func (e *ErrorPayload) Error() string {
	if e.Description == "" {
		return e.Type
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Description)
}

// NewMessage creates a message with a fresh ID and the given payload
func NewMessage(msgType string, senderID string, payload any) (*Message, error) {
	msg := &Message{
		ID:        uuid.NewString(),
		Version:   CurrentVersion,
		Type:      msgType,
		SenderID:  senderID,
		Timestamp: time.Now(),
	}
	if err := msg.SetPayload(payload); err != nil {
		return nil, err
	}
	return msg, nil
}

// NewReply creates a reply to req carrying the same ID
func NewReply(req *Message, msgType string, senderID string, payload any) (*Message, error) {
	msg, err := NewMessage(msgType, senderID, payload)
	if err != nil {
		return nil, err
	}
	msg.ID = req.ID
	return msg, nil
}

// NewErrorReply creates an error reply to req
func NewErrorReply(req *Message, senderID string, errType string, description string) *Message {
	return &Message{
		ID:        req.ID,
		Version:   CurrentVersion,
		Type:      MessageTypeError,
		SenderID:  senderID,
		Timestamp: time.Now(),
		Error:     &ErrorPayload{Type: errType, Description: description},
	}
}

// SetPayload marshals v into the message payload. A nil v clears it.
func (m *Message) SetPayload(v any) error {
	if v == nil {
		m.Payload = nil
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", m.Type, err)
	}
	m.Payload = data
	return nil
}

// DecodePayload unmarshals the message payload into v
func (m *Message) DecodePayload(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", m.Type, err)
	}
	return nil
}

// Encode serializes a message to JSON
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage deserializes a message from JSON
func DecodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.ID == "" || msg.Type == "" {
		return nil, fmt.Errorf("message is missing id or type")
	}
	return &msg, nil
}
