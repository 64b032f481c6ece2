// Package protocol defines the wire format exchanged between chat clients and
// the relay over WebSocket.
//
// All messages are JSON-encoded and share a common event wrapper with a "type"
// field that determines the payload structure. Message payloads carry opaque
// ciphertext; the relay never interprets the encrypted content.
package protocol

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event is the top-level wire format for all relay messages.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Event types emitted on the realtime channel.
const (
	// TypeMessage carries a MessageEnvelope, client -> relay -> recipient.
	TypeMessage = "message"
	// TypeMessageSent carries a DeliveryReceipt, relay -> sender's channels.
	TypeMessageSent = "message_sent"
)

// Validation errors returned by MessageEnvelope.Validate.
var (
	ErrMissingSender     = errors.New("envelope missing sender_id")
	ErrMissingRecipient  = errors.New("envelope missing recipient_id")
	ErrMissingCiphertext = errors.New("envelope missing encrypted_message")
)

// envelopeFields are the JSON keys the relay understands. Anything else is
// preserved verbatim in Extra so newer clients can ride through older relays.
var envelopeFields = map[string]bool{
	"id":                true,
	"sender_id":         true,
	"recipient_id":      true,
	"encrypted_message": true,
	"timestamp":         true,
	"store_history":     true,
}

// MessageEnvelope is one routed message unit: ciphertext plus routing metadata.
// The relay treats sender_id and recipient_id as bare keys and never decodes
// EncryptedMessage.
type MessageEnvelope struct {
	ID               string `json:"id,omitempty"`
	SenderID         string `json:"sender_id"`
	RecipientID      string `json:"recipient_id"`
	EncryptedMessage string `json:"encrypted_message"`
	Timestamp        string `json:"timestamp,omitempty"` // RFC 3339 UTC
	StoreHistory     bool   `json:"store_history,omitempty"`

	// Extra holds unknown fields from the sender, passed through untouched.
	Extra map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes the known fields and keeps everything else in Extra.
func (e *MessageEnvelope) UnmarshalJSON(data []byte) error {
	type plain MessageEnvelope
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k := range raw {
		if envelopeFields[k] {
			delete(raw, k)
		}
	}
	if len(raw) > 0 {
		p.Extra = raw
	}

	*e = MessageEnvelope(p)
	return nil
}

// MarshalJSON encodes the known fields plus any passthrough extras. A known
// field always wins over an extra of the same name.
func (e MessageEnvelope) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Extra)+6)
	for k, v := range e.Extra {
		if !envelopeFields[k] {
			out[k] = v
		}
	}
	if e.ID != "" {
		out["id"] = e.ID
	}
	out["sender_id"] = e.SenderID
	out["recipient_id"] = e.RecipientID
	out["encrypted_message"] = e.EncryptedMessage
	if e.Timestamp != "" {
		out["timestamp"] = e.Timestamp
	}
	if e.StoreHistory {
		out["store_history"] = e.StoreHistory
	}
	return json.Marshal(out)
}

// Validate checks the required routing fields. It never mutates the envelope.
func (e *MessageEnvelope) Validate() error {
	if e.SenderID == "" {
		return ErrMissingSender
	}
	if e.RecipientID == "" {
		return ErrMissingRecipient
	}
	if e.EncryptedMessage == "" {
		return ErrMissingCiphertext
	}
	return nil
}

// Normalize fills the relay-assigned fields when the sender omitted them.
// This is the only mutation performed on an inbound envelope.
func (e *MessageEnvelope) Normalize(now time.Time) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp == "" {
		e.Timestamp = now.UTC().Format(time.RFC3339Nano)
	}
}

// Time parses the envelope timestamp, falling back to the given time when the
// sender supplied something unparseable.
func (e *MessageEnvelope) Time(fallback time.Time) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, e.Timestamp); err == nil {
		return t
	}
	return fallback
}

// DeliveryReceipt confirms to the sender's channels that an envelope was
// accepted for routing. It references the (possibly relay-assigned) envelope id.
type DeliveryReceipt struct {
	ID          string `json:"id"`
	RecipientID string `json:"recipient_id"`
	Timestamp   string `json:"timestamp"`
}
