// Package v1 defines the Skiff change feed wire contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the client engine and feed servers to keep the wire
// protocol authoritative: row payloads are decoded here, once, at the feed
// boundary, and nothing downstream handles raw JSON.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the websocket subprotocol negotiated for this contract.
const Subprotocol = "skiff.changefeed.v1"

// Type constants (wire-stable).
const (
	// TypeSubscribe requests a subscription to a topic (client -> server).
	TypeSubscribe = "subscribe"
	// TypeSubscribeAck confirms an active subscription (server -> client).
	TypeSubscribeAck = "subscribe_ack"

	// TypeUnsubscribe releases a subscription (client -> server).
	TypeUnsubscribe = "unsubscribe"
	// TypeUnsubscribeAck confirms the release (server -> client).
	TypeUnsubscribeAck = "unsubscribe_ack"

	// TypeChange carries one row-level change (server -> client).
	TypeChange = "change"

	// TypeHeartbeat keeps the connection alive (client -> server, echoed).
	TypeHeartbeat = "heartbeat"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Change actions (wire-stable).
const (
	ActionInsert = "insert"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeSubscribe,
		TypeSubscribeAck,
		TypeUnsubscribe,
		TypeUnsubscribeAck,
		TypeChange,
		TypeHeartbeat,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// SubscribePayload requests change delivery for one topic.
// Predicate is a server-side row filter hint; servers MAY apply it only
// partially, so clients must re-check relevance on every received change.
type SubscribePayload struct {
	Topic     string `json:"topic"`
	Predicate string `json:"predicate,omitempty"`
}

// SubscribeAckPayload confirms an active subscription for a topic.
type SubscribeAckPayload struct {
	Topic string `json:"topic"`
}

// UnsubscribePayload releases the subscription for a topic.
type UnsubscribePayload struct {
	Topic string `json:"topic"`
}

// MessageRow is the wire representation of one message row.
type MessageRow struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// ChangePayload carries one row-level change.
//
// Record is present for insert and update. OldRecord is present for delete
// and may carry only the row id, depending on the backend's replica identity.
type ChangePayload struct {
	Action    string      `json:"action"`
	Record    *MessageRow `json:"record,omitempty"`
	OldRecord *MessageRow `json:"old_record,omitempty"`
}

// Validate checks action/payload consistency for a ChangePayload.
func (p ChangePayload) Validate() error {
	switch p.Action {
	case ActionInsert, ActionUpdate:
		if p.Record == nil {
			return fmt.Errorf("%s change without record", p.Action)
		}
		if strings.TrimSpace(p.Record.ID) == "" {
			return fmt.Errorf("%s change with empty record id", p.Action)
		}
		return nil
	case ActionDelete:
		if p.OldRecord == nil || strings.TrimSpace(p.OldRecord.ID) == "" {
			return errors.New("delete change without old record id")
		}
		return nil
	default:
		return fmt.Errorf("unknown change action: %q", p.Action)
	}
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
