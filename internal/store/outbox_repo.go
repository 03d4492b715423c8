package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// OutboxStatus represents the lifecycle state of an outbox message.
type OutboxStatus string

const (
	OutboxStatusQueued   OutboxStatus = "queued"
	OutboxStatusSending  OutboxStatus = "sending"
	OutboxStatusSent     OutboxStatus = "sent"
	OutboxStatusFailed   OutboxStatus = "failed"
	OutboxStatusCanceled OutboxStatus = "canceled"
)

// MaxOutboxAttempts is the number of failed sends after which a message is
// marked failed instead of requeued.
const MaxOutboxAttempts = 8

// Outbox message kinds.
const (
	OutboxKindReply         = "reply"
	OutboxKindOperatorAlert = "operator_alert"
)

// OutboxMessage is a durable outgoing message record. ConversationID is the
// recipient: a customer phone for replies, the operator for alerts.
type OutboxMessage struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	Kind           string       `json:"kind"`
	PayloadJSON    string       `json:"payload_json"`
	Status         OutboxStatus `json:"status"`
	Attempts       int          `json:"attempts"`
	NextAttemptAt  *time.Time   `json:"next_attempt_at"`
	DedupeKey      string       `json:"dedupe_key"`
	LockedAt       *time.Time   `json:"locked_at"`
	LastError      string       `json:"last_error"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// OutboxRepo defines the interface for durable outbox message persistence.
type OutboxRepo interface {
	// EnqueueOutboxMessage inserts a new outbox message. If dedupeKey is non-empty
	// and a non-terminal message with that key exists, returns the existing ID.
	EnqueueOutboxMessage(conversationID, kind, payloadJSON, dedupeKey string) (string, error)

	// ClaimDueOutboxMessages marks up to limit queued messages whose
	// next_attempt_at <= now (or is NULL) as sending and returns them.
	ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error)

	// MarkOutboxMessageSent marks a message as successfully sent.
	MarkOutboxMessageSent(id string) error

	// FailOutboxMessage records a send failure and schedules a retry at
	// nextAttemptAt, or marks the message failed once MaxOutboxAttempts is reached.
	FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error

	// RequeueStaleSendingMessages resets messages stuck in sending since before
	// staleBefore back to queued.
	RequeueStaleSendingMessages(staleBefore time.Time) (int, error)
}

// OutboxPayload is the JSON body of an outbox message.
type OutboxPayload struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// EncodeOutboxPayload renders a payload as JSON.
func EncodeOutboxPayload(to, body string) (string, error) {
	b, err := json.Marshal(OutboxPayload{To: to, Body: body})
	if err != nil {
		return "", fmt.Errorf("encode outbox payload: %w", err)
	}
	return string(b), nil
}

// DecodeOutboxPayload parses an outbox message body.
func DecodeOutboxPayload(msg OutboxMessage) (OutboxPayload, error) {
	var p OutboxPayload
	if err := json.Unmarshal([]byte(msg.PayloadJSON), &p); err != nil {
		return OutboxPayload{}, fmt.Errorf("decode outbox payload %s: %w", msg.ID, err)
	}
	if p.To == "" {
		p.To = msg.ConversationID
	}
	return p, nil
}
