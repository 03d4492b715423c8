package store

import (
	"time"
)

// DedupRecord is the record of one inbound message ID.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	CustomerID  string     `json:"customer_id"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo suppresses redelivered inbound messages.
type DedupRepo interface {
	// IsDuplicate reports whether a message ID has already been recorded.
	IsDuplicate(messageID string) (bool, error)

	// RecordInbound records a message ID. It returns false if the message was
	// already recorded.
	RecordInbound(messageID, customerID string) (bool, error)

	// MarkProcessed sets the processed_at timestamp for a message.
	MarkProcessed(messageID string) error
}
