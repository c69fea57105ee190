package mailbox

import (
	"encoding/json"
	"time"
)

// MessageType identifies the kind of peer message.
type MessageType string

const (
	// MessageClaim bids for a task. The payload carries the claimant's clock
	// entry.
	MessageClaim MessageType = "claim"

	// MessageStarted reports that the claimant began executing a task.
	MessageStarted MessageType = "started"

	// MessageCompleted reports a committed result.
	MessageCompleted MessageType = "completed"

	// MessageFailed reports a terminal failure.
	MessageFailed MessageType = "failed"

	// MessageReleased gives up a claim or an uncommitted execution.
	MessageReleased MessageType = "released"

	// MessageClock gossips clock state without any task transition.
	MessageClock MessageType = "clock"
)

// BroadcastRecipient is the special "to" value for messages intended for all peers.
const BroadcastRecipient = "broadcast"

// Message is a single peer-to-peer communication. Payload is opaque to the
// mailbox.
type Message struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Type      MessageType     `json:"type"`
	TaskID    string          `json:"task_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// IsBroadcast returns true if the message is addressed to all peers.
func (m Message) IsBroadcast() bool {
	return m.To == BroadcastRecipient
}

var validMessageTypes = map[MessageType]bool{
	MessageClaim:     true,
	MessageStarted:   true,
	MessageCompleted: true,
	MessageFailed:    true,
	MessageReleased:  true,
	MessageClock:     true,
}

// ValidateMessageType returns true if the given type is a known message type.
func ValidateMessageType(t MessageType) bool {
	return validMessageTypes[t]
}

// PeerInfo is the registration record a peer leaves in the shared directory.
type PeerInfo struct {
	ID        string    `json:"id"`
	PID       int       `json:"pid"`
	Host      string    `json:"host,omitempty"`
	StartedAt time.Time `json:"started_at"`
}
