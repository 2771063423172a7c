package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cinemood/watchparty/internal/party"
)

// ChatBuffer holds the local transcript mirror: a bounded, order-preserving
// message sequence. Append is the only mutation; once a message is in the
// buffer it is never edited, and evicting from the head never reorders the
// remainder. Merges replace the whole contents with the authoritative
// transcript, which is how tentative (unconfirmed) sends get reconciled.
type ChatBuffer struct {
	mu       sync.Mutex
	messages []party.ChatMessage
	limit    int
}

// NewChatBuffer constructs a buffer bounded to limit entries.
func NewChatBuffer(limit int) *ChatBuffer {
	if limit <= 0 {
		limit = party.DefaultTranscriptCap
	}
	return &ChatBuffer{limit: limit}
}

// Append inserts at the tail, evicting from the head when over the bound.
func (b *ChatBuffer) Append(msg party.ChatMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.messages {
		if existing.ID == msg.ID {
			return
		}
	}

	b.messages = append(b.messages, msg)
	if excess := len(b.messages) - b.limit; excess > 0 {
		b.messages = append(b.messages[:0:0], b.messages[excess:]...)
	}
}

// ReplaceAll swaps the buffer contents for the authoritative transcript.
func (b *ChatBuffer) ReplaceAll(messages []party.ChatMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.messages = append([]party.ChatMessage(nil), messages...)
	if excess := len(b.messages) - b.limit; excess > 0 {
		b.messages = b.messages[excess:]
	}
}

// Messages returns a copy of the buffered transcript in order.
func (b *ChatBuffer) Messages() []party.ChatMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]party.ChatMessage(nil), b.messages...)
}

// Len returns the current number of buffered messages.
func (b *ChatBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

// NewUserMessage builds a user chat message stamped at sentAt.
func NewUserMessage(senderID, body string, sentAt time.Time) party.ChatMessage {
	return party.ChatMessage{
		ID:       uuid.NewString(),
		SenderID: senderID,
		Body:     body,
		SentAt:   sentAt,
		Kind:     party.MessageUser,
	}
}

// NewSystemMessage builds an engine-generated chat message with the reserved
// system sender.
func NewSystemMessage(body string, sentAt time.Time) party.ChatMessage {
	return party.ChatMessage{
		ID:       uuid.NewString(),
		SenderID: party.SystemSenderID,
		Body:     body,
		SentAt:   sentAt,
		Kind:     party.MessageSystem,
	}
}
