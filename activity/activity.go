// Package activity carries the minimal wire model for conversational
// activities exchanged with agent services. Only the fields the hosting and
// client layers act on are modeled; unknown fields round-trip through Value
// untouched by this SDK.
package activity

import (
	"time"

	"github.com/google/uuid"
)

// Activity types understood by the hosting layer.
const (
	TypeMessage           = "message"
	TypeTyping            = "typing"
	TypeEvent             = "event"
	TypeEndOfConversation = "endOfConversation"
)

// ChannelAccount identifies a participant on a channel.
type ChannelAccount struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

// ConversationAccount identifies the conversation an activity belongs to.
type ConversationAccount struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Activity is a single conversational event.
type Activity struct {
	Type         string               `json:"type,omitempty"`
	ID           string               `json:"id,omitempty"`
	ChannelID    string               `json:"channelId,omitempty"`
	ServiceURL   string               `json:"serviceUrl,omitempty"`
	Conversation *ConversationAccount `json:"conversation,omitempty"`
	From         *ChannelAccount      `json:"from,omitempty"`
	Recipient    *ChannelAccount      `json:"recipient,omitempty"`
	ReplyToID    string               `json:"replyToId,omitempty"`
	Timestamp    *time.Time           `json:"timestamp,omitempty"`
	Locale       string               `json:"locale,omitempty"`
	Text         string               `json:"text,omitempty"`
	Name         string               `json:"name,omitempty"`
	Value        any                  `json:"value,omitempty"`
}

// NewMessage returns a message activity with a fresh id.
func NewMessage(text string) *Activity {
	return &Activity{Type: TypeMessage, ID: uuid.NewString(), Text: text}
}

// NewEvent returns a named event activity with a fresh id.
func NewEvent(name string) *Activity {
	return &Activity{Type: TypeEvent, ID: uuid.NewString(), Name: name}
}
