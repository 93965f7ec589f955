package core

import (
	"context"
	"sync"
)

// DefaultSenderID is used for messages that do not name a sender.
const DefaultSenderID = "default"

// BotMessage is an outbound utterance. Its shape is the same for every action.
type BotMessage struct {
	RecipientID  string `json:"recipient_id"`
	Text         string `json:"text,omitempty"`
	Elements     any    `json:"elements,omitempty"`
	Buttons      any    `json:"buttons,omitempty"`
	QuickReplies any    `json:"quick_replies,omitempty"`
	Attachment   any    `json:"attachment,omitempty"`
	Image        any    `json:"image,omitempty"`
	Custom       any    `json:"custom,omitempty"`
}

// Data returns the rich fields as logged on a BotUttered event.
func (m BotMessage) Data() BotData {
	return BotData{
		Elements:     m.Elements,
		Buttons:      m.Buttons,
		QuickReplies: m.QuickReplies,
		Attachment:   m.Attachment,
		Image:        m.Image,
		Custom:       m.Custom,
	}
}

// OutputChannel delivers bot messages to the user.
type OutputChannel interface {
	Name() string
	SendResponse(ctx context.Context, msg BotMessage) error
}

// CollectingOutputChannel keeps every message in memory. It is the default
// channel and is handy in tests.
type CollectingOutputChannel struct {
	mu       sync.Mutex
	messages []BotMessage
}

// NewCollectingOutputChannel creates an empty collecting channel.
func NewCollectingOutputChannel() *CollectingOutputChannel {
	return &CollectingOutputChannel{}
}

// Name implements OutputChannel.
func (c *CollectingOutputChannel) Name() string { return "collector" }

// SendResponse implements OutputChannel.
func (c *CollectingOutputChannel) SendResponse(_ context.Context, msg BotMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	return nil
}

// Messages returns a copy of all collected messages.
func (c *CollectingOutputChannel) Messages() []BotMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]BotMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// LatestOutput returns the most recent message or nil.
func (c *CollectingOutputChannel) LatestOutput() *BotMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return nil
	}
	m := c.messages[len(c.messages)-1]
	return &m
}

// UserMessage is an inbound message.
type UserMessage struct {
	Text         string
	SenderID     string
	MessageID    string
	InputChannel string
	Output       OutputChannel
	Metadata     map[string]any
}

// NewUserMessage creates a message with a fresh message id. An empty sender
// becomes DefaultSenderID and a nil output a CollectingOutputChannel.
func NewUserMessage(text string, output OutputChannel, senderID string) UserMessage {
	if senderID == "" {
		senderID = DefaultSenderID
	}
	if output == nil {
		output = NewCollectingOutputChannel()
	}
	return UserMessage{
		Text:      text,
		SenderID:  senderID,
		MessageID: NewID(),
		Output:    output,
	}
}
