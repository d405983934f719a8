package controller

import (
	"context"
	"strings"

	"cinesuggest/models"
)

const chatErrorReply = "Sorry, I ran into a problem. Please try again."

// SendChatMessage appends a user message and streams the assistant's reply
// into a placeholder message, chunk by chunk in arrival order. A second send
// while one is streaming is rejected until the first settles.
func (c *Controller) SendChatMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	if c.chatBusy {
		c.mu.Unlock()
		return nil
	}
	c.chatBusy = true
	c.chat = append(c.chat, models.ChatMessage{Role: models.RoleUser, Content: text})
	transcript := make([]models.ChatMessage, len(c.chat))
	copy(transcript, c.chat)
	c.chat = append(c.chat, models.ChatMessage{Role: models.RoleAssistant})
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.chatBusy = false
		c.mu.Unlock()
	}()

	err := c.bot.StreamChatReply(ctx, transcript, func(chunk string) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		last := len(c.chat) - 1
		if last >= 0 && c.chat[last].Role == models.RoleAssistant {
			c.chat[last].Content += chunk
		}
		return nil
	})
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		last := len(c.chat) - 1
		if last >= 0 && c.chat[last].Role == models.RoleAssistant && c.chat[last].Content == "" {
			c.chat[last] = models.ChatMessage{Role: models.RoleError, Content: chatErrorReply}
		} else {
			c.chat = append(c.chat, models.ChatMessage{Role: models.RoleError, Content: chatErrorReply})
		}
		return err
	}
	return nil
}

// ChatTranscript returns a copy of the conversation so far.
func (c *Controller) ChatTranscript() []models.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ChatMessage, len(c.chat))
	copy(out, c.chat)
	return out
}
