package assistant

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cinesuggest/models"
)

const chatInstruction = `You are CineSuggest AI, a friendly and knowledgeable chatbot specializing in movies and TV shows. Your goal is to have a natural conversation with the user, helping them discover new things to watch, answer trivia, or just chat about film. Be conversational, engaging, and helpful. Don't just provide lists; explain why you're suggesting something. Keep your responses concise and easy to read.`

// transcriptContents converts a chat transcript to the upstream content list.
// Error-role messages are local presentation only and are dropped.
func transcriptContents(transcript []models.ChatMessage) []geminiContent {
	contents := make([]geminiContent, 0, len(transcript))
	for _, msg := range transcript {
		switch msg.Role {
		case models.RoleUser:
			contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: msg.Content}}})
		case models.RoleAssistant:
			contents = append(contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: msg.Content}}})
		}
	}
	return contents
}

// StreamChatReply streams the model's reply to a conversation, invoking
// onChunk for every text fragment in arrival order. It returns when the
// upstream signals completion, onChunk returns an error, or the context is
// canceled. The stream is not restartable.
func (c *Client) StreamChatReply(ctx context.Context, transcript []models.ChatMessage, onChunk func(string) error) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	c.throttle()

	reqBody := geminiRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: chatInstruction}}},
		Contents:          transcriptContents(transcript),
		GenerationConfig:  &geminiGenerationConfig{Temperature: 0.7},
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal chat request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", geminiBaseURL, geminiModel, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("assistant API error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}

		var chunk geminiResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("decode chat stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return fmt.Errorf("assistant API error: %s", chunk.Error.Message)
		}
		if text := chunk.text(); text != "" {
			if err := onChunk(text); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read chat stream: %w", err)
	}
	return nil
}
