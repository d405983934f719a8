package assistant

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	geminiModel   = "gemini-2.5-flash"
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("assistant api key not configured")

// ErrUnidentifiable is returned when the model can neither name the title in
// an image nor produce descriptive search terms for it.
var ErrUnidentifiable = errors.New("assistant could not identify the image")

// Client wraps the Gemini generateContent API for three capabilities: text
// query expansion, image identification, and streaming conversational replies.
type Client struct {
	apiKey      string
	httpc       *http.Client
	throttleMu  sync.Mutex
	lastRequest time.Time
	minInterval time.Duration
}

func NewClient(apiKey string, httpc *http.Client) *Client {
	if httpc == nil {
		httpc = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		apiKey:      strings.TrimSpace(apiKey),
		httpc:       httpc,
		minInterval: 100 * time.Millisecond,
	}
}

func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

type geminiRequest struct {
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

func (r *geminiResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// throttle enforces a minimum interval between upstream requests.
func (c *Client) throttle() {
	c.throttleMu.Lock()
	if since := time.Since(c.lastRequest); since < c.minInterval {
		time.Sleep(c.minInterval - since)
	}
	c.lastRequest = time.Now()
	c.throttleMu.Unlock()
}

// generate issues one generateContent call with retry and backoff on
// transient failures, returning the concatenated candidate text.
func (c *Client) generate(ctx context.Context, reqBody geminiRequest) (string, error) {
	if !c.IsConfigured() {
		return "", ErrNotConfigured
	}

	c.throttle()

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", geminiBaseURL, geminiModel, c.apiKey)
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal assistant request: %w", err)
	}

	var lastErr error
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
		if err != nil {
			return "", fmt.Errorf("create assistant request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpc.Do(req)
		if err != nil {
			lastErr = err
			log.Printf("[assistant] http error (attempt %d/3): %v", attempt+1, err)
			time.Sleep(backoff)
			backoff *= 2
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("assistant request failed: status %d", resp.StatusCode)
			log.Printf("[assistant] rate limited or server error (attempt %d/3): status %d", attempt+1, resp.StatusCode)
			time.Sleep(backoff)
			backoff *= 2
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return "", fmt.Errorf("assistant API error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		var parsed geminiResponse
		err = json.NewDecoder(resp.Body).Decode(&parsed)
		resp.Body.Close()
		if err != nil {
			return "", fmt.Errorf("decode assistant response: %w", err)
		}
		if parsed.Error != nil {
			return "", fmt.Errorf("assistant API error: %s", parsed.Error.Message)
		}
		text := parsed.text()
		if text == "" {
			return "", errors.New("assistant returned empty response")
		}
		return text, nil
	}

	return "", fmt.Errorf("assistant request failed after 3 attempts: %w", lastErr)
}

// unmarshalLoose parses model output as JSON, tolerating a surrounding
// markdown code fence.
func unmarshalLoose(raw string, v any) error {
	raw = strings.TrimSpace(raw)
	if err := json.Unmarshal([]byte(raw), v); err == nil {
		return nil
	}
	cleaned := strings.TrimPrefix(raw, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(cleaned)), v); err != nil {
		return fmt.Errorf("parse assistant output: %w (raw: %s)", err, raw[:min(200, len(raw))])
	}
	return nil
}

// splitTerms turns a pipe-delimited term string into a cleaned slice.
func splitTerms(raw string) []string {
	parts := strings.Split(raw, "|")
	terms := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

const textSearchInstruction = `You are an elite Movie Investigator. Your role is to help the user find movies or series that perfectly match their intention. You have two tasks:

1.  **QUESTION**: Generate a single intriguing, open-ended question to get more details about the user's search (max 15 words).
2.  **TERMS**: Generate a list of 7 ULTRA-HIGH-QUALITY search terms for the media API, based on the user's query. This list must include quality terms (e.g., "best", "top", "acclaimed").

Respond ONLY with a single JSON structure with the following format:

{
  "question": "[Your investigator question here]",
  "search_terms": "[Term1]|[Term2]|[Term3]|[Term4]|[Term5]|[Term6]|[Term7]"
}`

// TermExpansion is the result of expanding a free-text query into catalog
// search terms.
type TermExpansion struct {
	Question string
	Terms    []string
}

type textSearchPayload struct {
	Question string `json:"question"`
	Terms    string `json:"search_terms"`
}

// ExpandTextQuery asks the model to expand a query into search terms. It
// never fails: on any upstream or parse problem it degrades to the raw query
// as the sole term.
func (c *Client) ExpandTextQuery(ctx context.Context, query string) TermExpansion {
	fallback := TermExpansion{
		Question: "I'm running a direct search for you...",
		Terms:    []string{query},
	}

	raw, err := c.generate(ctx, geminiRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: textSearchInstruction}}},
		Contents: []geminiContent{
			{Parts: []geminiPart{{Text: fmt.Sprintf("User Query: %q", query)}}},
		},
		GenerationConfig: &geminiGenerationConfig{
			Temperature:      0.5,
			ResponseMIMEType: "application/json",
		},
	})
	if err != nil {
		log.Printf("[assistant] text expansion failed, falling back to direct search: %v", err)
		return fallback
	}

	var payload textSearchPayload
	if err := unmarshalLoose(raw, &payload); err != nil {
		log.Printf("[assistant] text expansion unparseable, falling back to direct search: %v", err)
		return fallback
	}
	terms := splitTerms(payload.Terms)
	if len(terms) == 0 {
		log.Printf("[assistant] text expansion returned no terms, falling back to direct search")
		return fallback
	}
	return TermExpansion{Question: payload.Question, Terms: terms}
}

const visualSearchInstruction = `You are an expert Movie Investigator specializing in visual recognition. Your task is to identify the movie or series from the provided image.

1.  **If you can identify the exact title**, respond with the title.
2.  **If you are unsure of the title**, generate a list of 7 highly descriptive search terms based on the actors, scene, style, or any identifiable elements in the image.

Respond ONLY with a single JSON structure with the following format. Fill in *either* "title" or "search_terms", but not both.

{
  "title": "[The exact movie or series title, or null]",
  "search_terms": "[Term1|Term2|...|Term7, or null]"
}`

// ImageIdentification is the result of identifying a title from an image.
// Exactly one of Title or Terms is populated.
type ImageIdentification struct {
	Title string
	Terms []string
}

type visualSearchPayload struct {
	Title string `json:"title"`
	Terms string `json:"search_terms"`
}

// IdentifyFromImage asks the model to name the title shown in an image, or
// to describe it with search terms. Unlike text expansion there is no safe
// fallback, so failures are returned to the caller.
func (c *Client) IdentifyFromImage(ctx context.Context, image []byte, mimeType, hint string) (ImageIdentification, error) {
	if len(image) == 0 {
		return ImageIdentification{}, errors.New("empty image")
	}
	if hint == "" {
		hint = "No hint provided"
	}

	raw, err := c.generate(ctx, geminiRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: visualSearchInstruction}}},
		Contents: []geminiContent{
			{Parts: []geminiPart{
				{InlineData: &geminiInlineData{MIMEType: mimeType, Data: base64.StdEncoding.EncodeToString(image)}},
				{Text: fmt.Sprintf("User's optional text hint: %q", hint)},
			}},
		},
		GenerationConfig: &geminiGenerationConfig{
			Temperature:      0.4,
			ResponseMIMEType: "application/json",
		},
	})
	if err != nil {
		return ImageIdentification{}, fmt.Errorf("visual search: %w", err)
	}

	var payload visualSearchPayload
	if err := unmarshalLoose(raw, &payload); err != nil {
		return ImageIdentification{}, fmt.Errorf("visual search: %w", err)
	}

	ident := ImageIdentification{
		Title: strings.TrimSpace(payload.Title),
		Terms: splitTerms(payload.Terms),
	}
	if ident.Title == "" && len(ident.Terms) == 0 {
		return ImageIdentification{}, ErrUnidentifiable
	}
	return ident, nil
}
