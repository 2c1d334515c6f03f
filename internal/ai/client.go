package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	recerr "github.com/subwatch/subwatch/internal/errors"
	"github.com/subwatch/subwatch/internal/models"
)

const classifyPrompt = `You are a subscription detector. Answer with exactly "yes" or "no":
does the following text describe a paid recurring subscription event
(signup, renewal charge, price change, or cancellation)?`

const extractPrompt = `Extract the subscription event from the text as JSON with fields:
eventType (start|renewal|cancellation|change), serviceName, amount (number or null),
currency, startDate, nextBillingDate, cancellationDate (ISO dates or null), planName.
Answer with the JSON object only, or the single word "reject" if the text does not
describe a subscription event.`

// Client calls an OpenAI-compatible chat-completions endpoint.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

var _ Classifier = (*Client)(nil)

// Config holds the upstream endpoint settings.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewClient creates a classifier backed by a chat-completions API.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Classify implements Classifier.
func (c *Client) Classify(ctx context.Context, text string) (bool, error) {
	content, err := c.chat(ctx, classifyPrompt, text, 5)
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(content)), "yes"), nil
}

// extractedEvidence is the model's JSON shape before normalization.
type extractedEvidence struct {
	EventType        string   `json:"eventType"`
	ServiceName      string   `json:"serviceName"`
	Amount           *float64 `json:"amount"`
	Currency         string   `json:"currency"`
	StartDate        string   `json:"startDate"`
	NextBillingDate  string   `json:"nextBillingDate"`
	CancellationDate string   `json:"cancellationDate"`
	PlanName         string   `json:"planName"`
}

// Extract implements Classifier.
func (c *Client) Extract(ctx context.Context, text string) (*models.CandidateEvidence, error) {
	content, err := c.chat(ctx, extractPrompt, text, 400)
	if err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if strings.EqualFold(content, "reject") {
		return nil, nil
	}
	// Some models wrap JSON in a code fence despite instructions.
	content = strings.TrimPrefix(content, "```json")
	content = strings.Trim(strings.TrimPrefix(content, "```"), "` \n")

	var raw extractedEvidence
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, recerr.WrapExternal("extract_evidence", "ai",
			fmt.Errorf("malformed extraction response: %w", err))
	}

	ev := &models.CandidateEvidence{
		EventType:        models.EventType(strings.ToLower(raw.EventType)),
		ServiceName:      strings.TrimSpace(raw.ServiceName),
		Currency:         strings.ToUpper(strings.TrimSpace(raw.Currency)),
		PlanName:         strings.TrimSpace(raw.PlanName),
		StartDate:        parseDate(raw.StartDate),
		NextBillingDate:  parseDate(raw.NextBillingDate),
		CancellationDate: parseDate(raw.CancellationDate),
	}
	if raw.Amount != nil {
		amount := decimal.NewFromFloat(*raw.Amount)
		ev.Amount = &amount
	}
	return ev, nil
}

func (c *Client) chat(ctx context.Context, system, user string, maxTokens int) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", recerr.WrapExternal("ai_chat", "ai", fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", recerr.WrapExternal("ai_chat", "ai", fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", recerr.WrapExternal("ai_chat", "ai", fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", recerr.WrapExternal("ai_chat", "ai", fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(respBody)
		var errResp apiError
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
		}
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return "", recerr.New(recerr.ErrorTypeAuth, "ai_chat", fmt.Errorf("API error (%d): %s", resp.StatusCode, msg))
		case http.StatusTooManyRequests:
			return "", recerr.WrapExternal("ai_chat", "ai", fmt.Errorf("%w: %s", recerr.ErrQuotaExceeded, msg))
		default:
			return "", recerr.WrapExternal("ai_chat", "ai", fmt.Errorf("API error (%d): %s", resp.StatusCode, msg))
		}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", recerr.WrapExternal("ai_chat", "ai", fmt.Errorf("failed to parse response: %w", err))
	}
	if len(chatResp.Choices) == 0 {
		return "", recerr.WrapExternal("ai_chat", "ai", fmt.Errorf("no response choices returned"))
	}
	return chatResp.Choices[0].Message.Content, nil
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
