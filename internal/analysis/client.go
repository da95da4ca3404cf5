// Package analysis runs LLM analysis over a call transcript and validates
// the structured response at the boundary.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"callrecording-platform/internal/transcription"
)

// CallMetadata is the slice of CDR context embedded in the prompt.
type CallMetadata struct {
	CallerNumber    string
	CalleeNumber    string
	Direction       string
	DurationSeconds int
	Disposition     string
}

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("analysis: base URL is required")
	}
	if cfg.Model == "" {
		cfg.Model = "call-analysis-v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
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
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Analyze sends the fixed prompt and returns a validated Result.
// speakerStats may be nil; with two or more speakers a talk ratio is
// attached to the result.
func (c *Client) Analyze(ctx context.Context, transcript string, meta CallMetadata, speakerStats []transcription.SpeakerStats) (Result, error) {
	payload, _ := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(transcript, meta)},
		},
		Temperature: 0.2,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("analysis: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("analysis: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("analysis: provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var cr chatResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return Result{}, &ParseError{Detail: "provider envelope is not JSON"}
	}
	if cr.Error != nil {
		return Result{}, fmt.Errorf("analysis: provider error: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return Result{}, &ParseError{Detail: "provider returned no choices"}
	}

	result, err := ParseResponse(cr.Choices[0].Message.Content)
	if err != nil {
		return Result{}, err
	}

	result.TalkRatio = ComputeTalkRatio(speakerStats)
	return result, nil
}

var fencedJSON = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

// ParseResponse decodes the model's content: direct JSON first, then a
// fenced ```json block, then gives up with a ParseError. The decoded object
// is validated field-by-field before it is returned.
func ParseResponse(content string) (Result, error) {
	raw, err := decodeObject(content)
	if err != nil {
		m := fencedJSON.FindStringSubmatch(content)
		if m == nil {
			return Result{}, &ParseError{Detail: "no JSON object or fenced json block found"}
		}
		raw, err = decodeObject(m[1])
		if err != nil {
			return Result{}, &ParseError{Detail: "fenced json block is malformed"}
		}
	}
	return validate(raw)
}

func decodeObject(s string) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(s)))
	var raw map[string]json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, errors.New("not an object")
	}
	return raw, nil
}
