// Package transcription submits call audio to the speech-to-text provider
// and normalizes the diarized response into utterances plus per-speaker
// stats. Retry policy lives at the job level, not here.
package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"time"
)

var (
	ErrInvalidCredentials  = errors.New("transcription: invalid API credentials")
	ErrInsufficientBalance = errors.New("transcription: insufficient account balance")
	ErrPayloadTooLarge     = errors.New("transcription: audio payload too large")
	ErrTimeout             = errors.New("transcription: provider request timed out")
)

// ProviderError covers provider failures outside the named taxonomy.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("transcription: provider error %d: %s", e.StatusCode, e.Message)
}

// Utterance is one diarized speech segment.
type Utterance struct {
	SpeakerIndex int     `json:"speaker"`
	Text         string  `json:"text"`
	StartSec     float64 `json:"start"`
	EndSec       float64 `json:"end"`
	Confidence   float64 `json:"confidence"`
}

// SpeakerStats is derived from utterances, not returned by the provider.
type SpeakerStats struct {
	SpeakerIndex  int     `json:"speaker"`
	TotalSeconds  float64 `json:"total_seconds"`
	WordCount     int     `json:"word_count"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// Result is the normalized transcription output.
type Result struct {
	Text            string         `json:"text"`
	Utterances      []Utterance    `json:"utterances"`
	Speakers        []SpeakerStats `json:"speakers"`
	DurationSeconds float64        `json:"duration_seconds"`
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("transcription: base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// providerResponse is the provider's diarized transcript shape.
type providerResponse struct {
	Text       string      `json:"text"`
	Duration   float64     `json:"duration"`
	Utterances []Utterance `json:"utterances"`
	Error      string      `json:"error,omitempty"`
}

// Transcribe uploads audio requesting diarization, punctuation and utterance
// segmentation, then derives speaker stats. An empty transcript is a valid
// provider response here; the orchestrator decides what that means.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("audio", "recording.wav")
	if err != nil {
		return Result{}, fmt.Errorf("transcription: build request: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return Result{}, fmt.Errorf("transcription: build request: %w", err)
	}
	_ = mw.WriteField("diarize", "true")
	_ = mw.WriteField("punctuate", "true")
	_ = mw.WriteField("utterances", "true")
	if err := mw.Close(); err != nil {
		return Result{}, fmt.Errorf("transcription: build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/transcribe", &body)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Token "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return Result{}, ErrTimeout
		}
		return Result{}, fmt.Errorf("transcription: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("transcription: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Result{}, classifyStatus(resp.StatusCode, data)
	}

	var pr providerResponse
	if err := json.Unmarshal(data, &pr); err != nil {
		return Result{}, &ProviderError{StatusCode: resp.StatusCode, Message: "unparseable response body"}
	}

	return Result{
		Text:            pr.Text,
		Utterances:      pr.Utterances,
		Speakers:        DeriveSpeakerStats(pr.Utterances),
		DurationSeconds: pr.Duration,
	}, nil
}

func classifyStatus(status int, body []byte) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrInvalidCredentials
	case http.StatusPaymentRequired:
		return ErrInsufficientBalance
	case http.StatusRequestEntityTooLarge:
		return ErrPayloadTooLarge
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ErrTimeout
	}

	msg := strings.TrimSpace(string(body))
	var pr providerResponse
	if err := json.Unmarshal(body, &pr); err == nil && pr.Error != "" {
		msg = pr.Error
	}
	return &ProviderError{StatusCode: status, Message: msg}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// DeriveSpeakerStats sums talk time, word count and mean confidence per
// speaker, sorted descending by total talk time.
func DeriveSpeakerStats(utterances []Utterance) []SpeakerStats {
	type acc struct {
		seconds    float64
		words      int
		confidence float64
		count      int
	}
	bydx := map[int]*acc{}
	for _, u := range utterances {
		a := bydx[u.SpeakerIndex]
		if a == nil {
			a = &acc{}
			bydx[u.SpeakerIndex] = a
		}
		a.seconds += u.EndSec - u.StartSec
		a.words += len(strings.Fields(u.Text))
		a.confidence += u.Confidence
		a.count++
	}

	stats := make([]SpeakerStats, 0, len(bydx))
	for idx, a := range bydx {
		avg := 0.0
		if a.count > 0 {
			avg = a.confidence / float64(a.count)
		}
		stats = append(stats, SpeakerStats{
			SpeakerIndex:  idx,
			TotalSeconds:  a.seconds,
			WordCount:     a.words,
			AvgConfidence: avg,
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].TotalSeconds != stats[j].TotalSeconds {
			return stats[i].TotalSeconds > stats[j].TotalSeconds
		}
		return stats[i].SpeakerIndex < stats[j].SpeakerIndex
	})
	return stats
}
