package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"callrecording-platform/internal/transcription"
)

func goodPayload() map[string]any {
	return map[string]any{
		"summary":                "Customer called about billing.",
		"sentiment":              "neutral",
		"sentimentScore":         0.55,
		"keywords":               []string{"billing"},
		"topics":                 []string{"invoices"},
		"actionItems":            []string{"send corrected invoice"},
		"questions":              []string{},
		"objections":             []string{},
		"escalationRisk":         "low",
		"escalationReasons":      []string{},
		"satisfactionPrediction": "satisfied",
		"complianceFlags":        []string{},
		"callDisposition":        "resolved",
	}
}

func marshal(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func TestParseResponse_DirectJSON(t *testing.T) {
	res, err := ParseResponse(marshal(t, goodPayload()))
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if res.Summary == "" || res.Sentiment != "neutral" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Questions == nil {
		t.Fatalf("empty arrays must decode to non-nil slices")
	}
}

func TestParseResponse_FencedFallback(t *testing.T) {
	content := "Here is the analysis:\n```json\n" + marshal(t, goodPayload()) + "\n```\nThanks!"
	res, err := ParseResponse(content)
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if res.CallDisposition != "resolved" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestParseResponse_Unparseable(t *testing.T) {
	_, err := ParseResponse("sorry, I cannot help with that")
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestParseResponse_MissingFieldNamed(t *testing.T) {
	p := goodPayload()
	delete(p, "escalationRisk")
	_, err := ParseResponse(marshal(t, p))
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Field != "escalationRisk" {
		t.Fatalf("expected field escalationRisk named, got %q", ve.Field)
	}
}

func TestParseResponse_ScoreOutOfRange(t *testing.T) {
	p := goodPayload()
	p["sentimentScore"] = 1.5
	_, err := ParseResponse(marshal(t, p))
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Field != "sentimentScore" || !strings.Contains(ve.Reason, "[0.0, 1.0]") {
		t.Fatalf("unexpected error %v", ve)
	}
}

func TestParseResponse_EnumViolations(t *testing.T) {
	cases := []struct {
		field string
		value any
	}{
		{"sentiment", "angry"},
		{"escalationRisk", "extreme"},
		{"satisfactionPrediction", "delighted"},
	}
	for _, tc := range cases {
		p := goodPayload()
		p[tc.field] = tc.value
		_, err := ParseResponse(marshal(t, p))
		var ve *ValidationError
		if !errors.As(err, &ve) || ve.Field != tc.field {
			t.Fatalf("field %s: expected ValidationError naming it, got %v", tc.field, err)
		}
	}
}

func TestParseResponse_ArrayFieldMustBeArray(t *testing.T) {
	p := goodPayload()
	p["keywords"] = "billing"
	_, err := ParseResponse(marshal(t, p))
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "keywords" {
		t.Fatalf("expected ValidationError for keywords, got %v", err)
	}

	p = goodPayload()
	p["topics"] = nil
	_, err = ParseResponse(marshal(t, p))
	if !errors.As(err, &ve) || ve.Field != "topics" {
		t.Fatalf("expected ValidationError for null topics, got %v", err)
	}
}

func TestComputeTalkRatio(t *testing.T) {
	stats := []transcription.SpeakerStats{
		{SpeakerIndex: 0, TotalSeconds: 90},
		{SpeakerIndex: 1, TotalSeconds: 30},
	}
	tr := ComputeTalkRatio(stats)
	if tr == nil {
		t.Fatalf("expected talk ratio")
	}
	if tr.PrimaryPct != 75 || tr.SecondaryPct != 25 {
		t.Fatalf("unexpected ratio %+v", tr)
	}

	if ComputeTalkRatio(stats[:1]) != nil {
		t.Fatalf("single speaker must not produce a ratio")
	}
	if ComputeTalkRatio(nil) != nil {
		t.Fatalf("no speakers must not produce a ratio")
	}
}

func TestAnalyze_EndToEnd(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if len(req.Messages) != 2 || !strings.Contains(req.Messages[1].Content, "Transcript:") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": marshal(t, goodPayload())}},
			},
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(ts.Close)

	c, err := NewClient(Config{BaseURL: ts.URL, APIKey: "key"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	stats := []transcription.SpeakerStats{
		{SpeakerIndex: 0, TotalSeconds: 60},
		{SpeakerIndex: 1, TotalSeconds: 40},
	}
	res, err := c.Analyze(context.Background(), "hello world", CallMetadata{
		CallerNumber:    "100",
		CalleeNumber:    "200",
		Direction:       "inbound",
		DurationSeconds: 120,
	}, stats)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.TalkRatio == nil || res.TalkRatio.PrimaryPct != 60 {
		t.Fatalf("talk ratio not attached: %+v", res.TalkRatio)
	}
}

func TestAnalyze_ProviderFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "overloaded")
	}))
	t.Cleanup(ts.Close)

	c, err := NewClient(Config{BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.Analyze(context.Background(), "t", CallMetadata{}, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
}
