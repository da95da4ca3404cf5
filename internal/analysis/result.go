package analysis

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"callrecording-platform/internal/transcription"
)

// Sentiment, escalation and satisfaction enums. These values are part of the
// persisted analysis contract; do not rename.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
	SentimentMixed    = "mixed"

	EscalationLow    = "low"
	EscalationMedium = "medium"
	EscalationHigh   = "high"

	SatisfactionSatisfied    = "satisfied"
	SatisfactionNeutral      = "neutral"
	SatisfactionDissatisfied = "dissatisfied"
)

// TalkRatio holds the airtime split between the two loudest speakers,
// as whole percentages of total talk time.
type TalkRatio struct {
	PrimaryPct   int `json:"primary_pct"`
	SecondaryPct int `json:"secondary_pct"`
}

// Result is the validated analysis payload for one call.
type Result struct {
	Summary                string     `json:"summary"`
	Sentiment              string     `json:"sentiment"`
	SentimentScore         float64    `json:"sentimentScore"`
	Keywords               []string   `json:"keywords"`
	Topics                 []string   `json:"topics"`
	ActionItems            []string   `json:"actionItems"`
	Questions              []string   `json:"questions"`
	Objections             []string   `json:"objections"`
	EscalationRisk         string     `json:"escalationRisk"`
	EscalationReasons      []string   `json:"escalationReasons"`
	SatisfactionPrediction string     `json:"satisfactionPrediction"`
	ComplianceFlags        []string   `json:"complianceFlags"`
	CallDisposition        string     `json:"callDisposition"`
	TalkRatio              *TalkRatio `json:"talkRatio,omitempty"`
}

// ParseError means the model response was not a JSON object, directly or
// inside a fenced block. Terminal for the job attempt.
type ParseError struct {
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("analysis: response is not parseable JSON: %s", e.Detail)
}

// ValidationError names the field that failed post-parse validation. The
// message is recorded verbatim on the job so schema drift is diagnosable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("analysis: field %q %s", e.Field, e.Reason)
}

var requiredStringFields = []string{
	"summary", "sentiment", "escalationRisk", "satisfactionPrediction", "callDisposition",
}

var requiredArrayFields = []string{
	"keywords", "topics", "actionItems", "questions", "objections",
	"escalationReasons", "complianceFlags",
}

// validate checks the decoded payload field-by-field and builds a Result.
func validate(raw map[string]json.RawMessage) (Result, error) {
	var r Result

	strs := map[string]*string{
		"summary":                &r.Summary,
		"sentiment":              &r.Sentiment,
		"escalationRisk":         &r.EscalationRisk,
		"satisfactionPrediction": &r.SatisfactionPrediction,
		"callDisposition":        &r.CallDisposition,
	}
	for _, field := range requiredStringFields {
		v, ok := raw[field]
		if !ok {
			return Result{}, &ValidationError{Field: field, Reason: "is missing"}
		}
		if err := json.Unmarshal(v, strs[field]); err != nil {
			return Result{}, &ValidationError{Field: field, Reason: "must be a string"}
		}
	}

	scoreRaw, ok := raw["sentimentScore"]
	if !ok {
		return Result{}, &ValidationError{Field: "sentimentScore", Reason: "is missing"}
	}
	if err := json.Unmarshal(scoreRaw, &r.SentimentScore); err != nil {
		return Result{}, &ValidationError{Field: "sentimentScore", Reason: "must be a number"}
	}
	if r.SentimentScore < 0.0 || r.SentimentScore > 1.0 || math.IsNaN(r.SentimentScore) {
		return Result{}, &ValidationError{Field: "sentimentScore", Reason: "must be in [0.0, 1.0]"}
	}

	arrs := map[string]*[]string{
		"keywords":          &r.Keywords,
		"topics":            &r.Topics,
		"actionItems":       &r.ActionItems,
		"questions":         &r.Questions,
		"objections":        &r.Objections,
		"escalationReasons": &r.EscalationReasons,
		"complianceFlags":   &r.ComplianceFlags,
	}
	for _, field := range requiredArrayFields {
		v, ok := raw[field]
		if !ok {
			return Result{}, &ValidationError{Field: field, Reason: "is missing"}
		}
		if err := json.Unmarshal(v, arrs[field]); err != nil {
			return Result{}, &ValidationError{Field: field, Reason: "must be an array of strings"}
		}
		if *arrs[field] == nil {
			// JSON null passes Unmarshal but is not an array.
			if strings.TrimSpace(string(v)) == "null" {
				return Result{}, &ValidationError{Field: field, Reason: "must be an array of strings"}
			}
			*arrs[field] = []string{}
		}
	}

	switch r.Sentiment {
	case SentimentPositive, SentimentNegative, SentimentNeutral, SentimentMixed:
	default:
		return Result{}, &ValidationError{Field: "sentiment", Reason: fmt.Sprintf("must be one of positive, negative, neutral, mixed; got %q", r.Sentiment)}
	}
	switch r.EscalationRisk {
	case EscalationLow, EscalationMedium, EscalationHigh:
	default:
		return Result{}, &ValidationError{Field: "escalationRisk", Reason: fmt.Sprintf("must be one of low, medium, high; got %q", r.EscalationRisk)}
	}
	switch r.SatisfactionPrediction {
	case SatisfactionSatisfied, SatisfactionNeutral, SatisfactionDissatisfied:
	default:
		return Result{}, &ValidationError{Field: "satisfactionPrediction", Reason: fmt.Sprintf("must be one of satisfied, neutral, dissatisfied; got %q", r.SatisfactionPrediction)}
	}

	return r, nil
}

// ComputeTalkRatio returns the rounded airtime percentages of the two
// highest-airtime speakers, or nil when fewer than two speakers exist.
// stats must already be sorted descending by talk time.
func ComputeTalkRatio(stats []transcription.SpeakerStats) *TalkRatio {
	if len(stats) < 2 {
		return nil
	}
	var total float64
	for _, s := range stats {
		total += s.TotalSeconds
	}
	if total <= 0 {
		return nil
	}
	return &TalkRatio{
		PrimaryPct:   int(math.Round(stats[0].TotalSeconds / total * 100)),
		SecondaryPct: int(math.Round(stats[1].TotalSeconds / total * 100)),
	}
}
