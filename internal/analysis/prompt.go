package analysis

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a call quality analyst for a business phone system. ` +
	`You analyze call transcripts and return structured findings. ` +
	`Respond with exactly one raw JSON object. Do not wrap it in markdown fences, ` +
	`do not add commentary before or after it.`

const responseContract = `Return a JSON object with exactly these fields:
{
  "summary": string,
  "sentiment": "positive" | "negative" | "neutral" | "mixed",
  "sentimentScore": number between 0.0 and 1.0,
  "keywords": string[],
  "topics": string[],
  "actionItems": string[],
  "questions": string[],
  "objections": string[],
  "escalationRisk": "low" | "medium" | "high",
  "escalationReasons": string[],
  "satisfactionPrediction": "satisfied" | "neutral" | "dissatisfied",
  "complianceFlags": string[],
  "callDisposition": string
}
Every array field must be present, possibly empty.`

// buildPrompt embeds the call metadata and the full transcript.
// The shape is fixed; changing it risks schema drift in stored analyses.
func buildPrompt(transcript string, meta CallMetadata) string {
	var b strings.Builder
	b.WriteString("Analyze the following phone call.\n\n")
	fmt.Fprintf(&b, "Caller: %s\n", meta.CallerNumber)
	fmt.Fprintf(&b, "Callee: %s\n", meta.CalleeNumber)
	fmt.Fprintf(&b, "Direction: %s\n", meta.Direction)
	fmt.Fprintf(&b, "Duration: %d seconds\n", meta.DurationSeconds)
	if meta.Disposition != "" {
		fmt.Fprintf(&b, "Disposition: %s\n", meta.Disposition)
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(transcript)
	b.WriteString("\n\n")
	b.WriteString(responseContract)
	return b.String()
}
