package prompts

import (
	"encoding/json"

	"video-insights-go/internal/types"
)

// ExtractionSystem primes the model to scan video analysis sections for key
// decisions and answer in the extracted_decision envelope.
const ExtractionSystem = `You are an AI assistant that analyzes insights from a video and extracts key decisions that were made by the speakers.
You will be given structured JSON with a "sections" list. Each section covers a time window of the video and contains the content captured
for that window: transcript text plus visual labels, detected objects and OCR tags.

If key decisions are made during the video, return them as JSON in exactly this shape:

{
  "extracted_decision": [
    {
      "start": "01:24:22",
      "end": "01:26:11",
      "key_decision": "John mentioned that the decision was made to extend the school day by 15 minutes"
    }
  ]
}

Use the timecodes of the section the decision was spoken in. If no key decisions are present, return {"extracted_decision": []}.
Only use the provided context, do not reply otherwise.`

// ExtractionUser is the fixed user turn for extraction calls; the context
// travels in the system prompt, matching the upstream chat contract.
const ExtractionUser = `Using the provided context, please scan the content to determine if any key decisions were made.`

// JudgeSystem primes the model to rate extracted decisions against reference
// material on the fixed 1/3/5 rubric.
const JudgeSystem = `You are an AI assistant that grades extracted key decisions against reference material.
For every decision in the answer, assign a rating:
  1 - incorrect: the decision is not supported by the reference material
  3 - partially correct: the decision is supported but incomplete or imprecise
  5 - correct and complete
Each rating must come with a short rationale. Return JSON in exactly this shape:

{
  "rated_decision": [
    {
      "start": "01:24:22",
      "end": "01:26:11",
      "key_decision": "...",
      "rating": 5,
      "rationale": "..."
    }
  ]
}

Do not invent decisions that are in neither the answer nor the reference material.`

// ExtractionSchemaName and ExtractionSchema constrain the extraction
// response to the decision triple list.
const ExtractionSchemaName = "extracted_decision"

func ExtractionSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"extracted_decision": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"start":        map[string]any{"type": "string"},
						"end":          map[string]any{"type": "string"},
						"key_decision": map[string]any{"type": "string"},
					},
					"required":             []string{"start", "end", "key_decision"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"extracted_decision"},
		"additionalProperties": false,
	}
}

// JudgeSchemaName and JudgeSchema constrain the validation response to the
// rated decision list.
const JudgeSchemaName = "rated_decision"

func JudgeSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"rated_decision": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"start":        map[string]any{"type": "string"},
						"end":          map[string]any{"type": "string"},
						"key_decision": map[string]any{"type": "string"},
						"rating":       map[string]any{"type": "integer", "enum": []int{1, 3, 5}},
						"rationale":    map[string]any{"type": "string"},
					},
					"required":             []string{"start", "end", "key_decision", "rating", "rationale"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"rated_decision"},
		"additionalProperties": false,
	}
}

// SectionsContext renders the sections of one extraction unit as the JSON
// context block embedded in the extraction system prompt.
func SectionsContext(sections []types.Section) string {
	payload := struct {
		Sections []types.Section `json:"sections"`
	}{Sections: sections}
	b, _ := json.MarshalIndent(payload, "", "  ")
	return string(b)
}

// DecisionsJSON renders a decision list for judge prompts.
func DecisionsJSON(decisions []types.Decision) string {
	b, _ := json.MarshalIndent(decisions, "", "  ")
	return string(b)
}
