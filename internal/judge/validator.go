package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"video-insights-go/internal/llm"
	"video-insights-go/internal/logger"
	"video-insights-go/internal/prompts"
	"video-insights-go/internal/types"
)

// ValidationError is fatal for the validation run. The caller still keeps
// the unvalidated extraction result.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return fmt.Sprintf("validation: %v", e.Err) }
func (e *ValidationError) Unwrap() error { return e.Err }

const (
	RatingIncorrect = 1
	RatingPartial   = 3
	RatingCorrect   = 5
)

// Judge runs the second LLM pass that scores extracted decisions for
// correctness, against either the original section context or a fixed
// ground-truth set.
type Judge struct {
	log     *logrus.Entry
	gateway llm.Gateway
}

func New(log *logger.Logger, gateway llm.Gateway) *Judge {
	return &Judge{log: log.WithComponent("judge"), gateway: gateway}
}

// Validate rates each decision in answer against the original prompt content
// sections it was extracted from.
func (j *Judge) Validate(ctx context.Context, sections []types.Section, answer []types.Decision) ([]types.Decision, error) {
	if len(answer) == 0 {
		return []types.Decision{}, nil
	}

	user := "Reference material (original video sections):\n" + prompts.SectionsContext(sections) +
		"\n\nAnswer to grade:\n" + prompts.DecisionsJSON(answer)

	rated, err := j.complete(ctx, user)
	if err != nil {
		return nil, err
	}
	return mergeRatings(answer, rated), nil
}

// ValidateAgainstGroundTruth rates answer against a pre-validated decision
// set. Completeness is checked both ways: ground-truth decisions missing
// from the answer are injected rated 1, and answer decisions absent from
// ground truth are forced to 1 as extraneous.
func (j *Judge) ValidateAgainstGroundTruth(ctx context.Context, groundTruth, answer []types.Decision) ([]types.Decision, error) {
	user := "Reference material (ground truth decisions):\n" + prompts.DecisionsJSON(groundTruth) +
		"\n\nAnswer to grade:\n" + prompts.DecisionsJSON(answer)

	var rated []types.Decision
	if len(answer) > 0 {
		var err error
		rated, err = j.complete(ctx, user)
		if err != nil {
			return nil, err
		}
	}

	out := mergeRatings(answer, rated)

	// The symmetric completeness check is deterministic and enforced here
	// rather than trusted to the model.
	truth := map[string]bool{}
	for _, d := range groundTruth {
		truth[decisionKey(d)] = true
	}
	answered := map[string]bool{}
	for i := range out {
		key := decisionKey(out[i])
		answered[key] = true
		if !truth[key] {
			out[i].Rating = RatingIncorrect
			out[i].Rationale = "extraneous: this decision does not appear in the ground truth"
		}
	}
	for _, d := range groundTruth {
		if answered[decisionKey(d)] {
			continue
		}
		out = append(out, types.Decision{
			Start:       d.Start,
			End:         d.End,
			KeyDecision: d.KeyDecision,
			Rating:      RatingIncorrect,
			Rationale:   "omitted: this ground truth decision is missing from the extracted answer",
		})
	}
	return out, nil
}

func (j *Judge) complete(ctx context.Context, user string) ([]types.Decision, error) {
	content, err := j.gateway.Complete(ctx, prompts.JudgeSystem, user, prompts.JudgeSchemaName, prompts.JudgeSchema())
	if err != nil {
		return nil, &ValidationError{Err: err}
	}

	raw := []byte(content)
	start := bytes.IndexByte(raw, '{')
	end := bytes.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return nil, &ValidationError{Err: fmt.Errorf("judge response contained no JSON object: %q", content)}
	}

	var envelope struct {
		RatedDecision []types.Decision `json:"rated_decision"`
	}
	if err := json.Unmarshal(raw[start:end+1], &envelope); err != nil {
		return nil, &ValidationError{Err: fmt.Errorf("decode judge response: %w", err)}
	}
	return envelope.RatedDecision, nil
}

// mergeRatings maps judge ratings back onto the answer, preserving the
// answer's order and original fields.
func mergeRatings(answer, rated []types.Decision) []types.Decision {
	byKey := map[string]types.Decision{}
	for _, r := range rated {
		byKey[decisionKey(r)] = r
	}

	out := make([]types.Decision, len(answer))
	copy(out, answer)
	for i := range out {
		if r, ok := byKey[decisionKey(out[i])]; ok {
			out[i].Rating = r.Rating
			out[i].Rationale = r.Rationale
		}
	}
	return out
}

func decisionKey(d types.Decision) string {
	return strings.ToLower(strings.Join(strings.Fields(d.KeyDecision), " "))
}
