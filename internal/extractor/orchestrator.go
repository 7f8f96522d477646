package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"video-insights-go/internal/llm"
	"video-insights-go/internal/logger"
	"video-insights-go/internal/prompts"
	"video-insights-go/internal/types"
)

// ExtractionError is a per-unit failure. It never aborts the batch; the
// orchestrator reports it alongside the decisions gathered from the units
// that succeeded.
type ExtractionError struct {
	SequenceIndex int
	Err           error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction unit %d: %v", e.SequenceIndex, e.Err)
}
func (e *ExtractionError) Unwrap() error { return e.Err }

// RetryPolicy governs the per-unit retry loop. Only rate-limit responses are
// retried; the delays for the defaults are 2, 4, 8, 16, 32 seconds.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 2 * time.Second}
}

// Result is the merged outcome of one extraction run. Decisions are ordered
// by the sequence index of their originating unit regardless of completion
// order. FailedUnits lists the sequence indices that exhausted their retry
// budget or failed outright.
type Result struct {
	Decisions   []types.Decision   `json:"decisions"`
	FailedUnits []int              `json:"failed_units,omitempty"`
	Errors      []*ExtractionError `json:"-"`
}

// Orchestrator fans extraction units out to the LLM gateway under a
// concurrency cap and merges the partial results deterministically.
type Orchestrator struct {
	log            *logrus.Entry
	gateway        llm.Gateway
	maxConcurrency int64
	retry          RetryPolicy
}

func New(log *logger.Logger, gateway llm.Gateway) *Orchestrator {
	maxConcurrency := int64(5)
	if v := os.Getenv("EXTRACT_MAX_CONCURRENCY"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			maxConcurrency = int64(parsed)
		}
	}
	return &Orchestrator{
		log:            log.WithComponent("extractor"),
		gateway:        gateway,
		maxConcurrency: maxConcurrency,
		retry:          DefaultRetryPolicy(),
	}
}

// WithRetryPolicy overrides the default retry policy. Used by tests to keep
// backoff delays short.
func (o *Orchestrator) WithRetryPolicy(p RetryPolicy) *Orchestrator {
	o.retry = p
	return o
}

// WithMaxConcurrency overrides the fan-out cap.
func (o *Orchestrator) WithMaxConcurrency(n int64) *Orchestrator {
	if n > 0 {
		o.maxConcurrency = n
	}
	return o
}

// Extract runs one LLM call per unit, at most maxConcurrency in flight.
// A unit that fails contributes zero decisions; the run only errors as a
// whole when the context is cancelled before all units were admitted.
func (o *Orchestrator) Extract(ctx context.Context, units []types.ExtractionUnit) (Result, error) {
	if len(units) == 0 {
		return Result{Decisions: []types.Decision{}}, nil
	}

	sem := semaphore.NewWeighted(o.maxConcurrency)
	var wg sync.WaitGroup

	// Slot per unit; each goroutine writes only its own index, so the merge
	// needs no locking.
	decisions := make([][]types.Decision, len(units))
	failures := make([]*ExtractionError, len(units))

	var admissionErr error
	for i := range units {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Cancellation stops admission immediately; units never
			// admitted are reported as failed.
			admissionErr = err
			for j := i; j < len(units); j++ {
				failures[j] = &ExtractionError{SequenceIndex: units[j].SequenceIndex, Err: err}
			}
			break
		}

		wg.Add(1)
		go func(slot int, unit types.ExtractionUnit) {
			defer wg.Done()
			defer sem.Release(1)

			ds, err := o.extractUnit(ctx, unit)
			if err != nil {
				failures[slot] = &ExtractionError{SequenceIndex: unit.SequenceIndex, Err: err}
				o.log.WithFields(logrus.Fields{
					"sequence_index": unit.SequenceIndex,
					"error":          err.Error(),
				}).Warn("extraction unit failed")
				return
			}
			decisions[slot] = ds
		}(i, units[i])
	}

	wg.Wait()

	res := Result{Decisions: []types.Decision{}}
	for i := range units {
		if failures[i] != nil {
			res.FailedUnits = append(res.FailedUnits, failures[i].SequenceIndex)
			res.Errors = append(res.Errors, failures[i])
			continue
		}
		res.Decisions = append(res.Decisions, decisions[i]...)
	}

	o.log.WithFields(logrus.Fields{
		"units":     len(units),
		"decisions": len(res.Decisions),
		"failed":    len(res.FailedUnits),
	}).Info("extraction run merged")

	return res, admissionErr
}

// extractUnit performs the LLM call for one unit under the retry policy.
// Only 429s are retried; any other failure is permanent for the unit.
func (o *Orchestrator) extractUnit(ctx context.Context, unit types.ExtractionUnit) ([]types.Decision, error) {
	system := prompts.ExtractionSystem + "\n\nContext: " + prompts.SectionsContext(unit.Sections)

	var content string
	op := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		out, err := o.gateway.Complete(ctx, system, prompts.ExtractionUser, prompts.ExtractionSchemaName, prompts.ExtractionSchema())
		if err != nil {
			if llm.IsRateLimited(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		content = out
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = o.retry.BaseDelay
	expo.Multiplier = 2
	expo.RandomizationFactor = 0
	expo.MaxInterval = 64 * time.Second
	expo.MaxElapsedTime = 0

	attempts := o.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(attempts-1)), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}

	return decodeDecisions(content, o.log, unit.SequenceIndex), nil
}

// decodeDecisions parses the schema-constrained response. A malformed or
// empty payload degrades to zero decisions for the unit rather than failing
// the batch.
func decodeDecisions(content string, log *logrus.Entry, sequenceIndex int) []types.Decision {
	raw := []byte(content)
	start := bytes.IndexByte(raw, '{')
	end := bytes.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		log.WithField("sequence_index", sequenceIndex).Warn("llm response contained no JSON object, treating as no decisions")
		return nil
	}

	var envelope struct {
		ExtractedDecision []types.Decision `json:"extracted_decision"`
	}
	if err := json.Unmarshal(raw[start:end+1], &envelope); err != nil {
		log.WithFields(logrus.Fields{
			"sequence_index": sequenceIndex,
			"error":          err.Error(),
		}).Warn("llm response failed schema decode, treating as no decisions")
		return nil
	}
	return envelope.ExtractedDecision
}
