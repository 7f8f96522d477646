package extractor

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-insights-go/internal/llm"
	"video-insights-go/internal/logger"
	"video-insights-go/internal/types"
)

// stubGateway routes every Complete call through a single func so each test
// can script its own responses.
type stubGateway struct {
	complete func(ctx context.Context, system, user string) (string, error)
	calls    atomic.Int64
}

func (g *stubGateway) Complete(ctx context.Context, system, user, schemaName string, schema map[string]any) (string, error) {
	g.calls.Add(1)
	return g.complete(ctx, system, user)
}

func (g *stubGateway) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range out {
		out[i] = []float32{0}
	}
	return out, nil
}

func envelope(decisions ...string) string {
	parts := make([]string, len(decisions))
	for i, d := range decisions {
		parts[i] = fmt.Sprintf(`{"start":"0:00:00","end":"0:01:00","key_decision":%q}`, d)
	}
	return `{"extracted_decision":[` + strings.Join(parts, ",") + `]}`
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}
}

func perSectionUnits(n int) []types.ExtractionUnit {
	units := make([]types.ExtractionUnit, n)
	for i := range units {
		units[i] = types.ExtractionUnit{
			SequenceIndex: i,
			Sections:      []types.Section{{Start: "0:00:00", End: "0:01:00", Content: fmt.Sprintf("section-%d", i)}},
		}
	}
	return units
}

func TestExtractMergesInUnitOrder(t *testing.T) {
	// Later units finish first; the merged result must still follow the
	// sequence index order.
	gw := &stubGateway{complete: func(ctx context.Context, system, user string) (string, error) {
		for i := 0; i < 3; i++ {
			if strings.Contains(system, fmt.Sprintf("section-%d", i)) {
				time.Sleep(time.Duration(3-i) * 20 * time.Millisecond)
				return envelope(fmt.Sprintf("decision-%d", i)), nil
			}
		}
		return "", fmt.Errorf("unrecognized unit in system prompt")
	}}

	o := New(logger.Discard(), gw).WithRetryPolicy(fastPolicy()).WithMaxConcurrency(3)
	res, err := o.Extract(context.Background(), perSectionUnits(3))
	require.NoError(t, err)
	require.Empty(t, res.FailedUnits)

	require.Len(t, res.Decisions, 3)
	for i, d := range res.Decisions {
		assert.Equal(t, fmt.Sprintf("decision-%d", i), d.KeyDecision)
	}
}

func TestExtractPartialFailure(t *testing.T) {
	gw := &stubGateway{complete: func(ctx context.Context, system, user string) (string, error) {
		if strings.Contains(system, "section-1") {
			return "", &llm.StatusError{StatusCode: 500, Body: "boom"}
		}
		for i := 0; i < 3; i++ {
			if strings.Contains(system, fmt.Sprintf("section-%d", i)) {
				return envelope(fmt.Sprintf("decision-%d", i)), nil
			}
		}
		return "", fmt.Errorf("unrecognized unit in system prompt")
	}}

	o := New(logger.Discard(), gw).WithRetryPolicy(fastPolicy())
	res, err := o.Extract(context.Background(), perSectionUnits(3))
	require.NoError(t, err)

	assert.Equal(t, []int{1}, res.FailedUnits)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].SequenceIndex)

	require.Len(t, res.Decisions, 2)
	assert.Equal(t, "decision-0", res.Decisions[0].KeyDecision)
	assert.Equal(t, "decision-2", res.Decisions[1].KeyDecision)
}

func TestExtractRetriesRateLimitUntilExhausted(t *testing.T) {
	gw := &stubGateway{complete: func(ctx context.Context, system, user string) (string, error) {
		return "", &llm.StatusError{StatusCode: 429, Body: "slow down"}
	}}

	o := New(logger.Discard(), gw).WithRetryPolicy(fastPolicy())
	res, err := o.Extract(context.Background(), perSectionUnits(1))
	require.NoError(t, err)

	assert.Equal(t, []int{0}, res.FailedUnits)
	assert.Empty(t, res.Decisions)
	assert.EqualValues(t, 5, gw.calls.Load())
}

func TestExtractRecoversAfterRateLimit(t *testing.T) {
	var attempts atomic.Int64
	gw := &stubGateway{complete: func(ctx context.Context, system, user string) (string, error) {
		if attempts.Add(1) <= 2 {
			return "", &llm.StatusError{StatusCode: 429, Body: "slow down"}
		}
		return envelope("recovered"), nil
	}}

	o := New(logger.Discard(), gw).WithRetryPolicy(fastPolicy())
	res, err := o.Extract(context.Background(), perSectionUnits(1))
	require.NoError(t, err)

	require.Empty(t, res.FailedUnits)
	require.Len(t, res.Decisions, 1)
	assert.Equal(t, "recovered", res.Decisions[0].KeyDecision)
	assert.EqualValues(t, 3, gw.calls.Load())
}

func TestExtractNonRateLimitErrorIsNotRetried(t *testing.T) {
	gw := &stubGateway{complete: func(ctx context.Context, system, user string) (string, error) {
		return "", &llm.StatusError{StatusCode: 503, Body: "unavailable"}
	}}

	o := New(logger.Discard(), gw).WithRetryPolicy(fastPolicy())
	res, err := o.Extract(context.Background(), perSectionUnits(1))
	require.NoError(t, err)

	assert.Equal(t, []int{0}, res.FailedUnits)
	assert.EqualValues(t, 1, gw.calls.Load())
}

func TestExtractMalformedResponseYieldsNoDecisions(t *testing.T) {
	gw := &stubGateway{complete: func(ctx context.Context, system, user string) (string, error) {
		return "sorry, I cannot produce JSON today", nil
	}}

	o := New(logger.Discard(), gw).WithRetryPolicy(fastPolicy())
	res, err := o.Extract(context.Background(), perSectionUnits(1))
	require.NoError(t, err)

	assert.Empty(t, res.FailedUnits)
	assert.Empty(t, res.Decisions)
}

func TestExtractParsesSchemaEnvelope(t *testing.T) {
	gw := &stubGateway{complete: func(ctx context.Context, system, user string) (string, error) {
		return `{"extracted_decision":[{"start":"0:01:00","end":"0:01:30","key_decision":"Council voted to adjourn"}]}`, nil
	}}

	o := New(logger.Discard(), gw).WithRetryPolicy(fastPolicy())
	res, err := o.Extract(context.Background(), perSectionUnits(1))
	require.NoError(t, err)

	require.Len(t, res.Decisions, 1)
	assert.Equal(t, "0:01:00", res.Decisions[0].Start)
	assert.Equal(t, "0:01:30", res.Decisions[0].End)
	assert.Equal(t, "Council voted to adjourn", res.Decisions[0].KeyDecision)
}

func TestExtractCancelledBeforeAdmission(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gw := &stubGateway{complete: func(ctx context.Context, system, user string) (string, error) {
		return envelope("never"), nil
	}}

	o := New(logger.Discard(), gw).WithRetryPolicy(fastPolicy()).WithMaxConcurrency(1)
	res, err := o.Extract(ctx, perSectionUnits(3))
	require.Error(t, err)

	assert.Len(t, res.FailedUnits, 3)
	assert.Empty(t, res.Decisions)
}

func TestExtractNoUnits(t *testing.T) {
	gw := &stubGateway{complete: func(ctx context.Context, system, user string) (string, error) {
		t.Fatal("gateway must not be called for an empty plan")
		return "", nil
	}}

	o := New(logger.Discard(), gw)
	res, err := o.Extract(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Decisions)
	assert.Empty(t, res.FailedUnits)
}
