package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProcessingStateKnown(t *testing.T) {
	for _, s := range []ProcessingState{StateUploaded, StateProcessing, StateProcessed, StateFailed} {
		assert.True(t, s.Known(), string(s))
	}

	// Matching is case-sensitive and verbatim.
	assert.False(t, ProcessingState("processed").Known())
	assert.False(t, ProcessingState("PROCESSED").Known())
	assert.False(t, ProcessingState("Done").Known())
	assert.False(t, ProcessingState("").Known())
}

func TestProcessingStateTerminal(t *testing.T) {
	assert.False(t, StateUploaded.Terminal())
	assert.False(t, StateProcessing.Terminal())
	assert.True(t, StateProcessed.Terminal())
	assert.True(t, StateFailed.Terminal())
}

func TestAccessTokenExpired(t *testing.T) {
	ttl := time.Hour
	skew := 5 * time.Minute

	fresh := AccessToken{Value: "tok", IssuedAt: time.Now()}
	assert.False(t, fresh.Expired(ttl, skew))

	nearExpiry := AccessToken{Value: "tok", IssuedAt: time.Now().Add(-56 * time.Minute)}
	assert.True(t, nearExpiry.Expired(ttl, skew))

	stale := AccessToken{Value: "tok", IssuedAt: time.Now().Add(-2 * time.Hour)}
	assert.True(t, stale.Expired(ttl, skew))

	var zero AccessToken
	assert.True(t, zero.Expired(ttl, skew))
}
