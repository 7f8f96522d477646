package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-insights-go/internal/logger"
)

func newTestGateway(t *testing.T, handler http.Handler) Gateway {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	t.Setenv("LLM_API_KEY", "test-key")
	t.Setenv("LLM_GATEWAY_URL", srv.URL)
	t.Setenv("LLM_MODEL", "test-model")

	gw, err := NewClient(logger.Discard(), srv.Client())
	require.NoError(t, err)
	return gw
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("LLM_API_KEY", "")
	_, err := NewClient(logger.Discard(), nil)
	require.Error(t, err)
}

func TestCompleteSendsSchemaConstrainedRequest(t *testing.T) {
	var got map[string]any
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"choices":[{"message":{"content":"{\"extracted_decision\":[]}"}}]}`)
	}))

	schema := map[string]any{"type": "object"}
	content, err := gw.Complete(context.Background(), "system prompt", "user prompt", "extracted_decision", schema)
	require.NoError(t, err)
	assert.Equal(t, `{"extracted_decision":[]}`, content)

	assert.Equal(t, "test-model", got["model"])
	rf, ok := got["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_schema", rf["type"])

	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
}

func TestCompleteSurfacesStatusError(t *testing.T) {
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))

	_, err := gw.Complete(context.Background(), "s", "u", "n", nil)
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))

	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusTooManyRequests, serr.StatusCode)
}

func TestIsRateLimitedOnlyMatches429(t *testing.T) {
	assert.True(t, IsRateLimited(&StatusError{StatusCode: 429}))
	assert.False(t, IsRateLimited(&StatusError{StatusCode: 500}))
	assert.False(t, IsRateLimited(fmt.Errorf("connection refused")))
	assert.False(t, IsRateLimited(nil))
}

func TestEmbedPreservesInputOrder(t *testing.T) {
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/embeddings", r.URL.Path)
		// Out-of-order data entries must be mapped back by index.
		fmt.Fprint(w, `{"data":[{"embedding":[2.0],"index":1},{"embedding":[1.0],"index":0}]}`)
	}))

	vecs, err := gw.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1.0}, vecs[0])
	assert.Equal(t, []float32{2.0}, vecs[1])
}

func TestEmbedMissingIndexIsAnError(t *testing.T) {
	gw := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"embedding":[1.0],"index":0}]}`)
	}))

	_, err := gw.Embed(context.Background(), []string{"first", "second"})
	require.Error(t, err)
}
