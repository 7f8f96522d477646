package search

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
	"video-insights-go/internal/types"
)

func newTestIndex(t *testing.T, handler http.Handler) VectorIndex {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	t.Setenv("VECTOR_INDEX_HOST", srv.URL)
	t.Setenv("VECTOR_INDEX_API_KEY", "test-key")
	t.Setenv("VECTOR_INDEX_NAMESPACE", "test-ns")

	ix, err := NewHTTPIndex(logger.Discard(), srv.Client())
	require.NoError(t, err)
	return ix
}

func TestUpsertSendsDocumentsAsVectors(t *testing.T) {
	var got upsertRequest
	ix := newTestIndex(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/vectors/upsert", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"upsertedCount":1}`)
	}))

	err := ix.Upsert(context.Background(), []Document{{
		ID:        "doc-1",
		VideoID:   "vid-1",
		VideoName: "town-hall",
		Start:     "0:00:00",
		End:       "0:01:00",
		Content:   "the council voted",
		Embedding: []float32{0.1, 0.2},
	}})
	require.NoError(t, err)

	assert.Equal(t, "test-ns", got.Namespace)
	require.Len(t, got.Vectors, 1)
	assert.Equal(t, "doc-1", got.Vectors[0].ID)
	assert.Equal(t, []float32{0.1, 0.2}, got.Vectors[0].Values)
	assert.Equal(t, "vid-1", got.Vectors[0].Metadata["videoId"])
	assert.Equal(t, "the council voted", got.Vectors[0].Metadata["content"])
}

func TestUpsertNoDocumentsIsNoop(t *testing.T) {
	ix := newTestIndex(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an empty upsert")
	}))

	require.NoError(t, ix.Upsert(context.Background(), nil))
}

func TestQueryDecodesMatches(t *testing.T) {
	ix := newTestIndex(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/query", r.URL.Path)

		var req queryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 3, req.TopK)
		assert.True(t, req.IncludeMetadata)

		fmt.Fprint(w, `{"matches":[{"id":"doc-1","metadata":{"videoId":"vid-1","videoName":"town-hall","start":"0:00:00","end":"0:01:00","content":"the council voted"}}]}`)
	}))

	docs, err := ix.Query(context.Background(), []float32{0.1}, 3)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc-1", docs[0].ID)
	assert.Equal(t, "vid-1", docs[0].VideoID)
	assert.Equal(t, "the council voted", docs[0].Content)
}

func TestQueryRequiresVector(t *testing.T) {
	ix := newTestIndex(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	_, err := ix.Query(context.Background(), nil, 5)
	require.Error(t, err)
}

type stubGateway struct {
	embedded [][]string
}

func (g *stubGateway) Complete(ctx context.Context, system, user, schemaName string, schema map[string]any) (string, error) {
	return "", fmt.Errorf("not used")
}

func (g *stubGateway) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	g.embedded = append(g.embedded, inputs)
	out := make([][]float32, len(inputs))
	for i := range out {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}

type memIndex struct {
	docs []Document
}

func (m *memIndex) Upsert(ctx context.Context, docs []Document) error {
	m.docs = append(m.docs, docs...)
	return nil
}

func (m *memIndex) Query(ctx context.Context, vector []float32, topK int) ([]Document, error) {
	return m.docs, nil
}

func TestPublishEmbedsEverySection(t *testing.T) {
	gw := &stubGateway{}
	ix := &memIndex{}
	p := NewPublisher(logger.Discard(), gw, ix)

	sections := []types.Section{
		{Start: "0:00:00", End: "0:01:00", Content: "opening"},
		{Start: "0:01:00", End: "0:02:00", Content: "vote"},
	}
	err := p.Publish(context.Background(), "vid-1", "town-hall", sections, nil)
	require.NoError(t, err)

	require.Len(t, gw.embedded, 1)
	assert.Equal(t, []string{"opening", "vote"}, gw.embedded[0])

	require.Len(t, ix.docs, 2)
	assert.Equal(t, "vid-1", ix.docs[0].VideoID)
	assert.Equal(t, "town-hall", ix.docs[0].VideoName)
	assert.NotEmpty(t, ix.docs[0].ID)
	assert.Equal(t, "opening", ix.docs[0].Content)
}

func TestPublishNoSectionsIsNoop(t *testing.T) {
	gw := &stubGateway{}
	ix := &memIndex{}
	p := NewPublisher(logger.Discard(), gw, ix)

	require.NoError(t, p.Publish(context.Background(), "vid-1", "town-hall", nil, nil))
	assert.Empty(t, gw.embedded)
	assert.Empty(t, ix.docs)
}
