package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"video-insights-go/internal/logger"
)

// Document is one indexed section of a video, ready for vector retrieval.
type Document struct {
	ID        string    `json:"id"`
	VideoID   string    `json:"videoId"`
	VideoName string    `json:"videoName"`
	Start     string    `json:"start"`
	End       string    `json:"end"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// VectorIndex is the retrieval collaborator: upsert embedded documents and
// query them back by vector similarity.
type VectorIndex interface {
	Upsert(ctx context.Context, docs []Document) error
	Query(ctx context.Context, vector []float32, topK int) ([]Document, error)
}

type httpIndex struct {
	log        *logrus.Entry
	httpClient *http.Client
	host       string
	apiKey     string
	namespace  string
}

// NewHTTPIndex builds a vector index client against a Pinecone-style data
// plane (Api-Key header, /vectors/upsert and /query endpoints).
func NewHTTPIndex(log *logger.Logger, httpClient *http.Client) (VectorIndex, error) {
	host := strings.TrimSpace(os.Getenv("VECTOR_INDEX_HOST"))
	if host == "" {
		return nil, errors.New("VECTOR_INDEX_HOST not set")
	}
	apiKey := strings.TrimSpace(os.Getenv("VECTOR_INDEX_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("VECTOR_INDEX_API_KEY not set")
	}
	namespace := strings.TrimSpace(os.Getenv("VECTOR_INDEX_NAMESPACE"))
	if namespace == "" {
		namespace = "video-insights"
	}

	if httpClient == nil {
		httpClient = &http.Client{}
	}

	if !strings.Contains(host, "://") {
		host = "https://" + host
	}

	return &httpIndex{
		log:        log.WithComponent("search"),
		httpClient: httpClient,
		host:       strings.TrimRight(host, "/"),
		apiKey:     apiKey,
		namespace:  namespace,
	}, nil
}

type vector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type upsertRequest struct {
	Namespace string   `json:"namespace,omitempty"`
	Vectors   []vector `json:"vectors"`
}

type queryRequest struct {
	Namespace       string    `json:"namespace,omitempty"`
	Vector          []float32 `json:"vector"`
	TopK            int       `json:"topK"`
	IncludeMetadata bool      `json:"includeMetadata"`
}

type queryResponse struct {
	Matches []struct {
		ID       string         `json:"id"`
		Metadata map[string]any `json:"metadata"`
	} `json:"matches"`
}

func (ix *httpIndex) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	req := upsertRequest{Namespace: ix.namespace}
	for _, d := range docs {
		req.Vectors = append(req.Vectors, vector{
			ID:     d.ID,
			Values: d.Embedding,
			Metadata: map[string]any{
				"videoId":   d.VideoID,
				"videoName": d.VideoName,
				"start":     d.Start,
				"end":       d.End,
				"content":   d.Content,
			},
		})
	}

	if err := ix.doJSON(ctx, "/vectors/upsert", req, nil); err != nil {
		return err
	}
	ix.log.WithField("documents", len(docs)).Info("sections indexed")
	return nil
}

func (ix *httpIndex) Query(ctx context.Context, vec []float32, topK int) ([]Document, error) {
	if len(vec) == 0 {
		return nil, errors.New("query vector required")
	}
	if topK <= 0 {
		topK = 10
	}

	var resp queryResponse
	if err := ix.doJSON(ctx, "/query", queryRequest{
		Namespace:       ix.namespace,
		Vector:          vec,
		TopK:            topK,
		IncludeMetadata: true,
	}, &resp); err != nil {
		return nil, err
	}

	out := make([]Document, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		doc := Document{ID: m.ID}
		if v, ok := m.Metadata["videoId"].(string); ok {
			doc.VideoID = v
		}
		if v, ok := m.Metadata["videoName"].(string); ok {
			doc.VideoName = v
		}
		if v, ok := m.Metadata["start"].(string); ok {
			doc.Start = v
		}
		if v, ok := m.Metadata["end"].(string); ok {
			doc.End = v
		}
		if v, ok := m.Metadata["content"].(string); ok {
			doc.Content = v
		}
		out = append(out, doc)
	}
	return out, nil
}

func (ix *httpIndex) doJSON(ctx context.Context, path string, body, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ix.host+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Api-Key", ix.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := ix.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("vector index http %d: %s", resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
