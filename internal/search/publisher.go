package search

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"video-insights-go/internal/llm"
	"video-insights-go/internal/logger"
	"video-insights-go/internal/types"
)

// Publisher embeds the sections of a finished run and upserts them into the
// vector index so the extracted decisions can be retrieved with context.
type Publisher struct {
	log     *logrus.Entry
	gateway llm.Gateway
	index   VectorIndex
}

func NewPublisher(log *logger.Logger, gateway llm.Gateway, index VectorIndex) *Publisher {
	return &Publisher{
		log:     log.WithComponent("search"),
		gateway: gateway,
		index:   index,
	}
}

func (p *Publisher) Publish(ctx context.Context, videoID, videoName string, sections []types.Section, decisions []types.Decision) error {
	if len(sections) == 0 {
		return nil
	}

	texts := make([]string, len(sections))
	for i, s := range sections {
		texts[i] = s.Content
	}
	embeddings, err := p.gateway.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed sections for video %s: %w", videoID, err)
	}

	docs := make([]Document, len(sections))
	for i, s := range sections {
		docs[i] = Document{
			ID:        uuid.New().String(),
			VideoID:   videoID,
			VideoName: videoName,
			Start:     s.Start,
			End:       s.End,
			Content:   s.Content,
			Embedding: embeddings[i],
		}
	}

	if err := p.index.Upsert(ctx, docs); err != nil {
		return fmt.Errorf("index sections for video %s: %w", videoID, err)
	}

	p.log.WithFields(logrus.Fields{
		"video_id":  videoID,
		"sections":  len(sections),
		"decisions": len(decisions),
	}).Info("run published for retrieval")
	return nil
}

// Search embeds the query text and returns the closest section documents.
func (p *Publisher) Search(ctx context.Context, text string, topK int) ([]Document, error) {
	vecs, err := p.gateway.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return p.index.Query(ctx, vecs[0], topK)
}
