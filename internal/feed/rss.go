package feed

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"video-insights-go/internal/logger"
	"video-insights-go/internal/types"
)

// Source produces the ordered, finite list of feed items to ingest. The
// list is already capped and deduplicated from the pipeline's point of view.
type Source interface {
	Items(ctx context.Context) ([]types.FeedItem, error)
}

type rssSource struct {
	log        *logrus.Entry
	httpClient *http.Client
	feedURL    string
	maxItems   int
}

// NewRSS reads FEED_URL and NUMBER_OF_VIDEOS from env. The cap defaults to
// one item, matching the conservative ingestion default.
func NewRSS(log *logger.Logger, httpClient *http.Client) (Source, error) {
	feedURL := strings.TrimSpace(os.Getenv("FEED_URL"))
	if feedURL == "" {
		return nil, errors.New("FEED_URL not set")
	}

	maxItems := 1
	if v := os.Getenv("NUMBER_OF_VIDEOS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			maxItems = parsed
		}
	}

	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &rssSource{
		log:        log.WithComponent("feed"),
		httpClient: httpClient,
		feedURL:    feedURL,
		maxItems:   maxItems,
	}, nil
}

type rssDocument struct {
	Channel struct {
		Items []struct {
			Title     string `xml:"title"`
			Enclosure struct {
				URL string `xml:"url,attr"`
			} `xml:"enclosure"`
		} `xml:"item"`
	} `xml:"channel"`
}

func (s *rssSource) Items(ctx context.Context) ([]types.FeedItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.feedURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch feed: http %d", resp.StatusCode)
	}

	var doc rssDocument
	if err := xml.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	items := make([]types.FeedItem, 0, s.maxItems)
	for _, it := range doc.Channel.Items {
		if len(items) == s.maxItems {
			break
		}
		if strings.TrimSpace(it.Enclosure.URL) == "" {
			continue
		}
		items = append(items, types.FeedItem{
			Title:        strings.TrimSpace(it.Title),
			EnclosureURL: it.Enclosure.URL,
		})
	}

	s.log.WithField("items", len(items)).Info("feed fetched")
	return items, nil
}
