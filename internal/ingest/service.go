package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"video-insights-go/internal/blobstore"
	"video-insights-go/internal/feed"
	"video-insights-go/internal/logger"
	"video-insights-go/internal/pipeline"
	"video-insights-go/internal/types"
)

// readURLTTL is how long the video intelligence service gets to fetch the
// stored bytes.
const readURLTTL = 24 * time.Hour

// VideoUploader is the slice of the video intelligence client the ingestion
// path needs.
type VideoUploader interface {
	UploadVideo(ctx context.Context, name, sourceURL string) (string, error)
}

// Summary reports one ingestion sweep.
type Summary struct {
	Submitted []string `json:"submitted"`
	Skipped   []string `json:"skipped"`
	Failed    []string `json:"failed,omitempty"`
}

// Service pulls items from the feed, stores their bytes and submits each
// new clip for video intelligence processing.
type Service struct {
	log        *logrus.Entry
	httpClient *http.Client
	source     feed.Source
	store      blobstore.ObjectStore
	uploader   VideoUploader
	machine    *pipeline.Machine
}

func NewService(log *logger.Logger, httpClient *http.Client, source feed.Source, store blobstore.ObjectStore, uploader VideoUploader, machine *pipeline.Machine) *Service {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Service{
		log:        log.WithComponent("ingest"),
		httpClient: httpClient,
		source:     source,
		store:      store,
		uploader:   uploader,
		machine:    machine,
	}
}

// ClipID derives the stable clip identifier from an enclosure URL. The feed
// encodes it as the clip_id query parameter; the path basename is the
// fallback for feeds that don't.
func ClipID(enclosureURL string) (string, error) {
	u, err := url.Parse(enclosureURL)
	if err != nil {
		return "", fmt.Errorf("parse enclosure url: %w", err)
	}
	if id := strings.TrimSpace(u.Query().Get("clip_id")); id != "" {
		return id, nil
	}
	base := strings.TrimSuffix(path.Base(u.Path), path.Ext(u.Path))
	if base == "" || base == "." || base == "/" {
		return "", fmt.Errorf("no clip id derivable from %q", enclosureURL)
	}
	return base, nil
}

// Run performs one ingestion sweep. Failures are per-item: one bad enclosure
// does not stop the rest of the feed.
func (s *Service) Run(ctx context.Context) (Summary, error) {
	items, err := s.source.Items(ctx)
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	for _, item := range items {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}

		clipID, err := ClipID(item.EnclosureURL)
		if err != nil {
			s.log.WithField("enclosure_url", item.EnclosureURL).WithField("error", err.Error()).Warn("skipping feed item")
			sum.Failed = append(sum.Failed, item.EnclosureURL)
			continue
		}

		log := s.log.WithFields(logrus.Fields{"clip_id": clipID, "title": item.Title})

		if _, created := s.machine.Register(clipID, item.Title, item.EnclosureURL); !created {
			log.Info("clip already ingested, skipping")
			sum.Skipped = append(sum.Skipped, clipID)
			continue
		}

		if err := s.ingestOne(ctx, clipID, item); err != nil {
			log.WithField("error", err.Error()).Error("ingestion failed for clip")
			sum.Failed = append(sum.Failed, clipID)
			continue
		}
		sum.Submitted = append(sum.Submitted, clipID)
	}
	return sum, nil
}

func (s *Service) ingestOne(ctx context.Context, clipID string, item types.FeedItem) error {
	name := clipID + ".mp4"

	data, err := s.download(ctx, item.EnclosureURL)
	if err != nil {
		return err
	}
	if err := s.store.Upload(ctx, name, data); err != nil {
		return err
	}

	readURL, err := s.store.GetReadURL(ctx, name, readURLTTL)
	if err != nil {
		return err
	}
	if readURL == "" {
		return fmt.Errorf("stored object %q has no readable url", name)
	}

	// Upload is never retried here: a duplicate submission would create a
	// duplicate processing job upstream.
	videoID, err := s.uploader.UploadVideo(ctx, name, readURL)
	if err != nil {
		return err
	}
	s.machine.BindUpload(clipID, videoID)
	return nil
}

func (s *Service) download(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download enclosure: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download enclosure: http %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
