package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-insights-go/internal/logger"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>City Council Sessions</title>
    <item>
      <title>Session 1</title>
      <enclosure url="https://cdn.example.com/s1.mp4?clip_id=clip-1" type="video/mp4"/>
    </item>
    <item>
      <title>No Enclosure</title>
    </item>
    <item>
      <title>Session 2</title>
      <enclosure url="https://cdn.example.com/s2.mp4?clip_id=clip-2" type="video/mp4"/>
    </item>
  </channel>
</rss>`

func newTestSource(t *testing.T, maxItems string) Source {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sampleFeed)
	}))
	t.Cleanup(srv.Close)

	t.Setenv("FEED_URL", srv.URL)
	t.Setenv("NUMBER_OF_VIDEOS", maxItems)

	s, err := NewRSS(logger.Discard(), srv.Client())
	require.NoError(t, err)
	return s
}

func TestNewRSSRequiresFeedURL(t *testing.T) {
	t.Setenv("FEED_URL", "")
	_, err := NewRSS(logger.Discard(), nil)
	require.Error(t, err)
}

func TestItemsSkipsEntriesWithoutEnclosure(t *testing.T) {
	s := newTestSource(t, "10")

	items, err := s.Items(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "Session 1", items[0].Title)
	assert.Equal(t, "https://cdn.example.com/s1.mp4?clip_id=clip-1", items[0].EnclosureURL)
	assert.Equal(t, "Session 2", items[1].Title)
}

func TestItemsHonorsCap(t *testing.T) {
	s := newTestSource(t, "")

	// The cap defaults to one item.
	items, err := s.Items(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Session 1", items[0].Title)
}
