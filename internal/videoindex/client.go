package videoindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"video-insights-go/internal/logger"
	"video-insights-go/internal/token"
	"video-insights-go/internal/types"
)

// UploadError is fatal per attempt. The client never retries an upload on
// its own: a blind retry can create duplicate processing jobs upstream.
type UploadError struct {
	VideoName string
	Err       error
}

func (e *UploadError) Error() string { return fmt.Sprintf("upload %q: %v", e.VideoName, e.Err) }
func (e *UploadError) Unwrap() error { return e.Err }

// PromptContentError is any non-recoverable failure of the create-if-missing
// protocol for derived content.
type PromptContentError struct {
	VideoID string
	Err     error
}

func (e *PromptContentError) Error() string {
	return fmt.Sprintf("prompt content for video %s: %v", e.VideoID, e.Err)
}
func (e *PromptContentError) Unwrap() error { return e.Err }

// TimeoutError means the poll budget for derived content ran out. Distinct
// from PromptContentError because it is recoverable: the content may still
// appear and a later call can pick it up.
type TimeoutError struct {
	VideoID string
	Budget  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("prompt content for video %s not ready within %s", e.VideoID, e.Budget)
}

// CaptionsError is a non-success status from the captions endpoint.
type CaptionsError struct {
	VideoID string
	Err     error
}

func (e *CaptionsError) Error() string { return fmt.Sprintf("captions for video %s: %v", e.VideoID, e.Err) }
func (e *CaptionsError) Unwrap() error { return e.Err }

// Client talks to the video intelligence data plane: submit a video for
// processing and retrieve what the service derives from it.
type Client struct {
	log          *logrus.Entry
	httpClient   *http.Client
	tokens       token.Provider
	apiURL       string
	callbackURL  string
	pollInterval time.Duration
	pollBudget   time.Duration
}

func NewClient(log *logger.Logger, httpClient *http.Client, tokens token.Provider) (*Client, error) {
	apiURL := strings.TrimSpace(os.Getenv("VI_API_URL"))
	if apiURL == "" {
		apiURL = "https://api.videoindexer.ai"
	}

	callbackURL := strings.TrimSpace(os.Getenv("VI_CALLBACK_URL"))
	if callbackURL == "" {
		return nil, errors.New("VI_CALLBACK_URL not set")
	}

	budget := 5 * time.Minute
	if v := os.Getenv("VI_PROMPT_POLL_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			budget = time.Duration(parsed) * time.Second
		}
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	return &Client{
		log:          log.WithComponent("videoindex"),
		httpClient:   httpClient,
		tokens:       tokens,
		apiURL:       strings.TrimRight(apiURL, "/"),
		callbackURL:  callbackURL,
		pollInterval: 3 * time.Second,
		pollBudget:   budget,
	}, nil
}

// accountContext resolves account metadata plus an account-scoped
// Contributor token for one high-level operation.
func (c *Client) accountContext(ctx context.Context) (types.Account, types.AccessToken, error) {
	account, err := c.tokens.GetAccountMetadata(ctx)
	if err != nil {
		return types.Account{}, types.AccessToken{}, err
	}
	tok, err := c.tokens.GetAccessToken(ctx, types.PermissionContributor, types.ScopeAccount)
	if err != nil {
		return types.Account{}, types.AccessToken{}, err
	}
	return account, tok, nil
}

func (c *Client) videosURL(account types.Account, suffix string, params url.Values) string {
	u := fmt.Sprintf("%s/%s/Accounts/%s/Videos%s", c.apiURL, account.Location, account.ID, suffix)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// UploadVideo submits a processing request for a video reachable at
// sourceURL and returns the service-assigned video id. The service reports
// completion asynchronously to the configured callback URL.
func (c *Client) UploadVideo(ctx context.Context, name, sourceURL string) (string, error) {
	account, tok, err := c.accountContext(ctx)
	if err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("accessToken", tok.Value)
	params.Set("name", name)
	params.Set("privacy", "Private")
	params.Set("videoUrl", sourceURL)
	params.Set("callbackUrl", c.callbackURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.videosURL(account, "", params), nil)
	if err != nil {
		return "", &UploadError{VideoName: name, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &UploadError{VideoName: name, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &UploadError{VideoName: name, Err: fmt.Errorf("http %d: %s", resp.StatusCode, raw)}
	}

	var body struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", &UploadError{VideoName: name, Err: fmt.Errorf("decode response: %w", err)}
	}
	if body.ID == "" {
		return "", &UploadError{VideoName: name, Err: errors.New("empty video id in response")}
	}

	c.log.WithFields(logrus.Fields{"video_id": body.ID, "name": name}).Info("video submitted for processing")
	return body.ID, nil
}

// GetPromptContent fetches the derived prompt content for a processed video.
// If the service has not generated it yet (404), a one-time creation request
// is issued and the fetch is repeated at a fixed interval until it succeeds
// or the poll budget runs out.
func (c *Client) GetPromptContent(ctx context.Context, videoID string) (types.PromptContent, error) {
	account, tok, err := c.accountContext(ctx)
	if err != nil {
		return types.PromptContent{}, err
	}

	params := url.Values{}
	params.Set("accessToken", tok.Value)
	contentURL := c.videosURL(account, "/"+videoID+"/PromptContent", params)

	status, raw, err := c.fetch(ctx, contentURL)
	if err != nil {
		return types.PromptContent{}, &PromptContentError{VideoID: videoID, Err: err}
	}

	if status == http.StatusNotFound {
		c.log.WithField("video_id", videoID).Info("prompt content missing, requesting creation")
		if err := c.createPromptContent(ctx, contentURL, videoID); err != nil {
			return types.PromptContent{}, err
		}
		raw, err = c.pollPromptContent(ctx, contentURL, videoID)
		if err != nil {
			return types.PromptContent{}, err
		}
	} else if status != http.StatusOK {
		return types.PromptContent{}, &PromptContentError{VideoID: videoID, Err: fmt.Errorf("http %d: %s", status, raw)}
	}

	var content types.PromptContent
	if err := json.Unmarshal(raw, &content); err != nil {
		return types.PromptContent{}, &PromptContentError{VideoID: videoID, Err: fmt.Errorf("decode response: %w", err)}
	}
	return content, nil
}

func (c *Client) createPromptContent(ctx context.Context, contentURL, videoID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, contentURL, nil)
	if err != nil {
		return &PromptContentError{VideoID: videoID, Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &PromptContentError{VideoID: videoID, Err: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &PromptContentError{VideoID: videoID, Err: fmt.Errorf("create: http %d: %s", resp.StatusCode, raw)}
	}
	return nil
}

// pollPromptContent repeats the fetch at the configured interval until the
// content is ready. The budget is enforced through the context so
// cancellation is observed between attempts, not only at the start.
func (c *Client) pollPromptContent(ctx context.Context, contentURL, videoID string) ([]byte, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.pollBudget)
	defer cancel()

	var raw []byte
	attempt := 0
	op := func() error {
		attempt++
		status, body, err := c.fetch(pollCtx, contentURL)
		if err != nil {
			if pollCtx.Err() != nil {
				return backoff.Permanent(pollCtx.Err())
			}
			return backoff.Permanent(&PromptContentError{VideoID: videoID, Err: err})
		}
		switch status {
		case http.StatusOK:
			raw = body
			return nil
		case http.StatusNotFound:
			c.log.WithFields(logrus.Fields{"video_id": videoID, "attempt": attempt}).Debug("prompt content not ready")
			return errors.New("not ready")
		default:
			return backoff.Permanent(&PromptContentError{VideoID: videoID, Err: fmt.Errorf("poll: http %d: %s", status, body)})
		}
	}

	bo := backoff.WithContext(backoff.NewConstantBackOff(c.pollInterval), pollCtx)
	if err := backoff.Retry(op, bo); err != nil {
		var pce *PromptContentError
		if errors.As(err, &pce) {
			return nil, pce
		}
		if ctx.Err() != nil {
			return nil, &PromptContentError{VideoID: videoID, Err: ctx.Err()}
		}
		// Whatever is left is the budget running out, either the deadline
		// firing or backoff stopping because the next wait would cross it.
		return nil, &TimeoutError{VideoID: videoID, Budget: c.pollBudget}
	}
	return raw, nil
}

// GetCaptions fetches captions in the given format (Vtt, Ttml, Srt, Txt or
// Csv) and language.
func (c *Client) GetCaptions(ctx context.Context, videoID, format, language string) (string, error) {
	account, tok, err := c.accountContext(ctx)
	if err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("accessToken", tok.Value)
	params.Set("format", format)
	params.Set("language", language)

	status, raw, err := c.fetch(ctx, c.videosURL(account, "/"+videoID+"/Captions", params))
	if err != nil {
		return "", &CaptionsError{VideoID: videoID, Err: err}
	}
	if status != http.StatusOK {
		return "", &CaptionsError{VideoID: videoID, Err: fmt.Errorf("http %d: %s", status, raw)}
	}
	return string(raw), nil
}

func (c *Client) fetch(ctx context.Context, u string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, raw, nil
}
