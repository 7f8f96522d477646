package types

import "time"

// ProcessingState is the lifecycle state reported by the video intelligence
// service for one uploaded video. Values must match the callback payload
// verbatim (case-sensitive).
type ProcessingState string

const (
	StateUploaded   ProcessingState = "Uploaded"
	StateProcessing ProcessingState = "Processing"
	StateProcessed  ProcessingState = "Processed"
	StateFailed     ProcessingState = "Failed"
)

// Terminal reports whether no further transition is valid from s.
func (s ProcessingState) Terminal() bool {
	return s == StateProcessed || s == StateFailed
}

// Known reports whether s is one of the four recognized states. Anything
// else coming in over the callback is ignored by the pipeline.
func (s ProcessingState) Known() bool {
	switch s {
	case StateUploaded, StateProcessing, StateProcessed, StateFailed:
		return true
	}
	return false
}

// VideoAsset tracks one video from ingestion through indexing. ClipID is
// derived from the enclosure URL query parameters and is unique per asset;
// re-ingesting a known clip id is a no-op.
type VideoAsset struct {
	ClipID      string          `json:"clip_id"`
	VideoID     string          `json:"video_id,omitempty"`
	DisplayName string          `json:"display_name"`
	SourceURL   string          `json:"source_url"`
	State       ProcessingState `json:"state"`
}

// PromptContent is the time-segmented transcript/metadata document the video
// intelligence service derives for one video. Sections are ordered by start
// time, non-overlapping, and treated as an immutable snapshot once fetched.
type PromptContent struct {
	VideoName string    `json:"name"`
	Sections  []Section `json:"sections"`
}

// Section is one time-bounded slice of PromptContent. Content is free text
// (transcript plus visual/OCR tags) with no length bound.
type Section struct {
	Start   string `json:"start"`
	End     string `json:"end"`
	Content string `json:"content"`
}

// ExtractionUnit groups one or more consecutive sections for a single LLM
// extraction call. SequenceIndex is the index of the unit's first section in
// the original ordering and is the sole merge key for concurrent results.
type ExtractionUnit struct {
	SequenceIndex int       `json:"sequence_index"`
	Sections      []Section `json:"sections"`
}

// Decision is one structured key decision extracted from a video. Rating and
// Rationale are populated only after a validation pass.
type Decision struct {
	Start       string `json:"start"`
	End         string `json:"end"`
	KeyDecision string `json:"key_decision"`
	Rating      int    `json:"rating,omitempty"`
	Rationale   string `json:"rationale,omitempty"`
}

// TokenPermission mirrors the control plane's access token permission levels.
type TokenPermission string

const (
	PermissionReader                TokenPermission = "Reader"
	PermissionContributor           TokenPermission = "Contributor"
	PermissionMyAccessAdministrator TokenPermission = "MyAccessAdministrator"
	PermissionOwner                 TokenPermission = "Owner"
)

// TokenScope mirrors the control plane's access token scopes.
type TokenScope string

const (
	ScopeAccount TokenScope = "Account"
	ScopeProject TokenScope = "Project"
	ScopeVideo   TokenScope = "Video"
)

// AccessToken is a short-lived capability for one class of data plane
// operation. IssuedAt lets callers reuse a token until near expiry instead
// of reissuing per call.
type AccessToken struct {
	Value      string          `json:"value"`
	Scope      TokenScope      `json:"scope"`
	Permission TokenPermission `json:"permission"`
	IssuedAt   time.Time       `json:"issued_at"`
}

// Expired reports whether the token is past (or within skew of) the given
// validity window.
func (t AccessToken) Expired(ttl, skew time.Duration) bool {
	if t.Value == "" {
		return true
	}
	return time.Since(t.IssuedAt) >= ttl-skew
}

// Account is the resolved video intelligence account metadata.
type Account struct {
	ID       string `json:"id"`
	Location string `json:"location"`
}

// FeedItem is one entry from the ingestion feed: a display title plus the
// enclosure URL the video bytes can be fetched from.
type FeedItem struct {
	Title        string `json:"title"`
	EnclosureURL string `json:"enclosure_url"`
}
