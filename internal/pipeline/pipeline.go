package pipeline

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"video-insights-go/internal/chunker"
	"video-insights-go/internal/extractor"
	"video-insights-go/internal/judge"
	"video-insights-go/internal/logger"
	"video-insights-go/internal/types"
)

// PromptContentFetcher is the slice of the video intelligence client the
// pipeline needs once a video reaches Processed.
type PromptContentFetcher interface {
	GetPromptContent(ctx context.Context, videoID string) (types.PromptContent, error)
}

// Publisher receives the finished run for retrieval indexing.
type Publisher interface {
	Publish(ctx context.Context, videoID, videoName string, sections []types.Section, decisions []types.Decision) error
}

// Options control one extraction run.
type Options struct {
	Mode chunker.Mode
	// SkipValidation keeps the raw extraction comparable run-over-run when
	// regression-testing against a fixed ground truth.
	SkipValidation bool
	// GroundTruth, when set, grades the extraction against this fixture
	// instead of the original section context.
	GroundTruth []types.Decision
}

// RunResult is what a completed extraction run hands back.
type RunResult struct {
	VideoID     string           `json:"video_id"`
	VideoName   string           `json:"video_name"`
	Decisions   []types.Decision `json:"decisions"`
	FailedUnits []int            `json:"failed_units,omitempty"`
	Validated   bool             `json:"validated"`
}

// Machine tracks each video asset through the processing lifecycle and
// dispatches the extraction pipeline when a callback reports Processed.
type Machine struct {
	log          *logrus.Entry
	fetcher      PromptContentFetcher
	orchestrator *extractor.Orchestrator
	judge        *judge.Judge
	publisher    Publisher
	defaults     Options

	mu      sync.Mutex
	assets  map[string]*types.VideoAsset // by clip id
	byVideo map[string]*types.VideoAsset // by service-assigned video id
}

func NewMachine(log *logger.Logger, fetcher PromptContentFetcher, orch *extractor.Orchestrator, j *judge.Judge, pub Publisher) *Machine {
	mode := chunker.Mode(strings.TrimSpace(os.Getenv("EXTRACT_MODE")))
	if mode != chunker.ModePerSection {
		mode = chunker.ModeWhole
	}
	return &Machine{
		log:          log.WithComponent("pipeline"),
		fetcher:      fetcher,
		orchestrator: orch,
		judge:        j,
		publisher:    pub,
		defaults:     Options{Mode: mode},
		assets:       map[string]*types.VideoAsset{},
		byVideo:      map[string]*types.VideoAsset{},
	}
}

// Register adds a new asset at ingestion time. Re-registering a known clip
// id is a no-op and returns created=false.
func (m *Machine) Register(clipID, displayName, sourceURL string) (*types.VideoAsset, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.assets[clipID]; ok {
		return existing, false
	}
	asset := &types.VideoAsset{
		ClipID:      clipID,
		DisplayName: displayName,
		SourceURL:   sourceURL,
		State:       types.StateUploaded,
	}
	m.assets[clipID] = asset
	return asset, true
}

// BindUpload records the service-assigned video id after a successful
// submission and moves the asset to Processing.
func (m *Machine) BindUpload(clipID, videoID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	asset, ok := m.assets[clipID]
	if !ok {
		return
	}
	asset.VideoID = videoID
	asset.State = types.StateProcessing
	m.byVideo[videoID] = asset
}

// Asset looks up a tracked asset by clip id.
func (m *Machine) Asset(clipID string) (types.VideoAsset, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.assets[clipID]; ok {
		return *a, true
	}
	return types.VideoAsset{}, false
}

var stateRank = map[types.ProcessingState]int{
	types.StateUploaded:   0,
	types.StateProcessing: 1,
	types.StateProcessed:  2,
	types.StateFailed:     2,
}

// transition applies a callback state to the asset tracked for videoID,
// creating a record on first contact. It returns the asset and whether the
// transition happened; terminal states, unknown state strings and backward
// moves are all rejected.
func (m *Machine) transition(videoID string, state types.ProcessingState) (*types.VideoAsset, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	asset, ok := m.byVideo[videoID]
	if !ok {
		asset = &types.VideoAsset{
			ClipID:      videoID,
			VideoID:     videoID,
			DisplayName: videoID,
			State:       state,
		}
		m.byVideo[videoID] = asset
		m.assets[asset.ClipID] = asset
		return asset, true
	}

	if asset.State.Terminal() {
		return asset, false
	}
	if stateRank[state] < stateRank[asset.State] {
		return asset, false
	}
	if asset.State == state {
		return asset, false
	}
	asset.State = state
	return asset, true
}

// HandleNotification drives the state machine from an inbound status
// callback. Only a transition into Processed dispatches extraction; Failed
// halts the pipeline for the asset without raising; unrecognized state
// strings are ignored.
func (m *Machine) HandleNotification(ctx context.Context, videoID string, state types.ProcessingState) (*RunResult, error) {
	log := m.log.WithFields(logrus.Fields{"video_id": videoID, "state": state})

	if !state.Known() {
		log.Warn("ignoring unrecognized processing state")
		return nil, nil
	}

	asset, transitioned := m.transition(videoID, state)
	if !transitioned {
		log.Debug("no transition applied")
		return nil, nil
	}

	switch state {
	case types.StateProcessed:
		log.Info("video processed, starting extraction")
		res, err := m.Run(ctx, videoID, m.defaults)
		if err != nil {
			return nil, err
		}
		return res, nil
	case types.StateFailed:
		log.WithField("clip_id", asset.ClipID).Error("video processing failed, halting pipeline for asset")
		return nil, nil
	default:
		return nil, nil
	}
}

// Run executes fetch → plan → extract → validate → publish for one video.
func (m *Machine) Run(ctx context.Context, videoID string, opts Options) (*RunResult, error) {
	log := m.log.WithField("video_id", videoID)

	content, err := m.fetcher.GetPromptContent(ctx, videoID)
	if err != nil {
		return nil, err
	}

	mode := opts.Mode
	if mode == "" {
		mode = m.defaults.Mode
	}
	units, err := chunker.Plan(content, mode)
	if err != nil {
		return nil, err
	}

	extracted, err := m.orchestrator.Extract(ctx, units)
	if err != nil {
		return nil, err
	}

	result := &RunResult{
		VideoID:     videoID,
		VideoName:   content.VideoName,
		Decisions:   extracted.Decisions,
		FailedUnits: extracted.FailedUnits,
	}

	if !opts.SkipValidation && m.judge != nil {
		var rated []types.Decision
		if len(opts.GroundTruth) > 0 {
			rated, err = m.judge.ValidateAgainstGroundTruth(ctx, opts.GroundTruth, extracted.Decisions)
		} else {
			rated, err = m.judge.Validate(ctx, content.Sections, extracted.Decisions)
		}
		if err != nil {
			// Validation failure does not discard the extraction; the raw
			// result is still returned and published.
			var verr *judge.ValidationError
			if errors.As(err, &verr) {
				log.WithField("error", err.Error()).Warn("validation failed, returning unvalidated extraction")
			} else {
				return nil, err
			}
		} else {
			result.Decisions = rated
			result.Validated = true
		}
	}

	if m.publisher != nil {
		if err := m.publisher.Publish(ctx, videoID, content.VideoName, content.Sections, result.Decisions); err != nil {
			return nil, err
		}
	}

	log.WithFields(logrus.Fields{
		"decisions":    len(result.Decisions),
		"failed_units": len(result.FailedUnits),
		"validated":    result.Validated,
	}).Info("extraction run complete")

	return result, nil
}
