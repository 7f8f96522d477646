package chunker

import (
	"fmt"

	"video-insights-go/internal/types"
)

// Mode selects how prompt content is split into extraction units.
type Mode string

const (
	// ModeWhole sends every section in one unit. Best accuracy for
	// decisions spanning section boundaries, bounded by the model's
	// document budget.
	ModeWhole Mode = "whole"

	// ModePerSection sends one unit per section, enabling independent
	// retries and parallel calls at the cost of cross-section context.
	ModePerSection Mode = "per-section"
)

// Plan partitions prompt content into extraction units. Sections are never
// dropped, duplicated or reordered; each unit's sequence index is the index
// of its first section in the original ordering.
func Plan(pc types.PromptContent, mode Mode) ([]types.ExtractionUnit, error) {
	if len(pc.Sections) == 0 {
		return []types.ExtractionUnit{}, nil
	}

	switch mode {
	case ModeWhole:
		sections := make([]types.Section, len(pc.Sections))
		copy(sections, pc.Sections)
		return []types.ExtractionUnit{{SequenceIndex: 0, Sections: sections}}, nil

	case ModePerSection:
		units := make([]types.ExtractionUnit, 0, len(pc.Sections))
		for i, s := range pc.Sections {
			units = append(units, types.ExtractionUnit{
				SequenceIndex: i,
				Sections:      []types.Section{s},
			})
		}
		return units, nil

	default:
		return nil, fmt.Errorf("unknown chunking mode %q", mode)
	}
}
