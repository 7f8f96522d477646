package dataset

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"video-insights-go/internal/types"
)

// LoadGroundTruth reads a pre-validated decision set from a spreadsheet.
// The first sheet is used; columns are matched on header heuristics so the
// fixture files don't need a rigid layout.
func LoadGroundTruth(path string) ([]types.Decision, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open fixture: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("fixture has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, fmt.Errorf("fixture has no data rows")
	}

	startIdx, endIdx, decisionIdx := -1, -1, -1
	for i, h := range rows[0] {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case l == "start" || strings.Contains(l, "start"):
			if startIdx == -1 {
				startIdx = i
			}
		case l == "end" || strings.Contains(l, "end"):
			if endIdx == -1 {
				endIdx = i
			}
		case strings.Contains(l, "decision") || strings.Contains(l, "key"):
			if decisionIdx == -1 {
				decisionIdx = i
			}
		}
	}
	if decisionIdx == -1 {
		return nil, fmt.Errorf("fixture has no decision column")
	}

	var out []types.Decision
	for i, r := range rows {
		if i == 0 {
			continue
		}
		d := types.Decision{}
		if startIdx >= 0 && startIdx < len(r) {
			d.Start = strings.TrimSpace(r[startIdx])
		}
		if endIdx >= 0 && endIdx < len(r) {
			d.End = strings.TrimSpace(r[endIdx])
		}
		if decisionIdx < len(r) {
			d.KeyDecision = strings.TrimSpace(r[decisionIdx])
		}
		if d.KeyDecision == "" {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
