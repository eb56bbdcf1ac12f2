package export

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"

	"github.com/flockfinder/flockfinder/internal/model"
)

// jsonDocument is the on-disk JSON shape: run metadata first, devices after,
// so a reader can audit coverage before trusting the list.
type jsonDocument struct {
	SearchInfo  jsonSearchInfo          `json:"search_info"`
	Devices     []model.CandidateDevice `json:"devices"`
	FailedUnits []model.UnitFailure     `json:"failed_units,omitempty"`
}

type jsonSearchInfo struct {
	RunID       string            `json:"run_id"`
	Areas       []string          `json:"areas"`
	StartedAt   string            `json:"started_at"`
	CompletedAt string            `json:"completed_at"`
	Stats       model.SearchStats `json:"stats"`
}

// WriteJSON writes the full result set with run metadata.
func WriteJSON(result *model.SearchResultSet, path string) error {
	doc := jsonDocument{
		SearchInfo: jsonSearchInfo{
			RunID:       result.RunID,
			Areas:       result.Areas,
			StartedAt:   formatSeen(result.StartedAt),
			CompletedAt: formatSeen(result.CompletedAt),
			Stats:       result.Stats,
		},
		Devices:     result.Devices,
		FailedUnits: result.FailedUnits,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return eris.Wrap(err, "export: marshal json")
	}
	return eris.Wrapf(os.WriteFile(path, data, 0o644), "export: write %s", path)
}
