package history

import (
	"fmt"
	"slices"
)

// IntegrityStatus reports whether a set of entries forms a contiguous
// sequence-id range.
type IntegrityStatus struct {
	IsValid       bool      `json:"is_valid"`
	TotalEntries  uint64    `json:"total_entries"`
	ExpectedRange [2]uint64 `json:"expected_sequence_range"`
	DetectedGaps  []uint64  `json:"detected_gaps"`
	ErrorMessage  *string   `json:"error_message"`
}

// Verify checks entries for missing sequence ids between the smallest and the
// largest id present. Entry order does not matter and contiguity is never
// assumed.
func Verify(entries []Entry) IntegrityStatus {
	status := IntegrityStatus{
		TotalEntries: uint64(len(entries)),
		DetectedGaps: []uint64{},
	}
	if len(entries) == 0 {
		status.IsValid = true
		return status
	}

	ids := make([]uint64, len(entries))
	for i, e := range entries {
		ids[i] = e.SequenceID
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)
	status.ExpectedRange = [2]uint64{ids[0], ids[len(ids)-1]}

	for i := 1; i < len(ids); i++ {
		for missing := ids[i-1] + 1; missing < ids[i]; missing++ {
			status.DetectedGaps = append(status.DetectedGaps, missing)
		}
	}

	status.IsValid = len(status.DetectedGaps) == 0
	if !status.IsValid {
		msg := fmt.Sprintf("found %d missing sequence ids between %d and %d",
			len(status.DetectedGaps), status.ExpectedRange[0], status.ExpectedRange[1])
		status.ErrorMessage = &msg
	}
	return status
}
