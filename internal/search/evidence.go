package search

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrInvalidEvidence is returned when a stored evidence blob cannot be
// decoded.
var ErrInvalidEvidence = errors.New("invalid evidence blob")

// Evidence is the opaque per-row blob carrying the matched record ids and
// resolved explanation lines. It travels as CBOR: compact, and the shape can
// grow without a schema migration.
type Evidence struct {
	// ParentRecordIDs are the matched parent records, best first, bounded
	// to the display limit.
	ParentRecordIDs []string `cbor:"parent_record_ids,omitempty"`
	// Children are the matched sub-records kept for display.
	Children []EvidenceChild `cbor:"children,omitempty"`
	// Reasons are the resolved explanation lines, at most three. Written
	// with the deterministic fallback at persist time and patched in place
	// if the async refinement delivers better ones.
	Reasons []string `cbor:"reasons,omitempty"`
	// SimilarityPercent is the rounded 0-100 figure shown to searchers,
	// frozen at ranking time.
	SimilarityPercent int `cbor:"similarity_percent"`
}

// EvidenceChild identifies one matched sub-record.
type EvidenceChild struct {
	SubRecordID string `cbor:"sub_record_id"`
	RecordID    string `cbor:"record_id"`
	Type        string `cbor:"type"`
}

var evidenceEncMode cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to build evidence CBOR encoder: %v", err))
	}
	evidenceEncMode = mode
}

// EncodeEvidence serializes an evidence blob.
func EncodeEvidence(e Evidence) ([]byte, error) {
	data, err := evidenceEncMode.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode evidence: %w", err)
	}
	return data, nil
}

// DecodeEvidence deserializes an evidence blob. An empty input decodes to an
// empty Evidence so legacy rows without a blob stay readable.
func DecodeEvidence(data []byte) (Evidence, error) {
	if len(data) == 0 {
		return Evidence{}, nil
	}
	var e Evidence
	if err := cbor.Unmarshal(data, &e); err != nil {
		return Evidence{}, fmt.Errorf("%w: %v", ErrInvalidEvidence, err)
	}
	return e, nil
}
