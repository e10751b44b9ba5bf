// Package auditchain implements the v1.2 audit-chain hashes: a root value
// derived from the run id, body hashes for segments and gaps, and the link
// hash that threads every chained record to its predecessor.
//
// Each hash is sha256 over the canonical serialization of a tagged tuple, so
// the tags keep the four hash domains separate.
package auditchain

import (
	"encoding/json"
	"fmt"

	"github.com/davidahmann/chainverify/core/jcs"
)

// Algo is the only seal algorithm identifier this verifier accepts.
const Algo = "sha256"

const (
	TagRoot    = "audit_root_v1.2"
	TagSegment = "segment_h_v1.2"
	TagGap     = "gap_h_v1.2"
	TagLink    = "link_v1.2"
)

const (
	GapReasonMissingSegment = 1
	GapReasonWorkerFailure  = 2
)

// SegmentBody holds exactly the hashed segment fields. Members are kept as raw
// JSON so the producer's primitive encoding survives; absent members are
// omitted from the hashed object.
type SegmentBody struct {
	RunID   json.RawMessage `json:"run_id,omitempty"`
	SegID   json.RawMessage `json:"seg_id,omitempty"`
	StartTS json.RawMessage `json:"start_ts,omitempty"`
	EndTS   json.RawMessage `json:"end_ts,omitempty"`
	Count   json.RawMessage `json:"count,omitempty"`
	Sealed  bool            `json:"sealed"`
	Events  json.RawMessage `json:"events,omitempty"`
}

// GapBody holds the hashed gap range. reason_text is never part of it.
type GapBody struct {
	SegIDStart json.RawMessage `json:"seg_id_start,omitempty"`
	SegIDEnd   json.RawMessage `json:"seg_id_end,omitempty"`
	ReasonCode json.RawMessage `json:"reason_code,omitempty"`
}

// SegmentBodyFromFields selects the hashed members of a decoded seg object.
// sealed is coerced by JSON truthiness, matching the producer.
func SegmentBodyFromFields(fields map[string]json.RawMessage) SegmentBody {
	return SegmentBody{
		RunID:   fields["run_id"],
		SegID:   fields["seg_id"],
		StartTS: fields["start_ts"],
		EndTS:   fields["end_ts"],
		Count:   fields["count"],
		Sealed:  truthy(fields["sealed"]),
		Events:  fields["events"],
	}
}

// GapBodyFromFields selects the hashed members of a decoded gap record.
func GapBodyFromFields(fields map[string]json.RawMessage) GapBody {
	return GapBody{
		SegIDStart: fields["seg_id_start"],
		SegIDEnd:   fields["seg_id_end"],
		ReasonCode: fields["reason_code"],
	}
}

func RootHash(runID string) string {
	return mustDigest(TagRoot, runID)
}

func SegmentHash(body SegmentBody) (string, error) {
	return digestTuple(TagSegment, body)
}

func GapHash(body GapBody) (string, error) {
	return digestTuple(TagGap, body)
}

func LinkHash(previousChain string, bodyHash string) string {
	return mustDigest(TagLink, previousChain, bodyHash)
}

func digestTuple(parts ...any) (string, error) {
	digest, err := jcs.Digest(parts)
	if err != nil {
		return "", fmt.Errorf("digest %v tuple: %w", parts[0], err)
	}
	return digest, nil
}

// mustDigest is used for tuples of plain strings, which always encode.
func mustDigest(parts ...any) string {
	digest, err := digestTuple(parts...)
	if err != nil {
		panic(fmt.Sprintf("auditchain: digest string tuple: %v", err))
	}
	return digest
}

// truthy mirrors JavaScript boolean coercion of a decoded JSON value.
func truthy(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return false
	}
	switch typed := value.(type) {
	case nil:
		return false
	case bool:
		return typed
	case float64:
		return typed != 0
	case string:
		return typed != ""
	default:
		return true
	}
}
