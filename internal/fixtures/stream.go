// Package fixtures builds chained exports and zip packs for tests.
package fixtures

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/davidahmann/chainverify/core/auditchain"
)

// Stream accumulates a correctly chained export. Builders panic on encoding
// failures since inputs are always test literals.
type Stream struct {
	runID  string
	rootCh string
	prevCh string
	lines  [][]byte
}

func NewStream(runID string) *Stream {
	stream := &Stream{runID: runID, rootCh: auditchain.RootHash(runID)}
	stream.prevCh = stream.rootCh
	return stream.Raw(mustJSON(map[string]any{"type": "run", "run_id": runID, "v": "1.1"}))
}

// NewStreamWithoutRun starts a chain for runID but emits no run line.
func NewStreamWithoutRun(runID string) *Stream {
	root := auditchain.RootHash(runID)
	return &Stream{runID: runID, rootCh: root, prevCh: root}
}

func (stream *Stream) Segment(segID int, events ...any) *Stream {
	if events == nil {
		events = []any{}
	}
	seg := map[string]any{
		"run_id":   stream.runID,
		"seg_id":   segID,
		"start_ts": 1000 + segID*10,
		"end_ts":   1000 + segID*10 + 9,
		"count":    len(events),
		"sealed":   true,
		"events":   events,
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(mustJSON(seg)), &fields); err != nil {
		panic(fmt.Sprintf("fixtures: decode segment: %v", err))
	}
	h, err := auditchain.SegmentHash(auditchain.SegmentBodyFromFields(fields))
	if err != nil {
		panic(fmt.Sprintf("fixtures: segment hash: %v", err))
	}
	ch := auditchain.LinkHash(stream.prevCh, h)
	stream.prevCh = ch
	seg["h"] = h
	seg["ch"] = ch
	return stream.Raw(mustJSON(map[string]any{"type": "segment", "seg": seg}))
}

func (stream *Stream) Gap(start int, end int, reasonCode int) *Stream {
	body := auditchain.GapBody{
		SegIDStart: json.RawMessage(fmt.Sprint(start)),
		SegIDEnd:   json.RawMessage(fmt.Sprint(end)),
		ReasonCode: json.RawMessage(fmt.Sprint(reasonCode)),
	}
	h, err := auditchain.GapHash(body)
	if err != nil {
		panic(fmt.Sprintf("fixtures: gap hash: %v", err))
	}
	ch := auditchain.LinkHash(stream.prevCh, h)
	stream.prevCh = ch
	return stream.Raw(mustJSON(map[string]any{
		"type":         "gap",
		"seg_id_start": start,
		"seg_id_end":   end,
		"reason_code":  reasonCode,
		"reason_text":  "fixture gap",
		"h":            h,
		"ch":           ch,
	}))
}

func (stream *Stream) Seal() *Stream {
	return stream.Raw(mustJSON(map[string]any{
		"type":        "seal",
		"algo":        auditchain.Algo,
		"root_ch":     stream.rootCh,
		"terminal_ch": stream.prevCh,
	}))
}

func (stream *Stream) Trace(note string) *Stream {
	return stream.Raw(mustJSON(map[string]any{"type": "trace", "note": note}))
}

// Raw appends line verbatim without touching the chain.
func (stream *Stream) Raw(line string) *Stream {
	stream.lines = append(stream.lines, []byte(line))
	return stream
}

func (stream *Stream) Lines() []string {
	out := make([]string, 0, len(stream.lines))
	for _, line := range stream.lines {
		out = append(out, string(line))
	}
	return out
}

func (stream *Stream) Bytes() []byte {
	if len(stream.lines) == 0 {
		return nil
	}
	return append(bytes.Join(stream.lines, []byte("\n")), '\n')
}

func (stream *Stream) RootCh() string {
	return stream.rootCh
}

func (stream *Stream) TerminalCh() string {
	return stream.prevCh
}

func mustJSON(value any) string {
	encoded, err := json.Marshal(value)
	if err != nil {
		panic(fmt.Sprintf("fixtures: encode: %v", err))
	}
	return string(encoded)
}
