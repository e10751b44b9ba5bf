package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/davidahmann/chainverify/core/auditchain"
	coreerrors "github.com/davidahmann/chainverify/core/errors"
	"github.com/davidahmann/chainverify/core/issue"
	"github.com/davidahmann/chainverify/core/profile"
	"github.com/davidahmann/chainverify/core/telemetry"
)

const supportedRunVersion = "1.1"

var utf8BOM = []byte("\xef\xbb\xbf")

type phase int

const (
	phaseExpectRun phase = iota
	phaseActive
	phaseSealed
	phaseLatched
)

var chainTypes = map[string]bool{
	"segment": true,
	"gap":     true,
	"seal":    true,
	"trace":   true,
}

// verification is the per-call state threaded through the record loop.
type verification struct {
	opts   Options
	result Result

	phase  phase
	runID  string
	rootCh string
	prevCh string

	lastLine int
	halted   bool
}

// Verify reads an NDJSON export from input and checks its structure, ordering
// and hash chain. Every outcome, including read failures, is reported in the
// returned Result.
func Verify(ctx context.Context, input io.Reader, opts Options) Result {
	opts = opts.normalized()
	ctx, span := telemetry.Tracer("chain").Start(ctx, "chain.Verify")
	defer span.End()

	state := &verification{opts: opts, result: newResult(opts)}
	state.consume(ctx, newLineReader(input, opts.MaxLineBytes))
	state.finish()

	result := state.result
	span.SetAttributes(
		attribute.String("chain.status", string(result.Status)),
		attribute.String("chain.mode", string(opts.Mode)),
		attribute.Int("chain.checked_records", result.CheckedRecords),
		attribute.Int("chain.verified_chain_records", result.VerifiedChainRecords),
	)
	if result.Status == StatusInvalid {
		span.SetStatus(codes.Error, string(result.ReasonCode))
	}
	return result
}

func VerifyBytes(ctx context.Context, data []byte, opts Options) Result {
	return Verify(ctx, bytes.NewReader(data), opts)
}

// VerifyFile returns an error only when path cannot be opened.
func VerifyFile(ctx context.Context, path string, opts Options) (Result, error) {
	// #nosec G304 -- caller-selected export path.
	file, err := os.Open(path)
	if err != nil {
		return Result{}, coreerrors.Wrap(
			fmt.Errorf("open export: %w", err),
			coreerrors.CategoryIOFailure,
			"input_open_failed",
			"check the export path and permissions",
		)
	}
	defer func() { _ = file.Close() }()
	return Verify(ctx, file, opts), nil
}

func (state *verification) consume(ctx context.Context, reader *lineReader) {
	for !state.halted {
		if err := ctx.Err(); err != nil {
			state.stop(issue.New(issue.CodeCanceled, err.Error()).At(state.lastLine, state.recordIndex()), nil)
			return
		}
		line, err := reader.next()
		if errors.Is(err, io.EOF) {
			return
		}
		if errors.Is(err, errLineTooLong) {
			item := issue.New(issue.CodeLineTooLong, fmt.Sprintf("line exceeds %d bytes", state.opts.MaxLineBytes)).
				At(reader.lineNo, state.result.CheckedRecords).
				WithDetail("max_line_bytes", state.opts.MaxLineBytes)
			state.stop(item, nil)
			return
		}
		if err != nil {
			state.stop(issue.New(issue.CodeReadFailed, err.Error()).At(reader.lineNo, state.result.CheckedRecords), nil)
			return
		}

		text := line.text
		if line.number == 1 {
			text = bytes.TrimPrefix(text, utf8BOM)
		}
		text = bytes.TrimSpace(text)
		if len(text) == 0 {
			continue
		}
		state.lastLine = line.number
		state.result.CheckedRecords++
		if state.phase == phaseExpectRun {
			state.acceptRun(line.number, text)
			continue
		}
		state.acceptRecord(reader, line.number, text)
	}
}

func (state *verification) recordIndex() int {
	if state.result.CheckedRecords == 0 {
		return 0
	}
	return state.result.CheckedRecords - 1
}

func (state *verification) acceptRun(lineNo int, text []byte) {
	index := state.recordIndex()
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(text, &fields); err != nil || fields == nil {
		state.stop(issue.New(issue.CodeRunLineParse, "first record is not a JSON object").At(lineNo, index), text)
		return
	}
	recordType := typeOf(fields)
	if recordType != "run" {
		state.stop(issue.New(issue.CodeMissingRunLine, "first record must have type run").At(lineNo, index).WithField("type").WithRecordType(recordType), text)
		return
	}
	runID, ok := stringField(fields, "run_id")
	if !ok || runID == "" {
		state.stop(issue.New(issue.CodeMissingRunID, "run_id must be a non-empty string").At(lineNo, index).WithField("run_id").WithRecordType("run"), text)
		return
	}
	if raw, present := fields["v"]; present {
		var version string
		if err := json.Unmarshal(raw, &version); err != nil || version != supportedRunVersion {
			item := issue.New(issue.CodeUnsupportedVersion, "unsupported export version").
				At(lineNo, index).
				WithField("v").
				WithRecordType("run").
				WithDetail("supported", supportedRunVersion)
			state.stop(item, text)
			return
		}
	}

	state.runID = runID
	state.rootCh = auditchain.RootHash(runID)
	state.prevCh = state.rootCh
	state.phase = phaseActive
	state.result.RunID = runID
	state.result.RootCh = state.rootCh
	state.result.Stats.ByType["run"]++
}

func (state *verification) acceptRecord(reader *lineReader, lineNo int, text []byte) {
	index := state.recordIndex()
	if !json.Valid(text) {
		code, message := issue.CodeBadJSON, "line is not valid JSON"
		if !reader.hasMoreContent() {
			code, message = issue.CodeTruncatedLastLine, "last line is not valid JSON"
		}
		state.fail(issue.New(code, message).At(lineNo, index), text)
		return
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(text, &fields); err != nil {
		fields = nil
	}
	recordType := typeOf(fields)
	if recordType != "" {
		state.result.Stats.ByType[recordType]++
	}

	switch state.phase {
	case phaseSealed:
		if recordType != "trace" {
			state.fail(issue.New(issue.CodeAfterSealNonTrace, "only trace records may follow the seal").At(lineNo, index).WithRecordType(recordType), text)
			return
		}
	case phaseLatched:
		if recordType == "segment" || recordType == "gap" || recordType == "seal" {
			state.fail(issue.New(issue.CodeSegmentAfterTrace, "chain records may not follow a trace record").At(lineNo, index).WithRecordType(recordType), text)
			return
		}
	}

	if fields != nil && recordType != "" && (!chainTypes[recordType] || !profile.AllowsType(state.opts.Profile, recordType)) {
		message := fmt.Sprintf("unknown record type %q", recordType)
		if recordType == "run" {
			message = "duplicate run record"
		}
		state.soft(issue.New(issue.CodeUnknownType, message).At(lineNo, index).WithField("type").WithRecordType(recordType), text)
		return
	}

	problems := state.opts.Profile.Validate(
		profile.Record{Type: recordType, Raw: text, Fields: fields},
		profile.Context{Line: lineNo, RecordIndex: index, RunID: state.runID},
	)
	if len(problems) > 0 {
		for _, problem := range problems {
			state.soft(problem, text)
		}
		return
	}

	switch recordType {
	case "segment":
		state.acceptSegment(lineNo, index, fields, text)
	case "gap":
		state.acceptGap(lineNo, index, fields, text)
	case "seal":
		state.acceptSeal(lineNo, index, fields, text)
	case "trace":
		if state.phase == phaseActive {
			state.phase = phaseLatched
		}
	}
}

func (state *verification) acceptSegment(lineNo int, index int, fields map[string]json.RawMessage, text []byte) {
	var seg map[string]json.RawMessage
	if err := json.Unmarshal(fields["seg"], &seg); err != nil || seg == nil {
		state.fail(issue.New(issue.CodeSegmentMissingSeg, "missing seg object").At(lineNo, index).WithField("seg").WithRecordType("segment"), text)
		return
	}
	h, err := auditchain.SegmentHash(auditchain.SegmentBodyFromFields(seg))
	if err != nil {
		state.fail(issue.New(issue.CodeSchema, err.Error()).At(lineNo, index).WithField("seg").WithRecordType("segment"), text)
		return
	}
	ch := auditchain.LinkHash(state.prevCh, h)
	if !state.compareHashes(lineNo, index, "segment", "seg.", seg, h, ch, issue.CodeSegmentHashMismatch, text) {
		return
	}
	state.prevCh = ch
	state.result.Segments++
	state.result.VerifiedChainRecords++
}

func (state *verification) acceptGap(lineNo int, index int, fields map[string]json.RawMessage, text []byte) {
	h, err := auditchain.GapHash(auditchain.GapBodyFromFields(fields))
	if err != nil {
		state.fail(issue.New(issue.CodeSchema, err.Error()).At(lineNo, index).WithRecordType("gap"), text)
		return
	}
	ch := auditchain.LinkHash(state.prevCh, h)
	if !state.compareHashes(lineNo, index, "gap", "", fields, h, ch, issue.CodeGapHashMismatch, text) {
		return
	}
	reason, known := gapReason(fields["reason_code"])
	if !known {
		item := issue.New(issue.CodeGapReasonUnknown, "gap.reason_code must be 1 (missing_segment) or 2 (worker_failure)").
			At(lineNo, index).
			WithField("reason_code").
			WithRecordType("gap").
			WithDetail("reason_code", strings.TrimSpace(string(fields["reason_code"])))
		state.fail(item, text)
		return
	}
	state.prevCh = ch
	state.result.Gaps++
	state.result.VerifiedChainRecords++
	state.result.Stats.GapsByReason[strconv.Itoa(reason)]++
}

func (state *verification) acceptSeal(lineNo int, index int, fields map[string]json.RawMessage, text []byte) {
	algo, _ := stringField(fields, "algo")
	state.result.Algo = algo
	if algo != auditchain.Algo {
		state.fail(issue.New(issue.CodeUnsupportedAlgo, fmt.Sprintf("unsupported seal algo %q", algo)).At(lineNo, index).WithField("algo").WithRecordType("seal"), text)
		return
	}
	if rootCh, _ := stringField(fields, "root_ch"); rootCh != state.rootCh {
		item := issue.New(issue.CodeRootMismatch, "seal.root_ch does not match the run root").
			At(lineNo, index).
			WithField("root_ch").
			WithRecordType("seal").
			WithDetail("expected", state.rootCh).
			WithDetail("actual", rootCh)
		state.fail(item, text)
		return
	}
	if terminalCh, _ := stringField(fields, "terminal_ch"); terminalCh != state.prevCh {
		item := issue.New(issue.CodeTerminalMismatch, "seal.terminal_ch does not match the last chain value").
			At(lineNo, index).
			WithField("terminal_ch").
			WithRecordType("seal").
			WithDetail("expected", state.prevCh).
			WithDetail("actual", terminalCh)
		state.fail(item, text)
		return
	}
	state.phase = phaseSealed
	state.result.Seal = true
}

// compareHashes checks the claimed h and ch of a chained record. prefix
// locates the hash members inside the record for issue fields.
func (state *verification) compareHashes(lineNo int, index int, recordType string, prefix string, fields map[string]json.RawMessage, h string, ch string, mismatch issue.Code, text []byte) bool {
	if claimed, _ := stringField(fields, "h"); claimed != h {
		item := issue.New(mismatch, recordType+" hash does not match its body").
			At(lineNo, index).
			WithField(prefix+"h").
			WithRecordType(recordType).
			WithDetail("expected", h).
			WithDetail("actual", claimed)
		state.fail(item, text)
		return false
	}
	if claimed, _ := stringField(fields, "ch"); claimed != ch {
		item := issue.New(issue.CodeChainHashMismatch, "chain hash does not link to the previous record").
			At(lineNo, index).
			WithField(prefix+"ch").
			WithRecordType(recordType).
			WithDetail("expected", ch).
			WithDetail("actual", claimed)
		state.fail(item, text)
		return false
	}
	return true
}

// fail records a hard error. Strict mode halts; tolerant mode halts once
// MaxErrors is reached.
func (state *verification) fail(item issue.Issue, text []byte) {
	state.addError(item, text)
	if state.opts.Mode == ModeStrict || len(state.result.Errors) >= state.opts.MaxErrors {
		state.halted = true
	}
}

// soft records an unknown-type or profile issue: an error in strict mode, a
// warning in tolerant mode.
func (state *verification) soft(item issue.Issue, text []byte) {
	if state.opts.Mode == ModeTolerant {
		state.result.Warnings = append(state.result.Warnings, item.AsWarning())
		return
	}
	state.fail(item, text)
}

// stop records an error that ends the stream in every mode.
func (state *verification) stop(item issue.Issue, text []byte) {
	state.addError(item, text)
	state.halted = true
}

func (state *verification) addError(item issue.Issue, text []byte) {
	if len(state.result.Errors) == 0 {
		state.result.ReasonCode = item.Code
		state.result.Failure = &Failure{
			Line:       item.Line,
			RecordType: item.RecordType,
			Field:      item.Field,
			Snippet:    snippet(text),
		}
	}
	state.result.Errors = append(state.result.Errors, item)
}

func (state *verification) finish() {
	result := &state.result
	switch {
	case state.phase == phaseExpectRun && len(result.Errors) == 0:
		state.stop(issue.New(issue.CodeEmptyExport, "export contains no records"), nil)
	case state.phase != phaseExpectRun && state.phase != phaseSealed && !issue.Blocking(result.Errors):
		state.addError(issue.New(issue.CodeMissingSeal, "stream ended without a seal record").At(state.lastLine, state.recordIndex()), nil)
	}

	switch {
	case len(result.Errors) == 0:
		result.Status = StatusOK
	case state.opts.AllowPartial && !issue.Blocking(result.Errors):
		result.Status = StatusPartial
	default:
		result.Status = StatusInvalid
	}
	result.Verdict = result.Status.Verdict()
	result.IsAuthentic = result.Status == StatusOK
	result.IsPartial = result.Status == StatusPartial
	result.TerminalCh = state.prevCh
}

func typeOf(fields map[string]json.RawMessage) string {
	value, ok := stringField(fields, "type")
	if !ok {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(value))
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false
	}
	return value, true
}

func gapReason(raw json.RawMessage) (int, bool) {
	var value float64
	if err := json.Unmarshal(raw, &value); err != nil {
		return 0, false
	}
	switch value {
	case auditchain.GapReasonMissingSegment:
		return auditchain.GapReasonMissingSegment, true
	case auditchain.GapReasonWorkerFailure:
		return auditchain.GapReasonWorkerFailure, true
	default:
		return 0, false
	}
}

func snippet(text []byte) string {
	trimmed := strings.TrimSpace(string(text))
	if utf8.RuneCountInString(trimmed) <= snippetLimit {
		return trimmed
	}
	runes := []rune(trimmed)
	return string(runes[:snippetLimit]) + "..."
}
