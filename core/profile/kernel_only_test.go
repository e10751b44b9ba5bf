package profile

import (
	"encoding/json"
	"testing"

	"github.com/davidahmann/chainverify/core/issue"
)

func record(t *testing.T, recordType string, raw string) Record {
	t.Helper()
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	return Record{Type: recordType, Raw: []byte(raw), Fields: fields}
}

func codes(items []issue.Issue) []issue.Code {
	out := make([]issue.Code, 0, len(items))
	for _, item := range items {
		out = append(out, item.Code)
	}
	return out
}

func TestKernelOnlyAcceptsValidRecords(t *testing.T) {
	checker := KernelOnly()
	ctx := Context{Line: 2, RecordIndex: 1, RunID: "run_a"}
	valid := map[string]string{
		"segment": `{"type":"segment","seg":{"run_id":"run_a","seg_id":0,"h":"x","ch":"y"}}`,
		"gap":     `{"type":"gap","seg_id_start":0,"seg_id_end":1,"reason_code":1,"h":"x","ch":"y"}`,
		"seal":    `{"type":"seal","algo":"sha256","root_ch":"a","terminal_ch":"b"}`,
		"trace":   `{"type":"trace","anything":[1,2,3]}`,
	}
	for recordType, raw := range valid {
		if issues := checker.Validate(record(t, recordType, raw), ctx); len(issues) != 0 {
			t.Fatalf("%s: unexpected issues %v", recordType, codes(issues))
		}
	}
}

func TestKernelOnlySegmentRules(t *testing.T) {
	checker := KernelOnly()
	ctx := Context{Line: 4, RecordIndex: 3, RunID: "run_a"}

	missing := checker.Validate(record(t, "segment", `{"type":"segment"}`), ctx)
	if len(missing) != 1 || missing[0].Code != issue.CodeSegmentMissingSeg {
		t.Fatalf("expected only SEGMENT_MISSING_SEG, got %v", codes(missing))
	}
	if missing[0].Line != 4 || missing[0].RecordIndex != 3 || missing[0].RecordType != "segment" {
		t.Fatalf("issue not located: %#v", missing[0])
	}

	hashes := checker.Validate(record(t, "segment", `{"type":"segment","seg":{"run_id":"run_a","seg_id":0,"h":1}}`), ctx)
	if len(hashes) != 1 || hashes[0].Code != issue.CodeSegmentMissingHashFields {
		t.Fatalf("expected SEGMENT_MISSING_HASH_FIELDS, got %v", codes(hashes))
	}

	segID := checker.Validate(record(t, "segment", `{"type":"segment","seg":{"run_id":"run_a","seg_id":"0","h":"x","ch":"y"}}`), ctx)
	if len(segID) != 1 || segID[0].Code != issue.CodeSchema || segID[0].Field != "seg.seg_id" {
		t.Fatalf("expected SCHEMA on seg.seg_id, got %#v", segID)
	}

	mismatch := checker.Validate(record(t, "segment", `{"type":"segment","seg":{"run_id":"run_b","seg_id":0,"h":"x","ch":"y"}}`), ctx)
	if len(mismatch) != 1 || mismatch[0].Code != issue.CodeSegmentRunMismatch {
		t.Fatalf("expected SEGMENT_RUN_MISMATCH, got %v", codes(mismatch))
	}
	if mismatch[0].Details["expected"] != "run_a" || mismatch[0].Details["actual"] != "run_b" {
		t.Fatalf("unexpected mismatch details %#v", mismatch[0].Details)
	}
}

func TestKernelOnlyGapRules(t *testing.T) {
	checker := KernelOnly()
	cases := []struct {
		raw  string
		want issue.Code
	}{
		{raw: `{"type":"gap","seg_id_start":0,"reason_code":1,"h":"x","ch":"y"}`, want: issue.CodeGapMissingRange},
		{raw: `{"type":"gap","seg_id_start":0,"seg_id_end":1,"reason_code":1.5,"h":"x","ch":"y"}`, want: issue.CodeGapMissingReasonCode},
		{raw: `{"type":"gap","seg_id_start":0,"seg_id_end":1,"reason_code":1,"ch":"y"}`, want: issue.CodeGapMissingHashFields},
	}
	for _, testCase := range cases {
		issues := checker.Validate(record(t, "gap", testCase.raw), Context{Line: 1})
		if len(issues) != 1 || issues[0].Code != testCase.want {
			t.Fatalf("%s: expected %s, got %v", testCase.raw, testCase.want, codes(issues))
		}
	}
}

func TestKernelOnlySealRules(t *testing.T) {
	issues := KernelOnly().Validate(record(t, "seal", `{"type":"seal","algo":7}`), Context{Line: 5})
	if len(issues) != 2 {
		t.Fatalf("expected two seal issues, got %v", codes(issues))
	}
	for _, item := range issues {
		if item.Code != issue.CodeSchema {
			t.Fatalf("expected SCHEMA, got %s", item.Code)
		}
	}
}

func TestKernelOnlyRejectsNonObjectAndMissingType(t *testing.T) {
	checker := KernelOnly()
	notObject := checker.Validate(Record{Raw: []byte(`[1]`)}, Context{Line: 2})
	if len(notObject) != 1 || notObject[0].Code != issue.CodeSchema {
		t.Fatalf("expected SCHEMA for non-object, got %v", codes(notObject))
	}
	missingType := checker.Validate(record(t, "", `{"seg":{}}`), Context{Line: 2})
	if len(missingType) != 1 || missingType[0].Field != "type" {
		t.Fatalf("expected SCHEMA on type, got %#v", missingType)
	}
}

func TestAllowsType(t *testing.T) {
	checker := Default()
	for _, recordType := range []string{"run", "segment", "GAP", "seal", "trace"} {
		if !AllowsType(checker, recordType) {
			t.Fatalf("kernel-only should allow %s", recordType)
		}
	}
	if AllowsType(checker, "mystery") {
		t.Fatalf("kernel-only should not allow mystery")
	}
	if !AllowsType(permissive{}, "mystery") {
		t.Fatalf("profiles without a type filter allow every type")
	}
}

func TestNameOf(t *testing.T) {
	if got := NameOf(Default()); got != KernelOnlyName {
		t.Fatalf("unexpected default profile name %q", got)
	}
	if got := NameOf(permissive{}); got != "" {
		t.Fatalf("unnamed profile should report empty name, got %q", got)
	}
}

type permissive struct{}

func (permissive) Validate(Record, Context) []issue.Issue { return nil }
