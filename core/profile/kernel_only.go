package profile

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"

	"github.com/davidahmann/chainverify/core/issue"
)

const KernelOnlyName = "kernel-only"

var kernelTypes = map[string]bool{
	"run":     true,
	"segment": true,
	"gap":     true,
	"seal":    true,
	"trace":   true,
}

type ruleSpec struct {
	code    issue.Code
	field   string
	message string
	schema  string
	// stop skips the remaining rules when this one fails.
	stop bool
}

// Rules per record type. run is checked by the verifier itself and trace is
// intentionally free-form.
var kernelRuleSpecs = map[string][]ruleSpec{
	"segment": {
		{
			code:    issue.CodeSegmentMissingSeg,
			field:   "seg",
			message: "missing seg object",
			schema:  `{"required":["seg"],"properties":{"seg":{"type":"object"}}}`,
			stop:    true,
		},
		{
			code:    issue.CodeSchema,
			field:   "seg.run_id",
			message: "seg.run_id must be a non-empty string",
			schema:  `{"properties":{"seg":{"required":["run_id"],"properties":{"run_id":{"type":"string","minLength":1}}}}}`,
		},
		{
			code:    issue.CodeSchema,
			field:   "seg.seg_id",
			message: "seg.seg_id must be a number",
			schema:  `{"properties":{"seg":{"required":["seg_id"],"properties":{"seg_id":{"type":"number"}}}}}`,
		},
		{
			code:    issue.CodeSegmentMissingHashFields,
			field:   "seg.h",
			message: "seg.h and seg.ch must be strings",
			schema:  `{"properties":{"seg":{"required":["h","ch"],"properties":{"h":{"type":"string"},"ch":{"type":"string"}}}}}`,
		},
	},
	"gap": {
		{
			code:    issue.CodeGapMissingRange,
			field:   "seg_id_start",
			message: "gap range must be numbers",
			schema:  `{"required":["seg_id_start","seg_id_end"],"properties":{"seg_id_start":{"type":"number"},"seg_id_end":{"type":"number"}}}`,
		},
		{
			code:    issue.CodeGapMissingReasonCode,
			field:   "reason_code",
			message: "gap.reason_code must be an integer",
			schema:  `{"required":["reason_code"],"properties":{"reason_code":{"type":"integer"}}}`,
		},
		{
			code:    issue.CodeGapMissingHashFields,
			field:   "h",
			message: "gap.h and gap.ch must be strings",
			schema:  `{"required":["h","ch"],"properties":{"h":{"type":"string"},"ch":{"type":"string"}}}`,
		},
	},
	"seal": {
		{
			code:    issue.CodeSchema,
			field:   "algo",
			message: "seal.algo must be a string",
			schema:  `{"required":["algo"],"properties":{"algo":{"type":"string"}}}`,
		},
		{
			code:    issue.CodeSchema,
			field:   "root_ch",
			message: "seal.root_ch and seal.terminal_ch must be strings",
			schema:  `{"required":["root_ch","terminal_ch"],"properties":{"root_ch":{"type":"string"},"terminal_ch":{"type":"string"}}}`,
		},
	},
}

type compiledRule struct {
	spec   ruleSpec
	schema *jsonschema.Schema
}

type compiledRuleSet struct {
	// combined is the conjunction of every rule; individual rules only run
	// to attribute a failure.
	combined *jsonschema.Schema
	rules    []compiledRule
}

// KernelOnlyProfile accepts the kernel export record types and checks their
// required members.
type KernelOnlyProfile struct {
	rules map[string]compiledRuleSet
}

var kernelOnly = sync.OnceValue(func() *KernelOnlyProfile {
	profile, err := compileKernelOnly()
	if err != nil {
		panic(fmt.Sprintf("profile: compile kernel-only rules: %v", err))
	}
	return profile
})

func KernelOnly() *KernelOnlyProfile {
	return kernelOnly()
}

func (profile *KernelOnlyProfile) Name() string {
	return KernelOnlyName
}

func (profile *KernelOnlyProfile) AllowsType(recordType string) bool {
	return kernelTypes[strings.ToLower(recordType)]
}

func (profile *KernelOnlyProfile) Validate(record Record, ctx Context) []issue.Issue {
	if record.Fields == nil {
		return []issue.Issue{locate(issue.New(issue.CodeSchema, "record is not an object"), record, ctx)}
	}
	if record.Type == "" {
		return []issue.Issue{locate(issue.New(issue.CodeSchema, "missing type").WithField("type"), record, ctx)}
	}

	var issues []issue.Issue
	if set, ok := profile.rules[record.Type]; ok && !set.combined.ValidateJSON(record.Raw).IsValid() {
		for _, rule := range set.rules {
			if rule.schema.ValidateJSON(record.Raw).IsValid() {
				continue
			}
			issues = append(issues, locate(issue.New(rule.spec.code, rule.spec.message).WithField(rule.spec.field), record, ctx))
			if rule.spec.stop {
				return issues
			}
		}
	}
	if record.Type == "segment" {
		if mismatch, ok := segmentRunMismatch(record, ctx); ok {
			issues = append(issues, mismatch)
		}
	}
	return issues
}

func segmentRunMismatch(record Record, ctx Context) (issue.Issue, bool) {
	if ctx.RunID == "" {
		return issue.Issue{}, false
	}
	var seg struct {
		RunID *string `json:"run_id"`
	}
	if err := json.Unmarshal(record.Fields["seg"], &seg); err != nil || seg.RunID == nil || *seg.RunID == "" {
		return issue.Issue{}, false
	}
	if *seg.RunID == ctx.RunID {
		return issue.Issue{}, false
	}
	mismatch := issue.New(issue.CodeSegmentRunMismatch, "seg.run_id does not match the run line").
		WithField("seg.run_id").
		WithDetail("expected", ctx.RunID).
		WithDetail("actual", *seg.RunID)
	return locate(mismatch, record, ctx), true
}

func locate(item issue.Issue, record Record, ctx Context) issue.Issue {
	return item.At(ctx.Line, ctx.RecordIndex).WithRecordType(record.Type)
}

func compileKernelOnly() (*KernelOnlyProfile, error) {
	compiled := make(map[string]compiledRuleSet, len(kernelRuleSpecs))
	for recordType, specs := range kernelRuleSpecs {
		set := compiledRuleSet{rules: make([]compiledRule, 0, len(specs))}
		parts := make([]string, 0, len(specs))
		for _, spec := range specs {
			schema, err := compileSchema(spec.schema)
			if err != nil {
				return nil, fmt.Errorf("%s rule %s: %w", recordType, spec.field, err)
			}
			set.rules = append(set.rules, compiledRule{spec: spec, schema: schema})
			parts = append(parts, spec.schema)
		}
		combined, err := compileSchema(`{"type":"object","allOf":[` + strings.Join(parts, ",") + `]}`)
		if err != nil {
			return nil, fmt.Errorf("%s combined rules: %w", recordType, err)
		}
		set.combined = combined
		compiled[recordType] = set
	}
	return &KernelOnlyProfile{rules: compiled}, nil
}

func compileSchema(source string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(source))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}
