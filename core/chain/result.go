package chain

import (
	"github.com/davidahmann/chainverify/core/issue"
	"github.com/davidahmann/chainverify/core/profile"
)

type Status string

const (
	StatusOK      Status = "ok"
	StatusPartial Status = "partial"
	StatusInvalid Status = "invalid"
)

type Verdict string

const (
	VerdictPass    Verdict = "PASS"
	VerdictPartial Verdict = "PARTIAL"
	VerdictFail    Verdict = "FAIL"
)

func (status Status) Verdict() Verdict {
	switch status {
	case StatusOK:
		return VerdictPass
	case StatusPartial:
		return VerdictPartial
	default:
		return VerdictFail
	}
}

// Failure is the context of the first recorded error.
type Failure struct {
	Line       int    `json:"line"`
	RecordType string `json:"record_type,omitempty"`
	Field      string `json:"field,omitempty"`
	Snippet    string `json:"snippet,omitempty"`
}

type Stats struct {
	ByType       map[string]int `json:"by_type"`
	GapsByReason map[string]int `json:"gaps_by_reason"`
}

type Result struct {
	Status      Status     `json:"status"`
	Verdict     Verdict    `json:"verdict"`
	IsAuthentic bool       `json:"is_authentic"`
	IsPartial   bool       `json:"is_partial"`
	ReasonCode  issue.Code `json:"reason_code,omitempty"`
	Failure     *Failure   `json:"failure,omitempty"`
	Mode        Mode       `json:"mode"`
	Profile     string     `json:"profile,omitempty"`
	ZipEntry    string     `json:"zip_entry,omitempty"`

	RunID      string `json:"run_id,omitempty"`
	Algo       string `json:"algo,omitempty"`
	Seal       bool   `json:"seal"`
	RootCh     string `json:"root_ch,omitempty"`
	TerminalCh string `json:"terminal_ch,omitempty"`

	CheckedRecords       int   `json:"checked_records"`
	VerifiedChainRecords int   `json:"verified_chain_records"`
	Segments             int   `json:"segments"`
	Gaps                 int   `json:"gaps"`
	Stats                Stats `json:"stats"`

	Errors   []issue.Issue `json:"errors"`
	Warnings []issue.Issue `json:"warnings"`
}

func newResult(opts Options) Result {
	return Result{
		Status:   StatusInvalid,
		Verdict:  VerdictFail,
		Mode:     opts.Mode,
		Profile:  profile.NameOf(opts.Profile),
		ZipEntry: opts.EntryName,
		Stats: Stats{
			ByType:       map[string]int{},
			GapsByReason: map[string]int{},
		},
		Errors:   []issue.Issue{},
		Warnings: []issue.Issue{},
	}
}
