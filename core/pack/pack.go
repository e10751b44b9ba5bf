package pack

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/davidahmann/chainverify/core/chain"
	coreerrors "github.com/davidahmann/chainverify/core/errors"
	"github.com/davidahmann/chainverify/core/issue"
	"github.com/davidahmann/chainverify/core/telemetry"
	"github.com/davidahmann/chainverify/core/zipx"
)

// Source is a pack on disk or in memory. Data wins when it is non-nil, even
// when it is empty.
type Source struct {
	Path string
	Data []byte
}

func FromPath(path string) Source {
	return Source{Path: path}
}

func FromBytes(data []byte) Source {
	return Source{Data: data}
}

func (source Source) empty() bool {
	return source.Data == nil && strings.TrimSpace(source.Path) == ""
}

func (source Source) open() (*zipx.Archive, error) {
	if source.Data != nil {
		return zipx.FromBytes(source.Data)
	}
	return zipx.Open(source.Path)
}

type Artifact struct {
	Name   string       `json:"name"`
	Result chain.Result `json:"result"`
}

type ZipSummary struct {
	EntriesSeen     int    `json:"entries_seen"`
	EntriesVerified int    `json:"entries_verified"`
	EntriesSkipped  int    `json:"entries_skipped"`
	ArchiveBytes    int    `json:"archive_bytes"`
	LimitsApplied   Limits `json:"limits_applied"`
}

type Result struct {
	Status       chain.Status  `json:"status"`
	Verdict      chain.Verdict `json:"verdict"`
	IsAuthentic  bool          `json:"is_authentic"`
	IsPartial    bool          `json:"is_partial"`
	ReasonCode   issue.Code    `json:"reason_code,omitempty"`
	Mode         chain.Mode    `json:"mode"`
	Path         string        `json:"path,omitempty"`
	Zip          ZipSummary    `json:"zip"`
	Artifacts    []Artifact    `json:"artifacts"`
	MissingFiles []string      `json:"missing_files,omitempty"`
	Errors       []issue.Issue `json:"errors"`
	Warnings     []issue.Issue `json:"warnings"`
}

// Verify checks every record-stream entry of a pack. Container and content
// problems are reported in the Result; the error return is reserved for an
// empty Source.
func Verify(ctx context.Context, source Source, opts Options) (Result, error) {
	if source.empty() {
		return Result{}, coreerrors.Wrap(
			fmt.Errorf("pack source requires a path or bytes"),
			coreerrors.CategoryInvalidInput,
			"pack_source_empty",
			"pass a zip path or zip bytes",
		)
	}
	opts = opts.normalized()
	ctx, span := telemetry.Tracer("pack").Start(ctx, "pack.Verify")
	defer span.End()

	result := Result{
		Mode:      opts.Chain.Mode,
		Path:      source.Path,
		Zip:       ZipSummary{LimitsApplied: opts.Limits},
		Artifacts: []Artifact{},
		Errors:    []issue.Issue{},
		Warnings:  []issue.Issue{},
	}
	verifyArchive(ctx, source, opts, &result)
	finalize(&result)

	span.SetAttributes(
		attribute.String("pack.status", string(result.Status)),
		attribute.Int("pack.entries_seen", result.Zip.EntriesSeen),
		attribute.Int("pack.entries_verified", result.Zip.EntriesVerified),
	)
	if result.Status == chain.StatusInvalid {
		span.SetStatus(codes.Error, string(result.ReasonCode))
	}
	return result, nil
}

func verifyArchive(ctx context.Context, source Source, opts Options, result *Result) {
	archive, err := source.open()
	if err != nil {
		result.Errors = append(result.Errors, containerIssue(err, ""))
		return
	}
	result.Zip.ArchiveBytes = archive.Size()
	entries, err := archive.List()
	if err != nil {
		result.Errors = append(result.Errors, containerIssue(err, ""))
		return
	}

	candidates, names, ok := selectEntries(entries, opts, result)
	if !ok {
		return
	}
	if opts.Chain.Mode == chain.ModeStrict {
		for _, expected := range opts.ExpectedFiles {
			if names[expected] {
				continue
			}
			result.MissingFiles = append(result.MissingFiles, expected)
			result.Errors = append(result.Errors, issue.New(issue.CodeZipExpectedMissing, "expected file missing from pack").WithDetail("missing", expected))
		}
	}
	if len(candidates) == 0 {
		result.Errors = append(result.Errors, issue.New(issue.CodeZipNoEntries, "pack contains no record-stream entries").WithDetail("pattern", opts.EntryPattern.String()))
		return
	}

	if opts.Chain.Mode == chain.ModeTolerant && opts.Parallelism > 1 {
		verifyConcurrently(ctx, archive, candidates, opts, result)
		return
	}
	for _, entry := range candidates {
		if opts.Chain.Mode == chain.ModeStrict && len(result.Errors) > 0 {
			break
		}
		outcome := verifyEntry(ctx, archive, entry, opts)
		result.merge(outcome, opts.Chain.Mode)
	}
}

// selectEntries applies the container limits in directory order and returns
// the matching entries sorted by name. ok is false when a limit was hit.
func selectEntries(entries []zipx.Entry, opts Options, result *Result) ([]zipx.Entry, map[string]bool, bool) {
	limits := opts.Limits
	names := make(map[string]bool, len(entries))
	candidates := make([]zipx.Entry, 0, len(entries))
	var total uint64
	for _, entry := range entries {
		result.Zip.EntriesSeen++
		if result.Zip.EntriesSeen > limits.MaxEntries {
			result.Errors = append(result.Errors, limitIssue("max_entries", "pack exceeds max entries").
				WithDetail("max_entries", limits.MaxEntries))
			return nil, names, false
		}
		if entry.CompressedSize > 0 && entry.Ratio() > limits.MaxCompressionRatio {
			result.Errors = append(result.Errors, limitIssue("max_compression_ratio", "pack entry exceeds max compression ratio").
				WithDetail("name", entry.Name).
				WithDetail("compressed_size", entry.CompressedSize).
				WithDetail("uncompressed_size", entry.UncompressedSize))
			return nil, names, false
		}
		total += entry.UncompressedSize
		if total > uint64(limits.MaxUncompressedBytes) {
			result.Errors = append(result.Errors, limitIssue("max_uncompressed_bytes", "pack exceeds max uncompressed bytes").
				WithDetail("max_uncompressed_bytes", limits.MaxUncompressedBytes))
			return nil, names, false
		}
		names[entry.Name] = true
		if entry.IsDir() || !opts.EntryPattern.MatchString(entry.Name) {
			result.Zip.EntriesSkipped++
			continue
		}
		candidates = append(candidates, entry)
	}
	slices.SortStableFunc(candidates, func(left, right zipx.Entry) int {
		return strings.Compare(left.Name, right.Name)
	})
	return candidates, names, true
}

type entryOutcome struct {
	artifact *Artifact
	failure  *issue.Issue
}

func verifyEntry(ctx context.Context, archive *zipx.Archive, entry zipx.Entry, opts Options) entryOutcome {
	ctx, span := telemetry.Tracer("pack").Start(ctx, "pack.verifyEntry")
	defer span.End()
	span.SetAttributes(attribute.String("pack.entry", entry.Name))

	data, err := archive.Extract(entry, opts.Limits.MaxEntryBytes)
	if err != nil {
		failure := containerIssue(err, entry.Name)
		span.SetStatus(codes.Error, string(failure.Code))
		return entryOutcome{failure: &failure}
	}
	chainOpts := opts.Chain
	chainOpts.EntryName = entry.Name
	return entryOutcome{artifact: &Artifact{Name: entry.Name, Result: chain.VerifyBytes(ctx, data, chainOpts)}}
}

// verifyConcurrently writes each outcome into its own slot so the merged
// order matches the sorted candidates.
func verifyConcurrently(ctx context.Context, archive *zipx.Archive, candidates []zipx.Entry, opts Options, result *Result) {
	outcomes := make([]entryOutcome, len(candidates))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(opts.Parallelism)
	for index, entry := range candidates {
		group.Go(func() error {
			outcomes[index] = verifyEntry(groupCtx, archive, entry, opts)
			return nil
		})
	}
	_ = group.Wait()
	for _, outcome := range outcomes {
		result.merge(outcome, opts.Chain.Mode)
	}
}

func (result *Result) merge(outcome entryOutcome, mode chain.Mode) {
	if outcome.failure != nil {
		result.Errors = append(result.Errors, *outcome.failure)
		return
	}
	artifact := *outcome.artifact
	result.Artifacts = append(result.Artifacts, artifact)
	result.Zip.EntriesVerified++
	if mode == chain.ModeStrict && artifact.Result.Status == chain.StatusInvalid {
		result.Errors = append(result.Errors, issue.New(issue.CodeZipEntryInvalid, "record-stream entry failed verification").
			WithDetail("entry", artifact.Name).
			WithDetail("reason_code", string(artifact.Result.ReasonCode)))
	}
}

func finalize(result *Result) {
	anyInvalid, anyPartial := false, false
	for _, artifact := range result.Artifacts {
		switch artifact.Result.Status {
		case chain.StatusInvalid:
			anyInvalid = true
		case chain.StatusPartial:
			anyPartial = true
		}
		if result.ReasonCode == "" && artifact.Result.Status != chain.StatusOK {
			result.ReasonCode = artifact.Result.ReasonCode
		}
	}
	// ZIP_ENTRY_INVALID only says an artifact failed; its own reason is
	// more useful.
	if len(result.Errors) > 0 && (result.Errors[0].Code != issue.CodeZipEntryInvalid || result.ReasonCode == "") {
		result.ReasonCode = result.Errors[0].Code
	}

	switch {
	case len(result.Errors) > 0 || anyInvalid || len(result.Artifacts) == 0:
		result.Status = chain.StatusInvalid
	case anyPartial:
		result.Status = chain.StatusPartial
	default:
		result.Status = chain.StatusOK
	}
	result.Verdict = result.Status.Verdict()
	result.IsAuthentic = result.Status == chain.StatusOK
	result.IsPartial = result.Status == chain.StatusPartial
}

func limitIssue(reason string, message string) issue.Issue {
	return issue.New(issue.CodeZipLimit, message).WithDetail("reason", reason)
}

// containerIssue maps a classified zipx error onto a reason code.
func containerIssue(err error, entryName string) issue.Issue {
	code := issue.CodeZipCorrupt
	switch coreerrors.CodeOf(err) {
	case zipx.CodeOpen:
		code = issue.CodeZipOpen
	case zipx.CodeEncrypted:
		code = issue.CodeZipEncrypted
	case zipx.CodeUnsupportedMethod:
		code = issue.CodeZipUnsupportedMethod
	case zipx.CodeEntryTooLarge:
		code = issue.CodeZipLimit
	}
	item := issue.New(code, err.Error())
	if code == issue.CodeZipLimit {
		item = item.WithDetail("reason", "max_entry_bytes")
	}
	if entryName != "" {
		item = item.WithDetail("entry", entryName)
	}
	return item
}
