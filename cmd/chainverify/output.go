package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/davidahmann/chainverify/core/chain"
	coreerrors "github.com/davidahmann/chainverify/core/errors"
	"github.com/davidahmann/chainverify/core/issue"
	"github.com/davidahmann/chainverify/core/pack"
)

type errorOutput struct {
	OK bool `json:"ok"`
	coreerrors.Description
}

func writeJSONOutput(output any, exitCode int) int {
	encoded, err := marshalWithCorrelationID(output)
	if err != nil {
		fmt.Println(`{"ok":false,"error":"failed to encode output","error_code":"encode_failed","error_category":"internal_failure"}`)
		return exitInternalFailure
	}
	fmt.Println(string(encoded))
	return exitCode
}

func marshalWithCorrelationID(output any) ([]byte, error) {
	encoded, err := json.Marshal(output)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(encoded, &fields); err != nil {
		return nil, err
	}
	if correlationID := currentCorrelationID(); correlationID != "" {
		fields["correlation_id"] = correlationID
	}
	return json.Marshal(fields)
}

func writeUsageError(jsonOutput bool, err error) int {
	if jsonOutput {
		return writeError(true, coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "usage", "run chainverify --help"), exitInvalidInput)
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	printUsage(os.Stderr)
	return exitInvalidInput
}

func writeError(jsonOutput bool, err error, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(errorOutput{Description: coreerrors.Describe(err, defaultErrorCategory(exitCode))}, exitCode)
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	if hint := coreerrors.HintOf(err); hint != "" {
		fmt.Fprintf(os.Stderr, "hint: %s\n", hint)
	}
	return exitCode
}

func exitCodeForError(err error, fallbackExit int) int {
	if err == nil {
		return exitOK
	}
	switch coreerrors.CategoryOf(err) {
	case coreerrors.CategoryInvalidInput, coreerrors.CategoryIOFailure:
		return exitInvalidInput
	case coreerrors.CategoryVerification:
		return exitNotPass
	case coreerrors.CategoryInternalFailure:
		return exitInternalFailure
	}
	return fallbackExit
}

func defaultErrorCategory(exitCode int) coreerrors.Category {
	switch exitCode {
	case exitInvalidInput:
		return coreerrors.CategoryInvalidInput
	case exitNotPass:
		return coreerrors.CategoryVerification
	default:
		return coreerrors.CategoryInternalFailure
	}
}

func verdictLine(verdict chain.Verdict, reason issue.Code) string {
	if verdict == chain.VerdictPass {
		return string(verdict)
	}
	return fmt.Sprintf("%s: %s", verdict, reason)
}

func writeChainReport(result chain.Result, flags verifyFlags) {
	fmt.Println(verdictLine(result.Verdict, result.ReasonCode))
	if flags.quiet {
		return
	}
	for _, line := range chainSummaryLines(result) {
		fmt.Println(line)
	}
	if flags.verbose && result.Verdict != chain.VerdictPass {
		for _, line := range failureLines(result) {
			fmt.Println(line)
		}
	}
}

func chainSummaryLines(result chain.Result) []string {
	seal := "no"
	if result.Seal {
		seal = "yes"
	}
	return []string{
		"run_id=" + result.RunID,
		fmt.Sprintf("records_total=%d segments=%d gaps=%d", result.CheckedRecords, result.Segments, result.Gaps),
		fmt.Sprintf("seal=%s algo=%s", seal, result.Algo),
		"root_ch=" + result.RootCh,
		"terminal_ch=" + result.TerminalCh,
		fmt.Sprintf("errors=%d warnings=%d", len(result.Errors), len(result.Warnings)),
	}
}

func failureLines(result chain.Result) []string {
	var lines []string
	if result.ZipEntry != "" {
		lines = append(lines, "zip_entry="+result.ZipEntry)
	}
	if result.Failure == nil {
		return lines
	}
	lines = append(lines, fmt.Sprintf("failure_line=%d", result.Failure.Line))
	if result.Failure.RecordType != "" {
		lines = append(lines, "failure_record_type="+result.Failure.RecordType)
	}
	if result.Failure.Field != "" {
		lines = append(lines, "missing_field="+result.Failure.Field)
	}
	if result.Failure.Snippet != "" {
		lines = append(lines, "snippet="+result.Failure.Snippet)
	}
	return lines
}

func writePackReport(result pack.Result, flags verifyFlags) {
	fmt.Println(verdictLine(result.Verdict, result.ReasonCode))
	if flags.quiet {
		return
	}
	fmt.Printf("entries_seen=%d entries_verified=%d entries_skipped=%d\n", result.Zip.EntriesSeen, result.Zip.EntriesVerified, result.Zip.EntriesSkipped)
	for _, artifact := range result.Artifacts {
		fmt.Printf("- %s: %s checked=%d errors=%d warnings=%d\n",
			artifact.Name,
			verdictLine(artifact.Result.Verdict, artifact.Result.ReasonCode),
			artifact.Result.CheckedRecords,
			len(artifact.Result.Errors),
			len(artifact.Result.Warnings),
		)
	}
	if len(result.MissingFiles) > 0 {
		fmt.Printf("missing_files=%s\n", strings.Join(result.MissingFiles, ","))
	}
	if !flags.verbose || result.Verdict == chain.VerdictPass {
		return
	}
	for _, item := range result.Errors {
		fmt.Printf("error=%s %s\n", item.Code, item.Message)
	}
	for _, artifact := range result.Artifacts {
		if artifact.Result.Verdict == chain.VerdictPass {
			continue
		}
		for _, line := range failureLines(artifact.Result) {
			fmt.Println(line)
		}
	}
}
