package e2e

import (
	"encoding/json"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/davidahmann/chainverify/internal/fixtures"
	"github.com/davidahmann/chainverify/internal/testutil"
)

type cliRun struct {
	exitCode int
	stdout   string
	stderr   string
}

func runBinary(t *testing.T, binPath string, workDir string, arguments ...string) cliRun {
	t.Helper()
	// #nosec G204 -- test binary with test-owned arguments.
	command := exec.Command(binPath, arguments...)
	command.Dir = workDir
	var stdout, stderr strings.Builder
	command.Stdout = &stdout
	command.Stderr = &stderr
	err := command.Run()
	return cliRun{exitCode: testutil.CommandExitCode(t, err), stdout: stdout.String(), stderr: stderr.String()}
}

func TestCLIVerifyExportsAndPacks(t *testing.T) {
	root := testutil.RepoRoot(t)
	binPath := testutil.BuildChainverifyBinary(t, root)
	workDir := t.TempDir()

	good := fixtures.NewStream("run_e2e").Segment(0, map[string]any{"op": "write"}).Gap(1, 2, 1).Segment(2).Seal()
	goodPath := filepath.Join(workDir, "good.ndjson")
	testutil.WriteFile(t, goodPath, good.Bytes())

	unsealedPath := filepath.Join(workDir, "unsealed.ndjson")
	testutil.WriteFile(t, unsealedPath, fixtures.NewStream("run_e2e").Segment(0).Bytes())

	truncated := fixtures.NewStream("run_e2e").Segment(0).Bytes()
	truncatedPath := filepath.Join(workDir, "truncated.ndjson")
	testutil.WriteFile(t, truncatedPath, append(truncated, []byte(`{"type":"segment","seg":{`)...))

	packPath := filepath.Join(workDir, "evidence.zip")
	testutil.WriteFile(t, packPath, fixtures.Zip(
		fixtures.Deflated("exports/run.ndjson", good.Bytes()),
		fixtures.Stored("manifest.json", []byte(`{"files":["exports/run.ndjson"]}`)),
	))

	encryptedPath := filepath.Join(workDir, "encrypted.zip")
	testutil.WriteFile(t, encryptedPath, fixtures.Zip(fixtures.ZipEntry{Name: "run.ndjson", Data: good.Bytes(), Raw: true, Flags: 0x1}))

	t.Run("pass", func(t *testing.T) {
		result := runBinary(t, binPath, workDir, goodPath)
		if result.exitCode != 0 || !strings.HasPrefix(result.stdout, "PASS\n") {
			t.Fatalf("unexpected result: %#v", result)
		}
		if !strings.Contains(result.stdout, "terminal_ch="+good.TerminalCh()) || !strings.Contains(result.stdout, "root_ch="+good.RootCh()) {
			t.Fatalf("summary does not carry chain values: %s", result.stdout)
		}
	})

	t.Run("json", func(t *testing.T) {
		result := runBinary(t, binPath, workDir, "--json", goodPath)
		if result.exitCode != 0 {
			t.Fatalf("unexpected exit %d: %s", result.exitCode, result.stderr)
		}
		var decoded struct {
			Verdict       string         `json:"verdict"`
			Segments      int            `json:"segments"`
			Gaps          int            `json:"gaps"`
			Stats         map[string]any `json:"stats"`
			CorrelationID string         `json:"correlation_id"`
		}
		if err := json.Unmarshal([]byte(result.stdout), &decoded); err != nil {
			t.Fatalf("decode json: %v\n%s", err, testutil.FormatJSON([]byte(result.stdout)))
		}
		if decoded.Verdict != "PASS" || decoded.Segments != 2 || decoded.Gaps != 1 || decoded.CorrelationID == "" {
			t.Fatalf("unexpected json output:\n%s", testutil.FormatJSON([]byte(result.stdout)))
		}
	})

	t.Run("missing_seal", func(t *testing.T) {
		strict := runBinary(t, binPath, workDir, "--quiet", unsealedPath)
		if strict.exitCode != 1 || strings.TrimSpace(strict.stdout) != "FAIL: MISSING_SEAL" {
			t.Fatalf("unexpected strict result: %#v", strict)
		}
		partial := runBinary(t, binPath, workDir, "--quiet", "--allow-partial", unsealedPath)
		if partial.exitCode != 1 || strings.TrimSpace(partial.stdout) != "PARTIAL: MISSING_SEAL" {
			t.Fatalf("unexpected partial result: %#v", partial)
		}
	})

	t.Run("truncated_last_line", func(t *testing.T) {
		result := runBinary(t, binPath, workDir, "--allow-partial", "--verbose", truncatedPath)
		if result.exitCode != 1 || !strings.HasPrefix(result.stdout, "PARTIAL: TRUNCATED_LAST_LINE") {
			t.Fatalf("unexpected result: %#v", result)
		}
		if !strings.Contains(result.stdout, "failure_line=3") {
			t.Fatalf("expected failure line context: %s", result.stdout)
		}
	})

	t.Run("pack", func(t *testing.T) {
		result := runBinary(t, binPath, workDir, packPath, "--expect", "manifest.json")
		if result.exitCode != 0 || !strings.Contains(result.stdout, "- exports/run.ndjson: PASS") {
			t.Fatalf("unexpected pack result: %#v", result)
		}
		missing := runBinary(t, binPath, workDir, "--quiet", packPath, "--expect", "checksums.txt")
		if missing.exitCode != 1 || strings.TrimSpace(missing.stdout) != "FAIL: ZIP_EXPECTED_MISSING" {
			t.Fatalf("unexpected missing-file result: %#v", missing)
		}
	})

	t.Run("encrypted_pack", func(t *testing.T) {
		result := runBinary(t, binPath, workDir, "--quiet", encryptedPath)
		if result.exitCode != 1 || strings.TrimSpace(result.stdout) != "FAIL: ZIP_ENCRYPTED" {
			t.Fatalf("unexpected encrypted result: %#v", result)
		}
	})

	t.Run("usage_and_io", func(t *testing.T) {
		if result := runBinary(t, binPath, workDir); result.exitCode != 2 || !strings.Contains(result.stderr, "Usage:") {
			t.Fatalf("expected usage error: %#v", result)
		}
		if result := runBinary(t, binPath, workDir, "--frobnicate", goodPath); result.exitCode != 2 {
			t.Fatalf("expected unknown flag error: %#v", result)
		}
		if result := runBinary(t, binPath, workDir, filepath.Join(workDir, "absent.ndjson")); result.exitCode != 2 {
			t.Fatalf("expected io error: %#v", result)
		}
		if result := runBinary(t, binPath, workDir, "--help"); result.exitCode != 0 || !strings.Contains(result.stdout, "Usage:") {
			t.Fatalf("expected help: %#v", result)
		}
	})
}
