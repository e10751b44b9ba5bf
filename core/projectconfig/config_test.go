package projectconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/davidahmann/chainverify/core/chain"
	"github.com/davidahmann/chainverify/core/pack"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAllowMissing(t *testing.T) {
	configuration, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), true)
	if err != nil {
		t.Fatalf("Load allow missing: %v", err)
	}
	if configuration.Verify.Mode != "" || configuration.Pack.MaxEntries != 0 {
		t.Fatalf("expected empty configuration, got %#v", configuration)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), false); err == nil {
		t.Fatal("expected missing required config error")
	}
	if _, err := Load("  ", true); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestLoadParsesAndNormalizes(t *testing.T) {
	path := writeConfig(t, `
verify:
  mode: " TOLERANT "
  allow_partial: true
  max_line_bytes: 4096
  max_errors: 7
pack:
  max_entries: 12
  max_uncompressed_bytes: 1048576
  max_compression_ratio: 50.5
  max_entry_bytes: 65536
  entry_pattern: " ^exports/.*\\.ndjson$ "
  expected_files: [" exports/run.ndjson ", "", "manifest.json"]
  parallelism: 4
`)
	configuration, err := Load(path, false)
	if err != nil {
		t.Fatalf("Load parse: %v", err)
	}
	if configuration.Verify.Mode != "tolerant" || !configuration.Verify.AllowPartial || configuration.Verify.MaxLineBytes != 4096 || configuration.Verify.MaxErrors != 7 {
		t.Fatalf("unexpected verify defaults %#v", configuration.Verify)
	}
	if configuration.Pack.EntryPattern != `^exports/.*\.ndjson$` {
		t.Fatalf("unexpected entry pattern %q", configuration.Pack.EntryPattern)
	}
	if len(configuration.Pack.ExpectedFiles) != 2 || configuration.Pack.ExpectedFiles[0] != "exports/run.ndjson" {
		t.Fatalf("unexpected expected files %#v", configuration.Pack.ExpectedFiles)
	}

	options, err := configuration.PackOptions()
	if err != nil {
		t.Fatalf("PackOptions: %v", err)
	}
	if options.Chain.Mode != chain.ModeTolerant || !options.Chain.AllowPartial || options.Chain.MaxErrors != 7 {
		t.Fatalf("unexpected chain options %#v", options.Chain)
	}
	want := pack.Limits{MaxEntries: 12, MaxUncompressedBytes: 1048576, MaxCompressionRatio: 50.5, MaxEntryBytes: 65536}
	if options.Limits != want || options.Parallelism != 4 {
		t.Fatalf("unexpected pack options %#v", options)
	}
	if options.EntryPattern == nil || !options.EntryPattern.MatchString("exports/a.ndjson") || options.EntryPattern.MatchString("a.ndjson") {
		t.Fatalf("unexpected entry pattern %v", options.EntryPattern)
	}
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "verify: [unterminated"), false); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadEmptyFile(t *testing.T) {
	configuration, err := Load(writeConfig(t, "  \n"), false)
	if err != nil {
		t.Fatalf("Load empty: %v", err)
	}
	options, err := configuration.ChainOptions()
	if err != nil || options.Mode != chain.ModeStrict {
		t.Fatalf("expected strict defaults, got %#v %v", options, err)
	}
}

func TestApplyEnvOverridesFile(t *testing.T) {
	configuration, err := Load(writeConfig(t, "verify:\n  mode: strict\n  max_errors: 3\npack:\n  max_entries: 9\n"), false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Setenv("CHAINVERIFY_VERIFY_MODE", "Tolerant")
	t.Setenv("CHAINVERIFY_VERIFY_ALLOW_PARTIAL", "true")
	t.Setenv("CHAINVERIFY_PACK_EXPECTED_FILES", "a.ndjson, b.ndjson")
	t.Setenv("CHAINVERIFY_PACK_MAX_COMPRESSION_RATIO", "25")

	if err := configuration.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if configuration.Verify.Mode != "tolerant" || !configuration.Verify.AllowPartial {
		t.Fatalf("env did not override verify defaults %#v", configuration.Verify)
	}
	if configuration.Verify.MaxErrors != 3 || configuration.Pack.MaxEntries != 9 {
		t.Fatalf("unset env variables must keep file values %#v", configuration)
	}
	if configuration.Pack.MaxCompressionRatio != 25 {
		t.Fatalf("unexpected ratio %v", configuration.Pack.MaxCompressionRatio)
	}
	if len(configuration.Pack.ExpectedFiles) != 2 || configuration.Pack.ExpectedFiles[1] != "b.ndjson" {
		t.Fatalf("unexpected expected files %#v", configuration.Pack.ExpectedFiles)
	}
}

func TestApplyEnvRejectsMalformedValues(t *testing.T) {
	t.Setenv("CHAINVERIFY_PACK_MAX_ENTRIES", "many")
	var configuration Config
	if err := configuration.ApplyEnv(); err == nil {
		t.Fatal("expected env parse error")
	}
}

func TestOptionsValidation(t *testing.T) {
	cases := map[string]Config{
		"mode":        {Verify: VerifyDefaults{Mode: "lenient"}},
		"line_bytes":  {Verify: VerifyDefaults{MaxLineBytes: -1}},
		"max_errors":  {Verify: VerifyDefaults{MaxErrors: -1}},
		"limits":      {Pack: PackDefaults{MaxEntries: -1}},
		"parallelism": {Pack: PackDefaults{Parallelism: -2}},
		"pattern":     {Pack: PackDefaults{EntryPattern: "("}},
	}
	for name, configuration := range cases {
		if _, err := configuration.PackOptions(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
