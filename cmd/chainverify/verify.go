package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/davidahmann/chainverify/core/chain"
	coreerrors "github.com/davidahmann/chainverify/core/errors"
	"github.com/davidahmann/chainverify/core/fsx"
	"github.com/davidahmann/chainverify/core/pack"
	"github.com/davidahmann/chainverify/core/projectconfig"
)

type verifyFlags struct {
	jsonOutput   bool
	jsonOut      string
	configPath   string
	mode         string
	allowPartial bool
	quiet        bool
	verbose      bool
	expect       repeatedFlag
	help         bool
}

func runVerify(ctx context.Context, arguments []string) int {
	arguments = reorderInterspersedFlags(arguments, map[string]bool{
		"json-out": true,
		"config":   true,
		"mode":     true,
		"expect":   true,
	})
	flagSet := flag.NewFlagSet("chainverify", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var flags verifyFlags
	flagSet.BoolVar(&flags.jsonOutput, "json", false, "emit JSON output")
	flagSet.StringVar(&flags.jsonOut, "json-out", "", "write the full result as JSON to path")
	flagSet.StringVar(&flags.configPath, "config", "", "path to config yaml")
	flagSet.StringVar(&flags.mode, "mode", "", "verification mode: strict|tolerant")
	flagSet.BoolVar(&flags.allowPartial, "allow-partial", false, "report truncated or unsealed exports as partial")
	flagSet.BoolVar(&flags.quiet, "quiet", false, "print the verdict line only")
	flagSet.BoolVar(&flags.verbose, "verbose", false, "print first-failure context")
	flagSet.Var(&flags.expect, "expect", "pack entry that must be present (repeatable)")
	flagSet.BoolVar(&flags.help, "help", false, "show help")
	flagSet.BoolVar(&flags.help, "h", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeUsageError(flags.jsonOutput, err)
	}
	if flags.help {
		printUsage(os.Stdout)
		return exitOK
	}
	remaining := flagSet.Args()
	if len(remaining) != 1 {
		return writeUsageError(flags.jsonOutput, fmt.Errorf("expected exactly one input path"))
	}
	inputPath := remaining[0]

	configuration, err := loadConfig(flags)
	if err != nil {
		return writeError(flags.jsonOutput, err, exitInvalidInput)
	}
	if err := checkInputFile(inputPath); err != nil {
		return writeError(flags.jsonOutput, err, exitInvalidInput)
	}

	if strings.HasSuffix(strings.ToLower(inputPath), ".zip") {
		options, err := configuration.PackOptions()
		if err != nil {
			return writeError(flags.jsonOutput, invalidConfig(err), exitInvalidInput)
		}
		result, err := pack.Verify(ctx, pack.FromPath(inputPath), options)
		if err != nil {
			return writeError(flags.jsonOutput, err, exitCodeForError(err, exitInternalFailure))
		}
		if err := writeResultFile(flags.jsonOut, result); err != nil {
			return writeError(flags.jsonOutput, err, exitInvalidInput)
		}
		exitCode := exitCodeForVerdict(result.Verdict)
		if flags.jsonOutput {
			return writeJSONOutput(result, exitCode)
		}
		writePackReport(result, flags)
		return exitCode
	}

	options, err := configuration.ChainOptions()
	if err != nil {
		return writeError(flags.jsonOutput, invalidConfig(err), exitInvalidInput)
	}
	result, err := chain.VerifyFile(ctx, inputPath, options)
	if err != nil {
		return writeError(flags.jsonOutput, err, exitCodeForError(err, exitInvalidInput))
	}
	if err := writeResultFile(flags.jsonOut, result); err != nil {
		return writeError(flags.jsonOutput, err, exitInvalidInput)
	}
	exitCode := exitCodeForVerdict(result.Verdict)
	if flags.jsonOutput {
		return writeJSONOutput(result, exitCode)
	}
	writeChainReport(result, flags)
	return exitCode
}

// loadConfig layers the YAML file, CHAINVERIFY_* variables and flags, in
// that order. The default config path may be absent; an explicit one may not.
func loadConfig(flags verifyFlags) (projectconfig.Config, error) {
	path := strings.TrimSpace(flags.configPath)
	allowMissing := path == ""
	if allowMissing {
		path = projectconfig.DefaultPath
	}
	configuration, err := projectconfig.Load(path, allowMissing)
	if err != nil {
		return projectconfig.Config{}, invalidConfig(err)
	}
	if err := configuration.ApplyEnv(); err != nil {
		return projectconfig.Config{}, invalidConfig(err)
	}
	if mode := strings.TrimSpace(flags.mode); mode != "" {
		configuration.Verify.Mode = strings.ToLower(mode)
	}
	if flags.allowPartial {
		configuration.Verify.AllowPartial = true
	}
	for _, name := range flags.expect {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			configuration.Pack.ExpectedFiles = append(configuration.Pack.ExpectedFiles, trimmed)
		}
	}
	return configuration, nil
}

func invalidConfig(err error) error {
	return coreerrors.Wrap(err, coreerrors.CategoryInvalidInput, "config_invalid", "check the config file, CHAINVERIFY_* variables and flags")
}

func checkInputFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return coreerrors.Wrap(fmt.Errorf("stat input: %w", err), coreerrors.CategoryIOFailure, "input_not_found", "check the input path")
	}
	if !info.Mode().IsRegular() {
		return coreerrors.Wrap(fmt.Errorf("input must be a file: %s", path), coreerrors.CategoryInvalidInput, "input_not_file", "pass an .ndjson export or a .zip pack")
	}
	return nil
}

func writeResultFile(path string, value any) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := fsx.WriteJSONAtomic(path, value, 0o600); err != nil {
		return coreerrors.Wrap(fmt.Errorf("write json output: %w", err), coreerrors.CategoryIOFailure, "json_out_failed", "check that the output directory is writable")
	}
	return nil
}

func exitCodeForVerdict(verdict chain.Verdict) int {
	if verdict == chain.VerdictPass {
		return exitOK
	}
	return exitNotPass
}

func printUsage(out io.Writer) {
	_, _ = fmt.Fprintln(out, "Usage:")
	_, _ = fmt.Fprintln(out, "  chainverify <export.ndjson|pack.zip> [--quiet] [--verbose] [--json] [--json-out <path>] [--allow-partial]")
	_, _ = fmt.Fprintln(out, "              [--mode strict|tolerant] [--config <path>] [--expect <entry>]...")
	_, _ = fmt.Fprintln(out, "  chainverify --version")
}
