package projectconfig

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/goccy/go-yaml"

	"github.com/davidahmann/chainverify/core/chain"
	"github.com/davidahmann/chainverify/core/pack"
)

const (
	DefaultPath = ".chainverify/config.yaml"
	EnvPrefix   = "CHAINVERIFY_"
)

type Config struct {
	Verify VerifyDefaults `yaml:"verify" envPrefix:"VERIFY_"`
	Pack   PackDefaults   `yaml:"pack" envPrefix:"PACK_"`
}

type VerifyDefaults struct {
	Mode         string `yaml:"mode" env:"MODE"`
	AllowPartial bool   `yaml:"allow_partial" env:"ALLOW_PARTIAL"`
	MaxLineBytes int    `yaml:"max_line_bytes" env:"MAX_LINE_BYTES"`
	MaxErrors    int    `yaml:"max_errors" env:"MAX_ERRORS"`
}

type PackDefaults struct {
	MaxEntries           int      `yaml:"max_entries" env:"MAX_ENTRIES"`
	MaxUncompressedBytes int64    `yaml:"max_uncompressed_bytes" env:"MAX_UNCOMPRESSED_BYTES"`
	MaxCompressionRatio  float64  `yaml:"max_compression_ratio" env:"MAX_COMPRESSION_RATIO"`
	MaxEntryBytes        int64    `yaml:"max_entry_bytes" env:"MAX_ENTRY_BYTES"`
	EntryPattern         string   `yaml:"entry_pattern" env:"ENTRY_PATTERN"`
	ExpectedFiles        []string `yaml:"expected_files" env:"EXPECTED_FILES" envSeparator:","`
	Parallelism          int      `yaml:"parallelism" env:"PARALLELISM"`
}

func Load(path string, allowMissing bool) (Config, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return Config{}, fmt.Errorf("project config path is required")
	}

	// #nosec G304 -- project config path is explicit local user input.
	content, err := os.ReadFile(trimmedPath)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read project config: %w", err)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return Config{}, nil
	}

	var configuration Config
	if err := yaml.Unmarshal(content, &configuration); err != nil {
		return Config{}, fmt.Errorf("parse project config: %w", err)
	}
	configuration.normalize()
	return configuration, nil
}

// ApplyEnv overlays CHAINVERIFY_* variables onto configuration. Unset
// variables leave the loaded values alone.
func (configuration *Config) ApplyEnv() error {
	if err := env.ParseWithOptions(configuration, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	configuration.normalize()
	return nil
}

func (configuration *Config) normalize() {
	configuration.Verify.Mode = strings.ToLower(strings.TrimSpace(configuration.Verify.Mode))
	configuration.Pack.EntryPattern = strings.TrimSpace(configuration.Pack.EntryPattern)
	expected := configuration.Pack.ExpectedFiles[:0]
	for _, name := range configuration.Pack.ExpectedFiles {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			expected = append(expected, trimmed)
		}
	}
	configuration.Pack.ExpectedFiles = expected
}

func (configuration Config) ChainOptions() (chain.Options, error) {
	mode, err := chain.ParseMode(configuration.Verify.Mode)
	if err != nil {
		return chain.Options{}, err
	}
	if configuration.Verify.MaxLineBytes < 0 {
		return chain.Options{}, fmt.Errorf("verify.max_line_bytes must not be negative")
	}
	if configuration.Verify.MaxErrors < 0 {
		return chain.Options{}, fmt.Errorf("verify.max_errors must not be negative")
	}
	return chain.Options{
		Mode:         mode,
		AllowPartial: configuration.Verify.AllowPartial,
		MaxLineBytes: configuration.Verify.MaxLineBytes,
		MaxErrors:    configuration.Verify.MaxErrors,
	}, nil
}

func (configuration Config) PackOptions() (pack.Options, error) {
	chainOptions, err := configuration.ChainOptions()
	if err != nil {
		return pack.Options{}, err
	}
	limits := pack.Limits{
		MaxEntries:           configuration.Pack.MaxEntries,
		MaxUncompressedBytes: configuration.Pack.MaxUncompressedBytes,
		MaxCompressionRatio:  configuration.Pack.MaxCompressionRatio,
		MaxEntryBytes:        configuration.Pack.MaxEntryBytes,
	}
	if err := limits.Validate(); err != nil {
		return pack.Options{}, err
	}
	if configuration.Pack.Parallelism < 0 {
		return pack.Options{}, fmt.Errorf("pack.parallelism must not be negative")
	}
	options := pack.Options{
		Chain:         chainOptions,
		ExpectedFiles: append([]string(nil), configuration.Pack.ExpectedFiles...),
		Limits:        limits,
		Parallelism:   configuration.Pack.Parallelism,
	}
	if configuration.Pack.EntryPattern != "" {
		pattern, err := regexp.Compile(configuration.Pack.EntryPattern)
		if err != nil {
			return pack.Options{}, fmt.Errorf("pack.entry_pattern: %w", err)
		}
		options.EntryPattern = pattern
	}
	return options, nil
}
