package pack

import (
	"fmt"
	"regexp"

	"github.com/davidahmann/chainverify/core/chain"
)

const (
	DefaultMaxEntries           = 500
	DefaultMaxUncompressedBytes = int64(200_000_000)
	DefaultMaxCompressionRatio  = 200.0
	DefaultMaxEntryBytes        = int64(200 << 20)
	DefaultEntryPattern         = `(?i)\.ndjson$`
)

var defaultEntryPattern = regexp.MustCompile(DefaultEntryPattern)

// Limits are checked against central directory metadata before any entry is
// extracted.
type Limits struct {
	MaxEntries           int     `json:"max_entries"`
	MaxUncompressedBytes int64   `json:"max_uncompressed_bytes"`
	MaxCompressionRatio  float64 `json:"max_compression_ratio"`
	MaxEntryBytes        int64   `json:"max_entry_bytes"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxEntries:           DefaultMaxEntries,
		MaxUncompressedBytes: DefaultMaxUncompressedBytes,
		MaxCompressionRatio:  DefaultMaxCompressionRatio,
		MaxEntryBytes:        DefaultMaxEntryBytes,
	}
}

func (limits Limits) Validate() error {
	if limits.MaxEntries < 0 || limits.MaxUncompressedBytes < 0 || limits.MaxCompressionRatio < 0 || limits.MaxEntryBytes < 0 {
		return fmt.Errorf("pack limits must not be negative")
	}
	return nil
}

// withDefaults fills zero limits.
func (limits Limits) withDefaults() Limits {
	defaults := DefaultLimits()
	if limits.MaxEntries == 0 {
		limits.MaxEntries = defaults.MaxEntries
	}
	if limits.MaxUncompressedBytes == 0 {
		limits.MaxUncompressedBytes = defaults.MaxUncompressedBytes
	}
	if limits.MaxCompressionRatio == 0 {
		limits.MaxCompressionRatio = defaults.MaxCompressionRatio
	}
	if limits.MaxEntryBytes == 0 {
		limits.MaxEntryBytes = defaults.MaxEntryBytes
	}
	return limits
}

type Options struct {
	// Chain is applied to every extracted entry. Its Mode also decides
	// whether the pack stops at the first error.
	Chain chain.Options
	// ExpectedFiles must all be present; checked in strict mode only.
	ExpectedFiles []string
	Limits        Limits
	EntryPattern  *regexp.Regexp
	// Parallelism above 1 verifies entries concurrently in tolerant mode.
	Parallelism int
}

func (opts Options) normalized() Options {
	if opts.Chain.Mode != chain.ModeTolerant {
		opts.Chain.Mode = chain.ModeStrict
	}
	opts.Limits = opts.Limits.withDefaults()
	if opts.EntryPattern == nil {
		opts.EntryPattern = defaultEntryPattern
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	return opts
}
