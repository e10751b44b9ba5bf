package chain

import (
	"fmt"
	"strings"

	"github.com/davidahmann/chainverify/core/profile"
)

type Mode string

const (
	ModeStrict   Mode = "strict"
	ModeTolerant Mode = "tolerant"
)

const (
	DefaultMaxLineBytes = 10 << 20
	DefaultMaxErrors    = 100
	snippetLimit        = 200
)

type Options struct {
	Mode Mode
	// AllowPartial downgrades TRUNCATED_LAST_LINE and MISSING_SEAL to a
	// partial verdict.
	AllowPartial bool
	MaxLineBytes int
	// MaxErrors bounds tolerant mode; strict mode stops at the first error.
	MaxErrors int
	Profile   profile.Profile
	// EntryName is echoed into the result when the stream came from a pack.
	EntryName string
}

func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(ModeStrict):
		return ModeStrict, nil
	case string(ModeTolerant):
		return ModeTolerant, nil
	default:
		return "", fmt.Errorf("unsupported mode %q (expected strict or tolerant)", value)
	}
}

func (opts Options) normalized() Options {
	if opts.Mode != ModeTolerant {
		opts.Mode = ModeStrict
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = DefaultMaxLineBytes
	}
	if opts.MaxErrors <= 0 {
		opts.MaxErrors = DefaultMaxErrors
	}
	if opts.Profile == nil {
		opts.Profile = profile.Default()
	}
	return opts
}
