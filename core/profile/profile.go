package profile

import (
	"encoding/json"

	"github.com/davidahmann/chainverify/core/issue"
)

// Record is one parsed line handed to a profile.
type Record struct {
	// Type is the lowercased record type, empty when absent or not a string.
	Type string
	// Raw is the trimmed line text.
	Raw []byte
	// Fields is nil when the line is valid JSON but not an object.
	Fields map[string]json.RawMessage
}

// Context locates a record inside the stream being verified.
type Context struct {
	Line        int
	RecordIndex int
	RunID       string
}

// Profile checks the structure of a single record. It never touches chain
// state; hash and ordering checks belong to the verifier.
type Profile interface {
	Validate(record Record, ctx Context) []issue.Issue
}

// TypeFilter is implemented by profiles that restrict which record types may
// appear in a stream.
type TypeFilter interface {
	AllowsType(recordType string) bool
}

func AllowsType(checker Profile, recordType string) bool {
	if filter, ok := checker.(TypeFilter); ok {
		return filter.AllowsType(recordType)
	}
	return true
}

// Named is implemented by profiles that report a stable name in results.
type Named interface {
	Name() string
}

func NameOf(checker Profile) string {
	if named, ok := checker.(Named); ok {
		return named.Name()
	}
	return ""
}

func Default() Profile {
	return KernelOnly()
}
