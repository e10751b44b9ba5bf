package issue

type Code string

const (
	// Structure.
	CodeEmptyExport        Code = "EMPTY_EXPORT"
	CodeRunLineParse       Code = "RUN_LINE_PARSE"
	CodeMissingRunLine     Code = "MISSING_RUN_LINE"
	CodeMissingRunID       Code = "MISSING_RUN_ID"
	CodeUnsupportedVersion Code = "UNSUPPORTED_VERSION"
	CodeBadJSON            Code = "BAD_JSON"
	CodeTruncatedLastLine  Code = "TRUNCATED_LAST_LINE"
	CodeLineTooLong        Code = "LINE_TOO_LONG"
	CodeSchema             Code = "SCHEMA"
	CodeUnknownType        Code = "UNKNOWN_TYPE"
	CodeReadFailed         Code = "READ_FAILED"
	CodeCanceled           Code = "CANCELED"

	// Ordering.
	CodeSegmentAfterTrace Code = "SEGMENT_AFTER_TRACE"
	CodeAfterSealNonTrace Code = "AFTER_SEAL_NON_TRACE"

	// Segments.
	CodeSegmentMissingSeg        Code = "SEGMENT_MISSING_SEG"
	CodeSegmentMissingHashFields Code = "SEGMENT_MISSING_HASH_FIELDS"
	CodeSegmentRunMismatch       Code = "SEGMENT_RUN_MISMATCH"
	CodeSegmentHashMismatch      Code = "SEGMENT_HASH_MISMATCH"

	// Gaps.
	CodeGapMissingRange      Code = "GAP_MISSING_RANGE"
	CodeGapMissingReasonCode Code = "GAP_MISSING_REASON_CODE"
	CodeGapMissingHashFields Code = "GAP_MISSING_HASH_FIELDS"
	CodeGapHashMismatch      Code = "GAP_HASH_MISMATCH"
	CodeGapReasonUnknown     Code = "GAP_REASON_UNKNOWN"

	CodeChainHashMismatch Code = "CHAIN_HASH_MISMATCH"

	// Sealing.
	CodeUnsupportedAlgo  Code = "UNSUPPORTED_ALGO"
	CodeRootMismatch     Code = "ROOT_MISMATCH"
	CodeTerminalMismatch Code = "TERMINAL_MISMATCH"
	CodeMissingSeal      Code = "MISSING_SEAL"

	// Containers.
	CodeZipOpen              Code = "ZIP_OPEN"
	CodeZipCorrupt           Code = "ZIP_CORRUPT"
	CodeZipLimit             Code = "ZIP_LIMIT"
	CodeZipExpectedMissing   Code = "ZIP_EXPECTED_MISSING"
	CodeZipNoEntries         Code = "ZIP_NO_ENTRIES"
	CodeZipEncrypted         Code = "ZIP_ENCRYPTED"
	CodeZipUnsupportedMethod Code = "ZIP_UNSUPPORTED_METHOD"
	CodeZipEntryInvalid      Code = "ZIP_ENTRY_INVALID"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

type Issue struct {
	Code        Code           `json:"code"`
	Severity    Severity       `json:"severity"`
	Line        int            `json:"line"`
	RecordIndex int            `json:"record_index"`
	RecordType  string         `json:"record_type,omitempty"`
	Field       string         `json:"field,omitempty"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// PartialCapable reports whether code may be downgraded to a partial verdict.
func PartialCapable(code Code) bool {
	return code == CodeTruncatedLastLine || code == CodeMissingSeal
}

func New(code Code, message string) Issue {
	return Issue{Code: code, Severity: SeverityError, Message: message}
}

func (item Issue) At(line int, recordIndex int) Issue {
	item.Line = line
	item.RecordIndex = recordIndex
	return item
}

func (item Issue) WithField(field string) Issue {
	item.Field = field
	return item
}

func (item Issue) WithRecordType(recordType string) Issue {
	item.RecordType = recordType
	return item
}

func (item Issue) WithDetail(key string, value any) Issue {
	details := make(map[string]any, len(item.Details)+1)
	for existingKey, existingValue := range item.Details {
		details[existingKey] = existingValue
	}
	details[key] = value
	item.Details = details
	return item
}

func (item Issue) AsWarning() Issue {
	item.Severity = SeverityWarning
	return item
}

// Blocking reports whether any issue in items forbids a partial verdict.
func Blocking(items []Issue) bool {
	for _, item := range items {
		if !PartialCapable(item.Code) {
			return true
		}
	}
	return false
}
