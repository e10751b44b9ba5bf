package errors

import "errors"

type Category string

const (
	CategoryInvalidInput    Category = "invalid_input"
	CategoryVerification    Category = "verification_failed"
	CategoryIOFailure       Category = "io_failure"
	CategoryInternalFailure Category = "internal_failure"
)

type classifiedError struct {
	category Category
	code     string
	hint     string
	cause    error
}

func (e *classifiedError) Error() string {
	if e.cause == nil {
		return "unknown error"
	}
	return e.cause.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.cause
}

// Wrap attaches a category, a stable machine code, and an operator hint to
// cause. A nil cause stays nil.
func Wrap(cause error, category Category, code, hint string) error {
	if cause == nil {
		return nil
	}
	return &classifiedError{
		category: category,
		code:     code,
		hint:     hint,
		cause:    cause,
	}
}

func CategoryOf(err error) Category {
	if classified, ok := asClassified(err); ok {
		return classified.category
	}
	return ""
}

func CodeOf(err error) string {
	if classified, ok := asClassified(err); ok {
		return classified.code
	}
	return ""
}

func HintOf(err error) string {
	if classified, ok := asClassified(err); ok {
		return classified.hint
	}
	return ""
}

type Description struct {
	Error    string   `json:"error"`
	Code     string   `json:"error_code"`
	Category Category `json:"error_category"`
	Hint     string   `json:"hint,omitempty"`
}

// Describe flattens err for JSON error envelopes. Unclassified errors take
// the fallback category as both category and code.
func Describe(err error, fallback Category) Description {
	if err == nil {
		return Description{}
	}
	description := Description{Error: err.Error(), Category: fallback, Code: string(fallback)}
	if classified, ok := asClassified(err); ok {
		description.Category = classified.category
		description.Code = classified.code
		description.Hint = classified.hint
	}
	return description
}

func asClassified(err error) (*classifiedError, bool) {
	var classified *classifiedError
	if errors.As(err, &classified) {
		return classified, true
	}
	return nil, false
}
