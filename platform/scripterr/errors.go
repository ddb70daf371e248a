// Package scripterr defines the errors reported when a snippet can't be analyzed or executed.
package scripterr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an Error.
type Kind string

const (
	// KindAnalysis is reported when the generated source can't be parsed.
	KindAnalysis Kind = "AnalysisError"
	// KindExecution is reported when the generated source fails at run time.
	KindExecution Kind = "ExecutionError"
)

var (
	// ErrAnalysis matches every analysis failure with errors.Is.
	ErrAnalysis = errors.New("analysis error")
	// ErrExecution matches every execution failure with errors.Is.
	ErrExecution = errors.New("execution error")
	// ErrInvalidSeed is the execution failure raised before running, when a seed
	// value can't be handed to the object-export strategy.
	ErrInvalidSeed = errors.New("invalid seed value")
)

// Location is a 1-based position in the caller's snippet.
type Location struct {
	Line   int
	Column int
}

func (l Location) String() string {
	return fmt.Sprintf("line %d, column %d", l.Line, l.Column)
}

// Error carries the details of a failed analysis or execution. Nothing is
// swallowed, Err holds the underlying parser or runtime error.
type Error struct {
	Kind    Kind
	Message string

	// Location is nil when the failure has no usable position.
	Location *Location

	// Origin is the snippet's origin label, usually a file path or URL.
	Origin string

	// Strategy names the execution strategy, empty for analysis failures.
	Strategy string

	// Source is the generated source for analysis failures and the
	// caller's snippet for execution failures.
	Source string

	// Key names the offending seed key for ErrInvalidSeed failures.
	Key string

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))

	var details []string
	if e.Origin != "" {
		details = append(details, "origin: "+e.Origin)
	}
	if e.Strategy != "" {
		details = append(details, "strategy: "+e.Strategy)
	}
	if e.Location != nil {
		details = append(details, e.Location.String())
	}
	if len(details) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(details, ", "))
		b.WriteString(")")
	}

	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind sentinels, so callers can test errors.Is(err, ErrAnalysis).
func (e *Error) Is(target error) bool {
	switch target {
	case ErrAnalysis:
		return e.Kind == KindAnalysis
	case ErrExecution:
		return e.Kind == KindExecution
	case ErrInvalidSeed:
		return e.Kind == KindExecution && e.Key != ""
	}
	return false
}

// InvalidSeed reports a seed value the object-export strategy can't serialize.
func InvalidSeed(strategy, origin, snippet, key, typeName string) *Error {
	return &Error{
		Kind: KindExecution,
		Message: fmt.Sprintf(
			"when using the %s strategy, seed data must be JSON friendly. The %q property was type `%s`",
			strategy, key, typeName,
		),
		Origin:   origin,
		Strategy: strategy,
		Source:   snippet,
		Key:      key,
		Err:      ErrInvalidSeed,
	}
}

// As is a shorthand for errors.As with *Error.
func As(err error) (*Error, bool) {
	var se *Error
	ok := errors.As(err, &se)
	return se, ok
}
