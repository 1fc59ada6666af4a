package matcherr

import (
	"errors"
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// Kind classifies a matching failure.
type Kind string

const (
	KindMissingInput          Kind = "MISSING_INPUT"
	KindAmbiguousDictionary   Kind = "AMBIGUOUS_DICTIONARY_MATCH"
	KindNoCandidate           Kind = "NO_CANDIDATE_FOUND"
	KindTaxonomyInconsistency Kind = "TAXONOMY_INCONSISTENCY"
	KindConfig                Kind = "CONFIG"
)

// Error is a typed matching error carrying the stack where it was raised.
type Error struct {
	Kind    Kind
	Message string
	Err     error
	Stack   []byte
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) StackTrace() []byte {
	return e.Stack
}

func New(kind Kind, message string, err error) *Error {
	var stack []byte
	if err != nil {
		if stackErr, ok := err.(*goerrors.Error); ok {
			stack = stackErr.Stack()
		} else {
			stack = goerrors.Wrap(err, 2).Stack()
		}
	} else {
		stack = goerrors.New(message).Stack()
	}

	return &Error{
		Kind:    kind,
		Message: message,
		Err:     err,
		Stack:   stack,
	}
}

func MissingInput(message string) *Error {
	return New(KindMissingInput, message, nil)
}

func AmbiguousDictionary(message string) *Error {
	return New(KindAmbiguousDictionary, message, nil)
}

func NoCandidate(message string) *Error {
	return New(KindNoCandidate, message, nil)
}

func TaxonomyInconsistency(message string) *Error {
	return New(KindTaxonomyInconsistency, message, nil)
}

// Config reports a fatal configuration or reference-data problem.
func Config(message string, err error) *Error {
	return New(KindConfig, message, err)
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
