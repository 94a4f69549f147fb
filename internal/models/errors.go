package models

import (
	"errors"
	"fmt"
)

// FatalInputError means the source document cannot be processed at all. It aborts the run before
// chunking.
type FatalInputError struct {
	Path string
	Err  error
}

func (e *FatalInputError) Error() string {
	return fmt.Sprintf("unreadable input %q: %v", e.Path, e.Err)
}

func (e *FatalInputError) Unwrap() error { return e.Err }

// MalformedResponseError is raised inside the repair engine when a response cannot be decoded at a
// given stage. It never leaves the repair package.
type MalformedResponseError struct {
	Stage RepairStage
	Err   error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response at %s: %v", e.Stage, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// StructuralAmbiguityError describes a record that could not be completed. It is downgraded to a
// quality flag and only surfaces in the quality report.
type StructuralAmbiguityError struct {
	QuestionNumber int
	Reason         string
}

func (e *StructuralAmbiguityError) Error() string {
	return fmt.Sprintf("question %d: %s", e.QuestionNumber, e.Reason)
}

// IsFatalInput reports whether err aborts a run.
func IsFatalInput(err error) bool {
	var fatal *FatalInputError
	return errors.As(err, &fatal)
}
