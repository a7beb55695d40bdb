package domain

import "fmt"

// ValidationError reports malformed or incomplete input. Nothing was
// applied; the caller can correct and retry.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

// ReferentialIntegrityError reports an id that falls outside the stated
// project or step scope, e.g. a reorder snapshot naming a foreign task.
type ReferentialIntegrityError struct {
	Entity string
	ID     string
}

func (e ReferentialIntegrityError) Error() string {
	return fmt.Sprintf("%s %s not in scope", e.Entity, e.ID)
}

// StateConflictError reports an event issued against state that has already
// advanced past the expected precondition. The caller should refetch and
// retry.
type StateConflictError struct {
	Expected string
	Actual   string
}

func (e StateConflictError) Error() string {
	return fmt.Sprintf("state conflict: expected %s, found %s", e.Expected, e.Actual)
}

// ProjectInactiveError rejects any mutating event while the project is not
// in progress. Non-retryable until the project status changes.
type ProjectInactiveError struct {
	Status string
}

func (e ProjectInactiveError) Error() string {
	return fmt.Sprintf("project is %s; mutations require an in-progress project", e.Status)
}
