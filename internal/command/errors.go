package command

import (
	"fmt"
	"strings"
)

// NotFoundError reports an executable that is absent from the search path.
type NotFoundError struct {
	Name string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("executable %s was not found", e.Name)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// ResolutionError aggregates every unresolved executable of a group.
type ResolutionError struct {
	Names []string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("executables [%s] were not found", strings.Join(e.Names, ", "))
}
