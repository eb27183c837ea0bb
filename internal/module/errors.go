package module

import "errors"

// Definition errors. They are detected before any network call and are never retried.
var (
	ErrDefinitionConflict   = errors.New("definition conflict")
	ErrDuplicateEventName   = errors.New("duplicate event name")
	ErrUnresolvedDependency = errors.New("unresolved dependency")
	ErrCyclicDependency     = errors.New("cyclic dependency")
	ErrArgumentMismatch     = errors.New("argument mismatch")
	ErrMissingArtifact      = errors.New("missing artifact")
	ErrInvalidHook          = errors.New("invalid hook")
)
